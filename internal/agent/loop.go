// Package agent drives the tool-orchestration loop: call the model, execute
// any tools it requests, feed the results back, and repeat until the model
// produces a final answer or the iteration cap is reached.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"chaperone/internal/domain"
	"chaperone/internal/tool"
)

const (
	defaultMaxIterations = 5
	defaultHistoryLimit  = 20
	defaultLLMMaxTokens  = 4096
	defaultTemperature   = 0.7
	defaultParallelTools = 5
)

// Loop runs the bounded model/tool protocol for one message at a time. It is
// the terminal step of the conversational fallback handler when agentic mode
// is on.
type Loop struct {
	provider      domain.Provider
	registry      *tool.Registry
	prompt        *PromptBuilder
	store         domain.HistoryStore
	flags         domain.Flags
	logger        *slog.Logger
	maxIterations int
	compactor     *Compactor
	limiter       *RateLimiter
	onIteration   func()               // optional metrics hooks
	onToolCall    func()
	onRunDone     func(iterations int)
}

// LoopConfig holds the loop's dependencies and tuning parameters.
// Compactor and Limiter are optional; without them the turn log is sent
// as-is and model calls are unthrottled.
type LoopConfig struct {
	Provider      domain.Provider
	Registry      *tool.Registry
	Prompt        *PromptBuilder
	Store         domain.HistoryStore
	Flags         domain.Flags
	Logger        *slog.Logger
	MaxIterations int
	Compactor     *Compactor
	Limiter       *RateLimiter
}

func NewLoop(cfg LoopConfig) *Loop {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = defaultMaxIterations
	}
	return &Loop{
		provider:      cfg.Provider,
		registry:      cfg.Registry,
		prompt:        cfg.Prompt,
		store:         cfg.Store,
		flags:         cfg.Flags,
		logger:        cfg.Logger,
		maxIterations: cfg.MaxIterations,
		compactor:     cfg.Compactor,
		limiter:       cfg.Limiter,
	}
}

// OnIteration registers a callback fired once per model call.
func (l *Loop) OnIteration(fn func()) { l.onIteration = fn }

// OnToolCall registers a callback fired once per requested tool call.
func (l *Loop) OnToolCall(fn func()) { l.onToolCall = fn }

// OnRunDone registers a callback fired when a run completes, with the
// number of model calls it took.
func (l *Loop) OnRunDone(fn func(iterations int)) { l.onRunDone = fn }

// Respond answers one message. Each iteration calls the model with the turn
// log so far; a terminal finish reason ends the loop with the accumulated
// text, a tool-call finish reason executes every requested call and loops.
// Hitting the iteration cap returns whatever text has accumulated, possibly
// none. That is deliberate best-effort behavior, not a failure.
func (l *Loop) Respond(ctx context.Context, text string, mc *domain.MessageContext) (string, error) {
	messages := l.seed(ctx, text, mc)
	catalog := l.registry.Definitions(l.flags, mc.IsGroup)
	ctx = tool.WithMessageContext(ctx, mc)

	var acc strings.Builder
	calls := 0
	for iteration := 0; iteration < l.maxIterations; iteration++ {
		calls++
		if l.onIteration != nil {
			l.onIteration()
		}
		if l.compactor != nil {
			messages = l.compactor.Compact(ctx, messages)
		}
		if l.limiter != nil {
			if err := l.limiter.Wait(ctx); err != nil {
				return "", fmt.Errorf("rate limit wait: %w", err)
			}
		}
		start := time.Now()
		resp, err := l.provider.Chat(ctx, domain.ChatRequest{
			Messages:    messages,
			Tools:       catalog,
			MaxTokens:   defaultLLMMaxTokens,
			Temperature: defaultTemperature,
		})
		if err != nil {
			return "", fmt.Errorf("model call: %w", err)
		}
		l.logger.Debug("loop iteration",
			"iteration", iteration+1, "finish", resp.FinishReason,
			"tool_calls", len(resp.ToolCalls), "took", time.Since(start).Round(time.Millisecond))

		if resp.Content != "" {
			if acc.Len() > 0 {
				acc.WriteString("\n")
			}
			acc.WriteString(resp.Content)
		}

		if resp.Terminal() {
			break
		}

		messages = append(messages, domain.Message{
			Role:      "assistant",
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})
		messages = append(messages, l.executeAll(ctx, resp.ToolCalls)...)
	}

	if l.onRunDone != nil {
		l.onRunDone(calls)
	}
	final := acc.String()
	l.persist(ctx, mc, text, final)
	return final, nil
}

// executeAll runs every requested tool call with bounded parallelism and
// returns their results as one ordered batch of tool turns.
func (l *Loop) executeAll(ctx context.Context, calls []domain.ToolCall) []domain.Message {
	sem := make(chan struct{}, defaultParallelTools)
	results := make([]domain.ToolCallResult, len(calls))
	var wg sync.WaitGroup

	for i, tc := range calls {
		if l.onToolCall != nil {
			l.onToolCall()
		}
		wg.Add(1)
		go func(idx int, tc domain.ToolCall) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			results[idx] = l.executeOne(ctx, tc)
		}(i, tc)
	}
	wg.Wait()

	batch := make([]domain.Message, len(calls))
	for i, tc := range calls {
		batch[i] = domain.Message{
			Role:       "tool",
			Content:    results[i].Content,
			ToolCallID: tc.ID,
			ToolName:   tc.Name,
		}
	}
	return batch
}

// executeOne dispatches a single tool call. A panicking tool becomes an
// error result so the loop keeps going.
func (l *Loop) executeOne(ctx context.Context, tc domain.ToolCall) (result domain.ToolCallResult) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("tool panicked", "tool", tc.Name, "panic", r)
			result = domain.ToolCallResult{
				Content: fmt.Sprintf("tool %s crashed: %v", tc.Name, r),
				IsError: true,
			}
		}
	}()

	l.logger.Info("executing tool", "tool", tc.Name)
	result = l.registry.Execute(ctx, tc.Name, tc.Arguments)
	if result.IsError {
		l.logger.Warn("tool returned error", "tool", tc.Name, "content", result.Content)
	}
	return result
}

// seed builds the initial turn log: system prompt, recent history, and the
// incoming message.
func (l *Loop) seed(ctx context.Context, text string, mc *domain.MessageContext) []domain.Message {
	messages := []domain.Message{{Role: "system", Content: l.prompt.System(mc)}}
	if l.store != nil {
		turns, err := l.store.RecentTurns(ctx, mc.Channel+":"+mc.ChatID, defaultHistoryLimit)
		if err != nil {
			l.logger.Warn("failed to load history, continuing without it", "err", err)
		}
		for _, t := range turns {
			messages = append(messages, domain.Message{Role: t.Role, Content: t.Content})
		}
	}
	return append(messages, domain.Message{Role: "user", Content: text})
}

func (l *Loop) persist(ctx context.Context, mc *domain.MessageContext, user, assistant string) {
	if l.store == nil {
		return
	}
	key := mc.Channel + ":" + mc.ChatID
	if err := l.store.AddTurn(ctx, key, domain.TurnRecord{ChatKey: key, Role: "user", Content: user}); err != nil {
		l.logger.Warn("failed to save user turn", "err", err)
	}
	if assistant == "" {
		return
	}
	if err := l.store.AddTurn(ctx, key, domain.TurnRecord{ChatKey: key, Role: "assistant", Content: assistant}); err != nil {
		l.logger.Warn("failed to save assistant turn", "err", err)
	}
}
