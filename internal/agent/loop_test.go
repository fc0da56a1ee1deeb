package agent

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"

	"chaperone/internal/domain"
	"chaperone/internal/tool"
)

// scriptedProvider replays canned responses and records every request.
type scriptedProvider struct {
	responses []*domain.ChatResponse
	requests  []domain.ChatRequest
}

func (p *scriptedProvider) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	p.requests = append(p.requests, req)
	if len(p.requests) > len(p.responses) {
		return p.responses[len(p.responses)-1], nil
	}
	return p.responses[len(p.requests)-1], nil
}

func (p *scriptedProvider) Name() string                      { return "scripted" }
func (p *scriptedProvider) Models() []string                  { return nil }
func (p *scriptedProvider) SupportsToolCalling() bool         { return true }
func (p *scriptedProvider) Healthy(ctx context.Context) error { return nil }

type echoTool struct{}

func (echoTool) Name() string               { return "echo" }
func (echoTool) Description() string        { return "echoes" }
func (echoTool) GroupOnly() bool            { return false }
func (echoTool) Parameters() map[string]any { return tool.ToolParameters(nil, nil) }
func (echoTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	return tool.ArgsString(args, "text"), nil
}

type panicTool struct{}

func (panicTool) Name() string               { return "panic" }
func (panicTool) Description() string        { return "always panics" }
func (panicTool) GroupOnly() bool            { return false }
func (panicTool) Parameters() map[string]any { return tool.ToolParameters(nil, nil) }
func (panicTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	panic("boom")
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestLoop(p *scriptedProvider) *Loop {
	reg := tool.NewRegistry(quietLogger())
	reg.Register(echoTool{}, "")
	reg.Register(panicTool{}, "")
	return NewLoop(LoopConfig{
		Provider: p,
		Registry: reg,
		Prompt:   NewPromptBuilder(PromptConfig{BotName: "tester"}),
		Flags:    domain.FlagFunc(func(string) bool { return true }),
		Logger:   quietLogger(),
	})
}

func mc() *domain.MessageContext {
	return &domain.MessageContext{Channel: "test", ChatID: "c1", SenderID: "u1", SenderName: "u"}
}

func toolCallResponse(calls ...domain.ToolCall) *domain.ChatResponse {
	return &domain.ChatResponse{FinishReason: domain.FinishToolCalls, ToolCalls: calls}
}

func TestRespond_TerminalStopHaltsImmediately(t *testing.T) {
	p := &scriptedProvider{responses: []*domain.ChatResponse{
		{Content: "hello there", FinishReason: domain.FinishStop},
	}}
	got, err := newTestLoop(p).Respond(context.Background(), "hi", mc())
	if err != nil {
		t.Fatalf("respond: %v", err)
	}
	if got != "hello there" {
		t.Fatalf("got %q", got)
	}
	if len(p.requests) != 1 {
		t.Fatalf("expected 1 model call, got %d", len(p.requests))
	}
}

func TestRespond_ToolRoundTrip(t *testing.T) {
	p := &scriptedProvider{responses: []*domain.ChatResponse{
		toolCallResponse(domain.ToolCall{ID: "1", Name: "echo", Arguments: map[string]any{"text": "pong"}}),
		{Content: "the tool said pong", FinishReason: domain.FinishStop},
	}}
	got, err := newTestLoop(p).Respond(context.Background(), "ping the tool", mc())
	if err != nil {
		t.Fatalf("respond: %v", err)
	}
	if got != "the tool said pong" {
		t.Fatalf("got %q", got)
	}

	// The second request must carry the assistant tool-call turn and the
	// tool result batch.
	second := p.requests[1].Messages
	last := second[len(second)-1]
	if last.Role != "tool" || last.Content != "pong" || last.ToolCallID != "1" {
		t.Fatalf("tool turn malformed: %+v", last)
	}
	if prev := second[len(second)-2]; prev.Role != "assistant" || len(prev.ToolCalls) != 1 {
		t.Fatalf("assistant tool-call turn malformed: %+v", prev)
	}
}

func TestRespond_CapsAtFiveModelCalls(t *testing.T) {
	// Every response asks for more tools; the loop must stop at the cap.
	p := &scriptedProvider{responses: []*domain.ChatResponse{
		toolCallResponse(domain.ToolCall{ID: "1", Name: "echo", Arguments: map[string]any{"text": "x"}}),
	}}
	got, err := newTestLoop(p).Respond(context.Background(), "loop forever", mc())
	if err != nil {
		t.Fatalf("respond: %v", err)
	}
	if len(p.requests) != 5 {
		t.Fatalf("expected exactly 5 model calls, got %d", len(p.requests))
	}
	if got != "" {
		t.Fatalf("no text was produced, expected empty result, got %q", got)
	}
}

func TestRespond_CapReturnsAccumulatedText(t *testing.T) {
	p := &scriptedProvider{responses: []*domain.ChatResponse{
		{Content: "working on it", FinishReason: domain.FinishToolCalls,
			ToolCalls: []domain.ToolCall{{ID: "1", Name: "echo", Arguments: map[string]any{"text": "x"}}}},
		toolCallResponse(domain.ToolCall{ID: "2", Name: "echo", Arguments: map[string]any{"text": "x"}}),
	}}
	got, err := newTestLoop(p).Respond(context.Background(), "hi", mc())
	if err != nil {
		t.Fatalf("respond: %v", err)
	}
	if !strings.Contains(got, "working on it") {
		t.Fatalf("accumulated text lost: %q", got)
	}
	if len(p.requests) != 5 {
		t.Fatalf("expected 5 model calls, got %d", len(p.requests))
	}
}

func TestRespond_UnknownToolBecomesErrorResult(t *testing.T) {
	p := &scriptedProvider{responses: []*domain.ChatResponse{
		toolCallResponse(domain.ToolCall{ID: "1", Name: "no_such_tool"}),
		{Content: "recovered", FinishReason: domain.FinishStop},
	}}
	got, err := newTestLoop(p).Respond(context.Background(), "hi", mc())
	if err != nil {
		t.Fatalf("unknown tool must not abort the loop: %v", err)
	}
	if got != "recovered" {
		t.Fatalf("got %q", got)
	}
	second := p.requests[1].Messages
	last := second[len(second)-1]
	if !strings.Contains(last.Content, "unknown tool") {
		t.Fatalf("error result missing: %+v", last)
	}
}

func TestRespond_PanickingToolBecomesErrorResult(t *testing.T) {
	p := &scriptedProvider{responses: []*domain.ChatResponse{
		toolCallResponse(domain.ToolCall{ID: "1", Name: "panic"}),
		{Content: "still alive", FinishReason: domain.FinishStop},
	}}
	got, err := newTestLoop(p).Respond(context.Background(), "hi", mc())
	if err != nil {
		t.Fatalf("panicking tool must not abort the loop: %v", err)
	}
	if got != "still alive" {
		t.Fatalf("got %q", got)
	}
	second := p.requests[1].Messages
	last := second[len(second)-1]
	if !strings.Contains(last.Content, "crashed") {
		t.Fatalf("panic not converted to error result: %+v", last)
	}
}

func TestRespond_MultipleToolCallsInOneTurnKeepOrder(t *testing.T) {
	p := &scriptedProvider{responses: []*domain.ChatResponse{
		toolCallResponse(
			domain.ToolCall{ID: "a", Name: "echo", Arguments: map[string]any{"text": "first"}},
			domain.ToolCall{ID: "b", Name: "echo", Arguments: map[string]any{"text": "second"}},
		),
		{Content: "done", FinishReason: domain.FinishStop},
	}}
	if _, err := newTestLoop(p).Respond(context.Background(), "hi", mc()); err != nil {
		t.Fatalf("respond: %v", err)
	}

	second := p.requests[1].Messages
	n := len(second)
	if second[n-2].Content != "first" || second[n-1].Content != "second" {
		t.Fatalf("tool results out of order: %q then %q", second[n-2].Content, second[n-1].Content)
	}
}

func TestRespond_CatalogOfferedToModel(t *testing.T) {
	p := &scriptedProvider{responses: []*domain.ChatResponse{
		{Content: "ok", FinishReason: domain.FinishStop},
	}}
	if _, err := newTestLoop(p).Respond(context.Background(), "hi", mc()); err != nil {
		t.Fatalf("respond: %v", err)
	}
	names := make(map[string]bool)
	for _, d := range p.requests[0].Tools {
		names[d.Name] = true
	}
	if !names["echo"] || !names["panic"] {
		t.Fatalf("registered tools missing from catalog: %v", names)
	}
}

func TestRespond_HooksCountCallsAndTools(t *testing.T) {
	p := &scriptedProvider{responses: []*domain.ChatResponse{
		toolCallResponse(
			domain.ToolCall{ID: "1", Name: "echo", Arguments: map[string]any{"text": "a"}},
			domain.ToolCall{ID: "2", Name: "echo", Arguments: map[string]any{"text": "b"}},
		),
		{Content: "done", FinishReason: domain.FinishStop},
	}}
	l := newTestLoop(p)

	var modelCalls, toolCalls, runCalls int
	l.OnIteration(func() { modelCalls++ })
	l.OnToolCall(func() { toolCalls++ })
	l.OnRunDone(func(iterations int) { runCalls = iterations })

	if _, err := l.Respond(context.Background(), "hi", mc()); err != nil {
		t.Fatalf("respond: %v", err)
	}
	if modelCalls != 2 {
		t.Fatalf("model-call hook fired %d times, want 2", modelCalls)
	}
	if toolCalls != 2 {
		t.Fatalf("tool-call hook fired %d times, want 2", toolCalls)
	}
	if runCalls != 2 {
		t.Fatalf("run-done hook reported %d iterations, want 2", runCalls)
	}
}
