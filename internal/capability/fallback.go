package capability

import (
	"context"
	"fmt"

	"chaperone/internal/config"
	"chaperone/internal/domain"
)

const historyTurns = 20

// Fallback is the terminal conversational handler. It never declines: every
// text message that survives the chain ends here, answered either by the
// tool-orchestration loop (agentic mode) or a single-turn model call.
type Fallback struct {
	deps *Deps
}

func NewFallback(deps *Deps) *Fallback { return &Fallback{deps: deps} }

func (h *Fallback) Name() string { return "chat" }

func (h *Fallback) Handle(ctx context.Context, text string, mc *domain.MessageContext) (*domain.CapabilityResult, error) {
	var (
		reply string
		err   error
	)
	if h.deps.enabled(config.FlagAgentic) && h.deps.Agent != nil {
		// The loop persists its own turns.
		reply, err = h.deps.Agent.Respond(ctx, text, mc)
	} else {
		reply, err = h.singleTurn(ctx, text, mc)
		if err == nil {
			h.remember(ctx, mc, text, reply)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("chat: %w", err)
	}

	if mc.RespondWithVoice && h.deps.enabled(config.FlagVoiceReplies) && h.deps.Speech != nil && reply != "" {
		audio, err := h.deps.Speech.Synthesize(ctx, reply)
		if err != nil {
			h.deps.Logger.Warn("voice synthesis failed, replying as text", "err", err)
		} else {
			return &domain.CapabilityResult{Text: reply, Kind: domain.KindAudio, Audio: audio, Success: true}, nil
		}
	}
	return domain.TextResult(reply), nil
}

func (h *Fallback) singleTurn(ctx context.Context, text string, mc *domain.MessageContext) (string, error) {
	msgs := []domain.Message{{Role: "system", Content: h.persona(mc)}}
	if h.deps.Store != nil {
		turns, err := h.deps.Store.RecentTurns(ctx, chatKey(mc), historyTurns)
		if err != nil {
			h.deps.Logger.Warn("history unavailable", "chat", mc.ChatID, "err", err)
		}
		for _, t := range turns {
			msgs = append(msgs, domain.Message{Role: t.Role, Content: t.Content})
		}
	}
	msgs = append(msgs, domain.Message{Role: "user", Content: text})

	resp, err := h.deps.Provider.Chat(ctx, domain.ChatRequest{Messages: msgs})
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

func (h *Fallback) persona(mc *domain.MessageContext) string {
	name := "assistant"
	if h.deps.Config != nil && h.deps.Config.General.BotName != "" {
		name = h.deps.Config.General.BotName
	}
	p := fmt.Sprintf("You are %s, a helpful chat assistant. Keep replies conversational and concise.", name)
	if mc.IsGroup {
		p += fmt.Sprintf(" You are speaking in the group %q; the current message is from %s.", mc.GroupName, mc.SenderName)
	}
	if h.deps.Config != nil && h.deps.Config.General.SystemPromptExtra != "" {
		p += "\n" + h.deps.Config.General.SystemPromptExtra
	}
	return p
}

func (h *Fallback) remember(ctx context.Context, mc *domain.MessageContext, user, assistant string) {
	if h.deps.Store == nil {
		return
	}
	key := chatKey(mc)
	if err := h.deps.Store.AddTurn(ctx, key, domain.TurnRecord{ChatKey: key, Role: "user", Content: user}); err != nil {
		h.deps.Logger.Warn("persisting user turn failed", "err", err)
	}
	if assistant == "" {
		return
	}
	if err := h.deps.Store.AddTurn(ctx, key, domain.TurnRecord{ChatKey: key, Role: "assistant", Content: assistant}); err != nil {
		h.deps.Logger.Warn("persisting assistant turn failed", "err", err)
	}
}
