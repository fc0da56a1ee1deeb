// Package engine ties the message pipeline together: admission gate, content
// classification, group moderation and etiquette, the capability waterfall,
// and response dispatch.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"chaperone/internal/capability"
	"chaperone/internal/classify"
	"chaperone/internal/config"
	"chaperone/internal/dispatch"
	"chaperone/internal/domain"
	"chaperone/internal/gate"
	"chaperone/internal/groupgate"
	"chaperone/internal/metrics"
	"chaperone/internal/waterfall"
)

// Pipeline is the per-channel handler set. Each transport gets its own
// waterfall and dispatcher so capability handlers always talk to the
// transport their message arrived on.
type Pipeline struct {
	Transport  domain.Transport
	Chain      *waterfall.Waterfall
	NonText    *capability.NonText
	Dispatcher *dispatch.Dispatcher
}

// Engine drives messages from the bus through the pipeline stages.
type Engine struct {
	cfg       *config.Config
	gate      *gate.Gate
	etiquette *groupgate.Etiquette
	moderator *groupgate.Moderator
	bus       domain.MessageBus
	flags     domain.Flags
	logger    *slog.Logger
	pipelines map[string]*Pipeline
	botID     func(channel string) string // the bot's own sender ID per channel
	sem       chan struct{}
	wg        sync.WaitGroup
}

type Config struct {
	Cfg       *config.Config
	Gate      *gate.Gate
	Etiquette *groupgate.Etiquette
	Moderator *groupgate.Moderator
	Bus       domain.MessageBus
	Flags     domain.Flags
	Logger    *slog.Logger
	Pipelines map[string]*Pipeline
	// BotID resolves the bot's own sender ID on a channel. Some channels
	// learn their identity only after connecting, hence a function rather
	// than a static map.
	BotID func(channel string) string
}

func New(cfg Config) *Engine {
	limit := cfg.Cfg.General.MaxConcurrentMessages
	if limit <= 0 {
		limit = 5
	}
	if cfg.BotID == nil {
		cfg.BotID = func(string) string { return "" }
	}
	e := &Engine{
		cfg:       cfg.Cfg,
		gate:      cfg.Gate,
		etiquette: cfg.Etiquette,
		moderator: cfg.Moderator,
		bus:       cfg.Bus,
		flags:     cfg.Flags,
		logger:    cfg.Logger,
		pipelines: cfg.Pipelines,
		botID:     cfg.BotID,
		sem:       make(chan struct{}, limit),
	}
	for _, pl := range e.pipelines {
		if pl.Chain != nil {
			pl.Chain.OnWin(func(handler string, took time.Duration) {
				metrics.HandlerWins(handler).Inc()
				metrics.HandlerLatency.Observe(took.Seconds())
			})
		}
	}
	return e
}

// Run drains the bus until ctx is cancelled or the bus closes.
func (e *Engine) Run(ctx context.Context) {
	msgs := e.bus.Subscribe()
	events := e.bus.Events()
	for {
		select {
		case <-ctx.Done():
			e.wg.Wait()
			return
		case msg, ok := <-msgs:
			if !ok {
				e.wg.Wait()
				return
			}
			m := msg
			e.wg.Add(1)
			go func() {
				defer e.wg.Done()
				e.handleMessage(ctx, &m)
			}()
		case ev, ok := <-events:
			if !ok {
				e.wg.Wait()
				return
			}
			e.HandleParticipantsChanged(ctx, ev)
		}
	}
}

// HandleBatch processes a webhook batch. One goroutine per message, bounded
// by the concurrency limit; returns when every message in the batch is done.
// Messages within a batch carry no ordering guarantee.
func (e *Engine) HandleBatch(ctx context.Context, msgs []domain.InboundMessage) {
	var wg sync.WaitGroup
	for i := range msgs {
		msg := msgs[i]
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.handleMessage(ctx, &msg)
		}()
	}
	wg.Wait()
}

// handleMessage runs the full pipeline for one message. A panic anywhere in
// the pipeline is fatal to this message only.
func (e *Engine) handleMessage(ctx context.Context, msg *domain.InboundMessage) {
	e.sem <- struct{}{}
	defer func() { <-e.sem }()

	metrics.InFlightMessages.Inc()
	defer metrics.InFlightMessages.Dec()

	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("panic while handling message",
				"channel", msg.Channel, "chat", msg.ChatID, "panic", r)
		}
	}()

	if verdict := e.gate.Admit(msg); verdict != gate.Admitted {
		metrics.MessagesRejected.Inc()
		e.logger.Debug("message rejected",
			"reason", string(verdict), "channel", msg.Channel, "sender", msg.SenderID)
		return
	}
	metrics.MessagesAdmitted.Inc()

	pl, ok := e.pipelines[msg.Channel]
	if !ok {
		e.logger.Warn("no pipeline for channel", "channel", msg.Channel)
		return
	}

	kind := classify.Kind(msg)
	text := classify.Text(msg)
	mc := e.BuildContext(msg)

	if mc.IsGroup && !e.groupAdmits(ctx, pl, msg, kind, text, mc) {
		return
	}

	res := e.answer(ctx, pl, msg, kind, text, mc)
	if res == nil {
		return
	}

	if err := pl.Dispatcher.Dispatch(ctx, msg, mc, res); err != nil {
		e.logger.Error("dispatch failed",
			"channel", msg.Channel, "chat", msg.ChatID, "err", err)
		return
	}
	if res.Text != "" || len(res.Audio) > 0 {
		metrics.RepliesSent.Inc()
	}
}

// groupAdmits applies moderation and etiquette to a group message. It
// reports whether the pipeline should go on to answer.
func (e *Engine) groupAdmits(ctx context.Context, pl *Pipeline, msg *domain.InboundMessage, kind domain.ContentKind, text string, mc *domain.MessageContext) bool {
	g := e.cfg.Group.ForChat(msg.ChatID)

	if e.flags.IsEnabled(config.FlagModeration) {
		info, err := pl.Transport.GroupInfo(ctx, msg.ChatID)
		if err != nil {
			e.logger.Warn("group info lookup failed", "chat", msg.ChatID, "err", err)
		}
		if verdict := e.moderator.Check(ctx, msg, text, g, info); verdict != nil {
			e.enforce(ctx, pl, msg, verdict)
			return false
		}
	}

	if kind != domain.KindText {
		// Non-text group content is answered only when the bot is addressed.
		return mc.Addressed()
	}

	dec := e.etiquette.Decide(text, mc, g)
	if !dec.ShouldRespond {
		metrics.MessagesDropped.Inc()
		e.logger.Debug("group message dropped",
			"chat", msg.ChatID, "reason", dec.Reason)
		return false
	}

	if dec.Priority == domain.PriorityHigh || dec.Priority == domain.PriorityMedium {
		p := domain.PresenceComposing
		if mc.RespondWithVoice {
			p = domain.PresenceRecording
		}
		if err := pl.Transport.SetPresence(ctx, msg.ChatID, p); err != nil {
			e.logger.Debug("presence update failed", "chat", msg.ChatID, "err", err)
		}
	}
	return true
}

// enforce carries out a moderation verdict: delete the offending message if
// asked, then post the warning. The message itself is never answered.
func (e *Engine) enforce(ctx context.Context, pl *Pipeline, msg *domain.InboundMessage, verdict *domain.ModerationVerdict) {
	metrics.ModerationActions.Inc()

	if verdict.ShouldDelete {
		if err := pl.Transport.DeleteMessage(ctx, msg.ChatID, msg.ID); err != nil {
			e.logger.Warn("moderation delete failed",
				"chat", msg.ChatID, "message", msg.ID, "err", err)
		}
	}
	if verdict.Warning != "" {
		if err := pl.Transport.SendText(ctx, msg.ChatID, verdict.Warning, nil); err != nil {
			e.logger.Warn("moderation warning failed", "chat", msg.ChatID, "err", err)
		}
	}
	e.logger.Info("moderation action",
		"chat", msg.ChatID, "sender", msg.SenderID,
		"deleted", verdict.ShouldDelete, "removal", verdict.Remove)
}

// answer routes the message to the text waterfall or the non-text router and
// normalizes failures into an apology result.
func (e *Engine) answer(ctx context.Context, pl *Pipeline, msg *domain.InboundMessage, kind domain.ContentKind, text string, mc *domain.MessageContext) *domain.CapabilityResult {
	if kind == domain.KindText {
		return pl.Chain.Run(ctx, text, mc)
	}

	res, err := pl.NonText.Handle(ctx, msg, kind, text, mc)
	if err != nil {
		if err == domain.ErrNotApplicable {
			return nil
		}
		e.logger.Error("non-text handler failed",
			"kind", string(kind), "chat", msg.ChatID, "err", err)
		return domain.ErrorResult("Sorry, I couldn't process that.", err.Error())
	}
	return res
}

// HandleParticipantsChanged greets joiners and sees off leavers when the
// welcome flag is on. Promotions and demotions are ignored.
func (e *Engine) HandleParticipantsChanged(ctx context.Context, ev domain.ParticipantsEvent) {
	if !e.flags.IsEnabled(config.FlagWelcome) {
		return
	}
	pl, ok := e.pipelines[ev.Channel]
	if !ok || len(ev.ParticipantIDs) == 0 {
		return
	}

	var line string
	switch ev.Action {
	case domain.ParticipantJoin:
		line = fmt.Sprintf("Welcome %s! I'm %s, type @%s if you need anything.",
			mentionList(ev.ParticipantIDs), e.cfg.General.BotName, e.cfg.General.BotName)
	case domain.ParticipantLeave:
		line = fmt.Sprintf("%s left the group. Take care!", mentionList(ev.ParticipantIDs))
	default:
		return
	}

	if err := pl.Transport.SendText(ctx, ev.ChatID, line, nil); err != nil {
		e.logger.Warn("greeting failed", "chat", ev.ChatID, "err", err)
	}
}

func mentionList(ids []string) string {
	names := make([]string, len(ids))
	for i, id := range ids {
		name := id
		if at := strings.IndexByte(name, '@'); at > 0 {
			name = name[:at]
		}
		names[i] = "@" + name
	}
	return strings.Join(names, ", ")
}
