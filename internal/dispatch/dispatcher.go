// Package dispatch turns a capability result into outbound transport sends.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"chaperone/internal/domain"
)

const (
	defaultMaxChunk = 4000
	defaultDelay    = 600 * time.Millisecond
)

// Dispatcher delivers results over a transport. Long texts are chunked with
// a small delay in between so clients render them in order; voice results go
// out as a single voice note. The original message is quoted only in groups,
// where replies need an anchor.
type Dispatcher struct {
	transport domain.Transport
	logger    *slog.Logger
	maxChunk  int
	delay     time.Duration
	sleep     func(time.Duration)
}

type Config struct {
	Transport domain.Transport
	Logger    *slog.Logger
	MaxChunk  int
	Delay     time.Duration
}

func New(cfg Config) *Dispatcher {
	if cfg.MaxChunk <= 0 {
		cfg.MaxChunk = defaultMaxChunk
	}
	if cfg.Delay <= 0 {
		cfg.Delay = defaultDelay
	}
	return &Dispatcher{
		transport: cfg.Transport,
		logger:    cfg.Logger,
		maxChunk:  cfg.MaxChunk,
		delay:     cfg.Delay,
		sleep:     time.Sleep,
	}
}

// Dispatch sends one result in reply to msg. An empty result is a no-op:
// handlers that already sent their own message return an empty placeholder.
func (d *Dispatcher) Dispatch(ctx context.Context, msg *domain.InboundMessage, mc *domain.MessageContext, res *domain.CapabilityResult) error {
	if res == nil {
		return nil
	}

	var quote *domain.InboundMessage
	if mc.IsGroup {
		quote = msg
	}

	if len(res.Audio) > 0 {
		if err := d.transport.SendVoice(ctx, mc.ChatID, res.Audio, quote); err != nil {
			return fmt.Errorf("sending voice note: %w", err)
		}
		return nil
	}

	chunks := Split(res.Text, d.maxChunk)
	if len(chunks) == 0 {
		return nil
	}
	for i, chunk := range chunks {
		if i > 0 {
			d.sleep(d.delay)
		}
		if err := d.transport.SendText(ctx, mc.ChatID, chunk, quote); err != nil {
			return fmt.Errorf("sending chunk %d/%d: %w", i+1, len(chunks), err)
		}
	}
	d.logger.Debug("dispatched response", "chat", mc.ChatID, "chunks", len(chunks))
	return nil
}
