// Package waterfall runs an ordered chain of capability handlers over an
// incoming message. Handlers are consulted in registration order and the
// first one that accepts produces the reply; the rest are never invoked.
package waterfall

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"chaperone/internal/domain"
)

// Handler is one capability in the chain. Handle returns
// domain.ErrNotApplicable to pass the message on to the next handler.
// Any other error means the handler claimed the message but failed.
type Handler interface {
	Name() string
	Handle(ctx context.Context, text string, mc *domain.MessageContext) (*domain.CapabilityResult, error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc struct {
	ID string
	Fn func(ctx context.Context, text string, mc *domain.MessageContext) (*domain.CapabilityResult, error)
}

func (h HandlerFunc) Name() string { return h.ID }

func (h HandlerFunc) Handle(ctx context.Context, text string, mc *domain.MessageContext) (*domain.CapabilityResult, error) {
	return h.Fn(ctx, text, mc)
}

// Waterfall holds an ordered handler chain.
type Waterfall struct {
	handlers []Handler
	logger   *slog.Logger
	onWin    func(handler string, took time.Duration) // optional metrics hook
}

func New(logger *slog.Logger, handlers ...Handler) *Waterfall {
	return &Waterfall{handlers: handlers, logger: logger}
}

// OnWin registers a callback fired with the name of the winning handler and
// how long it ran.
func (w *Waterfall) OnWin(fn func(handler string, took time.Duration)) { w.onWin = fn }

// Append adds handlers to the end of the chain.
func (w *Waterfall) Append(handlers ...Handler) {
	w.handlers = append(w.handlers, handlers...)
}

// Run walks the chain. A handler that returns ErrNotApplicable is skipped;
// the first handler to accept ends the walk. A handler that accepts but
// fails still wins the message: its failure is converted into an apologetic
// result rather than letting a later handler answer instead. Run returns
// nil when every handler declined.
func (w *Waterfall) Run(ctx context.Context, text string, mc *domain.MessageContext) *domain.CapabilityResult {
	for _, h := range w.handlers {
		start := time.Now()
		res, err := h.Handle(ctx, text, mc)
		if errors.Is(err, domain.ErrNotApplicable) {
			continue
		}
		if w.onWin != nil {
			w.onWin(h.Name(), time.Since(start))
		}
		if err != nil {
			w.logger.Error("capability failed",
				"handler", h.Name(), "chat", mc.ChatID, "err", err)
			return domain.ErrorResult("Sorry, I couldn't finish that request.", err.Error())
		}
		w.logger.Debug("capability handled message",
			"handler", h.Name(), "chat", mc.ChatID,
			"took", time.Since(start).Round(time.Millisecond))
		if res == nil {
			res = domain.TextResult("")
		}
		return res
	}
	return nil
}
