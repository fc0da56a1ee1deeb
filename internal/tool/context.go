package tool

import (
	"context"

	"chaperone/internal/domain"
)

type ctxKey int

const messageContextKey ctxKey = iota

// WithMessageContext attaches the per-message context the loop shares with
// every tool execution.
func WithMessageContext(ctx context.Context, mc *domain.MessageContext) context.Context {
	return context.WithValue(ctx, messageContextKey, mc)
}

// MessageContextFrom returns the attached message context, or nil when the
// tool is executed outside a message pipeline.
func MessageContextFrom(ctx context.Context) *domain.MessageContext {
	mc, _ := ctx.Value(messageContextKey).(*domain.MessageContext)
	return mc
}
