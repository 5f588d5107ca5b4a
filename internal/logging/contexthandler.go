package logging

import (
	"context"
	"log/slog"
)

// ContextProvider returns attributes to attach to a record. It may read
// values carried by ctx as well as live process state.
type ContextProvider func(ctx context.Context) []slog.Attr

type tickKey struct{}

// WithTick returns a context that tags log records with tick.
func WithTick(ctx context.Context, tick uint64) context.Context {
	return context.WithValue(ctx, tickKey{}, tick)
}

// TickFromContext returns the tick stored by WithTick.
func TickFromContext(ctx context.Context) (uint64, bool) {
	if ctx == nil {
		return 0, false
	}
	tick, ok := ctx.Value(tickKey{}).(uint64)
	return tick, ok
}

// SessionContext tags records with the session id and, when present in the
// record's context, the tick.
func SessionContext(sessionID string) ContextProvider {
	return func(ctx context.Context) []slog.Attr {
		attrs := []slog.Attr{slog.String("session", sessionID)}
		if tick, ok := TickFromContext(ctx); ok {
			attrs = append(attrs, slog.Uint64("tick", tick))
		}
		return attrs
	}
}

// ContextHandler wraps another handler and injects dynamic context attributes.
type ContextHandler struct {
	inner    slog.Handler
	provider ContextProvider
}

// NewContextHandler creates a handler that adds dynamic context to each record.
func NewContextHandler(inner slog.Handler, provider ContextProvider) *ContextHandler {
	return &ContextHandler{
		inner:    inner,
		provider: provider,
	}
}

// Enabled delegates to the inner handler.
func (h *ContextHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

// Handle adds dynamic context attributes and delegates to the inner handler.
func (h *ContextHandler) Handle(ctx context.Context, r slog.Record) error {
	if h.provider != nil {
		r.AddAttrs(h.provider(ctx)...)
	}
	return h.inner.Handle(ctx, r)
}

// WithAttrs returns a new ContextHandler with the given attributes.
func (h *ContextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &ContextHandler{
		inner:    h.inner.WithAttrs(attrs),
		provider: h.provider,
	}
}

// WithGroup returns a new ContextHandler with the given group.
func (h *ContextHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return &ContextHandler{
		inner:    h.inner.WithGroup(name),
		provider: h.provider,
	}
}
