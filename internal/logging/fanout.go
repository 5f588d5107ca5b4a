package logging

import (
	"context"
	"errors"
	"log/slog"
)

// Sink is one destination of a Fanout. Level, when set, is the sink's own
// minimum and is checked before the handler's Enabled.
type Sink struct {
	Handler slog.Handler
	Level   slog.Leveler
}

func (s Sink) enabled(ctx context.Context, level slog.Level) bool {
	if s.Level != nil && level < s.Level.Level() {
		return false
	}
	return s.Handler.Enabled(ctx, level)
}

// SinkAt wraps h with a minimum level given by name (debug, info, warn, error).
func SinkAt(h slog.Handler, level string) Sink {
	return Sink{Handler: h, Level: parseLevel(level)}
}

// Fanout sends each record to every sink whose level accepts it. A failing
// sink does not stop the others.
type Fanout struct {
	sinks []Sink
}

// NewFanout drops sinks without a handler.
func NewFanout(sinks ...Sink) *Fanout {
	valid := make([]Sink, 0, len(sinks))
	for _, s := range sinks {
		if s.Handler != nil {
			valid = append(valid, s)
		}
	}
	return &Fanout{sinks: valid}
}

// Enabled reports whether any sink accepts level.
func (f *Fanout) Enabled(ctx context.Context, level slog.Level) bool {
	for _, s := range f.sinks {
		if s.enabled(ctx, level) {
			return true
		}
	}
	return false
}

// Handle writes r to the accepting sinks and joins their errors.
func (f *Fanout) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, s := range f.sinks {
		if !s.enabled(ctx, r.Level) {
			continue
		}
		if err := s.Handler.Handle(ctx, r.Clone()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// WithAttrs adds attrs to every sink, keeping each sink's level.
func (f *Fanout) WithAttrs(attrs []slog.Attr) slog.Handler {
	return f.derive(func(h slog.Handler) slog.Handler { return h.WithAttrs(attrs) })
}

// WithGroup opens a group on every sink.
func (f *Fanout) WithGroup(name string) slog.Handler {
	if name == "" {
		return f
	}
	return f.derive(func(h slog.Handler) slog.Handler { return h.WithGroup(name) })
}

func (f *Fanout) derive(fn func(slog.Handler) slog.Handler) *Fanout {
	sinks := make([]Sink, len(f.sinks))
	for i, s := range f.sinks {
		sinks[i] = Sink{Handler: fn(s.Handler), Level: s.Level}
	}
	return &Fanout{sinks: sinks}
}
