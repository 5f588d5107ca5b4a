package logging

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/Graylog2/go-gelf/gelf"
)

// messageWriter is the part of *gelf.Writer the handler needs.
type messageWriter interface {
	WriteMessage(m *gelf.Message) error
}

// GELFHandler sends records to a Graylog input as GELF messages. Attributes
// become additional fields prefixed with an underscore.
type GELFHandler struct {
	w        messageWriter
	host     string
	facility string
	attrs    []slog.Attr
	group    string
}

// NewGELFHandler dials addr over UDP and returns a handler writing to it
// together with the writer, which the caller closes at shutdown. The handler
// accepts every level; wrap it in a Sink to set a minimum.
func NewGELFHandler(addr, facility string) (*GELFHandler, *gelf.Writer, error) {
	w, err := gelf.NewWriter(addr)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create GELF writer: %w", err)
	}
	w.Facility = facility
	return newGELFHandler(w, facility), w, nil
}

func newGELFHandler(w messageWriter, facility string) *GELFHandler {
	host, err := os.Hostname()
	if err != nil {
		host = "localhost"
	}
	return &GELFHandler{w: w, host: host, facility: facility}
}

// syslogLevel maps slog levels onto the syslog severities GELF uses.
func syslogLevel(l slog.Level) int32 {
	switch {
	case l >= slog.LevelError:
		return 3
	case l >= slog.LevelWarn:
		return 4
	case l >= slog.LevelInfo:
		return 6
	default:
		return 7
	}
}

// Enabled accepts every level.
func (h *GELFHandler) Enabled(context.Context, slog.Level) bool {
	return true
}

// Handle converts the record and writes it.
func (h *GELFHandler) Handle(_ context.Context, r slog.Record) error {
	t := r.Time
	if t.IsZero() {
		t = time.Now()
	}

	extra := map[string]interface{}{
		"_level_name": r.Level.String(),
	}
	for _, a := range h.attrs {
		addExtra(extra, "", a)
	}
	r.Attrs(func(a slog.Attr) bool {
		addExtra(extra, h.group, a)
		return true
	})

	return h.w.WriteMessage(&gelf.Message{
		Version:  "1.1",
		Host:     h.host,
		Short:    r.Message,
		TimeUnix: float64(t.UnixNano()) / float64(time.Second),
		Level:    syslogLevel(r.Level),
		Facility: h.facility,
		Extra:    extra,
	})
}

func addExtra(extra map[string]interface{}, prefix string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}
	key := a.Key
	if prefix != "" {
		key = prefix + "." + key
	}
	if a.Value.Kind() == slog.KindGroup {
		for _, ga := range a.Value.Group() {
			addExtra(extra, key, ga)
		}
		return
	}
	switch a.Value.Kind() {
	case slog.KindString:
		extra["_"+key] = a.Value.String()
	case slog.KindInt64:
		extra["_"+key] = a.Value.Int64()
	case slog.KindUint64:
		extra["_"+key] = a.Value.Uint64()
	case slog.KindFloat64:
		extra["_"+key] = a.Value.Float64()
	case slog.KindBool:
		extra["_"+key] = a.Value.Bool()
	default:
		extra["_"+key] = a.Value.String()
	}
}

// WithAttrs returns a handler that adds attrs to every message.
func (h *GELFHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	clone.attrs = make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	clone.attrs = append(clone.attrs, h.attrs...)
	for _, a := range attrs {
		if h.group != "" {
			a.Key = h.group + "." + a.Key
		}
		clone.attrs = append(clone.attrs, a)
	}
	return &clone
}

// WithGroup returns a handler that nests later attributes under name.
func (h *GELFHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	clone := *h
	if h.group != "" {
		clone.group = h.group + "." + name
	} else {
		clone.group = name
	}
	return &clone
}
