package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	sdklog "go.opentelemetry.io/otel/sdk/log"
)

// instrumentation scope name used for the OTel handler
const scopeName = "sim-recorder"

// console output, swapped in tests
var osStdout io.Writer = os.Stdout

// SlogManager manages slog-based logging with optional OTel and GELF sinks.
type SlogManager struct {
	logger *slog.Logger
	level  slog.Level

	// OTel provider for flushing
	logProvider *sdklog.LoggerProvider
}

// NewSlogManager creates a new slog-based logging manager.
func NewSlogManager() *SlogManager {
	return &SlogManager{}
}

// parseLevel converts a string log level to slog.Level.
func parseLevel(level string) slog.Level {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func handlerOptions(lvl slog.Level) *slog.HandlerOptions {
	return &slog.HandlerOptions{
		Level: lvl,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				if t, ok := a.Value.Any().(time.Time); ok {
					a.Value = slog.StringValue(t.UTC().Format(time.RFC3339Nano))
				}
			}
			return a
		},
	}
}

// Options selects the sinks built by Setup.
type Options struct {
	// File receives text logs. When nil, logs go to stdout instead.
	File io.Writer
	// Level is one of debug, info, warn, error.
	Level string
	// Provider enables the OTel handler when non-nil.
	Provider *sdklog.LoggerProvider
	// Context adds dynamic attributes, e.g. session and tick, to every record.
	Context ContextProvider
	// Extra sinks such as GELF, each with its own minimum level.
	Extra []Sink
}

// Setup builds the handler fan-out and replaces the manager's logger.
func (m *SlogManager) Setup(opts Options) {
	lvl := parseLevel(opts.Level)
	m.level = lvl
	m.logProvider = opts.Provider

	handlerOpts := handlerOptions(lvl)

	var sinks []Sink

	if opts.File != nil {
		sinks = append(sinks, Sink{Handler: slog.NewTextHandler(opts.File, handlerOpts)})
	} else {
		sinks = append(sinks, Sink{Handler: slog.NewTextHandler(osStdout, handlerOpts)})
	}

	if opts.Provider != nil {
		// the bridge accepts every level, so the fan-out applies ours
		sinks = append(sinks, Sink{
			Handler: otelslog.NewHandler(scopeName, otelslog.WithLoggerProvider(opts.Provider)),
			Level:   lvl,
		})
	}

	sinks = append(sinks, opts.Extra...)

	var handler slog.Handler = NewFanout(sinks...)
	if opts.Context != nil {
		handler = NewContextHandler(handler, opts.Context)
	}

	m.logger = slog.New(handler)
	m.logger.Info("Logging initialized", "level", lvl.String())
}

// Logger returns the configured slog.Logger.
func (m *SlogManager) Logger() *slog.Logger {
	if m.logger == nil {
		// Return a default logger if Setup hasn't been called
		return slog.Default()
	}
	return m.logger
}

// Level returns the level Setup was called with.
func (m *SlogManager) Level() slog.Level {
	return m.level
}

// Flush forces a flush of OTel logs if available.
func (m *SlogManager) Flush(ctx context.Context) error {
	if m.logProvider != nil {
		return m.logProvider.ForceFlush(ctx)
	}
	return nil
}
