package logging

import (
	"io"
	"strings"

	"github.com/rs/zerolog"
)

// NewZerolog builds the structured logger used by the ledger, perf log and
// job adapters. Unknown levels fall back to info.
func NewZerolog(w io.Writer, level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(w).Level(lvl).With().Timestamp().Logger()
}

// JobLogger adapts zerolog.Logger to the lifecycle.Logger interface.
type JobLogger struct {
	logger zerolog.Logger
}

// NewJobLogger creates a new JobLogger wrapping a zerolog.Logger.
func NewJobLogger(logger zerolog.Logger) *JobLogger {
	return &JobLogger{logger: logger}
}

// Debug logs a debug message with optional key-value pairs.
func (l *JobLogger) Debug(msg string, keysAndValues ...any) {
	l.logger.Debug().Fields(toFields(keysAndValues)).Msg(msg)
}

// Info logs an info message with optional key-value pairs.
func (l *JobLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Info().Fields(toFields(keysAndValues)).Msg(msg)
}

// Error logs an error message with optional key-value pairs. An "error" key
// holding an error value is attached with Err so it renders as a string.
func (l *JobLogger) Error(msg string, keysAndValues ...any) {
	fields := toFields(keysAndValues)
	ev := l.logger.Error()
	if err, ok := fields["error"].(error); ok {
		delete(fields, "error")
		ev = ev.Err(err)
	}
	ev.Fields(fields).Msg(msg)
}

// toFields converts key-value pairs to a map for zerolog.
func toFields(keysAndValues []any) map[string]any {
	fields := make(map[string]any, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		if key, ok := keysAndValues[i].(string); ok {
			fields[key] = keysAndValues[i+1]
		}
	}
	return fields
}
