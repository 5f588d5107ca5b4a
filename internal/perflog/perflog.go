// Package perflog writes recorder performance points as gzipped InfluxDB line
// protocol to a local file. Points are queued without blocking and flushed by
// a background loop.
package perflog

import (
	"compress/gzip"
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	influxdb2_write "github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/rs/zerolog"

	"github.com/simrecorder/recorder/internal/buffer"
	"github.com/simrecorder/recorder/internal/lifecycle"
)

// Measurement names.
const (
	MeasurementTick   = "recorder_tick"
	MeasurementJob    = "recorder_job"
	MeasurementStatus = "recorder_status"
)

// Config holds perf log settings.
type Config struct {
	Path          string
	FlushInterval time.Duration
	SessionID     string
}

// Log owns the gzip stream and the queue of points not yet written.
type Log struct {
	cfg     Config
	logger  zerolog.Logger
	pending *buffer.Buffer[*influxdb2_write.Point]

	mu      sync.Mutex
	file    *os.File
	gz      *gzip.Writer
	closing bool
	closed  bool

	stopChan chan struct{}
	loopDone chan struct{}
	lines    atomic.Int64
}

// Open creates the backing file and starts the flush loop when
// FlushInterval > 0.
func Open(cfg Config, log zerolog.Logger) (*Log, error) {
	file, err := os.OpenFile(cfg.Path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("error creating perf log file: %w", err)
	}

	l := &Log{
		cfg:      cfg,
		logger:   log.With().Str("component", "perflog").Logger(),
		pending:  buffer.New[*influxdb2_write.Point](256),
		file:     file,
		gz:       gzip.NewWriter(file),
		stopChan: make(chan struct{}),
		loopDone: make(chan struct{}),
	}

	if cfg.FlushInterval > 0 {
		go l.flushLoop()
	} else {
		close(l.loopDone)
	}

	l.logger.Info().Str("path", cfg.Path).Msg("Writing performance points")
	return l, nil
}

func (l *Log) tags(extra map[string]string) map[string]string {
	tags := map[string]string{"session": l.cfg.SessionID}
	for k, v := range extra {
		tags[k] = v
	}
	return tags
}

// Add queues a point. It never blocks on I/O.
func (l *Log) Add(p *influxdb2_write.Point) {
	l.pending.Append(p)
}

// TickPoint queues the timing of one tick.
func (l *Log) TickPoint(t time.Time, tick uint64, processing time.Duration, actualInterval float64, recordJobs, captureJobs int) {
	l.Add(influxdb2_write.NewPoint(
		MeasurementTick,
		l.tags(nil),
		map[string]interface{}{
			"tick":            tick,
			"processing_ms":   float64(processing.Microseconds()) / 1000,
			"actual_interval": actualInterval,
			"record_jobs":     recordJobs,
			"capture_jobs":    captureJobs,
		},
		t,
	))
}

// StatusPoint queues a status snapshot.
func (l *Log) StatusPoint(t time.Time, health string, buffered int, recordJobs, captureJobs int) {
	l.Add(influxdb2_write.NewPoint(
		MeasurementStatus,
		l.tags(map[string]string{"health": health}),
		map[string]interface{}{
			"buffered_samples": buffered,
			"record_jobs":      recordJobs,
			"capture_jobs":     captureJobs,
		},
		t,
	))
}

// RecordJob queues a point for a finished job. It is meant to run as a
// lifecycle completion hook.
func (l *Log) RecordJob(r lifecycle.Result) {
	l.Add(influxdb2_write.NewPoint(
		MeasurementJob,
		l.tags(map[string]string{"engine": r.Engine, "kind": r.Kind}),
		map[string]interface{}{
			"duration_ms": float64(r.Duration().Microseconds()) / 1000,
			"items":       r.Report.Items,
			"bytes":       r.Report.Bytes,
			"failed":      r.Err != nil,
		},
		r.Finished,
	))
}

// Flush writes every queued point and flushes the gzip stream.
func (l *Log) Flush() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.flushLocked()
}

func (l *Log) flushLocked() error {
	if l.closed {
		return fmt.Errorf("perf log closed")
	}

	points := l.pending.Drain()
	if len(points) == 0 {
		return nil
	}

	var b strings.Builder
	for _, p := range points {
		b.WriteString(influxdb2_write.PointToLineProtocol(p, time.Nanosecond))
		b.WriteByte('\n')
	}

	if _, err := l.gz.Write([]byte(b.String())); err != nil {
		return fmt.Errorf("error writing perf log: %w", err)
	}
	if err := l.gz.Flush(); err != nil {
		return fmt.Errorf("error flushing perf log: %w", err)
	}
	l.lines.Add(int64(len(points)))
	return nil
}

func (l *Log) flushLoop() {
	defer close(l.loopDone)

	ticker := time.NewTicker(l.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-l.stopChan:
			return
		case <-ticker.C:
			if err := l.Flush(); err != nil {
				l.logger.Error().Err(err).Msg("Error flushing perf log")
			}
		}
	}
}

// Lines returns how many points have been written so far.
func (l *Log) Lines() int64 {
	return l.lines.Load()
}

// Close stops the flush loop, writes what is left and closes the file.
func (l *Log) Close() error {
	l.mu.Lock()
	if l.closing {
		l.mu.Unlock()
		return nil
	}
	l.closing = true
	close(l.stopChan)
	l.mu.Unlock()

	<-l.loopDone

	l.mu.Lock()
	defer l.mu.Unlock()

	flushErr := l.flushLocked()
	l.closed = true

	if err := l.gz.Close(); err != nil {
		l.file.Close()
		return fmt.Errorf("error closing perf log stream: %w", err)
	}
	if err := l.file.Close(); err != nil {
		return fmt.Errorf("error closing perf log file: %w", err)
	}
	return flushErr
}
