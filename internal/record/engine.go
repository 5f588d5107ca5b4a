// Package record accumulates processed samples and persists them to rotating
// JSON files from background jobs.
package record

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/simrecorder/recorder/internal/buffer"
	"github.com/simrecorder/recorder/internal/lifecycle"
	"github.com/simrecorder/recorder/internal/pathlock"
	"github.com/simrecorder/recorder/internal/sample"
	"github.com/simrecorder/recorder/internal/util"
)

// EngineName tags the coordinator, its metrics and ledger rows.
const EngineName = "record"

// Job kinds.
const (
	KindSave   = "save"
	KindRotate = "rotate"
	KindFlush  = "flush"
)

// Config holds record engine settings.
type Config struct {
	OutputDir       string
	Prefix          string
	Compress        bool
	SessionID       string
	RecorderVersion string
	// InitialCapacity sizes each fresh buffer.
	InitialCapacity int
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the time source used for file stamps and job results.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// WithJobLogger routes job lifecycle logs to l instead of the engine logger.
func WithJobLogger(l lifecycle.Logger) Option {
	return func(e *Engine) {
		e.jobLogger = l
	}
}

// WithJobHooks registers completion hooks on the engine's coordinator.
func WithJobHooks(hooks ...func(lifecycle.Result)) Option {
	return func(e *Engine) {
		e.hooks = append(e.hooks, hooks...)
	}
}

// Engine owns the active sample buffer and the jobs that persist it.
type Engine struct {
	cfg       Config
	logger    *slog.Logger
	jobLogger lifecycle.Logger
	hooks     []func(lifecycle.Result)
	now       func() time.Time

	coord  *lifecycle.Coordinator
	locks  *pathlock.Map
	writer *writer

	mu       sync.Mutex
	buf      *buffer.Buffer[sample.Sample]
	path     string
	assigned map[string]struct{}
	// samples of the active buffer already handed to a job
	spawned int
}

// New creates an engine pointed at a freshly stamped output file.
func New(cfg Config, logger *slog.Logger, opts ...Option) (*Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{
		cfg:      cfg,
		logger:   logger.With("engine", EngineName),
		now:      time.Now,
		locks:    pathlock.New(),
		assigned: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.jobLogger == nil {
		// the coordinator tags its own lines with the engine name
		e.jobLogger = logger
	}

	coordOpts := []lifecycle.Option{lifecycle.WithClock(e.now)}
	for _, h := range e.hooks {
		coordOpts = append(coordOpts, lifecycle.OnComplete(h))
	}
	coord, err := lifecycle.New(EngineName, e.jobLogger, coordOpts...)
	if err != nil {
		return nil, fmt.Errorf("creating record coordinator: %w", err)
	}
	e.coord = coord

	e.writer = &writer{
		locks:    e.locks,
		compress: cfg.Compress,
		written:  make(map[string]int),
	}

	e.buf = e.newBuffer()
	e.path = e.nextPath()

	return e, nil
}

func (e *Engine) newBuffer() *buffer.Buffer[sample.Sample] {
	return buffer.New[sample.Sample](e.cfg.InitialCapacity)
}

// nextPath stamps a new file name. Two rotations within the same
// millisecond get a numeric suffix so they never share a file.
// Callers hold e.mu or run before the engine is shared.
func (e *Engine) nextPath() string {
	ext := "json"
	if e.cfg.Compress {
		ext = "json.gz"
	}
	stamp := util.RotationStamp(e.now())
	path := util.StampedPath(e.cfg.OutputDir, e.cfg.Prefix, stamp, ext)
	for i := 1; ; i++ {
		if _, taken := e.assigned[path]; !taken {
			break
		}
		path = util.StampedPath(e.cfg.OutputDir, e.cfg.Prefix, fmt.Sprintf("%s_%d", stamp, i), ext)
	}
	e.assigned[path] = struct{}{}
	return path
}

// Tick appends a deep copy of s to the active buffer. It reports false and
// records nothing while ticking is disabled.
func (e *Engine) Tick(s *sample.Sample) bool {
	if !e.coord.TickingEnabled() {
		return false
	}
	e.mu.Lock()
	e.buf.Append(s.Clone())
	e.mu.Unlock()
	return true
}

// OnSaveIntervalElapsed persists a snapshot of the active buffer to the
// active file.
func (e *Engine) OnSaveIntervalElapsed() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.spawnLocked(KindSave, e.path, e.buf)
}

// Flush is an immediate save of the active buffer, used before a drain.
func (e *Engine) Flush() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.spawnLocked(KindFlush, e.path, e.buf)
}

// OnRotationIntervalElapsed writes the active buffer one last time, then
// starts a new buffer targeting a newly stamped file. If the final write
// cannot be admitted the rotation does not happen, so no samples are lost.
func (e *Engine) OnRotationIntervalElapsed() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.spawnLocked(KindRotate, e.path, e.buf); err != nil {
		return err
	}

	old := e.path
	e.buf = e.newBuffer()
	e.spawned = 0
	e.path = e.nextPath()
	e.logger.Info("record file rotated", "from", old, "to", e.path)
	return nil
}

// spawnLocked hands a snapshot of buf to a background job. Empty buffers
// produce no job. Callers hold e.mu.
func (e *Engine) spawnLocked(kind, path string, buf *buffer.Buffer[sample.Sample]) error {
	samples := buf.Snapshot()
	if len(samples) == 0 {
		return nil
	}

	doc := Document{
		SessionID:       e.cfg.SessionID,
		RecorderVersion: e.cfg.RecorderVersion,
		File:            path,
		Samples:         samples,
	}
	_, err := e.coord.Spawn(kind, path, func() (lifecycle.Report, error) {
		return e.writer.write(path, doc)
	})
	if err != nil {
		return fmt.Errorf("spawning %s job for %s: %w", kind, path, err)
	}
	if buf == e.buf {
		e.spawned = len(samples)
	}
	return nil
}

// PollJobs reclaims terminated jobs without blocking.
func (e *Engine) PollJobs() int {
	return e.coord.Poll()
}

// DrainAll writes out any samples no job has picked up yet, then blocks
// until every admitted job has finished. The tail is only written while job
// creation is enabled.
func (e *Engine) DrainAll() {
	e.mu.Lock()
	if e.buf.Len() > e.spawned {
		if err := e.spawnLocked(KindFlush, e.path, e.buf); err != nil {
			e.logger.Debug("final flush skipped", "error", err)
		}
	}
	e.mu.Unlock()

	e.coord.DrainAll()
}

// ActiveJobs returns the number of tracked jobs.
func (e *Engine) ActiveJobs() int {
	return e.coord.InFlight()
}

// ActivePath returns the file the active buffer is saved to.
func (e *Engine) ActivePath() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.path
}

// Buffered returns the number of samples in the active buffer.
func (e *Engine) Buffered() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.buf.Len()
}

// Coordinator exposes the engine's job coordinator for flag control.
func (e *Engine) Coordinator() *lifecycle.Coordinator {
	return e.coord
}
