// Package capture periodically reads back rendered frames and encodes them to
// image files from background jobs.
package capture

import (
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/simrecorder/recorder/internal/lifecycle"
	"github.com/simrecorder/recorder/internal/pathlock"
	"github.com/simrecorder/recorder/internal/util"
)

// EngineName tags the coordinator, its metrics and ledger rows.
const EngineName = "capture"

// KindFrame is the job kind of a frame encode.
const KindFrame = "frame"

// Renderer delivers frame readbacks asynchronously. The callback may run on
// any goroutine.
type Renderer interface {
	RequestReadback(func(Frame, error))
}

// Config holds capture engine settings.
type Config struct {
	OutputDir      string
	FolderPrefix   string
	Format         string
	JPEGQuality    int
	PNGCompression string
	FlipVertical   bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the time source used for folder stamps and file names.
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

// Engine requests frames on an interval and writes them into rotating folders.
type Engine struct {
	cfg       Config
	logger    *slog.Logger
	jobLogger lifecycle.Logger
	hooks     []func(lifecycle.Result)
	now       func() time.Time
	renderer  Renderer
	enc       encoder

	coord *lifecycle.Coordinator
	locks *pathlock.Map

	stress atomic.Uint64

	mu          sync.Mutex
	folder      string
	folderStart time.Time

	requested atomic.Int64
	skipped   atomic.Int64
}

// New validates the image format and creates an engine with its first folder.
func New(cfg Config, renderer Renderer, logger *slog.Logger, opts ...Option) (*Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}
	enc, err := newEncoder(cfg.Format, cfg.JPEGQuality, cfg.PNGCompression)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:      cfg,
		logger:   logger.With("engine", EngineName),
		now:      time.Now,
		renderer: renderer,
		enc:      enc,
		locks:    pathlock.New(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.jobLogger == nil {
		e.jobLogger = logger
	}

	coordOpts := []lifecycle.Option{lifecycle.WithClock(e.now)}
	for _, h := range e.hooks {
		coordOpts = append(coordOpts, lifecycle.OnComplete(h))
	}
	e.coord, err = lifecycle.New(EngineName, e.jobLogger, coordOpts...)
	if err != nil {
		return nil, fmt.Errorf("creating capture coordinator: %w", err)
	}

	e.switchFolder()
	return e, nil
}

func (e *Engine) switchFolder() string {
	now := e.now()
	folder := filepath.Join(e.cfg.OutputDir, util.StampedName(e.cfg.FolderPrefix, util.RotationStamp(now), ""))

	e.mu.Lock()
	e.folder = folder
	e.folderStart = now
	e.mu.Unlock()
	return folder
}

// SetStressLevel stores the latest stress or event scalar for file names.
func (e *Engine) SetStressLevel(v float64) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		v = 0
	}
	e.stress.Store(math.Float64bits(v))
}

// StressLevel returns the value last passed to SetStressLevel.
func (e *Engine) StressLevel() float64 {
	return math.Float64frombits(e.stress.Load())
}

// OnCaptureIntervalElapsed asks the renderer for a frame. It reports false
// without asking while job creation is disabled.
func (e *Engine) OnCaptureIntervalElapsed() bool {
	if e.renderer == nil || !e.coord.CreationEnabled() {
		return false
	}
	e.requested.Add(1)
	e.renderer.RequestReadback(func(frame Frame, err error) {
		if err != nil {
			e.skipped.Add(1)
			e.logger.Warn("frame readback failed, capture skipped", "error", err)
			return
		}
		if err := e.OnReadbackReady(frame); err != nil {
			e.skipped.Add(1)
			e.logger.Debug("capture skipped", "error", err)
		}
	})
	return true
}

// FramePath returns where a frame captured now would be written.
func (e *Engine) FramePath() string {
	e.mu.Lock()
	folder, start := e.folder, e.folderStart
	e.mu.Unlock()

	elapsed := e.now().Sub(start).Seconds()
	name := fmt.Sprintf("time_%s_sickness_%s.%s",
		util.FormatFixed(elapsed, 2), util.FormatFixed(e.StressLevel(), 2), e.enc.Ext())
	return filepath.Join(folder, name)
}

// OnReadbackReady copies the frame and spawns the job that encodes and
// writes it.
func (e *Engine) OnReadbackReady(frame Frame) error {
	if err := frame.validate(); err != nil {
		return err
	}
	path := e.FramePath()

	// the renderer may reuse its readback buffer once we return
	pixels := make([]byte, frame.Width*frame.Height*4)
	copy(pixels, frame.Pixels)
	owned := Frame{Pixels: pixels, Width: frame.Width, Height: frame.Height}

	_, err := e.coord.Spawn(KindFrame, path, func() (lifecycle.Report, error) {
		return e.writeFrame(path, owned)
	})
	if err != nil {
		return fmt.Errorf("spawning frame job for %s: %w", path, err)
	}
	return nil
}

// writeFrame encodes into a temp file and renames it over path, so a failed
// encode never leaves a truncated image behind.
func (e *Engine) writeFrame(path string, frame Frame) (lifecycle.Report, error) {
	unlock := e.locks.Lock(path)
	defer unlock()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return lifecycle.Report{}, fmt.Errorf("failed to create capture folder: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return lifecycle.Report{}, fmt.Errorf("failed to create file: %w", err)
	}
	tmpName := tmp.Name()

	err = e.enc.Encode(tmp, frame.toImage(e.cfg.FlipVertical))
	if err != nil {
		err = fmt.Errorf("failed to encode frame: %w", err)
	}
	info, statErr := tmp.Stat()
	if closeErr := tmp.Close(); err == nil && closeErr != nil {
		err = fmt.Errorf("failed to close file: %w", closeErr)
	}
	if err != nil {
		os.Remove(tmpName)
		return lifecycle.Report{}, err
	}

	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return lifecycle.Report{}, fmt.Errorf("failed to move file into place: %w", err)
	}

	report := lifecycle.Report{Items: 1}
	if statErr == nil {
		report.Bytes = info.Size()
	}
	return report, nil
}

// OnFolderSwitchIntervalElapsed starts a new capture folder and resets the
// elapsed time embedded in file names.
func (e *Engine) OnFolderSwitchIntervalElapsed() {
	folder := e.switchFolder()
	e.logger.Info("capture folder switched", "folder", folder)
}

// ActiveFolder returns the folder new frames are written to.
func (e *Engine) ActiveFolder() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.folder
}

// PollJobs reclaims terminated jobs without blocking.
func (e *Engine) PollJobs() int {
	return e.coord.Poll()
}

// DrainAll blocks until every admitted job has finished.
func (e *Engine) DrainAll() {
	e.coord.DrainAll()
}

// ActiveJobs returns the number of tracked jobs.
func (e *Engine) ActiveJobs() int {
	return e.coord.InFlight()
}

// Requested returns how many readbacks have been asked for.
func (e *Engine) Requested() int64 {
	return e.requested.Load()
}

// Skipped returns how many readbacks produced no job.
func (e *Engine) Skipped() int64 {
	return e.skipped.Load()
}

// Coordinator exposes the engine's job coordinator for flag control.
func (e *Engine) Coordinator() *lifecycle.Coordinator {
	return e.coord
}
