// Package recorder drives one recording session: it finalizes the current
// Sample every tick, feeds both persistence engines, fires their interval
// timers and exposes the focus, pause and exit controls.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/simrecorder/recorder/internal/capture"
	"github.com/simrecorder/recorder/internal/lifecycle"
	"github.com/simrecorder/recorder/internal/logging"
	"github.com/simrecorder/recorder/internal/record"
	"github.com/simrecorder/recorder/internal/sample"
)

// ErrExited is returned by controls called after RequestExit.
var ErrExited = errors.New("session has exited")

// Config holds the session's interval timers and health thresholds.
// A non-positive interval disables its timer.
type Config struct {
	SessionID            string
	Alpha                sample.Alpha
	SaveInterval         time.Duration
	RotationInterval     time.Duration
	CaptureInterval      time.Duration
	FolderSwitchInterval time.Duration
	YellowJobs           int
	RedJobs              int
}

// NewSessionID returns a random session identifier.
func NewSessionID() string {
	return uuid.NewString()
}

// TickReport describes one finished tick.
type TickReport struct {
	Time           time.Time
	Tick           uint64
	Processing     time.Duration
	ActualInterval float64
	Recorded       bool
	RecordJobs     int
	CaptureJobs    int
}

// Option configures a Session.
type Option func(*Session)

// WithClock overrides the wall clock that drives the interval timers.
func WithClock(now func() time.Time) Option {
	return func(s *Session) {
		s.now = now
	}
}

// WithTickObserver registers a callback run at the end of every tick.
func WithTickObserver(fn func(TickReport)) Option {
	return func(s *Session) {
		s.observers = append(s.observers, fn)
	}
}

// WithCloser registers a sink closed by RequestExit after the final drain.
// Closers run in reverse registration order.
func WithCloser(name string, fn func() error) Option {
	return func(s *Session) {
		s.closers = append(s.closers, closer{name: name, fn: fn})
	}
}

type closer struct {
	name string
	fn   func() error
}

type interval struct {
	every time.Duration
	last  time.Time
}

func (iv *interval) due(now time.Time) bool {
	if iv.every <= 0 || now.Sub(iv.last) < iv.every {
		return false
	}
	iv.last = now
	return true
}

// Session owns the current and previous Sample and the two engines.
// Tick and the controls must be called from the tick loop goroutine;
// Status is safe from any goroutine.
type Session struct {
	cfg       Config
	logger    *slog.Logger
	now       func() time.Time
	processor *sample.Processor
	record    *record.Engine
	capture   *capture.Engine
	observers []func(TickReport)
	closers   []closer

	mu       sync.Mutex
	current  sample.Sample
	previous sample.Sample
	reseed   bool

	saveTimer     interval
	rotationTimer interval
	captureTimer  interval
	folderTimer   interval

	ticks     atomic.Uint64
	focusLost atomic.Bool
	paused    atomic.Bool
	exited    atomic.Bool
	started   time.Time
}

// New creates a session. capture may be nil when frame capture is disabled.
func New(cfg Config, rec *record.Engine, capt *capture.Engine, logger *slog.Logger, opts ...Option) (*Session, error) {
	if rec == nil {
		return nil, fmt.Errorf("record engine is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.SessionID == "" {
		cfg.SessionID = NewSessionID()
	}

	s := &Session{
		cfg:       cfg,
		logger:    logger.With("component", "session"),
		now:       time.Now,
		processor: sample.NewProcessor(cfg.Alpha),
		record:    rec,
		capture:   capt,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.started = s.now()
	s.saveTimer = interval{every: cfg.SaveInterval, last: s.started}
	s.rotationTimer = interval{every: cfg.RotationInterval, last: s.started}
	s.captureTimer = interval{every: cfg.CaptureInterval, last: s.started}
	s.folderTimer = interval{every: cfg.FolderSwitchInterval, last: s.started}

	return s, nil
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.cfg.SessionID
}

// Started returns when the session was created.
func (s *Session) Started() time.Time {
	return s.started
}

// Current returns the Sample collaborators write into before the next Tick.
// It already carries every value of the previous tick.
func (s *Session) Current() *sample.Sample {
	return &s.current
}

// Tick finalizes the current Sample, hands it to the engines, fires any
// elapsed interval and seeds the next Sample. It never blocks on I/O.
func (s *Session) Tick(meta sample.TickMeta) TickReport {
	start := s.now()
	if meta.WallTime.IsZero() {
		meta.WallTime = start
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	report := TickReport{Time: start, ActualInterval: meta.ActualInterval}
	if s.exited.Load() || !s.record.Coordinator().TickingEnabled() {
		s.pollLocked()
		report.Tick = s.ticks.Load()
		report.RecordJobs, report.CaptureJobs = s.jobCounts()
		return report
	}

	if s.reseed {
		// the gap since the last processed tick is not a tick interval
		s.previous = sample.Sample{Tick: s.previous.Tick, SimTime: s.previous.SimTime}
		s.reseed = false
	}

	cur := &s.current
	cur.Sanitize()
	s.processor.Process(cur, &s.previous, meta)
	report.Recorded = s.record.Tick(cur)
	if s.capture != nil {
		s.capture.SetStressLevel(cur.Sickness)
	}
	s.ticks.Store(cur.Tick)

	ctx := logging.WithTick(context.Background(), cur.Tick)
	s.fireTimersLocked(ctx, start)
	s.pollLocked()

	s.previous = cur.Clone()
	s.current = cur.Clone()

	report.Tick = cur.Tick
	report.Processing = s.now().Sub(start)
	report.RecordJobs, report.CaptureJobs = s.jobCounts()
	for _, fn := range s.observers {
		fn(report)
	}
	return report
}

// fireTimersLocked runs rotation before save so a shared deadline writes the
// closing file once instead of saving the fresh empty buffer.
func (s *Session) fireTimersLocked(ctx context.Context, now time.Time) {
	if s.rotationTimer.due(now) {
		if err := s.record.OnRotationIntervalElapsed(); err != nil {
			s.logger.WarnContext(ctx, "Rotation skipped", "error", err)
		}
	}
	if s.saveTimer.due(now) {
		if err := s.record.OnSaveIntervalElapsed(); err != nil {
			s.logger.DebugContext(ctx, "Save skipped", "error", err)
		}
	}
	if s.capture == nil {
		return
	}
	if s.folderTimer.due(now) {
		s.capture.OnFolderSwitchIntervalElapsed()
		s.logger.InfoContext(ctx, "Capture folder switched", "folder", s.capture.ActiveFolder())
	}
	if s.captureTimer.due(now) {
		if !s.capture.OnCaptureIntervalElapsed() {
			s.logger.DebugContext(ctx, "Capture not requested")
		}
	}
}

func (s *Session) pollLocked() {
	s.record.PollJobs()
	if s.capture != nil {
		s.capture.PollJobs()
	}
}

func (s *Session) jobCounts() (recordJobs, captureJobs int) {
	recordJobs = s.record.ActiveJobs()
	if s.capture != nil {
		captureJobs = s.capture.ActiveJobs()
	}
	return recordJobs, captureJobs
}

func (s *Session) coordinators() []*lifecycle.Coordinator {
	coords := []*lifecycle.Coordinator{s.record.Coordinator()}
	if s.capture != nil {
		coords = append(coords, s.capture.Coordinator())
	}
	return coords
}

// drainLocked writes out the record tail, switches both engines off and
// blocks until neither has a job left. Only the tick goroutine spawns record
// jobs, so the record drain runs while creation is still enabled. Capture is
// switched off first so late readbacks are refused.
func (s *Session) drainLocked() {
	s.record.DrainAll()
	s.setEnabledLocked(false)
	if s.capture != nil {
		s.capture.DrainAll()
	}
}

func (s *Session) setEnabledLocked(enabled bool) {
	for _, c := range s.coordinators() {
		c.SetTickingEnabled(enabled)
		c.SetCreationEnabled(enabled)
	}
}

func (s *Session) suspend(reason string) error {
	if s.exited.Load() {
		return ErrExited
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	start := s.now()
	s.drainLocked()
	s.logger.Info("Recording suspended", "reason", reason, "drained_in", s.now().Sub(start))
	return nil
}

func (s *Session) resume(reason string) error {
	if s.exited.Load() {
		return ErrExited
	}
	if s.focusLost.Load() || s.paused.Load() {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.setEnabledLocked(true)
	s.reseed = true
	now := s.now()
	for _, iv := range []*interval{&s.saveTimer, &s.rotationTimer, &s.captureTimer, &s.folderTimer} {
		iv.last = now
	}
	s.logger.Info("Recording resumed", "reason", reason)
	return nil
}

// OnFocusLost writes out everything buffered and stops recording until
// focus comes back.
func (s *Session) OnFocusLost() error {
	s.focusLost.Store(true)
	return s.suspend("focus lost")
}

// OnFocusGained resumes recording unless a pause is still requested.
func (s *Session) OnFocusGained() error {
	s.focusLost.Store(false)
	return s.resume("focus gained")
}

// OnPauseRequested writes out everything buffered and stops recording until
// resumed.
func (s *Session) OnPauseRequested() error {
	s.paused.Store(true)
	return s.suspend("pause requested")
}

// OnResumeRequested resumes recording unless focus is still lost.
func (s *Session) OnResumeRequested() error {
	s.paused.Store(false)
	return s.resume("resume requested")
}

// RequestExit performs the final drain, disables both engines for good and
// closes the registered sinks. Only the first call has an effect.
func (s *Session) RequestExit() error {
	if !s.exited.CompareAndSwap(false, true) {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	start := s.now()
	s.drainLocked()
	s.logger.Info("Session finished",
		"ticks", s.ticks.Load(), "record_file", s.record.ActivePath(), "drained_in", s.now().Sub(start))

	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		c := s.closers[i]
		if err := c.fn(); err != nil {
			s.logger.Error("Error closing sink", "sink", c.name, "error", err)
			errs = append(errs, fmt.Errorf("closing %s: %w", c.name, err))
		}
	}
	return errors.Join(errs...)
}

// Exited reports whether RequestExit has been called.
func (s *Session) Exited() bool {
	return s.exited.Load()
}
