// Package lifecycle tracks the background jobs of one persistence engine:
// admission, non-blocking reclamation, and the blocking drain barrier.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// ErrCreationDisabled is returned by Spawn while job creation is switched off.
var ErrCreationDisabled = errors.New("job creation disabled")

// Logger interface for pluggable logging. *slog.Logger satisfies it.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithClock overrides the time source used to stamp results.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		c.now = now
	}
}

// OnComplete registers a hook that runs on the job's goroutine after the work
// returns and before the job is marked completed, so a drain also waits for it.
func OnComplete(hook func(Result)) Option {
	return func(c *Coordinator) {
		c.hooks = append(c.hooks, hook)
	}
}

// Coordinator owns the in-flight jobs of one engine plus its "ticking
// enabled" and "job creation enabled" flags.
type Coordinator struct {
	engine string
	logger Logger
	now    func() time.Time
	hooks  []func(Result)

	mu       sync.Mutex
	jobs     []*Job
	nextID   uint64
	ticking  bool
	creation bool

	// serializes concurrent DrainAll calls
	drainMu sync.Mutex

	// OTEL metrics
	inflight  metric.Int64ObservableGauge
	spawned   metric.Int64Counter
	completed metric.Int64Counter
	failed    metric.Int64Counter
	rejected  metric.Int64Counter
	duration  metric.Float64Histogram
	attrs     metric.MeasurementOption
}

// New creates a Coordinator for the named engine with both flags enabled.
// Uses the global OTel meter for metrics (no-op if not configured).
func New(engine string, logger Logger, opts ...Option) (*Coordinator, error) {
	c := &Coordinator{
		engine:   engine,
		logger:   logger,
		now:      time.Now,
		ticking:  true,
		creation: true,
		attrs:    metric.WithAttributes(attribute.String("engine", engine)),
	}
	for _, opt := range opts {
		opt(c)
	}

	m := meter()

	var err error

	c.inflight, err = m.Int64ObservableGauge(
		"recorder.jobs.inflight",
		metric.WithDescription("Current number of tracked background jobs"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating inflight gauge: %w", err)
	}

	_, err = m.RegisterCallback(
		func(ctx context.Context, o metric.Observer) error {
			o.ObserveInt64(c.inflight, int64(c.InFlight()), c.attrs)
			return nil
		},
		c.inflight,
	)
	if err != nil {
		return nil, fmt.Errorf("registering inflight callback: %w", err)
	}

	c.spawned, err = m.Int64Counter(
		"recorder.jobs.spawned",
		metric.WithDescription("Total jobs admitted"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating spawned counter: %w", err)
	}

	c.completed, err = m.Int64Counter(
		"recorder.jobs.completed",
		metric.WithDescription("Total jobs reclaimed after termination"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating completed counter: %w", err)
	}

	c.failed, err = m.Int64Counter(
		"recorder.jobs.failed",
		metric.WithDescription("Total jobs that terminated with an error"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating failed counter: %w", err)
	}

	c.rejected, err = m.Int64Counter(
		"recorder.jobs.rejected",
		metric.WithDescription("Total jobs refused while creation was disabled"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating rejected counter: %w", err)
	}

	c.duration, err = m.Float64Histogram(
		"recorder.jobs.duration",
		metric.WithDescription("Job duration from admission to termination"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating duration histogram: %w", err)
	}

	return c, nil
}

// Engine returns the engine name the coordinator was created for.
func (c *Coordinator) Engine() string {
	return c.engine
}

// Spawn admits a job and starts its worker goroutine.
func (c *Coordinator) Spawn(kind, target string, work Work) (*Job, error) {
	c.mu.Lock()
	if !c.creation {
		c.mu.Unlock()
		c.rejected.Add(context.Background(), 1, c.attrs)
		c.logger.Debug("job rejected", "engine", c.engine, "kind", kind, "target", target)
		return nil, ErrCreationDisabled
	}
	c.nextID++
	job := newJob(c.nextID, kind, target)
	job.result = Result{
		JobID:     job.id,
		Engine:    c.engine,
		Kind:      kind,
		Target:    target,
		SpawnedAt: c.now(),
	}
	job.state.Store(int32(StateSpawned))
	c.jobs = append(c.jobs, job)
	c.mu.Unlock()

	c.spawned.Add(context.Background(), 1, c.attrs)
	go c.run(job, work)

	return job, nil
}

func (c *Coordinator) run(job *Job, work Work) {
	job.state.Store(int32(StateRunning))

	ctx, span := tracer().Start(context.Background(), c.engine+"."+job.kind,
		trace.WithAttributes(
			attribute.String("engine", c.engine),
			attribute.Int64("job.id", int64(job.id)),
			attribute.String("job.target", job.target),
		),
	)

	defer func() {
		span.End()
		job.state.Store(int32(StateCompleted))
		close(job.done)
	}()

	report, err := safeRun(work)
	job.result.Report = report
	job.result.Err = err
	job.result.Finished = c.now()

	span.SetAttributes(
		attribute.Int("job.items", report.Items),
		attribute.Int64("job.bytes", report.Bytes),
	)

	c.duration.Record(ctx, float64(job.result.Duration().Microseconds())/1000, c.attrs)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "job failed")
		c.failed.Add(ctx, 1, c.attrs)
		c.logger.Error("job failed",
			"engine", c.engine, "job", job.id, "kind", job.kind, "target", job.target,
			"duration", job.result.Duration(), "error", err)
	} else {
		c.logger.Debug("job complete",
			"engine", c.engine, "job", job.id, "kind", job.kind, "target", job.target,
			"items", report.Items, "bytes", report.Bytes, "duration", job.result.Duration())
	}

	for _, hook := range c.hooks {
		c.callHook(hook, job.result)
	}
}

func safeRun(work Work) (report Report, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()
	return work()
}

func (c *Coordinator) callHook(hook func(Result), res Result) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("completion hook panicked", "engine", c.engine, "job", res.JobID, "panic", r)
		}
	}()
	hook(res)
}

// Poll reclaims every job whose worker has terminated and returns how many
// were reclaimed. It never waits on a live job.
func (c *Coordinator) Poll() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	kept := c.jobs[:0]
	reclaimed := 0
	for _, job := range c.jobs {
		if job.State() == StateCompleted {
			<-job.done
			reclaimed++
			continue
		}
		kept = append(kept, job)
	}
	for i := len(kept); i < len(c.jobs); i++ {
		c.jobs[i] = nil
	}
	c.jobs = kept

	if reclaimed > 0 {
		c.completed.Add(context.Background(), int64(reclaimed), c.attrs)
	}
	return reclaimed
}

// DrainAll disables ticking and job creation, blocks until every tracked job
// has completed and been reclaimed, then restores both flags.
func (c *Coordinator) DrainAll() {
	c.drainMu.Lock()
	defer c.drainMu.Unlock()

	c.mu.Lock()
	prevTicking, prevCreation := c.ticking, c.creation
	c.ticking, c.creation = false, false
	pending := len(c.jobs)
	c.mu.Unlock()

	start := c.now()
	c.logger.Debug("draining jobs", "engine", c.engine, "pending", pending)

	for {
		c.Poll()

		c.mu.Lock()
		if len(c.jobs) == 0 {
			c.mu.Unlock()
			break
		}
		oldest := c.jobs[0]
		c.mu.Unlock()

		<-oldest.done
	}

	c.mu.Lock()
	c.ticking, c.creation = prevTicking, prevCreation
	c.mu.Unlock()

	c.logger.Info("jobs drained", "engine", c.engine, "drained", pending, "duration", c.now().Sub(start))
}

// InFlight returns the number of tracked jobs, including terminated jobs that
// have not been reclaimed by Poll yet.
func (c *Coordinator) InFlight() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.jobs)
}

// TickingEnabled reports whether the owning engine should process ticks.
func (c *Coordinator) TickingEnabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ticking
}

// SetTickingEnabled switches tick processing on or off.
func (c *Coordinator) SetTickingEnabled(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ticking = enabled
}

// CreationEnabled reports whether Spawn admits new jobs.
func (c *Coordinator) CreationEnabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.creation
}

// SetCreationEnabled switches job admission on or off.
func (c *Coordinator) SetCreationEnabled(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.creation = enabled
}
