package lifecycle

import (
	"sync/atomic"
	"time"
)

// State is a job's position in its lifecycle.
type State int32

const (
	// StateIdle is a job that has been built but not handed to a worker.
	StateIdle State = iota
	// StateSpawned is a job admitted by the coordinator whose worker has not started.
	StateSpawned
	// StateRunning is a job whose worker is executing.
	StateRunning
	// StateCompleted is a job whose worker has terminated, successfully or not.
	StateCompleted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSpawned:
		return "spawned"
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

// Report is what a unit of work tells the coordinator about itself.
type Report struct {
	Items int
	Bytes int64
}

// Work is the body of a job. It runs on its own goroutine.
type Work func() (Report, error)

// Result describes a finished job. It is handed to completion hooks.
type Result struct {
	JobID     uint64
	Engine    string
	Kind      string
	Target    string
	Report    Report
	Err       error
	SpawnedAt time.Time
	Finished  time.Time
}

// Duration is the time between admission and termination.
func (r Result) Duration() time.Duration {
	return r.Finished.Sub(r.SpawnedAt)
}

// Job is one background unit of work owned by a Coordinator.
type Job struct {
	id     uint64
	kind   string
	target string

	state atomic.Int32
	done  chan struct{}

	result Result
}

func newJob(id uint64, kind, target string) *Job {
	j := &Job{
		id:     id,
		kind:   kind,
		target: target,
		done:   make(chan struct{}),
	}
	j.state.Store(int32(StateIdle))
	return j
}

// ID returns the coordinator-assigned job id.
func (j *Job) ID() uint64 { return j.id }

// Kind returns the job kind, e.g. "save" or "rotate".
func (j *Job) Kind() string { return j.kind }

// Target returns the path the job writes to.
func (j *Job) Target() string { return j.target }

// State returns the current lifecycle state.
func (j *Job) State() State { return State(j.state.Load()) }

// Done is closed once the job reaches StateCompleted.
func (j *Job) Done() <-chan struct{} { return j.done }

// Result returns the job outcome. Only valid after Done is closed.
func (j *Job) Result() Result { return j.result }
