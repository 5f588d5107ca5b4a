package recorder

import (
	"fmt"
	"time"
)

// Health is the color-coded load level shown to the status display.
type Health int

const (
	HealthGreen Health = iota
	HealthYellow
	HealthRed
)

func (h Health) String() string {
	switch h {
	case HealthGreen:
		return "green"
	case HealthYellow:
		return "yellow"
	case HealthRed:
		return "red"
	default:
		return "unknown"
	}
}

// MarshalText renders the color name in JSON output.
func (h Health) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

// healthFor grades the total number of in-flight jobs. A non-positive
// threshold never trips.
func healthFor(jobs, yellow, red int) Health {
	switch {
	case red > 0 && jobs >= red:
		return HealthRed
	case yellow > 0 && jobs >= yellow:
		return HealthYellow
	default:
		return HealthGreen
	}
}

// Status is a point-in-time view of the session for status collaborators.
type Status struct {
	Time            time.Time `json:"time"`
	SessionID       string    `json:"sessionId"`
	Tick            uint64    `json:"tick"`
	RecordJobs      int       `json:"recordJobs"`
	CaptureJobs     int       `json:"captureJobs"`
	BufferedSamples int       `json:"bufferedSamples"`
	RecordFile      string    `json:"recordFile"`
	CaptureFolder   string    `json:"captureFolder,omitempty"`
	CapturesSkipped int64     `json:"capturesSkipped"`
	Recording       bool      `json:"recording"`
	Health          Health    `json:"health"`
}

func (st Status) String() string {
	return fmt.Sprintf("Recording tasks: %d | Capture tasks: %d", st.RecordJobs, st.CaptureJobs)
}

// Status reads live counters without waiting on the tick loop.
func (s *Session) Status() Status {
	recordJobs, captureJobs := s.jobCounts()
	st := Status{
		Time:            s.now(),
		SessionID:       s.cfg.SessionID,
		Tick:            s.ticks.Load(),
		RecordJobs:      recordJobs,
		CaptureJobs:     captureJobs,
		BufferedSamples: s.record.Buffered(),
		RecordFile:      s.record.ActivePath(),
		Recording:       !s.exited.Load() && s.record.Coordinator().TickingEnabled(),
		Health:          healthFor(recordJobs+captureJobs, s.cfg.YellowJobs, s.cfg.RedJobs),
	}
	if s.capture != nil {
		st.CaptureFolder = s.capture.ActiveFolder()
		st.CapturesSkipped = s.capture.Skipped()
	}
	return st
}
