package recorder

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// StatusSource is anything that can report a Status.
type StatusSource interface {
	Status() Status
}

// StatusFunc adapts a function to StatusSource.
type StatusFunc func() Status

// Status calls f.
func (f StatusFunc) Status() Status {
	return f()
}

// MonitorDependencies holds all dependencies for the monitor service
type MonitorDependencies struct {
	Source   StatusSource
	Path     string
	Interval time.Duration
	Logger   *slog.Logger
	// Sinks receive every status the monitor writes.
	Sinks []func(Status)
}

// Monitor periodically rewrites the status file
type Monitor struct {
	deps      MonitorDependencies
	isRunning bool
	mu        sync.RWMutex
	stopChan  chan struct{}
	done      chan struct{}
}

// NewMonitor creates a new monitor service
func NewMonitor(deps MonitorDependencies) *Monitor {
	if deps.Interval <= 0 {
		deps.Interval = time.Second
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Monitor{
		deps:     deps,
		stopChan: make(chan struct{}),
	}
}

// IsRunning returns whether the status monitor is running
func (m *Monitor) IsRunning() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.isRunning
}

// StatusLines renders a status as the lines written to the status file.
func StatusLines(st Status) []string {
	lines := []string{
		st.String(),
		fmt.Sprintf("Health: %s | Tick: %d | Buffered samples: %d", st.Health, st.Tick, st.BufferedSamples),
	}
	raw, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		raw = []byte(fmt.Sprintf(`{"error": "%s"}`, err))
	}
	return append(lines, string(raw))
}

// Start starts the status monitor goroutine
func (m *Monitor) Start() error {
	m.mu.Lock()
	if m.isRunning {
		m.mu.Unlock()
		return nil
	}

	statusFile, err := os.Create(m.deps.Path)
	if err != nil {
		m.mu.Unlock()
		return fmt.Errorf("error creating status file: %w", err)
	}

	m.isRunning = true
	m.stopChan = make(chan struct{})
	m.done = make(chan struct{})
	stop, done := m.stopChan, m.done
	m.mu.Unlock()

	go func() {
		defer func() {
			statusFile.Close()
			m.mu.Lock()
			m.isRunning = false
			m.mu.Unlock()
			close(done)
		}()

		logger := m.deps.Logger
		logger.Debug("Starting status monitor goroutine", "path", m.deps.Path)

		ticker := time.NewTicker(m.deps.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-stop:
				m.write(statusFile)
				return
			case <-ticker.C:
				m.write(statusFile)
			}
		}
	}()

	return nil
}

func (m *Monitor) write(statusFile *os.File) {
	st := m.deps.Source.Status()

	if err := statusFile.Truncate(0); err != nil {
		m.deps.Logger.Error("Error truncating status file", "error", err)
		return
	}
	if _, err := statusFile.Seek(0, 0); err != nil {
		m.deps.Logger.Error("Error rewinding status file", "error", err)
		return
	}
	for _, line := range StatusLines(st) {
		if _, err := statusFile.WriteString(line + "\n"); err != nil {
			m.deps.Logger.Error("Error writing status file", "error", err)
			return
		}
	}

	for _, sink := range m.deps.Sinks {
		sink(st)
	}
}

// Stop stops the status monitor and waits for its final write.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.isRunning {
		m.mu.Unlock()
		return
	}
	select {
	case <-m.stopChan:
	default:
		close(m.stopChan)
	}
	done := m.done
	m.mu.Unlock()

	<-done
}
