// Package pathlock provides mutual exclusion keyed by file path.
package pathlock

import "sync"

type entry struct {
	mu   sync.Mutex
	refs int
}

// Map hands out one mutex per path. Entries are created on first use and
// removed once no holder or waiter references them.
type Map struct {
	mu      sync.Mutex
	entries map[string]*entry
}

// New returns an empty Map.
func New() *Map {
	return &Map{entries: make(map[string]*entry)}
}

// Lock blocks until the lock for path is held and returns the function that
// releases it. The returned func must be called exactly once.
func (m *Map) Lock(path string) (unlock func()) {
	m.mu.Lock()
	e, ok := m.entries[path]
	if !ok {
		e = &entry{}
		m.entries[path] = e
	}
	e.refs++
	m.mu.Unlock()

	e.mu.Lock()

	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Unlock()

			m.mu.Lock()
			e.refs--
			if e.refs == 0 {
				delete(m.entries, path)
			}
			m.mu.Unlock()
		})
	}
}

// Len returns the number of paths that currently have a holder or waiter.
func (m *Map) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
