// Package buffer provides an append-only, goroutine-safe ordered sequence.
package buffer

import "sync"

// Buffer is an append-only sequence that can be snapshotted while another
// goroutine keeps appending.
type Buffer[T any] struct {
	mu    sync.Mutex
	items []T
}

// New creates an empty buffer with room for capacity items.
func New[T any](capacity int) *Buffer[T] {
	return &Buffer[T]{
		items: make([]T, 0, capacity),
	}
}

// Append adds items to the end of the buffer.
func (b *Buffer[T]) Append(items ...T) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.items = append(b.items, items...)
}

// Len returns the number of items appended so far.
func (b *Buffer[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items)
}

// Snapshot returns a copy of the current contents. Later appends are not
// visible in the returned slice.
func (b *Buffer[T]) Snapshot() []T {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]T, len(b.items))
	copy(out, b.items)
	return out
}

// Drain returns all items and leaves the buffer empty.
func (b *Buffer[T]) Drain() []T {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.items
	b.items = make([]T, 0, cap(out))
	return out
}
