package connector

import "sync"

// listenerList is a copy-on-write snapshot-on-iterate sequence: Add swaps in
// a freshly allocated slice under a mutex, and Snapshot returns the current
// slice without copying — safe because the slice is never mutated in place.
type listenerList[T any] struct {
	mu    sync.Mutex
	items []T
}

func (l *listenerList[T]) Add(item T) {
	l.mu.Lock()
	defer l.mu.Unlock()
	next := make([]T, len(l.items)+1)
	copy(next, l.items)
	next[len(l.items)] = item
	l.items = next
}

// Snapshot returns the current listener slice. Callers must not mutate it.
func (l *listenerList[T]) Snapshot() []T {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.items
}

// Clear empties the list, used by the sweeper on teardown.
func (l *listenerList[T]) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.items = nil
}
