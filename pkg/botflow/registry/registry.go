package registry

import (
	"iter"
	"sync/atomic"

	"github.com/randalmurphal/botflow/pkg/botflow/priority"
)

// Registry is a thread-safe, priority-ordered set of registrations.
type Registry[T any] struct {
	entries *priority.Collection[*Handle[T]]
}

// New creates a new empty registry.
func New[T any]() *Registry[T] {
	return &Registry[T]{
		entries: priority.New[*Handle[T]](),
	}
}

// Handle identifies a single registration.
type Handle[T any] struct {
	registry   *Registry[T]
	value      T
	priority   int
	registered atomic.Bool
}

// Register adds value at the given priority and returns its handle.
// Lower priorities come first.
func (r *Registry[T]) Register(priority int, value T) *Handle[T] {
	h := &Handle[T]{registry: r, value: value, priority: priority}
	h.registered.Store(true)
	r.entries.Add(priority, h)
	return h
}

// Value returns the registered value.
func (h *Handle[T]) Value() T {
	return h.value
}

// Priority returns the priority the value was registered with.
func (h *Handle[T]) Priority() int {
	return h.priority
}

// IsRegistered reports whether Unregister has not been called yet.
func (h *Handle[T]) IsRegistered() bool {
	return h.registered.Load()
}

// Unregister removes this registration. It returns true on the first call
// and false on every later call.
func (h *Handle[T]) Unregister() bool {
	if !h.registered.CompareAndSwap(true, false) {
		return false
	}
	h.registry.entries.Remove(h.priority, h)
	return true
}

// Handles iterates over live registrations in priority order.
func (r *Registry[T]) Handles() iter.Seq[*Handle[T]] {
	return func(yield func(*Handle[T]) bool) {
		for h := range r.entries.Values() {
			if !h.registered.Load() {
				continue
			}
			if !yield(h) {
				return
			}
		}
	}
}

// Values iterates over registered values in priority order.
func (r *Registry[T]) Values() iter.Seq[T] {
	return func(yield func(T) bool) {
		for h := range r.Handles() {
			if !yield(h.value) {
				return
			}
		}
	}
}

// Snapshot returns the registered values in priority order.
func (r *Registry[T]) Snapshot() []T {
	out := make([]T, 0, r.Len())
	for v := range r.Values() {
		out = append(out, v)
	}
	return out
}

// Len returns the number of registrations.
func (r *Registry[T]) Len() int {
	return max(r.entries.Len(), 0)
}

// Clear unregisters everything.
func (r *Registry[T]) Clear() {
	for h := range r.entries.Values() {
		h.Unregister()
	}
}

// Iterator walks live registrations lazily in priority order.
type Iterator[T any] struct {
	it *priority.Iterator[*Handle[T]]
}

// Iter returns an iterator over live registrations. Like Handles, it is
// weakly consistent with concurrent Register and Unregister calls.
func (r *Registry[T]) Iter() *Iterator[T] {
	return &Iterator[T]{it: r.entries.Iter()}
}

// Next returns the next live registration.
func (it *Iterator[T]) Next() (*Handle[T], bool) {
	for {
		_, h, ok := it.it.Next()
		if !ok {
			return nil, false
		}
		if h.registered.Load() {
			return h, true
		}
	}
}
