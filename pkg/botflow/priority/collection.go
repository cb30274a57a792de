package priority

import (
	"cmp"
	"iter"
	"slices"
	"sync"
	"sync/atomic"
)

type node[T comparable] struct {
	value   T
	removed atomic.Bool
}

type bucket[T comparable] struct {
	priority int
	mu       sync.Mutex
	entries  atomic.Pointer[[]*node[T]]
	// dead is set under mu once the bucket has been emptied. A dead bucket
	// never accepts entries again.
	dead atomic.Bool
}

func newBucket[T comparable](priority int) *bucket[T] {
	b := &bucket[T]{priority: priority}
	b.entries.Store(&[]*node[T]{})
	return b
}

func (b *bucket[T]) load() []*node[T] {
	return *b.entries.Load()
}

// Collection is an ordered, priority-bucketed collection that is safe for
// concurrent use. The zero value is not usable; call New.
type Collection[T comparable] struct {
	index   atomic.Pointer[[]*bucket[T]]
	indexMu sync.Mutex
	size    atomic.Int64
}

// New creates an empty collection.
func New[T comparable]() *Collection[T] {
	c := &Collection[T]{}
	c.index.Store(&[]*bucket[T]{})
	return c
}

func (c *Collection[T]) buckets() []*bucket[T] {
	return *c.index.Load()
}

func search[T comparable](idx []*bucket[T], priority int) (int, bool) {
	return slices.BinarySearchFunc(idx, priority, func(b *bucket[T], p int) int {
		return cmp.Compare(b.priority, p)
	})
}

// find returns the indexed bucket for priority, or nil. The bucket may be dead.
func (c *Collection[T]) find(priority int) *bucket[T] {
	idx := c.buckets()
	if i, ok := search(idx, priority); ok {
		return idx[i]
	}
	return nil
}

// bucketFor returns the bucket for priority, creating it if needed.
func (c *Collection[T]) bucketFor(priority int) *bucket[T] {
	if b := c.find(priority); b != nil && !b.dead.Load() {
		return b
	}

	c.indexMu.Lock()
	defer c.indexMu.Unlock()

	idx := c.buckets()
	i, ok := search(idx, priority)
	if ok && !idx[i].dead.Load() {
		return idx[i]
	}

	b := newBucket[T](priority)
	next := make([]*bucket[T], 0, len(idx)+1)
	next = append(next, idx[:i]...)
	next = append(next, b)
	if ok {
		// Replace the dead bucket still sitting in the index.
		next = append(next, idx[i+1:]...)
	} else {
		next = append(next, idx[i:]...)
	}
	c.index.Store(&next)
	return b
}

// dropBucket removes b from the index if it is still present.
func (c *Collection[T]) dropBucket(b *bucket[T]) {
	c.indexMu.Lock()
	defer c.indexMu.Unlock()

	idx := c.buckets()
	i, ok := search(idx, b.priority)
	if !ok || idx[i] != b {
		return
	}
	next := make([]*bucket[T], 0, len(idx)-1)
	next = append(next, idx[:i]...)
	next = append(next, idx[i+1:]...)
	c.index.Store(&next)
}

// Add inserts value at the end of the bucket for priority.
// Lower priorities are visited first.
func (c *Collection[T]) Add(priority int, value T) {
	for {
		b := c.bucketFor(priority)
		b.mu.Lock()
		if b.dead.Load() {
			b.mu.Unlock()
			c.dropBucket(b)
			continue
		}
		old := b.load()
		next := make([]*node[T], len(old), len(old)+1)
		copy(next, old)
		next = append(next, &node[T]{value: value})
		c.size.Add(1)
		b.entries.Store(&next)
		b.mu.Unlock()
		return
	}
}

// removeFrom removes entries of b selected by match. When first is true,
// at most one entry is removed. Returns the number of entries removed.
func (c *Collection[T]) removeFrom(b *bucket[T], first bool, match func(T) bool) int {
	b.mu.Lock()
	if b.dead.Load() {
		b.mu.Unlock()
		return 0
	}
	old := b.load()
	next := make([]*node[T], 0, len(old))
	removed := 0
	for _, n := range old {
		if (!first || removed == 0) && match(n.value) {
			n.removed.Store(true)
			removed++
			continue
		}
		next = append(next, n)
	}
	if removed == 0 {
		b.mu.Unlock()
		return 0
	}
	empty := len(next) == 0
	if empty {
		b.dead.Store(true)
	}
	b.entries.Store(&next)
	b.mu.Unlock()

	c.size.Add(-int64(removed))
	if empty {
		c.dropBucket(b)
	}
	return removed
}

// Remove removes the first occurrence of value from the bucket for priority.
// Returns true if an entry was removed. Empty buckets are dropped.
func (c *Collection[T]) Remove(priority int, value T) bool {
	b := c.find(priority)
	if b == nil {
		return false
	}
	return c.removeFrom(b, true, func(v T) bool { return v == value }) > 0
}

// RemoveValue removes the first occurrence of value, scanning buckets in
// priority order. Returns true if an entry was removed.
func (c *Collection[T]) RemoveValue(value T) bool {
	for _, b := range c.buckets() {
		if c.removeFrom(b, true, func(v T) bool { return v == value }) > 0 {
			return true
		}
	}
	return false
}

// RemoveIf removes every entry for which pred returns true and reports how
// many were removed.
func (c *Collection[T]) RemoveIf(pred func(T) bool) int {
	total := 0
	for _, b := range c.buckets() {
		total += c.removeFrom(b, false, pred)
	}
	return total
}

// RemoveIfAt is RemoveIf restricted to the bucket for priority.
func (c *Collection[T]) RemoveIfAt(priority int, pred func(T) bool) int {
	b := c.find(priority)
	if b == nil {
		return 0
	}
	return c.removeFrom(b, false, pred)
}

// Len returns the number of entries.
func (c *Collection[T]) Len() int {
	return int(c.size.Load())
}

// IsEmpty reports whether the collection has no entries.
func (c *Collection[T]) IsEmpty() bool {
	return c.Len() == 0
}

// Clear removes every entry. Iterators that are in flight stop yielding
// entries from the buckets they had already snapshotted.
func (c *Collection[T]) Clear() {
	c.indexMu.Lock()
	defer c.indexMu.Unlock()

	removed := 0
	for _, b := range c.buckets() {
		b.mu.Lock()
		for _, n := range b.load() {
			n.removed.Store(true)
			removed++
		}
		b.dead.Store(true)
		b.entries.Store(&[]*node[T]{})
		b.mu.Unlock()
	}
	c.index.Store(&[]*bucket[T]{})
	c.size.Add(-int64(removed))
}

// Priorities returns the priorities that currently hold entries, ascending.
func (c *Collection[T]) Priorities() []int {
	idx := c.buckets()
	out := make([]int, 0, len(idx))
	for _, b := range idx {
		if !b.dead.Load() {
			out = append(out, b.priority)
		}
	}
	return out
}

// after returns the first live bucket whose priority is greater than last,
// or the first live bucket when started is false.
func (c *Collection[T]) after(last int, started bool) *bucket[T] {
	idx := c.buckets()
	i := 0
	if started {
		var found bool
		i, found = search(idx, last)
		if found {
			i++
		}
	}
	for ; i < len(idx); i++ {
		if !idx[i].dead.Load() {
			return idx[i]
		}
	}
	return nil
}

// Iter returns an iterator positioned before the first entry.
func (c *Collection[T]) Iter() *Iterator[T] {
	return &Iterator[T]{c: c}
}

// All returns a range-over-func sequence of (priority, value) pairs.
func (c *Collection[T]) All() iter.Seq2[int, T] {
	return func(yield func(int, T) bool) {
		it := c.Iter()
		for {
			p, v, ok := it.Next()
			if !ok || !yield(p, v) {
				return
			}
		}
	}
}

// Values returns a range-over-func sequence of values in iteration order.
func (c *Collection[T]) Values() iter.Seq[T] {
	return func(yield func(T) bool) {
		for _, v := range c.All() {
			if !yield(v) {
				return
			}
		}
	}
}

// Snapshot copies the current entries in iteration order.
func (c *Collection[T]) Snapshot() []T {
	out := make([]T, 0, max(c.Len(), 0))
	for v := range c.Values() {
		out = append(out, v)
	}
	return out
}

// Iterator walks a Collection lazily. It is not safe for concurrent use by
// multiple goroutines, though the collection it walks may be mutated freely.
type Iterator[T comparable] struct {
	c       *Collection[T]
	started bool
	done    bool
	last    int
	entries []*node[T]
	pos     int
}

// Next returns the next entry and its priority. Once Next returns false it
// keeps returning false.
func (it *Iterator[T]) Next() (int, T, bool) {
	for !it.done {
		for it.pos < len(it.entries) {
			n := it.entries[it.pos]
			it.pos++
			if n.removed.Load() {
				continue
			}
			return it.last, n.value, true
		}

		b := it.c.after(it.last, it.started)
		if b == nil {
			it.done = true
			it.entries = nil
			break
		}
		it.started = true
		it.last = b.priority
		it.entries = b.load()
		it.pos = 0
	}
	var zero T
	return 0, zero, false
}
