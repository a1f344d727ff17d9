// Package buffer provides the fixed-capacity, newest-first sequences that
// hold recent traffic, alerts and system log entries.
package buffer

// Bounded is a newest-first sequence holding at most Cap items. A capacity
// of zero or less means the buffer is unbounded.
//
// Bounded is not safe for concurrent use; it is owned by a single writer.
type Bounded[T any] struct {
	items    []T
	capacity int
}

// New creates an empty buffer with the given capacity.
func New[T any](capacity int) *Bounded[T] {
	if capacity < 0 {
		capacity = 0
	}
	return &Bounded[T]{capacity: capacity}
}

// Push prepends item and evicts the oldest entries beyond capacity.
func (b *Bounded[T]) Push(item T) {
	if b.capacity > 0 && len(b.items) >= b.capacity {
		// Drop the tail in place before shifting.
		b.items = b.items[:b.capacity-1]
	}
	var zero T
	b.items = append(b.items, zero)
	copy(b.items[1:], b.items[:len(b.items)-1])
	b.items[0] = item
}

// Replace resets the buffer to items, which must already be newest-first.
// Items beyond capacity are dropped from the tail.
func (b *Bounded[T]) Replace(items []T) {
	if b.capacity > 0 && len(items) > b.capacity {
		items = items[:b.capacity]
	}
	b.items = append(make([]T, 0, len(items)), items...)
}

// Clear empties the buffer.
func (b *Bounded[T]) Clear() {
	b.items = nil
}

// Items returns a copy of the contents, newest first.
func (b *Bounded[T]) Items() []T {
	out := make([]T, len(b.items))
	copy(out, b.items)
	return out
}

func (b *Bounded[T]) Len() int { return len(b.items) }

// Cap returns the configured capacity, 0 when unbounded.
func (b *Bounded[T]) Cap() int { return b.capacity }
