package profile

// Ring is a fixed-capacity FIFO buffer. Pushing onto a full ring evicts the
// oldest element.
type Ring[T any] struct {
	buf   []T
	start int
	n     int
}

// NewRing returns an empty ring holding at most capacity elements.
// capacity must be positive.
func NewRing[T any](capacity int) *Ring[T] {
	if capacity <= 0 {
		panic("profile: ring capacity must be positive")
	}
	return &Ring[T]{buf: make([]T, capacity)}
}

// RingFrom builds a ring from items, oldest first, keeping only the newest
// capacity elements.
func RingFrom[T any](capacity int, items []T) *Ring[T] {
	r := NewRing[T](capacity)
	for _, it := range items {
		r.Push(it)
	}
	return r
}

// Push appends v and reports whether an element was evicted to make room.
func (r *Ring[T]) Push(v T) (evicted bool) {
	if r.n < len(r.buf) {
		r.buf[(r.start+r.n)%len(r.buf)] = v
		r.n++
		return false
	}
	r.buf[r.start] = v
	r.start = (r.start + 1) % len(r.buf)
	return true
}

// Len returns the number of stored elements.
func (r *Ring[T]) Len() int { return r.n }

// Cap returns the ring capacity.
func (r *Ring[T]) Cap() int { return len(r.buf) }

// Items returns a copy of the contents, oldest first.
func (r *Ring[T]) Items() []T {
	out := make([]T, r.n)
	for i := range r.n {
		out[i] = r.buf[(r.start+i)%len(r.buf)]
	}
	return out
}
