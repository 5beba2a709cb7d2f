package registry

// Ring is a fixed-capacity FIFO that overwrites its oldest element once
// full. It is not safe for concurrent use.
type Ring[T any] struct {
	items []T
	head  int // next write position
	size  int
}

// NewRing creates a ring holding at most capacity elements (minimum 1).
func NewRing[T any](capacity int) *Ring[T] {
	if capacity <= 0 {
		capacity = 1
	}
	return &Ring[T]{items: make([]T, capacity)}
}

// Push appends v, evicting the oldest element when the ring is full.
func (r *Ring[T]) Push(v T) {
	r.items[r.head] = v
	r.head = (r.head + 1) % len(r.items)
	if r.size < len(r.items) {
		r.size++
	}
}

// Items returns a copy of the contents, oldest first.
func (r *Ring[T]) Items() []T {
	out := make([]T, r.size)
	start := (r.head - r.size + len(r.items)) % len(r.items)
	for i := 0; i < r.size; i++ {
		out[i] = r.items[(start+i)%len(r.items)]
	}
	return out
}

func (r *Ring[T]) Len() int { return r.size }
