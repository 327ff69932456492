package capture

// ring keeps the most recent n items. Not safe for concurrent use.
type ring[T any] struct {
	items []T
	next  int
	full  bool
}

func newRing[T any](n int) *ring[T] {
	return &ring[T]{items: make([]T, max(n, 1))}
}

func (r *ring[T]) push(v T) {
	r.items[r.next] = v
	r.next = (r.next + 1) % len(r.items)
	if r.next == 0 {
		r.full = true
	}
}

func (r *ring[T]) len() int {
	if r.full {
		return len(r.items)
	}
	return r.next
}

// snapshot returns items oldest first.
func (r *ring[T]) snapshot() []T {
	out := make([]T, 0, r.len())
	if r.full {
		out = append(out, r.items[r.next:]...)
	}
	return append(out, r.items[:r.next]...)
}
