package mqtt

// pending is a message held back while the broker is unreachable.
type pending struct {
	topic   string
	payload []byte
}

// ring is a bounded FIFO. When full, push overwrites the oldest entry.
// Callers synchronize.
type ring[T any] struct {
	items   []T
	first   int // index of the oldest entry
	n       int
	dropped int // overwritten since the last drain
}

func newRing[T any](size int) *ring[T] {
	return &ring[T]{items: make([]T, size)}
}

// push appends v and reports whether an older entry was lost to make room.
func (r *ring[T]) push(v T) (dropped bool) {
	size := len(r.items)
	if size == 0 {
		r.dropped++
		return true
	}
	if r.n < size {
		r.items[(r.first+r.n)%size] = v
		r.n++
		return false
	}
	r.items[r.first] = v
	r.first = (r.first + 1) % size
	r.dropped++
	return true
}

// drain returns the entries oldest first and empties the ring.
func (r *ring[T]) drain() []T {
	if r.n == 0 {
		return nil
	}
	out := make([]T, 0, r.n)
	for i := 0; i < r.n; i++ {
		out = append(out, r.items[(r.first+i)%len(r.items)])
	}
	var zero T
	for i := range r.items {
		r.items[i] = zero
	}
	r.first, r.n, r.dropped = 0, 0, 0
	return out
}

func (r *ring[T]) len() int { return r.n }

func (r *ring[T]) cap() int { return len(r.items) }
