package ringbuf

// Ring is a fixed-capacity FIFO buffer. When full, appending evicts the
// oldest element. The zero value is not usable; construct with New.
type Ring[T any] struct {
	items []T
	head  int
	size  int
}

// New creates a ring buffer with the given capacity. Capacity must be
// positive.
func New[T any](capacity int) *Ring[T] {
	if capacity <= 0 {
		capacity = 1
	}
	return &Ring[T]{items: make([]T, capacity)}
}

// Append adds an element, evicting the oldest if the buffer is full.
func (r *Ring[T]) Append(v T) {
	idx := (r.head + r.size) % len(r.items)
	r.items[idx] = v
	if r.size < len(r.items) {
		r.size++
		return
	}
	r.head = (r.head + 1) % len(r.items)
}

// Len returns the number of stored elements.
func (r *Ring[T]) Len() int {
	return r.size
}

// Cap returns the fixed capacity.
func (r *Ring[T]) Cap() int {
	return len(r.items)
}

// At returns the i-th element in insertion order (0 is oldest).
func (r *Ring[T]) At(i int) T {
	return r.items[(r.head+i)%len(r.items)]
}

// Last returns the most recently appended element and true, or the zero
// value and false when empty.
func (r *Ring[T]) Last() (T, bool) {
	if r.size == 0 {
		var zero T
		return zero, false
	}
	return r.At(r.size - 1), true
}

// Items returns the elements oldest-first as a fresh slice.
func (r *Ring[T]) Items() []T {
	out := make([]T, r.size)
	for i := 0; i < r.size; i++ {
		out[i] = r.At(i)
	}
	return out
}

// Tail returns up to n of the most recent elements, oldest-first.
func (r *Ring[T]) Tail(n int) []T {
	if n > r.size {
		n = r.size
	}
	out := make([]T, n)
	for i := 0; i < n; i++ {
		out[i] = r.At(r.size - n + i)
	}
	return out
}

// PopLast removes and returns the most recently appended element.
func (r *Ring[T]) PopLast() (T, bool) {
	if r.size == 0 {
		var zero T
		return zero, false
	}
	idx := (r.head + r.size - 1) % len(r.items)
	v := r.items[idx]
	var zero T
	r.items[idx] = zero
	r.size--
	return v, true
}

// Reset drops all elements, keeping the capacity.
func (r *Ring[T]) Reset() {
	r.head = 0
	r.size = 0
	var zero T
	for i := range r.items {
		r.items[i] = zero
	}
}

// FromItems replaces the contents with the given elements, keeping only the
// newest when more than capacity are supplied.
func (r *Ring[T]) FromItems(items []T) {
	r.Reset()
	for _, v := range items {
		r.Append(v)
	}
}
