// Package ringbuf provides a fixed-capacity sliding window with O(1) push.
//
// Index 0 is always the most recently pushed value; pushing into a full
// window evicts the oldest value. The window is always full: it starts
// pre-filled with a caller-supplied value.
package ringbuf

// Ring is a fixed-size most-recent-first window.
type Ring[T comparable] struct {
	buf  []T
	head int // index of the most recent value
}

// New returns a ring of the given size filled with fill. Size must be > 0.
func New[T comparable](size int, fill T) *Ring[T] {
	if size < 1 {
		panic("ringbuf: size must be positive")
	}
	r := &Ring[T]{buf: make([]T, size)}
	r.Fill(fill)
	return r
}

// Len returns the (constant) window length.
func (r *Ring[T]) Len() int {
	return len(r.buf)
}

// Push inserts v at the front and returns the evicted oldest value.
func (r *Ring[T]) Push(v T) T {
	// The oldest value sits just "before" head going backwards, i.e. at head-1.
	r.head--
	if r.head < 0 {
		r.head = len(r.buf) - 1
	}
	old := r.buf[r.head]
	r.buf[r.head] = v
	return old
}

// At returns the i'th most recent value; At(0) is the newest.
func (r *Ring[T]) At(i int) T {
	return r.buf[(r.head+i)%len(r.buf)]
}

// Fill overwrites every slot with v.
func (r *Ring[T]) Fill(v T) {
	for i := range r.buf {
		r.buf[i] = v
	}
	r.head = 0
}

// Equal reports whether the window, read most-recent-first, equals pattern.
func (r *Ring[T]) Equal(pattern []T) bool {
	if len(pattern) != len(r.buf) {
		return false
	}
	for i, v := range pattern {
		if r.At(i) != v {
			return false
		}
	}
	return true
}

// Values returns a most-recent-first copy of the window.
func (r *Ring[T]) Values() []T {
	out := make([]T, len(r.buf))
	for i := range out {
		out[i] = r.At(i)
	}
	return out
}
