package ring

import "golang.org/x/exp/constraints"

// Ring is a fixed-size window over the last N writes of E. The cursor
// identifies the slot Write stores into; between a Write and the following
// Advance it is the most recently written slot. Get(0) returns the slot at
// the cursor, Get(1) the one before it, and so on, wrapping modulo Cap.
type Ring[E constraints.Ordered] struct {
	s   []E
	cur int
}

// New builds a Ring with the given fixed capacity. size must be > 0.
func New[E constraints.Ordered](size int) *Ring[E] {
	if size <= 0 {
		panic("ring: size must be > 0")
	}
	return &Ring[E]{s: make([]E, size), cur: size - 1}
}

// Cap returns the ring's fixed capacity (H in the predictor's terms).
func (r *Ring[E]) Cap() int {
	return len(r.s)
}

// Cursor returns the index of the slot the next Write stores into.
func (r *Ring[E]) Cursor() int {
	return r.cur
}

// Write stores v at the current cursor position, overwriting whatever was
// there. It does not advance the cursor; call Advance separately, matching
// the coordinator's "write then advance" sequencing.
func (r *Ring[E]) Write(v E) {
	r.s[r.cur] = v
}

// Advance moves the cursor to the next slot, wrapping at Cap.
func (r *Ring[E]) Advance() {
	r.cur = (r.cur + 1) % len(r.s)
}

// Get returns the value offset slots behind the cursor: after a Write and
// before the next Advance, Get(0) is that write and Get(Cap()-1) the oldest
// live sample. offset must be in [0, Cap()).
func (r *Ring[E]) Get(offset int) E {
	n := len(r.s)
	if offset < 0 || offset >= n {
		panic("ring: get: offset out of range")
	}
	i := ((r.cur-offset)%n + n) % n
	return r.s[i]
}

// At returns the raw slot at absolute index i (i.e. history[i] in the
// spec's indexing, not offset-from-cursor). i must be in [0, Cap()).
func (r *Ring[E]) At(i int) E {
	return r.s[i]
}

// Slice returns a snapshot of the underlying storage in raw slot order
// (index 0 first), for diagnostics.
func (r *Ring[E]) Slice() []E {
	b := make([]E, len(r.s))
	copy(b, r.s)
	return b
}
