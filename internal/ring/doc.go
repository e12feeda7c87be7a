// Package ring implements a fixed-capacity overwrite ring buffer, used as
// the per-worker history window the predictor reads from. Unlike a growable
// queue, capacity never changes after construction: each Write overwrites
// the slot at the cursor, and a separate Advance moves the cursor on to the
// oldest slot, the next one to be overwritten.
package ring
