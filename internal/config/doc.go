// Package config implements the external configuration surface: a small
// set of read-mostly, atomically-published name/value entries, plus the
// enable_regulation toggle that drives the lifecycle state machine. All
// reads are lock-free; all writes go through a typed, validating setter, in
// the same spirit as catrate.Limiter's atomic fields guarded by narrow
// mutexes only where structural state (not a single value) changes.
package config
