// Package worker implements the per-core regulation-interval state
// machine: the worker record (C3), the throttler task (C4), the periodic
// regulation timer (C5), and the overflow-to-throttle path (C6). Every
// cross-goroutine field is an independent atomic; the spec's concurrency
// model requires no locks here, only explicit acquire/release ordering on
// budget_est and throttled.
package worker
