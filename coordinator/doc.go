// Package coordinator implements the single per-tick loop (C8) that reads
// each worker's counter, runs the predictor, apportions the shared
// bandwidth pool, and publishes the next budget. It owns no goroutine of
// its own; the lifecycle package drives Tick at the regulation cadence and
// owns the RUNNING/INITIAL/STOPPED pacing.
package coordinator
