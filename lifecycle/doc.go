// Package lifecycle implements the global state machine (C9): INITIAL (all
// workers forced-throttled) -> RUNNING (regulation active) -> STOPPED,
// driven by the configuration surface's enable_regulation toggle. It owns
// the coordinator's pacing loop and each worker's timer goroutine, and
// tears everything down in strict reverse order of creation.
package lifecycle
