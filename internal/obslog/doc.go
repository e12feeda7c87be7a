// Package obslog constructs the zerolog.Logger every other package is
// handed explicitly at construction time. There is no package-level
// global logger here; the only global mutable state this system carries
// is the lifecycle state machine, which the spec itself designates as
// such.
package obslog
