// Package pmu wraps a single raw, pinned hardware performance counter via
// the Linux perf_event_open(2) syscall: creation, enable/disable, stop/start
// with remaining-period reload, cumulative read, and overflow notification.
// It is the userspace analog of the original kernel module's
// perf_event_create_kernel_counter-based counter handle.
package pmu
