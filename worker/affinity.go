package worker

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// pinCurrentThread restricts the calling OS thread to cpu. Callers must
// have already called runtime.LockOSThread(), since CPU affinity in Linux
// is a per-thread, not per-process, property.
func pinCurrentThread(cpu int) error {
	var set unix.CPUSet
	set.Zero()
	set.Set(cpu)
	// pid 0 means "the calling thread" for sched_setaffinity specifically,
	// unlike most other pid-taking syscalls.
	if err := unix.SchedSetaffinity(0, &set); err != nil {
		return fmt.Errorf("worker: pin cpu %d: %w", cpu, err)
	}
	return nil
}

const schedFIFO = 1 // SCHED_FIFO, per sched.h

type schedParam struct {
	Priority int32
}

// setFIFOPriority raises the calling thread to SCHED_FIFO at the given
// priority, the userspace analog of the original kthread's real-time
// scheduling class. Requires CAP_SYS_NICE; failure is non-fatal; the
// busy-spin throttle mechanism still functions, just without the
// starvation guarantee a real-time priority provides.
func setFIFOPriority(priority int) error {
	param := schedParam{Priority: int32(priority)}
	_, _, errno := unix.Syscall(unix.SYS_SCHED_SETSCHEDULER, 0, uintptr(schedFIFO), uintptr(unsafe.Pointer(&param)))
	if errno != 0 {
		return fmt.Errorf("worker: set SCHED_FIFO: %w", errno)
	}
	return nil
}
