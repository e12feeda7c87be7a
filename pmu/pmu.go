package pmu

import (
	"encoding/binary"
	"fmt"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"
)

// perfTypeRaw selects PERF_TYPE_RAW: a vendor-specific raw event code,
// since every counter this system programs is identified by an
// architecture-specific hex code (llc_miss_event_id).
const perfTypeRaw = 4

// Errors returned by Create, mirroring the three kinds the spec calls out
// for counter setup failure.
var (
	ErrUnsupported = fmt.Errorf("pmu: unsupported")
	ErrNoSuchEvent = fmt.Errorf("pmu: no such event")
)

// OverflowFunc is invoked, from a dedicated goroutine, whenever the counter
// overflows (its remaining period reaches zero). It is the userspace
// analog of the original overflow interrupt callback.
type OverflowFunc func(workerID int)

// Config describes the counter to create.
type Config struct {
	WorkerID     int
	CPU          int
	EventID      uint32 // architecture-specific raw event code
	SamplePeriod uint64 // initial remaining-period in events, must be > 0
}

// Counter is a single pinned, disabled-by-default hardware counter. It is
// not safe for concurrent use from multiple goroutines beyond the
// overflow-delivery goroutine it owns internally; the spec's concurrency
// model has exactly one owner (that worker's timer callback) driving it.
type Counter struct {
	fd          int
	workerID    int
	cpu         int
	periodLeft  uint64
	overflowCB  OverflowFunc
	stopEventFD int
	watchDone   chan struct{}
	mu          sync.Mutex
}

// Create configures a raw hardware counter pinned to cfg.CPU, excluding
// kernel-mode counting, initially disabled. On overflow, cb is invoked with
// cfg.WorkerID from a dedicated goroutine.
func Create(cfg Config, cb OverflowFunc) (*Counter, error) {
	if cfg.SamplePeriod == 0 {
		return nil, fmt.Errorf("pmu: sample period must be > 0")
	}

	var attr eventAttr
	attr.Type = perfTypeRaw
	attr.Size = sizeofEventAttr()
	attr.Config = uint64(cfg.EventID)
	attr.SamplePerid = cfg.SamplePeriod
	attr.Bits = bitDisabled | bitExcludeKernel | bitExcludeHV | bitPinned | bitWatermark
	attr.Wakeup = 1 // one overflow makes the fd poll-readable

	const pid = -1 // monitor all processes on the pinned CPU, not one pid
	const groupFD = -1
	const flags = 0

	fd, _, errno := unix.Syscall6(
		unix.SYS_PERF_EVENT_OPEN,
		uintptr(unsafe.Pointer(&attr)),
		uintptr(pid),
		uintptr(cfg.CPU),
		uintptr(groupFD),
		uintptr(flags),
		0,
	)
	if errno != 0 {
		switch errno {
		case unix.ENOENT:
			return nil, fmt.Errorf("pmu: create worker %d: %w", cfg.WorkerID, ErrNoSuchEvent)
		case unix.ENOSYS, unix.EOPNOTSUPP:
			return nil, fmt.Errorf("pmu: create worker %d: %w", cfg.WorkerID, ErrUnsupported)
		default:
			return nil, fmt.Errorf("pmu: create worker %d: %w", cfg.WorkerID, errno)
		}
	}
	unix.CloseOnExec(int(fd))

	stopFD, err := unix.Eventfd(0, unix.EFD_CLOEXEC)
	if err != nil {
		_ = unix.Close(int(fd))
		return nil, fmt.Errorf("pmu: create worker %d stop eventfd: %w", cfg.WorkerID, err)
	}

	c := &Counter{
		fd:          int(fd),
		workerID:    cfg.WorkerID,
		cpu:         cfg.CPU,
		periodLeft:  cfg.SamplePeriod,
		overflowCB:  cb,
		stopEventFD: stopFD,
		watchDone:   make(chan struct{}),
	}
	go c.watch()
	return c, nil
}

// Enable starts the counter counting (it still waits for Start/SetPeriodLeft
// bookkeeping per the documented lifecycle, but this is the raw ioctl).
func (c *Counter) Enable() error {
	return unix.IoctlSetInt(c.fd, unix.PERF_EVENT_IOC_ENABLE, 0)
}

// Disable stops the counter from counting without releasing its resources.
func (c *Counter) Disable() error {
	return unix.IoctlSetInt(c.fd, unix.PERF_EVENT_IOC_DISABLE, 0)
}

// Stop disables the counter. commit is accepted for symmetry with the
// spec's stop/start pairing; the hardware count is latched as soon as the
// counter is disabled, so there is nothing further to commit.
func (c *Counter) Stop(commit bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Disable()
}

// Start re-enables the counter. If reload is true the caller is expected to
// have already called SetPeriodLeft while stopped; reload exists to mirror
// the spec's stop/start(reload) pairing even though this implementation
// applies the period immediately in SetPeriodLeft.
func (c *Counter) Start(reload bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Enable()
}

// SetPeriodLeft installs the remaining events before the next overflow.
// Only legal while the counter is stopped.
func (c *Counter) SetPeriodLeft(events uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if events == 0 {
		events = 1
	}
	period := events
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(c.fd), uintptr(unix.PERF_EVENT_IOC_PERIOD), uintptr(unsafe.Pointer(&period)))
	if errno != 0 {
		return fmt.Errorf("pmu: set period left: %w", errno)
	}
	c.periodLeft = events
	return nil
}

// ReadTotal returns the cumulative count since creation.
func (c *Counter) ReadTotal() (uint64, error) {
	var buf [8]byte
	n, err := unix.Read(c.fd, buf[:])
	if err != nil {
		return 0, fmt.Errorf("pmu: read total: %w", err)
	}
	if n != 8 {
		return 0, fmt.Errorf("pmu: read total: short read of %d bytes", n)
	}
	return binary.LittleEndian.Uint64(buf[:]), nil
}

// Release disables and closes the counter, stopping the overflow-watcher
// goroutine. It blocks until that goroutine has exited.
func (c *Counter) Release() error {
	_ = c.Disable()

	one := uint64(1)
	buf := (*[8]byte)(unsafe.Pointer(&one))[:]
	_, _ = unix.Write(c.stopEventFD, buf)
	<-c.watchDone
	_ = unix.Close(c.stopEventFD)

	return unix.Close(c.fd)
}

// watch polls the counter fd for overflow readability, delivering each
// overflow to overflowCB until Release signals shutdown via stopEventFD.
func (c *Counter) watch() {
	defer close(c.watchDone)

	pfds := []unix.PollFd{
		{Fd: int32(c.fd), Events: unix.POLLIN},
		{Fd: int32(c.stopEventFD), Events: unix.POLLIN},
	}
	for {
		_, err := unix.Poll(pfds, -1)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return
		}
		if pfds[1].Revents&unix.POLLIN != 0 {
			return
		}
		if pfds[0].Revents&unix.POLLIN != 0 {
			pfds[0].Revents = 0
			c.overflowCB(c.workerID)
		}
	}
}
