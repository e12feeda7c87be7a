package pmu

import "unsafe"

// eventAttr mirrors struct perf_event_attr from linux/perf_event.h. We hand
// roll it rather than depend on a wrapper library's struct definition,
// since perf_event_open has no higher-level abstraction in this system's
// dependency set and the layout is part of the stable kernel ABI.
type eventAttr struct {
	Type        uint32
	Size        uint32
	Config      uint64
	SamplePerid uint64 // union with sample_freq; sample_period in counting mode
	SampleType  uint64
	ReadFormat  uint64
	Bits        uint64 // packed: disabled, inherit, pinned, exclusive, exclude_*, ...
	Wakeup      uint32 // union with wakeup_watermark; wakeup_events here
	BPType      uint32
	Config1     uint64 // union with bp_addr
	Config2     uint64 // union with bp_len
	BranchType  uint64
	RegsUser    uint64
	StackUser   uint32
	ClockID     int32
	RegsIntr    uint64
	AuxWatermrk uint32
	MaxStack    uint16
	_           uint16
}

const (
	bitDisabled      = 1 << 0
	bitPinned        = 1 << 2
	bitExcludeUser   = 1 << 4
	bitExcludeKernel = 1 << 5
	bitExcludeHV     = 1 << 6
	bitWatermark     = 1 << 14
)

func sizeofEventAttr() uint32 {
	return uint32(unsafe.Sizeof(eventAttr{}))
}
