package config

import (
	"errors"
	"fmt"
	"sync/atomic"
)

// ErrInvalidArgument is wrapped by every setter that rejects its input.
var ErrInvalidArgument = errors.New("config: invalid argument")

// Surface holds the five named configuration entries (spec §6). Every
// field is an independent atomic; there is no cross-field invariant that
// would require a mutex.
type Surface struct {
	regulationIntervalMS  atomic.Uint32
	observationIntervalMS atomic.Uint32
	slidingWindowSize     atomic.Uint32
	llcMissEventID        atomic.Uint32
	enableRegulation      atomic.Bool

	// changes is the wake-queue the lifecycle state machine blocks on for
	// enable_regulation edges; it's a 1-buffered "pending change" flag,
	// not an event log, so bursts of writes collapse to one wakeup.
	changes chan struct{}
}

// Defaults per spec §6.
const (
	DefaultRegulationIntervalMS  = 1
	DefaultObservationIntervalMS = 1000
	DefaultSlidingWindowSize     = 25
)

// New builds a Surface at its documented defaults, with llcMissEventID set
// to the given architecture-specific default.
func New(llcMissEventIDDefault uint32) *Surface {
	s := &Surface{changes: make(chan struct{}, 1)}
	s.regulationIntervalMS.Store(DefaultRegulationIntervalMS)
	s.observationIntervalMS.Store(DefaultObservationIntervalMS)
	s.slidingWindowSize.Store(DefaultSlidingWindowSize)
	s.llcMissEventID.Store(llcMissEventIDDefault)
	return s
}

// Changes returns the channel the lifecycle machine waits on for
// enable_regulation edges.
func (s *Surface) Changes() <-chan struct{} {
	return s.changes
}

func (s *Surface) notify() {
	select {
	case s.changes <- struct{}{}:
	default:
	}
}

// RegulationIntervalMS returns T_ms, used by C1/C5.
func (s *Surface) RegulationIntervalMS() uint32 {
	return s.regulationIntervalMS.Load()
}

// SetRegulationIntervalMS validates and stores T_ms.
func (s *Surface) SetRegulationIntervalMS(v uint32) error {
	if v == 0 {
		return fmt.Errorf("config: regulation_interval_ms must be > 0: %w", ErrInvalidArgument)
	}
	s.regulationIntervalMS.Store(v)
	return nil
}

// ObservationIntervalMS is informational/reserved: no component consumes
// it (spec §9 open question 3), but the surface must keep accepting and
// returning it for compatibility.
func (s *Surface) ObservationIntervalMS() uint32 {
	return s.observationIntervalMS.Load()
}

func (s *Surface) SetObservationIntervalMS(v uint32) error {
	if v == 0 {
		return fmt.Errorf("config: observation_interval_ms must be > 0: %w", ErrInvalidArgument)
	}
	s.observationIntervalMS.Store(v)
	return nil
}

// SlidingWindowSize sizes the coordinator's observational used-bandwidth
// average (SPEC_FULL §12 item 1); it never feeds the predictor.
func (s *Surface) SlidingWindowSize() uint32 {
	return s.slidingWindowSize.Load()
}

func (s *Surface) SetSlidingWindowSize(v uint32) error {
	if v == 0 {
		return fmt.Errorf("config: sliding_window_size must be > 0: %w", ErrInvalidArgument)
	}
	s.slidingWindowSize.Store(v)
	return nil
}

// LLCMissEventID is the architecture-specific raw PMU event code (C2).
func (s *Surface) LLCMissEventID() uint32 {
	return s.llcMissEventID.Load()
}

func (s *Surface) SetLLCMissEventID(v uint32) {
	s.llcMissEventID.Store(v)
}

// EnableRegulation reports the current enable_regulation value.
func (s *Surface) EnableRegulation() bool {
	return s.enableRegulation.Load()
}

// SetEnableRegulation stores the new value and wakes anyone blocked on
// Changes(), regardless of whether the value actually changed (matching
// the debugfs write handler's behavior of always re-asserting a
// transition attempt rather than deduplicating no-op writes).
func (s *Surface) SetEnableRegulation(v bool) {
	s.enableRegulation.Store(v)
	s.notify()
}
