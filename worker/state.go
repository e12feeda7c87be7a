package worker

import (
	"runtime"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// for testing purposes, mirroring catrate's swappable-var pattern
var timeNewTicker = time.NewTicker

// counter is the subset of *pmu.Counter the regulation timer drives.
// Declared locally (rather than depending on the concrete pmu type)
// so tests can substitute a fake without touching real hardware.
type counter interface {
	Stop(commit bool) error
	Start(reload bool) error
	SetPeriodLeft(events uint64) error
}

// State is one worker core's record (spec §3). BudgetEst and Throttled are
// the only fields mutated across goroutines; everything else is owned
// exclusively by the goroutine that constructed it.
type State struct {
	ID  int
	CPU int

	BudgetEst atomic.Int64 // events; written by coordinator (release), read by timer (acquire)
	Throttled atomic.Bool  // written by overflow path/timer (release), read by throttler (acquire)

	initialSetpointEvents int64
	counter               counter
	log                   zerolog.Logger

	wake     chan struct{} // 1-buffered: overflow path wakes the throttler
	stopWake chan struct{} // closed by Stop to unblock a parked throttler
	done     chan struct{} // closed when the throttler goroutine exits
}

// New builds a worker record in its INITIAL state: forced-throttled, with
// budget_est floored at the initial setpoint. No counter is attached yet;
// call SetCounter before the first Tick (the lifecycle machine attaches a
// freshly created counter on every INITIAL->RUNNING transition).
func New(id, cpu int, initialSetpointEvents int64, log zerolog.Logger) *State {
	s := &State{
		ID:                    id,
		CPU:                   cpu,
		initialSetpointEvents: initialSetpointEvents,
		log:                   log.With().Int("worker_id", id).Logger(),
		wake:                  make(chan struct{}, 1),
		stopWake:              make(chan struct{}),
		done:                  make(chan struct{}),
	}
	s.Throttled.Store(true)
	s.BudgetEst.Store(initialSetpointEvents)
	return s
}

// SetCounter attaches the PMU counter this worker's timer drives. Must only
// be called while no timer goroutine is running against this worker (the
// lifecycle machine enforces this by recreating the counter strictly
// before starting the timer on each INITIAL->RUNNING transition).
func (s *State) SetCounter(c counter) {
	s.counter = c
}

// StartThrottler launches the per-worker busy-spin throttler task (C4),
// pinned to this worker's CPU at (best-effort) SCHED_FIFO priority.
func (s *State) StartThrottler() {
	go s.throttlerLoop()
}

func (s *State) throttlerLoop() {
	defer close(s.done)

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	if err := pinCurrentThread(s.CPU); err != nil {
		s.log.Error().Err(err).Msg("throttler: pin failed")
	}
	if err := setFIFOPriority(1); err != nil {
		s.log.Warn().Err(err).Msg("throttler: SCHED_FIFO unavailable, falling back to default scheduling")
	}

	for {
		select {
		case <-s.stopWake:
			return
		case <-s.wake:
		}
		for s.Throttled.Load() {
			select {
			case <-s.stopWake:
				return
			default:
			}
		}
	}
}

// Stop parks the throttler task and waits for it to exit.
func (s *State) Stop() {
	close(s.stopWake)
	<-s.done
}

// Overflow is the deferred-work half of the overflow path (C6): it sets
// throttled and wakes the throttler. workerID identifies which worker's
// counter overflowed; a mismatch is an invariant violation (spec §7) and
// is logged rather than acted on.
func (s *State) Overflow(workerID int) {
	if workerID != s.ID {
		s.log.Error().Int("got_worker_id", workerID).Msg("overflow: worker id mismatch, ignoring")
		return
	}
	s.Throttled.Store(true)
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Tick is the regulation-interval timer callback (C5): stop the counter,
// install the next budget (flooring at the initial setpoint if the
// coordinator ever publishes zero), clear throttled, restart the counter.
func (s *State) Tick() {
	if err := s.counter.Stop(true); err != nil {
		s.log.Error().Err(err).Msg("tick: stop counter failed")
		return
	}

	budget := s.BudgetEst.Load()
	if budget <= 0 {
		budget = s.initialSetpointEvents
	}

	if err := s.counter.SetPeriodLeft(uint64(budget)); err != nil {
		s.log.Error().Err(err).Msg("tick: set period left failed")
	}

	// Unconditionally clear throttled: a pending overflow set just before
	// this callback ran is harmless, since the timer always wins the race
	// at tick boundaries.
	s.Throttled.Store(false)

	if err := s.counter.Start(true); err != nil {
		s.log.Error().Err(err).Msg("tick: start counter failed")
	}
}

// RunTimer pins the calling goroutine's OS thread to this worker's CPU and
// drives Tick at the given interval until stop is closed. Forwarding is
// always computed from "now" (time.Ticker's own semantics), so missed
// ticks are dropped rather than replayed.
func (s *State) RunTimer(interval time.Duration, stop <-chan struct{}) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	if err := pinCurrentThread(s.CPU); err != nil {
		s.log.Error().Err(err).Msg("timer: pin failed")
	}

	t := timeNewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-stop:
			return
		case <-t.C:
			s.Tick()
		}
	}
}
