package lifecycle

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/joeycumines/go-bwreg/coordinator"
	"github.com/joeycumines/go-bwreg/internal/config"
	"github.com/joeycumines/go-bwreg/pmu"
	"github.com/joeycumines/go-bwreg/units"
	"github.com/joeycumines/go-bwreg/worker"
	"github.com/rs/zerolog"
)

// State is a lifecycle_state value (spec §3, §4.8).
type State int32

const (
	Initial State = iota
	Running
	Stopped
)

func (s State) String() string {
	switch s {
	case Initial:
		return "INITIAL"
	case Running:
		return "RUNNING"
	case Stopped:
		return "STOPPED"
	default:
		return "UNKNOWN"
	}
}

// Counter is the subset of *pmu.Counter the lifecycle machine drives.
type Counter interface {
	Enable() error
	Disable() error
	Release() error
	ReadTotal() (uint64, error)
	Stop(commit bool) error
	Start(reload bool) error
	SetPeriodLeft(events uint64) error
}

// CounterFactory creates a PMU counter for a worker. Injected so tests can
// substitute a fake rather than touching real hardware. A thin adapter
// around pmu.Create satisfies this in production, since *pmu.Counter
// implements Counter.
type CounterFactory func(cfg pmu.Config, cb pmu.OverflowFunc) (Counter, error)

// NewPMUFactory adapts pmu.Create to a CounterFactory.
func NewPMUFactory() CounterFactory {
	return func(cfg pmu.Config, cb pmu.OverflowFunc) (Counter, error) {
		return pmu.Create(cfg, cb)
	}
}

// WorkerSpec is one worker core's static identity and constants (spec §6).
type WorkerSpec struct {
	ID                int
	CPU               int
	InitialSetpointMB int64
	MaxBWMB           int64
}

// Options configures a Machine at construction.
type Options struct {
	Workers            []WorkerSpec
	BWTotalAvailableMB int64
	EnableMaxBWClamp   bool
	Factory            CounterFactory
	Log                zerolog.Logger
}

// Machine is the global lifecycle state machine (C9): INITIAL -> RUNNING ->
// STOPPED, driven by cfg's enable_regulation edges, tying together the
// per-worker state (worker), the apportionment loop (coordinator), and the
// PMU counters (pmu) it creates and destroys across transitions.
type Machine struct {
	cfg     *config.Surface
	coord   *coordinator.Coordinator
	specs   []WorkerSpec
	workers []*worker.State
	factory CounterFactory
	log     zerolog.Logger

	state atomic.Int32

	mu         sync.Mutex // serializes transitions; held only around start/stop, never during a tick
	timerStops []chan struct{}
	timerDone  []chan struct{}
	counters   []Counter
}

// New builds a lifecycle machine in the INITIAL state: workers are created,
// but counters are not, and every worker is forced-throttled.
func New(cfg *config.Surface, opts Options) *Machine {
	conv := units.NewConv(cfg.RegulationIntervalMS(), units.CacheLineBytes)
	coord := coordinator.New(coordinator.Options{
		Conv:               conv,
		BWTotalAvailableMB: opts.BWTotalAvailableMB,
		SlidingWindowSize:  cfg.SlidingWindowSize(),
		EnableMaxBWClamp:   opts.EnableMaxBWClamp,
		Log:                opts.Log,
	})

	m := &Machine{
		cfg:     cfg,
		coord:   coord,
		specs:   opts.Workers,
		factory: opts.Factory,
		log:     opts.Log,
	}

	for _, spec := range opts.Workers {
		w := worker.New(spec.ID, spec.CPU, conv.Events(spec.InitialSetpointMB), opts.Log)
		m.workers = append(m.workers, w)
		coord.AddWorker(coordinator.WorkerConfig{
			ID:                spec.ID,
			InitialSetpointMB: spec.InitialSetpointMB,
			MaxBWMB:           spec.MaxBWMB,
		}, w)
		// The throttler is created once, here, at INITIAL entry, and parked
		// for the worker's whole lifetime (spec §4.8; original_source/ar.c's
		// thread_kt1 is likewise created once at module init, not per
		// enable/disable). startRegulation/stopRegulation only ever swap the
		// PMU counter underneath it.
		w.StartThrottler()
	}

	return m
}

// Stats exposes the coordinator's observational per-worker averages.
func (m *Machine) Stats() []coordinator.WorkerStats {
	return m.coord.Stats()
}

// State returns the current lifecycle state.
func (m *Machine) State() State {
	return State(m.state.Load())
}

// Run drives the coordinator's pacing loop and blocks until stop is
// closed. It must be called exactly once. Configuration changes
// (enable_regulation edges) are observed via cfg.Changes() and trigger
// start/stop regulation transitions.
func (m *Machine) Run(stop <-chan struct{}) {
	tick := time.NewTicker(time.Duration(m.cfg.RegulationIntervalMS()) * time.Millisecond)
	defer tick.Stop()

	for {
		select {
		case <-stop:
			m.teardown()
			return
		case <-m.cfg.Changes():
			m.handleEnableChange()
		case <-tick.C:
			if m.State() == Running {
				m.coord.Tick()
			}
		}
	}
}

func (m *Machine) handleEnableChange() {
	want := m.cfg.EnableRegulation()
	switch {
	case want && m.State() == Initial:
		if err := m.startRegulation(); err != nil {
			m.log.Error().Err(err).Msg("lifecycle: start_regulation failed")
			return
		}
		m.state.Store(int32(Running))
		m.coord.ForceThrottle(false)
		m.log.Info().Msg("lifecycle: INITIAL -> RUNNING")
	case !want && m.State() == Running:
		m.stopRegulation()
		m.state.Store(int32(Initial))
		m.coord.ForceThrottle(true)
		m.log.Info().Msg("lifecycle: RUNNING -> INITIAL")
	}
}

// startRegulation recreates every worker's counter with an overflow
// callback installed, enables it, and starts that worker's pinned timer
// (spec §4.8).
func (m *Machine) startRegulation() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	intervalMS := m.cfg.RegulationIntervalMS()
	eventID := m.cfg.LLCMissEventID()
	conv := units.NewConv(intervalMS, units.CacheLineBytes)

	// created[i] belongs to worker i; rollback undoes, in reverse order,
	// every timer and counter this call has set up so far.
	var created []Counter
	rollback := func() {
		for i := len(created) - 1; i >= 0; i-- {
			if m.timerStops[i] != nil {
				close(m.timerStops[i])
				<-m.timerDone[i]
				m.timerStops[i] = nil
			}
			_ = created[i].Release()
			m.counters[i] = nil
		}
	}

	m.timerStops = make([]chan struct{}, len(m.workers))
	m.timerDone = make([]chan struct{}, len(m.workers))
	m.counters = make([]Counter, len(m.workers))

	for i, spec := range m.specs {
		w := m.workers[i]
		samplePeriod := uint64(conv.Events(spec.InitialSetpointMB))
		if samplePeriod == 0 {
			samplePeriod = 1
		}
		c, err := m.factory(pmu.Config{
			WorkerID:     spec.ID,
			CPU:          spec.CPU,
			EventID:      eventID,
			SamplePeriod: samplePeriod,
		}, w.Overflow)
		if err != nil {
			rollback()
			return fmt.Errorf("lifecycle: start_regulation worker %d: %w", spec.ID, err)
		}
		created = append(created, c)

		if err := c.Enable(); err != nil {
			rollback()
			return fmt.Errorf("lifecycle: enable counter worker %d: %w", spec.ID, err)
		}

		w.SetCounter(c)
		m.coord.SetCounter(spec.ID, c)
		m.counters[i] = c

		stopCh := make(chan struct{})
		doneCh := make(chan struct{})
		m.timerStops[i] = stopCh
		m.timerDone[i] = doneCh
		go func(w *worker.State, stopCh, doneCh chan struct{}) {
			defer close(doneCh)
			w.RunTimer(time.Duration(intervalMS)*time.Millisecond, stopCh)
		}(w, stopCh, doneCh)
	}

	return nil
}

// stopRegulation cancels every worker's timer goroutine and releases its
// PMU counter, so the next startRegulation recreates it from scratch (spec
// §4.8: "recreate the counter with an overflow callback installed").
func (m *Machine) stopRegulation() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.workers {
		if m.timerStops[i] != nil {
			close(m.timerStops[i])
			<-m.timerDone[i]
			m.timerStops[i] = nil
		}
		if i < len(m.counters) && m.counters[i] != nil {
			_ = m.counters[i].Release()
			m.counters[i] = nil
		}
	}
}

// teardown cancels timers, joins throttlers, releases counters, in strict
// reverse order of creation (P4), then marks STOPPED.
func (m *Machine) teardown() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := len(m.workers) - 1; i >= 0; i-- {
		w := m.workers[i]
		if i < len(m.timerStops) && m.timerStops[i] != nil {
			close(m.timerStops[i])
			<-m.timerDone[i]
			m.timerStops[i] = nil
		}
		if i < len(m.counters) && m.counters[i] != nil {
			_ = m.counters[i].Release()
			m.counters[i] = nil
		}
		w.Stop() // joins the throttler
	}
	m.state.Store(int32(Stopped))
}
