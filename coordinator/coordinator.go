package coordinator

import (
	"sync/atomic"

	"github.com/joeycumines/go-bwreg/internal/ring"
	"github.com/joeycumines/go-bwreg/predictor"
	"github.com/joeycumines/go-bwreg/units"
	"github.com/joeycumines/go-bwreg/worker"
	"github.com/rs/zerolog"
)

// historySize is H, the fixed predictor window length (spec §3, §6).
const historySize = 5

// counterReader is the subset of *pmu.Counter the coordinator reads from.
type counterReader interface {
	ReadTotal() (uint64, error)
}

// WorkerConfig is the per-worker static configuration the coordinator
// needs: identity, initial setpoint, and an optional clamp.
type WorkerConfig struct {
	ID                int
	InitialSetpointMB int64
	MaxBWMB           int64
}

// Options configures the coordinator pass as a whole.
type Options struct {
	Conv               units.Conv
	BWTotalAvailableMB int64
	SlidingWindowSize  uint32
	EnableMaxBWClamp   bool
	Log                zerolog.Logger
}

// WorkerStats is the observational, non-predictive view of a worker's
// recent bandwidth usage (SPEC_FULL §12 item 1). It never feeds the
// predictor or the budget arithmetic.
type WorkerStats struct {
	WorkerID      int
	AverageUsedMB int64
	LastDeltaMB   int64
}

type workerRuntime struct {
	cfg                   WorkerConfig
	state                 *worker.State
	counter               counterReader
	hist                  *ring.Ring[int64]
	pred                  *predictor.Predictor
	window                *ring.Ring[int64]
	initialSetpointEvents int64
	prevTotal             uint64
	prevEstimate          int64
	lastDeltaMB           atomic.Int64
	avgUsedMB             atomic.Int64
}

// Coordinator runs the steady-state apportionment pass (spec §4.7). Not
// safe for concurrent Tick calls; the lifecycle machine serializes them on
// a single goroutine, per the spec's scheduling model.
type Coordinator struct {
	opts    Options
	workers []*workerRuntime
}

// New builds an empty coordinator; AddWorker registers each worker core
// before the first Tick.
func New(opts Options) *Coordinator {
	return &Coordinator{opts: opts}
}

// AddWorker registers a worker core's runtime state. No counter is attached
// yet; call SetCounter once the lifecycle machine has created one (every
// INITIAL->RUNNING transition recreates it).
func (c *Coordinator) AddWorker(cfg WorkerConfig, state *worker.State) {
	windowSize := int(c.opts.SlidingWindowSize)
	if windowSize <= 0 {
		windowSize = 1
	}
	wr := &workerRuntime{
		cfg:                   cfg,
		state:                 state,
		hist:                  ring.New[int64](historySize),
		pred:                  predictor.New(historySize),
		window:                ring.New[int64](windowSize),
		initialSetpointEvents: c.opts.Conv.Events(cfg.InitialSetpointMB),
		prevEstimate:          cfg.InitialSetpointMB,
	}
	c.workers = append(c.workers, wr)
}

// SetCounter (re)binds the PMU counter reader for the worker identified by
// workerID. Returns false if no such worker was registered.
func (c *Coordinator) SetCounter(workerID int, reader counterReader) bool {
	for _, wr := range c.workers {
		if wr.cfg.ID == workerID {
			wr.counter = reader
			return true
		}
	}
	return false
}

// ForceThrottle publishes throttled=v to every registered worker, used on
// the INITIAL<->RUNNING transitions (spec §4.8).
func (c *Coordinator) ForceThrottle(v bool) {
	for _, wr := range c.workers {
		wr.state.Throttled.Store(v)
	}
}

// Stats returns a snapshot of the observational per-worker averages.
func (c *Coordinator) Stats() []WorkerStats {
	out := make([]WorkerStats, len(c.workers))
	for i, wr := range c.workers {
		out[i] = WorkerStats{
			WorkerID:      wr.cfg.ID,
			AverageUsedMB: wr.avgUsedMB.Load(),
			LastDeltaMB:   wr.lastDeltaMB.Load(),
		}
	}
	return out
}

// pass is the per-worker state carried between the two apportionment
// passes within a single Tick.
type pass struct {
	wr           *workerRuntime
	nextEstimate int64
	deltaMB      int64
	publish      bool
}

// Tick runs one steady-state iteration: for every worker, read the
// counter, update history, predict, then apportion capacity using a
// two-pass sum-then-scale so the result is independent of worker
// iteration order (spec §9 open question 2), publish budget_est, and
// update weights.
func (c *Coordinator) Tick() {
	passes := make([]pass, 0, len(c.workers))
	var totalReq int64

	for _, wr := range c.workers {
		if wr.counter == nil {
			continue
		}
		total, err := wr.counter.ReadTotal()
		if err != nil {
			// Per-worker failures are confined to that worker's iteration
			// (spec §4.7 failure semantics); the loop continues.
			c.opts.Log.Error().Err(err).Int("worker_id", wr.cfg.ID).Msg("tick: read counter failed")
			continue
		}
		delta := total - wr.prevTotal
		wr.prevTotal = total
		deltaMB := c.opts.Conv.MB(int64(delta))
		wr.lastDeltaMB.Store(deltaMB)
		wr.recordWindowSample(deltaMB)

		if delta == 0 {
			// Zero-traffic fast path (SPEC_FULL §12 item 2): keep the
			// history ring consistent but skip prediction/apportionment
			// and reload straight at the initial setpoint.
			wr.hist.Write(0)
			wr.hist.Advance()
			wr.state.BudgetEst.Store(wr.initialSetpointEvents)
			wr.prevEstimate = wr.cfg.InitialSetpointMB
			continue
		}

		wr.hist.Write(deltaMB)
		nextEstimate := wr.pred.Predict(wr.hist) + wr.cfg.InitialSetpointMB

		if nextEstimate < 0 {
			c.opts.Log.Warn().Int("worker_id", wr.cfg.ID).Int64("next_estimate", nextEstimate).Msg("tick: negative estimate, resetting weights")
			wr.pred.ResetWeights()
			wr.pred.DecreaseLearningRate(10)
			wr.prevEstimate = 2 * deltaMB
			wr.hist.Advance()
			continue
		}
		wr.pred.ResetLearningRate()

		if c.opts.EnableMaxBWClamp && nextEstimate > wr.cfg.MaxBWMB {
			nextEstimate = wr.cfg.MaxBWMB
		}

		totalReq += nextEstimate
		passes = append(passes, pass{wr: wr, nextEstimate: nextEstimate, deltaMB: deltaMB, publish: true})
	}

	for _, p := range passes {
		alloc := p.nextEstimate
		if totalReq > c.opts.BWTotalAvailableMB {
			alloc = p.nextEstimate * c.opts.BWTotalAvailableMB / totalReq
		}
		p.wr.state.BudgetEst.Store(c.opts.Conv.Events(alloc))

		errMB := p.deltaMB - p.wr.prevEstimate
		p.wr.pred.Update(p.wr.hist, errMB)

		p.wr.hist.Advance()
		p.wr.prevEstimate = p.nextEstimate
	}
}

func (wr *workerRuntime) recordWindowSample(deltaMB int64) {
	wr.window.Write(deltaMB)
	wr.window.Advance()

	var sum int64
	for i := 0; i < wr.window.Cap(); i++ {
		sum += wr.window.At(i)
	}
	wr.avgUsedMB.Store(sum / int64(wr.window.Cap()))
}
