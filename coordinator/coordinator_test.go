package coordinator

import (
	"testing"

	"github.com/joeycumines/go-bwreg/units"
	"github.com/joeycumines/go-bwreg/worker"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type fakeReader struct {
	total uint64
	err   error
}

func (f *fakeReader) ReadTotal() (uint64, error) { return f.total, f.err }

func newTestCoordinator(t *testing.T, bwTotal int64, clamp bool) (*Coordinator, *workerRuntime, *fakeReader) {
	t.Helper()
	conv := units.NewConv(1, units.CacheLineBytes)
	c := New(Options{
		Conv:               conv,
		BWTotalAvailableMB: bwTotal,
		SlidingWindowSize:  4,
		EnableMaxBWClamp:   clamp,
		Log:                zerolog.Nop(),
	})
	reader := &fakeReader{}
	state := worker.New(1, 0, conv.Events(1000), zerolog.Nop())
	state.SetCounter(nopCounter{})
	c.AddWorker(WorkerConfig{ID: 1, InitialSetpointMB: 1000, MaxBWMB: 30000}, state)
	c.SetCounter(1, reader)
	return c, c.workers[0], reader
}

type nopCounter struct{}

func (nopCounter) Stop(bool) error          { return nil }
func (nopCounter) Start(bool) error         { return nil }
func (nopCounter) SetPeriodLeft(uint64) error { return nil }

// Scenario 1: cold start, zero demand.
func TestTickColdStartZeroDemand(t *testing.T) {
	c, wr, reader := newTestCoordinator(t, 30000, false)
	reader.total = 0
	// enabling regulation (INITIAL -> RUNNING) unthrottles every worker
	c.ForceThrottle(false)

	for i := 0; i < 10; i++ {
		c.Tick()
	}

	require.Equal(t, wr.initialSetpointEvents, wr.state.BudgetEst.Load())
	require.False(t, wr.state.Throttled.Load())
	for _, w := range wr.pred.Weights() {
		require.InDelta(t, 0.2, w, 1e-9)
	}
}

// Scenario 4: oversubscription caps total allocation (P7).
func TestTickOversubscriptionCapsTotal(t *testing.T) {
	conv := units.NewConv(1, units.CacheLineBytes)
	c := New(Options{Conv: conv, BWTotalAvailableMB: 1000, SlidingWindowSize: 4, Log: zerolog.Nop()})

	var readers []*fakeReader
	for i := 1; i <= 2; i++ {
		r := &fakeReader{total: uint64(conv.Events(900))}
		readers = append(readers, r)
		st := worker.New(i, 0, conv.Events(500), zerolog.Nop())
		st.SetCounter(nopCounter{})
		c.AddWorker(WorkerConfig{ID: i, InitialSetpointMB: 500, MaxBWMB: 30000}, st)
		c.SetCounter(i, r)
	}

	c.Tick()

	var totalAlloc int64
	for _, wr := range c.workers {
		totalAlloc += conv.MB(wr.state.BudgetEst.Load())
	}
	require.LessOrEqual(t, totalAlloc, int64(1000)+int64(len(c.workers))) // small rounding slack
}

func TestTickZeroDeltaFastPath(t *testing.T) {
	c, wr, reader := newTestCoordinator(t, 30000, false)
	reader.total = 0
	c.Tick() // establishes prevTotal = 0, delta = 0 again next tick

	wr.state.BudgetEst.Store(999999)
	c.Tick()

	require.Equal(t, wr.initialSetpointEvents, wr.state.BudgetEst.Load())
}

func TestForceThrottle(t *testing.T) {
	c, wr, _ := newTestCoordinator(t, 30000, false)
	c.ForceThrottle(true)
	require.True(t, wr.state.Throttled.Load())
	c.ForceThrottle(false)
	require.False(t, wr.state.Throttled.Load())
}

func TestStatsTracksAverage(t *testing.T) {
	conv := units.NewConv(1, units.CacheLineBytes)
	c, _, reader := newTestCoordinator(t, 30000, false)
	_ = conv

	var total uint64
	for i := 0; i < 4; i++ {
		total += uint64(conv.Events(500))
		reader.total = total
		c.Tick()
	}

	stats := c.Stats()
	require.Len(t, stats, 1)
	require.InDelta(t, 500, stats[0].AverageUsedMB, 2)
}
