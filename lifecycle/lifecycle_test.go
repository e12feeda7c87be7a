package lifecycle

import (
	"sync"
	"testing"
	"time"

	"github.com/joeycumines/go-bwreg/internal/config"
	"github.com/joeycumines/go-bwreg/pmu"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

// fakeCounter is an in-memory stand-in for *pmu.Counter, tracking call
// order so reverse-teardown (P4) can be asserted.
type fakeCounter struct {
	mu        sync.Mutex
	released  bool
	enabled   bool
	total     uint64
	releaseAt *int
	seq       *int
}

func (f *fakeCounter) Enable() error  { f.mu.Lock(); defer f.mu.Unlock(); f.enabled = true; return nil }
func (f *fakeCounter) Disable() error { f.mu.Lock(); defer f.mu.Unlock(); f.enabled = false; return nil }
func (f *fakeCounter) Release() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.released = true
	if f.seq != nil {
		*f.seq++
		*f.releaseAt = *f.seq
	}
	return nil
}
func (f *fakeCounter) ReadTotal() (uint64, error)        { return f.total, nil }
func (f *fakeCounter) Stop(bool) error                   { return nil }
func (f *fakeCounter) Start(bool) error                  { return nil }
func (f *fakeCounter) SetPeriodLeft(events uint64) error { return nil }

// newTestMachine returns, alongside the machine, a func reporting every
// counter the factory has created so far (counters are only created once
// regulation is enabled, after this helper has returned).
func newTestMachine(t *testing.T, n int) (*Machine, *config.Surface, func() []*fakeCounter) {
	t.Helper()
	cfg := config.New(0x10d)
	require.NoError(t, cfg.SetRegulationIntervalMS(1))

	var specs []WorkerSpec
	for i := 1; i <= n; i++ {
		specs = append(specs, WorkerSpec{ID: i, CPU: 0, InitialSetpointMB: 1000, MaxBWMB: 30000})
	}

	var created []*fakeCounter
	var mu sync.Mutex
	factory := func(c pmu.Config, cb pmu.OverflowFunc) (Counter, error) {
		fc := &fakeCounter{}
		mu.Lock()
		created = append(created, fc)
		mu.Unlock()
		return fc, nil
	}

	m := New(cfg, Options{
		Workers:            specs,
		BWTotalAvailableMB: int64(n) * 1000,
		Factory:            factory,
		Log:                zerolog.Nop(),
	})
	return m, cfg, func() []*fakeCounter {
		mu.Lock()
		defer mu.Unlock()
		return append([]*fakeCounter(nil), created...)
	}
}

func TestMachineStartsInitial(t *testing.T) {
	m, _, _ := newTestMachine(t, 2)
	require.Equal(t, Initial, m.State())
}

func TestMachineEnableTransitionsToRunning(t *testing.T) {
	m, cfg, _ := newTestMachine(t, 2)
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() { defer close(done); m.Run(stop) }()

	cfg.SetEnableRegulation(true)
	require.Eventually(t, func() bool { return m.State() == Running }, time.Second, time.Millisecond)

	close(stop)
	<-done
	require.Equal(t, Stopped, m.State())
}

func TestMachineDisableReturnsToInitialAndReleasesCounters(t *testing.T) {
	m, cfg, created := newTestMachine(t, 2)
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() { defer close(done); m.Run(stop) }()

	cfg.SetEnableRegulation(true)
	require.Eventually(t, func() bool { return m.State() == Running }, time.Second, time.Millisecond)

	cfg.SetEnableRegulation(false)
	require.Eventually(t, func() bool { return m.State() == Initial }, time.Second, time.Millisecond)

	require.Eventually(t, func() bool {
		cs := created()
		for _, c := range cs {
			if !c.released {
				return false
			}
		}
		return len(cs) == 2
	}, time.Second, time.Millisecond)

	close(stop)
	<-done
}

// P4: teardown releases counters and joins throttlers in strict reverse
// order of creation.
func TestTeardownReverseOrder(t *testing.T) {
	m, cfg, created := newTestMachine(t, 3)
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() { defer close(done); m.Run(stop) }()

	cfg.SetEnableRegulation(true)
	require.Eventually(t, func() bool { return m.State() == Running }, time.Second, time.Millisecond)

	var seq int
	cs := created()
	require.Len(t, cs, 3)
	releaseAt := make([]int, len(cs))
	for i, c := range cs {
		c.mu.Lock()
		c.seq = &seq
		c.releaseAt = &releaseAt[i]
		c.mu.Unlock()
	}

	close(stop)
	<-done

	require.Equal(t, Stopped, m.State())
	for i := 0; i < len(releaseAt)-1; i++ {
		require.Greater(t, releaseAt[i], releaseAt[i+1], "counter %d should be released after counter %d (reverse order)", i, i+1)
	}
}

func TestMachineReenableRecreatesCounters(t *testing.T) {
	m, cfg, created := newTestMachine(t, 1)
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() { defer close(done); m.Run(stop) }()

	cfg.SetEnableRegulation(true)
	require.Eventually(t, func() bool { return m.State() == Running }, time.Second, time.Millisecond)

	cfg.SetEnableRegulation(false)
	require.Eventually(t, func() bool { return m.State() == Initial }, time.Second, time.Millisecond)
	require.Eventually(t, func() bool { cs := created(); return len(cs) == 1 && cs[0].released }, time.Second, time.Millisecond)

	cfg.SetEnableRegulation(true)
	require.Eventually(t, func() bool { return m.State() == Running }, time.Second, time.Millisecond)
	require.Eventually(t, func() bool { return len(created()) == 2 }, time.Second, time.Millisecond)

	close(stop)
	<-done
}
