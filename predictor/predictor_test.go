package predictor

import (
	"math"
	"testing"

	"github.com/joeycumines/go-bwreg/internal/ring"
	"github.com/stretchr/testify/require"
)

const h = 5

func constantHistory(x int64) *ring.Ring[int64] {
	r := ring.New[int64](h)
	for i := 0; i < h; i++ {
		r.Write(x)
		r.Advance()
	}
	return r
}

// P5: with constant history and weights at 1/H, predict(x) == x exactly,
// independent of the ring's current cursor position.
func TestPredictConstantHistoryIsIdentity(t *testing.T) {
	for _, x := range []int64{0, 1, 500, 1000, 29999, -42} {
		hist := constantHistory(x)
		for shift := 0; shift < h; shift++ {
			p := New(h)
			got := p.Predict(hist)
			require.Equalf(t, x, got, "x=%d shift=%d", x, shift)
			hist.Advance()
		}
	}
}

func TestPredictWeighted(t *testing.T) {
	p := New(h)
	hist := ring.New[int64](h)
	// most recent sample first: 100, then zeros behind it
	hist.Write(100)
	got := p.Predict(hist)
	// all weights equal 1/h, only one nonzero sample -> 100/h truncated
	require.Equal(t, int64(100)/h, got)
}

func TestUpdateSkipsOnZeroNorm(t *testing.T) {
	p := New(h)
	hist := ring.New[int64](h) // all zero
	before := p.Weights()
	p.Update(hist, 100)
	require.Equal(t, before, p.Weights())
}

// P6: for a stationary synthetic history, repeated updates with a small
// learning rate should not make the error blow up; in aggregate the error
// magnitude trends non-increasing across most iterations.
func TestUpdateConverges(t *testing.T) {
	p := New(h)
	hist := constantHistory(500)

	prevErr := math.Abs(float64(500 - p.Predict(hist)))
	nonIncreasing := 0
	const trials = 1000
	for i := 0; i < trials; i++ {
		estimate := p.Predict(hist)
		errMB := int64(500) - estimate
		p.Update(hist, errMB)

		nextEstimate := p.Predict(hist)
		nextErr := math.Abs(float64(500 - nextEstimate))
		if nextErr <= prevErr+1 { // integer fixed-point noise tolerance
			nonIncreasing++
		}
		prevErr = nextErr
	}
	require.GreaterOrEqual(t, nonIncreasing, int(trials*0.95))
}

func TestResetWeights(t *testing.T) {
	p := New(h)
	hist := constantHistory(1000)
	p.Update(hist, 50)
	p.ResetWeights()
	for _, w := range p.Weights() {
		require.InDelta(t, 1.0/float64(h), w, 1e-9)
	}
}

func TestLearningRateAdjustment(t *testing.T) {
	p := New(h)
	require.InDelta(t, 1e-6, p.LRate(), 1e-12)
	p.DecreaseLearningRate(10)
	require.InDelta(t, 1e-7, p.LRate(), 1e-13)
	p.ResetLearningRate()
	require.InDelta(t, 1e-6, p.LRate(), 1e-12)
}
