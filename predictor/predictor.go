package predictor

import "github.com/joeycumines/go-bwreg/internal/ring"

const (
	// normScale implements the spec's literal "2^-16" scaling applied to
	// the squared-history sum when computing norm2.
	normScale = 1 << 16

	// rateScale fixed-points the learning rate at nanounit resolution: a
	// plain 2^16 scale can't represent 1e-6 without rounding to zero.
	rateScale = 1_000_000_000

	// DefaultLRate is 1e-6 expressed in rateScale units.
	DefaultLRate = 1000
)

// Predictor is a length-H normalized-LMS linear model over a history ring.
// Not safe for concurrent use; the coordinator owns one per worker and
// calls it from a single goroutine.
type Predictor struct {
	h       int
	scale   int64 // represents 1.0; h*2^16 so that 1/h is exactly representable
	weights []int64
	lrate   int64
}

// New builds a predictor for a history window of length h, with every
// weight initialized to 1/h.
func New(h int) *Predictor {
	if h <= 0 {
		panic("predictor: h must be > 0")
	}
	// Using a plain 2^16 scale would make 1/h inexact for h=5 (the only H
	// this system runs with), breaking the predict-is-identity invariant
	// for constant history. Scaling by h*2^16 instead makes 1/h land on
	// exactly 2^16, at the cost of a slightly larger per-instance scale.
	scale := int64(h) * (1 << 16)
	w := make([]int64, h)
	base := scale / int64(h)
	for i := range w {
		w[i] = base
	}
	return &Predictor{h: h, scale: scale, weights: w, lrate: DefaultLRate}
}

// H returns the history window length this predictor was built for.
func (p *Predictor) H() int {
	return p.h
}

// Predict computes y_hat = sum_k w[k]*history[k] over hist.Get(0..h-1),
// where Get(0) is the most recently written sample, truncated toward zero.
func (p *Predictor) Predict(hist *ring.Ring[int64]) int64 {
	var sum int64
	for k := 0; k < p.h; k++ {
		sum += p.weights[k] * hist.Get(k)
	}
	return sum / p.scale
}

// Update applies one normalized-LMS step given the observed error
// (used_mb - prev_estimate). If the scaled L2 norm of the history is zero,
// the update is skipped entirely (division by zero avoided, weights
// unchanged).
func (p *Predictor) Update(hist *ring.Ring[int64], errMB int64) {
	var sumSq int64
	for k := 0; k < p.h; k++ {
		v := hist.Get(k)
		sumSq += v * v
	}
	norm2 := sumSq / normScale
	if norm2 == 0 {
		return
	}

	absErr, sign := errMB, int64(1)
	if absErr < 0 {
		absErr, sign = -absErr, -1
	}

	for k := 0; k < p.h; k++ {
		v := hist.Get(k)
		delta := (absErr * v * p.scale * p.lrate) / (norm2 * rateScale)
		p.weights[k] += sign * delta
	}
}

// ResetWeights restores every weight to 1/h, per the recovery path taken
// when a prediction comes back negative.
func (p *Predictor) ResetWeights() {
	base := p.scale / int64(p.h)
	for i := range p.weights {
		p.weights[i] = base
	}
}

// DecreaseLearningRate divides the learning rate by factor.
func (p *Predictor) DecreaseLearningRate(factor int64) {
	p.lrate /= factor
}

// ResetLearningRate restores the learning rate to its default.
func (p *Predictor) ResetLearningRate() {
	p.lrate = DefaultLRate
}

// Weights returns a snapshot of the real-valued weights, scaled back to
// float64, for diagnostics and logging only.
func (p *Predictor) Weights() []float64 {
	out := make([]float64, p.h)
	for i, w := range p.weights {
		out[i] = float64(w) / float64(p.scale)
	}
	return out
}

// LRate returns the current learning rate as a float64, for diagnostics.
func (p *Predictor) LRate() float64 {
	return float64(p.lrate) / float64(rateScale)
}
