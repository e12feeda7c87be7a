package units

// CacheLineBytes is the assumed LLC line size used to relate bandwidth to
// event counts. 64 bytes matches every mainstream x86 and ARM part this
// system targets.
const CacheLineBytes = 64

// mbScale is 2^20: bytes-per-MB.
const mbScale = 1 << 20

// Conv converts between MB/s and LLC-miss events per regulation interval for
// a fixed interval length. Zero value is invalid; use NewConv.
type Conv struct {
	intervalMS int64
	lineBytes  int64
}

// NewConv builds a Conv for the given regulation interval (milliseconds) and
// cache line size (bytes). intervalMS must be > 0; lineBytes must be > 0.
func NewConv(intervalMS uint32, lineBytes uint32) Conv {
	if intervalMS == 0 {
		panic("units: intervalMS must be > 0")
	}
	if lineBytes == 0 {
		panic("units: lineBytes must be > 0")
	}
	return Conv{intervalMS: int64(intervalMS), lineBytes: int64(lineBytes)}
}

// Events converts a bandwidth in MB/s to the number of LLC-miss events
// expected in one regulation interval, rounding down (floor). Negative mb
// yields a negative (or zero) event count, consistent with floor semantics.
func (c Conv) Events(mb int64) int64 {
	// (1000/T_ms) is deliberately integer division, per the conversion the
	// original counter-programming code used: the divisor is line bytes
	// times ticks-per-second, both evaluated as 64-bit integers first.
	ticksPerSecond := int64(1000) / c.intervalMS
	if ticksPerSecond == 0 {
		ticksPerSecond = 1
	}
	divisor := c.lineBytes * ticksPerSecond
	return floorDiv(mb*mbScale, divisor)
}

// MB converts an event count observed over one regulation interval back to
// MB/s, rounding up (ceiling), so that MB(Events(b)) never under-reports b.
func (c Conv) MB(events int64) int64 {
	numerator := events * c.lineBytes * 1000
	denominator := c.intervalMS * mbScale
	return ceilDiv(numerator, denominator)
}

// floorDiv performs 64-bit integer division rounded toward negative
// infinity (Go's native / truncates toward zero, which differs from floor
// for mixed-sign operands).
func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

// ceilDiv performs 64-bit integer division rounded toward positive infinity.
func ceilDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) == (b < 0)) {
		q++
	}
	return q
}
