package membrane

import "math"

const twoPi = float32(2 * math.Pi)

func sin32(x float32) float32 {
	return float32(math.Sin(float64(x)))
}

// wrapPhase keeps a running phase in [0, 2*pi). Increments are always below
// pi (mode frequencies sit under Nyquist), so a single fold suffices.
func wrapPhase(p float32) float32 {
	if p >= twoPi {
		p -= twoPi
	}
	if p < 0 {
		p += twoPi
	}
	return p
}

func isFinite(x float32) bool {
	return !math.IsNaN(float64(x)) && !math.IsInf(float64(x), 0)
}

func clampFloat32(x, lo, hi float32) float32 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}

// clampUnit sanitizes a position or amplitude expected in [0,1]; non-finite
// inputs collapse to 0 so they can never reach filter memory.
func clampUnit(x float32) float32 {
	if !isFinite(x) {
		return 0
	}
	return clampFloat32(x, 0, 1)
}

func abs32(x float32) float32 {
	if x < 0 {
		return -x
	}
	return x
}
