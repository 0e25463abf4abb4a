package membrane

import (
	"math"

	dspcore "github.com/cwbudde/algo-dsp/dsp/core"
)

// mode is one (m,n) eigenmode of the square membrane, realized as a damped
// second-order resonator.
type mode struct {
	m, n int

	// Immutable after construction.
	freq  float32
	omega float32 // 2*pi*freq/sampleRate
	rCos  float32 // R*cos(omega)
	r2    float32 // R*R

	// Real-time state, touched only by the render loop mid-sample.
	y1, y2       float32
	pendingPulse float32

	// Configuration, written only by control-plane handlers between blocks.
	gain       float32
	micGain    float32
	driveShape float32 // sin(m*pi*driveX)*sin(n*pi*driveY)

	// Telemetry, written by the render loop, copied outward periodically.
	peakAmp    float32
	currentAmp float32
}

// newMode derives the resonator coefficients for eigenmode (m,n). Pure:
// validation of the resulting coefficients happens in newBank.
func newMode(m, n int, f0 float64, sampleRate int, decayBase float64) mode {
	freq := f0 * math.Sqrt(float64(m*m+n*n)) / math.Sqrt2
	// Higher modes decay faster: decayTime scales with f0/freq.
	decayTime := decayBase * f0 / freq
	r := math.Exp(-1.0 / (float64(sampleRate) * decayTime))
	omega := 2.0 * math.Pi * freq / float64(sampleRate)
	return mode{
		m:     m,
		n:     n,
		freq:  float32(freq),
		omega: float32(omega),
		rCos:  float32(r * math.Cos(omega)),
		r2:    float32(r * r),
		gain:  1.0,
	}
}

// radius recovers R from the stored coefficients.
func (md *mode) radius() float64 {
	return math.Sqrt(float64(md.r2))
}

// step advances the resonator by one sample and returns the new output.
func (md *mode) step(in float32) float32 {
	y := 2*md.rCos*md.y1 - md.r2*md.y2 + md.gain*in
	y = float32(dspcore.FlushDenormals(float64(y)))
	md.y2 = md.y1
	md.y1 = y
	return y
}

// modeShape evaluates the 1D mode shape sin(k*pi*pos) at a position in [0,1].
func modeShape(k int, pos float32) float32 {
	return float32(math.Sin(math.Pi * float64(k) * float64(pos)))
}

// pulseNorm is the amplitude normalization applied to point strikes so high
// modes do not dominate the impulse response.
func pulseNorm(m, n int) float32 {
	return float32(1.0 / math.Sqrt(float64(m*m+n*n)))
}
