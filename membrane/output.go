package membrane

import "github.com/cwbudde/algo-approx"

const (
	// outputPeakDecay is the leak of the output peak tracker; slow enough
	// that the auto-gain does not pump on every transient.
	outputPeakDecay = 0.9999
	// autoGainFloor is the tracker level below which no normalization is
	// attempted.
	autoGainFloor = 0.01
	// autoGainTarget is the loudness the normalizer steers toward.
	autoGainTarget = 0.5
	maxAutoGain    = 10.0
	limiterKnee    = 0.5
)

// condition applies the auto-gain, master gain and soft limiter to one mixed
// output sample.
func (e *Engine) condition(x float32) float32 {
	pt := e.peakTracker * outputPeakDecay
	if a := abs32(x); a > pt {
		pt = a
	}
	e.peakTracker = pt

	g := float32(1.0)
	if pt > autoGainFloor {
		g = autoGainTarget / pt
		if g > maxAutoGain {
			g = maxAutoGain
		}
	}
	return softLimit(x * g * e.masterGain)
}

// softLimit is a two-branch clipper: identity below the knee, tanh above it.
// The curve is intentionally discontinuous at |x| = 0.5: the documented
// behavior of the original instrument is preserved, jump and all. A smooth
// soft-knee replacement is a candidate for a future revision.
func softLimit(x float32) float32 {
	if x > -limiterKnee && x < limiterKnee {
		return x
	}
	return fastTanh(x)
}

// fastTanh computes tanh via the same fast-exponential family the rest of
// the audio path uses: tanh(x) = (e^(2x)-1)/(e^(2x)+1).
func fastTanh(x float32) float32 {
	if x > 9 {
		return 1
	}
	if x < -9 {
		return -1
	}
	e := approx.FastExp(2 * x)
	return (e - 1) / (e + 1)
}
