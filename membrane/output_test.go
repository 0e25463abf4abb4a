package membrane

import (
	"math"
	"testing"
)

// TestSoftLimiterDocumentedDiscontinuity is a regression test for the
// documented two-branch behavior: identity right below the knee, tanh at and
// above it. The jump at |x|=0.5 is intentional-as-shipped; do not "fix" it.
func TestSoftLimiterDocumentedDiscontinuity(t *testing.T) {
	if got := softLimit(0.49); got != 0.49 {
		t.Fatalf("below the knee must pass through: got %v", got)
	}
	if got := float64(softLimit(0.51)); math.Abs(got-math.Tanh(0.51)) > 0.01 {
		t.Fatalf("above the knee must follow tanh: got %v, want ~%v", got, math.Tanh(0.51))
	}

	// The jump itself: tanh(0.5) ~= 0.4621, a visible step below 0.5.
	below := float64(softLimit(0.499999))
	at := float64(softLimit(0.5))
	if below-at < 0.02 {
		t.Fatalf("expected the documented discontinuity at the knee: below=%v at=%v", below, at)
	}
}

func TestSoftLimiterSymmetricAndBounded(t *testing.T) {
	for _, x := range []float32{0.6, 1.0, 3.0, 8.0, 20.0} {
		pos := softLimit(x)
		neg := softLimit(-x)
		if math.Abs(float64(pos+neg)) > 1e-4 {
			t.Fatalf("limiter not odd at %v: %v vs %v", x, pos, neg)
		}
		if pos > 1.0 || pos <= 0 {
			t.Fatalf("limited value out of range at %v: %v", x, pos)
		}
	}
}

func TestFastTanhTracksMathTanh(t *testing.T) {
	for x := -6.0; x <= 6.0; x += 0.25 {
		got := float64(fastTanh(float32(x)))
		want := math.Tanh(x)
		if math.Abs(got-want) > 0.01 {
			t.Fatalf("fastTanh(%v)=%v, want %v", x, got, want)
		}
	}
	if fastTanh(50) != 1 || fastTanh(-50) != -1 {
		t.Fatalf("fastTanh must saturate for large inputs")
	}
}

func TestAutoGainLeavesQuietSignalsAlone(t *testing.T) {
	e := mustEngine(t, NewDefaultParams())
	// Tracker below the floor: unity gain, signal passes scaled only by
	// masterGain.
	got := e.condition(0.004)
	if math.Abs(float64(got)-0.004) > 1e-6 {
		t.Fatalf("quiet sample should pass through, got %v", got)
	}
}

func TestAutoGainNormalizesLoudSignalsTowardTarget(t *testing.T) {
	e := mustEngine(t, NewDefaultParams())
	var out float32
	for i := 0; i < 100; i++ {
		out = e.condition(0.9)
	}
	// 0.9 normalized toward 0.5, then tanh above the knee.
	want := math.Tanh(0.5)
	if math.Abs(float64(out)-want) > 0.02 {
		t.Fatalf("loud signal should settle near tanh(0.5)=%.4f, got %v", want, out)
	}
}

func TestAutoGainClampPreventsRunaway(t *testing.T) {
	e := mustEngine(t, NewDefaultParams())
	// Push the tracker just above the floor, then feed a tiny signal: the
	// gain must clamp at 10x instead of exploding toward 0.5/peak.
	e.peakTracker = 0.011
	got := e.condition(0.011)
	if got > 0.12 {
		t.Fatalf("gain exceeded the 10x clamp: %v", got)
	}
}

func TestMasterGainAppliedBeforeLimiter(t *testing.T) {
	e := mustEngine(t, NewDefaultParams())
	e.SetGain(0)
	applyPending(e)
	if got := e.condition(0.9); got != 0 {
		t.Fatalf("zero master gain must mute, got %v", got)
	}
}
