package membrane

import (
	"math"
	"testing"

	algofft "github.com/cwbudde/algo-fft"
)

func windowRMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		v := float64(s)
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// measureFundamentalFreq estimates the dominant frequency from the
// zero-crossing rate. Good enough for a single decaying mode.
func measureFundamentalFreq(samples []float32, sampleRate float32) float32 {
	startIdx := len(samples) / 10

	crossings := 0
	for i := startIdx + 1; i < len(samples); i++ {
		if (samples[i-1] < 0 && samples[i] >= 0) || (samples[i-1] >= 0 && samples[i] < 0) {
			crossings++
		}
	}
	if crossings == 0 {
		return 0
	}

	duration := float32(len(samples)-startIdx) / sampleRate
	return float32(crossings) / (2.0 * duration)
}

// fftPeakHz finds the strongest spectral bin of a Hann-windowed segment.
func fftPeakHz(t *testing.T, samples []float32, sampleRate int) float64 {
	t.Helper()
	const fftSize = 8192
	if len(samples) < fftSize {
		t.Fatalf("need at least %d samples for spectral analysis, got %d", fftSize, len(samples))
	}

	plan, err := algofft.NewPlanReal64(fftSize)
	if err != nil {
		t.Fatalf("fft plan: %v", err)
	}

	buf := make([]float64, fftSize)
	for i := 0; i < fftSize; i++ {
		w := 0.5 - 0.5*math.Cos(2*math.Pi*float64(i)/float64(fftSize-1))
		buf[i] = float64(samples[i]) * w
	}
	spec := make([]complex128, fftSize/2+1)
	plan.Forward(spec, buf)

	bestBin := 1
	bestMag := 0.0
	for k := 1; k < fftSize/2; k++ {
		mag := math.Hypot(real(spec[k]), imag(spec[k]))
		if mag > bestMag {
			bestMag = mag
			bestBin = k
		}
	}
	return float64(bestBin) * float64(sampleRate) / float64(fftSize)
}

// singleModeParams builds a 1x1 grid so tests can observe one resonator in
// isolation.
func singleModeParams(f0 float32) *Params {
	p := NewDefaultParams()
	p.ModesM = 1
	p.ModesN = 1
	p.F0 = f0
	p.MicX = 0.5
	p.MicY = 0.5
	return p
}

func mustEngine(t *testing.T, p *Params) *Engine {
	t.Helper()
	e, err := NewEngine(p)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return e
}

// applyPending drains the control queue without rendering, exposing the
// block boundary to tests.
func applyPending(e *Engine) {
	e.drainCommands()
}
