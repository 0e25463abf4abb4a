package membrane

import "math"

// chordAudibleFloor is the envelope level below which a mode's sustain
// oscillator is skipped entirely.
const chordAudibleFloor = 0.001

// accentPulseGain is the fixed one-shot pulse injected per nonzero chord
// entry when a chord is set without sustain. Fixed, not velocity-scaled.
const accentPulseGain = 0.15

// chordState holds the per-mode sustain envelope, parallel to the bank's
// mode order. current moves toward target by at most attackRate (rising) or
// releaseRate (falling) per sample, never overshooting.
type chordState struct {
	target  []float32
	current []float32
	phase   []float32

	attackRate   float32
	releaseRate  float32
	sustainLevel float32
	active       bool
}

func newChordState(modeCount int, p *Params) chordState {
	return chordState{
		target:       make([]float32, modeCount),
		current:      make([]float32, modeCount),
		phase:        make([]float32, modeCount),
		attackRate:   p.ChordAttack,
		releaseRate:  p.ChordRelease,
		sustainLevel: p.SustainLevel,
	}
}

// stepEnvelope advances one mode's envelope by a single sample and returns
// the smoothed level. The step is clamped so the value never leaves the
// closed interval between the previous level and the target.
func (c *chordState) stepEnvelope(i int) float32 {
	cur := c.current[i]
	tgt := c.target[i]
	switch {
	case cur < tgt:
		cur += c.attackRate
		if cur > tgt {
			cur = tgt
		}
	case cur > tgt:
		cur -= c.releaseRate
		if cur < tgt {
			cur = tgt
		}
	}
	c.current[i] = cur
	return cur
}

func (c *chordState) reset() {
	for i := range c.target {
		c.target[i] = 0
		c.current[i] = 0
		c.phase[i] = 0
	}
	c.active = false
}

// driveState is the global continuous-excitation descriptor. The phase
// advances every sample whether or not the drive is enabled, so re-enabling
// never replays a stale phase.
type driveState struct {
	enabled  bool
	freq     float32
	amp      float32
	x, y     float32
	phase    float32
	phaseInc float32
}

func newDriveState(p *Params) driveState {
	d := driveState{
		enabled: p.DriveEnabled,
		freq:    p.DriveFrequency,
		amp:     p.DriveAmplitude,
		x:       p.DriveX,
		y:       p.DriveY,
	}
	d.phaseInc = phaseIncrement(d.freq, p.SampleRate)
	return d
}

func phaseIncrement(freq float32, sampleRate int) float32 {
	return float32(2.0 * math.Pi * float64(freq) / float64(sampleRate))
}

// level computes this sample's drive oscillator value and advances the phase.
func (d *driveState) level() float32 {
	var out float32
	if d.enabled {
		out = d.amp * sin32(d.phase)
	}
	d.phase = wrapPhase(d.phase + d.phaseInc)
	return out
}
