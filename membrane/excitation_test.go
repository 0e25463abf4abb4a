package membrane

import (
	"math"
	"math/rand"
	"testing"
)

func TestStrikeAtNodalLine(t *testing.T) {
	p := NewDefaultParams()
	p.ModesM = 2
	p.ModesN = 2
	e := mustEngine(t, p)

	e.StrikeAt(0.5, 0.5, 1.0)
	applyPending(e)

	// Mode (2,2) is struck exactly on its nodal line: no energy.
	i22, _ := e.bank.index(2, 2)
	if pulse := abs32(e.bank.modes[i22].pendingPulse); pulse > 1e-6 {
		t.Fatalf("mode (2,2) struck on nodal line should stay silent, pulse=%v", pulse)
	}

	// Mode (1,1) receives sin(pi/2)^2/sqrt(2) ~= 0.707.
	i11, _ := e.bank.index(1, 1)
	want := 1.0 / math.Sqrt2
	if got := float64(e.bank.modes[i11].pendingPulse); math.Abs(got-want) > 1e-4 {
		t.Fatalf("mode (1,1) pulse: got %v, want %v", got, want)
	}
}

func TestStrikeNormalizationSuppressesHighModes(t *testing.T) {
	p := NewDefaultParams()
	p.ModesM = 4
	p.ModesN = 4
	p.F0 = 110
	e := mustEngine(t, p)

	// Strike off-center so no mode is exactly on a node.
	e.StrikeAt(0.21, 0.37, 1.0)
	applyPending(e)

	i11, _ := e.bank.index(1, 1)
	i44, _ := e.bank.index(4, 4)
	low := abs32(e.bank.modes[i11].pendingPulse)
	high := abs32(e.bank.modes[i44].pendingPulse)
	if high >= low {
		t.Fatalf("expected 1/sqrt(m^2+n^2) normalization to favor low modes: low=%v high=%v", low, high)
	}
}

func TestStrikeModeTargetsSingleMode(t *testing.T) {
	e := mustEngine(t, NewDefaultParams())
	e.StrikeMode(2, 3, 0.8)
	applyPending(e)

	for i := range e.bank.modes {
		md := &e.bank.modes[i]
		want := float32(0)
		if md.m == 2 && md.n == 3 {
			want = 0.8
		}
		if md.pendingPulse != want {
			t.Fatalf("mode (%d,%d): pulse=%v, want %v", md.m, md.n, md.pendingPulse, want)
		}
	}

	// Out-of-range pairs are ignored, not clamped onto a neighbor.
	e.StrikeMode(99, 1, 1.0)
	applyPending(e)
	var total float32
	for i := range e.bank.modes {
		total += abs32(e.bank.modes[i].pendingPulse)
	}
	if total != 0.8 {
		t.Fatalf("out-of-range StrikeMode leaked energy: total=%v", total)
	}
}

func TestStrikeClampsBadInput(t *testing.T) {
	e := mustEngine(t, NewDefaultParams())
	e.StrikeAt(2.5, -1.0, float32(math.NaN()))
	e.StrikeAt(0.5, 0.5, float32(math.Inf(1)))
	applyPending(e)

	for i := range e.bank.modes {
		pulse := e.bank.modes[i].pendingPulse
		if !isFinite(pulse) {
			t.Fatalf("non-finite pulse reached mode %d: %v", i, pulse)
		}
		if abs32(pulse) > maxStrikeGain {
			t.Fatalf("pulse exceeds clamp on mode %d: %v", i, pulse)
		}
	}
	out := e.Process(256)
	for i, s := range out {
		if !isFinite(s) {
			t.Fatalf("non-finite output at %d: %v", i, s)
		}
	}
}

func TestChordAccentPulseWithoutSustain(t *testing.T) {
	p := NewDefaultParams()
	p.ModesM = 2
	p.ModesN = 2
	e := mustEngine(t, p)

	e.SetChord([]float32{1, 0, 0, 0}, false)
	applyPending(e)

	if got := e.bank.modes[0].pendingPulse; math.Abs(float64(got)-0.15) > 1e-6 {
		t.Fatalf("accent pulse on mode 0: got %v, want 0.15", got)
	}
	for i := 1; i < e.ModeCount(); i++ {
		if e.bank.modes[i].pendingPulse != 0 {
			t.Fatalf("mode %d should receive no accent, pulse=%v", i, e.bank.modes[i].pendingPulse)
		}
	}
	for i, tgt := range e.chord.target {
		if tgt != 0 {
			t.Fatalf("non-sustain chord must leave target %d at zero, got %v", i, tgt)
		}
	}
	if e.chord.active {
		t.Fatalf("non-sustain chord must not activate the sustain path")
	}
}

func TestSustainedChordRingsAndReleases(t *testing.T) {
	p := NewDefaultParams()
	p.ModesM = 2
	p.ModesN = 2
	p.DecayBase = 0.15 // short ring-down so the release is observable
	e := mustEngine(t, p)

	targets := []float32{1, 0, 0, 0}
	e.SetChord(targets, true)
	_ = e.Process(24000) // let the envelope rise and the mode ring
	sustained := windowRMS(e.Process(8000))
	if sustained < 1e-3 {
		t.Fatalf("sustained chord should be audible, RMS=%v", sustained)
	}

	e.ClearChord()
	// Release at the default rate, then let the resonator die down.
	_ = e.Process(48000)
	released := windowRMS(e.Process(8000))
	if released > sustained*0.1 {
		t.Fatalf("chord should fade after ClearChord: sustained=%v released=%v", sustained, released)
	}
	for i, cur := range e.chord.current {
		if cur != 0 {
			t.Fatalf("envelope %d should have released to zero, got %v", i, cur)
		}
	}
}

func TestChordSustainFrequencyIsModal(t *testing.T) {
	// The sustain oscillator must run at the mode's own natural frequency,
	// not at some global chord pitch.
	p := singleModeParams(330.0)
	p.SustainLevel = 0.4
	e := mustEngine(t, p)

	e.SetChord([]float32{1}, true)
	_ = e.Process(24000) // settle
	out := e.Process(16384)

	got := fftPeakHz(t, out, e.SampleRate())
	if math.Abs(got-330.0) > 8.0 {
		t.Fatalf("sustain rings at %.2f Hz, want ~330 Hz", got)
	}
}

func TestEnvelopeStepNeverOvershoots(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	c := chordState{
		target:  make([]float32, 1),
		current: make([]float32, 1),
		phase:   make([]float32, 1),
	}
	for trial := 0; trial < 10000; trial++ {
		cur := rng.Float32()*2 - 0.5
		tgt := rng.Float32()*2 - 0.5
		c.current[0] = cur
		c.target[0] = tgt
		c.attackRate = rng.Float32() * 0.1
		c.releaseRate = rng.Float32() * 0.1

		got := c.stepEnvelope(0)
		lo, hi := cur, tgt
		if lo > hi {
			lo, hi = hi, lo
		}
		if got < lo || got > hi {
			t.Fatalf("step left [%v,%v]: cur=%v tgt=%v atk=%v rel=%v got=%v",
				lo, hi, cur, tgt, c.attackRate, c.releaseRate, got)
		}
	}
}

func TestEnvelopeReachesTargetExactly(t *testing.T) {
	c := chordState{
		target:      []float32{0.5},
		current:     []float32{0},
		phase:       []float32{0},
		attackRate:  0.03,
		releaseRate: 0.01,
	}
	for i := 0; i < 100 && c.current[0] != c.target[0]; i++ {
		c.stepEnvelope(0)
	}
	if c.current[0] != 0.5 {
		t.Fatalf("envelope never settled on target: %v", c.current[0])
	}

	c.target[0] = 0
	for i := 0; i < 100 && c.current[0] != 0; i++ {
		c.stepEnvelope(0)
	}
	if c.current[0] != 0 {
		t.Fatalf("envelope never released to zero: %v", c.current[0])
	}
}

func TestSetChordParamsClampsAndApplies(t *testing.T) {
	e := mustEngine(t, NewDefaultParams())
	e.SetChordParams(0.002, 0.001, 0.6)
	applyPending(e)
	if e.chord.attackRate != 0.002 || e.chord.releaseRate != 0.001 || e.chord.sustainLevel != 0.6 {
		t.Fatalf("params not applied: atk=%v rel=%v sus=%v", e.chord.attackRate, e.chord.releaseRate, e.chord.sustainLevel)
	}

	e.SetChordParams(float32(math.NaN()), -1, float32(math.Inf(1)))
	applyPending(e)
	if !isFinite(e.chord.attackRate) || e.chord.releaseRate < 0 || !isFinite(e.chord.sustainLevel) {
		t.Fatalf("bad params leaked: atk=%v rel=%v sus=%v", e.chord.attackRate, e.chord.releaseRate, e.chord.sustainLevel)
	}
	if e.chord.sustainLevel != 0.6 {
		t.Fatalf("non-finite sustain level should keep the previous value, got %v", e.chord.sustainLevel)
	}
}

func TestShortChordVectorTreatedAsZeroPadded(t *testing.T) {
	e := mustEngine(t, NewDefaultParams()) // 16 modes
	e.SetChord([]float32{0.5, 0.25}, true)
	applyPending(e)

	if e.chord.target[0] != 0.5 || e.chord.target[1] != 0.25 {
		t.Fatalf("leading targets lost: %v %v", e.chord.target[0], e.chord.target[1])
	}
	for i := 2; i < e.ModeCount(); i++ {
		if e.chord.target[i] != 0 {
			t.Fatalf("missing entries must read as zero, target[%d]=%v", i, e.chord.target[i])
		}
	}
}

func TestDrivePhaseStaysWrapped(t *testing.T) {
	p := NewDefaultParams()
	p.DriveEnabled = true
	p.DriveFrequency = 0.45 * float32(p.SampleRate)
	p.DriveAmplitude = 0.2
	e := mustEngine(t, p)

	_ = e.Process(1 << 14)
	if ph := e.drive.phase; ph < 0 || ph >= twoPi {
		t.Fatalf("drive phase escaped [0,2pi): %v (inc %v)", ph, e.drive.phaseInc)
	}
}
