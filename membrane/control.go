package membrane

// The control plane is a closed command vocabulary delivered over a bounded
// queue. Commands are applied in arrival order at block boundaries only
// (ProcessInto drains before rendering), so the per-sample loop never sees a
// torn parameter set. Enqueueing never blocks: on overflow the oldest queued
// command is dropped: losing a stale strike beats stalling audio.

type command interface {
	apply(e *Engine)
}

// enqueue offers a command without ever blocking the caller. When the queue
// is full the oldest entry is discarded to make room.
func (e *Engine) enqueue(c command) {
	for {
		select {
		case e.cmds <- c:
			return
		default:
		}
		select {
		case <-e.cmds:
		default:
		}
	}
}

// drainCommands applies everything queued so far, in arrival order. Called
// once per block; commands racing the drain are picked up next block.
func (e *Engine) drainCommands() {
	for {
		select {
		case c := <-e.cmds:
			c.apply(e)
		default:
			return
		}
	}
}

// StrikeAt excites every mode as a physical point impulse at (x,y) would:
// each mode receives gain*sin(m*pi*x)*sin(n*pi*y)/sqrt(m^2+n^2).
func (e *Engine) StrikeAt(x, y, gain float32) {
	e.enqueue(strikeAtCmd{x: x, y: y, gain: gain})
}

// StrikeMode adds gain directly to the single matching mode's pending pulse.
// Unknown (m,n) pairs are ignored.
func (e *Engine) StrikeMode(m, n int, gain float32) {
	e.enqueue(strikeModeCmd{m: m, n: n, gain: gain})
}

// SetMicPosition moves the listening point. Output weighting only; resonator
// state is untouched.
func (e *Engine) SetMicPosition(x, y float32) {
	e.enqueue(micPositionCmd{x: x, y: y})
}

// SetChord installs a per-mode target amplitude vector, ordered like the
// bank. With sustain the envelope fades each mode in at its own natural
// frequency; without it each nonzero entry gets a one-shot accent pulse and
// the targets stay at zero so the sound decays naturally.
func (e *Engine) SetChord(targets []float32, sustain bool) {
	cp := make([]float32, len(targets))
	copy(cp, targets)
	e.enqueue(chordCmd{targets: cp, sustain: sustain})
}

// SetChordParams overwrites the global attack rate, release rate and sustain
// level.
func (e *Engine) SetChordParams(attack, release, sustainLevel float32) {
	e.enqueue(chordParamsCmd{attack: attack, release: release, sustainLevel: sustainLevel})
}

// ClearChord zeroes all chord targets; the release rate fades the sound out.
func (e *Engine) ClearChord() {
	e.enqueue(clearChordCmd{})
}

// SetDrive overwrites the continuous-excitation descriptor.
func (e *Engine) SetDrive(enabled bool, freq, amp, x, y float32) {
	e.enqueue(driveCmd{enabled: enabled, freq: freq, amp: amp, x: x, y: y})
}

// SetGain overwrites the master gain.
func (e *Engine) SetGain(value float32) {
	e.enqueue(gainCmd{value: value})
}

// Reset zeroes all filter memory, pending pulses, chord state and peak
// trackers. Coefficients are kept; for structural changes build a new
// engine.
func (e *Engine) Reset() {
	e.enqueue(resetCmd{})
}

// maxStrikeGain bounds transient excitation inputs so a wild caller cannot
// blow up filter memory.
const maxStrikeGain = 16.0

// sanitizeGain clamps strike/drive gains into a safe range; non-finite
// values collapse to 0 (a NaN in y1/y2 corrupts the resonator forever).
func sanitizeGain(g float32) float32 {
	if !isFinite(g) {
		return 0
	}
	return clampFloat32(g, -maxStrikeGain, maxStrikeGain)
}

type strikeAtCmd struct {
	x, y, gain float32
}

func (c strikeAtCmd) apply(e *Engine) {
	x := clampUnit(c.x)
	y := clampUnit(c.y)
	gain := sanitizeGain(c.gain)
	if gain == 0 {
		return
	}
	for i := range e.bank.modes {
		md := &e.bank.modes[i]
		shape := modeShape(md.m, x) * modeShape(md.n, y)
		md.pendingPulse += gain * shape * pulseNorm(md.m, md.n)
	}
}

type strikeModeCmd struct {
	m, n int
	gain float32
}

func (c strikeModeCmd) apply(e *Engine) {
	i, ok := e.bank.index(c.m, c.n)
	if !ok {
		return
	}
	e.bank.modes[i].pendingPulse += sanitizeGain(c.gain)
}

type micPositionCmd struct {
	x, y float32
}

func (c micPositionCmd) apply(e *Engine) {
	e.setMicPosition(clampUnit(c.x), clampUnit(c.y))
}

type chordCmd struct {
	targets []float32
	sustain bool
}

func (c chordCmd) apply(e *Engine) {
	for i := range e.bank.modes {
		var t float32
		if i < len(c.targets) {
			t = clampUnit(c.targets[i])
		}
		if c.sustain {
			e.chord.target[i] = t
			continue
		}
		// Accent: immediate pulse, no sustain target, natural decay.
		e.chord.target[i] = 0
		if t != 0 {
			e.bank.modes[i].pendingPulse += accentPulseGain * t
		}
	}
	if c.sustain {
		e.chord.active = true
	}
}

type chordParamsCmd struct {
	attack, release, sustainLevel float32
}

func (c chordParamsCmd) apply(e *Engine) {
	e.chord.attackRate = clampUnit(c.attack)
	e.chord.releaseRate = clampUnit(c.release)
	if !isFinite(c.sustainLevel) {
		return
	}
	e.chord.sustainLevel = clampFloat32(c.sustainLevel, 0, 2)
}

type clearChordCmd struct{}

func (clearChordCmd) apply(e *Engine) {
	for i := range e.chord.target {
		e.chord.target[i] = 0
	}
}

type driveCmd struct {
	enabled         bool
	freq, amp, x, y float32
}

func (c driveCmd) apply(e *Engine) {
	d := &e.drive
	d.enabled = c.enabled
	if isFinite(c.freq) && c.freq > 0 && float64(c.freq) < 0.5*float64(e.bank.sampleRate) {
		d.freq = c.freq
		d.phaseInc = phaseIncrement(d.freq, e.bank.sampleRate)
	}
	if isFinite(c.amp) {
		d.amp = clampFloat32(c.amp, 0, maxStrikeGain)
	}
	d.x = clampUnit(c.x)
	d.y = clampUnit(c.y)
	e.setDriveShapes()
}

type gainCmd struct {
	value float32
}

func (c gainCmd) apply(e *Engine) {
	if !isFinite(c.value) {
		return
	}
	e.masterGain = clampFloat32(c.value, 0, maxStrikeGain)
}

type resetCmd struct{}

func (resetCmd) apply(e *Engine) {
	e.reset()
}
