package membrane

// Defaults for the real-time plumbing around the resonator bank.
const (
	commandQueueCap = 256
	snapshotChanCap = 8

	// One buffer per channel slot plus the one being written, so a
	// snapshot sitting in the queue is never rewritten by a later emit.
	snapshotRingLen = snapshotChanCap + 1

	// modePeakDecay is the leak of the per-mode peak tracker feeding the
	// visual amplitude; independent of the audio-path auto-gain.
	modePeakDecay = 0.9999
	ampFloor      = 1e-4
)

// Engine is one membrane instance: a fixed modal bank, its excitation state,
// the output conditioner and the control-plane queue. All mutable state
// lives on the instance, so independent engines can coexist and tests stay
// deterministic.
//
// Process (and ProcessInto) must be driven from a single goroutine, the
// render context. Control-plane methods (StrikeAt, SetChord, ...) may be
// called from any goroutine; they enqueue commands that are drained at the
// start of the next block, so every block sees one consistent parameter set.
type Engine struct {
	bank  *bank
	chord chordState
	drive driveState

	micX, micY float32

	masterGain  float32
	peakTracker float32

	cmds chan command

	telemetryInterval int
	samplesSinceEmit  int
	frame             int64
	snapshots         chan Snapshot
	snapRing          [][]float32
	snapNext          int
}

// NewEngine validates params and constructs a fresh engine with zeroed
// resonator memory. Configuration errors fail closed: no engine is returned.
// Structural changes (mode grid, f0, sample rate, decay base) require a new
// instance; there is no live re-init.
func NewEngine(p *Params) (*Engine, error) {
	if p == nil {
		p = NewDefaultParams()
	}
	b, err := newBank(p)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		bank:              b,
		chord:             newChordState(b.count(), p),
		drive:             newDriveState(p),
		masterGain:        p.MasterGain,
		cmds:              make(chan command, commandQueueCap),
		telemetryInterval: p.TelemetryInterval,
		snapshots:         make(chan Snapshot, snapshotChanCap),
	}
	e.snapRing = make([][]float32, snapshotRingLen)
	for i := range e.snapRing {
		e.snapRing[i] = make([]float32, b.count())
	}
	e.setMicPosition(p.MicX, p.MicY)
	e.setDriveShapes()
	return e, nil
}

// SampleRate returns the fixed render rate of this instance.
func (e *Engine) SampleRate() int {
	return e.bank.sampleRate
}

// ModeCount returns the fixed number of modes in the bank.
func (e *Engine) ModeCount() int {
	return e.bank.count()
}

// ModeFrequency returns the natural frequency of the i-th mode in bank
// enumeration order.
func (e *Engine) ModeFrequency(i int) float32 {
	return e.bank.modes[i].freq
}

// ModeIndices returns the (m,n) pair of the i-th mode.
func (e *Engine) ModeIndices(i int) (int, int) {
	md := &e.bank.modes[i]
	return md.m, md.n
}

// Process drains pending control commands, renders numFrames mono samples
// and returns them in a fresh buffer.
func (e *Engine) Process(numFrames int) []float32 {
	out := make([]float32, numFrames)
	e.ProcessInto(out)
	return out
}

// ProcessInto is the allocation-free variant used by real-time callers: the
// block boundary is the start of the call, after which the parameter view is
// stable for the whole buffer.
func (e *Engine) ProcessInto(out []float32) {
	e.drainCommands()
	for i := range out {
		out[i] = e.renderSample()
	}
}

// renderSample advances every resonator by one sample and mixes, conditions
// and meters the result. Nothing in here allocates, locks or branches on
// external state.
func (e *Engine) renderSample() float32 {
	driveLevel := e.drive.level()

	var out float32
	for i := range e.bank.modes {
		md := &e.bank.modes[i]

		in := md.pendingPulse
		md.pendingPulse = 0

		if driveLevel != 0 {
			in += driveLevel * md.driveShape
		}

		cur := e.chord.stepEnvelope(i)
		if e.chord.active && cur > chordAudibleFloor {
			in += cur * e.chord.sustainLevel * sin32(e.chord.phase[i])
			e.chord.phase[i] = wrapPhase(e.chord.phase[i] + md.omega)
		}

		y := md.step(in)
		out += md.micGain * y

		// Per-mode visual amplitude, normalized to the mode's own recent
		// peak so the telemetry reflects each mode's dynamic range rather
		// than the mixed loudness.
		p := md.peakAmp * modePeakDecay
		if a := abs32(y); a > p {
			p = a
		}
		md.peakAmp = p
		if p < ampFloor {
			p = ampFloor
		}
		md.currentAmp = y / p
	}

	out = e.condition(out)

	e.frame++
	if e.telemetryInterval > 0 {
		e.samplesSinceEmit++
		if e.samplesSinceEmit >= e.telemetryInterval {
			e.samplesSinceEmit = 0
			e.emitSnapshot()
		}
	}
	return out
}

// setMicPosition recomputes every mode's output weight. Listening position
// only: resonator memory is untouched.
func (e *Engine) setMicPosition(x, y float32) {
	e.micX, e.micY = x, y
	for i := range e.bank.modes {
		md := &e.bank.modes[i]
		md.micGain = modeShape(md.m, x) * modeShape(md.n, y)
	}
}

// setDriveShapes precomputes the mode-shape weighting of the drive position
// so the per-sample loop pays one multiply per mode.
func (e *Engine) setDriveShapes() {
	for i := range e.bank.modes {
		md := &e.bank.modes[i]
		md.driveShape = modeShape(md.m, e.drive.x) * modeShape(md.n, e.drive.y)
	}
}

// reset zeroes all run-time state while keeping coefficients and
// configuration intact.
func (e *Engine) reset() {
	for i := range e.bank.modes {
		md := &e.bank.modes[i]
		md.y1 = 0
		md.y2 = 0
		md.pendingPulse = 0
		md.peakAmp = 0
		md.currentAmp = 0
	}
	e.chord.reset()
	e.peakTracker = 0
}
