package membrane

// Snapshot is a periodic copy of every mode's visual amplitude, in bank
// enumeration order. Emission is fire-and-forget: if the consumer lags, the
// snapshot is dropped rather than backpressuring the render loop.
//
// The Amplitudes slice is recycled after a few subsequent snapshots;
// consumers that retain it beyond the next receive must copy.
type Snapshot struct {
	Frame      int64
	Amplitudes []float32
}

// Telemetry returns the snapshot channel. A single consumer is assumed;
// ignoring it entirely is fine.
func (e *Engine) Telemetry() <-chan Snapshot {
	return e.snapshots
}

func (e *Engine) emitSnapshot() {
	buf := e.snapRing[e.snapNext]
	for i := range e.bank.modes {
		buf[i] = e.bank.modes[i].currentAmp
	}
	select {
	case e.snapshots <- Snapshot{Frame: e.frame, Amplitudes: buf}:
		// Advance only once the buffer is queued; a dropped snapshot
		// reuses the slot, so buffers already in flight stay intact.
		e.snapNext = (e.snapNext + 1) % len(e.snapRing)
	default:
	}
}
