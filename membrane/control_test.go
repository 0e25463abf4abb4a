package membrane

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestCommandsApplyOnlyAtBlockBoundaries(t *testing.T) {
	e := mustEngine(t, NewDefaultParams())

	e.StrikeAt(0.5, 0.5, 1.0)
	// Nothing rendered yet: the strike must still be queued, not applied.
	for i := range e.bank.modes {
		if e.bank.modes[i].pendingPulse != 0 {
			t.Fatalf("strike applied before a block boundary (mode %d)", i)
		}
	}

	_ = e.Process(16)
	// After one block the pulse has been consumed into filter memory.
	var ringing bool
	for i := range e.bank.modes {
		if abs32(e.bank.modes[i].y1) > 1e-6 {
			ringing = true
		}
	}
	if !ringing {
		t.Fatalf("strike never reached the resonators")
	}
}

func TestCommandOrderingLastWriteWins(t *testing.T) {
	e := mustEngine(t, NewDefaultParams())
	e.SetGain(0.2)
	e.SetGain(0.9)
	e.SetGain(0.7)
	applyPending(e)
	if e.masterGain != 0.7 {
		t.Fatalf("last write must win: masterGain=%v", e.masterGain)
	}
}

func TestCommandQueueOverflowDropsOldest(t *testing.T) {
	e := mustEngine(t, NewDefaultParams())

	// Overfill the queue well past its capacity; enqueue must never block
	// and the newest command must survive.
	for i := 0; i < commandQueueCap*3; i++ {
		e.SetGain(float32(i%10) * 0.1)
	}
	e.SetGain(0.55)
	applyPending(e)
	if e.masterGain != 0.55 {
		t.Fatalf("newest command lost on overflow: masterGain=%v", e.masterGain)
	}
}

func TestEnqueueNeverBlocksUnderConcurrentLoad(t *testing.T) {
	e := mustEngine(t, NewDefaultParams())

	done := make(chan struct{})
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(seed int) {
			defer wg.Done()
			for i := 0; i < 5000; i++ {
				e.StrikeAt(0.3, 0.3, 0.1)
				e.SetGain(float32(seed))
			}
		}(w)
	}
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("enqueue blocked under contention")
	}
	// The engine must still be usable afterwards.
	out := e.Process(128)
	for i, s := range out {
		if !isFinite(s) {
			t.Fatalf("non-finite sample %d after queue stress: %v", i, s)
		}
	}
}

func TestSetChordCopiesCallerSlice(t *testing.T) {
	e := mustEngine(t, NewDefaultParams())
	targets := make([]float32, e.ModeCount())
	targets[0] = 1.0
	e.SetChord(targets, true)
	targets[0] = 0 // caller reuses its buffer before the block boundary
	applyPending(e)
	if e.chord.target[0] != 1.0 {
		t.Fatalf("chord command must copy the caller's slice, target[0]=%v", e.chord.target[0])
	}
}

func TestDriveCommandRejectsBadFrequency(t *testing.T) {
	e := mustEngine(t, NewDefaultParams())
	e.SetDrive(true, 150, 0.3, 0.4, 0.4)
	applyPending(e)
	if e.drive.freq != 150 {
		t.Fatalf("valid frequency rejected: %v", e.drive.freq)
	}

	// Above Nyquist and non-positive frequencies keep the previous value.
	e.SetDrive(true, float32(e.SampleRate()), 0.3, 0.4, 0.4)
	e.SetDrive(true, -5, 0.3, 0.4, 0.4)
	applyPending(e)
	if e.drive.freq != 150 {
		t.Fatalf("bad frequencies must be ignored, got %v", e.drive.freq)
	}
}

func TestStructuralChangeRequiresNewEngine(t *testing.T) {
	// The bank is fixed at construction; two differently-sized engines
	// coexist without sharing state.
	small := mustEngine(t, singleModeParams(220))
	big := mustEngine(t, NewDefaultParams())

	if small.ModeCount() == big.ModeCount() {
		t.Fatalf("test setup broken: equal mode counts")
	}
	small.StrikeAt(0.5, 0.5, 1.0)
	_ = small.Process(256)
	for i := range big.bank.modes {
		if big.bank.modes[i].y1 != 0 {
			t.Fatalf("engines share state: big engine mode %d rang", i)
		}
	}
}

func ExampleEngine_StrikeAt() {
	e, err := NewEngine(nil)
	if err != nil {
		panic(err)
	}
	e.StrikeAt(0.5, 0.5, 1.0)
	out := e.Process(4)
	fmt.Println(len(out))
	// Output: 4
}
