package membrane

import "fmt"

// Params holds all engine construction and runtime parameters.
//
// Structural fields (SampleRate, F0, ModesM, ModesN, DecayBase) are fixed for
// the lifetime of an Engine; changing them requires constructing a new
// instance. Everything else can be mutated at runtime through the control
// plane.
type Params struct {
	SampleRate int
	F0         float32 // frequency of the (1,1) mode in Hz
	ModesM     int     // mode grid width, m = 1..ModesM
	ModesN     int     // mode grid height, n = 1..ModesN
	DecayBase  float32 // decay time of the fundamental mode, seconds

	MasterGain float32
	MicX       float32 // listening position, [0,1]^2
	MicY       float32

	ChordAttack  float32 // per-sample envelope rise toward the chord target
	ChordRelease float32 // per-sample envelope fall
	SustainLevel float32

	DriveEnabled   bool
	DriveFrequency float32
	DriveAmplitude float32
	DriveX         float32
	DriveY         float32

	TelemetryInterval int // samples between amplitude snapshots
}

// NewDefaultParams creates default parameters: a 4x4 mode grid tuned to
// 220 Hz at 48 kHz.
func NewDefaultParams() *Params {
	return &Params{
		SampleRate:        48000,
		F0:                220.0,
		ModesM:            4,
		ModesN:            4,
		DecayBase:         2.0,
		MasterGain:        1.0,
		MicX:              0.35,
		MicY:              0.35,
		ChordAttack:       0.0005,
		ChordRelease:      0.00025,
		SustainLevel:      0.3,
		DriveEnabled:      false,
		DriveFrequency:    110.0,
		DriveAmplitude:    0.2,
		DriveX:            0.5,
		DriveY:            0.5,
		TelemetryInterval: 128,
	}
}

// Validate rejects configurations that cannot produce a stable resonator
// bank. The engine fails closed: nothing is clamped here.
func (p *Params) Validate() error {
	if p.SampleRate <= 0 {
		return fmt.Errorf("membrane: sample_rate must be > 0, got %d", p.SampleRate)
	}
	if !isFinite(p.F0) || p.F0 <= 0 {
		return fmt.Errorf("membrane: f0 must be > 0, got %v", p.F0)
	}
	if p.ModesM < 1 || p.ModesN < 1 {
		return fmt.Errorf("membrane: mode grid must be at least 1x1, got %dx%d", p.ModesM, p.ModesN)
	}
	if !isFinite(p.DecayBase) || p.DecayBase <= 0 {
		return fmt.Errorf("membrane: decay_base must be > 0, got %v", p.DecayBase)
	}
	if p.MicX < 0 || p.MicX > 1 || p.MicY < 0 || p.MicY > 1 {
		return fmt.Errorf("membrane: mic position must lie in [0,1]^2, got (%v,%v)", p.MicX, p.MicY)
	}
	// The drive oscillator assumes a phase increment below pi, same bound
	// the bank enforces for mode frequencies.
	if !isFinite(p.DriveFrequency) || p.DriveFrequency <= 0 || float64(p.DriveFrequency) >= 0.5*float64(p.SampleRate) {
		return fmt.Errorf("membrane: drive_frequency must lie in (0, %v), got %v", 0.5*float64(p.SampleRate), p.DriveFrequency)
	}
	if !isFinite(p.DriveAmplitude) || p.DriveAmplitude < 0 {
		return fmt.Errorf("membrane: drive_amplitude must be >= 0, got %v", p.DriveAmplitude)
	}
	if p.DriveX < 0 || p.DriveX > 1 || p.DriveY < 0 || p.DriveY > 1 {
		return fmt.Errorf("membrane: drive position must lie in [0,1]^2, got (%v,%v)", p.DriveX, p.DriveY)
	}
	if p.TelemetryInterval < 0 {
		return fmt.Errorf("membrane: telemetry_interval must be >= 0, got %d", p.TelemetryInterval)
	}
	return nil
}
