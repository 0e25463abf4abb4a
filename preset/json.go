package preset

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/R1704/membrane/membrane"
)

// File is the JSON schema for membrane presets. Every field is optional;
// absent fields keep the default (or previous) value, so a preset can
// override a single knob without restating the rest.
type File struct {
	SampleRate *int     `json:"sample_rate"`
	F0         *float32 `json:"f0"`
	ModesM     *int     `json:"modes_m"`
	ModesN     *int     `json:"modes_n"`
	DecayBase  *float32 `json:"decay_base"`

	MasterGain *float32 `json:"master_gain"`
	MicX       *float32 `json:"mic_x"`
	MicY       *float32 `json:"mic_y"`

	ChordAttack  *float32 `json:"chord_attack"`
	ChordRelease *float32 `json:"chord_release"`
	SustainLevel *float32 `json:"sustain_level"`

	DriveEnabled   *bool    `json:"drive_enabled"`
	DriveFrequency *float32 `json:"drive_frequency"`
	DriveAmplitude *float32 `json:"drive_amplitude"`
	DriveX         *float32 `json:"drive_x"`
	DriveY         *float32 `json:"drive_y"`

	TelemetryInterval *int `json:"telemetry_interval"`
}

// LoadJSON loads a preset JSON file and applies it on top of default params.
func LoadJSON(path string) (*membrane.Params, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var f File
	if err := json.Unmarshal(b, &f); err != nil {
		return nil, err
	}

	p := membrane.NewDefaultParams()
	if err := ApplyFile(p, &f); err != nil {
		return nil, err
	}
	return p, nil
}

// ApplyFile applies a parsed preset file onto an existing params object.
// Field-level sanity checks reject obviously broken values early; the full
// stability check still happens in Params.Validate at engine construction.
func ApplyFile(dst *membrane.Params, f *File) error {
	if dst == nil {
		return fmt.Errorf("nil destination params")
	}
	if f == nil {
		return nil
	}

	if f.SampleRate != nil {
		if *f.SampleRate <= 0 {
			return fmt.Errorf("sample_rate must be > 0")
		}
		dst.SampleRate = *f.SampleRate
	}
	if f.F0 != nil {
		if *f.F0 <= 0 {
			return fmt.Errorf("f0 must be > 0")
		}
		dst.F0 = *f.F0
	}
	if f.ModesM != nil {
		if *f.ModesM < 1 {
			return fmt.Errorf("modes_m must be >= 1")
		}
		dst.ModesM = *f.ModesM
	}
	if f.ModesN != nil {
		if *f.ModesN < 1 {
			return fmt.Errorf("modes_n must be >= 1")
		}
		dst.ModesN = *f.ModesN
	}
	if f.DecayBase != nil {
		if *f.DecayBase <= 0 {
			return fmt.Errorf("decay_base must be > 0")
		}
		dst.DecayBase = *f.DecayBase
	}
	if f.MasterGain != nil {
		if *f.MasterGain < 0 {
			return fmt.Errorf("master_gain must be >= 0")
		}
		dst.MasterGain = *f.MasterGain
	}
	if f.MicX != nil {
		if *f.MicX < 0 || *f.MicX > 1 {
			return fmt.Errorf("mic_x must be in [0,1]")
		}
		dst.MicX = *f.MicX
	}
	if f.MicY != nil {
		if *f.MicY < 0 || *f.MicY > 1 {
			return fmt.Errorf("mic_y must be in [0,1]")
		}
		dst.MicY = *f.MicY
	}
	if f.ChordAttack != nil {
		if *f.ChordAttack < 0 || *f.ChordAttack > 1 {
			return fmt.Errorf("chord_attack must be in [0,1]")
		}
		dst.ChordAttack = *f.ChordAttack
	}
	if f.ChordRelease != nil {
		if *f.ChordRelease < 0 || *f.ChordRelease > 1 {
			return fmt.Errorf("chord_release must be in [0,1]")
		}
		dst.ChordRelease = *f.ChordRelease
	}
	if f.SustainLevel != nil {
		if *f.SustainLevel < 0 || *f.SustainLevel > 2 {
			return fmt.Errorf("sustain_level must be in [0,2]")
		}
		dst.SustainLevel = *f.SustainLevel
	}
	if f.DriveEnabled != nil {
		dst.DriveEnabled = *f.DriveEnabled
	}
	if f.DriveFrequency != nil {
		// sample_rate is applied above, so this checks against the rate
		// the preset will actually run at.
		if *f.DriveFrequency <= 0 || float64(*f.DriveFrequency) >= 0.5*float64(dst.SampleRate) {
			return fmt.Errorf("drive_frequency must be in (0, %v)", 0.5*float64(dst.SampleRate))
		}
		dst.DriveFrequency = *f.DriveFrequency
	}
	if f.DriveAmplitude != nil {
		if *f.DriveAmplitude < 0 {
			return fmt.Errorf("drive_amplitude must be >= 0")
		}
		dst.DriveAmplitude = *f.DriveAmplitude
	}
	if f.DriveX != nil {
		if *f.DriveX < 0 || *f.DriveX > 1 {
			return fmt.Errorf("drive_x must be in [0,1]")
		}
		dst.DriveX = *f.DriveX
	}
	if f.DriveY != nil {
		if *f.DriveY < 0 || *f.DriveY > 1 {
			return fmt.Errorf("drive_y must be in [0,1]")
		}
		dst.DriveY = *f.DriveY
	}
	if f.TelemetryInterval != nil {
		if *f.TelemetryInterval < 0 {
			return fmt.Errorf("telemetry_interval must be >= 0")
		}
		dst.TelemetryInterval = *f.TelemetryInterval
	}
	return nil
}

// FromParams converts params into a fully-populated preset file, for writing
// fitted or edited configurations back to disk.
func FromParams(p *membrane.Params) *File {
	return &File{
		SampleRate:        intPtr(p.SampleRate),
		F0:                f32Ptr(p.F0),
		ModesM:            intPtr(p.ModesM),
		ModesN:            intPtr(p.ModesN),
		DecayBase:         f32Ptr(p.DecayBase),
		MasterGain:        f32Ptr(p.MasterGain),
		MicX:              f32Ptr(p.MicX),
		MicY:              f32Ptr(p.MicY),
		ChordAttack:       f32Ptr(p.ChordAttack),
		ChordRelease:      f32Ptr(p.ChordRelease),
		SustainLevel:      f32Ptr(p.SustainLevel),
		DriveEnabled:      boolPtr(p.DriveEnabled),
		DriveFrequency:    f32Ptr(p.DriveFrequency),
		DriveAmplitude:    f32Ptr(p.DriveAmplitude),
		DriveX:            f32Ptr(p.DriveX),
		DriveY:            f32Ptr(p.DriveY),
		TelemetryInterval: intPtr(p.TelemetryInterval),
	}
}

// SaveJSON writes params as an indented preset file.
func SaveJSON(path string, p *membrane.Params) error {
	if err := p.Validate(); err != nil {
		return err
	}
	b, err := json.MarshalIndent(FromParams(p), "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(b, '\n'), 0o644)
}

func intPtr(v int) *int         { return &v }
func f32Ptr(v float32) *float32 { return &v }
func boolPtr(v bool) *bool      { return &v }
