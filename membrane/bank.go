package membrane

import "fmt"

// bank is the fixed-size, ordered collection of modes. The order is row-major
// over the (m,n) grid and never changes after construction; every parallel
// per-mode array in the engine (chord targets, telemetry snapshots) uses the
// same enumeration.
type bank struct {
	modes      []mode
	modesM     int
	modesN     int
	sampleRate int
	f0         float32
}

// newBank builds the modal bank from validated params and rejects any
// configuration that would yield a non-decaying (R >= 1) or aliasing
// resonator. This is the only place coefficients are checked; the per-sample
// loop trusts them.
func newBank(p *Params) (*bank, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	nyquist := 0.5 * float64(p.SampleRate)
	modes := make([]mode, 0, p.ModesM*p.ModesN)
	for m := 1; m <= p.ModesM; m++ {
		for n := 1; n <= p.ModesN; n++ {
			md := newMode(m, n, float64(p.F0), p.SampleRate, float64(p.DecayBase))
			if float64(md.freq) >= nyquist*0.95 {
				return nil, fmt.Errorf("membrane: mode (%d,%d) at %.1f Hz exceeds the usable band below Nyquist (%.1f Hz); reduce the mode grid or f0, or raise the sample rate",
					m, n, md.freq, nyquist)
			}
			if r := md.radius(); !(r > 0 && r < 1) {
				return nil, fmt.Errorf("membrane: mode (%d,%d) has resonator radius %v outside (0,1)", m, n, r)
			}
			modes = append(modes, md)
		}
	}

	return &bank{
		modes:      modes,
		modesM:     p.ModesM,
		modesN:     p.ModesN,
		sampleRate: p.SampleRate,
		f0:         p.F0,
	}, nil
}

// index maps a (m,n) pair to the bank's enumeration order.
func (b *bank) index(m, n int) (int, bool) {
	if m < 1 || m > b.modesM || n < 1 || n > b.modesN {
		return 0, false
	}
	return (m-1)*b.modesN + (n - 1), true
}

func (b *bank) count() int {
	return len(b.modes)
}
