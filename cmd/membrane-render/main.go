package main

import (
	"flag"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/R1704/membrane/internal/wavio"
	"github.com/R1704/membrane/membrane"
	"github.com/R1704/membrane/preset"
)

func main() {
	// Command-line flags
	f0 := flag.Float64("f0", 220.0, "Fundamental frequency of the (1,1) mode in Hz")
	modesM := flag.Int("modes-m", 4, "Mode grid width")
	modesN := flag.Int("modes-n", 4, "Mode grid height")
	decayBase := flag.Float64("decay-base", 2.0, "Decay time of the fundamental in seconds")
	micX := flag.Float64("mic-x", 0.35, "Listening position X in [0,1]")
	micY := flag.Float64("mic-y", 0.35, "Listening position Y in [0,1]")
	strikeX := flag.Float64("strike-x", 0.5, "Strike position X in [0,1]")
	strikeY := flag.Float64("strike-y", 0.5, "Strike position Y in [0,1]")
	strikeGain := flag.Float64("strike-gain", 1.0, "Strike strength")
	chord := flag.String("chord", "", "Comma-separated per-mode chord targets (e.g. 1,0,0.5)")
	chordSustain := flag.Bool("chord-sustain", true, "Sustain the chord instead of a one-shot accent")
	chordRelease := flag.Float64("chord-release-after", 0.0, "Release the chord after this many seconds (0 = hold)")
	driveFreq := flag.Float64("drive-freq", 0.0, "Continuous drive frequency in Hz (0 = off)")
	driveAmp := flag.Float64("drive-amp", 0.2, "Drive amplitude")
	driveX := flag.Float64("drive-x", 0.5, "Drive position X in [0,1]")
	driveY := flag.Float64("drive-y", 0.5, "Drive position Y in [0,1]")
	gain := flag.Float64("gain", 1.0, "Master gain")
	duration := flag.Float64("duration", 2.0, "Duration in seconds")
	decayDBFS := flag.Float64("decay-dbfs", math.Inf(1), "Auto-stop when block RMS falls below this dBFS (e.g. -90). Disabled by default")
	decayHoldBlocks := flag.Int("decay-hold-blocks", 6, "Consecutive below-threshold blocks required to stop in auto-decay mode")
	minDuration := flag.Float64("min-duration", 0.5, "Minimum render duration in seconds when using -decay-dbfs")
	maxDuration := flag.Float64("max-duration", 20.0, "Maximum render duration in seconds when using -decay-dbfs")
	sampleRate := flag.Int("sample-rate", 48000, "Render sample rate in Hz")
	outRate := flag.Int("out-rate", 0, "Resample the output to this rate (0 = keep render rate)")
	presetPath := flag.String("preset", "", "Preset JSON file path (flags override preset values)")
	stereo := flag.Bool("stereo", false, "Duplicate the mono render onto two channels")
	output := flag.String("output", "output.wav", "Output WAV file path")
	flag.Parse()

	params := membrane.NewDefaultParams()
	if *presetPath != "" {
		p, err := preset.LoadJSON(*presetPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading preset %q: %v\n", *presetPath, err)
			os.Exit(1)
		}
		params = p
	}

	// Explicit flags win over the preset.
	seen := map[string]bool{}
	flag.Visit(func(f *flag.Flag) { seen[f.Name] = true })
	if *presetPath == "" || seen["f0"] {
		params.F0 = float32(*f0)
	}
	if *presetPath == "" || seen["modes-m"] {
		params.ModesM = *modesM
	}
	if *presetPath == "" || seen["modes-n"] {
		params.ModesN = *modesN
	}
	if *presetPath == "" || seen["decay-base"] {
		params.DecayBase = float32(*decayBase)
	}
	if *presetPath == "" || seen["mic-x"] {
		params.MicX = float32(*micX)
	}
	if *presetPath == "" || seen["mic-y"] {
		params.MicY = float32(*micY)
	}
	if *presetPath == "" || seen["gain"] {
		params.MasterGain = float32(*gain)
	}
	if *presetPath == "" || seen["sample-rate"] {
		params.SampleRate = *sampleRate
	}
	if *driveFreq > 0 {
		params.DriveEnabled = true
		params.DriveFrequency = float32(*driveFreq)
		params.DriveAmplitude = float32(*driveAmp)
		params.DriveX = float32(*driveX)
		params.DriveY = float32(*driveY)
	}

	e, err := membrane.NewEngine(params)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating engine: %v\n", err)
		os.Exit(1)
	}
	sr := e.SampleRate()

	fmt.Printf("Rendering %dx%d modes, f0 %.1f Hz, strike (%.2f,%.2f) at %d Hz...\n",
		params.ModesM, params.ModesN, params.F0, *strikeX, *strikeY, sr)

	if *strikeGain != 0 {
		e.StrikeAt(float32(*strikeX), float32(*strikeY), float32(*strikeGain))
	}
	chordReleaseFrame := -1
	if *chord != "" {
		targets, err := parseChord(*chord, e.ModeCount())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error parsing -chord: %v\n", err)
			os.Exit(1)
		}
		e.SetChord(targets, *chordSustain)
		if *chordSustain && *chordRelease > 0 {
			chordReleaseFrame = int(*chordRelease * float64(sr))
		}
	}

	blockSize := 128
	autoStop := !math.IsInf(*decayDBFS, 1)

	var totalFrames int
	if !autoStop {
		totalFrames = int(float64(sr) * (*duration))
		if totalFrames < 1 {
			totalFrames = 1
		}
	}

	initialFrames := totalFrames
	if autoStop {
		initialFrames = int(float64(sr) * (*minDuration))
		if initialFrames < blockSize {
			initialFrames = blockSize
		}
	}
	samples := make([]float32, 0, initialFrames)

	framesRendered := 0
	chordReleased := false
	renderBlock := func(frames int) []float32 {
		if chordReleaseFrame >= 0 && !chordReleased && framesRendered >= chordReleaseFrame {
			e.ClearChord()
			chordReleased = true
		}
		block := e.Process(frames)
		framesRendered += frames
		return block
	}

	if autoStop {
		minFrames := int(float64(sr) * (*minDuration))
		maxFrames := int(float64(sr) * (*maxDuration))
		if maxFrames < minFrames {
			maxFrames = minFrames
		}
		if maxFrames < 1 {
			maxFrames = blockSize
		}
		if *decayHoldBlocks < 1 {
			*decayHoldBlocks = 1
		}

		thresholdLin := math.Pow(10.0, *decayDBFS/20.0)
		belowCount := 0
		for framesRendered < maxFrames {
			framesToRender := blockSize
			if framesRendered+framesToRender > maxFrames {
				framesToRender = maxFrames - framesRendered
			}
			block := renderBlock(framesToRender)
			samples = append(samples, block...)

			if framesRendered >= minFrames {
				if wavio.RMS(block) < thresholdLin {
					belowCount++
					if belowCount >= *decayHoldBlocks {
						break
					}
				} else {
					belowCount = 0
				}
			}
		}
		totalFrames = framesRendered
		fmt.Printf("Auto-stop at %d frames (%.3fs), threshold %.1f dBFS\n",
			totalFrames, float64(totalFrames)/float64(sr), *decayDBFS)
	} else {
		for framesRendered < totalFrames {
			framesToRender := blockSize
			if framesRendered+framesToRender > totalFrames {
				framesToRender = totalFrames - framesRendered
			}
			samples = append(samples, renderBlock(framesToRender)...)
		}
	}

	writeRate := sr
	if *outRate > 0 && *outRate != sr {
		wide, err := wavio.ResampleIfNeeded(wavio.MonoTo64(samples), sr, *outRate)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error resampling to %d Hz: %v\n", *outRate, err)
			os.Exit(1)
		}
		samples = samples[:0]
		for _, v := range wide {
			samples = append(samples, float32(v))
		}
		writeRate = *outRate
	}

	write := wavio.WriteMono
	if *stereo {
		write = wavio.WriteStereoDup
	}
	if err := write(*output, samples, writeRate); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing WAV file: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Successfully wrote %s (%d frames)\n", *output, len(samples))
}

func parseChord(s string, modeCount int) ([]float32, error) {
	parts := strings.Split(s, ",")
	if len(parts) > modeCount {
		return nil, fmt.Errorf("%d targets for %d modes", len(parts), modeCount)
	}
	out := make([]float32, len(parts))
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 32)
		if err != nil {
			return nil, fmt.Errorf("target %d: %v", i, err)
		}
		out[i] = float32(v)
	}
	return out, nil
}
