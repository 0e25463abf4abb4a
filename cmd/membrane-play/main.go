// membrane-play renders a membrane live through the system audio device and
// takes excitation commands on stdin, one per line:
//
//	strike <x> <y> <gain>
//	mode <m> <n> <gain>
//	chord <t0,t1,...> [sustain|accent]
//	clear
//	drive <freq> <amp> <x> <y>  (freq 0 turns the drive off)
//	mic <x> <y>
//	gain <g>
//	reset
//	quit
package main

import (
	"bufio"
	"context"
	"encoding/binary"
	"flag"
	"fmt"
	"math"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/ebitengine/oto/v3"
	"golang.org/x/sync/errgroup"

	"github.com/R1704/membrane/membrane"
	"github.com/R1704/membrane/preset"
)

func main() {
	presetPath := flag.String("preset", "", "Preset JSON file path")
	f0 := flag.Float64("f0", 220.0, "Fundamental frequency in Hz")
	modesM := flag.Int("modes-m", 4, "Mode grid width")
	modesN := flag.Int("modes-n", 4, "Mode grid height")
	sampleRate := flag.Int("sample-rate", 48000, "Playback sample rate in Hz")
	showTelemetry := flag.Bool("telemetry", false, "Print per-mode amplitude snapshots")
	flag.Parse()

	params := membrane.NewDefaultParams()
	if *presetPath != "" {
		p, err := preset.LoadJSON(*presetPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading preset %q: %v\n", *presetPath, err)
			os.Exit(1)
		}
		params = p
	} else {
		params.F0 = float32(*f0)
		params.ModesM = *modesM
		params.ModesN = *modesN
		params.SampleRate = *sampleRate
	}

	e, err := membrane.NewEngine(params)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating engine: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-signalCh:
			fmt.Fprintf(os.Stderr, "Caught signal %s: shutting down...\n", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	otoCtx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   e.SampleRate(),
		ChannelCount: 1,
		Format:       oto.FormatFloat32LE,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening audio device: %v\n", err)
		os.Exit(1)
	}
	<-ready

	player := otoCtx.NewPlayer(&engineReader{engine: e})
	player.Play()
	defer player.Close()

	fmt.Printf("Playing %dx%d modes, f0 %.1f Hz at %d Hz. Type 'quit' to exit.\n",
		params.ModesM, params.ModesN, params.F0, e.SampleRate())

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return readCommands(ctx, cancel, e)
	})
	if *showTelemetry {
		g.Go(func() error {
			return printTelemetry(ctx, e)
		})
	}
	if err := g.Wait(); err != nil && err != context.Canceled {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// engineReader adapts the engine's block renderer to the io.Reader the audio
// device pulls from. Rendering happens on oto's playback goroutine, which is
// the engine's single render context.
type engineReader struct {
	engine *membrane.Engine
	buf    []float32
}

func (r *engineReader) Read(p []byte) (int, error) {
	frames := len(p) / 4
	if frames == 0 {
		return 0, nil
	}
	if len(r.buf) < frames {
		r.buf = make([]float32, frames)
	}
	samples := r.buf[:frames]
	r.engine.ProcessInto(samples)
	for i, s := range samples {
		binary.LittleEndian.PutUint32(p[i*4:], math.Float32bits(s))
	}
	return frames * 4, nil
}

func readCommands(ctx context.Context, cancel context.CancelFunc, e *membrane.Engine) error {
	lines := make(chan string)
	go func() {
		sc := bufio.NewScanner(os.Stdin)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		close(lines)
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				cancel()
				return nil
			}
			if err := applyLine(e, line); err != nil {
				if err == errQuit {
					cancel()
					return nil
				}
				fmt.Fprintf(os.Stderr, "%v\n", err)
			}
		}
	}
}

var errQuit = fmt.Errorf("quit")

func applyLine(e *membrane.Engine, line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}
	switch fields[0] {
	case "strike":
		x, y, g, err := three(fields[1:])
		if err != nil {
			return fmt.Errorf("strike: %v", err)
		}
		e.StrikeAt(x, y, g)
	case "mode":
		if len(fields) != 4 {
			return fmt.Errorf("mode: want <m> <n> <gain>")
		}
		m, err1 := strconv.Atoi(fields[1])
		n, err2 := strconv.Atoi(fields[2])
		g, err3 := parseF32(fields[3])
		if err1 != nil || err2 != nil || err3 != nil {
			return fmt.Errorf("mode: bad arguments %q", line)
		}
		e.StrikeMode(m, n, g)
	case "chord":
		if len(fields) < 2 {
			return fmt.Errorf("chord: want <t0,t1,...> [sustain|accent]")
		}
		targets, err := parseTargets(fields[1])
		if err != nil {
			return fmt.Errorf("chord: %v", err)
		}
		sustain := len(fields) < 3 || fields[2] == "sustain"
		e.SetChord(targets, sustain)
	case "clear":
		e.ClearChord()
	case "drive":
		if len(fields) != 5 {
			return fmt.Errorf("drive: want <freq> <amp> <x> <y>")
		}
		freq, err1 := parseF32(fields[1])
		amp, err2 := parseF32(fields[2])
		x, err3 := parseF32(fields[3])
		y, err4 := parseF32(fields[4])
		if err1 != nil || err2 != nil || err3 != nil || err4 != nil {
			return fmt.Errorf("drive: bad arguments %q", line)
		}
		e.SetDrive(freq > 0, freq, amp, x, y)
	case "mic":
		if len(fields) != 3 {
			return fmt.Errorf("mic: want <x> <y>")
		}
		x, err1 := parseF32(fields[1])
		y, err2 := parseF32(fields[2])
		if err1 != nil || err2 != nil {
			return fmt.Errorf("mic: bad arguments %q", line)
		}
		e.SetMicPosition(x, y)
	case "gain":
		if len(fields) != 2 {
			return fmt.Errorf("gain: want <g>")
		}
		g, err := parseF32(fields[1])
		if err != nil {
			return fmt.Errorf("gain: %v", err)
		}
		e.SetGain(g)
	case "reset":
		e.Reset()
	case "quit", "exit":
		return errQuit
	default:
		return fmt.Errorf("unknown command %q", fields[0])
	}
	return nil
}

func printTelemetry(ctx context.Context, e *membrane.Engine) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case snap := <-e.Telemetry():
			var b strings.Builder
			fmt.Fprintf(&b, "frame %d:", snap.Frame)
			for _, a := range snap.Amplitudes {
				fmt.Fprintf(&b, " %+.2f", a)
			}
			fmt.Println(b.String())
		}
	}
}

func three(fields []string) (float32, float32, float32, error) {
	if len(fields) != 3 {
		return 0, 0, 0, fmt.Errorf("want 3 arguments, got %d", len(fields))
	}
	a, err1 := parseF32(fields[0])
	b, err2 := parseF32(fields[1])
	c, err3 := parseF32(fields[2])
	if err1 != nil || err2 != nil || err3 != nil {
		return 0, 0, 0, fmt.Errorf("bad arguments %v", fields)
	}
	return a, b, c, nil
}

func parseF32(s string) (float32, error) {
	v, err := strconv.ParseFloat(s, 32)
	return float32(v), err
}

func parseTargets(s string) ([]float32, error) {
	parts := strings.Split(s, ",")
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
