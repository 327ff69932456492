package doctor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"time"

	"callscribe/audio"
	"callscribe/conditioner"
	"callscribe/transcriber"
)

// latencyTarget is the per-window budget the pipeline is sized for.
const latencyTarget = 500 * time.Millisecond

type Options struct {
	Mic        audio.Opener
	Loopback   audio.Opener
	MicDevice  string
	LoopDevice string
	Recognizer transcriber.Recognizer
	SampleRate int
	// Listen is how long each endpoint is sampled.
	Listen time.Duration
	// Picker, when set, is used to choose both devices interactively.
	Picker audio.Context
	Out    io.Writer
}

// Run probes both capture endpoints and one recognizer window and returns an
// exit code (0=all pass, 1=any fail).
func Run(ctx context.Context, opts Options) int {
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	if opts.SampleRate <= 0 {
		opts.SampleRate = 16000
	}
	if opts.Listen <= 0 {
		opts.Listen = 3 * time.Second
	}
	out := opts.Out

	fmt.Fprintln(out, "callscribe doctor - capture and recognizer diagnostics")
	fmt.Fprintln(out, "======================================================")

	if opts.Picker != nil {
		if err := pick(opts.Picker, &opts); err != nil {
			fmt.Fprintf(out, "  FAIL: device selection: %v\n", err)
			return 1
		}
	}

	allPass := true

	fmt.Fprintln(out)
	fmt.Fprintln(out, "[1/3] Microphone")
	micSamples, ok := checkSource(ctx, out, opts.Mic, audio.Request{DeviceName: opts.MicDevice}, opts)
	if !ok {
		allPass = false
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, "[2/3] Loopback")
	if _, ok := checkSource(ctx, out, opts.Loopback, audio.Request{Loopback: true, DeviceName: opts.LoopDevice}, opts); !ok {
		allPass = false
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, "[3/3] Recognizer")
	if !checkRecognizer(ctx, out, opts.Recognizer, micSamples, opts.SampleRate) {
		allPass = false
	}

	fmt.Fprintln(out)
	if allPass {
		fmt.Fprintln(out, "All checks passed!")
		return 0
	}
	fmt.Fprintln(out, "Some checks failed. See details above.")
	return 1
}

func pick(actx audio.Context, opts *Options) error {
	defer resetTerminal()
	mic, err := audio.SelectDevice(actx, false)
	if err != nil {
		return err
	}
	loop, err := audio.SelectDevice(actx, true)
	if err != nil {
		return err
	}
	opts.MicDevice, opts.LoopDevice = mic.Name, loop.Name
	return nil
}

func checkSource(ctx context.Context, out io.Writer, opener audio.Opener, req audio.Request, opts Options) ([]int16, bool) {
	if opener == nil {
		opener = audio.SimulatedOpener{}
	}
	src, err := opener.Open(req)
	if err != nil {
		fmt.Fprintf(out, "  FAIL: %v\n", err)
		if errors.Is(err, audio.ErrDeviceUnavailable) {
			fmt.Fprintln(out, "  (capture would fall back to simulated audio)")
		}
		return nil, false
	}
	defer src.Close()

	f := src.Format()
	fmt.Fprintf(out, "  device: %s (%d Hz, %d ch, %s)\n", src.Name(), f.SampleRate, f.Channels, src.Mode())

	want := int(int64(opts.SampleRate) * int64(opts.Listen) / int64(time.Second))
	var samples []int16
	start := time.Now()
	for len(samples) < want {
		raw, err := src.Read(ctx, 1024)
		if err != nil {
			fmt.Fprintf(out, "  FAIL: read after %s: %v\n", time.Since(start).Round(time.Millisecond), err)
			return nil, false
		}
		samples = append(samples, conditioner.Condition(raw, f.Channels, f.SampleRate, opts.SampleRate)...)
	}

	rms := conditioner.RMS(samples)
	fmt.Fprintf(out, "  captured %.1fs, level %s\n", float64(len(samples))/float64(opts.SampleRate), dbfs(rms))
	if rms == 0 {
		fmt.Fprintln(out, "  WARN: endpoint delivered only silence")
	}
	fmt.Fprintln(out, "  PASS")
	return samples, true
}

func checkRecognizer(ctx context.Context, out io.Writer, rec transcriber.Recognizer, samples []int16, rate int) bool {
	if rec == nil {
		fmt.Fprintln(out, "  FAIL: no recognizer configured")
		return false
	}
	window := make([]int16, 3*rate)
	if len(samples) == 0 {
		fmt.Fprintln(out, "  no microphone audio, using silence")
	}
	copy(window, samples)

	start := time.Now()
	res, err := rec.Recognize(ctx, window)
	latency := time.Since(start)
	if err != nil {
		fmt.Fprintf(out, "  FAIL: %s: %v\n", rec.Name(), err)
		return false
	}

	text := res.Text
	if text == "" {
		text = "(no speech detected)"
	}
	fmt.Fprintf(out, "  backend: %s\n", rec.Name())
	fmt.Fprintf(out, "  text: %s (confidence %.2f)\n", text, res.Confidence)
	fmt.Fprintf(out, "  latency: %dms", latency.Milliseconds())
	if latency > latencyTarget {
		fmt.Fprintf(out, " (over the %dms target)", latencyTarget.Milliseconds())
	}
	fmt.Fprintln(out)
	if res.Metrics != nil {
		fmt.Fprintf(out, "  network: ttfb %dms, total %dms, reused=%v\n",
			res.Metrics.TTFB.Milliseconds(), res.Metrics.Total.Milliseconds(), res.Metrics.ConnReused)
	}
	fmt.Fprintln(out, "  PASS")
	return true
}

func dbfs(rms float64) string {
	if rms <= 0 {
		return "-inf dBFS"
	}
	return fmt.Sprintf("%.1f dBFS", 20*math.Log10(rms))
}
