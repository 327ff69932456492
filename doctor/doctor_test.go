package doctor

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"callscribe/audio"
	"callscribe/transcriber"
)

type toneSource struct {
	format audio.Format
}

func (s *toneSource) Read(_ context.Context, frames int) ([]int16, error) {
	out := make([]int16, frames*s.format.Channels)
	for i := range out {
		if i%2 == 0 {
			out[i] = 4000
		} else {
			out[i] = -4000
		}
	}
	return out, nil
}

func (s *toneSource) Format() audio.Format { return s.format }
func (s *toneSource) Name() string         { return "tone" }
func (s *toneSource) Mode() string         { return audio.ModeDevice }
func (s *toneSource) Close() error         { return nil }

type toneOpener struct{ format audio.Format }

func (o toneOpener) Open(audio.Request) (audio.FrameSource, error) {
	return &toneSource{format: o.format}, nil
}

func TestRunAllPass(t *testing.T) {
	var out bytes.Buffer
	code := Run(context.Background(), Options{
		Mic:        toneOpener{audio.Format{SampleRate: 48000, Channels: 2}},
		Loopback:   toneOpener{audio.Format{SampleRate: 16000, Channels: 1}},
		Recognizer: transcriber.NewFake("hello", 0.9, nil),
		Listen:     100 * time.Millisecond,
		Out:        &out,
	})
	if code != 0 {
		t.Fatalf("exit code = %d, output:\n%s", code, out.String())
	}
	for _, want := range []string{"48000 Hz, 2 ch", "dBFS", "text: hello", "All checks passed"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("output missing %q:\n%s", want, out.String())
		}
	}
}

func TestRunUnavailableDevice(t *testing.T) {
	var out bytes.Buffer
	code := Run(context.Background(), Options{
		Mic:        audio.SimulatedOpener{},
		Loopback:   toneOpener{audio.Format{SampleRate: 16000, Channels: 1}},
		Recognizer: transcriber.NewFake("", 0, nil),
		Listen:     50 * time.Millisecond,
		Out:        &out,
	})
	if code != 1 {
		t.Fatalf("exit code = %d, want 1", code)
	}
	s := out.String()
	if !strings.Contains(s, "fall back to simulated audio") || !strings.Contains(s, "using silence") {
		t.Errorf("output:\n%s", s)
	}
}

func TestRunRecognizerFailure(t *testing.T) {
	var out bytes.Buffer
	code := Run(context.Background(), Options{
		Mic:        toneOpener{audio.Format{SampleRate: 16000, Channels: 1}},
		Loopback:   toneOpener{audio.Format{SampleRate: 16000, Channels: 1}},
		Recognizer: transcriber.NewFake("", 0, errors.New("quota exceeded")),
		Listen:     50 * time.Millisecond,
		Out:        &out,
	})
	if code != 1 || !strings.Contains(out.String(), "quota exceeded") {
		t.Errorf("code=%d output:\n%s", code, out.String())
	}
}

func TestDBFS(t *testing.T) {
	if got := dbfs(0); got != "-inf dBFS" {
		t.Errorf("dbfs(0) = %q", got)
	}
	if got := dbfs(1); got != "0.0 dBFS" {
		t.Errorf("dbfs(1) = %q", got)
	}
}
