package transcriber

import (
	"errors"
	"testing"
	"time"

	"callscribe/capture"
)

func defaultWindowConfig() WindowConfig {
	return WindowConfig{SampleRate: 16000, Window: 3 * time.Second, Overlap: 500 * time.Millisecond, MaxWindows: 8}
}

func feed(b *WindowBuffer, tsMs int64, samples int) {
	b.Append(capture.AudioChunk{Source: capture.Mic, TsMs: tsMs, Samples: make([]int16, samples)})
}

func TestWindowConfigSamples(t *testing.T) {
	cfg := defaultWindowConfig()
	if got := cfg.WindowSamples(); got != 48000 {
		t.Errorf("WindowSamples = %d, want 48000", got)
	}
	if got := cfg.StepSamples(); got != 40000 {
		t.Errorf("StepSamples = %d, want 40000", got)
	}
}

func TestWindowConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     WindowConfig
		wantErr bool
	}{
		{"default", defaultWindowConfig(), false},
		{"no overlap", WindowConfig{SampleRate: 16000, Window: time.Second}, false},
		{"overlap equals window", WindowConfig{SampleRate: 16000, Window: time.Second, Overlap: time.Second}, true},
		{"overlap exceeds window", WindowConfig{SampleRate: 16000, Window: time.Second, Overlap: 2 * time.Second}, true},
		{"negative overlap", WindowConfig{SampleRate: 16000, Window: time.Second, Overlap: -time.Millisecond}, true},
		{"zero rate", WindowConfig{Window: time.Second}, true},
		{"zero window", WindowConfig{SampleRate: 16000}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidWindow) {
				t.Errorf("error %v does not wrap ErrInvalidWindow", err)
			}
		})
	}
}

func TestWindowBufferExactlyOneWindow(t *testing.T) {
	b := NewWindowBuffer(capture.Mic, defaultWindowConfig())
	for i := range 48 {
		feed(b, int64(i)*1000/16, 1000)
	}

	w, ok := b.Next()
	if !ok {
		t.Fatal("expected a window after 3s of samples")
	}
	if w.TsStartMs != 0 || w.TsEndMs != 3000 {
		t.Errorf("window = [%d, %d], want [0, 3000]", w.TsStartMs, w.TsEndMs)
	}
	if len(w.Samples) != 48000 || w.Length != 48000 || w.Final {
		t.Errorf("len=%d length=%d final=%v", len(w.Samples), w.Length, w.Final)
	}
	if _, ok := b.Next(); ok {
		t.Error("second window from 3s of audio")
	}
	if _, ok := b.Flush(); ok {
		t.Error("flush re-emitted samples already covered by a window")
	}
}

func TestWindowBufferStepSpacing(t *testing.T) {
	b := NewWindowBuffer(capture.Mic, defaultWindowConfig())
	feed(b, 0, 160000) // 10s

	var starts []int64
	for {
		w, ok := b.Next()
		if !ok {
			break
		}
		if w.TsEndMs-w.TsStartMs != 3000 {
			t.Errorf("window span = %d", w.TsEndMs-w.TsStartMs)
		}
		starts = append(starts, w.TsStartMs)
	}
	want := []int64{0, 2500, 5000}
	if len(starts) != len(want) {
		t.Fatalf("starts = %v, want %v", starts, want)
	}
	for i := range want {
		if starts[i] != want[i] {
			t.Errorf("starts[%d] = %d, want %d", i, starts[i], want[i])
		}
	}

	w, ok := b.Flush()
	if !ok {
		t.Fatal("expected a final window for the uncovered tail")
	}
	if w.TsStartMs != 7500 || w.TsEndMs != 10000 || !w.Final {
		t.Errorf("final = [%d, %d] final=%v, want [7500, 10000] final", w.TsStartMs, w.TsEndMs, w.Final)
	}
	if b.Len() != 0 {
		t.Errorf("buffer holds %d samples after flush", b.Len())
	}
}

func TestWindowBufferFlushPartial(t *testing.T) {
	b := NewWindowBuffer(capture.Mic, defaultWindowConfig())
	feed(b, 40, 20000)

	if _, ok := b.Next(); ok {
		t.Fatal("window from 20000 samples")
	}
	w, ok := b.Flush()
	if !ok {
		t.Fatal("no final window")
	}
	if got := w.TsEndMs - w.TsStartMs; got != 20000*1000/16000 {
		t.Errorf("span = %d, want 1250", got)
	}
	if w.TsStartMs != 40 {
		t.Errorf("start = %d, want origin 40", w.TsStartMs)
	}
	if len(w.Samples) != 48000 || w.Length != 20000 {
		t.Errorf("samples len=%d length=%d, want padded 48000 with 20000 real", len(w.Samples), w.Length)
	}
	if _, ok := b.Flush(); ok {
		t.Error("second flush emitted again")
	}
}

func TestWindowBufferFlushEmpty(t *testing.T) {
	b := NewWindowBuffer(capture.Mic, defaultWindowConfig())
	if _, ok := b.Flush(); ok {
		t.Error("flush of empty buffer emitted a window")
	}
	feed(b, 0, 10) // under a millisecond
	if _, ok := b.Flush(); ok {
		t.Error("flush of sub-millisecond remainder emitted a window")
	}
}

func TestWindowBufferOriginFromFirstChunk(t *testing.T) {
	b := NewWindowBuffer(capture.Loopback, defaultWindowConfig())
	feed(b, 120, 24000)
	feed(b, 9999, 24000) // later chunk timestamps never move the origin

	w, ok := b.Next()
	if !ok {
		t.Fatal("no window")
	}
	if w.TsStartMs != 120 || w.TsEndMs != 3120 {
		t.Errorf("window = [%d, %d], want [120, 3120]", w.TsStartMs, w.TsEndMs)
	}
	if w.Source != capture.Loopback {
		t.Errorf("source = %v", w.Source)
	}
}

func TestWindowBufferOverflow(t *testing.T) {
	cfg := WindowConfig{SampleRate: 1000, Window: 3 * time.Second, Overlap: time.Second, MaxWindows: 1}
	b := NewWindowBuffer(capture.Mic, cfg)

	if n := b.Append(capture.AudioChunk{Samples: make([]int16, 5000)}); n != 2000 {
		t.Fatalf("discarded %d, want 2000", n)
	}
	if b.Len() != 3000 || b.Consumed() != 2000 || b.Discarded() != 2000 {
		t.Errorf("len=%d consumed=%d discarded=%d", b.Len(), b.Consumed(), b.Discarded())
	}
	w, ok := b.Next()
	if !ok {
		t.Fatal("no window")
	}
	if w.TsStartMs != 2000 {
		t.Errorf("start = %d, want 2000 after discarding 2s", w.TsStartMs)
	}
}

func TestWindowBufferKeepsSampleOrder(t *testing.T) {
	cfg := WindowConfig{SampleRate: 10, Window: time.Second, Overlap: 500 * time.Millisecond}
	b := NewWindowBuffer(capture.Mic, cfg)
	samples := make([]int16, 15)
	for i := range samples {
		samples[i] = int16(i)
	}
	b.Append(capture.AudioChunk{Samples: samples})

	w1, _ := b.Next()
	w2, _ := b.Next()
	if w1.Samples[0] != 0 || w1.Samples[9] != 9 {
		t.Errorf("first window = %v", w1.Samples)
	}
	if w2.Samples[0] != 5 || w2.Samples[9] != 14 {
		t.Errorf("second window = %v", w2.Samples)
	}
}
