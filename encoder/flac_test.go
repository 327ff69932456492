package encoder

import (
	"bytes"
	"io"
	"testing"

	"github.com/mewkiz/flac"
)

func TestFlacEncoderRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	enc, err := NewFlac(&buf, 16000)
	if err != nil {
		t.Fatalf("NewFlac: %v", err)
	}

	samples := make([]int16, BlockSize*2+100)
	for i := range samples {
		samples[i] = int16((i*37)%2000 - 1000)
	}
	// uneven writes exercise block accumulation
	for i := 0; i < len(samples); i += 1000 {
		end := min(i+1000, len(samples))
		if err := enc.Write(samples[i:end]); err != nil {
			t.Fatalf("Write at %d: %v", i, err)
		}
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if enc.TotalFrames() != uint64(len(samples)) {
		t.Errorf("TotalFrames = %d, want %d", enc.TotalFrames(), len(samples))
	}

	data := buf.Bytes()
	if len(data) < 4 || string(data[:4]) != "fLaC" {
		t.Fatal("output does not start with FLAC magic")
	}

	stream, err := flac.New(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("flac.New: %v", err)
	}
	if stream.Info.SampleRate != 16000 {
		t.Errorf("sample rate = %d", stream.Info.SampleRate)
	}
	var decoded []int16
	for {
		f, err := stream.ParseNext()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("ParseNext: %v", err)
		}
		for _, s := range f.Subframes[0].Samples {
			decoded = append(decoded, int16(s))
		}
	}
	if len(decoded) != len(samples) {
		t.Fatalf("decoded %d samples, want %d", len(decoded), len(samples))
	}
	for i := range samples {
		if decoded[i] != samples[i] {
			t.Fatalf("sample %d = %d, want %d", i, decoded[i], samples[i])
		}
	}
}

func TestFlacEncoderEmpty(t *testing.T) {
	var buf bytes.Buffer
	enc, err := NewFlac(&buf, 0)
	if err != nil {
		t.Fatalf("NewFlac: %v", err)
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("Close on empty encoder: %v", err)
	}
	if enc.TotalFrames() != 0 {
		t.Errorf("TotalFrames = %d, want 0", enc.TotalFrames())
	}
	if buf.Len() == 0 {
		t.Error("expected non-empty FLAC output (at least header)")
	}
}
