package conditioner

import (
	"math"
	"math/rand/v2"
	"slices"
	"testing"
)

func TestDownmixMonoIdentity(t *testing.T) {
	x := []int16{1, -2, 300, math.MaxInt16, math.MinInt16}
	got := Downmix(x, 1)
	if !slices.Equal(got, x) {
		t.Errorf("got %v, want %v", got, x)
	}
}

func TestDownmixAverages(t *testing.T) {
	tests := []struct {
		name     string
		in       []int16
		channels int
		want     []int16
	}{
		{"stereo", []int16{100, 200, -100, -300}, 2, []int16{150, -200}},
		{"extremes", []int16{math.MaxInt16, math.MaxInt16, math.MinInt16, math.MinInt16}, 2, []int16{math.MaxInt16, math.MinInt16}},
		{"four channels", []int16{4, 8, 12, 16}, 4, []int16{10}},
		{"partial frame dropped", []int16{10, 20, 30}, 2, []int16{15}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Downmix(tt.in, tt.channels)
			if !slices.Equal(got, tt.want) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestResampleIdentity(t *testing.T) {
	x := make([]int16, 1000)
	for i := range x {
		x[i] = int16(rand.IntN(65536) - 32768)
	}
	for _, r := range []int{8000, 16000, 44100, 48000} {
		got := Resample(x, r, r)
		if !slices.Equal(got, x) {
			t.Errorf("rate %d: resample changed input", r)
		}
	}
	if got := Resample(nil, 48000, 16000); len(got) != 0 {
		t.Errorf("empty input: got %d samples", len(got))
	}
}

func TestResampleLength(t *testing.T) {
	tests := []struct {
		n, in, out int
	}{
		{1024, 48000, 16000},
		{1000, 44100, 16000},
		{441, 44100, 16000},
		{1, 48000, 16000},
		{160, 16000, 48000},
		{7, 22050, 16000},
	}
	for _, tt := range tests {
		x := make([]int16, tt.n)
		got := len(Resample(x, tt.in, tt.out))
		want := int(math.Ceil(float64(tt.n) * float64(tt.out) / float64(tt.in)))
		if got != want {
			t.Errorf("n=%d %d->%d: got len %d, want %d", tt.n, tt.in, tt.out, got, want)
		}
	}
}

func TestResampleInterpolates(t *testing.T) {
	got := Resample([]int16{0, 100}, 1, 2)
	want := []int16{0, 50, 100, 100}
	if !slices.Equal(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestResampleClips(t *testing.T) {
	x := []int16{math.MaxInt16, math.MaxInt16, math.MinInt16, math.MinInt16}
	for _, s := range Resample(x, 3, 7) {
		if s > math.MaxInt16 || s < math.MinInt16 {
			t.Fatalf("sample %d out of range", s)
		}
	}
}

// 48 kHz stereo in, 16 kHz mono out.
func TestConditionStereo48k(t *testing.T) {
	const frames = 4800
	x := make([]int16, frames*2)
	for i := range x {
		x[i] = int16(rand.IntN(2000) - 1000)
	}
	got := Condition(x, 2, 48000, 16000)
	want := int(math.Ceil(float64(frames) * 16000 / 48000))
	if len(got) != want {
		t.Errorf("got %d samples, want %d", len(got), want)
	}
}

func TestBytesRoundTrip(t *testing.T) {
	x := []int16{0, 1, -1, math.MaxInt16, math.MinInt16}
	b := Int16ToBytes(x)
	if len(b) != 10 {
		t.Fatalf("got %d bytes", len(b))
	}
	if got := BytesToInt16(append(b, 0x7f)); !slices.Equal(got, x) {
		t.Errorf("got %v, want %v", got, x)
	}
}

func TestRMS(t *testing.T) {
	if got := RMS(make([]int16, 100)); got != 0 {
		t.Errorf("silence rms = %f", got)
	}
	full := []int16{math.MinInt16, math.MinInt16}
	if got := RMS(full); math.Abs(got-1) > 1e-9 {
		t.Errorf("full scale rms = %f", got)
	}
}
