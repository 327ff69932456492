package audio

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"time"
)

// NoiseSigma is the simulated noise level relative to full scale.
const NoiseSigma = 0.01

// NoiseSource synthesizes low-amplitude Gaussian noise in the given format,
// paced so each Read of n frames takes n/rate seconds of wall time.
type NoiseSource struct {
	format Format
	sigma  float64
	rng    *rand.Rand
	next   time.Time
	label  string
}

func NewNoiseSource(format Format, label string) *NoiseSource {
	if format.Channels < 1 {
		format.Channels = 1
	}
	return &NoiseSource{
		format: format,
		sigma:  NoiseSigma * math.MaxInt16,
		rng:    rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0x5eed)),
		label:  label,
	}
}

func (n *NoiseSource) Read(ctx context.Context, frames int) ([]int16, error) {
	interval := time.Duration(frames) * time.Second / time.Duration(n.format.SampleRate)
	now := time.Now()
	if n.next.IsZero() || n.next.Before(now.Add(-interval)) {
		n.next = now
	}
	n.next = n.next.Add(interval)

	timer := time.NewTimer(time.Until(n.next))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
	}

	out := make([]int16, frames*n.format.Channels)
	for i := range out {
		v := n.rng.NormFloat64() * n.sigma
		out[i] = int16(max(min(v, math.MaxInt16), math.MinInt16))
	}
	return out, nil
}

func (n *NoiseSource) Format() Format { return n.format }
func (n *NoiseSource) Mode() string   { return ModeSimulated }
func (n *NoiseSource) Close() error   { return nil }

func (n *NoiseSource) Name() string {
	if n.label == "" {
		return "simulated"
	}
	return "simulated " + n.label
}

// SimulatedOpener never opens hardware. Capture units built on it run on
// their fallback source from the start.
type SimulatedOpener struct{}

func (SimulatedOpener) Open(req Request) (FrameSource, error) {
	return nil, fmt.Errorf("%w: simulation requested", ErrDeviceUnavailable)
}
