package encoder

import (
	"fmt"
	"io"
	"sync"

	"github.com/mewkiz/flac"
	"github.com/mewkiz/flac/frame"
	"github.com/mewkiz/flac/meta"
)

// FlacEncoder streams mono PCM16 into FLAC frames of BlockSize samples.
// Samples that do not fill a block are held until the next Write or Close.
type FlacEncoder struct {
	enc         *flac.Encoder
	sampleRate  int
	pending     []int16
	totalFrames uint64
	mu          sync.Mutex
}

// NewFlac writes the stream header to w immediately. If w is an io.WriteSeeker
// the header's sample count is patched on Close.
func NewFlac(w io.Writer, sampleRate int) (*FlacEncoder, error) {
	if sampleRate <= 0 {
		sampleRate = SampleRate
	}
	info := &meta.StreamInfo{
		BlockSizeMin:  BlockSize,
		BlockSizeMax:  BlockSize,
		SampleRate:    uint32(sampleRate),
		NChannels:     Channels,
		BitsPerSample: BitsPerSample,
	}
	enc, err := flac.NewEncoder(w, info)
	if err != nil {
		return nil, fmt.Errorf("creating flac encoder: %w", err)
	}
	enc.EnablePredictionAnalysis(true)
	return &FlacEncoder{enc: enc, sampleRate: sampleRate}, nil
}

func (e *FlacEncoder) Write(samples []int16) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.pending = append(e.pending, samples...)
	for len(e.pending) >= BlockSize {
		if err := e.encodeBlock(e.pending[:BlockSize]); err != nil {
			return err
		}
		n := copy(e.pending, e.pending[BlockSize:])
		e.pending = e.pending[:n]
	}
	return nil
}

func (e *FlacEncoder) encodeBlock(block []int16) error {
	samples32 := make([]int32, len(block))
	for i, s := range block {
		samples32[i] = int32(s)
	}

	subframe := &frame.Subframe{
		SubHeader: frame.SubHeader{
			Pred: frame.PredVerbatim,
		},
		Samples:  samples32,
		NSamples: len(block),
	}

	f := &frame.Frame{
		Header: frame.Header{
			BlockSize:     uint16(len(block)),
			SampleRate:    uint32(e.sampleRate),
			Channels:      frame.ChannelsMono,
			BitsPerSample: BitsPerSample,
		},
		Subframes: []*frame.Subframe{subframe},
	}

	if err := e.enc.WriteFrame(f); err != nil {
		return fmt.Errorf("writing flac frame: %w", err)
	}
	e.totalFrames += uint64(len(block))
	return nil
}

// Close flushes the partial block and finalizes the stream. The writer
// passed to NewFlac is closed too when it is an io.Closer.
func (e *FlacEncoder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.pending) > 0 {
		if err := e.encodeBlock(e.pending); err != nil {
			return err
		}
		e.pending = nil
	}
	return e.enc.Close()
}

func (e *FlacEncoder) TotalFrames() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.totalFrames
}
