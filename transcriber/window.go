package transcriber

import (
	"errors"
	"fmt"
	"time"

	"callscribe/capture"
)

const (
	DefaultWindow     = 3 * time.Second
	DefaultOverlap    = 500 * time.Millisecond
	DefaultMaxWindows = 4
)

var ErrInvalidWindow = errors.New("invalid window config")

type WindowConfig struct {
	SampleRate int
	Window     time.Duration
	Overlap    time.Duration
	// MaxWindows bounds the buffer to this many window lengths.
	MaxWindows int
}

func (c WindowConfig) WindowSamples() int {
	return int(int64(c.SampleRate) * int64(c.Window) / int64(time.Second))
}

func (c WindowConfig) StepSamples() int {
	return int(int64(c.SampleRate) * int64(c.Window-c.Overlap) / int64(time.Second))
}

func (c WindowConfig) Validate() error {
	switch {
	case c.SampleRate <= 0:
		return fmt.Errorf("%w: sample rate %d", ErrInvalidWindow, c.SampleRate)
	case c.Window <= 0:
		return fmt.Errorf("%w: window %s", ErrInvalidWindow, c.Window)
	case c.Overlap < 0 || c.Overlap >= c.Window:
		return fmt.Errorf("%w: overlap %s must be in [0, %s)", ErrInvalidWindow, c.Overlap, c.Window)
	case c.StepSamples() <= 0:
		return fmt.Errorf("%w: step rounds to zero samples", ErrInvalidWindow)
	}
	return nil
}

func (c *WindowConfig) setDefaults() {
	if c.SampleRate <= 0 {
		c.SampleRate = 16000
	}
	if c.Window <= 0 {
		c.Window = DefaultWindow
	}
	if c.MaxWindows <= 0 {
		c.MaxWindows = DefaultMaxWindows
	}
}

// Window is one recognizer input. Samples is always WindowSamples long;
// Length is how many of them are real audio.
type Window struct {
	Source    capture.Source
	Samples   []int16
	Length    int
	TsStartMs int64
	TsEndMs   int64
	Final     bool
}

// WindowBuffer accumulates one source's samples and cuts overlapping
// windows from them. Timestamps derive from the consumed sample count and
// the first chunk's timestamp, never from wall clock. Not safe for
// concurrent use.
type WindowBuffer struct {
	cfg    WindowConfig
	source capture.Source

	buf       []int16
	consumed  int64
	covered   int64 // absolute sample index up to which a window was emitted
	origin    int64
	hasOrigin bool
	discarded uint64
}

func NewWindowBuffer(src capture.Source, cfg WindowConfig) *WindowBuffer {
	cfg.setDefaults()
	return &WindowBuffer{cfg: cfg, source: src}
}

// Append adds chunk samples and returns how many of the oldest samples were
// discarded to respect the buffer bound.
func (b *WindowBuffer) Append(chunk capture.AudioChunk) int {
	if len(chunk.Samples) == 0 {
		return 0
	}
	if !b.hasOrigin {
		b.origin = chunk.TsMs
		b.hasOrigin = true
	}
	b.buf = append(b.buf, chunk.Samples...)

	limit := b.cfg.MaxWindows * b.cfg.WindowSamples()
	if len(b.buf) <= limit {
		return 0
	}
	drop := len(b.buf) - limit
	b.buf = append(b.buf[:0], b.buf[drop:]...)
	b.consumed += int64(drop)
	b.discarded += uint64(drop)
	return drop
}

// Next cuts the next full window, if one is ready, and advances by one step.
func (b *WindowBuffer) Next() (Window, bool) {
	ws := b.cfg.WindowSamples()
	if len(b.buf) < ws {
		return Window{}, false
	}
	w := b.window(ws, false)
	b.covered = b.consumed + int64(ws)

	step := min(b.cfg.StepSamples(), len(b.buf))
	b.buf = append(b.buf[:0], b.buf[step:]...)
	b.consumed += int64(step)
	return w, true
}

// Flush returns a final window over whatever remains, padded for inference,
// when the remainder holds samples no emitted window has covered. The
// buffer is empty afterwards.
func (b *WindowBuffer) Flush() (Window, bool) {
	n := len(b.buf)
	end := b.consumed + int64(n)
	defer b.Reset()
	if n == 0 || end <= b.covered {
		return Window{}, false
	}
	// under a millisecond of audio has no usable timestamp span
	if int64(n)*1000/int64(b.cfg.SampleRate) == 0 {
		return Window{}, false
	}
	return b.window(n, true), true
}

func (b *WindowBuffer) window(n int, final bool) Window {
	ws := b.cfg.WindowSamples()
	samples := make([]int16, ws)
	copy(samples, b.buf[:n])
	rate := int64(b.cfg.SampleRate)
	start := b.origin + b.consumed*1000/rate
	return Window{
		Source:    b.source,
		Samples:   samples,
		Length:    n,
		TsStartMs: start,
		TsEndMs:   start + int64(n)*1000/rate,
		Final:     final,
	}
}

// Len is the number of buffered samples.
func (b *WindowBuffer) Len() int { return len(b.buf) }

// Consumed is the number of samples the buffer has advanced past.
func (b *WindowBuffer) Consumed() int64 { return b.consumed }

// Discarded counts samples dropped on overflow.
func (b *WindowBuffer) Discarded() uint64 { return b.discarded }

// Reset empties the buffer. Origin and consumed count survive so a later
// Append keeps the timeline.
func (b *WindowBuffer) Reset() {
	b.covered = b.consumed + int64(len(b.buf))
	b.consumed = b.covered
	b.buf = b.buf[:0]
}
