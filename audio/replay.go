package audio

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"callscribe/encoder"
)

// FileSource replays a PCM16 WAV file through the capture contract. Once the
// file is exhausted it keeps delivering silence and Done is closed.
type FileSource struct {
	path     string
	samples  []int16
	format   Format
	realtime bool

	pos      int
	next     time.Time
	done     chan struct{}
	doneOnce sync.Once
}

func NewFileSource(path string, realtime bool) (*FileSource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	samples, info, err := encoder.DecodeWAV(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &FileSource{
		path:     path,
		samples:  samples,
		format:   Format{SampleRate: info.SampleRate, Channels: info.Channels},
		realtime: realtime,
		done:     make(chan struct{}),
	}, nil
}

func (f *FileSource) Read(ctx context.Context, frames int) ([]int16, error) {
	if f.realtime {
		interval := time.Duration(frames) * time.Second / time.Duration(f.format.SampleRate)
		if f.next.IsZero() {
			f.next = time.Now()
		}
		f.next = f.next.Add(interval)
		timer := time.NewTimer(time.Until(f.next))
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}
	} else if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := make([]int16, frames*f.format.Channels)
	n := copy(out, f.samples[f.pos:])
	f.pos += n
	if f.pos >= len(f.samples) {
		f.doneOnce.Do(func() { close(f.done) })
	}
	return out, nil
}

// Done is closed after the last file sample has been read.
func (f *FileSource) Done() <-chan struct{} { return f.done }

func (f *FileSource) Format() Format { return f.format }
func (f *FileSource) Name() string   { return f.path }
func (f *FileSource) Mode() string   { return ModeReplay }
func (f *FileSource) Close() error   { return nil }

// FileOpener hands out one FileSource per Open call.
type FileOpener struct {
	Path     string
	Realtime bool

	mu      sync.Mutex
	sources []*FileSource
}

func (o *FileOpener) Open(_ Request) (FrameSource, error) {
	src, err := NewFileSource(o.Path, o.Realtime)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}
	o.mu.Lock()
	o.sources = append(o.sources, src)
	o.mu.Unlock()
	return src, nil
}

// Done is closed once the most recently opened source is exhausted. Nil
// before the first Open.
func (o *FileOpener) Done() <-chan struct{} {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.sources) == 0 {
		return nil
	}
	return o.sources[len(o.sources)-1].Done()
}
