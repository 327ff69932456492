// Package recorder persists raw capture audio as one FLAC file per session
// and source. It is an ordinary AudioChunk subscriber.
package recorder

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"

	"callscribe/capture"
	"callscribe/encoder"
	"callscribe/log"
)

const queueSize = 256

type trackKey struct {
	session string
	source  capture.Source
}

type track struct {
	enc *encoder.FlacEncoder
}

// Recorder writes on its own goroutine so a slow disk never stalls capture.
// Chunks that arrive while its queue is full are dropped and counted.
type Recorder struct {
	dir     string
	in      chan capture.AudioChunk
	done    chan struct{}
	dropped atomic.Uint64

	sendMu   sync.RWMutex
	closed   bool
	closeErr error

	mu     sync.Mutex
	tracks map[trackKey]*track
	paths  []string
	errs   []error
}

func New(dir string) (*Recorder, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create recording directory: %w", err)
	}
	r := &Recorder{
		dir:    dir,
		in:     make(chan capture.AudioChunk, queueSize),
		done:   make(chan struct{}),
		tracks: make(map[trackKey]*track),
	}
	go r.run()
	return r, nil
}

// Path is where the track for session and source is written.
func Path(dir, sessionID string, src capture.Source) string {
	return filepath.Join(dir, fmt.Sprintf("%s_%s.flac", sessionID, src))
}

// Add queues chunk for writing. Safe to pass to SubscribeAudio.
func (r *Recorder) Add(chunk capture.AudioChunk) {
	r.sendMu.RLock()
	defer r.sendMu.RUnlock()
	if r.closed {
		return
	}
	select {
	case r.in <- chunk:
	default:
		if n := r.dropped.Add(1); n == 1 || n%100 == 0 {
			log.Warnf("recorder queue full, dropped %d chunks", n)
		}
	}
}

func (r *Recorder) Dropped() uint64 { return r.dropped.Load() }

func (r *Recorder) run() {
	defer close(r.done)
	for chunk := range r.in {
		if err := r.write(chunk); err != nil {
			r.mu.Lock()
			r.errs = append(r.errs, err)
			r.mu.Unlock()
			log.Errorf("recorder: %v", err)
		}
	}
}

func (r *Recorder) write(chunk capture.AudioChunk) error {
	key := trackKey{session: chunk.SessionID, source: chunk.Source}
	r.mu.Lock()
	t, ok := r.tracks[key]
	r.mu.Unlock()
	if !ok {
		path := Path(r.dir, chunk.SessionID, chunk.Source)
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("create %s: %w", path, err)
		}
		enc, err := encoder.NewFlac(f, chunk.SampleRate)
		if err != nil {
			f.Close()
			return err
		}
		t = &track{enc: enc}
		r.mu.Lock()
		r.tracks[key] = t
		r.paths = append(r.paths, path)
		r.mu.Unlock()
		log.Infof("recording %s to %s", chunk.Source, path)
	}
	return t.enc.Write(chunk.Samples)
}

// Close writes everything queued, finalizes each FLAC stream and closes the
// files. Further Adds are ignored.
func (r *Recorder) Close() error {
	r.sendMu.Lock()
	defer r.sendMu.Unlock()
	if r.closed {
		return r.closeErr
	}
	r.closed = true
	close(r.in)
	<-r.done

	r.mu.Lock()
	defer r.mu.Unlock()
	errs := r.errs
	for _, t := range r.tracks {
		// the encoder closes the file it was created with
		if err := t.enc.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	r.closeErr = errors.Join(errs...)
	return r.closeErr
}

// Paths lists every file written so far, sorted.
func (r *Recorder) Paths() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := append([]string(nil), r.paths...)
	sort.Strings(out)
	return out
}
