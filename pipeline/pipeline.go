// Package pipeline wires capture, the dispatch queue and transcription into
// the session-level API consumed by downstream collaborators.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"callscribe/audio"
	"callscribe/capture"
	"callscribe/log"
	"callscribe/metrics"
	"callscribe/transcriber"
)

type Config struct {
	Capture     capture.Config
	Transcriber transcriber.Config
}

type Pipeline struct {
	coord  *capture.Coordinator
	worker *transcriber.Worker

	// lifeMu serializes Start and Stop; mu only guards the fields below so
	// subscribers can read them during a transition.
	lifeMu    sync.Mutex
	mu        sync.Mutex
	sessionID string
	started   time.Time
}

// New builds a pipeline. A nil opener makes that source simulated.
func New(cfg Config, mic, loopback audio.Opener, rec transcriber.Recognizer, m *metrics.Metrics) (*Pipeline, error) {
	if cfg.Transcriber.Window.SampleRate == 0 {
		cfg.Transcriber.Window.SampleRate = cfg.Capture.SampleRate
	}
	if cfg.Capture.SampleRate != 0 && cfg.Capture.SampleRate != cfg.Transcriber.Window.SampleRate {
		return nil, fmt.Errorf("capture rate %d differs from window rate %d",
			cfg.Capture.SampleRate, cfg.Transcriber.Window.SampleRate)
	}
	worker, err := transcriber.NewWorker(cfg.Transcriber, rec, m)
	if err != nil {
		return nil, err
	}
	return &Pipeline{
		coord:  capture.NewCoordinator(cfg.Capture, mic, loopback, m),
		worker: worker,
	}, nil
}

func (p *Pipeline) SubscribeAudio(fn func(capture.AudioChunk)) func() {
	return p.coord.SubscribeAudio(fn)
}

func (p *Pipeline) SubscribeTranscripts(fn func(transcriber.TranscriptChunk)) func() {
	return p.worker.Subscribe(fn)
}

func (p *Pipeline) SubscribeWarnings(fn func(capture.Warning)) func() {
	return p.coord.SubscribeWarnings(fn)
}

func (p *Pipeline) Coordinator() *capture.Coordinator { return p.coord }

// SessionID is the active session, or "" when stopped.
func (p *Pipeline) SessionID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sessionID
}

// Start begins capture and transcription for sessionID.
func (p *Pipeline) Start(ctx context.Context, sessionID string) error {
	p.lifeMu.Lock()
	defer p.lifeMu.Unlock()

	sess, err := p.coord.Start(ctx, sessionID)
	if err != nil {
		return err
	}
	if err := p.worker.Start(sess); err != nil {
		p.coord.Stop(sessionID)
		return err
	}
	p.mu.Lock()
	p.sessionID = sessionID
	p.started = time.Now()
	p.mu.Unlock()

	wc := p.worker.WindowConfig()
	log.SessionStart(sessionID, p.worker.Recognizer().Name(), wc.Window.Seconds(), wc.Overlap.Seconds())
	return nil
}

// Stop halts capture first so nothing new is queued, then lets the worker
// drain the queue and flush both window buffers. Timeouts are reported but
// never block shutdown past the configured bounds.
func (p *Pipeline) Stop(sessionID string) error {
	p.lifeMu.Lock()
	defer p.lifeMu.Unlock()

	sess := p.coord.Session()
	captureErr := p.coord.Stop(sessionID)
	if errors.Is(captureErr, capture.ErrNotRunning) || errors.Is(captureErr, capture.ErrSessionMismatch) {
		return captureErr
	}
	workerErr := p.worker.Stop()

	snap := p.snapshot(sess)
	log.SessionEnd(sessionID, log.SessionStats{
		MicChunks:         snap.Sources[capture.Mic].Chunks,
		LoopbackChunks:    snap.Sources[capture.Loopback].Chunks,
		Windows:           snap.Windows,
		InferenceFailures: snap.InferenceFailures,
		Dropped:           snap.Dropped,
		AvgInferenceMs:    snap.AvgInferenceMs,
		Duration:          p.uptime(),
	})
	p.mu.Lock()
	p.sessionID = ""
	p.mu.Unlock()
	return errors.Join(captureErr, workerErr)
}

func (p *Pipeline) uptime() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return time.Since(p.started)
}

type SourceSnapshot struct {
	Source   capture.Source
	State    capture.State
	Mode     string
	Device   string
	Chunks   uint64
	Samples  uint64
	Dropped  uint64
	LastTsMs int64
	Buffered int
}

// Snapshot is a point-in-time view of the running pipeline.
type Snapshot struct {
	SessionID         string
	Running           bool
	Uptime            time.Duration
	Backend           string
	SampleRate        int
	Sources           [len(capture.Sources)]SourceSnapshot
	SyncDriftMs       int64
	QueueLen          int
	QueueCap          int
	Dropped           uint64
	Windows           uint64
	InferenceFailures uint64
	AvgInferenceMs    float64
	LastInferenceMs   float64
}

func (p *Pipeline) Metrics() Snapshot {
	return p.snapshot(p.coord.Session())
}

func (p *Pipeline) snapshot(sess *capture.Session) Snapshot {
	cs := p.coord.Stats()
	ws := p.worker.Stats()

	snap := Snapshot{
		SessionID:         cs.SessionID,
		Running:           cs.Running,
		Backend:           p.worker.Recognizer().Name(),
		SampleRate:        p.worker.WindowConfig().SampleRate,
		SyncDriftMs:       cs.SyncDriftMs,
		QueueLen:          cs.QueueLen,
		QueueCap:          cs.QueueCap,
		Dropped:           cs.Dropped,
		Windows:           ws.Windows,
		InferenceFailures: ws.Failures,
		AvgInferenceMs:    ws.AvgInferenceMs,
		LastInferenceMs:   ws.LastInferenceMs,
	}
	if cs.Running && sess != nil {
		snap.Uptime = time.Since(sess.T0)
	}
	for _, src := range capture.Sources {
		s := cs.Sources[src]
		snap.Sources[src] = SourceSnapshot{
			Source:   src,
			State:    s.State,
			Mode:     s.Mode,
			Device:   s.Device,
			Chunks:   s.Chunks,
			Dropped:  s.Dropped,
			LastTsMs: s.LastTsMs,
			Buffered: ws.Buffered[src],
		}
		if sess != nil {
			_, snap.Sources[src].Samples = sess.Counts(src)
		}
	}
	return snap
}
