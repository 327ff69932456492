package transcriber

import (
	"context"
	"fmt"
	"sync"
	"time"

	"callscribe/capture"
	"callscribe/log"
	"callscribe/metrics"
)

const (
	DefaultPollInterval     = 100 * time.Millisecond
	DefaultStopTimeout      = 2 * time.Second
	DefaultInferenceTimeout = 10 * time.Second
	DefaultMetricsEvery     = 10
)

type Config struct {
	Window           WindowConfig
	PollInterval     time.Duration
	StopTimeout      time.Duration
	InferenceTimeout time.Duration
	// MetricsEvery logs a metrics line after this many windows.
	MetricsEvery uint64
}

func (c *Config) setDefaults() {
	c.Window.setDefaults()
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.StopTimeout <= 0 {
		c.StopTimeout = DefaultStopTimeout
	}
	if c.InferenceTimeout <= 0 {
		c.InferenceTimeout = DefaultInferenceTimeout
	}
	if c.MetricsEvery == 0 {
		c.MetricsEvery = DefaultMetricsEvery
	}
}

// Worker drains a session's dispatch queue, cuts windows per source and
// runs them through the recognizer one at a time.
type Worker struct {
	cfg     Config
	rec     Recognizer
	metrics *metrics.Metrics
	hub     capture.Hub[TranscriptChunk]

	lifeMu sync.Mutex
	sess   *capture.Session
	cancel context.CancelFunc
	done   chan struct{}

	mu           sync.Mutex
	buffers      [len(capture.Sources)]*WindowBuffer
	windows      uint64
	failures     uint64
	totalLatency time.Duration
	lastLatency  time.Duration
}

func NewWorker(cfg Config, rec Recognizer, m *metrics.Metrics) (*Worker, error) {
	cfg.setDefaults()
	if err := cfg.Window.Validate(); err != nil {
		return nil, err
	}
	if rec == nil {
		rec = NewSimulated()
	}
	w := &Worker{cfg: cfg, rec: rec, metrics: m}
	w.resetBuffers()
	return w, nil
}

func (w *Worker) resetBuffers() {
	for _, src := range capture.Sources {
		w.buffers[src] = NewWindowBuffer(src, w.cfg.Window)
	}
}

func (w *Worker) Recognizer() Recognizer { return w.rec }

func (w *Worker) WindowConfig() WindowConfig { return w.cfg.Window }

// Subscribe registers fn for every transcript chunk. Calls are serialized.
func (w *Worker) Subscribe(fn func(TranscriptChunk)) func() {
	return w.hub.Subscribe(fn)
}

// Start launches the poll loop for sess. Counters and buffers restart.
func (w *Worker) Start(sess *capture.Session) error {
	w.lifeMu.Lock()
	defer w.lifeMu.Unlock()
	if w.sess != nil {
		return fmt.Errorf("transcriber: %w", capture.ErrAlreadyRunning)
	}

	w.mu.Lock()
	w.resetBuffers()
	w.windows, w.failures = 0, 0
	w.totalLatency, w.lastLatency = 0, 0
	w.mu.Unlock()

	if warmer, ok := w.rec.(interface{ Warm() }); ok {
		go warmer.Warm()
	}

	ctx, cancel := context.WithCancel(sess.Context())
	w.sess = sess
	w.cancel = cancel
	w.done = make(chan struct{})
	go w.run(ctx, sess, w.buffers, w.done)
	return nil
}

// run works on its own copy of the buffer set so an abandoned loop never
// touches the buffers of a later session.
func (w *Worker) run(ctx context.Context, sess *capture.Session, bufs [len(capture.Sources)]*WindowBuffer, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()
	for {
		if ctx.Err() != nil {
			return
		}
		// a window already cut is finished even if the session is stopping
		w.process(context.WithoutCancel(ctx), sess, bufs, sess.Queue.Drain(), false)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Stop cancels the loop and waits up to the stop timeout. Only after a
// clean join does it drain what is left in the queue and flush each
// source's remainder, so buffers are never touched by two goroutines. The
// flush gets one more stop timeout; windows it cannot reach are dropped.
func (w *Worker) Stop() error {
	w.lifeMu.Lock()
	defer w.lifeMu.Unlock()
	if w.sess == nil {
		return fmt.Errorf("transcriber: %w", capture.ErrNotRunning)
	}
	sess, cancel, done := w.sess, w.cancel, w.done
	w.sess, w.cancel, w.done = nil, nil, nil

	cancel()
	timer := time.NewTimer(w.cfg.StopTimeout)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
		log.StopTimeout("transcriber", w.cfg.StopTimeout)
		return fmt.Errorf("transcriber: %w", capture.ErrStopTimeout)
	}

	w.mu.Lock()
	bufs := w.buffers
	w.mu.Unlock()
	fctx, fcancel := context.WithTimeout(context.Background(), w.cfg.StopTimeout)
	defer fcancel()
	w.process(fctx, sess, bufs, sess.Queue.Drain(), true)
	return nil
}

func (w *Worker) process(ctx context.Context, sess *capture.Session, bufs [len(capture.Sources)]*WindowBuffer, chunks []capture.AudioChunk, flush bool) {
	var ready []Window
	var buffered [len(capture.Sources)]int

	w.mu.Lock()
	for _, c := range chunks {
		if n := bufs[c.Source].Append(c); n > 0 {
			log.Warnf("%s window buffer full, discarded %d oldest samples", c.Source, n)
		}
	}
	for _, src := range capture.Sources {
		b := bufs[src]
		for {
			win, ok := b.Next()
			if !ok {
				break
			}
			ready = append(ready, win)
		}
		if flush {
			if win, ok := b.Flush(); ok {
				ready = append(ready, win)
			}
		}
		buffered[src] = b.Len()
	}
	w.mu.Unlock()

	for _, src := range capture.Sources {
		w.metrics.SetBuffered(src.String(), buffered[src])
	}
	for i, win := range ready {
		if ctx.Err() != nil {
			log.Warnf("flush deadline passed, %d windows not transcribed", len(ready)-i)
			w.mu.Lock()
			w.failures += uint64(len(ready) - i)
			w.mu.Unlock()
			return
		}
		w.recognize(ctx, sess, win)
	}
}

func (w *Worker) recognize(ctx context.Context, sess *capture.Session, win Window) {
	ictx, cancel := context.WithTimeout(ctx, w.cfg.InferenceTimeout)
	start := time.Now()
	res, err := w.rec.Recognize(ictx, win.Samples)
	cancel()
	d := time.Since(start)

	name := win.Source.String()
	if err != nil {
		w.mu.Lock()
		w.failures++
		w.mu.Unlock()
		log.InferenceFailed(name, win.TsStartMs, err)
		w.metrics.RecordInferenceFailure(name, d)
		return
	}

	chunk := TranscriptChunk{
		SessionID:  sess.ID,
		Source:     win.Source,
		TsStartMs:  win.TsStartMs,
		TsEndMs:    win.TsEndMs,
		Text:       res.Text,
		Confidence: clamp01(res.Confidence),
		Final:      win.Final,
	}

	w.mu.Lock()
	w.windows++
	w.totalLatency += d
	w.lastLatency = d
	n := w.windows
	w.mu.Unlock()

	w.metrics.RecordWindow(name, d)
	log.Transcript(sess.ID, name, chunk.TsStartMs, chunk.TsEndMs, chunk.Text, chunk.Confidence)
	w.hub.Publish(chunk)

	if n%w.cfg.MetricsEvery == 0 {
		st := w.Stats()
		log.WindowMetrics(log.WindowStats{
			Windows:         st.Windows,
			AvgInferenceMs:  st.AvgInferenceMs,
			LastInferenceMs: st.LastInferenceMs,
			MicBuffered:     st.Buffered[capture.Mic],
			LoopbackBuffer:  st.Buffered[capture.Loopback],
			QueueLen:        sess.Queue.Len(),
			Dropped:         sess.Queue.Dropped(),
		})
	}
}

type Stats struct {
	Windows         uint64
	Failures        uint64
	AvgInferenceMs  float64
	LastInferenceMs float64
	Buffered        [len(capture.Sources)]int
	Discarded       [len(capture.Sources)]uint64
}

func (w *Worker) Stats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()
	st := Stats{
		Windows:         w.windows,
		Failures:        w.failures,
		LastInferenceMs: durationMs(w.lastLatency),
	}
	if w.windows > 0 {
		st.AvgInferenceMs = durationMs(w.totalLatency) / float64(w.windows)
	}
	for _, src := range capture.Sources {
		st.Buffered[src] = w.buffers[src].Len()
		st.Discarded[src] = w.buffers[src].Discarded()
	}
	return st
}

func durationMs(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
