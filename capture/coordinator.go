package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"callscribe/audio"
	"callscribe/dispatch"
	"callscribe/log"
	"callscribe/metrics"
)

const (
	DefaultStopTimeout    = 2 * time.Second
	DefaultEnqueueTimeout = 100 * time.Millisecond
	DefaultRingChunks     = 32
	DefaultDropLogEvery   = 50
)

type Config struct {
	SampleRate     int
	FrameChunkSize int
	Channels       int
	MicDevice      string
	LoopbackDevice string
	ReadTimeout    time.Duration
	StopTimeout    time.Duration
	RingChunks     int
	QueueCapacity  int
	EnqueueTimeout time.Duration
	DropLogEvery   uint64
}

func (c *Config) setDefaults() {
	if c.SampleRate <= 0 {
		c.SampleRate = 16000
	}
	if c.FrameChunkSize <= 0 {
		c.FrameChunkSize = 1024
	}
	if c.StopTimeout <= 0 {
		c.StopTimeout = DefaultStopTimeout
	}
	if c.RingChunks <= 0 {
		c.RingChunks = DefaultRingChunks
	}
	if c.QueueCapacity <= 0 {
		c.QueueCapacity = dispatch.DefaultCapacity
	}
	if c.EnqueueTimeout <= 0 {
		c.EnqueueTimeout = DefaultEnqueueTimeout
	}
	if c.DropLogEvery == 0 {
		c.DropLogEvery = DefaultDropLogEvery
	}
}

// Coordinator runs the mic and loopback units under one Session and fans
// every chunk out to the ring buffers, the audio subscribers and the
// session's dispatch queue.
type Coordinator struct {
	cfg     Config
	units   [len(Sources)]*Unit
	metrics *metrics.Metrics

	audioHub   Hub[AudioChunk]
	warningHub Hub[Warning]

	// lifeMu serializes Start and Stop. Readers load session without it,
	// so subscribers may read stats while a transition is in progress.
	lifeMu  sync.Mutex
	session atomic.Pointer[Session]

	mu      sync.Mutex
	rings   [len(Sources)]*ring[AudioChunk]
	lastTs  [len(Sources)]int64
	seen    [len(Sources)]bool
	chunks  [len(Sources)]uint64
	dropped [len(Sources)]uint64
}

func NewCoordinator(cfg Config, mic, loopback audio.Opener, m *metrics.Metrics) *Coordinator {
	cfg.setDefaults()
	c := &Coordinator{cfg: cfg, metrics: m}
	devices := [len(Sources)]string{cfg.MicDevice, cfg.LoopbackDevice}
	openers := [len(Sources)]audio.Opener{mic, loopback}
	for _, src := range Sources {
		c.units[src] = NewUnit(UnitConfig{
			Source:         src,
			SampleRate:     cfg.SampleRate,
			FrameChunkSize: cfg.FrameChunkSize,
			Channels:       cfg.Channels,
			DeviceName:     devices[src],
			ReadTimeout:    cfg.ReadTimeout,
		}, openers[src])
		c.rings[src] = newRing[AudioChunk](cfg.RingChunks)
	}
	return c
}

func (c *Coordinator) SubscribeAudio(fn func(AudioChunk)) func() {
	return c.audioHub.Subscribe(fn)
}

func (c *Coordinator) SubscribeWarnings(fn func(Warning)) func() {
	return c.warningHub.Subscribe(fn)
}

func (c *Coordinator) Unit(src Source) *Unit { return c.units[src] }

// Session returns the active session or nil.
func (c *Coordinator) Session() *Session {
	return c.session.Load()
}

// Start creates a session with a fresh origin and starts both units.
func (c *Coordinator) Start(ctx context.Context, sessionID string) (*Session, error) {
	if sessionID == "" {
		return nil, ErrInvalidSession
	}
	// warnings raised while starting are published once lifeMu is released
	gate := &warnGate{hub: &c.warningHub}
	defer gate.release()

	c.lifeMu.Lock()
	defer c.lifeMu.Unlock()
	if c.session.Load() != nil {
		return nil, ErrAlreadyRunning
	}

	c.mu.Lock()
	for _, src := range Sources {
		c.rings[src] = newRing[AudioChunk](c.cfg.RingChunks)
		c.lastTs[src] = 0
		c.seen[src] = false
		c.chunks[src] = 0
		c.dropped[src] = 0
	}
	c.mu.Unlock()

	sess := NewSession(ctx, sessionID, c.cfg.QueueCapacity)
	emit := func(chunk AudioChunk) { c.fanOut(sess, chunk) }

	for i, src := range Sources {
		if err := c.units[src].Start(sess, emit, gate.publish); err != nil {
			for _, started := range Sources[:i] {
				c.units[started].Stop(c.cfg.StopTimeout)
			}
			sess.Close()
			return nil, fmt.Errorf("start %s: %w", src, err)
		}
		c.metrics.SetCaptureMode(src.String(), c.units[src].Mode())
	}

	c.session.Store(sess)
	c.metrics.SessionStarted()
	return sess, nil
}

// Stop cancels both units and joins each for at most the stop timeout. A
// unit that overruns is abandoned; the returned error wraps ErrStopTimeout
// but the session is torn down regardless.
func (c *Coordinator) Stop(sessionID string) error {
	var pending []Warning
	defer func() {
		for _, w := range pending {
			c.warningHub.Publish(w)
		}
	}()

	c.lifeMu.Lock()
	defer c.lifeMu.Unlock()
	sess := c.session.Load()
	if sess == nil {
		return ErrNotRunning
	}
	if sessionID != sess.ID {
		return fmt.Errorf("%w: active %q, got %q", ErrSessionMismatch, sess.ID, sessionID)
	}

	var wg sync.WaitGroup
	errs := make([]error, len(Sources))
	for _, src := range Sources {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[src] = c.units[src].Stop(c.cfg.StopTimeout)
		}()
	}
	wg.Wait()

	for _, src := range Sources {
		if errs[src] != nil {
			log.StopTimeout("capture "+src.String(), c.cfg.StopTimeout)
			pending = append(pending, Warning{SessionID: sess.ID, Source: src, Kind: WarnStopTimeout, Err: errs[src]})
		}
		c.metrics.SetCaptureMode(src.String(), "")
	}

	sess.Close()
	c.session.Store(nil)
	c.metrics.SessionEnded()
	return errors.Join(errs...)
}

// warnGate holds warnings back until release, then passes them straight
// through to the hub.
type warnGate struct {
	hub  *Hub[Warning]
	mu   sync.Mutex
	open bool
	held []Warning
}

func (g *warnGate) publish(w Warning) {
	g.mu.Lock()
	if !g.open {
		g.held = append(g.held, w)
		g.mu.Unlock()
		return
	}
	g.mu.Unlock()
	g.hub.Publish(w)
}

func (g *warnGate) release() {
	g.mu.Lock()
	held := g.held
	g.held, g.open = nil, true
	g.mu.Unlock()
	for _, w := range held {
		g.hub.Publish(w)
	}
}

func (c *Coordinator) fanOut(sess *Session, chunk AudioChunk) {
	sess.record(chunk)

	c.mu.Lock()
	c.rings[chunk.Source].push(chunk)
	c.chunks[chunk.Source]++
	c.lastTs[chunk.Source] = chunk.TsMs
	c.seen[chunk.Source] = true
	drift := c.driftLocked()
	c.mu.Unlock()

	c.audioHub.Publish(chunk)

	name := chunk.Source.String()
	c.metrics.RecordChunk(name, len(chunk.Samples))
	c.metrics.SetSyncDrift(drift)

	if !sess.Queue.Enqueue(chunk, c.cfg.EnqueueTimeout) {
		c.mu.Lock()
		c.dropped[chunk.Source]++
		c.mu.Unlock()
		c.metrics.RecordDrop(name)
		if n := sess.Queue.Dropped(); n == 1 || n%c.cfg.DropLogEvery == 0 {
			log.QueueDrop(name, n)
		}
	}
	c.metrics.SetQueueDepth(sess.Queue.Len())
}

func (c *Coordinator) driftLocked() int64 {
	if !c.seen[Mic] || !c.seen[Loopback] {
		return 0
	}
	return c.lastTs[Mic] - c.lastTs[Loopback]
}

// Recent returns the retained chunks for src, oldest first.
func (c *Coordinator) Recent(src Source) []AudioChunk {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rings[src].snapshot()
}

type SourceStats struct {
	Source   Source
	State    State
	Mode     string
	Device   string
	Chunks   uint64
	Dropped  uint64
	LastTsMs int64
	Retained int
}

type Stats struct {
	SessionID   string
	Running     bool
	Sources     [len(Sources)]SourceStats
	SyncDriftMs int64
	QueueLen    int
	QueueCap    int
	Dropped     uint64
}

func (c *Coordinator) Stats() Stats {
	sess := c.Session()

	var st Stats
	c.mu.Lock()
	for _, src := range Sources {
		st.Sources[src] = SourceStats{
			Source:   src,
			Chunks:   c.chunks[src],
			Dropped:  c.dropped[src],
			LastTsMs: c.lastTs[src],
			Retained: c.rings[src].len(),
		}
		st.Dropped += c.dropped[src]
	}
	st.SyncDriftMs = c.driftLocked()
	c.mu.Unlock()

	for _, src := range Sources {
		u := c.units[src]
		st.Sources[src].State = u.State()
		st.Sources[src].Mode = u.Mode()
		st.Sources[src].Device = u.DeviceName()
	}
	if sess != nil {
		st.SessionID = sess.ID
		st.Running = true
		st.QueueLen = sess.Queue.Len()
		st.QueueCap = sess.Queue.Cap()
	}
	return st
}
