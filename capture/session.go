package capture

import (
	"context"
	"sync/atomic"
	"time"

	"callscribe/dispatch"
)

// Session is one capture run. Both units stamp chunks against T0, and the
// session owns the dispatch queue and the cancellation shared by every
// goroutine working on it.
type Session struct {
	ID    string
	T0    time.Time
	Queue *dispatch.Queue[AudioChunk]

	ctx    context.Context
	cancel context.CancelFunc

	counters [len(Sources)]sourceCounters
}

type sourceCounters struct {
	chunks    atomic.Uint64
	samples   atomic.Uint64
	origin    atomic.Int64
	hasOrigin atomic.Bool
}

func NewSession(parent context.Context, id string, queueCapacity int) *Session {
	ctx, cancel := context.WithCancel(parent)
	return &Session{
		ID:     id,
		T0:     time.Now(),
		Queue:  dispatch.New[AudioChunk](queueCapacity),
		ctx:    ctx,
		cancel: cancel,
	}
}

func (s *Session) Context() context.Context { return s.ctx }

// Close cancels every goroutine bound to the session.
func (s *Session) Close() { s.cancel() }

// ElapsedMs reads the monotonic clock relative to T0.
func (s *Session) ElapsedMs() int64 {
	return time.Since(s.T0).Milliseconds()
}

// Origin is the timestamp of the first chunk the source emitted.
func (s *Session) Origin(src Source) (int64, bool) {
	c := &s.counters[src]
	if !c.hasOrigin.Load() {
		return 0, false
	}
	return c.origin.Load(), true
}

func (s *Session) Counts(src Source) (chunks, samples uint64) {
	c := &s.counters[src]
	return c.chunks.Load(), c.samples.Load()
}

// record is called only from the source's own capture goroutine.
func (s *Session) record(chunk AudioChunk) {
	c := &s.counters[chunk.Source]
	if !c.hasOrigin.Load() {
		c.origin.Store(chunk.TsMs)
		c.hasOrigin.Store(true)
	}
	c.chunks.Add(1)
	c.samples.Add(uint64(len(chunk.Samples)))
}
