package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"callscribe/audio"
	"callscribe/conditioner"
	"callscribe/log"
)

type State int32

const (
	Idle State = iota
	Initializing
	Capturing
	Stopping
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Initializing:
		return "initializing"
	case Capturing:
		return "capturing"
	case Stopping:
		return "stopping"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

type UnitConfig struct {
	Source         Source
	SampleRate     int // canonical output rate
	FrameChunkSize int // frames per device read
	Channels       int // 0 keeps the device's channel count
	DeviceName     string
	ReadTimeout    time.Duration
}

// Unit captures one source. Start picks a FrameSource once; the capture loop
// never knows whether it is reading hardware or the simulated fallback.
type Unit struct {
	cfg    UnitConfig
	opener audio.Opener
	state  atomic.Int32

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	mode    string
	device  string
	lastErr error
}

func NewUnit(cfg UnitConfig, opener audio.Opener) *Unit {
	if opener == nil {
		opener = audio.SimulatedOpener{}
	}
	return &Unit{cfg: cfg, opener: opener}
}

func (u *Unit) State() State { return State(u.state.Load()) }

func (u *Unit) Source() Source { return u.cfg.Source }

// Mode reports audio.ModeDevice, ModeSimulated or ModeReplay for the current run.
func (u *Unit) Mode() string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.mode
}

func (u *Unit) DeviceName() string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.device
}

// Err is the read error that put the unit into Failed, if any.
func (u *Unit) Err() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.lastErr
}

// Start opens the source and launches the capture goroutine. An unavailable
// device degrades to simulated noise and is reported once through warn.
// emit and warn are called from the capture goroutine.
func (u *Unit) Start(sess *Session, emit func(AudioChunk), warn func(Warning)) error {
	if !u.state.CompareAndSwap(int32(Idle), int32(Initializing)) &&
		!u.state.CompareAndSwap(int32(Failed), int32(Initializing)) {
		return fmt.Errorf("%s: %w", u.cfg.Source, ErrAlreadyRunning)
	}

	src, err := u.opener.Open(audio.Request{
		Loopback:    u.cfg.Source == Loopback,
		DeviceName:  u.cfg.DeviceName,
		Channels:    u.cfg.Channels,
		ReadTimeout: u.cfg.ReadTimeout,
	})
	if err != nil {
		log.DeviceFallback(u.cfg.Source.String(), err)
		if warn != nil {
			warn(Warning{SessionID: sess.ID, Source: u.cfg.Source, Kind: WarnDeviceUnavailable, Err: err})
		}
		src = audio.NewNoiseSource(audio.Format{SampleRate: u.cfg.SampleRate, Channels: 1}, u.cfg.Source.String())
	}
	f := src.Format()
	log.DeviceOpened(u.cfg.Source.String(), src.Name(), src.Mode(), f.SampleRate, f.Channels)

	ctx, cancel := context.WithCancel(sess.Context())
	done := make(chan struct{})
	u.mu.Lock()
	u.cancel = cancel
	u.done = done
	u.mode = src.Mode()
	u.device = src.Name()
	u.lastErr = nil
	u.mu.Unlock()

	u.state.Store(int32(Capturing))
	go u.run(ctx, sess, src, emit, warn, done)
	return nil
}

func (u *Unit) run(ctx context.Context, sess *Session, src audio.FrameSource, emit func(AudioChunk), warn func(Warning), done chan struct{}) {
	defer close(done)
	defer src.Close()

	f := src.Format()
	frames := u.cfg.FrameChunkSize
	var last int64
	var readErr error
	for {
		raw, err := src.Read(ctx, frames)
		if ctx.Err() != nil {
			break
		}
		if err != nil {
			readErr = err
			break
		}
		samples := conditioner.Condition(raw, f.Channels, f.SampleRate, u.cfg.SampleRate)
		if len(samples) == 0 {
			continue
		}
		ts := sess.ElapsedMs()
		if ts < last {
			ts = last
		}
		last = ts
		emit(AudioChunk{
			SessionID:  sess.ID,
			Source:     u.cfg.Source,
			TsMs:       ts,
			Samples:    samples,
			SampleRate: u.cfg.SampleRate,
			Channels:   1,
		})
	}

	if readErr != nil && !errors.Is(readErr, context.Canceled) {
		log.Errorf("%s capture read failed: %v", u.cfg.Source, readErr)
		if !u.settle(done, Stopping, readErr) {
			return
		}
		if warn != nil {
			warn(Warning{SessionID: sess.ID, Source: u.cfg.Source, Kind: WarnReadFailed, Err: readErr})
		}
		u.settle(done, Failed, nil)
		return
	}
	u.settle(done, Idle, nil)
}

// settle records the end state of the run owning done. A run abandoned by
// Stop no longer owns the unit and changes nothing.
func (u *Unit) settle(done chan struct{}, s State, err error) bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.done != done {
		return false
	}
	if err != nil {
		u.lastErr = err
	}
	u.state.Store(int32(s))
	return true
}

// Stop cancels the capture goroutine and waits up to timeout for it to exit.
// On timeout the goroutine is abandoned, the unit returns to Idle so it can
// be started again, and ErrStopTimeout is returned.
func (u *Unit) Stop(timeout time.Duration) error {
	u.mu.Lock()
	cancel, done := u.cancel, u.done
	u.mu.Unlock()
	if cancel == nil {
		return nil
	}
	u.state.CompareAndSwap(int32(Capturing), int32(Stopping))
	cancel()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-done:
		return nil
	case <-timer.C:
		u.mu.Lock()
		if u.done == done {
			u.cancel, u.done = nil, nil
			u.state.Store(int32(Idle))
		}
		u.mu.Unlock()
		return fmt.Errorf("%s: %w", u.cfg.Source, ErrStopTimeout)
	}
}
