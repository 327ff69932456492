package audio

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"callscribe/conditioner"
)

const (
	DefaultReadTimeout = 500 * time.Millisecond
	maxBufferedSeconds = 2
)

// DeviceOpener opens real capture endpoints through a platform Context.
type DeviceOpener struct {
	Ctx Context
}

func (o DeviceOpener) Open(req Request) (FrameSource, error) {
	if o.Ctx == nil {
		return nil, fmt.Errorf("%w: no audio context", ErrDeviceUnavailable)
	}

	var device *DeviceInfo
	if req.DeviceName != "" {
		d, err := o.find(func(d DeviceInfo) bool { return d.Name == req.DeviceName })
		if err != nil {
			return nil, err
		}
		if d == nil {
			return nil, fmt.Errorf("%w: no device named %q", ErrDeviceUnavailable, req.DeviceName)
		}
		device = d
	}

	cfg := CaptureConfig{Channels: uint32(max(req.Channels, 0)), Loopback: req.Loopback}
	dev, err := o.Ctx.NewCapture(device, cfg)
	if err != nil && req.Loopback && device == nil {
		// no native loopback endpoint: look for a mix/monitor device by name
		d, ferr := o.find(func(d DeviceInfo) bool { return d.Loopback })
		if ferr == nil && d != nil {
			dev, err = o.Ctx.NewCapture(d, cfg)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}

	src := newDeviceSource(dev, req.ReadTimeout)
	if err := dev.Start(); err != nil {
		dev.ClearCallback()
		dev.Close()
		return nil, fmt.Errorf("%w: start %s: %v", ErrDeviceUnavailable, dev.DeviceName(), err)
	}
	return src, nil
}

func (o DeviceOpener) find(match func(DeviceInfo) bool) (*DeviceInfo, error) {
	devices, err := o.Ctx.Devices()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}
	for i := range devices {
		if match(devices[i]) {
			return &devices[i], nil
		}
	}
	return nil, nil
}

// deviceSource turns a callback-driven CaptureDevice into bounded blocking
// reads. Bytes beyond maxBufferedSeconds are discarded oldest first.
type deviceSource struct {
	dev         CaptureDevice
	format      Format
	readTimeout time.Duration
	frameBytes  int
	maxBytes    int

	mu     sync.Mutex
	buf    []byte
	notify chan struct{}

	overruns atomic.Uint64
	stalls   atomic.Uint64
}

func newDeviceSource(dev CaptureDevice, readTimeout time.Duration) *deviceSource {
	if readTimeout <= 0 {
		readTimeout = DefaultReadTimeout
	}
	f := dev.Format()
	frameBytes := max(f.Channels, 1) * 2
	s := &deviceSource{
		dev:         dev,
		format:      f,
		readTimeout: readTimeout,
		frameBytes:  frameBytes,
		maxBytes:    max(f.SampleRate, 1) * frameBytes * maxBufferedSeconds,
		notify:      make(chan struct{}, 1),
	}
	dev.SetCallback(s.push)
	return s
}

func (s *deviceSource) push(data []byte, _ uint32) {
	s.mu.Lock()
	s.buf = append(s.buf, data...)
	if over := len(s.buf) - s.maxBytes; over > 0 {
		over += (s.frameBytes - over%s.frameBytes) % s.frameBytes
		n := copy(s.buf, s.buf[over:])
		s.buf = s.buf[:n]
		s.overruns.Add(1)
	}
	s.mu.Unlock()
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// Read waits up to the read timeout for frames. Endpoints that deliver
// nothing while idle (WASAPI loopback) are padded with silence so the
// caller's cadence holds.
func (s *deviceSource) Read(ctx context.Context, frames int) ([]int16, error) {
	need := frames * s.frameBytes
	timer := time.NewTimer(s.readTimeout)
	defer timer.Stop()
	for {
		s.mu.Lock()
		if len(s.buf) >= need {
			out := conditioner.BytesToInt16(s.buf[:need])
			n := copy(s.buf, s.buf[need:])
			s.buf = s.buf[:n]
			s.mu.Unlock()
			return out, nil
		}
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-s.notify:
		case <-timer.C:
			s.stalls.Add(1)
			s.mu.Lock()
			avail := len(s.buf) - len(s.buf)%s.frameBytes
			out := make([]int16, need/2)
			copy(out, conditioner.BytesToInt16(s.buf[:avail]))
			n := copy(s.buf, s.buf[avail:])
			s.buf = s.buf[:n]
			s.mu.Unlock()
			return out, nil
		}
	}
}

func (s *deviceSource) Format() Format { return s.format }
func (s *deviceSource) Name() string   { return s.dev.DeviceName() }
func (s *deviceSource) Mode() string   { return ModeDevice }

// Stalls counts reads that timed out and were padded with silence.
func (s *deviceSource) Stalls() uint64   { return s.stalls.Load() }
func (s *deviceSource) Overruns() uint64 { return s.overruns.Load() }

func (s *deviceSource) Close() error {
	s.dev.ClearCallback()
	s.dev.Stop()
	s.dev.Close()
	return nil
}
