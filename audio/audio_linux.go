//go:build linux

package audio

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/jfreymuth/pulse"

	"callscribe/conditioner"
)

type pulseContext struct {
	client *pulse.Client
}

func NewContext() (Context, error) {
	c, err := pulse.NewClient()
	if err != nil {
		return nil, fmt.Errorf("pulse: %w", err)
	}
	return &pulseContext{client: c}, nil
}

func (p *pulseContext) Devices() ([]DeviceInfo, error) {
	sources, err := p.client.ListSources()
	if err != nil {
		return nil, fmt.Errorf("pulse list sources: %w", err)
	}
	var devices []DeviceInfo
	for _, s := range sources {
		devices = append(devices, DeviceInfo{
			ID:       s.ID(),
			Name:     s.Name(),
			Loopback: strings.HasSuffix(s.ID(), ".monitor"),
		})
	}
	return devices, nil
}

// NewCapture resolves the source up front so a missing endpoint fails here
// rather than in Start. Loopback without an explicit device records the
// default sink's monitor source.
func (p *pulseContext) NewCapture(device *DeviceInfo, config CaptureConfig) (CaptureDevice, error) {
	var (
		source *pulse.Source
		err    error
	)
	switch {
	case device != nil:
		source, err = p.client.SourceByID(device.ID)
	case config.Loopback:
		var sink *pulse.Sink
		sink, err = p.client.DefaultSink()
		if err == nil {
			source, err = p.client.SourceByID(sink.ID() + ".monitor")
		}
	default:
		source, err = p.client.DefaultSource()
	}
	if err != nil {
		return nil, fmt.Errorf("%w: pulse source: %v", ErrDeviceUnavailable, err)
	}
	if source == nil {
		return nil, fmt.Errorf("%w: pulse source not found", ErrDeviceUnavailable)
	}

	rate := int(config.SampleRate)
	if rate == 0 {
		rate = source.SampleRate()
	}
	channels := int(config.Channels)
	if channels == 0 {
		channels = len(source.Channels())
	}
	// the server remixes anything wider than stereo
	if channels > 2 {
		channels = 2
	}
	if channels < 1 {
		channels = 1
	}

	return &pulseCapture{
		client: p.client,
		source: source,
		format: Format{SampleRate: rate, Channels: channels},
	}, nil
}

func (p *pulseContext) Close() {
	p.client.Close()
}

type pulseCapture struct {
	client   *pulse.Client
	source   *pulse.Source
	format   Format
	callback atomic.Pointer[DataCallback]

	stream *pulse.RecordStream
	mu     sync.Mutex
	stop   chan struct{}
	done   chan struct{}
}

func (c *pulseCapture) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	channels := c.format.Channels
	writer := pulse.Int16Writer(func(buf []int16) (int, error) {
		if len(buf) == 0 {
			return 0, nil
		}
		cb := c.callback.Load()
		if cb == nil {
			return len(buf), nil
		}
		(*cb)(conditioner.Int16ToBytes(buf), uint32(len(buf)/channels))
		return len(buf), nil
	})

	layout := pulse.RecordMono
	if channels == 2 {
		layout = pulse.RecordStereo
	}
	opts := []pulse.RecordOption{
		layout,
		pulse.RecordSampleRate(c.format.SampleRate),
		pulse.RecordLatency(0.05),
		pulse.RecordSource(c.source),
	}

	stream, err := c.client.NewRecord(writer, opts...)
	if err != nil {
		return fmt.Errorf("%w: pulse record: %v", ErrDeviceUnavailable, err)
	}

	c.stream = stream
	c.stop = make(chan struct{})
	c.done = make(chan struct{})

	go func() {
		defer close(c.done)
		stream.Start()
		<-c.stop
		stream.Stop()
		stream.Close()
	}()

	return nil
}

func (c *pulseCapture) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stop != nil {
		select {
		case <-c.stop:
		default:
			close(c.stop)
		}
		<-c.done
	}
}

func (c *pulseCapture) Close() {
	c.Stop()
}

func (c *pulseCapture) SetCallback(cb DataCallback) {
	c.callback.Store(&cb)
}

func (c *pulseCapture) ClearCallback() {
	c.callback.Store(nil)
}

func (c *pulseCapture) Format() Format { return c.format }

func (c *pulseCapture) DeviceName() string {
	if name := c.source.Name(); name != "" {
		return name
	}
	return c.source.ID()
}
