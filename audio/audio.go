package audio

import (
	"context"
	"errors"
	"strings"
	"time"
)

// ErrDeviceUnavailable wraps every failure to locate or open a capture endpoint.
var ErrDeviceUnavailable = errors.New("audio device unavailable")

var loopbackKeywords = []string{
	".monitor", "monitor of",
	"stereo mix", "loopback", "what u hear", "wave out mix",
}

// IsLoopbackName reports whether a device name looks like a playback capture endpoint.
func IsLoopbackName(name string) bool {
	lower := strings.ToLower(name)
	for _, kw := range loopbackKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

type DataCallback func(data []byte, frameCount uint32)

// CaptureConfig zero values mean the device's native rate and channel count.
type CaptureConfig struct {
	SampleRate uint32
	Channels   uint32
	Loopback   bool
}

type DeviceInfo struct {
	ID       string // opaque platform-specific identifier
	Name     string
	Loopback bool
}

type Context interface {
	Devices() ([]DeviceInfo, error)
	NewCapture(device *DeviceInfo, config CaptureConfig) (CaptureDevice, error)
	Close()
}

type CaptureDevice interface {
	Start() error
	Stop()
	Close()
	SetCallback(cb DataCallback)
	ClearCallback()
	Format() Format
	DeviceName() string
}

// Format is the PCM16 layout a source delivers.
type Format struct {
	SampleRate int
	Channels   int
}

// FrameSource delivers interleaved PCM16 frames in the source's native format.
// Read blocks for at most a bounded time.
type FrameSource interface {
	Format() Format
	Read(ctx context.Context, frames int) ([]int16, error)
	Name() string
	Mode() string
	Close() error
}

const (
	ModeDevice    = "device"
	ModeSimulated = "simulated"
	ModeReplay    = "replay"
)

type Request struct {
	Loopback    bool
	DeviceName  string
	Channels    int
	ReadTimeout time.Duration
}

// Opener resolves a Request into a running FrameSource. Failures wrap
// ErrDeviceUnavailable.
type Opener interface {
	Open(req Request) (FrameSource, error)
}
