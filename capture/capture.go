package capture

import (
	"errors"
	"fmt"
)

var (
	ErrAlreadyRunning  = errors.New("capture already running")
	ErrNotRunning      = errors.New("capture not running")
	ErrSessionMismatch = errors.New("session id does not match active session")
	ErrInvalidSession  = errors.New("session id must not be empty")
	ErrStopTimeout     = errors.New("did not stop in time")
)

type Source int

const (
	Mic Source = iota
	Loopback
)

// Sources lists every capture source in a fixed order.
var Sources = [...]Source{Mic, Loopback}

func (s Source) String() string {
	switch s {
	case Mic:
		return "mic"
	case Loopback:
		return "loopback"
	}
	return fmt.Sprintf("source(%d)", int(s))
}

func ParseSource(s string) (Source, error) {
	switch s {
	case "mic":
		return Mic, nil
	case "loopback":
		return Loopback, nil
	}
	return 0, fmt.Errorf("unknown source %q", s)
}

// AudioChunk is canonical mono PCM16 stamped against the session origin.
type AudioChunk struct {
	SessionID  string
	Source     Source
	TsMs       int64
	Samples    []int16
	SampleRate int
	Channels   int
}

// DurationMs is the chunk length at its sample rate.
func (c AudioChunk) DurationMs() int64 {
	if c.SampleRate == 0 {
		return 0
	}
	return int64(len(c.Samples)) * 1000 / int64(c.SampleRate)
}

type WarningKind string

const (
	WarnDeviceUnavailable WarningKind = "device_unavailable"
	WarnReadFailed        WarningKind = "read_failed"
	WarnStopTimeout       WarningKind = "stop_timeout"
)

// Warning reports a degraded but recoverable condition.
type Warning struct {
	SessionID string
	Source    Source
	Kind      WarningKind
	Err       error
}
