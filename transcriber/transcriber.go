package transcriber

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"callscribe/capture"
)

type NetworkMetrics struct {
	DNS        time.Duration
	ConnWait   time.Duration
	TCP        time.Duration
	TLS        time.Duration
	ReqHeaders time.Duration
	ReqBody    time.Duration
	TTFB       time.Duration
	Download   time.Duration
	Total      time.Duration
	ConnReused bool
}

func (m *NetworkMetrics) Sum() time.Duration {
	return m.ConnWait + m.DNS + m.TCP + m.TLS + m.ReqHeaders + m.ReqBody + m.TTFB + m.Download
}

func firstNonEmpty(h http.Header, keys ...string) string {
	for _, k := range keys {
		if v := h.Get(k); v != "" {
			return v
		}
	}
	return "?"
}

type Segment struct {
	Text         string
	NoSpeechProb float64
	AvgLogProb   float64
	Start        float64
	End          float64
}

type Result struct {
	Text       string
	Confidence float64
	Segments   []Segment
	Metrics    *NetworkMetrics // nil for local recognizers
	RateLimit  string
}

// Recognizer turns one fixed-size window of canonical mono int16 samples
// into text. Implementations must tolerate concurrent calls.
type Recognizer interface {
	Name() string
	Recognize(ctx context.Context, samples []int16) (Result, error)
}

// TranscriptChunk is one recognized window. Final marks the flushed
// remainder emitted on stop.
type TranscriptChunk struct {
	SessionID  string
	Source     capture.Source
	TsStartMs  int64
	TsEndMs    int64
	Text       string
	Confidence float64
	Final      bool
}

const (
	BackendSimulated = "simulated"
	BackendOpenAI    = "openai"
	BackendWhisper   = "whisper"
)

var (
	ErrUnknownBackend = errors.New("unknown recognizer backend")
	ErrMissingAPIKey  = errors.New("missing API key")
)

type Options struct {
	Backend    string
	SampleRate int
	Language   string
	// Model names the hosted model (openai).
	Model   string
	APIKey  string
	BaseURL string
	// ModelPath is the ggml model file (whisper).
	ModelPath string
	Threads   int
}

// New builds the recognizer for opts.Backend.
func New(opts Options) (Recognizer, error) {
	if opts.SampleRate <= 0 {
		opts.SampleRate = 16000
	}
	switch opts.Backend {
	case "", BackendSimulated:
		return NewSimulated(), nil
	case BackendOpenAI:
		if opts.APIKey == "" {
			return nil, fmt.Errorf("openai: %w (set OPENAI_API_KEY)", ErrMissingAPIKey)
		}
		return NewOpenAI(opts), nil
	case BackendWhisper:
		return NewWhisper(opts)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, opts.Backend)
}

func clamp01(v float64) float64 {
	switch {
	case v != v: // NaN
		return 0
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
