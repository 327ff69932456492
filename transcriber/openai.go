package transcriber

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"callscribe/encoder"
)

// OpenAI sends each window as a WAV file to the hosted Whisper API.
type OpenAI struct {
	client     *openai.Client
	httpClient *http.Client
	baseURL    string
	model      string
	lang       string
	sampleRate int
}

func NewOpenAI(opts Options) *OpenAI {
	cfg := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = opts.BaseURL
	}
	httpClient := NewTracedClient()
	cfg.HTTPClient = httpClient

	model := opts.Model
	if model == "" {
		model = openai.Whisper1
	}
	return &OpenAI{
		client:     openai.NewClientWithConfig(cfg),
		httpClient: httpClient,
		baseURL:    cfg.BaseURL,
		model:      model,
		lang:       opts.Language,
		sampleRate: opts.SampleRate,
	}
}

func (o *OpenAI) Name() string { return BackendOpenAI }

// Warm opens the connection ahead of the first window.
func (o *OpenAI) Warm() {
	WarmConnection(o.httpClient, o.baseURL)
}

func (o *OpenAI) Recognize(ctx context.Context, samples []int16) (Result, error) {
	wav := encoder.EncodeWAV(samples, o.sampleRate, 1)
	nm := &NetworkMetrics{}

	lang := o.lang
	if lang == "auto" {
		lang = ""
	}
	resp, err := o.client.CreateTranscription(withNetworkMetrics(ctx, nm), openai.AudioRequest{
		Model:    o.model,
		FilePath: "window.wav",
		Reader:   bytes.NewReader(wav),
		Language: lang,
		Format:   openai.AudioResponseFormatVerboseJSON,
	})
	if err != nil {
		return Result{}, fmt.Errorf("openai transcription: %w", err)
	}

	res := Result{
		Text:    strings.TrimSpace(resp.Text),
		Metrics: nm,
	}
	h := resp.Header()
	res.RateLimit = firstNonEmpty(h, "x-ratelimit-remaining-requests") + "/" +
		firstNonEmpty(h, "x-ratelimit-limit-requests")

	for _, s := range resp.Segments {
		res.Segments = append(res.Segments, Segment{
			Text:         s.Text,
			NoSpeechProb: s.NoSpeechProb,
			AvgLogProb:   s.AvgLogprob,
			Start:        s.Start,
			End:          s.End,
		})
	}
	if res.Text != "" {
		res.Confidence = segmentConfidence(res.Segments)
	}
	return res, nil
}

// segmentConfidence averages exp(avg_logprob) * (1 - no_speech_prob).
func segmentConfidence(segs []Segment) float64 {
	if len(segs) == 0 {
		return 0
	}
	var sum float64
	for _, s := range segs {
		sum += math.Exp(s.AvgLogProb) * (1 - s.NoSpeechProb)
	}
	return clamp01(sum / float64(len(segs)))
}
