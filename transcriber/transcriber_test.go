package transcriber

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"callscribe/encoder"
)

func TestNetworkMetricsSum(t *testing.T) {
	m := &NetworkMetrics{
		ConnWait:   10 * time.Millisecond,
		DNS:        20 * time.Millisecond,
		TCP:        30 * time.Millisecond,
		TLS:        40 * time.Millisecond,
		ReqHeaders: 5 * time.Millisecond,
		ReqBody:    15 * time.Millisecond,
		TTFB:       50 * time.Millisecond,
		Download:   25 * time.Millisecond,
	}
	if got, want := m.Sum(), 195*time.Millisecond; got != want {
		t.Errorf("Sum() = %v, want %v", got, want)
	}
}

func TestFirstNonEmpty(t *testing.T) {
	h := http.Header{}
	h.Set("X-Rate-Limit", "100")

	if got := firstNonEmpty(h, "X-Missing", "X-Rate-Limit"); got != "100" {
		t.Errorf("got %q, want %q", got, "100")
	}
	if got := firstNonEmpty(h, "X-A", "X-B"); got != "?" {
		t.Errorf("got %q, want %q", got, "?")
	}
}

func TestClamp01(t *testing.T) {
	for _, tt := range []struct{ in, want float64 }{
		{-0.5, 0}, {0, 0}, {0.42, 0.42}, {1, 1}, {3, 1}, {math.NaN(), 0},
	} {
		if got := clamp01(tt.in); got != tt.want {
			t.Errorf("clamp01(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNew(t *testing.T) {
	tests := []struct {
		name     string
		opts     Options
		wantName string
		wantErr  error
	}{
		{"default", Options{}, BackendSimulated, nil},
		{"simulated", Options{Backend: "simulated"}, BackendSimulated, nil},
		{"openai", Options{Backend: "openai", APIKey: "k"}, BackendOpenAI, nil},
		{"openai without key", Options{Backend: "openai"}, "", ErrMissingAPIKey},
		{"unknown", Options{Backend: "vosk"}, "", ErrUnknownBackend},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, err := New(tt.opts)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if rec.Name() != tt.wantName {
				t.Errorf("Name() = %q, want %q", rec.Name(), tt.wantName)
			}
		})
	}
}

func TestSimulatedRecognizer(t *testing.T) {
	s := NewSimulated()
	ctx := context.Background()

	res, err := s.Recognize(ctx, make([]int16, 48000))
	if err != nil {
		t.Fatal(err)
	}
	if res.Text != "" || res.Confidence != 0 {
		t.Errorf("silence = %+v, want empty", res)
	}

	loud := make([]int16, 48000)
	for i := range loud {
		if i%2 == 0 {
			loud[i] = 8000
		} else {
			loud[i] = -8000
		}
	}
	first, _ := s.Recognize(ctx, loud)
	second, _ := s.Recognize(ctx, loud)
	if first.Text == "" || first.Confidence != 0.85 {
		t.Errorf("speech = %+v", first)
	}
	if first.Text == second.Text {
		t.Errorf("phrases did not rotate: %q", first.Text)
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	if _, err := s.Recognize(cancelled, loud); !errors.Is(err, context.Canceled) {
		t.Errorf("cancelled ctx err = %v", err)
	}
}

func TestFakeDelayHonorsContext(t *testing.T) {
	f := NewFake("x", 1, nil).WithDelay(time.Second)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := f.Recognize(ctx, nil); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want deadline exceeded", err)
	}
}

func verboseJSONServer(t *testing.T, status int, body any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/audio/transcriptions") {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("authorization = %q", got)
		}
		if err := r.ParseMultipartForm(1 << 22); err != nil {
			t.Errorf("multipart: %v", err)
		} else {
			if got := r.FormValue("model"); got != "whisper-1" {
				t.Errorf("model = %q", got)
			}
			if got := r.FormValue("response_format"); got != "verbose_json" {
				t.Errorf("response_format = %q", got)
			}
			f, hdr, err := r.FormFile("file")
			if err != nil {
				t.Errorf("file: %v", err)
			} else {
				data, _ := io.ReadAll(f)
				f.Close()
				if !strings.HasSuffix(hdr.Filename, ".wav") || string(data[:4]) != "RIFF" {
					t.Errorf("file %q does not look like WAV", hdr.Filename)
				}
				if want := encoder.WAVHeaderSize + 48000*2; len(data) != want {
					t.Errorf("wav size = %d, want %d", len(data), want)
				}
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("x-ratelimit-remaining-requests", "99")
		w.Header().Set("x-ratelimit-limit-requests", "100")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestOpenAIRecognize(t *testing.T) {
	srv := verboseJSONServer(t, http.StatusOK, map[string]any{
		"task":     "transcribe",
		"language": "english",
		"duration": 3.0,
		"text":     " Shall we schedule a demo? ",
		"segments": []map[string]any{
			{"id": 0, "start": 0.0, "end": 1.5, "text": " Shall we", "avg_logprob": -0.1, "no_speech_prob": 0.1},
			{"id": 1, "start": 1.5, "end": 3.0, "text": " schedule a demo?", "avg_logprob": -0.3, "no_speech_prob": 0.0},
		},
	})

	rec := NewOpenAI(Options{APIKey: "test-key", BaseURL: srv.URL + "/v1", SampleRate: 16000})
	res, err := rec.Recognize(context.Background(), make([]int16, 48000))
	if err != nil {
		t.Fatal(err)
	}
	if res.Text != "Shall we schedule a demo?" {
		t.Errorf("text = %q", res.Text)
	}
	want := (math.Exp(-0.1)*0.9 + math.Exp(-0.3)) / 2
	if math.Abs(res.Confidence-want) > 1e-9 {
		t.Errorf("confidence = %v, want %v", res.Confidence, want)
	}
	if len(res.Segments) != 2 {
		t.Errorf("segments = %d", len(res.Segments))
	}
	if res.RateLimit != "99/100" {
		t.Errorf("rate limit = %q", res.RateLimit)
	}
	if res.Metrics == nil || res.Metrics.Total <= 0 {
		t.Errorf("network metrics not recorded: %+v", res.Metrics)
	}
}

func TestTracedTransportConcurrentRequests(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.Copy(io.Discard, r.Body)
		time.Sleep(5 * time.Millisecond)
		w.Write([]byte("ok"))
	}))
	t.Cleanup(srv.Close)

	client := NewTracedClient()
	var wg sync.WaitGroup
	results := make([]*NetworkMetrics, 8)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			nm := &NetworkMetrics{}
			req, err := http.NewRequestWithContext(withNetworkMetrics(context.Background(), nm),
				http.MethodPost, srv.URL, strings.NewReader(strings.Repeat("x", 64<<10)))
			if err != nil {
				t.Error(err)
				return
			}
			resp, err := client.Do(req)
			if err != nil {
				t.Error(err)
				return
			}
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			results[i] = nm
		}()
	}
	wg.Wait()

	for i, nm := range results {
		if nm == nil {
			continue
		}
		if nm.Total <= 0 || nm.TTFB <= 0 {
			t.Errorf("request %d metrics = %+v", i, nm)
		}
	}
}

func TestOpenAIEmptyText(t *testing.T) {
	srv := verboseJSONServer(t, http.StatusOK, map[string]any{
		"text":     "",
		"segments": []map[string]any{},
	})
	rec := NewOpenAI(Options{APIKey: "test-key", BaseURL: srv.URL + "/v1", SampleRate: 16000})
	res, err := rec.Recognize(context.Background(), make([]int16, 48000))
	if err != nil {
		t.Fatal(err)
	}
	if res.Text != "" || res.Confidence != 0 {
		t.Errorf("result = %+v", res)
	}
}

func TestOpenAIError(t *testing.T) {
	srv := verboseJSONServer(t, http.StatusInternalServerError, map[string]any{
		"error": map[string]any{"message": "overloaded", "type": "server_error"},
	})
	rec := NewOpenAI(Options{APIKey: "test-key", BaseURL: srv.URL + "/v1", SampleRate: 16000})
	if _, err := rec.Recognize(context.Background(), make([]int16, 48000)); err == nil {
		t.Fatal("expected error from 500 response")
	}
}

func TestSegmentConfidence(t *testing.T) {
	if got := segmentConfidence(nil); got != 0 {
		t.Errorf("no segments = %v", got)
	}
	got := segmentConfidence([]Segment{{AvgLogProb: 0, NoSpeechProb: 0}})
	if got != 1 {
		t.Errorf("certain segment = %v, want 1", got)
	}
}
