package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the pipeline's Prometheus collectors. All methods accept a
// nil receiver so components can run without an exporter.
type Metrics struct {
	// Capture metrics
	ChunksCaptured  *prometheus.CounterVec
	SamplesCaptured *prometheus.CounterVec
	ChunksDropped   *prometheus.CounterVec
	CaptureMode     *prometheus.GaugeVec
	SyncDrift       prometheus.Gauge
	QueueDepth      prometheus.Gauge
	ActiveSessions  prometheus.Gauge

	// Transcription metrics
	BufferedSamples   *prometheus.GaugeVec
	WindowsEmitted    *prometheus.CounterVec
	InferenceFailures *prometheus.CounterVec
	InferenceDuration *prometheus.HistogramVec
}

// New registers every collector with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ChunksCaptured: f.NewCounterVec(prometheus.CounterOpts{
			Name: "callscribe_chunks_captured_total",
			Help: "Total number of canonical audio chunks emitted per source",
		}, []string{"source"}),
		SamplesCaptured: f.NewCounterVec(prometheus.CounterOpts{
			Name: "callscribe_samples_captured_total",
			Help: "Total number of canonical samples emitted per source",
		}, []string{"source"}),
		ChunksDropped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "callscribe_chunks_dropped_total",
			Help: "Chunks dropped because the transcription queue stayed full",
		}, []string{"source"}),
		CaptureMode: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "callscribe_capture_mode",
			Help: "1 for the mode each source is currently capturing in",
		}, []string{"source", "mode"}),
		SyncDrift: f.NewGauge(prometheus.GaugeOpts{
			Name: "callscribe_sync_drift_ms",
			Help: "Latest mic timestamp minus latest loopback timestamp",
		}),
		QueueDepth: f.NewGauge(prometheus.GaugeOpts{
			Name: "callscribe_queue_depth",
			Help: "Chunks waiting in the transcription queue",
		}),
		ActiveSessions: f.NewGauge(prometheus.GaugeOpts{
			Name: "callscribe_active_sessions",
			Help: "Capture sessions currently running",
		}),
		BufferedSamples: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "callscribe_window_buffer_samples",
			Help: "Samples held in each source's window buffer",
		}, []string{"source"}),
		WindowsEmitted: f.NewCounterVec(prometheus.CounterOpts{
			Name: "callscribe_windows_emitted_total",
			Help: "Transcript chunks emitted per source",
		}, []string{"source"}),
		InferenceFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "callscribe_inference_failures_total",
			Help: "Windows skipped because inference failed",
		}, []string{"source"}),
		InferenceDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "callscribe_inference_duration_seconds",
			Help:    "Time spent in the recognizer per window",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 10), // 10ms to ~5s
		}, []string{"source"}),
	}
}

// Handler serves the registry in the Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

func (m *Metrics) RecordChunk(source string, samples int) {
	if m == nil {
		return
	}
	m.ChunksCaptured.WithLabelValues(source).Inc()
	m.SamplesCaptured.WithLabelValues(source).Add(float64(samples))
}

func (m *Metrics) RecordDrop(source string) {
	if m == nil {
		return
	}
	m.ChunksDropped.WithLabelValues(source).Inc()
}

func (m *Metrics) SetCaptureMode(source, mode string) {
	if m == nil {
		return
	}
	m.CaptureMode.DeletePartialMatch(prometheus.Labels{"source": source})
	if mode != "" {
		m.CaptureMode.WithLabelValues(source, mode).Set(1)
	}
}

func (m *Metrics) SetSyncDrift(ms int64) {
	if m == nil {
		return
	}
	m.SyncDrift.Set(float64(ms))
}

func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.QueueDepth.Set(float64(n))
}

func (m *Metrics) SessionStarted() {
	if m == nil {
		return
	}
	m.ActiveSessions.Inc()
}

func (m *Metrics) SessionEnded() {
	if m == nil {
		return
	}
	m.ActiveSessions.Dec()
}

func (m *Metrics) SetBuffered(source string, samples int) {
	if m == nil {
		return
	}
	m.BufferedSamples.WithLabelValues(source).Set(float64(samples))
}

func (m *Metrics) RecordWindow(source string, d time.Duration) {
	if m == nil {
		return
	}
	m.WindowsEmitted.WithLabelValues(source).Inc()
	m.InferenceDuration.WithLabelValues(source).Observe(d.Seconds())
}

func (m *Metrics) RecordInferenceFailure(source string, d time.Duration) {
	if m == nil {
		return
	}
	m.InferenceFailures.WithLabelValues(source).Inc()
	m.InferenceDuration.WithLabelValues(source).Observe(d.Seconds())
}
