package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecorders(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.RecordChunk("mic", 1024)
	m.RecordChunk("mic", 1024)
	m.RecordDrop("loopback")
	m.SetSyncDrift(-42)
	m.RecordWindow("mic", 120*time.Millisecond)
	m.RecordInferenceFailure("mic", time.Second)

	if got := testutil.ToFloat64(m.ChunksCaptured.WithLabelValues("mic")); got != 2 {
		t.Errorf("chunks = %v", got)
	}
	if got := testutil.ToFloat64(m.SamplesCaptured.WithLabelValues("mic")); got != 2048 {
		t.Errorf("samples = %v", got)
	}
	if got := testutil.ToFloat64(m.ChunksDropped.WithLabelValues("loopback")); got != 1 {
		t.Errorf("dropped = %v", got)
	}
	if got := testutil.ToFloat64(m.SyncDrift); got != -42 {
		t.Errorf("drift = %v", got)
	}
	if got := testutil.CollectAndCount(m.InferenceDuration); got != 1 {
		t.Errorf("histogram series = %d", got)
	}
}

func TestCaptureModeSwitch(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.SetCaptureMode("mic", "device")
	m.SetCaptureMode("mic", "simulated")
	if got := testutil.CollectAndCount(m.CaptureMode); got != 1 {
		t.Fatalf("series = %d, want 1", got)
	}
	if got := testutil.ToFloat64(m.CaptureMode.WithLabelValues("mic", "simulated")); got != 1 {
		t.Errorf("simulated = %v", got)
	}
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	m.RecordChunk("mic", 1)
	m.RecordDrop("mic")
	m.SetSyncDrift(1)
	m.SetQueueDepth(1)
	m.SetBuffered("mic", 1)
	m.RecordWindow("mic", time.Millisecond)
	m.RecordInferenceFailure("mic", time.Millisecond)
	m.SetCaptureMode("mic", "device")
	m.SessionStarted()
	m.SessionEnded()
}

func TestHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.SetQueueDepth(3)

	srv := httptest.NewServer(Handler(reg))
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "callscribe_queue_depth 3") {
		t.Errorf("missing gauge in output:\n%s", body)
	}
}
