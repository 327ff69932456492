//go:build integration

package test_test

import (
	"fmt"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"callscribe/encoder"
)

var testBinary string

func TestMain(m *testing.M) {
	testBinary = os.Getenv("CALLSCRIBE_TEST_BIN")
	if testBinary == "" {
		fmt.Fprintln(os.Stderr, "CALLSCRIBE_TEST_BIN not set; build the binary and point the variable at it")
		os.Exit(1)
	}
	os.Exit(m.Run())
}

// writeWAV writes a 16 kHz mono file: a 220 Hz tone, or silence when amp is 0.
func writeWAV(t *testing.T, name string, seconds, amp float64) string {
	t.Helper()
	n := int(16000 * seconds)
	samples := make([]int16, n)
	for i := range samples {
		samples[i] = int16(amp * 32767 * math.Sin(2*math.Pi*220*float64(i)/16000))
	}
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, encoder.EncodeWAV(samples, 16000, 1), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func cmds(parts ...string) string {
	return strings.Join(parts, "\n") + "\n"
}

func runCallscribe(t *testing.T, stdin string, args ...string) (logDir, stdout string) {
	t.Helper()
	logDir = t.TempDir()
	cmdArgs := append([]string{"-logpath", logDir, "-tui=false"}, args...)

	cmd := exec.Command(testBinary, cmdArgs...)
	cmd.Stdin = strings.NewReader(stdin)
	cmd.Env = os.Environ()

	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("callscribe exited with error: %v\noutput: %s", err, out)
	}
	return logDir, string(out)
}

func readLog(t *testing.T, logDir, filename string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(logDir, filename))
	if err != nil {
		if os.IsNotExist(err) {
			return ""
		}
		t.Fatalf("failed to read %s: %v", filename, err)
	}
	return string(data)
}

func TestReplaySession(t *testing.T) {
	mic := writeWAV(t, "mic.wav", 4, 0.3)
	loop := writeWAV(t, "loop.wav", 1.25, 0.3)

	logDir, out := runCallscribe(t, cmds("START it-1", "WAIT_AUDIO_DONE", "METRICS", "STOP", "QUIT"),
		"-test", "-backend", "simulated", "-mic-wav", mic, "-loopback-wav", loop)

	if !strings.Contains(out, "METRICS running=true") || !strings.Contains(out, "mic_mode=replay") {
		t.Errorf("metrics line missing:\n%s", out)
	}

	transcripts := readLog(t, logDir, "transcript_log.txt")
	spans := map[string][]int64{}
	for _, line := range strings.Split(transcripts, "\n") {
		fields := strings.Split(line, "\t")
		if len(fields) < 7 || fields[2] != "it-1" {
			continue
		}
		var start, end int64
		if _, err := fmt.Sscanf(fields[4], "%d-%d", &start, &end); err != nil {
			t.Fatalf("bad span %q", fields[4])
		}
		spans[fields[3]] = append(spans[fields[3]], end-start)
	}
	if len(spans["mic"]) == 0 || spans["mic"][0] != 3000 {
		t.Errorf("mic spans = %v, want a full 3000ms first window:\n%s", spans["mic"], transcripts)
	}
	if len(spans["loopback"]) == 0 {
		t.Errorf("expected a loopback transcript:\n%s", transcripts)
	}

	diag := readLog(t, logDir, "diagnostics_log.txt")
	for _, want := range []string{"session_start", "session_end", "session=it-1", "mode=replay"} {
		if !strings.Contains(diag, want) {
			t.Errorf("diagnostics missing %q", want)
		}
	}
}

func TestSimulatedFallback(t *testing.T) {
	logDir, _ := runCallscribe(t, cmds("START sim-1", "SLEEP 500", "METRICS", "STOP", "QUIT"),
		"-test", "-simulate")
	diag := readLog(t, logDir, "diagnostics_log.txt")
	if strings.Count(diag, "using simulated audio") != 2 {
		t.Errorf("expected one fallback warning per source:\n%s", diag)
	}
}

func TestSilentReplay(t *testing.T) {
	mic := writeWAV(t, "silence.wav", 3, 0)
	logDir, _ := runCallscribe(t, cmds("START quiet", "WAIT_AUDIO_DONE", "STOP", "QUIT"),
		"-test", "-mic-wav", mic, "-loopback-wav", mic)
	for _, line := range strings.Split(readLog(t, logDir, "transcript_log.txt"), "\n") {
		fields := strings.Split(line, "\t")
		if len(fields) < 7 {
			continue
		}
		if text := fields[6]; text != "" {
			t.Errorf("silence produced text %q", text)
		}
	}
}

func TestDumpConfig(t *testing.T) {
	_, out := runCallscribe(t, "", "-dump-config", "-lang", "de", "-backend", "simulated")
	for _, want := range []string{"language: de", "window_duration: 3", "queue_capacity: 8"} {
		if !strings.Contains(out, want) {
			t.Errorf("config dump missing %q:\n%s", want, out)
		}
	}
}

func TestOpenAIReplay(t *testing.T) {
	if os.Getenv("OPENAI_API_KEY") == "" {
		t.Skip("OPENAI_API_KEY not set")
	}
	mic := writeWAV(t, "mic.wav", 3.5, 0.3)
	logDir, _ := runCallscribe(t, cmds("START oa", "WAIT_AUDIO_DONE", "STOP", "QUIT"),
		"-test", "-backend", "openai", "-mic-wav", mic, "-loopback-wav", mic)
	diag := readLog(t, logDir, "diagnostics_log.txt")
	if strings.Contains(diag, "inference failed") {
		t.Errorf("inference failures:\n%s", diag)
	}
}
