package log

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	diagLog        zerolog.Logger
	diagFile       *os.File
	transcriptFile *os.File
	logMu          sync.Mutex
	logReady       bool
	pid            int
	dir            string
)

type Options struct {
	// Console receives a colored copy of diagnostics when set.
	Console io.Writer
	Level   string
}

func ResolveDir(flagPath string) (string, error) {
	// Priority 1: -logpath flag
	if flagPath != "" {
		return absPath(flagPath)
	}

	// Priority 2: CALLSCRIBE_LOG_PATH environment variable
	if envPath := os.Getenv("CALLSCRIBE_LOG_PATH"); envPath != "" {
		return absPath(envPath)
	}

	// Priority 3: Default OS-specific location
	return getDefaultDir()
}

func absPath(p string) (string, error) {
	if filepath.IsAbs(p) {
		return p, nil
	}
	wd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	return filepath.Join(wd, p), nil
}

func SetDir(d string) {
	dir = d
}

func Dir() string {
	return dir
}

func EnsureDir() error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}
	return nil
}

// Init opens diagnostics_log.txt and transcript_log.txt under Dir. With an
// empty Dir only the console writer is used.
func Init(opts Options) error {
	logMu.Lock()
	defer logMu.Unlock()

	pid = os.Getpid()

	level := zerolog.InfoLevel
	if opts.Level != "" {
		l, err := zerolog.ParseLevel(opts.Level)
		if err != nil {
			return fmt.Errorf("log level: %w", err)
		}
		level = l
	}

	var writers []io.Writer
	if dir != "" {
		if err := EnsureDir(); err != nil {
			return err
		}

		var err error
		diagPath := filepath.Join(dir, "diagnostics_log.txt")
		diagFile, err = os.OpenFile(diagPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return err
		}

		transcriptPath := filepath.Join(dir, "transcript_log.txt")
		transcriptFile, err = os.OpenFile(transcriptPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			diagFile.Close()
			diagFile = nil
			return err
		}

		writers = append(writers, zerolog.ConsoleWriter{
			Out:        diagFile,
			TimeFormat: "2006-01-02 15:04:05",
			NoColor:    true,
		})
	}
	if opts.Console != nil {
		writers = append(writers, zerolog.ConsoleWriter{
			Out:        opts.Console,
			TimeFormat: "15:04:05.000",
		})
	}
	if len(writers) == 0 {
		return fmt.Errorf("no log destination")
	}

	diagLog = zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(level).
		With().Timestamp().Int("pid", pid).Logger()

	logReady = true
	return nil
}

func Close() {
	logMu.Lock()
	defer logMu.Unlock()
	if diagFile != nil {
		diagFile.Close()
		diagFile = nil
	}
	if transcriptFile != nil {
		transcriptFile.Close()
		transcriptFile = nil
	}
	logReady = false
}

func Debugf(format string, args ...any) {
	if logReady {
		diagLog.Debug().Msg(fmt.Sprintf(format, args...))
	}
}

func Info(msg string) {
	if logReady {
		diagLog.Info().Msg(msg)
	}
}

func Infof(format string, args ...any) {
	if logReady {
		diagLog.Info().Msg(fmt.Sprintf(format, args...))
	}
}

func Error(msg string) {
	if logReady {
		diagLog.Error().Msg(msg)
	}
}

func Errorf(format string, args ...any) {
	if logReady {
		diagLog.Error().Msg(fmt.Sprintf(format, args...))
	}
}

func Warn(msg string) {
	if logReady {
		diagLog.Warn().Msg(msg)
	}
}

func Warnf(format string, args ...any) {
	if logReady {
		diagLog.Warn().Msg(fmt.Sprintf(format, args...))
	}
}

func SessionStart(sessionID, backend string, windowS, overlapS float64) {
	if !logReady {
		return
	}
	diagLog.Info().
		Str("session", sessionID).
		Str("backend", backend).
		Float64("window_s", windowS).
		Float64("overlap_s", overlapS).
		Msg("session_start")
}

type SessionStats struct {
	MicChunks         uint64
	LoopbackChunks    uint64
	Windows           uint64
	InferenceFailures uint64
	Dropped           uint64
	AvgInferenceMs    float64
	Duration          time.Duration
}

func SessionEnd(sessionID string, s SessionStats) {
	if !logReady {
		return
	}
	diagLog.Info().
		Str("session", sessionID).
		Uint64("mic_chunks", s.MicChunks).
		Uint64("loopback_chunks", s.LoopbackChunks).
		Uint64("windows", s.Windows).
		Uint64("inference_failures", s.InferenceFailures).
		Uint64("dropped", s.Dropped).
		Float64("avg_inference_ms", s.AvgInferenceMs).
		Dur("duration", s.Duration).
		Msg("session_end")
}

func DeviceOpened(source, name, mode string, rate, channels int) {
	if !logReady {
		return
	}
	diagLog.Info().
		Str("source", source).
		Str("device", name).
		Str("mode", mode).
		Int("rate", rate).
		Int("channels", channels).
		Msg("capture_open")
}

func DeviceFallback(source string, err error) {
	if !logReady {
		return
	}
	diagLog.Warn().
		Str("source", source).
		Err(err).
		Msg("device unavailable, using simulated audio")
}

func QueueDrop(source string, dropped uint64) {
	if !logReady {
		return
	}
	diagLog.Warn().
		Str("source", source).
		Uint64("dropped_total", dropped).
		Msg("transcription queue full, dropping chunk")
}

func InferenceFailed(source string, tsStartMs int64, err error) {
	if !logReady {
		return
	}
	diagLog.Error().
		Str("source", source).
		Int64("ts_start_ms", tsStartMs).
		Err(err).
		Msg("inference failed, skipping window")
}

func StopTimeout(component string, timeout time.Duration) {
	if !logReady {
		return
	}
	diagLog.Warn().
		Str("component", component).
		Dur("timeout", timeout).
		Msg("stop timed out, abandoning goroutine")
}

type WindowStats struct {
	Windows         uint64
	AvgInferenceMs  float64
	LastInferenceMs float64
	MicBuffered     int
	LoopbackBuffer  int
	QueueLen        int
	Dropped         uint64
}

func WindowMetrics(s WindowStats) {
	if !logReady {
		return
	}
	diagLog.Info().
		Uint64("windows", s.Windows).
		Float64("avg_ms", s.AvgInferenceMs).
		Float64("last_ms", s.LastInferenceMs).
		Int("mic_buffered", s.MicBuffered).
		Int("loopback_buffered", s.LoopbackBuffer).
		Int("queue_len", s.QueueLen).
		Uint64("dropped", s.Dropped).
		Msg("transcription_metrics")
}

// Transcript appends one line per transcript chunk to transcript_log.txt.
func Transcript(sessionID, source string, startMs, endMs int64, text string, confidence float64) {
	if !logReady {
		return
	}
	logMu.Lock()
	defer logMu.Unlock()
	if transcriptFile == nil {
		return
	}
	line := fmt.Sprintf("%s\t[%d]\t%s\t%s\t%d-%d\t%.2f\t%s\n",
		time.Now().Format("2006-01-02 15:04:05"), pid, sessionID, source, startMs, endMs, confidence, text)
	transcriptFile.WriteString(line)
}
