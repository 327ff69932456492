package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"callscribe/capture"
	"callscribe/pipeline"
	"callscribe/transcriber"
)

// Config is the complete callscribe configuration.
type Config struct {
	Audio         AudioConfig         `yaml:"audio"`
	Capture       CaptureConfig       `yaml:"capture"`
	Transcription TranscriptionConfig `yaml:"transcription"`
	Metrics       MetricsConfig       `yaml:"metrics"`
	Log           LogConfig           `yaml:"log"`
	Recorder      RecorderConfig      `yaml:"recorder"`
}

type AudioConfig struct {
	SampleRate     int    `yaml:"sample_rate"`
	FrameChunkSize int    `yaml:"frame_chunk_size"`
	ChannelCount   int    `yaml:"channel_count"` // 0 keeps the device's native count
	MicDevice      string `yaml:"mic_device"`
	LoopbackDevice string `yaml:"loopback_device"`
	Simulate       bool   `yaml:"simulate"`
	MicWAV         string `yaml:"mic_wav"`
	LoopbackWAV    string `yaml:"loopback_wav"`
}

type CaptureConfig struct {
	StopTimeout  time.Duration `yaml:"stop_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	RingChunks   int           `yaml:"ring_chunks"`
	DropLogEvery uint64        `yaml:"drop_log_every"`
}

type TranscriptionConfig struct {
	WindowDuration     float64       `yaml:"window_duration"` // seconds
	Overlap            float64       `yaml:"overlap"`         // seconds
	QueueCapacity      int           `yaml:"queue_capacity"`
	EnqueueTimeout     time.Duration `yaml:"enqueue_timeout"`
	PollInterval       time.Duration `yaml:"poll_interval"`
	InferenceTimeout   time.Duration `yaml:"inference_timeout"`
	MaxBufferedWindows int           `yaml:"max_buffered_windows"`
	Backend            string        `yaml:"backend"`
	Model              string        `yaml:"model"`
	ModelPath          string        `yaml:"model_path"`
	Language           string        `yaml:"language"`
	Threads            int           `yaml:"threads"`
	APIKey             string        `yaml:"api_key"`
	BaseURL            string        `yaml:"base_url"`
}

type MetricsConfig struct {
	Listen string `yaml:"listen"` // empty disables the endpoint
}

type LogConfig struct {
	Dir   string `yaml:"dir"`
	Level string `yaml:"level"`
}

type RecorderConfig struct {
	Dir string `yaml:"dir"` // empty disables recording
}

func Default() *Config {
	return &Config{
		Audio: AudioConfig{
			SampleRate:     16000,
			FrameChunkSize: 1024,
		},
		Capture: CaptureConfig{
			StopTimeout:  capture.DefaultStopTimeout,
			ReadTimeout:  500 * time.Millisecond,
			RingChunks:   capture.DefaultRingChunks,
			DropLogEvery: capture.DefaultDropLogEvery,
		},
		Transcription: TranscriptionConfig{
			WindowDuration:     3.0,
			Overlap:            0.5,
			QueueCapacity:      8,
			EnqueueTimeout:     capture.DefaultEnqueueTimeout,
			PollInterval:       transcriber.DefaultPollInterval,
			InferenceTimeout:   transcriber.DefaultInferenceTimeout,
			MaxBufferedWindows: transcriber.DefaultMaxWindows,
			Backend:            transcriber.BackendSimulated,
			Language:           "auto",
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load reads path over the defaults. An empty path returns the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// YAML renders the effective configuration.
func (c *Config) YAML() ([]byte, error) {
	return yaml.Marshal(c)
}

// ApplyEnv overrides fields from CALLSCRIBE_* variables and OPENAI_API_KEY.
func (c *Config) ApplyEnv() error {
	str := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	str("CALLSCRIBE_BACKEND", &c.Transcription.Backend)
	str("CALLSCRIBE_MODEL", &c.Transcription.Model)
	str("CALLSCRIBE_MODEL_PATH", &c.Transcription.ModelPath)
	str("CALLSCRIBE_LANGUAGE", &c.Transcription.Language)
	str("CALLSCRIBE_OPENAI_BASE_URL", &c.Transcription.BaseURL)
	str("OPENAI_API_KEY", &c.Transcription.APIKey)
	str("CALLSCRIBE_MIC_DEVICE", &c.Audio.MicDevice)
	str("CALLSCRIBE_LOOPBACK_DEVICE", &c.Audio.LoopbackDevice)
	str("CALLSCRIBE_METRICS_LISTEN", &c.Metrics.Listen)
	str("CALLSCRIBE_LOG_LEVEL", &c.Log.Level)
	str("CALLSCRIBE_RECORD_DIR", &c.Recorder.Dir)

	if v := os.Getenv("CALLSCRIBE_SIMULATE"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("CALLSCRIBE_SIMULATE: %w", err)
		}
		c.Audio.Simulate = b
	}
	return nil
}

func (c *Config) Validate() error {
	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("audio config: %w", err)
	}
	if err := c.Capture.Validate(); err != nil {
		return fmt.Errorf("capture config: %w", err)
	}
	if err := c.Transcription.Validate(c.Audio.SampleRate); err != nil {
		return fmt.Errorf("transcription config: %w", err)
	}
	if err := c.Log.Validate(); err != nil {
		return fmt.Errorf("log config: %w", err)
	}
	return nil
}

func (a *AudioConfig) Validate() error {
	if a.SampleRate < 8000 || a.SampleRate > 48000 {
		return fmt.Errorf("sample_rate must be between 8000 and 48000 Hz, got %d", a.SampleRate)
	}
	if a.FrameChunkSize < 64 {
		return fmt.Errorf("frame_chunk_size must be at least 64 frames, got %d", a.FrameChunkSize)
	}
	if a.ChannelCount < 0 || a.ChannelCount > 2 {
		return fmt.Errorf("channel_count must be 0 (native), 1 or 2, got %d", a.ChannelCount)
	}
	return nil
}

func (c *CaptureConfig) Validate() error {
	if c.StopTimeout <= 0 {
		return fmt.Errorf("stop_timeout must be positive, got %s", c.StopTimeout)
	}
	if c.ReadTimeout <= 0 {
		return fmt.Errorf("read_timeout must be positive, got %s", c.ReadTimeout)
	}
	if c.RingChunks < 1 {
		return fmt.Errorf("ring_chunks must be at least 1, got %d", c.RingChunks)
	}
	return nil
}

var validBackends = map[string]bool{
	transcriber.BackendSimulated: true,
	transcriber.BackendOpenAI:    true,
	transcriber.BackendWhisper:   true,
}

func (t *TranscriptionConfig) Validate(sampleRate int) error {
	if t.WindowDuration <= 0 {
		return fmt.Errorf("window_duration must be positive, got %g", t.WindowDuration)
	}
	if t.Overlap < 0 || t.Overlap >= t.WindowDuration {
		return fmt.Errorf("overlap (%g) must be in [0, window_duration %g)", t.Overlap, t.WindowDuration)
	}
	if err := t.window(sampleRate).Validate(); err != nil {
		return err
	}
	if t.QueueCapacity < 1 {
		return fmt.Errorf("queue_capacity must be at least 1, got %d", t.QueueCapacity)
	}
	if t.EnqueueTimeout < 0 {
		return fmt.Errorf("enqueue_timeout cannot be negative, got %s", t.EnqueueTimeout)
	}
	if t.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be positive, got %s", t.PollInterval)
	}
	if t.MaxBufferedWindows < 1 {
		return fmt.Errorf("max_buffered_windows must be at least 1, got %d", t.MaxBufferedWindows)
	}
	if !validBackends[t.Backend] {
		return fmt.Errorf("backend must be simulated, openai or whisper, got %q", t.Backend)
	}
	if t.Backend == transcriber.BackendWhisper && t.ModelPath == "" {
		return errors.New("model_path is required for the whisper backend")
	}
	return nil
}

func (t *TranscriptionConfig) window(sampleRate int) transcriber.WindowConfig {
	return transcriber.WindowConfig{
		SampleRate: sampleRate,
		Window:     seconds(t.WindowDuration),
		Overlap:    seconds(t.Overlap),
		MaxWindows: t.MaxBufferedWindows,
	}
}

func (l *LogConfig) Validate() error {
	switch l.Level {
	case "", "debug", "info", "warn", "error":
		return nil
	}
	return fmt.Errorf("level must be debug, info, warn or error, got %q", l.Level)
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// PipelineConfig maps the file layout onto the pipeline's component configs.
func (c *Config) PipelineConfig() pipeline.Config {
	t := c.Transcription
	return pipeline.Config{
		Capture: capture.Config{
			SampleRate:     c.Audio.SampleRate,
			FrameChunkSize: c.Audio.FrameChunkSize,
			Channels:       c.Audio.ChannelCount,
			MicDevice:      c.Audio.MicDevice,
			LoopbackDevice: c.Audio.LoopbackDevice,
			ReadTimeout:    c.Capture.ReadTimeout,
			StopTimeout:    c.Capture.StopTimeout,
			RingChunks:     c.Capture.RingChunks,
			QueueCapacity:  t.QueueCapacity,
			EnqueueTimeout: t.EnqueueTimeout,
			DropLogEvery:   c.Capture.DropLogEvery,
		},
		Transcriber: transcriber.Config{
			Window:           t.window(c.Audio.SampleRate),
			PollInterval:     t.PollInterval,
			StopTimeout:      c.Capture.StopTimeout,
			InferenceTimeout: t.InferenceTimeout,
		},
	}
}

func (c *Config) RecognizerOptions() transcriber.Options {
	t := c.Transcription
	return transcriber.Options{
		Backend:    t.Backend,
		SampleRate: c.Audio.SampleRate,
		Language:   t.Language,
		Model:      t.Model,
		APIKey:     t.APIKey,
		BaseURL:    t.BaseURL,
		ModelPath:  t.ModelPath,
		Threads:    t.Threads,
	}
}
