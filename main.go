package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	_ "net/http/pprof"
	"os"
	"path/filepath"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/term"

	"callscribe/audio"
	"callscribe/capture"
	"callscribe/conditioner"
	"callscribe/config"
	"callscribe/doctor"
	"callscribe/log"
	"callscribe/metrics"
	"callscribe/pipeline"
	"callscribe/recorder"
	"callscribe/shutdown"
	"callscribe/transcriber"
)

var version = "dev"

func main() {
	os.Exit(run())
}

type cliFlags struct {
	config       *string
	logPath      *string
	logLevel     *string
	verbose      *bool
	backend      *string
	model        *string
	modelPath    *string
	lang         *string
	micDevice    *string
	loopDevice   *string
	simulate     *bool
	micWAV       *string
	loopWAV      *string
	record       *string
	metrics      *string
	tui          *bool
	setup        *bool
	listDevices  *bool
	doctor       *bool
	dumpConfig   *bool
	duration     *time.Duration
	session      *string
	profile      *string
	test         *bool
	printVersion *bool
}

func parseFlags() *cliFlags {
	f := &cliFlags{
		config:       flag.String("config", "", "YAML config file (built-in defaults when empty)"),
		logPath:      flag.String("logpath", "", "log directory path (default: OS-specific location, use ./ for current dir)"),
		logLevel:     flag.String("log-level", "", "Diagnostics level: debug, info, warn, error"),
		verbose:      flag.Bool("v", false, "Copy diagnostics to stderr (console mode only)"),
		backend:      flag.String("backend", "", "Recognizer backend: simulated, openai, whisper"),
		model:        flag.String("model", "", "Recognizer model name (openai backend)"),
		modelPath:    flag.String("model-path", "", "ggml model file (whisper backend)"),
		lang:         flag.String("lang", "", "Language code for recognition (e.g., en, es). auto = detect"),
		micDevice:    flag.String("mic-device", "", "Use named microphone device"),
		loopDevice:   flag.String("loopback-device", "", "Use named loopback device"),
		simulate:     flag.Bool("simulate", false, "Use simulated audio for both sources"),
		micWAV:       flag.String("mic-wav", "", "Replay a WAV file as the microphone source"),
		loopWAV:      flag.String("loopback-wav", "", "Replay a WAV file as the loopback source"),
		record:       flag.String("record", "", "Write raw per-source FLAC tracks into this directory"),
		metrics:      flag.String("metrics", "", "Serve Prometheus metrics on this address (e.g., :9464)"),
		tui:          flag.Bool("tui", true, "Run with terminal UI when stdout is a terminal"),
		setup:        flag.Bool("setup", false, "Select microphone and loopback devices interactively"),
		listDevices:  flag.Bool("list-devices", false, "List capture devices and exit"),
		doctor:       flag.Bool("doctor", false, "Run capture and recognizer diagnostics and exit"),
		dumpConfig:   flag.Bool("dump-config", false, "Print the effective configuration and exit"),
		duration:     flag.Duration("duration", 0, "Stop the session after this long (0 = until interrupted)"),
		session:      flag.String("session", "", "Session id (default: generated UUIDv7)"),
		profile:      flag.String("profile", "", "Enable pprof profiling server (e.g., :6060 or localhost:6060)"),
		test:         flag.Bool("test", false, "Test mode (headless, stdin-driven)"),
		printVersion: flag.Bool("version", false, "Print version and exit"),
	}
	flag.Parse()
	return f
}

// apply copies explicitly set flags over the file and env configuration.
func (f *cliFlags) apply(cfg *config.Config) {
	flag.Visit(func(fl *flag.Flag) {
		switch fl.Name {
		case "log-level":
			cfg.Log.Level = *f.logLevel
		case "backend":
			cfg.Transcription.Backend = *f.backend
		case "model":
			cfg.Transcription.Model = *f.model
		case "model-path":
			cfg.Transcription.ModelPath = *f.modelPath
		case "lang":
			cfg.Transcription.Language = *f.lang
		case "mic-device":
			cfg.Audio.MicDevice = *f.micDevice
		case "loopback-device":
			cfg.Audio.LoopbackDevice = *f.loopDevice
		case "simulate":
			cfg.Audio.Simulate = *f.simulate
		case "mic-wav":
			cfg.Audio.MicWAV = *f.micWAV
		case "loopback-wav":
			cfg.Audio.LoopbackWAV = *f.loopWAV
		case "record":
			cfg.Recorder.Dir = *f.record
		case "metrics":
			cfg.Metrics.Listen = *f.metrics
		}
	})
}

func run() int {
	f := parseFlags()

	if *f.printVersion {
		fmt.Printf("callscribe %s\n", version)
		return 0
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Warning: could not load .env: %v\n", err)
	}

	cfg, err := config.Load(*f.config)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	if err := cfg.ApplyEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	f.apply(cfg)
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: invalid configuration: %v\n", err)
		return 1
	}

	if *f.dumpConfig {
		data, err := cfg.YAML()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		os.Stdout.Write(data)
		return 0
	}

	// Resolve log directory early
	logArg := *f.logPath
	if logArg == "" {
		logArg = cfg.Log.Dir
	}
	logPath, err := log.ResolveDir(logArg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to resolve log directory: %v\n", err)
		return 1
	}
	log.SetDir(logPath)
	if err := log.EnsureDir(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not create log directory: %v\n", err)
	}

	crashPath := filepath.Join(log.Dir(), "crash_log.txt")
	if crashFile, err := os.OpenFile(crashPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644); err == nil {
		fmt.Fprintf(crashFile, "\n=== Session %s [pid=%d] ===\n", time.Now().Format("2006-01-02 15:04:05"), os.Getpid())
		debug.SetCrashOutput(crashFile, debug.CrashOptions{})
	}

	if *f.profile != "" {
		go func() {
			fmt.Fprintf(os.Stderr, "pprof server listening on http://%s/debug/pprof/\n", *f.profile)
			if err := http.ListenAndServe(*f.profile, nil); err != nil {
				fmt.Fprintf(os.Stderr, "pprof server error: %v\n", err)
			}
		}()
	}

	useTUI := *f.tui && !*f.test && !*f.doctor && term.IsTerminal(int(os.Stdout.Fd()))

	logOpts := log.Options{Level: cfg.Log.Level}
	if *f.verbose && !useTUI {
		logOpts.Console = os.Stderr
	}
	if err := log.Init(logOpts); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not init logging: %v\n", err)
	}
	defer log.Close()

	var actx audio.Context
	needDevices := !cfg.Audio.Simulate && (cfg.Audio.MicWAV == "" || cfg.Audio.LoopbackWAV == "")
	if needDevices || *f.listDevices || *f.setup {
		actx, err = audio.NewContext()
		if err != nil {
			// units fall back to simulated audio on their own
			log.Warnf("audio context init error: %v", err)
			fmt.Fprintf(os.Stderr, "Warning: audio unavailable: %v\n", err)
			actx = nil
		} else {
			defer actx.Close()
		}
	}

	if *f.listDevices {
		if actx == nil {
			return 1
		}
		if err := listDevices(actx, os.Stdout); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		return 0
	}

	if *f.setup && !*f.doctor && actx != nil {
		if err := setupDevices(actx, &cfg.Audio, os.Stdout); err != nil {
			log.Warnf("device selection failed: %v", err)
			fmt.Printf("Warning: device selection failed: %v\n", err)
			fmt.Println("Falling back to default devices")
		}
	}

	mic, loop, replays := openers(cfg, actx)

	rec, err := transcriber.New(cfg.RecognizerOptions())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	if c, ok := rec.(io.Closer); ok {
		defer c.Close()
	}

	if *f.doctor {
		opts := doctor.Options{
			Mic:        mic,
			Loopback:   loop,
			MicDevice:  cfg.Audio.MicDevice,
			LoopDevice: cfg.Audio.LoopbackDevice,
			Recognizer: rec,
			SampleRate: cfg.Audio.SampleRate,
		}
		if *f.setup && actx != nil {
			opts.Picker = actx
		}
		return doctor.Run(context.Background(), opts)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)
	if cfg.Metrics.Listen != "" {
		srv := serveMetrics(cfg.Metrics.Listen, reg)
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			srv.Shutdown(ctx)
		}()
	}

	p, err := pipeline.New(cfg.PipelineConfig(), mic, loop, rec, m)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	ctx, stop := shutdown.Context(context.Background())
	defer stop()

	var sink EventSink
	var tuiDone chan struct{}
	var quitTUI func()
	if useTUI {
		program := NewTUIProgram(p.Metrics)
		sink = tuiSink{p: program}
		tuiDone = make(chan struct{})
		go func() {
			defer close(tuiDone)
			if _, err := program.Run(); err != nil {
				log.Errorf("TUI error: %v", err)
			}
		}()
		quitTUI = func() {
			program.Quit()
			<-tuiDone
		}
	} else {
		sink = newConsoleSink(os.Stdout)
	}

	watch := newSilenceWatch(cfg.Audio.FrameChunkSize, cfg.Audio.SampleRate, sink.Silence)
	subscribe(p, sink, watch)

	var rc *recorder.Recorder
	if cfg.Recorder.Dir != "" {
		rc, err = recorder.New(cfg.Recorder.Dir)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		p.SubscribeAudio(rc.Add)
		defer func() {
			if err := rc.Close(); err != nil {
				log.Errorf("recorder close: %v", err)
			}
			if quitTUI == nil {
				for _, path := range rc.Paths() {
					fmt.Printf("recorded %s\n", path)
				}
			}
			if n := rc.Dropped(); n > 0 {
				log.Warnf("recorder dropped %d chunks", n)
			}
		}()
	}

	if *f.test {
		return runTestMode(ctx, p, sink, watch, replays, os.Stdin, os.Stdout)
	}

	sessionID, err := newSessionID(*f.session)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	if err := p.Start(ctx, sessionID); err != nil {
		log.Errorf("session start: %v", err)
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	sink.SessionStarted(sessionID)

	var deadline <-chan time.Time
	if *f.duration > 0 {
		timer := time.NewTimer(*f.duration)
		defer timer.Stop()
		deadline = timer.C
	}

	select {
	case <-ctx.Done():
		log.Info("signal received, stopping")
	case <-deadline:
		log.Info("duration elapsed, stopping")
	case <-replayDone(replays):
		log.Info("replay finished, stopping")
	case <-tuiDone:
	}
	// a second signal kills the process
	stop()

	code := 0
	if err := p.Stop(sessionID); err != nil {
		log.Errorf("session stop: %v", err)
		sink.Logf("stop: %v", err)
		if !errors.Is(err, capture.ErrStopTimeout) {
			code = 1
		}
	}
	sink.SessionStopped(sessionID)
	if quitTUI != nil {
		quitTUI()
	}
	return code
}

// openers picks the audio source for each side: WAV replay when configured,
// simulation when forced, the platform device otherwise.
func openers(cfg *config.Config, actx audio.Context) (mic, loop audio.Opener, replays []*audio.FileOpener) {
	pick := func(wav string) audio.Opener {
		if wav != "" {
			fo := &audio.FileOpener{Path: wav, Realtime: true}
			replays = append(replays, fo)
			return fo
		}
		if cfg.Audio.Simulate {
			return audio.SimulatedOpener{}
		}
		return audio.DeviceOpener{Ctx: actx}
	}
	mic = pick(cfg.Audio.MicWAV)
	loop = pick(cfg.Audio.LoopbackWAV)
	return mic, loop, replays
}

// levelSink is implemented by sinks that render live input levels.
type levelSink interface {
	AudioLevel(src capture.Source, level float64)
}

func subscribe(p *pipeline.Pipeline, sink EventSink, watch *silenceWatch) {
	p.SubscribeTranscripts(sink.Transcript)
	p.SubscribeWarnings(sink.Warning)
	p.SubscribeAudio(watch.Observe)
	if ls, ok := sink.(levelSink); ok {
		p.SubscribeAudio(func(c capture.AudioChunk) {
			ls.AudioLevel(c.Source, conditioner.RMS(c.Samples))
		})
	}
}

func newSessionID(explicit string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("session id: %w", err)
	}
	return id.String(), nil
}

func serveMetrics(addr string, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(reg))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		log.Infof("metrics listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("metrics server: %v", err)
		}
	}()
	return srv
}

// replayDone closes once every opened replay source has been read to the
// end. Nil when nothing is replayed, which blocks forever in a select.
func replayDone(replays []*audio.FileOpener) <-chan struct{} {
	var dones []<-chan struct{}
	for _, fo := range replays {
		if done := fo.Done(); done != nil {
			dones = append(dones, done)
		}
	}
	if len(dones) == 0 {
		return nil
	}
	out := make(chan struct{})
	go func() {
		for _, done := range dones {
			<-done
		}
		close(out)
	}()
	return out
}
