//go:build whisper

package transcriber

import (
	"context"
	"fmt"
	"strings"
	"sync"

	whisper "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
)

// Whisper runs whisper.cpp in process. The ggml context is not safe for
// concurrent use, so inference is serialized.
type Whisper struct {
	model whisper.Model

	mu  sync.Mutex
	ctx whisper.Context
}

func NewWhisper(opts Options) (Recognizer, error) {
	if opts.ModelPath == "" {
		return nil, fmt.Errorf("whisper: model_path is required")
	}
	model, err := whisper.New(opts.ModelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load %s: %w", opts.ModelPath, err)
	}
	wctx, err := model.NewContext()
	if err != nil {
		model.Close()
		return nil, fmt.Errorf("whisper: new context: %w", err)
	}
	lang := opts.Language
	if lang == "" {
		lang = "auto"
	}
	if err := wctx.SetLanguage(lang); err != nil {
		model.Close()
		return nil, fmt.Errorf("whisper: language %q: %w", lang, err)
	}
	wctx.SetTranslate(false)
	if opts.Threads > 0 {
		wctx.SetThreads(uint(opts.Threads))
	}
	return &Whisper{model: model, ctx: wctx}, nil
}

func (w *Whisper) Name() string { return BackendWhisper }

func (w *Whisper) Recognize(ctx context.Context, samples []int16) (Result, error) {
	floats := make([]float32, len(samples))
	for i, s := range samples {
		floats[i] = float32(s) / 32768.0
	}

	var (
		text   strings.Builder
		probs  float64
		tokens int
	)
	onSegment := func(seg whisper.Segment) {
		text.WriteString(seg.Text)
		for _, tok := range seg.Tokens {
			probs += float64(tok.P)
			tokens++
		}
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	if err := w.ctx.Process(floats, nil, onSegment, nil); err != nil {
		return Result{}, fmt.Errorf("whisper process: %w", err)
	}

	res := Result{Text: strings.TrimSpace(text.String())}
	if res.Text == "[BLANK_AUDIO]" || res.Text == "BLANK_AUDIO" {
		res.Text = ""
	}
	if res.Text != "" && tokens > 0 {
		res.Confidence = clamp01(probs / float64(tokens))
	}
	return res, nil
}

func (w *Whisper) Close() error {
	return w.model.Close()
}
