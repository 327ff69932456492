package transcriber

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"callscribe/conditioner"
)

// Fake returns fixed text or a fixed error, optionally after a delay.
type Fake struct {
	text       string
	confidence float64
	err        error
	delay      time.Duration

	calls atomic.Int64
	mu    sync.Mutex
	lens  []int
}

func NewFake(text string, confidence float64, err error) *Fake {
	return &Fake{text: text, confidence: confidence, err: err}
}

// WithDelay makes every call take d, or less if ctx ends first.
func (f *Fake) WithDelay(d time.Duration) *Fake {
	f.delay = d
	return f
}

func (f *Fake) Name() string { return "fake" }

func (f *Fake) Recognize(ctx context.Context, samples []int16) (Result, error) {
	f.calls.Add(1)
	f.mu.Lock()
	f.lens = append(f.lens, len(samples))
	f.mu.Unlock()

	if f.delay > 0 {
		t := time.NewTimer(f.delay)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
			return Result{}, ctx.Err()
		}
	}
	if f.err != nil {
		return Result{}, fmt.Errorf("fake recognizer error: %w", f.err)
	}
	return Result{Text: f.text, Confidence: f.confidence}, nil
}

func (f *Fake) Calls() int { return int(f.calls.Load()) }

// InputLens records the sample count of every call.
func (f *Fake) InputLens() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.lens...)
}

// speechRMS is 1000 on the int16 scale, well above the simulated noise floor.
const speechRMS = 1000.0 / 32768

var cannedPhrases = []string{
	"Hello, good morning! How are you?",
	"I'd like to know more about the product",
	"What is the price of the solution?",
	"Understood, thanks for the information",
	"Shall we schedule a demo?",
	"I need to talk to the technical lead",
	"The budget is approved for this quarter",
	"When can we start the project?",
	"That fits within our budget",
	"Let's look at the available options",
	"What is the implementation timeline?",
	"Do you offer technical support?",
	"How does the contracting process work?",
	"What are the main benefits?",
	"Can I talk to someone from the board?",
}

// Simulated stands in for a model during development: windows with
// speech-level energy get a canned sales phrase, quieter ones get empty
// text with zero confidence.
type Simulated struct {
	next atomic.Uint64
}

func NewSimulated() *Simulated { return &Simulated{} }

func (s *Simulated) Name() string { return BackendSimulated }

func (s *Simulated) Recognize(ctx context.Context, samples []int16) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	if conditioner.RMS(samples) <= speechRMS {
		return Result{}, nil
	}
	i := s.next.Add(1) - 1
	return Result{Text: cannedPhrases[i%uint64(len(cannedPhrases))], Confidence: 0.85}, nil
}
