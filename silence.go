package main

import (
	"sync"
	"time"

	"callscribe/capture"
	"callscribe/conditioner"
)

const (
	silenceWarnAfter = 8 * time.Second
	speechMinRatio   = 0.10
	speechClearRatio = 0.25 // higher threshold to clear warning (hysteresis)

	// voiceRMS is the normalized level above which a chunk counts as voiced.
	// Simulated noise sits near 0.01.
	voiceRMS = 0.02
)

type SilenceEvent int

const (
	SilenceNone      SilenceEvent = iota
	SilenceWarn                   // no voice detected
	SilenceWarnClear              // speech resumed after warning
	SilenceRepeat                 // still silent, another warnAfter elapsed
)

// silenceMonitor tracks the voiced ratio over a sliding window of ticks.
type silenceMonitor struct {
	warnAt int

	ticks    int
	window   []bool
	warned   bool
	lastWarn int
}

// newSilenceMonitor sizes the window for one tick per tick duration.
func newSilenceMonitor(tick time.Duration) *silenceMonitor {
	warnAt := max(int(silenceWarnAfter/tick), 1)
	return &silenceMonitor{
		warnAt: warnAt,
		window: make([]bool, warnAt),
	}
}

func (m *silenceMonitor) ratio() float64 {
	n := min(m.ticks, m.warnAt)
	if n == 0 {
		return 1.0
	}
	count := 0
	for i := 0; i < n; i++ {
		if m.window[(m.ticks-1-i+m.warnAt)%m.warnAt] {
			count++
		}
	}
	return float64(count) / float64(n)
}

func (m *silenceMonitor) Tick(hasSpeech bool) SilenceEvent {
	m.window[m.ticks%m.warnAt] = hasSpeech
	m.ticks++

	r := m.ratio()

	if m.ticks >= m.warnAt && r < speechMinRatio && !m.warned {
		m.warned = true
		m.lastWarn = m.ticks
		return SilenceWarn
	}
	if m.warned && r >= speechClearRatio {
		m.warned = false
		return SilenceWarnClear
	}
	if m.warned && m.ticks-m.lastWarn >= m.warnAt {
		m.lastWarn = m.ticks
		return SilenceRepeat
	}
	return SilenceNone
}

// silenceWatch feeds audio chunks of both sources into one monitor each and
// reports transitions to the sink.
type silenceWatch struct {
	mu       sync.Mutex
	tick     time.Duration
	monitors map[capture.Source]*silenceMonitor
	notify   func(capture.Source, SilenceEvent)
}

func newSilenceWatch(frameChunk, sampleRate int, notify func(capture.Source, SilenceEvent)) *silenceWatch {
	tick := time.Duration(frameChunk) * time.Second / time.Duration(sampleRate)
	if tick <= 0 {
		tick = 100 * time.Millisecond
	}
	return &silenceWatch{
		tick:     tick,
		monitors: make(map[capture.Source]*silenceMonitor),
		notify:   notify,
	}
}

func (w *silenceWatch) Observe(chunk capture.AudioChunk) {
	voiced := conditioner.RMS(chunk.Samples) >= voiceRMS

	w.mu.Lock()
	m, ok := w.monitors[chunk.Source]
	if !ok {
		m = newSilenceMonitor(w.tick)
		w.monitors[chunk.Source] = m
	}
	ev := m.Tick(voiced)
	w.mu.Unlock()

	if ev != SilenceNone && w.notify != nil {
		w.notify(chunk.Source, ev)
	}
}

// Reset forgets per-source history, used between sessions.
func (w *silenceWatch) Reset() {
	w.mu.Lock()
	clear(w.monitors)
	w.mu.Unlock()
}
