package main

import (
	"testing"
	"time"

	"callscribe/capture"
)

// 100ms ticks: warn window is 80 ticks.
func testMonitor() *silenceMonitor {
	return newSilenceMonitor(100 * time.Millisecond)
}

func feedN(m *silenceMonitor, speech bool, n int) SilenceEvent {
	var last SilenceEvent
	for i := 0; i < n; i++ {
		last = m.Tick(speech)
	}
	return last
}

func TestSilenceWarnAfter8s(t *testing.T) {
	m := testMonitor()
	for i := 0; i < 79; i++ {
		if ev := m.Tick(false); ev != SilenceNone {
			t.Fatalf("unexpected event at tick %d: %d", i, ev)
		}
	}
	if ev := m.Tick(false); ev != SilenceWarn {
		t.Fatalf("expected SilenceWarn at tick 80, got %d", ev)
	}
}

func TestSilenceWarnClearsOnSpeech(t *testing.T) {
	m := testMonitor()
	feedN(m, false, 80)

	for i := 0; i < 80; i++ {
		if ev := m.Tick(true); ev == SilenceWarnClear {
			return
		}
	}
	t.Fatal("expected SilenceWarnClear after speech")
}

func TestNoWarnDuringSpeech(t *testing.T) {
	m := testMonitor()
	for i := 0; i < 200; i++ {
		if ev := m.Tick(true); ev == SilenceWarn {
			t.Fatalf("unexpected warn during speech at tick %d", i)
		}
	}
}

func TestSilenceRepeat(t *testing.T) {
	m := testMonitor()
	feedN(m, false, 80)
	for i := 1; i <= 80; i++ {
		ev := m.Tick(false)
		if i < 80 && ev != SilenceNone {
			t.Fatalf("unexpected event %d at tick %d after warn", ev, i)
		}
		if i == 80 && ev != SilenceRepeat {
			t.Fatalf("expected SilenceRepeat 8s after warn, got %d", ev)
		}
	}
}

func TestWarnStaysDuringNoise(t *testing.T) {
	m := testMonitor()
	feedN(m, false, 80)

	// occasional voiced chunks (< 25%) must not clear
	for i := 0; i < 80; i++ {
		speech := i%10 == 0
		if ev := m.Tick(speech); ev == SilenceWarnClear {
			t.Fatalf("warning cleared at tick %d with 10%% speech", i)
		}
	}
}

func TestSilenceWatchPerSource(t *testing.T) {
	var got []capture.Source
	w := newSilenceWatch(1600, 16000, func(src capture.Source, ev SilenceEvent) {
		if ev == SilenceWarn {
			got = append(got, src)
		}
	})

	loud := make([]int16, 1600)
	for i := range loud {
		loud[i] = 8000
	}
	quiet := make([]int16, 1600)

	for i := 0; i < 80; i++ {
		w.Observe(capture.AudioChunk{Source: capture.Mic, Samples: quiet})
		w.Observe(capture.AudioChunk{Source: capture.Loopback, Samples: loud})
	}
	if len(got) != 1 || got[0] != capture.Mic {
		t.Fatalf("warnings = %v, want only mic", got)
	}

	w.Reset()
	got = nil
	for i := 0; i < 79; i++ {
		w.Observe(capture.AudioChunk{Source: capture.Mic, Samples: quiet})
	}
	if len(got) != 0 {
		t.Fatalf("history survived Reset: %v", got)
	}
}
