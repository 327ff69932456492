package main

import (
	"callscribe/capture"
	"callscribe/transcriber"
)

// EventSink abstracts the display layer so both the plain console printer
// and the Bubble Tea monitor receive the same pipeline events.
type EventSink interface {
	SessionStarted(id string)
	SessionStopped(id string)
	Transcript(tc transcriber.TranscriptChunk)
	Warning(w capture.Warning)
	Silence(src capture.Source, ev SilenceEvent)
	Logf(format string, args ...any)
}

func silenceText(src capture.Source, ev SilenceEvent) string {
	switch ev {
	case SilenceWarn:
		return "no voice on " + src.String()
	case SilenceRepeat:
		return "still no voice on " + src.String()
	case SilenceWarnClear:
		return "voice resumed on " + src.String()
	}
	return ""
}
