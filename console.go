package main

import (
	"fmt"
	"io"
	"sync"

	"github.com/charmbracelet/lipgloss"

	"callscribe/capture"
	"callscribe/transcriber"
)

var (
	micStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("39")).Bold(true)
	loopbackStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("208")).Bold(true)
	tsStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	finalStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Italic(true)
	warnStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("208"))
	infoStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
)

func sourceStyle(src capture.Source) lipgloss.Style {
	if src == capture.Loopback {
		return loopbackStyle
	}
	return micStyle
}

func formatTs(ms int64) string {
	return fmt.Sprintf("%02d:%02d.%01d", ms/60000, (ms/1000)%60, (ms%1000)/100)
}

func transcriptLine(tc transcriber.TranscriptChunk) string {
	label := sourceStyle(tc.Source).Render(fmt.Sprintf("%-8s", tc.Source))
	ts := tsStyle.Render(fmt.Sprintf("[%s-%s]", formatTs(tc.TsStartMs), formatTs(tc.TsEndMs)))
	text := tc.Text
	if text == "" {
		text = "(no speech)"
	}
	line := fmt.Sprintf("%s %s %s %s", ts, label, text, tsStyle.Render(fmt.Sprintf("%.2f", tc.Confidence)))
	if tc.Final {
		line += " " + finalStyle.Render("final")
	}
	return line
}

// consoleSink prints one styled line per event.
type consoleSink struct {
	mu          sync.Mutex
	out         io.Writer
	showSilence bool
}

func newConsoleSink(out io.Writer) *consoleSink {
	return &consoleSink{out: out, showSilence: true}
}

func (c *consoleSink) println(s string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(c.out, s)
}

func (c *consoleSink) SessionStarted(id string) {
	c.println(infoStyle.Render("● session " + id + " started"))
}

func (c *consoleSink) SessionStopped(id string) {
	c.println(infoStyle.Render("○ session " + id + " stopped"))
}

func (c *consoleSink) Transcript(tc transcriber.TranscriptChunk) {
	if tc.Text == "" && !tc.Final {
		return
	}
	c.println(transcriptLine(tc))
}

func (c *consoleSink) Warning(w capture.Warning) {
	c.println(warnStyle.Render(fmt.Sprintf("⚠ %s: %s: %v", w.Source, w.Kind, w.Err)))
}

func (c *consoleSink) Silence(src capture.Source, ev SilenceEvent) {
	if !c.showSilence {
		return
	}
	if text := silenceText(src, ev); text != "" {
		c.println(warnStyle.Render("  " + text))
	}
}

func (c *consoleSink) Logf(format string, args ...any) {
	c.println(infoStyle.Render(fmt.Sprintf(format, args...)))
}
