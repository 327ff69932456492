package main

import (
	"fmt"
	"math"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"callscribe/capture"
	"callscribe/pipeline"
	"callscribe/transcriber"
)

// TUI message types
type TranscriptMsg struct{ Chunk transcriber.TranscriptChunk }
type WarningMsg struct{ Warning capture.Warning }
type SilenceMsg struct {
	Source capture.Source
	Event  SilenceEvent
}
type AudioLevelMsg struct {
	Source capture.Source
	Level  float64
}
type SessionMsg struct {
	ID      string
	Running bool
}
type LogMsg struct{ Text string }
type tickMsg time.Time

const (
	tuiTickInterval = 250 * time.Millisecond
	maxTranscripts  = 200
	maxNotices      = 4
	levelBarWidth   = 20
)

type tuiModel struct {
	width, height int

	snapshot func() pipeline.Snapshot
	snap     pipeline.Snapshot

	sessionID   string
	running     bool
	levels      [len(capture.Sources)]float64
	silent      [len(capture.Sources)]bool
	transcripts []transcriber.TranscriptChunk
	notices     []string
}

var (
	titleStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("255")).Bold(true)
	recStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	idleStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	statStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	helpStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("239"))
	levelStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("76"))
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("236"))
	dividerLine = lipgloss.NewStyle().Foreground(lipgloss.Color("238"))
)

func NewTUIProgram(snapshot func() pipeline.Snapshot) *tea.Program {
	m := tuiModel{snapshot: snapshot}
	return tea.NewProgram(m, tea.WithAltScreen())
}

func tuiTick() tea.Cmd {
	return tea.Tick(tuiTickInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m tuiModel) Init() tea.Cmd {
	return tuiTick()
}

func (m tuiModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			return m, tea.Quit
		}

	case tickMsg:
		if m.snapshot != nil {
			m.snap = m.snapshot()
		}
		return m, tuiTick()

	case SessionMsg:
		m.sessionID = msg.ID
		m.running = msg.Running
		if msg.Running {
			m.transcripts = nil
			m.silent = [len(capture.Sources)]bool{}
		}

	case AudioLevelMsg:
		// exponential smoothing keeps the bar readable
		m.levels[msg.Source] = m.levels[msg.Source]*0.6 + msg.Level*0.4

	case TranscriptMsg:
		if msg.Chunk.Text == "" && !msg.Chunk.Final {
			break
		}
		m.transcripts = append(m.transcripts, msg.Chunk)
		if len(m.transcripts) > maxTranscripts {
			m.transcripts = m.transcripts[len(m.transcripts)-maxTranscripts:]
		}

	case SilenceMsg:
		switch msg.Event {
		case SilenceWarn, SilenceRepeat:
			m.silent[msg.Source] = true
		case SilenceWarnClear:
			m.silent[msg.Source] = false
		}

	case WarningMsg:
		w := msg.Warning
		m = m.notice(fmt.Sprintf("%s: %s: %v", w.Source, w.Kind, w.Err))

	case LogMsg:
		m = m.notice(msg.Text)
	}
	return m, nil
}

func (m tuiModel) notice(text string) tuiModel {
	m.notices = append(m.notices, text)
	if len(m.notices) > maxNotices {
		m.notices = m.notices[len(m.notices)-maxNotices:]
	}
	return m
}

func (m tuiModel) View() string {
	if m.width == 0 || m.height == 0 {
		return "Loading..."
	}

	var lines []string

	status := idleStyle.Render("○ IDLE")
	if m.running {
		status = recStyle.Render(fmt.Sprintf("● LIVE %s", m.snap.Uptime.Round(time.Second)))
	}
	lines = append(lines, titleStyle.Render("callscribe")+"  "+status+"  "+statStyle.Render(m.sessionID))
	lines = append(lines, statStyle.Render("backend: "+m.snap.Backend))
	lines = append(lines, "")

	for _, src := range capture.Sources {
		lines = append(lines, m.sourceLine(src))
	}
	lines = append(lines, "")
	lines = append(lines, statStyle.Render(fmt.Sprintf(
		"queue %d/%d  dropped %d  drift %+dms",
		m.snap.QueueLen, m.snap.QueueCap, m.snap.Dropped, m.snap.SyncDriftMs)))
	lines = append(lines, statStyle.Render(fmt.Sprintf(
		"windows %d  failures %d  inference avg %.0fms last %.0fms",
		m.snap.Windows, m.snap.InferenceFailures, m.snap.AvgInferenceMs, m.snap.LastInferenceMs)))
	lines = append(lines, dividerLine.Render(strings.Repeat("─", max(m.width-2, 10))))

	footer := []string{""}
	for _, n := range m.notices {
		footer = append(footer, warnStyle.Render("⚠ "+n))
	}
	footer = append(footer, helpStyle.Render("q to quit"))

	room := m.height - len(lines) - len(footer)
	lines = append(lines, m.transcriptLines(room)...)
	lines = append(lines, footer...)
	return strings.Join(lines, "\n")
}

func (m tuiModel) sourceLine(src capture.Source) string {
	s := m.snap.Sources[src]
	label := sourceStyle(src).Render(fmt.Sprintf("%-8s", src))
	line := fmt.Sprintf("%s %s %s  %s",
		label,
		renderLevel(m.levels[src]),
		statStyle.Render(fmt.Sprintf("%-12s %-9s", s.State, s.Mode)),
		statStyle.Render(fmt.Sprintf("chunks %d  buffered %.1fs", s.Chunks, bufferedSeconds(s.Buffered, m.snap))),
	)
	if m.silent[src] {
		line += warnStyle.Render("  no voice")
	}
	return line
}

func bufferedSeconds(samples int, snap pipeline.Snapshot) float64 {
	if snap.SampleRate <= 0 {
		return 0
	}
	return float64(samples) / float64(snap.SampleRate)
}

// renderLevel draws a dBFS bar from -60 to 0.
func renderLevel(rms float64) string {
	filled := 0
	if rms > 0 {
		db := 20 * math.Log10(rms)
		filled = int(math.Round((db + 60) / 60 * levelBarWidth))
		filled = min(max(filled, 0), levelBarWidth)
	}
	return levelStyle.Render(strings.Repeat("█", filled)) +
		mutedStyle.Render(strings.Repeat("░", levelBarWidth-filled))
}

func (m tuiModel) transcriptLines(room int) []string {
	if room <= 0 {
		return nil
	}
	var out []string
	for i := len(m.transcripts) - 1; i >= 0 && len(out) < room; i-- {
		out = append(out, wrapText(transcriptLine(m.transcripts[i]), m.width)...)
	}
	if len(out) > room {
		out = out[:room]
	}
	// collected newest first
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

func wrapText(text string, width int) []string {
	if width <= 0 || lipgloss.Width(text) <= width {
		return []string{text}
	}
	return strings.Split(lipgloss.NewStyle().Width(width).Render(text), "\n")
}

// tuiSink forwards pipeline events into the running program.
type tuiSink struct {
	p *tea.Program
}

func (s tuiSink) SessionStarted(id string) { s.p.Send(SessionMsg{ID: id, Running: true}) }
func (s tuiSink) SessionStopped(id string) { s.p.Send(SessionMsg{ID: id}) }
func (s tuiSink) Transcript(tc transcriber.TranscriptChunk) {
	s.p.Send(TranscriptMsg{Chunk: tc})
}
func (s tuiSink) Warning(w capture.Warning) { s.p.Send(WarningMsg{Warning: w}) }
func (s tuiSink) Silence(src capture.Source, ev SilenceEvent) {
	s.p.Send(SilenceMsg{Source: src, Event: ev})
}
func (s tuiSink) Logf(format string, args ...any) {
	s.p.Send(LogMsg{Text: fmt.Sprintf(format, args...)})
}
func (s tuiSink) AudioLevel(src capture.Source, level float64) {
	s.p.Send(AudioLevelMsg{Source: src, Level: level})
}
