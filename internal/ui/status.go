// Package ui renders the progress of a generation job in the terminal.
package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/truncate"

	"github.com/dgnsrekt/streamtts/internal/session"
	"github.com/dgnsrekt/streamtts/internal/tts"
)

// StatusDisplay accumulates session events into something printable.
type StatusDisplay struct {
	state     session.State
	chunk     int
	total     int
	attempted int
	percent   int
	units     int
	failed    int
	audio     time.Duration
	backend   tts.Backend
	lastError string
	result    *session.Result
}

// NewStatusDisplay creates an empty status display.
func NewStatusDisplay() *StatusDisplay {
	return &StatusDisplay{state: session.StateIdle, chunk: -1}
}

// Apply folds one session event into the display.
func (s *StatusDisplay) Apply(ev session.Event) {
	switch e := ev.(type) {
	case session.StateChanged:
		s.state = e.To
	case session.ChunkStarted:
		s.chunk = e.Chunk.Index
		s.total = e.Chunk.Total
	case session.UnitEmitted:
		s.units++
		s.audio += e.Duration
	case session.ChunkFailed:
		s.failed++
		if e.Err != nil {
			s.lastError = e.Err.Error()
		}
	case session.ProgressUpdated:
		s.attempted = e.Attempted
		s.total = e.Total
		s.percent = e.Percent
	case session.Finished:
		res := e.Result
		s.result = &res
		s.state = res.State
		s.backend = res.Backend
		if res.Err != nil {
			s.lastError = res.Err.Error()
		}
	}
}

// State returns the last state seen.
func (s *StatusDisplay) State() session.State { return s.state }

// Percent returns the last progress percentage seen.
func (s *StatusDisplay) Percent() int { return s.percent }

// Done reports whether the Finished event was seen.
func (s *StatusDisplay) Done() bool { return s.result != nil }

// CompactStatus returns a one line status.
func (s *StatusDisplay) CompactStatus() string {
	if s.state == session.StateIdle {
		return ""
	}

	status := lipgloss.NewStyle().Foreground(stateColor(s.state)).
		Render(fmt.Sprintf("%s %s", stateIcon(s.state), s.state))

	if s.chunk >= 0 && s.total > 0 {
		status += grayStyle.Render(fmt.Sprintf(" %d/%d", s.chunk+1, s.total))
	}
	if s.failed > 0 {
		status += warnStyle.Render(fmt.Sprintf(" %d skipped", s.failed))
	}
	return status
}

// DetailedStatus returns a multi-line status no wider than width.
func (s *StatusDisplay) DetailedStatus(width int) string {
	if s.state == session.StateIdle {
		return ""
	}

	var lines []string
	if s.total > 0 {
		lines = append(lines, fmt.Sprintf("Chunks: %d of %d", s.attempted, s.total))
	}
	if s.audio > 0 {
		lines = append(lines, fmt.Sprintf("Audio:  %s", formatDuration(s.audio)))
	}
	if s.lastError != "" && width > 10 {
		msg := truncate.StringWithTail(s.lastError, uint(width-9), "...")
		lines = append(lines, errorStyle.Render("Error: "+msg))
	}
	return strings.Join(lines, "\n")
}

// Summary describes a finished run in one line.
func Summary(res session.Result) string {
	var b strings.Builder
	b.WriteString(lipgloss.NewStyle().Foreground(stateColor(res.State)).
		Render(fmt.Sprintf("%s %s", stateIcon(res.State), res.State)))

	succeeded := res.Succeeded
	total := res.Total - res.StartChunk
	fmt.Fprintf(&b, ": %d of %d chunks", succeeded, total)
	if res.Skipped > 0 {
		fmt.Fprintf(&b, ", %d skipped", res.Skipped)
	}
	if res.Audio > 0 {
		fmt.Fprintf(&b, ", %s of audio", formatDuration(res.Audio))
	}
	fmt.Fprintf(&b, " in %s", res.Elapsed.Round(time.Millisecond))
	if res.Backend != "" {
		b.WriteString(grayStyle.Render(fmt.Sprintf(" (%s)", res.Backend)))
	}
	return b.String()
}

var (
	grayStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF8800"))
	errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF0000"))
)

func stateColor(st session.State) lipgloss.Color {
	switch st {
	case session.StateGenerating, session.StateSubmitting:
		return lipgloss.Color("#00FF00") // Green
	case session.StateWaitingForSlot, session.StateDraining:
		return lipgloss.Color("#FFFF00") // Yellow
	case session.StateInitializing:
		return lipgloss.Color("#00AAFF") // Blue
	case session.StateComplete:
		return lipgloss.Color("#04B575")
	case session.StateFailed:
		return lipgloss.Color("#FF0000") // Red
	case session.StateStopped:
		return lipgloss.Color("#FF8800") // Orange
	default:
		return lipgloss.Color("#666666")
	}
}

func stateIcon(st session.State) string {
	switch st {
	case session.StateGenerating, session.StateSubmitting:
		return "▶"
	case session.StateWaitingForSlot:
		return "⏸"
	case session.StateDraining:
		return "…"
	case session.StateInitializing:
		return "⟳"
	case session.StateComplete:
		return "✓"
	case session.StateFailed:
		return "✗"
	case session.StateStopped:
		return "◼"
	default:
		return "○"
	}
}

func formatDuration(d time.Duration) string {
	if d < 0 {
		return "0:00"
	}
	minutes := int(d.Minutes())
	seconds := int(d.Seconds()) % 60
	return fmt.Sprintf("%d:%02d", minutes, seconds)
}
