package ui

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/log"
	"golang.org/x/term"

	"github.com/dgnsrekt/streamtts/internal/session"
)

const maxBarWidth = 60

// EventMsg carries a session event into the program.
type EventMsg struct{ Event session.Event }

// Model shows a spinner, a progress bar and the job status until the
// session finishes.
type Model struct {
	title   string
	spinner spinner.Model
	bar     progress.Model
	status  *StatusDisplay
	width   int

	// stop is called once when the user asks to quit.
	stop     func()
	stopping bool
}

// NewModel creates a progress model. stop may be nil.
func NewModel(title string, stop func()) Model {
	return Model{
		title: title,
		spinner: spinner.New(
			spinner.WithSpinner(spinner.Dot),
			spinner.WithStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("#04B575"))),
		),
		bar:    progress.New(progress.WithDefaultGradient(), progress.WithWidth(40)),
		status: NewStatusDisplay(),
		width:  80,
		stop:   stop,
	}
}

// Status returns the accumulated status.
func (m Model) Status() *StatusDisplay { return m.status }

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return m.spinner.Tick
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			if !m.stopping {
				m.stopping = true
				if m.stop != nil {
					m.stop()
				}
			}
			// A session that never started will not send Finished.
			if m.status.State() == session.StateIdle {
				return m, tea.Quit
			}
		}
		return m, nil

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.bar.Width = min(maxBarWidth, max(10, msg.Width-4))
		return m, nil

	case EventMsg:
		m.status.Apply(msg.Event)
		switch ev := msg.Event.(type) {
		case session.ProgressUpdated:
			return m, m.bar.SetPercent(float64(ev.Percent) / 100)
		case session.Finished:
			return m, tea.Quit
		}
		return m, nil

	case progress.FrameMsg:
		pm, cmd := m.bar.Update(msg)
		m.bar = pm.(progress.Model)
		return m, cmd

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

// View implements tea.Model.
func (m Model) View() string {
	if m.status.Done() {
		return ""
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s %s", m.spinner.View(), m.title)
	if s := m.status.CompactStatus(); s != "" {
		b.WriteString("  " + s)
	}
	b.WriteString("\n\n  " + m.bar.View() + "\n")
	if d := m.status.DetailedStatus(m.width - 2); d != "" {
		for _, line := range strings.Split(d, "\n") {
			b.WriteString("  " + line + "\n")
		}
	}
	help := "q: stop"
	if m.stopping {
		help = "stopping…"
	}
	b.WriteString("\n" + grayStyle.Render("  "+help) + "\n")
	return b.String()
}

// NewProgram returns a program rendering to out. Keys are read from the
// terminal so that text can still be piped in on stdin.
func NewProgram(m Model, out io.Writer) *tea.Program {
	return tea.NewProgram(m, tea.WithOutput(out), tea.WithInputTTY())
}

// IsTerminal reports whether f is attached to a terminal.
func IsTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// EventLogger writes session events as log lines. It is used when output is
// not a terminal.
type EventLogger struct {
	logger      *log.Logger
	lastPercent int
}

// NewEventLogger creates an event logger. A nil logger uses the default.
func NewEventLogger(logger *log.Logger) *EventLogger {
	if logger == nil {
		logger = log.Default()
	}
	return &EventLogger{logger: logger, lastPercent: -1}
}

// Observe logs ev. Progress is logged at most once per ten percent.
func (l *EventLogger) Observe(ev session.Event) {
	switch e := ev.(type) {
	case session.ChunkFailed:
		l.logger.Warn("chunk skipped", "index", e.Chunk.Index, "err", e.Err)
	case session.ProgressUpdated:
		if e.Percent/10 == l.lastPercent/10 && l.lastPercent >= 0 {
			return
		}
		l.lastPercent = e.Percent
		l.logger.Info("progress", "percent", e.Percent, "chunks", e.Attempted, "total", e.Total)
	case session.StateChanged:
		l.logger.Debug("state", "from", e.From, "to", e.To)
	}
}
