// Package tui renders a live terminal view of a download run: a spinner
// while the run is active and the tail of its progress messages.
package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/tdhoang/reportfetch/internal/runstate"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("62"))
	messageStyle = lipgloss.NewStyle().PaddingLeft(2)
	failStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	okStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("46"))
	doneStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("244")).MarginTop(1)
)

const (
	pollEvery = 250 * time.Millisecond
	tailLines = 20
)

// pollMsg carries the next batch of progress messages into Update.
type pollMsg struct {
	lines  []string
	cursor int
	active bool
}

// Monitor is the bubbletea model. It only reads run state; the run itself
// is driven elsewhere.
type Monitor struct {
	state   *runstate.State
	spinner spinner.Model

	cursor   int
	lines    []string
	active   bool
	finished bool
	quitting bool
}

func NewMonitor(state *runstate.State) *Monitor {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))
	return &Monitor{state: state, spinner: s, active: true}
}

func (m *Monitor) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.poll())
}

func (m *Monitor) poll() tea.Cmd {
	cursor := m.cursor
	return tea.Tick(pollEvery, func(time.Time) tea.Msg {
		lines, next, active := m.state.Snapshot(cursor)
		return pollMsg{lines: lines, cursor: next, active: active}
	})
}

func (m *Monitor) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" || msg.String() == "q" {
			m.quitting = true
			return m, tea.Quit
		}
	case pollMsg:
		m.cursor = msg.cursor
		m.lines = append(m.lines, msg.lines...)
		if over := len(m.lines) - tailLines; over > 0 {
			m.lines = m.lines[over:]
		}
		m.active = msg.active
		if !msg.active {
			m.finished = true
			return m, tea.Quit
		}
		return m, m.poll()
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m *Monitor) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Report download"))
	b.WriteString("\n\n")
	for _, line := range m.lines {
		styled := line
		switch {
		case strings.Contains(line, "failed") || strings.Contains(line, "Failed"):
			styled = failStyle.Render(line)
		case strings.Contains(line, "done"):
			styled = okStyle.Render(line)
		}
		b.WriteString(messageStyle.Render(styled))
		b.WriteString("\n")
	}
	switch {
	case m.quitting:
		b.WriteString(doneStyle.Render("Detached. The run continues in the background."))
	case m.finished:
		b.WriteString(doneStyle.Render("Run finished."))
	default:
		b.WriteString(fmt.Sprintf("\n%s working...", m.spinner.View()))
	}
	b.WriteString("\n")
	return b.String()
}
