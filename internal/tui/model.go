package tui

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/mattn/go-runewidth"

	"axisverify/internal/harness"
)

const (
	// recentResults is the number of finished cases listed below the bar.
	recentResults = 8
	defaultWidth  = 80
	maxBarWidth   = 50
)

// Messages sent by the reporter.
type startMsg struct{ config harness.Configuration }

type caseStartMsg struct {
	axis string
	c    harness.Case
}

type caseResultMsg struct{ result harness.CaseResult }

type suiteMsg struct{ suite harness.SuiteResult }

type finishedMsg struct{ err error }

type model struct {
	config   harness.Configuration
	total    int
	finished int
	counts   map[harness.Result]int
	running  map[string]harness.Case // by axis
	results  []harness.CaseResult
	suite    *harness.SuiteResult
	err      error

	stopping bool
	done     bool
	status   string

	cancel  context.CancelFunc
	copy    func(string) error
	spinner spinner.Model
	width   int
}

func newModel(total int, cancel context.CancelFunc) model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	if cancel == nil {
		cancel = func() {}
	}
	return model{
		total:   total,
		counts:  make(map[harness.Result]int),
		running: make(map[string]harness.Case),
		cancel:  cancel,
		copy:    clipboard.WriteAll,
		spinner: s,
		width:   defaultWidth,
	}
}

func (m model) Init() tea.Cmd {
	return m.spinner.Tick
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case startMsg:
		m.config = msg.config
	case caseStartMsg:
		m.running[msg.axis] = msg.c
	case caseResultMsg:
		delete(m.running, msg.result.Axis)
		m.results = append(m.results, msg.result)
		m.finished++
		m.counts[msg.result.Result]++
	case suiteMsg:
		m.suite = &msg.suite
	case finishedMsg:
		m.err = msg.err
		m.done = true
		return m, tea.Quit
	case tea.WindowSizeMsg:
		if msg.Width > 0 {
			m.width = msg.Width
		}
	case tea.KeyMsg:
		return m.handleKey(msg)
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c", "esc":
		if !m.stopping {
			m.stopping = true
			m.status = "Stopping: running cases are torn down first"
			m.cancel()
		}
	case "y":
		data, err := json.MarshalIndent(m.results, "", "  ")
		if err == nil {
			err = m.copy(string(data))
		}
		if err != nil {
			m.status = fmt.Sprintf("Copy failed: %v", err)
		} else {
			m.status = fmt.Sprintf("%d results copied to clipboard", len(m.results))
		}
	}
	return m, nil
}

func (m model) View() string {
	var b strings.Builder

	title := "🔬 Verifying"
	if m.config.Device != "" {
		title = fmt.Sprintf("🔬 Verifying %s: %s", m.config.Device, strings.Join(m.config.Axes, ", "))
	}
	b.WriteString(headerStyle.Render(title))
	b.WriteString("\n\n")

	b.WriteString(m.bar())
	fmt.Fprintf(&b, " %d/%d\n\n", m.finished, m.total)

	axes := make([]string, 0, len(m.running))
	for axis := range m.running {
		axes = append(axes, axis)
	}
	sort.Strings(axes)
	for _, axis := range axes {
		fmt.Fprintf(&b, "%s %s %s\n", m.spinner.View(), runewidth.FillRight(axis, 8), m.running[axis].Name)
	}
	if len(axes) > 0 {
		b.WriteString("\n")
	}

	start := len(m.results) - recentResults
	if start < 0 {
		start = 0
	}
	for _, cr := range m.results[start:] {
		line := fmt.Sprintf("%s %s", runewidth.FillRight(cr.Axis, 8), cr.Case.ID)
		if cr.Error != "" {
			line += " " + cr.Error
		}
		fmt.Fprintf(&b, "%s %s\n", resultIcon(cr.Result), runewidth.Truncate(line, m.width-3, "…"))
	}

	fmt.Fprintf(&b, "\n%s %d  %s %d  %s %d  %s %d\n",
		IconPassed, m.counts[harness.ResultPassed],
		IconFailed, m.counts[harness.ResultFailed],
		IconSkipped, m.counts[harness.ResultSkipped],
		IconError, m.counts[harness.ResultError])

	if m.done {
		b.WriteString("\n")
		b.WriteString(m.summary())
		b.WriteString("\n")
		return b.String()
	}

	if m.status != "" {
		b.WriteString(statusStyle.Render(m.status))
		b.WriteString("\n")
	}
	b.WriteString(dimStyle.Render("q: stop • y: copy results"))
	b.WriteString("\n")
	return b.String()
}

func (m model) bar() string {
	width := m.width - 12
	if width > maxBarWidth {
		width = maxBarWidth
	}
	if width < 10 {
		width = 10
	}
	filled := 0
	if m.total > 0 {
		filled = width * m.finished / m.total
	}
	if filled > width {
		filled = width
	}
	return barFullStyle.Render(strings.Repeat("█", filled)) + barEmptyStyle.Render(strings.Repeat("░", width-filled))
}

func (m model) summary() string {
	switch {
	case m.err != nil:
		return failedStyle.Render(fmt.Sprintf("%s %v", IconError, m.err))
	case m.suite == nil:
		return failedStyle.Render("Run ended without a result")
	case m.suite.Succeeded():
		return passedStyle.Render(fmt.Sprintf("🎉 All cases passed! (run %s, %v)", m.suite.RunID, m.suite.Duration))
	default:
		return failedStyle.Render(fmt.Sprintf("💔 Some cases failed (run %s, %v)", m.suite.RunID, m.suite.Duration))
	}
}
