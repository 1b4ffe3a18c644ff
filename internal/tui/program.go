package tui

import (
	"context"

	tea "github.com/charmbracelet/bubbletea"

	"axisverify/internal/harness"
)

// Output is the name of the interactive output format.
const Output = "tui"

// Program shows the progress of a run in the terminal.
type Program struct {
	program *tea.Program
}

// NewProgram creates a progress view for total case runs. cancel is called
// when the operator asks to stop.
func NewProgram(total int, cancel context.CancelFunc, opts ...tea.ProgramOption) *Program {
	return &Program{program: tea.NewProgram(newModel(total, cancel), opts...)}
}

// Reporter returns the harness reporter feeding the view.
func (p *Program) Reporter() harness.Reporter {
	return reporter{p.program}
}

// Finish ends the view once the run returned. err is shown when non-nil.
func (p *Program) Finish(err error) {
	p.program.Send(finishedMsg{err: err})
}

// Run blocks until Finish is called or the terminal fails.
func (p *Program) Run() error {
	_, err := p.program.Run()
	return err
}

// reporter forwards harness events to the program. Send blocks until the
// program reads the message and returns at once after it exited.
type reporter struct {
	program *tea.Program
}

func (r reporter) ReportStart(config harness.Configuration) {
	r.program.Send(startMsg{config: config})
}

func (r reporter) ReportCaseStart(axis string, c harness.Case) {
	r.program.Send(caseStartMsg{axis: axis, c: c})
}

func (r reporter) ReportCaseResult(result harness.CaseResult) {
	r.program.Send(caseResultMsg{result: result})
}

func (r reporter) ReportSuiteResult(suite harness.SuiteResult) {
	r.program.Send(suiteMsg{suite: suite})
}
