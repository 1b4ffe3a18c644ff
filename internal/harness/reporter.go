package harness

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"
)

// Width of the case column in compact output.
const caseColumnWidth = 28

var (
	headerStyle  = lipgloss.NewStyle().Bold(true)
	passedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	failedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	skippedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
)

// consoleReporter implements the Reporter interface for terminals
type consoleReporter struct {
	out        io.Writer
	verbose    bool
	debug      bool
	reportPath string
}

// NewConsoleReporter creates a reporter writing human readable progress to
// out. reportPath, when set, is a directory receiving a JSON report.
func NewConsoleReporter(out io.Writer, verbose, debug bool, reportPath string) Reporter {
	if out == nil {
		out = os.Stdout
	}
	return &consoleReporter{
		out:        out,
		verbose:    verbose,
		debug:      debug,
		reportPath: reportPath,
	}
}

// ReportStart is called when the run begins
func (r *consoleReporter) ReportStart(config Configuration) {
	fmt.Fprintln(r.out, headerStyle.Render("🧪 Starting axis verification"))
	fmt.Fprintf(r.out, "📡 Device: %s, axes: %s\n", config.Device, strings.Join(config.Axes, ", "))

	if r.verbose {
		fmt.Fprintf(r.out, "⚙️  Configuration:\n")
		fmt.Fprintf(r.out, "   • Transport: %s\n", stringOrDefault(config.Transport, "default"))
		if config.Endpoint != "" {
			fmt.Fprintf(r.out, "   • Endpoint: %s\n", config.Endpoint)
		}
		fmt.Fprintf(r.out, "   • Cases: %s\n", stringOrDefault(strings.Join(config.Cases, ", "), "all"))
		fmt.Fprintf(r.out, "   • Tags: %s\n", stringOrDefault(strings.Join(config.Tags, ", "), "all"))
		fmt.Fprintf(r.out, "   • Deadband: %g\n", config.Deadband)
		fmt.Fprintf(r.out, "   • Parallel axes: %d\n", config.Parallel)
		fmt.Fprintf(r.out, "   • Fail fast: %t\n", config.FailFast)
		fmt.Fprintf(r.out, "   • Prompt: %t\n", config.Prompt)
		fmt.Fprintf(r.out, "   • Timeout: %v\n", config.Timeout)
		if config.ReportPath != "" {
			fmt.Fprintf(r.out, "   • Report path: %s\n", config.ReportPath)
		}
		fmt.Fprintln(r.out)
	}
}

// ReportCaseStart is called when a case begins
func (r *consoleReporter) ReportCaseStart(axis string, c Case) {
	if !r.verbose {
		return
	}
	fmt.Fprintf(r.out, "🎯 %s: %s (%s frame)\n", axis, c.Name, c.Frame)
	if c.Description != "" {
		fmt.Fprintf(r.out, "   📝 %s\n", c.Description)
	}
	if len(c.Tags) > 0 {
		fmt.Fprintf(r.out, "   🏷️  Tags: %s\n", strings.Join(c.Tags, ", "))
	}
	if len(c.Preconditions) > 0 {
		pre := make([]string, len(c.Preconditions))
		for i, p := range c.Preconditions {
			pre[i] = string(p)
		}
		fmt.Fprintf(r.out, "   📋 Preconditions: %s\n", strings.Join(pre, ", "))
	}
}

// ReportCaseResult is called when a case completes
func (r *consoleReporter) ReportCaseResult(cr CaseResult) {
	symbol := resultSymbol(cr.Result)

	if !r.verbose {
		name := runewidth.FillRight(runewidth.Truncate(cr.Case.ID, caseColumnWidth, "…"), caseColumnWidth)
		line := fmt.Sprintf("%s %s %s %s", symbol, cr.Axis, name, styleResult(cr.Result))
		if cr.Error != "" && cr.Result != ResultPassed {
			line += ": " + cr.Error
		}
		fmt.Fprintf(r.out, "%s (%v)\n", line, cr.Duration.Round(time.Millisecond))
		return
	}

	fmt.Fprintf(r.out, "%s %s: %s %s (%v)\n", symbol, cr.Axis, cr.Case.Name, styleResult(cr.Result), cr.Duration)
	if cr.Error != "" {
		fmt.Fprintf(r.out, "   ❌ Error: %s\n", cr.Error)
	}
	for _, w := range cr.Warnings {
		fmt.Fprintf(r.out, "   ⚠️  Teardown: %s\n", w)
	}
	if r.debug {
		for _, m := range cr.Motions {
			fmt.Fprintf(r.out, "   🔄 %s -> %s at %g\n", m.Intent, m.Outcome, m.Position)
		}
	}
	fmt.Fprintln(r.out)
}

// ReportSuiteResult is called when all cases complete
func (r *consoleReporter) ReportSuiteResult(suite SuiteResult) {
	fmt.Fprintf(r.out, "\n%s\n", headerStyle.Render("🏁 Verification Complete"))
	fmt.Fprintf(r.out, "🆔 Run: %s\n", suite.RunID)
	fmt.Fprintf(r.out, "⏱️  Duration: %v\n", suite.Duration)
	fmt.Fprintf(r.out, "📊 Results:\n")
	fmt.Fprintf(r.out, "   ✅ Passed: %d\n", suite.PassedCases)

	if suite.FailedCases > 0 {
		fmt.Fprintf(r.out, "   ❌ Failed: %d\n", suite.FailedCases)
	}
	if suite.ErrorCases > 0 {
		fmt.Fprintf(r.out, "   💥 Errors: %d\n", suite.ErrorCases)
	}
	if suite.SkippedCases > 0 {
		fmt.Fprintf(r.out, "   ⏭️  Skipped: %d\n", suite.SkippedCases)
	}
	fmt.Fprintf(r.out, "   📈 Total: %d\n", suite.TotalCases)
	fmt.Fprintf(r.out, "   📏 Success Rate: %.1f%%\n", successRate(suite))

	if suite.Succeeded() {
		fmt.Fprintf(r.out, "\n%s\n", passedStyle.Render("🎉 All cases passed!"))
	} else {
		fmt.Fprintf(r.out, "\n%s\n", failedStyle.Render("💔 Some cases failed"))
	}

	if r.reportPath != "" {
		path, err := SaveReport(r.reportPath, suite)
		if err != nil {
			fmt.Fprintf(r.out, "⚠️  Failed to save detailed report: %v\n", err)
		} else {
			fmt.Fprintf(r.out, "📄 Detailed report saved to: %s\n", path)
		}
	}
}

// SaveReport writes suite as indented JSON to a timestamped file in dir and
// returns its path.
func SaveReport(dir string, suite SuiteResult) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create report directory: %w", err)
	}

	stamp := suite.StartTime
	if stamp.IsZero() {
		stamp = time.Now()
	}
	path := filepath.Join(dir, fmt.Sprintf("axisverify-report-%s.json", stamp.Format("20060102-150405")))

	data, err := json.MarshalIndent(suite, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal report to JSON: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write report file: %w", err)
	}
	return path, nil
}

func resultSymbol(result Result) string {
	switch result {
	case ResultPassed:
		return "✅"
	case ResultFailed:
		return "❌"
	case ResultSkipped:
		return "⏭️"
	case ResultError:
		return "💥"
	default:
		return "❓"
	}
}

func styleResult(result Result) string {
	switch result {
	case ResultPassed:
		return passedStyle.Render(string(result))
	case ResultSkipped:
		return skippedStyle.Render(string(result))
	default:
		return failedStyle.Render(string(result))
	}
}

func successRate(suite SuiteResult) float64 {
	if suite.TotalCases == 0 {
		return 0
	}
	return float64(suite.PassedCases) / float64(suite.TotalCases) * 100
}

func stringOrDefault(s, defaultValue string) string {
	if s == "" {
		return defaultValue
	}
	return s
}

// NewQuietReporter creates a reporter that only prints failures and a
// one line summary
func NewQuietReporter(out io.Writer) Reporter {
	if out == nil {
		out = io.Discard
	}
	return &quietReporter{out: out}
}

// quietReporter implements minimal output for CI
type quietReporter struct {
	out io.Writer
}

func (r *quietReporter) ReportStart(config Configuration) {}

func (r *quietReporter) ReportCaseStart(axis string, c Case) {}

func (r *quietReporter) ReportCaseResult(cr CaseResult) {
	if cr.Result == ResultFailed || cr.Result == ResultError {
		fmt.Fprintf(r.out, "%s %s %s: %s\n", resultSymbol(cr.Result), cr.Axis, cr.Case.ID, cr.Error)
	}
}

func (r *quietReporter) ReportSuiteResult(suite SuiteResult) {
	if suite.Succeeded() {
		fmt.Fprintf(r.out, "✅ All %d cases passed\n", suite.PassedCases)
	} else {
		fmt.Fprintf(r.out, "❌ %d/%d cases failed\n", suite.FailedCases+suite.ErrorCases, suite.TotalCases)
	}
}

// NewJSONReporter creates a reporter that prints the suite result as JSON
// once the run completes
func NewJSONReporter(out io.Writer) Reporter {
	if out == nil {
		out = os.Stdout
	}
	return &jsonReporter{out: out}
}

type jsonReporter struct {
	out io.Writer
}

func (r *jsonReporter) ReportStart(config Configuration) {}

func (r *jsonReporter) ReportCaseStart(axis string, c Case) {}

func (r *jsonReporter) ReportCaseResult(cr CaseResult) {}

func (r *jsonReporter) ReportSuiteResult(suite SuiteResult) {
	data, err := json.MarshalIndent(suite, "", "  ")
	if err != nil {
		fmt.Fprintf(r.out, `{"error": "Failed to marshal results: %v"}`+"\n", err)
		return
	}
	fmt.Fprintln(r.out, string(data))
}

// MultiReporter fans out to several reporters in order.
type MultiReporter []Reporter

func (m MultiReporter) ReportStart(config Configuration) {
	for _, r := range m {
		r.ReportStart(config)
	}
}

func (m MultiReporter) ReportCaseStart(axis string, c Case) {
	for _, r := range m {
		r.ReportCaseStart(axis, c)
	}
}

func (m MultiReporter) ReportCaseResult(cr CaseResult) {
	for _, r := range m {
		r.ReportCaseResult(cr)
	}
}

func (m MultiReporter) ReportSuiteResult(suite SuiteResult) {
	for _, r := range m {
		r.ReportSuiteResult(suite)
	}
}
