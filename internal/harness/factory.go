package harness

import (
	"fmt"
	"io"
	"time"

	"axisverify/pkg/logging"
)

// Output formats of a run.
const (
	OutputConsole = "console"
	OutputQuiet   = "quiet"
	OutputJSON    = "json"
)

// DefaultConfiguration returns the configuration of a run against the
// first axis of the default device
func DefaultConfiguration() Configuration {
	return Configuration{
		Device:      "IOC",
		Axes:        []string{"m1"},
		Deadband:    30,
		Parallel:    1,
		Timeout:     30 * time.Minute,
		CaseTimeout: 10 * time.Minute,
	}
}

// ValidateConfiguration validates a run configuration
func ValidateConfiguration(config Configuration) error {
	if config.Device == "" {
		return fmt.Errorf("device must be set")
	}
	if len(config.Axes) == 0 {
		return fmt.Errorf("at least one axis is required")
	}
	seen := make(map[string]bool, len(config.Axes))
	for _, a := range config.Axes {
		if a == "" {
			return fmt.Errorf("axis names must not be empty")
		}
		if seen[a] {
			return fmt.Errorf("axis %s given twice", a)
		}
		seen[a] = true
	}
	if config.Parallel < 1 {
		return fmt.Errorf("parallel axes must be at least 1")
	}
	if config.Timeout < 0 || config.CaseTimeout < 0 {
		return fmt.Errorf("timeouts must not be negative")
	}
	if config.Deadband < 0 {
		return fmt.Errorf("deadband must not be negative")
	}
	if config.Tolerance < 0 {
		return fmt.Errorf("tolerance must not be negative")
	}
	return nil
}

// NewReporter creates the reporter for an output format. A report
// directory adds a JSON report file whatever the format.
func NewReporter(output string, out io.Writer, verbose, debug bool, reportPath string) (Reporter, error) {
	switch output {
	case "", OutputConsole:
		return NewConsoleReporter(out, verbose, debug, reportPath), nil
	case OutputQuiet:
		return WithReportFile(NewQuietReporter(out), reportPath), nil
	case OutputJSON:
		return WithReportFile(NewJSONReporter(out), reportPath), nil
	default:
		return nil, fmt.Errorf("unknown output format %q (expected console, quiet or json)", output)
	}
}

// WithReportFile adds a reporter saving the suite result to dir. An empty
// dir returns r.
func WithReportFile(r Reporter, dir string) Reporter {
	if dir == "" {
		return r
	}
	return MultiReporter{r, reportFile(dir)}
}

// reportFile saves the suite result and logs where it went.
type reportFile string

func (reportFile) ReportStart(Configuration)    {}
func (reportFile) ReportCaseStart(string, Case) {}
func (reportFile) ReportCaseResult(CaseResult)  {}

func (f reportFile) ReportSuiteResult(suite SuiteResult) {
	path, err := SaveReport(string(f), suite)
	if err != nil {
		logging.Error(subsystem, err, "Failed to save detailed report")
		return
	}
	logging.Info(subsystem, "Detailed report saved to %s", path)
}
