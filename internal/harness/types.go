package harness

import (
	"context"
	"time"

	"axisverify/internal/pv"
)

// Result represents the result of a test case
type Result string

const (
	// ResultPassed indicates the case passed
	ResultPassed Result = "PASSED"
	// ResultFailed indicates an assertion did not hold
	ResultFailed Result = "FAILED"
	// ResultSkipped indicates the case was not run to completion on purpose
	ResultSkipped Result = "SKIPPED"
	// ResultError indicates the case could not be executed
	ResultError Result = "ERROR"
)

// Frame is the position frame a case works in.
type Frame string

const (
	FrameUser Frame = "user"
	FrameDial Frame = "dial"
)

// Configuration defines one verification run
type Configuration struct {
	// Device is the controller prefix, e.g. "IOC"
	Device string `json:"device"`
	// Axes are the axis identifiers under test, e.g. "m1"
	Axes []string `json:"axes"`
	// Transport and Endpoint describe how remote variables are reached
	Transport string `json:"transport,omitempty"`
	Endpoint  string `json:"endpoint,omitempty"`
	// Deadband multiplies the acceleration time into extra settle time
	Deadband float64 `json:"deadband"`
	// Tolerance for position comparisons; zero derives it from MRES
	Tolerance float64 `json:"tolerance,omitempty"`
	// Prompt asks before destructive cases
	Prompt bool `json:"prompt"`
	// Parallel is the number of axes verified concurrently
	Parallel int `json:"parallel"`
	// FailFast stops an axis at its first failed case
	FailFast bool `json:"failFast"`
	// Timeout bounds the whole run
	Timeout time.Duration `json:"timeout"`
	// CaseTimeout bounds one case including setup and teardown
	CaseTimeout time.Duration `json:"caseTimeout,omitempty"`
	// MotionBase and SettleBase are the fixed floors of motion deadlines
	MotionBase time.Duration `json:"motionBase"`
	SettleBase time.Duration `json:"settleBase"`
	// Cases and Tags filter the catalog
	Cases []string `json:"cases,omitempty"`
	Tags  []string `json:"tags,omitempty"`

	Verbose    bool   `json:"verbose"`
	Debug      bool   `json:"debug"`
	ReportPath string `json:"reportPath,omitempty"`
}

// Case is one verification case of the catalog
type Case struct {
	// ID is the unique, stable identifier used for selection
	ID string `json:"id"`
	// Name is the human readable title
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	Frame       Frame    `json:"frame"`
	// Destructive cases drive the axis to its mechanical limits or home it
	Destructive bool `json:"destructive,omitempty"`
	// Preconditions are established in order during setup
	Preconditions []Precondition `json:"preconditions,omitempty"`
	// Mutates lists the settings the body writes; they are snapshotted
	// before setup and restored in teardown
	Mutates []pv.Variable `json:"mutates,omitempty"`
	// Timeout overrides the configured case timeout
	Timeout time.Duration `json:"timeout,omitempty"`
	// OptIn cases only run when selected by id or tag
	OptIn bool `json:"optIn,omitempty"`

	Run func(ctx context.Context, env *Env) error `json:"-"`
}

// CaseResult represents the result of a single case on one axis
type CaseResult struct {
	Axis      string        `json:"axis"`
	Case      Case          `json:"case"`
	Result    Result        `json:"result"`
	StartTime time.Time     `json:"startTime"`
	EndTime   time.Time     `json:"endTime"`
	Duration  time.Duration `json:"duration"`
	// Error is the reason when the case did not pass
	Error string `json:"error,omitempty"`
	// Warnings collects teardown problems
	Warnings []string `json:"warnings,omitempty"`
	// Motions records the tracked motions of the case
	Motions []MotionRecord `json:"motions,omitempty"`
}

// MotionRecord is one tracked motion of a case.
type MotionRecord struct {
	Intent   string        `json:"intent"`
	Outcome  string        `json:"outcome"`
	Elapsed  time.Duration `json:"elapsed"`
	Position float64       `json:"position"`
}

// SuiteResult represents the overall result of a run
type SuiteResult struct {
	RunID     string        `json:"runId"`
	StartTime time.Time     `json:"startTime"`
	EndTime   time.Time     `json:"endTime"`
	Duration  time.Duration `json:"duration"`

	TotalCases   int `json:"totalCases"`
	PassedCases  int `json:"passedCases"`
	FailedCases  int `json:"failedCases"`
	SkippedCases int `json:"skippedCases"`
	ErrorCases   int `json:"errorCases"`

	CaseResults   []CaseResult  `json:"caseResults"`
	Configuration Configuration `json:"configuration"`
}

// Succeeded reports whether no case failed or errored.
func (s *SuiteResult) Succeeded() bool {
	return s.FailedCases == 0 && s.ErrorCases == 0
}

// Runner executes cases against every configured axis
type Runner interface {
	Run(ctx context.Context, config Configuration, cases []Case) (*SuiteResult, error)
}

// Reporter receives progress and results. Calls are serialized by the
// runner.
type Reporter interface {
	ReportStart(config Configuration)
	ReportCaseStart(axis string, c Case)
	ReportCaseResult(result CaseResult)
	ReportSuiteResult(result SuiteResult)
}

// Confirmer decides whether a destructive case may run.
type Confirmer interface {
	Confirm(ctx context.Context, axis string, c Case) (bool, error)
}
