package harness

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleSuite() SuiteResult {
	start := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	return SuiteResult{
		RunID:        "run-1",
		StartTime:    start,
		EndTime:      start.Add(time.Minute),
		Duration:     time.Minute,
		TotalCases:   3,
		PassedCases:  1,
		FailedCases:  1,
		SkippedCases: 1,
		CaseResults: []CaseResult{
			{Axis: "IOC:m1", Case: Case{ID: "stop", Name: "Stop the motor"}, Result: ResultPassed},
			{Axis: "IOC:m1", Case: Case{ID: "kill", Name: "Disable the motor"}, Result: ResultFailed, Error: "axis state is 1, expected 9"},
			{Axis: "IOC:m1", Case: Case{ID: "homing", Name: "Homing procedure"}, Result: ResultSkipped, Error: "declined by operator"},
		},
		Configuration: Configuration{Device: "IOC", Axes: []string{"m1"}},
	}
}

func TestConsoleReporter_Compact(t *testing.T) {
	var out bytes.Buffer
	r := NewConsoleReporter(&out, false, false, "")
	suite := sampleSuite()

	r.ReportStart(suite.Configuration)
	for _, cr := range suite.CaseResults {
		r.ReportCaseStart(cr.Axis, cr.Case)
		r.ReportCaseResult(cr)
	}
	r.ReportSuiteResult(suite)

	text := out.String()
	assert.Contains(t, text, "Device: IOC, axes: m1")
	assert.Contains(t, text, "axis state is 1, expected 9")
	assert.Contains(t, text, "Passed: 1")
	assert.Contains(t, text, "Failed: 1")
	assert.Contains(t, text, "Skipped: 1")
	assert.Contains(t, text, "Success Rate: 33.3%")
	assert.Contains(t, text, "Some cases failed")
	assert.NotContains(t, text, "Stop the motor", "compact output names cases by id")
}

func TestConsoleReporter_VerboseSavesReport(t *testing.T) {
	dir := t.TempDir()
	var out bytes.Buffer
	r := NewConsoleReporter(&out, true, true, dir)
	suite := sampleSuite()
	suite.CaseResults[0].Warnings = []string{"restore settings: VELO"}
	suite.CaseResults[0].Motions = []MotionRecord{{Intent: "stop within 2s", Outcome: "never-started", Position: 75}}

	r.ReportStart(suite.Configuration)
	r.ReportCaseResult(suite.CaseResults[0])
	r.ReportSuiteResult(suite)

	text := out.String()
	assert.Contains(t, text, "Parallel axes")
	assert.Contains(t, text, "Teardown: restore settings: VELO")
	assert.Contains(t, text, "stop within 2s -> never-started")

	path := filepath.Join(dir, "axisverify-report-20240301-120000.json")
	assert.Contains(t, text, path)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var saved SuiteResult
	require.NoError(t, json.Unmarshal(data, &saved))
	assert.Equal(t, "run-1", saved.RunID)
	assert.Len(t, saved.CaseResults, 3)
}

func TestQuietReporter(t *testing.T) {
	var out bytes.Buffer
	r := NewQuietReporter(&out)
	suite := sampleSuite()
	for _, cr := range suite.CaseResults {
		r.ReportCaseResult(cr)
	}
	r.ReportSuiteResult(suite)

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "IOC:m1 kill")
	assert.Contains(t, lines[1], "1/3 cases failed")
}

func TestJSONReporter(t *testing.T) {
	var out bytes.Buffer
	r := NewJSONReporter(&out)
	r.ReportSuiteResult(sampleSuite())

	var got SuiteResult
	require.NoError(t, json.Unmarshal(out.Bytes(), &got))
	assert.Equal(t, 1, got.FailedCases)
	assert.Equal(t, ResultSkipped, got.CaseResults[2].Result)
}

func TestNewReporter(t *testing.T) {
	for _, format := range []string{"", OutputConsole, OutputQuiet, OutputJSON} {
		r, err := NewReporter(format, &bytes.Buffer{}, false, false, "")
		require.NoError(t, err, format)
		assert.NotNil(t, r)
	}
	_, err := NewReporter("xml", &bytes.Buffer{}, false, false, "")
	assert.Error(t, err)

	dir := t.TempDir()
	r, err := NewReporter(OutputJSON, &bytes.Buffer{}, false, false, dir)
	require.NoError(t, err)
	r.ReportSuiteResult(sampleSuite())
	matches, err := filepath.Glob(filepath.Join(dir, "axisverify-report-*.json"))
	require.NoError(t, err)
	assert.Len(t, matches, 1)
}
