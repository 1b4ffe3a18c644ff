package agent

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"axisverify/internal/axissim"
	"axisverify/internal/clock"
	"axisverify/internal/harness"
	"axisverify/internal/history"
	"axisverify/internal/pv"
)

func callRequest(name string, args map[string]interface{}) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	req.Params.Name = name
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.NotNil(t, res)
	var sb strings.Builder
	for _, c := range res.Content {
		if text, ok := mcp.AsTextContent(c); ok {
			sb.WriteString(text.Text)
		}
	}
	return sb.String()
}

// simRun runs cases on simulated axes m1 and m2.
func simRun(t *testing.T) (RunFunc, *[]harness.Configuration) {
	t.Helper()
	naming := pv.NewNaming(nil)
	clk := clock.NewManual(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	ctrl := axissim.NewController(clk, naming)
	ctrl.AddAxis("IOC:m1", axissim.DefaultAxisConfig())
	ctrl.AddAxis("IOC:m2", axissim.DefaultAxisConfig())

	var seen []harness.Configuration
	run := func(ctx context.Context, config harness.Configuration, cases []harness.Case) (*harness.SuiteResult, error) {
		seen = append(seen, config)
		r := harness.NewRunner(harness.RunnerOptions{Accessor: ctrl, Naming: naming, Clock: clk})
		return r.Run(ctx, config, cases)
	}
	return run, &seen
}

func TestListCases(t *testing.T) {
	s := NewServer("test", harness.DefaultConfiguration(), nil, nil)
	ctx := context.Background()

	res, err := s.handleListCases(ctx, callRequest("axis_list_cases", nil))
	require.NoError(t, err)
	var all []caseInfo
	require.NoError(t, json.Unmarshal([]byte(resultText(t, res)), &all))
	assert.Len(t, all, len(harness.Catalog()))
	optIn := 0
	for _, c := range all {
		if c.OptIn {
			optIn++
			assert.Equal(t, "motor-settings", c.ID)
		}
	}
	assert.Equal(t, 1, optIn)

	res, err = s.handleListCases(ctx, callRequest("axis_list_cases", map[string]interface{}{"tag": "destructive"}))
	require.NoError(t, err)
	var destructive []caseInfo
	require.NoError(t, json.Unmarshal([]byte(resultText(t, res)), &destructive))
	require.Len(t, destructive, 3)
	for _, c := range destructive {
		assert.True(t, c.Destructive, c.ID)
	}

	res, err = s.handleListCases(ctx, callRequest("axis_list_cases", map[string]interface{}{"tag": "nope"}))
	require.NoError(t, err)
	assert.Contains(t, resultText(t, res), "No cases tagged")
}

func TestRunCases(t *testing.T) {
	run, seen := simRun(t)
	base := harness.DefaultConfiguration()
	base.Prompt = true
	s := NewServer("test", base, run, nil)
	ctx := context.Background()

	res, err := s.handleRunCases(ctx, callRequest("axis_run_cases", map[string]interface{}{
		"axes":     "m1, m2",
		"cases":    "kill,homing",
		"parallel": float64(2),
	}))
	require.NoError(t, err)
	require.False(t, res.IsError, resultText(t, res))

	var suite harness.SuiteResult
	require.NoError(t, json.Unmarshal([]byte(resultText(t, res)), &suite))
	assert.Equal(t, 2, suite.TotalCases, "homing is destructive and left out")
	assert.Equal(t, 2, suite.PassedCases)

	require.Len(t, *seen, 1)
	cfg := (*seen)[0]
	assert.Equal(t, []string{"m1", "m2"}, cfg.Axes)
	assert.Equal(t, 2, cfg.Parallel)
	assert.False(t, cfg.Prompt)

	last, err := s.handleLastResult(ctx, callRequest("axis_last_result", nil))
	require.NoError(t, err)
	var got harness.SuiteResult
	require.NoError(t, json.Unmarshal([]byte(resultText(t, last)), &got))
	assert.Equal(t, suite.RunID, got.RunID)
}

func TestRunCases_RejectsBadArguments(t *testing.T) {
	run, seen := simRun(t)
	s := NewServer("test", harness.DefaultConfiguration(), run, nil)
	ctx := context.Background()

	for name, args := range map[string]map[string]interface{}{
		"parallel":     {"parallel": float64(0)},
		"deadband":     {"deadband": float64(-1)},
		"unknown case": {"cases": "warp-drive"},
		"duplicate":    {"axes": "m1,m1"},
	} {
		res, err := s.handleRunCases(ctx, callRequest("axis_run_cases", args))
		require.NoError(t, err, name)
		assert.True(t, res.IsError, name)
	}

	res, err := s.handleRunCases(ctx, callRequest("axis_run_cases", map[string]interface{}{"tags": "destructive"}))
	require.NoError(t, err)
	assert.Equal(t, "No cases selected", resultText(t, res))
	assert.Empty(t, *seen)
}

func TestLastResult_FromHistory(t *testing.T) {
	store, err := history.Open(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	defer store.Close()

	s := NewServer("test", harness.DefaultConfiguration(), nil, store)
	ctx := context.Background()

	res, err := s.handleLastResult(ctx, callRequest("axis_last_result", nil))
	require.NoError(t, err)
	assert.Contains(t, resultText(t, res), "No results available")

	suite := harness.SuiteResult{RunID: "run-7", StartTime: time.Now(), Configuration: harness.DefaultConfiguration()}
	require.NoError(t, store.Record(ctx, suite))

	res, err = s.handleLastResult(ctx, callRequest("axis_last_result", nil))
	require.NoError(t, err)
	assert.Contains(t, resultText(t, res), "run-7")

	res, err = s.handleLastResult(ctx, callRequest("axis_last_result", map[string]interface{}{"run_id": "run-8"}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestLastResult_RunIDNeedsHistory(t *testing.T) {
	s := NewServer("test", harness.DefaultConfiguration(), nil, nil)
	res, err := s.handleLastResult(context.Background(), callRequest("axis_last_result", map[string]interface{}{"run_id": "x"}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestSplitList(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, splitList(" a, ,b "))
	assert.Nil(t, splitList(42))
	assert.Nil(t, splitList(""))
}
