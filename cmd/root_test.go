package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"axisverify/internal/axissim"
	"axisverify/internal/config"
	"axisverify/internal/harness"
	"axisverify/internal/history"
	"axisverify/internal/tui"
)

func TestSetVersion(t *testing.T) {
	testVersion := "1.2.3-test"
	SetVersion(testVersion)
	assert.Equal(t, testVersion, rootCmd.Version)
}

func TestRootCommand(t *testing.T) {
	assert.Equal(t, "axisverify", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
	assert.True(t, rootCmd.SilenceUsage)

	for _, name := range []string{"config", "debug", "log-level", "log-format"} {
		assert.NotNil(t, rootCmd.PersistentFlags().Lookup(name), "persistent flag %s", name)
	}
}

func TestVersionTemplate(t *testing.T) {
	testCmd := &cobra.Command{
		Use:     "test",
		Version: "1.0.0",
	}
	testCmd.SetVersionTemplate(`{{printf "axisverify version %s\n" .Version}}`)

	var buf bytes.Buffer
	testCmd.SetOut(&buf)
	testCmd.SetArgs([]string{"--version"})
	require.NoError(t, testCmd.Execute())
	assert.Equal(t, "axisverify version 1.0.0\n", buf.String())
}

func TestVersionCommand(t *testing.T) {
	SetVersion("2.0.0")
	cmd := newVersionCmd()
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetArgs([]string{})
	require.NoError(t, cmd.Execute())
	assert.Equal(t, "axisverify version 2.0.0\n", buf.String())
}

func TestSubcommands(t *testing.T) {
	found := make(map[string]bool)
	for _, cmd := range rootCmd.Commands() {
		found[cmd.Name()] = true
	}
	for _, expected := range []string{"version", "run", "list", "sim", "history", "mcp-server"} {
		assert.True(t, found[expected], "Expected subcommand %s to be registered", expected)
	}
}

func TestListCommand(t *testing.T) {
	cmd := newListCmd()
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetArgs([]string{"--tag", harness.TagStatus})
	require.NoError(t, cmd.Execute())

	out := buf.String()
	for _, id := range []string{"moving-status", "motor-statuses", "kill", "reset"} {
		assert.Contains(t, out, id)
	}
	assert.NotContains(t, out, "home-forward")
	assert.Contains(t, out, "4 cases")
}

func TestListCommand_ShowsOptInCases(t *testing.T) {
	cmd := newListCmd()
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetArgs([]string{})
	require.NoError(t, cmd.Execute())

	out := buf.String()
	assert.Contains(t, out, "motor-settings")
	assert.Contains(t, out, fmt.Sprintf("%d cases", len(harness.Catalog())))
}

func TestListCommand_JSON(t *testing.T) {
	cmd := newListCmd()
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetArgs([]string{"--json", "--tag", harness.TagDestructive})
	require.NoError(t, cmd.Execute())

	var cases []harness.Case
	require.NoError(t, json.Unmarshal(buf.Bytes(), &cases))
	require.NotEmpty(t, cases)
	for _, c := range cases {
		assert.True(t, c.Destructive, c.ID)
	}
}

func TestApplyRunFlags(t *testing.T) {
	cmd := &cobra.Command{Use: "run"}
	opts := &runOptions{}
	opts.bindFlags(cmd)
	require.NoError(t, cmd.ParseFlags([]string{
		"--device", "BENCH",
		"--axis", "m2", "--axis", "m3",
		"--prompt",
		"--parallel", "3",
		"--transport", "tcp",
		"--endpoint", "bench:5065",
		"--output", "quiet",
	}))

	cfg := config.GetDefaultConfig()
	cfg.Deadband = 12
	applyRunFlags(cmd, opts, &cfg)

	assert.Equal(t, "BENCH", cfg.Device)
	assert.Equal(t, []string{"m2", "m3"}, cfg.Axes)
	require.NotNil(t, cfg.Prompt)
	assert.True(t, *cfg.Prompt)
	assert.Equal(t, 3, cfg.Parallel)
	assert.Equal(t, "tcp", cfg.Transport.Kind)
	assert.Equal(t, "bench:5065", cfg.Transport.Endpoint)
	assert.Equal(t, harness.OutputQuiet, cfg.Report.Format)
	assert.Equal(t, 12.0, cfg.Deadband, "unset flags keep the configured value")
	require.NotNil(t, cfg.FailFast)
	assert.False(t, *cfg.FailFast)
}

func TestRunCommand_RejectsParallel(t *testing.T) {
	cmd := newRunCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--parallel", "0"})
	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parallel axes must be between 1 and 16")
}

func TestRunCommand_TUIRejectsPrompt(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	cmd := newRunCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--output", "tui", "--prompt", "--case", "stop"})
	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot ask for confirmation")
}

type runnerFunc func(ctx context.Context, config harness.Configuration, cases []harness.Case) (*harness.SuiteResult, error)

func (f runnerFunc) Run(ctx context.Context, config harness.Configuration, cases []harness.Case) (*harness.SuiteResult, error) {
	return f(ctx, config, cases)
}

func TestRunWithProgress(t *testing.T) {
	var out bytes.Buffer
	progress := tui.NewProgram(1, nil, tea.WithInput(nil), tea.WithOutput(&out))
	runner := runnerFunc(func(context.Context, harness.Configuration, []harness.Case) (*harness.SuiteResult, error) {
		return &harness.SuiteResult{RunID: "r1", TotalCases: 1, PassedCases: 1}, nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	result, err := runWithProgress(ctx, progress, runner, harness.DefaultConfiguration(), nil)
	require.NoError(t, err)
	assert.Equal(t, "r1", result.RunID)
}

func TestNewSimController(t *testing.T) {
	cfg := config.GetDefaultConfig()
	custom := axissim.DefaultAxisConfig()
	custom.HighLimit = 40
	cfg.Simulator.Axes = map[string]axissim.AxisConfig{"m2": custom}

	ctrl := newSimController(cfg, []string{"m1", "m2"})
	assert.Equal(t, []string{"IOC:m1", "IOC:m2"}, ctrl.Prefixes())

	ctx := context.Background()
	hlm, err := ctrl.Get(ctx, "IOC:m1.HLM")
	require.NoError(t, err)
	assert.Equal(t, 100.0, hlm)
	hlm, err = ctrl.Get(ctx, "IOC:m2.HLM")
	require.NoError(t, err)
	assert.Equal(t, 40.0, hlm)
}

func TestSimulatedAxes(t *testing.T) {
	cfg := config.GetDefaultConfig()
	cfg.Axes = []string{"m3", "m1", "m3"}
	cfg.Simulator.Axes = map[string]axissim.AxisConfig{"m2": axissim.DefaultAxisConfig(), "m1": axissim.DefaultAxisConfig()}
	assert.Equal(t, []string{"m1", "m2", "m3"}, simulatedAxes(cfg))
}

func TestOpenAccessor(t *testing.T) {
	ctx := context.Background()

	cfg := config.GetDefaultConfig()
	acc, err := openAccessor(ctx, cfg)
	require.NoError(t, err)
	v, err := acc.Get(ctx, "IOC:m1.DHLM")
	require.NoError(t, err)
	assert.Equal(t, 100.0, v)
	closeAccessor(acc)

	cfg.Transport = config.TransportConfig{Kind: "pigeon", Endpoint: "loft"}
	_, err = openAccessor(ctx, cfg)
	assert.ErrorContains(t, err, "unknown transport")
}

func TestHistoryCommands(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	dbPath := filepath.Join(t.TempDir(), "history.db")

	store, err := history.Open(dbPath)
	require.NoError(t, err)
	start := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	for i, id := range []string{"run-old", "run-new"} {
		suite := harness.SuiteResult{
			RunID:         id,
			StartTime:     start.Add(time.Duration(i) * time.Hour),
			Duration:      time.Minute,
			TotalCases:    2,
			PassedCases:   1,
			FailedCases:   1,
			Configuration: harness.Configuration{Device: "IOC", Axes: []string{"m1"}},
			CaseResults: []harness.CaseResult{
				{Axis: "m1", Case: harness.Case{ID: "stop"}, Result: harness.ResultPassed},
				{Axis: "m1", Case: harness.Case{ID: "kill"}, Result: harness.ResultFailed, Error: "axis still enabled"},
			},
		}
		require.NoError(t, store.Record(context.Background(), suite))
	}
	require.NoError(t, store.Close())

	execute := func(args ...string) string {
		t.Helper()
		cmd := newHistoryCmd()
		var buf bytes.Buffer
		cmd.SetOut(&buf)
		cmd.SetArgs(args)
		require.NoError(t, cmd.Execute())
		return buf.String()
	}

	out := execute("--db", dbPath)
	assert.Contains(t, out, "run-old")
	assert.Contains(t, out, "run-new")
	assert.Contains(t, out, "1/2")

	out = execute("show", "--db", dbPath)
	assert.Contains(t, out, "run-new")
	assert.Contains(t, out, "axis still enabled")

	out = execute("show", "--db", dbPath, "run-old")
	assert.Contains(t, out, "run-old")

	out = execute("prune", "--db", dbPath, "--keep", "1")
	assert.Contains(t, out, "Deleted 1 runs")

	out = execute("--db", dbPath)
	assert.NotContains(t, out, "run-old")
}

func TestHistoryShow_UnknownRun(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	dbPath := filepath.Join(t.TempDir(), "history.db")

	cmd := newHistoryCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"show", "--db", dbPath, "nope"})
	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no such run")
}
