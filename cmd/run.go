package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"axisverify/internal/config"
	"axisverify/internal/harness"
	"axisverify/internal/tui"
	"axisverify/pkg/logging"
)

// runOptions holds the flags of the run command. Flags only override the
// configuration when given.
type runOptions struct {
	device    string
	axes      []string
	deadband  float64
	tolerance float64
	prompt    bool
	cases     []string
	tags      []string
	transport string
	endpoint  string
	parallel  int
	failFast  bool
	timeout   time.Duration
	report    string
	output    string
	verbose   bool
	history   bool
}

func newRunCmd() *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run verification cases against one or more axes",
		Long: `The run command verifies motion axes by running the case catalog
against each of them. Every case establishes its preconditions, runs its
body and restores the axis settings it touched, whatever the outcome.

Cases and results:
- PASSED: the axis behaved as expected
- FAILED: an expectation about the axis did not hold
- SKIPPED: the axis cannot run the case (e.g. soft limits disabled) or the
  operator declined a destructive case
- ERROR: communication or setup problems

Destructive cases drive the axis onto its limit switches or home it.
With --prompt each of them has to be confirmed interactively.

Example usage:
  axisverify run                                   # Default axis from configuration
  axisverify run --device IOC --axis m1 --axis m2  # Two axes
  axisverify run --tag limits --prompt             # Limit cases, confirm destructive ones
  axisverify run --case stop --verbose             # One case with details
  axisverify run --transport websocket --endpoint ws://bench:5064/ws
  axisverify run --output json > result.json       # Machine readable result
  axisverify run --output tui                      # Live progress view
  axisverify run --parallel 2 --fail-fast          # Two axes at a time, stop each axis at its first failure

The command exits with status 1 when any case failed or errored.`,
		Args: cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("parallel") && (opts.parallel < 1 || opts.parallel > 16) {
				return fmt.Errorf("parallel axes must be between 1 and 16, got %d", opts.parallel)
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVerification(cmd, opts)
		},
	}

	opts.bindFlags(cmd)

	_ = cmd.RegisterFlagCompletionFunc("case", completeCaseFlag)
	_ = cmd.RegisterFlagCompletionFunc("tag", completeTagFlag)
	_ = cmd.RegisterFlagCompletionFunc("output", func(*cobra.Command, []string, string) ([]string, cobra.ShellCompDirective) {
		return []string{harness.OutputConsole, harness.OutputQuiet, harness.OutputJSON, tui.Output}, cobra.ShellCompDirectiveDefault
	})
	return cmd
}

// bindFlags registers the run flags on cmd.
func (opts *runOptions) bindFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringVar(&opts.device, "device", "", "Controller prefix, e.g. IOC")
	f.StringSliceVar(&opts.axes, "axis", nil, "Axis to verify (repeatable)")
	f.Float64Var(&opts.deadband, "deadband", 0, "Multiplier of the acceleration time added to settle deadlines")
	f.Float64Var(&opts.tolerance, "tolerance", 0, "Allowed position deviation (default: half a resolution step)")
	f.BoolVar(&opts.prompt, "prompt", false, "Ask before running destructive cases")
	f.StringSliceVar(&opts.cases, "case", nil, "Run only the case with this ID (repeatable)")
	f.StringSliceVar(&opts.tags, "tag", nil, "Run only cases with this tag (repeatable)")
	f.StringVar(&opts.transport, "transport", "", "Transport: sim, websocket, tcp, serial or mcp")
	f.StringVar(&opts.endpoint, "endpoint", "", "Transport endpoint (URL, host:port or serial device)")
	f.IntVar(&opts.parallel, "parallel", 1, "Number of axes verified concurrently (1-16)")
	f.BoolVar(&opts.failFast, "fail-fast", false, "Skip the remaining cases of an axis after its first failure")
	f.DurationVar(&opts.timeout, "timeout", 0, "Overall run timeout")
	f.StringVar(&opts.report, "report", "", "Directory to save a detailed JSON report to")
	f.StringVar(&opts.output, "output", "", "Output format: console, quiet, json or tui")
	f.BoolVar(&opts.verbose, "verbose", false, "Show errors, warnings and motions of every case")
	f.BoolVar(&opts.history, "history", false, "Record the run in the history database")
}

// completeCaseFlag provides shell completion for case IDs
func completeCaseFlag(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	var ids []string
	for _, c := range harness.Catalog() {
		ids = append(ids, c.ID)
	}
	return ids, cobra.ShellCompDirectiveNoFileComp
}

// completeTagFlag provides shell completion for tags
func completeTagFlag(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	return harness.Tags(harness.Catalog()), cobra.ShellCompDirectiveNoFileComp
}

// applyRunFlags overrides cfg with the flags given on the command line.
func applyRunFlags(cmd *cobra.Command, opts *runOptions, cfg *config.Config) {
	f := cmd.Flags()
	if f.Changed("device") {
		cfg.Device = opts.device
	}
	if f.Changed("axis") {
		cfg.Axes = opts.axes
	}
	if f.Changed("deadband") {
		cfg.Deadband = opts.deadband
	}
	if f.Changed("tolerance") {
		cfg.Tolerance = opts.tolerance
	}
	if f.Changed("prompt") {
		cfg.Prompt = &opts.prompt
	}
	if f.Changed("transport") {
		cfg.Transport.Kind = opts.transport
	}
	if f.Changed("endpoint") {
		cfg.Transport.Endpoint = opts.endpoint
	}
	if f.Changed("parallel") {
		cfg.Parallel = opts.parallel
	}
	if f.Changed("fail-fast") {
		cfg.FailFast = &opts.failFast
	}
	if f.Changed("timeout") {
		cfg.Timeouts.Run = opts.timeout
	}
	if f.Changed("report") {
		cfg.Report.Path = opts.report
	}
	if f.Changed("output") {
		cfg.Report.Format = opts.output
	}
	if f.Changed("history") {
		cfg.History.Enabled = &opts.history
	}
}

func runVerification(cmd *cobra.Command, opts *runOptions) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	applyRunFlags(cmd, opts, &cfg)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	run := cfg.Harness()
	run.Cases = opts.cases
	run.Tags = opts.tags
	run.Verbose = opts.verbose
	run.Debug = debug
	if err := harness.ValidateConfiguration(run); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	cases, err := harness.FilterCases(harness.Catalog(), run.Cases, run.Tags)
	if err != nil {
		return err
	}
	if len(cases) == 0 {
		fmt.Fprintf(cmd.ErrOrStderr(), "⚠️  No cases match the selection\n")
		fmt.Fprintf(cmd.ErrOrStderr(), "💡 Use 'axisverify list' to see the available cases and tags\n")
		return nil
	}

	sources, err := cfg.StatusSources()
	if err != nil {
		return err
	}

	interactive := cfg.Report.Format == tui.Output
	if interactive && run.Prompt {
		return fmt.Errorf("the %s output cannot ask for confirmation, drop --prompt or choose another output", tui.Output)
	}

	// Handle interrupts gracefully: the running case is torn down before
	// the run returns.
	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		reporters harness.MultiReporter
		progress  *tui.Program
	)
	if interactive {
		progress = tui.NewProgram(len(cases)*len(run.Axes), cancel,
			tea.WithInput(cmd.InOrStdin()), tea.WithOutput(cmd.OutOrStdout()))
		reporters = append(reporters, harness.WithReportFile(progress.Reporter(), run.ReportPath))
	} else {
		reporter, err := harness.NewReporter(cfg.Report.Format, cmd.OutOrStdout(), run.Verbose, run.Debug, run.ReportPath)
		if err != nil {
			return err
		}
		reporters = append(reporters, reporter)
	}
	if cfg.HistoryEnabled() {
		store, err := openHistory(cfg, "")
		if err != nil {
			return fmt.Errorf("failed to open history: %w", err)
		}
		defer store.Close()
		reporters = append(reporters, recorder(store))
	}

	var confirmer harness.Confirmer = harness.AutoConfirm{}
	if run.Prompt {
		confirmer = harness.NewPromptConfirmer(cmd.InOrStdin(), cmd.ErrOrStderr())
	}

	acc, err := openAccessor(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeAccessor(acc)

	runner := harness.NewRunner(harness.RunnerOptions{
		Accessor:       acc,
		Naming:         cfg.Naming(),
		Reporter:       reporters,
		Confirmer:      confirmer,
		Status:         sources,
		PollInterval:   cfg.Polling.Interval,
		StartWindow:    cfg.Polling.StartWindow,
		RoundingMargin: cfg.Polling.RoundingMargin,
	})

	var result *harness.SuiteResult
	if interactive {
		result, err = runWithProgress(ctx, progress, runner, run, cases)
	} else {
		result, err = runner.Run(ctx, run, cases)
	}
	if err != nil {
		return fmt.Errorf("verification failed: %w", err)
	}
	logging.Debug("CLI", "Run %s finished in %v", result.RunID, result.Duration)

	if !result.Succeeded() {
		return fmt.Errorf("%d of %d cases failed", result.FailedCases+result.ErrorCases, result.TotalCases)
	}
	return nil
}

// runWithProgress runs the cases while progress owns the terminal.
func runWithProgress(ctx context.Context, progress *tui.Program, runner harness.Runner, run harness.Configuration, cases []harness.Case) (*harness.SuiteResult, error) {
	var (
		result *harness.SuiteResult
		runErr error
	)
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		result, runErr = runner.Run(ctx, run, cases)
		progress.Finish(runErr)
	}()
	if err := progress.Run(); err != nil {
		logging.Error("CLI", err, "Progress view failed, the run continues without it")
	}
	<-finished
	return result, runErr
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
