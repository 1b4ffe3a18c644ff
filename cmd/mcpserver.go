package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"axisverify/internal/agent"
	"axisverify/internal/config"
	"axisverify/internal/harness"
	"axisverify/internal/history"
)

func newMCPServerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp-server",
		Short: "Serve the verification cases as MCP tools over stdio",
		Long: `Runs an MCP server on stdin/stdout that lets AI assistants list and run
verification cases.

Tools:
- axis_list_cases: list the catalog, optionally by tag
- axis_run_cases: run cases on axes and return the result as JSON
- axis_last_result: return the last result, or a stored run by ID

Destructive cases only run when the tool call sets allow_destructive, since
nobody can confirm them interactively. Settings not given in a tool call
come from the configuration files.

Configure it in your AI assistant's MCP settings, e.g.:
  {"command": "axisverify", "args": ["mcp-server"]}`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			var store *history.Store
			if cfg.HistoryEnabled() {
				store, err = openHistory(cfg, "")
				if err != nil {
					return fmt.Errorf("failed to open history: %w", err)
				}
				defer store.Close()
			}

			base := cfg.Harness()
			base.Debug = debug
			server := agent.NewServer(rootCmd.Version, base, newRunFunc(cfg, store), store)

			ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if err := server.Start(ctx); err != nil && ctx.Err() == nil {
				return fmt.Errorf("MCP server error: %w", err)
			}
			return nil
		},
	}
}

// newRunFunc runs cases for the agent. Every call connects anew so that
// the device and axes of the call are reachable on the sim transport.
func newRunFunc(cfg config.Config, store *history.Store) agent.RunFunc {
	return func(ctx context.Context, run harness.Configuration, cases []harness.Case) (*harness.SuiteResult, error) {
		sources, err := cfg.StatusSources()
		if err != nil {
			return nil, err
		}
		target := cfg
		target.Device = run.Device
		target.Axes = run.Axes

		acc, err := openAccessor(ctx, target)
		if err != nil {
			return nil, err
		}
		defer closeAccessor(acc)

		var reporter harness.Reporter = harness.NewQuietReporter(nil)
		if store != nil {
			reporter = harness.MultiReporter{reporter, recorder(store)}
		}
		runner := harness.NewRunner(harness.RunnerOptions{
			Accessor:       acc,
			Naming:         cfg.Naming(),
			Reporter:       reporter,
			Status:         sources,
			PollInterval:   cfg.Polling.Interval,
			StartWindow:    cfg.Polling.StartWindow,
			RoundingMargin: cfg.Polling.RoundingMargin,
		})
		return runner.Run(ctx, run, cases)
	}
}
