package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/mattn/go-runewidth"
	"github.com/spf13/cobra"

	"axisverify/internal/harness"
	"axisverify/internal/history"
)

func newHistoryCmd() *cobra.Command {
	var (
		dbPath string
		limit  int
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recorded verification runs",
		Long: `Show the most recent verification runs recorded in the history database.

Runs are recorded when history is enabled in the configuration or with
'axisverify run --history'.

Available commands:
  show  - Show the cases of one run
  prune - Delete all but the most recent runs`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openHistoryForCmd(dbPath)
			if err != nil {
				return err
			}
			defer store.Close()

			runs, err := store.Recent(commandContext(cmd), limit)
			if err != nil {
				return err
			}
			writeRuns(cmd.OutOrStdout(), runs)
			return nil
		},
	}
	cmd.PersistentFlags().StringVar(&dbPath, "db", "", "History database (default: history.path or the user config directory)")
	cmd.Flags().IntVar(&limit, "limit", 20, "Number of runs to show")

	var asJSON bool
	show := &cobra.Command{
		Use:   "show [run-id]",
		Short: "Show the cases of a run, the last one by default",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openHistoryForCmd(dbPath)
			if err != nil {
				return err
			}
			defer store.Close()

			ctx := commandContext(cmd)
			var suite harness.SuiteResult
			if len(args) == 1 {
				suite, err = store.Report(ctx, args[0])
			} else {
				suite, err = store.Last(ctx)
			}
			if errors.Is(err, history.ErrNotFound) {
				return fmt.Errorf("no such run in history")
			}
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(suite)
			}
			writeSuite(cmd.OutOrStdout(), suite)
			return nil
		},
	}
	show.Flags().BoolVar(&asJSON, "json", false, "Print the stored report as JSON")

	var keep int
	prune := &cobra.Command{
		Use:   "prune",
		Short: "Delete all but the most recent runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openHistoryForCmd(dbPath)
			if err != nil {
				return err
			}
			defer store.Close()

			n, err := store.Prune(commandContext(cmd), keep)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "🧹 Deleted %d runs, kept the latest %d\n", n, keep)
			return nil
		},
	}
	prune.Flags().IntVar(&keep, "keep", 50, "Number of runs to keep")

	cmd.AddCommand(show, prune)
	return cmd
}

func openHistoryForCmd(dbPath string) (*history.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	store, err := openHistory(cfg, dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open history: %w", err)
	}
	return store, nil
}

func writeRuns(out io.Writer, runs []history.Run) {
	if len(runs) == 0 {
		fmt.Fprintln(out, "No runs recorded")
		return
	}
	fmt.Fprintln(out, listHeaderStyle.Render(fmt.Sprintf("   %-36s  %-19s  %-16s  %s", "RUN", "STARTED", "DEVICE", "PASSED/TOTAL")))
	for _, r := range runs {
		symbol := "✅"
		if !r.Succeeded() {
			symbol = "❌"
		}
		fmt.Fprintf(out, "%s %-36s  %-19s  %s  %d/%d\n",
			symbol,
			r.ID,
			r.StartedAt.Local().Format("2006-01-02 15:04:05"),
			runewidth.FillRight(runewidth.Truncate(r.Device, 16, "…"), 16),
			r.Passed,
			r.Total)
	}
}

func writeSuite(out io.Writer, suite harness.SuiteResult) {
	fmt.Fprintf(out, "🆔 Run: %s\n", suite.RunID)
	fmt.Fprintf(out, "🕐 Started: %s\n", suite.StartTime.Local().Format(time.RFC3339))
	fmt.Fprintf(out, "⏱️  Duration: %v\n\n", suite.Duration)
	for _, cr := range suite.CaseResults {
		fmt.Fprintf(out, "%-8s %s %s (%v)\n",
			cr.Result,
			runewidth.FillRight(cr.Axis, 8),
			runewidth.FillRight(cr.Case.ID, 28),
			cr.Duration.Round(time.Millisecond))
		if cr.Error != "" {
			fmt.Fprintf(out, "         %s\n", cr.Error)
		}
		for _, w := range cr.Warnings {
			fmt.Fprintf(out, "         ⚠️  %s\n", w)
		}
	}
	fmt.Fprintf(out, "\n📊 %d passed, %d failed, %d skipped, %d errors of %d\n",
		suite.PassedCases, suite.FailedCases, suite.SkippedCases, suite.ErrorCases, suite.TotalCases)
}
