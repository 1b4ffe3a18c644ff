package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"
	"github.com/spf13/cobra"

	"axisverify/internal/harness"
)

var listHeaderStyle = lipgloss.NewStyle().Bold(true)

func newListCmd() *cobra.Command {
	var (
		tags   []string
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the verification cases",
		Long: `List the built-in verification cases in execution order.

Destructive cases are marked with ⚠️; they drive the axis onto a limit
switch or home it. Cases marked + are opt-in and only run when selected
by --case or --tag.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cases, err := harness.ListCases(tags)
			if err != nil {
				return err
			}
			if asJSON {
				return writeCasesJSON(cmd.OutOrStdout(), cases)
			}
			writeCaseTable(cmd.OutOrStdout(), cases)
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&tags, "tag", nil, "Only list cases with this tag (repeatable)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the cases as JSON")
	_ = cmd.RegisterFlagCompletionFunc("tag", completeTagFlag)
	return cmd
}

func writeCaseTable(out io.Writer, cases []harness.Case) {
	idWidth := len("ID")
	for _, c := range cases {
		if w := runewidth.StringWidth(c.ID); w > idWidth {
			idWidth = w
		}
	}
	fmt.Fprintln(out, listHeaderStyle.Render(runewidth.FillRight("ID", idWidth+4)+runewidth.FillRight("FRAME", 7)+"NAME"))
	for _, c := range cases {
		mark := "  "
		if c.Destructive {
			mark = "⚠️"
		} else if c.OptIn {
			mark = "+"
		}
		fmt.Fprintf(out, "%s%s  %s%s [%s]\n",
			runewidth.FillRight(c.ID, idWidth),
			runewidth.FillRight(mark, 2),
			runewidth.FillRight(string(c.Frame), 7),
			c.Name,
			strings.Join(c.Tags, ", "))
	}
	fmt.Fprintf(out, "\n%d cases, tags: %s\n", len(cases), strings.Join(harness.Tags(cases), ", "))
}

func writeCasesJSON(out io.Writer, cases []harness.Case) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(cases)
}
