package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"axisverify/internal/config"
	"axisverify/pkg/logging"
)

var (
	// configPath is an explicit configuration file layered on top of the
	// user and project files.
	configPath string
	debug      bool
	logLevel   string
	logFormat  string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "axisverify",
	Short: "Verify motion axes against their expected behaviour",
	Long: `axisverify drives motion axes through a catalog of verification cases
(soft and hard limits, homing, jogging, stop/pause/move/go modes, velocity
settings and status words) and reports which axes behave as expected.

Axes are reached through remote variables over websocket, TCP, serial or MCP
transports, or through a built-in simulated controller for dry runs.`,
	// SilenceUsage is set to true to prevent printing usage message on errors
	// handled by us (e.g. failed cases, unreachable controllers)
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level, err := logging.ParseLevel(logLevel)
		if err != nil {
			return err
		}
		if debug {
			level = logging.LevelDebug
		}
		// stdout carries reports and the MCP protocol
		return logging.Init(logFormat, level, os.Stderr)
	},
}

// SetVersion sets the version for the root command
func SetVersion(v string) {
	rootCmd.Version = v
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "axisverify version %s\n" .Version}}`)

	err := rootCmd.Execute()
	if err != nil {
		// Cobra prints the error, we just exit non-zero
		os.Exit(1)
	}
}

// loadConfig loads the layered configuration including --config.
func loadConfig() (config.Config, error) {
	return config.LoadConfig(configPath)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Configuration file applied after ~/.config/axisverify/config.yaml and ./.axisverify/config.yaml")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging and motion traces")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", logging.FormatText, "Log format (text, json)")

	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newListCmd())
	rootCmd.AddCommand(newSimCmd())
	rootCmd.AddCommand(newHistoryCmd())
	rootCmd.AddCommand(newMCPServerCmd())
}
