package config

import (
	"time"

	"axisverify/internal/axissim"
)

// Config is the top-level configuration structure for axisverify.
type Config struct {
	// Device is the controller prefix, e.g. "IOC"
	Device string `yaml:"device,omitempty"`
	// Axes are the axis identifiers verified by default
	Axes []string `yaml:"axes,omitempty"`

	Transport TransportConfig `yaml:"transport,omitempty"`

	Deadband  float64 `yaml:"deadband,omitempty"`
	Tolerance float64 `yaml:"tolerance,omitempty"`
	// Prompt and FailFast are pointers so a later layer can switch them off
	Prompt   *bool `yaml:"prompt,omitempty"`
	FailFast *bool `yaml:"failFast,omitempty"`
	Parallel int   `yaml:"parallel,omitempty"`

	Polling  PollingConfig  `yaml:"polling,omitempty"`
	Timeouts TimeoutsConfig `yaml:"timeouts,omitempty"`
	Status   StatusConfig   `yaml:"status,omitempty"`

	// Variables overrides the suffix of a remote variable, e.g. DriveWord: "-DrvStat"
	Variables map[string]string `yaml:"variables,omitempty"`

	Report    ReportConfig    `yaml:"report,omitempty"`
	History   HistoryConfig   `yaml:"history,omitempty"`
	Simulator SimulatorConfig `yaml:"simulator,omitempty"`
}

// TransportConfig selects how remote variables are reached.
type TransportConfig struct {
	// Kind is one of sim, websocket, tcp, serial or mcp
	Kind     string `yaml:"kind,omitempty"`
	Endpoint string `yaml:"endpoint,omitempty"`
	// Baud is only used by the serial transport
	Baud        int           `yaml:"baud,omitempty"`
	ReadTimeout time.Duration `yaml:"readTimeout,omitempty"`
}

// PollingConfig tunes the motion tracker.
type PollingConfig struct {
	Interval       time.Duration `yaml:"interval,omitempty"`
	StartWindow    time.Duration `yaml:"startWindow,omitempty"`
	RoundingMargin time.Duration `yaml:"roundingMargin,omitempty"`
}

// TimeoutsConfig holds the fixed deadline floors and the run bounds.
type TimeoutsConfig struct {
	MotionBase time.Duration `yaml:"motionBase,omitempty"`
	SettleBase time.Duration `yaml:"settleBase,omitempty"`
	Case       time.Duration `yaml:"case,omitempty"`
	Run        time.Duration `yaml:"run,omitempty"`
}

// StatusConfig names the status words and their bit layouts.
type StatusConfig struct {
	Motor StatusWordConfig `yaml:"motor,omitempty"`
	Drive StatusWordConfig `yaml:"drive,omitempty"`
	// Layouts defines additional layouts by name, flag to bit position
	Layouts map[string]map[string]uint `yaml:"layouts,omitempty"`
}

// StatusWordConfig pairs a variable with the name of its layout.
type StatusWordConfig struct {
	Variable string `yaml:"variable,omitempty"`
	Layout   string `yaml:"layout,omitempty"`
}

// ReportConfig controls the test report.
type ReportConfig struct {
	// Path is the directory a JSON report is written to; empty disables it
	Path string `yaml:"path,omitempty"`
	// Format is console, quiet or json
	Format string `yaml:"format,omitempty"`
}

// HistoryConfig controls the run history database.
type HistoryConfig struct {
	Enabled *bool  `yaml:"enabled,omitempty"`
	Path    string `yaml:"path,omitempty"`
}

// SimulatorConfig describes the simulated controller used by the sim
// transport and the sim command.
type SimulatorConfig struct {
	HTTPAddr string `yaml:"httpAddr,omitempty"`
	LineAddr string `yaml:"lineAddr,omitempty"`
	MCPAddr  string `yaml:"mcpAddr,omitempty"`
	// Axes maps axis identifiers to their simulated settings. Axes not
	// listed use the simulator defaults.
	Axes map[string]axissim.AxisConfig `yaml:"axes,omitempty"`
}
