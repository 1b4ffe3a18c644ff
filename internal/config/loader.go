package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"axisverify/internal/harness"
	"axisverify/internal/pv"
	"axisverify/internal/status"
	"axisverify/pkg/logging"
)

// For mocking in tests
var osUserHomeDir = os.UserHomeDir
var osGetwd = os.Getwd

const (
	userConfigDir    = ".config/axisverify"
	projectConfigDir = ".axisverify"
	configFileName   = "config.yaml"
	envFileName      = ".env"
)

// LoadConfig loads the axisverify configuration by layering default, user,
// project and explicit settings. explicitPath may be empty; when set the
// file must exist.
func LoadConfig(explicitPath string) (Config, error) {
	if err := loadEnvFile(); err != nil {
		return Config{}, err
	}

	config := GetDefaultConfig()

	userConfigPath, err := getUserConfigPath()
	if err != nil {
		// user config is optional
		logging.Warn("Config", "Could not determine user config path: %v", err)
	} else if config, err = mergeIfExists(config, userConfigPath); err != nil {
		return Config{}, fmt.Errorf("error loading user config from %s: %w", userConfigPath, err)
	}

	projectConfigPath, err := getProjectConfigPath()
	if err != nil {
		logging.Warn("Config", "Could not determine project config path: %v", err)
	} else if config, err = mergeIfExists(config, projectConfigPath); err != nil {
		return Config{}, fmt.Errorf("error loading project config from %s: %w", projectConfigPath, err)
	}

	if explicitPath != "" {
		explicit, err := loadConfigFromFile(explicitPath)
		if err != nil {
			return Config{}, fmt.Errorf("error loading config from %s: %w", explicitPath, err)
		}
		config = mergeConfigs(config, explicit)
	}

	return config, nil
}

func mergeIfExists(base Config, path string) (Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return base, nil
	}
	overlay, err := loadConfigFromFile(path)
	if err != nil {
		return base, err
	}
	logging.Debug("Config", "Merged configuration from %s", path)
	return mergeConfigs(base, overlay), nil
}

var getUserConfigPath = func() (string, error) {
	homeDir, err := osUserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, userConfigDir, configFileName), nil
}

var getProjectConfigPath = func() (string, error) {
	wd, err := osGetwd()
	if err != nil {
		return "", err
	}
	return filepath.Join(wd, projectConfigDir, configFileName), nil
}

var getEnvFilePath = func() (string, error) {
	wd, err := osGetwd()
	if err != nil {
		return "", err
	}
	return filepath.Join(wd, envFileName), nil
}

// loadEnvFile loads .env from the working directory. Variables already set
// in the environment win.
func loadEnvFile() error {
	path, err := getEnvFilePath()
	if err != nil {
		return nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("error loading %s: %w", path, err)
	}
	logging.Debug("Config", "Loaded environment from %s", path)
	return nil
}

// loadConfigFromFile loads a Config from a YAML file after expanding
// environment references.
func loadConfigFromFile(filePath string) (Config, error) {
	var config Config
	data, err := os.ReadFile(filePath)
	if err != nil {
		return Config{}, err
	}
	expanded := expandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), &config); err != nil {
		return Config{}, err
	}
	return config, nil
}

// expandEnv replaces ${VAR} and $VAR, and ${VAR:-default} when VAR is unset
// or empty.
func expandEnv(s string) string {
	return os.Expand(s, func(key string) string {
		name, def, hasDefault := strings.Cut(key, ":-")
		if v := os.Getenv(name); v != "" || !hasDefault {
			return v
		}
		return def
	})
}

// mergeConfigs merges 'overlay' config into 'base' config.
func mergeConfigs(base, overlay Config) Config {
	merged := base

	if overlay.Device != "" {
		merged.Device = overlay.Device
	}
	if len(overlay.Axes) > 0 {
		merged.Axes = append([]string(nil), overlay.Axes...)
	}

	if overlay.Transport.Kind != "" {
		merged.Transport.Kind = overlay.Transport.Kind
	}
	if overlay.Transport.Endpoint != "" {
		merged.Transport.Endpoint = overlay.Transport.Endpoint
	}
	if overlay.Transport.Baud != 0 {
		merged.Transport.Baud = overlay.Transport.Baud
	}
	if overlay.Transport.ReadTimeout != 0 {
		merged.Transport.ReadTimeout = overlay.Transport.ReadTimeout
	}

	if overlay.Deadband != 0 {
		merged.Deadband = overlay.Deadband
	}
	if overlay.Tolerance != 0 {
		merged.Tolerance = overlay.Tolerance
	}
	// Booleans only when explicitly set in overlay
	if overlay.Prompt != nil {
		merged.Prompt = overlay.Prompt
	}
	if overlay.FailFast != nil {
		merged.FailFast = overlay.FailFast
	}
	if overlay.Parallel != 0 {
		merged.Parallel = overlay.Parallel
	}

	if overlay.Polling.Interval != 0 {
		merged.Polling.Interval = overlay.Polling.Interval
	}
	if overlay.Polling.StartWindow != 0 {
		merged.Polling.StartWindow = overlay.Polling.StartWindow
	}
	if overlay.Polling.RoundingMargin != 0 {
		merged.Polling.RoundingMargin = overlay.Polling.RoundingMargin
	}

	if overlay.Timeouts.MotionBase != 0 {
		merged.Timeouts.MotionBase = overlay.Timeouts.MotionBase
	}
	if overlay.Timeouts.SettleBase != 0 {
		merged.Timeouts.SettleBase = overlay.Timeouts.SettleBase
	}
	if overlay.Timeouts.Case != 0 {
		merged.Timeouts.Case = overlay.Timeouts.Case
	}
	if overlay.Timeouts.Run != 0 {
		merged.Timeouts.Run = overlay.Timeouts.Run
	}

	merged.Status.Motor = mergeStatusWord(merged.Status.Motor, overlay.Status.Motor)
	merged.Status.Drive = mergeStatusWord(merged.Status.Drive, overlay.Status.Drive)
	merged.Status.Layouts = mergeMaps(merged.Status.Layouts, overlay.Status.Layouts)
	merged.Variables = mergeMaps(merged.Variables, overlay.Variables)

	if overlay.Report.Path != "" {
		merged.Report.Path = overlay.Report.Path
	}
	if overlay.Report.Format != "" {
		merged.Report.Format = overlay.Report.Format
	}

	if overlay.History.Enabled != nil {
		merged.History.Enabled = overlay.History.Enabled
	}
	if overlay.History.Path != "" {
		merged.History.Path = overlay.History.Path
	}

	if overlay.Simulator.HTTPAddr != "" {
		merged.Simulator.HTTPAddr = overlay.Simulator.HTTPAddr
	}
	if overlay.Simulator.LineAddr != "" {
		merged.Simulator.LineAddr = overlay.Simulator.LineAddr
	}
	if overlay.Simulator.MCPAddr != "" {
		merged.Simulator.MCPAddr = overlay.Simulator.MCPAddr
	}
	merged.Simulator.Axes = mergeMaps(merged.Simulator.Axes, overlay.Simulator.Axes)

	return merged
}

func mergeStatusWord(base, overlay StatusWordConfig) StatusWordConfig {
	if overlay.Variable != "" {
		base.Variable = overlay.Variable
	}
	if overlay.Layout != "" {
		base.Layout = overlay.Layout
	}
	return base
}

// mergeMaps returns a new map with the entries of overlay replacing those
// of base by key.
func mergeMaps[V any](base, overlay map[string]V) map[string]V {
	if len(base) == 0 && len(overlay) == 0 {
		return base
	}
	merged := make(map[string]V, len(base)+len(overlay))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range overlay {
		merged[k] = v
	}
	return merged
}

// GetUserConfigDir returns the user configuration directory path
func GetUserConfigDir() (string, error) {
	homeDir, err := osUserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, userConfigDir), nil
}

// Validate checks the settings that the run configuration does not cover.
func (c Config) Validate() error {
	var errs []error
	switch c.Transport.Kind {
	case TransportSim:
	case pv.TransportWebSocket, pv.TransportTCP, pv.TransportSerial, pv.TransportMCP:
		if c.Transport.Endpoint == "" {
			errs = append(errs, fmt.Errorf("transport %s requires an endpoint", c.Transport.Kind))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown transport %q (expected sim, websocket, tcp, serial or mcp)", c.Transport.Kind))
	}
	if c.Polling.Interval < 0 || c.Polling.StartWindow < 0 || c.Polling.RoundingMargin < 0 {
		errs = append(errs, errors.New("polling durations must not be negative"))
	}
	if c.Timeouts.MotionBase < 0 || c.Timeouts.SettleBase < 0 {
		errs = append(errs, errors.New("motion timeouts must not be negative"))
	}
	if _, err := c.StatusSources(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Harness returns the run configuration described by c.
func (c Config) Harness() harness.Configuration {
	run := harness.DefaultConfiguration()
	run.Device = c.Device
	run.Axes = append([]string(nil), c.Axes...)
	run.Transport = c.Transport.Kind
	run.Endpoint = c.Transport.Endpoint
	run.Deadband = c.Deadband
	run.Tolerance = c.Tolerance
	run.Prompt = c.Prompt != nil && *c.Prompt
	run.FailFast = c.FailFast != nil && *c.FailFast
	run.Parallel = c.Parallel
	run.Timeout = c.Timeouts.Run
	run.CaseTimeout = c.Timeouts.Case
	run.MotionBase = c.Timeouts.MotionBase
	run.SettleBase = c.Timeouts.SettleBase
	run.ReportPath = c.Report.Path
	return run
}

// StatusSources resolves the configured status words against the built-in
// and custom layouts.
func (c Config) StatusSources() (harness.StatusSources, error) {
	registry, err := status.NewRegistry(c.Status.Layouts)
	if err != nil {
		return harness.StatusSources{}, err
	}
	motor, err := statusSource(registry, c.Status.Motor, harness.DefaultStatusSources().Motor)
	if err != nil {
		return harness.StatusSources{}, fmt.Errorf("motor status: %w", err)
	}
	drive, err := statusSource(registry, c.Status.Drive, harness.DefaultStatusSources().Drive)
	if err != nil {
		return harness.StatusSources{}, fmt.Errorf("drive status: %w", err)
	}
	return harness.StatusSources{Motor: motor, Drive: drive}, nil
}

func statusSource(registry *status.Registry, word StatusWordConfig, fallback harness.StatusSource) (harness.StatusSource, error) {
	src := fallback
	if word.Variable != "" {
		src.Variable = pv.Variable(strings.ToUpper(word.Variable))
	}
	if word.Layout != "" {
		layout, err := registry.Lookup(word.Layout)
		if err != nil {
			return harness.StatusSource{}, err
		}
		src.Layout = layout
	}
	return src, nil
}

// Naming returns the variable naming with the configured suffix overrides.
func (c Config) Naming() pv.Naming {
	return pv.NewNaming(c.Variables)
}

// DialOptions returns the options for a remote transport. It is not valid
// for the sim transport. A zero read timeout would block serial reads
// forever and falls back to pv.DefaultReadTimeout.
func (c Config) DialOptions() pv.DialOptions {
	opts := pv.DialOptions{
		Kind:        c.Transport.Kind,
		Endpoint:    c.Transport.Endpoint,
		Baud:        c.Transport.Baud,
		ReadTimeout: c.Transport.ReadTimeout,
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = pv.DefaultReadTimeout
	}
	return opts
}

// HistoryEnabled reports whether runs are recorded.
func (c Config) HistoryEnabled() bool {
	return c.History.Enabled != nil && *c.History.Enabled
}
