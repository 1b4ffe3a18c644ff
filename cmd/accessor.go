package cmd

import (
	"context"
	"fmt"
	"sort"

	"axisverify/internal/axissim"
	"axisverify/internal/clock"
	"axisverify/internal/config"
	"axisverify/internal/history"
	"axisverify/internal/pv"
	"axisverify/pkg/logging"
)

// openAccessor connects to the controller described by cfg. The sim
// transport builds a simulated controller holding cfg.Axes.
func openAccessor(ctx context.Context, cfg config.Config) (pv.Accessor, error) {
	if cfg.Transport.Kind == config.TransportSim {
		logging.Info("CLI", "Using simulated controller for %s %v", cfg.Device, cfg.Axes)
		return newSimController(cfg, cfg.Axes), nil
	}
	acc, err := pv.Dial(ctx, cfg.DialOptions())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s %s: %w", cfg.Transport.Kind, cfg.Transport.Endpoint, err)
	}
	logging.Info("CLI", "Connected to %s %s", cfg.Transport.Kind, cfg.Transport.Endpoint)
	return acc, nil
}

// closeAccessor closes acc when it holds a connection.
func closeAccessor(acc pv.Accessor) {
	c, ok := acc.(interface{ Close() error })
	if !ok {
		return
	}
	if err := c.Close(); err != nil {
		logging.Warn("CLI", "Failed to close connection: %v", err)
	}
}

// newSimController returns a simulated controller with one axis per entry
// of axes. Axes configured under simulator.axes use those settings.
func newSimController(cfg config.Config, axes []string) *axissim.Controller {
	ctrl := axissim.NewController(clock.System(), cfg.Naming())
	for _, axis := range axes {
		axisCfg, ok := cfg.Simulator.Axes[axis]
		if !ok {
			axisCfg = axissim.DefaultAxisConfig()
		}
		ctrl.AddAxis(pv.AxisPrefix(cfg.Device, axis), axisCfg)
	}
	return ctrl
}

// simulatedAxes is the union of the configured axes and those with
// simulator settings, sorted.
func simulatedAxes(cfg config.Config) []string {
	seen := map[string]bool{}
	var axes []string
	for _, a := range cfg.Axes {
		if !seen[a] {
			seen[a] = true
			axes = append(axes, a)
		}
	}
	for a := range cfg.Simulator.Axes {
		if !seen[a] {
			seen[a] = true
			axes = append(axes, a)
		}
	}
	sort.Strings(axes)
	return axes
}

// openHistory opens the run history at path, or at the configured or
// default location when path is empty.
func openHistory(cfg config.Config, path string) (*history.Store, error) {
	if path == "" {
		path = cfg.History.Path
	}
	if path == "" {
		var err error
		if path, err = history.DefaultPath(); err != nil {
			return nil, err
		}
	}
	return history.Open(path)
}

// recorder stores completed runs in store, logging failures.
func recorder(store *history.Store) *history.Recorder {
	return &history.Recorder{
		Store: store,
		OnError: func(err error) {
			logging.Error("CLI", err, "Failed to record run in history")
		},
	}
}
