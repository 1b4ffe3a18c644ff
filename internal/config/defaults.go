package config

import (
	"axisverify/internal/harness"
	"axisverify/internal/motion"
	"axisverify/internal/pv"
	"axisverify/internal/status"
)

// TransportSim runs the cases against an in-process simulated controller.
const TransportSim = "sim"

// GetDefaultConfig returns the configuration used when no file overrides it.
func GetDefaultConfig() Config {
	run := harness.DefaultConfiguration()
	prompt := false
	failFast := false
	history := false

	return Config{
		Device: run.Device,
		Axes:   append([]string(nil), run.Axes...),
		Transport: TransportConfig{
			Kind:        TransportSim,
			Baud:        115200,
			ReadTimeout: pv.DefaultReadTimeout,
		},
		Deadband: run.Deadband,
		Prompt:   &prompt,
		FailFast: &failFast,
		Parallel: run.Parallel,
		Polling: PollingConfig{
			Interval:       motion.DefaultInterval,
			StartWindow:    motion.DefaultStartWindow,
			RoundingMargin: motion.DefaultRoundingMargin,
		},
		Timeouts: TimeoutsConfig{
			MotionBase: motion.FullRangeBase,
			SettleBase: motion.SettleBase,
			Case:       run.CaseTimeout,
			Run:        run.Timeout,
		},
		Status: StatusConfig{
			Motor: StatusWordConfig{Variable: string(pv.MSTA), Layout: status.LayoutMotorRecord},
			Drive: StatusWordConfig{Variable: string(pv.DriveWord), Layout: status.LayoutDrive},
		},
		Report: ReportConfig{Format: harness.OutputConsole},
		History: HistoryConfig{
			Enabled: &history,
		},
		Simulator: SimulatorConfig{
			HTTPAddr: "127.0.0.1:5064",
			LineAddr: "127.0.0.1:5065",
		},
	}
}
