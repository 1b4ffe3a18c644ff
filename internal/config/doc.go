// Package config provides configuration management for axisverify.
//
// Configuration is loaded from multiple sources and merged in a specific
// order, with later sources overriding earlier ones.
//
// # Configuration Layers
//
//  1. Default Configuration (embedded in binary)
//     - Verifies axis m1 of device IOC against the simulated controller
//
//  2. User Configuration (~/.config/axisverify/config.yaml)
//     - Personal defaults such as the report directory
//
//  3. Project Configuration (./.axisverify/config.yaml)
//     - Beamline or test bench settings shared via version control
//
//  4. Explicit Configuration (--config)
//     - Must exist when given
//
// Command line flags are applied by the caller on top of the result.
//
// A .env file in the working directory is loaded before any YAML is parsed.
// Variables already present in the environment are not overwritten.
//
// # Configuration Structure
//
//	device: IOC
//	axes: [m1, m2]
//	transport:
//	  kind: websocket        # sim, websocket, tcp, serial or mcp
//	  endpoint: ws://bench:5064/ws
//	deadband: 30
//	prompt: true
//	parallel: 2
//	polling:
//	  interval: 200ms
//	  startWindow: 2s
//	timeouts:
//	  motionBase: 30s
//	  case: 10m
//	status:
//	  drive:
//	    variable: DRIVE_STS
//	    layout: bench-drive
//	  layouts:
//	    bench-drive:
//	      amplifierEnabled: 1
//	      homed: 2
//	      plusLimitSwitch: 4
//	      minusLimitSwitch: 5
//	variables:
//	  DRIVE_STS: "-DrvStat"
//	report:
//	  path: ./reports
//	history:
//	  enabled: true
//
// # Environment Variable Expansion
//
// Configuration values support environment variable expansion:
//
//	transport:
//	  endpoint: "${BENCH_ENDPOINT}"
//	report:
//	  path: "${REPORT_DIR:-./reports}"
package config
