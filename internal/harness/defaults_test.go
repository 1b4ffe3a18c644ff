package harness

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"axisverify/internal/axissim"
	"axisverify/internal/clock"
	"axisverify/internal/pv"
)

func TestCaptureDefaults(t *testing.T) {
	naming := pv.NewNaming(nil)
	ctrl := axissim.NewController(clock.NewManual(time.Unix(0, 0)), naming)
	cfg := axissim.DefaultAxisConfig()
	cfg.Position = 12
	cfg.LowLimit, cfg.HighLimit = -5, 35
	cfg.Resolution = 0.001
	ctrl.AddAxis("IOC:m1", cfg)

	d, err := CaptureDefaults(context.Background(), pv.NewRecord(ctrl, "IOC:m1", naming))
	require.NoError(t, err)

	assert.Equal(t, -5.0, d.LowLimit)
	assert.Equal(t, 35.0, d.HighLimit)
	assert.Equal(t, 12.0, d.Position)
	assert.Equal(t, float64(pv.ModeGo), d.Mode)
	assert.Equal(t, 3, d.Places)
	assert.Equal(t, 15.0, d.Middle)
	assert.Equal(t, 15.0, d.DialMiddle)
	assert.Equal(t, 10.0, d.Step)
	assert.True(t, d.LimitsEnabled())
}

func TestDecimalPlaces(t *testing.T) {
	for x, want := range map[float64]int{1: 0, 0.5: 1, 0.01: 2, 0.0005: 4, -0.25: 2} {
		assert.Equal(t, want, decimalPlaces(x), "%g", x)
	}
	assert.Equal(t, 0.33, roundTo(1.0/3, 2))
}

func TestEnv_Tolerance(t *testing.T) {
	env := &Env{Defaults: Defaults{Places: 2}}
	assert.InDelta(t, 0.005, env.Tolerance(), 1e-12)
	assert.Equal(t, dialTolerance, env.DialTolerance())

	env.Config.Tolerance = 0.1
	assert.Equal(t, 0.1, env.Tolerance())
	assert.Equal(t, 0.1, env.DialTolerance())
}

func TestEnv_RampWait(t *testing.T) {
	env := &Env{Defaults: Defaults{Acceleration: 0.2}, Config: Configuration{Deadband: 30}}
	assert.Equal(t, 6*time.Second, env.RampWait())

	env.Defaults.Acceleration = -1
	assert.Equal(t, time.Duration(0), env.RampWait())
}
