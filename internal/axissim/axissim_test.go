package axissim

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"axisverify/internal/clock"
	"axisverify/internal/limits"
	"axisverify/internal/motion"
	"axisverify/internal/pv"
	"axisverify/internal/status"
)

const prefix = "IOC:m1"

func newSim(t *testing.T, mutate func(*AxisConfig)) (*Controller, *clock.Manual, *pv.Record) {
	t.Helper()
	clk := clock.NewManual(time.Unix(0, 0))
	cfg := DefaultAxisConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	ctrl := NewController(clk, pv.NewNaming(nil))
	ctrl.AddAxis(prefix, cfg)
	return ctrl, clk, pv.NewRecord(ctrl, prefix, pv.NewNaming(nil))
}

func get(t *testing.T, rec *pv.Record, v pv.Variable) float64 {
	t.Helper()
	x, err := rec.Get(context.Background(), v)
	require.NoError(t, err)
	return x
}

func put(t *testing.T, rec *pv.Record, v pv.Variable, x float64) {
	t.Helper()
	require.NoError(t, rec.Put(context.Background(), v, x))
}

func TestJogToSoftHighLimit(t *testing.T) {
	_, clk, rec := newSim(t, func(c *AxisConfig) { c.Position = 50 })
	ctx := context.Background()

	tracker := motion.NewTracker(clk)
	deadline := motion.Deadline(50, 10, 0.1, motion.FullRangeBase)
	out, err := tracker.Execute(ctx, rec, motion.Intent{Kind: motion.JogForward, Deadline: deadline})
	require.NoError(t, err)
	assert.Equal(t, motion.Completed, out.Result)

	assert.Equal(t, 100.0, get(t, rec, pv.DRBV))
	assert.Equal(t, 1.0, get(t, rec, pv.LVIO))

	word, err := rec.GetWord(ctx, pv.MSTA)
	require.NoError(t, err)
	flags := status.Decode(word, status.MotorRecord)
	assert.False(t, flags.PlusLimitSwitch)
	assert.True(t, flags.Get(status.Done))
	assert.Equal(t, 0.0, get(t, rec, pv.JOGF))
}

func TestJogWithLimitsDisabledReachesSwitch(t *testing.T) {
	_, clk, rec := newSim(t, func(c *AxisConfig) { c.Position = 50 })
	put(t, rec, pv.DLLM, 0)
	put(t, rec, pv.DHLM, 0)

	put(t, rec, pv.JOGF, 1)
	clk.Advance(10 * time.Second)
	put(t, rec, pv.JOGF, 0)

	assert.Equal(t, 110.0, get(t, rec, pv.DRBV))
	assert.Equal(t, 0.0, get(t, rec, pv.LVIO))
	word, err := rec.GetWord(context.Background(), pv.MSTA)
	require.NoError(t, err)
	assert.True(t, status.Decode(word, status.MotorRecord).PlusLimitSwitch)

	drive, err := rec.GetWord(context.Background(), pv.DriveWord)
	require.NoError(t, err)
	df := status.Decode(drive, status.Drive)
	assert.True(t, df.PlusLimitSwitch)
	assert.True(t, df.StoppedOnLimit)
}

func TestMoveOutsideSoftLimitsIsRejected(t *testing.T) {
	_, _, rec := newSim(t, func(c *AxisConfig) { c.Position = 50 })

	put(t, rec, pv.VAL, 150)
	assert.Equal(t, 1.0, get(t, rec, pv.LVIO))
	assert.Equal(t, 50.0, get(t, rec, pv.VAL))
	assert.Equal(t, 0.0, get(t, rec, pv.MOVN))

	put(t, rec, pv.VAL, 60)
	assert.Equal(t, 0.0, get(t, rec, pv.LVIO))
	assert.Equal(t, 1.0, get(t, rec, pv.MOVN))
}

func TestMoveIntegratesAgainstClock(t *testing.T) {
	_, clk, rec := newSim(t, func(c *AxisConfig) { c.Position = 50 })

	put(t, rec, pv.VAL, 70)
	clk.Advance(time.Second)
	assert.InDelta(t, 60.0, get(t, rec, pv.RBV), 1e-9)
	assert.Equal(t, 0.0, get(t, rec, pv.DMOV))
	assert.Equal(t, float64(pv.StateNotPositioned), get(t, rec, pv.AxisState))
	assert.Equal(t, 10.0, get(t, rec, pv.ActualVel))

	clk.Advance(time.Second)
	assert.Equal(t, 70.0, get(t, rec, pv.RBV))
	assert.Equal(t, 1.0, get(t, rec, pv.DMOV))
	assert.Equal(t, float64(pv.StatePositioned), get(t, rec, pv.AxisState))
	assert.Equal(t, 0.0, get(t, rec, pv.ActualVel))
	assert.Equal(t, 7000.0, get(t, rec, pv.RMP))
}

func TestPauseHoldsSetPointUntilGo(t *testing.T) {
	_, clk, rec := newSim(t, func(c *AxisConfig) { c.Position = 50 })

	put(t, rec, pv.SPMG, pv.ModePause)
	put(t, rec, pv.VAL, 60)
	clk.Advance(5 * time.Second)
	assert.Equal(t, 50.0, get(t, rec, pv.RBV))
	assert.Equal(t, 60.0, get(t, rec, pv.VAL))

	put(t, rec, pv.SPMG, pv.ModeGo)
	assert.Equal(t, 1.0, get(t, rec, pv.MOVN))
	clk.Advance(5 * time.Second)
	assert.Equal(t, 60.0, get(t, rec, pv.RBV))
}

func TestMoveModeRunsOnceThenPauses(t *testing.T) {
	_, clk, rec := newSim(t, func(c *AxisConfig) { c.Position = 50 })

	put(t, rec, pv.SPMG, pv.ModeMove)
	put(t, rec, pv.VAL, 55)
	assert.Equal(t, float64(pv.ModePause), get(t, rec, pv.SPMG))
	clk.Advance(time.Second)
	assert.Equal(t, 55.0, get(t, rec, pv.RBV))

	put(t, rec, pv.VAL, 45)
	clk.Advance(time.Second)
	assert.Equal(t, 55.0, get(t, rec, pv.RBV))
}

func TestStopFreezesAndResetsSetPoint(t *testing.T) {
	_, clk, rec := newSim(t, func(c *AxisConfig) { c.Position = 0 })

	put(t, rec, pv.VAL, 100)
	clk.Advance(2 * time.Second)
	put(t, rec, pv.STOP, 1)
	clk.Advance(5 * time.Second)

	assert.Equal(t, 20.0, get(t, rec, pv.RBV))
	assert.Equal(t, 20.0, get(t, rec, pv.VAL))
	assert.NotEqual(t, 100.0, get(t, rec, pv.RBV))
}

func TestTweak(t *testing.T) {
	_, clk, rec := newSim(t, func(c *AxisConfig) { c.Position = 50 })
	put(t, rec, pv.TWV, 5)

	put(t, rec, pv.TWF, 1)
	clk.Advance(time.Second)
	assert.Equal(t, 55.0, get(t, rec, pv.RBV))

	put(t, rec, pv.TWR, 1)
	put(t, rec, pv.TWR, 1)
	clk.Advance(2 * time.Second)
	assert.Equal(t, 45.0, get(t, rec, pv.RBV))
}

func TestVelocityClamping(t *testing.T) {
	_, _, rec := newSim(t, nil)

	put(t, rec, pv.VELO, 0.5)
	assert.Equal(t, 1.0, get(t, rec, pv.VELO))
	put(t, rec, pv.VELO, 500)
	assert.Equal(t, 50.0, get(t, rec, pv.VELO))

	put(t, rec, pv.VMAX, 600)
	put(t, rec, pv.VELO, 500)
	assert.Equal(t, 500.0, get(t, rec, pv.VELO))
}

func TestKillAndActivate(t *testing.T) {
	_, clk, rec := newSim(t, func(c *AxisConfig) { c.Position = 50 })

	put(t, rec, pv.VAL, 90)
	clk.Advance(time.Second)
	put(t, rec, pv.Kill, 1)
	assert.Equal(t, float64(pv.StateDisabled), get(t, rec, pv.AxisState))
	assert.Equal(t, 60.0, get(t, rec, pv.RBV))

	drive, err := rec.GetWord(context.Background(), pv.DriveWord)
	require.NoError(t, err)
	assert.False(t, status.Decode(drive, status.Drive).AmplifierEnabled)

	put(t, rec, pv.VAL, 70)
	assert.Equal(t, 0.0, get(t, rec, pv.MOVN))

	put(t, rec, pv.Activate, 1)
	assert.Equal(t, float64(pv.StatePositioned), get(t, rec, pv.AxisState))
	drive, err = rec.GetWord(context.Background(), pv.DriveWord)
	require.NoError(t, err)
	df := status.Decode(drive, status.Drive)
	assert.True(t, df.AmplifierEnabled)
	assert.True(t, df.LoopClosed)
}

func TestHoming(t *testing.T) {
	tests := []struct {
		name      string
		low, high float64
		wantHome  float64
	}{
		{name: "zero inside limits", low: -50, high: 50, wantHome: 0},
		{name: "zero outside limits", low: 20, high: 80, wantHome: 50},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, clk, rec := newSim(t, func(c *AxisConfig) {
				c.Position = 30
				c.LowLimit, c.HighLimit = tt.low, tt.high
				c.LowHardLimit, c.HighHardLimit = tt.low-10, tt.high+10
			})
			tracker := motion.NewTracker(clk)
			out, err := tracker.Execute(context.Background(), rec, motion.Intent{Kind: motion.HomeForward, Deadline: 30 * time.Second})
			require.NoError(t, err)
			assert.True(t, out.Settled())

			assert.Equal(t, tt.wantHome, get(t, rec, pv.DRBV))
			word, err := rec.GetWord(context.Background(), pv.MSTA)
			require.NoError(t, err)
			flags := status.Decode(word, status.MotorRecord)
			assert.True(t, flags.Homed)
			assert.True(t, flags.Get(status.HomeSwitch))
		})
	}
}

func TestUserFrame(t *testing.T) {
	_, clk, rec := newSim(t, func(c *AxisConfig) {
		c.Position = 10
		c.Offset = 5
		c.Direction = 1
	})

	assert.Equal(t, -5.0, get(t, rec, pv.RBV))
	assert.Equal(t, -95.0, get(t, rec, pv.LLM))
	assert.Equal(t, 5.0, get(t, rec, pv.HLM))

	put(t, rec, pv.VAL, -15)
	clk.Advance(2 * time.Second)
	assert.Equal(t, 20.0, get(t, rec, pv.DRBV))

	put(t, rec, pv.HLM, 0)
	assert.Equal(t, 5.0, get(t, rec, pv.DLLM))
}

func TestChangingLimitsRecomputesViolation(t *testing.T) {
	_, _, rec := newSim(t, func(c *AxisConfig) { c.Position = 50 })
	ctx := context.Background()

	put(t, rec, pv.DHLM, 40)
	snap, err := rec.Read(ctx, pv.DRBV, pv.DLLM, pv.DHLM, pv.LVIO)
	require.NoError(t, err)
	pos, _ := snap.Value(pv.DRBV)
	low, _ := snap.Value(pv.DLLM)
	high, _ := snap.Value(pv.DHLM)
	lvio, _ := snap.Value(pv.LVIO)
	assert.Equal(t, limits.Violation, limits.Classify(pos, low, high, lvio != 0))
	assert.True(t, limits.Consistent(pos, low, high, lvio != 0))

	put(t, rec, pv.DHLM, 100)
	assert.Equal(t, 0.0, get(t, rec, pv.LVIO))
}

func TestController_Errors(t *testing.T) {
	ctrl, _, _ := newSim(t, nil)
	ctx := context.Background()

	_, err := ctrl.Get(ctx, "IOC:m9.VAL")
	assert.ErrorIs(t, err, pv.ErrUnknownVariable)

	_, err = ctrl.Get(ctx, "IOC:m1.BOGUS")
	assert.ErrorIs(t, err, pv.ErrUnknownVariable)

	err = ctrl.Put(ctx, "IOC:m1.RBV", 3)
	assert.ErrorContains(t, err, "read-only")

	err = ctrl.Put(ctx, "IOC:m1.MRES", 0)
	assert.Error(t, err)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = ctrl.Get(cancelled, "IOC:m1.VAL")
	assert.ErrorIs(t, err, context.Canceled)

	assert.Equal(t, []string{prefix}, ctrl.Prefixes())
}

func TestController_ControllerVariables(t *testing.T) {
	ctrl, _, _ := newSim(t, func(c *AxisConfig) { c.Position = 50 })
	ctx := context.Background()

	v, err := ctrl.Get(ctx, "IOC:m1_AXIS_STS")
	require.NoError(t, err)
	assert.Equal(t, float64(pv.StatePositioned), v)

	require.NoError(t, ctrl.Put(ctx, "IOC:m1_KILL_MOTOR_CMD.PROC", 1))
	v, err = ctrl.Get(ctx, "IOC:m1_AXIS_STS")
	require.NoError(t, err)
	assert.Equal(t, float64(pv.StateDisabled), v)
}
