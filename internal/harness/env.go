package harness

import (
	"context"
	"fmt"
	"math"
	"time"

	"axisverify/internal/clock"
	"axisverify/internal/limits"
	"axisverify/internal/motion"
	"axisverify/internal/pv"
	"axisverify/internal/status"
)

// Position tolerance of dial frame moves.
const dialTolerance = 2.0

// StatusSource names the variable holding a status word and its layout.
type StatusSource struct {
	Variable pv.Variable
	Layout   status.Layout
}

// StatusSources are the status words a case may inspect.
type StatusSources struct {
	Motor StatusSource
	Drive StatusSource
}

// DefaultStatusSources reads MSTA with the motor record layout and the
// drive status word with the drive layout.
func DefaultStatusSources() StatusSources {
	return StatusSources{
		Motor: StatusSource{Variable: pv.MSTA, Layout: status.MotorRecord},
		Drive: StatusSource{Variable: pv.DriveWord, Layout: status.Drive},
	}
}

// Env is the axis as seen by one case.
type Env struct {
	Axis     *pv.Record
	Defaults Defaults
	Tracker  *motion.Tracker
	Clock    clock.Clock
	Status   StatusSources
	Config   Configuration

	motions []MotionRecord
}

// Tolerance is the allowed deviation of user frame positions.
func (e *Env) Tolerance() float64 {
	if e.Config.Tolerance > 0 {
		return e.Config.Tolerance
	}
	return 0.5 * math.Pow10(-e.Defaults.Places)
}

// DialTolerance is the allowed deviation of dial frame positions.
func (e *Env) DialTolerance() float64 {
	if e.Config.Tolerance > 0 {
		return e.Config.Tolerance
	}
	return dialTolerance
}

// RampWait is the deadband share of a settle wait.
func (e *Env) RampWait() time.Duration {
	secs := e.Config.Deadband * e.Defaults.Acceleration
	if !(secs > 0) {
		return 0
	}
	return time.Duration(secs * float64(time.Second))
}

func (e *Env) settleBase() time.Duration {
	if e.Config.SettleBase > 0 {
		return e.Config.SettleBase
	}
	return motion.SettleBase
}

func (e *Env) motionBase() time.Duration {
	if e.Config.MotionBase > 0 {
		return e.Config.MotionBase
	}
	return motion.FullRangeBase
}

// settleDeadline bounds a move of distance at velocity plus the deadband.
func (e *Env) settleDeadline(distance, velocity, accl float64) (time.Duration, error) {
	return motion.PlanDeadline(distance, velocity, accl, e.settleBase()+e.RampWait())
}

func (e *Env) Get(ctx context.Context, v pv.Variable) (float64, error) {
	return e.Axis.Get(ctx, v)
}

func (e *Env) Put(ctx context.Context, v pv.Variable, value float64) error {
	return e.Axis.Put(ctx, v, value)
}

// Sleep waits on the run clock.
func (e *Env) Sleep(ctx context.Context, d time.Duration) error {
	return e.Clock.Sleep(ctx, d)
}

func (e *Env) read(ctx context.Context, vars ...pv.Variable) (map[pv.Variable]float64, error) {
	snap, err := e.Axis.Read(ctx, vars...)
	if err != nil {
		return nil, err
	}
	return snap.Map(), nil
}

func (e *Env) record(intent motion.Intent, out motion.Outcome) {
	e.motions = append(e.motions, MotionRecord{
		Intent:   intent.String(),
		Outcome:  out.String(),
		Elapsed:  out.Elapsed,
		Position: out.Final.Position,
	})
}

// Execute issues intent and tracks it to its outcome.
func (e *Env) Execute(ctx context.Context, intent motion.Intent) (motion.Outcome, error) {
	out, err := e.Tracker.Execute(ctx, e.Axis, intent)
	if err == nil {
		e.record(intent, out)
	}
	return out, err
}

// Track follows a motion the case started itself, for instance by leaving
// pause mode. label names it in the result.
func (e *Env) Track(ctx context.Context, label string, deadline time.Duration) (motion.Outcome, error) {
	out, err := e.Tracker.Track(ctx, motion.RecordSignals{Record: e.Axis, Position: pv.RBV}, deadline)
	if err == nil {
		e.motions = append(e.motions, MotionRecord{
			Intent:   fmt.Sprintf("%s within %v", label, deadline),
			Outcome:  out.String(),
			Elapsed:  out.Elapsed,
			Position: out.Final.Position,
		})
	}
	return out, err
}

// AwaitStart polls until the axis reports a started motion or the start
// window of the tracker has passed.
func (e *Env) AwaitStart(ctx context.Context) (bool, error) {
	return e.Tracker.AwaitStart(ctx, motion.RecordSignals{Record: e.Axis, Position: pv.RBV})
}

// MoveDeadline bounds a user frame move from the current position to
// target at the current velocity.
func (e *Env) MoveDeadline(ctx context.Context, target float64) (time.Duration, error) {
	m, err := e.read(ctx, pv.RBV, pv.VELO, pv.ACCL)
	if err != nil {
		return 0, err
	}
	return e.settleDeadline(target-m[pv.RBV], m[pv.VELO], m[pv.ACCL])
}

// MoveTo moves to target in the user frame and waits for it.
func (e *Env) MoveTo(ctx context.Context, target float64) (motion.Outcome, error) {
	deadline, err := e.MoveDeadline(ctx, target)
	if err != nil {
		return motion.Outcome{}, err
	}
	return e.Execute(ctx, motion.Intent{Kind: motion.MoveTo, Target: target, Deadline: deadline})
}

// DialMoveTo moves to target in the dial frame and waits for it.
func (e *Env) DialMoveTo(ctx context.Context, target float64) (motion.Outcome, error) {
	m, err := e.read(ctx, pv.DRBV, pv.VELO, pv.ACCL)
	if err != nil {
		return motion.Outcome{}, err
	}
	deadline, err := motion.PlanDeadline(target-m[pv.DRBV], m[pv.VELO], m[pv.ACCL], e.motionBase())
	if err != nil {
		return motion.Outcome{}, err
	}
	return e.Execute(ctx, motion.Intent{Kind: motion.DialMoveTo, Target: target, Deadline: deadline})
}

// JogDial jogs towards the high (up) or low dial end. With soft limits in
// force the deadline covers the distance to the soft limit, otherwise only
// the fixed base applies.
func (e *Env) JogDial(ctx context.Context, up bool) (motion.Outcome, error) {
	m, err := e.read(ctx, pv.DRBV, pv.DLLM, pv.DHLM, pv.JVEL, pv.ACCL, pv.DIR)
	if err != nil {
		return motion.Outcome{}, err
	}
	kind := motion.JogForward
	if up == (m[pv.DIR] != 0) {
		kind = motion.JogReverse
	}
	var distance float64
	if m[pv.DLLM] != m[pv.DHLM] {
		destination := m[pv.DLLM]
		if up {
			destination = m[pv.DHLM]
		}
		distance = destination - m[pv.DRBV]
	}
	velocity := m[pv.JVEL]
	if distance == 0 {
		velocity = 0
	}
	deadline, err := motion.PlanDeadline(distance, velocity, m[pv.ACCL], e.motionBase())
	if err != nil {
		return motion.Outcome{}, err
	}
	return e.Execute(ctx, motion.Intent{Kind: kind, Deadline: deadline})
}

// Home starts a home search and waits for it. The deadline covers the
// full soft range at the homing velocity when both are known.
func (e *Env) Home(ctx context.Context, forward bool) (motion.Outcome, error) {
	m, err := e.read(ctx, pv.DLLM, pv.DHLM, pv.HVEL, pv.ACCL)
	if err != nil {
		return motion.Outcome{}, err
	}
	kind := motion.HomeForward
	if !forward {
		kind = motion.HomeReverse
	}
	deadline := e.motionBase()
	if span := m[pv.DHLM] - m[pv.DLLM]; span > 0 && m[pv.HVEL] > 0 {
		deadline, err = motion.PlanDeadline(span, m[pv.HVEL], m[pv.ACCL], time.Second)
		if err != nil {
			return motion.Outcome{}, err
		}
	}
	return e.Execute(ctx, motion.Intent{Kind: kind, Deadline: deadline})
}

// Tweak moves by one tweak step and waits for it.
func (e *Env) Tweak(ctx context.Context, forward bool) (motion.Outcome, error) {
	m, err := e.read(ctx, pv.TWV, pv.VELO, pv.ACCL)
	if err != nil {
		return motion.Outcome{}, err
	}
	deadline, err := e.settleDeadline(m[pv.TWV], m[pv.VELO], m[pv.ACCL])
	if err != nil {
		return motion.Outcome{}, err
	}
	kind := motion.TweakForward
	if !forward {
		kind = motion.TweakReverse
	}
	return e.Execute(ctx, motion.Intent{Kind: kind, Deadline: deadline})
}

// TweakAwayFromDial tweaks in the user direction that moves the dial
// position down (up == false) or up.
func (e *Env) TweakAwayFromDial(ctx context.Context, up bool) (motion.Outcome, error) {
	dir, err := e.Get(ctx, pv.DIR)
	if err != nil {
		return motion.Outcome{}, err
	}
	return e.Tweak(ctx, up == (dir == 0))
}

// MotorFlags decodes the motor status word.
func (e *Env) MotorFlags(ctx context.Context) (status.Flags, error) {
	return e.flags(ctx, e.Status.Motor)
}

// DriveFlags decodes the drive status word.
func (e *Env) DriveFlags(ctx context.Context) (status.Flags, error) {
	return e.flags(ctx, e.Status.Drive)
}

func (e *Env) flags(ctx context.Context, src StatusSource) (status.Flags, error) {
	word, err := e.Axis.GetWord(ctx, src.Variable)
	if err != nil {
		return status.Flags{}, err
	}
	return status.Decode(word, src.Layout), nil
}

// DialEnvelope reads the dial position, dial limits and LVIO.
func (e *Env) DialEnvelope(ctx context.Context) (pos, low, high float64, lvio bool, err error) {
	m, err := e.read(ctx, pv.DRBV, pv.DLLM, pv.DHLM, pv.LVIO)
	if err != nil {
		return 0, 0, 0, false, err
	}
	return m[pv.DRBV], m[pv.DLLM], m[pv.DHLM], m[pv.LVIO] != 0, nil
}

// UserEnvelope reads the user position, user limits and LVIO.
func (e *Env) UserEnvelope(ctx context.Context) (pos, low, high float64, lvio bool, err error) {
	m, err := e.read(ctx, pv.RBV, pv.LLM, pv.HLM, pv.LVIO)
	if err != nil {
		return 0, 0, 0, false, err
	}
	return m[pv.RBV], m[pv.LLM], m[pv.HLM], m[pv.LVIO] != 0, nil
}

// ExpectConsistentLimits fails when LVIO disagrees with the envelope the
// position lies in.
func (e *Env) ExpectConsistentLimits(ctx context.Context) error {
	pos, low, high, lvio, err := e.DialEnvelope(ctx)
	if err != nil {
		return err
	}
	if err := limits.Check(pos, low, high, lvio); err != nil {
		return &AssertionError{Msg: err.Error()}
	}
	return nil
}

// expectSettled fails unless out ended with the axis at rest.
func expectSettled(out motion.Outcome, what string) error {
	if !out.Settled() {
		return Failf("%s did not settle: %s", what, out)
	}
	return nil
}

func expectNear(what string, got, want, tol float64) error {
	if math.Abs(got-want) > tol {
		return Failf("%s is %g, expected %g (±%g)", what, got, want, tol)
	}
	return nil
}

func expectEqual(what string, got, want float64) error {
	if got != want {
		return Failf("%s is %g, expected %g", what, got, want)
	}
	return nil
}

func expectFlag(what string, got, want bool) error {
	if got != want {
		return Failf("%s is %t, expected %t", what, got, want)
	}
	return nil
}
