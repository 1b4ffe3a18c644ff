package harness

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"axisverify/internal/limits"
	"axisverify/internal/motion"
	"axisverify/internal/pv"
	"axisverify/internal/status"
)

// Catalog tags.
const (
	TagLimits      = "limits"
	TagModes       = "modes"
	TagMotion      = "motion"
	TagStatus      = "status"
	TagVelocity    = "velocity"
	TagSettings    = "settings"
	TagDestructive = "destructive"
)

// commandSettle is the pause after a command that is not tracked.
const commandSettle = time.Second

// Catalog returns the built-in cases in execution order.
func Catalog() []Case {
	return append(limitCases(), modeCases()...)
}

// FilterCases selects cases by id and tag. Empty filters select every case
// that is not OptIn. Unknown ids are reported as an error.
func FilterCases(cases []Case, ids, tags []string) ([]Case, error) {
	known := make(map[string]bool, len(cases))
	for _, c := range cases {
		known[c.ID] = true
	}
	wantID := make(map[string]bool, len(ids))
	for _, id := range ids {
		if !known[id] {
			return nil, fmt.Errorf("unknown case %q", id)
		}
		wantID[id] = true
	}

	var out []Case
	for _, c := range cases {
		if c.OptIn && len(wantID) == 0 && len(tags) == 0 {
			continue
		}
		if len(wantID) > 0 && !wantID[c.ID] {
			continue
		}
		if len(tags) > 0 && !hasAnyTag(c, tags) {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

// ListCases selects catalog cases by tag for display. OptIn cases are
// included.
func ListCases(tags []string) ([]Case, error) {
	all := Catalog()
	if len(tags) == 0 {
		return all, nil
	}
	return FilterCases(all, nil, tags)
}

func hasAnyTag(c Case, tags []string) bool {
	for _, want := range tags {
		for _, t := range c.Tags {
			if t == want {
				return true
			}
		}
	}
	return false
}

// Tags lists every tag used by cases, sorted.
func Tags(cases []Case) []string {
	seen := map[string]bool{}
	for _, c := range cases {
		for _, t := range c.Tags {
			seen[t] = true
		}
	}
	out := make([]string, 0, len(seen))
	for t := range seen {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

func limitCases() []Case {
	return []Case{
		{
			ID:          "home-forward",
			Name:        "Home the motor forward",
			Description: "Starts a forward home search and expects the homed status bit.",
			Tags:        []string{TagLimits, TagMotion},
			Frame:       FrameDial,
			Run: func(ctx context.Context, env *Env) error {
				out, err := env.Home(ctx, true)
				if err != nil {
					return err
				}
				if err := expectSettled(out, "home search"); err != nil {
					return err
				}
				flags, err := env.MotorFlags(ctx)
				if err != nil {
					return err
				}
				return expectFlag("homed", flags.Homed, true)
			},
		},
		softLimitCase("high-soft-limit", "High soft limit", true),
		tweakAwayCase("tweak-away-high", "Tweak away from the high soft limit", true),
		limitSwitchCase("high-limit-switch", "High limit switch", true),
		{
			ID:            "ten-percent-position",
			Name:          "Move to 10% of the dial range",
			Description:   "Moves in the dial frame to one tenth of the soft range above the low limit.",
			Tags:          []string{TagLimits, TagMotion},
			Frame:         FrameDial,
			Preconditions: []Precondition{SoftLimitsEnabled},
			Run: func(ctx context.Context, env *Env) error {
				d := env.Defaults
				return dialMoveAndCheck(ctx, env, (d.DialHighLimit+9*d.DialLowLimit)/10)
			},
		},
		softLimitCase("low-soft-limit", "Low soft limit", false),
		tweakAwayCase("tweak-away-low", "Tweak away from the low soft limit", false),
		limitSwitchCase("low-limit-switch", "Low limit switch", false),
		{
			ID:            "middle-position",
			Name:          "Move to the dial middle",
			Description:   "Moves in the dial frame to the middle of the soft range.",
			Tags:          []string{TagLimits, TagMotion},
			Frame:         FrameDial,
			Preconditions: []Precondition{SoftLimitsEnabled},
			Run: func(ctx context.Context, env *Env) error {
				return dialMoveAndCheck(ctx, env, env.Defaults.DialMiddle)
			},
		},
	}
}

func side(high bool) string {
	if high {
		return "high"
	}
	return "low"
}

// softLimitCase jogs into a soft limit. The axis must stop on the soft
// limit with LVIO raised and without touching the limit switch.
func softLimitCase(id, name string, high bool) Case {
	return Case{
		ID:            id,
		Name:          name,
		Description:   fmt.Sprintf("Jogs towards the %s end and expects the soft limit to stop the axis before the limit switch.", side(high)),
		Tags:          []string{TagLimits, TagMotion},
		Frame:         FrameDial,
		Preconditions: []Precondition{SoftLimitsEnabled, AtDialMiddle},
		Mutates:       []pv.Variable{pv.JOGF, pv.JOGR},
		Run: func(ctx context.Context, env *Env) error {
			out, err := env.JogDial(ctx, high)
			if err != nil {
				return err
			}
			if err := expectSettled(out, "jog"); err != nil {
				return err
			}
			pos, low, hi, lvio, err := env.DialEnvelope(ctx)
			if err != nil {
				return err
			}
			flags, err := env.MotorFlags(ctx)
			if err != nil {
				return err
			}
			if high {
				if err := expectFlag("plus limit switch", flags.PlusLimitSwitch, false); err != nil {
					return err
				}
				if err := expectNear("DRBV", pos, hi, env.DialTolerance()); err != nil {
					return err
				}
			} else {
				if err := expectFlag("minus limit switch", flags.MinusLimitSwitch, false); err != nil {
					return err
				}
				if err := expectNear("DRBV", pos, low, env.DialTolerance()); err != nil {
					return err
				}
			}
			return expectFlag("LVIO", lvio, true)
		},
	}
}

// tweakAwayCase starts on a soft limit and tweaks back into the range.
func tweakAwayCase(id, name string, high bool) Case {
	at := AtDialLowLimit
	if high {
		at = AtDialHighLimit
	}
	return Case{
		ID:            id,
		Name:          name,
		Description:   fmt.Sprintf("Starting on the %s soft limit, tweaks back into the range and expects a legal position.", side(high)),
		Tags:          []string{TagLimits, TagMotion},
		Frame:         FrameDial,
		Preconditions: []Precondition{SoftLimitsEnabled, at},
		Run: func(ctx context.Context, env *Env) error {
			before, err := env.Get(ctx, pv.DRBV)
			if err != nil {
				return err
			}
			out, err := env.TweakAwayFromDial(ctx, !high)
			if err != nil {
				return err
			}
			if err := expectSettled(out, "tweak"); err != nil {
				return err
			}
			after, err := env.Get(ctx, pv.DRBV)
			if err != nil {
				return err
			}
			if high && !(after < before) || !high && !(after > before) {
				return Failf("tweak did not move away from the %s limit: DRBV %g -> %g", side(high), before, after)
			}
			return env.ExpectConsistentLimits(ctx)
		},
	}
}

// limitSwitchCase disables the soft limits and jogs onto the limit switch.
func limitSwitchCase(id, name string, high bool) Case {
	return Case{
		ID:            id,
		Name:          name,
		Description:   fmt.Sprintf("Disables the soft limits and jogs onto the %s limit switch.", side(high)),
		Tags:          []string{TagLimits, TagMotion, TagDestructive},
		Frame:         FrameDial,
		Destructive:   true,
		Preconditions: []Precondition{SoftLimitsEnabled, AtDialMiddle},
		Mutates:       []pv.Variable{pv.DLLM, pv.DHLM, pv.JOGF, pv.JOGR},
		Run: func(ctx context.Context, env *Env) error {
			if err := disableSoftLimits(ctx, env); err != nil {
				return err
			}
			if _, err := env.JogDial(ctx, high); err != nil {
				return err
			}
			pos, _, _, lvio, err := env.DialEnvelope(ctx)
			if err != nil {
				return err
			}
			// the switch lies beyond the soft range captured at run start
			d := env.Defaults
			if v := limits.Classify(pos, d.DialLowLimit, d.DialHighLimit, lvio); v != limits.Violation {
				return Failf("axis stopped at %g inside the soft range [%g, %g] before reaching the limit switch",
					pos, d.DialLowLimit, d.DialHighLimit)
			}
			if err := expectFlag("LVIO", lvio, false); err != nil {
				return err
			}
			flags, err := env.MotorFlags(ctx)
			if err != nil {
				return err
			}
			if high {
				return expectFlag("plus limit switch", flags.PlusLimitSwitch, true)
			}
			return expectFlag("minus limit switch", flags.MinusLimitSwitch, true)
		},
	}
}

// disableSoftLimits sets both dial limits to zero. Depending on the
// position one of them has to go first so that no intermediate pair
// excludes the axis.
func disableSoftLimits(ctx context.Context, env *Env) error {
	pos, err := env.Get(ctx, pv.DRBV)
	if err != nil {
		return err
	}
	order := []pv.Variable{pv.DHLM, pv.DLLM}
	if pos > 0 {
		order = []pv.Variable{pv.DLLM, pv.DHLM}
	}
	for _, v := range order {
		if err := env.Put(ctx, v, 0); err != nil {
			return err
		}
	}
	return nil
}

func dialMoveAndCheck(ctx context.Context, env *Env, target float64) error {
	out, err := env.DialMoveTo(ctx, target)
	if err != nil {
		return err
	}
	if err := expectSettled(out, "move"); err != nil {
		return err
	}
	pos, err := env.Get(ctx, pv.DRBV)
	if err != nil {
		return err
	}
	if err := expectNear("DRBV", pos, target, env.DialTolerance()); err != nil {
		return err
	}
	return env.ExpectConsistentLimits(ctx)
}

var atMiddle = []Precondition{SoftLimitsEnabled, AtMiddle}

func modeCases() []Case {
	return []Case{
		{
			ID:            "set-position-paused",
			Name:          "Set position in pause mode",
			Description:   "In pause mode the set point changes but the axis stays put.",
			Tags:          []string{TagModes},
			Frame:         FrameUser,
			Preconditions: atMiddle,
			Mutates:       []pv.Variable{pv.SPMG},
			Run:           runSetPositionPaused,
		},
		{
			ID:            "pause-and-go",
			Name:          "Pause and go mode",
			Description:   "The axis waits in pause mode and moves as soon as go mode is selected.",
			Tags:          []string{TagModes, TagMotion},
			Frame:         FrameUser,
			Preconditions: atMiddle,
			Mutates:       []pv.Variable{pv.SPMG},
			Run:           runPauseAndGo,
		},
		{
			ID:            "move-command",
			Name:          "Move command",
			Description:   "A set point stored in pause mode is reached after the move command.",
			Tags:          []string{TagModes, TagMotion},
			Frame:         FrameUser,
			Preconditions: atMiddle,
			Mutates:       []pv.Variable{pv.SPMG},
			Run:           runMoveCommand,
		},
		{
			ID:            "tweak-position",
			Name:          "Tweak position",
			Description:   "Tweaks backwards and forwards by half the test step.",
			Tags:          []string{TagModes, TagMotion},
			Frame:         FrameUser,
			Preconditions: atMiddle,
			Mutates:       []pv.Variable{pv.TWV, pv.SPMG},
			Run:           runTweakPosition,
		},
		{
			ID:            "set-to-zero",
			Name:          "Set position to zero",
			Description:   "Zero is accepted as set point when it lies within the soft limits and raises LVIO otherwise.",
			Tags:          []string{TagModes},
			Frame:         FrameUser,
			Preconditions: atMiddle,
			Mutates:       []pv.Variable{pv.SPMG},
			Run:           runSetToZero,
		},
		{
			ID:            "moving-status",
			Name:          "Moving and positioned status",
			Description:   "The general axis state reads not positioned while moving and positioned afterwards.",
			Tags:          []string{TagModes, TagStatus, TagMotion},
			Frame:         FrameUser,
			Preconditions: atMiddle,
			Run:           runMovingStatus,
		},
		{
			ID:            "velocity-settings",
			Name:          "Velocity settings",
			Description:   "Velocities outside [VBAS, VMAX] are clamped and the actual velocity is reported while moving.",
			Tags:          []string{TagModes, TagVelocity, TagMotion},
			Frame:         FrameUser,
			Preconditions: atMiddle,
			Mutates:       []pv.Variable{pv.VELO},
			Run:           runVelocitySettings,
		},
		{
			ID:            "velocity-limits",
			Name:          "Velocity limits",
			Description:   "VBAS and VMAX can be changed and VELO follows the new bounds.",
			Tags:          []string{TagModes, TagVelocity},
			Frame:         FrameUser,
			Preconditions: atMiddle,
			Mutates:       []pv.Variable{pv.VBAS, pv.VMAX, pv.VELO},
			Run:           runVelocityLimits,
		},
		{
			ID:            "motor-statuses",
			Name:          "Drive status bits",
			Description:   "An idle, enabled axis reports amplifier enabled, closed loop and no faults or limits.",
			Tags:          []string{TagModes, TagStatus},
			Frame:         FrameUser,
			Preconditions: atMiddle,
			Run:           runMotorStatuses,
		},
		{
			ID:            "homing",
			Name:          "Homing procedure",
			Description:   "Runs the home search and expects the homed bit.",
			Tags:          []string{TagModes, TagMotion, TagDestructive},
			Frame:         FrameUser,
			Destructive:   true,
			Preconditions: atMiddle,
			Run: func(ctx context.Context, env *Env) error {
				out, err := env.Home(ctx, true)
				if err != nil {
					return err
				}
				if err := expectSettled(out, "home search"); err != nil {
					return err
				}
				flags, err := env.MotorFlags(ctx)
				if err != nil {
					return err
				}
				return expectFlag("homed", flags.Homed, true)
			},
		},
		{
			ID:            "kill",
			Name:          "Disable the motor",
			Description:   "The kill command disables the axis.",
			Tags:          []string{TagModes, TagStatus},
			Frame:         FrameUser,
			Preconditions: atMiddle,
			Run: func(ctx context.Context, env *Env) error {
				return killAndExpectDisabled(ctx, env)
			},
		},
		{
			ID:            "reset",
			Name:          "Reset the motor",
			Description:   "Kill followed by activate returns the axis to positioned.",
			Tags:          []string{TagModes, TagStatus},
			Frame:         FrameUser,
			Preconditions: atMiddle,
			Run: func(ctx context.Context, env *Env) error {
				if err := killAndExpectDisabled(ctx, env); err != nil {
					return err
				}
				if _, err := env.Execute(ctx, motion.Intent{Kind: motion.Activate, Deadline: env.settleBase()}); err != nil {
					return err
				}
				if err := env.Sleep(ctx, commandSettle); err != nil {
					return err
				}
				return expectState(ctx, env, pv.StatePositioned, "after the activate command")
			},
		},
		{
			ID:            "motor-settings",
			Name:          "Motor settings",
			Description:   "Acceleration, offset, backlash, direction and resolution accept new values and direction reverses raw motion.",
			Tags:          []string{TagSettings, TagMotion},
			Frame:         FrameUser,
			OptIn:         true,
			Preconditions: atMiddle,
			Mutates:       []pv.Variable{pv.ACCL, pv.OFF, pv.BDST, pv.DIR, pv.MRES, pv.TWV, pv.SPMG},
			Run:           runMotorSettings,
		},
		{
			ID:            "stop",
			Name:          "Stop the motor",
			Description:   "A stop during a move leaves the axis short of its set point.",
			Tags:          []string{TagModes, TagMotion},
			Frame:         FrameUser,
			Preconditions: atMiddle,
			Mutates:       []pv.Variable{pv.TWV},
			Run:           runStop,
		},
	}
}

func runSetPositionPaused(ctx context.Context, env *Env) error {
	d := env.Defaults
	if err := env.Put(ctx, pv.SPMG, pv.ModePause); err != nil {
		return err
	}
	for _, target := range []float64{d.LowLimit, d.HighLimit} {
		if err := env.Put(ctx, pv.VAL, target); err != nil {
			return err
		}
		if err := env.Sleep(ctx, commandSettle); err != nil {
			return err
		}
		val, err := env.Get(ctx, pv.VAL)
		if err != nil {
			return err
		}
		if err := expectEqual("VAL", val, target); err != nil {
			return err
		}
		pos, err := env.Get(ctx, pv.RBV)
		if err != nil {
			return err
		}
		if err := expectNear("RBV in pause mode", pos, d.Middle, env.Tolerance()); err != nil {
			return err
		}
	}
	return nil
}

func runPauseAndGo(ctx context.Context, env *Env) error {
	d := env.Defaults
	if err := env.Put(ctx, pv.SPMG, pv.ModePause); err != nil {
		return err
	}
	if err := env.Put(ctx, pv.VAL, d.LowLimit); err != nil {
		return err
	}
	if err := env.Sleep(ctx, commandSettle); err != nil {
		return err
	}
	pos, err := env.Get(ctx, pv.RBV)
	if err != nil {
		return err
	}
	if err := expectNear("RBV in pause mode", pos, d.Middle, env.Tolerance()); err != nil {
		return err
	}

	deadline, err := env.MoveDeadline(ctx, d.LowLimit)
	if err != nil {
		return err
	}
	if err := env.Put(ctx, pv.SPMG, pv.ModeGo); err != nil {
		return err
	}
	if _, err := env.Track(ctx, "go", deadline); err != nil {
		return err
	}
	if err := expectPosition(ctx, env, d.LowLimit, "after go"); err != nil {
		return err
	}

	if _, err := env.MoveTo(ctx, d.Middle); err != nil {
		return err
	}
	return expectPosition(ctx, env, d.Middle, "after a move in go mode")
}

func runMoveCommand(ctx context.Context, env *Env) error {
	d := env.Defaults
	if err := env.Put(ctx, pv.SPMG, pv.ModePause); err != nil {
		return err
	}
	if err := env.Put(ctx, pv.VAL, d.LowLimit); err != nil {
		return err
	}
	deadline, err := env.MoveDeadline(ctx, d.LowLimit)
	if err != nil {
		return err
	}
	if err := env.Put(ctx, pv.SPMG, pv.ModeMove); err != nil {
		return err
	}
	if _, err := env.Track(ctx, "move", deadline); err != nil {
		return err
	}
	return expectPosition(ctx, env, d.LowLimit, "after the move command")
}

func runTweakPosition(ctx context.Context, env *Env) error {
	d := env.Defaults
	step := 0.1
	if d.Step != 0 {
		step = d.Step / 2
	}
	if err := env.Put(ctx, pv.TWV, step); err != nil {
		return err
	}
	if err := env.Put(ctx, pv.SPMG, pv.ModeGo); err != nil {
		return err
	}
	if _, err := env.Tweak(ctx, false); err != nil {
		return err
	}
	if err := expectPosition(ctx, env, d.Middle-step, "after tweak backwards"); err != nil {
		return err
	}
	if _, err := env.Tweak(ctx, true); err != nil {
		return err
	}
	return expectPosition(ctx, env, d.Middle, "after tweak forward")
}

func runSetToZero(ctx context.Context, env *Env) error {
	d := env.Defaults
	if err := env.Put(ctx, pv.SPMG, pv.ModePause); err != nil {
		return err
	}
	val, err := env.Get(ctx, pv.VAL)
	if err != nil {
		return err
	}
	if val == 0 {
		away := d.LowLimit
		if away == 0 {
			away = d.HighLimit
		}
		if err := env.Put(ctx, pv.VAL, away); err != nil {
			return err
		}
		if err := env.Sleep(ctx, commandSettle); err != nil {
			return err
		}
	}
	before, err := env.Get(ctx, pv.VAL)
	if err != nil {
		return err
	}
	if err := env.Put(ctx, pv.VAL, 0); err != nil {
		return err
	}
	if err := env.Sleep(ctx, commandSettle); err != nil {
		return err
	}
	m, err := env.read(ctx, pv.VAL, pv.LLM, pv.HLM, pv.LVIO)
	if err != nil {
		return err
	}
	if limits.Classify(0, m[pv.LLM], m[pv.HLM], false) == limits.Legal {
		return expectEqual("VAL after set to zero", m[pv.VAL], 0)
	}
	if err := expectFlag("LVIO for a zero set point outside the limits", m[pv.LVIO] != 0, true); err != nil {
		return err
	}
	return expectEqual("VAL after a rejected zero set point", m[pv.VAL], before)
}

func runMovingStatus(ctx context.Context, env *Env) error {
	d := env.Defaults
	if _, err := env.MoveTo(ctx, d.LowLimit); err != nil {
		return err
	}
	deadline, err := env.MoveDeadline(ctx, d.HighLimit)
	if err != nil {
		return err
	}
	if err := env.Put(ctx, pv.VAL, d.HighLimit); err != nil {
		return err
	}
	if err := awaitStart(ctx, env); err != nil {
		return err
	}
	if err := expectState(ctx, env, pv.StateNotPositioned, "while moving"); err != nil {
		return err
	}
	if _, err := env.Track(ctx, fmt.Sprintf("move-to(%g)", d.HighLimit), deadline); err != nil {
		return err
	}
	return expectState(ctx, env, pv.StatePositioned, "after the move")
}

func runVelocitySettings(ctx context.Context, env *Env) error {
	d := env.Defaults
	m, err := env.read(ctx, pv.VBAS, pv.VMAX)
	if err != nil {
		return err
	}
	vbas, vmax := m[pv.VBAS], m[pv.VMAX]
	if !(vmax > 0) {
		return Skipf("VMAX is not configured (%g)", vmax)
	}

	if err := env.Put(ctx, pv.VELO, vbas-100); err != nil {
		return err
	}
	if err := env.Sleep(ctx, commandSettle); err != nil {
		return err
	}
	velo, err := env.Get(ctx, pv.VELO)
	if err != nil {
		return err
	}
	if err := expectEqual("VELO below VBAS", velo, vbas); err != nil {
		return err
	}
	if _, err := env.MoveTo(ctx, d.LowLimit); err != nil {
		return err
	}
	if err := expectPosition(ctx, env, d.LowLimit, "at minimum velocity"); err != nil {
		return err
	}

	if err := env.Put(ctx, pv.VELO, vmax+100); err != nil {
		return err
	}
	if err := env.Sleep(ctx, commandSettle); err != nil {
		return err
	}
	velo, err = env.Get(ctx, pv.VELO)
	if err != nil {
		return err
	}
	if err := expectEqual("VELO above VMAX", velo, vmax); err != nil {
		return err
	}
	deadline, err := env.MoveDeadline(ctx, d.HighLimit)
	if err != nil {
		return err
	}
	if err := env.Put(ctx, pv.VAL, d.HighLimit); err != nil {
		return err
	}
	if err := awaitStart(ctx, env); err != nil {
		return err
	}
	actual, err := env.Get(ctx, pv.ActualVel)
	if err != nil {
		return err
	}
	if math.Abs(actual) <= env.Tolerance() {
		return Failf("actual velocity of a moving axis is almost zero (%g)", actual)
	}
	if _, err := env.Track(ctx, fmt.Sprintf("move-to(%g)", d.HighLimit), deadline); err != nil {
		return err
	}
	return expectPosition(ctx, env, d.HighLimit, "at maximum velocity")
}

func runVelocityLimits(ctx context.Context, env *Env) error {
	d := env.Defaults
	steps := []struct {
		limit    pv.Variable
		current  float64
		velocity float64
	}{
		{limit: pv.VBAS, current: d.BaseVelocity, velocity: math.Max(d.BaseVelocity-1, 0)},
		{limit: pv.VMAX, current: d.MaxVelocity, velocity: d.MaxVelocity + 1},
	}
	for _, s := range steps {
		if err := env.Put(ctx, pv.VELO, s.velocity); err != nil {
			return err
		}
		velo, err := env.Get(ctx, pv.VELO)
		if err != nil {
			return err
		}
		if err := expectEqual(fmt.Sprintf("VELO outside %s", s.limit), velo, s.current); err != nil {
			return err
		}
		if err := env.Put(ctx, s.limit, s.velocity); err != nil {
			return err
		}
		got, err := env.Get(ctx, s.limit)
		if err != nil {
			return err
		}
		if err := expectEqual(string(s.limit), got, s.velocity); err != nil {
			return err
		}
		if err := env.Put(ctx, pv.VELO, s.velocity); err != nil {
			return err
		}
		velo, err = env.Get(ctx, pv.VELO)
		if err != nil {
			return err
		}
		if err := expectEqual(fmt.Sprintf("VELO at the new %s", s.limit), velo, s.velocity); err != nil {
			return err
		}
		if err := env.Put(ctx, s.limit, s.current); err != nil {
			return err
		}
	}
	return nil
}

func runMotorStatuses(ctx context.Context, env *Env) error {
	flags, err := env.DriveFlags(ctx)
	if err != nil {
		return err
	}
	layout := env.Status.Drive.Layout
	want := []struct {
		flag status.Flag
		want bool
	}{
		{status.AmplifierEnabled, true},
		{status.LoopClosed, true},
		{status.AmplifierFault, false},
		{status.MinusLimitSwitch, false},
		{status.PlusLimitSwitch, false},
		{status.StoppedOnDesiredLimit, false},
		{status.StoppedOnLimit, false},
		{status.FatalFollowingError, false},
		{status.I2TFault, false},
		{status.PhasingActive, false},
		{status.PhasingReferenceError, false},
	}
	for _, w := range want {
		if layout.Mask(w.flag) == 0 {
			continue
		}
		if err := expectFlag(string(w.flag), flags.Get(w.flag), w.want); err != nil {
			return err
		}
	}
	return nil
}

func runMotorSettings(ctx context.Context, env *Env) error {
	d := env.Defaults

	accl := d.Acceleration * 2
	if accl == 0 {
		accl = 1
	}
	if err := putAndExpect(ctx, env, pv.ACCL, accl, d.Acceleration); err != nil {
		return err
	}
	backlash := -d.Backlash
	if backlash == 0 {
		backlash = 1
	}
	if err := putAndExpect(ctx, env, pv.BDST, backlash, d.Backlash); err != nil {
		return err
	}
	if d.Resolution != 0 {
		if err := putAndExpect(ctx, env, pv.MRES, d.Resolution*10, d.Resolution); err != nil {
			return err
		}
	}

	// the user limits follow the offset
	if err := env.Put(ctx, pv.OFF, d.Offset+1); err != nil {
		return err
	}
	if err := expectUserLimits(ctx, env, d.LowLimit+1, d.HighLimit+1, "after shifting the offset"); err != nil {
		return err
	}
	if err := env.Put(ctx, pv.OFF, d.Offset); err != nil {
		return err
	}
	if err := expectUserLimits(ctx, env, d.LowLimit, d.HighLimit, "after restoring the offset"); err != nil {
		return err
	}

	return runReversedDirection(ctx, env)
}

// runReversedDirection flips DIR and expects a forward tweak to move the
// raw position the other way.
func runReversedDirection(ctx context.Context, env *Env) error {
	d := env.Defaults
	reversed := 1.0
	if d.Direction != 0 {
		reversed = 0
	}
	step := 0.1
	if d.Step != 0 {
		step = d.Step / 2
	}
	if err := env.Put(ctx, pv.TWV, step); err != nil {
		return err
	}
	if err := env.Put(ctx, pv.SPMG, pv.ModeGo); err != nil {
		return err
	}
	before, err := env.Get(ctx, pv.RMP)
	if err != nil {
		return err
	}
	if err := putAndCheck(ctx, env, pv.DIR, reversed); err != nil {
		return err
	}
	out, err := env.Tweak(ctx, true)
	if err != nil {
		return err
	}
	if err := expectSettled(out, "tweak forward"); err != nil {
		return err
	}
	after, err := env.Get(ctx, pv.RMP)
	if err != nil {
		return err
	}
	// DIR 1 is negative: user forward means raw backward
	if forward := after > before; forward == (reversed != 0) {
		return Failf("raw position went from %g to %g on a forward tweak with DIR %g", before, after, reversed)
	}
	out, err = env.Tweak(ctx, false)
	if err != nil {
		return err
	}
	if err := expectSettled(out, "tweak backward"); err != nil {
		return err
	}
	return putAndCheck(ctx, env, pv.DIR, d.Direction)
}

// putAndExpect writes value to v, reads it back and restores def.
func putAndExpect(ctx context.Context, env *Env, v pv.Variable, value, def float64) error {
	if err := putAndCheck(ctx, env, v, value); err != nil {
		return err
	}
	return putAndCheck(ctx, env, v, def)
}

func putAndCheck(ctx context.Context, env *Env, v pv.Variable, value float64) error {
	if err := env.Put(ctx, v, value); err != nil {
		return err
	}
	got, err := env.Get(ctx, v)
	if err != nil {
		return err
	}
	return expectNear(string(v), got, value, 1e-9)
}

func expectUserLimits(ctx context.Context, env *Env, low, high float64, when string) error {
	m, err := env.read(ctx, pv.LLM, pv.HLM)
	if err != nil {
		return err
	}
	if err := expectNear("LLM "+when, m[pv.LLM], low, env.Tolerance()); err != nil {
		return err
	}
	return expectNear("HLM "+when, m[pv.HLM], high, env.Tolerance())
}

func killAndExpectDisabled(ctx context.Context, env *Env) error {
	if _, err := env.Execute(ctx, motion.Intent{Kind: motion.Kill, Deadline: env.settleBase()}); err != nil {
		return err
	}
	if err := env.Sleep(ctx, commandSettle); err != nil {
		return err
	}
	return expectState(ctx, env, pv.StateDisabled, "after the kill command")
}

func runStop(ctx context.Context, env *Env) error {
	d := env.Defaults
	if err := env.Put(ctx, pv.TWV, d.Step); err != nil {
		return err
	}
	velo, err := env.Get(ctx, pv.VELO)
	if err != nil {
		return err
	}
	if !(velo > 0) {
		return &motion.ConfigError{Msg: fmt.Sprintf("velocity %g does not allow a timed stop", velo)}
	}
	travel := time.Duration(math.Abs(d.Step) / velo * float64(time.Second))

	if err := env.Put(ctx, pv.VAL, d.HighLimit); err != nil {
		return err
	}
	if err := env.Sleep(ctx, travel); err != nil {
		return err
	}
	out, err := env.Execute(ctx, motion.Intent{Kind: motion.Stop, Deadline: env.settleBase()})
	if err != nil {
		return err
	}
	if err := env.Sleep(ctx, travel); err != nil {
		return err
	}
	if !out.Settled() {
		return Failf("axis kept moving after the stop command: %s", out)
	}
	pos, err := env.Get(ctx, pv.RBV)
	if err != nil {
		return err
	}
	if math.Abs(pos-d.HighLimit) <= env.Tolerance() {
		return Failf("axis reached %g although it was stopped", pos)
	}
	return nil
}

func awaitStart(ctx context.Context, env *Env) error {
	started, err := env.AwaitStart(ctx)
	if err != nil {
		return err
	}
	if !started {
		return Failf("axis did not start moving within %v", env.Tracker.StartWindow)
	}
	return nil
}

func expectPosition(ctx context.Context, env *Env, want float64, when string) error {
	pos, err := env.Get(ctx, pv.RBV)
	if err != nil {
		return err
	}
	return expectNear("RBV "+when, pos, want, env.Tolerance())
}

func expectState(ctx context.Context, env *Env, want int, when string) error {
	state, err := env.Get(ctx, pv.AxisState)
	if err != nil {
		return err
	}
	return expectEqual("axis state "+when, state, float64(want))
}
