package axissim

import (
	"fmt"
	"math"
	"sync"
	"time"

	"axisverify/internal/clock"
	"axisverify/internal/pv"
	"axisverify/internal/status"
)

// AxisConfig describes the initial state of a simulated axis. Positions
// and limits are in the dial frame.
type AxisConfig struct {
	Position float64 `yaml:"position"`
	Home     float64 `yaml:"home"`

	LowLimit      float64 `yaml:"lowLimit"`
	HighLimit     float64 `yaml:"highLimit"`
	LowHardLimit  float64 `yaml:"lowHardLimit"`
	HighHardLimit float64 `yaml:"highHardLimit"`

	Velocity         float64 `yaml:"velocity"`
	JogVelocity      float64 `yaml:"jogVelocity"`
	HomeVelocity     float64 `yaml:"homeVelocity"`
	AccelerationTime float64 `yaml:"accelerationTime"`
	BaseVelocity     float64 `yaml:"baseVelocity"`
	MaxVelocity      float64 `yaml:"maxVelocity"`
	TweakStep        float64 `yaml:"tweakStep"`
	Resolution       float64 `yaml:"resolution"`
	Backlash         float64 `yaml:"backlash"`
	Offset           float64 `yaml:"offset"`
	Direction        int     `yaml:"direction"`
}

// DefaultAxisConfig returns a 0..100 axis with hard limit switches 10 units
// beyond the soft limits.
func DefaultAxisConfig() AxisConfig {
	return AxisConfig{
		Position:         0,
		Home:             0,
		LowLimit:         0,
		HighLimit:        100,
		LowHardLimit:     -10,
		HighHardLimit:    110,
		Velocity:         10,
		JogVelocity:      10,
		HomeVelocity:     5,
		AccelerationTime: 0.1,
		BaseVelocity:     1,
		MaxVelocity:      50,
		TweakStep:        1,
		Resolution:       0.01,
	}
}

type segmentKind int

const (
	segMove segmentKind = iota
	segJog
	segHome
)

// segment is a constant velocity motion between two dial positions.
type segment struct {
	kind     segmentKind
	from, to float64
	velocity float64
	started  time.Time
	// forward is the jog direction in the user frame
	forward bool
}

// Axis simulates a motor record and its controller. Motion is integrated
// lazily from the clock whenever the axis is read or written.
type Axis struct {
	mu  sync.Mutex
	clk clock.Clock

	home          float64
	lowHardLimit  float64
	highHardLimit float64

	dllm, dhlm float64
	velo, jvel float64
	hvel, accl float64
	vbas, vmax float64
	twv, bdst  float64
	mres, off  float64
	dir        int
	spmg       int

	dial    float64
	dval    float64
	pending bool
	motion  *segment

	lvio      bool
	homed     bool
	enabled   bool
	lastDirUp bool
}

// NewAxis creates an axis at rest.
func NewAxis(clk clock.Clock, cfg AxisConfig) *Axis {
	a := &Axis{
		clk:           clk,
		home:          cfg.Home,
		lowHardLimit:  cfg.LowHardLimit,
		highHardLimit: cfg.HighHardLimit,
		dllm:          cfg.LowLimit,
		dhlm:          cfg.HighLimit,
		velo:          cfg.Velocity,
		jvel:          cfg.JogVelocity,
		hvel:          cfg.HomeVelocity,
		accl:          cfg.AccelerationTime,
		vbas:          cfg.BaseVelocity,
		vmax:          cfg.MaxVelocity,
		twv:           cfg.TweakStep,
		bdst:          cfg.Backlash,
		mres:          cfg.Resolution,
		off:           cfg.Offset,
		dir:           cfg.Direction,
		spmg:          pv.ModeGo,
		dial:          cfg.Position,
		dval:          cfg.Position,
		enabled:       true,
	}
	if a.lowHardLimit >= a.highHardLimit {
		a.lowHardLimit, a.highHardLimit = math.Inf(-1), math.Inf(1)
	}
	if a.mres == 0 {
		a.mres = 1
	}
	return a
}

func (a *Axis) limitsEnabled() bool {
	return a.dllm < a.dhlm
}

func (a *Axis) sign() float64 {
	if a.dir != 0 {
		return -1
	}
	return 1
}

func (a *Axis) toUser(dial float64) float64 { return dial*a.sign() + a.off }
func (a *Axis) toDial(user float64) float64 { return (user - a.off) * a.sign() }

func (a *Axis) userLimits() (low, high float64) {
	if a.dir != 0 {
		return a.toUser(a.dhlm), a.toUser(a.dllm)
	}
	return a.toUser(a.dllm), a.toUser(a.dhlm)
}

// advance integrates the current segment up to now and finishes it when
// its end has been reached.
func (a *Axis) advance(now time.Time) {
	m := a.motion
	if m == nil {
		return
	}
	dist := math.Abs(m.to - m.from)
	if m.velocity <= 0 {
		return
	}
	travelled := m.velocity * now.Sub(m.started).Seconds()
	if travelled < dist {
		return
	}
	a.dial = m.to
	a.motion = nil
	a.arrive(m)
}

// position returns the dial position at now without finishing the segment.
func (a *Axis) position(now time.Time) float64 {
	m := a.motion
	if m == nil {
		return a.dial
	}
	if m.velocity <= 0 {
		return m.from
	}
	travelled := m.velocity * now.Sub(m.started).Seconds()
	if travelled > math.Abs(m.to-m.from) {
		return m.to
	}
	if m.to < m.from {
		return m.from - travelled
	}
	return m.from + travelled
}

func (a *Axis) arrive(m *segment) {
	switch m.kind {
	case segJog:
		// a jog that ends inside the hard range was stopped by a soft limit
		if a.limitsEnabled() && a.dial > a.lowHardLimit && a.dial < a.highHardLimit {
			a.lvio = true
		}
		a.dval = a.dial
	case segHome:
		a.homed = true
		a.dval = a.dial
	}
}

// halt freezes the axis where it is.
func (a *Axis) halt(now time.Time) {
	if a.motion != nil {
		a.dial = a.position(now)
		a.motion = nil
	}
	a.dval = a.dial
	a.pending = false
}

func (a *Axis) start(now time.Time, kind segmentKind, target, velocity float64) {
	a.halt(now)
	if !a.enabled {
		return
	}
	target = math.Max(a.lowHardLimit, math.Min(a.highHardLimit, target))
	if kind == segMove {
		a.dval = target
	}
	seg := &segment{kind: kind, from: a.dial, to: target, velocity: math.Abs(velocity), started: now}
	if target == a.dial {
		a.arrive(seg)
		return
	}
	a.lastDirUp = target > a.dial
	a.motion = seg
}

// setpoint handles a new dial set point from VAL, DVAL or a tweak.
func (a *Axis) setpoint(now time.Time, dial float64) {
	if a.limitsEnabled() && (dial < a.dllm || dial > a.dhlm) {
		a.lvio = true
		return
	}
	a.lvio = false
	switch a.spmg {
	case pv.ModeGo:
		a.start(now, segMove, dial, a.velo)
	case pv.ModeMove:
		a.start(now, segMove, dial, a.velo)
		a.spmg = pv.ModePause
	default:
		a.halt(now)
		a.dval = dial
		a.pending = dial != a.dial
	}
}

func (a *Axis) jog(now time.Time, forward bool) {
	dialUp := forward == (a.dir == 0)
	var target float64
	switch {
	case a.limitsEnabled() && dialUp:
		target = a.dhlm
	case a.limitsEnabled():
		target = a.dllm
	case dialUp:
		target = a.highHardLimit
	default:
		target = a.lowHardLimit
	}
	if math.IsInf(target, 0) {
		return
	}
	a.lvio = false
	a.start(now, segJog, target, a.jvel)
	if a.motion != nil {
		a.motion.forward = forward
	}
}

func (a *Axis) homePosition() float64 {
	h := a.home
	if a.limitsEnabled() && (h < a.dllm || h > a.dhlm) {
		h = (a.dllm + a.dhlm) / 2
	}
	return h
}

func (a *Axis) recomputeLVIO(now time.Time) {
	if !a.limitsEnabled() {
		a.lvio = false
		return
	}
	p := a.position(now)
	a.lvio = p < a.dllm || p > a.dhlm
}

func clampVelocity(v, vbas, vmax float64) float64 {
	if v < vbas {
		v = vbas
	}
	if vmax > 0 && v > vmax {
		v = vmax
	}
	return v
}

// Get reads one variable.
func (a *Axis) Get(v pv.Variable) (float64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.clk.Now()
	a.advance(now)
	pos := a.position(now)
	moving := a.motion != nil

	switch v {
	case pv.VAL:
		return a.toUser(a.dval), nil
	case pv.DVAL:
		return a.dval, nil
	case pv.RBV:
		return a.toUser(pos), nil
	case pv.DRBV:
		return pos, nil
	case pv.RMP:
		return math.Round(pos / a.mres), nil
	case pv.DMOV:
		return b2f(!moving), nil
	case pv.MOVN:
		return b2f(moving), nil
	case pv.MSTA:
		return float64(a.msta(pos, moving)), nil
	case pv.LVIO:
		return b2f(a.lvio), nil
	case pv.HLM:
		_, high := a.userLimits()
		return high, nil
	case pv.LLM:
		low, _ := a.userLimits()
		return low, nil
	case pv.DHLM:
		return a.dhlm, nil
	case pv.DLLM:
		return a.dllm, nil
	case pv.VELO:
		return a.velo, nil
	case pv.JVEL:
		return a.jvel, nil
	case pv.HVEL:
		return a.hvel, nil
	case pv.ACCL:
		return a.accl, nil
	case pv.VBAS:
		return a.vbas, nil
	case pv.VMAX:
		return a.vmax, nil
	case pv.TWV:
		return a.twv, nil
	case pv.BDST:
		return a.bdst, nil
	case pv.DIR:
		return float64(a.dir), nil
	case pv.MRES:
		return a.mres, nil
	case pv.OFF:
		return a.off, nil
	case pv.SPMG:
		return float64(a.spmg), nil
	case pv.JOGF:
		return b2f(moving && a.motion.kind == segJog && a.motion.forward), nil
	case pv.JOGR:
		return b2f(moving && a.motion.kind == segJog && !a.motion.forward), nil
	case pv.HOMF, pv.HOMR:
		return b2f(moving && a.motion.kind == segHome), nil
	case pv.TWF, pv.TWR, pv.STOP, pv.Kill, pv.Activate:
		return 0, nil
	case pv.AxisState:
		switch {
		case !a.enabled:
			return pv.StateDisabled, nil
		case moving:
			return pv.StateNotPositioned, nil
		default:
			return pv.StatePositioned, nil
		}
	case pv.DriveWord:
		return float64(a.driveWord(pos)), nil
	case pv.ActualVel:
		if !moving {
			return 0, nil
		}
		vel := a.motion.velocity
		if a.motion.to < a.motion.from {
			vel = -vel
		}
		return vel * a.sign(), nil
	}
	return 0, fmt.Errorf("%w: %s", pv.ErrUnknownVariable, v)
}

// Put writes one variable.
func (a *Axis) Put(v pv.Variable, value float64) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.clk.Now()
	a.advance(now)

	switch v {
	case pv.VAL:
		a.setpoint(now, a.toDial(value))
	case pv.DVAL:
		a.setpoint(now, value)
	case pv.TWF:
		if value != 0 {
			a.setpoint(now, a.toDial(a.toUser(a.dval)+a.twv))
		}
	case pv.TWR:
		if value != 0 {
			a.setpoint(now, a.toDial(a.toUser(a.dval)-a.twv))
		}
	case pv.JOGF, pv.JOGR:
		forward := v == pv.JOGF
		if value != 0 {
			a.jog(now, forward)
		} else if a.motion != nil && a.motion.kind == segJog && a.motion.forward == forward {
			a.halt(now)
		}
	case pv.HOMF, pv.HOMR:
		if value != 0 {
			a.start(now, segHome, a.homePosition(), a.hvel)
		}
	case pv.STOP:
		if value != 0 {
			a.halt(now)
		}
	case pv.Kill:
		if value != 0 {
			a.halt(now)
			a.enabled = false
		}
	case pv.Activate:
		if value != 0 {
			a.enabled = true
		}
	case pv.SPMG:
		a.putSPMG(now, int(value))
	case pv.HLM, pv.LLM:
		a.putUserLimit(now, v, value)
	case pv.DHLM:
		a.dhlm = value
		a.recomputeLVIO(now)
	case pv.DLLM:
		a.dllm = value
		a.recomputeLVIO(now)
	case pv.VELO:
		a.velo = clampVelocity(value, a.vbas, a.vmax)
	case pv.JVEL:
		a.jvel = value
	case pv.HVEL:
		a.hvel = value
	case pv.ACCL:
		a.accl = value
	case pv.VBAS:
		a.vbas = value
	case pv.VMAX:
		a.vmax = value
	case pv.TWV:
		a.twv = value
	case pv.BDST:
		a.bdst = value
	case pv.DIR:
		if value != 0 {
			a.dir = 1
		} else {
			a.dir = 0
		}
	case pv.MRES:
		if value == 0 {
			return fmt.Errorf("%s: resolution must not be zero", v)
		}
		a.mres = value
	case pv.OFF:
		a.off = value
	case pv.RBV, pv.DRBV, pv.RMP, pv.DMOV, pv.MOVN, pv.MSTA, pv.LVIO,
		pv.AxisState, pv.DriveWord, pv.ActualVel:
		return fmt.Errorf("%s is read-only", v)
	default:
		return fmt.Errorf("%w: %s", pv.ErrUnknownVariable, v)
	}
	return nil
}

func (a *Axis) putSPMG(now time.Time, mode int) {
	switch mode {
	case pv.ModeStop:
		a.halt(now)
		a.spmg = pv.ModeStop
	case pv.ModePause:
		if a.motion != nil {
			target := a.dval
			a.halt(now)
			a.dval = target
			a.pending = target != a.dial
		}
		a.spmg = pv.ModePause
	case pv.ModeMove:
		a.spmg = pv.ModeMove
		if a.pending {
			a.start(now, segMove, a.dval, a.velo)
			a.spmg = pv.ModePause
		}
	case pv.ModeGo:
		a.spmg = pv.ModeGo
		if a.pending {
			a.start(now, segMove, a.dval, a.velo)
		}
	}
}

func (a *Axis) putUserLimit(now time.Time, v pv.Variable, user float64) {
	dial := a.toDial(user)
	highInDial := (v == pv.HLM) == (a.dir == 0)
	if highInDial {
		a.dhlm = dial
	} else {
		a.dllm = dial
	}
	a.recomputeLVIO(now)
}

func (a *Axis) msta(pos float64, moving bool) int64 {
	flags := []status.Flag{status.EncoderPresent, status.GainSupport}
	if a.lastDirUp {
		flags = append(flags, status.Direction)
	}
	if moving {
		flags = append(flags, status.Moving)
	} else {
		flags = append(flags, status.Done)
	}
	if pos >= a.highHardLimit {
		flags = append(flags, status.PlusLimitSwitch)
	}
	if pos <= a.lowHardLimit {
		flags = append(flags, status.MinusLimitSwitch)
	}
	if pos == a.homePosition() {
		flags = append(flags, status.HomeSwitch)
	}
	if a.homed {
		flags = append(flags, status.Homed)
	}
	if !a.enabled {
		flags = append(flags, status.Problem)
	}
	return status.Encode(status.MotorRecord, flags...)
}

func (a *Axis) driveWord(pos float64) int64 {
	var flags []status.Flag
	if a.enabled {
		flags = append(flags, status.AmplifierEnabled, status.LoopClosed)
	}
	if pos >= a.highHardLimit {
		flags = append(flags, status.PlusLimitSwitch, status.StoppedOnLimit)
	}
	if pos <= a.lowHardLimit {
		flags = append(flags, status.MinusLimitSwitch, status.StoppedOnLimit)
	}
	if a.homed {
		flags = append(flags, status.Homed)
	}
	return status.Encode(status.Drive, flags...)
}

func b2f(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
