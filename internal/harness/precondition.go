package harness

import (
	"context"
	"fmt"

	"axisverify/internal/pv"
)

// Precondition is a state a case establishes during setup instead of
// relying on what an earlier case left behind.
type Precondition string

const (
	// SoftLimitsEnabled requires the soft limits to be in force; the case
	// is skipped otherwise.
	SoftLimitsEnabled Precondition = "soft-limits-enabled"
	// GoMode puts the axis in go mode.
	GoMode Precondition = "go-mode"
	// AtMiddle moves to the user frame middle of the default limits.
	AtMiddle Precondition = "at-middle"
	// AtDialMiddle moves to the dial frame middle of the default limits.
	AtDialMiddle Precondition = "at-dial-middle"
	// AtDialHighLimit moves onto the default dial high limit.
	AtDialHighLimit Precondition = "at-dial-high-limit"
	// AtDialLowLimit moves onto the default dial low limit.
	AtDialLowLimit Precondition = "at-dial-low-limit"
)

func (e *Env) establish(ctx context.Context, p Precondition) error {
	switch p {
	case SoftLimitsEnabled:
		m, err := e.read(ctx, pv.LLM, pv.HLM)
		if err != nil {
			return err
		}
		if m[pv.LLM] == m[pv.HLM] {
			return Skipf("soft position limits are disabled (%g)", m[pv.LLM])
		}
		return nil
	case GoMode:
		return e.Put(ctx, pv.SPMG, pv.ModeGo)
	case AtMiddle:
		return e.reach(ctx, e.Defaults.Middle, false)
	case AtDialMiddle:
		return e.reach(ctx, e.Defaults.DialMiddle, true)
	case AtDialHighLimit:
		return e.reach(ctx, e.Defaults.DialHighLimit, true)
	case AtDialLowLimit:
		return e.reach(ctx, e.Defaults.DialLowLimit, true)
	default:
		return fmt.Errorf("unknown precondition %q", p)
	}
}

// reach moves to target in go mode and checks that the axis arrived.
func (e *Env) reach(ctx context.Context, target float64, dial bool) error {
	if err := e.Put(ctx, pv.SPMG, pv.ModeGo); err != nil {
		return err
	}
	readback, tol := pv.RBV, e.Tolerance()
	if dial {
		readback, tol = pv.DRBV, e.DialTolerance()
	}
	pos, err := e.Get(ctx, readback)
	if err != nil {
		return err
	}
	if err := expectNear(string(readback), pos, target, tol); err == nil {
		return nil
	}

	if dial {
		_, err = e.DialMoveTo(ctx, target)
	} else {
		_, err = e.MoveTo(ctx, target)
	}
	if err != nil {
		return err
	}
	pos, err = e.Get(ctx, readback)
	if err != nil {
		return err
	}
	if err := expectNear(string(readback), pos, target, tol); err != nil {
		return fmt.Errorf("axis did not reach %g: %w", target, err)
	}
	return nil
}
