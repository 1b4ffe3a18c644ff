// Package motion decides when a commanded motion has started and finished.
//
// Tracker polls the moving and done signals of an axis on a fixed cadence
// against absolute deadlines taken from a clock:
//
//	AwaitingStart --(moving && !done)--> InMotion --(done && !moving)--> Completed
//	      |                                  |
//	      +--start window exhausted--> NeverStarted
//	                                         +--deadline exhausted--> TimedOut
//
// A tracker gives up with TimedOut only after it has sent one stop command
// to the axis.
package motion

import (
	"context"
	"errors"
	"fmt"
	"time"

	"axisverify/internal/clock"
	"axisverify/internal/pv"
	"axisverify/pkg/logging"
)

// Default tracker timing.
const (
	DefaultInterval       = 200 * time.Millisecond
	DefaultStartWindow    = 2 * time.Second
	DefaultRoundingMargin = time.Second
)

// Result classifies how a tracked motion ended.
type Result int

const (
	Completed Result = iota
	NeverStarted
	TimedOut
)

func (r Result) String() string {
	switch r {
	case Completed:
		return "completed"
	case NeverStarted:
		return "never-started"
	case TimedOut:
		return "timed-out"
	default:
		return fmt.Sprintf("Result(%d)", int(r))
	}
}

// Sample is one poll of the axis.
type Sample struct {
	Moving   bool
	Done     bool
	Position float64
	// At is the time since tracking began.
	At time.Duration
}

// Outcome is the terminal state of one tracked motion.
type Outcome struct {
	Result Result
	// Elapsed runs from the start of tracking to the sample that decided
	// the outcome.
	Elapsed time.Duration
	Samples int
	Final   Sample
}

// Settled reports whether the axis ended at rest: either the motion
// completed, or it never started and the last sample showed the axis done.
func (o Outcome) Settled() bool {
	switch o.Result {
	case Completed:
		return true
	case NeverStarted:
		return o.Final.Done && !o.Final.Moving
	}
	return false
}

func (o Outcome) String() string {
	return fmt.Sprintf("%s after %v (%d samples)", o.Result, o.Elapsed, o.Samples)
}

// Signals is the view of an axis a Tracker needs.
type Signals interface {
	Sample(ctx context.Context) (Sample, error)
	Stop(ctx context.Context) error
}

// Tracker polls Signals until a motion is classified.
type Tracker struct {
	Clock          clock.Clock
	Interval       time.Duration
	StartWindow    time.Duration
	RoundingMargin time.Duration
}

// NewTracker returns a tracker with default timing on c.
func NewTracker(c clock.Clock) *Tracker {
	return &Tracker{
		Clock:          c,
		Interval:       DefaultInterval,
		StartWindow:    DefaultStartWindow,
		RoundingMargin: DefaultRoundingMargin,
	}
}

// Track classifies the motion observed through sig. deadline is the
// settle time from KinematicTimeout; negative values count as their
// magnitude. A read failure aborts tracking with the error.
func (t *Tracker) Track(ctx context.Context, sig Signals, deadline time.Duration) (Outcome, error) {
	if deadline < 0 {
		deadline = -deadline
	}
	p := t.newPoller(ctx, sig)

	started, err := p.awaitStart()
	if err != nil || !started {
		return p.out, err
	}

	// InMotion
	doneBy := t.Clock.Now().Add(deadline + t.RoundingMargin)
	for {
		s, now, err := p.poll()
		if err != nil {
			return Outcome{}, fmt.Errorf("in motion: %w", err)
		}
		if s.Done && !s.Moving {
			return p.finish(Completed, now), nil
		}
		if !now.Add(p.interval).Before(doneBy) {
			out := p.finish(TimedOut, now)
			logging.Warn("MotionTracker", "motion did not complete within %v, stopping axis", deadline+t.RoundingMargin)
			if err := sig.Stop(ctx); err != nil {
				return out, fmt.Errorf("stop after timeout: %w", err)
			}
			return out, nil
		}
		if err := t.Clock.Sleep(ctx, p.interval); err != nil {
			return p.out, t.abandon(ctx, sig, err)
		}
	}
}

// AwaitStart polls sig until the motion shows the start signature or the
// start window has passed. It is used for commands whose completion is not
// tracked, such as a stop issued mid-move.
func (t *Tracker) AwaitStart(ctx context.Context, sig Signals) (bool, error) {
	return t.newPoller(ctx, sig).awaitStart()
}

// poller samples one tracked motion and accumulates its outcome.
type poller struct {
	ctx      context.Context
	t        *Tracker
	sig      Signals
	interval time.Duration
	start    time.Time
	out      Outcome
}

func (t *Tracker) newPoller(ctx context.Context, sig Signals) *poller {
	interval := t.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &poller{ctx: ctx, t: t, sig: sig, interval: interval, start: t.Clock.Now()}
}

func (p *poller) poll() (Sample, time.Time, error) {
	s, err := p.sig.Sample(p.ctx)
	now := p.t.Clock.Now()
	if err != nil {
		return Sample{}, now, err
	}
	s.At = now.Sub(p.start)
	p.out.Samples++
	p.out.Final = s
	logging.Debug("MotionTracker", "t=%v moving=%t done=%t position=%g", s.At, s.Moving, s.Done, s.Position)
	return s, now, nil
}

func (p *poller) finish(r Result, now time.Time) Outcome {
	p.out.Result = r
	p.out.Elapsed = now.Sub(p.start)
	return p.out
}

// awaitStart is the AwaitingStart state. It reports false with a
// NeverStarted outcome once the start window is exhausted.
func (p *poller) awaitStart() (bool, error) {
	startBy := p.start.Add(p.t.StartWindow)
	for {
		s, now, err := p.poll()
		if err != nil {
			p.out = Outcome{}
			return false, fmt.Errorf("awaiting start: %w", err)
		}
		if s.Moving && !s.Done {
			return true, nil
		}
		if !now.Add(p.interval).Before(startBy) {
			p.finish(NeverStarted, now)
			return false, nil
		}
		if err := p.t.Clock.Sleep(p.ctx, p.interval); err != nil {
			return false, p.t.abandon(p.ctx, p.sig, err)
		}
	}
}

// abandon stops the axis when tracking is cancelled and returns cause.
func (t *Tracker) abandon(ctx context.Context, sig Signals, cause error) error {
	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := sig.Stop(stopCtx); err != nil {
		return errors.Join(cause, fmt.Errorf("stop after cancellation: %w", err))
	}
	return cause
}

// RecordSignals reads the moving and done fields of a motor record.
type RecordSignals struct {
	Record *pv.Record
	// Position is the readback sampled alongside the flags, DRBV when
	// empty.
	Position pv.Variable
}

func (r RecordSignals) Sample(ctx context.Context) (Sample, error) {
	pos := r.Position
	if pos == "" {
		pos = pv.DRBV
	}
	snap, err := r.Record.Read(ctx, pv.MOVN, pv.DMOV, pos)
	if err != nil {
		return Sample{}, err
	}
	movn, _ := snap.Value(pv.MOVN)
	dmov, _ := snap.Value(pv.DMOV)
	p, _ := snap.Value(pos)
	return Sample{Moving: movn != 0, Done: dmov != 0, Position: p}, nil
}

func (r RecordSignals) Stop(ctx context.Context) error {
	return r.Record.Trigger(ctx, pv.STOP)
}

// Execute issues intent on rec, tracks it and releases level triggered
// commands afterwards, whatever the outcome.
func (t *Tracker) Execute(ctx context.Context, rec *pv.Record, intent Intent) (Outcome, error) {
	logging.Debug("MotionTracker", "%s: %s", rec.Prefix(), intent)
	if err := Issue(ctx, rec, intent); err != nil {
		return Outcome{}, fmt.Errorf("issue %s: %w", intent.Kind, err)
	}
	out, err := t.Track(ctx, RecordSignals{Record: rec}, intent.Deadline)
	if relErr := Release(context.WithoutCancel(ctx), rec, intent); relErr != nil && err == nil {
		err = fmt.Errorf("release %s: %w", intent.Kind, relErr)
	}
	logging.Debug("MotionTracker", "%s: %s -> %s", rec.Prefix(), intent.Kind, out)
	return out, err
}
