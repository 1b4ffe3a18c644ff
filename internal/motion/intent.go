package motion

import (
	"context"
	"fmt"
	"time"

	"axisverify/internal/pv"
)

// Kind is the command carried by an Intent.
type Kind int

const (
	HomeForward Kind = iota
	HomeReverse
	JogForward
	JogReverse
	MoveTo
	DialMoveTo
	TweakForward
	TweakReverse
	Stop
	Kill
	Activate
)

var kindNames = map[Kind]string{
	HomeForward:  "home-forward",
	HomeReverse:  "home-reverse",
	JogForward:   "jog-forward",
	JogReverse:   "jog-reverse",
	MoveTo:       "move-to",
	DialMoveTo:   "dial-move-to",
	TweakForward: "tweak-forward",
	TweakReverse: "tweak-reverse",
	Stop:         "stop",
	Kill:         "kill",
	Activate:     "activate",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Intent is one motion command and the time it is given to settle.
type Intent struct {
	Kind Kind
	// Target is the destination of MoveTo (user frame) and DialMoveTo
	// (dial frame).
	Target   float64
	Deadline time.Duration
}

func (i Intent) String() string {
	switch i.Kind {
	case MoveTo, DialMoveTo:
		return fmt.Sprintf("%s(%g) within %v", i.Kind, i.Target, i.Deadline)
	default:
		return fmt.Sprintf("%s within %v", i.Kind, i.Deadline)
	}
}

// Issue writes the command of intent to rec.
func Issue(ctx context.Context, rec *pv.Record, intent Intent) error {
	switch intent.Kind {
	case HomeForward:
		return rec.Trigger(ctx, pv.HOMF)
	case HomeReverse:
		return rec.Trigger(ctx, pv.HOMR)
	case JogForward:
		return rec.Trigger(ctx, pv.JOGF)
	case JogReverse:
		return rec.Trigger(ctx, pv.JOGR)
	case MoveTo:
		return rec.Put(ctx, pv.VAL, intent.Target)
	case DialMoveTo:
		return rec.Put(ctx, pv.DVAL, intent.Target)
	case TweakForward:
		return rec.Trigger(ctx, pv.TWF)
	case TweakReverse:
		return rec.Trigger(ctx, pv.TWR)
	case Stop:
		return rec.Trigger(ctx, pv.STOP)
	case Kill:
		return rec.Trigger(ctx, pv.Kill)
	case Activate:
		return rec.Trigger(ctx, pv.Activate)
	default:
		return fmt.Errorf("unknown motion kind %v", intent.Kind)
	}
}

// Release undoes the level triggered part of a command: jogs run for as
// long as JOGF or JOGR stays set.
func Release(ctx context.Context, rec *pv.Record, intent Intent) error {
	switch intent.Kind {
	case JogForward:
		return rec.Put(ctx, pv.JOGF, 0)
	case JogReverse:
		return rec.Put(ctx, pv.JOGR, 0)
	}
	return nil
}
