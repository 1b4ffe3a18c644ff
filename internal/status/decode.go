package status

import (
	"sort"
	"strings"
)

// Flags is a decoded status word.
type Flags struct {
	Homed                 bool
	PlusLimitSwitch       bool
	MinusLimitSwitch      bool
	AmplifierEnabled      bool
	AmplifierFault        bool
	LoopClosed            bool
	StoppedOnLimit        bool
	StoppedOnDesiredLimit bool
	FatalFollowingError   bool
	I2TFault              bool
	PhasingActive         bool
	PhasingReferenceError bool

	// Extra holds the flags of the layout that have no field above.
	Extra map[Flag]bool
}

// Decode reads every flag of layout from word. It never fails: bits the
// layout does not name are ignored and flags the layout lacks stay false.
func Decode(word int64, layout Layout) Flags {
	var f Flags
	for flag, bit := range layout {
		if bit < 1 || bit > maxBit {
			continue
		}
		f.set(flag, (word>>(bit-1))&1 == 1)
	}
	return f
}

// Encode builds a word with exactly the bits of flags set. Flags the layout
// does not name are ignored.
func Encode(layout Layout, flags ...Flag) int64 {
	var word int64
	for _, f := range flags {
		word |= layout.Mask(f)
	}
	return word
}

// Get returns the value of flag.
func (f Flags) Get(flag Flag) bool {
	if p := f.field(flag); p != nil {
		return *p
	}
	return f.Extra[flag]
}

// Set returns the names of every flag that is true, sorted.
func (f Flags) Set() []Flag {
	var out []Flag
	for _, flag := range namedFlags {
		if f.Get(flag) {
			out = append(out, flag)
		}
	}
	for flag, v := range f.Extra {
		if v {
			out = append(out, flag)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (f Flags) String() string {
	set := f.Set()
	names := make([]string, len(set))
	for i, flag := range set {
		names[i] = string(flag)
	}
	return "{" + strings.Join(names, ",") + "}"
}

var namedFlags = []Flag{
	Homed, PlusLimitSwitch, MinusLimitSwitch, AmplifierEnabled, AmplifierFault,
	LoopClosed, StoppedOnLimit, StoppedOnDesiredLimit, FatalFollowingError,
	I2TFault, PhasingActive, PhasingReferenceError,
}

func (f *Flags) set(flag Flag, v bool) {
	if p := f.field(flag); p != nil {
		*p = v
		return
	}
	if f.Extra == nil {
		f.Extra = make(map[Flag]bool)
	}
	f.Extra[flag] = v
}

func (f *Flags) field(flag Flag) *bool {
	switch flag {
	case Homed:
		return &f.Homed
	case PlusLimitSwitch:
		return &f.PlusLimitSwitch
	case MinusLimitSwitch:
		return &f.MinusLimitSwitch
	case AmplifierEnabled:
		return &f.AmplifierEnabled
	case AmplifierFault:
		return &f.AmplifierFault
	case LoopClosed:
		return &f.LoopClosed
	case StoppedOnLimit:
		return &f.StoppedOnLimit
	case StoppedOnDesiredLimit:
		return &f.StoppedOnDesiredLimit
	case FatalFollowingError:
		return &f.FatalFollowingError
	case I2TFault:
		return &f.I2TFault
	case PhasingActive:
		return &f.PhasingActive
	case PhasingReferenceError:
		return &f.PhasingReferenceError
	}
	return nil
}
