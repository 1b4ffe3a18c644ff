// Package status decodes packed controller status words into named flags.
//
// Bit positions are 1-based and come from a Layout table; nothing in the
// decoder knows which bit means what. Two layouts are built in: the motor
// record MSTA word and the drive status word of the controller.
package status

import (
	"fmt"
	"sort"
	"strings"
)

// Flag names one boolean condition carried by a status word.
type Flag string

const (
	Homed                 Flag = "homed"
	PlusLimitSwitch       Flag = "plusLimitSwitch"
	MinusLimitSwitch      Flag = "minusLimitSwitch"
	AmplifierEnabled      Flag = "amplifierEnabled"
	AmplifierFault        Flag = "amplifierFault"
	LoopClosed            Flag = "loopClosed"
	StoppedOnLimit        Flag = "stoppedOnLimit"
	StoppedOnDesiredLimit Flag = "stoppedOnDesiredLimit"
	FatalFollowingError   Flag = "fatalFollowingError"
	I2TFault              Flag = "i2tFault"
	PhasingActive         Flag = "phasingActive"
	PhasingReferenceError Flag = "phasingReferenceError"

	Direction           Flag = "direction"
	Done                Flag = "done"
	HomeSwitch          Flag = "homeSwitch"
	SlipEnabled         Flag = "slipEnabled"
	PositionMaintenance Flag = "positionMaintenance"
	SlipStall           Flag = "slipStall"
	EncoderHome         Flag = "encoderHome"
	EncoderPresent      Flag = "encoderPresent"
	Problem             Flag = "problem"
	Moving              Flag = "moving"
	GainSupport         Flag = "gainSupport"
	CommError           Flag = "commError"
)

const maxBit = 63

// Layout maps flags to their 1-based bit position.
type Layout map[Flag]uint

// Validate checks that every bit lies in 1..63 and that no two flags share
// a bit.
func (l Layout) Validate() error {
	seen := make(map[uint]Flag, len(l))
	for _, f := range l.Flags() {
		bit := l[f]
		if bit < 1 || bit > maxBit {
			return fmt.Errorf("flag %s: bit %d out of range 1..%d", f, bit, maxBit)
		}
		if other, dup := seen[bit]; dup {
			return fmt.Errorf("flags %s and %s share bit %d", other, f, bit)
		}
		seen[bit] = f
	}
	return nil
}

// Flags returns the flags of the layout ordered by bit.
func (l Layout) Flags() []Flag {
	flags := make([]Flag, 0, len(l))
	for f := range l {
		flags = append(flags, f)
	}
	sort.Slice(flags, func(i, j int) bool {
		if l[flags[i]] != l[flags[j]] {
			return l[flags[i]] < l[flags[j]]
		}
		return flags[i] < flags[j]
	})
	return flags
}

// Mask returns the single-bit mask of f, or 0 when the layout lacks f.
func (l Layout) Mask(f Flag) int64 {
	bit, ok := l[f]
	if !ok || bit < 1 || bit > maxBit {
		return 0
	}
	return 1 << (bit - 1)
}

// MotorRecord is the MSTA layout of the motor record.
var MotorRecord = Layout{
	Direction:           1,
	Done:                2,
	PlusLimitSwitch:     3,
	HomeSwitch:          4,
	SlipEnabled:         5,
	PositionMaintenance: 6,
	SlipStall:           7,
	EncoderHome:         8,
	EncoderPresent:      9,
	Problem:             10,
	Moving:              11,
	GainSupport:         12,
	CommError:           13,
	MinusLimitSwitch:    14,
	Homed:               15,
}

// Drive is the drive status word layout.
var Drive = Layout{
	AmplifierEnabled:      1,
	LoopClosed:            2,
	AmplifierFault:        3,
	MinusLimitSwitch:      4,
	PlusLimitSwitch:       5,
	StoppedOnDesiredLimit: 6,
	StoppedOnLimit:        7,
	FatalFollowingError:   8,
	I2TFault:              9,
	PhasingActive:         10,
	PhasingReferenceError: 11,
	Homed:                 12,
}

// Built-in layout names.
const (
	LayoutMotorRecord = "motor-record"
	LayoutDrive       = "drive"
)

// Registry resolves layout names to tables.
type Registry struct {
	layouts map[string]Layout
}

// NewRegistry returns a registry holding the built-in layouts plus custom.
// Custom layouts may shadow built-in ones.
func NewRegistry(custom map[string]map[string]uint) (*Registry, error) {
	r := &Registry{layouts: map[string]Layout{
		LayoutMotorRecord: MotorRecord,
		LayoutDrive:       Drive,
	}}
	for name, table := range custom {
		l := make(Layout, len(table))
		for flag, bit := range table {
			l[Flag(flag)] = bit
		}
		if err := l.Validate(); err != nil {
			return nil, fmt.Errorf("layout %s: %w", name, err)
		}
		r.layouts[name] = l
	}
	return r, nil
}

// Lookup returns the named layout.
func (r *Registry) Lookup(name string) (Layout, error) {
	l, ok := r.layouts[name]
	if !ok {
		names := make([]string, 0, len(r.layouts))
		for n := range r.layouts {
			names = append(names, n)
		}
		sort.Strings(names)
		return nil, fmt.Errorf("unknown status layout %q (known: %s)", name, strings.Join(names, ", "))
	}
	return l, nil
}
