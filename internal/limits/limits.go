// Package limits classifies soft limit violations.
package limits

import "fmt"

// Verdict is the outcome of classifying a position against soft limits.
type Verdict int

const (
	Legal Verdict = iota
	Violation
)

func (v Verdict) String() string {
	switch v {
	case Legal:
		return "legal"
	case Violation:
		return "violation"
	default:
		return fmt.Sprintf("Verdict(%d)", int(v))
	}
}

// Disabled reports whether low and high describe disabled soft limits.
func Disabled(low, high float64) bool {
	return low == high
}

// Classify returns Violation exactly when position lies outside the closed
// interval [low, high]. Equal limits mean the limits are disabled and every
// position is Legal. The flag reported by the device never changes the
// verdict; compare it with Consistent.
func Classify(position, low, high float64, flag bool) Verdict {
	if Disabled(low, high) {
		return Legal
	}
	if position < low || position > high {
		return Violation
	}
	return Legal
}

// Consistent reports whether the device's limit violation flag agrees with
// the verdict for position. With disabled limits any flag is consistent.
func Consistent(position, low, high float64, flag bool) bool {
	if Disabled(low, high) {
		return true
	}
	return flag == (Classify(position, low, high, flag) == Violation)
}

// Check returns an error describing a flag that disagrees with the
// position, or nil.
func Check(position, low, high float64, flag bool) error {
	if Consistent(position, low, high, flag) {
		return nil
	}
	return fmt.Errorf("limit violation flag %t inconsistent with position %g in [%g, %g] (expected %s)",
		flag, position, low, high, Classify(position, low, high, flag))
}
