package motion

import (
	"fmt"
	"math"
	"time"
)

// Common base durations for Deadline.
const (
	// FullRangeBase covers a full range home, jog or move.
	FullRangeBase = 30 * time.Second
	// SettleBase covers waits that only expect the axis to settle.
	SettleBase = 2 * time.Second
)

// Deadline returns the worst case time a move of distance takes:
// base + |distance|/velocity + 2*accelerationTime seconds. Both ramps are
// charged in full. With a non-positive velocity the move time is unknown
// and base is returned alone.
func Deadline(distance, velocity, accelerationTime float64, base time.Duration) time.Duration {
	if !(velocity > 0) {
		return base
	}
	secs := math.Abs(distance)/velocity + 2*accelerationTime
	return addSeconds(base, secs)
}

// PlanDeadline is Deadline with its inputs checked. Negative velocity or
// acceleration time and non-finite values mean no safe bound exists.
func PlanDeadline(distance, velocity, accelerationTime float64, base time.Duration) (time.Duration, error) {
	for name, v := range map[string]float64{
		"distance":          distance,
		"velocity":          velocity,
		"acceleration time": accelerationTime,
	} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return 0, &ConfigError{Msg: fmt.Sprintf("%s is not finite: %v", name, v)}
		}
	}
	if velocity < 0 {
		return 0, &ConfigError{Msg: fmt.Sprintf("negative velocity %g", velocity)}
	}
	if accelerationTime < 0 {
		return 0, &ConfigError{Msg: fmt.Sprintf("negative acceleration time %g", accelerationTime)}
	}
	if base < 0 {
		return 0, &ConfigError{Msg: fmt.Sprintf("negative base duration %v", base)}
	}
	return Deadline(distance, velocity, accelerationTime, base), nil
}

func addSeconds(base time.Duration, secs float64) time.Duration {
	if secs <= 0 {
		return base
	}
	limit := float64(math.MaxInt64-int64(base)) / float64(time.Second)
	if secs >= limit {
		return time.Duration(math.MaxInt64)
	}
	return base + time.Duration(secs*float64(time.Second))
}

// ConfigError reports axis settings that do not allow a safe deadline.
type ConfigError struct {
	Msg string
}

func (e *ConfigError) Error() string {
	return "configuration error: " + e.Msg
}
