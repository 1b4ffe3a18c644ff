package harness

import (
	"errors"
	"fmt"

	"axisverify/internal/motion"
)

// AssertionError is a case expectation that did not hold.
type AssertionError struct {
	Msg string
}

func (e *AssertionError) Error() string { return e.Msg }

// Failf returns an AssertionError.
func Failf(format string, args ...interface{}) error {
	return &AssertionError{Msg: fmt.Sprintf(format, args...)}
}

// SkipError ends a case without a verdict.
type SkipError struct {
	Reason string
}

func (e *SkipError) Error() string { return "skipped: " + e.Reason }

// Skipf returns a SkipError.
func Skipf(format string, args ...interface{}) error {
	return &SkipError{Reason: fmt.Sprintf(format, args...)}
}

// classify maps the error returned by a case to its result.
func classify(err error) Result {
	if err == nil {
		return ResultPassed
	}
	var ae *AssertionError
	var se *SkipError
	var ce *motion.ConfigError
	switch {
	case errors.As(err, &ae):
		return ResultFailed
	case errors.As(err, &se), errors.As(err, &ce):
		return ResultSkipped
	default:
		return ResultError
	}
}
