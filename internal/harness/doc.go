// Package harness verifies motion axes against a catalog of cases.
//
// A Runner captures the settings of every configured axis once, then runs
// the selected cases axis by axis. Each case goes through three phases:
//
//   - Setup snapshots the settings the case mutates and establishes its
//     preconditions, such as sitting in the middle of the soft range.
//   - Execute runs the case body, which issues motions, tracks them and
//     asserts on readbacks, status words and limit envelopes.
//   - Teardown always runs. It stops the axis, re-enables it, restores the
//     snapshot and returns to the middle. Problems become warnings.
//
// Case bodies report through their error: AssertionError fails the case,
// SkipError and motion.ConfigError skip it, anything else is an error.
//
// Axes run concurrently up to Configuration.Parallel and share one
// remote variable session. Reporters receive serialized calls.
package harness
