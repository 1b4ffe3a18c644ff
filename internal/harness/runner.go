package harness

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"axisverify/internal/clock"
	"axisverify/internal/motion"
	"axisverify/internal/pv"
	"axisverify/pkg/logging"
)

const subsystem = "Harness"

// teardownTimeout bounds the cleanup of one case, independently of the
// case and run deadlines.
const teardownTimeout = 5 * time.Minute

// restoreOrder is the order snapshotted settings are written back in:
// frame settings before limits, velocity bounds before velocities.
var restoreOrder = []pv.Variable{
	pv.MRES, pv.DIR, pv.OFF, pv.DLLM, pv.DHLM, pv.HLM, pv.LLM, pv.ACCL,
	pv.VBAS, pv.VMAX, pv.VELO, pv.JVEL, pv.HVEL, pv.TWV, pv.BDST, pv.JOGF, pv.JOGR,
}

// RunnerOptions wires a Runner to an axis controller.
type RunnerOptions struct {
	Accessor  pv.Accessor
	Naming    pv.Naming
	Clock     clock.Clock
	Reporter  Reporter
	Confirmer Confirmer
	Status    StatusSources

	// Tracker timing; zero values keep the motion defaults
	PollInterval   time.Duration
	StartWindow    time.Duration
	RoundingMargin time.Duration
}

// runner implements the Runner interface
type runner struct {
	session   *pv.Session
	naming    pv.Naming
	clock     clock.Clock
	reporter  Reporter
	confirmer Confirmer
	status    StatusSources
	opts      RunnerOptions

	reportMu sync.Mutex
}

// NewRunner creates a runner. All axes share one session on the accessor.
func NewRunner(opts RunnerOptions) Runner {
	r := &runner{
		session:   pv.NewSession(opts.Accessor),
		naming:    opts.Naming,
		clock:     opts.Clock,
		reporter:  opts.Reporter,
		confirmer: opts.Confirmer,
		status:    opts.Status,
		opts:      opts,
	}
	if r.clock == nil {
		r.clock = clock.System()
	}
	if r.reporter == nil {
		r.reporter = NewQuietReporter(nil)
	}
	if r.confirmer == nil {
		r.confirmer = AutoConfirm{}
	}
	if r.status.Motor.Layout == nil || r.status.Drive.Layout == nil {
		r.status = DefaultStatusSources()
	}
	return r
}

func (r *runner) newTracker() *motion.Tracker {
	t := motion.NewTracker(r.clock)
	if r.opts.PollInterval > 0 {
		t.Interval = r.opts.PollInterval
	}
	if r.opts.StartWindow > 0 {
		t.StartWindow = r.opts.StartWindow
	}
	if r.opts.RoundingMargin > 0 {
		t.RoundingMargin = r.opts.RoundingMargin
	}
	return t
}

func (r *runner) report(fn func(Reporter)) {
	r.reportMu.Lock()
	defer r.reportMu.Unlock()
	fn(r.reporter)
}

// Run executes cases on every configured axis
func (r *runner) Run(ctx context.Context, config Configuration, cases []Case) (*SuiteResult, error) {
	if err := ValidateConfiguration(config); err != nil {
		return nil, err
	}
	if config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, config.Timeout)
		defer cancel()
	}

	result := &SuiteResult{
		RunID:         uuid.NewString(),
		StartTime:     r.clock.Now(),
		CaseResults:   make([]CaseResult, 0, len(cases)*len(config.Axes)),
		Configuration: config,
	}

	r.report(func(rep Reporter) { rep.ReportStart(config) })

	if len(cases) > 0 {
		for _, axisResults := range r.runAxesParallel(ctx, config, cases) {
			for _, cr := range axisResults {
				result.CaseResults = append(result.CaseResults, cr)
				r.updateCounters(result, cr)
			}
		}
	}

	result.EndTime = r.clock.Now()
	result.Duration = result.EndTime.Sub(result.StartTime)

	r.report(func(rep Reporter) { rep.ReportSuiteResult(*result) })
	return result, nil
}

// runAxesParallel verifies axes with a bounded worker pool. Results are
// returned in the configured axis order.
func (r *runner) runAxesParallel(ctx context.Context, config Configuration, cases []Case) [][]CaseResult {
	results := make([][]CaseResult, len(config.Axes))
	axisChan := make(chan int, len(config.Axes))
	for i := range config.Axes {
		axisChan <- i
	}
	close(axisChan)

	numWorkers := config.Parallel
	if numWorkers > len(config.Axes) {
		numWorkers = len(config.Axes)
	}
	if numWorkers < 1 {
		numWorkers = 1
	}

	var wg sync.WaitGroup
	for w := 0; w < numWorkers; w++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			for i := range axisChan {
				logging.Debug(subsystem, "Worker %d verifying axis %s", workerID, config.Axes[i])
				results[i] = r.runAxis(ctx, config, config.Axes[i], cases)
			}
		}(w)
	}
	wg.Wait()
	return results
}

// runAxis runs cases one after the other on a single axis.
func (r *runner) runAxis(ctx context.Context, config Configuration, axis string, cases []Case) []CaseResult {
	prefix := pv.AxisPrefix(config.Device, axis)
	rec := pv.NewRecord(r.session, prefix, r.naming)
	results := make([]CaseResult, 0, len(cases))

	notRun := func(rest []Case, res Result, reason string) {
		for _, c := range rest {
			now := r.clock.Now()
			cr := CaseResult{Axis: prefix, Case: c, Result: res, StartTime: now, EndTime: now, Error: reason}
			r.report(func(rep Reporter) { rep.ReportCaseResult(cr) })
			results = append(results, cr)
		}
	}

	defaults, err := CaptureDefaults(ctx, rec)
	if err != nil {
		logging.Error(subsystem, err, "Cannot verify %s", prefix)
		notRun(cases, ResultError, err.Error())
		return results
	}
	logging.Info(subsystem, "%s: limits [%g, %g], middle %g, step %g, velocity %g",
		prefix, defaults.LowLimit, defaults.HighLimit, defaults.Middle, defaults.Step, defaults.Velocity)

	for i, c := range cases {
		if err := ctx.Err(); err != nil {
			notRun(cases[i:], ResultError, fmt.Sprintf("not run: %v", err))
			break
		}
		cr := r.runCase(ctx, config, prefix, rec, defaults, c)
		results = append(results, cr)
		r.report(func(rep Reporter) { rep.ReportCaseResult(cr) })

		if config.FailFast && (cr.Result == ResultFailed || cr.Result == ResultError) {
			notRun(cases[i+1:], ResultSkipped, fmt.Sprintf("not run: fail-fast after %s", c.ID))
			break
		}
	}
	return results
}

// setupError marks a failure to establish a precondition. A precondition
// that does not hold is an execution error of the case, not a verdict.
type setupError struct {
	precondition Precondition
	err          error
}

func (e *setupError) Error() string {
	return fmt.Sprintf("setup %s: %v", e.precondition, e.err)
}

func (e *setupError) Unwrap() error { return e.err }

func classifyCase(err error) Result {
	var se *setupError
	if errors.As(err, &se) && classify(se.err) == ResultFailed {
		return ResultError
	}
	return classify(err)
}

// runCase executes a single case: setup, body and a teardown that always
// runs once the settings have been snapshotted.
func (r *runner) runCase(ctx context.Context, config Configuration, axis string, rec *pv.Record, defaults Defaults, c Case) CaseResult {
	result := CaseResult{
		Axis:      axis,
		Case:      c,
		StartTime: r.clock.Now(),
		Result:    ResultPassed,
	}
	finish := func() CaseResult {
		result.EndTime = r.clock.Now()
		result.Duration = result.EndTime.Sub(result.StartTime)
		return result
	}

	r.report(func(rep Reporter) { rep.ReportCaseStart(axis, c) })

	caseCtx := ctx
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = config.CaseTimeout
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		caseCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	if c.Destructive && config.Prompt {
		ok, err := r.confirmer.Confirm(caseCtx, axis, c)
		if err != nil {
			result.Result = ResultError
			result.Error = fmt.Sprintf("confirmation failed: %v", err)
			return finish()
		}
		if !ok {
			result.Result = ResultSkipped
			result.Error = "declined by operator"
			return finish()
		}
	}

	env := &Env{
		Axis:     rec,
		Defaults: defaults,
		Tracker:  r.newTracker(),
		Clock:    r.clock,
		Status:   r.status,
		Config:   config,
	}

	settings := restoreVars(c.Mutates)
	var snap pv.Snapshot
	if len(settings) > 0 {
		var err error
		if snap, err = rec.Read(caseCtx, settings...); err != nil {
			result.Result = ResultError
			result.Error = fmt.Sprintf("snapshot settings: %v", err)
			return finish()
		}
	}
	mode, err := rec.Get(caseCtx, pv.SPMG)
	if err != nil {
		result.Result = ResultError
		result.Error = fmt.Sprintf("snapshot mode: %v", err)
		return finish()
	}

	if err := r.execute(caseCtx, env, c); err != nil {
		result.Result = classifyCase(err)
		result.Error = err.Error()
		logging.Debug(subsystem, "%s %s: %s: %v", axis, c.ID, result.Result, err)
	}

	result.Warnings = r.teardown(ctx, env, snap, mode)
	for _, w := range result.Warnings {
		logging.Warn(subsystem, "%s %s teardown: %s", axis, c.ID, w)
	}
	result.Motions = env.motions
	return finish()
}

func (r *runner) execute(ctx context.Context, env *Env, c Case) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic in case %s: %v", c.ID, p)
		}
	}()
	for _, p := range c.Preconditions {
		if err := env.establish(ctx, p); err != nil {
			if classify(err) == ResultSkipped {
				return err
			}
			return &setupError{precondition: p, err: err}
		}
	}
	if c.Run == nil {
		return fmt.Errorf("case %s has no body", c.ID)
	}
	return c.Run(ctx, env)
}

// teardown stops the axis, re-enables it, restores the snapshotted
// settings and returns it to the middle of its range. Every step is
// attempted; failures come back as warnings.
func (r *runner) teardown(parent context.Context, env *Env, snap pv.Snapshot, mode float64) []string {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), teardownTimeout)
	defer cancel()

	var warnings []string
	warn := func(step string, err error) {
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("%s: %v", step, err))
		}
	}

	warn("stop", env.Axis.Trigger(ctx, pv.STOP))

	state, err := env.Get(ctx, pv.AxisState)
	warn("read axis state", err)
	if err == nil && state == pv.StateDisabled {
		warn("activate", env.Axis.Trigger(ctx, pv.Activate))
	}

	warn("restore settings", env.Axis.Restore(ctx, snap))

	warn("go mode", env.Put(ctx, pv.SPMG, pv.ModeGo))
	if pos, err := env.Get(ctx, pv.RBV); err != nil {
		warn("read position", err)
	} else if math.Abs(pos-env.Defaults.Middle) > env.Tolerance() {
		out, err := env.MoveTo(ctx, env.Defaults.Middle)
		warn("return to middle", err)
		if err == nil && !out.Settled() {
			warnings = append(warnings, fmt.Sprintf("return to middle: %s", out))
		}
	}

	if current, err := env.Get(ctx, pv.SPMG); err != nil || current != mode {
		warn("restore mode", env.Put(ctx, pv.SPMG, mode))
	}
	return warnings
}

// restoreVars orders the mutated settings for restoring. The mode is
// handled separately by teardown.
func restoreVars(mutates []pv.Variable) []pv.Variable {
	want := make(map[pv.Variable]bool, len(mutates))
	for _, v := range mutates {
		if v != pv.SPMG {
			want[v] = true
		}
	}
	out := make([]pv.Variable, 0, len(want))
	for _, v := range restoreOrder {
		if want[v] {
			out = append(out, v)
			delete(want, v)
		}
	}
	for _, v := range mutates {
		if want[v] {
			out = append(out, v)
			delete(want, v)
		}
	}
	return out
}

// updateCounters updates the result counters based on a case result
func (r *runner) updateCounters(suite *SuiteResult, cr CaseResult) {
	suite.TotalCases++
	switch cr.Result {
	case ResultPassed:
		suite.PassedCases++
	case ResultFailed:
		suite.FailedCases++
	case ResultSkipped:
		suite.SkippedCases++
	case ResultError:
		suite.ErrorCases++
	}
}
