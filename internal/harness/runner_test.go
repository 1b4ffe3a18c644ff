package harness

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"axisverify/internal/axissim"
	"axisverify/internal/clock"
	"axisverify/internal/pv"
)

// simRig is a runner wired to simulated axes on a manual clock.
type simRig struct {
	ctrl   *axissim.Controller
	clk    *clock.Manual
	naming pv.Naming
	report *recordingReporter
}

func newSimRig(t *testing.T, axes ...string) *simRig {
	t.Helper()
	naming := pv.NewNaming(nil)
	clk := clock.NewManual(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	ctrl := axissim.NewController(clk, naming)
	for _, a := range axes {
		ctrl.AddAxis(pv.AxisPrefix("IOC", a), axissim.DefaultAxisConfig())
	}
	return &simRig{ctrl: ctrl, clk: clk, naming: naming, report: &recordingReporter{}}
}

func (r *simRig) runner(confirmer Confirmer) Runner {
	return NewRunner(RunnerOptions{
		Accessor:  r.ctrl,
		Naming:    r.naming,
		Clock:     r.clk,
		Reporter:  r.report,
		Confirmer: confirmer,
	})
}

func (r *simRig) record(axis string) *pv.Record {
	return pv.NewRecord(r.ctrl, pv.AxisPrefix("IOC", axis), r.naming)
}

func testConfig(axes ...string) Configuration {
	cfg := DefaultConfiguration()
	cfg.Axes = axes
	cfg.Timeout = time.Minute
	cfg.CaseTimeout = 0
	return cfg
}

// recordingReporter keeps every call for inspection.
type recordingReporter struct {
	mu      sync.Mutex
	started []string
	results []CaseResult
	suite   *SuiteResult
}

func (r *recordingReporter) ReportStart(Configuration) {}

func (r *recordingReporter) ReportCaseStart(axis string, c Case) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started = append(r.started, axis+" "+c.ID)
}

func (r *recordingReporter) ReportCaseResult(cr CaseResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, cr)
}

func (r *recordingReporter) ReportSuiteResult(s SuiteResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.suite = &s
}

type fixedConfirmer bool

func (f fixedConfirmer) Confirm(context.Context, string, Case) (bool, error) { return bool(f), nil }

func resultsByID(results []CaseResult) map[string]CaseResult {
	out := make(map[string]CaseResult, len(results))
	for _, r := range results {
		out[r.Case.ID] = r
	}
	return out
}

func TestRunner_CatalogPassesOnSimulatedAxis(t *testing.T) {
	rig := newSimRig(t, "m1")
	cases := Catalog()

	suite, err := rig.runner(nil).Run(context.Background(), testConfig("m1"), cases)
	require.NoError(t, err)

	for _, cr := range suite.CaseResults {
		assert.Equal(t, ResultPassed, cr.Result, "%s: %s", cr.Case.ID, cr.Error)
		assert.Empty(t, cr.Warnings, cr.Case.ID)
	}
	assert.Equal(t, len(cases), suite.TotalCases)
	assert.Equal(t, len(cases), suite.PassedCases)
	assert.True(t, suite.Succeeded())
	assert.NotEmpty(t, suite.RunID)
	assert.Greater(t, suite.Duration, time.Duration(0))

	require.NotNil(t, rig.report.suite)
	assert.Len(t, rig.report.results, len(cases))
	assert.Len(t, rig.report.started, len(cases))

	// every case left the axis as it found it
	rec := rig.record("m1")
	ctx := context.Background()
	for v, want := range map[pv.Variable]float64{
		pv.DLLM: 0, pv.DHLM: 100, pv.VELO: 10, pv.VBAS: 1, pv.VMAX: 50,
		pv.TWV: 1, pv.SPMG: pv.ModeGo, pv.RBV: 50, pv.AxisState: pv.StatePositioned,
		pv.DIR: 0, pv.OFF: 0, pv.MRES: 0.01, pv.ACCL: 0.1, pv.BDST: 0,
		pv.LLM: 0, pv.HLM: 100,
	} {
		got, err := rec.Get(ctx, v)
		require.NoError(t, err)
		assert.Equal(t, want, got, string(v))
	}
}

func TestRunner_RecordsMotions(t *testing.T) {
	rig := newSimRig(t, "m1")
	cases, err := FilterCases(Catalog(), []string{"high-soft-limit"}, nil)
	require.NoError(t, err)

	suite, err := rig.runner(nil).Run(context.Background(), testConfig("m1"), cases)
	require.NoError(t, err)
	require.Len(t, suite.CaseResults, 1)

	cr := suite.CaseResults[0]
	require.Equal(t, ResultPassed, cr.Result, cr.Error)
	// precondition move to the middle, the jog
	require.NotEmpty(t, cr.Motions)
	found := false
	for _, m := range cr.Motions {
		if strings.HasPrefix(m.Intent, "jog-forward") {
			found = true
			assert.Equal(t, 100.0, m.Position)
			assert.Contains(t, m.Outcome, "completed")
		}
	}
	assert.True(t, found, "jog not recorded: %+v", cr.Motions)
}

func TestRunner_Classification(t *testing.T) {
	rig := newSimRig(t, "m1")
	cases := []Case{
		{ID: "passes", Run: func(ctx context.Context, env *Env) error { return nil }},
		{ID: "fails", Run: func(ctx context.Context, env *Env) error { return Failf("nope") }},
		{ID: "skips", Run: func(ctx context.Context, env *Env) error { return Skipf("not today") }},
		{ID: "errors", Run: func(ctx context.Context, env *Env) error {
			_, err := env.Get(ctx, pv.Variable("NOPE"))
			return err
		}},
		{ID: "panics", Run: func(ctx context.Context, env *Env) error { panic("boom") }},
		{ID: "no-body"},
	}

	suite, err := rig.runner(nil).Run(context.Background(), testConfig("m1"), cases)
	require.NoError(t, err)

	got := resultsByID(suite.CaseResults)
	assert.Equal(t, ResultPassed, got["passes"].Result)
	assert.Equal(t, ResultFailed, got["fails"].Result)
	assert.Equal(t, "nope", got["fails"].Error)
	assert.Equal(t, ResultSkipped, got["skips"].Result)
	assert.Equal(t, ResultError, got["errors"].Result)
	assert.Contains(t, got["errors"].Error, "unknown remote variable")
	assert.Equal(t, ResultError, got["panics"].Result)
	assert.Contains(t, got["panics"].Error, "boom")
	assert.Equal(t, ResultError, got["no-body"].Result)

	assert.Equal(t, 6, suite.TotalCases)
	assert.Equal(t, 1, suite.PassedCases)
	assert.Equal(t, 1, suite.FailedCases)
	assert.Equal(t, 1, suite.SkippedCases)
	assert.Equal(t, 3, suite.ErrorCases)
	assert.False(t, suite.Succeeded())
}

func TestRunner_SetupFailureIsError(t *testing.T) {
	rig := newSimRig(t, "m1")
	// the axis cannot reach the middle while disabled
	a, ok := rig.ctrl.Axis("IOC:m1")
	require.True(t, ok)
	require.NoError(t, a.Put(pv.Kill, 1))

	cases := []Case{{
		ID:            "needs-middle",
		Preconditions: []Precondition{AtMiddle},
		Run:           func(ctx context.Context, env *Env) error { return nil },
	}}
	suite, err := rig.runner(nil).Run(context.Background(), testConfig("m1"), cases)
	require.NoError(t, err)
	require.Len(t, suite.CaseResults, 1)
	assert.Equal(t, ResultError, suite.CaseResults[0].Result)
	assert.Contains(t, suite.CaseResults[0].Error, "setup at-middle")
}

func TestRunner_SoftLimitsDisabledSkips(t *testing.T) {
	rig := newSimRig(t)
	cfg := axissim.DefaultAxisConfig()
	cfg.LowLimit, cfg.HighLimit = 0, 0
	rig.ctrl.AddAxis("IOC:m1", cfg)

	cases, err := FilterCases(Catalog(), []string{"high-soft-limit"}, nil)
	require.NoError(t, err)
	suite, err := rig.runner(nil).Run(context.Background(), testConfig("m1"), cases)
	require.NoError(t, err)
	require.Len(t, suite.CaseResults, 1)
	assert.Equal(t, ResultSkipped, suite.CaseResults[0].Result)
}

func TestRunner_LimitSwitchInsideSoftRangeFails(t *testing.T) {
	rig := newSimRig(t)
	cfg := axissim.DefaultAxisConfig()
	cfg.HighHardLimit = 90
	rig.ctrl.AddAxis("IOC:m1", cfg)

	cases, err := FilterCases(Catalog(), []string{"high-limit-switch"}, nil)
	require.NoError(t, err)
	suite, err := rig.runner(nil).Run(context.Background(), testConfig("m1"), cases)
	require.NoError(t, err)
	require.Len(t, suite.CaseResults, 1)
	assert.Equal(t, ResultFailed, suite.CaseResults[0].Result)
	assert.Contains(t, suite.CaseResults[0].Error, "inside the soft range")
}

func TestRunner_FailFastSkipsRemainingCases(t *testing.T) {
	rig := newSimRig(t, "m1")
	ran := false
	cases := []Case{
		{ID: "fails", Run: func(ctx context.Context, env *Env) error { return Failf("nope") }},
		{ID: "later", Run: func(ctx context.Context, env *Env) error { ran = true; return nil }},
	}
	cfg := testConfig("m1")
	cfg.FailFast = true

	suite, err := rig.runner(nil).Run(context.Background(), cfg, cases)
	require.NoError(t, err)
	got := resultsByID(suite.CaseResults)
	assert.Equal(t, ResultFailed, got["fails"].Result)
	assert.Equal(t, ResultSkipped, got["later"].Result)
	assert.Contains(t, got["later"].Error, "fail-fast")
	assert.False(t, ran)
}

func TestRunner_DestructiveCasesNeedConfirmation(t *testing.T) {
	cases := []Case{{
		ID:          "dangerous",
		Destructive: true,
		Run:         func(ctx context.Context, env *Env) error { return nil },
	}}
	cfg := testConfig("m1")
	cfg.Prompt = true

	declined := newSimRig(t, "m1")
	suite, err := declined.runner(fixedConfirmer(false)).Run(context.Background(), cfg, cases)
	require.NoError(t, err)
	assert.Equal(t, ResultSkipped, suite.CaseResults[0].Result)
	assert.Equal(t, "declined by operator", suite.CaseResults[0].Error)

	accepted := newSimRig(t, "m1")
	suite, err = accepted.runner(fixedConfirmer(false)).Run(context.Background(), testConfig("m1"), cases)
	require.NoError(t, err)
	assert.Equal(t, ResultPassed, suite.CaseResults[0].Result, "no prompt without the toggle")

	suite, err = accepted.runner(fixedConfirmer(true)).Run(context.Background(), cfg, cases)
	require.NoError(t, err)
	assert.Equal(t, ResultPassed, suite.CaseResults[0].Result)
}

func TestRunner_TeardownRestoresSettings(t *testing.T) {
	rig := newSimRig(t, "m1")
	cases := []Case{{
		ID:      "scribbles",
		Mutates: []pv.Variable{pv.VELO, pv.DHLM, pv.SPMG},
		Run: func(ctx context.Context, env *Env) error {
			for v, x := range map[pv.Variable]float64{pv.VELO: 3, pv.DHLM: 20, pv.SPMG: pv.ModePause} {
				if err := env.Put(ctx, v, x); err != nil {
					return err
				}
			}
			return env.Put(ctx, pv.Kill, 1)
		},
	}}

	suite, err := rig.runner(nil).Run(context.Background(), testConfig("m1"), cases)
	require.NoError(t, err)
	cr := suite.CaseResults[0]
	assert.Equal(t, ResultPassed, cr.Result, cr.Error)
	assert.Empty(t, cr.Warnings)

	rec := rig.record("m1")
	for v, want := range map[pv.Variable]float64{
		pv.VELO: 10, pv.DHLM: 100, pv.SPMG: pv.ModeGo, pv.AxisState: pv.StatePositioned, pv.RBV: 50,
	} {
		got, err := rec.Get(context.Background(), v)
		require.NoError(t, err)
		assert.Equal(t, want, got, string(v))
	}
}

func TestRunner_TeardownProblemsAreWarnings(t *testing.T) {
	rig := newSimRig(t, "m1")
	r := rig.runner(nil).(*runner)
	rec := rig.record("m1")
	ctx := context.Background()

	defaults, err := CaptureDefaults(ctx, rec)
	require.NoError(t, err)
	env := &Env{Axis: rec, Defaults: defaults, Tracker: r.newTracker(), Clock: rig.clk, Config: testConfig("m1")}

	// a zero resolution is refused by the controller
	bad, err := pv.NewRecord(constAccessor(0), "S", rig.naming).Read(ctx, pv.MRES)
	require.NoError(t, err)

	warnings := r.teardown(ctx, env, bad, pv.ModeGo)
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "restore settings")

	// the remaining steps still ran
	pos, err := rec.Get(ctx, pv.RBV)
	require.NoError(t, err)
	assert.Equal(t, 50.0, pos)
}

type constAccessor float64

func (c constAccessor) Get(context.Context, string) (float64, error) { return float64(c), nil }
func (c constAccessor) Put(context.Context, string, float64) error   { return nil }

func TestRunner_UnreachableAxisErrorsEveryCase(t *testing.T) {
	rig := newSimRig(t, "m1")
	cases := Catalog()[:3]

	suite, err := rig.runner(nil).Run(context.Background(), testConfig("m9"), cases)
	require.NoError(t, err)
	require.Len(t, suite.CaseResults, 3)
	for _, cr := range suite.CaseResults {
		assert.Equal(t, ResultError, cr.Result)
		assert.Contains(t, cr.Error, "capture defaults of IOC:m9")
	}
}

func TestRunner_ParallelAxesKeepOrder(t *testing.T) {
	rig := newSimRig(t, "m1", "m2", "m3")
	cases, err := FilterCases(Catalog(), []string{"set-to-zero", "motor-statuses"}, nil)
	require.NoError(t, err)
	cfg := testConfig("m1", "m2", "m3")
	cfg.Parallel = 3

	var out bytes.Buffer
	suite, err := NewRunner(RunnerOptions{
		Accessor: rig.ctrl,
		Naming:   rig.naming,
		Clock:    rig.clk,
		Reporter: NewQuietReporter(&out),
	}).Run(context.Background(), cfg, cases)
	require.NoError(t, err)

	require.Len(t, suite.CaseResults, 6)
	var order []string
	for _, cr := range suite.CaseResults {
		assert.Equal(t, ResultPassed, cr.Result, "%s %s: %s", cr.Axis, cr.Case.ID, cr.Error)
		order = append(order, cr.Axis+" "+cr.Case.ID)
	}
	assert.Equal(t, []string{
		"IOC:m1 set-to-zero", "IOC:m1 motor-statuses",
		"IOC:m2 set-to-zero", "IOC:m2 motor-statuses",
		"IOC:m3 set-to-zero", "IOC:m3 motor-statuses",
	}, order)
	assert.Contains(t, out.String(), "All 6 cases passed")
}

func TestRunner_RejectsInvalidConfiguration(t *testing.T) {
	rig := newSimRig(t, "m1")
	_, err := rig.runner(nil).Run(context.Background(), Configuration{Device: "IOC"}, Catalog())
	assert.Error(t, err)
}

func TestRestoreVars(t *testing.T) {
	got := restoreVars([]pv.Variable{pv.VELO, pv.SPMG, pv.Variable("X"), pv.VMAX, pv.VBAS, pv.VELO})
	assert.Equal(t, []pv.Variable{pv.VBAS, pv.VMAX, pv.VELO, pv.Variable("X")}, got)
}
