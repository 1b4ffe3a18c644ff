package harness

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"

	"axisverify/internal/pv"
)

// Defaults are the settings of one axis captured once at the start of a
// run. Cases derive their targets from them instead of from whatever the
// previous case left behind.
type Defaults struct {
	LowLimit      float64 `json:"lowLimit"`
	HighLimit     float64 `json:"highLimit"`
	DialLowLimit  float64 `json:"dialLowLimit"`
	DialHighLimit float64 `json:"dialHighLimit"`
	Velocity      float64 `json:"velocity"`
	JogVelocity   float64 `json:"jogVelocity"`
	HomeVelocity  float64 `json:"homeVelocity"`
	Acceleration  float64 `json:"acceleration"`
	BaseVelocity  float64 `json:"baseVelocity"`
	MaxVelocity   float64 `json:"maxVelocity"`
	TweakStep     float64 `json:"tweakStep"`
	Resolution    float64 `json:"resolution"`
	Offset        float64 `json:"offset"`
	Backlash      float64 `json:"backlash"`
	Direction     float64 `json:"direction"`
	Mode          float64 `json:"mode"`
	Position      float64 `json:"position"`

	// Places is the number of decimals of the resolution.
	Places int `json:"places"`
	// Middle is the user frame midpoint of the soft limits, rounded to
	// Places.
	Middle float64 `json:"middle"`
	// DialMiddle is the dial frame midpoint rounded to an integer.
	DialMiddle float64 `json:"dialMiddle"`
	// Step is a quarter of the user range, rounded to Places.
	Step float64 `json:"step"`
}

var defaultVars = []pv.Variable{
	pv.LLM, pv.HLM, pv.DLLM, pv.DHLM, pv.VELO, pv.JVEL, pv.HVEL, pv.ACCL,
	pv.VBAS, pv.VMAX, pv.TWV, pv.MRES, pv.OFF, pv.BDST, pv.DIR, pv.SPMG, pv.RBV,
}

// CaptureDefaults reads the settings of rec.
func CaptureDefaults(ctx context.Context, rec *pv.Record) (Defaults, error) {
	snap, err := rec.Read(ctx, defaultVars...)
	if err != nil {
		return Defaults{}, fmt.Errorf("capture defaults of %s: %w", rec.Prefix(), err)
	}
	v := func(x pv.Variable) float64 {
		f, _ := snap.Value(x)
		return f
	}
	d := Defaults{
		LowLimit:      v(pv.LLM),
		HighLimit:     v(pv.HLM),
		DialLowLimit:  v(pv.DLLM),
		DialHighLimit: v(pv.DHLM),
		Velocity:      v(pv.VELO),
		JogVelocity:   v(pv.JVEL),
		HomeVelocity:  v(pv.HVEL),
		Acceleration:  v(pv.ACCL),
		BaseVelocity:  v(pv.VBAS),
		MaxVelocity:   v(pv.VMAX),
		TweakStep:     v(pv.TWV),
		Resolution:    v(pv.MRES),
		Offset:        v(pv.OFF),
		Backlash:      v(pv.BDST),
		Direction:     v(pv.DIR),
		Mode:          v(pv.SPMG),
		Position:      v(pv.RBV),
	}
	d.Places = decimalPlaces(d.Resolution)
	d.Middle = roundTo(d.HighLimit-(d.HighLimit-d.LowLimit)/2, d.Places)
	d.DialMiddle = math.Round((d.DialLowLimit + d.DialHighLimit) / 2)
	d.Step = roundTo((d.HighLimit-d.LowLimit)/4, d.Places)
	return d, nil
}

// LimitsEnabled reports whether the captured soft limits are in force.
func (d Defaults) LimitsEnabled() bool {
	return d.LowLimit != d.HighLimit
}

// decimalPlaces counts the decimals of x without trailing zeros.
func decimalPlaces(x float64) int {
	s := strconv.FormatFloat(math.Abs(x), 'f', -1, 64)
	i := strings.IndexByte(s, '.')
	if i < 0 {
		return 0
	}
	return len(s) - i - 1
}

func roundTo(x float64, places int) float64 {
	p := math.Pow10(places)
	return math.Round(x*p) / p
}
