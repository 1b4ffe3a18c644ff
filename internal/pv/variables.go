package pv

import (
	"fmt"
	"sort"
	"strings"
)

// Variable identifies one remote variable of an axis independently of how
// the controller names it.
type Variable string

// Motor record fields.
const (
	VAL  Variable = "VAL"  // user set point
	DVAL Variable = "DVAL" // dial set point
	RBV  Variable = "RBV"  // user readback
	DRBV Variable = "DRBV" // dial readback
	RMP  Variable = "RMP"  // raw motor position
	DMOV Variable = "DMOV" // done moving
	MOVN Variable = "MOVN" // moving
	MSTA Variable = "MSTA" // motor status word
	LVIO Variable = "LVIO" // limit violation
	HLM  Variable = "HLM"
	LLM  Variable = "LLM"
	DHLM Variable = "DHLM"
	DLLM Variable = "DLLM"
	VELO Variable = "VELO"
	JVEL Variable = "JVEL"
	HVEL Variable = "HVEL"
	ACCL Variable = "ACCL"
	VBAS Variable = "VBAS"
	VMAX Variable = "VMAX"
	TWV  Variable = "TWV"
	TWF  Variable = "TWF"
	TWR  Variable = "TWR"
	JOGF Variable = "JOGF"
	JOGR Variable = "JOGR"
	HOMF Variable = "HOMF"
	HOMR Variable = "HOMR"
	STOP Variable = "STOP"
	SPMG Variable = "SPMG"
	BDST Variable = "BDST"
	DIR  Variable = "DIR"
	MRES Variable = "MRES"
	OFF  Variable = "OFF"
)

// Controller specific variables living next to the motor record.
const (
	Kill      Variable = "KILL"
	Activate  Variable = "ACTIVATE"
	AxisState Variable = "AXIS_STS"
	DriveWord Variable = "DRIVE_STS"
	ActualVel Variable = "ACT_VL"
)

// SPMG modes.
const (
	ModeStop  = 0
	ModePause = 1
	ModeMove  = 2
	ModeGo    = 3
)

// General axis states reported by AxisState.
const (
	StateNotPositioned = 0
	StatePositioned    = 1
	StateDisabled      = 9
)

var defaultSuffixes = map[Variable]string{
	Kill:      "_KILL_MOTOR_CMD.PROC",
	Activate:  "_ACTIVATE_CMD.PROC",
	AxisState: "_AXIS_STS",
	DriveWord: "_DRIVE_STS",
	ActualVel: "_ACT_VL_MON",
}

// Fields lists every motor record field known to axisverify.
var Fields = []Variable{
	VAL, DVAL, RBV, DRBV, RMP, DMOV, MOVN, MSTA, LVIO, HLM, LLM, DHLM, DLLM,
	VELO, JVEL, HVEL, ACCL, VBAS, VMAX, TWV, TWF, TWR, JOGF, JOGR, HOMF, HOMR,
	STOP, SPMG, BDST, DIR, MRES, OFF,
}

// Naming maps variables to the suffix appended to an axis prefix.
type Naming struct {
	overrides map[Variable]string
}

// NewNaming returns the default naming with the given suffix overrides.
// Override keys are matched case-insensitively.
func NewNaming(overrides map[string]string) Naming {
	n := Naming{overrides: make(map[Variable]string, len(overrides))}
	for k, v := range overrides {
		n.overrides[Variable(strings.ToUpper(k))] = v
	}
	return n
}

// Suffix returns the suffix for v.
func (n Naming) Suffix(v Variable) string {
	if s, ok := n.overrides[v]; ok {
		return s
	}
	if s, ok := defaultSuffixes[v]; ok {
		return s
	}
	return "." + string(v)
}

// Name returns the full variable name for prefix.
func (n Naming) Name(prefix string, v Variable) string {
	return prefix + n.Suffix(v)
}

// Resolve splits a full variable name into the prefix and variable it
// addresses. Longer suffixes win so that "_AXIS_STS" is never mistaken for
// a field.
func (n Naming) Resolve(name string) (prefix string, v Variable, err error) {
	type candidate struct {
		v      Variable
		suffix string
	}
	var cands []candidate
	for _, f := range Fields {
		cands = append(cands, candidate{f, n.Suffix(f)})
	}
	for _, x := range []Variable{Kill, Activate, AxisState, DriveWord, ActualVel} {
		cands = append(cands, candidate{x, n.Suffix(x)})
	}
	sort.SliceStable(cands, func(i, j int) bool {
		return len(cands[i].suffix) > len(cands[j].suffix)
	})
	for _, c := range cands {
		if c.suffix != "" && strings.HasSuffix(name, c.suffix) && len(name) > len(c.suffix) {
			return strings.TrimSuffix(name, c.suffix), c.v, nil
		}
	}
	return "", "", fmt.Errorf("%w: %s", ErrUnknownVariable, name)
}

// AxisPrefix joins a device and an axis identifier the way the controller
// names its records.
func AxisPrefix(device, axis string) string {
	if device == "" {
		return axis
	}
	return device + ":" + axis
}
