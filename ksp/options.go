package ksp

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Options configure one Solver. The toml keys match the option names
// accepted by ParseOptions.
type Options struct {
	KSPType             string  `toml:"ksp_type"`
	PCType              string  `toml:"pc_type"`
	FactorSolverType    string  `toml:"pc_factor_mat_solver_type"`
	Rtol                float64 `toml:"ksp_rtol"`
	Atol                float64 `toml:"ksp_atol"`
	MaxIt               int     `toml:"ksp_max_it"`
	Restart             int     `toml:"ksp_gmres_restart"`
	ErrorIfNotConverged bool    `toml:"ksp_error_if_not_converged"`
	Monitor             bool    `toml:"ksp_monitor"`

	// Extra keeps backend specific options that this solver does not use
	Extra map[string]string `toml:"extra"`
}

const (
	KSPPreOnly = "preonly"
	KSPGMRES   = "gmres"
	KSPCG      = "cg"

	PCLU     = "lu"
	PCJacobi = "jacobi"
	PCNone   = "none"
)

// Factorization packages this build provides. Others are reported with
// CodeUnavailable when a solve needs them.
var factorPackages = map[string]bool{"": true, "gonum": true, "petsc": true}

func DefaultOptions() Options {
	return Options{
		KSPType: KSPPreOnly,
		PCType:  PCLU,
		Rtol:    1e-8,
		Atol:    1e-50,
		MaxIt:   10000,
		Restart: 30,
	}
}

// withDefaults fills zero fields from DefaultOptions
func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.KSPType == "" {
		o.KSPType = d.KSPType
	}
	if o.PCType == "" {
		o.PCType = d.PCType
		if o.KSPType != KSPPreOnly {
			o.PCType = PCJacobi
		}
	}
	if o.Rtol == 0 {
		o.Rtol = d.Rtol
	}
	if o.Atol == 0 {
		o.Atol = d.Atol
	}
	if o.MaxIt == 0 {
		o.MaxIt = d.MaxIt
	}
	if o.Restart == 0 {
		o.Restart = d.Restart
	}
	return o
}

func (o Options) validate() error {
	switch o.KSPType {
	case KSPPreOnly, KSPGMRES, KSPCG:
	default:
		return newError(CodeUnknownType, "unknown ksp_type %q", o.KSPType)
	}
	switch o.PCType {
	case PCLU, PCJacobi, PCNone:
	default:
		return newError(CodeUnknownType, "unknown pc_type %q", o.PCType)
	}
	switch {
	case o.Rtol < 0 || o.Atol < 0:
		return newError(CodeWrongArgument, "negative tolerance")
	case o.MaxIt < 1:
		return newError(CodeWrongArgument, "ksp_max_it %d", o.MaxIt)
	case o.Restart < 1:
		return newError(CodeWrongArgument, "ksp_gmres_restart %d", o.Restart)
	}
	return nil
}

// ParseOptions decodes a map of PETSc style option names. Values may be
// strings, numbers or booleans. Unknown keys are kept in Extra.
func ParseOptions(m map[string]any) (Options, error) {
	var o Options
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, key := range keys {
		v := m[key]
		var err error
		switch strings.TrimPrefix(key, "-") {
		case "ksp_type":
			o.KSPType = fmt.Sprint(v)
		case "pc_type":
			o.PCType = fmt.Sprint(v)
		case "pc_factor_mat_solver_type":
			o.FactorSolverType = fmt.Sprint(v)
		case "ksp_rtol":
			o.Rtol, err = toFloat(v)
		case "ksp_atol":
			o.Atol, err = toFloat(v)
		case "ksp_max_it":
			o.MaxIt, err = toInt(v)
		case "ksp_gmres_restart":
			o.Restart, err = toInt(v)
		case "ksp_error_if_not_converged":
			o.ErrorIfNotConverged, err = toBool(v)
		case "ksp_monitor":
			o.Monitor, err = toBool(v)
		default:
			if o.Extra == nil {
				o.Extra = make(map[string]string)
			}
			o.Extra[key] = fmt.Sprint(v)
		}
		if err != nil {
			return Options{}, fmt.Errorf("option %s: %w", key, err)
		}
	}
	return o, nil
}

func toFloat(v any) (float64, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case float32:
		return float64(x), nil
	case int:
		return float64(x), nil
	case int64:
		return float64(x), nil
	case string:
		return strconv.ParseFloat(x, 64)
	}
	return 0, fmt.Errorf("cannot use %T as a number", v)
}

func toInt(v any) (int, error) {
	switch x := v.(type) {
	case int:
		return x, nil
	case int64:
		return int(x), nil
	case float64:
		if x != float64(int(x)) {
			return 0, fmt.Errorf("%v is not an integer", x)
		}
		return int(x), nil
	case string:
		return strconv.Atoi(x)
	}
	return 0, fmt.Errorf("cannot use %T as an integer", v)
}

func toBool(v any) (bool, error) {
	switch x := v.(type) {
	case bool:
		return x, nil
	case int:
		return x != 0, nil
	case int64:
		return x != 0, nil
	case float64:
		return x != 0, nil
	case string:
		return strconv.ParseBool(x)
	}
	return false, fmt.Errorf("cannot use %T as a flag", v)
}
