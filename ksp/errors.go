package ksp

import (
	"errors"
	"fmt"
)

// Code classifies solver failures. The values follow the error numbering of
// the PETSc family of solvers so codes read the same in logs.
type Code int

const (
	CodeWrongArgument Code = 62
	CodeZeroPivot     Code = 71
	CodeWrongState    Code = 73
	CodeUnknownType   Code = 86
	CodeNotConverged  Code = 91
	// CodeUnavailable marks a requested capability, such as an external
	// factorization package, that this build does not provide. Callers may
	// treat it as a soft condition.
	CodeUnavailable Code = 92
)

// Error is a solver failure with its code. Errors match with errors.Is by
// code alone.
type Error struct {
	Code Code
	Msg  string
}

func (e *Error) Error() string {
	return fmt.Sprintf("ksp: %s (code %d)", e.Msg, e.Code)
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

var (
	ErrUnavailable  = &Error{Code: CodeUnavailable, Msg: "capability unavailable"}
	ErrNotConverged = &Error{Code: CodeNotConverged, Msg: "not converged"}
	ErrZeroPivot    = &Error{Code: CodeZeroPivot, Msg: "zero pivot"}
)

func newError(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Msg: fmt.Sprintf(format, args...)}
}

// IsUnavailable reports whether err signals a missing capability rather
// than a hard failure
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}

// CodeOf returns the code of a solver error anywhere in err's chain
func CodeOf(err error) (Code, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Code, true
	}
	return 0, false
}
