// Package fem maps variational forms onto distributed vectors and matrices.
//
// A FunctionSpace numbers the degrees of freedom of an element over a mesh
// with an owned/ghost split. Forms bind local kernels to one or two spaces.
// The builders lay out Single, Block and Nest containers for grids of forms
// and the assemblers fill them, lift Dirichlet data into right hand sides and
// overwrite constrained entries. LinearProblem and NonlinearProblem chain
// these steps into reusable drivers.
package fem

import (
	"errors"
)

var (
	// ErrShape reports a ragged form grid, a row or column without any form,
	// or forms that disagree on the space of a row or column
	ErrShape = errors.New("fem: inconsistent form layout")
	// ErrConfiguration reports a constrained block that has nowhere to hold
	// its constraint
	ErrConfiguration = errors.New("fem: invalid configuration")
	// ErrCompile wraps every failure of Compile
	ErrCompile = errors.New("fem: form compilation failed")
)
