package ksp

import (
	"fmt"
	"math"
	"testing"

	"github.com/notargets/DGBlock/comm"
	"github.com/notargets/DGBlock/la"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const rowsPerRank = 5

// laplacian builds the 1D matrix tridiag(-1, 2, -1) with rowsPerRank rows on
// every rank and the right hand side of the solution x_i = i+1
func laplacian(c *comm.Comm) (*la.Matrix, *la.Vector, *la.Vector, error) {
	r, size := c.Rank(), c.Size()
	var ghosts, owners []int
	if r > 0 {
		ghosts, owners = append(ghosts, r*rowsPerRank-1), append(owners, r-1)
	}
	if r < size-1 {
		ghosts, owners = append(ghosts, (r+1)*rowsPerRank), append(owners, r+1)
	}
	im, err := la.NewIndexMap(c, rowsPerRank, ghosts, owners)
	if err != nil {
		return nil, nil, nil, err
	}
	A := la.NewMatrix(im, 1, im, 1)
	local := func(g int) int { return im.GlobalToLocal(g) }
	N := rowsPerRank * size
	for i := 0; i < rowsPerRank; i++ {
		g := r*rowsPerRank + i
		cols := []int{i}
		vals := []float64{2}
		if g > 0 {
			cols, vals = append(cols, local(g-1)), append(vals, -1)
		}
		if g < N-1 {
			cols, vals = append(cols, local(g+1)), append(vals, -1)
		}
		if err := A.AddLocal([]int{i}, cols, vals); err != nil {
			return nil, nil, nil, err
		}
	}
	if err := A.Assemble(la.FinalAssembly); err != nil {
		return nil, nil, nil, err
	}
	b := la.NewVector(im, 1)
	if r == size-1 {
		b.Owned()[rowsPerRank-1] = float64(N + 1)
	}
	return A, b, la.NewVector(im, 1), nil
}

func TestSolver_Configurations(t *testing.T) {
	configs := []Options{
		{KSPType: KSPPreOnly, PCType: PCLU},
		{KSPType: KSPGMRES, PCType: PCJacobi, Rtol: 1e-12},
		{KSPType: KSPGMRES, PCType: PCNone, Rtol: 1e-12, Restart: 3},
		{KSPType: KSPCG, PCType: PCJacobi, Rtol: 1e-12},
		{KSPType: KSPGMRES, PCType: PCLU},
	}
	for _, size := range []int{1, 2, 3} {
		for _, opts := range configs {
			name := fmt.Sprintf("%d ranks %s/%s", size, opts.KSPType, opts.PCType)
			err := comm.Run(size, func(c *comm.Comm) error {
				A, b, x, err := laplacian(c)
				if err != nil {
					return err
				}
				defer A.Destroy()
				defer b.Destroy()
				defer x.Destroy()
				s, err := NewSolver(c, opts, nil)
				if err != nil {
					return err
				}
				defer s.Close()
				s.SetOperators(A)
				if err := s.Solve(b, x); err != nil {
					return err
				}
				start := x.Map().LocalRange()[0]
				for i, v := range x.Owned() {
					if want := float64(start + i + 1); math.Abs(v-want) > 1e-8 {
						return fmt.Errorf("rank %d: x[%d] = %v, want %v", c.Rank(), start+i, v, want)
					}
				}
				return nil
			})
			require.NoError(t, err, name)
		}
	}
	assert.Equal(t, 0, OpenSolvers())
}

func TestSolver_Errors(t *testing.T) {
	_, err := NewSolver(comm.Self(), Options{KSPType: "bicgstab"}, nil)
	code, ok := CodeOf(err)
	require.True(t, ok)
	assert.Equal(t, CodeUnknownType, code)

	err = comm.Run(2, func(c *comm.Comm) error {
		A, b, x, err := laplacian(c)
		if err != nil {
			return err
		}
		defer A.Destroy()
		defer b.Destroy()
		defer x.Destroy()

		s, err := NewSolver(c, Options{PCType: PCLU, FactorSolverType: "mumps"}, nil)
		if err != nil {
			return err
		}
		s.SetOperators(A)
		err = s.Solve(b, x)
		s.Close()
		if !IsUnavailable(err) {
			return fmt.Errorf("mumps: got %v, want unavailable", err)
		}

		s, err = NewSolver(c, Options{KSPType: KSPCG, PCType: PCNone, MaxIt: 1, ErrorIfNotConverged: true}, nil)
		if err != nil {
			return err
		}
		s.SetOperators(A)
		err = s.Solve(b, x)
		s.Close()
		if code, _ := CodeOf(err); code != CodeNotConverged || IsUnavailable(err) {
			return fmt.Errorf("max_it 1: got %v", err)
		}

		A.ZeroEntries()
		if err := A.Assemble(la.FinalAssembly); err != nil {
			return err
		}
		s, err = NewSolver(c, DefaultOptions(), nil)
		if err != nil {
			return err
		}
		defer s.Close()
		s.SetOperators(A)
		if err := s.Solve(b, x); err == nil || !errorsIsZeroPivot(err) {
			return fmt.Errorf("singular: got %v", err)
		}
		b.Local()
		if code, _ := CodeOf(s.Solve(b, x)); code != CodeWrongState {
			return fmt.Errorf("assembling rhs accepted")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 0, OpenSolvers())
}

func errorsIsZeroPivot(err error) bool {
	code, _ := CodeOf(err)
	return code == CodeZeroPivot
}

func TestParseOptions(t *testing.T) {
	opts, err := ParseOptions(map[string]any{
		"ksp_type":                   "preonly",
		"pc_type":                    "lu",
		"pc_factor_mat_solver_type":  "mumps",
		"mat_mumps_icntl_14":         80,
		"ksp_error_if_not_converged": 1,
		"ksp_rtol":                   "1e-10",
		"ksp_max_it":                 50.0,
	})
	require.NoError(t, err)
	assert.Equal(t, KSPPreOnly, opts.KSPType)
	assert.Equal(t, "mumps", opts.FactorSolverType)
	assert.True(t, opts.ErrorIfNotConverged)
	assert.InDelta(t, 1e-10, opts.Rtol, 1e-25)
	assert.Equal(t, 50, opts.MaxIt)
	assert.Equal(t, "80", opts.Extra["mat_mumps_icntl_14"])

	_, err = ParseOptions(map[string]any{"ksp_max_it": 2.5})
	assert.Error(t, err)
}
