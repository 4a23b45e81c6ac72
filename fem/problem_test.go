package fem

import (
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/notargets/DGBlock/comm"
	"github.com/notargets/DGBlock/element"
	"github.com/notargets/DGBlock/ksp"
	"github.com/notargets/DGBlock/la"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func zeroKernel([]float64, *KernelData) {}

// maxNodalError compares f at the dof points of every held cell with fn
func maxNodalError(f *Function, fn func([2]float64) float64) float64 {
	var e float64
	m := f.Space.Mesh
	for _, k := range m.LocalCells() {
		for _, x := range f.Space.Element.DofPoints(m.Geometry(k)) {
			e = math.Max(e, math.Abs(f.Eval(k, x)[0]-fn(x)))
		}
	}
	return m.Comm().AllreduceMax(e)
}

func TestLinearProblem_Poisson(t *testing.T) {
	configs := []ksp.Options{
		ksp.DefaultOptions(),
		{KSPType: ksp.KSPCG, PCType: ksp.PCJacobi, Rtol: 1e-13},
	}
	for _, size := range []int{1, 2, 3} {
		for _, solver := range configs {
			err := comm.Run(size, func(c *comm.Comm) error {
				_, V, err := unitSquare(c, 6)
				if err != nil {
					return err
				}
				bc, g := boundaryBC(V, linear)
				defer g.Destroy()
				p, err := NewLinearProblem(
					[][]*FormSpec{{bilinear("a", V, V, stiffnessKernel)}},
					[]*FormSpec{linearForm("L", V, zeroKernel)},
					[]*DirichletBC{bc}, nil, la.Single, LinearProblemOptions{Solver: solver})
				if err != nil {
					return err
				}
				defer p.Close()
				for rep := 0; rep < 2; rep++ {
					u, err := p.Solve()
					if err != nil {
						return err
					}
					if e := maxNodalError(u[0], linear); e > 1e-10 {
						return fmt.Errorf("solve %d: nodal error %v", rep, e)
					}
				}
				return nil
			})
			require.NoError(t, err, "%d ranks, %s/%s", size, solver.KSPType, solver.PCType)
		}
	}
}

// The system [[K, M], [0, M]] [u, q] = [(1, v), (1, r)] with u linear on
// the boundary has q = 1 and K u = 0, so u is the linear boundary data.
func TestLinearProblem_BlockAndNest(t *testing.T) {
	for _, kind := range []la.Kind{la.Block, la.Nest} {
		for _, size := range []int{1, 2, 3} {
			err := comm.Run(size, func(c *comm.Comm) error {
				m, V, err := unitSquare(c, 4)
				if err != nil {
					return err
				}
				Q, err := NewFunctionSpace(m, element.P1{}, 1)
				if err != nil {
					return err
				}
				bc, g := boundaryBC(V, linear)
				defer g.Destroy()
				u, q := NewFunction(V, "u"), NewFunction(Q, "q")
				defer u.Destroy()
				defer q.Destroy()
				p, err := NewLinearProblem(
					[][]*FormSpec{
						{bilinear("a00", V, V, stiffnessKernel), bilinear("a01", V, Q, massKernel)},
						{nil, bilinear("a11", Q, Q, massKernel)},
					},
					[]*FormSpec{linearForm("L0", V, loadKernel), linearForm("L1", Q, loadKernel)},
					[]*DirichletBC{bc}, []*Function{u, q}, kind, LinearProblemOptions{})
				if err != nil {
					return err
				}
				defer p.Close()
				if _, err := p.Solve(); err != nil {
					return err
				}
				if e := maxNodalError(u, linear); e > 1e-10 {
					return fmt.Errorf("%v: u error %v", kind, e)
				}
				if e := maxNodalError(q, func([2]float64) float64 { return 1 }); e > 1e-10 {
					return fmt.Errorf("%v: q error %v", kind, e)
				}
				if p.B().State() != la.Finalized {
					return fmt.Errorf("%v: rhs left in state %v", kind, p.B().State())
				}
				return nil
			})
			require.NoError(t, err, "%v on %d ranks", kind, size)
		}
	}
}

func TestLinearProblem_Configuration(t *testing.T) {
	m, V, err := unitSquare(comm.Self(), 3)
	require.NoError(t, err)
	Q, err := NewFunctionSpace(m, element.DG0{}, 1)
	require.NoError(t, err)
	pin, err := NewDirichletBCConstant(Q, []int{0}, 0)
	require.NoError(t, err)
	a := [][]*FormSpec{
		{bilinear("a00", V, V, stiffnessKernel), bilinear("a01", V, Q, massKernel)},
		{bilinear("a10", Q, V, massKernel), nil},
	}
	L := []*FormSpec{linearForm("L0", V, loadKernel), linearForm("L1", Q, zeroKernel)}
	handles, solvers := la.OpenHandles(), ksp.OpenSolvers()

	for _, kind := range []la.Kind{la.Block, la.Nest} {
		_, err = NewLinearProblem(a, L, []*DirichletBC{pin}, nil, kind, LinearProblemOptions{})
		assert.ErrorIs(t, err, ErrConfiguration, kind.String())
	}
	_, err = NewLinearProblem(a, L, nil, nil, la.Single, LinearProblemOptions{})
	assert.ErrorIs(t, err, ErrShape)

	// A solver failure after allocation releases what was built
	_, err = NewLinearProblem(a, L, nil, nil, la.Block, LinearProblemOptions{Solver: ksp.Options{KSPType: "richardson"}})
	code, ok := ksp.CodeOf(err)
	require.True(t, ok, "%v", err)
	assert.Equal(t, ksp.CodeUnknownType, code)

	L[1] = &FormSpec{Name: "bad", Spaces: []*FunctionSpace{Q}}
	_, err = NewLinearProblem(a, L, nil, nil, la.Block, LinearProblemOptions{})
	assert.ErrorIs(t, err, ErrCompile)

	assert.Equal(t, handles, la.OpenHandles())
	assert.Equal(t, solvers, ksp.OpenSolvers())
}

func TestLinearProblem_Lifecycle(t *testing.T) {
	_, V, err := unitSquare(comm.Self(), 2)
	require.NoError(t, err)
	bc, g := boundaryBC(V, linear)
	defer g.Destroy()
	a := [][]*FormSpec{{bilinear("a", V, V, stiffnessKernel)}}
	L := []*FormSpec{linearForm("L", V, zeroKernel)}
	handles, solvers := la.OpenHandles(), ksp.OpenSolvers()

	kinds := []la.Kind{la.Single, la.Block, la.Nest}
	for i := 0; i < 1000; i++ {
		p, err := NewLinearProblem(a, L, []*DirichletBC{bc}, nil, kinds[i%3], LinearProblemOptions{})
		if err != nil {
			t.Fatalf("construct %d: %v", i, err)
		}
		if i%100 == 0 {
			if _, err := p.Solve(); err != nil {
				t.Fatalf("solve %d: %v", i, err)
			}
		}
		p.Close()
		if h, s := la.OpenHandles(), ksp.OpenSolvers(); h != handles || s != solvers {
			t.Fatalf("close %d: %d handles and %d solvers open, want %d and %d", i, h, s, handles, solvers)
		}
		p.Close()
		if i == 0 {
			if _, err := p.Solve(); !errors.Is(err, la.ErrDestroyed) {
				t.Errorf("solve after close: %v", err)
			}
		}
	}
	assert.Equal(t, handles, la.OpenHandles())
	assert.Equal(t, solvers, ksp.OpenSolvers())
}

func TestLinearProblem_UnavailableFactorization(t *testing.T) {
	_, V, err := unitSquare(comm.Self(), 2)
	require.NoError(t, err)
	opts := LinearProblemOptions{Solver: ksp.Options{KSPType: ksp.KSPPreOnly, PCType: ksp.PCLU, FactorSolverType: "mumps"}}
	p, err := NewLinearProblem([][]*FormSpec{{bilinear("a", V, V, massKernel)}},
		[]*FormSpec{linearForm("L", V, loadKernel)}, nil, nil, la.Single, opts)
	require.NoError(t, err)
	defer p.Close()
	_, err = p.Solve()
	assert.True(t, ksp.IsUnavailable(err), "%v", err)
}
