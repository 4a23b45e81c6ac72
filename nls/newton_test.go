package nls

import (
	"fmt"
	"math"
	"testing"

	"github.com/notargets/DGBlock/comm"
	"github.com/notargets/DGBlock/element"
	"github.com/notargets/DGBlock/fem"
	"github.com/notargets/DGBlock/ksp"
	"github.com/notargets/DGBlock/mesh"
	"github.com/notargets/DGBlock/partitions"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func exact(x [2]float64) float64 { return 1 + x[0] + 2*x[1] }

// -div((1+u^2) grad u) = f with u = 1 + x + 2y, so f = -10 u (u_x^2 + u_y^2
// = 5, times the derivative 2u of the coefficient)
func source(x [2]float64) float64 { return -10 * exact(x) }

// residualKernel integrates (1+u^2) grad u . grad v - f v
func residualKernel(A []float64, d *fem.KernelData) {
	u := make([]float64, 1)
	du := make([]float64, 2)
	for _, q := range d.CellPoints() {
		d.Coefficient(0, 0, q.X, u, du)
		phi, grad := element.Eval(d.Test[0], q.X)
		k := 1 + u[0]*u[0]
		f := source(q.X)
		for i := range A {
			A[i] += q.W * (k*(du[0]*grad[2*i]+du[1]*grad[2*i+1]) - f*phi[i])
		}
	}
}

// jacobianKernel integrates (1+u^2) grad du . grad v + 2u du grad u . grad v
func jacobianKernel(A []float64, d *fem.KernelData) {
	u := make([]float64, 1)
	du := make([]float64, 2)
	for _, q := range d.CellPoints() {
		d.Coefficient(0, 0, q.X, u, du)
		phi, grad := element.Eval(d.Test[0], q.X)
		k := 1 + u[0]*u[0]
		n := len(phi)
		for i := 0; i < n; i++ {
			gv := du[0]*grad[2*i] + du[1]*grad[2*i+1]
			for j := 0; j < n; j++ {
				A[i*n+j] += q.W * (k*(grad[2*j]*grad[2*i]+grad[2*j+1]*grad[2*i+1]) + 2*u[0]*phi[j]*gv)
			}
		}
	}
}

func solvePoisson(c *comm.Comm, opts Options) (its int, maxErr float64, err error) {
	m, err := mesh.CreateUnitSquare(c, 6, 6, partitions.GraphPartition)
	if err != nil {
		return 0, 0, err
	}
	V, err := fem.NewFunctionSpace(m, element.P1{}, 1)
	if err != nil {
		return 0, 0, err
	}
	u := fem.NewFunction(V, "u")
	defer u.Destroy()
	g := fem.NewFunction(V, "g")
	defer g.Destroy()
	g.Interpolate(func(x [2]float64, out []float64) { out[0] = exact(x) })
	bc := fem.NewDirichletBC(g, fem.LocateDofsTopological(V, m.BoundaryFacets(nil)))

	F := fem.FormSpec{
		Name:         "F",
		Spaces:       []*fem.FunctionSpace{V},
		Integrals:    []fem.IntegralSpec{{Type: fem.CellIntegral, Kernel: residualKernel}},
		Coefficients: []*fem.Function{u},
	}
	J := &fem.FormSpec{
		Name:         "J",
		Spaces:       []*fem.FunctionSpace{V, V},
		Integrals:    []fem.IntegralSpec{{Type: fem.CellIntegral, Kernel: jacobianKernel}},
		Coefficients: []*fem.Function{u},
	}
	problem, err := fem.NewNonlinearProblem(F, u, []*fem.DirichletBC{bc}, J, fem.NonlinearProblemOptions{})
	if err != nil {
		return 0, 0, err
	}
	solver, err := NewNewtonSolver(problem, opts, nil)
	if err != nil {
		return 0, 0, err
	}
	defer solver.Close()
	its, converged, err := solver.Solve(u.X)
	if err != nil {
		return its, 0, err
	}
	if !converged {
		return its, 0, fmt.Errorf("not converged")
	}
	for _, k := range m.LocalCells() {
		for _, x := range V.Element.DofPoints(m.Geometry(k)) {
			maxErr = math.Max(maxErr, math.Abs(u.Eval(k, x)[0]-exact(x)))
		}
	}
	return its, c.AllreduceMax(maxErr), nil
}

func TestNewton_NonlinearPoisson(t *testing.T) {
	for _, size := range []int{1, 2, 3} {
		for _, crit := range []Criterion{Residual, Incremental} {
			opts := DefaultOptions()
			opts.Criterion = crit
			opts.Rtol, opts.Atol = 1e-10, 1e-12
			var its [3]int
			var errs [3]float64
			err := comm.Run(size, func(c *comm.Comm) error {
				n, e, err := solvePoisson(c, opts)
				its[c.Rank()], errs[c.Rank()] = n, e
				return err
			})
			require.NoError(t, err, "%d ranks, %s", size, crit)
			assert.Greater(t, its[0], 1, "nonlinear problem solved in too few steps")
			assert.Less(t, its[0], 30)
			assert.Less(t, errs[0], 1e-8, "%d ranks, %s", size, crit)
		}
	}
	assert.Equal(t, 0, ksp.OpenSolvers())
}

func TestNewton_Options(t *testing.T) {
	_, err := NewNewtonSolver(nil, Options{MaxIt: 1, Criterion: "energy"}, nil)
	assert.Error(t, err)
	_, err = NewNewtonSolver(nil, Options{}, nil)
	assert.Error(t, err)

	_, err = fem.NewNonlinearProblem(fem.FormSpec{}, nil, nil, nil, fem.NonlinearProblemOptions{})
	assert.ErrorIs(t, err, fem.ErrNoJacobian)
}

func TestNewton_NonConvergence(t *testing.T) {
	opts := DefaultOptions()
	opts.MaxIt = 1
	err := comm.Run(1, func(c *comm.Comm) error {
		_, _, err := solvePoisson(c, opts)
		return err
	})
	assert.ErrorIs(t, err, ErrNotConverged)
}
