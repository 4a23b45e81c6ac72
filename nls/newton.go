// Package nls solves nonlinear systems F(x) = 0 with Newton's method. The
// residual and Jacobian come from a Problem; each Newton step is a linear
// solve with a ksp.Solver.
package nls

import (
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/charmbracelet/log"
	"github.com/notargets/DGBlock/ksp"
	"github.com/notargets/DGBlock/la"
)

// Problem is what the Newton solver needs from a nonlinear problem.
// fem.NonlinearProblem satisfies it.
type Problem interface {
	// Form is called with the new iterate before F and J
	Form(x *la.Vector)
	F(x, b *la.Vector) error
	J(x *la.Vector, A *la.Matrix) error
	CreateVector() *la.Vector
	CreateMatrix() *la.Matrix
}

type Criterion string

const (
	// Residual stops on the norm of F
	Residual Criterion = "residual"
	// Incremental stops on the norm of the Newton update
	Incremental Criterion = "incremental"
)

type Options struct {
	Rtol                  float64     `toml:"rtol"`
	Atol                  float64     `toml:"atol"`
	MaxIt                 int         `toml:"max_it"`
	Relaxation            float64     `toml:"relaxation"`
	Criterion             Criterion   `toml:"convergence_criterion"`
	ErrorOnNonconvergence bool        `toml:"error_on_nonconvergence"`
	Linear                ksp.Options `toml:"linear"`
}

func DefaultOptions() Options {
	return Options{
		Rtol:                  1e-9,
		Atol:                  1e-10,
		MaxIt:                 50,
		Relaxation:            1,
		Criterion:             Residual,
		ErrorOnNonconvergence: true,
		Linear:                ksp.DefaultOptions(),
	}
}

var ErrNotConverged = errors.New("nls: Newton solver did not converge")

type NewtonSolver struct {
	opts    Options
	problem Problem
	logger  *log.Logger
	solver  *ksp.Solver

	b, dx *la.Vector
	A     *la.Matrix

	r0 float64
}

// NewNewtonSolver allocates the residual, update and Jacobian containers of
// problem. logger may be nil. Collective.
func NewNewtonSolver(problem Problem, opts Options, logger *log.Logger) (*NewtonSolver, error) {
	switch opts.Criterion {
	case "":
		opts.Criterion = Residual
	case Residual, Incremental:
	default:
		return nil, fmt.Errorf("nls: unknown convergence criterion %q", opts.Criterion)
	}
	if opts.MaxIt < 1 {
		return nil, fmt.Errorf("nls: max_it %d", opts.MaxIt)
	}
	if opts.Relaxation == 0 {
		opts.Relaxation = 1
	}
	if logger == nil {
		logger = log.New(io.Discard)
	}
	s := &NewtonSolver{opts: opts, problem: problem, logger: logger}
	s.b = problem.CreateVector()
	s.dx = problem.CreateVector()
	s.A = problem.CreateMatrix()
	var err error
	if s.solver, err = ksp.NewSolver(s.b.Comm(), opts.Linear, logger); err != nil {
		s.Close()
		return nil, err
	}
	s.solver.SetOperators(s.A)
	return s, nil
}

func (s *NewtonSolver) Options() Options { return s.opts }

// Solve runs Newton iterations starting from x and leaves the solution in
// x. It returns the number of iterations and whether the iteration
// converged. Collective.
func (s *NewtonSolver) Solve(x *la.Vector) (int, bool, error) {
	s.problem.Form(x)
	if err := s.problem.F(x, s.b); err != nil {
		return 0, false, err
	}
	converged := false
	it := 0
	if s.opts.Criterion == Residual {
		converged = s.converged(it, s.b.Norm2())
	}

	for !converged && it < s.opts.MaxIt {
		if err := s.problem.J(x, s.A); err != nil {
			return it, false, err
		}
		s.dx.Zero()
		if err := s.solver.Solve(s.b, s.dx); err != nil {
			return it, false, fmt.Errorf("newton iteration %d: %w", it+1, err)
		}
		x.AXPY(-s.opts.Relaxation, s.dx)
		it++
		if r := s.dx.Norm2(); math.IsNaN(r) || math.IsInf(r, 0) {
			return it, false, fmt.Errorf("newton iteration %d: update norm %v", it, r)
		}

		if s.opts.Criterion == Incremental {
			converged = s.converged(it, s.dx.Norm2())
		}
		s.problem.Form(x)
		if err := s.problem.F(x, s.b); err != nil {
			return it, false, err
		}
		if s.opts.Criterion == Residual {
			converged = s.converged(it, s.b.Norm2())
		}
	}

	if converged {
		s.logger.Info("newton solver finished", "iterations", it)
		return it, true, nil
	}
	if s.opts.ErrorOnNonconvergence {
		return it, false, fmt.Errorf("%w after %d iterations", ErrNotConverged, it)
	}
	s.logger.Warn("newton solver did not converge", "iterations", it)
	return it, false, nil
}

// converged checks the norm r of iteration it against the absolute
// tolerance and the tolerance relative to the first norm seen
func (s *NewtonSolver) converged(it int, r float64) bool {
	if it == 0 || (it == 1 && s.opts.Criterion == Incremental) {
		s.r0 = r
	}
	rel := r / s.r0
	if s.r0 == 0 {
		rel = 0
	}
	s.logger.Info("newton", "it", it, "r", fmt.Sprintf("%.3e", r), "rel", fmt.Sprintf("%.3e", rel),
		"atol", s.opts.Atol, "rtol", s.opts.Rtol)
	return r < s.opts.Atol || rel < s.opts.Rtol
}

// Close releases the containers and the linear solver. Safe to call twice.
func (s *NewtonSolver) Close() {
	if s == nil {
		return
	}
	s.solver.Close()
	s.A.Destroy()
	s.b.Destroy()
	s.dx.Destroy()
}
