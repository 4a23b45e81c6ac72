package fem

import (
	"errors"
	"fmt"
	"io"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/notargets/DGBlock/ksp"
	"github.com/notargets/DGBlock/la"
)

type LinearProblemOptions struct {
	Solver   ksp.Options
	Compiler *CompilerOptions
	Logger   *log.Logger
}

// LinearProblem solves a(u, v) = L(v) for a grid of bilinear forms. The
// matrix, right hand side, solution vector and solver are created once and
// reused by every Solve.
type LinearProblem struct {
	ID uuid.UUID

	a      [][]*Form
	lf     []*Form
	bcs    []*DirichletBC
	u      []*Function
	kind   la.Kind
	logger *log.Logger

	mat    *la.Matrix
	b      *la.Vector
	x      *la.Vector
	solver *ksp.Solver

	rows, cols []*FunctionSpace
	ownsU      bool
	closed     bool
}

func discardLogger(l *log.Logger) *log.Logger {
	if l == nil {
		return log.New(io.Discard)
	}
	return l
}

// NewLinearProblem compiles a and L and allocates the containers of the
// requested kind. Layout and bc errors are reported before anything is
// allocated. When u is nil the solution functions are created over the
// trial spaces. Collective.
func NewLinearProblem(a [][]*FormSpec, L []*FormSpec, bcs []*DirichletBC, u []*Function,
	kind la.Kind, opts LinearProblemOptions) (*LinearProblem, error) {
	id := uuid.New()
	logger := discardLogger(opts.Logger).With("problem", id.String()[:8])

	af, err := CompileGrid(a, opts.Compiler)
	if err != nil {
		return nil, err
	}
	Lf, err := CompileList(L, opts.Compiler)
	if err != nil {
		return nil, err
	}
	rows, cols, err := ExtractFunctionSpaces(af)
	if err != nil {
		return nil, err
	}
	lspaces, err := LinearFormSpaces(Lf)
	if err != nil {
		return nil, err
	}
	if len(lspaces) != len(rows) {
		return nil, fmt.Errorf("%d linear forms for %d bilinear rows: %w", len(lspaces), len(rows), ErrShape)
	}
	for i, V := range lspaces {
		if V != rows[i] {
			return nil, fmt.Errorf("linear form %d and row %d use different test spaces: %w", i, i, ErrShape)
		}
	}
	if kind == la.Single && (len(rows) != 1 || len(cols) != 1) {
		return nil, fmt.Errorf("single problem for a %dx%d grid: %w", len(rows), len(cols), ErrShape)
	}
	if err := checkDiagonal(af, rows, bcs); err != nil {
		return nil, err
	}
	if u != nil {
		if len(u) != len(cols) {
			return nil, fmt.Errorf("%d solution functions for %d columns: %w", len(u), len(cols), ErrShape)
		}
		for j, f := range u {
			if f.Space != cols[j] {
				return nil, fmt.Errorf("solution function %d is not on the trial space of column %d: %w", j, j, ErrShape)
			}
		}
	}

	p := &LinearProblem{
		ID:     id,
		a:      af,
		lf:     Lf,
		bcs:    bcs,
		u:      u,
		kind:   kind,
		logger: logger,
		rows:   rows,
		cols:   cols,
	}
	fail := func(err error) (*LinearProblem, error) {
		p.Close()
		return nil, err
	}
	if p.mat, err = CreateMatrix(af, kind); err != nil {
		return fail(err)
	}
	if p.b, err = CreateVector(Lf, kind); err != nil {
		return fail(err)
	}
	if p.x, err = CreateVectorFromSpaces(cols, kind); err != nil {
		return fail(err)
	}
	if p.u == nil {
		p.ownsU = true
		p.u = make([]*Function, len(cols))
		for j, V := range cols {
			p.u[j] = NewFunction(V, fmt.Sprintf("u%d", j))
		}
	}
	if p.solver, err = ksp.NewSolver(p.mat.Comm(), opts.Solver, logger); err != nil {
		return fail(err)
	}
	p.solver.SetOperators(p.mat)
	logger.Debug("linear problem created", "kind", kind, "blocks", fmt.Sprintf("%dx%d", len(rows), len(cols)),
		"size", p.b.SizeGlobal())
	return p, nil
}

func (p *LinearProblem) A() *la.Matrix          { return p.mat }
func (p *LinearProblem) B() *la.Vector          { return p.b }
func (p *LinearProblem) X() *la.Vector          { return p.x }
func (p *LinearProblem) Solver() *ksp.Solver    { return p.solver }
func (p *LinearProblem) Functions() []*Function { return p.u }

// Forms returns the compiled bilinear grid and linear forms
func (p *LinearProblem) Forms() ([][]*Form, []*Form) { return p.a, p.lf }

// Solve reassembles the system, solves it and copies the solution into the
// solution functions with ghost values updated. Collective.
func (p *LinearProblem) Solve() ([]*Function, error) {
	if p.closed {
		return nil, fmt.Errorf("solve on closed problem: %w", la.ErrDestroyed)
	}
	if err := p.assembleSystem(); err != nil {
		return nil, err
	}
	if err := p.solver.Solve(p.b, p.x); err != nil {
		return nil, err
	}
	// Ghosts of x are stale after the solve
	p.x.ScatterForward()
	if err := AssignToFunctions(p.x, p.u); err != nil {
		return nil, err
	}
	for _, f := range p.u {
		f.X.ScatterForward()
	}
	p.logger.Debug("linear problem solved", "its", p.solver.Iterations(), "rnorm", p.solver.ResidualNorm())
	return p.u, nil
}

func (p *LinearProblem) assembleSystem() error {
	p.mat.ZeroEntries()
	p.b.Zero()
	switch p.kind {
	case la.Single:
		a := p.a[0][0]
		if err := AssembleMatrixInto(p.mat, a, p.bcs, 1); err != nil {
			return err
		}
		if err := p.mat.Assemble(la.FinalAssembly); err != nil {
			return err
		}
		if err := AssembleVectorInto(p.b, p.lf[0]); err != nil {
			return err
		}
		if err := ApplyLifting(p.b, []*Form{a}, [][]*DirichletBC{p.bcs}, nil, 1); err != nil {
			return err
		}
		p.b.ScatterReverse()
		return SetBC(p.b, BCsByBlock(p.rows, p.bcs)[0], nil, 1)
	case la.Block:
		if err := AssembleMatrixBlockInto(p.mat, p.a, p.bcs, 1); err != nil {
			return err
		}
		if err := p.mat.Assemble(la.FinalAssembly); err != nil {
			return err
		}
		return AssembleVectorBlockInto(p.b, p.lf, p.a, p.bcs, nil, 1)
	case la.Nest:
		if err := AssembleMatrixNestInto(p.mat, p.a, p.bcs, 1); err != nil {
			return err
		}
		if err := p.mat.Assemble(la.FinalAssembly); err != nil {
			return err
		}
		if err := AssembleVectorNestInto(p.b, p.lf); err != nil {
			return err
		}
		if err := ApplyLiftingNest(p.b, p.a, p.bcs, nil, 1); err != nil {
			return err
		}
		p.b.ScatterReverse()
		return SetBCNest(p.b, BCsByBlock(p.rows, p.bcs), nil, 1)
	}
	return fmt.Errorf("linear problem of kind %v: %w", p.kind, la.ErrKind)
}

// Close releases the containers and the solver. Safe to call twice.
func (p *LinearProblem) Close() {
	if p == nil || p.closed {
		return
	}
	p.closed = true
	p.solver.Close()
	p.mat.Destroy()
	if p.b != nil {
		p.b.Destroy()
	}
	if p.x != nil {
		p.x.Destroy()
	}
	if p.ownsU {
		for _, f := range p.u {
			f.Destroy()
		}
	}
	p.logger.Debug("linear problem closed")
}

type NonlinearProblemOptions struct {
	Compiler *CompilerOptions
	Logger   *log.Logger
}

// ErrNoJacobian is returned when a nonlinear problem is built without a
// Jacobian form
var ErrNoJacobian = errors.New("fem: nonlinear problem needs a Jacobian form")

// NonlinearProblem holds the residual F(u; v) and Jacobian J(u; du, v) of a
// problem in the unknown u. It owns no containers; Newton solvers create
// them with CreateVector and CreateMatrix.
type NonlinearProblem struct {
	ID uuid.UUID

	lf     *Form
	a      *Form
	u      *Function
	bcs    []*DirichletBC
	logger *log.Logger
}

// NewNonlinearProblem compiles the residual F and Jacobian J. u must be a
// coefficient of both so that assembly sees the current iterate.
func NewNonlinearProblem(F FormSpec, u *Function, bcs []*DirichletBC, J *FormSpec,
	opts NonlinearProblemOptions) (*NonlinearProblem, error) {
	if J == nil {
		return nil, ErrNoJacobian
	}
	L, err := Compile(F, opts.Compiler)
	if err != nil {
		return nil, err
	}
	a, err := Compile(*J, opts.Compiler)
	if err != nil {
		return nil, err
	}
	if L.Rank() != 1 || a.Rank() != 2 {
		return nil, fmt.Errorf("residual with %d and Jacobian with %d arguments: %w", L.Rank(), a.Rank(), ErrShape)
	}
	if L.Spaces[0] != u.Space || a.Spaces[0] != u.Space || a.Spaces[1] != u.Space {
		return nil, fmt.Errorf("residual, Jacobian and unknown use different spaces: %w", ErrShape)
	}
	id := uuid.New()
	return &NonlinearProblem{
		ID:     id,
		lf:     L,
		a:      a,
		u:      u,
		bcs:    bcs,
		logger: discardLogger(opts.Logger).With("problem", id.String()[:8]),
	}, nil
}

func (p *NonlinearProblem) Unknown() *Function { return p.u }

// Forms returns the compiled residual and Jacobian
func (p *NonlinearProblem) Forms() (L, a *Form) { return p.lf, p.a }

func (p *NonlinearProblem) CreateVector() *la.Vector {
	return la.NewVector(p.u.Space.IndexMap(), p.u.Space.BlockSize())
}

func (p *NonlinearProblem) CreateMatrix() *la.Matrix {
	V := p.u.Space
	return la.NewMatrix(V.IndexMap(), V.BlockSize(), V.IndexMap(), V.BlockSize())
}

// Form updates the ghosts of x and makes it the current iterate. Collective.
func (p *NonlinearProblem) Form(x *la.Vector) {
	x.ScatterForward()
	if x != p.u.X {
		copy(p.u.X.Array(), x.Array())
	}
}

// F assembles the residual at x into b with the constrained entries set to
// x - g, so a Newton update drives x onto the boundary data. Collective.
func (p *NonlinearProblem) F(x, b *la.Vector) error {
	b.Zero()
	if err := AssembleVectorInto(b, p.lf); err != nil {
		return err
	}
	if err := ApplyLifting(b, []*Form{p.a}, [][]*DirichletBC{p.bcs}, []*la.Vector{x}, -1); err != nil {
		return err
	}
	b.ScatterReverse()
	return SetBC(b, p.bcs, x, -1)
}

// J assembles the Jacobian at the current iterate into A with unit diagonal
// on constrained dofs and finally assembles it. Collective.
func (p *NonlinearProblem) J(x *la.Vector, A *la.Matrix) error {
	A.ZeroEntries()
	if err := AssembleMatrixInto(A, p.a, p.bcs, 1); err != nil {
		return err
	}
	return A.Assemble(la.FinalAssembly)
}
