// Package ksp solves the distributed linear systems produced by the
// assembler. The operator and right hand side are gathered onto rank 0 in
// the combined global numbering of the container kind, solved there with a
// direct factorization or a Krylov method, and each rank receives its owned
// slice of the solution.
package ksp

import (
	"errors"
	"fmt"
	"math"
	"sync/atomic"

	"github.com/charmbracelet/log"
	"github.com/james-bowman/sparse"
	"github.com/notargets/DGBlock/comm"
	"github.com/notargets/DGBlock/la"
	"gonum.org/v1/gonum/mat"
)

var openSolvers atomic.Int64

// OpenSolvers is the number of solvers created and not yet closed
func OpenSolvers() int { return int(openSolvers.Load()) }

type Solver struct {
	comm   *comm.Comm
	opts   Options
	logger *log.Logger
	A      *la.Matrix

	its    int
	rnorm  float64
	closed bool
}

// NewSolver validates opts and returns a solver bound to c. logger may be
// nil.
func NewSolver(c *comm.Comm, opts Options, logger *log.Logger) (*Solver, error) {
	opts = opts.withDefaults()
	if err := opts.validate(); err != nil {
		return nil, err
	}
	openSolvers.Add(1)
	s := &Solver{comm: c, opts: opts, logger: logger}
	if logger != nil && len(opts.Extra) > 0 {
		logger.Debug("unused solver options", "options", opts.Extra)
	}
	return s, nil
}

func (s *Solver) Options() Options { return s.opts }

// SetOperators sets the system matrix used by the following solves
func (s *Solver) SetOperators(A *la.Matrix) { s.A = A }

// Iterations and ResidualNorm describe the last solve
func (s *Solver) Iterations() int       { return s.its }
func (s *Solver) ResidualNorm() float64 { return s.rnorm }

// Close releases the solver. Safe to call twice.
func (s *Solver) Close() {
	if s == nil || s.closed {
		return
	}
	s.closed = true
	s.A = nil
	openSolvers.Add(-1)
}

type entry struct {
	Row, Col int
	Val      float64
}

type segment struct {
	Start int
	Vals  []float64
}

// system is one rank's share of the global problem
type system struct {
	N       int
	Entries []entry
	RHS     []segment
	Guess   []segment
}

// reply is rank 0's answer to one rank
type reply struct {
	Code  Code
	Msg   string
	Its   int
	Rnorm float64
	Sol   [][]float64
}

// Solve solves A x = b with the operator from SetOperators. A must be
// finally assembled and b must have its ghost contributions accumulated.
// Only the owned entries of x are written. Collective.
func (s *Solver) Solve(b, x *la.Vector) error {
	switch {
	case s.closed:
		return newError(CodeWrongState, "solve on closed solver")
	case s.A == nil:
		return newError(CodeWrongState, "no operator set")
	case !s.A.Assembled():
		return newError(CodeWrongState, "operator not assembled")
	case b.State() == la.Assembling:
		return newError(CodeWrongState, "right hand side has unaccumulated ghost contributions")
	}
	if s.opts.PCType == PCLU && !factorPackages[s.opts.FactorSolverType] {
		return newError(CodeUnavailable, "factorization package %q is not available", s.opts.FactorSolverType)
	}

	sys, err := gatherSystem(s.A, b, x)
	if err != nil {
		return err
	}
	parts := s.comm.Gather(0, sys)
	var replies []any
	if s.comm.Rank() == 0 {
		replies = s.solveRoot(parts)
	}
	rep := s.comm.Scatter(0, replies).(reply)
	s.its, s.rnorm = rep.Its, rep.Rnorm
	if rep.Code != 0 {
		return &Error{Code: rep.Code, Msg: rep.Msg}
	}
	owned := ownedParts(x)
	for i, vals := range rep.Sol {
		copy(owned[i], vals)
	}
	return nil
}

// ownedParts lists the owned arrays of x in the order of its segments
func ownedParts(x *la.Vector) [][]float64 {
	if x.Kind() != la.Nest {
		return [][]float64{x.Owned()}
	}
	parts := make([][]float64, x.NumBlocks())
	for i := range parts {
		parts[i] = x.Sub(i).Owned()
	}
	return parts
}

// segments returns the global start of every owned part of v, offset by
// the given block offsets for Nest vectors
func segments(v *la.Vector, offsets []int) []int {
	if v.Kind() != la.Nest {
		return []int{v.Map().LocalRange()[0] * v.BlockSize()}
	}
	starts := make([]int, v.NumBlocks())
	for i := range starts {
		sub := v.Sub(i)
		starts[i] = offsets[i] + sub.Map().LocalRange()[0]*sub.BlockSize()
	}
	return starts
}

func gatherSystem(A *la.Matrix, b, x *la.Vector) (system, error) {
	nr, nc := A.Size()
	if nr != nc {
		return system{}, newError(CodeWrongArgument, "matrix is %dx%d", nr, nc)
	}
	if b.SizeGlobal() != nr || x.SizeGlobal() != nc {
		return system{}, newError(CodeWrongArgument, "sizes %d and %d for a %dx%d matrix", b.SizeGlobal(), x.SizeGlobal(), nr, nc)
	}
	sys := system{N: nr}
	add := func(off0, off1 int) func(i, j int, v float64) {
		return func(i, j int, v float64) {
			sys.Entries = append(sys.Entries, entry{Row: off0 + i, Col: off1 + j, Val: v})
		}
	}
	var rowOff, colOff []int
	if A.Kind() == la.Nest {
		rowOff, colOff = nestOffsets(A)
		nbr, nbc := A.NestShape()
		for i := 0; i < nbr; i++ {
			for j := 0; j < nbc; j++ {
				if blk := A.NestBlock(i, j); blk != nil {
					blk.DoNonZero(add(rowOff[i], colOff[j]))
				}
			}
		}
	} else {
		A.DoNonZero(add(0, 0))
	}
	if (A.Kind() == la.Nest) != (b.Kind() == la.Nest) || (A.Kind() == la.Nest) != (x.Kind() == la.Nest) {
		return system{}, newError(CodeWrongArgument, "%v matrix with %v and %v vectors", A.Kind(), b.Kind(), x.Kind())
	}
	for i, start := range segments(b, rowOff) {
		sys.RHS = append(sys.RHS, segment{Start: start, Vals: append([]float64(nil), ownedParts(b)[i]...)})
	}
	for i, start := range segments(x, colOff) {
		sys.Guess = append(sys.Guess, segment{Start: start, Vals: append([]float64(nil), ownedParts(x)[i]...)})
	}
	return sys, nil
}

// nestOffsets returns the first global row of every block row and the first
// global column of every block column
func nestOffsets(A *la.Matrix) (rows, cols []int) {
	nbr, nbc := A.NestShape()
	rows = make([]int, nbr+1)
	cols = make([]int, nbc+1)
	for i := 0; i < nbr; i++ {
		for j := 0; j < nbc; j++ {
			if blk := A.NestBlock(i, j); blk != nil {
				r, c := blk.Size()
				rows[i+1] = r
				cols[j+1] = c
			}
		}
	}
	for i := 0; i < nbr; i++ {
		rows[i+1] += rows[i]
	}
	for j := 0; j < nbc; j++ {
		cols[j+1] += cols[j]
	}
	return rows, cols
}

func (s *Solver) solveRoot(parts []any) []any {
	n := parts[0].(system).N
	A := sparse.NewDOK(max(n, 1), max(n, 1))
	b := make([]float64, n)
	x := make([]float64, n)
	for _, p := range parts {
		sys := p.(system)
		for _, e := range sys.Entries {
			A.Set(e.Row, e.Col, A.At(e.Row, e.Col)+e.Val)
		}
		for _, seg := range sys.RHS {
			copy(b[seg.Start:], seg.Vals)
		}
		for _, seg := range sys.Guess {
			copy(x[seg.Start:], seg.Vals)
		}
	}

	its, rnorm, err := s.solveGlobal(n, A, b, x)
	if err == nil && s.logger != nil {
		s.logger.Debug("linear solve", "ksp", s.opts.KSPType, "pc", s.opts.PCType, "n", n, "its", its, "rnorm", rnorm)
	}
	if err != nil && s.logger != nil {
		s.logger.Warn("linear solve failed", "ksp", s.opts.KSPType, "pc", s.opts.PCType, "err", err)
	}

	replies := make([]any, len(parts))
	for r, p := range parts {
		rep := reply{Its: its, Rnorm: rnorm}
		if err != nil {
			var e *Error
			if errors.As(err, &e) {
				rep.Code, rep.Msg = e.Code, e.Msg
			} else {
				rep.Code, rep.Msg = CodeWrongArgument, err.Error()
			}
		} else {
			for _, seg := range p.(system).Guess {
				rep.Sol = append(rep.Sol, append([]float64(nil), x[seg.Start:seg.Start+len(seg.Vals)]...))
			}
		}
		replies[r] = rep
	}
	return replies
}

func (s *Solver) solveGlobal(n int, A *sparse.DOK, b, x []float64) (int, float64, error) {
	if n == 0 {
		return 0, 0, nil
	}
	var lu *mat.LU
	if s.opts.PCType == PCLU {
		var err error
		if lu, err = factorize(n, A); err != nil {
			return 0, 0, err
		}
	}
	psolve, err := s.preconditioner(n, A, lu)
	if err != nil {
		return 0, 0, err
	}
	if s.opts.KSPType == KSPPreOnly {
		psolve(x, b)
		return 1, residualNorm(A, b, x), nil
	}

	csr := A.ToCSR()
	matvec := func(dst, src []float64) {
		for i := range dst {
			dst[i] = 0
		}
		csr.DoNonZero(func(i, j int, v float64) {
			dst[i] += v * src[j]
		})
	}
	var method Method
	switch s.opts.KSPType {
	case KSPCG:
		method = &CG{}
	default:
		method = &GMRES{Restart: s.opts.Restart}
	}
	var monitor func(int, float64)
	if s.opts.Monitor && s.logger != nil {
		monitor = func(it int, rnorm float64) {
			s.logger.Info("ksp", "it", it, "rnorm", rnorm)
		}
	}
	its, rnorm, err := iterate(method, matvec, psolve, b, x, s.opts.Rtol, s.opts.Atol, s.opts.MaxIt, monitor)
	if err != nil {
		if code, _ := CodeOf(err); code == CodeNotConverged && !s.opts.ErrorIfNotConverged {
			if s.logger != nil {
				s.logger.Warn("ksp did not converge", "its", its, "rnorm", rnorm)
			}
			return its, rnorm, nil
		}
	}
	return its, rnorm, err
}

func factorize(n int, A *sparse.DOK) (*mat.LU, error) {
	dense := mat.NewDense(n, n, nil)
	A.DoNonZero(func(i, j int, v float64) {
		if i < n && j < n {
			dense.Set(i, j, v)
		}
	})
	var lu mat.LU
	lu.Factorize(dense)
	if c := lu.Cond(); math.IsInf(c, 1) || math.IsNaN(c) {
		return nil, newError(CodeZeroPivot, "zero pivot in LU factorization")
	}
	return &lu, nil
}

func (s *Solver) preconditioner(n int, A *sparse.DOK, lu *mat.LU) (func(dst, src []float64), error) {
	switch s.opts.PCType {
	case PCLU:
		return func(dst, src []float64) {
			out := mat.NewVecDense(n, dst)
			err := lu.SolveVecTo(out, false, mat.NewVecDense(n, append([]float64(nil), src...)))
			var cond mat.Condition
			if err != nil && errors.As(err, &cond) && s.logger != nil {
				s.logger.Warn("ill-conditioned operator", "cond", float64(cond))
			}
		}, nil
	case PCJacobi:
		inv := make([]float64, n)
		for i := range inv {
			d := A.At(i, i)
			if d == 0 {
				d = 1
			}
			inv[i] = 1 / d
		}
		return func(dst, src []float64) {
			for i := range dst {
				dst[i] = inv[i] * src[i]
			}
		}, nil
	case PCNone:
		return func(dst, src []float64) { copy(dst, src) }, nil
	}
	return nil, fmt.Errorf("pc_type %q: %w", s.opts.PCType, ErrUnavailable)
}

func residualNorm(A *sparse.DOK, b, x []float64) float64 {
	r := append([]float64(nil), b...)
	A.DoNonZero(func(i, j int, v float64) {
		if i < len(r) && j < len(x) {
			r[i] -= v * x[j]
		}
	})
	var sum float64
	for _, v := range r {
		sum += v * v
	}
	return math.Sqrt(sum)
}
