package navierstokes

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"
	"github.com/notargets/DGBlock/comm"
	"github.com/notargets/DGBlock/element"
	"github.com/notargets/DGBlock/fem"
	"github.com/notargets/DGBlock/mesh"
	"github.com/notargets/DGBlock/output"
	"github.com/notargets/DGBlock/partitions"
)

// Errors against the Kovasznay flow. The pressure error is measured after
// both pressures are shifted to zero mean.
type Errors struct {
	U    float64
	DivU float64
	P    float64
}

// Simulation holds the mesh, spaces and fields of one resolution
type Simulation struct {
	Config Config
	Flow   Kovasznay
	Mesh   *mesh.Mesh
	V, Q   *fem.FunctionSpace
	U, P   *fem.Function

	uD     *fem.Function
	bcs    []*fem.DirichletBC
	comm   *comm.Comm
	logger *log.Logger
}

// NewSimulation meshes the unit square and sets up BDM1 velocity and DG0
// pressure with the Kovasznay velocity on the whole boundary and the
// pressure pinned in one corner cell. Only rank 0 logs. Collective.
func NewSimulation(c *comm.Comm, cfg Config, logger *log.Logger) (*Simulation, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil || c.Rank() != 0 {
		logger = log.New(io.Discard)
	}
	strategy, err := partitions.ParseStrategy(cfg.Partition)
	if err != nil {
		return nil, err
	}
	m, err := mesh.CreateUnitSquare(c, cfg.N, cfg.N, strategy)
	if err != nil {
		return nil, err
	}
	V, err := fem.NewFunctionSpace(m, element.BDM1{}, 1)
	if err != nil {
		return nil, err
	}
	Q, err := fem.NewFunctionSpace(m, element.DG0{}, 1)
	if err != nil {
		return nil, err
	}
	s := &Simulation{
		Config: cfg,
		Flow:   Kovasznay{Re: cfg.Re},
		Mesh:   m,
		V:      V,
		Q:      Q,
		comm:   c,
		logger: logger,
	}
	pin, err := PressurePin(Q)
	if err != nil {
		return nil, err
	}
	s.uD = fem.NewFunction(V, "u_D")
	s.uD.Interpolate(s.Flow.Velocity)
	s.bcs = []*fem.DirichletBC{
		fem.NewDirichletBC(s.uD, fem.LocateDofsTopological(V, m.BoundaryFacets(nil))),
		pin,
	}
	s.U = fem.NewFunction(V, "u")
	s.P = fem.NewFunction(Q, "p")
	logger.Info("mesh", "n", cfg.N, "ranks", c.Size(), "partition", strategy,
		"velocity", V.Element.ShortName(), "pressure", Q.Element.ShortName())
	return s, nil
}

// PressurePin fixes the DG0 pressure to zero in the cell at the top left
// corner. Collective.
func PressurePin(Q *fem.FunctionSpace) (*fem.DirichletBC, error) {
	h := 1 / float64(Q.Mesh.Nx)
	dofs := fem.LocateDofsGeometrical(Q, func(x [2]float64) bool {
		return x[0] < h/2 && x[1] > 1-h/2
	})
	bc, err := fem.NewDirichletBCConstant(Q, dofs, 0)
	if err != nil {
		return nil, err
	}
	if _, owned := bc.Dofs(); Q.Mesh.Comm().AllreduceSumInt(owned) != 1 {
		return nil, fmt.Errorf("pressure pin found %d cells: %w", Q.Mesh.Comm().AllreduceSumInt(owned), fem.ErrConfiguration)
	}
	return bc, nil
}

// BCs returns the boundary velocity and pressure pin constraints
func (s *Simulation) BCs() []*fem.DirichletBC { return s.bcs }

func (s *Simulation) problemOptions() fem.LinearProblemOptions {
	compiler := s.Config.Compiler
	return fem.LinearProblemOptions{Solver: s.Config.Solver, Compiler: &compiler, Logger: s.logger}
}

func (s *Simulation) stokesForcing() func(x [2]float64, out []float64) {
	if !s.Config.StokesForcing {
		return nil
	}
	return func(x [2]float64, out []float64) {
		s.Flow.Convection(x, out)
		out[0], out[1] = -out[0], -out[1]
	}
}

// StokesForms is the Stokes system of this simulation
func (s *Simulation) StokesForms() Forms {
	return StokesForms(s.V, s.Q, s.uD, s.stokesForcing(), s.Config.Nu(), s.Config.Alpha)
}

// Stokes solves the Stokes problem into U and P and shifts P to zero mean.
// Collective.
func (s *Simulation) Stokes() (Errors, error) {
	forms := s.StokesForms()
	p, err := fem.NewLinearProblem(forms.A, forms.L, s.bcs, []*fem.Function{s.U, s.P}, s.Config.Kind, s.problemOptions())
	if err != nil {
		return Errors{}, err
	}
	defer p.Close()
	if _, err := p.Solve(); err != nil {
		return Errors{}, fmt.Errorf("stokes: %w", err)
	}
	if _, err := SubtractAverage(s.P); err != nil {
		return Errors{}, err
	}
	e, err := s.Errors()
	if err != nil {
		return e, err
	}
	s.logger.Info("stokes", "n", s.Config.N, "e_u", e.U, "e_div_u", e.DivU, "e_p", e.P)
	return e, nil
}

// Errors measures U and P against the Kovasznay flow. Collective.
func (s *Simulation) Errors() (Errors, error) {
	var e Errors
	var err error
	if e.U, err = NormL2(s.U, s.Flow.Velocity); err != nil {
		return e, err
	}
	if e.DivU, err = NormDivL2(s.U); err != nil {
		return e, err
	}
	avg, err := Average(s.Mesh, s.Flow.Pressure)
	if err != nil {
		return e, err
	}
	e.P, err = NormL2(s.P, func(x [2]float64, out []float64) { out[0] = s.Flow.Pressure(x) - avg })
	return e, err
}

func extension(b output.Backend) string {
	switch b {
	case output.VTX:
		return ".bp"
	case output.XDMF:
		return ".xdmf"
	}
	return "." + string(b)
}

// recorders opens the error history and the field snapshots. Backends that
// are not available are skipped with a warning. Collective.
func (s *Simulation) recorders() (*output.Writer, *output.Snapshot, error) {
	o := s.Config.Output
	if o.Dir == "" {
		return nil, nil, nil
	}
	if err := os.MkdirAll(o.Dir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("navierstokes: %w", err)
	}
	backend := o.Backend
	if backend == "" {
		backend = output.CSV
	}
	history, err := output.New(s.comm, backend, filepath.Join(o.Dir, "errors"+extension(backend)), "e_u", "e_div_u", "e_p")
	switch {
	case errors.Is(err, output.ErrUnavailable):
		s.logger.Warn("history output skipped", "err", err)
	case err != nil:
		return nil, nil, err
	}
	snap, err := output.NewSnapshot(s.comm, backend, filepath.Join(o.Dir, "fields"+extension(backend)), s.U, s.P)
	switch {
	case errors.Is(err, output.ErrUnavailable):
		s.logger.Warn("field output skipped", "err", err)
	case err != nil:
		return nil, nil, errors.Join(err, history.Close())
	}
	return history, snap, nil
}

func record(history *output.Writer, snap *output.Snapshot, t float64, e Errors) error {
	if history != nil {
		if err := history.Write(t, e.U, e.DivU, e.P); err != nil {
			return err
		}
	}
	if snap != nil {
		return snap.Write(t)
	}
	return nil
}

// Run solves the Stokes problem for an initial state and then takes
// NumTimeSteps implicit Euler steps of the Navier-Stokes equations, with
// convection lagged by one step. Errors are returned for the final state.
// The world is checked for cancellation before every step. Collective.
func (s *Simulation) Run() (e Errors, err error) {
	history, snap, err := s.recorders()
	if err != nil {
		return e, err
	}
	defer func() {
		err = errors.Join(err, history.Close(), snap.Close())
	}()

	if e, err = s.Stokes(); err != nil {
		return e, err
	}
	if err = record(history, snap, 0, e); err != nil {
		return e, err
	}

	un := fem.NewFunction(s.V, "u_n")
	defer un.Destroy()
	copy(un.X.Array(), s.U.X.Array())
	cfg := s.Config
	forms := NavierStokesForms(s.V, s.Q, s.uD, un, nil, cfg.Nu(), cfg.Alpha, cfg.Dt())
	p, err := fem.NewLinearProblem(forms.A, forms.L, s.bcs, []*fem.Function{s.U, s.P}, cfg.Kind, s.problemOptions())
	if err != nil {
		return e, err
	}
	defer p.Close()

	t := 0.0
	for step := 1; step <= cfg.NumTimeSteps; step++ {
		if err = s.comm.Err(); err != nil {
			return e, fmt.Errorf("time step %d: %w", step, err)
		}
		t += cfg.Dt()
		if _, err = p.Solve(); err != nil {
			return e, fmt.Errorf("time step %d: %w", step, err)
		}
		if _, err = SubtractAverage(s.P); err != nil {
			return e, err
		}
		copy(un.X.Array(), s.U.X.Array())
		if e, err = s.Errors(); err != nil {
			return e, err
		}
		if math.IsNaN(e.U) {
			return e, fmt.Errorf("time step %d: velocity diverged", step)
		}
		s.logger.Info("time step", "step", step, "t", t, "e_u", e.U, "e_div_u", e.DivU, "e_p", e.P)
		if err = record(history, snap, t, e); err != nil {
			return e, err
		}
	}
	return e, nil
}

// Close releases the fields of the simulation
func (s *Simulation) Close() {
	s.U.Destroy()
	s.P.Destroy()
	s.uD.Destroy()
}

// ConvergenceResult holds the Stokes errors at one resolution and the
// observed orders against the previous one
type ConvergenceResult struct {
	N      int
	H      float64
	Errors Errors
	RateU  float64
	RateP  float64
}

func rate(e0, e1, h0, h1 float64) float64 {
	if e0 <= 0 || e1 <= 0 {
		return math.NaN()
	}
	return math.Log(e0/e1) / math.Log(h0/h1)
}

// Convergence solves the Stokes problem at every resolution of
// cfg.Refinements and, when an output directory is set, plots the errors.
// Collective.
func Convergence(c *comm.Comm, cfg Config, logger *log.Logger) ([]ConvergenceResult, error) {
	if len(cfg.Refinements) == 0 {
		return nil, errors.New("navierstokes: no refinements")
	}
	var results []ConvergenceResult
	for i, n := range cfg.Refinements {
		if err := c.Err(); err != nil {
			return results, fmt.Errorf("refinement %d: %w", n, err)
		}
		cfg.N = n
		s, err := NewSimulation(c, cfg, logger)
		if err != nil {
			return results, err
		}
		e, err := s.Stokes()
		s.Close()
		if err != nil {
			return results, err
		}
		r := ConvergenceResult{N: n, H: 1 / float64(n), Errors: e, RateU: math.NaN(), RateP: math.NaN()}
		if i > 0 {
			prev := results[i-1]
			r.RateU = rate(prev.Errors.U, e.U, prev.H, r.H)
			r.RateP = rate(prev.Errors.P, e.P, prev.H, r.H)
		}
		results = append(results, r)
	}
	if cfg.Output.Dir == "" {
		return results, nil
	}
	var msg string
	if c.Rank() == 0 {
		h := make([]float64, len(results))
		series := map[string][]float64{"e_u": make([]float64, len(results)), "e_p": make([]float64, len(results))}
		for i, r := range results {
			h[i] = r.H
			series["e_u"][i] = r.Errors.U
			series["e_p"][i] = r.Errors.P
		}
		err := os.MkdirAll(cfg.Output.Dir, 0o755)
		if err == nil {
			err = output.ConvergencePlot(filepath.Join(cfg.Output.Dir, "convergence.png"), h, series, 1)
		}
		if err != nil {
			msg = err.Error()
		}
	}
	if msg = c.Bcast(0, msg).(string); msg != "" {
		return results, fmt.Errorf("navierstokes: %s", msg)
	}
	return results, nil
}
