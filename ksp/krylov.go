package ksp

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// Operation is a request from a Method to the iteration driver
type Operation uint64

const (
	NoOperation Operation = 0
	MatVec      Operation = 1 << (iota - 1)
	PSolve
	ComputeResidual
	CheckConvergence
	Iteration
)

// Context carries the state shared by a Method and the driver. For MatVec
// and PSolve the driver computes Dst = op(Src).
type Context struct {
	X            []float64
	Residual     []float64
	ResidualNorm float64
	Converged    bool
	Src, Dst     []float64

	// Iterations done so far and the limit, so a method can finish its
	// update before the driver stops
	Iterations, MaxIt int
}

// Method is a Krylov iteration written in reverse communication form
type Method interface {
	Init(dim int)
	Iterate(ctx *Context) (Operation, error)
}

// CG is the preconditioned conjugate gradient method for symmetric positive
// definite operators
type CG struct {
	p, z, ap []float64
	rho      float64
	first    bool
	resume   int
}

func (cg *CG) Init(dim int) {
	cg.p = make([]float64, dim)
	cg.z = make([]float64, dim)
	cg.ap = make([]float64, dim)
	cg.first = true
	cg.resume = 0
}

func (cg *CG) Iterate(ctx *Context) (Operation, error) {
	switch cg.resume {
	case 0:
		ctx.Src, ctx.Dst = ctx.Residual, cg.z
		cg.resume = 1
		return PSolve, nil
	case 1:
		rho := floats.Dot(ctx.Residual, cg.z)
		if cg.first {
			copy(cg.p, cg.z)
			cg.first = false
		} else {
			beta := rho / cg.rho
			floats.AddScaledTo(cg.p, cg.z, beta, cg.p)
		}
		cg.rho = rho
		ctx.Src, ctx.Dst = cg.p, cg.ap
		cg.resume = 2
		return MatVec, nil
	case 2:
		pap := floats.Dot(cg.p, cg.ap)
		if pap == 0 {
			return NoOperation, newError(CodeNotConverged, "cg breakdown: p'Ap = 0")
		}
		alpha := cg.rho / pap
		floats.AddScaled(ctx.X, alpha, cg.p)
		floats.AddScaled(ctx.Residual, -alpha, cg.ap)
		ctx.ResidualNorm = floats.Norm(ctx.Residual, 2)
		cg.resume = 3
		return CheckConvergence, nil
	case 3:
		cg.resume = 0
		return Iteration, nil
	}
	panic("cg: invalid state")
}

// GMRES is restarted GMRES with right preconditioning, so the residual
// estimate is the true residual norm
type GMRES struct {
	Restart int

	v      [][]float64 // Krylov basis, Restart+1 vectors
	h      [][]float64 // Hessenberg matrix, (Restart+1) x Restart
	cs, sn []float64
	g      []float64
	y      []float64
	z, w   []float64
	k      int
	resume int
	done   bool
}

func (gm *GMRES) Init(dim int) {
	m := gm.Restart
	if m < 1 {
		m = 30
		gm.Restart = m
	}
	gm.v = make([][]float64, m+1)
	for i := range gm.v {
		gm.v[i] = make([]float64, dim)
	}
	gm.h = make([][]float64, m+1)
	for i := range gm.h {
		gm.h[i] = make([]float64, m)
	}
	gm.cs = make([]float64, m)
	gm.sn = make([]float64, m)
	gm.g = make([]float64, m+1)
	gm.y = make([]float64, m)
	gm.z = make([]float64, dim)
	gm.w = make([]float64, dim)
	gm.resume = 0
}

func (gm *GMRES) Iterate(ctx *Context) (Operation, error) {
	switch gm.resume {
	case 0:
		// Start of a cycle
		gm.resume = 1
		return ComputeResidual, nil
	case 1:
		beta := floats.Norm(ctx.Residual, 2)
		ctx.ResidualNorm = beta
		if beta == 0 {
			gm.resume = 7
			return CheckConvergence, nil
		}
		floats.ScaleTo(gm.v[0], 1/beta, ctx.Residual)
		for i := range gm.g {
			gm.g[i] = 0
		}
		gm.g[0] = beta
		gm.k = 0
		gm.done = false
		fallthrough
	case 2:
		ctx.Src, ctx.Dst = gm.v[gm.k], gm.z
		gm.resume = 3
		return PSolve, nil
	case 3:
		ctx.Src, ctx.Dst = gm.z, gm.w
		gm.resume = 4
		return MatVec, nil
	case 4:
		k := gm.k
		for i := 0; i <= k; i++ {
			gm.h[i][k] = floats.Dot(gm.w, gm.v[i])
			floats.AddScaled(gm.w, -gm.h[i][k], gm.v[i])
		}
		hk := floats.Norm(gm.w, 2)
		gm.h[k+1][k] = hk
		if hk != 0 {
			floats.ScaleTo(gm.v[k+1], 1/hk, gm.w)
		} else {
			gm.done = true // happy breakdown
		}
		for i := 0; i < k; i++ {
			a, b := gm.h[i][k], gm.h[i+1][k]
			gm.h[i][k] = gm.cs[i]*a + gm.sn[i]*b
			gm.h[i+1][k] = -gm.sn[i]*a + gm.cs[i]*b
		}
		a, b := gm.h[k][k], gm.h[k+1][k]
		r := math.Hypot(a, b)
		if r == 0 {
			return NoOperation, newError(CodeNotConverged, "gmres breakdown")
		}
		gm.cs[k], gm.sn[k] = a/r, b/r
		gm.h[k][k] = r
		gm.h[k+1][k] = 0
		gm.g[k+1] = -gm.sn[k] * gm.g[k]
		gm.g[k] = gm.cs[k] * gm.g[k]
		gm.k++
		ctx.ResidualNorm = math.Abs(gm.g[gm.k])
		gm.resume = 5
		return CheckConvergence, nil
	case 5:
		last := ctx.Iterations+1 >= ctx.MaxIt
		if !(ctx.Converged || gm.done || last || gm.k == gm.Restart) {
			gm.resume = 8
			return Iteration, nil
		}
		// Solve the triangular system and form the update M^-1 V y
		k := gm.k
		for i := k - 1; i >= 0; i-- {
			s := gm.g[i]
			for j := i + 1; j < k; j++ {
				s -= gm.h[i][j] * gm.y[j]
			}
			gm.y[i] = s / gm.h[i][i]
		}
		for i := range gm.w {
			gm.w[i] = 0
		}
		for i := 0; i < k; i++ {
			floats.AddScaled(gm.w, gm.y[i], gm.v[i])
		}
		ctx.Src, ctx.Dst = gm.w, gm.z
		gm.resume = 6
		return PSolve, nil
	case 6:
		floats.Add(ctx.X, gm.z)
		gm.resume = 0
		return Iteration, nil
	case 7:
		gm.resume = 0
		return Iteration, nil
	case 8:
		gm.resume = 2
		return gm.Iterate(ctx)
	}
	panic("gmres: invalid state")
}

// iterate drives method until convergence or the iteration limit. It
// returns the iteration count and the final residual norm.
func iterate(method Method, matvec, psolve func(dst, src []float64), b, x []float64,
	rtol, atol float64, maxIt int, monitor func(it int, rnorm float64)) (int, float64, error) {
	dim := len(b)
	ctx := &Context{X: x, Residual: make([]float64, dim), MaxIt: maxIt}
	residual := func() {
		matvec(ctx.Residual, ctx.X)
		floats.SubTo(ctx.Residual, b, ctx.Residual)
	}
	tol := math.Max(rtol*floats.Norm(b, 2), atol)

	residual()
	ctx.ResidualNorm = floats.Norm(ctx.Residual, 2)
	if monitor != nil {
		monitor(0, ctx.ResidualNorm)
	}
	if ctx.ResidualNorm <= tol {
		return 0, ctx.ResidualNorm, nil
	}
	method.Init(dim)
	for {
		op, err := method.Iterate(ctx)
		if err != nil {
			return ctx.Iterations, ctx.ResidualNorm, err
		}
		switch op {
		case NoOperation:
		case MatVec:
			matvec(ctx.Dst, ctx.Src)
		case PSolve:
			psolve(ctx.Dst, ctx.Src)
		case ComputeResidual:
			residual()
		case CheckConvergence:
			ctx.Converged = ctx.ResidualNorm <= tol
		case Iteration:
			ctx.Iterations++
			if monitor != nil {
				monitor(ctx.Iterations, ctx.ResidualNorm)
			}
			if ctx.Converged {
				return ctx.Iterations, ctx.ResidualNorm, nil
			}
			if ctx.Iterations >= maxIt {
				return ctx.Iterations, ctx.ResidualNorm,
					newError(CodeNotConverged, "no convergence in %d iterations, residual %.3e", maxIt, ctx.ResidualNorm)
			}
		default:
			panic("ksp: invalid operation")
		}
	}
}
