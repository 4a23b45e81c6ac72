package navierstokes

import (
	"github.com/notargets/DGBlock/element"
	"github.com/notargets/DGBlock/fem"
)

// Vector valued bases evaluate to phi[2j+c] and grad[4j+2c+d], the
// derivative of component c of basis function j along x_d.

// normalDerivative returns (grad phi_jc).n at 2j+c
func normalDerivative(grad []float64, n [2]float64) []float64 {
	out := make([]float64, len(grad)/2)
	for k := range out {
		out[k] = grad[2*k]*n[0] + grad[2*k+1]*n[1]
	}
	return out
}

func divergence(grad []float64, j int) float64 { return grad[4*j] + grad[4*j+3] }

func dot2(a []float64, i int, b []float64, j int) float64 {
	return a[2*i]*b[2*j] + a[2*i+1]*b[2*j+1]
}

var sideSign = [2]float64{1, -1}

func noop([]float64, *fem.KernelData) {}

// Viscous terms, symmetric interior penalty

func viscousCell(nu float64) fem.Kernel {
	return func(A []float64, d *fem.KernelData) {
		n := d.Test[0].Np()
		for _, q := range d.CellPoints() {
			_, g := element.Eval(d.Test[0], q.X)
			for i := 0; i < n; i++ {
				for j := 0; j < n; j++ {
					var s float64
					for k := 0; k < 4; k++ {
						s += g[4*i+k] * g[4*j+k]
					}
					A[i*n+j] += q.W * nu * s
				}
			}
		}
	}
}

// viscousInterior couples the two cells of a facet through the average
// normal flux and the penalized jump, with h the mean cell diameter
func viscousInterior(nu, alpha float64) fem.Kernel {
	return func(A []float64, d *fem.KernelData) {
		n0 := d.Test[0].Np()
		nt := 2 * n0
		h := (d.Geom[0].Diameter + d.Geom[1].Diameter) / 2
		var phi, dn [2][]float64
		for _, q := range d.FacetPoints() {
			for s := 0; s < 2; s++ {
				var g []float64
				phi[s], g = element.Eval(d.Test[s], q.X)
				dn[s] = normalDerivative(g, d.Normal)
			}
			for si := 0; si < 2; si++ {
				for i := 0; i < n0; i++ {
					row := (si*n0 + i) * nt
					for sj := 0; sj < 2; sj++ {
						for j := 0; j < n0; j++ {
							jump := dot2(phi[si], i, phi[sj], j)
							fluxU := dot2(dn[sj], j, phi[si], i)
							fluxV := dot2(dn[si], i, phi[sj], j)
							A[row+sj*n0+j] += q.W * nu * (-0.5*sideSign[si]*fluxU - 0.5*sideSign[sj]*fluxV +
								alpha/h*sideSign[si]*sideSign[sj]*jump)
						}
					}
				}
			}
		}
	}
}

func viscousExterior(nu, alpha float64) fem.Kernel {
	return func(A []float64, d *fem.KernelData) {
		n := d.Test[0].Np()
		h := d.Geom[0].Diameter
		for _, q := range d.FacetPoints() {
			phi, g := element.Eval(d.Test[0], q.X)
			dn := normalDerivative(g, d.Normal)
			for i := 0; i < n; i++ {
				for j := 0; j < n; j++ {
					A[i*n+j] += q.W * nu * (-dot2(dn, j, phi, i) - dot2(dn, i, phi, j) + alpha/h*dot2(phi, i, phi, j))
				}
			}
		}
	}
}

// viscousBoundaryLoad is the weakly imposed boundary velocity, coefficient 0
func viscousBoundaryLoad(nu, alpha float64) fem.Kernel {
	return func(b []float64, d *fem.KernelData) {
		n := d.Test[0].Np()
		h := d.Geom[0].Diameter
		uD := make([]float64, 2)
		for _, q := range d.FacetPoints() {
			phi, g := element.Eval(d.Test[0], q.X)
			dn := normalDerivative(g, d.Normal)
			d.Coefficient(0, 0, q.X, uD, nil)
			for i := 0; i < n; i++ {
				b[i] += q.W * nu * (-dot2(uD, 0, dn, i) + alpha/h*dot2(uD, 0, phi, i))
			}
		}
	}
}

func forcingLoad(f func(x [2]float64, out []float64)) fem.Kernel {
	return func(b []float64, d *fem.KernelData) {
		n := d.Test[0].Np()
		fx := make([]float64, 2)
		for _, q := range d.CellPoints() {
			phi, _ := element.Eval(d.Test[0], q.X)
			f(q.X, fx)
			for i := 0; i < n; i++ {
				b[i] += q.W * dot2(fx, 0, phi, i)
			}
		}
	}
}

// Pressure coupling

// gradientCell is -(p, div v) with v the test function
func gradientCell(A []float64, d *fem.KernelData) {
	n := d.Test[0].Np()
	for _, q := range d.CellPoints() {
		_, g := element.Eval(d.Test[0], q.X)
		for i := 0; i < n; i++ {
			A[i] -= q.W * divergence(g, i)
		}
	}
}

// divergenceCell is -(div u, q) with u the trial function
func divergenceCell(A []float64, d *fem.KernelData) {
	n := d.Trial[0].Np()
	for _, q := range d.CellPoints() {
		_, g := element.Eval(d.Trial[0], q.X)
		for j := 0; j < n; j++ {
			A[j] -= q.W * divergence(g, j)
		}
	}
}

// Convection, linearized about the previous velocity un (coefficient 0 of
// the bilinear form)

func convectionCell(dt float64) fem.Kernel {
	return func(A []float64, d *fem.KernelData) {
		n := d.Test[0].Np()
		un := make([]float64, 2)
		gun := make([]float64, 4)
		for _, q := range d.CellPoints() {
			phi, g := element.Eval(d.Test[0], q.X)
			d.Coefficient(0, 0, q.X, un, gun)
			div := gun[0] + gun[3]
			for i := 0; i < n; i++ {
				// div(v_i (x) un) per component
				var dv [2]float64
				for c := 0; c < 2; c++ {
					dv[c] = g[4*i+2*c]*un[0] + g[4*i+2*c+1]*un[1] + phi[2*i+c]*div
				}
				for j := 0; j < n; j++ {
					mass := dot2(phi, i, phi, j) / dt
					adv := phi[2*j]*dv[0] + phi[2*j+1]*dv[1]
					A[i*n+j] += q.W * (mass - adv)
				}
			}
		}
	}
}

// convectionInterior takes the trial function from the upwind cell
func convectionInterior(A []float64, d *fem.KernelData) {
	n0 := d.Test[0].Np()
	nt := 2 * n0
	un := make([]float64, 2)
	var phi [2][]float64
	for _, q := range d.FacetPoints() {
		d.Coefficient(0, 0, q.X, un, nil)
		unn := un[0]*d.Normal[0] + un[1]*d.Normal[1]
		if unn == 0 {
			continue
		}
		up := 0
		if unn < 0 {
			up = 1
		}
		for s := 0; s < 2; s++ {
			phi[s], _ = element.Eval(d.Test[s], q.X)
		}
		for si := 0; si < 2; si++ {
			for i := 0; i < n0; i++ {
				row := (si*n0 + i) * nt
				for j := 0; j < n0; j++ {
					A[row+up*n0+j] += q.W * unn * sideSign[si] * dot2(phi[si], i, phi[up], j)
				}
			}
		}
	}
}

// convectionOutflow carries the interior velocity out of the domain
func convectionOutflow(A []float64, d *fem.KernelData) {
	n := d.Test[0].Np()
	un := make([]float64, 2)
	for _, q := range d.FacetPoints() {
		d.Coefficient(0, 0, q.X, un, nil)
		unn := un[0]*d.Normal[0] + un[1]*d.Normal[1]
		if unn <= 0 {
			continue
		}
		phi, _ := element.Eval(d.Test[0], q.X)
		for i := 0; i < n; i++ {
			for j := 0; j < n; j++ {
				A[i*n+j] += q.W * unn * dot2(phi, i, phi, j)
			}
		}
	}
}

// Right hand side of a time step: uD is coefficient 0 and un coefficient 1

func previousVelocityLoad(dt float64) fem.Kernel {
	return func(b []float64, d *fem.KernelData) {
		n := d.Test[0].Np()
		un := make([]float64, 2)
		for _, q := range d.CellPoints() {
			phi, _ := element.Eval(d.Test[0], q.X)
			d.Coefficient(1, 0, q.X, un, nil)
			for i := 0; i < n; i++ {
				b[i] += q.W * dot2(un, 0, phi, i) / dt
			}
		}
	}
}

func inflowLoad(b []float64, d *fem.KernelData) {
	n := d.Test[0].Np()
	uD := make([]float64, 2)
	un := make([]float64, 2)
	for _, q := range d.FacetPoints() {
		d.Coefficient(1, 0, q.X, un, nil)
		unn := un[0]*d.Normal[0] + un[1]*d.Normal[1]
		if unn > 0 {
			continue
		}
		phi, _ := element.Eval(d.Test[0], q.X)
		d.Coefficient(0, 0, q.X, uD, nil)
		for i := 0; i < n; i++ {
			b[i] -= q.W * unn * dot2(uD, 0, phi, i)
		}
	}
}

// Forms is the 2x2 block system of one velocity-pressure solve
type Forms struct {
	A [][]*fem.FormSpec
	L []*fem.FormSpec
}

// StokesForms builds the Stokes system on V (BDM1) and Q (DG0) with
// viscosity nu and penalty alpha. uD is the boundary velocity and f, when
// not nil, the body force. The pressure block a11 is a present zero form so
// a pressure constraint has a diagonal to live on.
func StokesForms(V, Q *fem.FunctionSpace, uD *fem.Function, f func(x [2]float64, out []float64), nu, alpha float64) Forms {
	a00 := &fem.FormSpec{
		Name:   "a00",
		Spaces: []*fem.FunctionSpace{V, V},
		Integrals: []fem.IntegralSpec{
			{Type: fem.CellIntegral, Kernel: viscousCell(nu)},
			{Type: fem.InteriorFacetIntegral, Kernel: viscousInterior(nu, alpha)},
			{Type: fem.ExteriorFacetIntegral, Kernel: viscousExterior(nu, alpha)},
		},
	}
	a01 := &fem.FormSpec{Name: "a01", Spaces: []*fem.FunctionSpace{V, Q},
		Integrals: []fem.IntegralSpec{{Type: fem.CellIntegral, Kernel: gradientCell}}}
	a10 := &fem.FormSpec{Name: "a10", Spaces: []*fem.FunctionSpace{Q, V},
		Integrals: []fem.IntegralSpec{{Type: fem.CellIntegral, Kernel: divergenceCell}}}
	a11 := &fem.FormSpec{Name: "a11", Spaces: []*fem.FunctionSpace{Q, Q}}

	L0 := &fem.FormSpec{
		Name:         "L0",
		Spaces:       []*fem.FunctionSpace{V},
		Coefficients: []*fem.Function{uD},
		Integrals: []fem.IntegralSpec{
			{Type: fem.ExteriorFacetIntegral, Kernel: viscousBoundaryLoad(nu, alpha)},
		},
	}
	if f != nil {
		L0.Integrals = append(L0.Integrals, fem.IntegralSpec{Type: fem.CellIntegral, Kernel: forcingLoad(f)})
	}
	L1 := &fem.FormSpec{Name: "L1", Spaces: []*fem.FunctionSpace{Q},
		Integrals: []fem.IntegralSpec{{Type: fem.CellIntegral, Kernel: noop}}}

	return Forms{
		A: [][]*fem.FormSpec{{a00, a01}, {a10, a11}},
		L: []*fem.FormSpec{L0, L1},
	}
}

// NavierStokesForms adds an implicit Euler step of size dt with convection
// linearized about un to the Stokes system. The convected velocity is
// upwinded on facets and taken from uD where the flow enters the domain.
func NavierStokesForms(V, Q *fem.FunctionSpace, uD, un *fem.Function, f func(x [2]float64, out []float64), nu, alpha, dt float64) Forms {
	forms := StokesForms(V, Q, uD, f, nu, alpha)
	a00, L0 := forms.A[0][0], forms.L[0]
	a00.Coefficients = []*fem.Function{un}
	a00.Integrals = append(a00.Integrals,
		fem.IntegralSpec{Type: fem.CellIntegral, Kernel: convectionCell(dt)},
		fem.IntegralSpec{Type: fem.InteriorFacetIntegral, Kernel: convectionInterior},
		fem.IntegralSpec{Type: fem.ExteriorFacetIntegral, Kernel: convectionOutflow},
	)
	L0.Coefficients = append(L0.Coefficients, un)
	L0.Integrals = append(L0.Integrals,
		fem.IntegralSpec{Type: fem.CellIntegral, Kernel: previousVelocityLoad(dt)},
		fem.IntegralSpec{Type: fem.ExteriorFacetIntegral, Kernel: inflowLoad},
	)
	return forms
}
