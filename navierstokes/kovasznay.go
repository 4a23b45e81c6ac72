// Package navierstokes solves the incompressible Stokes and Navier-Stokes
// equations on the unit square with a divergence conforming discontinuous
// Galerkin method: BDM1 velocity, DG0 pressure, symmetric interior penalty
// viscous terms and upwinded convection. Kovasznay flow supplies boundary
// data and the reference solution.
package navierstokes

import (
	"math"
)

// Kovasznay is the steady Navier-Stokes solution of Kovasznay (1948) for
// Reynolds number Re
type Kovasznay struct {
	Re float64
}

// Lambda is the decay rate Re/2 - sqrt(Re^2/4 + 4 pi^2)
func (k Kovasznay) Lambda() float64 {
	return k.Re/2 - math.Sqrt(k.Re*k.Re/4+4*math.Pi*math.Pi)
}

func (k Kovasznay) Velocity(x [2]float64, out []float64) {
	l := k.Lambda()
	e := math.Exp(l * x[0])
	out[0] = 1 - e*math.Cos(2*math.Pi*x[1])
	out[1] = l / (2 * math.Pi) * e * math.Sin(2*math.Pi*x[1])
}

// VelocityGrad returns g[i][j] = d u_i / d x_j
func (k Kovasznay) VelocityGrad(x [2]float64) (g [2][2]float64) {
	l := k.Lambda()
	e := math.Exp(l * x[0])
	c, s := math.Cos(2*math.Pi*x[1]), math.Sin(2*math.Pi*x[1])
	g[0][0] = -l * e * c
	g[0][1] = 2 * math.Pi * e * s
	g[1][0] = l * l / (2 * math.Pi) * e * s
	g[1][1] = l * e * c
	return
}

func (k Kovasznay) Pressure(x [2]float64) float64 {
	return 0.5 * (1 - math.Exp(2*k.Lambda()*x[0]))
}

// Convection writes (u.grad)u. A Stokes problem forced by its negative has
// the Kovasznay flow as solution.
func (k Kovasznay) Convection(x [2]float64, out []float64) {
	u := make([]float64, 2)
	k.Velocity(x, u)
	g := k.VelocityGrad(x)
	for i := 0; i < 2; i++ {
		out[i] = u[0]*g[i][0] + u[1]*g[i][1]
	}
}

// MeanPressure is the integral of the pressure over the unit square
func (k Kovasznay) MeanPressure() float64 {
	l := k.Lambda()
	return 0.5 * (1 - (math.Exp(2*l)-1)/(2*l))
}
