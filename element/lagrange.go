package element

// P1 is the continuous piecewise linear Lagrange element, one degree of
// freedom per vertex. Local dof i belongs to vertex i.
type P1 struct{}

func (P1) Name() string                  { return "Lagrange Triangle Order 1" }
func (P1) ShortName() string             { return "P1" }
func (P1) Family() Family                { return Lagrange }
func (P1) GeometryType() ElementGeometry { return Tri }
func (P1) Order() int                    { return 1 }
func (P1) Np() int                       { return 3 }
func (P1) ValueSize() int                { return 1 }
func (P1) EntityDofs() EntityDofs        { return EntityDofs{Vertex: 1} }

func (P1) Basis(g *Geometry) Basis { return p1Basis{g: g} }

func (P1) Interpolate(g *Geometry, fn func(x [2]float64, out []float64), dofs []float64) {
	out := make([]float64, 1)
	for i := 0; i < 3; i++ {
		fn(g.X[i], out)
		dofs[i] = out[0]
	}
}

func (P1) DofPoints(g *Geometry) [][2]float64 {
	return [][2]float64{g.X[0], g.X[1], g.X[2]}
}

type p1Basis struct{ g *Geometry }

func (p1Basis) Np() int        { return 3 }
func (p1Basis) ValueSize() int { return 1 }

func (b p1Basis) Eval(x [2]float64, phi, grad []float64) {
	l := b.g.Barycentric(x)
	copy(phi, l[:])
	if grad == nil {
		return
	}
	for i := 0; i < 3; i++ {
		gr := b.g.BarycentricGrad(i)
		grad[2*i], grad[2*i+1] = gr[0], gr[1]
	}
}

// DG0 is the piecewise constant discontinuous element
type DG0 struct{}

func (DG0) Name() string                  { return "Discontinuous Lagrange Triangle Order 0" }
func (DG0) ShortName() string             { return "DG0" }
func (DG0) Family() Family                { return DiscontinuousLagrange }
func (DG0) GeometryType() ElementGeometry { return Tri }
func (DG0) Order() int                    { return 0 }
func (DG0) Np() int                       { return 1 }
func (DG0) ValueSize() int                { return 1 }
func (DG0) EntityDofs() EntityDofs        { return EntityDofs{Cell: 1} }

func (DG0) Basis(*Geometry) Basis { return dg0Basis{} }

// Interpolate evaluates fn at the centroid
func (DG0) Interpolate(g *Geometry, fn func(x [2]float64, out []float64), dofs []float64) {
	out := make([]float64, 1)
	fn(g.Centroid, out)
	dofs[0] = out[0]
}

func (DG0) DofPoints(g *Geometry) [][2]float64 { return [][2]float64{g.Centroid} }

type dg0Basis struct{}

func (dg0Basis) Np() int        { return 1 }
func (dg0Basis) ValueSize() int { return 1 }

func (dg0Basis) Eval(_ [2]float64, phi, grad []float64) {
	phi[0] = 1
	if grad != nil {
		grad[0], grad[1] = 0, 0
	}
}
