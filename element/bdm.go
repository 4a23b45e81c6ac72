package element

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// BDM1 is the lowest order Brezzi-Douglas-Marini element: full linear vector
// fields whose degrees of freedom are the normal flux moments against the
// Legendre polynomials L0 = 1 and L1 = 2s-1 along each edge. Edges are
// parametrised from their lower to their higher global vertex, so adjacent
// cells agree on every moment and the normal component is continuous.
// Local dof 2i+k is moment k on the edge opposite vertex i.
type BDM1 struct{}

func (BDM1) Name() string                  { return "Brezzi-Douglas-Marini Triangle Order 1" }
func (BDM1) ShortName() string             { return "BDM1" }
func (BDM1) Family() Family                { return BrezziDouglasMarini }
func (BDM1) GeometryType() ElementGeometry { return Tri }
func (BDM1) Order() int                    { return 1 }
func (BDM1) Np() int                       { return 6 }
func (BDM1) ValueSize() int                { return 2 }
func (BDM1) EntityDofs() EntityDofs        { return EntityDofs{Edge: 2} }

// Edge moments of a linear field need two Gauss points, interpolation of
// general data uses more
const (
	bdmBasisPoints  = 2
	bdmInterpPoints = 6
)

// edgeMoments integrates (f.n) L_k along edge i for k = 0, 1
func edgeMoments(g *Geometry, i, npts int, fn func(x [2]float64, out []float64)) [2]float64 {
	xa, xb := g.Edge(i)
	n := g.EdgeNormal(i)
	pts, S := EdgeQuadrature(xa, xb, npts)
	out := make([]float64, 2)
	var m [2]float64
	for q, p := range pts {
		fn(p.X, out)
		flux := out[0]*n[0] + out[1]*n[1]
		m[0] += p.W * flux
		m[1] += p.W * flux * (2*S[q] - 1)
	}
	return m
}

func (BDM1) Basis(g *Geometry) Basis {
	b := &bdmBasis{g: g}
	// V[dof][m] = dof applied to monomial m
	V := mat.NewDense(6, 6, nil)
	for m := 0; m < 6; m++ {
		mono := func(x [2]float64, out []float64) { b.monomial(m, x, out) }
		for i := 0; i < 3; i++ {
			mom := edgeMoments(g, i, bdmBasisPoints, mono)
			V.Set(2*i, m, mom[0])
			V.Set(2*i+1, m, mom[1])
		}
	}
	if err := b.C.Inverse(V); err != nil {
		panic(fmt.Errorf("BDM1 moment matrix of cell %v: %w", g.V, err))
	}
	return b
}

// Interpolate computes the edge moments of fn
func (BDM1) Interpolate(g *Geometry, fn func(x [2]float64, out []float64), dofs []float64) {
	for i := 0; i < 3; i++ {
		m := edgeMoments(g, i, bdmInterpPoints, fn)
		dofs[2*i], dofs[2*i+1] = m[0], m[1]
	}
}

func (BDM1) DofPoints(g *Geometry) [][2]float64 {
	pts := make([][2]float64, 6)
	for i := 0; i < 3; i++ {
		xa, xb := g.Edge(i)
		mid := [2]float64{(xa[0] + xb[0]) / 2, (xa[1] + xb[1]) / 2}
		pts[2*i], pts[2*i+1] = mid, mid
	}
	return pts
}

// bdmBasis expands every basis function in the monomials (1,0), (ξ,0),
// (η,0), (0,1), (0,ξ), (0,η) with ξ, η the centroid-relative coordinates
// scaled by the cell diameter
type bdmBasis struct {
	g *Geometry
	C mat.Dense // C[m][j]: coefficient of monomial m in basis function j
}

func (*bdmBasis) Np() int        { return 6 }
func (*bdmBasis) ValueSize() int { return 2 }

func (b *bdmBasis) local(x [2]float64) (xi, eta float64) {
	h := b.g.Diameter
	return (x[0] - b.g.Centroid[0]) / h, (x[1] - b.g.Centroid[1]) / h
}

func (b *bdmBasis) monomial(m int, x [2]float64, out []float64) {
	xi, eta := b.local(x)
	out[0], out[1] = 0, 0
	switch m {
	case 0:
		out[0] = 1
	case 1:
		out[0] = xi
	case 2:
		out[0] = eta
	case 3:
		out[1] = 1
	case 4:
		out[1] = xi
	case 5:
		out[1] = eta
	}
}

func (b *bdmBasis) Eval(x [2]float64, phi, grad []float64) {
	xi, eta := b.local(x)
	h := b.g.Diameter
	for j := 0; j < 6; j++ {
		c := func(m int) float64 { return b.C.At(m, j) }
		phi[2*j] = c(0) + c(1)*xi + c(2)*eta
		phi[2*j+1] = c(3) + c(4)*xi + c(5)*eta
		if grad == nil {
			continue
		}
		grad[4*j+0] = c(1) / h // ∂x of component 0
		grad[4*j+1] = c(2) / h // ∂y of component 0
		grad[4*j+2] = c(4) / h
		grad[4*j+3] = c(5) / h
	}
}
