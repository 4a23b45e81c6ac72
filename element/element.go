// Package element provides the triangle finite elements used by the
// assembler: continuous Lagrange P1, discontinuous DG0 and the
// divergence-conforming BDM1 element.
package element

import "fmt"

type ElementGeometry uint8

const (
	Tri ElementGeometry = iota
	Line
)

// Family distinguishes element families
type Family uint8

const (
	Lagrange Family = iota
	DiscontinuousLagrange
	BrezziDouglasMarini
)

// EntityDofs counts the degrees of freedom attached to each mesh entity
type EntityDofs struct {
	Vertex, Edge, Cell int
}

type Element interface {
	Name() string
	ShortName() string
	Family() Family
	GeometryType() ElementGeometry
	Order() int
	Np() int        // basis functions per cell
	ValueSize() int // components of each basis function
	EntityDofs() EntityDofs

	// Basis returns the basis functions of one physical cell
	Basis(g *Geometry) Basis

	// Interpolate fills the cell degrees of freedom of fn. fn writes
	// ValueSize components at x.
	Interpolate(g *Geometry, fn func(x [2]float64, out []float64), dofs []float64)

	// DofPoints returns a representative point per cell degree of freedom
	DofPoints(g *Geometry) [][2]float64
}

// Basis evaluates the basis functions of one cell
type Basis interface {
	Np() int
	ValueSize() int

	// Eval writes phi[i*vs+c] and, when grad is not nil,
	// grad[(i*vs+c)*2+d] for basis function i, component c, direction d
	Eval(x [2]float64, phi, grad []float64)
}

// New returns the element of a family and order
func New(family Family, order int) (Element, error) {
	switch {
	case family == Lagrange && order == 1:
		return P1{}, nil
	case family == DiscontinuousLagrange && order == 0:
		return DG0{}, nil
	case family == BrezziDouglasMarini && order == 1:
		return BDM1{}, nil
	}
	return nil, fmt.Errorf("element family %d order %d not available", family, order)
}

// Eval is a convenience returning freshly allocated values and gradients
func Eval(b Basis, x [2]float64) (phi, grad []float64) {
	n := b.Np() * b.ValueSize()
	phi = make([]float64, n)
	grad = make([]float64, 2*n)
	b.Eval(x, phi, grad)
	return
}
