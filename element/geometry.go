package element

import (
	"math"
)

// Geometry is the affine map of one triangle from the reference simplex
// (r,s) in [0,1], r+s<=1 to physical space
type Geometry struct {
	X [3][2]float64 // vertex coordinates
	V [3]int        // global vertex indices

	// Inverse Jacobian components (∂r/∂x, ...) and the Jacobian determinant
	Rx, Ry, Sx, Sy float64
	J              float64

	Area     float64
	Centroid [2]float64
	Diameter float64 // largest vertex distance
}

// NewGeometry builds the affine map of a triangle with counterclockwise or
// clockwise vertex order
func NewGeometry(X [3][2]float64, V [3]int) *Geometry {
	g := &Geometry{X: X, V: V}
	xr, yr := X[1][0]-X[0][0], X[1][1]-X[0][1]
	xs, ys := X[2][0]-X[0][0], X[2][1]-X[0][1]
	g.J = xr*ys - xs*yr
	g.Rx, g.Ry = ys/g.J, -xs/g.J
	g.Sx, g.Sy = -yr/g.J, xr/g.J
	g.Area = math.Abs(g.J) / 2
	for d := 0; d < 2; d++ {
		g.Centroid[d] = (X[0][d] + X[1][d] + X[2][d]) / 3
	}
	for i := 0; i < 3; i++ {
		j := (i + 1) % 3
		g.Diameter = math.Max(g.Diameter, math.Hypot(X[j][0]-X[i][0], X[j][1]-X[i][1]))
	}
	return g
}

// Barycentric returns the barycentric coordinates of x
func (g *Geometry) Barycentric(x [2]float64) [3]float64 {
	dx, dy := x[0]-g.X[0][0], x[1]-g.X[0][1]
	r := g.Rx*dx + g.Ry*dy
	s := g.Sx*dx + g.Sy*dy
	return [3]float64{1 - r - s, r, s}
}

// BarycentricGrad is the constant gradient of barycentric coordinate i
func (g *Geometry) BarycentricGrad(i int) [2]float64 {
	switch i {
	case 1:
		return [2]float64{g.Rx, g.Ry}
	case 2:
		return [2]float64{g.Sx, g.Sy}
	}
	return [2]float64{-g.Rx - g.Sx, -g.Ry - g.Sy}
}

// EdgeVertices returns the local vertices of edge i (the edge opposite
// vertex i) ordered from lower to higher global vertex index
func (g *Geometry) EdgeVertices(i int) (a, b int) {
	a, b = (i+1)%3, (i+2)%3
	if g.V[a] > g.V[b] {
		a, b = b, a
	}
	return
}

// Edge returns the endpoints of edge i in global orientation
func (g *Geometry) Edge(i int) (xa, xb [2]float64) {
	a, b := g.EdgeVertices(i)
	return g.X[a], g.X[b]
}

func (g *Geometry) EdgeLength(i int) float64 {
	xa, xb := g.Edge(i)
	return math.Hypot(xb[0]-xa[0], xb[1]-xa[1])
}

// EdgeNormal is the unit normal of edge i obtained by rotating its global
// tangent clockwise. It is shared by both cells adjacent to the edge.
func (g *Geometry) EdgeNormal(i int) [2]float64 {
	xa, xb := g.Edge(i)
	tx, ty := xb[0]-xa[0], xb[1]-xa[1]
	l := math.Hypot(tx, ty)
	return [2]float64{ty / l, -tx / l}
}

// OutwardNormal is the unit normal of edge i pointing out of the cell
func (g *Geometry) OutwardNormal(i int) [2]float64 {
	n := g.EdgeNormal(i)
	xa, _ := g.Edge(i)
	// The opposite vertex lies on the inner side
	if (g.X[i][0]-xa[0])*n[0]+(g.X[i][1]-xa[1])*n[1] > 0 {
		n[0], n[1] = -n[0], -n[1]
	}
	return n
}
