package element

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// JacobiGQ computes the N+1 point Gauss quadrature for the Jacobi weight
// (1-x)^alpha (1+x)^beta on [-1,1]
func JacobiGQ(alpha, beta float64, N int) (X, W []float64) {
	return gaussJacobi(alpha, beta, N)
}

// Gamma0 is the integral of the Jacobi weight over [-1,1]
func Gamma0(alpha, beta float64) float64 {
	ab1 := alpha + beta + 1.
	a1 := alpha + 1.
	b1 := beta + 1.
	return math.Gamma(a1) * math.Gamma(b1) * math.Pow(2, ab1) / ab1 / math.Gamma(ab1)
}

// golubWelsch finds the Gauss-Jacobi points as eigenvalues of the Jacobi
// matrix and the weights from the first components of its eigenvectors
func golubWelsch(alpha, beta float64, N int) (X, W []float64) {
	var (
		x, w       []float64
		fac        float64
		h1, d0, d1 []float64
		VVr        *mat.Dense
	)
	if N == 0 {
		x = []float64{-(alpha - beta) / (alpha + beta + 2.)}
		w = []float64{Gamma0(alpha, beta)}
		return x, w
	}

	h1 = make([]float64, N+1)
	for i := 0; i < N+1; i++ {
		h1[i] = 2*float64(i) + alpha + beta
	}

	// main diagonal: d0[i] = -(β²-α²)/((2i+α+β)*(2i+α+β+2))
	d0 = make([]float64, N+1)
	fac = (beta*beta - alpha*alpha)
	for i := 0; i < N+1; i++ {
		val := h1[i]
		d0[i] = fac / (val * (val + 2.))
	}

	// Handle division by zero
	eps := 1.e-16
	if alpha+beta < 10*eps {
		d0[0] = 0.
	}

	// 1st upper diagonal
	d1 = make([]float64, N)
	for i := 0; i < N; i++ {
		ip1 := float64(i + 1)
		val := h1[i]
		d1[i] = 2.0 / (val + 2.0) * math.Sqrt(
			ip1*(ip1+alpha+beta)*(ip1+alpha)*(ip1+beta)/(val+1)/(val+3),
		)
	}

	JJ := NewSymTriDiagonal(d0, d1)

	var eig mat.EigenSym
	ok := eig.Factorize(JJ, true)
	if !ok {
		panic("eigenvalue decomposition failed")
	}
	x = eig.Values(x)

	VVr = mat.NewDense(len(x), len(x), nil)
	eig.VectorsTo(VVr)
	W = make([]float64, len(x))
	g0 := Gamma0(alpha, beta)
	for i, v := range VVr.RawRowView(0) {
		W[i] = v * v * g0
	}
	return x, W
}

func NewSymTriDiagonal(d0, d1 []float64) (Tri *mat.SymDense) {
	n := len(d0)
	dd := make([]float64, n*n)
	for i := 0; i < n; i++ {
		dd[i+i*n] = d0[i]
		if i != n-1 {
			dd[i+1+i*n] = d1[i]
			dd[i+(i+1)*n] = d1[i]
		}
	}
	Tri = mat.NewSymDense(n, dd)
	return
}

// GaussLegendre returns n Gauss points and weights on [-1,1], exact for
// polynomials of degree 2n-1
func GaussLegendre(n int) (X, W []float64) {
	return JacobiGQ(0, 0, n-1)
}

// pointsForDegree is the Gauss point count per direction integrating degree
// d exactly, including the extra collapsed-coordinate factor
func pointsForDegree(d int) int {
	n := (d+2)/2 + 1
	if n < 1 {
		n = 1
	}
	return n
}

// QuadraturePoint is a physical point with its integration weight
type QuadraturePoint struct {
	X [2]float64
	W float64
}

// TriangleQuadrature maps a collapsed Gauss-Jacobi rule onto the cell,
// integrating polynomials of the given degree exactly
func TriangleQuadrature(g *Geometry, degree int) []QuadraturePoint {
	n := pointsForDegree(degree)
	a, wa := JacobiGQ(0, 0, n-1)
	b, wb := JacobiGQ(1, 0, n-1)
	pts := make([]QuadraturePoint, 0, n*n)
	for i := range a {
		for j := range b {
			r := (1+a[i])*(1-b[j])/2 - 1
			s := b[j]
			l1 := (1 + r) / 2
			l2 := (1 + s) / 2
			l0 := 1 - l1 - l2
			var x [2]float64
			for d := 0; d < 2; d++ {
				x[d] = l0*g.X[0][d] + l1*g.X[1][d] + l2*g.X[2][d]
			}
			pts = append(pts, QuadraturePoint{X: x, W: wa[i] * wb[j] / 2 * g.Area / 2})
		}
	}
	return pts
}

// EdgeQuadrature returns n Gauss points on the segment from a to b with
// weights scaled to its length. S holds the segment parameter in [0,1].
func EdgeQuadrature(a, b [2]float64, n int) (pts []QuadraturePoint, S []float64) {
	x, w := GaussLegendre(n)
	length := math.Hypot(b[0]-a[0], b[1]-a[1])
	pts = make([]QuadraturePoint, len(x))
	S = make([]float64, len(x))
	for i := range x {
		s := (1 + x[i]) / 2
		S[i] = s
		pts[i] = QuadraturePoint{
			X: [2]float64{a[0] + s*(b[0]-a[0]), a[1] + s*(b[1]-a[1])},
			W: w[i] * length / 2,
		}
	}
	return pts, S
}
