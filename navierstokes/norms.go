package navierstokes

import (
	"fmt"
	"math"

	"github.com/notargets/DGBlock/fem"
	"github.com/notargets/DGBlock/mesh"
)

// normDegree integrates the smooth reference solutions
const normDegree = 8

func domainVolume(m *mesh.Mesh) float64 { return m.Comm().AllreduceSum(m.Volume()) }

func valueSize(f *fem.Function) int {
	return f.Space.BlockSize() * f.Space.Element.ValueSize()
}

// NormL2 returns ||uh - exact|| over the mesh, or ||uh|| when exact is nil.
// Collective.
func NormL2(uh *fem.Function, exact func(x [2]float64, out []float64)) (float64, error) {
	n := valueSize(uh)
	val, ref := make([]float64, n), make([]float64, n)
	M, err := fem.Compile(fem.FormSpec{
		Name:             "norm_" + uh.Name,
		Coefficients:     []*fem.Function{uh},
		QuadratureDegree: normDegree,
		Integrals: []fem.IntegralSpec{{Type: fem.CellIntegral, Kernel: func(A []float64, d *fem.KernelData) {
			for _, q := range d.CellPoints() {
				d.Coefficient(0, 0, q.X, val, nil)
				if exact != nil {
					exact(q.X, ref)
				}
				for c := range val {
					e := val[c] - ref[c]
					A[0] += q.W * e * e
				}
			}
		}}},
	}, nil)
	if err != nil {
		return 0, err
	}
	s, err := fem.AssembleScalar(M)
	if err != nil {
		return 0, err
	}
	return math.Sqrt(s), nil
}

// NormDivL2 returns ||div uh|| for a vector valued uh. Collective.
func NormDivL2(uh *fem.Function) (float64, error) {
	if valueSize(uh) != 2 {
		return 0, fmt.Errorf("divergence of %s with %d components", uh.Name, valueSize(uh))
	}
	val, grad := make([]float64, 2), make([]float64, 4)
	M, err := fem.Compile(fem.FormSpec{
		Name:         "div_" + uh.Name,
		Coefficients: []*fem.Function{uh},
		Integrals: []fem.IntegralSpec{{Type: fem.CellIntegral, Kernel: func(A []float64, d *fem.KernelData) {
			for _, q := range d.CellPoints() {
				d.Coefficient(0, 0, q.X, val, grad)
				div := grad[0] + grad[3]
				A[0] += q.W * div * div
			}
		}}},
	}, nil)
	if err != nil {
		return 0, err
	}
	s, err := fem.AssembleScalar(M)
	if err != nil {
		return 0, err
	}
	return math.Sqrt(s), nil
}

// DomainAverage returns the mean of a scalar function. Collective.
func DomainAverage(f *fem.Function) (float64, error) {
	if valueSize(f) != 1 {
		return 0, fmt.Errorf("domain average of %s with %d components", f.Name, valueSize(f))
	}
	val := make([]float64, 1)
	M, err := fem.Compile(fem.FormSpec{
		Name:             "avg_" + f.Name,
		Coefficients:     []*fem.Function{f},
		QuadratureDegree: normDegree,
		Integrals: []fem.IntegralSpec{{Type: fem.CellIntegral, Kernel: func(A []float64, d *fem.KernelData) {
			for _, q := range d.CellPoints() {
				d.Coefficient(0, 0, q.X, val, nil)
				A[0] += q.W * val[0]
			}
		}}},
	}, nil)
	if err != nil {
		return 0, err
	}
	s, err := fem.AssembleScalar(M)
	if err != nil {
		return 0, err
	}
	return s / domainVolume(f.Space.Mesh), nil
}

// Average returns the mean of fn over the mesh. Collective.
func Average(m *mesh.Mesh, fn func(x [2]float64) float64) (float64, error) {
	M, err := fem.Compile(fem.FormSpec{
		Name:             "avg",
		Mesh:             m,
		QuadratureDegree: normDegree,
		Integrals: []fem.IntegralSpec{{Type: fem.CellIntegral, Kernel: func(A []float64, d *fem.KernelData) {
			for _, q := range d.CellPoints() {
				A[0] += q.W * fn(q.X)
			}
		}}},
	}, nil)
	if err != nil {
		return 0, err
	}
	s, err := fem.AssembleScalar(M)
	if err != nil {
		return 0, err
	}
	return s / domainVolume(m), nil
}

// SubtractAverage shifts a scalar function to zero mean. Collective.
func SubtractAverage(f *fem.Function) (float64, error) {
	avg, err := DomainAverage(f)
	if err != nil {
		return 0, err
	}
	data := f.X.Array()
	for i := range data {
		data[i] -= avg
	}
	return avg, nil
}
