package fem

import (
	"fmt"

	"github.com/notargets/DGBlock/element"
	"github.com/notargets/DGBlock/mesh"
)

type IntegralType uint8

const (
	CellIntegral IntegralType = iota
	ExteriorFacetIntegral
	InteriorFacetIntegral
)

func (t IntegralType) String() string {
	switch t {
	case CellIntegral:
		return "cell"
	case ExteriorFacetIntegral:
		return "exterior_facet"
	case InteriorFacetIntegral:
		return "interior_facet"
	}
	return fmt.Sprintf("IntegralType(%d)", int(t))
}

// Kernel computes the local tensor of one integration entity into A. For a
// bilinear form A is row major with test rows and trial columns; linear
// forms fill a vector over the test functions and functionals a single
// value. On interior facets the test and trial functions of both cells are
// concatenated, Cells[0] first. Within a cell, the entry of basis function i
// and block component c sits at i*bs+c.
type Kernel func(A []float64, d *KernelData)

// IntegralSpec is one integral of a form
type IntegralSpec struct {
	Type   IntegralType
	Kernel Kernel
	// Marker restricts the integral to cells by centroid or facets by
	// midpoint. Nil selects every entity.
	Marker func(x [2]float64) bool
}

// FormSpec describes a form before compilation. Spaces holds the test space
// and, for bilinear forms, the trial space. A functional has no spaces and
// takes its mesh from Mesh or from its coefficients. A bilinear form without
// integrals is a structurally present zero block.
type FormSpec struct {
	Name             string
	Mesh             *mesh.Mesh
	Spaces           []*FunctionSpace
	Integrals        []IntegralSpec
	Coefficients     []*Function
	Constants        []*Constant
	QuadratureDegree int // 0 selects the compiler option
}

// CompilerOptions control how forms are lowered to kernels
type CompilerOptions struct {
	ScalarType       string `toml:"scalar_type"`
	QuadratureDegree int    `toml:"quadrature_degree"`
}

const (
	DefaultQuadratureDegree = 4
	maxQuadratureDegree     = 30
)

// Form is a compiled form. It is immutable and refers to, but does not own,
// its spaces, coefficients and constants.
type Form struct {
	Name             string
	Mesh             *mesh.Mesh
	Spaces           []*FunctionSpace
	Integrals        []IntegralSpec
	Coefficients     []*Function
	Constants        []*Constant
	QuadratureDegree int
}

// Rank is 0 for functionals, 1 for linear and 2 for bilinear forms
func (f *Form) Rank() int { return len(f.Spaces) }

func (f *Form) FunctionSpaces() []*FunctionSpace { return f.Spaces }

// Compile validates spec and binds its kernels. Every failure wraps
// ErrCompile.
func Compile(spec FormSpec, opts *CompilerOptions) (*Form, error) {
	if opts == nil {
		opts = &CompilerOptions{}
	}
	fail := func(format string, args ...any) error {
		return fmt.Errorf("form %q: %s: %w", spec.Name, fmt.Sprintf(format, args...), ErrCompile)
	}
	switch opts.ScalarType {
	case "", "float64", "double":
	default:
		return nil, fail("scalar type %q not supported", opts.ScalarType)
	}
	if len(spec.Spaces) > 2 {
		return nil, fail("%d arguments, at most 2 supported", len(spec.Spaces))
	}

	m := spec.Mesh
	sameMesh := func(other *mesh.Mesh) bool {
		if m == nil {
			m = other
		}
		return m == other
	}
	for i, V := range spec.Spaces {
		if V == nil {
			return nil, fail("argument %d has no function space", i)
		}
		if !sameMesh(V.Mesh) {
			return nil, fail("argument %d lives on another mesh", i)
		}
	}
	for i, c := range spec.Coefficients {
		if c == nil {
			return nil, fail("coefficient %d is nil", i)
		}
		if !sameMesh(c.Space.Mesh) {
			return nil, fail("coefficient %q lives on another mesh", c.Name)
		}
	}
	for i, c := range spec.Constants {
		if c == nil {
			return nil, fail("constant %d is nil", i)
		}
	}
	if m == nil {
		return nil, fail("no mesh")
	}
	if len(spec.Integrals) == 0 && len(spec.Spaces) != 2 {
		return nil, fail("no integrals")
	}
	for i, in := range spec.Integrals {
		if in.Kernel == nil {
			return nil, fail("integral %d (%v) has no kernel", i, in.Type)
		}
		if in.Type > InteriorFacetIntegral {
			return nil, fail("integral %d has unknown type %v", i, in.Type)
		}
	}

	degree := spec.QuadratureDegree
	if degree == 0 {
		degree = opts.QuadratureDegree
	}
	if degree == 0 {
		degree = DefaultQuadratureDegree
	}
	if degree < 0 || degree > maxQuadratureDegree {
		return nil, fail("quadrature degree %d out of range [0,%d]", degree, maxQuadratureDegree)
	}

	return &Form{
		Name:             spec.Name,
		Mesh:             m,
		Spaces:           append([]*FunctionSpace(nil), spec.Spaces...),
		Integrals:        append([]IntegralSpec(nil), spec.Integrals...),
		Coefficients:     append([]*Function(nil), spec.Coefficients...),
		Constants:        append([]*Constant(nil), spec.Constants...),
		QuadratureDegree: degree,
	}, nil
}

// CompileGrid compiles a grid of form specs, keeping nil entries as absent
// blocks
func CompileGrid(specs [][]*FormSpec, opts *CompilerOptions) ([][]*Form, error) {
	out := make([][]*Form, len(specs))
	for i, row := range specs {
		out[i] = make([]*Form, len(row))
		for j, s := range row {
			if s == nil {
				continue
			}
			f, err := Compile(*s, opts)
			if err != nil {
				return nil, err
			}
			out[i][j] = f
		}
	}
	return out, nil
}

// CompileList compiles a list of form specs, keeping nil entries
func CompileList(specs []*FormSpec, opts *CompilerOptions) ([]*Form, error) {
	out := make([]*Form, len(specs))
	for i, s := range specs {
		if s == nil {
			continue
		}
		f, err := Compile(*s, opts)
		if err != nil {
			return nil, err
		}
		out[i] = f
	}
	return out, nil
}

// KernelData is the input of a Kernel for one integration entity
type KernelData struct {
	Type        IntegralType
	Cells       []int // one cell, or both cells of an interior facet
	Facet       int   // mesh edge, -1 for cell integrals
	LocalFacets []int // local index of Facet in each cell
	Geom        []*element.Geometry

	// Bases of the test and trial space per cell, nil for absent arguments
	Test, Trial     []element.Basis
	TestBS, TrialBS int

	// Coefficient degrees of freedom per coefficient, concatenated over
	// Cells in i*bs+c order, and their bases per cell
	Coeffs     [][]float64
	CoeffBasis [][]element.Basis
	CoeffBS    []int

	Constants [][]float64

	// Normal is the unit normal of Facet pointing out of Cells[0]
	Normal     [2]float64
	QuadDegree int
}

// CellPoints returns the quadrature rule of the (first) cell
func (d *KernelData) CellPoints() []element.QuadraturePoint {
	return element.TriangleQuadrature(d.Geom[0], d.QuadDegree)
}

// FacetPoints returns a Gauss rule on the facet exact to the form degree
func (d *KernelData) FacetPoints() []element.QuadraturePoint {
	xa, xb := d.Geom[0].Edge(d.LocalFacets[0])
	pts, _ := element.EdgeQuadrature(xa, xb, d.QuadDegree/2+1)
	return pts
}

// Coefficient evaluates coefficient i of cell side at x. val receives
// bs*vs components c*vs+v; grad, when not nil, their x and y derivatives
// at (c*vs+v)*2+d.
func (d *KernelData) Coefficient(i, side int, x [2]float64, val, grad []float64) {
	b := d.CoeffBasis[i][side]
	np, vs, bs := b.Np(), b.ValueSize(), d.CoeffBS[i]
	off := 0
	for s := 0; s < side; s++ {
		off += d.CoeffBasis[i][s].Np() * bs
	}
	dofs := d.Coeffs[i][off : off+np*bs]
	phi := make([]float64, np*vs)
	var g []float64
	if grad != nil {
		g = make([]float64, 2*np*vs)
	}
	b.Eval(x, phi, g)
	for k := range val[:bs*vs] {
		val[k] = 0
	}
	for k := range grad {
		grad[k] = 0
	}
	for j := 0; j < np; j++ {
		for c := 0; c < bs; c++ {
			u := dofs[j*bs+c]
			for v := 0; v < vs; v++ {
				val[c*vs+v] += u * phi[j*vs+v]
				if grad != nil {
					grad[(c*vs+v)*2] += u * g[(j*vs+v)*2]
					grad[(c*vs+v)*2+1] += u * g[(j*vs+v)*2+1]
				}
			}
		}
	}
}

// AssembleOption supplies pre-packed data to an assembly call
type AssembleOption func(*assembleOptions)

type assembleOptions struct {
	coeffs [][]float64
	consts [][]float64
}

// WithCoefficients uses coefficient arrays packed by PackCoefficients
func WithCoefficients(c [][]float64) AssembleOption {
	return func(o *assembleOptions) { o.coeffs = c }
}

// WithConstants uses constant values packed by PackConstants
func WithConstants(c [][]float64) AssembleOption {
	return func(o *assembleOptions) { o.consts = c }
}

// PackCoefficients captures the local arrays (owned and ghosts) of the
// form's coefficients
func PackCoefficients(f *Form) [][]float64 {
	out := make([][]float64, len(f.Coefficients))
	for i, c := range f.Coefficients {
		out[i] = append([]float64(nil), c.X.Array()...)
	}
	return out
}

// PackConstants captures the values of the form's constants
func PackConstants(f *Form) [][]float64 {
	out := make([][]float64, len(f.Constants))
	for i, c := range f.Constants {
		out[i] = append([]float64(nil), c.Value...)
	}
	return out
}

func resolveOptions(f *Form, opts []AssembleOption) assembleOptions {
	var o assembleOptions
	for _, fn := range opts {
		fn(&o)
	}
	if o.coeffs == nil {
		o.coeffs = PackCoefficients(f)
	}
	if o.consts == nil {
		o.consts = PackConstants(f)
	}
	return o
}
