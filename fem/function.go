package fem

import (
	"github.com/notargets/DGBlock/element"
	"github.com/notargets/DGBlock/la"
)

// Function is a finite element field: a Single vector over the dof map of
// its space. The vector holds owned and ghost values; ghosts are current
// after ScatterForward.
type Function struct {
	Space *FunctionSpace
	X     *la.Vector
	Name  string
}

func NewFunction(V *FunctionSpace, name string) *Function {
	return &Function{
		Space: V,
		X:     la.NewVector(V.IndexMap(), V.BlockSize()),
		Name:  name,
	}
}

// Interpolate sets the degrees of freedom of every held cell from fn, which
// writes ValueSize*BS components. Shared degrees of freedom get the same
// value from every cell, so ghosts are consistent without communication.
func (f *Function) Interpolate(fn func(x [2]float64, out []float64)) {
	V := f.Space
	bs := V.BlockSize()
	el := V.Element
	vs := el.ValueSize()
	data := f.X.Array()
	full := make([]float64, vs*bs)
	dofs := make([]float64, el.Np())
	for _, k := range V.Mesh.LocalCells() {
		g := V.Mesh.Geometry(k)
		cell := V.DofMap.CellDofs(k)
		for c := 0; c < bs; c++ {
			el.Interpolate(g, func(x [2]float64, out []float64) {
				fn(x, full)
				copy(out, full[c*vs:(c+1)*vs])
			}, dofs)
			for i, node := range cell {
				data[node*bs+c] = dofs[i]
			}
		}
	}
}

// Eval returns the value of f at x inside cell k, which must be held by this
// rank
func (f *Function) Eval(k int, x [2]float64) []float64 {
	V := f.Space
	bs := V.BlockSize()
	vs := V.Element.ValueSize()
	b := V.Element.Basis(V.Mesh.Geometry(k))
	phi, _ := element.Eval(b, x)
	out := make([]float64, vs*bs)
	data := f.X.Array()
	for i, node := range V.DofMap.CellDofs(k) {
		for c := 0; c < bs; c++ {
			for v := 0; v < vs; v++ {
				out[c*vs+v] += data[node*bs+c] * phi[i*vs+v]
			}
		}
	}
	return out
}

// Destroy releases the function's vector
func (f *Function) Destroy() { f.X.Destroy() }

// Constant is a value shared by every cell
type Constant struct {
	Value []float64
}

func NewConstant(v ...float64) *Constant {
	return &Constant{Value: append([]float64(nil), v...)}
}
