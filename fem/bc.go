package fem

import (
	"fmt"
	"sort"
)

// DirichletBC prescribes values on a set of local nodes of one space. Every
// block component of a constrained node is constrained.
type DirichletBC struct {
	space    *FunctionSpace
	dofs     []int // owned nodes first, then ghosts
	numOwned int
	g        *Function
	value    []float64 // per block component when g is nil
}

// NewDirichletBC constrains dofs of g's space to the values of g
func NewDirichletBC(g *Function, dofs []int) *DirichletBC {
	bc := &DirichletBC{space: g.Space, g: g}
	bc.setDofs(dofs)
	return bc
}

// NewDirichletBCConstant constrains dofs of V to a constant per block
// component. A single value is broadcast to every component.
func NewDirichletBCConstant(V *FunctionSpace, dofs []int, value ...float64) (*DirichletBC, error) {
	bs := V.BlockSize()
	switch len(value) {
	case bs:
	case 1:
		v := value[0]
		value = make([]float64, bs)
		for c := range value {
			value[c] = v
		}
	default:
		return nil, fmt.Errorf("dirichlet bc on %s: %d values for block size %d", V.Element.ShortName(), len(value), bs)
	}
	bc := &DirichletBC{space: V, value: append([]float64(nil), value...)}
	bc.setDofs(dofs)
	return bc, nil
}

func (bc *DirichletBC) setDofs(dofs []int) {
	bc.dofs = append([]int(nil), dofs...)
	sort.Ints(bc.dofs)
	n := bc.space.IndexMap().SizeLocal()
	bc.numOwned = sort.SearchInts(bc.dofs, n)
}

func (bc *DirichletBC) FunctionSpace() *FunctionSpace { return bc.space }

// Dofs returns the constrained local nodes and how many of them are owned
func (bc *DirichletBC) Dofs() (dofs []int, numOwned int) { return bc.dofs, bc.numOwned }

// value at blocked local index i
func (bc *DirichletBC) at(i int) float64 {
	if bc.g != nil {
		return bc.g.X.Array()[i]
	}
	return bc.value[i%len(bc.value)]
}

// Set overwrites the constrained entries of x with alpha*(g - x0), or
// alpha*g when x0 is nil. Entries beyond len(x) are skipped, so passing the
// owned part of a vector leaves ghosts alone.
func (bc *DirichletBC) Set(x, x0 []float64, alpha float64) {
	bs := bc.space.BlockSize()
	for _, node := range bc.dofs {
		for c := 0; c < bs; c++ {
			i := node*bs + c
			if i >= len(x) {
				continue
			}
			v := bc.at(i)
			if x0 != nil {
				v -= x0[i]
			}
			x[i] = alpha * v
		}
	}
}

// mark records the constrained blocked indices of the bc's space and their
// values, appending to an existing marker
func (bc *DirichletBC) mark(mask []bool, vals []float64) {
	bs := bc.space.BlockSize()
	for _, node := range bc.dofs {
		for c := 0; c < bs; c++ {
			i := node*bs + c
			mask[i] = true
			if vals != nil {
				vals[i] = bc.at(i)
			}
		}
	}
}

// BCsByBlock groups bcs by the space they constrain. Spaces match by
// identity; a nil space yields an empty group.
func BCsByBlock(spaces []*FunctionSpace, bcs []*DirichletBC) [][]*DirichletBC {
	out := make([][]*DirichletBC, len(spaces))
	for i, V := range spaces {
		if V == nil {
			continue
		}
		for _, bc := range bcs {
			if bc.space == V {
				out[i] = append(out[i], bc)
			}
		}
	}
	return out
}

// bcMask marks the constrained blocked local indices of V, nil when no bc
// applies
func bcMask(V *FunctionSpace, bcs []*DirichletBC, vals bool) (mask []bool, g []float64) {
	for _, bc := range bcs {
		if bc.space != V {
			continue
		}
		if mask == nil {
			n := V.DofMap.NumNodes() * V.BlockSize()
			mask = make([]bool, n)
			if vals {
				g = make([]float64, n)
			}
		}
		bc.mark(mask, g)
	}
	return mask, g
}
