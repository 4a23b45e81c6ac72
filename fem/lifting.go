package fem

import (
	"fmt"

	"github.com/notargets/DGBlock/la"
)

// ApplyLifting modifies b to account for the Dirichlet data of the trial
// spaces of a row of bilinear forms:
//
//	b -= alpha * a[j] (g_j - x0[j])
//
// restricted to the constrained columns of each a[j]. Contributions land in
// the local storage of b, ghosts included, so ApplyLifting must run before
// b.ScatterReverse; it fails with la.ErrAlreadyFinalized afterwards. x0 may
// be nil, and its vectors must have current ghost values.
func ApplyLifting(b *la.Vector, a []*Form, bcs [][]*DirichletBC, x0 []*la.Vector, alpha float64) error {
	if b.Kind() == la.Nest {
		return fmt.Errorf("apply lifting on nest vector, use ApplyLiftingNest: %w", la.ErrKind)
	}
	if b.State() == la.Finalized {
		return fmt.Errorf("apply lifting: %w", la.ErrAlreadyFinalized)
	}
	if len(bcs) != len(a) {
		return fmt.Errorf("apply lifting: %d forms but %d bc groups: %w", len(a), len(bcs), ErrShape)
	}
	var x0s [][]float64
	if x0 != nil {
		if len(x0) != len(a) {
			return fmt.Errorf("apply lifting: %d forms but %d x0 vectors: %w", len(a), len(x0), ErrShape)
		}
		x0s = make([][]float64, len(x0))
		for j, v := range x0 {
			if v != nil {
				x0s[j] = v.Array()
			}
		}
	}
	return applyLifting(b.Local(), a, bcs, x0s, alpha)
}

func applyLifting(b []float64, a []*Form, bcs [][]*DirichletBC, x0 [][]float64, alpha float64) error {
	for j, aj := range a {
		if aj == nil || j >= len(bcs) || len(bcs[j]) == 0 {
			continue
		}
		if aj.Rank() != 2 {
			return fmt.Errorf("lifting with %q: not a bilinear form: %w", aj.Name, ErrShape)
		}
		mask, g := bcMask(aj.Spaces[1], bcs[j], true)
		if mask == nil {
			continue
		}
		var x0j []float64
		if x0 != nil {
			x0j = x0[j]
		}
		if err := liftLocal(b, aj, mask, g, x0j, alpha, resolveOptions(aj, nil)); err != nil {
			return fmt.Errorf("lifting with %q: %w", aj.Name, err)
		}
	}
	return nil
}

// ApplyLiftingNest lifts every sub-vector of b by its row of a, grouping
// bcs by the trial space of each column
func ApplyLiftingNest(b *la.Vector, a [][]*Form, bcs []*DirichletBC, x0 *la.Vector, alpha float64) error {
	if b.Kind() != la.Nest {
		return fmt.Errorf("apply lifting nest on %v vector: %w", b.Kind(), la.ErrKind)
	}
	_, cols, err := ExtractFunctionSpaces(a)
	if err != nil {
		return err
	}
	if b.NumBlocks() != len(a) {
		return fmt.Errorf("nest vector with %d blocks for %d rows: %w", b.NumBlocks(), len(a), ErrShape)
	}
	bcs1 := BCsByBlock(cols, bcs)
	var x0s []*la.Vector
	if x0 != nil {
		x0s = make([]*la.Vector, len(cols))
		for j := range x0s {
			x0s[j] = x0.Sub(j)
		}
	}
	for i, row := range a {
		if err := ApplyLifting(b.Sub(i), row, bcs1, x0s, alpha); err != nil {
			return fmt.Errorf("block %d: %w", i, err)
		}
	}
	return nil
}

// SetBC overwrites the owned constrained entries of the Single vector b
// with alpha*(g - x0), or alpha*g when x0 is nil. b must not hold
// unaccumulated ghost contributions.
func SetBC(b *la.Vector, bcs []*DirichletBC, x0 *la.Vector, alpha float64) error {
	if b.Kind() != la.Single {
		return fmt.Errorf("set bc on %v vector: %w", b.Kind(), la.ErrKind)
	}
	if b.State() == la.Assembling {
		return fmt.Errorf("set bc: %w", la.ErrNotFinalized)
	}
	var x0a []float64
	if x0 != nil {
		x0a = x0.Array()
	}
	owned := b.Owned()
	for _, bc := range bcs {
		bc.Set(owned, x0a, alpha)
	}
	return nil
}

// SetBCNest applies bcs[i] to sub-vector i of b
func SetBCNest(b *la.Vector, bcs [][]*DirichletBC, x0 *la.Vector, alpha float64) error {
	if b.Kind() != la.Nest {
		return fmt.Errorf("set bc nest on %v vector: %w", b.Kind(), la.ErrKind)
	}
	if len(bcs) != b.NumBlocks() {
		return fmt.Errorf("set bc nest: %d bc groups for %d blocks: %w", len(bcs), b.NumBlocks(), ErrShape)
	}
	for i, group := range bcs {
		var x0i *la.Vector
		if x0 != nil {
			x0i = x0.Sub(i)
		}
		if err := SetBC(b.Sub(i), group, x0i, alpha); err != nil {
			return fmt.Errorf("block %d: %w", i, err)
		}
	}
	return nil
}

// AssignToVector copies the owned and ghost values of u into x, one
// function per block
func AssignToVector(u []*Function, x *la.Vector) error {
	if len(u) != x.NumBlocks() {
		return fmt.Errorf("assign %d functions to a vector of %d blocks: %w", len(u), x.NumBlocks(), ErrShape)
	}
	for i, f := range u {
		x.SetBlockArray(i, f.X.Array())
	}
	return nil
}

// AssignToFunctions copies the owned and ghost values of x into u
func AssignToFunctions(x *la.Vector, u []*Function) error {
	if len(u) != x.NumBlocks() {
		return fmt.Errorf("assign a vector of %d blocks to %d functions: %w", x.NumBlocks(), len(u), ErrShape)
	}
	for i, f := range u {
		copy(f.X.Array(), x.BlockArray(i))
	}
	return nil
}
