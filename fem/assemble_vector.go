package fem

import (
	"fmt"

	"github.com/notargets/DGBlock/la"
)

// AssembleVector assembles L into a new Single vector. The result holds
// unaccumulated ghost contributions; call ScatterReverse before reading.
func AssembleVector(L *Form, opts ...AssembleOption) (*la.Vector, error) {
	b, err := CreateVector([]*Form{L}, la.Single)
	if err != nil {
		return nil, err
	}
	if err := AssembleVectorInto(b, L, opts...); err != nil {
		b.Destroy()
		return nil, err
	}
	return b, nil
}

// AssembleVectorInto adds the contributions of L into the local storage of
// b without accumulating ghosts
func AssembleVectorInto(b *la.Vector, L *Form, opts ...AssembleOption) error {
	if L.Rank() != 1 {
		return fmt.Errorf("assemble vector: form %q has %d arguments: %w", L.Name, L.Rank(), ErrShape)
	}
	if b.Kind() != la.Single {
		return fmt.Errorf("assemble vector into %v vector: %w", b.Kind(), la.ErrKind)
	}
	return assembleVectorLocal(b.Local(), L, resolveOptions(L, opts))
}

// AssembleVectorNest assembles each form of L into its own sub-vector
func AssembleVectorNest(L []*Form) (*la.Vector, error) {
	b, err := CreateVector(L, la.Nest)
	if err != nil {
		return nil, err
	}
	if err := AssembleVectorNestInto(b, L); err != nil {
		b.Destroy()
		return nil, err
	}
	return b, nil
}

func AssembleVectorNestInto(b *la.Vector, L []*Form) error {
	if b.Kind() != la.Nest {
		return fmt.Errorf("assemble nest vector into %v vector: %w", b.Kind(), la.ErrKind)
	}
	if b.NumBlocks() != len(L) {
		return fmt.Errorf("nest vector with %d blocks for %d forms: %w", b.NumBlocks(), len(L), ErrShape)
	}
	for i, Li := range L {
		if err := AssembleVectorInto(b.Sub(i), Li); err != nil {
			return fmt.Errorf("block %d: %w", i, err)
		}
	}
	return nil
}

// AssembleVectorBlock assembles L into a new Block vector with lifting,
// ghost accumulation and boundary values applied
func AssembleVectorBlock(L []*Form, a [][]*Form, bcs []*DirichletBC, x0 *la.Vector, alpha float64) (*la.Vector, error) {
	b, err := CreateVector(L, la.Block)
	if err != nil {
		return nil, err
	}
	if err := AssembleVectorBlockInto(b, L, a, bcs, x0, alpha); err != nil {
		b.Destroy()
		return nil, err
	}
	return b, nil
}

// AssembleVectorBlockInto adds L into the Block vector b. Each block is
// filled and lifted by the bcs of every column of its row of a while its
// ghost contributions are still local, then all blocks are accumulated
// together and the owned constrained entries set to alpha*(g - x0).
// Collective.
func AssembleVectorBlockInto(b *la.Vector, L []*Form, a [][]*Form, bcs []*DirichletBC, x0 *la.Vector, alpha float64) error {
	if b.Kind() != la.Block {
		return fmt.Errorf("assemble block vector into %v vector: %w", b.Kind(), la.ErrKind)
	}
	rows, err := LinearFormSpaces(L)
	if err != nil {
		return err
	}
	if b.NumBlocks() != len(L) {
		return fmt.Errorf("block vector with %d blocks for %d forms: %w", b.NumBlocks(), len(L), ErrShape)
	}
	var bcs1 [][]*DirichletBC
	if a != nil {
		if len(a) != len(L) {
			return fmt.Errorf("%d bilinear rows for %d linear forms: %w", len(a), len(L), ErrShape)
		}
		_, cols, err := ExtractFunctionSpaces(a)
		if err != nil {
			return err
		}
		bcs1 = BCsByBlock(cols, bcs)
	}
	var x0s [][]float64
	if x0 != nil {
		x0.ScatterForward()
		x0s = make([][]float64, x0.NumBlocks())
		for j := range x0s {
			x0s[j] = x0.BlockArray(j)
		}
	}

	for i, Li := range L {
		V := rows[i]
		tmp := la.NewVector(V.IndexMap(), V.BlockSize())
		local := tmp.Local()
		err := assembleVectorLocal(local, Li, resolveOptions(Li, nil))
		if err == nil && a != nil {
			err = applyLifting(local, a[i], bcs1, x0s, alpha)
		}
		if err != nil {
			tmp.Destroy()
			return fmt.Errorf("block %d: %w", i, err)
		}
		b.AddBlockArray(i, local)
		tmp.Destroy()
	}
	b.ScatterReverse()

	bcs0 := BCsByBlock(rows, bcs)
	for i, group := range bcs0 {
		var x0i []float64
		if x0s != nil {
			x0i = x0s[i]
		}
		owned := b.OwnedBlock(i)
		for _, bc := range group {
			bc.Set(owned, x0i, alpha)
		}
	}
	return nil
}
