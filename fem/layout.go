package fem

import (
	"fmt"

	"github.com/notargets/DGBlock/la"
)

// ExtractFunctionSpaces returns the test space of every row and the trial
// space of every column of a rectangular grid of bilinear forms. Absent
// blocks are nil.
func ExtractFunctionSpaces(a [][]*Form) (rows, cols []*FunctionSpace, err error) {
	if len(a) == 0 || len(a[0]) == 0 {
		return nil, nil, fmt.Errorf("empty form grid: %w", ErrShape)
	}
	ncols := len(a[0])
	for i, row := range a {
		if len(row) != ncols {
			return nil, nil, fmt.Errorf("row %d has %d forms, row 0 has %d: %w", i, len(row), ncols, ErrShape)
		}
	}
	rows = make([]*FunctionSpace, len(a))
	cols = make([]*FunctionSpace, ncols)
	for i, row := range a {
		for j, f := range row {
			if f == nil {
				continue
			}
			if f.Rank() != 2 {
				return nil, nil, fmt.Errorf("block (%d,%d) %q is not bilinear: %w", i, j, f.Name, ErrShape)
			}
			switch {
			case rows[i] == nil:
				rows[i] = f.Spaces[0]
			case rows[i] != f.Spaces[0]:
				return nil, nil, fmt.Errorf("block (%d,%d) disagrees on the test space of row %d: %w", i, j, i, ErrShape)
			}
			switch {
			case cols[j] == nil:
				cols[j] = f.Spaces[1]
			case cols[j] != f.Spaces[1]:
				return nil, nil, fmt.Errorf("block (%d,%d) disagrees on the trial space of column %d: %w", i, j, j, ErrShape)
			}
		}
	}
	for i, V := range rows {
		if V == nil {
			return nil, nil, fmt.Errorf("row %d has no form: %w", i, ErrShape)
		}
	}
	for j, V := range cols {
		if V == nil {
			return nil, nil, fmt.Errorf("column %d has no form: %w", j, ErrShape)
		}
	}
	return rows, cols, nil
}

// LinearFormSpaces returns the test space of every linear form
func LinearFormSpaces(L []*Form) ([]*FunctionSpace, error) {
	if len(L) == 0 {
		return nil, fmt.Errorf("no linear forms: %w", ErrShape)
	}
	spaces := make([]*FunctionSpace, len(L))
	for i, f := range L {
		if f == nil || f.Rank() != 1 {
			return nil, fmt.Errorf("block %d is not a linear form: %w", i, ErrShape)
		}
		spaces[i] = f.Spaces[0]
	}
	return spaces, nil
}

// CreateVector builds a vector laid out over the test spaces of L.
// Collective.
func CreateVector(L []*Form, kind la.Kind) (*la.Vector, error) {
	spaces, err := LinearFormSpaces(L)
	if err != nil {
		return nil, err
	}
	return CreateVectorFromSpaces(spaces, kind)
}

// CreateVectorFromSpaces builds a vector over a list of spaces. Single
// needs exactly one space; Block stacks the owned entries of every space
// ahead of all ghosts; Nest holds one sub-vector per space. Collective.
func CreateVectorFromSpaces(spaces []*FunctionSpace, kind la.Kind) (*la.Vector, error) {
	switch kind {
	case la.Single:
		if len(spaces) != 1 {
			return nil, fmt.Errorf("single vector over %d spaces: %w", len(spaces), ErrShape)
		}
		return la.NewVector(spaces[0].IndexMap(), spaces[0].BlockSize()), nil
	case la.Nest:
		subs := make([]*la.Vector, len(spaces))
		for i, V := range spaces {
			subs[i] = la.NewVector(V.IndexMap(), V.BlockSize())
		}
		return la.NewNestVector(subs), nil
	case la.Block:
		sm, err := stack(spaces)
		if err != nil {
			return nil, err
		}
		return la.NewBlockVector(sm), nil
	}
	return nil, fmt.Errorf("create vector of kind %v: %w", kind, la.ErrKind)
}

func stack(spaces []*FunctionSpace) (*la.StackedMap, error) {
	maps := make([]*la.IndexMap, len(spaces))
	bs := make([]int, len(spaces))
	for i, V := range spaces {
		maps[i] = V.IndexMap()
		bs[i] = V.BlockSize()
	}
	return la.StackIndexMaps(maps, bs)
}

// CreateMatrix builds a matrix for a grid of bilinear forms. Single needs a
// 1x1 grid; Block lays all blocks out in one matrix over stacked row and
// column maps; Nest allocates one matrix per present block. Collective.
func CreateMatrix(a [][]*Form, kind la.Kind) (*la.Matrix, error) {
	rows, cols, err := ExtractFunctionSpaces(a)
	if err != nil {
		return nil, err
	}
	switch kind {
	case la.Single:
		if len(rows) != 1 || len(cols) != 1 {
			return nil, fmt.Errorf("single matrix for a %dx%d grid: %w", len(rows), len(cols), ErrShape)
		}
		return la.NewMatrix(rows[0].IndexMap(), rows[0].BlockSize(), cols[0].IndexMap(), cols[0].BlockSize()), nil
	case la.Block:
		rsm, err := stack(rows)
		if err != nil {
			return nil, err
		}
		csm, err := stack(cols)
		if err != nil {
			return nil, err
		}
		return la.NewBlockMatrix(rsm, csm), nil
	case la.Nest:
		blocks := make([][]*la.Matrix, len(rows))
		for i, V := range rows {
			blocks[i] = make([]*la.Matrix, len(cols))
			for j, W := range cols {
				if a[i][j] != nil {
					blocks[i][j] = la.NewMatrix(V.IndexMap(), V.BlockSize(), W.IndexMap(), W.BlockSize())
				}
			}
		}
		return la.NewNestMatrix(blocks), nil
	}
	return nil, fmt.Errorf("create matrix of kind %v: %w", kind, la.ErrKind)
}
