package fem

import (
	"fmt"

	"github.com/notargets/DGBlock/la"
)

// AssembleMatrix assembles a into a new Single matrix with the rows and
// columns of constrained dofs dropped and diagonal inserted on owned
// constrained dofs when test and trial space coincide. The caller performs
// the final assembly.
func AssembleMatrix(a *Form, bcs []*DirichletBC, diagonal float64, opts ...AssembleOption) (*la.Matrix, error) {
	A, err := CreateMatrix([][]*Form{{a}}, la.Single)
	if err != nil {
		return nil, err
	}
	if err := AssembleMatrixInto(A, a, bcs, diagonal, opts...); err != nil {
		A.Destroy()
		return nil, err
	}
	return A, nil
}

// AssembleMatrixInto adds a into the Single matrix A. See AssembleMatrix.
// Collective.
func AssembleMatrixInto(A *la.Matrix, a *Form, bcs []*DirichletBC, diagonal float64, opts ...AssembleOption) error {
	if A.Kind() != la.Single {
		return fmt.Errorf("assemble matrix into %v matrix: %w", A.Kind(), la.ErrKind)
	}
	if a.Rank() != 2 {
		return fmt.Errorf("assemble matrix: form %q has %d arguments: %w", a.Name, a.Rank(), ErrShape)
	}
	rowMask, _ := bcMask(a.Spaces[0], bcs, false)
	colMask, _ := bcMask(a.Spaces[1], bcs, false)
	if err := assembleMatrixLocal(A, a, rowMask, colMask, resolveOptions(a, opts)); err != nil {
		return fmt.Errorf("assemble matrix %q: %w", a.Name, err)
	}
	if a.Spaces[0] != a.Spaces[1] {
		return nil
	}
	if err := A.Assemble(la.FlushAssembly); err != nil {
		return err
	}
	return insertDiagonal(A, a.Spaces[0], bcs, diagonal)
}

// insertDiagonal sets diagonal on every owned constrained dof of V
func insertDiagonal(ins la.Inserter, V *FunctionSpace, bcs []*DirichletBC, diagonal float64) error {
	bs := V.BlockSize()
	idx := []int{0}
	val := []float64{diagonal}
	for _, bc := range bcs {
		if bc.space != V {
			continue
		}
		dofs, owned := bc.Dofs()
		for _, node := range dofs[:owned] {
			for c := 0; c < bs; c++ {
				idx[0] = node*bs + c
				if err := ins.SetLocal(idx, idx, val); err != nil {
					return fmt.Errorf("insert diagonal: %w", err)
				}
			}
		}
	}
	return nil
}

// checkDiagonal rejects an absent diagonal block whose row space carries a
// bc
func checkDiagonal(a [][]*Form, rows []*FunctionSpace, bcs []*DirichletBC) error {
	for i, V := range rows {
		if i >= len(a[i]) || a[i][i] != nil {
			continue
		}
		for _, bc := range bcs {
			if bc.space == V {
				return fmt.Errorf("diagonal block (%d,%d) is absent but row %d is constrained, assemble a zero block instead: %w",
					i, i, i, ErrConfiguration)
			}
		}
	}
	return nil
}

// AssembleMatrixNest assembles a grid of forms into a new Nest matrix
func AssembleMatrixNest(a [][]*Form, bcs []*DirichletBC, diagonal float64) (*la.Matrix, error) {
	rows, _, err := ExtractFunctionSpaces(a)
	if err != nil {
		return nil, err
	}
	if err := checkDiagonal(a, rows, bcs); err != nil {
		return nil, err
	}
	A, err := CreateMatrix(a, la.Nest)
	if err != nil {
		return nil, err
	}
	if err := AssembleMatrixNestInto(A, a, bcs, diagonal); err != nil {
		A.Destroy()
		return nil, err
	}
	return A, nil
}

// AssembleMatrixNestInto assembles every present block of a into the
// matching sub-matrix of A. Collective.
func AssembleMatrixNestInto(A *la.Matrix, a [][]*Form, bcs []*DirichletBC, diagonal float64) error {
	if A.Kind() != la.Nest {
		return fmt.Errorf("assemble nest matrix into %v matrix: %w", A.Kind(), la.ErrKind)
	}
	rows, _, err := ExtractFunctionSpaces(a)
	if err != nil {
		return err
	}
	if err := checkDiagonal(a, rows, bcs); err != nil {
		return err
	}
	nr, nc := A.NestShape()
	if nr != len(a) || nc != len(a[0]) {
		return fmt.Errorf("nest matrix %dx%d for a %dx%d grid: %w", nr, nc, len(a), len(a[0]), ErrShape)
	}
	for i, row := range a {
		for j, aij := range row {
			if aij == nil {
				continue
			}
			sub := A.NestBlock(i, j)
			if sub == nil {
				return fmt.Errorf("nest matrix has no block (%d,%d): %w", i, j, ErrShape)
			}
			if err := AssembleMatrixInto(sub, aij, bcs, diagonal); err != nil {
				return fmt.Errorf("block (%d,%d): %w", i, j, err)
			}
		}
	}
	return nil
}

// AssembleMatrixBlock assembles a grid of forms into a new Block matrix
func AssembleMatrixBlock(a [][]*Form, bcs []*DirichletBC, diagonal float64) (*la.Matrix, error) {
	rows, _, err := ExtractFunctionSpaces(a)
	if err != nil {
		return nil, err
	}
	if err := checkDiagonal(a, rows, bcs); err != nil {
		return nil, err
	}
	A, err := CreateMatrix(a, la.Block)
	if err != nil {
		return nil, err
	}
	if err := AssembleMatrixBlockInto(A, a, bcs, diagonal); err != nil {
		A.Destroy()
		return nil, err
	}
	return A, nil
}

// AssembleMatrixBlockInto fills every present block of a through a local
// sub-matrix view of A, flushes once, then inserts diagonal on the
// constrained dofs of the square blocks. Collective.
func AssembleMatrixBlockInto(A *la.Matrix, a [][]*Form, bcs []*DirichletBC, diagonal float64) error {
	if A.Kind() != la.Block {
		return fmt.Errorf("assemble block matrix into %v matrix: %w", A.Kind(), la.ErrKind)
	}
	rows, cols, err := ExtractFunctionSpaces(a)
	if err != nil {
		return err
	}
	if err := checkDiagonal(a, rows, bcs); err != nil {
		return err
	}
	rs, cs := A.RowStack(), A.ColStack()
	if rs.NumFields() != len(rows) || cs.NumFields() != len(cols) {
		return fmt.Errorf("block matrix %dx%d for a %dx%d grid: %w", rs.NumFields(), cs.NumFields(), len(rows), len(cols), ErrShape)
	}

	for i, row := range a {
		for j, aij := range row {
			if aij == nil {
				continue
			}
			sub := A.LocalSubMatrix(rs.Sets[i], cs.Sets[j])
			rowMask, _ := bcMask(rows[i], bcs, false)
			colMask, _ := bcMask(cols[j], bcs, false)
			if err := assembleMatrixLocal(sub, aij, rowMask, colMask, resolveOptions(aij, nil)); err != nil {
				return fmt.Errorf("block (%d,%d): %w", i, j, err)
			}
		}
	}
	if err := A.Assemble(la.FlushAssembly); err != nil {
		return err
	}
	for i, row := range a {
		for j, aij := range row {
			if aij == nil || aij.Spaces[0] != aij.Spaces[1] {
				continue
			}
			sub := A.LocalSubMatrix(rs.Sets[i], cs.Sets[j])
			if err := insertDiagonal(sub, rows[i], bcs, diagonal); err != nil {
				return fmt.Errorf("block (%d,%d): %w", i, j, err)
			}
		}
	}
	return nil
}
