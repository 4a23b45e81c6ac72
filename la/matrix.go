package la

import (
	"fmt"

	"github.com/james-bowman/sparse"
	"github.com/notargets/DGBlock/comm"
)

// InsertMode is the way values are combined with existing entries
type InsertMode uint8

const (
	NotSetValues InsertMode = iota
	AddValues
	InsertValues
)

// AssemblyType selects a flush (switch insert modes) or a final assembly
type AssemblyType uint8

const (
	FlushAssembly AssemblyType = iota
	FinalAssembly
)

type stashEntry struct {
	Row, Col int // global
	Val      float64
}

type stashMessage struct {
	Mode    InsertMode
	Entries []stashEntry
}

// Matrix is a distributed sparse matrix. Each rank stores its owned rows in
// dictionary-of-keys form with global column indices; values destined for
// rows owned elsewhere are stashed until the next assembly.
type Matrix struct {
	kind Kind

	rowMap, colMap     *IndexMap
	rbs, cbs           int
	rowStack, colStack *StackedMap

	nrows, ncols int // owned rows, global columns
	rows         *sparse.DOK
	stash        [][]stashEntry // per owning rank
	mode         InsertMode
	assembled    bool

	nest      [][]*Matrix
	destroyed bool
}

// NewMatrix creates a Single matrix mapping the column layout to the row
// layout
func NewMatrix(rowMap *IndexMap, rbs int, colMap *IndexMap, cbs int) *Matrix {
	openHandles.Add(1)
	m := &Matrix{
		kind:   Single,
		rowMap: rowMap,
		rbs:    rbs,
		colMap: colMap,
		cbs:    cbs,
	}
	m.allocate()
	return m
}

// NewBlockMatrix creates one matrix over stacked row and column layouts
func NewBlockMatrix(rows, cols *StackedMap) *Matrix {
	openHandles.Add(1)
	m := &Matrix{
		kind:     Block,
		rowMap:   rows.Map,
		rbs:      1,
		colMap:   cols.Map,
		cbs:      1,
		rowStack: rows,
		colStack: cols,
	}
	m.allocate()
	return m
}

// NewNestMatrix wraps a grid of sub-matrices. A nil entry marks an absent
// (zero) block. The nest takes ownership of its blocks.
func NewNestMatrix(blocks [][]*Matrix) *Matrix {
	openHandles.Add(1)
	return &Matrix{kind: Nest, nest: blocks}
}

func (m *Matrix) allocate() {
	m.nrows = m.rowMap.SizeLocal() * m.rbs
	m.ncols = m.colMap.SizeGlobal() * m.cbs
	m.rows = sparse.NewDOK(max(m.nrows, 1), max(m.ncols, 1))
	m.stash = make([][]stashEntry, m.rowMap.Comm().Size())
	m.mode = NotSetValues
	m.assembled = false
}

func (m *Matrix) alive() {
	if m.destroyed {
		panic(ErrDestroyed)
	}
}

func (m *Matrix) Kind() Kind { return m.kind }

// Comm returns the communicator the matrix is distributed over
func (m *Matrix) Comm() *comm.Comm {
	if m.kind == Nest {
		for _, row := range m.nest {
			for _, b := range row {
				if b != nil {
					return b.Comm()
				}
			}
		}
		return nil
	}
	return m.rowMap.Comm()
}

func (m *Matrix) RowMap() *IndexMap { return m.rowMap }
func (m *Matrix) ColMap() *IndexMap { return m.colMap }

// BlockSizes returns the row and column block sizes
func (m *Matrix) BlockSizes() (int, int) { return m.rbs, m.cbs }

func (m *Matrix) RowStack() *StackedMap { return m.rowStack }
func (m *Matrix) ColStack() *StackedMap { return m.colStack }

// NestShape is the number of block rows and columns of a Nest matrix
func (m *Matrix) NestShape() (int, int) {
	if len(m.nest) == 0 {
		return 0, 0
	}
	return len(m.nest), len(m.nest[0])
}

// NestBlock returns block (i, j) of a Nest matrix, nil when absent
func (m *Matrix) NestBlock(i, j int) *Matrix {
	if m.kind != Nest {
		panic(fmt.Errorf("NestBlock on %v matrix: %w", m.kind, ErrKind))
	}
	return m.nest[i][j]
}

// Assembled reports whether a final assembly has happened since the last
// modification
func (m *Matrix) Assembled() bool {
	if m.kind == Nest {
		for _, row := range m.nest {
			for _, b := range row {
				if b != nil && !b.Assembled() {
					return false
				}
			}
		}
		return true
	}
	return m.assembled
}

// OwnedRowRange is the half open global row range stored on this rank
func (m *Matrix) OwnedRowRange() [2]int {
	r := m.rowMap.LocalRange()
	return [2]int{r[0] * m.rbs, r[1] * m.rbs}
}

// Size is the global number of rows and columns
func (m *Matrix) Size() (int, int) {
	if m.kind != Nest {
		return m.rowMap.SizeGlobal() * m.rbs, m.ncols
	}
	nbr, nbc := m.NestShape()
	var nr, nc int
	for i := 0; i < nbr; i++ {
		for j := 0; j < nbc; j++ {
			if b := m.nest[i][j]; b != nil {
				r, _ := b.Size()
				nr += r
				break
			}
		}
	}
	for j := 0; j < nbc; j++ {
		for i := 0; i < nbr; i++ {
			if b := m.nest[i][j]; b != nil {
				_, c := b.Size()
				nc += c
				break
			}
		}
	}
	return nr, nc
}

func (m *Matrix) globalRow(r int) (grow int, owned bool, owner int) {
	node, comp := r/m.rbs, r%m.rbs
	n := m.rowMap.SizeLocal()
	if node < n {
		return m.rowMap.LocalToGlobal(node)*m.rbs + comp, true, m.rowMap.Comm().Rank()
	}
	return m.rowMap.LocalToGlobal(node)*m.rbs + comp, false, m.rowMap.Owners()[node-n]
}

func (m *Matrix) globalCol(c int) int {
	return m.colMap.LocalToGlobal(c/m.cbs)*m.cbs + c%m.cbs
}

// AddLocal adds a dense row-major block of values at local row and column
// indices. Negative indices are skipped.
func (m *Matrix) AddLocal(rows, cols []int, vals []float64) error {
	return m.setValues(AddValues, rows, cols, vals)
}

// SetLocal inserts a dense row-major block of values at local row and column
// indices. Negative indices are skipped.
func (m *Matrix) SetLocal(rows, cols []int, vals []float64) error {
	return m.setValues(InsertValues, rows, cols, vals)
}

func (m *Matrix) setValues(mode InsertMode, rows, cols []int, vals []float64) error {
	m.alive()
	if m.kind == Nest {
		return fmt.Errorf("set values on nest matrix: %w", ErrKind)
	}
	if len(vals) != len(rows)*len(cols) {
		return fmt.Errorf("set values: %d values for %dx%d block", len(vals), len(rows), len(cols))
	}
	if m.mode != NotSetValues && m.mode != mode {
		return ErrMixedInsertMode
	}
	m.mode = mode
	m.assembled = false

	gcols := make([]int, len(cols))
	for j, c := range cols {
		gcols[j] = -1
		if c >= 0 {
			gcols[j] = m.globalCol(c)
		}
	}
	for i, r := range rows {
		if r < 0 {
			continue
		}
		grow, owned, owner := m.globalRow(r)
		for j, gc := range gcols {
			if gc < 0 {
				continue
			}
			v := vals[i*len(cols)+j]
			if !owned {
				m.stash[owner] = append(m.stash[owner], stashEntry{Row: grow, Col: gc, Val: v})
				continue
			}
			m.put(mode, r, gc, v)
		}
	}
	return nil
}

func (m *Matrix) put(mode InsertMode, lrow, gcol int, v float64) {
	if mode == AddValues {
		v += m.rows.At(lrow, gcol)
	}
	m.rows.Set(lrow, gcol, v)
}

// Assemble communicates stashed off-rank values to their owners. A flush
// allows switching between add and insert; a final assembly also marks the
// matrix ready for use by a solver. Collective.
func (m *Matrix) Assemble(t AssemblyType) error {
	m.alive()
	if m.kind == Nest {
		for _, row := range m.nest {
			for _, b := range row {
				if b == nil {
					continue
				}
				if err := b.Assemble(t); err != nil {
					return err
				}
			}
		}
		return nil
	}

	c := m.rowMap.Comm()
	send := make([]any, c.Size())
	for r := range send {
		send[r] = stashMessage{Mode: m.mode, Entries: m.stash[r]}
	}
	recv := c.Alltoall(send)
	start := m.OwnedRowRange()[0]
	for src, v := range recv {
		if src == c.Rank() {
			continue
		}
		msg := v.(stashMessage)
		for _, e := range msg.Entries {
			m.put(msg.Mode, e.Row-start, e.Col, e.Val)
		}
	}
	for r := range m.stash {
		m.stash[r] = nil
	}
	m.mode = NotSetValues
	if t == FinalAssembly {
		m.assembled = true
	}
	return nil
}

// ZeroEntries removes all stored values
func (m *Matrix) ZeroEntries() {
	m.alive()
	for _, row := range m.nest {
		for _, b := range row {
			if b != nil {
				b.ZeroEntries()
			}
		}
	}
	if m.kind != Nest {
		m.allocate()
	}
}

// At returns the value at a global row owned by this rank
func (m *Matrix) At(grow, gcol int) float64 {
	m.alive()
	start := m.OwnedRowRange()[0]
	return m.rows.At(grow-start, gcol)
}

// NNZ is the number of stored entries in the owned rows
func (m *Matrix) NNZ() int {
	if m.kind == Nest {
		n := 0
		for _, row := range m.nest {
			for _, b := range row {
				if b != nil {
					n += b.NNZ()
				}
			}
		}
		return n
	}
	return m.rows.NNZ()
}

// DoNonZero calls fn for every stored entry of the owned rows using global
// row and column indices
func (m *Matrix) DoNonZero(fn func(grow, gcol int, v float64)) {
	m.alive()
	start := m.OwnedRowRange()[0]
	m.rows.DoNonZero(func(i, j int, v float64) {
		fn(start+i, j, v)
	})
}

// LocalSubMatrix returns a view that addresses the block of a Block matrix
// selected by row and column index sets using the field's own local
// numbering
func (m *Matrix) LocalSubMatrix(rows, cols *IndexSet) *SubMatrix {
	return &SubMatrix{m: m, rows: rows, cols: cols}
}

// Destroy releases the matrix and its blocks. Safe to call twice.
func (m *Matrix) Destroy() {
	if m == nil || m.destroyed {
		return
	}
	for _, row := range m.nest {
		for _, b := range row {
			b.Destroy()
		}
	}
	m.destroyed = true
	m.rows = nil
	m.stash = nil
	openHandles.Add(-1)
}

// SubMatrix translates field-local indices into the stacked numbering of its
// parent matrix
type SubMatrix struct {
	m          *Matrix
	rows, cols *IndexSet
	rbuf, cbuf []int
}

func (s *SubMatrix) AddLocal(rows, cols []int, vals []float64) error {
	s.rbuf = s.rows.Map(rows, s.rbuf)
	s.cbuf = s.cols.Map(cols, s.cbuf)
	return s.m.AddLocal(s.rbuf, s.cbuf, vals)
}

func (s *SubMatrix) SetLocal(rows, cols []int, vals []float64) error {
	s.rbuf = s.rows.Map(rows, s.rbuf)
	s.cbuf = s.cols.Map(cols, s.cbuf)
	return s.m.SetLocal(s.rbuf, s.cbuf, vals)
}

// Inserter is anything that accepts local dense blocks of values
type Inserter interface {
	AddLocal(rows, cols []int, vals []float64) error
	SetLocal(rows, cols []int, vals []float64) error
}
