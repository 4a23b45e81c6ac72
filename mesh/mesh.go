// Package mesh builds the structured unit square triangulation shared by all
// ranks and the cell, edge and vertex ownership that drives the parallel
// degree of freedom layout.
package mesh

import (
	"fmt"
	"sort"

	"github.com/notargets/DGBlock/comm"
	"github.com/notargets/DGBlock/element"
	"github.com/notargets/DGBlock/partitions"
)

// Mesh is replicated on every rank. Each rank owns a subset of cells; an
// edge or vertex is owned by the owner of its lowest numbered adjacent cell.
type Mesh struct {
	comm *comm.Comm

	Nx, Ny    int
	X         [][2]float64 // vertex coordinates
	Cells     [][3]int     // vertex indices per cell
	Edges     [][2]int     // vertex pair per edge, ascending
	CellEdges [][3]int     // edge opposite local vertex i
	EdgeCells [][]int      // adjacent cells per edge, ascending
	EToE      [][]int      // neighbour cell per local edge, self on the boundary

	Layout *partitions.PartitionLayout

	vertexOwner []int
	edgeOwner   []int

	owned    []int
	local    []int // owned cells followed by remote cells reached through owned facets
	exterior []int
	interior []int
}

// CreateUnitSquare triangulates [0,1]^2 with nx by ny squares, each split
// along its rising diagonal, and distributes the cells over the ranks of c.
// Collective.
func CreateUnitSquare(c *comm.Comm, nx, ny int, strategy partitions.PartitionStrategy) (*Mesh, error) {
	if nx < 1 || ny < 1 {
		return nil, fmt.Errorf("mesh: invalid resolution %dx%d", nx, ny)
	}
	m := &Mesh{comm: c, Nx: nx, Ny: ny}
	m.X = make([][2]float64, (nx+1)*(ny+1))
	for j := 0; j <= ny; j++ {
		for i := 0; i <= nx; i++ {
			m.X[j*(nx+1)+i] = [2]float64{float64(i) / float64(nx), float64(j) / float64(ny)}
		}
	}
	for j := 0; j < ny; j++ {
		for i := 0; i < nx; i++ {
			v00 := j*(nx+1) + i
			v10, v01 := v00+1, v00+nx+1
			v11 := v01 + 1
			m.Cells = append(m.Cells, [3]int{v00, v10, v11}, [3]int{v00, v11, v01})
		}
	}
	m.buildEdges()

	pb := &partitions.PartitionBuilder{
		Mesh:          &partitions.MeshConnectivity{NumElements: len(m.Cells), EToE: m.EToE},
		NumPartitions: c.Size(),
		Strategy:      strategy,
	}
	layout, err := pb.BuildPartitions()
	if err != nil {
		return nil, fmt.Errorf("mesh: %w", err)
	}
	if layout.NumPartitions != c.Size() {
		return nil, fmt.Errorf("mesh: %d cells cannot be spread over %d ranks", len(m.Cells), c.Size())
	}
	m.Layout = layout
	m.buildOwnership()
	return m, nil
}

func (m *Mesh) buildEdges() {
	index := make(map[[2]int]int)
	m.CellEdges = make([][3]int, len(m.Cells))
	for k, cell := range m.Cells {
		for i := 0; i < 3; i++ {
			a, b := cell[(i+1)%3], cell[(i+2)%3]
			if a > b {
				a, b = b, a
			}
			key := [2]int{a, b}
			e, ok := index[key]
			if !ok {
				e = len(m.Edges)
				index[key] = e
				m.Edges = append(m.Edges, key)
				m.EdgeCells = append(m.EdgeCells, nil)
			}
			m.CellEdges[k][i] = e
			m.EdgeCells[e] = append(m.EdgeCells[e], k)
		}
	}
	m.EToE = make([][]int, len(m.Cells))
	for k := range m.Cells {
		m.EToE[k] = make([]int, 3)
		for i, e := range m.CellEdges[k] {
			m.EToE[k][i] = k
			for _, nb := range m.EdgeCells[e] {
				if nb != k {
					m.EToE[k][i] = nb
				}
			}
		}
	}
}

func (m *Mesh) buildOwnership() {
	rank := m.comm.Rank()
	m.vertexOwner = make([]int, len(m.X))
	for v := range m.vertexOwner {
		m.vertexOwner[v] = -1
	}
	// Cells are visited in ascending order, so the first visit is the lowest
	for k, cell := range m.Cells {
		for _, v := range cell {
			if m.vertexOwner[v] < 0 {
				m.vertexOwner[v] = m.Layout.EToP[k]
			}
		}
	}
	m.edgeOwner = make([]int, len(m.Edges))
	for e, cells := range m.EdgeCells {
		m.edgeOwner[e] = m.Layout.EToP[cells[0]]
	}

	m.owned = m.Layout.Owned(rank)
	remote := make(map[int]bool)
	for e, cells := range m.EdgeCells {
		if m.edgeOwner[e] != rank {
			continue
		}
		if len(cells) == 1 {
			m.exterior = append(m.exterior, e)
			continue
		}
		m.interior = append(m.interior, e)
		for _, k := range cells {
			if m.Layout.EToP[k] != rank {
				remote[k] = true
			}
		}
	}
	m.local = append([]int(nil), m.owned...)
	extra := make([]int, 0, len(remote))
	for k := range remote {
		extra = append(extra, k)
	}
	sort.Ints(extra)
	m.local = append(m.local, extra...)
}

func (m *Mesh) Comm() *comm.Comm { return m.comm }

func (m *Mesh) NumCells() int    { return len(m.Cells) }
func (m *Mesh) NumVertices() int { return len(m.X) }
func (m *Mesh) NumEdges() int    { return len(m.Edges) }

// OwnedCells are the cells integrated by this rank
func (m *Mesh) OwnedCells() []int { return m.owned }

// LocalCells are the cells whose degrees of freedom this rank holds: the
// owned cells followed by remote neighbours across owned interior facets
func (m *Mesh) LocalCells() []int { return m.local }

// ExteriorFacets are the boundary edges integrated by this rank
func (m *Mesh) ExteriorFacets() []int { return m.exterior }

// InteriorFacets are the interior edges integrated by this rank
func (m *Mesh) InteriorFacets() []int { return m.interior }

func (m *Mesh) CellOwner(k int) int   { return m.Layout.EToP[k] }
func (m *Mesh) EdgeOwner(e int) int   { return m.edgeOwner[e] }
func (m *Mesh) VertexOwner(v int) int { return m.vertexOwner[v] }

// IsBoundary reports whether edge e lies on the domain boundary
func (m *Mesh) IsBoundary(e int) bool { return len(m.EdgeCells[e]) == 1 }

// BoundaryFacets returns every boundary edge, on all ranks, whose midpoint
// satisfies marker. A nil marker selects the whole boundary.
func (m *Mesh) BoundaryFacets(marker func(x [2]float64) bool) []int {
	var facets []int
	for e := range m.Edges {
		if !m.IsBoundary(e) {
			continue
		}
		if marker == nil || marker(m.EdgeMidpoint(e)) {
			facets = append(facets, e)
		}
	}
	return facets
}

func (m *Mesh) EdgeMidpoint(e int) [2]float64 {
	a, b := m.X[m.Edges[e][0]], m.X[m.Edges[e][1]]
	return [2]float64{(a[0] + b[0]) / 2, (a[1] + b[1]) / 2}
}

// LocalFacet returns the local index of edge e in cell k, or -1
func (m *Mesh) LocalFacet(k, e int) int {
	for i, ce := range m.CellEdges[k] {
		if ce == e {
			return i
		}
	}
	return -1
}

// Geometry returns the affine geometry of cell k
func (m *Mesh) Geometry(k int) *element.Geometry {
	cell := m.Cells[k]
	var X [3][2]float64
	for i, v := range cell {
		X[i] = m.X[v]
	}
	return element.NewGeometry(X, cell)
}

// Volume is the total area of the cells owned by this rank
func (m *Mesh) Volume() float64 {
	var vol float64
	for _, k := range m.owned {
		vol += m.Geometry(k).Area
	}
	return vol
}
