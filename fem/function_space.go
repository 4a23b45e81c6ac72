package fem

import (
	"fmt"
	"sort"

	"github.com/notargets/DGBlock/element"
	"github.com/notargets/DGBlock/la"
	"github.com/notargets/DGBlock/mesh"
)

// DofMap numbers the degrees of freedom of one space. Nodes are the entries
// of the index map; a node carries BS scalar components stored at node*BS+c.
type DofMap struct {
	IndexMap *la.IndexMap
	BS       int

	cellDofs    [][]int // local nodes per cell in element order, nil if not held
	entityLocal map[int]int

	nv, ne, nc int // dofs per vertex, edge, cell
	numV, numE int
}

// CellDofs returns the local nodes of cell k, nil if the rank does not hold it
func (d *DofMap) CellDofs(k int) []int { return d.cellDofs[k] }

// NumNodes is the number of owned plus ghost nodes
func (d *DofMap) NumNodes() int { return d.IndexMap.SizeLocal() + d.IndexMap.NumGhosts() }

func (d *DofMap) vertexID(v, j int) int { return v*d.nv + j }
func (d *DofMap) edgeID(e, j int) int   { return d.numV*d.nv + e*d.ne + j }
func (d *DofMap) cellID(k, j int) int   { return d.numV*d.nv + d.numE*d.ne + k*d.nc + j }

// FunctionSpace is an element on a mesh with a block size. Spaces are
// compared by pointer identity.
type FunctionSpace struct {
	Mesh    *mesh.Mesh
	Element element.Element
	DofMap  *DofMap
}

// NewFunctionSpace numbers the degrees of freedom of e over m. An entity's
// degrees of freedom belong to the owner of the entity; each rank numbers
// its owned degrees of freedom contiguously in entity order. Collective.
func NewFunctionSpace(m *mesh.Mesh, e element.Element, bs int) (*FunctionSpace, error) {
	if bs < 1 {
		return nil, fmt.Errorf("function space %s: invalid block size %d", e.ShortName(), bs)
	}
	ed := e.EntityDofs()
	d := &DofMap{
		BS:          bs,
		cellDofs:    make([][]int, m.NumCells()),
		entityLocal: make(map[int]int),
		nv:          ed.Vertex,
		ne:          ed.Edge,
		nc:          ed.Cell,
		numV:        m.NumVertices(),
		numE:        m.NumEdges(),
	}
	total := d.cellID(m.NumCells(), 0)
	owner := func(id int) int {
		switch {
		case id < d.edgeID(0, 0):
			return m.VertexOwner(id / d.nv)
		case id < d.cellID(0, 0):
			return m.EdgeOwner((id - d.edgeID(0, 0)) / d.ne)
		}
		return m.CellOwner((id - d.cellID(0, 0)) / d.nc)
	}

	// The mesh is replicated, so every rank can number every entity
	size := m.Comm().Size()
	rank := m.Comm().Rank()
	counts := make([]int, size)
	pos := make([]int, total)
	owners := make([]int, total)
	for id := 0; id < total; id++ {
		o := owner(id)
		owners[id] = o
		pos[id] = counts[o]
		counts[o]++
	}
	offsets := make([]int, size+1)
	for r, n := range counts {
		offsets[r+1] = offsets[r] + n
	}

	held := make(map[int]bool)
	for _, k := range m.LocalCells() {
		for _, id := range d.elementIDs(m, k) {
			held[id] = true
		}
	}
	var ghostIDs []int
	for id := range held {
		if owners[id] == rank {
			d.entityLocal[id] = pos[id]
		} else {
			ghostIDs = append(ghostIDs, id)
		}
	}
	sort.Ints(ghostIDs)
	ghosts := make([]int, len(ghostIDs))
	ghostOwners := make([]int, len(ghostIDs))
	for k, id := range ghostIDs {
		o := owners[id]
		ghosts[k] = offsets[o] + pos[id]
		ghostOwners[k] = o
		d.entityLocal[id] = counts[rank] + k
	}

	im, err := la.NewIndexMap(m.Comm(), counts[rank], ghosts, ghostOwners)
	if err != nil {
		return nil, fmt.Errorf("function space %s: %w", e.ShortName(), err)
	}
	d.IndexMap = im

	for _, k := range m.LocalCells() {
		ids := d.elementIDs(m, k)
		dofs := make([]int, len(ids))
		for i, id := range ids {
			dofs[i] = d.entityLocal[id]
		}
		d.cellDofs[k] = dofs
	}
	return &FunctionSpace{Mesh: m, Element: e, DofMap: d}, nil
}

// elementIDs lists the entity dofs of cell k in element order: vertex dofs,
// then dofs of the edge opposite each vertex, then interior dofs
func (d *DofMap) elementIDs(m *mesh.Mesh, k int) []int {
	ids := make([]int, 0, 3*d.nv+3*d.ne+d.nc)
	for _, v := range m.Cells[k] {
		for j := 0; j < d.nv; j++ {
			ids = append(ids, d.vertexID(v, j))
		}
	}
	for _, e := range m.CellEdges[k] {
		for j := 0; j < d.ne; j++ {
			ids = append(ids, d.edgeID(e, j))
		}
	}
	for j := 0; j < d.nc; j++ {
		ids = append(ids, d.cellID(k, j))
	}
	return ids
}

func (V *FunctionSpace) BlockSize() int         { return V.DofMap.BS }
func (V *FunctionSpace) IndexMap() *la.IndexMap { return V.DofMap.IndexMap }

func (V *FunctionSpace) String() string {
	im := V.IndexMap()
	return fmt.Sprintf("FunctionSpace(%s, bs=%d, %d owned, %d ghosts)",
		V.Element.ShortName(), V.DofMap.BS, im.SizeLocal(), im.NumGhosts())
}

// LocateDofsTopological returns the local nodes attached to the given edges,
// owned nodes first and ghosts after, each in ascending order
func LocateDofsTopological(V *FunctionSpace, facets []int) []int {
	d := V.DofMap
	m := V.Mesh
	seen := make(map[int]bool)
	add := func(id int) {
		if l, ok := d.entityLocal[id]; ok {
			seen[l] = true
		}
	}
	for _, e := range facets {
		for _, v := range m.Edges[e] {
			for j := 0; j < d.nv; j++ {
				add(d.vertexID(v, j))
			}
		}
		for j := 0; j < d.ne; j++ {
			add(d.edgeID(e, j))
		}
	}
	return sortedKeys(seen)
}

// LocateDofsGeometrical returns the local nodes whose interpolation point
// satisfies marker
func LocateDofsGeometrical(V *FunctionSpace, marker func(x [2]float64) bool) []int {
	seen := make(map[int]bool)
	for _, k := range V.Mesh.LocalCells() {
		pts := V.Element.DofPoints(V.Mesh.Geometry(k))
		for i, node := range V.DofMap.CellDofs(k) {
			if !seen[node] && marker(pts[i]) {
				seen[node] = true
			}
		}
	}
	return sortedKeys(seen)
}

func sortedKeys(set map[int]bool) []int {
	keys := make([]int, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}
