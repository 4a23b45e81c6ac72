package la

import (
	"fmt"
)

// IndexSet lists, for each local index of one field, the matching local
// index in a stacked container.
type IndexSet struct {
	indices []int
}

func NewIndexSet(indices []int) *IndexSet {
	return &IndexSet{indices: append([]int(nil), indices...)}
}

func (s *IndexSet) Len() int       { return len(s.indices) }
func (s *IndexSet) Indices() []int { return s.indices }
func (s *IndexSet) At(i int) int   { return s.indices[i] }

// Map translates local indices into out. Negative indices pass through so
// dropped rows and columns stay dropped.
func (s *IndexSet) Map(local, out []int) []int {
	out = out[:0]
	for _, i := range local {
		if i < 0 {
			out = append(out, -1)
			continue
		}
		out = append(out, s.indices[i])
	}
	return out
}

// StackedMap is the index map of several fields stacked into one container:
// the owned entries of every field in field order, followed by the ghost
// entries of every field in field order. The stacked map has block size one.
type StackedMap struct {
	Map  *IndexMap
	Maps []*IndexMap
	BS   []int

	OwnedOffsets []int // len(Maps)+1, start of each field's owned entries
	GhostOffsets []int // len(Maps)+1, start of each field's ghosts within the ghost region
	Sets         []*IndexSet
}

// StackIndexMaps combines field index maps into one. Collective.
func StackIndexMaps(maps []*IndexMap, bs []int) (*StackedMap, error) {
	if len(maps) == 0 || len(maps) != len(bs) {
		return nil, fmt.Errorf("stack index maps: %d maps with %d block sizes", len(maps), len(bs))
	}
	c := maps[0].Comm()
	nb := len(maps)

	owned := make([]int, nb)
	for b, m := range maps {
		owned[b] = m.SizeLocal() * bs[b]
	}
	allOwned := c.AllgatherInts(owned) // [rank][field]

	// Offset of field b's owned entries in the stacked numbering of rank r
	start := make([][]int, c.Size())
	offset := 0
	for r := range allOwned {
		start[r] = make([]int, nb)
		for b := 0; b < nb; b++ {
			start[r][b] = offset
			offset += allOwned[r][b]
		}
	}

	sm := &StackedMap{
		Maps:         maps,
		BS:           append([]int(nil), bs...),
		OwnedOffsets: make([]int, nb+1),
		GhostOffsets: make([]int, nb+1),
		Sets:         make([]*IndexSet, nb),
	}
	var ghosts, owners []int
	for b, m := range maps {
		sm.OwnedOffsets[b+1] = sm.OwnedOffsets[b] + owned[b]
		sm.GhostOffsets[b+1] = sm.GhostOffsets[b] + m.NumGhosts()*bs[b]
		for k, g := range m.Ghosts() {
			o := m.Owners()[k]
			pos := g - m.OwnerRange(o)[0]
			for j := 0; j < bs[b]; j++ {
				ghosts = append(ghosts, start[o][b]+pos*bs[b]+j)
				owners = append(owners, o)
			}
		}
	}
	sizeLocal := sm.OwnedOffsets[nb]

	combined, err := NewIndexMap(c, sizeLocal, ghosts, owners)
	if err != nil {
		return nil, fmt.Errorf("stack index maps: %w", err)
	}
	sm.Map = combined

	for b, m := range maps {
		n := (m.SizeLocal() + m.NumGhosts()) * bs[b]
		idx := make([]int, n)
		for j := range idx {
			if j < owned[b] {
				idx[j] = sm.OwnedOffsets[b] + j
			} else {
				idx[j] = sizeLocal + sm.GhostOffsets[b] + j - owned[b]
			}
		}
		sm.Sets[b] = &IndexSet{indices: idx}
	}
	return sm, nil
}

// NumFields is the number of stacked fields
func (sm *StackedMap) NumFields() int { return len(sm.Maps) }
