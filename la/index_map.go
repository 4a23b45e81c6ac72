package la

import (
	"fmt"

	"github.com/notargets/DGBlock/comm"
)

// IndexMap describes how a distributed index range is split across ranks.
// Local indices [0, SizeLocal) are owned, [SizeLocal, SizeLocal+NumGhosts)
// are ghost copies of indices owned by other ranks.
type IndexMap struct {
	comm       *comm.Comm
	localRange [2]int
	sizeGlobal int
	ranges     []int // owned range start per rank, len size+1
	ghosts     []int // global index per ghost
	owners     []int // owning rank per ghost
	ghostPos   map[int]int
	scatter    *Scatterer
}

// NewIndexMap builds an index map collectively. Every rank passes the number
// of indices it owns and the global index and owner of each ghost it holds.
func NewIndexMap(c *comm.Comm, sizeLocal int, ghosts, owners []int) (*IndexMap, error) {
	sizes := c.AllgatherInt(sizeLocal)
	ranges := make([]int, len(sizes)+1)
	for r, n := range sizes {
		ranges[r+1] = ranges[r] + n
	}
	im := &IndexMap{
		comm:       c,
		localRange: [2]int{ranges[c.Rank()], ranges[c.Rank()+1]},
		sizeGlobal: ranges[len(sizes)],
		ranges:     ranges,
		ghosts:     append([]int(nil), ghosts...),
		owners:     append([]int(nil), owners...),
		ghostPos:   make(map[int]int, len(ghosts)),
	}

	var err error
	switch {
	case sizeLocal < 0:
		err = fmt.Errorf("negative local size %d", sizeLocal)
	case len(ghosts) != len(owners):
		err = fmt.Errorf("%d ghosts but %d owners", len(ghosts), len(owners))
	default:
		for k, g := range ghosts {
			o := owners[k]
			if o < 0 || o >= c.Size() || o == c.Rank() {
				err = fmt.Errorf("ghost %d has invalid owner %d", g, o)
				break
			}
			if g < ranges[o] || g >= ranges[o+1] {
				err = fmt.Errorf("ghost %d outside owner %d range [%d,%d)", g, o, ranges[o], ranges[o+1])
				break
			}
			if _, dup := im.ghostPos[g]; dup {
				err = fmt.Errorf("ghost %d listed twice", g)
				break
			}
			im.ghostPos[g] = sizeLocal + k
		}
	}
	// Fail on every rank together so no peer is left waiting in the exchange
	flag := 0
	if err != nil {
		flag = 1
	}
	if c.AllreduceSumInt(flag) > 0 {
		if err == nil {
			err = fmt.Errorf("index map rejected on a peer rank")
		}
		return nil, fmt.Errorf("rank %d: %w", c.Rank(), err)
	}

	im.scatter = newScatterer(im)
	return im, nil
}

func (im *IndexMap) Comm() *comm.Comm { return im.comm }

// SizeLocal is the number of owned indices
func (im *IndexMap) SizeLocal() int { return im.localRange[1] - im.localRange[0] }

func (im *IndexMap) NumGhosts() int  { return len(im.ghosts) }
func (im *IndexMap) SizeGlobal() int { return im.sizeGlobal }

// LocalRange is the half open global range owned by this rank
func (im *IndexMap) LocalRange() [2]int { return im.localRange }

// OwnerRange is the half open global range owned by rank r
func (im *IndexMap) OwnerRange(r int) [2]int { return [2]int{im.ranges[r], im.ranges[r+1]} }

func (im *IndexMap) Ghosts() []int { return im.ghosts }
func (im *IndexMap) Owners() []int { return im.owners }

func (im *IndexMap) Scatterer() *Scatterer { return im.scatter }

// LocalToGlobal maps a local index, owned or ghost, to its global index
func (im *IndexMap) LocalToGlobal(i int) int {
	n := im.SizeLocal()
	if i < n {
		return im.localRange[0] + i
	}
	return im.ghosts[i-n]
}

// GlobalToLocal returns the local index of global index g, or -1 if g is
// neither owned nor ghosted here.
func (im *IndexMap) GlobalToLocal(g int) int {
	if g >= im.localRange[0] && g < im.localRange[1] {
		return g - im.localRange[0]
	}
	if p, ok := im.ghostPos[g]; ok {
		return p
	}
	return -1
}

// Owner returns the rank owning global index g
func (im *IndexMap) Owner(g int) int {
	for r := 0; r < len(im.ranges)-1; r++ {
		if g < im.ranges[r+1] {
			return r
		}
	}
	return -1
}
