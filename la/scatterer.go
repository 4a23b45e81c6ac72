package la

import (
	"fmt"
)

// Scatterer exchanges values between owned entries and their ghost copies
// using pick and place index lists. Pick lists gather owned values to send,
// place lists say where received values land in the ghost region.
type Scatterer struct {
	im *IndexMap

	// Pick/Place indices per peer rank
	PickIndices  [][]int // [targetRank] local owned indices sent to targetRank
	PlaceIndices [][]int // [sourceRank] local ghost indices filled from sourceRank
}

// newScatterer builds the pick and place lists. Collective.
func newScatterer(im *IndexMap) *Scatterer {
	c := im.comm
	s := &Scatterer{
		im:           im,
		PickIndices:  make([][]int, c.Size()),
		PlaceIndices: make([][]int, c.Size()),
	}

	// Each ghost asks its owner for the owned value behind it
	requests := make([][]int, c.Size())
	for k, g := range im.ghosts {
		o := im.owners[k]
		requests[o] = append(requests[o], g)
		s.PlaceIndices[o] = append(s.PlaceIndices[o], im.SizeLocal()+k)
	}
	send := make([]any, c.Size())
	for r := range send {
		send[r] = requests[r]
	}
	recv := c.Alltoall(send)
	for src, v := range recv {
		if src == c.Rank() {
			continue
		}
		for _, g := range v.([]int) {
			s.PickIndices[src] = append(s.PickIndices[src], g-im.localRange[0])
		}
	}
	return s
}

// Forward copies owned values into the ghost slots of every rank holding
// them (insert semantics). data is the local array with block size bs.
// Collective.
func (s *Scatterer) Forward(data []float64, bs int) {
	c := s.im.comm
	for dst, pick := range s.PickIndices {
		if dst == c.Rank() || len(pick) == 0 {
			continue
		}
		buf := make([]float64, 0, len(pick)*bs)
		for _, i := range pick {
			buf = append(buf, data[i*bs:(i+1)*bs]...)
		}
		c.Send(dst, buf)
	}
	for src, place := range s.PlaceIndices {
		if src == c.Rank() || len(place) == 0 {
			continue
		}
		buf := c.RecvFloats(src)
		for k, i := range place {
			copy(data[i*bs:(i+1)*bs], buf[k*bs:(k+1)*bs])
		}
	}
}

// Reverse accumulates ghost values onto their owners (add semantics). The
// ghost slots keep their values. Collective.
func (s *Scatterer) Reverse(data []float64, bs int) {
	c := s.im.comm
	for src, place := range s.PlaceIndices {
		if src == c.Rank() || len(place) == 0 {
			continue
		}
		buf := make([]float64, 0, len(place)*bs)
		for _, i := range place {
			buf = append(buf, data[i*bs:(i+1)*bs]...)
		}
		c.Send(src, buf)
	}
	for dst, pick := range s.PickIndices {
		if dst == c.Rank() || len(pick) == 0 {
			continue
		}
		buf := c.RecvFloats(dst)
		for k, i := range pick {
			for j := 0; j < bs; j++ {
				data[i*bs+j] += buf[k*bs+j]
			}
		}
	}
}

// Verify checks index validity and pick/place correspondence. Collective.
func (s *Scatterer) Verify() error {
	c := s.im.comm
	n := s.im.SizeLocal()
	var err error

	// Local validity - pick indices are owned, place indices are ghosts
	for q, pick := range s.PickIndices {
		for _, idx := range pick {
			if idx < 0 || idx >= n {
				err = fmt.Errorf("invalid pick index %d for rank %d (max %d)", idx, q, n-1)
			}
		}
	}
	for q, place := range s.PlaceIndices {
		for _, idx := range place {
			if idx < n || idx >= n+s.im.NumGhosts() {
				err = fmt.Errorf("invalid place index %d from rank %d", idx, q)
			}
		}
	}

	// Correspondence - what a rank picks for q, q places from that rank
	send := make([]any, c.Size())
	for q := range send {
		send[q] = len(s.PickIndices[q])
	}
	for src, v := range c.Alltoall(send) {
		if src == c.Rank() {
			continue
		}
		if pl := len(s.PlaceIndices[src]); v.(int) != pl && err == nil {
			err = fmt.Errorf("length mismatch: pick[%d][%d]=%d, place[%d][%d]=%d",
				src, c.Rank(), v.(int), c.Rank(), src, pl)
		}
	}

	// Conservation - every ghost is placed exactly once
	total := 0
	for _, place := range s.PlaceIndices {
		total += len(place)
	}
	if total != s.im.NumGhosts() && err == nil {
		err = fmt.Errorf("conservation error: total places %d != ghosts %d", total, s.im.NumGhosts())
	}
	return err
}
