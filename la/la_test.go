package la

import (
	"errors"
	"fmt"
	"testing"

	"github.com/notargets/DGBlock/comm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ringMap gives every rank 4 owned indices and ghosts the first index of the
// next rank and the last index of the previous rank
func ringMap(c *comm.Comm) (*IndexMap, error) {
	const n = 4
	size := c.Size()
	next, prev := (c.Rank()+1)%size, (c.Rank()+size-1)%size
	var ghosts, owners []int
	if size > 1 {
		ghosts = append(ghosts, next*n)
		owners = append(owners, next)
		if prev != next {
			ghosts = append(ghosts, prev*n+n-1)
			owners = append(owners, prev)
		}
	}
	return NewIndexMap(c, n, ghosts, owners)
}

func TestIndexMap_Numbering(t *testing.T) {
	err := comm.Run(3, func(c *comm.Comm) error {
		im, err := ringMap(c)
		if err != nil {
			return err
		}
		if im.SizeGlobal() != 12 || im.SizeLocal() != 4 || im.NumGhosts() != 2 {
			return fmt.Errorf("rank %d: sizes %d/%d/%d", c.Rank(), im.SizeGlobal(), im.SizeLocal(), im.NumGhosts())
		}
		if im.LocalRange() != [2]int{4 * c.Rank(), 4*c.Rank() + 4} {
			return fmt.Errorf("rank %d: range %v", c.Rank(), im.LocalRange())
		}
		for i := 0; i < 6; i++ {
			if got := im.GlobalToLocal(im.LocalToGlobal(i)); got != i {
				return fmt.Errorf("rank %d: round trip of %d gave %d", c.Rank(), i, got)
			}
		}
		if im.GlobalToLocal((4*c.Rank()+6)%12) != -1 {
			return fmt.Errorf("rank %d: unexpected local index for a remote interior entry", c.Rank())
		}
		if im.Owner(11) != 2 {
			return fmt.Errorf("rank %d: owner of 11 is %d", c.Rank(), im.Owner(11))
		}
		return im.Scatterer().Verify()
	})
	require.NoError(t, err)
}

func TestIndexMap_RejectsBadGhostOnAllRanks(t *testing.T) {
	err := comm.Run(2, func(c *comm.Comm) error {
		ghosts, owners := []int{}, []int{}
		if c.Rank() == 1 {
			// Index 7 is owned by rank 1 itself
			ghosts, owners = []int{7}, []int{1}
		}
		_, err := NewIndexMap(c, 4, ghosts, owners)
		if err == nil {
			return fmt.Errorf("rank %d: expected an error", c.Rank())
		}
		return nil
	})
	require.NoError(t, err)
}

func TestScatterer_ForwardReverse(t *testing.T) {
	for _, bs := range []int{1, 2} {
		err := comm.Run(3, func(c *comm.Comm) error {
			im, err := ringMap(c)
			if err != nil {
				return err
			}
			data := make([]float64, 6*bs)
			for i := 0; i < 4; i++ {
				for j := 0; j < bs; j++ {
					data[i*bs+j] = float64(100*im.LocalToGlobal(i) + j)
				}
			}
			im.Scatterer().Forward(data, bs)
			for i := 4; i < 6; i++ {
				for j := 0; j < bs; j++ {
					if want := float64(100*im.LocalToGlobal(i) + j); data[i*bs+j] != want {
						return fmt.Errorf("rank %d: ghost %d comp %d = %v, want %v", c.Rank(), i, j, data[i*bs+j], want)
					}
				}
			}

			for i := range data {
				data[i] = 1
			}
			im.Scatterer().Reverse(data, bs)
			// The first and last owned entries are each ghosted by one peer
			for _, i := range []int{0, 3} {
				if data[i*bs] != 2 {
					return fmt.Errorf("rank %d: owned %d = %v after reverse", c.Rank(), i, data[i*bs])
				}
			}
			if data[bs] != 1 || data[4*bs] != 1 {
				return fmt.Errorf("rank %d: untouched entries changed", c.Rank())
			}
			return nil
		})
		require.NoError(t, err, "bs=%d", bs)
	}
}

func TestStackIndexMaps(t *testing.T) {
	err := comm.Run(2, func(c *comm.Comm) error {
		im0, err := ringMap(c)
		if err != nil {
			return err
		}
		// Second field: 2 owned entries per rank, block size 2, ghosting the
		// peer's first entry
		peer := 1 - c.Rank()
		im1, err := NewIndexMap(c, 2, []int{2 * peer}, []int{peer})
		if err != nil {
			return err
		}
		sm, err := StackIndexMaps([]*IndexMap{im0, im1}, []int{1, 2})
		if err != nil {
			return err
		}
		if sm.Map.SizeLocal() != 8 || sm.Map.SizeGlobal() != 16 || sm.Map.NumGhosts() != 3 {
			return fmt.Errorf("rank %d: stacked sizes %d/%d/%d", c.Rank(),
				sm.Map.SizeLocal(), sm.Map.SizeGlobal(), sm.Map.NumGhosts())
		}
		if sm.OwnedOffsets[1] != 4 || sm.GhostOffsets[1] != 1 {
			return fmt.Errorf("rank %d: offsets %v %v", c.Rank(), sm.OwnedOffsets, sm.GhostOffsets)
		}
		// Field 1 ghost entries land after field 0's ghost
		if got := sm.Sets[1].At(4); got != 8+1 {
			return fmt.Errorf("rank %d: field 1 ghost maps to %d", c.Rank(), got)
		}
		// Field 1 ghost is the peer's first field 1 entry, stored after the
		// peer's four field 0 entries
		if g := sm.Map.Ghosts()[1]; g != 8*peer+4 {
			return fmt.Errorf("rank %d: stacked ghost %d", c.Rank(), g)
		}
		return nil
	})
	require.NoError(t, err)
}

func TestVector_StateAndHandles(t *testing.T) {
	base := OpenHandles()
	im, err := NewIndexMap(comm.Self(), 3, nil, nil)
	require.NoError(t, err)

	v := NewVector(im, 2)
	assert.Equal(t, Clean, v.State())
	v.Local()[0] = 1
	assert.Equal(t, Assembling, v.State())
	v.ScatterReverse()
	assert.Equal(t, Finalized, v.State())
	w := v.Duplicate()
	w.Set(2)
	v.AXPY(1, w)
	assert.InDelta(t, 3.0, v.Array()[0], 1e-15)
	assert.InDelta(t, float64(9+5*4), v.Dot(v), 1e-12)

	nest := NewNestVector([]*Vector{v, w})
	assert.Equal(t, Clean, nest.State(), "nest with a clean field")
	assert.Equal(t, 12, nest.SizeGlobal())
	assert.Equal(t, base+3, OpenHandles())
	nest.Destroy()
	nest.Destroy()
	assert.Equal(t, base, OpenHandles())
	assert.Panics(t, func() { v.Local() })
}

func TestMatrix_StashAndInsertModes(t *testing.T) {
	err := comm.Run(2, func(c *comm.Comm) error {
		im, err := ringMap(c)
		if err != nil {
			return err
		}
		A := NewMatrix(im, 1, im, 1)
		defer A.Destroy()

		// Every rank adds 1 on the diagonal of all its local rows, including
		// the ghost rows owned by the peer
		for i := 0; i < im.SizeLocal()+im.NumGhosts(); i++ {
			if err := A.AddLocal([]int{i}, []int{i}, []float64{1}); err != nil {
				return err
			}
		}
		if err := A.SetLocal([]int{0}, []int{0}, []float64{5}); !errors.Is(err, ErrMixedInsertMode) {
			return fmt.Errorf("rank %d: expected mixed mode error, got %v", c.Rank(), err)
		}
		if err := A.Assemble(FlushAssembly); err != nil {
			return err
		}
		r0 := A.OwnedRowRange()[0]
		// Entry 0 of each rank is ghosted by the peer, so it holds both adds
		if got := A.At(r0, r0); got != 2 {
			return fmt.Errorf("rank %d: diagonal %v", c.Rank(), got)
		}
		if err := A.SetLocal([]int{1, -1}, []int{1, 2}, []float64{7, 8, 9, 10}); err != nil {
			return err
		}
		if err := A.Assemble(FinalAssembly); err != nil {
			return err
		}
		if A.At(r0+1, r0+1) != 7 || A.At(r0+1, r0+2) != 8 {
			return fmt.Errorf("rank %d: insert mode result wrong", c.Rank())
		}
		if !A.Assembled() {
			return fmt.Errorf("rank %d: not assembled", c.Rank())
		}
		A.ZeroEntries()
		if A.NNZ() != 0 {
			return fmt.Errorf("rank %d: %d entries after zero", c.Rank(), A.NNZ())
		}
		return nil
	})
	require.NoError(t, err)
}

func TestParseKind(t *testing.T) {
	k, err := ParseKind("mpi")
	require.NoError(t, err)
	assert.Equal(t, Block, k)
	_, err = ParseKind("dense")
	assert.ErrorIs(t, err, ErrKind)
}
