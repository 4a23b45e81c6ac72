package partitions

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stripMesh returns a chain of K elements, each face-connected to its
// neighbours along the strip
func stripMesh(K int) *MeshConnectivity {
	EToE := make([][]int, K)
	for k := 0; k < K; k++ {
		left, right := k-1, k+1
		if left < 0 {
			left = k
		}
		if right >= K {
			right = k
		}
		EToE[k] = []int{left, right, k}
	}
	return &MeshConnectivity{NumElements: K, EToE: EToE}
}

func TestBuildPartitions_Strategies(t *testing.T) {
	for _, strategy := range []PartitionStrategy{BlockPartition, RoundRobin, GraphPartition} {
		for _, np := range []int{1, 2, 3, 4} {
			pb := &PartitionBuilder{Mesh: stripMesh(10), NumPartitions: np, Strategy: strategy}
			layout, err := pb.BuildPartitions()
			if err != nil {
				t.Fatalf("%v with %d partitions: %v", strategy, np, err)
			}
			if layout.NumPartitions != np {
				t.Errorf("%v: expected %d partitions, got %d", strategy, np, layout.NumPartitions)
			}
			stats := layout.PartitionStatistics()
			if stats.MinElements == 0 {
				t.Errorf("%v with %d partitions: empty partition", strategy, np)
			}
			if stats.MaxElements-stats.MinElements > 1 {
				t.Errorf("%v with %d partitions: imbalance %d..%d",
					strategy, np, stats.MinElements, stats.MaxElements)
			}
		}
	}
}

func TestBuildPartitions_GraphIsContiguousOnStrip(t *testing.T) {
	pb := &PartitionBuilder{Mesh: stripMesh(9), NumPartitions: 3, Strategy: GraphPartition}
	layout, err := pb.BuildPartitions()
	require.NoError(t, err)
	assert.Equal(t, []int{0, 0, 0, 1, 1, 1, 2, 2, 2}, layout.EToP)
	assert.Equal(t, []int{3, 4, 5}, layout.Owned(1))
}

func TestBuildPartitions_ClampsToElementCount(t *testing.T) {
	pb := &PartitionBuilder{Mesh: stripMesh(3), NumPartitions: 8, Strategy: BlockPartition}
	layout, err := pb.BuildPartitions()
	require.NoError(t, err)
	assert.Equal(t, 3, layout.NumPartitions)
	assert.Equal(t, -1, layout.GetPartition(3))
}

func TestParseStrategy(t *testing.T) {
	s, err := ParseStrategy("graph")
	require.NoError(t, err)
	assert.Equal(t, GraphPartition, s)
	_, err = ParseStrategy("metis")
	assert.Error(t, err)
}
