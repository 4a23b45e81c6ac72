package partitions

import (
	"fmt"
	"math"
)

// Partition is the set of cells owned by one rank
type Partition struct {
	// Rank that owns this partition
	ID int

	// Cell membership, ascending global cell indices
	Elements    []int
	NumElements int
}

// PartitionLayout manages the complete mesh decomposition
type PartitionLayout struct {
	// All partitions in the mesh, indexed by rank
	Partitions []Partition

	TotalElements int // Sum of all elements across partitions
	NumPartitions int // Number of ranks

	// Element to partition mapping
	EToP []int // Length TotalElements: element k belongs to partition EToP[k]
}

// GetPartition returns the partition containing element k
func (pl *PartitionLayout) GetPartition(elementID int) int {
	if elementID < 0 || elementID >= len(pl.EToP) {
		return -1
	}
	return pl.EToP[elementID]
}

// Owned returns the elements of partition p
func (pl *PartitionLayout) Owned(p int) []int {
	if p < 0 || p >= len(pl.Partitions) {
		return nil
	}
	return pl.Partitions[p].Elements
}

// ValidateLayout checks partition consistency
func (pl *PartitionLayout) ValidateLayout() error {
	if len(pl.EToP) != pl.TotalElements {
		return fmt.Errorf("EToP length %d != TotalElements %d", len(pl.EToP), pl.TotalElements)
	}
	if len(pl.Partitions) != pl.NumPartitions {
		return fmt.Errorf("have %d partitions, expected %d", len(pl.Partitions), pl.NumPartitions)
	}
	total := 0
	for id, p := range pl.Partitions {
		if p.ID != id {
			return fmt.Errorf("partition at position %d has ID %d", id, p.ID)
		}
		if p.NumElements != len(p.Elements) {
			return fmt.Errorf("partition %d: NumElements %d != len(Elements) %d",
				p.ID, p.NumElements, len(p.Elements))
		}
		if p.NumElements == 0 && pl.TotalElements >= pl.NumPartitions {
			return fmt.Errorf("partition %d is empty", p.ID)
		}
		for _, e := range p.Elements {
			if pl.GetPartition(e) != p.ID {
				return fmt.Errorf("element %d listed in partition %d but EToP says %d",
					e, p.ID, pl.GetPartition(e))
			}
		}
		total += p.NumElements
	}
	if total != pl.TotalElements {
		return fmt.Errorf("partitions hold %d elements, expected %d", total, pl.TotalElements)
	}
	return nil
}

// PartitionStatistics computes load balance metrics
func (pl *PartitionLayout) PartitionStatistics() PartitionStats {
	stats := PartitionStats{
		NumPartitions: pl.NumPartitions,
		MinElements:   math.MaxInt32,
		MaxElements:   0,
		AvgElements:   float64(pl.TotalElements) / float64(pl.NumPartitions),
	}

	for _, p := range pl.Partitions {
		if p.NumElements < stats.MinElements {
			stats.MinElements = p.NumElements
		}
		if p.NumElements > stats.MaxElements {
			stats.MaxElements = p.NumElements
		}
	}

	stats.Imbalance = float64(stats.MaxElements) / stats.AvgElements

	return stats
}

type PartitionStats struct {
	NumPartitions int
	MinElements   int
	MaxElements   int
	AvgElements   float64
	Imbalance     float64 // MaxElements / AvgElements
}
