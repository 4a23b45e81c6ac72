package partitions

import (
	"fmt"
	"sort"
	"strings"
)

// PartitionBuilder constructs partitions from mesh connectivity
type PartitionBuilder struct {
	// Mesh connectivity
	Mesh *MeshConnectivity

	// Number of ranks to distribute the cells over
	NumPartitions int
	Strategy      PartitionStrategy
}

// MeshConnectivity provides the mesh topology needed for partitioning
type MeshConnectivity struct {
	NumElements int

	// Face connectivity for minimizing communication. A face on the domain
	// boundary points back at its own element.
	EToE [][]int
}

// PartitionStrategy defines how elements are grouped
type PartitionStrategy int

const (
	// Simple strategies
	BlockPartition PartitionStrategy = iota // Consecutive elements
	RoundRobin                              // Distribute cyclically

	// Graph-based strategies
	GraphPartition // Greedy breadth-first growing over EToE
)

func (s PartitionStrategy) String() string {
	switch s {
	case BlockPartition:
		return "block"
	case RoundRobin:
		return "roundrobin"
	case GraphPartition:
		return "graph"
	}
	return fmt.Sprintf("PartitionStrategy(%d)", int(s))
}

// ParseStrategy converts a configuration string to a strategy
func ParseStrategy(s string) (PartitionStrategy, error) {
	switch strings.ToLower(s) {
	case "", "block":
		return BlockPartition, nil
	case "roundrobin", "round-robin":
		return RoundRobin, nil
	case "graph":
		return GraphPartition, nil
	}
	return BlockPartition, fmt.Errorf("unknown partition strategy %q", s)
}

// BuildPartitions creates a partition layout from mesh connectivity
func (pb *PartitionBuilder) BuildPartitions() (*PartitionLayout, error) {
	if pb.Mesh == nil || pb.Mesh.NumElements <= 0 {
		return nil, fmt.Errorf("partition builder: empty mesh")
	}
	numPartitions := pb.calculateNumPartitions()

	eToP, err := pb.partitionElements(numPartitions)
	if err != nil {
		return nil, err
	}

	layout := &PartitionLayout{
		Partitions:    pb.createPartitions(eToP, numPartitions),
		TotalElements: pb.Mesh.NumElements,
		NumPartitions: numPartitions,
		EToP:          eToP,
	}

	if err := layout.ValidateLayout(); err != nil {
		return nil, fmt.Errorf("invalid partition layout: %w", err)
	}

	return layout, nil
}

// calculateNumPartitions clamps the requested count to [1, NumElements]
func (pb *PartitionBuilder) calculateNumPartitions() int {
	numPartitions := pb.NumPartitions
	if numPartitions < 1 {
		numPartitions = 1
	}
	if numPartitions > pb.Mesh.NumElements {
		numPartitions = pb.Mesh.NumElements
	}
	return numPartitions
}

// partitionElements assigns elements to partitions
func (pb *PartitionBuilder) partitionElements(numPartitions int) ([]int, error) {
	eToP := make([]int, pb.Mesh.NumElements)

	switch pb.Strategy {
	case BlockPartition:
		// Consecutive runs whose sizes differ by at most one
		for i := 0; i < pb.Mesh.NumElements; i++ {
			eToP[i] = i * numPartitions / pb.Mesh.NumElements
		}

	case RoundRobin:
		for i := 0; i < pb.Mesh.NumElements; i++ {
			eToP[i] = i % numPartitions
		}

	case GraphPartition:
		if len(pb.Mesh.EToE) != pb.Mesh.NumElements {
			return nil, fmt.Errorf("graph partition needs EToE for %d elements, have %d",
				pb.Mesh.NumElements, len(pb.Mesh.EToE))
		}
		pb.growPartitions(eToP, numPartitions)

	default:
		return nil, fmt.Errorf("unsupported partition strategy %v", pb.Strategy)
	}

	return eToP, nil
}

// growPartitions fills partitions one at a time by breadth-first search from
// the lowest unassigned element, so each partition is face connected where
// the mesh allows it.
func (pb *PartitionBuilder) growPartitions(eToP []int, numPartitions int) {
	for i := range eToP {
		eToP[i] = -1
	}
	K := pb.Mesh.NumElements
	next := 0
	for part := 0; part < numPartitions; part++ {
		target := (part+1)*K/numPartitions - part*K/numPartitions
		count := 0
		queue := make([]int, 0, target)
		for count < target {
			if len(queue) == 0 {
				for next < K && eToP[next] >= 0 {
					next++
				}
				if next == K {
					break
				}
				queue = append(queue, next)
				eToP[next] = part
				count++
			}
			elem := queue[0]
			queue = queue[1:]
			neighbors := append([]int(nil), pb.Mesh.EToE[elem]...)
			sort.Ints(neighbors)
			for _, nb := range neighbors {
				if count == target {
					break
				}
				if nb == elem || eToP[nb] >= 0 {
					continue
				}
				eToP[nb] = part
				queue = append(queue, nb)
				count++
			}
		}
	}
}

// createPartitions builds partition structures from element assignments
func (pb *PartitionBuilder) createPartitions(eToP []int, numPartitions int) []Partition {
	partitions := make([]Partition, numPartitions)

	for i := range partitions {
		partitions[i] = Partition{
			ID:       i,
			Elements: make([]int, 0),
		}
	}

	for elem, part := range eToP {
		partitions[part].Elements = append(partitions[part].Elements, elem)
		partitions[part].NumElements++
	}

	return partitions
}
