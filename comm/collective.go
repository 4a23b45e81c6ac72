package comm

// Collectives. Every rank of the world must call the same collective in the
// same order; reductions combine values in rank order so every rank computes a
// bitwise identical result.

// Allgather returns the value contributed by every rank, indexed by rank
func (c *Comm) Allgather(v any) []any {
	out := make([]any, c.Size())
	for dst := 0; dst < c.Size(); dst++ {
		if dst != c.rank {
			c.Send(dst, v)
		}
	}
	for src := 0; src < c.Size(); src++ {
		if src == c.rank {
			out[src] = v
			continue
		}
		out[src] = c.Recv(src)
	}
	return out
}

// AllgatherInt gathers one int per rank
func (c *Comm) AllgatherInt(v int) []int {
	all := c.Allgather(v)
	out := make([]int, len(all))
	for i, a := range all {
		out[i] = a.(int)
	}
	return out
}

// AllgatherInts gathers one int slice per rank
func (c *Comm) AllgatherInts(v []int) [][]int {
	all := c.Allgather(append([]int(nil), v...))
	out := make([][]int, len(all))
	for i, a := range all {
		out[i] = a.([]int)
	}
	return out
}

// Alltoall sends send[d] to rank d and returns what every rank sent here
func (c *Comm) Alltoall(send []any) []any {
	out := make([]any, c.Size())
	for dst := 0; dst < c.Size(); dst++ {
		if dst != c.rank {
			c.Send(dst, send[dst])
		}
	}
	for src := 0; src < c.Size(); src++ {
		if src == c.rank {
			out[src] = send[src]
			continue
		}
		out[src] = c.Recv(src)
	}
	return out
}

// Barrier blocks until every rank has entered it
func (c *Comm) Barrier() {
	c.Allgather(struct{}{})
}

// AllreduceSum sums v over all ranks
func (c *Comm) AllreduceSum(v float64) float64 {
	var sum float64
	for _, a := range c.Allgather(v) {
		sum += a.(float64)
	}
	return sum
}

// AllreduceSumInt sums v over all ranks
func (c *Comm) AllreduceSumInt(v int) int {
	var sum int
	for _, a := range c.AllgatherInt(v) {
		sum += a
	}
	return sum
}

// AllreduceMax returns the maximum of v over all ranks
func (c *Comm) AllreduceMax(v float64) float64 {
	all := c.Allgather(v)
	m := all[0].(float64)
	for _, a := range all[1:] {
		if f := a.(float64); f > m {
			m = f
		}
	}
	return m
}

// ExclusiveScanInt returns the sum of v over ranks below this one and the
// total over all ranks
func (c *Comm) ExclusiveScanInt(v int) (offset, total int) {
	for r, n := range c.AllgatherInt(v) {
		if r < c.rank {
			offset += n
		}
		total += n
	}
	return
}

// Gather collects v on root. Non-root ranks get nil.
func (c *Comm) Gather(root int, v any) []any {
	if c.rank != root {
		c.Send(root, v)
		return nil
	}
	out := make([]any, c.Size())
	for src := 0; src < c.Size(); src++ {
		if src == root {
			out[src] = v
			continue
		}
		out[src] = c.Recv(src)
	}
	return out
}

// Bcast returns root's v on every rank
func (c *Comm) Bcast(root int, v any) any {
	if c.rank == root {
		for dst := 0; dst < c.Size(); dst++ {
			if dst != root {
				c.Send(dst, v)
			}
		}
		return v
	}
	return c.Recv(root)
}

// Scatter sends parts[d] from root to rank d and returns this rank's part
func (c *Comm) Scatter(root int, parts []any) any {
	if c.rank == root {
		for dst := 0; dst < c.Size(); dst++ {
			if dst != root {
				c.Send(dst, parts[dst])
			}
		}
		return parts[root]
	}
	return c.Recv(root)
}
