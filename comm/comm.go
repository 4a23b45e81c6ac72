// Package comm provides an in-process message passing world. Each rank runs
// in its own goroutine and talks to its peers only through FIFO links, so the
// collective semantics of a distributed run (every rank calls the same
// collectives in the same order) are preserved without a native MPI library.
package comm

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// ErrAborted is returned by ranks that were blocked in a communication call
// when a peer rank failed.
var ErrAborted = errors.New("comm: peer rank aborted")

// linkDepth is the number of in-flight messages a link holds before Send blocks
const linkDepth = 16

type world struct {
	size  int
	links [][]chan any // links[src][dst]
	ctx   context.Context
}

func newWorld(ctx context.Context, size int) *world {
	w := &world{size: size, ctx: ctx}
	w.links = make([][]chan any, size)
	for src := range w.links {
		w.links[src] = make([]chan any, size)
		for dst := range w.links[src] {
			w.links[src][dst] = make(chan any, linkDepth)
		}
	}
	return w
}

// Comm is one rank's handle on a world
type Comm struct {
	rank int
	w    *world
}

// abort is the panic payload used to unwind a rank whose peer failed
type abort struct{ err error }

// Run starts size ranks, each executing fn with its own Comm, and waits for
// all of them. The first error returned by any rank is returned; ranks blocked
// on that rank unwind with ErrAborted.
func Run(size int, fn func(c *Comm) error) error {
	return RunContext(context.Background(), size, fn)
}

// RunContext is Run with a parent context. Once ctx is done, ranks blocked in
// a communication call unwind and the context's cause is returned.
func RunContext(ctx context.Context, size int, fn func(c *Comm) error) error {
	if size < 1 {
		return fmt.Errorf("comm: invalid world size %d", size)
	}
	g, gctx := errgroup.WithContext(ctx)
	w := newWorld(gctx, size)
	for r := 0; r < size; r++ {
		c := &Comm{rank: r, w: w}
		g.Go(func() (err error) {
			defer func() {
				if p := recover(); p != nil {
					a, ok := p.(abort)
					if !ok {
						panic(p)
					}
					err = a.err
				}
			}()
			return fn(c)
		})
	}
	err := g.Wait()
	if err != nil && ctx.Err() != nil {
		return fmt.Errorf("comm: %w", context.Cause(ctx))
	}
	return err
}

// Self returns a single rank world
func Self() *Comm {
	return &Comm{rank: 0, w: newWorld(context.Background(), 1)}
}

func (c *Comm) Rank() int { return c.rank }
func (c *Comm) Size() int { return c.w.size }

// Err reports whether the world has been cancelled, by its parent context or
// by a failed rank. Long loops check it between collectives.
func (c *Comm) Err() error {
	if c.w.ctx.Err() != nil {
		return ErrAborted
	}
	return nil
}

// Send posts v to rank dst. Slices sent through Send must not be modified by
// the sender afterwards; the typed helpers copy for you.
func (c *Comm) Send(dst int, v any) {
	select {
	case c.w.links[c.rank][dst] <- v:
	case <-c.w.ctx.Done():
		panic(abort{ErrAborted})
	}
}

// Recv blocks until the next message from rank src arrives
func (c *Comm) Recv(src int) any {
	select {
	case v := <-c.w.links[src][c.rank]:
		return v
	case <-c.w.ctx.Done():
		panic(abort{ErrAborted})
	}
}

// SendFloats sends a copy of data to dst
func (c *Comm) SendFloats(dst int, data []float64) {
	c.Send(dst, append([]float64(nil), data...))
}

// RecvFloats receives a float slice from src
func (c *Comm) RecvFloats(src int) []float64 {
	v, _ := c.Recv(src).([]float64)
	return v
}

// SendInts sends a copy of data to dst
func (c *Comm) SendInts(dst int, data []int) {
	c.Send(dst, append([]int(nil), data...))
}

// RecvInts receives an int slice from src
func (c *Comm) RecvInts(src int) []int {
	v, _ := c.Recv(src).([]int)
	return v
}
