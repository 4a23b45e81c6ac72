package la

import (
	"fmt"
	"math"

	"github.com/notargets/DGBlock/comm"
	"gonum.org/v1/gonum/floats"
)

// State tracks whether ghost contributions of a vector have been accumulated
type State uint8

const (
	Clean      State = iota // zeroed or freshly created
	Assembling              // local storage written, ghosts not yet accumulated
	Finalized               // ghost contributions accumulated onto owners
)

func (s State) String() string {
	switch s {
	case Clean:
		return "clean"
	case Assembling:
		return "assembling"
	case Finalized:
		return "finalized"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Vector is a ghosted distributed vector. Single and Block vectors own one
// local array laid out as owned entries followed by ghosts; Nest vectors hold
// one sub-vector per field.
type Vector struct {
	kind      Kind
	im        *IndexMap
	bs        int
	stacked   *StackedMap
	data      []float64
	subs      []*Vector
	state     State
	destroyed bool
}

// NewVector creates a Single vector over im with block size bs
func NewVector(im *IndexMap, bs int) *Vector {
	openHandles.Add(1)
	return &Vector{
		kind: Single,
		im:   im,
		bs:   bs,
		data: make([]float64, (im.SizeLocal()+im.NumGhosts())*bs),
	}
}

// NewBlockVector creates one vector over the stacked layout of several fields
func NewBlockVector(sm *StackedMap) *Vector {
	openHandles.Add(1)
	return &Vector{
		kind:    Block,
		im:      sm.Map,
		bs:      1,
		stacked: sm,
		data:    make([]float64, sm.Map.SizeLocal()+sm.Map.NumGhosts()),
	}
}

// NewNestVector wraps sub-vectors, one per field. The nest takes ownership
// of the sub-vectors and destroys them with itself.
func NewNestVector(subs []*Vector) *Vector {
	openHandles.Add(1)
	return &Vector{kind: Nest, subs: subs, bs: 1}
}

func (v *Vector) alive() {
	if v.destroyed {
		panic(ErrDestroyed)
	}
}

func (v *Vector) Kind() Kind { return v.kind }

// Map is the index map of a Single vector, or the stacked map of a Block
// vector. Nil for Nest vectors.
func (v *Vector) Map() *IndexMap { return v.im }

func (v *Vector) BlockSize() int       { return v.bs }
func (v *Vector) Stacked() *StackedMap { return v.stacked }

// Comm returns the communicator the vector is distributed over
func (v *Vector) Comm() *comm.Comm {
	if v.kind == Nest {
		return v.subs[0].Comm()
	}
	return v.im.Comm()
}

// NumBlocks is the number of fields held by the vector
func (v *Vector) NumBlocks() int {
	switch v.kind {
	case Block:
		return v.stacked.NumFields()
	case Nest:
		return len(v.subs)
	}
	return 1
}

// Sub returns field i of a Nest vector
func (v *Vector) Sub(i int) *Vector {
	if v.kind != Nest {
		panic(fmt.Errorf("Sub on %v vector: %w", v.kind, ErrKind))
	}
	return v.subs[i]
}

// Local returns the writable local array (owned then ghosts) and marks the
// vector as holding unaccumulated contributions. Nil for Nest vectors.
func (v *Vector) Local() []float64 {
	v.alive()
	if v.kind == Nest {
		return nil
	}
	v.state = Assembling
	return v.data
}

// Array returns the local array (owned then ghosts) without changing state
func (v *Vector) Array() []float64 {
	v.alive()
	return v.data
}

// Owned returns the owned part of the local array
func (v *Vector) Owned() []float64 {
	v.alive()
	if v.kind == Nest {
		return nil
	}
	return v.data[:v.im.SizeLocal()*v.bs]
}

// State reports the assembly state. A Nest vector is finalized only when all
// of its fields are, and assembling when any of them is.
func (v *Vector) State() State {
	if v.kind != Nest {
		return v.state
	}
	all := true
	for _, s := range v.subs {
		switch s.State() {
		case Assembling:
			return Assembling
		case Clean:
			all = false
		}
	}
	if all && len(v.subs) > 0 {
		return Finalized
	}
	return Clean
}

// SizeLocal is the number of owned entries
func (v *Vector) SizeLocal() int {
	if v.kind == Nest {
		n := 0
		for _, s := range v.subs {
			n += s.SizeLocal()
		}
		return n
	}
	return v.im.SizeLocal() * v.bs
}

// SizeGlobal is the number of entries across all ranks
func (v *Vector) SizeGlobal() int {
	if v.kind == Nest {
		n := 0
		for _, s := range v.subs {
			n += s.SizeGlobal()
		}
		return n
	}
	return v.im.SizeGlobal() * v.bs
}

// Zero clears owned and ghost entries and resets the state
func (v *Vector) Zero() {
	v.alive()
	for _, s := range v.subs {
		s.Zero()
	}
	for i := range v.data {
		v.data[i] = 0
	}
	v.state = Clean
}

// ScatterReverse accumulates ghost contributions onto their owners.
// Collective.
func (v *Vector) ScatterReverse() {
	v.alive()
	for _, s := range v.subs {
		s.ScatterReverse()
	}
	if v.kind != Nest {
		v.im.Scatterer().Reverse(v.data, v.bs)
	}
	v.state = Finalized
}

// ScatterForward overwrites ghost entries with their owners' values.
// Collective.
func (v *Vector) ScatterForward() {
	v.alive()
	for _, s := range v.subs {
		s.ScatterForward()
	}
	if v.kind != Nest {
		v.im.Scatterer().Forward(v.data, v.bs)
	}
}

// BlockArray returns a copy of field i's local array (owned then ghosts)
func (v *Vector) BlockArray(i int) []float64 {
	v.alive()
	switch v.kind {
	case Nest:
		return append([]float64(nil), v.subs[i].data...)
	case Block:
		set := v.stacked.Sets[i]
		out := make([]float64, set.Len())
		for j, k := range set.Indices() {
			out[j] = v.data[k]
		}
		return out
	}
	if i != 0 {
		panic(fmt.Errorf("block %d of single vector: %w", i, ErrKind))
	}
	return append([]float64(nil), v.data...)
}

// AddBlockArray adds a field's local array into the vector
func (v *Vector) AddBlockArray(i int, vals []float64) {
	v.alive()
	switch v.kind {
	case Nest:
		floats.Add(v.subs[i].Local(), vals)
	case Block:
		for j, k := range v.stacked.Sets[i].Indices() {
			v.data[k] += vals[j]
		}
		v.state = Assembling
	default:
		floats.Add(v.Local(), vals)
	}
}

// SetBlockArray overwrites a field's local array
func (v *Vector) SetBlockArray(i int, vals []float64) {
	v.alive()
	switch v.kind {
	case Nest:
		copy(v.subs[i].data, vals)
	case Block:
		for j, k := range v.stacked.Sets[i].Indices() {
			v.data[k] = vals[j]
		}
	default:
		copy(v.data, vals)
	}
}

// OwnedBlock returns a writable view of field i's owned entries
func (v *Vector) OwnedBlock(i int) []float64 {
	v.alive()
	switch v.kind {
	case Nest:
		return v.subs[i].Owned()
	case Block:
		return v.data[v.stacked.OwnedOffsets[i]:v.stacked.OwnedOffsets[i+1]]
	}
	return v.Owned()
}

// Duplicate creates a zeroed vector with the same layout
func (v *Vector) Duplicate() *Vector {
	v.alive()
	switch v.kind {
	case Nest:
		subs := make([]*Vector, len(v.subs))
		for i, s := range v.subs {
			subs[i] = s.Duplicate()
		}
		return NewNestVector(subs)
	case Block:
		return NewBlockVector(v.stacked)
	}
	return NewVector(v.im, v.bs)
}

// Copy copies the local values of v into dst, which must share v's layout
func (v *Vector) Copy(dst *Vector) {
	v.alive()
	dst.alive()
	for i, s := range v.subs {
		s.Copy(dst.subs[i])
	}
	copy(dst.data, v.data)
	dst.state = v.state
}

// Set assigns val to every local entry
func (v *Vector) Set(val float64) {
	v.alive()
	for _, s := range v.subs {
		s.Set(val)
	}
	for i := range v.data {
		v.data[i] = val
	}
}

// Scale multiplies every local entry by a
func (v *Vector) Scale(a float64) {
	v.alive()
	for _, s := range v.subs {
		s.Scale(a)
	}
	floats.Scale(a, v.data)
}

// AXPY computes v += a*x over the local entries
func (v *Vector) AXPY(a float64, x *Vector) {
	v.alive()
	x.alive()
	for i, s := range v.subs {
		s.AXPY(a, x.subs[i])
	}
	floats.AddScaled(v.data, a, x.data)
}

func (v *Vector) localDot(w *Vector) float64 {
	if v.kind == Nest {
		var sum float64
		for i, s := range v.subs {
			sum += s.localDot(w.subs[i])
		}
		return sum
	}
	return floats.Dot(v.Owned(), w.Owned())
}

// Dot returns the global inner product over owned entries. Collective.
func (v *Vector) Dot(w *Vector) float64 {
	v.alive()
	w.alive()
	return v.Comm().AllreduceSum(v.localDot(w))
}

// Norm2 returns the global Euclidean norm. Collective.
func (v *Vector) Norm2() float64 {
	return math.Sqrt(v.Dot(v))
}

// Destroy releases the vector and any sub-vectors. Safe to call twice.
func (v *Vector) Destroy() {
	if v == nil || v.destroyed {
		return
	}
	for _, s := range v.subs {
		s.Destroy()
	}
	v.destroyed = true
	v.data = nil
	openHandles.Add(-1)
}

func (v *Vector) String() string {
	return fmt.Sprintf("Vector(%v, %d/%d, %v)", v.kind, v.SizeLocal(), v.SizeGlobal(), v.State())
}
