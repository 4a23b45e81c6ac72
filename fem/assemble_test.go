package fem

import (
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/notargets/DGBlock/comm"
	"github.com/notargets/DGBlock/element"
	"github.com/notargets/DGBlock/la"
	"github.com/notargets/DGBlock/mesh"
	"github.com/notargets/DGBlock/partitions"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func linear(x [2]float64) float64 { return 1 + x[0] + 2*x[1] }

func massKernel(A []float64, d *KernelData) {
	nc := len(A) / d.Test[0].Np()
	for _, q := range d.CellPoints() {
		phi, _ := element.Eval(d.Test[0], q.X)
		psi, _ := element.Eval(d.Trial[0], q.X)
		for i := range phi {
			for j := range psi {
				A[i*nc+j] += q.W * phi[i] * psi[j]
			}
		}
	}
}

func stiffnessKernel(A []float64, d *KernelData) {
	n := d.Test[0].Np()
	for _, q := range d.CellPoints() {
		_, grad := element.Eval(d.Test[0], q.X)
		for i := 0; i < n; i++ {
			for j := 0; j < n; j++ {
				A[i*n+j] += q.W * (grad[2*i]*grad[2*j] + grad[2*i+1]*grad[2*j+1])
			}
		}
	}
}

func loadKernel(A []float64, d *KernelData) {
	for _, q := range d.CellPoints() {
		phi, _ := element.Eval(d.Test[0], q.X)
		for i := range phi {
			A[i] += q.W * phi[i]
		}
	}
}

func areaKernel(A []float64, d *KernelData) {
	for _, q := range d.CellPoints() {
		A[0] += q.W
	}
}

func bilinear(name string, V, W *FunctionSpace, k Kernel) *FormSpec {
	return &FormSpec{Name: name, Spaces: []*FunctionSpace{V, W}, Integrals: []IntegralSpec{{Type: CellIntegral, Kernel: k}}}
}

func linearForm(name string, V *FunctionSpace, k Kernel) *FormSpec {
	return &FormSpec{Name: name, Spaces: []*FunctionSpace{V}, Integrals: []IntegralSpec{{Type: CellIntegral, Kernel: k}}}
}

func mustCompile(t testing.TB, spec *FormSpec) *Form {
	f, err := Compile(*spec, nil)
	if err != nil {
		t.Fatalf("compile %s: %v", spec.Name, err)
	}
	return f
}

func unitSquare(c *comm.Comm, n int) (*mesh.Mesh, *FunctionSpace, error) {
	m, err := mesh.CreateUnitSquare(c, n, n, partitions.GraphPartition)
	if err != nil {
		return nil, nil, err
	}
	V, err := NewFunctionSpace(m, element.P1{}, 1)
	return m, V, err
}

// boundaryBC constrains the whole boundary of V to fn
func boundaryBC(V *FunctionSpace, fn func([2]float64) float64) (*DirichletBC, *Function) {
	g := NewFunction(V, "g")
	g.Interpolate(func(x [2]float64, out []float64) { out[0] = fn(x) })
	return NewDirichletBC(g, LocateDofsTopological(V, V.Mesh.BoundaryFacets(nil))), g
}

func TestBuilders_Sizes(t *testing.T) {
	for _, size := range []int{1, 2, 3} {
		err := comm.Run(size, func(c *comm.Comm) error {
			m, V, err := unitSquare(c, 4)
			if err != nil {
				return err
			}
			Q, err := NewFunctionSpace(m, element.DG0{}, 1)
			if err != nil {
				return err
			}
			W, err := NewFunctionSpace(m, element.P1{}, 2)
			if err != nil {
				return err
			}
			spaces := []*FunctionSpace{V, Q, W}
			var L []*Form
			owned, global, ghosts := 0, 0, 0
			for i, S := range spaces {
				L = append(L, mustCompile(t, linearForm(fmt.Sprint("L", i), S, loadKernel)))
				im := S.IndexMap()
				owned += im.SizeLocal() * S.BlockSize()
				global += im.SizeGlobal() * S.BlockSize()
				ghosts += im.NumGhosts() * S.BlockSize()
			}
			if global != 25+32+50 {
				return fmt.Errorf("global size %d", global)
			}

			b, err := CreateVector(L, la.Block)
			if err != nil {
				return err
			}
			defer b.Destroy()
			if b.SizeLocal() != owned || b.SizeGlobal() != global || len(b.Array()) != owned+ghosts {
				return fmt.Errorf("block vector %v: owned %d global %d ghosts %d", b, owned, global, ghosts)
			}
			if b.NumBlocks() != 3 {
				return fmt.Errorf("block vector with %d blocks", b.NumBlocks())
			}

			n, err := CreateVector(L, la.Nest)
			if err != nil {
				return err
			}
			defer n.Destroy()
			if n.NumBlocks() != 3 || n.SizeGlobal() != global {
				return fmt.Errorf("nest vector %v", n)
			}
			for i, S := range spaces {
				if n.Sub(i).Map() != S.IndexMap() || n.Sub(i).BlockSize() != S.BlockSize() {
					return fmt.Errorf("nest block %d does not use its space's map", i)
				}
			}

			if _, err := CreateVector(L, la.Single); !errors.Is(err, ErrShape) {
				return fmt.Errorf("single vector over 3 forms: %v", err)
			}

			a := [][]*Form{
				{mustCompile(t, bilinear("a00", V, V, massKernel)), mustCompile(t, bilinear("a01", V, Q, massKernel))},
				{nil, mustCompile(t, bilinear("a11", Q, Q, massKernel))},
			}
			A, err := CreateMatrix(a, la.Block)
			if err != nil {
				return err
			}
			defer A.Destroy()
			if r, cc := A.Size(); r != 25+32 || cc != 25+32 {
				return fmt.Errorf("block matrix %dx%d", r, cc)
			}
			N, err := CreateMatrix(a, la.Nest)
			if err != nil {
				return err
			}
			defer N.Destroy()
			if N.NestBlock(1, 0) != nil || N.NestBlock(0, 1) == nil {
				return fmt.Errorf("nest matrix blocks do not follow the form grid")
			}
			if r, cc := N.NestBlock(0, 1).Size(); r != 25 || cc != 32 {
				return fmt.Errorf("nest block (0,1) is %dx%d", r, cc)
			}
			return nil
		})
		require.NoError(t, err, "%d ranks", size)
	}
}

func TestBuilders_RaggedGridBeforeAllocation(t *testing.T) {
	_, V, err := unitSquare(comm.Self(), 2)
	require.NoError(t, err)
	a := mustCompile(t, bilinear("a", V, V, massKernel))
	L := mustCompile(t, linearForm("L", V, loadKernel))
	before := la.OpenHandles()

	_, err = CreateMatrix([][]*Form{{a, a}, {a}}, la.Block)
	assert.ErrorIs(t, err, ErrShape)
	_, err = CreateMatrix([][]*Form{{a, nil}, {nil, nil}}, la.Nest)
	assert.ErrorIs(t, err, ErrShape, "row without forms")
	_, err = CreateMatrix([][]*Form{{a, a}}, la.Single)
	assert.ErrorIs(t, err, ErrShape)
	_, err = CreateVector([]*Form{L, a}, la.Nest)
	assert.ErrorIs(t, err, ErrShape)

	_, err = NewLinearProblem([][]*FormSpec{{bilinear("a", V, V, massKernel)}, {}},
		[]*FormSpec{linearForm("L", V, loadKernel)}, nil, nil, la.Block, LinearProblemOptions{})
	assert.ErrorIs(t, err, ErrShape)
	assert.Equal(t, before, la.OpenHandles())
}

func TestAssembleMatrix_Deterministic(t *testing.T) {
	err := comm.Run(2, func(c *comm.Comm) error {
		_, V, err := unitSquare(c, 5)
		if err != nil {
			return err
		}
		bc, g := boundaryBC(V, linear)
		defer g.Destroy()
		a := mustCompile(t, bilinear("k", V, V, stiffnessKernel))
		entries := func() (map[[2]int]float64, error) {
			A, err := AssembleMatrix(a, []*DirichletBC{bc}, 1)
			if err != nil {
				return nil, err
			}
			defer A.Destroy()
			if err := A.Assemble(la.FinalAssembly); err != nil {
				return nil, err
			}
			out := make(map[[2]int]float64)
			A.DoNonZero(func(i, j int, v float64) { out[[2]int{i, j}] = v })
			return out, nil
		}
		first, err := entries()
		if err != nil {
			return err
		}
		for rep := 0; rep < 3; rep++ {
			next, err := entries()
			if err != nil {
				return err
			}
			if len(next) != len(first) {
				return fmt.Errorf("repeat %d: %d entries, first had %d", rep, len(next), len(first))
			}
			for k, v := range first {
				if next[k] != v {
					return fmt.Errorf("repeat %d: entry %v = %v, first %v", rep, k, next[k], v)
				}
			}
		}
		// Constrained rows hold only the diagonal
		dofs, owned := bc.Dofs()
		start := V.IndexMap().LocalRange()[0]
		for _, node := range dofs[:owned] {
			row := start + node
			for k, v := range first {
				if k[0] == row && k[1] != row && v != 0 {
					return fmt.Errorf("constrained row %d has off-diagonal entry %v", row, v)
				}
			}
			if first[[2]int{row, row}] != 1 {
				return fmt.Errorf("constrained row %d has diagonal %v", row, first[[2]int{row, row}])
			}
		}
		return nil
	})
	require.NoError(t, err)
}

func TestSetBC_RoundTrip(t *testing.T) {
	err := comm.Run(2, func(c *comm.Comm) error {
		_, V, err := unitSquare(c, 4)
		if err != nil {
			return err
		}
		bc, g := boundaryBC(V, linear)
		defer g.Destroy()
		b := la.NewVector(V.IndexMap(), 1)
		defer b.Destroy()
		b.Set(7)

		if err := SetBC(b, []*DirichletBC{bc}, nil, 2); err != nil {
			return err
		}
		dofs, owned := bc.Dofs()
		gv := g.X.Array()
		for _, node := range dofs[:owned] {
			if b.Owned()[node] != 2*gv[node] {
				return fmt.Errorf("node %d holds %v, want %v", node, b.Owned()[node], 2*gv[node])
			}
		}
		if err := SetBC(b, []*DirichletBC{bc}, g.X, 1); err != nil {
			return err
		}
		constrained := make(map[int]bool)
		for _, node := range dofs[:owned] {
			constrained[node] = true
		}
		for i, v := range b.Owned() {
			switch {
			case constrained[i] && v != 0:
				return fmt.Errorf("constrained node %d holds %v after subtracting g", i, v)
			case !constrained[i] && v != 7:
				return fmt.Errorf("free node %d changed to %v", i, v)
			}
		}
		for _, v := range b.Array()[len(b.Owned()):] {
			if v != 7 {
				return fmt.Errorf("ghost entry changed to %v", v)
			}
		}

		b.Local()
		if err := SetBC(b, []*DirichletBC{bc}, nil, 1); !errors.Is(err, la.ErrNotFinalized) {
			return fmt.Errorf("set bc on assembling vector: %v", err)
		}
		return nil
	})
	require.NoError(t, err)
}

// Lifting must reach ghost rows before they are accumulated onto their
// owners. Lifting after ScatterReverse is rejected, and doing it by hand on
// the owned part only gives a different right hand side.
func TestApplyLifting_BeforeScatterReverse(t *testing.T) {
	for _, size := range []int{2, 3} {
		err := comm.Run(size, func(c *comm.Comm) error {
			_, V, err := unitSquare(c, 4)
			if err != nil {
				return err
			}
			bc, g := boundaryBC(V, func([2]float64) float64 { return 1 })
			defer g.Destroy()
			a := mustCompile(t, bilinear("m", V, V, massKernel))
			L := mustCompile(t, linearForm("L", V, loadKernel))
			bcs := [][]*DirichletBC{{bc}}

			good, err := AssembleVector(L)
			if err != nil {
				return err
			}
			defer good.Destroy()
			if err := ApplyLifting(good, []*Form{a}, bcs, nil, 1); err != nil {
				return err
			}
			good.ScatterReverse()

			bad, err := AssembleVector(L)
			if err != nil {
				return err
			}
			defer bad.Destroy()
			bad.ScatterReverse()
			if err := ApplyLifting(bad, []*Form{a}, bcs, nil, 1); !errors.Is(err, la.ErrAlreadyFinalized) {
				return fmt.Errorf("lifting a finalized vector: %v", err)
			}
			lift := la.NewVector(V.IndexMap(), 1)
			defer lift.Destroy()
			if err := ApplyLifting(lift, []*Form{a}, bcs, nil, 1); err != nil {
				return err
			}
			for i, v := range lift.Owned() {
				bad.Owned()[i] += v
			}

			var diff float64
			for i, v := range good.Owned() {
				diff = math.Max(diff, math.Abs(v-bad.Owned()[i]))
			}
			if c.AllreduceMax(diff) < 1e-12 {
				return fmt.Errorf("ghost lifting contributions had no effect on %d ranks", size)
			}
			return nil
		})
		require.NoError(t, err, "%d ranks", size)
	}
}

func TestAssembleVectorBlock_MatchesNest(t *testing.T) {
	err := comm.Run(3, func(c *comm.Comm) error {
		m, V, err := unitSquare(c, 4)
		if err != nil {
			return err
		}
		Q, err := NewFunctionSpace(m, element.DG0{}, 1)
		if err != nil {
			return err
		}
		bc, g := boundaryBC(V, linear)
		defer g.Destroy()
		bcs := []*DirichletBC{bc}
		L := []*Form{mustCompile(t, linearForm("L0", V, loadKernel)), mustCompile(t, linearForm("L1", Q, loadKernel))}
		a := [][]*Form{
			{mustCompile(t, bilinear("a00", V, V, stiffnessKernel)), nil},
			{mustCompile(t, bilinear("a10", Q, V, massKernel)), mustCompile(t, bilinear("a11", Q, Q, massKernel))},
		}

		bb, err := AssembleVectorBlock(L, a, bcs, nil, 1)
		if err != nil {
			return err
		}
		defer bb.Destroy()
		bn, err := AssembleVectorNest(L)
		if err != nil {
			return err
		}
		defer bn.Destroy()
		if err := ApplyLiftingNest(bn, a, bcs, nil, 1); err != nil {
			return err
		}
		bn.ScatterReverse()
		if err := SetBCNest(bn, BCsByBlock([]*FunctionSpace{V, Q}, bcs), nil, 1); err != nil {
			return err
		}
		for i := 0; i < 2; i++ {
			blk, sub := bb.OwnedBlock(i), bn.Sub(i).Owned()
			for j := range sub {
				if math.Abs(blk[j]-sub[j]) > 1e-13 {
					return fmt.Errorf("block %d entry %d: block %v nest %v", i, j, blk[j], sub[j])
				}
			}
		}
		// The DG0 rows see the lifted boundary values through a10
		if c.AllreduceMax(maxAbs(bn.Sub(1).Owned())) == 0 {
			return fmt.Errorf("empty pressure block")
		}
		return nil
	})
	require.NoError(t, err)
}

func maxAbs(x []float64) float64 {
	var m float64
	for _, v := range x {
		m = math.Max(m, math.Abs(v))
	}
	return m
}

func TestAssembleMatrix_AbsentConstrainedDiagonal(t *testing.T) {
	m, V, err := unitSquare(comm.Self(), 3)
	require.NoError(t, err)
	Q, err := NewFunctionSpace(m, element.DG0{}, 1)
	require.NoError(t, err)
	pin, err := NewDirichletBCConstant(Q, []int{0}, 0)
	require.NoError(t, err)
	a := [][]*Form{
		{mustCompile(t, bilinear("a00", V, V, stiffnessKernel)), mustCompile(t, bilinear("a01", V, Q, massKernel))},
		{mustCompile(t, bilinear("a10", Q, V, massKernel)), nil},
	}
	before := la.OpenHandles()
	_, err = AssembleMatrixNest(a, []*DirichletBC{pin}, 1)
	assert.ErrorIs(t, err, ErrConfiguration)
	_, err = AssembleMatrixBlock(a, []*DirichletBC{pin}, 1)
	assert.ErrorIs(t, err, ErrConfiguration)
	assert.Equal(t, before, la.OpenHandles())

	// A structurally present zero block holds the constraint
	a[1][1], err = Compile(FormSpec{Name: "zero", Spaces: []*FunctionSpace{Q, Q}}, nil)
	require.NoError(t, err)
	A, err := AssembleMatrixBlock(a, []*DirichletBC{pin}, 1)
	require.NoError(t, err)
	defer A.Destroy()
	require.NoError(t, A.Assemble(la.FinalAssembly))
	row := A.RowStack().OwnedOffsets[1]
	assert.Equal(t, 1.0, A.At(row, row))
}

func TestAssembleScalar_Area(t *testing.T) {
	err := comm.Run(3, func(c *comm.Comm) error {
		m, _, err := unitSquare(c, 5)
		if err != nil {
			return err
		}
		M, err := Compile(FormSpec{Name: "area", Mesh: m, Integrals: []IntegralSpec{{Type: CellIntegral, Kernel: areaKernel}}}, nil)
		if err != nil {
			return err
		}
		area, err := AssembleScalar(M)
		if err != nil {
			return err
		}
		if math.Abs(area-1) > 1e-13 {
			return fmt.Errorf("area %v", area)
		}
		half, err := Compile(FormSpec{Name: "half", Mesh: m, Integrals: []IntegralSpec{{
			Type: CellIntegral, Kernel: areaKernel, Marker: func(x [2]float64) bool { return x[0] < 0.5 },
		}}}, nil)
		if err != nil {
			return err
		}
		if area, err = AssembleScalar(half); err != nil || math.Abs(area-0.5) > 1e-13 {
			return fmt.Errorf("half area %v, %v", area, err)
		}
		return nil
	})
	require.NoError(t, err)
}

func TestCompile_Errors(t *testing.T) {
	_, V, err := unitSquare(comm.Self(), 2)
	require.NoError(t, err)
	cases := map[string]FormSpec{
		"no integrals": {Name: "L", Spaces: []*FunctionSpace{V}},
		"no kernel":    {Name: "L", Spaces: []*FunctionSpace{V}, Integrals: []IntegralSpec{{Type: CellIntegral}}},
		"no mesh":      {Name: "M", Integrals: []IntegralSpec{{Type: CellIntegral, Kernel: areaKernel}}},
		"three args":   {Name: "T", Spaces: []*FunctionSpace{V, V, V}},
		"degree":       {Name: "L", Spaces: []*FunctionSpace{V}, Integrals: []IntegralSpec{{Kernel: loadKernel}}, QuadratureDegree: 99},
	}
	for name, spec := range cases {
		_, err := Compile(spec, nil)
		assert.ErrorIs(t, err, ErrCompile, name)
	}
	_, err = Compile(*linearForm("L", V, loadKernel), &CompilerOptions{ScalarType: "complex128"})
	assert.ErrorIs(t, err, ErrCompile)
}
