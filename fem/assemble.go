package fem

import (
	"fmt"

	"github.com/notargets/DGBlock/element"
	"github.com/notargets/DGBlock/la"
)

// blockedDofs appends the blocked local indices of cell k in V
func blockedDofs(dst []int, V *FunctionSpace, k int) []int {
	bs := V.BlockSize()
	for _, node := range V.DofMap.CellDofs(k) {
		for c := 0; c < bs; c++ {
			dst = append(dst, node*bs+c)
		}
	}
	return dst
}

// visit runs every integral of f over the entities integrated by this rank
// and hands the local tensor with its blocked row and column indices to fn.
// rows is nil for functionals and cols is nil unless f is bilinear.
func visit(f *Form, o assembleOptions, fn func(A []float64, rows, cols []int) error) error {
	m := f.Mesh
	d := &KernelData{QuadDegree: f.QuadratureDegree, Constants: o.consts}
	var A []float64
	var rows, cols []int

	run := func(in IntegralSpec, cells []int, facet int) error {
		d.Type = in.Type
		d.Cells = cells
		d.Facet = facet
		d.LocalFacets = d.LocalFacets[:0]
		d.Geom = d.Geom[:0]
		for _, k := range cells {
			d.Geom = append(d.Geom, m.Geometry(k))
			if facet >= 0 {
				d.LocalFacets = append(d.LocalFacets, m.LocalFacet(k, facet))
			}
		}
		if facet >= 0 {
			d.Normal = d.Geom[0].OutwardNormal(d.LocalFacets[0])
		}

		rows, cols = rows[:0], cols[:0]
		d.Test, d.Trial = nil, nil
		if f.Rank() >= 1 {
			V := f.Spaces[0]
			d.TestBS = V.BlockSize()
			for s, k := range cells {
				d.Test = append(d.Test, V.Element.Basis(d.Geom[s]))
				rows = blockedDofs(rows, V, k)
			}
		}
		if f.Rank() == 2 {
			W := f.Spaces[1]
			d.TrialBS = W.BlockSize()
			if W == f.Spaces[0] {
				d.Trial = d.Test
			} else {
				for s := range cells {
					d.Trial = append(d.Trial, W.Element.Basis(d.Geom[s]))
				}
			}
			for _, k := range cells {
				cols = blockedDofs(cols, W, k)
			}
		}

		d.Coeffs = d.Coeffs[:0]
		d.CoeffBasis = d.CoeffBasis[:0]
		d.CoeffBS = d.CoeffBS[:0]
		for i, c := range f.Coefficients {
			V := c.Space
			bs := V.BlockSize()
			var vals []float64
			var bases []element.Basis
			for s, k := range cells {
				for _, j := range blockedDofs(nil, V, k) {
					vals = append(vals, o.coeffs[i][j])
				}
				bases = append(bases, V.Element.Basis(d.Geom[s]))
			}
			d.Coeffs = append(d.Coeffs, vals)
			d.CoeffBasis = append(d.CoeffBasis, bases)
			d.CoeffBS = append(d.CoeffBS, bs)
		}

		nr, nc := max(len(rows), 1), max(len(cols), 1)
		if cap(A) < nr*nc {
			A = make([]float64, nr*nc)
		}
		A = A[:nr*nc]
		for i := range A {
			A[i] = 0
		}
		in.Kernel(A, d)
		switch f.Rank() {
		case 0:
			return fn(A, nil, nil)
		case 1:
			return fn(A, rows, nil)
		}
		return fn(A, rows, cols)
	}

	for _, in := range f.Integrals {
		switch in.Type {
		case CellIntegral:
			for _, k := range m.OwnedCells() {
				if in.Marker != nil && !in.Marker(m.Geometry(k).Centroid) {
					continue
				}
				if err := run(in, []int{k}, -1); err != nil {
					return err
				}
			}
		case ExteriorFacetIntegral, InteriorFacetIntegral:
			facets := m.ExteriorFacets()
			if in.Type == InteriorFacetIntegral {
				facets = m.InteriorFacets()
			}
			for _, e := range facets {
				if in.Marker != nil && !in.Marker(m.EdgeMidpoint(e)) {
					continue
				}
				if err := run(in, m.EdgeCells[e], e); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// assembleVectorLocal adds the local contributions of L into b, owned and
// ghost entries alike
func assembleVectorLocal(b []float64, L *Form, o assembleOptions) error {
	return visit(L, o, func(A []float64, rows, _ []int) error {
		for i, r := range rows {
			b[r] += A[i]
		}
		return nil
	})
}

// assembleMatrixLocal adds the local contributions of a into ins, skipping
// rows and columns marked in the masks
func assembleMatrixLocal(ins la.Inserter, a *Form, rowMask, colMask []bool, o assembleOptions) error {
	return visit(a, o, func(A []float64, rows, cols []int) error {
		for i, r := range rows {
			if rowMask != nil && rowMask[r] {
				rows[i] = -1
			}
		}
		for j, c := range cols {
			if colMask != nil && colMask[c] {
				cols[j] = -1
			}
		}
		return ins.AddLocal(rows, cols, A)
	})
}

// liftLocal computes b -= alpha * a (g - x0) over the constrained columns
func liftLocal(b []float64, a *Form, mask []bool, g, x0 []float64, alpha float64, o assembleOptions) error {
	var ge []float64
	return visit(a, o, func(A []float64, rows, cols []int) error {
		ge = ge[:0]
		constrained := false
		for _, c := range cols {
			v := 0.0
			if mask[c] {
				constrained = true
				v = g[c]
				if x0 != nil {
					v -= x0[c]
				}
			}
			ge = append(ge, v)
		}
		if !constrained {
			return nil
		}
		nc := len(cols)
		for i, r := range rows {
			var s float64
			for j := range cols {
				s += A[i*nc+j] * ge[j]
			}
			b[r] -= alpha * s
		}
		return nil
	})
}

// AssembleScalar integrates a functional over the mesh and sums the result
// across ranks. Collective.
func AssembleScalar(M *Form, opts ...AssembleOption) (float64, error) {
	if M.Rank() != 0 {
		return 0, fmt.Errorf("assemble scalar: form %q has %d arguments: %w", M.Name, M.Rank(), ErrShape)
	}
	var local float64
	err := visit(M, resolveOptions(M, opts), func(A []float64, _, _ []int) error {
		local += A[0]
		return nil
	})
	if err != nil {
		return 0, err
	}
	return M.Mesh.Comm().AllreduceSum(local), nil
}
