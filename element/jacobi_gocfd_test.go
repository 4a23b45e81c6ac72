//go:build gocfd

package element

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGaussJacobi_MatchesGolubWelsch(t *testing.T) {
	for _, ab := range [][2]float64{{0, 0}, {1, 0}, {2, 0}, {0.5, 1.5}} {
		for N := 0; N < 8; N++ {
			x, w := gaussJacobi(ab[0], ab[1], N)
			xr, wr := golubWelsch(ab[0], ab[1], N)
			require.Len(t, x, N+1)
			assert.InDeltaSlice(t, xr, x, 1e-13, "alpha=%g beta=%g N=%d", ab[0], ab[1], N)
			assert.InDeltaSlice(t, wr, w, 1e-13, "alpha=%g beta=%g N=%d", ab[0], ab[1], N)
		}
	}
}
