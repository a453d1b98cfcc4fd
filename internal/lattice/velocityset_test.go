package lattice

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var allModels = []string{"D2Q9", "D3Q7", "D3Q15", "D3Q19", "D3Q27"}

func TestSetCatalog(t *testing.T) {
	dims := map[string]int{"D2Q9": 2, "D3Q7": 3, "D3Q15": 3, "D3Q19": 3, "D3Q27": 3}
	qs := map[string]int{"D2Q9": 9, "D3Q7": 7, "D3Q15": 15, "D3Q19": 19, "D3Q27": 27}

	for _, model := range allModels {
		t.Run(model, func(t *testing.T) {
			set, err := NewSet(model)
			require.NoError(t, err)
			assert.Equal(t, dims[model], set.D)
			assert.Equal(t, qs[model], set.Q)
			assert.Len(t, set.C, set.Q)
			assert.Len(t, set.W, set.Q)
			assert.Len(t, set.Opposite, set.Q)

			// Rest direction first, unit weight sum, zero first moment.
			assert.Equal(t, [3]int32{0, 0, 0}, set.C[0])

			var wsum float64
			var m [3]float64
			for q := 0; q < set.Q; q++ {
				wsum += float64(set.W[q])
				for a := 0; a < 3; a++ {
					m[a] += float64(set.W[q]) * float64(set.C[q][a])
				}
			}
			assert.InDelta(t, 1.0, wsum, 1e-6)
			for a := 0; a < 3; a++ {
				assert.InDelta(t, 0.0, m[a], 1e-7)
			}
		})
	}
}

func TestOppositePermutation(t *testing.T) {
	for _, model := range allModels {
		t.Run(model, func(t *testing.T) {
			set, err := NewSet(model)
			require.NoError(t, err)
			for q := 0; q < set.Q; q++ {
				o := set.Opposite[q]
				// Involution and exact negation.
				assert.Equal(t, q, set.Opposite[o])
				for a := 0; a < 3; a++ {
					assert.Equal(t, -set.C[q][a], set.C[o][a])
				}
			}
			assert.Equal(t, 0, set.Opposite[0])
		})
	}
}

func TestUnsupportedModel(t *testing.T) {
	for _, model := range []string{"D4Q1", "d2q9", "", "D3Q13"} {
		set, err := NewSet(model)
		assert.Nil(t, set)
		var ue *UnsupportedModelError
		require.ErrorAs(t, err, &ue, "model %q", model)
		assert.Equal(t, model, ue.Model)
	}
}
