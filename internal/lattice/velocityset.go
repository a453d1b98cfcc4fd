package lattice

import "fmt"

// Cell flags. Stored as one byte per cell on the device.
const (
	FlagFluid uint8 = 0
	FlagSolid uint8 = 1
	FlagEq    uint8 = 2
)

// Set is a discrete velocity set: the named model's direction vectors,
// quadrature weights and opposite-direction permutation. Sets are static
// data; one Set is resolved per engine construction and never mutated.
type Set struct {
	Name     string
	D        int // spatial dimensions (2 or 3)
	Q        int // number of discrete directions
	C        [][3]int32
	W        []float32
	Opposite []int
}

// UnsupportedModelError reports a model name outside the catalog.
type UnsupportedModelError struct {
	Model string
}

func (e *UnsupportedModelError) Error() string {
	return fmt.Sprintf("unsupported velocity set model %q (supported: D2Q9, D3Q7, D3Q15, D3Q19, D3Q27)", e.Model)
}

// NewSet resolves a model name to its velocity set.
func NewSet(model string) (*Set, error) {
	var (
		d int
		c [][3]int32
		w []float32
	)
	switch model {
	case "D2Q9":
		d = 2
		c = [][3]int32{
			{0, 0, 0}, {1, 0, 0}, {-1, 0, 0}, {0, 1, 0}, {0, -1, 0},
			{1, 1, 0}, {-1, -1, 0}, {1, -1, 0}, {-1, 1, 0},
		}
		w = []float32{
			4.0 / 9.0, 1.0 / 9.0, 1.0 / 9.0, 1.0 / 9.0, 1.0 / 9.0,
			1.0 / 36.0, 1.0 / 36.0, 1.0 / 36.0, 1.0 / 36.0,
		}
	case "D3Q7":
		d = 3
		c = [][3]int32{
			{0, 0, 0}, {1, 0, 0}, {-1, 0, 0}, {0, 1, 0},
			{0, -1, 0}, {0, 0, 1}, {0, 0, -1},
		}
		w = []float32{
			1.0 / 4.0, 1.0 / 8.0, 1.0 / 8.0, 1.0 / 8.0,
			1.0 / 8.0, 1.0 / 8.0, 1.0 / 8.0,
		}
	case "D3Q15":
		d = 3
		c = [][3]int32{
			{0, 0, 0}, {1, 0, 0}, {-1, 0, 0}, {0, 1, 0},
			{0, -1, 0}, {0, 0, 1}, {0, 0, -1}, {1, 1, 1},
			{-1, -1, -1}, {1, 1, -1}, {-1, -1, 1}, {1, -1, 1},
			{-1, 1, -1}, {-1, 1, 1}, {1, -1, -1},
		}
		w = []float32{
			2.0 / 9.0, 1.0 / 9.0, 1.0 / 9.0, 1.0 / 9.0, 1.0 / 9.0,
			1.0 / 9.0, 1.0 / 9.0, 1.0 / 72.0, 1.0 / 72.0, 1.0 / 72.0,
			1.0 / 72.0, 1.0 / 72.0, 1.0 / 72.0, 1.0 / 72.0, 1.0 / 72.0,
		}
	case "D3Q19":
		d = 3
		c = [][3]int32{
			{0, 0, 0}, {1, 0, 0}, {-1, 0, 0}, {0, 1, 0},
			{0, -1, 0}, {0, 0, 1}, {0, 0, -1}, {1, 1, 0},
			{-1, -1, 0}, {1, 0, 1}, {-1, 0, -1}, {0, 1, 1},
			{0, -1, -1}, {1, -1, 0}, {-1, 1, 0}, {1, 0, -1},
			{-1, 0, 1}, {0, 1, -1}, {0, -1, 1},
		}
		w = []float32{
			1.0 / 3.0, 1.0 / 18.0, 1.0 / 18.0, 1.0 / 18.0, 1.0 / 18.0,
			1.0 / 18.0, 1.0 / 18.0, 1.0 / 36.0, 1.0 / 36.0, 1.0 / 36.0,
			1.0 / 36.0, 1.0 / 36.0, 1.0 / 36.0, 1.0 / 36.0, 1.0 / 36.0,
			1.0 / 36.0, 1.0 / 36.0, 1.0 / 36.0, 1.0 / 36.0,
		}
	case "D3Q27":
		d = 3
		c = [][3]int32{
			{0, 0, 0}, {1, 0, 0}, {-1, 0, 0}, {0, 1, 0},
			{0, -1, 0}, {0, 0, 1}, {0, 0, -1}, {1, 1, 0},
			{-1, -1, 0}, {1, 0, 1}, {-1, 0, -1}, {0, 1, 1},
			{0, -1, -1}, {1, -1, 0}, {-1, 1, 0}, {1, 0, -1},
			{-1, 0, 1}, {0, 1, -1}, {0, -1, 1}, {1, 1, 1},
			{-1, -1, -1}, {1, 1, -1}, {-1, -1, 1}, {1, -1, 1},
			{-1, 1, -1}, {-1, 1, 1}, {1, -1, -1},
		}
		w = make([]float32, 27)
		for q := 0; q < 27; q++ {
			switch {
			case q == 0:
				w[q] = 8.0 / 27.0
			case q < 7:
				w[q] = 2.0 / 27.0
			case q < 19:
				w[q] = 1.0 / 54.0
			default:
				w[q] = 1.0 / 216.0
			}
		}
	default:
		return nil, &UnsupportedModelError{Model: model}
	}

	s := &Set{Name: model, D: d, Q: len(c), C: c, W: w}
	s.Opposite = opposites(c)
	return s, nil
}

// opposites derives the opposite-direction permutation by matching each
// vector against its negation. Every catalog set is symmetric, so the
// lookup always succeeds.
func opposites(c [][3]int32) []int {
	opp := make([]int, len(c))
	for q := range c {
		for p := range c {
			if c[p][0] == -c[q][0] && c[p][1] == -c[q][1] && c[p][2] == -c[q][2] {
				opp[q] = p
				break
			}
		}
	}
	return opp
}
