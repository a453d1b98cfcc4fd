// Package field computes derived quantities from the macroscopic fields
// a run reads back: vorticity, Q-criterion and scalar diagnostics. All
// functions are pure host-side post-processing.
package field

import (
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/23skdu/longbow-eddy/internal/lattice"
)

// gradient returns du_a/dx_b for every component at cell (x,y,z) using
// central differences. Boundary stencils clamp to the domain and fall
// back to one-sided differences over the remaining span.
func gradient(g lattice.Grid, u []float32, x, y, z int) (j [3][3]float32) {
	ext := [3]int{g.Nx, g.Ny, g.Nz}
	pos := [3]int{x, y, z}

	for b := 0; b < 3; b++ {
		if ext[b] == 1 {
			continue
		}
		lo, hi := pos, pos
		if pos[b] > 0 {
			lo[b] = pos[b] - 1
		}
		if pos[b] < ext[b]-1 {
			hi[b] = pos[b] + 1
		}
		span := float32(hi[b] - lo[b])
		nLo := g.Index(lo[0], lo[1], lo[2])
		nHi := g.Index(hi[0], hi[1], hi[2])
		for a := 0; a < 3; a++ {
			j[a][b] = (u[3*nHi+a] - u[3*nLo+a]) / span
		}
	}
	return j
}

// Vorticity returns the curl of the velocity field, three components
// per cell. For 2-D domains only the z component is nonzero.
func Vorticity(g lattice.Grid, u []float32) []float32 {
	out := make([]float32, g.N()*3)
	for n := 0; n < g.N(); n++ {
		x, y, z := g.Coords(n)
		j := gradient(g, u, x, y, z)
		out[3*n] = j[2][1] - j[1][2]
		out[3*n+1] = j[0][2] - j[2][0]
		out[3*n+2] = j[1][0] - j[0][1]
	}
	return out
}

// QCriterion returns the second invariant of the velocity gradient,
// Q = (|Omega|^2 - |S|^2) / 2, per cell. Positive values mark regions
// where rotation dominates strain, the usual vortex-core indicator.
func QCriterion(g lattice.Grid, u []float32) []float32 {
	out := make([]float32, g.N())
	for n := 0; n < g.N(); n++ {
		x, y, z := g.Coords(n)
		j := gradient(g, u, x, y, z)

		var s2, o2 float32
		for a := 0; a < 3; a++ {
			for b := 0; b < 3; b++ {
				s := 0.5 * (j[a][b] + j[b][a])
				o := 0.5 * (j[a][b] - j[b][a])
				s2 += s * s
				o2 += o * o
			}
		}
		out[n] = 0.5 * (o2 - s2)
	}
	return out
}

// KineticEnergy returns the total kinetic energy sum(rho*|u|^2)/2 over
// the domain, accumulated in float64.
func KineticEnergy(rho, u []float32) float64 {
	terms := make([]float64, len(rho))
	for n := range rho {
		ux := float64(u[3*n])
		uy := float64(u[3*n+1])
		uz := float64(u[3*n+2])
		terms[n] = float64(rho[n]) * (ux*ux + uy*uy + uz*uz)
	}
	return 0.5 * floats.Sum(terms)
}

// MaxSpeed returns the largest velocity magnitude in the field. Useful
// as a stability watchdog: lattice speeds approaching the sound speed
// signal a diverging run.
func MaxSpeed(u []float32) float64 {
	if len(u) == 0 {
		return 0
	}
	speeds := make([]float64, len(u)/3)
	for n := range speeds {
		ux := float64(u[3*n])
		uy := float64(u[3*n+1])
		uz := float64(u[3*n+2])
		speeds[n] = math.Sqrt(ux*ux + uy*uy + uz*uz)
	}
	return floats.Max(speeds)
}

// TotalMass returns sum(rho) over the domain.
func TotalMass(rho []float32) float64 {
	terms := make([]float64, len(rho))
	for n, r := range rho {
		terms[n] = float64(r)
	}
	return floats.Sum(terms)
}
