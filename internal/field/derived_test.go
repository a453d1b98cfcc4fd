package field

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/23skdu/longbow-eddy/internal/lattice"
)

// Simple shear ux = y has vorticity (0, 0, -1) and Q = 0 (strain and
// rotation balance exactly).
func TestVorticityShearFlow(t *testing.T) {
	g := lattice.Grid{Nx: 8, Ny: 8, Nz: 1}
	u := make([]float32, g.N()*3)
	for n := 0; n < g.N(); n++ {
		_, y, _ := g.Coords(n)
		u[3*n] = float32(y)
	}

	vort := Vorticity(g, u)
	q := QCriterion(g, u)
	for n := 0; n < g.N(); n++ {
		assert.InDelta(t, 0, vort[3*n], 1e-6)
		assert.InDelta(t, 0, vort[3*n+1], 1e-6)
		assert.InDelta(t, -1, vort[3*n+2], 1e-6)
		assert.InDelta(t, 0, q[n], 1e-6)
	}
}

// Rigid rotation u = (-w*y, w*x, 0) has vorticity 2w and positive Q.
func TestQCriterionRigidRotation(t *testing.T) {
	g := lattice.Grid{Nx: 9, Ny: 9, Nz: 1}
	const w = 0.5
	u := make([]float32, g.N()*3)
	for n := 0; n < g.N(); n++ {
		x, y, _ := g.Coords(n)
		u[3*n] = -w * float32(y)
		u[3*n+1] = w * float32(x)
	}

	vort := Vorticity(g, u)
	q := QCriterion(g, u)
	for n := 0; n < g.N(); n++ {
		assert.InDelta(t, 2*w, vort[3*n+2], 1e-6)
		assert.Greater(t, q[n], float32(0))
	}
}

func TestDiagnostics(t *testing.T) {
	rho := []float32{1, 1, 2}
	u := []float32{
		0.1, 0, 0,
		0, 0.2, 0,
		0, 0, 0,
	}

	// Inputs are float32, so compare at float32 resolution.
	assert.InDelta(t, 4.0, TotalMass(rho), 1e-7)
	assert.InDelta(t, 0.2, MaxSpeed(u), 1e-7)
	assert.InDelta(t, 0.5*(0.01+0.04), KineticEnergy(rho, u), 1e-7)
	assert.Equal(t, 0.0, MaxSpeed(nil))
}
