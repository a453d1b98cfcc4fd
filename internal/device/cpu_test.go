package device

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/23skdu/longbow-eddy/internal/kernel"
	"github.com/23skdu/longbow-eddy/internal/lattice"
	"github.com/23skdu/longbow-eddy/internal/precision"
)

func TestCPUAllocLimit(t *testing.T) {
	b := NewCPUBackend()
	defer b.Close()
	b.SetMemLimit(1024)

	buf, err := b.Alloc(512)
	require.NoError(t, err)
	assert.Equal(t, int64(512), int64(1024)-b.MemAvailable())

	_, err = b.Alloc(1024)
	var ae *AllocationError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, int64(1024), ae.Required)
	assert.Equal(t, int64(512), ae.Available)

	buf.Release()
	assert.Equal(t, int64(1024), b.MemAvailable())

	// Release is idempotent.
	buf.Release()
	assert.Equal(t, int64(1024), b.MemAvailable())
}

func TestCPUBufferTransfer(t *testing.T) {
	b := NewCPUBackend()
	defer b.Close()

	buf, err := b.Alloc(4 * 4)
	require.NoError(t, err)
	defer buf.Release()

	src := []float32{1, -2, 3.5, 0}
	require.NoError(t, buf.WriteFloat32s(src))

	dst := make([]float32, 4)
	require.NoError(t, buf.ReadFloat32s(dst))
	assert.Equal(t, src, dst)

	// Length mismatches are rejected.
	assert.Error(t, buf.WriteFloat32s(make([]float32, 3)))
	assert.Error(t, buf.ReadFloat32s(make([]float32, 5)))
}

func TestCompileRejectsUnknownModel(t *testing.T) {
	b := NewCPUBackend()
	defer b.Close()

	_, err := b.Compile(kernel.Spec{Nx: 4, Ny: 4, Nz: 1, Model: "D4Q1"})
	var me *lattice.UnsupportedModelError
	require.ErrorAs(t, err, &me)
}

// simulation is a small harness owning one compiled program and its
// buffers, for direct dispatch tests.
type simulation struct {
	t       *testing.T
	backend *CPUBackend
	prog    Program
	grid    lattice.Grid
	q       int

	f, fNew, rho, u, flags Buffer
}

func newSimulation(t *testing.T, spec kernel.Spec) *simulation {
	t.Helper()
	b := NewCPUBackend()
	t.Cleanup(b.Close)

	prog, err := b.Compile(spec)
	require.NoError(t, err)

	set, err := lattice.NewSet(spec.Model)
	require.NoError(t, err)

	g := lattice.Grid{Nx: spec.Nx, Ny: spec.Ny, Nz: spec.Nz}
	n := g.N()
	w := spec.Mode.StorageBytes()

	s := &simulation{t: t, backend: b, prog: prog, grid: g, q: set.Q}
	for _, alloc := range []struct {
		dst   *Buffer
		bytes int
	}{
		{&s.f, n * set.Q * w},
		{&s.fNew, n * set.Q * w},
		{&s.rho, n * 4},
		{&s.u, n * 3 * 4},
		{&s.flags, n},
	} {
		buf, err := b.Alloc(alloc.bytes)
		require.NoError(t, err)
		t.Cleanup(buf.Release)
		*alloc.dst = buf
	}
	return s
}

func (s *simulation) seed(rho []float32, u []float32, flags []byte) {
	s.t.Helper()
	require.NoError(s.t, s.rho.WriteFloat32s(rho))
	require.NoError(s.t, s.u.WriteFloat32s(u))
	require.NoError(s.t, s.flags.WriteUint8s(flags))
	require.NoError(s.t, s.prog.Equilibrium(s.f, s.rho, s.u))
}

func (s *simulation) step(omega float32) {
	s.t.Helper()
	require.NoError(s.t, s.prog.StreamCollide(s.f, s.fNew, s.rho, s.u, s.flags, omega))
	s.f, s.fNew = s.fNew, s.f
}

func (s *simulation) fields() (rho []float32, u []float32) {
	s.t.Helper()
	rho = make([]float32, s.grid.N())
	u = make([]float32, s.grid.N()*3)
	require.NoError(s.t, s.rho.ReadFloat32s(rho))
	require.NoError(s.t, s.u.ReadFloat32s(u))
	return rho, u
}

func uniformFields(n int, rho0, ux float32) (rho []float32, u []float32, flags []byte) {
	rho = make([]float32, n)
	u = make([]float32, n*3)
	flags = make([]byte, n)
	for i := 0; i < n; i++ {
		rho[i] = rho0
		u[3*i] = ux
	}
	return rho, u, flags
}

// A uniform periodic flow is an exact fixed point of the update.
func TestUniformFlowIsFixedPoint(t *testing.T) {
	for _, model := range []string{"D2Q9", "D3Q19"} {
		t.Run(model, func(t *testing.T) {
			nz := 1
			if model != "D2Q9" {
				nz = 8
			}
			s := newSimulation(t, kernel.Spec{Nx: 8, Ny: 8, Nz: nz, Model: model})
			rho0, u0 := float32(1.0), float32(0.05)
			r, u, fl := uniformFields(s.grid.N(), rho0, u0)
			s.seed(r, u, fl)

			for i := 0; i < 10; i++ {
				s.step(1.0)
			}

			rOut, uOut := s.fields()
			for n := 0; n < s.grid.N(); n++ {
				assert.InDelta(t, rho0, rOut[n], 1e-5)
				assert.InDelta(t, u0, uOut[3*n], 1e-5)
				assert.InDelta(t, 0, uOut[3*n+1], 1e-5)
				assert.InDelta(t, 0, uOut[3*n+2], 1e-5)
			}
		})
	}
}

// Mass is conserved exactly (up to rounding) on a fully periodic domain.
func TestPeriodicMassConservation(t *testing.T) {
	s := newSimulation(t, kernel.Spec{Nx: 16, Ny: 16, Nz: 1, Model: "D2Q9"})
	n := s.grid.N()
	rho := make([]float32, n)
	u := make([]float32, n*3)
	flags := make([]byte, n)
	for i := 0; i < n; i++ {
		// Smooth nontrivial initial condition.
		x, y, _ := s.grid.Coords(i)
		rho[i] = 1.0 + 0.05*float32(x%4)*0.25
		u[3*i] = 0.02 * float32(y%3) * 0.5
	}
	s.seed(rho, u, flags)

	before := totalMass(t, s)
	for i := 0; i < 50; i++ {
		s.step(1.2)
	}
	after := totalMass(t, s)
	assert.InDelta(t, before, after, 1e-3*before)
}

// Bounce-back walls keep mass inside a closed box.
func TestBounceBackMassConservation(t *testing.T) {
	s := newSimulation(t, kernel.Spec{Nx: 12, Ny: 12, Nz: 1, Model: "D2Q9"})
	n := s.grid.N()
	rho := make([]float32, n)
	u := make([]float32, n*3)
	flags := make([]byte, n)
	for i := 0; i < n; i++ {
		rho[i] = 1.0
		x, y, _ := s.grid.Coords(i)
		if x == 0 || x == s.grid.Nx-1 || y == 0 || y == s.grid.Ny-1 {
			flags[i] = lattice.FlagSolid
		} else {
			u[3*i] = 0.05
			u[3*i+1] = 0.02
		}
	}
	s.seed(rho, u, flags)

	before := fluidMass(t, s, flags)
	for i := 0; i < 50; i++ {
		s.step(1.0)
	}
	after := fluidMass(t, s, flags)
	assert.InDelta(t, before, after, 1e-3*before)
}

// A body force must not blow up cells whose density has degenerated to
// zero: the velocity shift is skipped below the density guard.
func TestForceSkipsDegenerateDensity(t *testing.T) {
	s := newSimulation(t, kernel.Spec{
		Nx: 6, Ny: 6, Nz: 1,
		Model: "D2Q9",
		Force: &[3]float32{1e-3, 0, 0},
	})
	n := s.grid.N()
	rho := make([]float32, n)
	u := make([]float32, n*3)
	flags := make([]byte, n)
	for i := 0; i < n; i++ {
		rho[i] = 1.0
	}
	// One cell seeded with zero density: all its distributions are zero.
	empty := s.grid.Index(2, 2, 0)
	rho[empty] = 0
	s.seed(rho, u, flags)

	for i := 0; i < 5; i++ {
		s.step(1.0)
	}

	rOut, uOut := s.fields()
	for i := 0; i < n; i++ {
		require.False(t, math.IsNaN(float64(rOut[i])) || math.IsInf(float64(rOut[i]), 0), "rho at %d", i)
		for a := 0; a < 3; a++ {
			v := float64(uOut[3*i+a])
			require.False(t, math.IsNaN(v) || math.IsInf(v, 0), "u[%d] at %d", a, i)
		}
	}
}

// A lone solid cell in a periodic flow reflects everything it receives;
// total mass still holds.
func TestLoneSolidCellBounceBack(t *testing.T) {
	s := newSimulation(t, kernel.Spec{Nx: 8, Ny: 8, Nz: 1, Model: "D2Q9"})
	r, u, fl := uniformFields(s.grid.N(), 1.0, 0.04)
	obstacle := s.grid.Index(4, 4, 0)
	fl[obstacle] = lattice.FlagSolid
	u[3*obstacle] = 0
	s.seed(r, u, fl)

	before := fluidMass(t, s, fl)
	for i := 0; i < 30; i++ {
		s.step(1.0)
	}
	after := fluidMass(t, s, fl)
	assert.InDelta(t, before, after, 1e-3*before)

	// The obstacle deflects the flow: the wake is no longer uniform.
	_, uOut := s.fields()
	behind := s.grid.Index(5, 4, 0)
	assert.NotEqual(t, float32(0.04), uOut[3*behind])
}

// EQ cells hold their prescribed density and velocity across steps.
func TestEqCellsKeepPrescribedState(t *testing.T) {
	s := newSimulation(t, kernel.Spec{Nx: 8, Ny: 8, Nz: 1, Model: "D2Q9"})
	n := s.grid.N()
	rho := make([]float32, n)
	u := make([]float32, n*3)
	flags := make([]byte, n)
	for i := 0; i < n; i++ {
		rho[i] = 1.0
	}
	lid := s.grid.Index(4, 7, 0)
	flags[lid] = lattice.FlagEq
	rho[lid] = 1.05
	u[3*lid] = 0.1
	s.seed(rho, u, flags)

	for i := 0; i < 20; i++ {
		s.step(1.0)
	}

	rOut, uOut := s.fields()
	assert.Equal(t, float32(1.05), rOut[lid])
	assert.Equal(t, float32(0.1), uOut[3*lid])
	assert.Equal(t, float32(0), uOut[3*lid+1])
}

// FP16 storage reproduces the FP32 dynamics within half-float tolerance.
func TestFP16StorageTracksFP32(t *testing.T) {
	run := func(mode precision.Mode) ([]float32, []float32) {
		s := newSimulation(t, kernel.Spec{Nx: 8, Ny: 8, Nz: 1, Model: "D2Q9", Mode: mode})
		r, u, fl := uniformFields(s.grid.N(), 1.0, 0.03)
		s.seed(r, u, fl)
		for i := 0; i < 5; i++ {
			s.step(1.0)
		}
		return s.fields()
	}

	r32, u32 := run(precision.FP32)
	r16, u16 := run(precision.FP16Storage)
	for n := range r32 {
		assert.InDelta(t, r32[n], r16[n], 5e-3)
		assert.InDelta(t, u32[3*n], u16[3*n], 5e-3)
	}
}

func totalMass(t *testing.T, s *simulation) float64 {
	rho, _ := s.fields()
	var sum float64
	for _, r := range rho {
		sum += float64(r)
	}
	return sum
}

func fluidMass(t *testing.T, s *simulation, flags []byte) float64 {
	rho, _ := s.fields()
	var sum float64
	for n, r := range rho {
		if flags[n] != lattice.FlagSolid {
			sum += float64(r)
		}
	}
	return sum
}
