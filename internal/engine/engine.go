// Package engine drives one lattice-Boltzmann simulation run: input
// validation, device resource setup, equilibrium seeding, the fused
// collide+stream step loop and field readback.
package engine

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/23skdu/longbow-eddy/internal/device"
	"github.com/23skdu/longbow-eddy/internal/kernel"
	"github.com/23skdu/longbow-eddy/internal/lattice"
	"github.com/23skdu/longbow-eddy/internal/precision"
)

// State is the engine lifecycle phase. Transitions are monotonic:
// Uninitialized -> Ready -> Running -> Done.
type State int

const (
	StateUninitialized State = iota
	StateReady
	StateRunning
	StateDone
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "UNINITIALIZED"
	case StateReady:
		return "READY"
	case StateRunning:
		return "RUNNING"
	case StateDone:
		return "DONE"
	}
	return "UNKNOWN"
}

// Config fixes a run's parameters. Everything is immutable once the run
// begins.
type Config struct {
	Nx, Ny, Nz int
	Model      string
	Viscosity  float32
	Mode       precision.Mode

	// Force is an optional constant body force. Nil disables it.
	Force *[3]float32

	// OutputInterval triggers an observational readback every K steps
	// for the output hook. Zero disables periodic readback.
	OutputInterval int
}

// Cell is the per-cell state handed to the initializer callback.
type Cell struct {
	Flag uint8
	Rho  float32
	U    [3]float32
}

// OutputFunc consumes fields after a periodic readback. The slices are
// live host copies, valid until the next step executes.
type OutputFunc func(step int, rho []float32, u []float32)

// Engine owns one exclusive device resource set and runs one simulation
// to completion. A single control goroutine must drive it.
type Engine struct {
	cfg   Config
	grid  lattice.Grid
	set   *lattice.Set
	omega float32

	backend    device.Backend
	ownBackend bool
	prog       device.Program
	res        *resources

	state  State
	step   int
	mlups  float64
	rho    []float32
	u      []float32
	flags  []byte
	output OutputFunc
	closed bool
}

// New validates cfg eagerly and builds an engine in the UNINITIALIZED
// state. No device work happens until Run. A nil backend selects the
// native CPU backend.
func New(cfg Config, backend device.Backend) (*Engine, error) {
	if cfg.Nx <= 0 || cfg.Ny <= 0 || cfg.Nz <= 0 {
		return nil, &ConfigurationError{Field: "grid", Reason: "dimensions Nx, Ny and Nz must be greater than 0"}
	}
	set, err := lattice.NewSet(cfg.Model)
	if err != nil {
		return nil, &ConfigurationError{Field: "model", Reason: err.Error()}
	}
	if set.D == 2 && cfg.Nz != 1 {
		return nil, &ConfigurationError{Field: "grid", Reason: "D2Q9 requires Nz equal to 1"}
	}
	if cfg.Viscosity <= 0 {
		return nil, &ConfigurationError{Field: "viscosity", Reason: "must be greater than 0"}
	}
	if !cfg.Mode.Valid() {
		return nil, &ConfigurationError{Field: "precision", Reason: (&precision.UnsupportedModeError{Mode: cfg.Mode.String()}).Error()}
	}
	if cfg.OutputInterval < 0 {
		return nil, &ConfigurationError{Field: "outputInterval", Reason: "must not be negative"}
	}

	ownBackend := false
	if backend == nil {
		backend = device.NewCPUBackend()
		ownBackend = true
	}

	grid := lattice.Grid{Nx: cfg.Nx, Ny: cfg.Ny, Nz: cfg.Nz}
	n := grid.N()
	rho := make([]float32, n)
	for i := range rho {
		rho[i] = 1.0
	}

	return &Engine{
		cfg:        cfg,
		grid:       grid,
		set:        set,
		omega:      1.0 / (3.0*cfg.Viscosity + 0.5),
		backend:    backend,
		ownBackend: ownBackend,
		rho:        rho,
		u:          make([]float32, n*3),
		flags:      make([]byte, n),
	}, nil
}

// SetConditions invokes fn once per cell to populate flags and the
// initial density and velocity. Plain sequential iteration: it completes
// before any device dispatch, so there is no concurrency hazard. Only
// valid before the run starts.
func (e *Engine) SetConditions(fn func(x, y, z, n int, c *Cell)) error {
	if e.state != StateUninitialized {
		return ErrStarted
	}
	for n := 0; n < e.grid.N(); n++ {
		x, y, z := e.grid.Coords(n)
		c := Cell{
			Flag: e.flags[n],
			Rho:  e.rho[n],
			U:    [3]float32{e.u[3*n], e.u[3*n+1], e.u[3*n+2]},
		}
		fn(x, y, z, n, &c)
		e.flags[n] = c.Flag
		e.rho[n] = c.Rho
		e.u[3*n], e.u[3*n+1], e.u[3*n+2] = c.U[0], c.U[1], c.U[2]
	}
	return nil
}

// SetOutputFunc registers the export consumer invoked after periodic
// readbacks. Only valid before the run starts.
func (e *Engine) SetOutputFunc(fn OutputFunc) error {
	if e.state != StateUninitialized {
		return ErrStarted
	}
	e.output = fn
	return nil
}

// EstimatedBytes returns the device footprint the run will allocate, so
// callers can pre-flight capacity before committing.
func (e *Engine) EstimatedBytes() int64 {
	return estimatedBytes(e.grid.N(), e.set.Q, e.cfg.Mode)
}

// initialize performs the UNINITIALIZED -> READY transition: length
// checks, program build, atomic resource allocation, one-time upload and
// the equilibrium seeding pass.
func (e *Engine) initialize() error {
	n := e.grid.N()
	if len(e.rho) != n || len(e.u) != n*3 || len(e.flags) != n {
		return &ConfigurationError{Field: "fields", Reason: "host array lengths do not match the grid"}
	}

	prog, err := e.backend.Compile(kernel.Spec{
		Nx: e.cfg.Nx, Ny: e.cfg.Ny, Nz: e.cfg.Nz,
		Model: e.cfg.Model,
		Mode:  e.cfg.Mode,
		Force: e.cfg.Force,
	})
	if err != nil {
		return err
	}

	res, err := allocResources(e.backend, n, e.set.Q, e.cfg.Mode)
	if err != nil {
		return err
	}

	for _, upload := range []func() error{
		func() error { return res.density.WriteFloat32s(e.rho) },
		func() error { return res.velocity.WriteFloat32s(e.u) },
		func() error { return res.flags.WriteUint8s(e.flags) },
	} {
		if err := upload(); err != nil {
			res.release()
			return err
		}
	}

	if err := prog.Equilibrium(res.f, res.density, res.velocity); err != nil {
		res.release()
		return err
	}
	if err := e.backend.Synchronize(); err != nil {
		res.release()
		return err
	}

	e.prog = prog
	e.res = res
	e.state = StateReady

	log.Info().
		Str("backend", e.backend.Name()).
		Str("model", e.cfg.Model).
		Int("nx", e.cfg.Nx).Int("ny", e.cfg.Ny).Int("nz", e.cfg.Nz).
		Str("precision", e.cfg.Mode.String()).
		Float32("omega", e.omega).
		Float64("device_mb", float64(e.EstimatedBytes())/(1024.0*1024.0)).
		Msg("Engine ready")
	return nil
}

// Run executes exactly steps fused collide+stream passes, with periodic
// readbacks at the configured interval and a mandatory final readback.
// The context is checked between steps only; a pass, once dispatched,
// always runs to completion. After Run returns the engine is DONE and
// its device resources are released.
func (e *Engine) Run(ctx context.Context, steps int) error {
	if steps <= 0 {
		return &ConfigurationError{Field: "steps", Reason: "step count must be greater than 0"}
	}
	switch e.state {
	case StateDone:
		return ErrFinalized
	case StateRunning:
		return ErrStarted
	case StateUninitialized:
		if err := e.initialize(); err != nil {
			return err
		}
	}

	ctx, span := otel.Tracer("longbow-eddy/engine").Start(ctx, "engine.run",
		trace.WithAttributes(
			attribute.Int("lbm.steps", steps),
			attribute.String("lbm.model", e.cfg.Model),
			attribute.String("lbm.precision", e.cfg.Mode.String()),
		))
	defer span.End()

	e.state = StateRunning
	start := time.Now()

	for t := 0; t < steps; t++ {
		if err := ctx.Err(); err != nil {
			e.abort()
			return err
		}

		if err := e.prog.StreamCollide(e.res.f, e.res.fNew, e.res.density, e.res.velocity, e.res.flags, e.omega); err != nil {
			e.abort()
			return err
		}
		// Barrier: every worker's write must land before the swap.
		if err := e.backend.Synchronize(); err != nil {
			e.abort()
			return err
		}
		e.res.swap()
		e.step++
		stepsTotal.Inc()

		if e.cfg.OutputInterval > 0 && e.step%e.cfg.OutputInterval == 0 {
			if err := e.readback(); err != nil {
				e.abort()
				return err
			}
			if e.output != nil {
				e.output(e.step, e.rho, e.u)
			}
		}
	}

	if err := e.readback(); err != nil {
		e.abort()
		return err
	}

	elapsed := time.Since(start).Seconds()
	e.mlups = float64(e.grid.N()) * float64(steps) / elapsed / 1e6
	mlupsGauge.Set(e.mlups)

	e.state = StateDone
	e.res.release()
	e.res = nil

	log.Info().
		Int("steps", steps).
		Float64("seconds", elapsed).
		Float64("mlups", e.mlups).
		Msg("Run complete")
	return nil
}

// abort releases device resources after a fatal error. State is likely
// inconsistent, so the engine finalizes instead of retrying.
func (e *Engine) abort() {
	if e.res != nil {
		e.res.release()
		e.res = nil
	}
	e.state = StateDone
}

// readback synchronously copies density and velocity to the host.
// Observational only: device state is unchanged.
func (e *Engine) readback() error {
	if err := e.res.density.ReadFloat32s(e.rho); err != nil {
		return err
	}
	if err := e.res.velocity.ReadFloat32s(e.u); err != nil {
		return err
	}
	readbacksTotal.Inc()
	return nil
}

// State returns the lifecycle phase.
func (e *Engine) State() State { return e.state }

// StepCount returns the number of completed steps.
func (e *Engine) StepCount() int { return e.step }

// MLUps returns the throughput of the completed run in million lattice
// updates per second.
func (e *Engine) MLUps() float64 { return e.mlups }

// Grid returns the simulation domain.
func (e *Engine) Grid() lattice.Grid { return e.grid }

// Set returns the resolved velocity set.
func (e *Engine) Set() *lattice.Set { return e.set }

// Density returns the host density field: authoritative only after a
// readback, valid until the next step.
func (e *Engine) Density() []float32 { return e.rho }

// Velocity returns the host velocity field (3 components per cell):
// authoritative only after a readback, valid until the next step.
func (e *Engine) Velocity() []float32 { return e.u }

// Flags returns the per-cell boundary classification.
func (e *Engine) Flags() []byte { return e.flags }

// Close releases any device resources still held. Idempotent; invoked
// automatically on abort and at DONE for the buffer set, but callers
// should still Close to release a backend the engine created.
func (e *Engine) Close() {
	if e.closed {
		return
	}
	e.closed = true
	if e.res != nil {
		e.res.release()
		e.res = nil
	}
	if e.state != StateDone {
		e.state = StateDone
	}
	if e.ownBackend {
		e.backend.Close()
	}
}
