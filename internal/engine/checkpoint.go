package engine

import (
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"

	"github.com/23skdu/longbow-eddy/internal/device"
	"github.com/23skdu/longbow-eddy/internal/precision"
)

// Checkpoint is a host-side snapshot of the macroscopic fields, taken
// after a readback. Distributions are not stored; restoring re-seeds
// them at equilibrium from the saved fields.
type Checkpoint struct {
	Model    string     `cbor:"model"`
	Nx       int        `cbor:"nx"`
	Ny       int        `cbor:"ny"`
	Nz       int        `cbor:"nz"`
	Step     int        `cbor:"step"`
	Density  []float32  `cbor:"density"`
	Velocity []float32  `cbor:"velocity"`
	Flags    []byte     `cbor:"flags"`
	Force    *[3]float32 `cbor:"force,omitempty"`
}

// Snapshot captures the engine's current host fields. Meaningful after
// a readback, so typically from an output hook or a finished run.
func (e *Engine) Snapshot() *Checkpoint {
	cp := &Checkpoint{
		Model:    e.cfg.Model,
		Nx:       e.cfg.Nx,
		Ny:       e.cfg.Ny,
		Nz:       e.cfg.Nz,
		Step:     e.step,
		Density:  make([]float32, len(e.rho)),
		Velocity: make([]float32, len(e.u)),
		Flags:    make([]byte, len(e.flags)),
		Force:    e.cfg.Force,
	}
	copy(cp.Density, e.rho)
	copy(cp.Velocity, e.u)
	copy(cp.Flags, e.flags)
	return cp
}

// Encode serializes the checkpoint as CBOR.
func (cp *Checkpoint) Encode(w io.Writer) error {
	return cbor.NewEncoder(w).Encode(cp)
}

// ReadCheckpoint decodes a CBOR checkpoint and verifies its internal
// consistency before anyone builds an engine from it.
func ReadCheckpoint(r io.Reader) (*Checkpoint, error) {
	var cp Checkpoint
	if err := cbor.NewDecoder(r).Decode(&cp); err != nil {
		return nil, fmt.Errorf("decode checkpoint: %w", err)
	}
	n := cp.Nx * cp.Ny * cp.Nz
	if cp.Nx <= 0 || cp.Ny <= 0 || cp.Nz <= 0 {
		return nil, &ConfigurationError{Field: "checkpoint", Reason: "non-positive grid dimensions"}
	}
	if len(cp.Density) != n || len(cp.Velocity) != n*3 || len(cp.Flags) != n {
		return nil, &ConfigurationError{Field: "checkpoint", Reason: "field lengths do not match the grid"}
	}
	return &cp, nil
}

// Restore builds an UNINITIALIZED engine whose initial fields are the
// checkpointed state. The run resumes from equilibrium distributions
// seeded from those fields.
func Restore(cp *Checkpoint, viscosity float32, mode precision.Mode, backend device.Backend) (*Engine, error) {
	e, err := New(Config{
		Nx: cp.Nx, Ny: cp.Ny, Nz: cp.Nz,
		Model:     cp.Model,
		Viscosity: viscosity,
		Mode:      mode,
		Force:     cp.Force,
	}, backend)
	if err != nil {
		return nil, err
	}
	copy(e.rho, cp.Density)
	copy(e.u, cp.Velocity)
	copy(e.flags, cp.Flags)
	e.step = cp.Step
	return e, nil
}
