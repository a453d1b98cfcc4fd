// Package device abstracts the accelerator runtime behind a narrow
// contract: compile a specialized program, allocate typed buffers, move
// data across the host boundary, dispatch data-parallel passes and
// block until they land. The native CPU backend is the default and the
// reference implementation; the OpenCL backend (build tag "opencl")
// consumes the generated program text.
package device

import (
	"fmt"

	"github.com/23skdu/longbow-eddy/internal/kernel"
)

// Buffer is one device allocation. Writes and reads are synchronous and
// complete before returning.
type Buffer interface {
	// Size returns the allocation size in bytes.
	Size() int

	WriteFloat32s(src []float32) error
	ReadFloat32s(dst []float32) error
	WriteUint8s(src []byte) error
	ReadUint8s(dst []byte) error

	// Release returns the allocation to the backend. Idempotent.
	Release()
}

// Program is one compiled, configuration-specialized lattice program.
type Program interface {
	// Equilibrium seeds f from density and velocity over all cells.
	Equilibrium(f, rho, u Buffer) error

	// StreamCollide enqueues one fused update pass reading f and
	// writing fNew. Workers within the pass are independent; callers
	// must Synchronize before swapping the buffers.
	StreamCollide(f, fNew, rho, u, flags Buffer, omega float32) error
}

// Backend owns one accelerator. Exactly one engine may use a backend's
// buffers and programs at a time.
type Backend interface {
	Name() string

	// Compile builds the program specialized for spec.
	Compile(spec kernel.Spec) (Program, error)

	// Alloc creates a buffer of the given byte size.
	Alloc(bytes int) (Buffer, error)

	// MemAvailable returns the device memory still available for
	// allocation, or 0 when the backend cannot bound it.
	MemAvailable() int64

	// Synchronize blocks until all enqueued work has completed.
	Synchronize() error

	// Close releases backend-held resources. Idempotent.
	Close()
}

// AllocationError reports that the device cannot satisfy a requested
// allocation.
type AllocationError struct {
	Required  int64
	Available int64
}

func (e *AllocationError) Error() string {
	return fmt.Sprintf("device allocation failed: %d bytes required, %d available", e.Required, e.Available)
}

// CompileError reports a program build failure with the generator inputs
// needed to reproduce it.
type CompileError struct {
	Spec kernel.Spec
	Log  string
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("program build failed for model=%s mode=%s grid=%dx%dx%d: %s",
		e.Spec.Model, e.Spec.Mode, e.Spec.Nx, e.Spec.Ny, e.Spec.Nz, e.Log)
}

// DispatchError reports a failed kernel launch or buffer operation.
// State is likely inconsistent afterwards; no retry is attempted.
type DispatchError struct {
	Kernel string
	Err    error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("dispatch of %q failed: %v", e.Kernel, e.Err)
}

func (e *DispatchError) Unwrap() error { return e.Err }
