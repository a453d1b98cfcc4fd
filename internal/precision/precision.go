// Package precision defines the storage/compute width policy for
// distribution buffers. The mode changes buffer element width and the
// arithmetic type of generated kernels only, never the update algorithm.
package precision

import (
	"fmt"
	"strings"
)

type Mode uint8

const (
	// FP32 is 4-byte storage and compute throughout.
	FP32 Mode = iota
	// FP16Storage persists distributions as 2-byte floats and promotes
	// to 4 bytes for every arithmetic operation.
	FP16Storage
	// FP16Compute stores and computes in 2-byte floats. Fastest, least
	// accurate; the caller accepts possible instability on long runs.
	FP16Compute
)

// UnsupportedModeError reports a precision mode outside the policy.
type UnsupportedModeError struct {
	Mode string
}

func (e *UnsupportedModeError) Error() string {
	return fmt.Sprintf("unsupported precision mode %q (use FP32, FP16S or FP16C)", e.Mode)
}

// Parse resolves a mode name. Accepted: FP32, FP16S, FP16C (any case).
func Parse(s string) (Mode, error) {
	switch strings.ToUpper(s) {
	case "FP32", "":
		return FP32, nil
	case "FP16S":
		return FP16Storage, nil
	case "FP16C":
		return FP16Compute, nil
	}
	return FP32, &UnsupportedModeError{Mode: s}
}

func (m Mode) String() string {
	switch m {
	case FP32:
		return "FP32"
	case FP16Storage:
		return "FP16S"
	case FP16Compute:
		return "FP16C"
	}
	return fmt.Sprintf("Mode(%d)", uint8(m))
}

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	return m <= FP16Compute
}

// StorageBytes returns the persisted width of one distribution value.
func (m Mode) StorageBytes() int {
	if m == FP32 {
		return 4
	}
	return 2
}

// MemoryFactor returns the approximate memory-traffic multiplier
// relative to FP32.
func (m Mode) MemoryFactor() float64 {
	switch m {
	case FP16Storage:
		return 0.6
	case FP16Compute:
		return 0.5
	}
	return 1.0
}

// Description returns a one-line summary for logs.
func (m Mode) Description() string {
	switch m {
	case FP16Storage:
		return "FP16 storage, FP32 compute (balanced)"
	case FP16Compute:
		return "FP16 compute (maximum throughput, reduced accuracy)"
	}
	return "full FP32 precision (maximum accuracy)"
}
