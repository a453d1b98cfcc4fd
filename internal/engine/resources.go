package engine

import (
	"github.com/23skdu/longbow-eddy/internal/device"
	"github.com/23skdu/longbow-eddy/internal/precision"
)

// resources is the exclusive device buffer set of one run, constructed
// atomically at the READY transition: both distribution buffers, the
// macroscopic fields and the cell flags.
type resources struct {
	f, fNew  device.Buffer
	density  device.Buffer
	velocity device.Buffer
	flags    device.Buffer
}

// estimatedBytes returns the total device footprint of a resource set
// before committing to allocation: two N*Q distribution buffers at the
// precision-dependent width, N density floats, N*3 velocity floats and
// N flag bytes.
func estimatedBytes(n, q int, mode precision.Mode) int64 {
	f := int64(n) * int64(q) * int64(mode.StorageBytes())
	return 2*f + int64(n)*4 + int64(n)*3*4 + int64(n)
}

// allocResources preflights against the backend's available memory and
// allocates the full set, releasing any partial allocation on failure.
func allocResources(b device.Backend, n, q int, mode precision.Mode) (*resources, error) {
	if avail := b.MemAvailable(); avail > 0 {
		if need := estimatedBytes(n, q, mode); need > avail {
			return nil, &device.AllocationError{Required: need, Available: avail}
		}
	}

	r := &resources{}
	fBytes := n * q * mode.StorageBytes()
	for _, alloc := range []struct {
		dst   *device.Buffer
		bytes int
	}{
		{&r.f, fBytes},
		{&r.fNew, fBytes},
		{&r.density, n * 4},
		{&r.velocity, n * 3 * 4},
		{&r.flags, n},
	} {
		buf, err := b.Alloc(alloc.bytes)
		if err != nil {
			r.release()
			return nil, err
		}
		*alloc.dst = buf
	}

	vramBytes.Set(float64(estimatedBytes(n, q, mode)))
	return r, nil
}

// swap exchanges buffer ownership between f and fNew. No data moves.
func (r *resources) swap() {
	r.f, r.fNew = r.fNew, r.f
}

// release frees every buffer. Idempotent.
func (r *resources) release() {
	for _, buf := range []device.Buffer{r.f, r.fNew, r.density, r.velocity, r.flags} {
		if buf != nil {
			buf.Release()
		}
	}
	r.f, r.fNew, r.density, r.velocity, r.flags = nil, nil, nil, nil, nil
	vramBytes.Set(0)
}
