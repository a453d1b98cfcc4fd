package device

import (
	"fmt"
	"runtime"
	"sync"
	"unsafe"

	"github.com/23skdu/longbow-eddy/internal/kernel"
	"github.com/23skdu/longbow-eddy/internal/lattice"
	"github.com/23skdu/longbow-eddy/internal/precision"
)

// ensure interface compliance
var (
	_ Backend = (*CPUBackend)(nil)
	_ Buffer  = (*cpuBuffer)(nil)
	_ Program = (*cpuProgram)(nil)
)

// numWorkers defines the default parallelism for CPU passes.
var numWorkers = runtime.NumCPU()

// CPUBackend executes lattice programs natively on the host, one worker
// goroutine per CPU splitting the cell range. It is the default backend
// and the reference implementation the accelerated backends are tested
// against.
type CPUBackend struct {
	pool *bufferPool

	mu        sync.Mutex
	memLimit  int64
	allocated int64
}

func NewCPUBackend() *CPUBackend {
	return &CPUBackend{pool: newBufferPool()}
}

// SetMemLimit bounds the total bytes Alloc may hand out. Zero means
// unbounded. Used for admission control and allocation-failure tests.
func (b *CPUBackend) SetMemLimit(bytes int64) {
	b.mu.Lock()
	b.memLimit = bytes
	b.mu.Unlock()
}

func (b *CPUBackend) Name() string { return "CPU" }

func (b *CPUBackend) MemAvailable() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.memLimit == 0 {
		return 0
	}
	return b.memLimit - b.allocated
}

func (b *CPUBackend) Alloc(bytes int) (Buffer, error) {
	b.mu.Lock()
	if b.memLimit > 0 && b.allocated+int64(bytes) > b.memLimit {
		available := b.memLimit - b.allocated
		b.mu.Unlock()
		return nil, &AllocationError{Required: int64(bytes), Available: available}
	}
	b.allocated += int64(bytes)
	b.mu.Unlock()

	return &cpuBuffer{backend: b, data: b.pool.get(bytes)}, nil
}

func (b *CPUBackend) Compile(spec kernel.Spec) (Program, error) {
	if !spec.Mode.Valid() {
		return nil, &precision.UnsupportedModeError{Mode: spec.Mode.String()}
	}
	set, err := lattice.NewSet(spec.Model)
	if err != nil {
		return nil, err
	}
	return &cpuProgram{
		spec: spec,
		set:  set,
		grid: lattice.Grid{Nx: spec.Nx, Ny: spec.Ny, Nz: spec.Nz},
	}, nil
}

// Synchronize is a no-op: CPU dispatches join their workers before
// returning.
func (b *CPUBackend) Synchronize() error { return nil }

func (b *CPUBackend) Close() {
	b.pool.drain()
}

type cpuBuffer struct {
	backend  *CPUBackend
	data     []byte
	released bool
}

func (c *cpuBuffer) Size() int { return len(c.data) }

func (c *cpuBuffer) f32() []float32 {
	return unsafe.Slice((*float32)(unsafe.Pointer(&c.data[0])), len(c.data)/4)
}

func (c *cpuBuffer) u16() []uint16 {
	return unsafe.Slice((*uint16)(unsafe.Pointer(&c.data[0])), len(c.data)/2)
}

func (c *cpuBuffer) WriteFloat32s(src []float32) error {
	if len(src)*4 != len(c.data) {
		return fmt.Errorf("buffer write: %d float32s into %d bytes", len(src), len(c.data))
	}
	copy(c.f32(), src)
	transferBytes.Add(float64(len(src) * 4))
	return nil
}

func (c *cpuBuffer) ReadFloat32s(dst []float32) error {
	if len(dst)*4 != len(c.data) {
		return fmt.Errorf("buffer read: %d float32s from %d bytes", len(dst), len(c.data))
	}
	copy(dst, c.f32())
	transferBytes.Add(float64(len(dst) * 4))
	return nil
}

func (c *cpuBuffer) WriteUint8s(src []byte) error {
	if len(src) != len(c.data) {
		return fmt.Errorf("buffer write: %d bytes into %d bytes", len(src), len(c.data))
	}
	copy(c.data, src)
	transferBytes.Add(float64(len(src)))
	return nil
}

func (c *cpuBuffer) ReadUint8s(dst []byte) error {
	if len(dst) != len(c.data) {
		return fmt.Errorf("buffer read: %d bytes from %d bytes", len(dst), len(c.data))
	}
	copy(dst, c.data)
	transferBytes.Add(float64(len(dst)))
	return nil
}

func (c *cpuBuffer) Release() {
	if c.released {
		return
	}
	c.released = true

	c.backend.mu.Lock()
	c.backend.allocated -= int64(len(c.data))
	c.backend.mu.Unlock()

	c.backend.pool.put(c.data)
	c.data = nil
}

// fslab is a precision-aware view over a distribution buffer. Exactly
// one of f32/f16 is non-nil.
type fslab struct {
	f32 []float32
	f16 []uint16
}

func (s fslab) load(i int) float32 {
	if s.f32 != nil {
		return s.f32[i]
	}
	return F16ToF32(s.f16[i])
}

func (s fslab) store(i int, v float32) {
	if s.f32 != nil {
		s.f32[i] = v
		return
	}
	s.f16[i] = F32ToF16(v)
}

// rhoEps is the degenerate-density guard below which a cell's velocity
// is zeroed for the current step only.
const rhoEps = 1e-8

type cpuProgram struct {
	spec kernel.Spec
	set  *lattice.Set
	grid lattice.Grid
}

func (p *cpuProgram) fview(buf Buffer) (fslab, error) {
	cb, ok := buf.(*cpuBuffer)
	if !ok {
		return fslab{}, fmt.Errorf("cpu program given foreign buffer %T", buf)
	}
	if p.spec.Mode == precision.FP32 {
		return fslab{f32: cb.f32()}, nil
	}
	return fslab{f16: cb.u16()}, nil
}

func (p *cpuProgram) hostViews(rho, u, flags Buffer) (r, vel []float32, fl []byte, err error) {
	rb, ok := rho.(*cpuBuffer)
	if !ok {
		return nil, nil, nil, fmt.Errorf("cpu program given foreign buffer %T", rho)
	}
	ub, ok := u.(*cpuBuffer)
	if !ok {
		return nil, nil, nil, fmt.Errorf("cpu program given foreign buffer %T", u)
	}
	r, vel = rb.f32(), ub.f32()
	if flags != nil {
		fb, ok := flags.(*cpuBuffer)
		if !ok {
			return nil, nil, nil, fmt.Errorf("cpu program given foreign buffer %T", flags)
		}
		fl = fb.data
	}
	return r, vel, fl, nil
}

// parallelFor splits [0, n) across worker goroutines and joins them.
func parallelFor(n int, fn func(lo, hi int)) {
	workers := numWorkers
	if workers > n {
		workers = n
	}
	if workers <= 1 {
		fn(0, n)
		return
	}
	chunk := (n + workers - 1) / workers

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		lo := w * chunk
		if lo >= n {
			break
		}
		hi := lo + chunk
		if hi > n {
			hi = n
		}
		wg.Add(1)
		go func(lo, hi int) {
			defer wg.Done()
			fn(lo, hi)
		}(lo, hi)
	}
	wg.Wait()
}

// Equilibrium seeds every cell's distributions from rho and u:
// f_q = w_q * rho * (1 + 3 c.u + 4.5 (c.u)^2 - 1.5 |u|^2)
func (p *cpuProgram) Equilibrium(f, rho, u Buffer) error {
	fs, err := p.fview(f)
	if err != nil {
		return &DispatchError{Kernel: kernel.NameEquilibrium, Err: err}
	}
	r, vel, _, err := p.hostViews(rho, u, nil)
	if err != nil {
		return &DispatchError{Kernel: kernel.NameEquilibrium, Err: err}
	}

	dispatchesTotal.WithLabelValues(kernel.NameEquilibrium).Inc()

	set, q := p.set, p.set.Q
	parallelFor(p.grid.N(), func(lo, hi int) {
		for n := lo; n < hi; n++ {
			dens := r[n]
			ux, uy, uz := vel[3*n], vel[3*n+1], vel[3*n+2]
			u2 := ux*ux + uy*uy + uz*uz
			for i := 0; i < q; i++ {
				cu := float32(set.C[i][0])*ux + float32(set.C[i][1])*uy + float32(set.C[i][2])*uz
				fs.store(n*q+i, set.W[i]*dens*(1+3*cu+4.5*cu*cu-1.5*u2))
			}
		}
	})
	return nil
}

// StreamCollide runs one fused update pass. Each cell reads only f and
// writes disjoint slots of fNew (its streaming targets), so workers
// need no synchronization within the pass.
func (p *cpuProgram) StreamCollide(f, fNew, rho, u, flags Buffer, omega float32) error {
	fs, err := p.fview(f)
	if err != nil {
		return &DispatchError{Kernel: kernel.NameStreamCollide, Err: err}
	}
	out, err := p.fview(fNew)
	if err != nil {
		return &DispatchError{Kernel: kernel.NameStreamCollide, Err: err}
	}
	r, vel, fl, err := p.hostViews(rho, u, flags)
	if err != nil {
		return &DispatchError{Kernel: kernel.NameStreamCollide, Err: err}
	}

	dispatchesTotal.WithLabelValues(kernel.NameStreamCollide).Inc()

	var (
		set, q  = p.set, p.set.Q
		grid    = p.grid
		emulateHalf = p.spec.Mode == precision.FP16Compute
		force   = p.spec.Force
	)

	parallelFor(grid.N(), func(lo, hi int) {
		fi := make([]float32, q)
		for n := lo; n < hi; n++ {
			flag := fl[n]
			if flag == lattice.FlagSolid {
				continue
			}
			x, y, z := grid.Coords(n)

			var dens, mx, my, mz float32
			for i := 0; i < q; i++ {
				fi[i] = fs.load(n*q + i)
				dens += fi[i]
				mx += float32(set.C[i][0]) * fi[i]
				my += float32(set.C[i][1]) * fi[i]
				mz += float32(set.C[i][2]) * fi[i]
			}

			var ux, uy, uz float32
			if dens > rhoEps {
				ux, uy, uz = mx/dens, my/dens, mz/dens
			}

			if flag == lattice.FlagEq {
				// Dirichlet cell: the prescribed state lives in rho/u
				// and is never overwritten.
				dens = r[n]
				ux, uy, uz = vel[3*n], vel[3*n+1], vel[3*n+2]
			} else {
				r[n] = dens
				vel[3*n], vel[3*n+1], vel[3*n+2] = ux, uy, uz
				if force != nil && dens > rhoEps {
					ux += 0.5 * force[0] / dens
					uy += 0.5 * force[1] / dens
					uz += 0.5 * force[2] / dens
				}
			}

			u2 := ux*ux + uy*uy + uz*uz
			for i := 0; i < q; i++ {
				cu := float32(set.C[i][0])*ux + float32(set.C[i][1])*uy + float32(set.C[i][2])*uz
				feq := set.W[i] * dens * (1 + 3*cu + 4.5*cu*cu - 1.5*u2)
				if emulateHalf {
					feq = RoundF16(feq)
				}

				var v float32
				if flag == lattice.FlagEq {
					v = feq
				} else {
					v = (1-omega)*fi[i] + omega*feq
				}

				nn := grid.Neighbor(x, y, z, set.C[i])
				if fl[nn] == lattice.FlagSolid {
					// Bounce-back: reflect into this cell's own
					// opposite slot.
					out.store(n*q+set.Opposite[i], v)
				} else {
					out.store(nn*q+i, v)
				}
			}
		}
	})
	return nil
}
