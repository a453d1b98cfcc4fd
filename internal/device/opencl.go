//go:build opencl

package device

/*
#cgo LDFLAGS: -lOpenCL
#define CL_TARGET_OPENCL_VERSION 120
#include <CL/cl.h>
#include <stdlib.h>
*/
import "C"
import (
	"errors"
	"fmt"
	"sync"
	"unsafe"

	"github.com/23skdu/longbow-eddy/internal/kernel"
)

// ensure interface compliance
var (
	_ Backend = (*OpenCLBackend)(nil)
	_ Buffer  = (*clBuffer)(nil)
	_ Program = (*clProgram)(nil)
)

// OpenCLBackend drives the first available OpenCL device. One command
// queue serializes all enqueued work; Synchronize maps to clFinish.
type OpenCLBackend struct {
	platform C.cl_platform_id
	device   C.cl_device_id
	context  C.cl_context
	queue    C.cl_command_queue

	mu        sync.Mutex
	globalMem int64
	allocated int64
	closed    bool
}

// NewOpenCLBackend selects the first platform and its first device.
func NewOpenCLBackend() (Backend, error) {
	var platform C.cl_platform_id
	var count C.cl_uint
	if rc := C.clGetPlatformIDs(1, &platform, &count); rc != C.CL_SUCCESS || count == 0 {
		return nil, errors.New("no OpenCL platform found")
	}

	var dev C.cl_device_id
	if rc := C.clGetDeviceIDs(platform, C.CL_DEVICE_TYPE_GPU, 1, &dev, &count); rc != C.CL_SUCCESS || count == 0 {
		if rc := C.clGetDeviceIDs(platform, C.CL_DEVICE_TYPE_ALL, 1, &dev, &count); rc != C.CL_SUCCESS || count == 0 {
			return nil, errors.New("no OpenCL device found")
		}
	}

	var rc C.cl_int
	ctx := C.clCreateContext(nil, 1, &dev, nil, nil, &rc)
	if rc != C.CL_SUCCESS {
		return nil, fmt.Errorf("clCreateContext failed: %d", int(rc))
	}

	queue := C.clCreateCommandQueue(ctx, dev, 0, &rc)
	if rc != C.CL_SUCCESS {
		C.clReleaseContext(ctx)
		return nil, fmt.Errorf("clCreateCommandQueue failed: %d", int(rc))
	}

	var globalMem C.cl_ulong
	C.clGetDeviceInfo(dev, C.CL_DEVICE_GLOBAL_MEM_SIZE, C.size_t(unsafe.Sizeof(globalMem)), unsafe.Pointer(&globalMem), nil)

	return &OpenCLBackend{
		platform:  platform,
		device:    dev,
		context:   ctx,
		queue:     queue,
		globalMem: int64(globalMem),
	}, nil
}

func (b *OpenCLBackend) Name() string { return "OpenCL" }

func (b *OpenCLBackend) MemAvailable() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.globalMem - b.allocated
}

func (b *OpenCLBackend) Alloc(bytes int) (Buffer, error) {
	b.mu.Lock()
	available := b.globalMem - b.allocated
	b.mu.Unlock()
	if int64(bytes) > available {
		return nil, &AllocationError{Required: int64(bytes), Available: available}
	}

	var rc C.cl_int
	mem := C.clCreateBuffer(b.context, C.CL_MEM_READ_WRITE, C.size_t(bytes), nil, &rc)
	if rc != C.CL_SUCCESS {
		return nil, &AllocationError{Required: int64(bytes), Available: available}
	}

	b.mu.Lock()
	b.allocated += int64(bytes)
	b.mu.Unlock()

	return &clBuffer{backend: b, mem: mem, bytes: bytes}, nil
}

func (b *OpenCLBackend) Compile(spec kernel.Spec) (Program, error) {
	src, err := kernel.Generate(spec)
	if err != nil {
		return nil, err
	}

	cSrc := C.CString(src)
	defer C.free(unsafe.Pointer(cSrc))

	var rc C.cl_int
	prog := C.clCreateProgramWithSource(b.context, 1, &cSrc, nil, &rc)
	if rc != C.CL_SUCCESS {
		return nil, &CompileError{Spec: spec, Log: fmt.Sprintf("clCreateProgramWithSource: %d", int(rc))}
	}

	if rc = C.clBuildProgram(prog, 1, &b.device, nil, nil, nil); rc != C.CL_SUCCESS {
		logText := b.buildLog(prog)
		C.clReleaseProgram(prog)
		return nil, &CompileError{Spec: spec, Log: logText}
	}

	p := &clProgram{backend: b, program: prog, spec: spec}
	for _, name := range []string{kernel.NameEquilibrium, kernel.NameStreamCollide} {
		cName := C.CString(name)
		k := C.clCreateKernel(prog, cName, &rc)
		C.free(unsafe.Pointer(cName))
		if rc != C.CL_SUCCESS {
			p.release()
			return nil, &CompileError{Spec: spec, Log: fmt.Sprintf("clCreateKernel %q: %d", name, int(rc))}
		}
		if name == kernel.NameEquilibrium {
			p.equilibrium = k
		} else {
			p.streamCollide = k
		}
	}
	return p, nil
}

func (b *OpenCLBackend) buildLog(prog C.cl_program) string {
	var size C.size_t
	C.clGetProgramBuildInfo(prog, b.device, C.CL_PROGRAM_BUILD_LOG, 0, nil, &size)
	if size == 0 {
		return "no build log"
	}
	buf := make([]byte, int(size))
	C.clGetProgramBuildInfo(prog, b.device, C.CL_PROGRAM_BUILD_LOG, size, unsafe.Pointer(&buf[0]), nil)
	return string(buf)
}

func (b *OpenCLBackend) Synchronize() error {
	if rc := C.clFinish(b.queue); rc != C.CL_SUCCESS {
		return &DispatchError{Kernel: "clFinish", Err: fmt.Errorf("status %d", int(rc))}
	}
	return nil
}

func (b *OpenCLBackend) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	C.clReleaseCommandQueue(b.queue)
	C.clReleaseContext(b.context)
}

type clBuffer struct {
	backend  *OpenCLBackend
	mem      C.cl_mem
	bytes    int
	released bool
}

func (c *clBuffer) Size() int { return c.bytes }

func (c *clBuffer) write(p unsafe.Pointer, bytes int) error {
	if bytes != c.bytes {
		return fmt.Errorf("buffer write: %d bytes into %d bytes", bytes, c.bytes)
	}
	rc := C.clEnqueueWriteBuffer(c.backend.queue, c.mem, C.CL_TRUE, 0, C.size_t(bytes), p, 0, nil, nil)
	if rc != C.CL_SUCCESS {
		return &DispatchError{Kernel: "clEnqueueWriteBuffer", Err: fmt.Errorf("status %d", int(rc))}
	}
	transferBytes.Add(float64(bytes))
	return nil
}

func (c *clBuffer) read(p unsafe.Pointer, bytes int) error {
	if bytes != c.bytes {
		return fmt.Errorf("buffer read: %d bytes from %d bytes", bytes, c.bytes)
	}
	rc := C.clEnqueueReadBuffer(c.backend.queue, c.mem, C.CL_TRUE, 0, C.size_t(bytes), p, 0, nil, nil)
	if rc != C.CL_SUCCESS {
		return &DispatchError{Kernel: "clEnqueueReadBuffer", Err: fmt.Errorf("status %d", int(rc))}
	}
	transferBytes.Add(float64(bytes))
	return nil
}

func (c *clBuffer) WriteFloat32s(src []float32) error {
	return c.write(unsafe.Pointer(&src[0]), len(src)*4)
}

func (c *clBuffer) ReadFloat32s(dst []float32) error {
	return c.read(unsafe.Pointer(&dst[0]), len(dst)*4)
}

func (c *clBuffer) WriteUint8s(src []byte) error {
	return c.write(unsafe.Pointer(&src[0]), len(src))
}

func (c *clBuffer) ReadUint8s(dst []byte) error {
	return c.read(unsafe.Pointer(&dst[0]), len(dst))
}

func (c *clBuffer) Release() {
	if c.released {
		return
	}
	c.released = true
	C.clReleaseMemObject(c.mem)

	c.backend.mu.Lock()
	c.backend.allocated -= int64(c.bytes)
	c.backend.mu.Unlock()
}

type clProgram struct {
	backend       *OpenCLBackend
	program       C.cl_program
	equilibrium   C.cl_kernel
	streamCollide C.cl_kernel
	spec          kernel.Spec
}

func (p *clProgram) release() {
	if p.equilibrium != nil {
		C.clReleaseKernel(p.equilibrium)
	}
	if p.streamCollide != nil {
		C.clReleaseKernel(p.streamCollide)
	}
	C.clReleaseProgram(p.program)
}

func (p *clProgram) setMemArg(k C.cl_kernel, idx int, buf Buffer, name string) error {
	cb, ok := buf.(*clBuffer)
	if !ok {
		return &DispatchError{Kernel: name, Err: fmt.Errorf("foreign buffer %T", buf)}
	}
	rc := C.clSetKernelArg(k, C.cl_uint(idx), C.size_t(unsafe.Sizeof(cb.mem)), unsafe.Pointer(&cb.mem))
	if rc != C.CL_SUCCESS {
		return &DispatchError{Kernel: name, Err: fmt.Errorf("clSetKernelArg %d: status %d", idx, int(rc))}
	}
	return nil
}

func (p *clProgram) enqueue(k C.cl_kernel, name string) error {
	global := C.size_t(p.spec.Nx * p.spec.Ny * p.spec.Nz)
	rc := C.clEnqueueNDRangeKernel(p.backend.queue, k, 1, nil, &global, nil, 0, nil, nil)
	if rc != C.CL_SUCCESS {
		return &DispatchError{Kernel: name, Err: fmt.Errorf("clEnqueueNDRangeKernel: status %d", int(rc))}
	}
	dispatchesTotal.WithLabelValues(name).Inc()
	return nil
}

func (p *clProgram) Equilibrium(f, rho, u Buffer) error {
	const name = kernel.NameEquilibrium
	for i, buf := range []Buffer{f, rho, u} {
		if err := p.setMemArg(p.equilibrium, i, buf, name); err != nil {
			return err
		}
	}
	return p.enqueue(p.equilibrium, name)
}

func (p *clProgram) StreamCollide(f, fNew, rho, u, flags Buffer, omega float32) error {
	const name = kernel.NameStreamCollide
	for i, buf := range []Buffer{f, fNew, rho, u, flags} {
		if err := p.setMemArg(p.streamCollide, i, buf, name); err != nil {
			return err
		}
	}
	cOmega := C.cl_float(omega)
	if rc := C.clSetKernelArg(p.streamCollide, 5, C.size_t(unsafe.Sizeof(cOmega)), unsafe.Pointer(&cOmega)); rc != C.CL_SUCCESS {
		return &DispatchError{Kernel: name, Err: fmt.Errorf("clSetKernelArg omega: status %d", int(rc))}
	}
	return p.enqueue(p.streamCollide, name)
}
