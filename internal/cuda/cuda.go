// Package cuda binds the CUDA driver API at runtime. The driver library
// is never linked statically: Load resolves every entry point by name so
// machines without an NVIDIA GPU can still run the software paths.
package cuda

import (
	"errors"
	"fmt"
	"unsafe"
)

// Result is a CUresult status code. 0 is CUDA_SUCCESS.
type Result uint32

const Success Result = 0

// DevicePtr is a CUdeviceptr — an address in device memory.
type DevicePtr uint64

// Context is an opaque CUcontext handle.
type Context uintptr

// Module is an opaque CUmodule handle.
type Module uintptr

// Function is an opaque CUfunction handle.
type Function uintptr

var (
	// ErrLibraryNotFound means libcuda could not be dlopen'd.
	ErrLibraryNotFound = errors.New("CUDA driver library not found")
	// ErrSymbolNotFound means a required driver entry point is missing.
	ErrSymbolNotFound = errors.New("CUDA driver symbol not found")
)

// Driver is the bound CUDA driver API. All entry points are reentrant
// driver functions; a Driver may be shared across threads.
type Driver struct {
	handle uintptr

	cuInit              func(flags uint32) Result
	cuDeviceGet         func(dev *int32, ordinal int32) Result
	cuDeviceGetName     func(name *byte, nameLen int32, dev int32) Result
	cuCtxCreate         func(ctx *Context, flags uint32, dev int32) Result
	cuCtxDestroy        func(ctx Context) Result
	cuCtxSetCurrent     func(ctx Context) Result
	cuMemAlloc          func(dptr *DevicePtr, size uintptr) Result
	cuMemFree           func(dptr DevicePtr) Result
	cuMemcpyDtoH        func(dst unsafe.Pointer, src DevicePtr, size uintptr) Result
	cuStreamSynchronize func(stream uintptr) Result
	cuModuleLoadData    func(mod *Module, image unsafe.Pointer) Result
	cuModuleGetFunction func(fn *Function, mod Module, name *byte) Result
	cuLaunchKernel      func(fn Function, gridX, gridY, gridZ, blockX, blockY, blockZ, sharedBytes uint32,
		stream uintptr, params *unsafe.Pointer, extra *unsafe.Pointer) Result
}

func errResult(fn string, r Result) error {
	return fmt.Errorf("%s failed: CUDA error %d", fn, uint32(r))
}

// Init initializes the driver. Must be called once before any other call.
func (d *Driver) Init() error {
	if r := d.cuInit(0); r != Success {
		return errResult("cuInit", r)
	}
	return nil
}

// CreateContext creates a context on the given device ordinal and returns
// it together with the device name. The context is current on the calling
// thread after this call.
func (d *Driver) CreateContext(ordinal int) (Context, string, error) {
	var dev int32
	if r := d.cuDeviceGet(&dev, int32(ordinal)); r != Success {
		return 0, "", errResult("cuDeviceGet", r)
	}

	name := make([]byte, 256)
	if r := d.cuDeviceGetName(&name[0], int32(len(name)), dev); r != Success {
		return 0, "", errResult("cuDeviceGetName", r)
	}
	n := 0
	for n < len(name) && name[n] != 0 {
		n++
	}

	var ctx Context
	if r := d.cuCtxCreate(&ctx, 0, dev); r != Success {
		return 0, "", errResult("cuCtxCreate", r)
	}
	return ctx, string(name[:n]), nil
}

// BindContext makes ctx current on the calling thread. The decode worker
// calls this on startup and after every seek re-entry.
func (d *Driver) BindContext(ctx Context) error {
	if r := d.cuCtxSetCurrent(ctx); r != Success {
		return errResult("cuCtxSetCurrent", r)
	}
	return nil
}

// DestroyContext destroys ctx. Best effort; an error is returned for
// logging only.
func (d *Driver) DestroyContext(ctx Context) error {
	if r := d.cuCtxDestroy(ctx); r != Success {
		return errResult("cuCtxDestroy", r)
	}
	return nil
}

// MemAlloc allocates size bytes of device memory.
func (d *Driver) MemAlloc(size int) (DevicePtr, error) {
	var ptr DevicePtr
	if r := d.cuMemAlloc(&ptr, uintptr(size)); r != Success {
		return 0, errResult("cuMemAlloc", r)
	}
	return ptr, nil
}

// MemFree releases device memory from MemAlloc.
func (d *Driver) MemFree(ptr DevicePtr) error {
	if r := d.cuMemFree(ptr); r != Success {
		return errResult("cuMemFree", r)
	}
	return nil
}

// MemcpyDtoH synchronously copies len(dst) bytes from device to host.
func (d *Driver) MemcpyDtoH(dst []byte, src DevicePtr) error {
	if len(dst) == 0 {
		return nil
	}
	if r := d.cuMemcpyDtoH(unsafe.Pointer(&dst[0]), src, uintptr(len(dst))); r != Success {
		return errResult("cuMemcpyDtoH", r)
	}
	return nil
}

// SynchronizeStream blocks until all work queued on the default stream
// has completed.
func (d *Driver) SynchronizeStream() error {
	if r := d.cuStreamSynchronize(0); r != Success {
		return errResult("cuStreamSynchronize", r)
	}
	return nil
}

// LoadModule loads a compiled GPU module (PTX or cubin image). The image
// must be NUL-terminated for PTX text; LoadModule appends one if missing.
func (d *Driver) LoadModule(image []byte) (Module, error) {
	if len(image) == 0 {
		return 0, errors.New("empty module image")
	}
	if image[len(image)-1] != 0 {
		image = append(image, 0)
	}
	var mod Module
	if r := d.cuModuleLoadData(&mod, unsafe.Pointer(&image[0])); r != Success {
		return 0, errResult("cuModuleLoadData", r)
	}
	return mod, nil
}

// GetFunction resolves a kernel entry point from a loaded module.
func (d *Driver) GetFunction(mod Module, name string) (Function, error) {
	cname := append([]byte(name), 0)
	var fn Function
	if r := d.cuModuleGetFunction(&fn, mod, &cname[0]); r != Success {
		return 0, errResult(fmt.Sprintf("cuModuleGetFunction(%q)", name), r)
	}
	return fn, nil
}

// LaunchKernel launches fn on the default stream with the given grid and
// block dimensions. Args must outlive the call; LaunchKernel does not
// synchronize.
func (d *Driver) LaunchKernel(fn Function, grid, block [3]uint32, args *KernelArgs) error {
	r := d.cuLaunchKernel(fn,
		grid[0], grid[1], grid[2],
		block[0], block[1], block[2],
		0, 0, args.pointers(), nil)
	if r != Success {
		return errResult("cuLaunchKernel", r)
	}
	return nil
}
