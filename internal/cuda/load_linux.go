//go:build linux

package cuda

import (
	"fmt"

	"github.com/ebitengine/purego"
)

// Load opens the CUDA driver library and resolves every entry point the
// pipeline needs. Resolution is all-or-nothing: a single missing symbol
// drops the handle and fails with ErrSymbolNotFound.
func Load() (*Driver, error) {
	handle, err := purego.Dlopen("libcuda.so.1", purego.RTLD_NOW|purego.RTLD_GLOBAL)
	if err != nil {
		handle, err = purego.Dlopen("libcuda.so", purego.RTLD_NOW|purego.RTLD_GLOBAL)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLibraryNotFound, err)
	}

	d := &Driver{handle: handle}

	// Versioned entry points first (the _v2 forms supersede the originals
	// in every driver new enough to carry NVDEC).
	bindings := []struct {
		fptr  any
		names []string
	}{
		{&d.cuInit, []string{"cuInit"}},
		{&d.cuDeviceGet, []string{"cuDeviceGet"}},
		{&d.cuDeviceGetName, []string{"cuDeviceGetName"}},
		{&d.cuCtxCreate, []string{"cuCtxCreate_v2", "cuCtxCreate"}},
		{&d.cuCtxDestroy, []string{"cuCtxDestroy_v2", "cuCtxDestroy"}},
		{&d.cuCtxSetCurrent, []string{"cuCtxSetCurrent"}},
		{&d.cuMemAlloc, []string{"cuMemAlloc_v2", "cuMemAlloc"}},
		{&d.cuMemFree, []string{"cuMemFree_v2", "cuMemFree"}},
		{&d.cuMemcpyDtoH, []string{"cuMemcpyDtoH_v2", "cuMemcpyDtoH"}},
		{&d.cuStreamSynchronize, []string{"cuStreamSynchronize"}},
		{&d.cuModuleLoadData, []string{"cuModuleLoadData"}},
		{&d.cuModuleGetFunction, []string{"cuModuleGetFunction"}},
		{&d.cuLaunchKernel, []string{"cuLaunchKernel"}},
	}

	for _, b := range bindings {
		name, ok := resolveName(handle, b.names)
		if !ok {
			purego.Dlclose(handle)
			return nil, fmt.Errorf("%w: %s", ErrSymbolNotFound, b.names[0])
		}
		purego.RegisterLibFunc(b.fptr, handle, name)
	}

	return d, nil
}

func resolveName(handle uintptr, names []string) (string, bool) {
	for _, n := range names {
		if addr, err := purego.Dlsym(handle, n); err == nil && addr != 0 {
			return n, true
		}
	}
	return "", false
}
