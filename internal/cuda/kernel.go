package cuda

import "unsafe"

// KernelArgs builds the kernel parameter vector for LaunchKernel. Each
// pushed value is stored at a stable address; the driver reads through
// the pointer vector at launch time.
type KernelArgs struct {
	ptrs []unsafe.Pointer
}

// PushDevicePtr appends a device pointer argument.
func (a *KernelArgs) PushDevicePtr(p DevicePtr) *KernelArgs {
	v := new(uint64)
	*v = uint64(p)
	a.ptrs = append(a.ptrs, unsafe.Pointer(v))
	return a
}

// PushInt32 appends an int32 argument.
func (a *KernelArgs) PushInt32(v int32) *KernelArgs {
	p := new(int32)
	*p = v
	a.ptrs = append(a.ptrs, unsafe.Pointer(p))
	return a
}

// Len returns the number of arguments pushed so far.
func (a *KernelArgs) Len() int {
	return len(a.ptrs)
}

func (a *KernelArgs) pointers() *unsafe.Pointer {
	if len(a.ptrs) == 0 {
		return nil
	}
	return &a.ptrs[0]
}
