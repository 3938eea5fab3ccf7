package cuda

// RgbaBuffer is the single persistent device allocation that receives the
// colour-converted output. It is reallocated only when the frame
// dimensions change and freed best-effort on Free.
type RgbaBuffer struct {
	drv    *Driver
	ptr    DevicePtr
	width  uint32
	height uint32
	size   int
}

// NewRgbaBuffer allocates width*height*4 bytes of device memory.
func NewRgbaBuffer(drv *Driver, width, height uint32) (*RgbaBuffer, error) {
	size := int(width) * int(height) * 4
	ptr, err := drv.MemAlloc(size)
	if err != nil {
		return nil, err
	}
	return &RgbaBuffer{drv: drv, ptr: ptr, width: width, height: height, size: size}, nil
}

// Matches reports whether the buffer fits a frame of the given dimensions.
func (b *RgbaBuffer) Matches(width, height uint32) bool {
	return b.width == width && b.height == height
}

// Ptr is the device address of the buffer.
func (b *RgbaBuffer) Ptr() DevicePtr { return b.ptr }

// Size is the byte size of the buffer (width*height*4).
func (b *RgbaBuffer) Size() int { return b.size }

// Free releases the device memory. Safe to call more than once.
func (b *RgbaBuffer) Free() error {
	if b.ptr == 0 {
		return nil
	}
	err := b.drv.MemFree(b.ptr)
	b.ptr = 0
	return err
}
