package engine

import (
	"fmt"

	"masterselects/internal/cuda"
	"masterselects/internal/nvdec"
)

// NV12 -> RGBA colour conversion. The fast path dispatches the CUDA
// kernel over the mapped surface and reads back only the RGBA result;
// the fallback copies the NV12 planes to the host and converts on CPU.
// Both produce tight RGBA8 in BT.709 with limited-range expansion.

const (
	convertBlockDim = 16
)

// gpuConvert runs the NV12->RGBA kernel over the mapped frame and reads
// the result back to the host. The persistent output buffer is
// reallocated only when the frame dimensions change.
func gpuConvert(drv *cuda.Driver, kernel *convertKernel, frame *nvdec.MappedFrame, buf **cuda.RgbaBuffer) ([]byte, error) {
	width := frame.Width
	height := frame.Height

	if *buf == nil || !(*buf).Matches(width, height) {
		if *buf != nil {
			(*buf).Free()
			*buf = nil
		}
		newBuf, err := cuda.NewRgbaBuffer(drv, width, height)
		if err != nil {
			return nil, fmt.Errorf("allocate RGBA device buffer: %w", err)
		}
		*buf = newBuf
	}
	out := *buf

	// Argument order is fixed by the kernel contract: Y, UV, RGBA out,
	// width, height, Y pitch, UV pitch, output pitch. NVDEC NV12 output
	// shares one pitch between Y and UV; the output is tightly packed.
	var args cuda.KernelArgs
	args.PushDevicePtr(cuda.DevicePtr(frame.DevicePtr)).
		PushDevicePtr(cuda.DevicePtr(frame.UVDevicePtr())).
		PushDevicePtr(out.Ptr()).
		PushInt32(int32(width)).
		PushInt32(int32(height)).
		PushInt32(int32(frame.Pitch)).
		PushInt32(int32(frame.Pitch)).
		PushInt32(int32(width) * 4)

	grid := [3]uint32{
		(width + convertBlockDim - 1) / convertBlockDim,
		(height + convertBlockDim - 1) / convertBlockDim,
		1,
	}
	block := [3]uint32{convertBlockDim, convertBlockDim, 1}

	if err := drv.LaunchKernel(kernel.fn, grid, block, &args); err != nil {
		return nil, fmt.Errorf("NV12->RGBA kernel launch: %w", err)
	}
	if err := drv.SynchronizeStream(); err != nil {
		return nil, fmt.Errorf("stream synchronize: %w", err)
	}

	host := make([]byte, out.Size())
	if err := drv.MemcpyDtoH(host, out.Ptr()); err != nil {
		return nil, fmt.Errorf("RGBA readback: %w", err)
	}
	return host, nil
}

// cpuConvert copies the combined NV12 planes (Y full height, UV half
// height, one pitch) from the device and converts on the CPU.
func cpuConvert(drv *cuda.Driver, frame *nvdec.MappedFrame) ([]byte, error) {
	pitch := int(frame.Pitch)
	height := int(frame.Height)
	nv12 := make([]byte, pitch*height*3/2)

	if err := drv.MemcpyDtoH(nv12, cuda.DevicePtr(frame.DevicePtr)); err != nil {
		return nil, fmt.Errorf("NV12 readback: %w", err)
	}

	ySize := pitch * height
	return nv12ToRGBA(nv12[:ySize], nv12[ySize:], frame.Width, frame.Height, frame.Pitch, frame.Pitch)
}

// nv12ToRGBA converts planar NV12 to tight RGBA8 using BT.709 with
// limited-range expansion: luma is clamped to [16,235] and chroma to
// [16,240] before de-scaling.
func nv12ToRGBA(yPlane, uvPlane []byte, width, height, yPitch, uvPitch uint32) ([]byte, error) {
	w := int(width)
	h := int(height)
	yp := int(yPitch)
	uvp := int(uvPitch)

	if len(yPlane) < yp*h || len(uvPlane) < uvp*(h/2) {
		return nil, fmt.Errorf("NV12 plane too small: y=%d uv=%d for %dx%d pitch %d", len(yPlane), len(uvPlane), w, h, yp)
	}

	out := make([]byte, w*h*4)
	for y := 0; y < h; y++ {
		yRow := yPlane[y*yp:]
		uvRow := uvPlane[(y/2)*uvp:]
		for x := 0; x < w; x++ {
			c := float64(clampRange(yRow[x], 16, 235)-16) * (255.0 / 219.0)
			u := float64(clampRange(uvRow[(x/2)*2], 16, 240)) - 128
			v := float64(clampRange(uvRow[(x/2)*2+1], 16, 240)) - 128

			r := c + 1.793*v
			g := c - 0.213*u - 0.533*v
			b := c + 2.112*u

			offset := (y*w + x) * 4
			out[offset] = clamp255(r)
			out[offset+1] = clamp255(g)
			out[offset+2] = clamp255(b)
			out[offset+3] = 255
		}
	}
	return out, nil
}

func clampRange(v, lo, hi byte) byte {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clamp255(v float64) byte {
	if v <= 0 {
		return 0
	}
	if v >= 255 {
		return 255
	}
	return byte(v + 0.5)
}
