package nvdec

import "github.com/rs/zerolog/log"

// MappedFrame is a mapped decoded surface: NV12 data in the decoder's
// DPB, readable on the GPU only while the frame is held. Release returns
// the surface to the decoder; the caller must copy the pixels (or launch
// a kernel over them) first. Hardware typically allows only 1-2 frames
// mapped at once.
type MappedFrame struct {
	// DevicePtr addresses the Y plane; the interleaved UV plane follows
	// at Height*Pitch.
	DevicePtr uint64
	Pitch     uint32
	Width     uint32
	Height    uint32
	PTSSecs   float64
	// PictureIndex is the DPB slot this frame occupies.
	PictureIndex int32

	decoder  uintptr
	lib      *Library
	released bool
	consumed bool
}

// UVDevicePtr is the device address of the interleaved UV plane.
func (f *MappedFrame) UVDevicePtr() uint64 {
	return f.DevicePtr + uint64(f.Height)*uint64(f.Pitch)
}

// MarkConsumed records that the pixel data was read. Informational only;
// Release happens regardless.
func (f *MappedFrame) MarkConsumed() { f.consumed = true }

// IsConsumed reports whether MarkConsumed was called.
func (f *MappedFrame) IsConsumed() bool { return f.consumed }

// Release unmaps the surface and frees the DPB slot for reuse. Safe to
// call more than once; an unmap failure is logged, never raised, because
// Release runs on exit paths.
func (f *MappedFrame) Release() {
	if f.released || f.DevicePtr == 0 || f.decoder == 0 {
		return
	}
	f.released = true

	if !f.consumed {
		log.Debug().
			Uint64("dev_ptr", f.DevicePtr).
			Msg("releasing unconsumed mapped frame")
	}

	if r := f.lib.unmapFrame(f.decoder, f.DevicePtr); r != cudaSuccess {
		log.Error().
			Uint32("code", uint32(r)).
			Uint64("dev_ptr", f.DevicePtr).
			Msg("cuvidUnmapVideoFrame64 failed during release")
	}
}
