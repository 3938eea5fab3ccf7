package nvdec

import (
	"fmt"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/rs/zerolog/log"
)

// callbackState is shared between the parser callbacks and the session.
// The parser may invoke callbacks from a vendor-managed thread, so all
// access goes through mu. Callbacks never raise; they record an error
// and return failure, and the submitter surfaces it after parse.
type callbackState struct {
	mu sync.Mutex

	lib     *Library
	decoder uintptr

	displayQueue []displayInfo
	format       *VideoFormat

	width  uint32
	height uint32
	// Requested minimum DPB size. The sequence callback creates the
	// decoder with the larger of this and the parser's minimum plus
	// headroom for the display pipeline; this field is not changed.
	numDecodeSurfaces uint32

	lastErr    string
	initFailed bool

	framesDecoded   uint64
	framesDisplayed uint64
}

// The parser carries an opaque user-data word. Passing Go pointers
// through foreign code is not allowed, so sessions register their state
// under an integer key and the trampolines look it up here.
var (
	cbStates sync.Map // uintptr -> *callbackState
	cbNextID atomic.Uintptr
)

func registerState(st *callbackState) uintptr {
	key := cbNextID.Add(1)
	cbStates.Store(key, st)
	return key
}

func unregisterState(key uintptr) {
	cbStates.Delete(key)
}

func lookupState(key uintptr) *callbackState {
	v, ok := cbStates.Load(key)
	if !ok {
		return nil
	}
	return v.(*callbackState)
}

// sequenceTrampoline fires on every sequence header, including mid-stream
// resolution changes. It (re)creates the decoder and returns the DPB size
// the parser should assume, or 0 on error.
func sequenceTrampoline(userData, formatPtr uintptr) uintptr {
	st := lookupState(userData)
	if st == nil || formatPtr == 0 {
		return 0
	}
	st.mu.Lock()
	defer st.mu.Unlock()

	fmtIn := (*VideoFormat)(unsafe.Pointer(formatPtr))
	fmtCopy := *fmtIn
	st.format = &fmtCopy

	log.Info().
		Int32("codec", fmtCopy.Codec).
		Uint32("coded_width", fmtCopy.CodedWidth).
		Uint32("coded_height", fmtCopy.CodedHeight).
		Uint8("bit_depth", fmtCopy.BitDepthLumaMinus8+8).
		Uint8("min_surfaces", fmtCopy.MinNumDecodeSurfaces).
		Msg("sequence header: new coded sequence")

	// Output dimensions come from the display rectangle; fall back to the
	// coded dimensions when the rectangle is empty.
	dispW := fmtCopy.DisplayAreaRight - fmtCopy.DisplayAreaLeft
	dispH := fmtCopy.DisplayAreaBottom - fmtCopy.DisplayAreaTop
	if dispW > 0 {
		st.width = uint32(dispW)
	} else {
		st.width = fmtCopy.CodedWidth
	}
	if dispH > 0 {
		st.height = uint32(dispH)
	} else {
		st.height = fmtCopy.CodedHeight
	}

	// A decoder from a previous sequence means a mid-stream resolution
	// change: it must be torn down before the replacement is created.
	if st.decoder != 0 {
		log.Debug().Msg("destroying decoder for resolution change")
		if r := st.lib.destroyDecoder(st.decoder); r != cudaSuccess {
			log.Warn().Uint32("code", uint32(r)).Msg("failed to destroy old decoder")
		}
		st.decoder = 0
	}

	// DPB: the parser minimum plus headroom for frames waiting in the
	// display queue, never below what the session requested.
	numSurfaces := uint32(fmtCopy.MinNumDecodeSurfaces) + 4
	if st.numDecodeSurfaces > numSurfaces {
		numSurfaces = st.numDecodeSurfaces
	}

	outputFormat := surfaceNV12
	if fmtCopy.BitDepthLumaMinus8 > 0 {
		outputFormat = surfaceP016
	}

	ci := decodeCreateInfo{
		Width:             culong(fmtCopy.CodedWidth),
		Height:            culong(fmtCopy.CodedHeight),
		NumDecodeSurfaces: culong(numSurfaces),
		CodecType:         fmtCopy.Codec,
		ChromaFormat:      fmtCopy.ChromaFormat,
		BitDepthMinus8:    culong(fmtCopy.BitDepthLumaMinus8),
		MaxWidth:          culong(fmtCopy.CodedWidth),
		MaxHeight:         culong(fmtCopy.CodedHeight),
		DisplayLeft:       int16(fmtCopy.DisplayAreaLeft),
		DisplayTop:        int16(fmtCopy.DisplayAreaTop),
		DisplayRight:      int16(fmtCopy.DisplayAreaRight),
		DisplayBottom:     int16(fmtCopy.DisplayAreaBottom),
		OutputFormat:      outputFormat,
		DeinterlaceMode:   deinterlaceAdaptive,
		TargetWidth:       culong(st.width),
		TargetHeight:      culong(st.height),
		NumOutputSurfaces: 2,
	}

	if r := st.lib.createDecoder(&st.decoder, &ci); r != cudaSuccess {
		st.decoder = 0
		st.lastErr = fmt.Sprintf("cuvidCreateDecoder failed: error %d", uint32(r))
		st.initFailed = true
		log.Error().Uint32("code", uint32(r)).Msg("cuvidCreateDecoder failed")
		return 0
	}

	log.Info().
		Uint32("width", st.width).
		Uint32("height", st.height).
		Uint32("surfaces", numSurfaces).
		Int32("output_format", outputFormat).
		Msg("hardware decoder created")

	return uintptr(numSurfaces)
}

// decodePictureTrampoline forwards a complete picture to the decoder.
func decodePictureTrampoline(userData, picParams uintptr) uintptr {
	st := lookupState(userData)
	if st == nil {
		return 0
	}
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.decoder == 0 {
		st.lastErr = "decode callback invoked before decoder was created"
		return 0
	}
	if r := st.lib.decodePicture(st.decoder, picParams); r != cudaSuccess {
		st.lastErr = fmt.Sprintf("cuvidDecodePicture failed: error %d", uint32(r))
		log.Error().Uint32("code", uint32(r)).Msg("cuvidDecodePicture failed")
		return 0
	}
	st.framesDecoded++
	return 1
}

// displayPictureTrampoline queues a display-ready descriptor. A null
// descriptor signals flush/end-of-stream and is a successful no-op.
func displayPictureTrampoline(userData, dispInfoPtr uintptr) uintptr {
	st := lookupState(userData)
	if st == nil {
		return 0
	}
	st.mu.Lock()
	defer st.mu.Unlock()

	if dispInfoPtr == 0 {
		log.Debug().Msg("display callback: flush / end-of-stream")
		return 1
	}

	info := (*parserDispInfo)(unsafe.Pointer(dispInfoPtr))
	st.displayQueue = append(st.displayQueue, displayInfo{
		pictureIndex:     info.PictureIndex,
		progressiveFrame: info.ProgressiveFrame != 0,
		topFieldFirst:    info.TopFieldFirst != 0,
		timestamp:        info.Timestamp,
	})
	st.framesDisplayed++
	return 1
}
