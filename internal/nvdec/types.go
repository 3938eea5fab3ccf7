// Package nvdec wraps the NVIDIA video decode API (nvcuvid): a
// callback-driven bitstream parser plus a hardware decoder with a
// fixed decoded-picture-buffer. The library is bound at runtime; see
// LoadLibrary.
package nvdec

import "masterselects/internal/types"

// cuResult is a CUresult status code from the decode API.
type cuResult uint32

const cudaSuccess cuResult = 0

// culong mirrors the `unsigned long` fields of cuviddec.h, which are
// 8 bytes on LP64 targets (the only ones the loader supports).
type culong = uint64

// cudaVideoCodec values from cuviddec.h.
const (
	codecH264 int32 = 4
	codecHEVC int32 = 8
	codecVP9  int32 = 10
	codecAV1  int32 = 11
)

// cudaVideoSurfaceFormat values.
const (
	surfaceNV12 int32 = 0
	surfaceP016 int32 = 1
)

// cudaVideoChromaFormat values.
const (
	chroma420 int32 = 1
)

// cudaVideoDeinterlaceMode values.
const (
	deinterlaceWeave    int32 = 0
	deinterlaceAdaptive int32 = 2
)

// Source packet flags from nvcuvid.h.
const (
	pktEndOfStream   uint64 = 0x01
	pktTimestamp     uint64 = 0x02
	pktDiscontinuity uint64 = 0x04
	pktEndOfPicture  uint64 = 0x08
	pktNotifyEOS     uint64 = 0x10
)

// timeScale is the parser clock: PTS seconds are carried through the
// parser as integer 10MHz ticks and scaled back on display.
const timeScale = 10_000_000

func secsToTicks(secs float64) int64 { return int64(secs * timeScale) }
func ticksToSecs(ticks int64) float64 { return float64(ticks) / timeScale }

// codecToCuvid maps a stream codec onto the decoder's native identifier.
func codecToCuvid(c types.CodecID) (int32, bool) {
	switch c {
	case types.CodecH264:
		return codecH264, true
	case types.CodecHEVC:
		return codecHEVC, true
	case types.CodecVP9:
		return codecVP9, true
	case types.CodecAV1:
		return codecAV1, true
	}
	return 0, false
}

// VideoFormat mirrors CUVIDEOFORMAT: the sequence-header description the
// parser hands to the sequence callback.
type VideoFormat struct {
	Codec                int32
	FrameRateNum         uint32
	FrameRateDen         uint32
	ProgressiveSequence  uint8
	BitDepthLumaMinus8   uint8
	BitDepthChromaMinus8 uint8
	MinNumDecodeSurfaces uint8
	CodedWidth           uint32
	CodedHeight          uint32
	DisplayAreaLeft      int32
	DisplayAreaTop       int32
	DisplayAreaRight     int32
	DisplayAreaBottom    int32
	ChromaFormat         int32
	Bitrate              uint32
	DisplayAspectRatioX  int32
	DisplayAspectRatioY  int32
	VideoSignalDescFlags uint32
	SeqHdrDataLength     uint32
}

// decodeCreateInfo mirrors CUVIDDECODECREATEINFO.
type decodeCreateInfo struct {
	Width             culong
	Height            culong
	NumDecodeSurfaces culong
	CodecType         int32
	ChromaFormat      int32
	CreationFlags     culong
	BitDepthMinus8    culong
	IntraDecodeOnly   culong
	MaxWidth          culong
	MaxHeight         culong
	Reserved1         culong
	DisplayLeft       int16
	DisplayTop        int16
	DisplayRight      int16
	DisplayBottom     int16
	OutputFormat      int32
	DeinterlaceMode   int32
	TargetWidth       culong
	TargetHeight      culong
	NumOutputSurfaces culong
	VidLock           uintptr
	TargetRectLeft    int16
	TargetRectTop     int16
	TargetRectRight   int16
	TargetRectBottom  int16
	EnableHistogram   culong
	Reserved2         [4]culong
}

// procParams mirrors CUVIDPROCPARAMS, passed to the frame map call.
type procParams struct {
	ProgressiveFrame int32
	SecondField      int32
	TopFieldFirst    int32
	UnpairedField    int32
	ReservedFlags    uint32
	ReservedZero     uint32
	RawInputDptr     uint64
	RawInputPitch    uint32
	RawInputFormat   uint32
	RawOutputDptr    uint64
	RawOutputPitch   uint32
	RawOutputFormat  uint32
	HistogramDptr    uint64
	Reserved         [12]uint32
}

// parserDispInfo mirrors CUVIDPARSERDISPINFO.
type parserDispInfo struct {
	PictureIndex     int32
	ProgressiveFrame int32
	TopFieldFirst    int32
	RepeatFirstField int32
	Timestamp        int64
}

// parserParams mirrors CUVIDPARSERPARAMS.
type parserParams struct {
	CodecType            int32
	MaxNumDecodeSurfaces uint32
	ClockRate            uint32
	ErrorThreshold       uint32
	MaxDisplayDelay      uint32
	Reserved1            [5]uint32
	UserData             uintptr
	PfnSequenceCallback  uintptr
	PfnDecodePicture     uintptr
	PfnDisplayPicture    uintptr
	Reserved2            [5]uintptr
	PfnGetOperatingPoint uintptr
	PfnGetSeiMsg         uintptr
	Reserved3            [3]uintptr
}

// sourceDataPacket mirrors CUVIDSOURCEDATAPACKET.
type sourceDataPacket struct {
	Flags       culong
	PayloadSize culong
	Payload     uintptr
	Timestamp   int64
}

// displayInfo is one display-ready descriptor queued by the display
// callback and drained by the session consumer.
type displayInfo struct {
	pictureIndex     int32
	progressiveFrame bool
	topFieldFirst    bool
	timestamp        int64
}
