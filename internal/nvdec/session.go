package nvdec

import (
	"fmt"
	"runtime"
	"unsafe"

	"github.com/rs/zerolog/log"

	"masterselects/internal/types"
)

// Session owns one bitstream parser and at most one hardware decoder.
// The decoder is created lazily by the sequence callback when the first
// sequence header is parsed; IsReady reports false until then.
//
// A Session must be driven from a single decode thread. The callback
// state is still lock-protected because the parser may invoke callbacks
// from an internal thread.
type Session struct {
	parser   uintptr
	state    *callbackState
	stateKey uintptr
	lib      *Library
	codec    types.CodecID
}

// Stats is a snapshot of session counters.
type Stats struct {
	FramesDecoded   uint64
	FramesDisplayed uint64
	PendingFrames   int
	DecoderReady    bool
	Width           uint32
	Height          uint32
}

// NewSession creates the parser for codec. minSurfaces is the requested
// minimum DPB size (clamped to [8, 32]); maxDisplayDelay is the maximum
// display reorder depth, 0 for low latency.
func NewSession(lib *Library, codec types.CodecID, minSurfaces, maxDisplayDelay uint32) (*Session, error) {
	cuvidCodec, ok := codecToCuvid(codec)
	if !ok {
		return nil, &types.UnsupportedCodecError{Codec: codec}
	}

	if minSurfaces < 8 {
		minSurfaces = 8
	} else if minSurfaces > 32 {
		minSurfaces = 32
	}

	st := &callbackState{
		lib:               lib,
		numDecodeSurfaces: minSurfaces,
		displayQueue:      make([]displayInfo, 0, 8),
	}
	key := registerState(st)

	params := parserParams{
		CodecType:            cuvidCodec,
		MaxNumDecodeSurfaces: minSurfaces,
		MaxDisplayDelay:      maxDisplayDelay,
		UserData:             key,
		PfnSequenceCallback:  lib.seqCB,
		PfnDecodePicture:     lib.decodeCB,
		PfnDisplayPicture:    lib.displayCB,
	}

	var parser uintptr
	if r := lib.createParser(&parser, &params); r != cudaSuccess {
		unregisterState(key)
		return nil, &types.HwDecoderInitError{
			Codec:  codec,
			Reason: fmt.Sprintf("cuvidCreateVideoParser failed: error %d", uint32(r)),
		}
	}

	log.Info().
		Stringer("codec", codec).
		Uint32("surfaces", minSurfaces).
		Uint32("display_delay", maxDisplayDelay).
		Msg("decode parser created")

	return &Session{
		parser:   parser,
		state:    st,
		stateKey: key,
		lib:      lib,
		codec:    codec,
	}, nil
}

// ParseData feeds one compressed packet to the parser. The parser works
// synchronously, invoking the callbacks before returning, so the packet
// payload only needs to stay valid across this call. Callback errors are
// surfaced here as the packet's decode error.
func (s *Session) ParseData(data []byte, ptsSecs float64) error {
	s.state.mu.Lock()
	s.state.lastErr = ""
	s.state.mu.Unlock()

	pkt := sourceDataPacket{
		Flags:       culong(pktTimestamp),
		PayloadSize: culong(len(data)),
		Timestamp:   secsToTicks(ptsSecs),
	}
	if len(data) > 0 {
		pkt.Payload = uintptr(unsafe.Pointer(&data[0]))
	}

	r := s.lib.parseData(s.parser, &pkt)
	runtime.KeepAlive(data)

	if r != cudaSuccess {
		return &types.DecodeFailedError{
			Reason: fmt.Sprintf("cuvidParseVideoData failed: error %d", uint32(r)),
		}
	}
	return s.takeCallbackError()
}

// Flush sends a zero-length end-of-stream packet, draining the parser's
// reorder buffer through the display callback. The parser stays usable
// afterwards.
func (s *Session) Flush() error {
	pkt := sourceDataPacket{Flags: culong(pktEndOfStream)}
	if r := s.lib.parseData(s.parser, &pkt); r != cudaSuccess {
		return &types.DecodeFailedError{
			Reason: fmt.Sprintf("cuvidParseVideoData (flush) failed: error %d", uint32(r)),
		}
	}
	return nil
}

// Reset prepares the session for a seek: a discontinuity packet resets
// the parser's bitstream state and the display queue is discarded. The
// decoder is kept alive; recreating it on every seek would cost an order
// of magnitude more than the discontinuity.
func (s *Session) Reset() error {
	s.state.mu.Lock()
	discarded := len(s.state.displayQueue)
	s.state.displayQueue = s.state.displayQueue[:0]
	s.state.lastErr = ""
	s.state.mu.Unlock()
	if discarded > 0 {
		log.Debug().Int("discarded", discarded).Msg("discarded pending frames during reset")
	}

	pkt := sourceDataPacket{Flags: culong(pktDiscontinuity)}
	if r := s.lib.parseData(s.parser, &pkt); r != cudaSuccess {
		return &types.DecodeFailedError{
			Reason: fmt.Sprintf("cuvidParseVideoData (discontinuity) failed: error %d", uint32(r)),
		}
	}
	return nil
}

// HasFrames reports whether a display-ready frame is queued.
func (s *Session) HasFrames() bool {
	s.state.mu.Lock()
	defer s.state.mu.Unlock()
	return len(s.state.displayQueue) > 0
}

// PendingFrames is the number of display-ready descriptors queued.
func (s *Session) PendingFrames() int {
	s.state.mu.Lock()
	defer s.state.mu.Unlock()
	return len(s.state.displayQueue)
}

// PopAndMapNext pops the oldest display-ready descriptor and maps it
// into a surface guard. Returns (nil, nil) whenever no frame is queued,
// including before the first sequence header; types.ErrInvalidSession
// is returned only when a descriptor is queued but no decoder exists.
// Holding several guards at once is possible but most hardware maps only
// 1-2 surfaces; map one, consume, release, then map the next.
func (s *Session) PopAndMapNext() (*MappedFrame, error) {
	s.state.mu.Lock()
	if len(s.state.displayQueue) == 0 {
		s.state.mu.Unlock()
		return nil, nil
	}
	info := s.state.displayQueue[0]
	s.state.displayQueue = s.state.displayQueue[1:]

	if s.state.decoder == 0 {
		s.state.mu.Unlock()
		return nil, types.ErrInvalidSession
	}
	decoder := s.state.decoder
	width := s.state.width
	height := s.state.height
	// Release the lock for the map call itself: the GPU roundtrip must
	// not stall a callback thread.
	s.state.mu.Unlock()

	var devPtr uint64
	var pitch uint32
	vpp := procParams{
		ProgressiveFrame: boolToInt32(info.progressiveFrame),
		TopFieldFirst:    boolToInt32(info.topFieldFirst),
	}

	if r := s.lib.mapFrame(decoder, info.pictureIndex, &devPtr, &pitch, &vpp); r != cudaSuccess {
		return nil, &types.DecodeFailedError{
			Frame:  uint64(info.pictureIndex),
			Reason: fmt.Sprintf("cuvidMapVideoFrame64 failed: error %d", uint32(r)),
		}
	}

	log.Debug().
		Uint64("dev_ptr", devPtr).
		Uint32("pitch", pitch).
		Int32("pic_idx", info.pictureIndex).
		Int64("pts_ticks", info.timestamp).
		Msg("mapped decoded frame")

	return &MappedFrame{
		DevicePtr:    devPtr,
		Pitch:        pitch,
		Width:        width,
		Height:       height,
		PTSSecs:      ticksToSecs(info.timestamp),
		PictureIndex: info.pictureIndex,
		decoder:      decoder,
		lib:          s.lib,
	}, nil
}

// Resolution is the current output size (0x0 before the first sequence).
func (s *Session) Resolution() (uint32, uint32) {
	s.state.mu.Lock()
	defer s.state.mu.Unlock()
	return s.state.width, s.state.height
}

// IsReady reports whether the first sequence header has created the
// decoder.
func (s *Session) IsReady() bool {
	s.state.mu.Lock()
	defer s.state.mu.Unlock()
	return s.state.decoder != 0
}

// Codec is the codec this session parses.
func (s *Session) Codec() types.CodecID { return s.codec }

// Stats returns a snapshot of the session counters.
func (s *Session) Stats() Stats {
	s.state.mu.Lock()
	defer s.state.mu.Unlock()
	return Stats{
		FramesDecoded:   s.state.framesDecoded,
		FramesDisplayed: s.state.framesDisplayed,
		PendingFrames:   len(s.state.displayQueue),
		DecoderReady:    s.state.decoder != 0,
		Width:           s.state.width,
		Height:          s.state.height,
	}
}

// Close tears the session down. The parser is destroyed first and
// outside the state lock: its final callbacks may reference the decoder,
// and a vendor parser that re-enters callbacks during destroy must not
// deadlock against the lock. The display queue is discarded before the
// decoder goes away because its descriptors reference DPB slots.
func (s *Session) Close() {
	if s.parser != 0 {
		if r := s.lib.destroyParser(s.parser); r != cudaSuccess {
			log.Error().Uint32("code", uint32(r)).Msg("failed to destroy video parser")
		}
		s.parser = 0
	}

	s.state.mu.Lock()
	s.state.displayQueue = nil
	if s.state.decoder != 0 {
		if r := s.lib.destroyDecoder(s.state.decoder); r != cudaSuccess {
			log.Error().Uint32("code", uint32(r)).Msg("failed to destroy decoder")
		}
		s.state.decoder = 0
	}
	framesDecoded := s.state.framesDecoded
	framesDisplayed := s.state.framesDisplayed
	s.state.mu.Unlock()

	unregisterState(s.stateKey)

	log.Info().
		Stringer("codec", s.codec).
		Uint64("frames_decoded", framesDecoded).
		Uint64("frames_displayed", framesDisplayed).
		Msg("decode session closed")
}

// takeCallbackError surfaces an error a callback recorded during the
// last parse call.
func (s *Session) takeCallbackError() error {
	s.state.mu.Lock()
	defer s.state.mu.Unlock()
	if s.state.lastErr == "" {
		return nil
	}
	err := s.state.lastErr
	if s.state.initFailed {
		s.state.initFailed = false
		s.state.lastErr = ""
		return &types.HwDecoderInitError{Codec: s.codec, Reason: err}
	}
	s.state.lastErr = ""
	return &types.DecodeFailedError{Frame: s.state.framesDecoded, Reason: err}
}

func boolToInt32(b bool) int32 {
	if b {
		return 1
	}
	return 0
}
