package types

import (
	"errors"
	"fmt"
)

// ErrInvalidSession is returned when a queued display descriptor is
// mapped while no hardware decoder exists (no sequence header has
// created one). An empty queue is not an error.
var ErrInvalidSession = errors.New("decode session not ready: no sequence header parsed yet")

// UnsupportedCodecError means the stream's codec cannot be mapped onto
// the hardware decoder.
type UnsupportedCodecError struct {
	Codec CodecID
}

func (e *UnsupportedCodecError) Error() string {
	return fmt.Sprintf("unsupported codec: %s", e.Codec)
}

// HwDecoderInitError means the hardware decoder or bitstream parser
// could not be created. Fatal for the current open.
type HwDecoderInitError struct {
	Codec  CodecID
	Reason string
}

func (e *HwDecoderInitError) Error() string {
	return fmt.Sprintf("hardware decoder init failed for %s: %s", e.Codec, e.Reason)
}

// DecodeFailedError is a per-packet decode failure. Non-fatal; the next
// packet may still decode.
type DecodeFailedError struct {
	Frame  uint64
	Reason string
}

func (e *DecodeFailedError) Error() string {
	return fmt.Sprintf("decode failed at frame %d: %s", e.Frame, e.Reason)
}
