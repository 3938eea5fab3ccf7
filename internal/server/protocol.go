package server

import (
	"encoding/binary"
	"errors"
)

// Wire protocol between the frame server and external preview UIs.
// Text messages carry JSON commands and responses; binary messages
// carry one RGBA frame behind a fixed 16-byte little-endian header.

// magic tags every binary frame message.
var magic = [2]byte{'M', 'S'}

// MessageType discriminates binary messages.
type MessageType byte

const (
	// MsgFrame is a decoded RGBA frame.
	MsgFrame MessageType = 1
)

// Frame header flags.
const (
	// FlagCompressed marks a zlib-compressed payload.
	FlagCompressed byte = 1 << 0
	// FlagScaled marks a payload downscaled from the source frame.
	FlagScaled byte = 1 << 1
	// FlagJPEG marks a JPEG payload instead of raw RGBA.
	FlagJPEG byte = 1 << 2
)

// HeaderSize is the fixed binary header length.
const HeaderSize = 16

// FrameHeader precedes every binary frame payload.
type FrameHeader struct {
	MsgType   MessageType
	Flags     byte
	Width     uint16
	Height    uint16
	FrameNum  uint32
	RequestID uint32
}

var errBadHeader = errors.New("bad frame header")

// Encode renders the header into its 16-byte wire form.
func (h FrameHeader) Encode() [HeaderSize]byte {
	var buf [HeaderSize]byte
	buf[0] = magic[0]
	buf[1] = magic[1]
	buf[2] = byte(h.MsgType)
	buf[3] = h.Flags
	binary.LittleEndian.PutUint16(buf[4:6], h.Width)
	binary.LittleEndian.PutUint16(buf[6:8], h.Height)
	binary.LittleEndian.PutUint32(buf[8:12], h.FrameNum)
	binary.LittleEndian.PutUint32(buf[12:16], h.RequestID)
	return buf
}

// DecodeFrameHeader parses the wire form, checking length and magic.
func DecodeFrameHeader(buf []byte) (FrameHeader, error) {
	if len(buf) < HeaderSize {
		return FrameHeader{}, errBadHeader
	}
	if buf[0] != magic[0] || buf[1] != magic[1] {
		return FrameHeader{}, errBadHeader
	}
	return FrameHeader{
		MsgType:   MessageType(buf[2]),
		Flags:     buf[3],
		Width:     binary.LittleEndian.Uint16(buf[4:6]),
		Height:    binary.LittleEndian.Uint16(buf[6:8]),
		FrameNum:  binary.LittleEndian.Uint32(buf[8:12]),
		RequestID: binary.LittleEndian.Uint32(buf[12:16]),
	}, nil
}

// encodeFrameMessage builds one binary frame message: header followed
// by the tight RGBA payload.
func encodeFrameMessage(data []byte, width, height uint32, frameNum uint32) []byte {
	h := FrameHeader{
		MsgType:  MsgFrame,
		Width:    uint16(width),
		Height:   uint16(height),
		FrameNum: frameNum,
	}
	head := h.Encode()
	out := make([]byte, 0, HeaderSize+len(data))
	out = append(out, head[:]...)
	return append(out, data...)
}

// Command is a JSON request from a client.
type Command struct {
	Cmd  string  `json:"cmd"`
	ID   string  `json:"id,omitempty"`
	Path string  `json:"path,omitempty"`
	Time float64 `json:"time,omitempty"`
}

// Response answers one command.
type Response struct {
	ID     string  `json:"id,omitempty"`
	OK     bool    `json:"ok"`
	Error  string  `json:"error,omitempty"`
	Status *Status `json:"status,omitempty"`
}

// Status describes the pipeline for UI display.
type Status struct {
	State        string  `json:"state"`
	File         string  `json:"file,omitempty"`
	DurationSecs float64 `json:"duration_secs"`
	PositionSecs float64 `json:"position_secs"`
	Width        uint32  `json:"width,omitempty"`
	Height       uint32  `json:"height,omitempty"`
	Gpu          string  `json:"gpu"`
	HwDecode     bool    `json:"hw_decode"`
}
