package nvdec

import "errors"

var (
	// ErrLibraryNotFound means the nvcuvid shared library is not present.
	ErrLibraryNotFound = errors.New("nvcuvid library not found")
	// ErrSymbolNotFound means a required decode entry point is missing.
	// Resolution is all-or-nothing; the handle is dropped on failure.
	ErrSymbolNotFound = errors.New("nvcuvid symbol not found")
)

// Library is the bound hardware-decode API. All entry points are
// reentrant driver functions; a Library may be shared across threads
// and is read-only after LoadLibrary returns.
type Library struct {
	handle uintptr

	createDecoder  func(out *uintptr, ci *decodeCreateInfo) cuResult
	destroyDecoder func(dec uintptr) cuResult
	decodePicture  func(dec uintptr, picParams uintptr) cuResult
	mapFrame       func(dec uintptr, picIdx int32, devPtr *uint64, pitch *uint32, vpp *procParams) cuResult
	unmapFrame     func(dec uintptr, devPtr uint64) cuResult
	createParser   func(out *uintptr, params *parserParams) cuResult
	destroyParser  func(parser uintptr) cuResult
	parseData      func(parser uintptr, pkt *sourceDataPacket) cuResult

	// Trampolines handed to the parser at creation time. Registered
	// once per load; they dispatch on the user-data handle.
	seqCB     uintptr
	decodeCB  uintptr
	displayCB uintptr
}
