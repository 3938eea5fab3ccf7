package nvdec

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"masterselects/internal/types"
)

// fakeParser simulates the vendor parser: ParseData drives the session
// callbacks synchronously the way cuvidParseVideoData does, so the whole
// session state machine is exercised without hardware.
type fakeParser struct {
	lib *Library

	userData uintptr
	format   VideoFormat

	nextPicIdx   int32
	nextPTS      int64
	decodeCalls  int
	mapCalls     int
	unmapCalls   int
	destroyCalls int
	failCreate   bool
	seenSequence bool
}

func newFakeLibrary(fp *fakeParser) *Library {
	lib := &Library{}
	fp.lib = lib

	lib.createParser = func(out *uintptr, params *parserParams) cuResult {
		fp.userData = params.UserData
		*out = 1
		return cudaSuccess
	}
	lib.destroyParser = func(parser uintptr) cuResult { return cudaSuccess }

	lib.createDecoder = func(out *uintptr, ci *decodeCreateInfo) cuResult {
		if fp.failCreate {
			return 100
		}
		*out = 2
		return cudaSuccess
	}
	lib.destroyDecoder = func(dec uintptr) cuResult {
		fp.destroyCalls++
		return cudaSuccess
	}
	lib.decodePicture = func(dec uintptr, picParams uintptr) cuResult {
		fp.decodeCalls++
		return cudaSuccess
	}
	lib.mapFrame = func(dec uintptr, picIdx int32, devPtr *uint64, pitch *uint32, vpp *procParams) cuResult {
		fp.mapCalls++
		*devPtr = 0xdead0000 + uint64(picIdx)
		*pitch = 2048
		return cudaSuccess
	}
	lib.unmapFrame = func(dec uintptr, devPtr uint64) cuResult {
		fp.unmapCalls++
		return cudaSuccess
	}

	lib.parseData = func(parser uintptr, pkt *sourceDataPacket) cuResult {
		if pkt.Flags&culong(pktEndOfStream) != 0 || pkt.Flags&culong(pktDiscontinuity) != 0 {
			return cudaSuccess
		}
		if !fp.seenSequence {
			fp.seenSequence = true
			if sequenceTrampoline(fp.userData, uintptr(unsafe.Pointer(&fp.format))) == 0 {
				return cudaSuccess // parser aborts; error is in callback state
			}
		}
		if decodePictureTrampoline(fp.userData, 0x1000) == 0 {
			return cudaSuccess
		}
		di := parserDispInfo{
			PictureIndex:     fp.nextPicIdx,
			ProgressiveFrame: 1,
			Timestamp:        fp.nextPTS,
		}
		displayPictureTrampoline(fp.userData, uintptr(unsafe.Pointer(&di)))
		return cudaSuccess
	}

	// Trampoline registration normally happens in LoadLibrary.
	lib.seqCB = 1
	lib.decodeCB = 2
	lib.displayCB = 3
	return lib
}

func testFormat() VideoFormat {
	return VideoFormat{
		Codec:                codecH264,
		CodedWidth:           1920,
		CodedHeight:          1088,
		DisplayAreaRight:     1920,
		DisplayAreaBottom:    1080,
		ChromaFormat:         chroma420,
		MinNumDecodeSurfaces: 9,
	}
}

func TestNewSessionUnsupportedCodec(t *testing.T) {
	fp := &fakeParser{}
	lib := newFakeLibrary(fp)
	_, err := NewSession(lib, types.CodecID(99), 8, 0)
	var uc *types.UnsupportedCodecError
	require.ErrorAs(t, err, &uc)
}

func TestSessionNotReadyBeforeSequence(t *testing.T) {
	fp := &fakeParser{format: testFormat()}
	sess, err := NewSession(newFakeLibrary(fp), types.CodecH264, 8, 0)
	require.NoError(t, err)
	defer sess.Close()

	assert.False(t, sess.IsReady())
	assert.False(t, sess.HasFrames())
	w, h := sess.Resolution()
	assert.Zero(t, w)
	assert.Zero(t, h)

	frame, err := sess.PopAndMapNext()
	assert.Nil(t, frame)
	assert.NoError(t, err) // empty queue, not an error
}

func TestSessionDecodeAndMap(t *testing.T) {
	fp := &fakeParser{format: testFormat(), nextPicIdx: 3, nextPTS: secsToTicks(0.5)}
	sess, err := NewSession(newFakeLibrary(fp), types.CodecH264, 8, 0)
	require.NoError(t, err)
	defer sess.Close()

	require.NoError(t, sess.ParseData([]byte{0, 0, 0, 1, 0x67}, 0.5))
	assert.True(t, sess.IsReady())
	require.True(t, sess.HasFrames())

	// Output dimensions come from the display rectangle, not the coded
	// size.
	w, h := sess.Resolution()
	assert.Equal(t, uint32(1920), w)
	assert.Equal(t, uint32(1080), h)

	frame, err := sess.PopAndMapNext()
	require.NoError(t, err)
	require.NotNil(t, frame)
	assert.Equal(t, int32(3), frame.PictureIndex)
	assert.Equal(t, uint32(2048), frame.Pitch)
	assert.InDelta(t, 0.5, frame.PTSSecs, 1e-9)
	assert.Equal(t, frame.DevicePtr+uint64(frame.Height)*uint64(frame.Pitch), frame.UVDevicePtr())

	frame.MarkConsumed()
	frame.Release()
	assert.Equal(t, 1, fp.unmapCalls)

	// Release is idempotent at the guard level.
	frame.Release()
	assert.Equal(t, 1, fp.unmapCalls)

	st := sess.Stats()
	assert.Equal(t, uint64(1), st.FramesDecoded)
	assert.Equal(t, uint64(1), st.FramesDisplayed)
	assert.Zero(t, st.PendingFrames)
}

func TestSequenceFailureSurfacesHwDecoderInit(t *testing.T) {
	fp := &fakeParser{format: testFormat(), failCreate: true}
	sess, err := NewSession(newFakeLibrary(fp), types.CodecH264, 8, 0)
	require.NoError(t, err)
	defer sess.Close()

	err = sess.ParseData([]byte{0, 0, 0, 1}, 0)
	var hw *types.HwDecoderInitError
	require.ErrorAs(t, err, &hw)
	assert.Equal(t, types.CodecH264, hw.Codec)
	assert.False(t, sess.IsReady())

	// The recorded error is consumed; the next packet starts clean.
	fp.failCreate = false
	fp.seenSequence = false
	assert.NoError(t, sess.ParseData([]byte{0, 0, 0, 1}, 0.1))
	assert.True(t, sess.IsReady())
}

func TestResolutionChangeRecreatesDecoder(t *testing.T) {
	fp := &fakeParser{format: testFormat()}
	sess, err := NewSession(newFakeLibrary(fp), types.CodecH264, 8, 0)
	require.NoError(t, err)
	defer sess.Close()

	require.NoError(t, sess.ParseData([]byte{1}, 0))

	// A second sequence header with doubled dimensions must destroy the
	// old decoder and the next mapped frame must carry the new size.
	fp.format.CodedWidth = 3840
	fp.format.CodedHeight = 2160
	fp.format.DisplayAreaRight = 3840
	fp.format.DisplayAreaBottom = 2160
	fp.seenSequence = false
	fp.nextPicIdx = 1
	require.NoError(t, sess.ParseData([]byte{2}, 1.0/30))

	assert.Equal(t, 1, fp.destroyCalls)
	w, h := sess.Resolution()
	assert.Equal(t, uint32(3840), w)
	assert.Equal(t, uint32(2160), h)
}

func TestResetClearsDisplayQueue(t *testing.T) {
	fp := &fakeParser{format: testFormat()}
	sess, err := NewSession(newFakeLibrary(fp), types.CodecH264, 8, 0)
	require.NoError(t, err)
	defer sess.Close()

	require.NoError(t, sess.ParseData([]byte{1}, 0))
	require.True(t, sess.HasFrames())

	require.NoError(t, sess.Reset())
	assert.False(t, sess.HasFrames())
	// The decoder survives a seek reset.
	assert.True(t, sess.IsReady())
	assert.Zero(t, fp.destroyCalls)
}

func TestDpbSizeClamping(t *testing.T) {
	// Requested minimum below the parser's floor: parser min + 4 wins.
	fp := &fakeParser{format: testFormat()}
	lib := newFakeLibrary(fp)
	sess, err := NewSession(lib, types.CodecH264, 2, 0)
	require.NoError(t, err)
	defer sess.Close()
	// 2 clamps up to 8, and the stored request stays 8 after the
	// sequence callback. The decoder itself gets 9+4=13 surfaces, which
	// this test does not observe.
	require.NoError(t, sess.ParseData([]byte{1}, 0))
	assert.Equal(t, uint32(8), sess.state.numDecodeSurfaces)
}

func TestTickScaling(t *testing.T) {
	assert.Equal(t, int64(timeScale), secsToTicks(1.0))
	assert.InDelta(t, 0.04, ticksToSecs(secsToTicks(0.04)), 1e-9)
}
