package types

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRationalFloat(t *testing.T) {
	assert.Equal(t, 30.0, Rational{Num: 30, Den: 1}.Float())
	assert.InDelta(t, 29.97, Rational{Num: 30000, Den: 1001}.Float(), 0.001)
	assert.Zero(t, Rational{Num: 30, Den: 0}.Float())
}

func TestStringers(t *testing.T) {
	assert.Equal(t, "H.264", CodecH264.String())
	assert.Equal(t, "HEVC", CodecHEVC.String())
	assert.Equal(t, "VP9", CodecVP9.String())
	assert.Equal(t, "AV1", CodecAV1.String())
	assert.Equal(t, "MP4", ContainerMp4.String())
	assert.Equal(t, "WebM", ContainerWebM.String())
	assert.Equal(t, "1920x1080", HD.String())
	assert.Equal(t, "30", FPS30.String())
	assert.Equal(t, "30000/1001", Rational{Num: 30000, Den: 1001}.String())
}

func TestErrorTypes(t *testing.T) {
	var err error = &UnsupportedCodecError{Codec: CodecAV1}
	assert.Contains(t, err.Error(), "AV1")

	err = &HwDecoderInitError{Codec: CodecH264, Reason: "no surface"}
	assert.Contains(t, err.Error(), "H.264")
	assert.Contains(t, err.Error(), "no surface")

	err = &DecodeFailedError{Frame: 12, Reason: "bitstream corrupt"}
	assert.Contains(t, err.Error(), "12")

	var hw *HwDecoderInitError
	wrapped := errors.Join(&HwDecoderInitError{Codec: CodecVP9, Reason: "x"})
	assert.True(t, errors.As(wrapped, &hw))
}
