package cuda

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKernelArgsStableAddresses(t *testing.T) {
	var args KernelArgs
	args.PushDevicePtr(0x1000).
		PushDevicePtr(0x2000).
		PushInt32(1920).
		PushInt32(1080)

	require.Equal(t, 4, args.Len())

	// The pointer vector must dereference to the pushed values.
	base := args.pointers()
	vec := unsafe.Slice(base, args.Len())
	assert.Equal(t, uint64(0x1000), *(*uint64)(vec[0]))
	assert.Equal(t, uint64(0x2000), *(*uint64)(vec[1]))
	assert.Equal(t, int32(1920), *(*int32)(vec[2]))
	assert.Equal(t, int32(1080), *(*int32)(vec[3]))
}

func TestKernelArgsEmpty(t *testing.T) {
	var args KernelArgs
	assert.Nil(t, args.pointers())
	assert.Equal(t, 0, args.Len())
}

func TestRgbaBufferMatches(t *testing.T) {
	b := &RgbaBuffer{width: 1920, height: 1080, size: 1920 * 1080 * 4}
	assert.True(t, b.Matches(1920, 1080))
	assert.False(t, b.Matches(1280, 720))
	assert.False(t, b.Matches(1920, 720))
	assert.Equal(t, 1920*1080*4, b.Size())
}

func TestRgbaBufferFreeIdempotent(t *testing.T) {
	// A zero pointer means nothing to release; Free must not touch the
	// driver in that case.
	b := &RgbaBuffer{}
	assert.NoError(t, b.Free())
	assert.NoError(t, b.Free())
}
