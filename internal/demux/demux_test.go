package demux

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"masterselects/internal/types"
)

func writeTemp(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestDetectFormatByExtension(t *testing.T) {
	cases := []struct {
		path string
		want types.ContainerFormat
	}{
		{"clip.mp4", types.ContainerMp4},
		{"clip.MOV", types.ContainerMp4},
		{"clip.m4v", types.ContainerMp4},
		{"clip.mkv", types.ContainerMkv},
		{"clip.webm", types.ContainerWebM},
	}
	for _, tc := range cases {
		got, err := DetectFormat(tc.path)
		require.NoError(t, err, tc.path)
		assert.Equal(t, tc.want, got, tc.path)
	}
}

func TestDetectFormatByMagicBytes(t *testing.T) {
	ftyp := append([]byte{0, 0, 0, 0x18}, []byte("ftypisom....")...)
	path := writeTemp(t, "noext", ftyp)
	got, err := DetectFormat(path)
	require.NoError(t, err)
	assert.Equal(t, types.ContainerMp4, got)

	ebmlHead := append([]byte{0x1a, 0x45, 0xdf, 0xa3}, make([]byte, 8)...)
	path = writeTemp(t, "noext2", ebmlHead)
	got, err = DetectFormat(path)
	require.NoError(t, err)
	assert.Equal(t, types.ContainerMkv, got)
}

func TestDetectFormatUnsupported(t *testing.T) {
	path := writeTemp(t, "junk", []byte("not a media file"))
	_, err := DetectFormat(path)
	assert.Error(t, err)
}

func TestDetectFormatMissingFile(t *testing.T) {
	_, err := DetectFormat(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}

func TestMkvCodecMapping(t *testing.T) {
	codec, annexB, err := mkvCodec("V_MPEG4/ISO/AVC")
	require.NoError(t, err)
	assert.Equal(t, types.CodecH264, codec)
	assert.True(t, annexB)

	codec, annexB, err = mkvCodec("V_VP9")
	require.NoError(t, err)
	assert.Equal(t, types.CodecVP9, codec)
	assert.False(t, annexB)

	_, _, err = mkvCodec("V_MS/VFW/FOURCC")
	var uc *types.UnsupportedCodecError
	assert.ErrorAs(t, err, &uc)
}

func TestMkvDemuxerIteration(t *testing.T) {
	d := &MkvDemuxer{
		packets: []mkvPacket{
			{data: []byte{1}, ptsSecs: 0, keyframe: true},
			{data: []byte{2}, ptsSecs: 1.0 / 30},
			{data: []byte{3}, ptsSecs: 2.0 / 30},
			{data: []byte{4}, ptsSecs: 1.0, keyframe: true},
			{data: []byte{5}, ptsSecs: 1.0 + 1.0/30},
		},
	}

	p, err := d.NextVideoPacket()
	require.NoError(t, err)
	assert.True(t, p.Keyframe)
	assert.Equal(t, []byte{1}, p.Data)

	// Seek lands on the nearest keyframe at or before the target.
	require.NoError(t, d.Seek(1.01))
	p, err = d.NextVideoPacket()
	require.NoError(t, err)
	assert.Equal(t, []byte{4}, p.Data)
	assert.InDelta(t, 1.0, p.PTSSecs, 1e-9)

	// Seeking before the first keyframe clamps to the start.
	require.NoError(t, d.Seek(-3))
	p, err = d.NextVideoPacket()
	require.NoError(t, err)
	assert.Equal(t, []byte{1}, p.Data)

	// Drain to end of stream.
	require.NoError(t, d.Seek(99))
	for i := 0; i < 2; i++ {
		_, err = d.NextVideoPacket()
		require.NoError(t, err)
	}
	_, err = d.NextVideoPacket()
	assert.ErrorIs(t, err, types.EOS)
}
