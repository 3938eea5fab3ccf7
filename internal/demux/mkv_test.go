package demux

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/at-wat/ebml-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"masterselects/internal/types"
)

// writeMkv marshals a document through the same EBML library the
// demuxer reads with and writes it to a temp .mkv file.
func writeMkv(t *testing.T, doc *mkvDocument) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "clip.mkv")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, ebml.Marshal(doc, f))
	require.NoError(t, f.Close())
	return path
}

func vp9Document() *mkvDocument {
	var doc mkvDocument
	doc.Segment.Info.TimecodeScale = 1_000_000 // 1ms ticks
	doc.Segment.Info.Duration = 1000           // 1s

	track := mkvTrackEntry{
		TrackNumber:     1,
		TrackType:       mkvTrackTypeVideo,
		CodecID:         "V_VP9",
		DefaultDuration: 33_333_333, // ~30 fps in ns
	}
	track.Video.PixelWidth = 320
	track.Video.PixelHeight = 240
	doc.Segment.Tracks.TrackEntry = []mkvTrackEntry{track}

	doc.Segment.Cluster = []mkvCluster{
		{
			Timecode: 0,
			SimpleBlock: []ebml.Block{
				{TrackNumber: 1, Timecode: 0, Keyframe: true, Data: [][]byte{{0x82, 1, 2}}},
				{TrackNumber: 1, Timecode: 33, Data: [][]byte{{0x02, 3}}},
			},
		},
		{
			Timecode: 66,
			SimpleBlock: []ebml.Block{
				{TrackNumber: 1, Timecode: 0, Keyframe: true, Data: [][]byte{{0x82, 4}}},
			},
		},
	}
	return &doc
}

func TestOpenMkvVP9RoundTrip(t *testing.T) {
	path := writeMkv(t, vp9Document())

	d, err := OpenMkv(path)
	require.NoError(t, err)
	defer d.Close()

	info := d.Probe()
	require.Len(t, info.VideoStreams, 1)
	stream := info.VideoStreams[0]
	assert.Equal(t, types.CodecVP9, stream.Codec)
	assert.Equal(t, uint32(320), stream.Resolution.Width)
	assert.Equal(t, uint32(240), stream.Resolution.Height)
	assert.InDelta(t, 1.0, stream.DurationSecs, 1e-6)
	assert.InDelta(t, 30.0, stream.FPS.Float(), 0.1)

	// VP9 blocks pass through untouched.
	p, err := d.NextVideoPacket()
	require.NoError(t, err)
	assert.Equal(t, []byte{0x82, 1, 2}, p.Data)
	assert.True(t, p.Keyframe)
	assert.InDelta(t, 0.0, p.PTSSecs, 1e-9)

	p, err = d.NextVideoPacket()
	require.NoError(t, err)
	assert.False(t, p.Keyframe)
	assert.InDelta(t, 0.033, p.PTSSecs, 1e-3)

	p, err = d.NextVideoPacket()
	require.NoError(t, err)
	assert.InDelta(t, 0.066, p.PTSSecs, 1e-3)

	_, err = d.NextVideoPacket()
	assert.ErrorIs(t, err, types.EOS)
}

func TestOpenMkvH264AnnexBConversion(t *testing.T) {
	sps := []byte{0x67, 0x64, 0x00, 0x28}
	pps := []byte{0x68, 0xee}

	doc := vp9Document()
	doc.Segment.Tracks.TrackEntry[0].CodecID = "V_MPEG4/ISO/AVC"
	doc.Segment.Tracks.TrackEntry[0].CodecPrivate = buildAvcC(3, sps, pps)
	doc.Segment.Cluster = []mkvCluster{
		{
			Timecode: 0,
			SimpleBlock: []ebml.Block{
				{TrackNumber: 1, Timecode: 0, Keyframe: true, Data: [][]byte{{0, 0, 0, 2, 0x65, 0xaa}}},
				{TrackNumber: 1, Timecode: 33, Data: [][]byte{{0, 0, 0, 1, 0x41}}},
			},
		},
	}
	path := writeMkv(t, doc)

	d, err := OpenMkv(path)
	require.NoError(t, err)
	defer d.Close()

	assert.Equal(t, types.CodecH264, d.Probe().VideoStreams[0].Codec)

	// Keyframe: parameter sets re-injected ahead of the slice.
	p, err := d.NextVideoPacket()
	require.NoError(t, err)
	want := append(append(append([]byte{}, startCode...), sps...), startCode...)
	want = append(want, pps...)
	want = append(want, startCode...)
	want = append(want, 0x65, 0xaa)
	assert.Equal(t, want, p.Data)

	// Non-keyframe: start codes only.
	p, err = d.NextVideoPacket()
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 0, 0, 1, 0x41}, p.Data)
}

func TestOpenMkvUnsupportedCodec(t *testing.T) {
	doc := vp9Document()
	doc.Segment.Tracks.TrackEntry[0].CodecID = "V_MS/VFW/FOURCC"
	path := writeMkv(t, doc)

	_, err := OpenMkv(path)
	var uc *types.UnsupportedCodecError
	assert.ErrorAs(t, err, &uc)
}

func TestOpenMkvNoVideoTrack(t *testing.T) {
	doc := vp9Document()
	doc.Segment.Tracks.TrackEntry[0].TrackType = 2 // audio
	path := writeMkv(t, doc)

	_, err := OpenMkv(path)
	assert.ErrorIs(t, err, ErrNoVideoStream)
}

func TestProbeFileOnMkv(t *testing.T) {
	path := writeMkv(t, vp9Document())

	info, err := ProbeFile(path)
	require.NoError(t, err)
	assert.Equal(t, "clip.mkv", info.FileName)
	assert.Equal(t, types.CodecVP9, info.Codec)
	assert.Equal(t, uint32(320), info.Resolution.Width)
}
