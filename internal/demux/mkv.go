package demux

import (
	"fmt"
	"os"

	"github.com/at-wat/ebml-go"

	"masterselects/internal/types"
)

// Matroska stores timestamps in ticks of TimecodeScale nanoseconds;
// 1ms is the Matroska default.
const defaultTimecodeScale = 1_000_000

// mkvDocument is the subset of the Matroska/WebM element tree the
// demuxer needs. Unknown elements are skipped during unmarshalling.
type mkvDocument struct {
	Segment struct {
		Info struct {
			TimecodeScale uint64  `ebml:"TimecodeScale,omitempty"`
			Duration      float64 `ebml:"Duration,omitempty"`
		} `ebml:"Info"`
		Tracks struct {
			TrackEntry []mkvTrackEntry `ebml:"TrackEntry"`
		} `ebml:"Tracks"`
		Cluster []mkvCluster `ebml:"Cluster"`
	} `ebml:"Segment"`
}

type mkvTrackEntry struct {
	TrackNumber     uint64 `ebml:"TrackNumber"`
	TrackType       uint64 `ebml:"TrackType"`
	CodecID         string `ebml:"CodecID"`
	CodecPrivate    []byte `ebml:"CodecPrivate,omitempty"`
	DefaultDuration uint64 `ebml:"DefaultDuration,omitempty"`
	Video           struct {
		PixelWidth  uint64 `ebml:"PixelWidth"`
		PixelHeight uint64 `ebml:"PixelHeight"`
	} `ebml:"Video,omitempty"`
}

type mkvCluster struct {
	Timecode    uint64       `ebml:"Timecode"`
	SimpleBlock []ebml.Block `ebml:"SimpleBlock"`
}

const mkvTrackTypeVideo = 1

type mkvPacket struct {
	data     []byte
	ptsSecs  float64
	keyframe bool
}

// MkvDemuxer reads Matroska and WebM files. The whole element tree is
// unmarshalled at open and the video blocks are flattened into a packet
// list, so seeks are a plain index move.
type MkvDemuxer struct {
	stream  types.VideoStreamInfo
	packets []mkvPacket
	idx     int
}

// OpenMkv opens a Matroska/WebM file and prepares its first video track
// for packet iteration.
func OpenMkv(path string) (*MkvDemuxer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	var doc mkvDocument
	if err := ebml.Unmarshal(f, &doc, ebml.WithIgnoreUnknown(true)); err != nil {
		return nil, fmt.Errorf("parse mkv %s: %w", path, err)
	}

	var track *mkvTrackEntry
	for i := range doc.Segment.Tracks.TrackEntry {
		if doc.Segment.Tracks.TrackEntry[i].TrackType == mkvTrackTypeVideo {
			track = &doc.Segment.Tracks.TrackEntry[i]
			break
		}
	}
	if track == nil {
		return nil, ErrNoVideoStream
	}

	codec, annexB, err := mkvCodec(track.CodecID)
	if err != nil {
		return nil, err
	}

	// H.264/HEVC blocks are length-prefixed like MP4 samples; the
	// conversion state comes from CodecPrivate (an avcC/hvcC record).
	lengthSize := 4
	var prefix []byte
	if annexB && len(track.CodecPrivate) > 0 {
		parse := parseAvcC
		if codec == types.CodecHEVC {
			parse = parseHvcC
		}
		var paramSets [][]byte
		lengthSize, paramSets, err = parse(track.CodecPrivate)
		if err != nil {
			return nil, fmt.Errorf("codec private: %w", err)
		}
		prefix = annexBPrefix(paramSets)
	}

	scale := doc.Segment.Info.TimecodeScale
	if scale == 0 {
		scale = defaultTimecodeScale
	}
	tickSecs := float64(scale) / 1e9

	d := &MkvDemuxer{}
	for _, cluster := range doc.Segment.Cluster {
		for _, block := range cluster.SimpleBlock {
			if block.TrackNumber != track.TrackNumber {
				continue
			}
			pts := float64(int64(cluster.Timecode)+int64(block.Timecode)) * tickSecs
			for _, lace := range block.Data {
				data := lace
				if annexB {
					var pre []byte
					if block.Keyframe {
						pre = prefix
					}
					data, err = toAnnexB(lace, lengthSize, pre)
					if err != nil {
						return nil, fmt.Errorf("block at %.3fs: %w", pts, err)
					}
				}
				d.packets = append(d.packets, mkvPacket{
					data:     data,
					ptsSecs:  pts,
					keyframe: block.Keyframe,
				})
			}
		}
	}

	durationSecs := doc.Segment.Info.Duration * tickSecs
	fps := types.FPS30
	if track.DefaultDuration > 0 {
		fps = types.Rational{Num: 1_000_000_000, Den: uint32(track.DefaultDuration)}
	} else if durationSecs > 0 && len(d.packets) > 1 {
		fps = types.Rational{Num: uint32(float64(len(d.packets))/durationSecs + 0.5), Den: 1}
	}

	d.stream = types.VideoStreamInfo{
		Codec: codec,
		Resolution: types.Resolution{
			Width:  uint32(track.Video.PixelWidth),
			Height: uint32(track.Video.PixelHeight),
		},
		FPS:          fps,
		DurationSecs: durationSecs,
	}
	return d, nil
}

func mkvCodec(codecID string) (codec types.CodecID, annexB bool, err error) {
	switch codecID {
	case "V_MPEG4/ISO/AVC":
		return types.CodecH264, true, nil
	case "V_MPEGH/ISO/HEVC":
		return types.CodecHEVC, true, nil
	case "V_VP9":
		return types.CodecVP9, false, nil
	case "V_AV1":
		return types.CodecAV1, false, nil
	}
	return 0, false, fmt.Errorf("codec %q: %w", codecID, &types.UnsupportedCodecError{Codec: types.CodecID(-1)})
}

// Probe returns the stream metadata extracted at open.
func (d *MkvDemuxer) Probe() types.ContainerInfo {
	return types.ContainerInfo{VideoStreams: []types.VideoStreamInfo{d.stream}}
}

// NextVideoPacket returns the next block in stream order, or io.EOF at
// end of stream.
func (d *MkvDemuxer) NextVideoPacket() (*types.CompressedPacket, error) {
	if d.idx >= len(d.packets) {
		return nil, types.EOS
	}
	p := d.packets[d.idx]
	d.idx++
	return &types.CompressedPacket{
		Data:     p.data,
		PTSSecs:  p.ptsSecs,
		Keyframe: p.keyframe,
	}, nil
}

// Seek positions the iterator at the nearest keyframe at or before
// timeSecs.
func (d *MkvDemuxer) Seek(timeSecs float64) error {
	if len(d.packets) == 0 {
		return ErrNoVideoStream
	}
	target := 0
	for i, p := range d.packets {
		if p.keyframe && p.ptsSecs <= timeSecs {
			target = i
		}
	}
	d.idx = target
	return nil
}

// Close is a no-op; the file is fully read at open.
func (d *MkvDemuxer) Close() error {
	return nil
}
