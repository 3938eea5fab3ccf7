package demux

import (
	"bytes"
	"fmt"
	"os"

	"github.com/Eyevinn/mp4ff/mp4"

	"masterselects/internal/types"
)

type mp4Sample struct {
	offset   int64
	size     uint32
	ptsSecs  float64
	keyframe bool
}

// Mp4Demuxer reads progressive MP4/MOV files. The sample tables are
// expanded once at open; packet reads go straight to the file offsets.
type Mp4Demuxer struct {
	f       *os.File
	stream  types.VideoStreamInfo
	samples []mp4Sample
	idx     int

	// Annex-B conversion state for H.264/HEVC samples.
	annexB     bool
	lengthSize int
	prefix     []byte
}

// OpenMp4 opens a progressive MP4/MOV file and prepares its video track
// for packet iteration.
func OpenMp4(path string) (*Mp4Demuxer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	parsed, err := mp4.DecodeFile(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("parse mp4 %s: %w", path, err)
	}
	if parsed.Moov == nil {
		f.Close()
		return nil, fmt.Errorf("mp4 %s: no moov box", path)
	}

	var videoTrak *mp4.TrakBox
	for _, trak := range parsed.Moov.Traks {
		if trak.Mdia != nil && trak.Mdia.Hdlr != nil && trak.Mdia.Hdlr.HandlerType == "vide" {
			videoTrak = trak
			break
		}
	}
	if videoTrak == nil {
		f.Close()
		return nil, ErrNoVideoStream
	}

	d := &Mp4Demuxer{f: f}
	if err := d.buildTrack(videoTrak); err != nil {
		f.Close()
		return nil, err
	}
	return d, nil
}

func (d *Mp4Demuxer) buildTrack(trak *mp4.TrakBox) error {
	mdhd := trak.Mdia.Mdhd
	if trak.Mdia.Minf == nil || trak.Mdia.Minf.Stbl == nil {
		return fmt.Errorf("mp4 track: no sample table")
	}
	stbl := trak.Mdia.Minf.Stbl
	if stbl.Stsd == nil || stbl.Stts == nil || stbl.Stsz == nil || stbl.Stsc == nil {
		return fmt.Errorf("mp4 track: missing sample tables")
	}
	timescale := mdhd.Timescale
	if timescale == 0 {
		return fmt.Errorf("mp4 track: zero timescale")
	}

	codec, width, height, err := d.readSampleEntry(stbl.Stsd)
	if err != nil {
		return err
	}

	stts := stbl.Stts
	total := 0
	for _, c := range stts.SampleCount {
		total += int(c)
	}
	if total == 0 {
		return ErrNoVideoStream
	}

	samples := make([]mp4Sample, total)

	// Decode times from stts, composition offsets from ctts.
	var dts uint64
	i := 0
	for e := range stts.SampleCount {
		for n := uint32(0); n < stts.SampleCount[e]; n++ {
			samples[i].ptsSecs = float64(dts) / float64(timescale)
			dts += uint64(stts.SampleTimeDelta[e])
			i++
		}
	}
	if ctts := stbl.Ctts; ctts != nil {
		i = 0
		for e := range ctts.SampleOffset {
			cnt := ctts.EndSampleNr[e+1] - ctts.EndSampleNr[e]
			for n := uint32(0); n < cnt && i < total; n++ {
				samples[i].ptsSecs += float64(ctts.SampleOffset[e]) / float64(timescale)
				i++
			}
		}
	}

	// Sizes from stsz.
	for i := range samples {
		if stbl.Stsz.SampleUniformSize > 0 {
			samples[i].size = stbl.Stsz.SampleUniformSize
		} else {
			samples[i].size = stbl.Stsz.SampleSize[i]
		}
	}

	// File offsets from stsc + stco/co64.
	var chunkOffsets []uint64
	if stbl.Stco != nil {
		for _, o := range stbl.Stco.ChunkOffset {
			chunkOffsets = append(chunkOffsets, uint64(o))
		}
	} else if stbl.Co64 != nil {
		chunkOffsets = stbl.Co64.ChunkOffset
	}
	stsc := stbl.Stsc
	sampleIdx := 0
	for ci := 0; ci < len(chunkOffsets) && sampleIdx < total; ci++ {
		perChunk := samplesPerChunk(stsc, uint32(ci+1))
		off := chunkOffsets[ci]
		for n := 0; n < perChunk && sampleIdx < total; n++ {
			samples[sampleIdx].offset = int64(off)
			off += uint64(samples[sampleIdx].size)
			sampleIdx++
		}
	}

	// Keyframes from stss; without one every sample is a sync sample.
	if stbl.Stss != nil {
		for _, nr := range stbl.Stss.SampleNumber {
			if int(nr) >= 1 && int(nr) <= total {
				samples[nr-1].keyframe = true
			}
		}
	} else {
		for i := range samples {
			samples[i].keyframe = true
		}
	}

	fps := types.FPS30
	if len(stts.SampleTimeDelta) > 0 && stts.SampleTimeDelta[0] > 0 {
		fps = types.Rational{Num: timescale, Den: stts.SampleTimeDelta[0]}
	}

	d.samples = samples
	d.stream = types.VideoStreamInfo{
		Codec:        codec,
		Resolution:   types.Resolution{Width: width, Height: height},
		FPS:          fps,
		DurationSecs: float64(mdhd.Duration) / float64(timescale),
	}
	return nil
}

// readSampleEntry extracts codec, dimensions, and the Annex-B conversion
// state from the sample description box.
func (d *Mp4Demuxer) readSampleEntry(stsd *mp4.StsdBox) (types.CodecID, uint32, uint32, error) {
	for _, child := range stsd.Children {
		vse, ok := child.(*mp4.VisualSampleEntryBox)
		if !ok {
			continue
		}
		width := uint32(vse.Width)
		height := uint32(vse.Height)

		switch vse.Type() {
		case "avc1", "avc3":
			if vse.AvcC != nil {
				if err := d.loadDecoderConfig(vse.AvcC, parseAvcC); err != nil {
					return 0, 0, 0, err
				}
			}
			return types.CodecH264, width, height, nil
		case "hvc1", "hev1":
			if vse.HvcC != nil {
				if err := d.loadDecoderConfig(vse.HvcC, parseHvcC); err != nil {
					return 0, 0, 0, err
				}
			}
			return types.CodecHEVC, width, height, nil
		case "vp09":
			return types.CodecVP9, width, height, nil
		case "av01":
			return types.CodecAV1, width, height, nil
		default:
			return 0, 0, 0, &types.UnsupportedCodecError{Codec: types.CodecID(-1)}
		}
	}
	return 0, 0, 0, ErrNoVideoStream
}

// loadDecoderConfig re-encodes the configuration box and parses the raw
// record, sharing the parser with the Matroska CodecPrivate path.
func (d *Mp4Demuxer) loadDecoderConfig(box mp4.Box, parse func([]byte) (int, [][]byte, error)) error {
	var buf bytes.Buffer
	if err := box.Encode(&buf); err != nil {
		return fmt.Errorf("encode decoder config: %w", err)
	}
	raw := buf.Bytes()
	if len(raw) <= 8 {
		return errShortConfig
	}
	lengthSize, paramSets, err := parse(raw[8:]) // skip box header
	if err != nil {
		return err
	}
	d.annexB = true
	d.lengthSize = lengthSize
	d.prefix = annexBPrefix(paramSets)
	return nil
}

func samplesPerChunk(stsc *mp4.StscBox, chunkNr uint32) int {
	per := 0
	for i := range stsc.Entries {
		if stsc.Entries[i].FirstChunk > chunkNr {
			break
		}
		per = int(stsc.Entries[i].SamplesPerChunk)
	}
	return per
}

// Probe returns the stream metadata extracted at open.
func (d *Mp4Demuxer) Probe() types.ContainerInfo {
	return types.ContainerInfo{VideoStreams: []types.VideoStreamInfo{d.stream}}
}

// NextVideoPacket returns the next sample in decode order, converted to
// Annex-B for H.264/HEVC, or io.EOF at end of stream.
func (d *Mp4Demuxer) NextVideoPacket() (*types.CompressedPacket, error) {
	if d.idx >= len(d.samples) {
		return nil, types.EOS
	}
	s := d.samples[d.idx]
	d.idx++

	raw := make([]byte, s.size)
	if _, err := d.f.ReadAt(raw, s.offset); err != nil {
		return nil, fmt.Errorf("read sample %d: %w", d.idx-1, err)
	}

	data := raw
	if d.annexB {
		var prefix []byte
		if s.keyframe {
			prefix = d.prefix
		}
		var err error
		data, err = toAnnexB(raw, d.lengthSize, prefix)
		if err != nil {
			return nil, fmt.Errorf("sample %d: %w", d.idx-1, err)
		}
	}

	return &types.CompressedPacket{
		Data:     data,
		PTSSecs:  s.ptsSecs,
		Keyframe: s.keyframe,
	}, nil
}

// Seek positions the iterator at the nearest keyframe at or before
// timeSecs.
func (d *Mp4Demuxer) Seek(timeSecs float64) error {
	if len(d.samples) == 0 {
		return ErrNoVideoStream
	}
	// Nearest keyframe at or before the target; the first sample when
	// the target precedes every keyframe. Samples are in decode order,
	// so this is a plain scan over keyframe pts.
	target := 0
	for i, s := range d.samples {
		if s.keyframe && s.ptsSecs <= timeSecs {
			target = i
		}
	}
	d.idx = target
	return nil
}

// Close releases the underlying file.
func (d *Mp4Demuxer) Close() error {
	return d.f.Close()
}
