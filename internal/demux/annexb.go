package demux

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// The hardware bitstream parser wants Annex-B data with start codes,
// while MP4 and Matroska both store length-prefixed NAL units plus an
// out-of-band decoder configuration record (avcC / hvcC). The helpers
// here bridge the two: the configuration record yields the NAL length
// field size and the parameter-set NAL units that get re-injected in
// front of every keyframe.

var startCode = []byte{0, 0, 0, 1}

var errShortConfig = errors.New("decoder configuration record too short")

// parseAvcC extracts the NAL length size and parameter sets (SPS then
// PPS) from an AVCDecoderConfigurationRecord.
func parseAvcC(data []byte) (lengthSize int, paramSets [][]byte, err error) {
	if len(data) < 7 {
		return 0, nil, errShortConfig
	}
	lengthSize = int(data[4]&0x03) + 1

	pos := 5
	numSPS := int(data[pos] & 0x1f)
	pos++
	for i := 0; i < numSPS; i++ {
		nalu, next, err := readU16Nalu(data, pos)
		if err != nil {
			return 0, nil, fmt.Errorf("avcC SPS %d: %w", i, err)
		}
		paramSets = append(paramSets, nalu)
		pos = next
	}

	if pos >= len(data) {
		return 0, nil, errShortConfig
	}
	numPPS := int(data[pos])
	pos++
	for i := 0; i < numPPS; i++ {
		nalu, next, err := readU16Nalu(data, pos)
		if err != nil {
			return 0, nil, fmt.Errorf("avcC PPS %d: %w", i, err)
		}
		paramSets = append(paramSets, nalu)
		pos = next
	}
	return lengthSize, paramSets, nil
}

// parseHvcC extracts the NAL length size and parameter sets (VPS, SPS,
// PPS arrays in file order) from an HEVCDecoderConfigurationRecord.
func parseHvcC(data []byte) (lengthSize int, paramSets [][]byte, err error) {
	if len(data) < 23 {
		return 0, nil, errShortConfig
	}
	lengthSize = int(data[21]&0x03) + 1

	numArrays := int(data[22])
	pos := 23
	for a := 0; a < numArrays; a++ {
		if pos+3 > len(data) {
			return 0, nil, errShortConfig
		}
		// arrayCompleteness(1) + reserved(1) + NALUnitType(6); the type
		// itself is irrelevant here, every array is prepended in order.
		numNalus := int(binary.BigEndian.Uint16(data[pos+1 : pos+3]))
		pos += 3
		for n := 0; n < numNalus; n++ {
			nalu, next, err := readU16Nalu(data, pos)
			if err != nil {
				return 0, nil, fmt.Errorf("hvcC array %d nalu %d: %w", a, n, err)
			}
			paramSets = append(paramSets, nalu)
			pos = next
		}
	}
	return lengthSize, paramSets, nil
}

func readU16Nalu(data []byte, pos int) ([]byte, int, error) {
	if pos+2 > len(data) {
		return nil, 0, errShortConfig
	}
	n := int(binary.BigEndian.Uint16(data[pos : pos+2]))
	pos += 2
	if pos+n > len(data) {
		return nil, 0, errShortConfig
	}
	return data[pos : pos+n], pos + n, nil
}

// annexBPrefix renders parameter sets as a start-code-delimited blob,
// ready to prepend to a keyframe.
func annexBPrefix(paramSets [][]byte) []byte {
	var out []byte
	for _, ps := range paramSets {
		out = append(out, startCode...)
		out = append(out, ps...)
	}
	return out
}

// toAnnexB rewrites a length-prefixed sample as Annex-B. prefix (may be
// nil) is prepended first; it carries the parameter sets on keyframes.
func toAnnexB(sample []byte, lengthSize int, prefix []byte) ([]byte, error) {
	out := make([]byte, 0, len(prefix)+len(sample)+16)
	out = append(out, prefix...)

	pos := 0
	for pos < len(sample) {
		if pos+lengthSize > len(sample) {
			return nil, fmt.Errorf("truncated NAL length at offset %d", pos)
		}
		var n int
		for i := 0; i < lengthSize; i++ {
			n = n<<8 | int(sample[pos+i])
		}
		pos += lengthSize
		if n <= 0 || pos+n > len(sample) {
			return nil, fmt.Errorf("invalid NAL size %d at offset %d", n, pos)
		}
		out = append(out, startCode...)
		out = append(out, sample[pos:pos+n]...)
		pos += n
	}
	return out, nil
}
