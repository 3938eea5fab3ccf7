package demux

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildAvcC assembles a minimal AVCDecoderConfigurationRecord with one
// SPS and one PPS.
func buildAvcC(lengthSizeMinus1 byte, sps, pps []byte) []byte {
	rec := []byte{1, 0x64, 0x00, 0x28, 0xfc | lengthSizeMinus1, 0xe0 | 1}
	rec = append(rec, byte(len(sps)>>8), byte(len(sps)))
	rec = append(rec, sps...)
	rec = append(rec, 1)
	rec = append(rec, byte(len(pps)>>8), byte(len(pps)))
	rec = append(rec, pps...)
	return rec
}

func TestParseAvcC(t *testing.T) {
	sps := []byte{0x67, 0x64, 0x00, 0x28}
	pps := []byte{0x68, 0xee}
	lengthSize, paramSets, err := parseAvcC(buildAvcC(3, sps, pps))
	require.NoError(t, err)
	assert.Equal(t, 4, lengthSize)
	require.Len(t, paramSets, 2)
	assert.Equal(t, sps, paramSets[0])
	assert.Equal(t, pps, paramSets[1])
}

func TestParseAvcCTruncated(t *testing.T) {
	_, _, err := parseAvcC([]byte{1, 0x64, 0x00})
	assert.ErrorIs(t, err, errShortConfig)

	rec := buildAvcC(3, []byte{0x67, 0x64}, []byte{0x68})
	_, _, err = parseAvcC(rec[:len(rec)-1])
	assert.Error(t, err)
}

func TestParseHvcC(t *testing.T) {
	vps := []byte{0x40, 0x01}
	sps := []byte{0x42, 0x01}
	pps := []byte{0x44, 0x01}

	rec := make([]byte, 21)
	rec[0] = 1
	rec = append(rec, 0xfc|3) // lengthSizeMinusOne = 3
	rec = append(rec, 3)      // three arrays
	for i, nalu := range [][]byte{vps, sps, pps} {
		rec = append(rec, byte(0x20+i)<<0, 0, 1)
		rec = append(rec, byte(len(nalu)>>8), byte(len(nalu)))
		rec = append(rec, nalu...)
	}

	lengthSize, paramSets, err := parseHvcC(rec)
	require.NoError(t, err)
	assert.Equal(t, 4, lengthSize)
	require.Len(t, paramSets, 3)
	assert.Equal(t, vps, paramSets[0])
	assert.Equal(t, sps, paramSets[1])
	assert.Equal(t, pps, paramSets[2])
}

func TestToAnnexB(t *testing.T) {
	// Two NAL units, 4-byte lengths.
	sample := []byte{
		0, 0, 0, 3, 0x65, 0xaa, 0xbb,
		0, 0, 0, 2, 0x41, 0xcc,
	}
	out, err := toAnnexB(sample, 4, nil)
	require.NoError(t, err)
	assert.Equal(t, []byte{
		0, 0, 0, 1, 0x65, 0xaa, 0xbb,
		0, 0, 0, 1, 0x41, 0xcc,
	}, out)
}

func TestToAnnexBWithPrefix(t *testing.T) {
	prefix := annexBPrefix([][]byte{{0x67}, {0x68}})
	sample := []byte{0, 0, 0, 1, 0x65}
	out, err := toAnnexB(sample, 4, prefix)
	require.NoError(t, err)
	assert.Equal(t, []byte{
		0, 0, 0, 1, 0x67,
		0, 0, 0, 1, 0x68,
		0, 0, 0, 1, 0x65,
	}, out)
}

func TestToAnnexBShortLengthField(t *testing.T) {
	// 2-byte length prefixes occur for streams with small NAL units.
	sample := []byte{0, 2, 0x41, 0xcc}
	out, err := toAnnexB(sample, 2, nil)
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 0, 0, 1, 0x41, 0xcc}, out)
}

func TestToAnnexBCorrupt(t *testing.T) {
	_, err := toAnnexB([]byte{0, 0, 0, 9, 0x65}, 4, nil)
	assert.Error(t, err)

	_, err = toAnnexB([]byte{0, 0, 0}, 4, nil)
	assert.Error(t, err)
}
