// Package demux opens container files and feeds compressed video
// packets to the decode worker. Each supported container format maps to
// exactly one demuxer implementation; detection combines the file
// extension with a byte probe.
package demux

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"masterselects/internal/types"
)

// ErrNoVideoStream means the container opened but carries no video
// track the pipeline can read. The worker demotes to the synthetic path.
var ErrNoVideoStream = errors.New("no video stream found")

var ebmlMagic = []byte{0x1a, 0x45, 0xdf, 0xa3}

// DetectFormat determines the container format from the file extension,
// falling back to a magic-byte probe for unknown extensions.
func DetectFormat(path string) (types.ContainerFormat, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".mp4", ".mov", ".m4v":
		return types.ContainerMp4, nil
	case ".mkv":
		return types.ContainerMkv, nil
	case ".webm":
		return types.ContainerWebM, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("probe %s: %w", path, err)
	}
	defer f.Close()

	head := make([]byte, 12)
	if _, err := f.Read(head); err != nil {
		return 0, fmt.Errorf("probe %s: %w", path, err)
	}

	if len(head) >= 8 && bytes.Equal(head[4:8], []byte("ftyp")) {
		return types.ContainerMp4, nil
	}
	if bytes.HasPrefix(head, ebmlMagic) {
		return types.ContainerMkv, nil
	}
	return 0, fmt.Errorf("unsupported container format: %s", path)
}

// Open detects the container format and returns the matching demuxer.
func Open(path string) (types.Demuxer, error) {
	format, err := DetectFormat(path)
	if err != nil {
		return nil, err
	}
	switch format {
	case types.ContainerMp4:
		return OpenMp4(path)
	default:
		return OpenMkv(path)
	}
}

// ProbeFile opens a file just long enough to extract its metadata.
func ProbeFile(path string) (types.FileInfo, error) {
	d, err := Open(path)
	if err != nil {
		return types.FileInfo{}, err
	}
	defer d.Close()

	info := d.Probe()
	if len(info.VideoStreams) == 0 {
		return types.FileInfo{}, ErrNoVideoStream
	}
	v := info.VideoStreams[0]

	return types.FileInfo{
		Path:         path,
		FileName:     filepath.Base(path),
		Resolution:   v.Resolution,
		FPS:          v.FPS,
		DurationSecs: v.DurationSecs,
		Codec:        v.Codec,
	}, nil
}
