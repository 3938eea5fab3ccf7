//go:build linux

package nvdec

import (
	"fmt"

	"github.com/ebitengine/purego"
)

// LoadLibrary opens libnvcuvid and resolves the parser and decoder entry
// points by name. Nothing is linked statically, so machines without the
// driver only pay for this call when a file open is attempted.
func LoadLibrary() (*Library, error) {
	handle, err := purego.Dlopen("libnvcuvid.so.1", purego.RTLD_NOW|purego.RTLD_GLOBAL)
	if err != nil {
		handle, err = purego.Dlopen("libnvcuvid.so", purego.RTLD_NOW|purego.RTLD_GLOBAL)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLibraryNotFound, err)
	}

	lib := &Library{handle: handle}

	bindings := []struct {
		fptr any
		name string
	}{
		{&lib.createDecoder, "cuvidCreateDecoder"},
		{&lib.destroyDecoder, "cuvidDestroyDecoder"},
		{&lib.decodePicture, "cuvidDecodePicture"},
		{&lib.mapFrame, "cuvidMapVideoFrame64"},
		{&lib.unmapFrame, "cuvidUnmapVideoFrame64"},
		{&lib.createParser, "cuvidCreateVideoParser"},
		{&lib.destroyParser, "cuvidDestroyVideoParser"},
		{&lib.parseData, "cuvidParseVideoData"},
	}

	for _, b := range bindings {
		if addr, err := purego.Dlsym(handle, b.name); err != nil || addr == 0 {
			purego.Dlclose(handle)
			return nil, fmt.Errorf("%w: %s", ErrSymbolNotFound, b.name)
		}
		purego.RegisterLibFunc(b.fptr, handle, b.name)
	}

	lib.seqCB = purego.NewCallback(sequenceTrampoline)
	lib.decodeCB = purego.NewCallback(decodePictureTrampoline)
	lib.displayCB = purego.NewCallback(displayPictureTrampoline)

	return lib, nil
}
