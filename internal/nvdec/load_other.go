//go:build !linux

package nvdec

// LoadLibrary is a stub on platforms without nvcuvid; the worker falls
// back to the software path.
func LoadLibrary() (*Library, error) {
	return nil, ErrLibraryNotFound
}
