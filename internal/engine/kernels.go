package engine

import (
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"

	"masterselects/internal/cuda"
)

const (
	kernelFileName  = "nv12_to_rgba.ptx"
	kernelEntryName = "nv12_to_rgba"
)

// convertKernel is the resolved NV12->RGBA GPU entry point.
type convertKernel struct {
	fn cuda.Function
}

// tryLoadConvertKernel looks for the pre-compiled NV12->RGBA module and
// resolves its entry point. A missing or unloadable module is not an
// error: the caller treats a nil kernel as the signal to convert on the
// CPU instead.
func tryLoadConvertKernel(drv *cuda.Driver, kernelDir string) *convertKernel {
	image, path := readKernelImage(kernelDir)
	if image == nil {
		log.Warn().Msg("NV12->RGBA kernel module not found, using CPU colour conversion")
		return nil
	}

	mod, err := drv.LoadModule(image)
	if err != nil {
		log.Warn().Err(err).Str("path", path).Msg("failed to load NV12->RGBA module, using CPU colour conversion")
		return nil
	}

	fn, err := drv.GetFunction(mod, kernelEntryName)
	if err != nil {
		log.Warn().Err(err).Str("path", path).Msg("failed to resolve NV12->RGBA entry point, using CPU colour conversion")
		return nil
	}

	log.Info().Str("path", path).Msg("NV12->RGBA GPU kernel loaded")
	return &convertKernel{fn: fn}
}

// readKernelImage probes the configured directory, then a kernels/
// subdirectory of the working directory, then a kernels/ subdirectory
// of the executable's directory for the kernel module.
func readKernelImage(kernelDir string) ([]byte, string) {
	var candidates []string
	if kernelDir != "" {
		candidates = append(candidates, filepath.Join(kernelDir, kernelFileName))
	}
	candidates = append(candidates, filepath.Join("kernels", kernelFileName))
	if exe, err := os.Executable(); err == nil {
		candidates = append(candidates, filepath.Join(filepath.Dir(exe), "kernels", kernelFileName))
	}

	for _, path := range candidates {
		if data, err := os.ReadFile(path); err == nil && len(data) > 0 {
			return data, path
		}
	}
	return nil, ""
}
