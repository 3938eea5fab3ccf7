package main

import (
	"fmt"
	"runtime"

	"github.com/rs/zerolog/log"
	"github.com/veandco/go-sdl2/sdl"

	"masterselects/internal/engine"
)

const (
	windowWidth  = 1280
	windowHeight = 720
	seekStepSecs = 5.0
)

// runPreview opens an SDL2 window as the engine's preview sink and runs
// the UI loop on the main thread. Space toggles play/pause, arrows seek,
// S stops, Q/Escape quits.
func runPreview(file, kernelDir string, cacheMB int) error {
	runtime.LockOSThread()

	if err := sdl.Init(sdl.INIT_VIDEO); err != nil {
		return fmt.Errorf("sdl init: %w", err)
	}
	defer sdl.Quit()

	window, err := sdl.CreateWindow(
		"MasterSelects Preview",
		sdl.WINDOWPOS_CENTERED, sdl.WINDOWPOS_CENTERED,
		windowWidth, windowHeight,
		sdl.WINDOW_SHOWN|sdl.WINDOW_RESIZABLE,
	)
	if err != nil {
		return fmt.Errorf("create window: %w", err)
	}
	defer window.Destroy()

	renderer, err := sdl.CreateRenderer(window, -1, sdl.RENDERER_ACCELERATED|sdl.RENDERER_PRESENTVSYNC)
	if err != nil {
		log.Warn().Err(err).Msg("accelerated renderer unavailable, trying software")
		renderer, err = sdl.CreateRenderer(window, -1, sdl.RENDERER_SOFTWARE)
		if err != nil {
			return fmt.Errorf("create renderer: %w", err)
		}
	}
	defer renderer.Destroy()

	sink := &sdlSink{renderer: renderer}
	defer sink.destroy()

	eng := engine.New(engine.Config{KernelDir: kernelDir, CacheMB: cacheMB})
	defer eng.Stop()

	if file != "" {
		if err := eng.OpenFile(file); err != nil {
			log.Error().Err(err).Str("file", file).Msg("open failed")
		}
	}

	for {
		for event := sdl.PollEvent(); event != nil; event = sdl.PollEvent() {
			switch e := event.(type) {
			case *sdl.QuitEvent:
				return nil
			case *sdl.KeyboardEvent:
				if e.Type != sdl.KEYDOWN {
					continue
				}
				switch e.Keysym.Sym {
				case sdl.K_q, sdl.K_ESCAPE:
					return nil
				case sdl.K_SPACE:
					eng.TogglePlayPause()
				case sdl.K_LEFT:
					eng.Seek(eng.CurrentTimeSecs() - seekStepSecs)
				case sdl.K_RIGHT:
					eng.Seek(eng.CurrentTimeSecs() + seekStepSecs)
				case sdl.K_s:
					eng.Stop()
				}
			}
		}

		eng.Update(sink)
		sink.present()
		window.SetTitle("MasterSelects Preview - " + eng.StatusLine())

		sdl.Delay(5)
	}
}

// sdlSink uploads RGBA frames into a streaming texture, recreating it on
// resolution changes.
type sdlSink struct {
	renderer *sdl.Renderer
	texture  *sdl.Texture
	width    uint32
	height   uint32
	hasFrame bool
}

func (s *sdlSink) UpdateRGBA(data []byte, width, height uint32) {
	if s.texture == nil || s.width != width || s.height != height {
		if s.texture != nil {
			s.texture.Destroy()
			s.texture = nil
		}
		tex, err := s.renderer.CreateTexture(
			uint32(sdl.PIXELFORMAT_RGBA32),
			sdl.TEXTUREACCESS_STREAMING,
			int32(width), int32(height),
		)
		if err != nil {
			log.Error().Err(err).Msg("create texture failed")
			return
		}
		s.texture = tex
		s.width = width
		s.height = height
	}

	pixels, _, err := s.texture.Lock(nil)
	if err != nil {
		log.Error().Err(err).Msg("lock texture failed")
		return
	}
	copy(pixels, data)
	s.texture.Unlock()
	s.hasFrame = true
}

func (s *sdlSink) present() {
	s.renderer.SetDrawColor(0, 0, 0, 255)
	s.renderer.Clear()
	if s.hasFrame && s.texture != nil {
		s.renderer.Copy(s.texture, nil, nil)
	}
	s.renderer.Present()
}

func (s *sdlSink) destroy() {
	if s.texture != nil {
		s.texture.Destroy()
		s.texture = nil
	}
}
