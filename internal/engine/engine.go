// Package engine drives the preview decode pipeline: a UI-side
// orchestrator that owns playback state and wall-clock pacing, and a
// decode worker goroutine that owns every GPU resource.
package engine

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"masterselects/internal/cache"
	"masterselects/internal/demux"
	"masterselects/internal/types"
)

// State is the engine's transport state.
type State int

const (
	StateIdle State = iota
	StateLoading
	StatePlaying
	StatePaused
	StateError
)

// Label is the short state string for UI display.
func (s State) Label() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateLoading:
		return "Loading..."
	case StatePlaying:
		return "Playing"
	case StatePaused:
		return "Paused"
	case StateError:
		return "Error"
	}
	return "Unknown"
}

// Config tunes an Engine. The zero value is usable; defaults fill in.
type Config struct {
	// PreviewWidth/Height size the idle and error patterns.
	PreviewWidth  uint32
	PreviewHeight uint32
	// KernelDir overrides where the worker looks for the NV12->RGBA
	// module.
	KernelDir string
	// CacheMB bounds the decoded-frame cache. 0 selects the default
	// (defaultCacheMB).
	CacheMB int
}

const defaultCacheMB = 256

// Engine is the UI-thread face of the pipeline. It is not safe for
// concurrent use: every method belongs to the thread that calls Update.
type Engine struct {
	cfg Config

	state  State
	errMsg string

	startTime time.Time

	fileInfo *types.FileInfo
	fileID   string

	currentTimeSecs float64
	// Wall-clock anchor, captured on the transition to Playing.
	anchorInstant  time.Time
	anchorTimeSecs float64

	frameCh    <-chan types.RgbaFrame
	cmdCh      chan<- command
	gpuInfoCh  <-chan gpuInfoMsg
	workerDone chan struct{}

	lastFrame       []byte
	lastFrameWidth  uint32
	lastFrameHeight uint32

	gpuName         string
	gpuDecodeActive bool

	frames *cache.FrameCache
}

// New creates an idle engine.
func New(cfg Config) *Engine {
	if cfg.PreviewWidth == 0 || cfg.PreviewHeight == 0 {
		cfg.PreviewWidth = types.HD.Width
		cfg.PreviewHeight = types.HD.Height
	}
	if cfg.CacheMB == 0 {
		cfg.CacheMB = defaultCacheMB
	}
	return &Engine{
		cfg:       cfg,
		state:     StateIdle,
		startTime: time.Now(),
		frames:    cache.New(cfg.CacheMB),
	}
}

// State is the current transport state.
func (e *Engine) State() State { return e.state }

// ErrorMessage is the diagnostic for StateError, empty otherwise.
func (e *Engine) ErrorMessage() string { return e.errMsg }

// FileInfo is the metadata of the loaded file, nil when idle.
func (e *Engine) FileInfo() *types.FileInfo { return e.fileInfo }

// CurrentTimeSecs is the playback position derived from the wall clock.
func (e *Engine) CurrentTimeSecs() float64 { return e.currentTimeSecs }

// DurationSecs is the loaded file's duration, 0 when idle.
func (e *Engine) DurationSecs() float64 {
	if e.fileInfo == nil {
		return 0
	}
	return e.fileInfo.DurationSecs
}

// GpuName is the detected GPU device name, or a placeholder before the
// worker reports in.
func (e *Engine) GpuName() string {
	if e.gpuName == "" {
		return "GPU: detecting..."
	}
	return e.gpuName
}

// GpuDecodeActive reports whether the worker negotiated hardware decode.
func (e *Engine) GpuDecodeActive() bool { return e.gpuDecodeActive }

// OpenFile probes a media file and starts its decode pipeline. The
// engine transitions to Paused and displays the first frame when it
// arrives. An unsupported codec fails the open and transitions to Error;
// any other probe failure falls back to defaults so the pipeline can
// still run synthetically.
func (e *Engine) OpenFile(path string) error {
	e.stopPipeline()

	e.state = StateLoading
	e.errMsg = ""
	e.currentTimeSecs = 0
	e.anchorInstant = time.Time{}
	e.lastFrame = nil

	info, err := demux.ProbeFile(path)
	if err != nil {
		var unsupported *types.UnsupportedCodecError
		if errors.As(err, &unsupported) {
			e.state = StateError
			e.errMsg = err.Error()
			log.Error().Err(err).Str("path", path).Msg("open failed: unsupported codec")
			return err
		}
		log.Warn().Err(err).Str("path", path).Msg("probe failed, using defaults")
		info = types.FileInfo{
			Path:         path,
			FileName:     filepath.Base(path),
			Resolution:   types.HD,
			FPS:          types.FPS30,
			DurationSecs: 10,
			Codec:        types.CodecH264,
		}
	} else {
		log.Info().
			Str("file", info.FileName).
			Stringer("resolution", info.Resolution).
			Stringer("fps", info.FPS).
			Float64("duration", info.DurationSecs).
			Stringer("codec", info.Codec).
			Msg("probed media file")
	}

	e.fileInfo = &info
	e.fileID = uuid.NewString()

	frameCh := make(chan types.RgbaFrame, frameChannelCap)
	cmdCh := make(chan command, 256)
	gpuInfoCh := make(chan gpuInfoMsg, 1)
	done := make(chan struct{})

	e.frameCh = frameCh
	e.cmdCh = cmdCh
	e.gpuInfoCh = gpuInfoCh
	e.workerDone = done

	workerInfo := info
	go func() {
		defer close(done)
		workerMain(workerInfo, frameCh, cmdCh, gpuInfoCh, e.cfg.KernelDir)
	}()

	e.state = StatePaused
	log.Info().Str("path", path).Str("pipeline", e.fileID).Msg("opened file")
	return nil
}

// Play starts or resumes playback, anchoring the wall clock.
func (e *Engine) Play() {
	if e.state != StatePaused && e.state != StateIdle {
		return
	}
	e.state = StatePlaying
	e.anchorInstant = time.Now()
	e.anchorTimeSecs = e.currentTimeSecs
	e.send(command{kind: cmdPlay})
	log.Debug().Float64("from", e.currentTimeSecs).Msg("play")
}

// Pause stops playback, dropping the wall-clock anchor.
func (e *Engine) Pause() {
	if e.state != StatePlaying {
		return
	}
	e.state = StatePaused
	e.anchorInstant = time.Time{}
	e.send(command{kind: cmdPause})
	log.Debug().Float64("at", e.currentTimeSecs).Msg("pause")
}

// TogglePlayPause flips between Playing and Paused.
func (e *Engine) TogglePlayPause() {
	switch e.state {
	case StatePlaying:
		e.Pause()
	case StatePaused, StateIdle:
		e.Play()
	}
}

// Seek moves the playback position, clamped to [0, duration]. The
// wall-clock anchor is reset when playing. A cached frame near the
// target is redisplayed immediately while the worker decodes.
func (e *Engine) Seek(timeSecs float64) {
	if e.state == StateError {
		return
	}

	t := timeSecs
	if t < 0 {
		t = 0
	}
	if d := e.DurationSecs(); d > 0 && t > d {
		t = d
	}
	e.currentTimeSecs = t

	if e.state == StatePlaying {
		e.anchorInstant = time.Now()
		e.anchorTimeSecs = t
	}

	if e.fileInfo != nil {
		frameNum := uint32(t*e.fileInfo.FPS.Float() + 0.5)
		if cached, ok := e.frames.Get(e.fileID, frameNum); ok {
			e.lastFrame = cached.Data
			e.lastFrameWidth = cached.Width
			e.lastFrameHeight = cached.Height
		}
	}

	e.send(command{kind: cmdSeek, seekSecs: t})
	log.Debug().Float64("t", t).Msg("seek")
}

// Stop shuts the pipeline down and returns to Idle.
func (e *Engine) Stop() {
	log.Info().Msg("stop")
	e.stopPipeline()
	e.state = StateIdle
	e.errMsg = ""
	e.fileInfo = nil
	e.currentTimeSecs = 0
	e.anchorInstant = time.Time{}
	e.lastFrame = nil
}

// Update pumps one UI frame. It never blocks: channels are polled, the
// newest decoded frame (or the cached previous one) goes to the sink,
// and the idle/error patterns render when no pipeline runs. Call once
// per UI repaint.
func (e *Engine) Update(sink types.PreviewSink) {
	if e.gpuInfoCh != nil {
		select {
		case info := <-e.gpuInfoCh:
			log.Info().Str("gpu", info.name).Bool("hw_accel", info.hwAccel).Msg("gpu info received")
			e.gpuName = info.name
			e.gpuDecodeActive = info.hwAccel
			e.gpuInfoCh = nil // one-shot
		default:
		}
	}

	switch e.state {
	case StatePlaying:
		e.updatePlaybackTime()
		e.pollAndDisplay(sink)
	case StatePaused, StateLoading:
		e.pollAndDisplay(sink)
	case StateIdle:
		frame := generateTestFrame(e.cfg.PreviewWidth, e.cfg.PreviewHeight, time.Since(e.startTime).Seconds())
		sink.UpdateRGBA(frame, e.cfg.PreviewWidth, e.cfg.PreviewHeight)
	case StateError:
		frame := generateErrorFrame(e.cfg.PreviewWidth, e.cfg.PreviewHeight)
		sink.UpdateRGBA(frame, e.cfg.PreviewWidth, e.cfg.PreviewHeight)
	}
}

func (e *Engine) updatePlaybackTime() {
	if e.anchorInstant.IsZero() {
		return
	}
	e.currentTimeSecs = e.anchorTimeSecs + time.Since(e.anchorInstant).Seconds()

	if d := e.DurationSecs(); d > 0 && e.currentTimeSecs >= d {
		e.currentTimeSecs = d
		e.Pause()
	}
}

// pollAndDisplay drains the frame channel without blocking, keeps only
// the newest frame, and hands it to the sink; with nothing new it
// redisplays the cached frame, or black before the first frame.
func (e *Engine) pollAndDisplay(sink types.PreviewSink) {
	var newest *types.RgbaFrame

	for e.frameCh != nil {
		select {
		case frame, ok := <-e.frameCh:
			if !ok {
				log.Warn().Msg("decode pipeline terminated")
				e.frameCh = nil
				if e.state != StateIdle && e.state != StateError {
					e.state = StateError
					e.errMsg = "decode pipeline terminated unexpectedly"
				}
			} else {
				newest = &frame
			}
			continue
		default:
		}
		break
	}

	if newest != nil {
		e.lastFrame = newest.Data
		e.lastFrameWidth = newest.Width
		e.lastFrameHeight = newest.Height

		if e.state == StateLoading {
			e.state = StatePaused
		}
		if e.fileInfo != nil {
			frameNum := uint32(newest.PTSSecs*e.fileInfo.FPS.Float() + 0.5)
			e.frames.Put(e.fileID, frameNum, cache.Frame{
				Data:   newest.Data,
				Width:  newest.Width,
				Height: newest.Height,
			})
		}
	}

	switch {
	case e.lastFrame != nil:
		sink.UpdateRGBA(e.lastFrame, e.lastFrameWidth, e.lastFrameHeight)
	default:
		w, h := e.cfg.PreviewWidth, e.cfg.PreviewHeight
		sink.UpdateRGBA(make([]byte, int(w)*int(h)*4), w, h)
	}
}

// stopPipeline signals Stop by closing the command channel (equivalent
// to a Stop command), unblocks the worker by draining the frame channel,
// and joins it.
func (e *Engine) stopPipeline() {
	if e.cmdCh != nil {
		close(e.cmdCh)
		e.cmdCh = nil
	}

	// The worker may be blocked publishing into a full channel; keep
	// draining until it closes the channel on exit.
	if e.frameCh != nil {
		for range e.frameCh {
		}
		e.frameCh = nil
	}

	if e.workerDone != nil {
		<-e.workerDone
		e.workerDone = nil
	}
	e.gpuInfoCh = nil

	if e.fileID != "" {
		e.frames.DropFile(e.fileID)
		e.fileID = ""
	}
}

func (e *Engine) send(c command) {
	if e.cmdCh == nil {
		return
	}
	select {
	case e.cmdCh <- c:
	default:
		log.Warn().Int("kind", int(c.kind)).Msg("command channel full, dropping command")
	}
}

// StatusLine is a single-line summary for logs and the preview HUD.
func (e *Engine) StatusLine() string {
	if e.fileInfo == nil {
		return e.state.Label()
	}
	return fmt.Sprintf("%s %s %.2f/%.2fs", e.state.Label(), e.fileInfo.FileName, e.currentTimeSecs, e.DurationSecs())
}
