package engine

import (
	"errors"
	"runtime"
	"time"

	"github.com/rs/zerolog/log"

	"masterselects/internal/cuda"
	"masterselects/internal/demux"
	"masterselects/internal/nvdec"
	"masterselects/internal/types"
)

// Commands sent from the engine to the decode worker.
type cmdKind int

const (
	cmdPlay cmdKind = iota
	cmdPause
	cmdSeek
	cmdStop
)

type command struct {
	kind     cmdKind
	seekSecs float64
}

// gpuInfoMsg is sent exactly once per worker, reporting the negotiated
// decode capability.
type gpuInfoMsg struct {
	name    string
	hwAccel bool
}

// frameChannelCap bounds the RGBA frame channel; this is the pipeline's
// backpressure.
const frameChannelCap = 4

// pauseIdleSleep keeps a paused worker responsive to commands without
// burning CPU.
const pauseIdleSleep = 10 * time.Millisecond

// worker is the decode thread state. Exactly one worker runs per open
// file; it owns the CUDA context, the decode session, the demuxer, and
// the RGBA device buffer, and it is the only goroutine that touches any
// of them.
type worker struct {
	info    types.FileInfo
	frameCh chan<- types.RgbaFrame
	cmdCh   <-chan command

	playing       bool
	frameNum      uint64
	sentFirst     bool
	needSeekFrame bool

	// Commands observed while blocked on a frame send, replayed before
	// the next drain so ordering is preserved.
	pending []command
}

// workerMain is the decode worker entry point. It locks the goroutine to
// an OS thread (the CUDA context is bound per thread), negotiates the
// decode path, and runs the matching loop until stopped. Closing the
// frame channel on return is the termination signal the engine observes.
func workerMain(info types.FileInfo, frameCh chan<- types.RgbaFrame, cmdCh <-chan command, gpuInfoCh chan<- gpuInfoMsg, kernelDir string) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer close(frameCh)

	log.Info().
		Str("file", info.FileName).
		Stringer("resolution", info.Resolution).
		Stringer("fps", info.FPS).
		Msg("decode worker started")

	w := &worker{info: info, frameCh: frameCh, cmdCh: cmdCh}

	hw, err := tryInitNvdec(info.Codec, kernelDir)
	if err != nil {
		log.Warn().Err(err).Msg("hardware decode unavailable, using software path")
		gpuInfoCh <- gpuInfoMsg{name: "None (software)", hwAccel: false}

		dmx, derr := demux.Open(info.Path)
		if derr != nil {
			log.Warn().Err(derr).Str("file", info.FileName).Msg("demuxer unavailable, using synthetic frames")
			w.syntheticLoop()
			return
		}
		defer dmx.Close()
		w.realLoop(dmx)
		return
	}

	gpuInfoCh <- gpuInfoMsg{name: hw.gpuName, hwAccel: true}

	dmx, derr := demux.Open(info.Path)
	if derr != nil {
		log.Warn().Err(derr).Str("file", info.FileName).Msg("demuxer unavailable, using synthetic frames")
		hw.close()
		w.syntheticLoop()
		return
	}
	defer dmx.Close()

	log.Info().
		Str("gpu", hw.gpuName).
		Bool("gpu_kernel", hw.kernel != nil).
		Str("file", info.FileName).
		Msg("hardware decode active")
	w.nvdecLoop(dmx, hw)
}

// nvdecInit is everything the hardware loop needs, produced by the
// negotiation step.
type nvdecInit struct {
	drv     *cuda.Driver
	ctx     cuda.Context
	lib     *nvdec.Library
	sess    *nvdec.Session
	gpuName string
	kernel  *convertKernel
}

func (n *nvdecInit) close() {
	if n.sess != nil {
		n.sess.Close()
		n.sess = nil
	}
	if n.ctx != 0 {
		if err := n.drv.DestroyContext(n.ctx); err != nil {
			log.Warn().Err(err).Msg("CUDA context destroy failed")
		}
		n.ctx = 0
	}
}

// tryInitNvdec brings up the whole hardware stack on the calling thread:
// CUDA context, nvcuvid binding, decode session, and (best effort) the
// colour kernel. Any failure tears down what was built and demotes the
// worker to the software path.
func tryInitNvdec(codec types.CodecID, kernelDir string) (*nvdecInit, error) {
	drv, err := cuda.Load()
	if err != nil {
		return nil, err
	}
	if err := drv.Init(); err != nil {
		return nil, err
	}

	ctx, gpuName, err := drv.CreateContext(0)
	if err != nil {
		return nil, err
	}
	log.Info().Str("gpu", gpuName).Msg("CUDA context initialized")

	lib, err := nvdec.LoadLibrary()
	if err != nil {
		drv.DestroyContext(ctx)
		return nil, err
	}

	sess, err := nvdec.NewSession(lib, codec, 20, 0)
	if err != nil {
		drv.DestroyContext(ctx)
		return nil, err
	}

	kernel := tryLoadConvertKernel(drv, kernelDir)

	return &nvdecInit{
		drv:     drv,
		ctx:     ctx,
		lib:     lib,
		sess:    sess,
		gpuName: gpuName,
		kernel:  kernel,
	}, nil
}

// nvdecLoop is the hardware decode loop: real packets decoded on the
// GPU, converted to RGBA either by the kernel or the CPU fallback.
func (w *worker) nvdecLoop(dmx types.Demuxer, hw *nvdecInit) {
	defer hw.close()

	fps := w.info.FPS.Float()
	if fps <= 0 {
		fps = types.FPS30.Float()
	}
	frameDur := time.Duration(float64(time.Second) / fps)

	// Re-bind the context: negotiation and loop share a locked thread,
	// but the bind is cheap and keeps the invariant obvious.
	if err := hw.drv.BindContext(hw.ctx); err != nil {
		log.Error().Err(err).Msg("failed to bind CUDA context")
		return
	}

	var rgbaBuf *cuda.RgbaBuffer
	defer func() {
		if rgbaBuf != nil {
			rgbaBuf.Free()
		}
	}()

	for {
		if w.drainCommands(func(t float64) {
			if err := hw.drv.BindContext(hw.ctx); err != nil {
				log.Warn().Err(err).Msg("failed to re-bind CUDA context after seek")
			}
			if err := hw.sess.Reset(); err != nil {
				log.Warn().Err(err).Msg("session reset on seek failed")
			}
			if err := dmx.Seek(t); err != nil {
				log.Warn().Err(err).Msg("demuxer seek failed")
			}
			w.frameNum = uint64(t*fps + 0.5)
		}) {
			return
		}

		if !w.playing && w.sentFirst && !w.needSeekFrame {
			time.Sleep(pauseIdleSleep)
			continue
		}

		pkt, err := dmx.NextVideoPacket()
		if errors.Is(err, types.EOS) {
			log.Info().Uint64("frames", w.frameNum).Msg("end of stream, flushing decoder")
			if ferr := hw.sess.Flush(); ferr != nil {
				// Parser errors during flush are warnings, not failures.
				log.Warn().Err(ferr).Msg("decoder flush failed")
			}
			if !w.emitReadyFrames(hw, &rgbaBuf) {
				return
			}
			w.playing = false
			continue
		}
		if err != nil {
			log.Error().Err(err).Msg("packet read failed")
			w.playing = false
			continue
		}

		if err := hw.sess.ParseData(pkt.Data, pkt.PTSSecs); err != nil {
			var initErr *types.HwDecoderInitError
			if errors.As(err, &initErr) {
				// Decoder setup failure is fatal for this open; the
				// closing frame channel surfaces it to the engine.
				log.Error().Err(err).Msg("hardware decoder init failed mid-stream")
				return
			}
			log.Error().Err(err).Msg("packet decode failed")
		}

		if !w.emitReadyFrames(hw, &rgbaBuf) {
			return
		}

		// Pace decode roughly to real time; the bounded channel is the
		// hard backstop against accumulation.
		time.Sleep(frameDur)
	}
}

// emitReadyFrames drains the session's display queue: each frame is
// mapped, converted, released, and sent, strictly one mapping at a time.
// Returns false when the worker must exit.
func (w *worker) emitReadyFrames(hw *nvdecInit, rgbaBuf **cuda.RgbaBuffer) bool {
	for {
		frame, err := hw.sess.PopAndMapNext()
		if err != nil {
			// A map failure skips that frame; the session survives.
			log.Error().Err(err).Msg("frame map failed")
			continue
		}
		if frame == nil {
			return true
		}

		var rgba []byte
		if hw.kernel != nil {
			rgba, err = gpuConvert(hw.drv, hw.kernel, frame, rgbaBuf)
		} else {
			rgba, err = cpuConvert(hw.drv, frame)
		}
		if err != nil {
			log.Error().Err(err).Msg("NV12->RGBA conversion failed")
			frame.Release()
			continue
		}
		frame.MarkConsumed()

		width := frame.Width
		height := frame.Height
		pts := frame.PTSSecs
		// The surface goes back to the decoder before the send: the DPB
		// slot must be reusable while the frame sits in the channel.
		frame.Release()

		if !w.sendFrame(types.RgbaFrame{Data: rgba, Width: width, Height: height, PTSSecs: pts}) {
			return false
		}
		w.afterFrameSent(width, height)
	}
}

// realLoop reads real packets for timing but generates synthetic pixels;
// it keeps the control plane exercised when hardware decode is missing.
func (w *worker) realLoop(dmx types.Demuxer) {
	width := w.info.Resolution.Width
	height := w.info.Resolution.Height
	fps := w.info.FPS.Float()
	if fps <= 0 {
		fps = types.FPS30.Float()
	}
	frameDur := time.Duration(float64(time.Second) / fps)

	for {
		if w.drainCommands(func(t float64) {
			if err := dmx.Seek(t); err != nil {
				log.Warn().Err(err).Msg("demuxer seek failed")
			}
			w.frameNum = uint64(t*fps + 0.5)
		}) {
			return
		}

		if !w.playing && w.sentFirst && !w.needSeekFrame {
			time.Sleep(pauseIdleSleep)
			continue
		}

		pkt, err := dmx.NextVideoPacket()
		if errors.Is(err, types.EOS) {
			log.Info().Uint64("frames", w.frameNum).Msg("end of stream")
			w.playing = false
			continue
		}
		if err != nil {
			log.Error().Err(err).Msg("packet read failed")
			w.playing = false
			continue
		}

		rgba := generateSyntheticFrame(width, height, w.frameNum, pkt.PTSSecs)
		if !w.sendFrame(types.RgbaFrame{Data: rgba, Width: width, Height: height, PTSSecs: pkt.PTSSecs}) {
			return
		}
		w.afterFrameSent(width, height)
		time.Sleep(frameDur)
	}
}

// syntheticLoop generates an animated pattern at the target FPS when
// neither GPU nor demuxer is available.
func (w *worker) syntheticLoop() {
	width := w.info.Resolution.Width
	height := w.info.Resolution.Height
	fps := w.info.FPS.Float()
	if fps <= 0 {
		fps = types.FPS30.Float()
	}
	frameDur := time.Duration(float64(time.Second) / fps)
	totalFrames := uint64(w.info.DurationSecs*fps + 0.999)

	for {
		if w.drainCommands(func(t float64) {
			w.frameNum = uint64(t*fps + 0.5)
		}) {
			return
		}

		if !w.playing && w.sentFirst && !w.needSeekFrame {
			time.Sleep(pauseIdleSleep)
			continue
		}

		if w.frameNum >= totalFrames {
			w.playing = false
			continue
		}

		pts := float64(w.frameNum) / fps
		rgba := generateSyntheticFrame(width, height, w.frameNum, pts)
		if !w.sendFrame(types.RgbaFrame{Data: rgba, Width: width, Height: height, PTSSecs: pts}) {
			return
		}
		w.afterFrameSent(width, height)
		time.Sleep(frameDur)
	}
}

// drainCommands applies every queued command in send order. seek is the
// loop-specific seek action; it runs before the frame counter reset is
// observable. Returns true when the worker must exit.
func (w *worker) drainCommands(seek func(t float64)) bool {
	apply := func(c command) bool {
		switch c.kind {
		case cmdPlay:
			w.playing = true
		case cmdPause:
			w.playing = false
		case cmdSeek:
			seek(c.seekSecs)
			w.needSeekFrame = true
			log.Debug().Float64("t", c.seekSecs).Msg("decode worker: seek")
		case cmdStop:
			log.Info().Msg("decode worker: stop")
			return true
		}
		return false
	}

	for _, c := range w.pending {
		if apply(c) {
			return true
		}
	}
	w.pending = w.pending[:0]

	for {
		select {
		case c, ok := <-w.cmdCh:
			if !ok {
				log.Info().Msg("decode worker: command channel closed")
				return true
			}
			if apply(c) {
				return true
			}
		default:
			return false
		}
	}
}

// sendFrame delivers one frame with backpressure while staying
// responsive: commands arriving during a blocked send are queued for the
// next drain, and Stop (or a closed command channel) aborts the send.
// Returns false when the worker must exit.
func (w *worker) sendFrame(f types.RgbaFrame) bool {
	for {
		select {
		case w.frameCh <- f:
			return true
		case c, ok := <-w.cmdCh:
			if !ok || c.kind == cmdStop {
				log.Info().Msg("decode worker: stopped during frame send")
				return false
			}
			w.pending = append(w.pending, c)
		}
	}
}

func (w *worker) afterFrameSent(width, height uint32) {
	if !w.sentFirst {
		w.sentFirst = true
		log.Info().Uint32("width", width).Uint32("height", height).Msg("first frame sent")
	}
	if w.needSeekFrame {
		w.needSeekFrame = false
	}
	w.frameNum++
}
