// Package server exposes the preview decode pipeline to external UIs
// over a localhost WebSocket: JSON commands in, JSON responses plus
// binary RGBA frame messages out.
package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"masterselects/internal/engine"
	"masterselects/internal/types"
)

// Config holds the server configuration.
type Config struct {
	Addr           string
	AllowedOrigins []string
	KernelDir      string
	CacheMB        int
	// FrameInterval paces how often the session loop pumps the engine
	// and pushes frames. Defaults to ~30Hz.
	FrameInterval time.Duration
}

// Server accepts WebSocket preview sessions. Each connection owns one
// engine and therefore one decode pipeline.
type Server struct {
	cfg      Config
	upgrader websocket.Upgrader
}

// New creates a server.
func New(cfg Config) *Server {
	if cfg.FrameInterval <= 0 {
		cfg.FrameInterval = 33 * time.Millisecond
	}
	s := &Server{cfg: cfg}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 1 << 20,
		CheckOrigin:     func(r *http.Request) bool { return s.originAllowed(r.Header.Get("Origin")) },
	}
	return s
}

// originAllowed admits local UIs plus configured origins.
func (s *Server) originAllowed(origin string) bool {
	if origin == "" {
		return true
	}
	for _, prefix := range []string{
		"http://localhost", "http://127.0.0.1",
		"https://localhost", "https://127.0.0.1",
	} {
		if strings.HasPrefix(origin, prefix) {
			return true
		}
	}
	for _, allowed := range s.cfg.AllowedOrigins {
		if origin == allowed {
			return true
		}
	}
	return false
}

// Handler returns the HTTP handler (exposed for tests).
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		s.handleWS(w, r)
	})
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"ok":true}`)
	})
	return mux
}

// ListenAndServe blocks serving preview sessions.
func (s *Server) ListenAndServe() error {
	log.Info().Str("addr", s.cfg.Addr).Msg("frame server listening")
	return http.ListenAndServe(s.cfg.Addr, s.Handler())
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("websocket upgrade failed")
		return
	}

	sess := &session{
		id:     uuid.NewString(),
		conn:   conn,
		server: s,
		engine: engine.New(engine.Config{
			KernelDir: s.cfg.KernelDir,
			CacheMB:   s.cfg.CacheMB,
		}),
	}
	log.Info().Str("session", sess.id).Str("remote", r.RemoteAddr).Msg("preview session connected")
	sess.run()
}

// session drives one connection. All writes happen on the run loop
// goroutine; the reader goroutine only feeds parsed commands in.
type session struct {
	id     string
	conn   *websocket.Conn
	server *Server
	engine *engine.Engine

	frameNum uint32
	// Set by the sink during Update when the engine displayed a frame.
	pendingFrame  []byte
	pendingWidth  uint32
	pendingHeight uint32
}

// UpdateRGBA implements types.PreviewSink: the engine's display becomes
// the next binary frame message.
func (sess *session) UpdateRGBA(data []byte, width, height uint32) {
	sess.pendingFrame = data
	sess.pendingWidth = width
	sess.pendingHeight = height
}

func (sess *session) run() {
	defer func() {
		sess.engine.Stop()
		sess.conn.Close()
		log.Info().Str("session", sess.id).Msg("preview session closed")
	}()

	commands := make(chan Command, 16)
	readerDone := make(chan struct{})
	go sess.readLoop(commands, readerDone)

	ticker := time.NewTicker(sess.server.cfg.FrameInterval)
	defer ticker.Stop()

	var lastSent []byte
	for {
		select {
		case <-readerDone:
			return
		case cmd := <-commands:
			resp := sess.handleCommand(cmd)
			if err := sess.writeJSON(resp); err != nil {
				return
			}
		case <-ticker.C:
			sess.pendingFrame = nil
			sess.engine.Update(sess)
			// Only newly displayed frames go out; redisplays of the
			// cached frame are skipped to keep the link quiet.
			if sess.pendingFrame != nil && safeFirst(sess.pendingFrame) != safeFirst(lastSent) {
				msg := encodeFrameMessage(sess.pendingFrame, sess.pendingWidth, sess.pendingHeight, sess.frameNum)
				sess.frameNum++
				if err := sess.conn.WriteMessage(websocket.BinaryMessage, msg); err != nil {
					return
				}
				lastSent = sess.pendingFrame
			}
		}
	}
}

func safeFirst(b []byte) *byte {
	if len(b) == 0 {
		return nil
	}
	return &b[0]
}

func (sess *session) readLoop(commands chan<- Command, done chan<- struct{}) {
	defer close(done)
	for {
		msgType, data, err := sess.conn.ReadMessage()
		if err != nil {
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		var cmd Command
		if err := json.Unmarshal(data, &cmd); err != nil {
			log.Warn().Err(err).Str("session", sess.id).Msg("bad command")
			continue
		}
		commands <- cmd
	}
}

// handleCommand applies one command to the session's engine.
func (sess *session) handleCommand(cmd Command) Response {
	log.Debug().Str("session", sess.id).Str("cmd", cmd.Cmd).Msg("command")

	switch cmd.Cmd {
	case "open":
		if cmd.Path == "" {
			return Response{ID: cmd.ID, OK: false, Error: "open requires a path"}
		}
		if err := sess.engine.OpenFile(cmd.Path); err != nil {
			return Response{ID: cmd.ID, OK: false, Error: err.Error(), Status: sess.status()}
		}
	case "play":
		sess.engine.Play()
	case "pause":
		sess.engine.Pause()
	case "seek":
		sess.engine.Seek(cmd.Time)
	case "stop":
		sess.engine.Stop()
	case "status":
		// Status-only request; fall through to the shared response.
	default:
		return Response{ID: cmd.ID, OK: false, Error: fmt.Sprintf("unknown command %q", cmd.Cmd)}
	}

	return Response{ID: cmd.ID, OK: true, Status: sess.status()}
}

func (sess *session) status() *Status {
	st := &Status{
		State:        sess.engine.State().Label(),
		DurationSecs: sess.engine.DurationSecs(),
		PositionSecs: sess.engine.CurrentTimeSecs(),
		Gpu:          sess.engine.GpuName(),
		HwDecode:     sess.engine.GpuDecodeActive(),
	}
	if sess.engine.State() == engine.StateError {
		st.State = "Error: " + sess.engine.ErrorMessage()
	}
	if info := sess.engine.FileInfo(); info != nil {
		st.File = info.FileName
		st.Width = info.Resolution.Width
		st.Height = info.Resolution.Height
	}
	return st
}

func (sess *session) writeJSON(resp Response) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	return sess.conn.WriteMessage(websocket.TextMessage, data)
}

var _ types.PreviewSink = (*session)(nil)
