// Package server exposes the conversational pipeline over a WebSocket
// endpoint. Clients stream raw PCM audio as binary messages and exchange
// JSON control frames for session lifecycle; the server streams transcript
// and reply events back on the same connection.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/vocalis-ai/vocalis/internal/event"
	"github.com/vocalis-ai/vocalis/internal/session"
	"github.com/vocalis-ai/vocalis/pkg/audio"
)

// writeTimeout bounds a single WebSocket write so one stuck client cannot
// pin a goroutine forever.
const writeTimeout = 10 * time.Second

// outBuffer is the per-connection outbound frame buffer.
const outBuffer = 64

// conversation is the subset of the orchestrator API the transport needs.
// The session registry hands back this interface's implementer.
type conversation interface {
	ID() string
	HandleFrame(audio.Frame) error
	Heartbeat()
	Events() <-chan event.Event
}

// Server terminates WebSocket connections and bridges them to the session
// registry.
type Server struct {
	registry   *session.Registry
	logger     *slog.Logger
	sampleRate int
	channels   int

	// attached maps session id to the one connection consuming its events.
	mu       sync.Mutex
	attached map[string]*stream
}

// Option is a functional option for Server.
type Option func(*Server)

// WithLogger sets the server logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithAudioFormat sets the PCM format expected on binary messages.
// Defaults to 16 kHz mono.
func WithAudioFormat(sampleRate, channels int) Option {
	return func(s *Server) {
		if sampleRate > 0 {
			s.sampleRate = sampleRate
		}
		if channels > 0 {
			s.channels = channels
		}
	}
}

// attach claims the event stream of session id for st. It fails when
// another connection already consumes that stream.
func (s *Server) attach(id string, st *stream) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.attached[id]; ok {
		return false
	}
	s.attached[id] = st
	return true
}

// detach releases the claim if st still holds it.
func (s *Server) detach(id string, st *stream) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.attached[id] == st {
		delete(s.attached, id)
	}
}

// New constructs a Server on top of the given registry.
func New(registry *session.Registry, opts ...Option) *Server {
	s := &Server{
		registry:   registry,
		logger:     slog.Default(),
		sampleRate: 16000,
		channels:   1,
		attached:   make(map[string]*stream),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Register adds the /ws/stream route to mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /ws/stream", s.handleStream)
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.logger.Warn("websocket accept failed", "error", err)
		return
	}
	defer ws.Close(websocket.StatusInternalError, "connection teardown")

	st := &stream{
		server: s,
		ws:     ws,
		out:    make(chan ServerFrame, outBuffer),
	}

	g, ctx := errgroup.WithContext(r.Context())
	st.group = g
	g.Go(func() error { return st.writeLoop(ctx) })
	g.Go(func() error { return st.readLoop(ctx) })

	err = g.Wait()
	if st.conv != nil {
		s.detach(st.conv.ID(), st)
	}
	if err != nil && websocket.CloseStatus(err) < 0 && !errors.Is(err, context.Canceled) {
		s.logger.Warn("stream closed with error", "error", err)
	}
	ws.Close(websocket.StatusNormalClosure, "")
}

// stream is the per-connection state. One conversation may be active at a
// time; ending it allows the client to start another on the same socket.
type stream struct {
	server *Server
	ws     *websocket.Conn
	out    chan ServerFrame
	group  *errgroup.Group

	conv conversation // read loop only
}

// writeLoop is the single writer for the connection. Everything outbound,
// session events and transport errors alike, funnels through st.out so
// frames never interleave.
func (st *stream) writeLoop(ctx context.Context) error {
	for {
		select {
		case frame := <-st.out:
			data, err := json.Marshal(frame)
			if err != nil {
				return fmt.Errorf("server: marshal frame: %w", err)
			}
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err = st.ws.Write(wctx, websocket.MessageText, data)
			cancel()
			if err != nil {
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (st *stream) readLoop(ctx context.Context) error {
	for {
		typ, data, err := st.ws.Read(ctx)
		if err != nil {
			return err
		}
		switch typ {
		case websocket.MessageBinary:
			st.onAudio(ctx, data)
		case websocket.MessageText:
			st.onControl(ctx, data)
		}
	}
}

func (st *stream) onAudio(ctx context.Context, data []byte) {
	if st.conv == nil {
		st.send(ctx, errorFrame("", "audio received before SESSION_START"))
		return
	}
	frame, err := audio.NewFrame(data, st.server.sampleRate, st.server.channels, time.Now())
	if err != nil {
		// Malformed frames are dropped, not fatal.
		st.server.logger.Debug("dropping malformed audio frame",
			"session_id", st.conv.ID(), "error", err)
		return
	}
	if err := st.conv.HandleFrame(frame); err != nil {
		st.send(ctx, errorFrame(st.conv.ID(), err.Error()))
		st.server.detach(st.conv.ID(), st)
		st.conv = nil
	}
}

func (st *stream) onControl(ctx context.Context, data []byte) {
	var frame ClientFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		st.send(ctx, errorFrame("", fmt.Sprintf("bad control frame: %v", err)))
		return
	}

	switch frame.Type {
	case TypeSessionStart:
		st.onSessionStart(ctx, frame.SessionID)
	case TypeSessionEnd:
		if st.conv != nil && st.conv.ID() == frame.SessionID {
			st.server.detach(frame.SessionID, st)
			st.conv = nil
		}
		st.server.registry.End(ctx, frame.SessionID)
	case TypeHeartbeat:
		if st.conv != nil {
			st.conv.Heartbeat()
		}
	default:
		st.send(ctx, errorFrame(frame.SessionID, fmt.Sprintf("unknown message type %q", frame.Type)))
	}
}

func (st *stream) onSessionStart(ctx context.Context, id string) {
	if st.conv != nil {
		st.send(ctx, errorFrame(id, "a session is already active on this connection"))
		return
	}

	conv, created, err := st.server.registry.GetOrCreate(id)
	if err != nil {
		st.send(ctx, errorFrame(id, err.Error()))
		return
	}
	c, ok := conv.(conversation)
	if !ok {
		st.send(ctx, errorFrame(id, "session is not streamable"))
		return
	}
	// A session's event stream has exactly one consumer; a second connection
	// must wait for the first to let go.
	if !st.server.attach(id, st) {
		st.send(ctx, errorFrame(id, "session is attached to another connection"))
		return
	}
	st.conv = c

	if created {
		st.server.logger.Info("session attached", "session_id", id)
	} else {
		// Rejoining an existing session re-announces it so the client sees a
		// SESSION_STARTED either way.
		st.send(ctx, ServerFrame{Type: TypeSessionStarted, SessionID: id, Timestamp: time.Now()})
	}

	st.group.Go(func() error {
		st.pumpEvents(ctx, c)
		return nil
	})
}

// pumpEvents forwards one conversation's event stream to the connection
// until the stream closes or the connection goes away.
func (st *stream) pumpEvents(ctx context.Context, c conversation) {
	for {
		select {
		case ev, ok := <-c.Events():
			if !ok {
				// The conversation is gone; let another connection claim the
				// id if it is ever restarted.
				st.server.detach(c.ID(), st)
				return
			}
			frame, ok := fromEvent(ev)
			if !ok {
				continue
			}
			st.send(ctx, frame)
		case <-ctx.Done():
			return
		}
	}
}

func (st *stream) send(ctx context.Context, frame ServerFrame) {
	select {
	case st.out <- frame:
	case <-ctx.Done():
	}
}
