// Package server accepts WebSocket connections, owns the session registry,
// and routes inbound envelopes to the call session or the interaction sink.
package server

import (
	"errors"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"emergency-call-console/internal/config"
	"emergency-call-console/internal/events"
	"emergency-call-console/internal/observability/metrics"
	"emergency-call-console/internal/protocol"
	"emergency-call-console/internal/service/call"
)

// maxFrameBytes bounds inbound JSON text frames.
const maxFrameBytes = 64 * 1024

// Server tracks one session per live connection. The registry is the only
// state shared across sessions and is guarded by one mutex.
type Server struct {
	cfg     *config.Configuration
	sink    *events.Sink
	log     zerolog.Logger
	metrics *metrics.Metrics

	upgrader websocket.Upgrader

	mu       sync.Mutex
	sessions map[*websocket.Conn]*clientConn
	closed   bool
}

// clientConn pairs a transport handle with its session. Writes are
// serialized by writeMu: session timers and the read loop both send.
type clientConn struct {
	ws      *websocket.Conn
	session *call.Session

	writeMu sync.Mutex
}

// New creates a server. The sink receives interaction and lifecycle events.
func New(cfg *config.Configuration, sink *events.Sink, logger zerolog.Logger) *Server {
	return &Server{
		cfg:     cfg,
		sink:    sink,
		log:     logger,
		metrics: metrics.DefaultMetrics,
		upgrader: websocket.Upgrader{
			// Demo console: any origin may connect.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		sessions: make(map[*websocket.Conn]*clientConn),
	}
}

// ServeWS upgrades the request and runs the connection until it closes.
func (s *Server) ServeWS(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	ws.SetReadLimit(maxFrameBytes)

	sessionID := uuid.NewString()
	log := s.log.With().Str("sessionId", sessionID).Logger()

	cc := &clientConn{ws: ws}
	cc.session = call.NewSession(sessionID, cc.send, s.cfg.Call, log)

	if !s.register(ws, cc) {
		ws.Close()
		return
	}
	s.metrics.RecordConnectionOpened()
	log.Info().Str("remote", r.RemoteAddr).Msg("client connected")
	s.sink.LogEvent(sessionID, "connection", map[string]any{"remote": r.RemoteAddr})

	cc.sendMessage(log, protocol.TypeConnectionAck, protocol.ConnectionAck{SessionID: sessionID})
	cc.session.AnnounceIdle()

	s.readLoop(cc, log)

	cc.session.Close()
	s.unregister(ws)
	s.metrics.RecordConnectionClosed()
	log.Info().Msg("client disconnected")
	s.sink.LogEvent(sessionID, "disconnection", nil)
	ws.Close()
}

// readLoop consumes frames until the transport errors or closes. Protocol
// errors are confined to this connection; the loop never panics the server.
func (s *Server) readLoop(cc *clientConn, log zerolog.Logger) {
	for {
		msgType, data, err := cc.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warn().Err(err).Msg("transport error")
			}
			return
		}
		if msgType != websocket.TextMessage {
			log.Warn().Msg("dropping non-text frame")
			s.metrics.RecordEnvelopeDropped("binary_frame")
			continue
		}

		msg, err := protocol.Decode(data)
		if err != nil {
			log.Warn().Err(err).Msg("dropping malformed envelope")
			s.metrics.RecordEnvelopeDropped("malformed")
			continue
		}
		s.dispatch(cc, log, msg)
	}
}

func (s *Server) dispatch(cc *clientConn, log zerolog.Logger, msg any) {
	sessionID := cc.session.ID()

	switch m := msg.(type) {
	case protocol.CallStartMessage:
		s.metrics.RecordEnvelopeReceived(protocol.TypeCallStart)
		err := cc.session.StartCall()
		switch {
		case err == nil:
			s.sink.LogEvent(sessionID, "call:start", nil)
		case errors.Is(err, call.ErrCallAlreadyActive):
			log.Info().Msg("call already underway, ignoring call:start")
		default:
			log.Warn().Err(err).Msg("call:start rejected")
		}

	case protocol.CallEndMessage:
		s.metrics.RecordEnvelopeReceived(protocol.TypeCallEnd)
		err := cc.session.EndCall()
		switch {
		case err == nil:
			s.sink.LogEvent(sessionID, "call:end", nil)
		case errors.Is(err, call.ErrNoActiveCall):
			log.Info().Msg("no call underway, ignoring call:end")
		default:
			log.Warn().Err(err).Msg("call:end rejected")
		}

	case protocol.UIInteractionMessage:
		s.metrics.RecordEnvelopeReceived(protocol.TypeUIInteraction)
		token := s.sink.LogInteraction(sessionID, m.Payload)
		cc.sendMessage(log, protocol.TypeInteractionAck, protocol.InteractionAck{InteractionID: token})

	case protocol.UnknownMessage:
		s.metrics.RecordEnvelopeReceived("unknown")
		log.Debug().Str("type", m.Type).Msg("ignoring unknown envelope type")

	default:
		// Structurally valid but server-bound types have no business arriving
		// here; drop without touching call state.
		s.metrics.RecordEnvelopeDropped("unexpected_direction")
		log.Debug().Msg("ignoring server-directional envelope from client")
	}
}

// Close tears down every live connection. The sessions cancel their timers
// before the transport goes away.
func (s *Server) Close() {
	s.mu.Lock()
	s.closed = true
	conns := make([]*clientConn, 0, len(s.sessions))
	for _, cc := range s.sessions {
		conns = append(conns, cc)
	}
	s.sessions = make(map[*websocket.Conn]*clientConn)
	s.mu.Unlock()

	for _, cc := range conns {
		cc.session.Close()
		cc.ws.Close()
	}
}

// SessionCount reports the number of live sessions.
func (s *Server) SessionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func (s *Server) register(ws *websocket.Conn, cc *clientConn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.sessions[ws] = cc
	return true
}

func (s *Server) unregister(ws *websocket.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, ws)
}

// send delivers one envelope on the wire in call order.
func (cc *clientConn) send(env protocol.Envelope) error {
	data, err := protocol.Encode(env)
	if err != nil {
		return err
	}
	cc.writeMu.Lock()
	defer cc.writeMu.Unlock()
	return cc.ws.WriteMessage(websocket.TextMessage, data)
}

func (cc *clientConn) sendMessage(log zerolog.Logger, msgType string, payload any) {
	env, err := protocol.NewEnvelope(msgType, payload)
	if err != nil {
		log.Error().Err(err).Str("type", msgType).Msg("failed to build envelope")
		return
	}
	if err := cc.send(env); err != nil {
		log.Warn().Err(err).Str("type", msgType).Msg("failed to send envelope")
		return
	}
	metrics.DefaultMetrics.RecordEnvelopeSent(msgType)
}
