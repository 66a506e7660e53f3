// Package transport upgrades inbound HTTP connections to WebSocket and
// runs the duplex read/write pumps for one session: a binary side
// carrying PCM/Opus audio frames and a text side carrying JSON control
// frames, both multiplexed over the single connection (spec §4.1).
// Generalized from the teacher's server/websocket.go + handle/
// handleWebSocket.go + websocket/websocket.go (HandleConnection's read
// loop and sendResponse/handleResponses).
package transport

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/zbcjackson/tank-server/apperr"
	"github.com/zbcjackson/tank-server/audio"
	"github.com/zbcjackson/tank-server/config"
	"github.com/zbcjackson/tank-server/metrics"
	"github.com/zbcjackson/tank-server/model"
	"github.com/zbcjackson/tank-server/protocol"
	"github.com/zbcjackson/tank-server/session"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// upgrader mirrors the teacher's permissive CheckOrigin; locking this
// down is a deployment concern outside this module's scope.
var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

const writeWait = 10 * time.Second

// SessionHandler receives each session as soon as its connection is
// upgraded (no hello handshake is awaited first), and is responsible for
// starting the Brain/TTS/segmenter
// pipeline and feeding inbound audio/text into it.
type SessionHandler interface {
	OnAudioFrame(sess *session.Session, frame model.AudioFrame)
	OnTextFrame(sess *session.Session, f protocol.Frame)
	OnOpen(sess *session.Session)
	OnClose(sess *session.Session)
}

// Server owns the HTTP listener and wires new connections to sessions.
type Server struct {
	cfg     *config.Config
	log     zerolog.Logger
	handler SessionHandler
}

// NewServer builds a transport Server bound to handler for every new
// connection.
func NewServer(cfg *config.Config, log zerolog.Logger, handler SessionHandler) *Server {
	return &Server{cfg: cfg, log: log, handler: handler}
}

// Handle upgrades r to a WebSocket connection and runs its duplex pumps
// until the client disconnects or ctx is cancelled. Safe to use directly
// as an http.HandlerFunc once bound to a server-lifetime ctx via a
// closure, as main.go does when registering its routes.
func (s *Server) Handle(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error().Err(err).Msg("websocket upgrade failed")
		return
	}

	deviceID := r.Header.Get("device-id")
	sessionID := r.PathValue("session_id")
	sess := session.New(ctx, sessionID, deviceID, s.cfg, s.log)
	metrics.SessionsOpened.Inc()
	metrics.SessionsActive.Inc()
	sess.Log.Info().Str("remote_addr", r.RemoteAddr).Msg("session opened")

	s.handler.OnOpen(sess)

	sess.Go(func() error { return s.writePump(sess, conn) })
	go func() {
		<-sess.Context().Done()
		_ = conn.Close()
	}()

	s.readPump(sess, conn)

	sess.Close()
	_ = sess.Wait()
	_ = conn.Close()
	metrics.SessionsActive.Dec()
	s.handler.OnClose(sess)
	sess.Log.Info().Msg("session closed")
}

// readPump is the single reader of conn, per gorilla/websocket's
// one-reader-per-connection contract. It demultiplexes binary audio
// frames from JSON text control frames (spec §4.1).
func (s *Server) readPump(sess *session.Session, conn *websocket.Conn) {
	sampleRate := sess.Cfg.Audio.SampleRateIn
	var clockMs float64
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if !isExpectedClose(err) {
				sess.Log.Warn().Err(err).Msg("read error")
			}
			return
		}

		switch msgType {
		case websocket.BinaryMessage:
			frame, err := audio.DecodeInbound(data, sampleRate, clockMs/1000)
			if err != nil {
				sess.Log.Warn().Err(err).Msg("malformed audio frame")
				continue
			}
			clockMs += frame.DurationMs()
			s.handler.OnAudioFrame(sess, frame)
		case websocket.TextMessage:
			f, err := protocol.Unmarshal(data)
			if err != nil {
				sess.Log.Warn().Err(err).Msg("malformed control frame")
				sess.EnqueueFrame(protocol.Frame{
					Type:      protocol.FrameError,
					ErrorKind: string(apperr.KindProtocol),
					Message:   "malformed frame",
				})
				continue
			}
			s.handler.OnTextFrame(sess, f)
		}

		select {
		case <-sess.Context().Done():
			return
		default:
		}
	}
}

// writePump is the single writer of conn, draining Outbound until the
// session context is cancelled.
func (s *Server) writePump(sess *session.Session, conn *websocket.Conn) error {
	for {
		select {
		case <-sess.Context().Done():
			return nil
		case out, ok := <-sess.Outbound:
			if !ok {
				return nil
			}
			if err := writeOne(conn, out); err != nil {
				return err
			}
		}
	}
}

func writeOne(conn *websocket.Conn, out session.OutboundFrame) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if out.Binary {
		return conn.WriteMessage(websocket.BinaryMessage, out.Audio)
	}
	data, err := protocol.Marshal(out.Frame)
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}

func isExpectedClose(err error) bool {
	return websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure,
	) || errors.Is(err, websocket.ErrCloseSent)
}

