package server

import (
	"context"
	"encoding/base64"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/fennwick/voicefloor/internal/diarize"
	"github.com/fennwick/voicefloor/internal/protocol"
	"github.com/fennwick/voicefloor/internal/session"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

const controlTimeout = 10 * time.Second

func registerWSRoutes(mux *http.ServeMux, reg *session.Registry, log zerolog.Logger) {
	mux.HandleFunc("GET /ws/session/{id}", func(w http.ResponseWriter, r *http.Request) {
		handleSession(w, r, reg, log)
	})

	// Anything else under /ws/ is a malformed target: the connection is
	// opened only to deliver the terminal error, then closed.
	mux.HandleFunc("GET /ws/", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer func() { _ = conn.Close() }()
		writeMessage(conn, protocol.NewError(session.CodeInvalidSession, "connection target must be /ws/session/{sessionId}", false))
	})
}

func handleSession(w http.ResponseWriter, r *http.Request, reg *session.Registry, log zerolog.Logger) {
	sessionID := r.PathValue("id")

	sock, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("ws upgrade failed")
		return
	}
	defer func() { _ = sock.Close() }()

	if !validSessionID(sessionID) {
		writeMessage(sock, protocol.NewError(session.CodeInvalidSession, "invalid session id", false))
		return
	}

	conn := session.NewConn()
	sess, err := reg.Join(sessionID, conn)
	if err != nil {
		log.Error().Err(err).Str("session_id", sessionID).Msg("session join failed")
		writeMessage(sock, protocol.NewError(session.CodeUpstreamError, "could not acquire a diarization client for this session", false))
		return
	}

	log = log.With().Str("session_id", sessionID).Str("conn_id", conn.ID).Logger()
	log.Info().Msg("connection joined")

	sendMessage(conn, protocol.NewStatus("connected", ""))

	writeDone := make(chan struct{})
	go writePump(sock, conn, writeDone)

	readLoop(sock, conn, sess, log)

	reg.Leave(conn)
	conn.Close()
	<-writeDone
	log.Info().Msg("connection left")
}

// writePump drains the connection's outbox onto the socket. It exits when
// the outbox closes or a write fails; remaining queued frames are delivered
// first in the close case.
func writePump(sock *websocket.Conn, conn *session.Conn, done chan<- struct{}) {
	defer close(done)

	for msg := range conn.Outbox() {
		if err := sock.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
	// Outbox closed: the session is tearing this connection down.
	_ = sock.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	_ = sock.Close()
}

// readLoop processes inbound frames in arrival order for this connection.
// Control actions across connections of one session are serialized by the
// orchestrator, not here.
func readLoop(sock *websocket.Conn, conn *session.Conn, sess *session.Session, log zerolog.Logger) {
	for {
		_, raw, err := sock.ReadMessage()
		if err != nil {
			return
		}
		dispatch(raw, conn, sess, log)
	}
}

func dispatch(raw []byte, conn *session.Conn, sess *session.Session, log zerolog.Logger) {
	msg, derr := protocol.Decode(raw)
	if derr != nil {
		log.Debug().Str("kind", string(derr.Kind)).Msg("rejected inbound frame")
		sendMessage(conn, protocol.NewError(session.CodeInvalidMessage, derr.Message, true))
		return
	}

	var err error
	switch m := msg.(type) {
	case *protocol.AudioMessage:
		err = sess.Orchestrator.PushAudio(m.Data)
	case *protocol.ControlMessage:
		err = applyControl(m, conn, sess)
	}

	if err != nil {
		deliverError(err, conn, sess, log)
	}
}

func applyControl(m *protocol.ControlMessage, conn *session.Conn, sess *session.Session) error {
	ctx, cancel := context.WithTimeout(context.Background(), controlTimeout)
	defer cancel()

	switch m.Action {
	case protocol.ActionStart:
		if err := sess.Orchestrator.Start(ctx); err != nil {
			return err
		}
		conn.SetActive(true)
		return nil
	case protocol.ActionStop:
		if err := sess.Orchestrator.Stop(ctx); err != nil {
			return err
		}
		conn.SetActive(false)
		return nil
	case protocol.ActionPause:
		return sess.Orchestrator.Pause()
	case protocol.ActionResume:
		return sess.Orchestrator.Resume()
	case protocol.ActionExtend:
		if err := sess.Engine.Extend(); err != nil {
			return &session.StateError{Code: session.CodeExtendUnavailable, Message: err.Error()}
		}
		sess.BroadcastStatus("extended", "")
		return nil
	case protocol.ActionEnroll:
		profiles, err := decodeProfiles(m.Profiles)
		if err != nil {
			return err
		}
		if err := sess.Orchestrator.Enroll(ctx, profiles); err != nil {
			return err
		}
		conn.SetActive(true)
		return nil
	case protocol.ActionMapSpeaker:
		return sess.Orchestrator.MapSpeaker(m.SpeakerID, m.ProfileID, m.DisplayName)
	}
	return nil
}

func decodeProfiles(in []protocol.Profile) ([]diarize.Profile, error) {
	out := make([]diarize.Profile, 0, len(in))
	for _, p := range in {
		audio, err := decodeProfileAudio(p.Audio)
		if err != nil {
			return nil, &session.StateError{Code: session.CodeInvalidMessage, Message: "profile audio is not valid base64"}
		}
		out = append(out, diarize.Profile{ID: p.ID, Name: p.Name, Audio: audio})
	}
	return out, nil
}

func decodeProfileAudio(s string) ([]byte, error) {
	if s == "" {
		return nil, nil
	}
	return base64.StdEncoding.DecodeString(s)
}

// deliverError routes a failure per the error taxonomy: state and protocol
// errors go to the offending connection only, upstream failures are
// broadcast to the whole session.
func deliverError(err error, conn *session.Conn, sess *session.Session, log zerolog.Logger) {
	switch e := err.(type) {
	case *session.StateError:
		sendMessage(conn, protocol.NewError(e.Code, e.Message, true))
	case *session.UpstreamError:
		log.Error().Err(e).Msg("upstream diarization failure")
		sess.BroadcastError(session.CodeUpstreamError, e.Error(), true)
	default:
		log.Error().Err(err).Msg("unhandled dispatch failure")
		sendMessage(conn, protocol.NewError(session.CodeInvalidMessage, "internal error handling message", true))
	}
}

func sendMessage(conn *session.Conn, msg any) {
	payload, err := protocol.Encode(msg)
	if err != nil {
		return
	}
	conn.Send(payload)
}

func writeMessage(sock *websocket.Conn, msg any) {
	payload, err := protocol.Encode(msg)
	if err != nil {
		return
	}
	_ = sock.WriteMessage(websocket.TextMessage, payload)
}
