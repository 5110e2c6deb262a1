package session

import (
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/fennwick/voicefloor/internal/protocol"
	"github.com/fennwick/voicefloor/internal/timeout"
)

// Conn is the session-side handle for one transport connection. The gateway
// owns the socket; the session only sees the outbound queue.
type Conn struct {
	ID        string
	SessionID string

	mu     sync.Mutex
	active bool
	closed bool
	send   chan []byte
}

// NewConn allocates a handle with a buffered outbound queue.
func NewConn() *Conn {
	return &Conn{
		ID:   uuid.NewString(),
		send: make(chan []byte, 64),
	}
}

// Outbox is drained by the gateway's write pump. It is closed when the
// connection handle is closed.
func (c *Conn) Outbox() <-chan []byte {
	return c.send
}

// Send queues a frame without blocking. A slow consumer loses frames rather
// than stalling the session; Send reports whether the frame was queued.
func (c *Conn) Send(msg []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

// Close shuts the outbound queue. Idempotent.
func (c *Conn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// SetActive records this connection's perceived transcription state.
// Transcription itself is session-scoped.
func (c *Conn) SetActive(active bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.active = active
}

func (c *Conn) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// Session is one live diarization conversation: the connection set, the
// orchestrator owning the diarization capability, and the timeout engine.
// It implements EventBroadcaster and timeout.Sink by encoding events and
// fanning them out to every open connection.
type Session struct {
	ID           string
	Orchestrator *Orchestrator
	Engine       TimeoutController

	log   zerolog.Logger
	mu    sync.Mutex
	conns map[*Conn]struct{}
}

func newSession(id string, log zerolog.Logger) *Session {
	return &Session{
		ID:    id,
		log:   log,
		conns: make(map[*Conn]struct{}),
	}
}

func (s *Session) addConn(c *Conn) {
	c.SessionID = s.ID
	s.mu.Lock()
	s.conns[c] = struct{}{}
	s.mu.Unlock()
}

// removeConn detaches a connection and returns how many remain.
func (s *Session) removeConn(c *Conn) int {
	s.mu.Lock()
	delete(s.conns, c)
	n := len(s.conns)
	s.mu.Unlock()
	return n
}

// ConnCount reports the number of attached connections.
func (s *Session) ConnCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// Broadcast sends a frame to every connection. A failed or slow connection
// is logged and skipped; delivery to the others is unaffected.
func (s *Session) Broadcast(msg []byte) {
	s.mu.Lock()
	conns := make([]*Conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		if !c.Send(msg) {
			s.log.Warn().Str("conn_id", c.ID).Msg("dropping frame for slow or closed connection")
		}
	}
}

// CloseAll closes every connection's outbound queue, which unwinds the
// gateway's write pumps and read loops.
func (s *Session) CloseAll() {
	s.mu.Lock()
	conns := make([]*Conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		c.Close()
	}
}

func (s *Session) broadcastMessage(msg any) {
	payload, err := protocol.Encode(msg)
	if err != nil {
		s.log.Error().Err(err).Msg("encode outbound message failed")
		return
	}
	s.Broadcast(payload)
}

// EventBroadcaster implementation.

func (s *Session) BroadcastTranscription(u protocol.Utterance) {
	s.broadcastMessage(protocol.NewTranscription(u))
}

func (s *Session) BroadcastSpeakerRegistered(m protocol.SpeakerMapping) {
	s.broadcastMessage(protocol.NewSpeakerRegistered(m))
}

func (s *Session) BroadcastEnrollmentWarning(profileID, profileName, message string) {
	s.broadcastMessage(protocol.NewEnrollmentWarning(profileID, profileName, message))
}

func (s *Session) BroadcastStatus(status, message string) {
	s.broadcastMessage(protocol.NewStatus(status, message))
}

func (s *Session) BroadcastError(code, message string, recoverable bool) {
	s.broadcastMessage(protocol.NewError(code, message, recoverable))
}

// timeout.Sink implementation.

func (s *Session) TimeoutStatus(st timeout.Status) {
	s.broadcastMessage(protocol.NewTimeoutStatus(st.SessionRemaining, st.SilenceRemaining))
}

func (s *Session) TimeoutWarning(axis timeout.Axis, remainingSeconds int64) {
	s.broadcastMessage(protocol.NewTimeoutWarning(
		string(axis),
		remainingSeconds,
		"the session will end soon unless activity resumes or it is extended",
	))
}

// TimeoutEnded broadcasts the terminal event and closes every connection of
// the session. Teardown then happens through the gateway's normal
// disconnect path.
func (s *Session) TimeoutEnded(reason timeout.Reason) {
	s.log.Info().Str("reason", string(reason)).Msg("session timed out")
	s.broadcastMessage(protocol.NewTimeoutEnded(string(reason), "the session has ended"))
	s.CloseAll()
}
