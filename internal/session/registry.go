package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/fennwick/voicefloor/internal/clock"
	"github.com/fennwick/voicefloor/internal/diarize"
	"github.com/fennwick/voicefloor/internal/protocol"
	"github.com/fennwick/voicefloor/internal/timeout"
)

// RegistryConfig carries the collaborators and per-session settings the
// registry clones into every new session.
type RegistryConfig struct {
	Store       Store
	Factory     diarize.Factory
	Clock       clock.Clock
	Timeouts    timeout.Config
	MatchWindow time.Duration
	Summarizer  Summarizer
	Log         zerolog.Logger
}

// Registry owns the mapping from session id to live session. All mutation
// of the session map and of any session's connection set funnels through
// Join and Leave; there is no idle sweep, the last disconnect is the only
// garbage-collection path.
type Registry struct {
	cfg RegistryConfig

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewRegistry creates an empty registry.
func NewRegistry(cfg RegistryConfig) *Registry {
	if cfg.Clock == nil {
		cfg.Clock = clock.NewSystem()
	}
	return &Registry{
		cfg:      cfg,
		sessions: make(map[string]*Session),
	}
}

// Join attaches a connection to the session with the given id, creating the
// session on first connection. Creation instantiates the orchestrator
// (which acquires the diarization client) and the timeout engine; the
// engine is started later, by the first start or enroll control message.
func (r *Registry) Join(id string, conn *Conn) (*Session, error) {
	if strings.TrimSpace(id) == "" {
		return nil, errors.New("session id is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if sess, ok := r.sessions[id]; ok {
		sess.addConn(conn)
		return sess, nil
	}

	log := r.cfg.Log.With().Str("session_id", id).Logger()
	sess := newSession(id, log)

	orch := NewOrchestrator(id, r.cfg.Store, sess, nil, r.cfg.Clock, r.cfg.MatchWindow, log)
	if r.cfg.Summarizer != nil {
		orch.onEnded = func() { go r.generateSummary(context.Background(), id) }
	}
	client, err := r.cfg.Factory(id, orch)
	if err != nil {
		return nil, &UpstreamError{Op: "acquire client", Err: err}
	}
	orch.SetClient(client)

	engine := timeout.NewEngine(r.cfg.Timeouts, r.cfg.Clock, sess)
	orch.engine = engine

	sess.Orchestrator = orch
	sess.Engine = engine
	sess.addConn(conn)

	// A session pre-created over REST is joined, not duplicated; CreateSession
	// is a no-op for an existing id.
	if err := r.cfg.Store.CreateSession(id, r.cfg.Clock.Now()); err != nil {
		log.Warn().Err(err).Msg("record session start failed")
	}

	r.sessions[id] = sess
	log.Info().Str("conn_id", conn.ID).Msg("session created")
	return sess, nil
}

// Get returns the live session for id, if any.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.sessions[id]
	return sess, ok
}

// Leave detaches a connection from its session. When the connection set
// empties, the orchestrator and timeout engine are stopped and the session
// is removed; the summary, if configured, is generated in the background.
func (r *Registry) Leave(conn *Conn) {
	if conn.SessionID == "" {
		return
	}

	r.mu.Lock()
	sess, ok := r.sessions[conn.SessionID]
	if !ok {
		r.mu.Unlock()
		return
	}

	remaining := sess.removeConn(conn)
	if remaining > 0 {
		r.mu.Unlock()
		return
	}
	delete(r.sessions, sess.ID)
	r.mu.Unlock()

	r.teardown(sess)
}

func (r *Registry) teardown(sess *Session) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := sess.Orchestrator.Stop(ctx); err != nil {
		sess.log.Warn().Err(err).Msg("stop orchestrator failed")
	}
	sess.Engine.Stop()

	if err := r.cfg.Store.EndSession(sess.ID, r.cfg.Clock.Now()); err != nil {
		sess.log.Warn().Err(err).Msg("record session end failed")
	}

	sess.log.Info().Msg("session destroyed")
}

// Shutdown closes every live session, for process exit.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, sess := range r.sessions {
		sessions = append(sessions, sess)
	}
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()

	for _, sess := range sessions {
		sess.CloseAll()
		r.teardown(sess)
	}
}

func (r *Registry) generateSummary(ctx context.Context, sessionID string) {
	store := r.cfg.Store
	log := r.cfg.Log.With().Str("session_id", sessionID).Logger()

	_ = store.UpdateSummary(sessionID, "", "running")

	utterances, err := store.GetUtterances(sessionID)
	if err != nil {
		log.Error().Err(err).Msg("load utterances for summary failed")
		_ = store.UpdateSummary(sessionID, "", "failed")
		return
	}

	transcript := Transcript(utterances)
	text, err := r.cfg.Summarizer.Summarize(ctx, sessionID, transcript)
	if err != nil {
		log.Error().Err(err).Msg("summarize session failed")
		_ = store.UpdateSummary(sessionID, "", "failed")
		return
	}

	if err := store.UpdateSummary(sessionID, text, "completed"); err != nil {
		log.Error().Err(err).Msg("record summary failed")
	}

	// Connections that stopped the session but stayed attached get the
	// result pushed; after a teardown there is nobody left to tell and the
	// summary is only reachable over REST.
	if text != "" {
		if sess, ok := r.Get(sessionID); ok {
			sess.BroadcastStatus("summary_ready", text)
		}
	}
}

// Transcript renders final utterances as speaker-attributed lines for the
// summarizer.
func Transcript(utterances []protocol.Utterance) string {
	var b strings.Builder
	for _, u := range utterances {
		if !u.IsFinal || strings.TrimSpace(u.Text) == "" {
			continue
		}
		b.WriteString(u.SpeakerName)
		b.WriteString(": ")
		b.WriteString(strings.TrimSpace(u.Text))
		b.WriteString("\n")
	}
	return b.String()
}
