package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/fennwick/voicefloor/internal/protocol"
	"github.com/fennwick/voicefloor/internal/session"
	"github.com/fennwick/voicefloor/internal/store"
)

var sessionIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// SessionStore is the read/CRUD surface the REST API needs.
type SessionStore interface {
	CreateSession(id string, startedAt time.Time) error
	DeleteSession(id string) error
	GetSession(id string) (store.Session, error)
	GetSessions() ([]store.Session, error)
	GetUtterances(sessionID string) ([]protocol.Utterance, error)
}

func registerAPIRoutes(mux *http.ServeMux, st SessionStore, reg *session.Registry, log zerolog.Logger) {
	mux.HandleFunc("GET /api/sessions", func(w http.ResponseWriter, r *http.Request) {
		sessions, err := st.GetSessions()
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("list sessions: %v", err))
			return
		}
		writeJSON(w, http.StatusOK, sessions)
	})

	mux.HandleFunc("POST /api/sessions", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			ID string `json:"id"`
		}
		if r.Body != nil {
			_ = json.NewDecoder(r.Body).Decode(&body)
		}
		if body.ID == "" {
			body.ID = ulid.Make().String()
		}
		if !validSessionID(body.ID) {
			writeJSONError(w, http.StatusBadRequest, "invalid session id")
			return
		}

		if _, err := st.GetSession(body.ID); err == nil {
			writeJSONError(w, http.StatusConflict, "session already exists")
			return
		}

		if err := st.CreateSession(body.ID, time.Now().UTC()); err != nil {
			writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("create session: %v", err))
			return
		}
		writeJSON(w, http.StatusCreated, map[string]string{"id": body.ID})
	})

	mux.HandleFunc("GET /api/sessions/{id}", func(w http.ResponseWriter, r *http.Request) {
		sessionID := r.PathValue("id")
		if !validSessionID(sessionID) {
			writeJSONError(w, http.StatusForbidden, "invalid session id")
			return
		}

		sessionData, err := st.GetSession(sessionID)
		if err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, store.ErrNotFound) {
				status = http.StatusNotFound
			}
			writeJSONError(w, status, fmt.Sprintf("get session: %v", err))
			return
		}

		utterances, err := st.GetUtterances(sessionID)
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("get session utterances: %v", err))
			return
		}

		live := map[string]any{"connected": 0, "active": false}
		if sess, ok := reg.Get(sessionID); ok {
			live["connected"] = sess.ConnCount()
			live["active"] = sess.Orchestrator.Active()
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"session":    sessionData,
			"utterances": utterances,
			"live":       live,
		})
	})

	mux.HandleFunc("DELETE /api/sessions/{id}", func(w http.ResponseWriter, r *http.Request) {
		sessionID := r.PathValue("id")
		if !validSessionID(sessionID) {
			writeJSONError(w, http.StatusForbidden, "invalid session id")
			return
		}

		// Deleting a live session closes every connection first; teardown
		// runs through the normal disconnect path.
		if sess, ok := reg.Get(sessionID); ok {
			log.Info().Str("session_id", sessionID).Msg("closing live session on delete")
			sess.CloseAll()
		}

		if err := st.DeleteSession(sessionID); err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, store.ErrNotFound) {
				status = http.StatusNotFound
			}
			writeJSONError(w, status, fmt.Sprintf("delete session: %v", err))
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
}

func validSessionID(id string) bool {
	return sessionIDPattern.MatchString(id)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
