// Package server is the gateway: it accepts WebSocket connections, resolves
// them to sessions, routes inbound frames through the protocol codec to the
// session orchestrator and timeout engine, and exposes the thin session
// REST API.
package server

import (
	"net/http"

	"github.com/rs/zerolog"

	"github.com/fennwick/voicefloor/internal/session"
)

// Handler builds the HTTP handler serving the WebSocket gateway and the
// REST API.
func Handler(reg *session.Registry, st SessionStore, log zerolog.Logger) http.Handler {
	mux := http.NewServeMux()

	registerWSRoutes(mux, reg, log)
	registerAPIRoutes(mux, st, reg, log)

	return mux
}

// Serve runs the gateway on addr until the listener fails.
func Serve(addr string, reg *session.Registry, st SessionStore, log zerolog.Logger) error {
	log.Info().Str("addr", addr).Msg("gateway listening")
	return http.ListenAndServe(addr, Handler(reg, st, log))
}
