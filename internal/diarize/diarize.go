// Package diarize defines the external speaker-diarization capability a
// session orchestrator depends on, plus the backends that implement it.
package diarize

import (
	"context"

	"github.com/rs/zerolog"
)

// Profile is a voice profile to enroll with the recognizer.
type Profile struct {
	ID    string
	Name  string
	Audio []byte
}

// Result is one recognizer event: an interim or final piece of speech
// attributed to a recognizer-assigned speaker id.
type Result struct {
	SpeakerID  string
	Text       string
	StartTime  float64
	EndTime    float64
	Confidence float64
	IsFinal    bool
}

// Handler receives recognition events from a Client.
type Handler interface {
	HandleTranscription(res Result)
}

// Client is the capability a session orchestrator owns exclusively:
// start/stop transcription, push audio, enroll profiles.
type Client interface {
	StartTranscription(ctx context.Context) error
	StopTranscription(ctx context.Context) error
	PushAudio(chunk []byte) error

	// EnrollProfile registers a voice profile and returns a placeholder
	// speaker id. The association with a live recognizer speaker id happens
	// later, during the orchestrator's matching phase.
	EnrollProfile(ctx context.Context, p Profile) (string, error)

	Close() error
}

// Factory builds the Client for one session. The handler receives that
// session's recognition events for the lifetime of the client.
type Factory func(sessionID string, h Handler) (Client, error)

// Noop is a Client that accepts every call and recognizes nothing. Used when
// no recognizer credentials are configured so the gateway still serves
// sessions in a degraded mode.
type Noop struct {
	Log zerolog.Logger
}

func (n *Noop) StartTranscription(context.Context) error {
	n.Log.Warn().Msg("no recognizer configured, transcription is disabled")
	return nil
}

func (n *Noop) StopTranscription(context.Context) error { return nil }

func (n *Noop) PushAudio([]byte) error { return nil }

func (n *Noop) EnrollProfile(_ context.Context, p Profile) (string, error) {
	return "noop:" + p.ID, nil
}

func (n *Noop) Close() error { return nil }
