package session

import (
	"context"
	"time"

	"github.com/fennwick/voicefloor/internal/protocol"
	"github.com/fennwick/voicefloor/internal/timeout"
)

// Store persists the utterance stream and session metadata for the lifetime
// of the process.
type Store interface {
	CreateSession(id string, startedAt time.Time) error
	EndSession(id string, endedAt time.Time) error
	AppendUtterance(u protocol.Utterance) error
	FinalizeUtterance(u protocol.Utterance) error
	GetUtterances(sessionID string) ([]protocol.Utterance, error)
	UpdateSummary(sessionID, summary, status string) error
}

// Summarizer produces a transcript summary after a session ends.
type Summarizer interface {
	Summarize(ctx context.Context, sessionID, transcript string) (string, error)
}

// TimeoutController is the slice of the timeout engine the orchestrator and
// gateway drive.
type TimeoutController interface {
	Start()
	Stop()
	OnSpeechDetected()
	Extend() error
	Status() timeout.Status
}

// EventBroadcaster fans an orchestrator event out to every connection of the
// session.
type EventBroadcaster interface {
	BroadcastTranscription(u protocol.Utterance)
	BroadcastSpeakerRegistered(m protocol.SpeakerMapping)
	BroadcastEnrollmentWarning(profileID, profileName, message string)
	BroadcastStatus(status, message string)
	BroadcastError(code, message string, recoverable bool)
}
