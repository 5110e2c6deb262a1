package session

import (
	"fmt"

	"github.com/fennwick/voicefloor/internal/protocol"
)

// speakerTable maps recognizer-assigned speaker ids to display names for one
// session. Many recognizer ids may point at the same profile. Not safe for
// concurrent use; the orchestrator's mutex guards it.
type speakerTable struct {
	byID map[string]protocol.SpeakerMapping
	seen int
}

func newSpeakerTable() *speakerTable {
	return &speakerTable{byID: make(map[string]protocol.SpeakerMapping)}
}

func (t *speakerTable) lookup(speakerID string) (protocol.SpeakerMapping, bool) {
	m, ok := t.byID[speakerID]
	return m, ok
}

func (t *speakerTable) upsert(speakerID, profileID, displayName string) protocol.SpeakerMapping {
	m := protocol.SpeakerMapping{SpeakerID: speakerID, ProfileID: profileID, DisplayName: displayName}
	t.byID[speakerID] = m
	return m
}

// provisional records a freshly observed, unmapped speaker id under a
// generated display name so its utterances are attributable immediately.
func (t *speakerTable) provisional(speakerID string) protocol.SpeakerMapping {
	t.seen++
	return t.upsert(speakerID, "", fmt.Sprintf("Speaker %d", t.seen))
}
