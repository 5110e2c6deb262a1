package store

import (
	"errors"
	"testing"
	"time"

	"github.com/fennwick/voicefloor/internal/protocol"
)

func newTestStore(t *testing.T) *MemoryStore {
	t.Helper()
	s, err := NewMemoryStore()
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestCreateSessionIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	started := time.Date(2026, 8, 28, 9, 0, 0, 0, time.UTC)

	if err := s.CreateSession("create-a", started); err != nil {
		t.Fatalf("CreateSession = %v", err)
	}
	// Re-creating an existing id must not fail or reset anything.
	if err := s.CreateSession("create-a", started.Add(time.Hour)); err != nil {
		t.Fatalf("duplicate CreateSession = %v", err)
	}

	sess, err := s.GetSession("create-a")
	if err != nil {
		t.Fatalf("GetSession = %v", err)
	}
	if !sess.StartedAt.Equal(started) {
		t.Fatalf("started_at = %v, want the original %v", sess.StartedAt, started)
	}
	if sess.Status != "active" || sess.SummaryStatus != SummaryPending {
		t.Fatalf("session = %+v", sess)
	}

	if err := s.CreateSession("  ", started); err == nil {
		t.Fatal("blank session id accepted")
	}
}

func TestEndSession(t *testing.T) {
	s := newTestStore(t)
	started := time.Date(2026, 8, 28, 9, 0, 0, 0, time.UTC)
	ended := started.Add(30 * time.Minute)

	if err := s.CreateSession("end-a", started); err != nil {
		t.Fatalf("CreateSession = %v", err)
	}
	if err := s.EndSession("end-a", ended); err != nil {
		t.Fatalf("EndSession = %v", err)
	}

	sess, err := s.GetSession("end-a")
	if err != nil {
		t.Fatalf("GetSession = %v", err)
	}
	if sess.Status != "ended" || sess.EndedAt == nil || !sess.EndedAt.Equal(ended) {
		t.Fatalf("session after end = %+v", sess)
	}

	if err := s.EndSession("missing", ended); !errors.Is(err, ErrNotFound) {
		t.Fatalf("EndSession on unknown id = %v, want ErrNotFound", err)
	}
}

func TestUtteranceLifecycle(t *testing.T) {
	s := newTestStore(t)
	if err := s.CreateSession("utt-a", time.Now().UTC()); err != nil {
		t.Fatalf("CreateSession = %v", err)
	}

	interim := protocol.Utterance{
		ID:          "u-1",
		SessionID:   "utt-a",
		SpeakerID:   "dg:0",
		SpeakerName: "Ana",
		Text:        "hel",
		StartTime:   0.1,
		EndTime:     0.4,
		Confidence:  0.6,
	}
	if err := s.AppendUtterance(interim); err != nil {
		t.Fatalf("AppendUtterance = %v", err)
	}

	final := interim
	final.Text = " hello there "
	final.EndTime = 1.2
	final.Confidence = 0.95
	final.IsFinal = true
	if err := s.FinalizeUtterance(final); err != nil {
		t.Fatalf("FinalizeUtterance = %v", err)
	}

	got, err := s.GetUtterances("utt-a")
	if err != nil {
		t.Fatalf("GetUtterances = %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d utterances, want 1", len(got))
	}
	u := got[0]
	if u.Text != "hello there" || !u.IsFinal || u.EndTime != 1.2 || u.Confidence != 0.95 {
		t.Fatalf("finalized utterance = %+v", u)
	}
	if u.SpeakerName != "Ana" || u.SpeakerID != "dg:0" {
		t.Fatalf("attribution lost: %+v", u)
	}

	if err := s.FinalizeUtterance(protocol.Utterance{ID: "nope", SessionID: "utt-a"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("FinalizeUtterance on unknown id = %v, want ErrNotFound", err)
	}
}

func TestGetUtterancesPreservesOrder(t *testing.T) {
	s := newTestStore(t)
	if err := s.CreateSession("order-a", time.Now().UTC()); err != nil {
		t.Fatalf("CreateSession = %v", err)
	}

	for i, id := range []string{"u-1", "u-2", "u-3"} {
		u := protocol.Utterance{
			ID:        id,
			SessionID: "order-a",
			SpeakerID: "dg:0",
			Text:      id,
			StartTime: float64(i),
			IsFinal:   true,
		}
		if err := s.AppendUtterance(u); err != nil {
			t.Fatalf("AppendUtterance(%s) = %v", id, err)
		}
	}

	got, err := s.GetUtterances("order-a")
	if err != nil {
		t.Fatalf("GetUtterances = %v", err)
	}
	if len(got) != 3 || got[0].ID != "u-1" || got[1].ID != "u-2" || got[2].ID != "u-3" {
		t.Fatalf("order = %v", got)
	}

	empty, err := s.GetUtterances("no-such-session")
	if err != nil || len(empty) != 0 {
		t.Fatalf("unknown session = %v, %v", empty, err)
	}
}

func TestDeleteSessionCascades(t *testing.T) {
	s := newTestStore(t)
	if err := s.CreateSession("del-a", time.Now().UTC()); err != nil {
		t.Fatalf("CreateSession = %v", err)
	}
	if err := s.AppendUtterance(protocol.Utterance{ID: "u-1", SessionID: "del-a", SpeakerID: "dg:0"}); err != nil {
		t.Fatalf("AppendUtterance = %v", err)
	}

	if err := s.DeleteSession("del-a"); err != nil {
		t.Fatalf("DeleteSession = %v", err)
	}
	if _, err := s.GetSession("del-a"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetSession after delete = %v, want ErrNotFound", err)
	}
	utts, err := s.GetUtterances("del-a")
	if err != nil || len(utts) != 0 {
		t.Fatalf("utterances survived the delete: %v, %v", utts, err)
	}

	if err := s.DeleteSession("del-a"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second DeleteSession = %v, want ErrNotFound", err)
	}
}

func TestUpdateSummary(t *testing.T) {
	s := newTestStore(t)
	if err := s.CreateSession("sum-a", time.Now().UTC()); err != nil {
		t.Fatalf("CreateSession = %v", err)
	}

	if err := s.UpdateSummary("sum-a", "the meeting summary", SummaryCompleted); err != nil {
		t.Fatalf("UpdateSummary = %v", err)
	}
	sess, err := s.GetSession("sum-a")
	if err != nil {
		t.Fatalf("GetSession = %v", err)
	}
	if sess.Summary != "the meeting summary" || sess.SummaryStatus != SummaryCompleted {
		t.Fatalf("session = %+v", sess)
	}

	if err := s.UpdateSummary("missing", "", SummaryFailed); !errors.Is(err, ErrNotFound) {
		t.Fatalf("UpdateSummary on unknown id = %v, want ErrNotFound", err)
	}
}

func TestClaimSummaryRequest(t *testing.T) {
	s := newTestStore(t)
	if err := s.CreateSession("claim-a", time.Now().UTC()); err != nil {
		t.Fatalf("CreateSession = %v", err)
	}

	claimed, err := s.ClaimSummaryRequest("claim-a", "hash-1")
	if err != nil || !claimed {
		t.Fatalf("first claim = %v, %v, want true", claimed, err)
	}
	claimed, err = s.ClaimSummaryRequest("claim-a", "hash-1")
	if err != nil || claimed {
		t.Fatalf("repeat claim = %v, %v, want false", claimed, err)
	}
	claimed, err = s.ClaimSummaryRequest("claim-a", "hash-2")
	if err != nil || !claimed {
		t.Fatalf("claim with new hash = %v, %v, want true", claimed, err)
	}
}
