package session

import (
	"context"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/fennwick/voicefloor/internal/clock"
	"github.com/fennwick/voicefloor/internal/diarize"
	"github.com/fennwick/voicefloor/internal/protocol"
)

// pendingEnrollment is a profile registered with the recognizer but not yet
// matched to an observed speaker id.
type pendingEnrollment struct {
	profile       diarize.Profile
	placeholderID string
}

// Orchestrator sequences the calls on one session's DiarizationClient and
// maintains its speaker mappings and utterance stream. A single mutex
// serializes control actions across all connections of the session, so no
// two are ever in flight concurrently.
type Orchestrator struct {
	sessionID   string
	store       Store
	events      EventBroadcaster
	engine      TimeoutController
	clk         clock.Clock
	log         zerolog.Logger
	matchWindow time.Duration

	// onEnded fires exactly once, on the transition into the stopped state.
	// The registry uses it to kick off summary generation.
	onEnded func()

	mu          sync.Mutex
	client      diarize.Client
	active      bool
	paused      bool
	stopped     bool
	speakers    *speakerTable
	pendingUtts map[string]string
	enrollments []pendingEnrollment
	matchTimer  clock.Timer
}

// NewOrchestrator wires the collaborators for one session. The diarization
// client is attached afterwards via SetClient because the client factory
// needs the orchestrator as its event handler.
func NewOrchestrator(sessionID string, store Store, events EventBroadcaster, engine TimeoutController, clk clock.Clock, matchWindow time.Duration, log zerolog.Logger) *Orchestrator {
	if matchWindow <= 0 {
		matchWindow = 30 * time.Second
	}
	return &Orchestrator{
		sessionID:   sessionID,
		store:       store,
		events:      events,
		engine:      engine,
		clk:         clk,
		log:         log,
		matchWindow: matchWindow,
		speakers:    newSpeakerTable(),
		pendingUtts: make(map[string]string),
	}
}

// SetClient attaches the diarization capability. Must be called before any
// control action is dispatched.
func (o *Orchestrator) SetClient(c diarize.Client) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.client = c
}

// Start begins transcription. Fails with ALREADY_ACTIVE while running and
// broadcasts status active on success. An upstream failure leaves the state
// untouched.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.stopped {
		return nil
	}
	if o.active {
		return &StateError{Code: CodeAlreadyActive, Message: "transcription is already active"}
	}

	if err := o.client.StartTranscription(ctx); err != nil {
		return &UpstreamError{Op: "start", Err: err}
	}

	o.active = true
	o.paused = false
	o.engine.Start()
	o.events.BroadcastStatus("active", "")
	return nil
}

// Stop ends transcription. Idempotent; broadcasts status ended on success.
// Safe to call from the cleanup path while a start or enroll is in flight:
// the stopped flag makes their late results no-ops.
func (o *Orchestrator) Stop(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.stopped {
		return nil
	}
	o.stopped = true
	o.active = false
	o.paused = false

	if o.matchTimer != nil {
		o.matchTimer.Stop()
		o.matchTimer = nil
	}
	o.enrollments = nil
	o.engine.Stop()

	if err := o.client.StopTranscription(ctx); err != nil {
		o.log.Warn().Err(err).Msg("stop transcription failed")
	}
	if err := o.client.Close(); err != nil {
		o.log.Warn().Err(err).Msg("close diarization client failed")
	}

	o.events.BroadcastStatus("ended", "")
	if o.onEnded != nil {
		o.onEnded()
	}
	return nil
}

// Pause stops forwarding audio upstream. The recognizer has no native pause,
// so this is a local gate.
func (o *Orchestrator) Pause() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.stopped {
		return nil
	}
	if !o.active {
		return &StateError{Code: CodeNotActive, Message: "cannot pause: transcription is not active"}
	}
	if o.paused {
		return &StateError{Code: CodeAlreadyPaused, Message: "transcription is already paused"}
	}

	o.paused = true
	o.events.BroadcastStatus("paused", "")
	return nil
}

// Resume re-opens the audio gate.
func (o *Orchestrator) Resume() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.stopped {
		return nil
	}
	if !o.paused {
		return &StateError{Code: CodeNotPaused, Message: "cannot resume: transcription is not paused"}
	}

	o.paused = false
	o.events.BroadcastStatus("active", "")
	return nil
}

// Enroll registers the supplied profiles with the recognizer, starts
// transcription if needed, and opens a best-effort matching window. Profiles
// whose audio never produces a speaker-id match before the window closes get
// an enrollment warning instead of failing the batch.
func (o *Orchestrator) Enroll(ctx context.Context, profiles []diarize.Profile) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.stopped {
		return nil
	}

	for _, p := range profiles {
		placeholder, err := o.client.EnrollProfile(ctx, p)
		if err != nil {
			return &UpstreamError{Op: "enroll", Err: err}
		}
		o.enrollments = append(o.enrollments, pendingEnrollment{profile: p, placeholderID: placeholder})
	}

	if !o.active {
		if err := o.client.StartTranscription(ctx); err != nil {
			return &UpstreamError{Op: "start", Err: err}
		}
		o.active = true
		o.engine.Start()
		o.events.BroadcastStatus("active", "")
	}

	if o.matchTimer != nil {
		o.matchTimer.Stop()
	}
	o.matchTimer = o.clk.AfterFunc(o.matchWindow, o.finishMatching)
	return nil
}

// finishMatching closes the enrollment matching phase, warning about every
// profile that never matched an observed speaker id.
func (o *Orchestrator) finishMatching() {
	o.mu.Lock()
	unmatched := o.enrollments
	o.enrollments = nil
	o.matchTimer = nil
	stopped := o.stopped
	o.mu.Unlock()

	if stopped {
		return
	}

	for _, pe := range unmatched {
		o.log.Info().Str("profile_id", pe.profile.ID).Msg("enrollment produced no speaker match")
		o.events.BroadcastEnrollmentWarning(
			pe.profile.ID,
			pe.profile.Name,
			"no speaker was matched to this profile before the enrollment window closed",
		)
	}
}

// PushAudio forwards a chunk to the recognizer while active and not paused.
// Arriving audio always counts as speech activity for the silence clock,
// whatever the recognizer later makes of it; availability wins over
// precision here.
func (o *Orchestrator) PushAudio(chunk []byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.stopped || !o.active {
		return nil
	}

	o.engine.OnSpeechDetected()

	if o.paused {
		return nil
	}
	if err := o.client.PushAudio(chunk); err != nil {
		return &UpstreamError{Op: "push audio", Err: err}
	}
	return nil
}

// MapSpeaker upserts the mapping for a recognizer speaker id and broadcasts
// the registration. An enrollment still pending for the same profile is
// considered matched.
func (o *Orchestrator) MapSpeaker(speakerID, profileID, displayName string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.stopped {
		return nil
	}
	if speakerID == "" || displayName == "" {
		return &StateError{Code: CodeInvalidMessage, Message: "mapSpeaker requires speakerId and displayName"}
	}

	mapping := o.speakers.upsert(speakerID, profileID, displayName)
	o.resolveEnrollment(profileID)
	o.events.BroadcastSpeakerRegistered(mapping)
	return nil
}

func (o *Orchestrator) resolveEnrollment(profileID string) {
	if profileID == "" {
		return
	}
	kept := o.enrollments[:0]
	for _, pe := range o.enrollments {
		if pe.profile.ID != profileID {
			kept = append(kept, pe)
		}
	}
	o.enrollments = kept
}

// HandleTranscription implements diarize.Handler. Recognition results are
// translated to transcription messages; a newly seen speaker id either
// matches the oldest pending enrollment or produces a speaker-detected
// notification with a provisional display name.
func (o *Orchestrator) HandleTranscription(res diarize.Result) {
	o.mu.Lock()

	if o.stopped {
		o.mu.Unlock()
		return
	}

	mapping, known := o.speakers.lookup(res.SpeakerID)
	var registered, detected bool
	if !known {
		if len(o.enrollments) > 0 {
			pe := o.enrollments[0]
			o.enrollments = o.enrollments[1:]
			mapping = o.speakers.upsert(res.SpeakerID, pe.profile.ID, pe.profile.Name)
			registered = true
		} else {
			mapping = o.speakers.provisional(res.SpeakerID)
			detected = true
		}
	}

	// Interim results for a speaker share one utterance id until the final
	// result closes it out.
	id, pending := o.pendingUtts[res.SpeakerID]
	fresh := !pending
	if fresh {
		id = ulid.Make().String()
	}
	if res.IsFinal {
		delete(o.pendingUtts, res.SpeakerID)
	} else {
		o.pendingUtts[res.SpeakerID] = id
	}

	u := protocol.Utterance{
		ID:          id,
		SessionID:   o.sessionID,
		SpeakerID:   res.SpeakerID,
		SpeakerName: mapping.DisplayName,
		Text:        res.Text,
		StartTime:   res.StartTime,
		EndTime:     res.EndTime,
		Confidence:  res.Confidence,
		IsFinal:     res.IsFinal,
	}

	var storeErr error
	if fresh {
		storeErr = o.store.AppendUtterance(u)
	} else if res.IsFinal {
		storeErr = o.store.FinalizeUtterance(u)
	}
	o.mu.Unlock()

	if storeErr != nil {
		o.log.Error().Err(storeErr).Str("utterance_id", u.ID).Msg("store utterance failed")
	}

	if registered {
		o.events.BroadcastSpeakerRegistered(mapping)
	}
	if detected {
		o.events.BroadcastStatus("speaker_detected", res.SpeakerID)
	}
	o.events.BroadcastTranscription(u)
}

// Active reports whether transcription is running, for the REST status view.
func (o *Orchestrator) Active() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.active && !o.stopped
}

// Paused reports whether the audio gate is closed.
func (o *Orchestrator) Paused() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.paused
}
