// Package timeout owns the two expiry clocks of a diarization session: the
// absolute session-duration clock and the speech-inactivity clock. It emits
// status, warning and termination events but never touches audio.
package timeout

import (
	"errors"
	"sync"
	"time"

	"github.com/fennwick/voicefloor/internal/clock"
)

// ErrExtendUnavailable is returned by Extend when extension is disabled by
// configuration or the session clock is unlimited.
var ErrExtendUnavailable = errors.New("session extension is not available")

// Reason identifies which clock terminated a session.
type Reason string

const (
	ReasonSession Reason = "session_timeout"
	ReasonSilence Reason = "silence_timeout"
)

// Axis identifies a clock in warning events.
type Axis string

const (
	AxisSession Axis = "session"
	AxisSilence Axis = "silence"
)

// Config controls both clocks. A zero duration disables that axis.
type Config struct {
	SessionTimeout time.Duration
	SilenceTimeout time.Duration
	WarningBefore  time.Duration
	AllowExtend    bool
}

// Status is a point-in-time snapshot of both clocks. A nil value means the
// corresponding axis is disabled.
type Status struct {
	SessionRemaining *int64
	SilenceRemaining *int64
}

// Sink receives engine events. Implementations must not call back into the
// engine from the event methods.
type Sink interface {
	TimeoutStatus(s Status)
	TimeoutWarning(axis Axis, remainingSeconds int64)
	TimeoutEnded(reason Reason)
}

// Engine runs both clocks for one session.
//
// State machine: Stopped -> Running -> Stopped, and the second Stopped is
// terminal. Every operation other than Start is a no-op once the engine is
// stopped; Extend is the only operation that can fail.
type Engine struct {
	cfg  Config
	clk  clock.Clock
	sink Sink

	mu              sync.Mutex
	running         bool
	terminal        bool
	startedAt       time.Time
	lastSpeechAt    time.Time
	sessionDeadline time.Time
	silenceDeadline time.Time
	sessionWarned   bool
	silenceWarned   bool
	done            chan struct{}
}

// NewEngine creates a stopped engine. A WarningBefore of zero falls back to
// one minute.
func NewEngine(cfg Config, clk clock.Clock, sink Sink) *Engine {
	if cfg.WarningBefore <= 0 {
		cfg.WarningBefore = time.Minute
	}
	return &Engine{cfg: cfg, clk: clk, sink: sink}
}

// Start records both deadlines and begins the one-second tick loop.
// It is a no-op while running and after termination.
func (e *Engine) Start() {
	e.mu.Lock()
	if e.running || e.terminal {
		e.mu.Unlock()
		return
	}

	now := e.clk.Now()
	e.startedAt = now
	e.lastSpeechAt = now
	e.sessionDeadline = time.Time{}
	e.silenceDeadline = time.Time{}
	if e.cfg.SessionTimeout > 0 {
		e.sessionDeadline = now.Add(e.cfg.SessionTimeout)
	}
	if e.cfg.SilenceTimeout > 0 {
		e.silenceDeadline = now.Add(e.cfg.SilenceTimeout)
	}
	e.sessionWarned = false
	e.silenceWarned = false
	e.running = true
	e.done = make(chan struct{})

	ticker := e.clk.NewTicker(time.Second)
	done := e.done
	e.mu.Unlock()

	go e.run(ticker, done)
}

// Stop cancels the tick loop and makes the engine terminal. Idempotent and
// safe to call from cleanup paths at any point.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stopLocked()
}

func (e *Engine) stopLocked() {
	e.terminal = true
	if !e.running {
		return
	}
	e.running = false
	close(e.done)
}

// OnSpeechDetected resets the inactivity clock and re-arms its warning.
// No-op when the engine is not running or the silence axis is disabled.
func (e *Engine) OnSpeechDetected() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.running || e.cfg.SilenceTimeout <= 0 {
		return
	}

	e.lastSpeechAt = e.clk.Now()
	e.silenceDeadline = e.lastSpeechAt.Add(e.cfg.SilenceTimeout)
	e.silenceWarned = false
}

// Extend restarts the session clock from now and re-arms its warning. It
// fails with ErrExtendUnavailable when extension is disabled or the session
// clock is unlimited, and is a no-op on a stopped engine.
func (e *Engine) Extend() error {
	if !e.cfg.AllowExtend || e.cfg.SessionTimeout <= 0 {
		return ErrExtendUnavailable
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.running {
		return nil
	}

	e.sessionDeadline = e.clk.Now().Add(e.cfg.SessionTimeout)
	e.sessionWarned = false
	return nil
}

// Status reports the remaining seconds on both clocks. Values are nil for
// disabled axes, and both are nil once the engine has stopped.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.running {
		return Status{}
	}
	now := e.clk.Now()
	return Status{
		SessionRemaining: remaining(e.sessionDeadline, now),
		SilenceRemaining: remaining(e.silenceDeadline, now),
	}
}

func (e *Engine) run(ticker clock.Ticker, done chan struct{}) {
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C():
			if !e.tick() {
				return
			}
		}
	}
}

// tick emits one status event and applies warning and termination rules.
// It returns false once the engine has terminated.
func (e *Engine) tick() bool {
	e.mu.Lock()

	if !e.running {
		e.mu.Unlock()
		return false
	}

	now := e.clk.Now()
	sessionRem := remaining(e.sessionDeadline, now)
	silenceRem := remaining(e.silenceDeadline, now)
	status := Status{SessionRemaining: sessionRem, SilenceRemaining: silenceRem}

	// Termination: the smaller remaining value wins, session on a tie.
	var reason Reason
	switch {
	case expired(sessionRem) && expired(silenceRem):
		if *sessionRem <= *silenceRem {
			reason = ReasonSession
		} else {
			reason = ReasonSilence
		}
	case expired(sessionRem):
		reason = ReasonSession
	case expired(silenceRem):
		reason = ReasonSilence
	}

	if reason != "" {
		e.stopLocked()
		e.mu.Unlock()
		e.sink.TimeoutStatus(status)
		e.sink.TimeoutEnded(reason)
		return false
	}

	warnLimit := int64(e.cfg.WarningBefore / time.Second)
	warnSession := sessionRem != nil && *sessionRem <= warnLimit && !e.sessionWarned
	if warnSession {
		e.sessionWarned = true
	}
	warnSilence := silenceRem != nil && *silenceRem <= warnLimit && !e.silenceWarned
	if warnSilence {
		e.silenceWarned = true
	}
	e.mu.Unlock()

	e.sink.TimeoutStatus(status)
	if warnSession {
		e.sink.TimeoutWarning(AxisSession, *sessionRem)
	}
	if warnSilence {
		e.sink.TimeoutWarning(AxisSilence, *silenceRem)
	}
	return true
}

func remaining(deadline time.Time, now time.Time) *int64 {
	if deadline.IsZero() {
		return nil
	}
	rem := int64(deadline.Sub(now) / time.Second)
	if rem < 0 {
		rem = 0
	}
	return &rem
}

func expired(rem *int64) bool {
	return rem != nil && *rem <= 0
}
