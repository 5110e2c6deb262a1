// Package clock abstracts time so timer-driven components can be tested
// against virtual time instead of real timers.
package clock

import "time"

// Clock supplies current time and timer primitives.
type Clock interface {
	Now() time.Time
	NewTicker(d time.Duration) Ticker
	AfterFunc(d time.Duration, fn func()) Timer
}

// Ticker delivers ticks on a channel until stopped.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// Timer represents a single pending callback.
type Timer interface {
	// Stop cancels the callback. It reports whether the call was prevented.
	Stop() bool
}

// System is the wall-clock implementation backed by the time package.
type System struct{}

// NewSystem returns a Clock backed by real time.
func NewSystem() *System {
	return &System{}
}

func (*System) Now() time.Time {
	return time.Now()
}

func (*System) NewTicker(d time.Duration) Ticker {
	return systemTicker{time.NewTicker(d)}
}

func (*System) AfterFunc(d time.Duration, fn func()) Timer {
	return time.AfterFunc(d, fn)
}

type systemTicker struct {
	t *time.Ticker
}

func (s systemTicker) C() <-chan time.Time {
	return s.t.C
}

func (s systemTicker) Stop() {
	s.t.Stop()
}
