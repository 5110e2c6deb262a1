package clock

import (
	"sync"
	"time"
)

// Fake is a deterministic Clock for tests. Time only moves when Advance is
// called; due tickers and timers fire in timestamp order during the call.
type Fake struct {
	mu      sync.Mutex
	now     time.Time
	tickers []*fakeTicker
	timers  []*fakeTimer
}

// NewFake returns a Fake whose current time is start.
func NewFake(start time.Time) *Fake {
	return &Fake{now: start}
}

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *Fake) NewTicker(d time.Duration) Ticker {
	if d <= 0 {
		panic("clock: non-positive ticker interval")
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	t := &fakeTicker{
		clk:      f,
		interval: d,
		next:     f.now.Add(d),
		ch:       make(chan time.Time, 1),
	}
	f.tickers = append(f.tickers, t)
	return t
}

func (f *Fake) AfterFunc(d time.Duration, fn func()) Timer {
	f.mu.Lock()
	defer f.mu.Unlock()

	t := &fakeTimer{clk: f, when_: f.now.Add(d), fn: fn}
	f.timers = append(f.timers, t)
	return t
}

// Advance moves virtual time forward by d, firing every due ticker tick and
// timer callback along the way. Ticks are delivered with capacity one, like
// real tickers: a receiver that falls behind sees coalesced ticks.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	target := f.now.Add(d)

	for {
		ev := f.nextEventLocked(target)
		if ev == nil {
			break
		}
		f.now = ev.when()
		// Fire without the lock so callbacks may read the clock.
		f.mu.Unlock()
		ev.fire()
		f.mu.Lock()
	}

	f.now = target
	f.mu.Unlock()
}

type event interface {
	when() time.Time
	fire()
}

func (f *Fake) nextEventLocked(until time.Time) event {
	var next event

	for _, t := range f.tickers {
		if t.stopped {
			continue
		}
		if t.next.After(until) {
			continue
		}
		if next == nil || t.next.Before(next.when()) {
			next = t
		}
	}

	for _, t := range f.timers {
		if t.stopped || t.fired {
			continue
		}
		if t.when_.After(until) {
			continue
		}
		if next == nil || t.when_.Before(next.when()) {
			next = t
		}
	}

	return next
}

type fakeTicker struct {
	clk      *Fake
	interval time.Duration
	next     time.Time
	ch       chan time.Time
	stopped  bool
}

func (t *fakeTicker) C() <-chan time.Time {
	return t.ch
}

func (t *fakeTicker) Stop() {
	t.clk.mu.Lock()
	defer t.clk.mu.Unlock()
	t.stopped = true
}

func (t *fakeTicker) when() time.Time {
	return t.next
}

func (t *fakeTicker) fire() {
	t.clk.mu.Lock()
	at := t.next
	t.next = t.next.Add(t.interval)
	stopped := t.stopped
	t.clk.mu.Unlock()

	if stopped {
		return
	}

	select {
	case t.ch <- at:
	default:
	}
}

type fakeTimer struct {
	clk     *Fake
	when_   time.Time
	fn      func()
	fired   bool
	stopped bool
}

func (t *fakeTimer) Stop() bool {
	t.clk.mu.Lock()
	defer t.clk.mu.Unlock()

	if t.fired || t.stopped {
		return false
	}
	t.stopped = true
	return true
}

func (t *fakeTimer) when() time.Time {
	return t.when_
}

func (t *fakeTimer) fire() {
	t.clk.mu.Lock()
	if t.fired || t.stopped {
		t.clk.mu.Unlock()
		return
	}
	t.fired = true
	fn := t.fn
	t.clk.mu.Unlock()

	fn()
}
