// Package busy coordinates the global loading indicator shown while upstream
// requests are in flight.
//
// A Tracker reference-counts operations. The indicator only appears once an
// operation has been outstanding for DelayShow, and once it appears it stays up
// for at least MinVisible. Every scheduled callback re-checks the counter before
// it acts, so the order in which overlapping requests call Begin and End never
// matters.
package busy

import (
	"sync"
	"time"
)

const (
	DefaultDelayShow  = 200 * time.Millisecond
	DefaultMinVisible = 500 * time.Millisecond
)

// Timer is a cancellable scheduled callback.
type Timer interface {
	Stop() bool
}

// Clock is the time source used by a Tracker.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

// State is a point-in-time view of a Tracker.
type State struct {
	Active       int
	Visible      bool
	VisibleSince time.Time
}

type Option func(*Tracker)

// WithDelays overrides the show delay and the minimum visible duration.
// Negative values are treated as zero.
func WithDelays(delayShow, minVisible time.Duration) Option {
	return func(t *Tracker) {
		t.delayShow = max(delayShow, 0)
		t.minVisible = max(minVisible, 0)
	}
}

func WithClock(clock Clock) Option {
	return func(t *Tracker) {
		if clock != nil {
			t.clock = clock
		}
	}
}

type Tracker struct {
	clock      Clock
	delayShow  time.Duration
	minVisible time.Duration

	mu           sync.Mutex
	active       int
	visible      bool
	visibleSince time.Time
	showTimer    Timer
	hideTimer    Timer
	showGen      uint64
	hideGen      uint64

	subMu   sync.Mutex
	subs    []subscriber
	nextSub uint64
}

type subscriber struct {
	id uint64
	fn func(bool)
}

func New(opts ...Option) *Tracker {
	t := &Tracker{
		clock:      systemClock{},
		delayShow:  DefaultDelayShow,
		minVisible: DefaultMinVisible,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Begin records the start of an operation.
func (t *Tracker) Begin() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.active++
	if t.active != 1 {
		return
	}

	t.cancelHideLocked()
	if t.visible || t.showTimer != nil {
		return
	}

	t.showGen++
	gen := t.showGen
	t.showTimer = t.clock.AfterFunc(t.delayShow, func() { t.fireShow(gen) })
}

// End records the completion of an operation. Extra calls are ignored; the
// counter never goes below zero.
func (t *Tracker) End() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.active > 0 {
		t.active--
	}
	if t.active > 0 {
		return
	}

	if t.showTimer != nil {
		t.cancelShowLocked()
		t.visibleSince = time.Time{}
		return
	}
	if !t.visible {
		return
	}

	remaining := t.minVisible - t.clock.Now().Sub(t.visibleSince)
	if remaining < 0 {
		remaining = 0
	}

	t.cancelHideLocked()
	t.hideGen++
	gen := t.hideGen
	t.hideTimer = t.clock.AfterFunc(remaining, func() { t.fireHide(gen) })
}

// Reset forces the tracker back to the idle, hidden state and cancels any
// pending timers.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.active = 0
	t.visibleSince = time.Time{}
	t.cancelShowLocked()
	t.cancelHideLocked()
	if t.visible {
		t.visible = false
		t.publish(false)
	}
}

func (t *Tracker) Visible() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.visible
}

func (t *Tracker) Active() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active
}

func (t *Tracker) Snapshot() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return State{Active: t.active, Visible: t.visible, VisibleSince: t.visibleSince}
}

// Subscribe registers fn for visibility changes. Changes are delivered in the
// order they happen, synchronously, while the tracker is locked: fn must not
// call back into the Tracker.
func (t *Tracker) Subscribe(fn func(visible bool)) (unsubscribe func()) {
	t.subMu.Lock()
	id := t.nextSub
	t.nextSub++
	t.subs = append(t.subs, subscriber{id: id, fn: fn})
	t.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			t.subMu.Lock()
			defer t.subMu.Unlock()
			for i, sub := range t.subs {
				if sub.id == id {
					t.subs = append(t.subs[:i:i], t.subs[i+1:]...)
					return
				}
			}
		})
	}
}

func (t *Tracker) fireShow(gen uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.showTimer == nil || gen != t.showGen {
		return
	}
	t.showTimer = nil
	if t.active > 0 && !t.visible {
		t.visible = true
		t.visibleSince = t.clock.Now()
		t.publish(true)
	}
}

func (t *Tracker) fireHide(gen uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.hideTimer == nil || gen != t.hideGen {
		return
	}
	t.hideTimer = nil
	if t.active == 0 && t.visible {
		t.visible = false
		t.visibleSince = time.Time{}
		t.publish(false)
	}
}

func (t *Tracker) cancelShowLocked() {
	if t.showTimer == nil {
		return
	}
	t.showTimer.Stop()
	t.showTimer = nil
	t.showGen++
}

func (t *Tracker) cancelHideLocked() {
	if t.hideTimer == nil {
		return
	}
	t.hideTimer.Stop()
	t.hideTimer = nil
	t.hideGen++
}

func (t *Tracker) pendingTimers() (show, hide bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.showTimer != nil, t.hideTimer != nil
}

func (t *Tracker) publish(visible bool) {
	t.subMu.Lock()
	defer t.subMu.Unlock()
	for _, sub := range t.subs {
		sub.fn(visible)
	}
}
