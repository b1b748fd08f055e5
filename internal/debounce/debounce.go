// Package debounce implements the "reset on each new event, fire after a quiet
// window" pattern once, keyed so independent concerns (drag saves, range
// changes, settings saves) share one utility.
package debounce

import (
	"sync"
	"time"
)

// Timer is the subset of *time.Timer the debouncer needs.
type Timer interface {
	Stop() bool
}

// Clock schedules delayed callbacks.
type Clock interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type realClock struct{}

func (realClock) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

// RealClock is backed by time.AfterFunc.
var RealClock Clock = realClock{}

type pending struct {
	gen    uint64
	timer  Timer
	action func()
}

// Debouncer runs the most recent action for a key once the key has been quiet
// for its delay. A newer Trigger for the same key replaces the pending action.
type Debouncer struct {
	clock Clock

	mu      sync.Mutex
	gen     uint64
	pending map[string]*pending
	stopped bool
}

// New creates a Debouncer. A nil clock uses RealClock.
func New(clock Clock) *Debouncer {
	if clock == nil {
		clock = RealClock
	}
	return &Debouncer{clock: clock, pending: make(map[string]*pending)}
}

// Trigger (re)starts the quiet window for key. Any previously pending action
// for the key is discarded.
func (d *Debouncer) Trigger(key string, delay time.Duration, action func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	if p, ok := d.pending[key]; ok {
		p.timer.Stop()
	}
	d.gen++
	gen := d.gen
	p := &pending{gen: gen, action: action}
	d.pending[key] = p
	p.timer = d.clock.AfterFunc(delay, func() { d.fire(key, gen) })
}

func (d *Debouncer) fire(key string, gen uint64) {
	d.mu.Lock()
	p, ok := d.pending[key]
	// A Stop that lost the race with the timer leaves a stale callback behind.
	if !ok || p.gen != gen {
		d.mu.Unlock()
		return
	}
	delete(d.pending, key)
	d.mu.Unlock()
	p.action()
}

// Cancel drops the pending action for key. It reports whether one was pending.
func (d *Debouncer) Cancel(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.pending[key]
	if !ok {
		return false
	}
	p.timer.Stop()
	delete(d.pending, key)
	return true
}

// Flush runs the pending action for key immediately, if any.
func (d *Debouncer) Flush(key string) bool {
	d.mu.Lock()
	p, ok := d.pending[key]
	if ok {
		p.timer.Stop()
		delete(d.pending, key)
	}
	d.mu.Unlock()
	if ok {
		p.action()
	}
	return ok
}

// Pending reports whether key has an action waiting for its quiet window.
func (d *Debouncer) Pending(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.pending[key]
	return ok
}

// Stop cancels every pending action. Later Triggers are ignored.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	for key, p := range d.pending {
		p.timer.Stop()
		delete(d.pending, key)
	}
}
