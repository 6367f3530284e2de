// Package steptimer provides the periodic pulse timer that drives the
// step generator. It plays the role of an auto-reloading hardware timer:
// it can be armed, paused and reprogrammed while running, and its handler
// decides on every firing whether it stays armed.
package steptimer

import (
	"context"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/cjeanneret/SlideGo/internal/debug"
)

// Handler is called on every firing. Returning false disarms the timer.
// It runs on the timer goroutine and must not block.
type Handler func() bool

// MinInterval is the shortest half period the timer accepts.
const MinInterval = 20 * time.Microsecond

// Timer is an auto-reloading periodic timer.
//
// The arm state is one atomic word: bit 0 is the armed flag, the upper bits
// count Start calls. A disarm requested by the handler only applies if no
// Start happened since the firing began, so a target committed while the
// previous move completes is never dropped.
type Timer struct {
	handler  Handler
	state    atomic.Uint64
	interval atomic.Int64
	fired    atomic.Uint64
	wake     chan struct{}
}

// New creates a paused timer firing handler every interval once started.
func New(interval time.Duration, handler Handler) *Timer {
	t := &Timer{
		handler: handler,
		wake:    make(chan struct{}, 1),
	}
	t.interval.Store(int64(clampInterval(interval)))
	return t
}

func clampInterval(d time.Duration) time.Duration {
	if d < MinInterval {
		return MinInterval
	}
	return d
}

func (t *Timer) signal() {
	select {
	case t.wake <- struct{}{}:
	default:
	}
}

// Start arms the timer. Starting an armed timer is a no-op apart from
// invalidating a concurrent handler disarm.
func (t *Timer) Start() {
	for {
		s := t.state.Load()
		next := ((s>>1)+1)<<1 | 1
		if t.state.CompareAndSwap(s, next) {
			break
		}
	}
	t.signal()
}

// Pause disarms the timer. The handler is not called again until Start.
func (t *Timer) Pause() {
	for {
		s := t.state.Load()
		if t.state.CompareAndSwap(s, s&^1) {
			break
		}
	}
	t.signal()
}

// Running reports whether the timer is armed.
func (t *Timer) Running() bool {
	return t.state.Load()&1 == 1
}

// SetInterval reprograms the half period, taking effect on the next firing
// even while armed.
func (t *Timer) SetInterval(d time.Duration) {
	d = clampInterval(d)
	t.interval.Store(int64(d))
	debug.Verbose("Pulse timer interval set to %v", d)
	t.signal()
}

// Interval returns the programmed half period.
func (t *Timer) Interval() time.Duration {
	return time.Duration(t.interval.Load())
}

// Fired returns how many times the handler has been called.
func (t *Timer) Fired() uint64 {
	return t.fired.Load()
}

// fire runs the handler once and applies its disarm request.
func (t *Timer) fire() {
	s := t.state.Load()
	if s&1 == 0 {
		return
	}
	t.fired.Add(1)
	if !t.handler() {
		// Fails if Start or Pause ran during the handler.
		t.state.CompareAndSwap(s, s&^1)
	}
}

// Run services the timer until ctx is cancelled. It locks the goroutine to
// its OS thread and asks for a higher scheduling priority where supported.
func (t *Timer) Run(ctx context.Context) error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	if err := raisePriority(); err != nil {
		debug.Verbose("Pulse timer runs at normal priority: %v", err)
	}

	ticker := time.NewTicker(t.Interval())
	ticker.Stop()
	defer ticker.Stop()

	var current time.Duration
	armed := false
	for {
		running := t.Running()
		switch {
		case running && !armed:
			current = t.Interval()
			ticker.Reset(current)
			armed = true
		case running && armed:
			if iv := t.Interval(); iv != current {
				current = iv
				ticker.Reset(current)
			}
		case !running && armed:
			ticker.Stop()
			armed = false
		}

		if !armed {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-t.wake:
			}
			continue
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.wake:
		case <-ticker.C:
			t.fire()
		}
	}
}
