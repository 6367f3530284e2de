package motion

import (
	"context"
	"fmt"

	"github.com/cjeanneret/SlideGo/internal/debug"
	"github.com/cjeanneret/SlideGo/internal/hw/gpio"
)

// edgeQueueSize bounds the number of pending switch events, like the
// interrupt queue feeding the deferred handler on the original board.
const edgeQueueSize = 10

// LimitMonitor watches the home and end switches. Edge callbacks only
// enqueue the pin; Run re-reads the level and applies the trigger.
type LimitMonitor struct {
	state  *State
	gpio   gpio.Driver
	pins   [2]int // indexed by Side
	margin int32
	events chan int
}

// NewLimitMonitor creates a monitor for the given switch pins. margin is
// the safety countdown, in steps, armed on every trigger.
func NewLimitMonitor(state *State, g gpio.Driver, homePin, endPin int, margin int32) *LimitMonitor {
	return &LimitMonitor{
		state:  state,
		gpio:   g,
		pins:   [2]int{Home: homePin, End: endPin},
		margin: margin,
		events: make(chan int, edgeQueueSize),
	}
}

// Attach configures both switch pins and registers the rising edge
// callbacks on the driver.
func (m *LimitMonitor) Attach(g gpio.EdgeDriver) error {
	for _, side := range []Side{Home, End} {
		if err := g.WatchRisingEdge(m.pins[side], m.notify); err != nil {
			return fmt.Errorf("watch %s switch on pin %d: %w", side, m.pins[side], err)
		}
	}
	return nil
}

// notify runs in the driver's event context and never blocks.
func (m *LimitMonitor) notify(pin int) {
	select {
	case m.events <- pin:
	default:
		debug.Live("Limit switch event on pin %d dropped, queue full", pin)
	}
}

// Run is the deferred handler: it consumes switch events until ctx ends.
func (m *LimitMonitor) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case pin := <-m.events:
			m.handle(pin)
		}
	}
}

func (m *LimitMonitor) handle(pin int) {
	level, err := m.gpio.ReadPin(pin)
	if err != nil {
		debug.Error(fmt.Errorf("read limit switch pin %d: %w", pin, err))
		return
	}
	debug.Trace("Limit switch pin %d event, level %v", pin, level)
	if level != gpio.High {
		return
	}
	switch pin {
	case m.pins[Home]:
		m.Trigger(Home)
	case m.pins[End]:
		m.Trigger(End)
	}
}

// Trigger applies a switch activation on side: arm its countdown, clear
// the other side's, and for the home side re-zero the position.
func (m *LimitMonitor) Trigger(side Side) {
	s := m.state
	s.countdown[side].Store(m.margin)
	s.countdown[1-side].Store(0)

	if side == Home {
		s.position.Store(0)
		if s.Direction() == Backward {
			// Cancels an in-flight homing move.
			s.target.Store(0)
		}
	}
	debug.Limit(side.String(), m.margin)
}

// Asserted reads the switch level directly, independent of the countdown.
// A read error counts as asserted.
func (m *LimitMonitor) Asserted(side Side) bool {
	level, err := m.gpio.ReadPin(m.pins[side])
	if err != nil {
		debug.Error(fmt.Errorf("read %s switch: %w", side, err))
		return true
	}
	return level == gpio.High
}

// Countdown returns the pending safety countdown of side.
func (m *LimitMonitor) Countdown(side Side) int32 {
	return m.state.Countdown(side)
}

// Blocked reports whether travel toward side is currently forbidden:
// the switch is pressed or was freshly triggered.
func (m *LimitMonitor) Blocked(side Side) bool {
	return m.Countdown(side) > 0 || m.Asserted(side)
}
