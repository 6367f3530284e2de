// Package motion holds the slider's position bookkeeping and the three
// contexts that mutate it: the step pulse generator (timer context), the
// limit-switch monitor (edge events) and the supervisor (commands and the
// oscillator). Every field shared with the generator is an atomic.
package motion

import "sync/atomic"

// Direction of carriage travel.
type Direction int32

const (
	Backward Direction = 0 // toward the home switch
	Forward  Direction = 1 // toward the end switch
)

func (d Direction) String() string {
	if d == Forward {
		return "Forward"
	}
	return "Backward"
}

// Opposite returns the reverse direction.
func (d Direction) Opposite() Direction {
	if d == Forward {
		return Backward
	}
	return Forward
}

// Mode governs whether the oscillator may issue targets.
type Mode int32

const (
	Manual Mode = iota
	Automatic
)

func (m Mode) String() string {
	if m == Automatic {
		return "Automatic"
	}
	return "Manual"
}

// Side identifies one of the two limit switches.
type Side int

const (
	Home Side = iota // position 0
	End              // far end of the track
)

func (s Side) String() string {
	if s == End {
		return "End"
	}
	return "Home"
}

// approachedBy returns the side a carriage moving in d runs into.
func approachedBy(d Direction) Side {
	if d == Forward {
		return End
	}
	return Home
}

// State is the process-wide motion state shared across contexts.
// Position is integrated from steps, so it is open-loop: lost steps are
// not detected.
type State struct {
	position  atomic.Int64
	target    atomic.Int64
	direction atomic.Int32
	countdown [2]atomic.Int32 // indexed by Side
}

// Position returns the integrated carriage position in steps.
func (s *State) Position() int64 { return s.position.Load() }

// Target returns the committed destination in steps.
func (s *State) Target() int64 { return s.target.Load() }

// Direction returns the current travel direction.
func (s *State) Direction() Direction { return Direction(s.direction.Load()) }

// Countdown returns the safety countdown of side.
func (s *State) Countdown(side Side) int32 { return s.countdown[side].Load() }

// decrement lowers a non-zero countdown by one without going below zero
// if the monitor clears it concurrently.
func (s *State) decrement(side Side) {
	c := &s.countdown[side]
	for {
		v := c.Load()
		if v <= 0 || c.CompareAndSwap(v, v-1) {
			return
		}
	}
}
