package motion

// StepOutput is the STEP line written by the generator.
type StepOutput interface {
	WriteStep(high bool)
}

// Generator is the step pulse generator context. Tick is its only entry
// point and is called by the pulse timer once per half period; one full
// step takes two ticks. Tick only uses atomics on the shared State.
//
// Steps are counted on the rising edge, which is where the driver moves
// the motor, so the counted direction is always the one latched on DIR.
// A move therefore ends with the STEP line high; the next move starts with
// the falling half.
type Generator struct {
	state *State
	out   StepOutput
	phase bool // step line level, owned by the timer goroutine
}

// NewGenerator binds a generator to the shared state and STEP output.
func NewGenerator(state *State, out StepOutput) *Generator {
	return &Generator{state: state, out: out}
}

// Tick performs one timer firing and reports whether the timer should
// stay armed.
func (g *Generator) Tick() bool {
	s := g.state
	dir := s.Direction()

	// Already home: snap and stop.
	if dir == Backward && s.Countdown(Home) > 0 {
		s.position.Store(0)
		s.target.Store(0)
		return false
	}
	// Far limit reached: hold position.
	if dir == Forward && s.Countdown(End) > 0 {
		return false
	}
	pos, target := s.Position(), s.Target()
	if pos == target {
		return false
	}
	// DIR no longer points at the target, e.g. a refused move flipped it.
	if (dir == Forward) != (target > pos) {
		return false
	}

	g.phase = !g.phase
	g.out.WriteStep(g.phase)

	if g.phase {
		if dir == Forward {
			s.decrement(Home)
			s.position.Add(1)
		} else {
			s.decrement(End)
			if s.position.Add(-1) < 0 {
				s.position.Store(0)
			}
		}
	}

	return s.Position() != s.Target()
}

// Phase reports whether the STEP line is currently high.
func (g *Generator) Phase() bool { return g.phase }
