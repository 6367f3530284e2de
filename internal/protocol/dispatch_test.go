package protocol

import (
	"errors"
	"testing"
	"time"

	"github.com/cjeanneret/SlideGo/internal/logic/motion"
)

// fakeMachine applies the same refusals as the supervisor without any
// hardware behind it.
type fakeMachine struct {
	mode      motion.Mode
	distance  float64
	interval  time.Duration
	posSteps  int64
	moveErr   error
	moves     []float64
	pending   bool
	paused    bool
	homeErr   error
	homed     bool
	asserted  [2]bool
	countdown [2]int32
	feedrate  float64
	held      bool
}

func newFakeMachine() *fakeMachine {
	return &fakeMachine{distance: 100, interval: 30 * time.Minute, feedrate: 550}
}

func (f *fakeMachine) Mode() motion.Mode { return f.mode }
func (f *fakeMachine) SetMode(m motion.Mode) { f.mode = m }

func (f *fakeMachine) AutomaticMoveDistance() float64 { return f.distance }

func (f *fakeMachine) SetAutomaticMoveDistance(mm float64) error {
	if mm < 0 {
		return motion.ErrNegativeDistance
	}
	if mm > 1e15 {
		return motion.ErrOutOfRange
	}
	f.distance = mm
	return nil
}

func (f *fakeMachine) AutomaticMoveInterval() time.Duration { return f.interval }

func (f *fakeMachine) SetAutomaticMoveInterval(d time.Duration) error {
	if d < 0 {
		return motion.ErrNegativeInterval
	}
	f.interval = d
	return nil
}

func (f *fakeMachine) Position() (float64, int64) {
	return float64(f.posSteps) / 25, f.posSteps
}

func (f *fakeMachine) MoveTo(mm float64) (int64, error) {
	if mm < 0 {
		return 0, motion.ErrNegativeTarget
	}
	if mm > 1e15 {
		return 0, motion.ErrOutOfRange
	}
	if f.held {
		return 0, motion.ErrMotorHeld
	}
	if f.moveErr != nil {
		return 0, f.moveErr
	}
	f.moves = append(f.moves, mm)
	return int64(mm * 25), nil
}

func (f *fakeMachine) Resume() (bool, error) {
	if f.held {
		return false, motion.ErrMotorHeld
	}
	return f.pending, nil
}
func (f *fakeMachine) Pause() { f.paused = true }

func (f *fakeMachine) Home() error {
	if f.homeErr != nil {
		return f.homeErr
	}
	f.homed = true
	return nil
}

func (f *fakeMachine) LimitState(side motion.Side) (bool, int32) {
	return f.asserted[side], f.countdown[side]
}

func (f *fakeMachine) Feedrate() (float64, float64) {
	return f.feedrate, 1 / (f.feedrate / 60 * 25) / 2
}

func (f *fakeMachine) SetFeedrate(v float64) error {
	if v <= 0 {
		return motion.ErrInvalidFeedrate
	}
	if v < 1e-6 {
		return motion.ErrOutOfRange
	}
	f.feedrate = v
	return nil
}

func TestDispatch_Replies(t *testing.T) {
	tests := []struct {
		name  string
		setup func(*fakeMachine)
		line  string
		want  string
	}{
		{"query mode", nil, "?Mode", "Current Mode = Manual"},
		{"set automatic", nil, "Mode=Automatic", "Setting Mode to Automatic"},
		{"set manual", nil, "Mode=Manual", "Setting Mode to Manual"},
		{"bad mode", nil, "Mode=Auto", "Could not recognize the mode"},
		{"query distance", nil, "?AutomaticMoveDistance", "Current Automatic Move Distance = 100.000000 mm"},
		{"set distance", nil, "AutomaticMoveDistance=25", "Setting Automatic Move Distance to 25.000000 mm"},
		{"negative distance", nil, "AutomaticMoveDistance=-1", "Automatic Move Distance must not be negative"},
		{"query interval", nil, "?AutomaticMoveInterval", "Current Automatic Move Interval = 1800.000000 s"},
		{"set interval", nil, "AutomaticMoveInterval=90", "Setting Automatic Move Interval to 90.000000 s"},
		{"negative interval", nil, "AutomaticMoveInterval=-2", "Automatic Move Interval must not be negative"},
		{"query pos", func(f *fakeMachine) { f.posSteps = 2500 }, "?Pos", "Current Position = 100.000000 mm (2500 steps)"},
		{"move", nil, "Pos=100", "Target Position = 100.000000 mm (2500 steps)"},
		{"negative move", nil, "Pos=-1", "Negative Positions not allowed"},
		{"blocked forward", func(f *fakeMachine) {
			f.moveErr = &motion.BlockedError{Direction: motion.Forward, Side: motion.End}
		}, "Pos=10", "Can't move forward, because end button is pressed"},
		{"blocked backward", func(f *fakeMachine) {
			f.moveErr = &motion.BlockedError{Direction: motion.Backward, Side: motion.Home}
		}, "Pos=0", "Can't move backward, because start button is pressed"},
		{"resume pending", func(f *fakeMachine) { f.pending = true }, "Resume", "Resuming"},
		{"start alias", func(f *fakeMachine) { f.pending = true }, "Start", "Resuming"},
		{"resume nothing", nil, "Resume", "Nothing to resume"},
		{"pause", nil, "Pause", "Pausing"},
		{"stop alias", nil, "Stop", "Pausing"},
		{"home", nil, "Home", "Going Home"},
		{"already home", func(f *fakeMachine) { f.homeErr = motion.ErrAlreadyHome }, "Home", "Already Home"},
		{"is home", func(f *fakeMachine) {
			f.asserted[motion.Home] = true
			f.countdown[motion.Home] = 100
		}, "?Home", "Is Home: 100"},
		{"not home", func(f *fakeMachine) { f.countdown[motion.Home] = 42 }, "?Home", "Not Home: 42"},
		{"is end", func(f *fakeMachine) { f.asserted[motion.End] = true }, "?End", "Is End: 0"},
		{"not end", nil, "?End", "Not End: 0"},
		{"query feedrate", func(f *fakeMachine) { f.feedrate = 600 }, "?Feedrate", "Current Feedrate = 600.000000 mm/min (delay = 0.002000 s)"},
		{"set feedrate", nil, "Feedrate=600", "New Feedrate = 600.000000 mm/min (delay = 0.002000 s)"},
		{"zero feedrate", nil, "Feedrate=0", "Feedrate must be positive"},
		{"tiny feedrate", nil, "Feedrate=0.000000000001", "Value out of range"},
		{"huge move", nil, "Pos=1e30", "Value out of range"},
		{"huge distance", nil, "AutomaticMoveDistance=1e30", "Value out of range"},
		{"huge interval", nil, "AutomaticMoveInterval=1e11", "Value out of range"},
		{"huge negative interval", nil, "AutomaticMoveInterval=-1e11", "Value out of range"},
		{"move during shot", func(f *fakeMachine) { f.held = true }, "Pos=10", "Motor disabled, taking a photo"},
		{"resume during shot", func(f *fakeMachine) {
			f.held = true
			f.pending = true
		}, "Resume", "Motor disabled, taking a photo"},
		{"unknown", nil, "Jump", "Unrecognized Command"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFakeMachine()
			if tt.setup != nil {
				tt.setup(f)
			}
			if got := Dispatch(f, Parse(tt.line)); got != tt.want {
				t.Errorf("reply = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDispatch_Effects(t *testing.T) {
	f := newFakeMachine()

	Dispatch(f, Parse("Mode=Automatic"))
	if f.mode != motion.Automatic {
		t.Errorf("mode = %s, want Automatic", f.mode)
	}
	Dispatch(f, Parse("AutomaticMoveInterval=1.5"))
	if f.interval != 1500*time.Millisecond {
		t.Errorf("interval = %v, want 1.5s", f.interval)
	}
	Dispatch(f, Parse("Pos=-5"))
	if len(f.moves) != 0 {
		t.Errorf("negative target reached MoveTo: %v", f.moves)
	}
	Dispatch(f, Parse("Feedrate=-10"))
	if f.feedrate != 550 {
		t.Errorf("feedrate = %v, want unchanged 550", f.feedrate)
	}
	Dispatch(f, Parse("Pause"))
	if !f.paused {
		t.Error("Pause was not applied")
	}
	Dispatch(f, Parse("Mode=Bogus"))
	if f.mode != motion.Automatic {
		t.Errorf("mode changed on bad request: %s", f.mode)
	}
}

func TestDispatch_UnexpectedError(t *testing.T) {
	f := newFakeMachine()
	f.moveErr = errors.New("drive direction pin: gpio busy")
	want := "Error: drive direction pin: gpio busy"
	if got := Dispatch(f, Parse("Pos=10")); got != want {
		t.Errorf("reply = %q, want %q", got, want)
	}
}

func TestHandler_Handle(t *testing.T) {
	h := NewHandler(newFakeMachine())
	if got := h.Handle("test", "?Mode\n"); got != "Current Mode = Manual" {
		t.Errorf("reply = %q", got)
	}
}

func TestSeconds(t *testing.T) {
	tests := []struct {
		in   float64
		want time.Duration
		ok   bool
	}{
		{1.5, 1500 * time.Millisecond, true},
		{0, 0, true},
		{-2, -2 * time.Second, true},
		{9e9, 9e9 * time.Second, true},
		{1e11, 0, false},
		{-1e11, 0, false},
	}
	for _, tt := range tests {
		d, ok := seconds(tt.in)
		if d != tt.want || ok != tt.ok {
			t.Errorf("seconds(%v) = %v, %v; want %v, %v", tt.in, d, ok, tt.want, tt.ok)
		}
	}
}

func TestDispatch_HugeIntervalKeepsSetting(t *testing.T) {
	f := newFakeMachine()
	Dispatch(f, Parse("AutomaticMoveInterval=1e11"))
	if f.interval != 30*time.Minute {
		t.Errorf("interval = %v, want unchanged 30m", f.interval)
	}
}
