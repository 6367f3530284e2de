package motion

import (
	"sync"
	"testing"
	"time"

	"github.com/cjeanneret/SlideGo/internal/config"
	"github.com/cjeanneret/SlideGo/internal/hw/gpio"
	"github.com/cjeanneret/SlideGo/internal/logic/geometry"
)

const (
	testHomePin = 23
	testEndPin  = 24
	testMargin  = 100
)

// fakeTimer records arm/disarm requests instead of firing.
type fakeTimer struct {
	mu       sync.Mutex
	running  bool
	starts   int
	interval time.Duration
}

func (f *fakeTimer) Start() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.running = true
	f.starts++
}

func (f *fakeTimer) Pause() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.running = false
}

func (f *fakeTimer) Running() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running
}

func (f *fakeTimer) SetInterval(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.interval = d
}

func (f *fakeTimer) Starts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.starts
}

// fakeDir records DIR line writes and driver power changes.
type fakeDir struct {
	writes   []bool
	power    []bool
	powerErr error
}

func (f *fakeDir) Enable() error {
	if f.powerErr != nil {
		return f.powerErr
	}
	f.power = append(f.power, true)
	return nil
}

func (f *fakeDir) Disable() error {
	if f.powerErr != nil {
		return f.powerErr
	}
	f.power = append(f.power, false)
	return nil
}

func (f *fakeDir) SetDirection(forward bool) error {
	f.writes = append(f.writes, forward)
	return nil
}

func (f *fakeDir) last() (bool, bool) {
	if len(f.writes) == 0 {
		return false, false
	}
	return f.writes[len(f.writes)-1], true
}

// stepRecorder counts STEP line writes.
type stepRecorder struct {
	writes int
	rising int
}

func (r *stepRecorder) WriteStep(high bool) {
	r.writes++
	if high {
		r.rising++
	}
}

type rig struct {
	state  *State
	drv    *gpio.MockDriver
	limits *LimitMonitor
	timer  *fakeTimer
	dir    *fakeDir
	steps  *stepRecorder
	gen    *Generator
	conv   *geometry.StepsCalculator
	sup    *Supervisor
}

func newRig(t *testing.T) *rig {
	t.Helper()
	cfg := config.Default()
	r := &rig{
		state: &State{},
		drv:   gpio.NewMockDriver(),
		timer: &fakeTimer{},
		dir:   &fakeDir{},
		steps: &stepRecorder{},
		conv:  geometry.NewStepsCalculator(cfg),
	}
	r.limits = NewLimitMonitor(r.state, r.drv, testHomePin, testEndPin, testMargin)
	r.gen = NewGenerator(r.state, r.steps)

	sup, err := NewSupervisor(r.state, r.limits, r.timer, r.dir, r.conv, Config{
		FeedrateMmPerMin: cfg.Motion.FeedrateMmPerMin,
		TrackLengthMm:    cfg.Motion.TrackLengthMm,
		Mode:             Manual,
		AutoDistanceMm:   cfg.Automatic.MoveDistanceMm,
		AutoInterval:     cfg.MoveInterval(),
		PollInterval:     time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewSupervisor: %v", err)
	}
	r.sup = sup
	return r
}

// drive ticks the generator while the fake timer is armed, like the pulse
// timer would, and returns the number of ticks. It fails after max ticks.
func (r *rig) drive(t *testing.T, max int) int {
	t.Helper()
	n := 0
	for r.timer.Running() {
		if n >= max {
			t.Fatalf("generator still armed after %d ticks (pos=%d target=%d)", max, r.state.Position(), r.state.Target())
		}
		n++
		if !r.gen.Tick() {
			r.timer.Pause()
		}
	}
	return n
}
