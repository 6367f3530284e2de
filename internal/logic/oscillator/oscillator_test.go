package oscillator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cjeanneret/SlideGo/internal/config"
	"github.com/cjeanneret/SlideGo/internal/hw/gpio"
	"github.com/cjeanneret/SlideGo/internal/hw/stepper"
	"github.com/cjeanneret/SlideGo/internal/hw/steptimer"
	"github.com/cjeanneret/SlideGo/internal/logic/geometry"
	"github.com/cjeanneret/SlideGo/internal/logic/motion"
)

// fakeSlider moves instantly. Distances are taken as steps. The end side
// is blocked at or beyond limit, the home side at 0.
type fakeSlider struct {
	mu        sync.Mutex
	mode      motion.Mode
	modeCh    chan struct{}
	dir       motion.Direction
	pos       int64
	limit     int64
	distance  float64
	interval  time.Duration
	blockAll  bool
	targets   []int64
	advances  int
	onAdvance func(n int)
	moving    bool
	held      bool
	power     []string
}

func newFakeSlider() *fakeSlider {
	return &fakeSlider{
		mode:     motion.Automatic,
		modeCh:   make(chan struct{}, 1),
		dir:      motion.Forward,
		limit:    300,
		distance: 100,
	}
}

func (f *fakeSlider) Mode() motion.Mode {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.mode
}

func (f *fakeSlider) setMode(m motion.Mode) {
	f.mu.Lock()
	f.mode = m
	f.mu.Unlock()
	select {
	case f.modeCh <- struct{}{}:
	default:
	}
}

func (f *fakeSlider) ModeChanged() <-chan struct{} { return f.modeCh }

func (f *fakeSlider) AutomaticMoveDistance() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.distance
}

func (f *fakeSlider) AutomaticMoveInterval() time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.interval
}

func (f *fakeSlider) SetDirection(dir motion.Direction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dir = dir
	return nil
}

func (f *fakeSlider) AdvanceLeg(distance float64) (motion.Direction, int64, error) {
	f.mu.Lock()
	f.advances++
	n := f.advances
	hook := f.onAdvance
	dir := f.dir
	var err error
	switch {
	case f.blockAll:
		err = &motion.BlockedError{Direction: dir}
	case dir == motion.Forward && f.pos >= f.limit:
		err = &motion.BlockedError{Direction: dir, Side: motion.End}
	case dir == motion.Backward && f.pos <= 0:
		err = &motion.BlockedError{Direction: dir, Side: motion.Home}
	default:
		if dir == motion.Forward {
			f.pos += int64(distance)
		} else {
			f.pos -= int64(distance)
			if f.pos < 0 {
				f.pos = 0
			}
		}
		f.targets = append(f.targets, f.pos)
	}
	pos := f.pos
	f.mu.Unlock()

	if hook != nil {
		hook(n)
	}
	return dir, pos, err
}

func (f *fakeSlider) WaitIdle(ctx context.Context) error { return ctx.Err() }

func (f *fakeSlider) HoldMotor() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.moving {
		return motion.ErrMoving
	}
	f.held = true
	f.power = append(f.power, "disable")
	return nil
}

func (f *fakeSlider) ReleaseMotor() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.held = false
	f.power = append(f.power, "enable")
	return nil
}

func (f *fakeSlider) recorded() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int64(nil), f.targets...)
}

func immediate(time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	ch <- time.Now()
	return ch
}

func runUntilDone(t *testing.T, o *Oscillator, ctx context.Context) error {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- o.Run(ctx) }()
	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
		return nil
	}
}

func TestRun_BouncesBetweenEnds(t *testing.T) {
	s := newFakeSlider()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	o := New(s, Options{})
	s.onAdvance = func(int) {
		if len(s.recorded()) == 8 {
			cancel()
		}
	}

	if err := runUntilDone(t, o, ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Run = %v, want context.Canceled", err)
	}

	want := []int64{100, 200, 300, 200, 100, 0, 100, 200}
	got := s.recorded()
	if len(got) != len(want) {
		t.Fatalf("targets = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("leg %d target = %d, want %d", i, got[i], want[i])
		}
	}
	if o.Legs() != 8 {
		t.Errorf("Legs = %d, want 8", o.Legs())
	}
}

func TestRun_BothEndsBlockedWaitsPoll(t *testing.T) {
	s := newFakeSlider()
	s.blockAll = true
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	o := New(s, Options{Poll: time.Millisecond})
	s.onAdvance = func(n int) {
		if n == 6 {
			cancel()
		}
	}

	if err := runUntilDone(t, o, ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Run = %v, want context.Canceled", err)
	}
	if o.Legs() != 0 {
		t.Errorf("Legs = %d, want 0", o.Legs())
	}
}

func TestRun_ManualModeIdles(t *testing.T) {
	s := newFakeSlider()
	s.mode = motion.Manual
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	o := New(s, Options{})
	o.after = immediate
	firstLeg := make(chan struct{})
	var once sync.Once
	s.onAdvance = func(int) {
		once.Do(func() { close(firstLeg) })
		cancel()
	}

	done := make(chan error, 1)
	go func() { done <- o.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	if got := len(s.recorded()); got != 0 {
		t.Fatalf("legs issued in manual mode: %d", got)
	}

	s.setMode(motion.Automatic)
	select {
	case <-firstLeg:
	case <-time.After(5 * time.Second):
		t.Fatal("no leg after switching to automatic")
	}
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("Run = %v, want context.Canceled", err)
	}
}

func TestDwell_CutShortByManualMode(t *testing.T) {
	s := newFakeSlider()
	o := New(s, Options{})

	go func() {
		time.Sleep(10 * time.Millisecond)
		s.setMode(motion.Manual)
	}()

	start := time.Now()
	if !o.dwell(context.Background(), start.Add(time.Hour)) {
		t.Fatal("dwell reported cancellation")
	}
	if time.Since(start) > 5*time.Second {
		t.Error("dwell was not cut short")
	}
}

func TestDwell_IgnoresAutomaticReassert(t *testing.T) {
	s := newFakeSlider()
	o := New(s, Options{})
	s.setMode(motion.Automatic)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if o.dwell(ctx, time.Now().Add(time.Hour)) {
		t.Error("dwell ended early although the mode stayed automatic")
	}
}

// ---------- Time-lapse shots ----------

// shotCamera logs shots into the fake slider's power log so the order of
// events can be checked.
type shotCamera struct {
	s   *fakeSlider
	err error
}

func (c *shotCamera) Shoot() error {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	if !c.s.held {
		c.s.power = append(c.s.power, "shoot with motor on")
	} else {
		c.s.power = append(c.s.power, "shoot")
	}
	return c.err
}

func (f *fakeSlider) powerLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.power...)
}

func TestShoot_MotorOffDuringShot(t *testing.T) {
	s := newFakeSlider()
	o := New(s, Options{Camera: &shotCamera{s: s}, Settle: time.Millisecond})

	if err := o.shoot(context.Background()); err != nil {
		t.Fatalf("shoot: %v", err)
	}
	want := []string{"disable", "shoot", "enable"}
	got := s.powerLog()
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event %d = %s, want %s", i, got[i], want[i])
		}
	}
	if o.Shots() != 1 {
		t.Errorf("Shots = %d, want 1", o.Shots())
	}
}

func TestShoot_CameraErrorReEnablesMotor(t *testing.T) {
	s := newFakeSlider()
	o := New(s, Options{Camera: &shotCamera{s: s, err: errors.New("no camera")}})

	if err := o.shoot(context.Background()); err == nil {
		t.Fatal("expected an error")
	}
	got := s.powerLog()
	if got[len(got)-1] != "enable" {
		t.Errorf("events = %v, motor should be re-enabled", got)
	}
	if o.Shots() != 0 {
		t.Errorf("Shots = %d, want 0", o.Shots())
	}
}

// ---------- End to end on the motion core ----------

type positionCamera struct {
	state  *motion.State
	cancel context.CancelFunc
	mu     sync.Mutex
	seen   []int64
}

func (c *positionCamera) Shoot() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seen = append(c.seen, c.state.Position())
	if len(c.seen) == 3 {
		c.cancel()
	}
	return nil
}

func TestRun_DrivesMotionCore(t *testing.T) {
	cfg := config.Default()
	drv := gpio.NewMockDriver()
	state := &motion.State{}
	conv := geometry.NewStepsCalculator(cfg)
	limits := motion.NewLimitMonitor(state, drv, 23, 24, 100)
	motor := stepper.NewStepper(drv, stepper.Config{StepPin: 17, DirPin: 27, EnablePin: 22})
	gen := motion.NewGenerator(state, motor)
	timer := steptimer.New(steptimer.MinInterval, gen.Tick)

	sup, err := motion.NewSupervisor(state, limits, timer, motor, conv, motion.Config{
		FeedrateMmPerMin: 6000,
		Mode:             motion.Automatic,
		AutoDistanceMm:   0.4,
		PollInterval:     time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewSupervisor: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go timer.Run(ctx)

	// Freshly homed: the home countdown forces the first leg forward.
	limits.Trigger(motion.Home)

	cam := &positionCamera{state: state, cancel: cancel}
	o := New(sup, Options{Camera: cam})

	if err := runUntilDone(t, o, ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Run = %v, want context.Canceled", err)
	}

	want := []int64{10, 20, 30}
	cam.mu.Lock()
	defer cam.mu.Unlock()
	for i := range want {
		if cam.seen[i] != want[i] {
			t.Errorf("shot %d at %d steps, want %d", i, cam.seen[i], want[i])
		}
	}
	if drv.Level(22) != gpio.Low {
		t.Error("driver should be enabled again after the shots")
	}
}

func TestShoot_SkippedWhileMoving(t *testing.T) {
	s := newFakeSlider()
	s.moving = true
	o := New(s, Options{Camera: &shotCamera{s: s}})

	if err := o.shoot(context.Background()); err != nil {
		t.Fatalf("shoot: %v", err)
	}
	if got := s.powerLog(); len(got) != 0 {
		t.Errorf("events = %v, want none", got)
	}
	if o.Shots() != 0 {
		t.Errorf("Shots = %d, want 0", o.Shots())
	}
}

// movingCamera requests a manual move while the frame is being taken.
type movingCamera struct {
	sup  *motion.Supervisor
	drv  *gpio.MockDriver
	err  error
	off  bool
	done bool
}

func (c *movingCamera) Shoot() error {
	c.off = c.drv.Level(22) == gpio.High
	_, c.err = c.sup.MoveTo(2)
	c.done = true
	return nil
}

func TestShoot_ManualMoveRefusedDuringShot(t *testing.T) {
	cfg := config.Default()
	drv := gpio.NewMockDriver()
	state := &motion.State{}
	conv := geometry.NewStepsCalculator(cfg)
	limits := motion.NewLimitMonitor(state, drv, 23, 24, 100)
	motor := stepper.NewStepper(drv, stepper.Config{StepPin: 17, DirPin: 27, EnablePin: 22})
	gen := motion.NewGenerator(state, motor)
	timer := steptimer.New(steptimer.MinInterval, gen.Tick)

	sup, err := motion.NewSupervisor(state, limits, timer, motor, conv, motion.Config{
		FeedrateMmPerMin: 550,
		Mode:             motion.Automatic,
		PollInterval:     time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewSupervisor: %v", err)
	}

	cam := &movingCamera{sup: sup, drv: drv}
	o := New(sup, Options{Camera: cam})
	if err := o.shoot(context.Background()); err != nil {
		t.Fatalf("shoot: %v", err)
	}

	if !cam.done || !cam.off {
		t.Fatalf("shot taken=%v with driver off=%v", cam.done, cam.off)
	}
	if !errors.Is(cam.err, motion.ErrMotorHeld) {
		t.Errorf("MoveTo during shot = %v, want ErrMotorHeld", cam.err)
	}
	if timer.Running() || state.Target() != 0 {
		t.Errorf("move armed during shot: running=%v target=%d", timer.Running(), state.Target())
	}
	if drv.Level(22) != gpio.Low {
		t.Error("driver should be enabled again after the shot")
	}
	if _, err := sup.MoveTo(2); err != nil {
		t.Errorf("MoveTo after shot: %v", err)
	}
}
