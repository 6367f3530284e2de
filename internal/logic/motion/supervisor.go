package motion

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cjeanneret/SlideGo/internal/debug"
	"github.com/cjeanneret/SlideGo/internal/logic/geometry"
)

// PulseTimer is the periodic timer driving the Generator.
type PulseTimer interface {
	Start()
	Pause()
	Running() bool
	SetInterval(d time.Duration)
}

// MotorDriver is the DIR line and the driver's ENABLE line.
type MotorDriver interface {
	SetDirection(forward bool) error
	Enable() error
	Disable() error
}

// Config holds the supervisor's initial settings.
type Config struct {
	FeedrateMmPerMin float64
	TrackLengthMm    float64 // assumed position before a homing run
	Mode             Mode
	AutoDistanceMm   float64
	AutoInterval     time.Duration
	PollInterval     time.Duration // WaitIdle sampling period, default 10ms
}

// Snapshot is a consistent-enough view of the slider for status reports.
type Snapshot struct {
	PositionSteps    int64   `json:"position_steps"`
	PositionMm       float64 `json:"position_mm"`
	TargetSteps      int64   `json:"target_steps"`
	TargetMm         float64 `json:"target_mm"`
	Direction        string  `json:"direction"`
	Moving           bool    `json:"moving"`
	Mode             string  `json:"mode"`
	FeedrateMmPerMin float64 `json:"feedrate_mm_min"`
	PulseDelaySec    float64 `json:"pulse_delay_s"`
	HomeAsserted     bool    `json:"home_asserted"`
	HomeCountdown    int32   `json:"home_countdown"`
	EndAsserted      bool    `json:"end_asserted"`
	EndCountdown     int32   `json:"end_countdown"`
	AutoDistanceMm   float64 `json:"automatic_move_distance_mm"`
	AutoIntervalSec  float64 `json:"automatic_move_interval_s"`
}

// Supervisor owns target/direction changes requested by the command
// dispatcher and the oscillator. Its operations are serialized with a
// mutex that the generator never takes; last writer wins on the target.
// The supervisor also owns driver power: while the motor is held off, no
// operation arms the generator.
type Supervisor struct {
	state  *State
	limits *LimitMonitor
	timer  PulseTimer
	motor  MotorDriver
	conv   *geometry.StepsCalculator

	trackLengthMm float64
	poll          time.Duration

	mu             sync.Mutex
	feedrate       float64
	autoDistanceMm float64
	autoInterval   time.Duration
	held           bool

	mode   atomic.Int32
	modeCh chan struct{}
}

// NewSupervisor wires the supervisor and programs the timer with the
// initial feedrate.
func NewSupervisor(
	state *State,
	limits *LimitMonitor,
	timer PulseTimer,
	motor MotorDriver,
	conv *geometry.StepsCalculator,
	cfg Config,
) (*Supervisor, error) {
	if cfg.FeedrateMmPerMin <= 0 {
		return nil, fmt.Errorf("initial feedrate %.2f: %w", cfg.FeedrateMmPerMin, ErrInvalidFeedrate)
	}
	if conv.PulseInterval(cfg.FeedrateMmPerMin) == geometry.MaxPulseInterval {
		return nil, fmt.Errorf("initial feedrate %g: %w", cfg.FeedrateMmPerMin, ErrOutOfRange)
	}
	if cfg.AutoDistanceMm < 0 {
		return nil, ErrNegativeDistance
	}
	if !conv.StepsInRange(cfg.AutoDistanceMm) || !conv.StepsInRange(cfg.TrackLengthMm) {
		return nil, fmt.Errorf("automatic distance or track length: %w", ErrOutOfRange)
	}
	if cfg.AutoInterval < 0 {
		return nil, ErrNegativeInterval
	}
	poll := cfg.PollInterval
	if poll <= 0 {
		poll = 10 * time.Millisecond
	}

	s := &Supervisor{
		state:          state,
		limits:         limits,
		timer:          timer,
		motor:          motor,
		conv:           conv,
		trackLengthMm:  cfg.TrackLengthMm,
		poll:           poll,
		feedrate:       cfg.FeedrateMmPerMin,
		autoDistanceMm: cfg.AutoDistanceMm,
		autoInterval:   cfg.AutoInterval,
		modeCh:         make(chan struct{}, 1),
	}
	s.mode.Store(int32(cfg.Mode))
	timer.SetInterval(conv.PulseInterval(cfg.FeedrateMmPerMin))
	return s, nil
}

// ---------- direction ----------

// SetDirection updates the direction and drives the DIR line.
func (s *Supervisor) SetDirection(dir Direction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setDirectionLocked(dir)
}

func (s *Supervisor) setDirectionLocked(dir Direction) error {
	s.state.direction.Store(int32(dir))
	debug.Verbose("Setting Direction = %s", dir)
	if err := s.motor.SetDirection(dir == Forward); err != nil {
		return fmt.Errorf("drive direction pin: %w", err)
	}
	return nil
}

// Direction returns the current travel direction.
func (s *Supervisor) Direction() Direction {
	return s.state.Direction()
}

// ---------- moves ----------

// MoveTo commits a new target in millimeters and starts the generator.
// It returns the target in steps. Negative or unrepresentable targets and
// moves toward a pressed switch are refused without touching the target.
func (s *Supervisor) MoveTo(mm float64) (int64, error) {
	if mm < 0 {
		return 0, ErrNegativeTarget
	}
	if !s.conv.StepsInRange(mm) {
		return 0, ErrOutOfRange
	}
	target := s.conv.MillimetersToSteps(mm)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.held {
		return 0, ErrMotorHeld
	}

	pos := s.state.Position()
	dir := Backward
	if target > pos {
		dir = Forward
	}
	if err := s.setDirectionLocked(dir); err != nil {
		return 0, err
	}

	side := approachedBy(dir)
	if s.limits.Asserted(side) {
		return 0, &BlockedError{Direction: dir, Side: side}
	}

	s.commitLocked(target)
	return target, nil
}

// commitLocked stores target and arms the generator if there is travel left.
func (s *Supervisor) commitLocked(target int64) {
	pos := s.state.Position()
	s.state.target.Store(target)
	debug.Move(s.state.Direction().String(), pos, target)
	if target != pos {
		s.timer.Start()
	}
}

// AdvanceLeg commits a target distanceMm away from the current position in
// the current direction, clamped at 0 when going backward. A *BlockedError
// is returned when that side's switch is pressed or freshly triggered.
func (s *Supervisor) AdvanceLeg(distanceMm float64) (Direction, int64, error) {
	if distanceMm < 0 {
		return s.state.Direction(), s.state.Target(), ErrNegativeDistance
	}
	if !s.conv.StepsInRange(distanceMm) {
		return s.state.Direction(), s.state.Target(), ErrOutOfRange
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	dir := s.state.Direction()
	if s.held {
		return dir, s.state.Target(), ErrMotorHeld
	}
	side := approachedBy(dir)
	if s.limits.Blocked(side) {
		return dir, s.state.Target(), &BlockedError{Direction: dir, Side: side}
	}

	leg := s.conv.MillimetersToSteps(distanceMm)
	pos := s.state.Position()
	target := min(pos+leg, geometry.MaxSteps)
	if dir == Backward {
		target = max(pos-leg, 0)
	}
	s.commitLocked(target)
	return dir, target, nil
}

// Home starts a homing run: the position is set to the full track length
// and the carriage travels backward until the home switch zeroes it.
func (s *Supervisor) Home() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.held {
		return ErrMotorHeld
	}
	if s.limits.Countdown(Home) > 0 || s.limits.Asserted(Home) {
		return ErrAlreadyHome
	}
	if err := s.setDirectionLocked(Backward); err != nil {
		return err
	}
	s.state.target.Store(0)
	s.state.position.Store(s.conv.MillimetersToSteps(s.trackLengthMm))
	debug.Live("Going home from assumed %.1f mm", s.trackLengthMm)
	s.timer.Start()
	return nil
}

// Pause stops pulse generation. Target and position are kept.
func (s *Supervisor) Pause() {
	s.timer.Pause()
	debug.Live("Motion paused at %d steps", s.state.Position())
}

// Resume restarts pulse generation toward the committed target. It
// reports false when there is nothing left to do. DIR is pointed back at
// the target first, and a move toward a pressed switch is refused.
func (s *Supervisor) Resume() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.held {
		return false, ErrMotorHeld
	}
	pos, target := s.state.Position(), s.state.Target()
	if target == pos {
		return false, nil
	}
	dir := Backward
	if target > pos {
		dir = Forward
	}
	if dir != s.state.Direction() {
		if err := s.setDirectionLocked(dir); err != nil {
			return false, err
		}
	}
	if side := approachedBy(dir); s.limits.Asserted(side) {
		return false, &BlockedError{Direction: dir, Side: side}
	}
	s.timer.Start()
	debug.Live("Motion resumed toward %d steps", target)
	return true, nil
}

// HoldMotor switches the driver off, e.g. for a photo. It fails with
// ErrMoving while the generator is armed. Until ReleaseMotor, every
// operation that would arm the generator returns ErrMotorHeld.
func (s *Supervisor) HoldMotor() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer.Running() {
		return ErrMoving
	}
	if err := s.motor.Disable(); err != nil {
		return fmt.Errorf("disable motor driver: %w", err)
	}
	s.held = true
	debug.Verbose("Motor driver held off")
	return nil
}

// ReleaseMotor switches the driver back on after HoldMotor. Moves stay
// refused if the driver cannot be enabled.
func (s *Supervisor) ReleaseMotor() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.motor.Enable(); err != nil {
		return fmt.Errorf("enable motor driver: %w", err)
	}
	s.held = false
	debug.Verbose("Motor driver released")
	return nil
}

// Moving reports whether the generator is armed.
func (s *Supervisor) Moving() bool {
	return s.timer.Running()
}

// WaitIdle blocks until the generator has disarmed or ctx is done.
func (s *Supervisor) WaitIdle(ctx context.Context) error {
	if !s.timer.Running() {
		return nil
	}
	ticker := time.NewTicker(s.poll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if !s.timer.Running() {
				return nil
			}
		}
	}
}

// ---------- feedrate ----------

// SetFeedrate changes the speed, also for a move in progress.
func (s *Supervisor) SetFeedrate(mmPerMin float64) error {
	if mmPerMin <= 0 {
		return ErrInvalidFeedrate
	}
	interval := s.conv.PulseInterval(mmPerMin)
	if interval == geometry.MaxPulseInterval {
		return ErrOutOfRange
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.feedrate = mmPerMin
	s.timer.SetInterval(interval)
	debug.Live("Feedrate set to %.2f mm/min", mmPerMin)
	return nil
}

// Feedrate returns the feedrate in mm/min and the matching pulse delay in seconds.
func (s *Supervisor) Feedrate() (float64, float64) {
	s.mu.Lock()
	f := s.feedrate
	s.mu.Unlock()
	return f, s.conv.FeedrateToPulseDelay(f)
}

// ---------- mode and oscillation settings ----------

// Mode returns the current operating mode.
func (s *Supervisor) Mode() Mode {
	return Mode(s.mode.Load())
}

// SetMode switches between manual and automatic operation and wakes the
// oscillator.
func (s *Supervisor) SetMode(m Mode) {
	if Mode(s.mode.Swap(int32(m))) != m {
		debug.Info("Mode set to %s", m)
	}
	select {
	case s.modeCh <- struct{}{}:
	default:
	}
}

// ModeChanged is signaled after every SetMode. It has a single consumer.
func (s *Supervisor) ModeChanged() <-chan struct{} {
	return s.modeCh
}

// AutomaticMoveDistance returns the oscillation leg length in mm.
func (s *Supervisor) AutomaticMoveDistance() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.autoDistanceMm
}

// SetAutomaticMoveDistance sets the oscillation leg length in mm.
func (s *Supervisor) SetAutomaticMoveDistance(mm float64) error {
	if mm < 0 {
		return ErrNegativeDistance
	}
	if !s.conv.StepsInRange(mm) {
		return ErrOutOfRange
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.autoDistanceMm = mm
	return nil
}

// AutomaticMoveInterval returns the dwell between oscillation legs.
func (s *Supervisor) AutomaticMoveInterval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.autoInterval
}

// SetAutomaticMoveInterval sets the dwell between oscillation legs.
func (s *Supervisor) SetAutomaticMoveInterval(d time.Duration) error {
	if d < 0 {
		return ErrNegativeInterval
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.autoInterval = d
	return nil
}

// ---------- status ----------

// Position returns the integrated position in mm and in steps.
func (s *Supervisor) Position() (float64, int64) {
	steps := s.state.Position()
	return s.conv.StepsToMillimeters(steps), steps
}

// LimitState returns the live switch level and the safety countdown of side.
func (s *Supervisor) LimitState(side Side) (bool, int32) {
	return s.limits.Asserted(side), s.limits.Countdown(side)
}

// Snapshot collects the current state for status reporting.
func (s *Supervisor) Snapshot() Snapshot {
	feedrate, delay := s.Feedrate()
	posMm, pos := s.Position()
	target := s.state.Target()
	homeAsserted, homeCount := s.LimitState(Home)
	endAsserted, endCount := s.LimitState(End)
	return Snapshot{
		PositionSteps:    pos,
		PositionMm:       posMm,
		TargetSteps:      target,
		TargetMm:         s.conv.StepsToMillimeters(target),
		Direction:        s.Direction().String(),
		Moving:           s.Moving(),
		Mode:             s.Mode().String(),
		FeedrateMmPerMin: feedrate,
		PulseDelaySec:    delay,
		HomeAsserted:     homeAsserted,
		HomeCountdown:    homeCount,
		EndAsserted:      endAsserted,
		EndCountdown:     endCount,
		AutoDistanceMm:   s.AutomaticMoveDistance(),
		AutoIntervalSec:  s.AutomaticMoveInterval().Seconds(),
	}
}
