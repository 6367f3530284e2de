// Package oscillator runs the slider unattended: in automatic mode it
// moves the carriage one leg at a time, dwells, and bounces between the
// limit switches.
package oscillator

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cjeanneret/SlideGo/internal/debug"
	"github.com/cjeanneret/SlideGo/internal/hw/camera"
	"github.com/cjeanneret/SlideGo/internal/logic/motion"
)

// Slider is the part of the motion supervisor the oscillator drives.
type Slider interface {
	Mode() motion.Mode
	ModeChanged() <-chan struct{}
	AutomaticMoveDistance() float64
	AutomaticMoveInterval() time.Duration
	SetDirection(dir motion.Direction) error
	AdvanceLeg(distanceMm float64) (motion.Direction, int64, error)
	WaitIdle(ctx context.Context) error
	HoldMotor() error
	ReleaseMotor() error
}

// Options configure the optional time-lapse shot and the idle polling.
type Options struct {
	Camera camera.Camera // nil disables shots
	Settle time.Duration // wait between the end of a leg and the shot
	Poll   time.Duration // retry delay when both ends are blocked, default 1s
}

// Oscillator issues automatic legs. It has no state of its own besides
// counters: direction, distance and dwell all live in the Slider.
type Oscillator struct {
	slider Slider
	opts   Options

	legs  atomic.Int64
	shots atomic.Int64

	now   func() time.Time
	after func(time.Duration) <-chan time.Time
}

// New creates an oscillator driving s.
func New(s Slider, opts Options) *Oscillator {
	if opts.Poll <= 0 {
		opts.Poll = time.Second
	}
	return &Oscillator{
		slider: s,
		opts:   opts,
		now:    time.Now,
		after:  time.After,
	}
}

// Run loops until ctx is cancelled. In manual mode it sleeps until the mode
// changes.
func (o *Oscillator) Run(ctx context.Context) error {
	debug.Info("Oscillator started")
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		if o.slider.Mode() != motion.Automatic {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-o.slider.ModeChanged():
			}
			continue
		}

		// A manual move or the startup homing run may still be in progress.
		if err := o.slider.WaitIdle(ctx); err != nil {
			return err
		}
		start := o.now()
		issued, err := o.leg()
		if err != nil {
			debug.Error(err)
		}
		if !issued {
			// Both ends blocked, or the DIR line failed.
			if !o.dwell(ctx, start.Add(o.opts.Poll)) {
				return ctx.Err()
			}
			continue
		}

		if err := o.slider.WaitIdle(ctx); err != nil {
			return err
		}
		if o.opts.Camera != nil && o.slider.Mode() == motion.Automatic {
			if err := o.shoot(ctx); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				debug.Error(err)
			}
		}

		if !o.dwell(ctx, start.Add(o.slider.AutomaticMoveInterval())) {
			return ctx.Err()
		}
	}
}

// leg commits one move in the current direction. When that end is blocked
// the direction is flipped and the other end tried once.
func (o *Oscillator) leg() (bool, error) {
	distance := o.slider.AutomaticMoveDistance()
	for attempt := 0; attempt < 2; attempt++ {
		dir, target, err := o.slider.AdvanceLeg(distance)
		var blocked *motion.BlockedError
		if errors.As(err, &blocked) {
			debug.Verbose("Oscillator: %s end blocked, reversing", blocked.Side)
			if err := o.slider.SetDirection(dir.Opposite()); err != nil {
				return false, fmt.Errorf("oscillator reverse: %w", err)
			}
			continue
		}
		if err != nil {
			return false, err
		}
		n := o.legs.Add(1)
		debug.Live("Oscillator: leg %d %s to %d steps", n, dir, target)
		return true, nil
	}
	debug.Verbose("Oscillator: both ends blocked")
	return false, nil
}

// shoot takes the time-lapse frame with the motor driver off. Moves
// requested meanwhile are refused by the slider. The shot is skipped when
// a manual move started after the leg.
func (o *Oscillator) shoot(ctx context.Context) error {
	switch err := o.slider.HoldMotor(); {
	case errors.Is(err, motion.ErrMoving):
		debug.Live("Oscillator: carriage moving, shot skipped")
		return nil
	case err != nil:
		return fmt.Errorf("hold motor for shot: %w", err)
	}
	defer func() {
		if err := o.slider.ReleaseMotor(); err != nil {
			debug.Error(fmt.Errorf("release motor after shot: %w", err))
		}
	}()
	if o.opts.Settle > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-o.after(o.opts.Settle):
		}
	}
	if err := o.opts.Camera.Shoot(); err != nil {
		return fmt.Errorf("time-lapse shot: %w", err)
	}
	debug.Live("Oscillator: shot %d", o.shots.Add(1))
	return nil
}

// dwell waits until deadline. A switch to manual mode cuts it short. It
// returns false when ctx is done.
func (o *Oscillator) dwell(ctx context.Context, deadline time.Time) bool {
	for {
		remaining := deadline.Sub(o.now())
		if remaining <= 0 {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-o.slider.ModeChanged():
			if o.slider.Mode() != motion.Automatic {
				return true
			}
		case <-o.after(remaining):
			return true
		}
	}
}

// Legs returns the number of legs issued so far.
func (o *Oscillator) Legs() int64 { return o.legs.Load() }

// Shots returns the number of time-lapse photos taken so far.
func (o *Oscillator) Shots() int64 { return o.shots.Load() }
