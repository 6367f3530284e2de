package camera

import (
	"errors"
	"fmt"
	"time"

	"github.com/cjeanneret/SlideGo/internal/debug"
	"github.com/cjeanneret/SlideGo/internal/hw/gpio"
)

// GPIORemote fires a camera through a wired remote: two open-collector
// lines, FOCUS and SHUTTER, both active LOW against a shared ground.
//
// A shot is: FOCUS low, wait for autofocus, SHUTTER low, hold, then
// release SHUTTER and FOCUS in that order.
type GPIORemote struct {
	gpio         gpio.Driver
	focusPin     int
	shutterPin   int
	focusDelay   time.Duration
	shutterDelay time.Duration
	sleep        func(time.Duration)
}

// NewGPIORemote configures both lines as outputs, released (HIGH).
func NewGPIORemote(g gpio.Driver, focusPin, shutterPin int, focusDelay, shutterDelay time.Duration) (*GPIORemote, error) {
	for _, pin := range []int{focusPin, shutterPin} {
		if err := g.SetupPin(pin, gpio.Output); err != nil {
			return nil, fmt.Errorf("setup camera pin %d: %w", pin, err)
		}
		if err := g.WritePin(pin, gpio.High); err != nil {
			return nil, fmt.Errorf("release camera pin %d: %w", pin, err)
		}
	}
	return &GPIORemote{
		gpio:         g,
		focusPin:     focusPin,
		shutterPin:   shutterPin,
		focusDelay:   focusDelay,
		shutterDelay: shutterDelay,
		sleep:        time.Sleep,
	}, nil
}

// Shoot takes one photo. Both lines are released even when a write fails.
func (r *GPIORemote) Shoot() (err error) {
	debug.Verbose("Camera: shot (focus=%d, shutter=%d)", r.focusPin, r.shutterPin)

	if err := r.gpio.WritePin(r.focusPin, gpio.Low); err != nil {
		return fmt.Errorf("press focus: %w", err)
	}
	defer func() {
		if rerr := r.gpio.WritePin(r.focusPin, gpio.High); rerr != nil {
			err = errors.Join(err, fmt.Errorf("release focus: %w", rerr))
		}
	}()
	r.sleep(r.focusDelay)

	if err := r.gpio.WritePin(r.shutterPin, gpio.Low); err != nil {
		return fmt.Errorf("press shutter: %w", err)
	}
	r.sleep(r.shutterDelay)
	if err := r.gpio.WritePin(r.shutterPin, gpio.High); err != nil {
		return fmt.Errorf("release shutter: %w", err)
	}

	debug.Trace("Camera: shot done")
	return nil
}
