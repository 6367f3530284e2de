package stepper

import (
	"github.com/cjeanneret/SlideGo/internal/debug"
	"github.com/cjeanneret/SlideGo/internal/hw/gpio"
)

// Config holds the pin wiring of a STEP/DIR stepper driver.
type Config struct {
	StepPin   int
	DirPin    int
	EnablePin int // A4988 ENABLE pin (BCM). 0 = not used. Active LOW (LOW=enabled).
}

// Stepper exposes the raw STEP and DIR lines. Pulse timing and position
// tracking live in the motion package; this type only touches pins.
type Stepper struct {
	gpio gpio.Driver
	cfg  Config
}

// NewStepper configures the pins and enables the driver.
func NewStepper(g gpio.Driver, cfg Config) *Stepper {
	_ = g.SetupPin(cfg.StepPin, gpio.Output)
	_ = g.SetupPin(cfg.DirPin, gpio.Output)
	_ = g.WritePin(cfg.StepPin, gpio.Low)

	s := &Stepper{
		gpio: g,
		cfg:  cfg,
	}

	// A4988 ENABLE: active LOW. LOW = enabled, HIGH = disabled.
	if cfg.EnablePin > 0 {
		_ = g.SetupPin(cfg.EnablePin, gpio.Output)
		_ = g.WritePin(cfg.EnablePin, gpio.Low) // enable by default
	}

	return s
}

// WriteStep drives the STEP line. It is called from the pulse timer on
// every half period, so errors are dropped rather than propagated.
func (s *Stepper) WriteStep(high bool) {
	_ = s.gpio.WritePin(s.cfg.StepPin, gpio.Level(high))
}

// SetDirection drives the DIR line. The wiring is inverted: forward
// travel needs the line LOW.
func (s *Stepper) SetDirection(forward bool) error {
	debug.Trace("Stepper: direction forward=%v on pin %d", forward, s.cfg.DirPin)
	return s.gpio.WritePin(s.cfg.DirPin, gpio.Level(!forward))
}

// Enable turns on the motor driver (A4988 ENABLE=LOW). Motor holds position.
func (s *Stepper) Enable() error {
	if s.cfg.EnablePin <= 0 {
		return nil
	}
	return s.gpio.WritePin(s.cfg.EnablePin, gpio.Low)
}

// Disable turns off the motor driver (A4988 ENABLE=HIGH). Motor freewheels, no holding torque.
// Used while the camera shoots to reduce vibration.
func (s *Stepper) Disable() error {
	if s.cfg.EnablePin <= 0 {
		return nil
	}
	return s.gpio.WritePin(s.cfg.EnablePin, gpio.High)
}
