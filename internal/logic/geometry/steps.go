package geometry

import (
	"math"
	"time"

	"github.com/cjeanneret/SlideGo/internal/config"
)

// MaxSteps bounds every step count the converter hands out, so that a
// position plus one more leg still fits an int64.
const MaxSteps int64 = math.MaxInt64 / 4

// MaxPulseInterval is returned by PulseInterval when the half period does
// not fit a time.Duration.
const MaxPulseInterval = time.Duration(math.MaxInt64)

// StepsCalculator converts between carriage travel and motor steps.
// It holds no state besides the drive mechanics and is safe for
// concurrent use.
type StepsCalculator struct {
	stepsPerRev   float64 // [steps / revolution]
	inclinationMm float64 // [mm / revolution]
	stepFactor    float64 // step / half-step / quarter-step ...
}

// NewStepsCalculator creates a step calculator from configuration.
func NewStepsCalculator(cfg *config.Config) *StepsCalculator {
	return &StepsCalculator{
		stepsPerRev:   cfg.Stepper.StepsPerRev,
		inclinationMm: cfg.Stepper.InclinationMm,
		stepFactor:    cfg.Stepper.StepFactor,
	}
}

// StepsToMillimeters converts a step count to carriage travel in mm.
func (s *StepsCalculator) StepsToMillimeters(steps int64) float64 {
	// [mm] = [steps] * [mm / rev] / [steps / rev] / step mode
	return float64(steps) * s.inclinationMm / s.stepsPerRev / s.stepFactor
}

// stepsFloat is the untruncated inverse of StepsToMillimeters.
func (s *StepsCalculator) stepsFloat(mm float64) float64 {
	// [steps] = step mode * [mm] * [steps / rev] / [mm / rev]
	return s.stepFactor * mm * s.stepsPerRev / s.inclinationMm
}

// MillimetersToSteps converts carriage travel to whole steps, truncating
// toward zero.
func (s *StepsCalculator) MillimetersToSteps(mm float64) int64 {
	return int64(s.stepsFloat(mm))
}

// StepsInRange reports whether mm converts to a finite step count within
// ±MaxSteps. MillimetersToSteps is only meaningful for such values.
func (s *StepsCalculator) StepsInRange(mm float64) bool {
	v := s.stepsFloat(mm)
	return !math.IsNaN(v) && math.Abs(v) <= float64(MaxSteps)
}

// MillimeterPerStep returns the travel of a single step.
func (s *StepsCalculator) MillimeterPerStep() float64 {
	return s.StepsToMillimeters(1)
}

// FeedrateToPulseDelay converts a feedrate in mm/min to the half period of
// the step signal in seconds. The feedrate must be > 0.
func (s *StepsCalculator) FeedrateToPulseDelay(feedrateMmPerMin float64) float64 {
	stepsPerSecond := s.stepsFloat(feedrateMmPerMin / 60.0)
	return 1.0 / stepsPerSecond / 2.0
}

// PulseInterval is FeedrateToPulseDelay as a duration for the pulse timer.
// Delays too long for a time.Duration saturate at MaxPulseInterval.
func (s *StepsCalculator) PulseInterval(feedrateMmPerMin float64) time.Duration {
	ns := s.FeedrateToPulseDelay(feedrateMmPerMin) * float64(time.Second)
	if math.IsNaN(ns) || ns >= float64(MaxPulseInterval) {
		return MaxPulseInterval
	}
	return time.Duration(ns)
}
