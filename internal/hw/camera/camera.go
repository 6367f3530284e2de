// Package camera triggers the still camera riding on the carriage, used
// to take one time-lapse frame per automatic leg.
package camera

import (
	"fmt"

	"github.com/cjeanneret/SlideGo/internal/config"
	"github.com/cjeanneret/SlideGo/internal/hw/gpio"
)

// Camera is anything able to take one photo on request.
type Camera interface {
	Shoot() error
}

// Remote types accepted in camera.type. nikon_d90_gpio is kept as an
// alias: the D90 uses the same 3-pin wired remote.
const (
	TypeGPIORemote = "gpio_remote"
	TypeNikonD90   = "nikon_d90_gpio"
)

// New builds the camera described by cfg, or returns nil when no camera
// is configured.
func New(cfg *config.CameraConfig, g gpio.Driver) (Camera, error) {
	if cfg == nil {
		return nil, nil
	}
	switch cfg.Type {
	case "", TypeGPIORemote, TypeNikonD90:
	default:
		return nil, fmt.Errorf("unsupported camera type: %s", cfg.Type)
	}
	if cfg.FocusPin == cfg.ShutterPin {
		return nil, fmt.Errorf("camera focus and shutter pins must differ, both are %d", cfg.FocusPin)
	}
	remote, err := NewGPIORemote(g, cfg.FocusPin, cfg.ShutterPin, cfg.FocusDelay(), cfg.ShutterDelay())
	if err != nil {
		return nil, err
	}
	return remote, nil
}
