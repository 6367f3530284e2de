package config

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// GPIO driver names accepted by defaults.gpio_driver.
const (
	DriverMock     = "mock"
	DriverRPi      = "rpio"
	DriverGPIOCdev = "gpiocdev"
	DriverPeriph   = "periph"
)

// maxIntervalSec is the longest move interval a time.Duration can hold.
const maxIntervalSec = float64(math.MaxInt64 / int64(time.Second))

// StepperConfig holds the wiring and mechanics of the slider stepper motor.
type StepperConfig struct {
	StepPin       int     `yaml:"step_pin"`
	DirPin        int     `yaml:"dir_pin"`
	EnablePin     int     `yaml:"enable_pin"`     // A4988 ENABLE pin (BCM). 0 = not used. Active LOW.
	StepsPerRev   float64 `yaml:"steps_per_rev"`  // full steps per motor revolution
	InclinationMm float64 `yaml:"inclination_mm"` // spindle lead: carriage travel per revolution
	StepFactor    float64 `yaml:"step_factor"`    // 1 = full step, 0.5 = half step, 0.25 = quarter step...
}

// LimitsConfig describes the two limit switches.
type LimitsConfig struct {
	HomePin           int `yaml:"home_pin"` // switch at position 0
	EndPin            int `yaml:"end_pin"`  // switch at the far end of the track
	SafetyMarginSteps int `yaml:"safety_margin_steps"`
}

// MotionConfig contains the initial speed and track geometry.
type MotionConfig struct {
	FeedrateMmPerMin float64 `yaml:"feedrate_mm_min"`
	TrackLengthMm    float64 `yaml:"track_length_mm"` // assumed position when homing from an unknown place
}

// AutomaticConfig contains the autonomous oscillation parameters.
type AutomaticConfig struct {
	Enabled         bool    `yaml:"enabled"`
	MoveDistanceMm  float64 `yaml:"move_distance_mm"`
	MoveIntervalSec float64 `yaml:"move_interval_s"`
}

// CameraConfig is optional: when the camera section is present, a shot is
// taken after every automatic leg (time-lapse).
type CameraConfig struct {
	Type           string `yaml:"type"`             // "gpio_remote" (also when empty) or its alias "nikon_d90_gpio"
	FocusPin       int    `yaml:"focus_pin"`        // GPIO pin for FOCUS line
	ShutterPin     int    `yaml:"shutter_pin"`      // GPIO pin for SHUTTER line
	FocusDelayMs   int    `yaml:"focus_delay_ms"`   // autofocus delay (ms)
	ShutterDelayMs int    `yaml:"shutter_delay_ms"` // shutter hold time (ms)
	SettleDelayMs  int    `yaml:"settle_delay_ms"`  // delay after the carriage stops before the shot (ms)
}

// NetworkConfig selects the command transports.
type NetworkConfig struct {
	UDPPort      int    `yaml:"udp_port"`
	SerialDevice string `yaml:"serial_device"` // empty = serial transport disabled
	SerialBaud   int    `yaml:"serial_baud"`
	WebPort      int    `yaml:"web_port"` // 0 = web server disabled
}

// DefaultsConfig contains generic parameters.
type DefaultsConfig struct {
	DebugLevel int    `yaml:"debug_level"` // debug level 0-4 (0=off, 1=info, 2=live, 3=verbose, 4=trace)
	MockGPIO   bool   `yaml:"mock_gpio"`   // shortcut for gpio_driver: mock
	GPIODriver string `yaml:"gpio_driver"` // mock, rpio, gpiocdev or periph
	GPIOChip   string `yaml:"gpio_chip"`   // character device for gpiocdev (e.g. gpiochip0)
}

// Config aggregates all application configuration.
type Config struct {
	Stepper   StepperConfig   `yaml:"stepper"`
	Limits    LimitsConfig    `yaml:"limits"`
	Motion    MotionConfig    `yaml:"motion"`
	Automatic AutomaticConfig `yaml:"automatic"`
	Camera    *CameraConfig   `yaml:"camera,omitempty"` // optional
	Network   NetworkConfig   `yaml:"network"`
	Defaults  DefaultsConfig  `yaml:"defaults"`
}

// ValidateConfigPath checks that path names a .yaml file inside a configs/ directory.
func ValidateConfigPath(path string) error {
	if path == "" {
		return fmt.Errorf("config path is empty")
	}
	clean := filepath.Clean(path)
	if filepath.Ext(clean) != ".yaml" {
		return fmt.Errorf("config file must have .yaml extension: %s", path)
	}
	if filepath.Base(filepath.Dir(clean)) != "configs" {
		return fmt.Errorf("config file must be inside a configs/ directory: %s", path)
	}
	return nil
}

// Load reads a YAML file and returns the configuration.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML data, applies defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal yaml: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration of the original slider hardware.
func Default() *Config {
	cfg := Config{Automatic: AutomaticConfig{Enabled: true}}
	cfg.applyDefaults()
	return &cfg
}

func (c *Config) applyDefaults() {
	// Mechanics of the original build: 1.8° motor, 2 mm lead, quarter stepping
	if c.Stepper.StepsPerRev <= 0 {
		c.Stepper.StepsPerRev = 200
	}
	if c.Stepper.InclinationMm <= 0 {
		c.Stepper.InclinationMm = 2.0
	}
	if c.Stepper.StepFactor <= 0 {
		c.Stepper.StepFactor = 0.25
	}
	if c.Limits.SafetyMarginSteps <= 0 {
		c.Limits.SafetyMarginSteps = 100
	}
	if c.Motion.FeedrateMmPerMin <= 0 {
		c.Motion.FeedrateMmPerMin = 550
	}
	if c.Motion.TrackLengthMm <= 0 {
		c.Motion.TrackLengthMm = 700
	}
	if c.Automatic.MoveDistanceMm == 0 {
		c.Automatic.MoveDistanceMm = 100
	}
	if c.Automatic.MoveIntervalSec == 0 {
		c.Automatic.MoveIntervalSec = 30 * 60
	}
	if c.Network.UDPPort == 0 {
		c.Network.UDPPort = 65435
	}
	if c.Network.SerialBaud <= 0 {
		c.Network.SerialBaud = 115200
	}
	if c.Defaults.MockGPIO {
		c.Defaults.GPIODriver = DriverMock
	}
	if c.Defaults.GPIODriver == "" {
		c.Defaults.GPIODriver = DriverRPi
	}
	if c.Defaults.GPIOChip == "" {
		c.Defaults.GPIOChip = "gpiochip0"
	}
	if c.Camera != nil {
		if c.Camera.FocusDelayMs <= 0 {
			c.Camera.FocusDelayMs = 500 // 500ms for autofocus
		}
		if c.Camera.ShutterDelayMs <= 0 {
			c.Camera.ShutterDelayMs = 200 // 200ms shutter hold
		}
		if c.Camera.SettleDelayMs <= 0 {
			c.Camera.SettleDelayMs = 300 // let the carriage stop shaking
		}
	}
}

// Validate checks values that have no sensible default.
func (c *Config) Validate() error {
	if c.Stepper.StepPin == c.Stepper.DirPin && c.Stepper.StepPin != 0 {
		return fmt.Errorf("stepper.step_pin and stepper.dir_pin must differ, both are %d", c.Stepper.StepPin)
	}
	if c.Limits.HomePin == c.Limits.EndPin && c.Limits.HomePin != 0 {
		return fmt.Errorf("limits.home_pin and limits.end_pin must differ, both are %d", c.Limits.HomePin)
	}
	if c.Automatic.MoveDistanceMm < 0 {
		return fmt.Errorf("automatic.move_distance_mm must be >= 0, got %.2f", c.Automatic.MoveDistanceMm)
	}
	if c.Automatic.MoveIntervalSec < 0 {
		return fmt.Errorf("automatic.move_interval_s must be >= 0, got %.2f", c.Automatic.MoveIntervalSec)
	}
	if c.Automatic.MoveIntervalSec > maxIntervalSec {
		return fmt.Errorf("automatic.move_interval_s must be <= %.0f, got %g", maxIntervalSec, c.Automatic.MoveIntervalSec)
	}
	if c.Network.UDPPort < 0 || c.Network.UDPPort > 65535 {
		return fmt.Errorf("network.udp_port must be 1-65535, got %d", c.Network.UDPPort)
	}
	if c.Network.WebPort < 0 || c.Network.WebPort > 65535 {
		return fmt.Errorf("network.web_port must be 0-65535, got %d", c.Network.WebPort)
	}
	switch c.Defaults.GPIODriver {
	case DriverMock, DriverRPi, DriverGPIOCdev, DriverPeriph:
	default:
		return fmt.Errorf("unsupported gpio_driver: %s", c.Defaults.GPIODriver)
	}
	if c.Camera != nil {
		switch c.Camera.Type {
		case "", "gpio_remote", "nikon_d90_gpio":
		default:
			return fmt.Errorf("unsupported camera type: %s", c.Camera.Type)
		}
	}
	return nil
}

// MoveInterval returns the dwell between two automatic legs, saturating
// at the longest time.Duration.
func (c *Config) MoveInterval() time.Duration {
	ns := c.Automatic.MoveIntervalSec * float64(time.Second)
	if ns >= math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(ns)
}

// UDPAddr returns the listen address of the datagram server.
func (c *Config) UDPAddr() string {
	return fmt.Sprintf(":%d", c.Network.UDPPort)
}

// FocusDelay returns the autofocus delay duration.
func (c *CameraConfig) FocusDelay() time.Duration {
	return time.Duration(c.FocusDelayMs) * time.Millisecond
}

// ShutterDelay returns the shutter hold duration.
func (c *CameraConfig) ShutterDelay() time.Duration {
	return time.Duration(c.ShutterDelayMs) * time.Millisecond
}

// SettleDelay returns the delay between the end of a leg and the shot.
func (c *CameraConfig) SettleDelay() time.Duration {
	return time.Duration(c.SettleDelayMs) * time.Millisecond
}
