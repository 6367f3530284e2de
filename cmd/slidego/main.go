package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/cjeanneret/SlideGo/internal/config"
	"github.com/cjeanneret/SlideGo/internal/debug"
	"github.com/cjeanneret/SlideGo/internal/hw/gpio"
	"github.com/cjeanneret/SlideGo/internal/web"
)

func main() {
	// CLI flags
	webPort := &webPortFlag{defaultPort: 8080}
	flag.Var(webPort, "web", "start web server on port; -web= for default 8080, -web 8980 for custom port")
	cfgPath := flag.String("config", filepath.Join("configs", "default.yaml"), "path to config file")
	udpPort := flag.Int("udp", 0, "override network.udp_port (1-65535)")
	serialDevice := flag.String("serial", "", "override network.serial_device, e.g. /dev/ttyUSB0")
	gpioDriver := flag.String("gpio", "", "override defaults.gpio_driver (mock, rpio, gpiocdev, periph)")
	debugLevel := flag.Int("debug", -1, "override defaults.debug_level (0-4)")
	skipHoming := flag.Bool("no-home", false, "skip the homing run at startup")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := config.ValidateConfigPath(*cfgPath); err != nil {
		log.Fatalf("invalid config path: %v", err)
	}
	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("load config failed: %v", err)
	}

	overrides := cliOverrides{
		UDPPort:      *udpPort,
		SerialDevice: *serialDevice,
		GPIODriver:   *gpioDriver,
		DebugLevel:   *debugLevel,
		WebPort:      webPort.port(),
	}
	if err := validateCLIOverrides(overrides); err != nil {
		log.Fatalf("invalid CLI override: %v", err)
	}
	applyOverrides(cfg, overrides)

	debug.Init(cfg.Defaults.DebugLevel)
	debug.Section("Initialization")
	debug.Value("Config path", *cfgPath)
	debug.Value("Debug level", cfg.Defaults.DebugLevel)

	var broadcaster *web.StatusBroadcaster
	if cfg.Network.WebPort > 0 {
		broadcaster = web.NewStatusBroadcaster(50)
		debug.SetOutput(io.MultiWriter(os.Stdout, broadcaster.Writer("log")))
	}

	debug.Step(1, "Initializing GPIO driver")
	debug.Value("GPIO driver", cfg.Defaults.GPIODriver)
	drv, err := gpio.NewDriver(cfg.Defaults.GPIODriver, cfg.Defaults.GPIOChip)
	if err != nil {
		log.Fatalf("init GPIO failed: %v", err)
	}
	defer func() {
		if err := drv.Close(); err != nil {
			log.Printf("closing GPIO driver failed: %v", err)
		}
	}()

	s, err := newSlider(cfg, drv, broadcaster)
	if err != nil {
		log.Fatalf("init slider failed: %v", err)
	}
	s.skipHoming = *skipHoming

	if err := s.run(ctx); err != nil {
		log.Fatalf("slider stopped: %v", err)
	}
	debug.Info("Shutdown complete")
}

// cliOverrides holds flag values. Zero values, and -1 for DebugLevel,
// mean "use the config file".
type cliOverrides struct {
	UDPPort      int
	SerialDevice string
	GPIODriver   string
	DebugLevel   int
	WebPort      int
}

// validateCLIOverrides checks that set overrides are within valid ranges.
func validateCLIOverrides(o cliOverrides) error {
	if o.UDPPort < 0 || o.UDPPort > 65535 {
		return fmt.Errorf("udp port must be 1-65535, got %d", o.UDPPort)
	}
	if o.DebugLevel < -1 || o.DebugLevel > debug.LevelTrace {
		return fmt.Errorf("debug level must be 0-%d, got %d", debug.LevelTrace, o.DebugLevel)
	}
	switch o.GPIODriver {
	case "", config.DriverMock, config.DriverRPi, config.DriverGPIOCdev, config.DriverPeriph:
	default:
		return fmt.Errorf("unsupported gpio driver: %s", o.GPIODriver)
	}
	return nil
}

// applyOverrides mutates cfg with the set overrides.
func applyOverrides(cfg *config.Config, o cliOverrides) {
	if o.UDPPort > 0 {
		cfg.Network.UDPPort = o.UDPPort
	}
	if o.SerialDevice != "" {
		cfg.Network.SerialDevice = o.SerialDevice
	}
	if o.GPIODriver != "" {
		// An explicit driver wins over mock_gpio.
		cfg.Defaults.MockGPIO = o.GPIODriver == config.DriverMock
		cfg.Defaults.GPIODriver = o.GPIODriver
	}
	if o.DebugLevel >= 0 {
		cfg.Defaults.DebugLevel = o.DebugLevel
	}
	if o.WebPort > 0 {
		cfg.Network.WebPort = o.WebPort
	}
}

// webPortFlag implements flag.Value for -web: 0 = disabled, -web= or -web 8080 → 8080, -web 8980 → 8980.
type webPortFlag struct {
	val         int
	defaultPort int
}

func (w *webPortFlag) String() string {
	if w.val == 0 {
		return "0"
	}
	return strconv.Itoa(w.val)
}

func (w *webPortFlag) Set(s string) error {
	if s == "" {
		w.val = w.defaultPort
		return nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return err
	}
	if v <= 0 || v > 65535 {
		return fmt.Errorf("port must be 1-65535, got %d", v)
	}
	w.val = v
	return nil
}

func (w *webPortFlag) port() int { return w.val }
