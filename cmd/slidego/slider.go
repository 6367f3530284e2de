package main

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/cjeanneret/SlideGo/internal/config"
	"github.com/cjeanneret/SlideGo/internal/debug"
	"github.com/cjeanneret/SlideGo/internal/hw/camera"
	"github.com/cjeanneret/SlideGo/internal/hw/gpio"
	"github.com/cjeanneret/SlideGo/internal/hw/stepper"
	"github.com/cjeanneret/SlideGo/internal/hw/steptimer"
	"github.com/cjeanneret/SlideGo/internal/logic/geometry"
	"github.com/cjeanneret/SlideGo/internal/logic/motion"
	"github.com/cjeanneret/SlideGo/internal/logic/oscillator"
	"github.com/cjeanneret/SlideGo/internal/protocol"
	"github.com/cjeanneret/SlideGo/internal/transport"
	"github.com/cjeanneret/SlideGo/internal/web"
)

// slider wires the hardware, the motion core and the command surfaces.
type slider struct {
	motor  *stepper.Stepper
	timer  *steptimer.Timer
	limits *motion.LimitMonitor
	sup    *motion.Supervisor
	osc    *oscillator.Oscillator

	udp    *transport.UDPServer
	serial *transport.SerialServer
	web    *web.Server

	skipHoming bool
}

// newSlider builds every component. Nothing moves until run.
// broadcaster may be nil when the web server is disabled.
func newSlider(cfg *config.Config, drv gpio.EdgeDriver, broadcaster *web.StatusBroadcaster) (*slider, error) {
	debug.Step(2, "Initializing stepper driver")
	motor := stepper.NewStepper(drv, stepper.Config{
		StepPin:   cfg.Stepper.StepPin,
		DirPin:    cfg.Stepper.DirPin,
		EnablePin: cfg.Stepper.EnablePin,
	})
	debug.PrintStruct("Stepper config", cfg.Stepper)

	debug.Step(3, "Initializing motion core")
	conv := geometry.NewStepsCalculator(cfg)
	debug.Value("Millimeter per step", conv.MillimeterPerStep())
	state := &motion.State{}

	limits := motion.NewLimitMonitor(state, drv, cfg.Limits.HomePin, cfg.Limits.EndPin, int32(cfg.Limits.SafetyMarginSteps))
	if err := limits.Attach(drv); err != nil {
		return nil, err
	}
	debug.PrintStruct("Limits config", cfg.Limits)

	gen := motion.NewGenerator(state, motor)
	timer := steptimer.New(conv.PulseInterval(cfg.Motion.FeedrateMmPerMin), gen.Tick)

	mode := motion.Manual
	if cfg.Automatic.Enabled {
		mode = motion.Automatic
	}
	sup, err := motion.NewSupervisor(state, limits, timer, motor, conv, motion.Config{
		FeedrateMmPerMin: cfg.Motion.FeedrateMmPerMin,
		TrackLengthMm:    cfg.Motion.TrackLengthMm,
		Mode:             mode,
		AutoDistanceMm:   cfg.Automatic.MoveDistanceMm,
		AutoInterval:     cfg.MoveInterval(),
	})
	if err != nil {
		return nil, err
	}
	if err := sup.SetDirection(motion.Backward); err != nil {
		return nil, err
	}

	debug.Step(4, "Initializing camera")
	cam, err := camera.New(cfg.Camera, drv)
	if err != nil {
		return nil, fmt.Errorf("init camera: %w", err)
	}
	opts := oscillator.Options{}
	if cam != nil {
		opts.Camera = cam
		opts.Settle = cfg.Camera.SettleDelay()
		debug.PrintStruct("Camera config", *cfg.Camera)
	}

	debug.Step(5, "Initializing command servers")
	handler := protocol.NewHandler(sup)
	s := &slider{
		motor:  motor,
		timer:  timer,
		limits: limits,
		sup:    sup,
		osc:    oscillator.New(sup, opts),
		udp:    transport.NewUDPServer(cfg.UDPAddr(), handler),
	}
	debug.Value("UDP address", cfg.UDPAddr())
	if cfg.Network.SerialDevice != "" {
		s.serial = transport.NewSerialServer(cfg.Network.SerialDevice, cfg.Network.SerialBaud, handler)
		debug.Value("Serial device", cfg.Network.SerialDevice)
	}
	if cfg.Network.WebPort > 0 {
		if broadcaster == nil {
			broadcaster = web.NewStatusBroadcaster(50)
		}
		srv, err := web.NewServer(fmt.Sprintf(":%d", cfg.Network.WebPort), broadcaster, handler, sup)
		if err != nil {
			return nil, err
		}
		s.web = srv
		debug.Value("Web port", cfg.Network.WebPort)
	}
	return s, nil
}

// run starts the pulse timer and the switch monitor, homes the carriage,
// then serves commands and runs the oscillator until ctx is cancelled.
func (s *slider) run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	errCh := make(chan error, 8)
	spawn := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("%s: %w", name, err)
				cancel()
			}
		}()
	}

	debug.Section("Starting")
	spawn("pulse timer", s.timer.Run)
	spawn("limit monitor", s.limits.Run)

	if !s.skipHoming {
		switch err := s.sup.Home(); {
		case errors.Is(err, motion.ErrAlreadyHome):
			debug.Info("Already home")
		case err != nil:
			cancel()
			wg.Wait()
			return fmt.Errorf("homing: %w", err)
		default:
			debug.Info("Homing")
		}
	}

	spawn("udp server", s.udp.Serve)
	if s.serial != nil {
		spawn("serial server", s.serial.Serve)
	}
	if s.web != nil {
		spawn("web server", s.web.Run)
	}
	spawn("oscillator", s.osc.Run)

	<-ctx.Done()
	debug.Section("Stopping")
	s.sup.Pause()
	wg.Wait()

	if err := s.motor.Disable(); err != nil {
		debug.Error(fmt.Errorf("disable stepper driver: %w", err))
	}
	close(errCh)
	return <-errCh
}
