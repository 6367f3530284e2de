package gpio

import (
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/cjeanneret/SlideGo/internal/debug"
	pgpio "periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

// PeriphDriver uses periph.io host drivers. Pins are looked up by their
// BCM number.
type PeriphDriver struct {
	mu      sync.Mutex
	pins    map[int]pgpio.PinIO
	done    chan struct{}
	wg      sync.WaitGroup
	closing bool
}

// NewPeriphDriver initializes the periph host drivers.
func NewPeriphDriver() (*PeriphDriver, error) {
	debug.Info("Initializing periph.io GPIO driver")

	state, err := host.Init()
	if err != nil {
		return nil, fmt.Errorf("periph host init: %w", err)
	}
	for _, d := range state.Loaded {
		debug.Verbose("periph driver loaded: %s", d)
	}

	return &PeriphDriver{
		pins: make(map[int]pgpio.PinIO),
		done: make(chan struct{}),
	}, nil
}

func (p *PeriphDriver) lookup(pin int) (pgpio.PinIO, error) {
	if io, ok := p.pins[pin]; ok {
		return io, nil
	}
	io := gpioreg.ByName(strconv.Itoa(pin))
	if io == nil {
		return nil, fmt.Errorf("gpio %d not found", pin)
	}
	p.pins[pin] = io
	return io, nil
}

func (p *PeriphDriver) SetupPin(pin int, mode PinMode) error {
	debug.GPIO("SetupPin", pin, mode)
	p.mu.Lock()
	defer p.mu.Unlock()

	io, err := p.lookup(pin)
	if err != nil {
		return err
	}
	switch mode {
	case Input:
		return io.In(pgpio.PullDown, pgpio.NoEdge)
	case Output:
		return io.Out(pgpio.Low)
	default:
		return fmt.Errorf("unknown pin mode: %d", mode)
	}
}

func (p *PeriphDriver) WritePin(pin int, level Level) error {
	debug.GPIO("WritePin", pin, level)
	p.mu.Lock()
	io, err := p.lookup(pin)
	p.mu.Unlock()
	if err != nil {
		return err
	}
	return io.Out(pgpio.Level(level))
}

func (p *PeriphDriver) ReadPin(pin int) (Level, error) {
	debug.GPIO("ReadPin", pin, nil)
	p.mu.Lock()
	io, err := p.lookup(pin)
	p.mu.Unlock()
	if err != nil {
		return Low, err
	}
	return Level(io.Read()), nil
}

// WatchRisingEdge configures pin for rising edges and waits for them on a
// dedicated goroutine. The wait times out periodically to observe Close.
func (p *PeriphDriver) WatchRisingEdge(pin int, handler EdgeHandler) error {
	debug.GPIO("WatchRisingEdge", pin, nil)
	p.mu.Lock()
	defer p.mu.Unlock()

	io, err := p.lookup(pin)
	if err != nil {
		return err
	}
	if err := io.In(pgpio.PullDown, pgpio.RisingEdge); err != nil {
		return fmt.Errorf("enable edge detection on %d: %w", pin, err)
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		for {
			select {
			case <-p.done:
				return
			default:
			}
			if io.WaitForEdge(100 * time.Millisecond) {
				handler(pin)
			}
		}
	}()
	return nil
}

func (p *PeriphDriver) Close() error {
	debug.Trace("GPIO Close (periph)")
	p.mu.Lock()
	if p.closing {
		p.mu.Unlock()
		return nil
	}
	p.closing = true
	close(p.done)
	p.mu.Unlock()
	p.wg.Wait()

	p.mu.Lock()
	defer p.mu.Unlock()
	var firstErr error
	for pin, io := range p.pins {
		if err := io.Halt(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("halt gpio %d: %w", pin, err)
		}
	}
	return firstErr
}
