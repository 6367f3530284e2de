package gpio

import (
	"fmt"
	"sync"

	"github.com/cjeanneret/SlideGo/internal/debug"
	"github.com/warthog618/go-gpiocdev"
)

// CdevDriver drives GPIOs through the Linux GPIO character device.
// Edge events are delivered by the kernel, no polling involved.
type CdevDriver struct {
	chip  string
	mu    sync.Mutex
	lines map[int]*gpiocdev.Line
	modes map[int]PinMode
}

// NewCdevDriver opens lines on chip (e.g. "gpiochip0") on demand.
func NewCdevDriver(chip string) (*CdevDriver, error) {
	debug.Info("Initializing GPIO character device driver (%s)", chip)

	c, err := gpiocdev.NewChip(chip)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", chip, err)
	}
	debug.Verbose("GPIO chip %s has %d lines", chip, c.Lines())
	if err := c.Close(); err != nil {
		return nil, fmt.Errorf("close %s: %w", chip, err)
	}

	return &CdevDriver{
		chip:  chip,
		lines: make(map[int]*gpiocdev.Line),
		modes: make(map[int]PinMode),
	}, nil
}

// request replaces any existing request on pin. Caller holds c.mu.
func (c *CdevDriver) request(pin int, mode PinMode, opts ...gpiocdev.LineReqOption) (*gpiocdev.Line, error) {
	if l, ok := c.lines[pin]; ok {
		_ = l.Close()
		delete(c.lines, pin)
	}
	l, err := gpiocdev.RequestLine(c.chip, pin, opts...)
	if err != nil {
		return nil, fmt.Errorf("request line %d on %s: %w", pin, c.chip, err)
	}
	c.lines[pin] = l
	c.modes[pin] = mode
	return l, nil
}

func (c *CdevDriver) SetupPin(pin int, mode PinMode) error {
	debug.GPIO("SetupPin", pin, mode)
	c.mu.Lock()
	defer c.mu.Unlock()

	switch mode {
	case Input:
		_, err := c.request(pin, mode, gpiocdev.AsInput, gpiocdev.WithPullDown)
		return err
	case Output:
		_, err := c.request(pin, mode, gpiocdev.AsOutput(0))
		return err
	default:
		return fmt.Errorf("unknown pin mode: %d", mode)
	}
}

func (c *CdevDriver) WritePin(pin int, level Level) error {
	debug.GPIO("WritePin", pin, level)

	c.mu.Lock()
	l, ok := c.lines[pin]
	if !ok || c.modes[pin] != Output {
		var err error
		if l, err = c.request(pin, Output, gpiocdev.AsOutput(0)); err != nil {
			c.mu.Unlock()
			return err
		}
	}
	c.mu.Unlock()

	v := 0
	if level == High {
		v = 1
	}
	return l.SetValue(v)
}

func (c *CdevDriver) ReadPin(pin int) (Level, error) {
	debug.GPIO("ReadPin", pin, nil)

	c.mu.Lock()
	l, ok := c.lines[pin]
	if !ok {
		var err error
		if l, err = c.request(pin, Input, gpiocdev.AsInput, gpiocdev.WithPullDown); err != nil {
			c.mu.Unlock()
			return Low, err
		}
	}
	c.mu.Unlock()

	v, err := l.Value()
	if err != nil {
		return Low, fmt.Errorf("read line %d: %w", pin, err)
	}
	return Level(v != 0), nil
}

// WatchRisingEdge re-requests pin as an input with kernel edge detection.
// The handler runs on the gpiocdev event goroutine.
func (c *CdevDriver) WatchRisingEdge(pin int, handler EdgeHandler) error {
	debug.GPIO("WatchRisingEdge", pin, nil)
	c.mu.Lock()
	defer c.mu.Unlock()

	_, err := c.request(pin, Input,
		gpiocdev.AsInput,
		gpiocdev.WithPullDown,
		gpiocdev.WithRisingEdge,
		gpiocdev.WithEventHandler(func(evt gpiocdev.LineEvent) {
			if evt.Type == gpiocdev.LineEventRisingEdge {
				handler(evt.Offset)
			}
		}),
	)
	return err
}

func (c *CdevDriver) Close() error {
	debug.Trace("GPIO Close (gpiocdev)")
	c.mu.Lock()
	defer c.mu.Unlock()

	var firstErr error
	for pin, l := range c.lines {
		// Releasing a line returns it to the kernel as an input.
		if err := l.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close line %d: %w", pin, err)
		}
		delete(c.lines, pin)
	}
	return firstErr
}
