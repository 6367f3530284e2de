package gpio

import (
	"fmt"
	"sync"

	"github.com/cjeanneret/SlideGo/internal/debug"
)

// Level represents the logical state of a GPIO pin.
type Level bool

const (
	Low  Level = false
	High Level = true
)

// PinMode indicates whether a GPIO is input or output.
type PinMode int

const (
	Input PinMode = iota
	Output
)

// Driver defines the abstract interface for controlling GPIOs.
// This allows plugging in a real Raspberry Pi implementation
// or a mock for development on PC.
type Driver interface {
	SetupPin(pin int, mode PinMode) error
	WritePin(pin int, level Level) error
	ReadPin(pin int) (Level, error)
	Close() error
}

// EdgeHandler is called from the driver's event context when a watched
// input goes from Low to High. It must not block.
type EdgeHandler func(pin int)

// EdgeDriver is a Driver that can report rising edges on inputs.
type EdgeDriver interface {
	Driver
	WatchRisingEdge(pin int, handler EdgeHandler) error
}

// Backend names, matching defaults.gpio_driver in the configuration.
const (
	BackendMock     = "mock"
	BackendRPi      = "rpio"
	BackendGPIOCdev = "gpiocdev"
	BackendPeriph   = "periph"
)

// NewDriver creates a GPIO driver for the chosen backend.
// chip is only used by the gpiocdev backend.
func NewDriver(backend, chip string) (EdgeDriver, error) {
	switch backend {
	case BackendMock:
		debug.Info("Using MOCK GPIO driver (development mode)")
		return NewMockDriver(), nil
	case BackendRPi:
		return NewRPiRealDriver()
	case BackendGPIOCdev:
		return NewCdevDriver(chip)
	case BackendPeriph:
		return NewPeriphDriver()
	default:
		return nil, fmt.Errorf("unknown gpio backend: %s", backend)
	}
}

// MockDriver is an in-memory implementation used for development on PC
// and for tests. Inputs can be driven with SetInput to simulate switches.
type MockDriver struct {
	mu       sync.Mutex
	levels   map[int]Level
	modes    map[int]PinMode
	handlers map[int]EdgeHandler
}

// NewMockDriver returns an empty mock with every pin Low.
func NewMockDriver() *MockDriver {
	return &MockDriver{}
}

func (m *MockDriver) init() {
	if m.levels == nil {
		m.levels = make(map[int]Level)
		m.modes = make(map[int]PinMode)
		m.handlers = make(map[int]EdgeHandler)
	}
}

func (m *MockDriver) SetupPin(pin int, mode PinMode) error {
	debug.GPIO("SetupPin", pin, mode)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.init()
	m.modes[pin] = mode
	return nil
}

func (m *MockDriver) WritePin(pin int, level Level) error {
	debug.GPIO("WritePin", pin, level)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.init()
	m.levels[pin] = level
	return nil
}

func (m *MockDriver) ReadPin(pin int) (Level, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.init()
	return m.levels[pin], nil
}

func (m *MockDriver) WatchRisingEdge(pin int, handler EdgeHandler) error {
	debug.GPIO("WatchRisingEdge", pin, nil)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.init()
	m.modes[pin] = Input
	m.handlers[pin] = handler
	return nil
}

// SetInput simulates an external signal on pin. A Low to High transition
// fires the registered edge handler.
func (m *MockDriver) SetInput(pin int, level Level) {
	m.mu.Lock()
	m.init()
	prev := m.levels[pin]
	m.levels[pin] = level
	handler := m.handlers[pin]
	m.mu.Unlock()

	if handler != nil && prev == Low && level == High {
		handler(pin)
	}
}

// Level returns the last level written to or simulated on pin.
func (m *MockDriver) Level(pin int) Level {
	l, _ := m.ReadPin(pin)
	return l
}

func (m *MockDriver) Close() error {
	debug.Trace("GPIO Close (mock)")
	return nil
}
