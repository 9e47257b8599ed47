// platform/factories_host.go
//go:build !rp2040 && !rp2350

package platform

import (
	"io"
	"os"
	"sync"
	"time"

	"tinygo.org/x/drivers"

	"magnode-go/services/hal"
)

// ----------------------------- I²C (host) ------------------------------------

// TxRecord is the last transaction a HostI2C saw.
type TxRecord struct {
	Addr uint16
	W    []byte
	Rn   int
}

// HostI2C is an inert bus for host builds: reads come back zeroed, and
// the last transaction stays inspectable.
type HostI2C struct {
	mu     sync.Mutex
	LastTx TxRecord
}

func (h *HostI2C) Tx(addr uint16, w, r []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.LastTx = TxRecord{Addr: addr, W: append([]byte(nil), w...), Rn: len(r)}
	return nil
}

// DefaultI2CFactory mounts inert buses "i2c0" and "i2c1". Demos that want
// a live simulated chip mount one with I2CFactoryWith instead.
func DefaultI2CFactory() hal.I2CBusFactory {
	return I2CFactoryWith(map[string]drivers.I2C{
		"i2c0": &HostI2C{},
		"i2c1": &HostI2C{},
	})
}

// TelemetryPort returns stdout so NMEA sentences are visible when running
// on a host.
func TelemetryPort() io.Writer { return os.Stdout }

// WireBridgeUART is a no-op on hosts: there is no UART to dial, and host
// binaries bridge over websocket instead. A uart transport config without
// a dialler surfaces as an error on bridge/state.
func WireBridgeUART() {}

// ----------------------------- GPIO (host) -----------------------------------

// FakePin is a scriptable pin that doubles as its own interrupt source:
// driving it with Set fires the registered handler the way a real pad
// would.
type FakePin struct {
	mu      sync.Mutex
	number  int
	level   bool
	out     bool
	watch   hal.Edge
	handler func()
	holdoff time.Duration
	firedAt time.Time
}

func (p *FakePin) ConfigureInput(hal.Pull) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.out = false
	return nil
}

func (p *FakePin) ConfigureOutput(initial bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.out = true
	p.level = initial
	return nil
}

// Set drives the pin. A level change matching the watched edge calls the
// handler outside the lock, ISR style.
func (p *FakePin) Set(level bool) {
	if h := p.transition(level); h != nil {
		h()
	}
}

func (p *FakePin) transition(level bool) func() {
	p.mu.Lock()
	defer p.mu.Unlock()
	was := p.level
	p.level = level
	if p.handler == nil || was == level {
		return nil
	}
	rose := level && !was
	if p.watch != hal.EdgeBoth {
		if rose && p.watch != hal.EdgeRising {
			return nil
		}
		if !rose && p.watch != hal.EdgeFalling {
			return nil
		}
	}
	now := time.Now()
	if p.holdoff > 0 && now.Sub(p.firedAt) < p.holdoff {
		return nil
	}
	p.firedAt = now
	return p.handler
}

func (p *FakePin) Get() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.level
}

func (p *FakePin) Toggle()     { p.Set(!p.Get()) }
func (p *FakePin) Number() int { return p.number }

func (p *FakePin) SetIRQ(edge hal.Edge, handler func()) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.watch, p.handler = edge, handler
	return nil
}

func (p *FakePin) ClearIRQ() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.watch, p.handler = hal.EdgeNone, nil
	return nil
}

// HostPinFactory hands out one stable FakePin per pin number.
type HostPinFactory struct {
	mu   sync.Mutex
	pins map[int]*FakePin
}

func (f *HostPinFactory) ByNumber(n int) (hal.GPIOPin, bool) {
	return f.pin(n), true
}

// Get exposes the concrete pin so tests can script edges on it.
func (f *HostPinFactory) Get(n int) (*FakePin, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.pins[n]
	return p, ok
}

func (f *HostPinFactory) pin(n int) *FakePin {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.pins[n]
	if !ok {
		if f.pins == nil {
			f.pins = map[int]*FakePin{}
		}
		p = &FakePin{number: n}
		f.pins[n] = p
	}
	return p
}

// DefaultPinFactory provides the host GPIO factory.
func DefaultPinFactory() hal.PinFactory {
	return &HostPinFactory{}
}
