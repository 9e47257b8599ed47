// platform/factories_rp2xxx.go
//go:build rp2040 || rp2350

package platform

import (
	"context"
	"io"
	"machine"

	uartx "github.com/jangala-dev/tinygo-uartx/uartx"
	"tinygo.org/x/drivers"

	"magnode-go/services/bridge"
	"magnode-go/services/hal"
)

// Board wiring for Raspberry Pi Pico / Pico 2 (RP2 family).

// DefaultI2CFactory mounts i2c0 and i2c1 on the board-default pads.
func DefaultI2CFactory() hal.I2CBusFactory {
	return I2CFactoryWith(map[string]drivers.I2C{
		"i2c0": rpI2C(machine.I2C0, machine.I2C0_SDA_PIN, machine.I2C0_SCL_PIN),
		"i2c1": rpI2C(machine.I2C1, machine.I2C1_SDA_PIN, machine.I2C1_SCL_PIN),
	})
}

// rpI2C brings a controller up at 400 kHz on the given pads.
func rpI2C(b *machine.I2C, sda, scl machine.Pin) drivers.I2C {
	_ = b.Configure(machine.I2CConfig{Frequency: 400 * machine.KHz, SDA: sda, SCL: scl})
	return b
}

// DefaultPinFactory maps logical pin numbers straight onto GP numbering.
func DefaultPinFactory() hal.PinFactory { return picoPins{} }

// TelemetryPort configures UART0 for NMEA output (4800 baud, the NMEA-0183
// line rate, on the board-default pins) and returns it as a writer.
func TelemetryPort() io.Writer {
	hw := uartx.UART0
	_ = hw.Configure(uartx.UARTConfig{
		BaudRate: 4800,
		TX:       machine.UART0_TX_PIN,
		RX:       machine.UART0_RX_PIN,
	})
	return hw
}

// WireBridgeUART installs the bridge's UART dialler on UART1 with the baud
// and pins taken from the bridge config. Call once before the bridge starts.
func WireBridgeUART() {
	bridge.UARTDial = func(ctx context.Context, u bridge.UARTConfig) (io.ReadWriteCloser, error) {
		hw := uartx.UART1
		_ = hw.Configure(uartx.UARTConfig{
			BaudRate: uint32(u.Baud),
			TX:       machine.Pin(u.TxPin),
			RX:       machine.Pin(u.RxPin),
		})
		return &uartLink{ctx: ctx, u: hw}, nil
	}
}

// uartLink adapts a uartx UART to the bridge's io.ReadWriteCloser. Reads
// unblock when the link's context is cancelled; the UART itself stays up
// for the life of the device, so Close is a no-op.
type uartLink struct {
	ctx context.Context
	u   *uartx.UART
}

func (l *uartLink) Write(b []byte) (int, error) { return l.u.Write(b) }
func (l *uartLink) Read(b []byte) (int, error)  { return l.u.RecvSomeContext(l.ctx, b) }
func (l *uartLink) Close() error                { return nil }

// ----------------------------- GPIO (RP2) -------------------------------------

type picoPins struct{}

func (picoPins) ByNumber(n int) (hal.GPIOPin, bool) {
	if n < 0 || n > 28 { // user GPIOs GP0..GP28
		return nil, false
	}
	return picoPin{machine.Pin(n)}, true
}

// picoPin wraps one pad. machine.Pin carries its own number, so there is
// no extra state and the wrapper can be passed by value.
type picoPin struct {
	pin machine.Pin
}

var pullModes = map[hal.Pull]machine.PinMode{
	hal.PullUp:   machine.PinInputPullup,
	hal.PullDown: machine.PinInputPulldown,
	hal.PullNone: machine.PinInput,
}

func (p picoPin) ConfigureInput(pull hal.Pull) error {
	mode, ok := pullModes[pull]
	if !ok {
		mode = machine.PinInput
	}
	p.pin.Configure(machine.PinConfig{Mode: mode})
	return nil
}

func (p picoPin) ConfigureOutput(initial bool) error {
	p.pin.Configure(machine.PinConfig{Mode: machine.PinOutput})
	p.pin.Set(initial)
	return nil
}

func (p picoPin) Set(level bool) { p.pin.Set(level) }
func (p picoPin) Get() bool      { return p.pin.Get() }
func (p picoPin) Toggle()        { p.pin.Set(!p.pin.Get()) }
func (p picoPin) Number() int    { return int(p.pin) }

// edgeFlags translates to the RP2 port's PinChange. A miss (EdgeNone)
// yields the zero flag set, which disables the interrupt.
var edgeFlags = map[hal.Edge]machine.PinChange{
	hal.EdgeRising:  machine.PinRising,
	hal.EdgeFalling: machine.PinFalling,
	hal.EdgeBoth:    machine.PinToggle,
}

func (p picoPin) SetIRQ(edge hal.Edge, handler func()) error {
	return p.pin.SetInterrupt(edgeFlags[edge], func(machine.Pin) { handler() })
}

func (p picoPin) ClearIRQ() error {
	return p.pin.SetInterrupt(edgeFlags[hal.EdgeNone], nil)
}
