// services/hal/registry.go
package hal

import (
	"context"
	"sync"
	"time"
)

// Device types self-register a Builder from init(), the same way database
// drivers do, so linking an adaptor file is all it takes to support a new
// "type" string in config/hal.

// Builder turns one config/hal device entry into a live adaptor.
type Builder interface {
	Build(in BuildInput) (BuildOutput, error)
}

// BuildInput carries the config entry plus the platform factories the
// builder may draw on.
type BuildInput struct {
	Ctx      context.Context
	Buses    I2CBusFactory
	Pins     PinFactory
	DeviceID string
	Type     string
	BusID    string // "" for pin devices
	EveryMs  int    // configured sampling period, 0 for the builder default
	Params   any    // device-specific shape, JSON-like
}

// BuildOutput is what the service wires up: the adaptor itself, plus the
// scheduling and interrupt needs it declared.
type BuildOutput struct {
	Adaptor     Adaptor
	BusID       string        // worker bucket for bus devices ("i2c0")
	SampleEvery time.Duration // 0 when the device is not polled
	IRQ         *IRQRequest   // nil when no interrupt is wanted
}

// IRQRequest asks the service to watch a pin on the device's behalf.
type IRQRequest struct {
	DevID      string
	Pin        IRQPin
	Edge       Edge
	DebounceMS int
	Invert     bool
}

var (
	builderMu  sync.RWMutex
	builderFor = map[string]Builder{}
)

// RegisterBuilder installs b for a device type string. Registration runs
// from init, so mistakes panic rather than return an error nobody is
// positioned to check.
func RegisterBuilder(deviceType string, b Builder) {
	if deviceType == "" || b == nil {
		panic("hal: RegisterBuilder needs a type name and a builder")
	}
	builderMu.Lock()
	defer builderMu.Unlock()
	if _, dup := builderFor[deviceType]; dup {
		panic("hal: two builders registered for type " + deviceType)
	}
	builderFor[deviceType] = b
}

func lookupBuilder(deviceType string) (Builder, bool) {
	builderMu.RLock()
	defer builderMu.RUnlock()
	b, ok := builderFor[deviceType]
	return b, ok
}
