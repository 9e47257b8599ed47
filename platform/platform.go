// platform/platform.go

// Package platform supplies the board-specific pieces the node services are
// wired with: I²C buses and GPIO pins for the HAL, a UART port for NMEA
// telemetry, and the bridge's UART dialler. RP2 builds drive real hardware;
// host builds get fakes so the same wiring code runs everywhere.
package platform

import (
	"tinygo.org/x/drivers"

	"magnode-go/services/hal"
)

type mapI2CFactory struct {
	buses map[string]drivers.I2C
}

func (f *mapI2CFactory) ByID(id string) (drivers.I2C, bool) {
	b, ok := f.buses[id]
	return b, ok
}

// I2CFactoryWith builds a factory over explicit buses, e.g. to mount a
// simulated chip as "i2c0" in demos and tests.
func I2CFactoryWith(buses map[string]drivers.I2C) hal.I2CBusFactory {
	return &mapI2CFactory{buses: buses}
}
