package config

// -----------------------------------------------------------------------------
// Embedded configuration
//
// Populate embeddedConfigs at build time (e.g. via code generation) or
// manually during development.
// Key: device ID (same value placed in ctx under CtxDeviceKey)
// Val: raw JSON bytes for that device
// -----------------------------------------------------------------------------

// cfgMagnode is the standard sensor-node build: one HMC5883L compass on i2c0
// sampled once a second, its DRDY strap on GP22, the onboard LED on GP25, and
// a UART1 bridge (GP8/GP9; UART0 carries NMEA) mirroring capability traffic
// to the base station.
const cfgMagnode = `{
  "hal": {
    "devices": [
      {
        "id": "mag0", "type": "hmc5883l", "bus": "i2c0", "every_ms": 1000,
        "params": {"gain": 1, "rate": 4}
      },
      {
        "id": "drdy0", "type": "gpio",
        "params": {"pin": 22, "mode": "input", "pull": "down",
                   "irq": {"edge": "rising", "debounce_ms": 2}}
      },
      {
        "id": "led0", "type": "gpio",
        "params": {"pin": 25, "mode": "output", "initial": false}
      }
    ]
  },
  "heartbeat": {
    "interval": 2
  },
  "telemetry": {
    "min_period_ms": 500
  },
  "bridge": {
    "transport": {"type": "uart", "uart": {"baud": 115200, "rx_pin": 9, "tx_pin": 8}},
    "forward": [["hal", "capability", "#"], ["hal", "state"]]
  }
}`

var embeddedConfigs = map[string][]byte{
	"magnode": []byte(cfgMagnode),
}
