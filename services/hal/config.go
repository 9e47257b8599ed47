package hal

// Wire shape of the "config/hal" payload. types.HALConfig mirrors it for
// publishers; the service decodes into its own copy so the two sides can
// move independently.

type HALConfig struct {
	Devices []DevCfg `json:"devices"`
}

type DevCfg struct {
	ID      string `json:"id"`                 // "mag0", "drdy0", "led0"
	Type    string `json:"type"`               // "hmc5883l", "hmc5843", "gpio"
	Bus     string `json:"bus,omitempty"`      // bus devices only
	EveryMs int    `json:"every_ms,omitempty"` // sampling period for producers
	Params  any    `json:"params,omitempty"`   // builder-specific
}
