package types

// ------------------------
// Common HAL state (retained)
// ------------------------

type HALState struct {
	Level  string `json:"level"`  // "idle", "ready", "stopped"
	Status string `json:"status"` // freeform short code
	TS     int64  `json:"ts_ms"`
}

// Link is the link/state reported for a capability.
type Link string

const (
	LinkUp       Link = "up"
	LinkDown     Link = "down"
	LinkDegraded Link = "degraded"
)

type CapabilityStatus struct {
	Link  Link   `json:"link"`
	TS    int64  `json:"ts_ms"`
	Error string `json:"error,omitempty"` // machine-readable short code
}

// ------------------------
// Capability kinds
// ------------------------

// Untyped so they slot into both string fields and bus topic tokens.
const (
	KindMagneticField = "magnetic_field"
	KindGPIO          = "gpio"
)

// ------------------------
// HAL configuration, topic "config/hal"
// ------------------------

type HALConfig struct {
	Devices []HALDevice `json:"devices"`
}

type HALDevice struct {
	ID      string      `json:"id"`                 // logical device id, e.g. "mag0"
	Type    string      `json:"type"`               // e.g. "hmc58x3"
	Bus     string      `json:"bus,omitempty"`      // bus ref, e.g. "i2c0"
	EveryMs int         `json:"every_ms,omitempty"` // sampling period
	Params  interface{} `json:"params,omitempty"`   // device-specific params (JSON-like)
}

// ------------------------
// Generic replies
// ------------------------

type OKReply struct {
	OK bool `json:"ok"`
}

type ErrorReply struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
}

// ------------------------
// Magnetometer payloads
// ------------------------

// MagnetometerInfo appears as Info.Detail on .../info (retained).
type MagnetometerInfo struct {
	Sensor string `json:"sensor"` // "hmc5883l" or "hmc5843"
	Addr   uint16 `json:"addr"`
	Bus    string `json:"bus"`
	Gain   uint8  `json:"gain"`
}

// MagneticFieldValue is one conversion: raw counts plus the same sample
// with the per-axis calibration factors applied.
type MagneticFieldValue struct {
	X    int16   `json:"x"`
	Y    int16   `json:"y"`
	Z    int16   `json:"z"`
	CalX float32 `json:"cal_x"`
	CalY float32 `json:"cal_y"`
	CalZ float32 `json:"cal_z"`
}

// ScaleFactors is the calibration state, replied to the "scale" control
// and embedded in calibration events.
type ScaleFactors struct {
	X float32 `json:"x"`
	Y float32 `json:"y"`
	Z float32 `json:"z"`
}

// Controls

type MagCalibrateSelfTest struct {
	Gain    uint8 `json:"gain"`
	Samples int   `json:"samples"`
}

type MagCalibrateSimple struct {
	Gain uint8 `json:"gain"`
}

type MagSetGain struct {
	Gain uint8 `json:"gain"`
}

type SetRate struct {
	EveryMs int `json:"every_ms"`
}

// CalibrationResult is published as a capability event after either
// calibration control finishes. Code carries the errcode string on
// failure, "ok" on success.
type CalibrationResult struct {
	Method string        `json:"method"` // "self_test" or "simple"
	OK     bool          `json:"ok"`
	Code   string        `json:"code"`
	Scale  *ScaleFactors `json:"scale,omitempty"`
}

// ------------------------
// GPIO payloads
// ------------------------

// GPIOInfo appears as Info.Detail for pin capabilities.
type GPIOInfo struct {
	Pin int    `json:"pin"`
	Dir string `json:"dir"` // "in" or "out"
}

type GPIOValue struct {
	Level int `json:"level"` // 0 or 1
}

// GPIOEdge is published on the capability event topic when a watched
// input changes level.
type GPIOEdge struct {
	Level int    `json:"level"`
	Edge  string `json:"edge"` // "rising" or "falling"
	TS    int64  `json:"ts_ms"`
}

// Controls
type GPIOSet struct {
	Level bool `json:"level"`
}
