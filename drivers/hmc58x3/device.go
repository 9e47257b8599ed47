// Package hmc58x3 drives the Honeywell HMC5843 and HMC5883L three-axis
// magnetometers over I2C.
//
// The two chips share a register map, a bus address and the 'H43'
// identification bytes, but differ in gain tables, self-test strap fields
// and the axis order of the output block; Config.Variant selects the
// constant set at construction time.
//
// Typical use is Init once, then either continuous mode with periodic
// ReadRaw / ReadCalibrated calls, or single-shot conversions via SetMode or
// StartSingle. CalibrateSelfTest derives absolute per-axis scale factors
// from the chip's built-in bias straps; CalibrateSimple is a cheaper
// relative normalization. Scale factors start at 1.0 so calibrated reads
// pass raw counts through until a calibration has run.
//
// Device is not safe for concurrent use: the chip carries mode and bias
// state between transactions, so interleaved register sequences corrupt
// each other.
package hmc58x3

import (
	"time"

	"tinygo.org/x/drivers"
)

// Mode is the operating mode register value.
type Mode uint8

const (
	ModeContinuous Mode = 0x00
	ModeSingle     Mode = 0x01
	ModeIdle       Mode = 0x02
)

// modeSettle is the wait after a mode write before the next conversion is
// trustworthy.
const modeSettle = 100 * time.Millisecond

// powerUpDelay is the minimum time from power application to the first
// register access.
const powerUpDelay = 5 * time.Millisecond

// Config holds construction-time options. All fields are optional.
type Config struct {
	// Address overrides the fixed family bus address. Zero means Address.
	Address uint16

	// Variant selects the chip constant set; the zero value is HMC5883L.
	Variant Variant

	// Sleep provides blocking delays. Defaults to time.Sleep. Tests
	// substitute a recording stub so calibration sequences run instantly.
	Sleep func(time.Duration)

	// Debug receives occasional one-line diagnostics from the calibration
	// paths. Defaults to discarding them.
	Debug func(string)
}

// Device is a handle to one magnetometer on a bus.
type Device struct {
	bus  drivers.I2C
	addr uint16

	variant Variant
	prm     *params

	sleep func(time.Duration)
	debug func(string)

	scale  [3]float32 // per-axis divisors applied by calibrated reads
	maxima [3]float32 // per-axis peaks from the last CalibrateSimple

	w [2]byte
	r [6]byte
}

// New wires a Device. The bus must already be configured; the chip itself
// is not touched until Init.
func New(bus drivers.I2C, cfg Config) *Device {
	if cfg.Address == 0 {
		cfg.Address = Address
	}
	if cfg.Sleep == nil {
		cfg.Sleep = time.Sleep
	}
	if cfg.Debug == nil {
		cfg.Debug = func(string) {}
	}
	d := &Device{
		bus:     bus,
		addr:    cfg.Address,
		variant: cfg.Variant,
		prm:     cfg.Variant.params(),
		sleep:   cfg.Sleep,
		debug:   cfg.Debug,
	}
	d.scale = [3]float32{1, 1, 1}
	return d
}

// Variant reports which chip the device was configured for.
func (d *Device) Variant() Variant { return d.variant }

func (d *Device) writeRegister(reg, val byte) error {
	d.w[0], d.w[1] = reg, val
	return d.bus.Tx(d.addr, d.w[:2], nil)
}

func (d *Device) readRegisters(reg byte, buf []byte) error {
	d.w[0] = reg
	return d.bus.Tx(d.addr, d.w[:1], buf)
}

// Init runs the power-up sequence: wait out the power-up delay, optionally
// force continuous mode first (useful when the chip may still be in a
// stale single-shot state), then write the startup register images and
// enter continuous mode.
func (d *Device) Init(applyMode bool) error {
	d.sleep(powerUpDelay)
	if applyMode {
		if err := d.SetMode(ModeContinuous); err != nil {
			return err
		}
	}
	if err := d.writeRegister(regConfA, confAStartup); err != nil {
		return err
	}
	if err := d.writeRegister(regConfB, confBStartup); err != nil {
		return err
	}
	return d.writeRegister(regMode, byte(ModeContinuous))
}

// SetMode selects continuous, single-shot or idle operation and blocks for
// the settle time the chip needs before its next conversion. Values above
// ModeIdle are ignored without touching the bus.
func (d *Device) SetMode(m Mode) error {
	if m > ModeIdle {
		return nil
	}
	if err := d.writeRegister(regMode, byte(m)); err != nil {
		return err
	}
	d.sleep(modeSettle)
	return nil
}

// StartSingle requests one single-shot conversion without blocking and
// returns how long the caller should wait before collecting it.
func (d *Device) StartSingle() (time.Duration, error) {
	if err := d.writeRegister(regMode, byte(ModeSingle)); err != nil {
		return 0, err
	}
	return modeSettle, nil
}

// SetGain writes gain code 0..7 into configuration register B. Codes above
// 7 are ignored without touching the bus.
func (d *Device) SetGain(gain uint8) error {
	if gain > 7 {
		return nil
	}
	return d.writeRegister(regConfB, gain<<5)
}

// SetDataOutputRate writes rate code 0..6 into configuration register A.
// Codes above 6 are ignored without touching the bus. The write rebuilds
// the whole register, clearing the averaging and bias fields.
func (d *Device) SetDataOutputRate(rate uint8) error {
	if rate > 6 {
		return nil
	}
	return d.writeRegister(regConfA, rate<<2)
}

// ID returns the three identification bytes, 'H' '4' '3' on a healthy
// chip. A transport failure yields a zeroed identity rather than an error,
// so callers treat "can't read" and "wrong chip" the same way.
func (d *Device) ID() [3]byte {
	var id [3]byte
	if err := d.readRegisters(regIDA, d.r[:3]); err != nil {
		return id
	}
	copy(id[:], d.r[:3])
	return id
}

// Status reads the status register: RDY in bit 0, LOCK in bit 1.
func (d *Device) Status() (byte, error) {
	if err := d.readRegisters(regStatus, d.r[:1]); err != nil {
		return 0, err
	}
	return d.r[0], nil
}
