// Package magsim is a register-level behavioral model of the HMC58X3
// magnetometer family, exposed as a drivers.I2C bus so the real driver can
// run against it on a host: identity registers, CONFA/CONFB/MODE writes,
// gain- and bias-dependent synthetic conversions, digitizer clipping to the
// overflow value, and a status register with an optional settle delay.
//
// The model is physics-shaped rather than scripted: the data block is
// computed from an ambient field in gauss plus the self-test strap field
// when a bias is programmed, digitized at the active gain. Driving the gain
// too high therefore saturates conversions exactly the way the real chip
// does.
package magsim

import (
	"errors"
	"sync"

	"tinygo.org/x/drivers"

	"magnode-go/drivers/hmc58x3"
)

var _ drivers.I2C = (*Chip)(nil)

var errNoDevice = errors.New("magsim: no device at address")

// Register sub-addresses and behavior constants (HMC58X3 datasheet).
const (
	regConfA  = 0x00
	regConfB  = 0x01
	regMode   = 0x02
	regData   = 0x03
	regStatus = 0x09
	regIDA    = 0x0A

	statusReady = 0x01

	biasMask     = 0x03
	biasPositive = 0x01
	biasNegative = 0x02

	// 12-bit digitizer span; out-of-range conversions read back as the
	// overflow value.
	adcMin   = -2048
	adcMax   = 2047
	overflow = -4096
)

// Config sets up a simulated chip. The zero value is a healthy HMC5883L in
// a zero field with nominal straps and no settle delay.
type Config struct {
	Variant hmc58x3.Variant

	// ID overrides the identification bytes; zero means 'H','4','3'.
	ID [3]byte

	// Ambient is the environmental field in gauss, X, Y, Z.
	Ambient [3]float64

	// StrapEff scales each axis' self-test strap field relative to nominal;
	// zero means 1.0. Values away from 1 make calibration produce scale
	// factors away from 1, like a real part.
	StrapEff [3]float64

	// SettleStatusReads is how many status polls after a mode write report
	// not-ready before RDY appears. Zero means data is ready immediately.
	SettleStatusReads int
}

// Chip is one simulated magnetometer. Safe for concurrent Tx callers.
type Chip struct {
	mu sync.Mutex

	variant hmc58x3.Variant
	id      [3]byte
	ambient [3]float64
	strap   [3]float64 // effective strap field in gauss per axis
	settle  int

	confA, confB, mode byte

	pending int  // status polls left before RDY
	fresh   bool // unread conversion available (single-shot)
}

// New builds a simulated chip at the family bus address.
func New(cfg Config) *Chip {
	c := &Chip{
		variant: cfg.Variant,
		id:      cfg.ID,
		ambient: cfg.Ambient,
		settle:  cfg.SettleStatusReads,
	}
	if c.id == ([3]byte{}) {
		c.id = [3]byte{'H', '4', '3'}
	}
	nominal := strapGauss(cfg.Variant)
	for i := 0; i < 3; i++ {
		eff := cfg.StrapEff[i]
		if eff == 0 {
			eff = 1
		}
		c.strap[i] = nominal[i] * eff
	}
	// Power-on register images per datasheet.
	c.confA = 0x10
	c.confB = 0xA0
	c.mode = 0x03
	return c
}

func strapGauss(v hmc58x3.Variant) [3]float64 {
	if v == hmc58x3.HMC5843 {
		return [3]float64{0.55, 0.55, 0.55}
	}
	return [3]float64{1.16, 1.16, 1.08}
}

// SetAmbient replaces the environmental field at runtime; simulators driving
// a live view rotate it.
func (c *Chip) SetAmbient(x, y, z float64) {
	c.mu.Lock()
	c.ambient = [3]float64{x, y, z}
	c.mu.Unlock()
}

// Registers reports the three writable register images, for assertions.
func (c *Chip) Registers() (confA, confB, mode byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.confA, c.confB, c.mode
}

// Tx implements drivers.I2C: a two-byte write programs a register, a
// one-byte write followed by a read returns registers starting at that
// sub-address.
func (c *Chip) Tx(addr uint16, w, r []byte) error {
	if addr != hmc58x3.Address {
		return errNoDevice
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(w) == 2 && len(r) == 0 {
		c.writeReg(w[0], w[1])
		return nil
	}
	if len(w) == 1 && len(r) > 0 {
		c.readRegs(w[0], r)
		return nil
	}
	return errors.New("magsim: unsupported transaction shape")
}

func (c *Chip) writeReg(reg, val byte) {
	switch reg {
	case regConfA:
		c.confA = val
	case regConfB:
		c.confB = val
	case regMode:
		c.mode = val & 0x03
		if c.mode <= 0x01 { // continuous or single starts a conversion
			c.pending = c.settle
			c.fresh = true
		}
	}
}

func (c *Chip) readRegs(start byte, r []byte) {
	file := c.regFile()
	for i := range r {
		idx := int(start) + i
		switch {
		case idx == regStatus:
			// Computed on access so polls outside the status register never
			// consume settle reads.
			r[i] = c.status()
		case idx >= 0 && idx < len(file):
			r[i] = file[idx]
		default:
			r[i] = 0
		}
	}
	// A full data-block read in single-shot mode consumes the conversion.
	if c.mode == 0x01 && int(start) <= regData && int(start)+len(r) >= regData+6 {
		c.fresh = false
	}
}

// regFile assembles the 13-byte register window 0x00..0x0C, status excluded.
func (c *Chip) regFile() [13]byte {
	var f [13]byte
	f[regConfA] = c.confA
	f[regConfB] = c.confB
	f[regMode] = c.mode

	x, y, z := c.counts()
	// The HMC5883L interleaves Z between X and Y on the wire; the HMC5843
	// delivers X, Y, Z.
	second, third := y, z
	if c.variant != hmc58x3.HMC5843 {
		second, third = z, y
	}
	f[regData+0], f[regData+1] = byte(uint16(x)>>8), byte(uint16(x))
	f[regData+2], f[regData+3] = byte(uint16(second)>>8), byte(uint16(second))
	f[regData+4], f[regData+5] = byte(uint16(third)>>8), byte(uint16(third))

	f[regIDA+0], f[regIDA+1], f[regIDA+2] = c.id[0], c.id[1], c.id[2]
	return f
}

func (c *Chip) status() byte {
	if c.pending > 0 {
		c.pending--
		return 0
	}
	if c.mode == 0x00 || c.fresh {
		return statusReady
	}
	return 0
}

// counts digitizes the present field at the active gain, adding the strap
// field while a bias is programmed and clipping to the overflow value.
func (c *Chip) counts() (x, y, z int16) {
	gain := c.confB >> 5
	cpg := float64(c.variant.CountsPerGauss(gain))

	var out [3]int16
	for i := 0; i < 3; i++ {
		field := c.ambient[i]
		switch c.confA & biasMask {
		case biasPositive:
			field += c.strap[i]
		case biasNegative:
			field -= c.strap[i]
		}
		v := field * cpg
		if v > adcMax || v < adcMin {
			out[i] = overflow
			continue
		}
		if v >= 0 {
			out[i] = int16(v + 0.5)
		} else {
			out[i] = int16(v - 0.5)
		}
	}
	return out[0], out[1], out[2]
}
