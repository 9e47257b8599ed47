package hmc58x3

// Address is the 7-bit bus address, fixed for the whole family.
const Address = 0x1E

// Register sub-addresses (HMC58X3 family datasheet).
const (
	regConfA  = 0x00 // sample averaging, data output rate, bias mode
	regConfB  = 0x01 // gain in the top three bits
	regMode   = 0x02 // operating mode
	regData   = 0x03 // six output bytes, big-endian pairs
	regStatus = 0x09 // RDY (bit 0) and LOCK (bit 1)
	regIDA    = 0x0A // identification registers A..C, 'H' '4' '3'
)

// Status register bits.
const (
	StatusReady = 0x01 // RDY, a new data block is waiting
	StatusLock  = 0x02 // outputs locked mid-read
)

// Bias field (MS1:MS0) of configuration register A. The strap current adds
// a known artificial field to every conversion while set.
const (
	biasPositive = 0x01
	biasNegative = 0x02
)

// Whole-register images the driver writes.
const (
	confAStartup = 0x70 // 8-sample averaging, 75 Hz, no bias
	confBStartup = 0xA0 // power-on default gain code 5
	confADefault = 0x10 // DOR code 4, no averaging, no bias
)

// Variant selects the chip-specific constant set. The zero value is the
// HMC5883L, the common modern part.
type Variant uint8

const (
	HMC5883L Variant = iota
	HMC5843
)

func (v Variant) String() string {
	if v == HMC5843 {
		return "hmc5843"
	}
	return "hmc5883l"
}

// params bundles the datasheet constants that differ between the two chips:
// digitizer counts per gauss for each gain code, the field each axis'
// self-test strap nominally produces, the self-test acceptance band as a
// fraction of the gain-5 response, and the axis order of the data block.
type params struct {
	countsPerGauss [8]int32
	selfTestGauss  [3]float64 // X, Y, Z
	selfTestLow    float64
	selfTestHigh   float64
	zBeforeY       bool
}

func (v Variant) params() *params {
	if v == HMC5843 {
		return &hmc5843Params
	}
	return &hmc5883lParams
}

// CountsPerGauss reports the digitizer sensitivity for a gain code, useful
// for converting raw counts to field strength. Out-of-range codes report 0.
func (v Variant) CountsPerGauss(gain uint8) int32 {
	if gain > 7 {
		return 0
	}
	return v.params().countsPerGauss[gain]
}

var hmc5883lParams = params{
	countsPerGauss: [8]int32{1370, 1090, 820, 660, 440, 390, 330, 230},
	selfTestGauss:  [3]float64{1.16, 1.16, 1.08},
	selfTestLow:    243.0 / 390.0,
	selfTestHigh:   575.0 / 390.0,
	zBeforeY:       true,
}

var hmc5843Params = params{
	countsPerGauss: [8]int32{1620, 1300, 970, 780, 530, 460, 390, 280},
	selfTestGauss:  [3]float64{0.55, 0.55, 0.55},
	selfTestLow:    -575.0 / 390.0,
	selfTestHigh:   575.0 / 390.0,
	zBeforeY:       false,
}
