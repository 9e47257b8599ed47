package hmc58x3

// Sample is one conversion in signed device counts.
type Sample struct {
	X, Y, Z int16
}

// Field is a calibrated reading: raw counts divided by the active per-axis
// scale factors. With the factors at their 1.0 defaults it equals the raw
// sample; after CalibrateSelfTest the axes are normalized to the nominal
// gain response.
type Field struct {
	X, Y, Z float32
}

// ReadRaw reads the six-byte output block and unpacks it in the variant's
// axis order. The HMC5883L interleaves Z between X and Y; the HMC5843
// delivers X, Y, Z in sequence.
func (d *Device) ReadRaw() (Sample, error) {
	var s Sample
	if err := d.readRegisters(regData, d.r[:6]); err != nil {
		return s, err
	}
	first := int16(uint16(d.r[0])<<8 | uint16(d.r[1]))
	second := int16(uint16(d.r[2])<<8 | uint16(d.r[3]))
	third := int16(uint16(d.r[4])<<8 | uint16(d.r[5]))
	s.X = first
	if d.prm.zBeforeY {
		s.Z, s.Y = second, third
	} else {
		s.Y, s.Z = second, third
	}
	return s, nil
}

// ReadCalibrated reads one sample and applies the scale factors.
func (d *Device) ReadCalibrated() (Field, error) {
	raw, err := d.ReadRaw()
	if err != nil {
		return Field{}, err
	}
	return d.applyScale(raw), nil
}

// ReadCalibratedRounded is ReadCalibrated narrowed back to integer counts,
// rounding each component by adding 0.5 and truncating toward zero.
func (d *Device) ReadCalibratedRounded() (Sample, error) {
	f, err := d.ReadCalibrated()
	if err != nil {
		return Sample{}, err
	}
	return Sample{
		X: int16(f.X + 0.5),
		Y: int16(f.Y + 0.5),
		Z: int16(f.Z + 0.5),
	}, nil
}

func (d *Device) applyScale(raw Sample) Field {
	return Field{
		X: float32(raw.X) / d.scale[0],
		Y: float32(raw.Y) / d.scale[1],
		Z: float32(raw.Z) / d.scale[2],
	}
}

// ScaleFactors returns the active per-axis scale factors.
func (d *Device) ScaleFactors() (x, y, z float32) {
	return d.scale[0], d.scale[1], d.scale[2]
}

// Maxima returns the per-axis peaks recorded by the last CalibrateSimple
// run, zero if none has run.
func (d *Device) Maxima() (x, y, z float32) {
	return d.maxima[0], d.maxima[1], d.maxima[2]
}
