package hal

import (
	"context"
	"errors"
	"testing"
	"time"

	"tinygo.org/x/drivers"

	"magnode-go/drivers/hmc58x3"
	"magnode-go/errcode"
	"magnode-go/types"
)

// magFake is a register-level HMC5883L stand-in: it records register writes
// and serves scripted ID, status and data-block reads. Data frames are a FIFO
// that repeats its last entry once drained.
type magFake struct {
	writes    []magWrite
	frames    [][6]byte
	id        [3]byte
	status    byte
	dataReads int
}

type magWrite struct{ reg, val byte }

func newMagFake() *magFake {
	return &magFake{id: [3]byte{'H', '4', '3'}, status: 0x01}
}

var _ drivers.I2C = (*magFake)(nil)

func (f *magFake) Tx(addr uint16, w, r []byte) error {
	if len(w) == 2 && len(r) == 0 {
		f.writes = append(f.writes, magWrite{w[0], w[1]})
		return nil
	}
	if len(w) == 1 {
		switch w[0] {
		case 0x0A: // identification block
			copy(r, f.id[:])
		case 0x09: // status
			if len(r) > 0 {
				r[0] = f.status
			}
		case 0x03: // data block
			f.dataReads++
			var fr [6]byte
			if len(f.frames) > 0 {
				fr = f.frames[0]
				if len(f.frames) > 1 {
					f.frames = f.frames[1:]
				}
			}
			copy(r, fr[:])
		}
	}
	return nil
}

// push queues one data frame in HMC5883L block order (X, Z, Y).
func (f *magFake) push(x, y, z int16) {
	var b [6]byte
	be := func(off int, v int16) {
		b[off] = byte(uint16(v) >> 8)
		b[off+1] = byte(uint16(v))
	}
	be(0, x)
	be(2, z)
	be(4, y)
	f.frames = append(f.frames, b)
}

// newTestMagAdaptor builds an initialised adaptor around the fake with sleeps
// stubbed out so calibration runs instantly.
func newTestMagAdaptor(t *testing.T, f *magFake) *magAdaptor {
	t.Helper()
	dev := hmc58x3.New(f, hmc58x3.Config{Sleep: func(time.Duration) {}})
	if err := dev.Init(false); err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := dev.SetGain(1); err != nil {
		t.Fatalf("set gain: %v", err)
	}
	f.writes = nil // drop setup traffic; tests assert on what follows
	return &magAdaptor{id: "mag0", busID: "i2c0", addr: hmc58x3.Address, dev: dev, gain: 1}
}

func TestMagAdaptorTriggerReturnsSettleHint(t *testing.T) {
	f := newMagFake()
	a := newTestMagAdaptor(t, f)

	hint, err := a.Trigger(context.Background())
	if err != nil {
		t.Fatalf("trigger: %v", err)
	}
	if hint != 100*time.Millisecond {
		t.Fatalf("settle hint = %v, want 100ms", hint)
	}
	if len(f.writes) != 1 || f.writes[0] != (magWrite{0x02, 0x01}) {
		t.Fatalf("expected single-shot mode write, got %v", f.writes)
	}
}

func TestMagAdaptorCollectNotReady(t *testing.T) {
	f := newMagFake()
	f.status = 0x00
	a := newTestMagAdaptor(t, f)

	if _, err := a.Collect(context.Background()); !errors.Is(err, ErrNotReady) {
		t.Fatalf("err = %v, want ErrNotReady", err)
	}
	if f.dataReads != 0 {
		t.Fatalf("data block read despite RDY clear")
	}
}

func TestMagAdaptorCollectPayload(t *testing.T) {
	f := newMagFake()
	f.push(120, -45, 310)
	a := newTestMagAdaptor(t, f)

	s, err := a.Collect(context.Background())
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	pl := readingPayload(t, s, types.KindMagneticField)
	if gi(pl, "x") != 120 || gi(pl, "y") != -45 || gi(pl, "z") != 310 {
		t.Fatalf("raw axes wrong: %v", pl)
	}
	// Identity scale factors until a calibration has run.
	if gi(pl, "cal_x") != 120 || gi(pl, "cal_y") != -45 || gi(pl, "cal_z") != 310 {
		t.Fatalf("calibrated axes wrong: %v", pl)
	}
	if s[0].TsMs == 0 {
		t.Fatal("timestamp missing")
	}
}

func TestMagAdaptorCapabilities(t *testing.T) {
	f := newMagFake()
	a := newTestMagAdaptor(t, f)

	caps := a.Capabilities()
	if len(caps) != 1 || caps[0].Kind != types.KindMagneticField {
		t.Fatalf("capabilities = %+v", caps)
	}
	info := caps[0].Info
	if info["sensor"] != "hmc5883l" || info["driver"] != "hmc58x3" {
		t.Fatalf("info = %v", info)
	}
	if gi(info, "addr") != 0x1E || gi(info, "gain") != 1 {
		t.Fatalf("info = %v", info)
	}
}

func TestMagAdaptorSetGain(t *testing.T) {
	f := newMagFake()
	a := newTestMagAdaptor(t, f)

	res, err := a.Control(types.KindMagneticField, "set_gain", map[string]any{"gain": 3})
	if err != nil {
		t.Fatalf("set_gain: %v", err)
	}
	if m, ok := res.(map[string]any); !ok || gi(m, "gain") != 3 {
		t.Fatalf("result = %v", res)
	}
	if len(f.writes) != 1 || f.writes[0] != (magWrite{0x01, 0x60}) {
		t.Fatalf("expected CONFB gain write, got %v", f.writes)
	}
	if a.gain != 3 {
		t.Fatalf("tracked gain = %d", a.gain)
	}

	// Out-of-range codes never reach the chip.
	if _, err := a.Control(types.KindMagneticField, "set_gain", map[string]any{"gain": 9}); !errors.Is(err, errcode.InvalidParams) {
		t.Fatalf("err = %v, want invalid_params", err)
	}
	if len(f.writes) != 1 {
		t.Fatalf("unexpected extra writes: %v", f.writes)
	}
}

func TestMagAdaptorReadID(t *testing.T) {
	f := newMagFake()
	a := newTestMagAdaptor(t, f)

	res, err := a.Control(types.KindMagneticField, "read_id", nil)
	if err != nil {
		t.Fatalf("read_id: %v", err)
	}
	if m, ok := res.(map[string]any); !ok || m["id"] != "H43" {
		t.Fatalf("result = %v", res)
	}
}

func TestMagAdaptorScaleControl(t *testing.T) {
	f := newMagFake()
	a := newTestMagAdaptor(t, f)

	res, err := a.Control(types.KindMagneticField, "scale", nil)
	if err != nil {
		t.Fatalf("scale: %v", err)
	}
	sf, ok := res.(types.ScaleFactors)
	if !ok || sf.X != 1 || sf.Y != 1 || sf.Z != 1 {
		t.Fatalf("result = %v", res)
	}
}

func TestMagAdaptorRejectsForeignKindAndMethod(t *testing.T) {
	f := newMagFake()
	a := newTestMagAdaptor(t, f)

	if _, err := a.Control("gpio", "set", map[string]any{"level": 1}); !errors.Is(err, ErrUnsupported) {
		t.Fatalf("foreign kind err = %v", err)
	}
	if _, err := a.Control(types.KindMagneticField, "frobnicate", nil); !errors.Is(err, ErrUnsupported) {
		t.Fatalf("unknown method err = %v", err)
	}
}

func TestMagAdaptorCalibrateSelfTest(t *testing.T) {
	f := newMagFake()
	f.push(999, 999, 999) // stale-gain discard
	for i := 0; i < 2; i++ {
		f.push(1264, 1264, 1177)
	}
	for i := 0; i < 2; i++ {
		f.push(-1264, -1264, -1177)
	}
	a := newTestMagAdaptor(t, f)

	res, err := a.Control(types.KindMagneticField, "calibrate_selftest",
		map[string]any{"gain": 1, "samples": 2})
	if err != nil {
		t.Fatalf("calibrate: %v", err)
	}
	cal, ok := res.(types.CalibrationResult)
	if !ok {
		t.Fatalf("result type %T", res)
	}
	if cal.Method != "self_test" || !cal.OK || cal.Code != "ok" || cal.Scale == nil {
		t.Fatalf("result = %+v", cal)
	}
	if cal.Scale.X < 0.9 || cal.Scale.X > 1.1 || cal.Scale.Z < 0.9 || cal.Scale.Z > 1.1 {
		t.Fatalf("scale = %+v", cal.Scale)
	}
	// Config register A must end up restored to its no-bias image.
	last := f.writes[len(f.writes)-1]
	if last != (magWrite{0x00, 0x10}) {
		t.Fatalf("last write = %v, want CONFA restore", last)
	}
	if a.gain != 1 {
		t.Fatalf("tracked gain = %d", a.gain)
	}
}

func TestMagAdaptorCalibrateFailureCarriesResult(t *testing.T) {
	f := newMagFake()
	f.push(999, 999, 999)
	f.push(-4096, 100, 100) // clipped sample
	f.push(100, 100, 100)
	a := newTestMagAdaptor(t, f)

	res, err := a.Control(types.KindMagneticField, "calibrate_selftest",
		map[string]any{"gain": 1, "samples": 2})
	if !errors.Is(err, hmc58x3.ErrSaturated) {
		t.Fatalf("err = %v, want saturated", err)
	}
	cal, ok := res.(types.CalibrationResult)
	if !ok {
		t.Fatalf("result type %T", res)
	}
	if cal.OK || cal.Code != "saturated" || cal.Scale != nil {
		t.Fatalf("result = %+v", cal)
	}

	// Prior factors survive a failed run.
	sres, _ := a.Control(types.KindMagneticField, "scale", nil)
	if sf := sres.(types.ScaleFactors); sf.X != 1 || sf.Y != 1 || sf.Z != 1 {
		t.Fatalf("scale after failure = %+v", sf)
	}
}

func TestMagAdaptorCalibrateSimple(t *testing.T) {
	f := newMagFake()
	for i := 0; i < 10; i++ {
		f.push(400, 200, 100)
	}
	a := newTestMagAdaptor(t, f)

	res, err := a.Control(types.KindMagneticField, "calibrate_simple", map[string]any{"gain": 2})
	if err != nil {
		t.Fatalf("calibrate_simple: %v", err)
	}
	cal := res.(types.CalibrationResult)
	if cal.Method != "simple" || !cal.OK || cal.Scale == nil {
		t.Fatalf("result = %+v", cal)
	}
	if cal.Scale.Y != 2*cal.Scale.X || cal.Scale.Z != 4*cal.Scale.X {
		t.Fatalf("scale ratios wrong: %+v", cal.Scale)
	}

	mres, _ := a.Control(types.KindMagneticField, "maxima", nil)
	m := mres.(map[string]any)
	if gi(m, "x") != 400 || gi(m, "y") != 200 || gi(m, "z") != 100 {
		t.Fatalf("maxima = %v", m)
	}
}

func TestMagBuilder(t *testing.T) {
	f := newMagFake()
	facts := rig{bus0: f}

	b, ok := lookupBuilder("hmc5883l")
	if !ok {
		t.Fatal("hmc5883l builder not registered")
	}

	out, err := b.Build(BuildInput{
		Ctx:      context.Background(),
		Buses:    facts,
		Pins:     facts,
		DeviceID: "mag0",
		Type:     "hmc5883l",
		BusID:    "i2c0",
		Params:   map[string]any{"gain": 1},
	})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if out.SampleEvery != time.Second {
		t.Fatalf("default period = %v", out.SampleEvery)
	}
	want := []magWrite{{0x00, 0x70}, {0x01, 0xA0}, {0x02, 0x00}, {0x01, 0x20}}
	if len(f.writes) != len(want) {
		t.Fatalf("setup writes = %v", f.writes)
	}
	for i := range want {
		if f.writes[i] != want[i] {
			t.Fatalf("setup write %d = %v, want %v", i, f.writes[i], want[i])
		}
	}

	// Unknown bus and bad gain both fail the build.
	if _, err := b.Build(BuildInput{Buses: facts, Pins: facts, DeviceID: "mag1", BusID: "i2c9"}); !errors.Is(err, errcode.UnknownBus) {
		t.Fatalf("unknown bus err = %v", err)
	}
	if _, err := b.Build(BuildInput{Buses: facts, Pins: facts, DeviceID: "mag2", BusID: "i2c0",
		Params: map[string]any{"gain": 8}}); !errors.Is(err, errcode.InvalidParams) {
		t.Fatalf("bad gain err = %v", err)
	}
}

func TestMagBuilderVariantConstants(t *testing.T) {
	f := newMagFake()
	facts := rig{bus0: f}

	b, ok := lookupBuilder("hmc5843")
	if !ok {
		t.Fatal("hmc5843 builder not registered")
	}
	out, err := b.Build(BuildInput{
		Ctx: context.Background(), Buses: facts, Pins: facts,
		DeviceID: "mag0", Type: "hmc5843", BusID: "i2c0", EveryMs: 250,
	})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if out.SampleEvery != 250*time.Millisecond {
		t.Fatalf("period = %v", out.SampleEvery)
	}
	caps := out.Adaptor.Capabilities()
	if caps[0].Info["sensor"] != "hmc5843" {
		t.Fatalf("info = %v", caps[0].Info)
	}
}
