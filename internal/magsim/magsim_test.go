package magsim

import (
	"errors"
	"math"
	"testing"
	"time"

	"magnode-go/drivers/hmc58x3"
)

func noSleep(time.Duration) {}

func TestSim_ReadRaw_AxisOrderPerVariant(t *testing.T) {
	ambient := [3]float64{0.2, -0.1, 0.3}

	cases := []struct {
		variant hmc58x3.Variant
		cpg     float64 // gain code 5, the power-on image
	}{
		{hmc58x3.HMC5883L, 390},
		{hmc58x3.HMC5843, 460},
	}
	for _, c := range cases {
		chip := New(Config{Variant: c.variant, Ambient: ambient})
		dev := hmc58x3.New(chip, hmc58x3.Config{Variant: c.variant, Sleep: noSleep})
		if err := dev.Init(false); err != nil {
			t.Fatalf("%v: Init: %v", c.variant, err)
		}

		raw, err := dev.ReadRaw()
		if err != nil {
			t.Fatalf("%v: ReadRaw: %v", c.variant, err)
		}
		wantX := int16(ambient[0]*c.cpg + 0.5)
		wantY := int16(ambient[1]*c.cpg - 0.5)
		wantZ := int16(ambient[2]*c.cpg + 0.5)
		if raw.X != wantX || raw.Y != wantY || raw.Z != wantZ {
			t.Fatalf("%v: raw = %+v, want {%d %d %d}", c.variant, raw, wantX, wantY, wantZ)
		}
	}
}

// Self-test calibration against the model: the ambient field cancels out and
// the scale factors land at nominal/actual strap strength per axis.
func TestSim_SelfTestCalibration_ScalesTrackStrapEfficiency(t *testing.T) {
	eff := [3]float64{1.03, 0.95, 1.02}
	chip := New(Config{
		Ambient:  [3]float64{0.2, -0.1, 0.3},
		StrapEff: eff,
	})
	dev := hmc58x3.New(chip, hmc58x3.Config{Sleep: noSleep})
	if err := dev.Init(false); err != nil {
		t.Fatalf("Init: %v", err)
	}

	if err := dev.CalibrateSelfTest(1, 8); err != nil {
		t.Fatalf("CalibrateSelfTest: %v", err)
	}

	sx, sy, sz := dev.ScaleFactors()
	got := [3]float64{float64(sx), float64(sy), float64(sz)}
	for i, g := range got {
		want := 1 / eff[i]
		if math.Abs(g-want) > 0.01 {
			t.Errorf("scale[%d] = %v, want about %v", i, g, want)
		}
	}

	// The bias field must be cleared again after the run.
	confA, _, _ := chip.Registers()
	if confA != 0x10 {
		t.Fatalf("CONFA after calibration = %#02x, want 0x10", confA)
	}
}

// Too much sensitivity clips the biased conversions, which the driver must
// report as saturation without adopting new scale factors.
func TestSim_SaturationAtHighSensitivity(t *testing.T) {
	chip := New(Config{Ambient: [3]float64{0.9, 0, 0}})
	dev := hmc58x3.New(chip, hmc58x3.Config{Sleep: noSleep})
	if err := dev.Init(false); err != nil {
		t.Fatalf("Init: %v", err)
	}

	err := dev.CalibrateSelfTest(0, 4)
	if !errors.Is(err, hmc58x3.ErrSaturated) {
		t.Fatalf("CalibrateSelfTest(0, 4) = %v, want ErrSaturated", err)
	}
	sx, sy, sz := dev.ScaleFactors()
	if sx != 1 || sy != 1 || sz != 1 {
		t.Fatalf("scales after failed run = %v %v %v, want 1 1 1", sx, sy, sz)
	}
	confA, _, _ := chip.Registers()
	if confA != 0x10 {
		t.Fatalf("CONFA after failed run = %#02x, want 0x10", confA)
	}

	// Same chip, lower sensitivity: the strap fits the digitizer again.
	if err := dev.CalibrateSelfTest(2, 4); err != nil {
		t.Fatalf("CalibrateSelfTest(2, 4) = %v, want success", err)
	}
}

func TestSim_WrongIdentity(t *testing.T) {
	chip := New(Config{ID: [3]byte{'X', 'X', 'X'}})
	dev := hmc58x3.New(chip, hmc58x3.Config{Sleep: noSleep})

	if err := dev.CalibrateSelfTest(1, 4); !errors.Is(err, hmc58x3.ErrWrongID) {
		t.Fatalf("CalibrateSelfTest = %v, want ErrWrongID", err)
	}
}

func TestSim_StatusSettleAndSingleShotFreshness(t *testing.T) {
	chip := New(Config{SettleStatusReads: 2})
	dev := hmc58x3.New(chip, hmc58x3.Config{Sleep: noSleep})
	if err := dev.Init(false); err != nil {
		t.Fatalf("Init: %v", err)
	}

	if _, err := dev.StartSingle(); err != nil {
		t.Fatalf("StartSingle: %v", err)
	}
	for i := 0; i < 2; i++ {
		st, err := dev.Status()
		if err != nil {
			t.Fatalf("Status: %v", err)
		}
		if st&hmc58x3.StatusReady != 0 {
			t.Fatalf("poll %d: ready too early", i)
		}
	}
	st, err := dev.Status()
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if st&hmc58x3.StatusReady == 0 {
		t.Fatal("not ready after settle polls")
	}

	// Reading the data block consumes the single-shot conversion.
	if _, err := dev.ReadRaw(); err != nil {
		t.Fatalf("ReadRaw: %v", err)
	}
	st, err = dev.Status()
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if st&hmc58x3.StatusReady != 0 {
		t.Fatal("still ready after the conversion was read")
	}
}

func TestSim_RejectsOtherAddresses(t *testing.T) {
	chip := New(Config{})
	if err := chip.Tx(0x42, []byte{0x00}, make([]byte, 1)); err == nil {
		t.Fatal("expected error for foreign address")
	}
}
