package main

import (
	"time"

	"magnode-go/drivers/hmc58x3"
	"magnode-go/internal/magsim"
)

// Bring-up scratch: runs the compass driver against the register-level
// simulator and prints one calibrated conversion per second. The real
// firmware lives in cmd/magnode-main.
func main() {
	time.Sleep(2 * time.Second) // USB CDC enumeration
	println("magnode scratch: simulated compass")

	chip := magsim.New(magsim.Config{
		Variant:  hmc58x3.HMC5883L,
		Ambient:  [3]float64{0.2, -0.1, 0.4},
		StrapEff: [3]float64{1.03, 0.95, 1.02},
	})
	dev := hmc58x3.New(chip, hmc58x3.Config{Variant: hmc58x3.HMC5883L})
	if err := dev.Init(true); err != nil {
		println("init:", err.Error())
		return
	}
	if err := dev.CalibrateSelfTest(1, 8); err != nil {
		println("calibrate:", err.Error())
	} else {
		x, y, z := dev.ScaleFactors()
		println("scales:", x, y, z)
	}

	tick := time.NewTicker(1 * time.Second)
	defer tick.Stop()

	for range tick.C {
		f, err := dev.ReadCalibrated()
		if err != nil {
			println("read:", err.Error())
			continue
		}
		println("field:", f.X, f.Y, f.Z)
	}
}
