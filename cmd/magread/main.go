// cmd/magread/main.go
//
// Reads an HMC5843/HMC5883L attached to a Linux I²C bus (e.g. a Pi) and logs
// calibrated field components and magnetic heading. Self-test calibration
// runs once at startup unless disabled in the config file.
//
//	magread -config magread.json
package main

import (
	"flag"
	"math"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/viper"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"

	"magnode-go/drivers/hmc58x3"
	"magnode-go/x/logx"
)

func main() {
	logx.Initialize()

	var needHelp bool
	var configFile string

	flag.BoolVar(&needHelp, "help", false, "Display this dialog")
	flag.StringVar(&configFile, "config", "", "JSON configuration file")
	flag.Parse()

	if needHelp {
		flag.Usage()
		os.Exit(1)
	}

	// default configuration
	viper.SetDefault("log-level", "info")
	viper.SetDefault("bus", "") // first available I²C bus
	viper.SetDefault("variant", "hmc5883l")
	viper.SetDefault("addr", 0) // 0 = datasheet default 0x1E
	viper.SetDefault("gain", 1)
	viper.SetDefault("rate", 4)
	viper.SetDefault("calibrate", true)
	viper.SetDefault("samples", 32)
	viper.SetDefault("interval", "1s")

	if configFile != "" {
		viper.SetConfigFile(configFile)
		if parseErr := viper.ReadInConfig(); parseErr != nil {
			logx.Log.Criticalf("%v", parseErr)
			os.Exit(1)
		}
		logx.Log.Notice("Config file loaded")
	}
	logx.SetLevel(viper.GetString("log-level"))

	var variant hmc58x3.Variant
	switch viper.GetString("variant") {
	case "hmc5883l":
		variant = hmc58x3.HMC5883L
	case "hmc5843":
		variant = hmc58x3.HMC5843
	default:
		logx.Log.Criticalf("unknown variant %q", viper.GetString("variant"))
		os.Exit(1)
	}

	if _, err := host.Init(); err != nil {
		logx.Log.Criticalf("periph host init: %v", err)
		os.Exit(1)
	}
	bus, err := i2creg.Open(viper.GetString("bus"))
	if err != nil {
		logx.Log.Criticalf("open i2c bus: %v", err)
		os.Exit(1)
	}
	defer bus.Close()

	// periph buses satisfy the driver's minimal Tx interface directly.
	dev := hmc58x3.New(bus, hmc58x3.Config{
		Variant: variant,
		Address: uint16(viper.GetUint("addr")),
	})
	if err := dev.Init(true); err != nil {
		logx.Log.Criticalf("chip init: %v", err)
		os.Exit(1)
	}
	id := dev.ID()
	logx.Log.Infof("found %s, id %q", variant, string(id[:]))

	gain := uint8(viper.GetUint("gain"))
	if viper.GetBool("calibrate") {
		logx.Log.Info("running self-test calibration")
		if err := dev.CalibrateSelfTest(gain, viper.GetInt("samples")); err != nil {
			logx.Log.Criticalf("calibration: %v", err)
			os.Exit(1)
		}
		sx, sy, sz := dev.ScaleFactors()
		logx.Log.Infof("scale factors x=%.4f y=%.4f z=%.4f", sx, sy, sz)
	} else if err := dev.SetGain(gain); err != nil {
		logx.Log.Criticalf("set gain: %v", err)
		os.Exit(1)
	}
	if err := dev.SetDataOutputRate(uint8(viper.GetUint("rate"))); err != nil {
		logx.Log.Warningf("set output rate: %v", err)
	}

	cpg := float32(variant.CountsPerGauss(gain))

	// Catch interrupts from os so we can close everything nicely
	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)

	ticker := time.NewTicker(viper.GetDuration("interval"))
	defer ticker.Stop()

	logx.Log.Notice("reading; ctrl-c to exit")
	for {
		select {
		case <-ticker.C:
			f, err := dev.ReadCalibrated()
			if err != nil {
				logx.Log.Errorf("read: %v", err)
				continue
			}
			gx, gy, gz := f.X/cpg, f.Y/cpg, f.Z/cpg
			heading := math.Atan2(float64(gy), float64(gx)) * 180 / math.Pi
			if heading < 0 {
				heading += 360
			}
			logx.Log.Infof("field % .3f % .3f % .3f G  heading %5.1f°", gx, gy, gz, heading)
		case <-interrupt:
			logx.Log.Notice("Received interrupt")
			return
		}
	}
}
