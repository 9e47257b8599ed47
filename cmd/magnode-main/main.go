// Firmware entry point for the Pico compass node: HAL with the HMC5883L
// adaptor, NMEA telemetry on UART0, bus bridge on UART1, heartbeat, and the
// embedded "magnode" config. Build with:
//
//	tinygo build -target=pico -o magnode.uf2 ./cmd/magnode-main
package main

import (
	"context"
	"runtime"
	"time"

	"magnode-go/bus"
	"magnode-go/platform"
	"magnode-go/services/bridge"
	"magnode-go/services/config"
	"magnode-go/services/hal"
	"magnode-go/services/heartbeat"
	"magnode-go/services/telemetry"
	"magnode-go/types"
)

func main() {
	time.Sleep(3 * time.Second) // let the USB console attach
	ctx := context.WithValue(context.Background(), config.CtxDeviceKey, "magnode")

	b := bus.NewBus(4)
	ui := b.NewConnection("ui")
	watchHAL(ui)
	startServices(ctx, b)
	time.Sleep(250 * time.Millisecond)

	// Kick one conversion so there is a value on the bus before calibration.
	println("[boot] read_now magnetic_field/0")
	readNow := ctl(types.KindMagneticField, 0, "read_now")
	if reply, err := ui.RequestWait(ctx, ui.NewMessage(readNow, nil, false)); err != nil {
		println("[boot] read_now:", err.Error())
	} else {
		logTopic("[boot] reply on", reply.Topic)
	}

	// Self-test calibration against the on-die bias straps. Holds the chip
	// for a couple of seconds; readings resume with the new scales after.
	println("[boot] self-test calibration")
	reply, err := ui.RequestWait(ctx, ui.NewMessage(
		ctl(types.KindMagneticField, 0, "calibrate_selftest"),
		map[string]any{"gain": 1, "samples": 32}, false))
	if err != nil {
		println("[boot] calibrate:", err.Error())
	} else {
		reportCalibration(reply)
	}

	blink(ctx, ui)
}

// watchHAL mirrors every hal topic to the console for bring-up.
func watchHAL(conn *bus.Connection) {
	mon := conn.Subscribe(bus.T("hal", "#"))
	go func() {
		for m := range mon.Channel() {
			logTopic("[bus]", m.Topic)
		}
	}()
}

func startServices(ctx context.Context, b *bus.Bus) {
	platform.WireBridgeUART()
	go hal.Run(ctx, b.NewConnection("hal"), platform.DefaultI2CFactory(), platform.DefaultPinFactory())
	_ = telemetry.NewService(platform.TelemetryPort()).Start(ctx, b.NewConnection("telemetry"))
	_ = (&heartbeat.Service{}).Start(ctx, b.NewConnection("heartbeat"))
	go bridge.Start(ctx, b.NewConnection("bridge"))

	// Last, so every service is already listening when its section lands.
	config.NewConfigService().Start(ctx, b.NewConnection("config"))
}

// blink drives the LED through the HAL's own control path so the gpio
// capability gets exercised end to end, and reports memory as it goes.
func blink(ctx context.Context, conn *bus.Connection) {
	toggle := ctl(types.KindGPIO, 1, "toggle") // led0 is the second gpio in the magnode config
	for {
		if _, err := conn.RequestWait(ctx, conn.NewMessage(toggle, nil, false)); err != nil {
			println("[blink]", err.Error())
		}
		reportMem()
		time.Sleep(500 * time.Millisecond)
	}
}

func ctl(kind string, id int, method string) bus.Topic {
	return bus.T("hal", "capability", kind, id, "control", method)
}

func reportCalibration(reply *bus.Message) {
	m, ok := reply.Payload.(map[string]any)
	if !ok {
		println("[cal] unexpected reply payload")
		return
	}
	if e, ok := m["error"].(string); ok {
		println("[cal] failed:", e)
		return
	}
	cal, ok := m["result"].(types.CalibrationResult)
	if !ok {
		println("[cal] no result in reply")
		return
	}
	if !cal.OK || cal.Scale == nil {
		println("[cal] failed:", cal.Code)
		return
	}
	println("[cal] scale x:", cal.Scale.X, "y:", cal.Scale.Y, "z:", cal.Scale.Z)
}

// logTopic prints a topic in slash form; builtin print keeps this off the
// fmt path, which TinyGo pays for in flash.
func logTopic(prefix string, t bus.Topic) {
	print(prefix, " ")
	for i := 0; i < t.Len(); i++ {
		if i > 0 {
			print("/")
		}
		printToken(t.At(i))
	}
	println()
}

func printToken(v any) {
	switch v := v.(type) {
	case string:
		print(v)
	case int:
		print(v)
	case int32:
		print(v)
	case int64:
		print(v)
	default:
		print("?")
	}
}

func reportMem() {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	println("[mem] alloc:", uint32(ms.Alloc), "inuse:", uint32(ms.HeapInuse), "sys:", uint32(ms.HeapSys))
}
