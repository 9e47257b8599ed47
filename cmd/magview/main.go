// cmd/magview/main.go
//
// Live magnetometer viewer: samples the chip (or a simulated one with -sim),
// runs self-test calibration at startup, and streams field and heading over
// a websocket to a small built-in page.
//
//	magview -sim
//	magview -bus /dev/i2c-1
package main

import (
	"encoding/json"
	"flag"
	"html/template"
	"math"
	"net/http"
	"os"
	"time"

	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"
	"tinygo.org/x/drivers"

	"magnode-go/drivers/hmc58x3"
	"magnode-go/internal/magsim"
	"magnode-go/x/logx"
)

// viewData is one websocket frame to the page.
type viewData struct {
	T       float64 `json:"t"` // unix seconds
	X       float32 `json:"x"` // calibrated, gauss
	Y       float32 `json:"y"`
	Z       float32 `json:"z"`
	RawX    int16   `json:"raw_x"` // device counts
	RawY    int16   `json:"raw_y"`
	RawZ    int16   `json:"raw_z"`
	Heading float64 `json:"heading"` // degrees, 0..360
}

func main() {
	logx.Initialize()

	addr := flag.String("addr", ":8080", "The addr of the application.")
	sim := flag.Bool("sim", false, "serve a simulated, slowly rotating field")
	busName := flag.String("bus", "", "I²C bus (ignored with -sim)")
	variantName := flag.String("variant", "hmc5883l", "chip variant: hmc5883l or hmc5843")
	flag.Parse()

	var variant hmc58x3.Variant
	switch *variantName {
	case "hmc5883l":
		variant = hmc58x3.HMC5883L
	case "hmc5843":
		variant = hmc58x3.HMC5843
	default:
		logx.Log.Criticalf("unknown variant %q", *variantName)
		os.Exit(1)
	}

	var chip *magsim.Chip
	var bus drivers.I2C
	if *sim {
		chip = magsim.New(magsim.Config{
			Variant:  variant,
			Ambient:  [3]float64{0.25, 0, 0.42},
			StrapEff: [3]float64{1.02, 0.97, 1.01},
		})
		bus = chip
	} else {
		if _, err := host.Init(); err != nil {
			logx.Log.Criticalf("periph host init: %v", err)
			os.Exit(1)
		}
		pb, err := i2creg.Open(*busName)
		if err != nil {
			logx.Log.Criticalf("open i2c bus: %v", err)
			os.Exit(1)
		}
		defer pb.Close()
		bus = pb
	}

	dev := hmc58x3.New(bus, hmc58x3.Config{Variant: variant})
	if err := dev.Init(true); err != nil {
		logx.Log.Criticalf("chip init: %v", err)
		os.Exit(1)
	}
	const gain = 1
	if err := dev.CalibrateSelfTest(gain, 16); err != nil {
		logx.Log.Warningf("self-test calibration: %v (continuing uncalibrated)", err)
	} else {
		sx, sy, sz := dev.ScaleFactors()
		logx.Log.Infof("scale factors x=%.4f y=%.4f z=%.4f", sx, sy, sz)
	}
	cpg := float32(variant.CountsPerGauss(gain))

	r := newRoom()
	go r.run()
	go sample(r, dev, chip, cpg)

	http.HandleFunc("/", serveIndex)
	http.Handle("/websocket", r)
	logx.Log.Noticef("magview listening on %s", *addr)
	if err := http.ListenAndServe(*addr, nil); err != nil {
		logx.Log.Criticalf("ListenAndServe: %v", err)
		os.Exit(1)
	}
}

// sample reads the chip ten times a second and forwards frames to the room.
// With a simulated chip it also swings the ambient field two degrees per tick
// so the page shows a moving needle.
func sample(r *room, dev *hmc58x3.Device, chip *magsim.Chip, cpg float32) {
	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()

	angle := 0.0
	for range tick.C {
		if chip != nil {
			angle += 2 * math.Pi / 180
			chip.SetAmbient(0.25*math.Cos(angle), 0.25*math.Sin(angle), 0.42)
		}
		raw, err := dev.ReadRaw()
		if err != nil {
			logx.Log.Errorf("read: %v", err)
			continue
		}
		sx, sy, sz := dev.ScaleFactors()
		gx := float32(raw.X) / sx / cpg
		gy := float32(raw.Y) / sy / cpg
		gz := float32(raw.Z) / sz / cpg

		heading := math.Atan2(float64(gy), float64(gx)) * 180 / math.Pi
		if heading < 0 {
			heading += 360
		}

		msg, err := json.Marshal(viewData{
			T: float64(time.Now().UnixNano()) / 1e9,
			X: gx, Y: gy, Z: gz,
			RawX: raw.X, RawY: raw.Y, RawZ: raw.Z,
			Heading: heading,
		})
		if err != nil {
			continue
		}
		r.forward <- msg
	}
}

var indexTemplate = template.Must(template.New("index").Parse(indexHTML))

func serveIndex(w http.ResponseWriter, req *http.Request) {
	if req.URL.Path != "/" {
		http.NotFound(w, req)
		return
	}
	_ = indexTemplate.Execute(w, nil)
}

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>magview</title>
<style>
  body { font-family: monospace; background: #111; color: #ddd; margin: 2em; }
  table { border-collapse: collapse; margin-bottom: 1em; }
  td { padding: 0.2em 0.8em; border: 1px solid #333; }
  canvas { background: #181818; border: 1px solid #333; }
</style>
</head>
<body>
<h2>magview</h2>
<table>
  <tr><td>X</td><td id="x">-</td><td>gauss</td><td>raw</td><td id="rx">-</td></tr>
  <tr><td>Y</td><td id="y">-</td><td>gauss</td><td>raw</td><td id="ry">-</td></tr>
  <tr><td>Z</td><td id="z">-</td><td>gauss</td><td>raw</td><td id="rz">-</td></tr>
  <tr><td>heading</td><td id="hdg">-</td><td>&deg;</td><td></td><td></td></tr>
</table>
<canvas id="compass" width="220" height="220"></canvas>
<script>
var ctx = document.getElementById("compass").getContext("2d");
function draw(hdg) {
  ctx.clearRect(0, 0, 220, 220);
  ctx.strokeStyle = "#555";
  ctx.beginPath(); ctx.arc(110, 110, 100, 0, 2*Math.PI); ctx.stroke();
  var a = (hdg - 90) * Math.PI / 180;
  ctx.strokeStyle = "#e33";
  ctx.beginPath(); ctx.moveTo(110, 110);
  ctx.lineTo(110 + 90*Math.cos(a), 110 + 90*Math.sin(a)); ctx.stroke();
}
var ws = new WebSocket("ws://" + location.host + "/websocket");
ws.onmessage = function (ev) {
  var d = JSON.parse(ev.data);
  document.getElementById("x").textContent = d.x.toFixed(3);
  document.getElementById("y").textContent = d.y.toFixed(3);
  document.getElementById("z").textContent = d.z.toFixed(3);
  document.getElementById("rx").textContent = d.raw_x;
  document.getElementById("ry").textContent = d.raw_y;
  document.getElementById("rz").textContent = d.raw_z;
  document.getElementById("hdg").textContent = d.heading.toFixed(1);
  draw(d.heading);
};
</script>
</body>
</html>
`
