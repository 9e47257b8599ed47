package hal

import (
	"context"
	"errors"
	"testing"

	"magnode-go/errcode"
)

// fakePin records the configuration and level it was last driven to.
type fakePin struct {
	num   int
	mode  string
	pull  Pull
	level bool
}

func (p *fakePin) ConfigureInput(pull Pull) error {
	p.mode, p.pull = "input", pull
	return nil
}

func (p *fakePin) ConfigureOutput(initial bool) error {
	p.mode, p.level = "output", initial
	return nil
}

func (p *fakePin) Set(level bool) { p.level = level }
func (p *fakePin) Get() bool      { return p.level }
func (p *fakePin) Toggle()        { p.level = !p.level }
func (p *fakePin) Number() int    { return p.num }

func mustControl(t *testing.T, ad Adaptor, method string, payload any) any {
	t.Helper()
	res, err := ad.Control("gpio", method, payload)
	if err != nil {
		t.Fatalf("%s: %v", method, err)
	}
	return res
}

func TestGPIOAdaptor_InfoDocument(t *testing.T) {
	fp := &fakePin{num: 7}
	ad := NewGPIOAdaptor("led1", fp, GPIOParams{Mode: "output", Pull: "down", Invert: true})

	caps := ad.Capabilities()
	if len(caps) != 1 || caps[0].Kind != "gpio" {
		t.Fatalf("capabilities = %+v", caps)
	}
	info := caps[0].Info
	for k, want := range map[string]any{"pin": 7, "mode": "output", "invert": true, "pull": "down"} {
		if info[k] != want {
			t.Errorf("info[%q] = %v, want %v", k, info[k], want)
		}
	}
}

func TestGPIOAdaptor_ReconfigureToInput(t *testing.T) {
	fp := &fakePin{}
	ad := NewGPIOAdaptor("g2", fp, GPIOParams{})

	res := mustControl(t, ad, "configure_input", map[string]any{"pull": "down"})
	if fp.mode != "input" || fp.pull != PullDown {
		t.Fatalf("pin is %s/%v, want input pulled down", fp.mode, fp.pull)
	}
	m := res.(map[string]any)
	if m["mode"] != "input" || m["pull"] != "down" {
		t.Fatalf("reply = %v", m)
	}
}

// With invert set, everything at the capability boundary stays logical
// while the pin itself sees the opposite level.
func TestGPIOAdaptor_InvertedOutput(t *testing.T) {
	fp := &fakePin{}
	ad := NewGPIOAdaptor("g3", fp, GPIOParams{Invert: true})

	mustControl(t, ad, "configure_output", map[string]any{"initial": 1})
	if fp.mode != "output" || fp.level {
		t.Fatalf("logical-high initial should drive the pin low, got mode=%s level=%v", fp.mode, fp.level)
	}

	mustControl(t, ad, "set", map[string]any{"level": 1})
	if fp.level {
		t.Fatalf("set logical-high left the pin at %v", fp.level)
	}

	res := mustControl(t, ad, "get", nil)
	if lvl, _ := res.(map[string]any)["level"].(int); lvl != 1 {
		t.Fatalf("get = %v, want logical 1", lvl)
	}

	mustControl(t, ad, "toggle", nil)
	if !fp.level {
		t.Fatal("toggle did not flip the pin")
	}
}

func TestGPIOAdaptor_RejectsUnknownMethods(t *testing.T) {
	ad := NewGPIOAdaptor("g4", &fakePin{}, GPIOParams{})

	if _, err := ad.Control("gpio", "no_such_method", nil); err == nil {
		t.Fatal("unknown method accepted")
	}
	if _, err := ad.Trigger(context.Background()); err == nil {
		t.Fatal("pins must not be triggerable")
	}
	if _, err := ad.Collect(context.Background()); err == nil {
		t.Fatal("pins must not be collectable")
	}
}

// ---- builder ----

func TestGPIOBuilder_Input_WithIRQRequest(t *testing.T) {
	drdy := &fakeIRQPin{fakePin: fakePin{num: 4}}
	facts := rig{pin: map[int]GPIOPin{4: drdy}}

	b, ok := lookupBuilder("gpio")
	if !ok {
		t.Fatal("gpio builder not registered")
	}
	out, err := b.Build(BuildInput{
		Buses: facts, Pins: facts, DeviceID: "drdy", Type: "gpio",
		Params: map[string]any{
			"pin": 4, "mode": "input", "pull": "down",
			"irq": map[string]any{"edge": "rising", "debounce_ms": 2},
		},
	})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if drdy.mode != "input" || drdy.pull != PullDown {
		t.Fatalf("pin not configured: mode=%s pull=%v", drdy.mode, drdy.pull)
	}
	if out.SampleEvery != 0 {
		t.Fatalf("gpio device should not be scheduled, got %v", out.SampleEvery)
	}
	if out.IRQ == nil || out.IRQ.DevID != "drdy" || out.IRQ.Edge != EdgeRising || out.IRQ.DebounceMS != 2 {
		t.Fatalf("irq request = %+v", out.IRQ)
	}
}

func TestGPIOBuilder_Output_NoIRQ(t *testing.T) {
	led := &fakePin{num: 2}
	facts := rig{pin: map[int]GPIOPin{2: led}}

	b, _ := lookupBuilder("gpio")
	out, err := b.Build(BuildInput{
		Buses: facts, Pins: facts, DeviceID: "led0", Type: "gpio",
		Params: map[string]any{"pin": 2, "mode": "output", "initial": true},
	})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if led.mode != "output" || led.level != true {
		t.Fatalf("pin not driven: mode=%s level=%v", led.mode, led.level)
	}
	if out.IRQ != nil {
		t.Fatalf("outputs never request IRQs, got %+v", out.IRQ)
	}
}

func TestGPIOBuilder_UnknownPin(t *testing.T) {
	facts := rig{}
	b, _ := lookupBuilder("gpio")
	_, err := b.Build(BuildInput{
		Buses: facts, Pins: facts, DeviceID: "x", Type: "gpio",
		Params: map[string]any{"pin": 9, "mode": "input"},
	})
	if !errors.Is(err, errcode.UnknownPin) {
		t.Fatalf("err = %v, want unknown_pin", err)
	}
}
