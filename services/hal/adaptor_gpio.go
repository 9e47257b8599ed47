// services/hal/adaptor_gpio.go
package hal

import (
	"context"
	"time"

	"magnode-go/errcode"
)

func init() { RegisterBuilder("gpio", gpioBuilder{}) }

type gpioBuilder struct{}

// Build claims the configured pin, drives it to its initial mode, and
// asks for interrupt wiring when an input wants one. The compass DRDY
// strap is such an input; the status LED is a plain output.
func (gpioBuilder) Build(in BuildInput) (BuildOutput, error) {
	var p GPIOParams
	if err := decodeJSON(in.Params, &p); err != nil {
		return BuildOutput{}, errcode.InvalidParams
	}
	pin, ok := in.Pins.ByNumber(p.Pin)
	if !ok {
		return BuildOutput{}, errcode.UnknownPin
	}

	switch p.Mode {
	case "input":
		if err := pin.ConfigureInput(parsePull(p.Pull)); err != nil {
			return BuildOutput{}, err
		}
	default:
		level := p.Initial != nil && *p.Initial
		if p.Invert {
			level = !level
		}
		if err := pin.ConfigureOutput(level); err != nil {
			return BuildOutput{}, err
		}
	}

	out := BuildOutput{Adaptor: NewGPIOAdaptor(in.DeviceID, pin, p)}
	if p.Mode == "input" && p.IRQ != nil {
		if edge := ParseEdge(p.IRQ.Edge); edge != EdgeNone {
			if irqPin, ok := pin.(IRQPin); ok {
				out.IRQ = &IRQRequest{
					DevID:      in.DeviceID,
					Pin:        irqPin,
					Edge:       edge,
					DebounceMS: p.IRQ.DebounceMS,
					Invert:     p.Invert,
				}
			}
		}
	}
	return out, nil
}

// gpioAdaptor exposes one pin as a "gpio" capability. All levels at the
// capability boundary are logical; Invert is applied here, next to the
// pin, and nowhere else.
type gpioAdaptor struct {
	id  string
	pin GPIOPin
	cfg GPIOParams
}

func NewGPIOAdaptor(id string, pin GPIOPin, p GPIOParams) Adaptor {
	return &gpioAdaptor{id: id, pin: pin, cfg: p}
}

func (a *gpioAdaptor) ID() string { return a.id }

func (a *gpioAdaptor) Capabilities() []CapInfo {
	return []CapInfo{{
		Kind: "gpio",
		Info: map[string]any{
			"pin":            a.pin.Number(),
			"mode":           a.mode(),
			"invert":         a.cfg.Invert,
			"pull":           a.cfg.Pull,
			"schema_version": 1,
		},
	}}
}

// mode normalises the configured mode; anything that is not an input is
// driven as an output.
func (a *gpioAdaptor) mode() string {
	if a.cfg.Mode == "input" {
		return "input"
	}
	return "output"
}

// Pins are not polled; watched inputs surface through the pin watcher.
func (a *gpioAdaptor) Trigger(context.Context) (time.Duration, error) { return 0, ErrUnsupported }
func (a *gpioAdaptor) Collect(context.Context) (Sample, error)        { return nil, ErrUnsupported }

func (a *gpioAdaptor) Control(kind, method string, payload any) (any, error) {
	if kind != "gpio" {
		return nil, ErrUnsupported
	}
	switch method {
	case "configure_input":
		return a.toInput(payload)
	case "configure_output":
		return a.toOutput(payload)
	case "set":
		a.pin.Set(a.physical(wantBool(payload, "level")))
		return map[string]any{"ok": true}, nil
	case "get":
		return map[string]any{"level": boolToInt(a.physical(a.pin.Get()))}, nil
	case "toggle":
		a.pin.Toggle()
		return map[string]any{"ok": true}, nil
	}
	return nil, ErrUnsupported
}

// physical maps a logical level to the wire level and back; invert is
// its own inverse.
func (a *gpioAdaptor) physical(level bool) bool {
	if a.cfg.Invert {
		return !level
	}
	return level
}

func (a *gpioAdaptor) toInput(p any) (any, error) {
	pull := parsePull(mapFromAny(p)["pull"])
	if err := a.pin.ConfigureInput(pull); err != nil {
		return nil, err
	}
	a.cfg.Mode = "input"
	a.cfg.Pull = toPullString(pull)
	return map[string]any{"mode": "input", "pull": a.cfg.Pull}, nil
}

func (a *gpioAdaptor) toOutput(p any) (any, error) {
	level := a.physical(wantBool(p, "initial"))
	if err := a.pin.ConfigureOutput(level); err != nil {
		return nil, err
	}
	a.cfg.Mode = "output"
	a.cfg.Initial = &level
	return map[string]any{"mode": "output"}, nil
}
