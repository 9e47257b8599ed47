// services/hal/adaptor_hmc58x3.go
package hal

import (
	"context"
	"sync"
	"time"

	"magnode-go/drivers/hmc58x3"
	"magnode-go/errcode"
	"magnode-go/types"
	"magnode-go/x/timex"
)

func init() {
	RegisterBuilder("hmc5883l", magBuilder{variant: hmc58x3.HMC5883L})
	RegisterBuilder("hmc5843", magBuilder{variant: hmc58x3.HMC5843})
}

const (
	defaultMagEveryMs      = 1000
	defaultSelfTestSamples = 32
)

// MagParams is the config params blob for the magnetometer device types.
type MagParams struct {
	Addr uint16 `json:"addr,omitempty"` // bus address override, 0 = datasheet default
	Gain *uint8 `json:"gain,omitempty"` // initial gain code 0..7
	Rate *uint8 `json:"rate,omitempty"` // output rate code 0..6
}

type magBuilder struct {
	variant hmc58x3.Variant
}

func (b magBuilder) Build(in BuildInput) (BuildOutput, error) {
	i2c, ok := in.Buses.ByID(in.BusID)
	if !ok {
		return BuildOutput{}, errcode.UnknownBus
	}
	var p MagParams
	if err := decodeJSON(in.Params, &p); err != nil {
		return BuildOutput{}, errcode.InvalidParams
	}
	if p.Gain != nil && *p.Gain > 7 {
		return BuildOutput{}, errcode.InvalidParams
	}
	if p.Rate != nil && *p.Rate > 6 {
		return BuildOutput{}, errcode.InvalidParams
	}

	dev := hmc58x3.New(i2c, hmc58x3.Config{Address: p.Addr, Variant: b.variant})
	if err := dev.Init(false); err != nil {
		return BuildOutput{}, err
	}
	gain := uint8(5) // power-on CONFB image
	if p.Gain != nil {
		gain = *p.Gain
		if err := dev.SetGain(gain); err != nil {
			return BuildOutput{}, err
		}
	}
	if p.Rate != nil {
		if err := dev.SetDataOutputRate(*p.Rate); err != nil {
			return BuildOutput{}, err
		}
	}

	addr := p.Addr
	if addr == 0 {
		addr = hmc58x3.Address
	}
	a := &magAdaptor{id: in.DeviceID, busID: in.BusID, addr: addr, dev: dev, gain: gain}

	every := in.EveryMs
	if every <= 0 {
		every = defaultMagEveryMs
	}
	return BuildOutput{
		Adaptor:     a,
		BusID:       in.BusID,
		SampleEvery: time.Duration(every) * time.Millisecond,
	}, nil
}

// magAdaptor exposes an HMC58X3 compass as a "magnetic_field" capability.
// The mutex serialises scheduled polls against calibration controls, which
// reprogram the chip for a couple of seconds.
type magAdaptor struct {
	mu    sync.Mutex
	id    string
	busID string
	addr  uint16
	dev   *hmc58x3.Device
	gain  uint8
}

func (a *magAdaptor) ID() string { return a.id }

func (a *magAdaptor) Capabilities() []CapInfo {
	info := map[string]any{
		"sensor":         a.dev.Variant().String(),
		"driver":         "hmc58x3",
		"bus":            a.busID,
		"addr":           int(a.addr),
		"gain":           int(a.gain),
		"schema_version": 1,
	}
	return []CapInfo{{Kind: types.KindMagneticField, Info: info}}
}

// Trigger starts one single-shot conversion; the hint is the settle time
// before the data block is worth collecting.
func (a *magAdaptor) Trigger(ctx context.Context) (time.Duration, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.dev.StartSingle()
}

func (a *magAdaptor) Collect(ctx context.Context) (Sample, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	st, err := a.dev.Status()
	if err != nil {
		return nil, err
	}
	if st&hmc58x3.StatusReady == 0 {
		return nil, ErrNotReady
	}
	raw, err := a.dev.ReadRaw()
	if err != nil {
		return nil, err
	}
	sx, sy, sz := a.dev.ScaleFactors()
	pl := map[string]any{
		"x":     raw.X,
		"y":     raw.Y,
		"z":     raw.Z,
		"cal_x": float32(raw.X) / sx,
		"cal_y": float32(raw.Y) / sy,
		"cal_z": float32(raw.Z) / sz,
	}
	return Sample{{Kind: types.KindMagneticField, Payload: pl, TsMs: timex.NowMs()}}, nil
}

func (a *magAdaptor) Control(kind, method string, payload any) (any, error) {
	if kind != types.KindMagneticField {
		return nil, ErrUnsupported
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	switch method {
	case "calibrate_selftest":
		var req types.MagCalibrateSelfTest
		if err := decodeJSON(payload, &req); err != nil {
			return nil, errcode.InvalidParams
		}
		if req.Samples <= 0 {
			req.Samples = defaultSelfTestSamples
		}
		err := a.dev.CalibrateSelfTest(req.Gain, req.Samples)
		if err == nil {
			a.gain = req.Gain
		}
		return a.calResult("self_test", err), err
	case "calibrate_simple":
		var req types.MagCalibrateSimple
		if err := decodeJSON(payload, &req); err != nil {
			return nil, errcode.InvalidParams
		}
		err := a.dev.CalibrateSimple(req.Gain)
		if err == nil {
			a.gain = req.Gain
		}
		return a.calResult("simple", err), err
	case "set_gain":
		var req types.MagSetGain
		if err := decodeJSON(payload, &req); err != nil {
			return nil, errcode.InvalidParams
		}
		if req.Gain > 7 {
			return nil, errcode.InvalidParams
		}
		if err := a.dev.SetGain(req.Gain); err != nil {
			return nil, err
		}
		a.gain = req.Gain
		return map[string]any{"gain": int(req.Gain)}, nil
	case "set_output_rate":
		n, ok := asInt(mapFromAny(payload)["rate"])
		if !ok || n < 0 || n > 6 {
			return nil, errcode.InvalidParams
		}
		if err := a.dev.SetDataOutputRate(uint8(n)); err != nil {
			return nil, err
		}
		return map[string]any{"rate": n}, nil
	case "read_id":
		id := a.dev.ID()
		return map[string]any{"id": string(id[:])}, nil
	case "scale":
		x, y, z := a.dev.ScaleFactors()
		return types.ScaleFactors{X: x, Y: y, Z: z}, nil
	case "maxima":
		x, y, z := a.dev.Maxima()
		return map[string]any{"x": x, "y": y, "z": z}, nil
	default:
		return nil, ErrUnsupported
	}
}

// calResult snapshots a calibration outcome. On failure the driver leaves
// previous scale factors in place, so only successful runs attach them.
func (a *magAdaptor) calResult(method string, err error) types.CalibrationResult {
	res := types.CalibrationResult{
		Method: method,
		OK:     err == nil,
		Code:   string(errcode.MapDriverErr(err)),
	}
	if err == nil {
		x, y, z := a.dev.ScaleFactors()
		res.Scale = &types.ScaleFactors{X: x, Y: y, Z: z}
	}
	return res
}
