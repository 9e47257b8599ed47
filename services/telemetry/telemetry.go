// Package telemetry turns magnetometer capability values into NMEA-0183
// sentences on a serial port: one XDR block with the three calibrated field
// components in gauss, then an HDM magnetic heading derived from X/Y
// (flat mounting, X forward, Y right). Formatting is fixed-point with no
// allocation so the loop is safe on firmware builds.
package telemetry

import (
	"context"
	"io"
	"math"
	"time"

	"magnode-go/bus"
	"magnode-go/types"
	"magnode-go/x/conv"
	"magnode-go/x/timex"
)

const defaultTalker = "HC" // magnetic compass talker ID

type Service struct {
	port io.Writer

	talker  string
	minGap  time.Duration
	lastOut time.Time

	buf []byte   // sentence under assembly, reused
	num [24]byte // numeric scratch
}

func NewService(port io.Writer) *Service {
	return &Service{
		port:   port,
		talker: defaultTalker,
		buf:    make([]byte, 0, 96),
	}
}

// Start launches the sentence loop in a goroutine.
func (s *Service) Start(ctx context.Context, conn *bus.Connection) error {
	go s.run(ctx, conn)
	return nil
}

func (s *Service) run(ctx context.Context, conn *bus.Connection) {
	cfgSub := conn.Subscribe(bus.T("config", "telemetry"))
	defer conn.Unsubscribe(cfgSub)
	valSub := conn.Subscribe(bus.T("hal", "capability", types.KindMagneticField, "+", "value"))
	defer conn.Unsubscribe(valSub)

	s.publishState(conn, "idle", "awaiting_values", nil)
	up := false

	for {
		select {
		case <-ctx.Done():
			s.publishState(conn, "stopped", "context_cancelled", nil)
			return

		case msg := <-cfgSub.Channel():
			s.applyConfig(msg.Payload)

		case msg := <-valSub.Channel():
			x, y, z, ok := calTriplet(msg.Payload)
			if !ok {
				continue
			}
			now := time.Now()
			if s.minGap > 0 && now.Sub(s.lastOut) < s.minGap {
				continue
			}
			if err := s.emit(x, y, z); err != nil {
				s.publishState(conn, "error", "port_write_failed", err)
				up = false
				continue
			}
			s.lastOut = now
			if !up {
				s.publishState(conn, "up", "emitting", nil)
				up = true
			}
		}
	}
}

func (s *Service) applyConfig(p any) {
	m, ok := p.(map[string]any)
	if !ok {
		return
	}
	if v, ok := asFloat(m["min_period_ms"]); ok && v >= 0 {
		s.minGap = time.Duration(v) * time.Millisecond
	}
	if t, ok := m["talker"].(string); ok && t != "" {
		s.talker = t
	}
}

// emit writes the XDR field block and the HDM heading for one sample.
func (s *Service) emit(x, y, z float64) error {
	if math.IsNaN(x) || math.IsNaN(y) || math.IsNaN(z) {
		return nil
	}

	s.begin("XDR")
	s.strField("X")
	s.fixedField(milli(x), 3)
	s.strField("G")
	s.strField("MAGX")
	s.strField("X")
	s.fixedField(milli(y), 3)
	s.strField("G")
	s.strField("MAGY")
	s.strField("X")
	s.fixedField(milli(z), 3)
	s.strField("G")
	s.strField("MAGZ")
	if _, err := s.port.Write(s.finish()); err != nil {
		return err
	}

	s.begin("HDM")
	s.fixedField(headingTenths(x, y), 1)
	s.strField("M")
	_, err := s.port.Write(s.finish())
	return err
}

// -----------------------------------------------------------------------------
// Sentence assembly
// -----------------------------------------------------------------------------

func (s *Service) begin(formatter string) {
	s.buf = append(s.buf[:0], '$')
	s.buf = append(s.buf, s.talker...)
	s.buf = append(s.buf, formatter...)
}

func (s *Service) strField(f string) {
	s.buf = append(s.buf, ',')
	s.buf = append(s.buf, f...)
}

func (s *Service) fixedField(v int64, decimals int) {
	s.buf = append(s.buf, ',')
	s.buf = append(s.buf, conv.Fixed(s.num[:], v, decimals)...)
}

// finish appends the checksum (XOR of everything between $ and *) and CRLF.
func (s *Service) finish() []byte {
	var cs byte
	for _, c := range s.buf[1:] {
		cs ^= c
	}
	s.buf = append(s.buf, '*')
	s.buf = append(s.buf, conv.ByteHex(s.num[:], cs)...)
	s.buf = append(s.buf, '\r', '\n')
	return s.buf
}

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

func (s *Service) publishState(conn *bus.Connection, level, status string, err error) {
	payload := map[string]any{"level": level, "status": status, "ts_ms": timex.NowMs()}
	if err != nil {
		payload["error"] = err.Error()
	}
	conn.Publish(conn.NewMessage(bus.T("telemetry", "state"), payload, true))
}

// calTriplet pulls the calibrated components out of a value payload.
func calTriplet(p any) (x, y, z float64, ok bool) {
	m, isMap := p.(map[string]any)
	if !isMap {
		return 0, 0, 0, false
	}
	x, okX := asFloat(m["cal_x"])
	y, okY := asFloat(m["cal_y"])
	z, okZ := asFloat(m["cal_z"])
	return x, y, z, okX && okY && okZ
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

// milli rounds a gauss value to thousandths for 3-decimal output.
func milli(f float64) int64 {
	if f >= 0 {
		return int64(f*1000 + 0.5)
	}
	return int64(f*1000 - 0.5)
}

// headingTenths converts the horizontal components to a 0..3599 compass
// heading in tenths of a degree.
func headingTenths(x, y float64) int64 {
	h := math.Atan2(y, x) * 180 / math.Pi
	if h < 0 {
		h += 360
	}
	t := int64(h*10 + 0.5)
	if t >= 3600 {
		t -= 3600
	}
	return t
}
