// services/hal/hal.go
package hal

import (
	"context"
	"time"

	"magnode-go/bus"
	"magnode-go/errcode"
	"magnode-go/types"
	"magnode-go/x/mathx"
)

// Run starts the hardware abstraction service on conn and blocks until ctx
// is cancelled. Devices come and go with config/hal; everything they
// produce goes out as hal/capability/<kind>/<id>/... traffic.
func Run(ctx context.Context, conn *bus.Connection, buses I2CBusFactory, pins PinFactory) {
	m := newManager(conn, buses, pins)
	m.irq.Start(ctx)
	m.run(ctx)
}

// Poll period bounds, ms.
const (
	minPollMS = 200
	maxPollMS = 3_600_000
)

// firstPollDelay gives a fresh device time to settle before its first
// scheduled sample.
const firstPollDelay = 200 * time.Millisecond

// device is one configured entry: its adaptor plus the capability ids it
// was assigned.
type device struct {
	adaptor Adaptor
	caps    map[string]int // kind -> numeric capability id
	bus     string
}

type capRef struct {
	kind string
	id   int
}

// manager is the single goroutine that owns the device table. Workers and
// the pin watcher feed it through channels; nothing here needs a lock.
type manager struct {
	conn  *bus.Connection
	buses I2CBusFactory
	pins  PinFactory

	devices    map[string]device            // by config id
	busWorkers map[string]MeasurementWorker // one per I²C bus
	owner      map[capRef]string            // capability -> device id
	capSeq     map[string]int               // next id per kind

	pollEvery map[string]int       // device id -> period ms
	pollDue   map[string]time.Time // device id -> next sample due
	poll      *time.Timer

	measurements chan Result // fan-in from all bus workers

	irq    IRQSource
	detach map[string]func() // device id -> IRQ teardown
}

func newManager(conn *bus.Connection, buses I2CBusFactory, pins PinFactory) *manager {
	return &manager{
		conn:         conn,
		buses:        buses,
		pins:         pins,
		devices:      map[string]device{},
		busWorkers:   map[string]MeasurementWorker{},
		owner:        map[capRef]string{},
		capSeq:       map[string]int{},
		pollEvery:    map[string]int{},
		pollDue:      map[string]time.Time{},
		measurements: make(chan Result, 32),
		irq:          newPinWatcher(32, 32),
		detach:       map[string]func(){},
	}
}

func (s *manager) run(ctx context.Context) {
	cfgSub := s.conn.Subscribe(bus.T("config", "hal"))
	ctlSub := s.conn.Subscribe(bus.T("hal", "capability", "+", "+", "control", "+"))
	defer s.conn.Unsubscribe(cfgSub)
	defer s.conn.Unsubscribe(ctlSub)

	s.status("idle", "awaiting_config", nil)

	s.poll = time.NewTimer(time.Hour)
	if !s.poll.Stop() {
		drainTimer(s.poll)
	}

	for {
		s.armPoll()

		select {
		case <-ctx.Done():
			s.status("stopped", "context_cancelled", nil)
			return

		case msg := <-cfgSub.Channel():
			var cfg HALConfig
			if err := decodeJSON(msg.Payload, &cfg); err != nil {
				s.status("error", "config_decode_failed", err)
				continue
			}
			if err := s.configure(ctx, cfg); err != nil {
				s.status("error", "apply_config_failed", err)
				continue
			}
			s.status("ready", "configured", nil)

		case msg := <-ctlSub.Channel():
			s.control(msg)

		case <-s.poll.C:
			s.samplesDue(time.Now())

		case r := <-s.measurements:
			s.publishReadings(r)

		case ev := <-s.irq.Events():
			s.publishPinEvent(ev)
		}
	}
}

// armPoll points the shared timer at the earliest due sample, or far out
// when nothing is scheduled.
func (s *manager) armPoll() {
	next := s.nextDue()
	if next.IsZero() {
		resetTimer(s.poll, time.Hour)
		return
	}
	resetTimer(s.poll, time.Until(next))
}

func (s *manager) samplesDue(now time.Time) {
	for devID, due := range s.pollDue {
		if now.Before(due) {
			continue
		}
		s.sample(devID, false)
		s.reschedule(devID, now)
	}
}

// controlAddr is a parsed hal/capability/<kind>/<id>/control/<method> topic.
type controlAddr struct {
	kind   string
	id     int
	method string
}

func parseControl(t bus.Topic) (controlAddr, bool) {
	if len(t) != 6 {
		return controlAddr{}, false
	}
	kind, _ := t[2].(string)
	id, okID := asInt(t[3])
	method, _ := t[5].(string)
	if kind == "" || !okID || method == "" {
		return controlAddr{}, false
	}
	return controlAddr{kind: kind, id: id, method: method}, true
}

// control routes one control request. read_now and set_rate are scheduling
// concerns answered here; everything else goes to the device adaptor.
func (s *manager) control(msg *bus.Message) {
	addr, ok := parseControl(msg.Topic)
	if !ok {
		s.nack(msg, string(errcode.InvalidTopic))
		return
	}
	devID, ok := s.owner[capRef{kind: addr.kind, id: addr.id}]
	if !ok {
		s.nack(msg, string(errcode.UnknownCapability))
		return
	}

	switch addr.method {
	case "read_now":
		if !s.sample(devID, true) {
			s.nack(msg, string(errcode.Busy))
			return
		}
		s.reschedule(devID, time.Now())
		s.ack(msg, nil)

	case "set_rate":
		ms := periodMS(msg.Payload)
		if ms <= 0 {
			s.nack(msg, string(errcode.InvalidParams))
			return
		}
		s.pollEvery[devID] = mathx.Clamp(ms, minPollMS, maxPollMS)
		s.reschedule(devID, time.Now())
		s.ack(msg, map[string]any{"every_ms": s.pollEvery[devID]})

	default:
		dev := s.devices[devID]
		if dev.adaptor == nil {
			s.nack(msg, string(errcode.UnknownCapability))
			return
		}
		if slowControl(addr.method) {
			// Self-test calibration holds the chip for seconds; run it off
			// the loop so config and results keep flowing. The adaptor's
			// own lock serialises it against scheduled polls.
			go s.forward(dev.adaptor, msg, addr)
		} else {
			s.forward(dev.adaptor, msg, addr)
		}
	}
}

func slowControl(method string) bool {
	return method == "calibrate_selftest" || method == "calibrate_simple"
}

// forward hands a control to the device adaptor and replies. Calibration
// outcomes also go out as capability events, so observers that did not
// issue the request still see the new scale factors or the failure code.
func (s *manager) forward(ad Adaptor, msg *bus.Message, addr controlAddr) {
	res, err := ad.Control(addr.kind, addr.method, msg.Payload)

	if cal, ok := res.(types.CalibrationResult); ok {
		ev := map[string]any{"event": "calibration", "result": cal}
		s.conn.Publish(s.conn.NewMessage(capTopic(addr.kind, addr.id, "event"), ev, false))
		if err != nil {
			s.nack(msg, cal.Code)
			return
		}
		s.ack(msg, map[string]any{"result": cal})
		return
	}

	if err != nil {
		s.nack(msg, err.Error())
		return
	}
	s.ack(msg, map[string]any{"result": res})
}

// configure reconciles the device table against cfg: new entries are built
// and announced, entries that disappeared are torn down. Existing devices
// stay untouched, so republishing the same config is cheap.
func (s *manager) configure(ctx context.Context, cfg HALConfig) error {
	keep := make(map[string]bool, len(cfg.Devices))
	for i := range cfg.Devices {
		d := &cfg.Devices[i]
		keep[d.ID] = true
		if _, up := s.devices[d.ID]; !up {
			s.install(ctx, d)
		}
	}
	for devID := range s.devices {
		if !keep[devID] {
			s.remove(devID)
		}
	}
	return nil
}

func (s *manager) install(ctx context.Context, d *DevCfg) {
	b, ok := lookupBuilder(d.Type)
	if !ok {
		return
	}
	built, err := b.Build(BuildInput{
		Ctx:      ctx,
		Buses:    s.buses,
		Pins:     s.pins,
		DeviceID: d.ID,
		Type:     d.Type,
		BusID:    d.Bus,
		EveryMs:  d.EveryMs,
		Params:   d.Params,
	})
	if err != nil || built.Adaptor == nil {
		return
	}

	dev := device{adaptor: built.Adaptor, bus: built.BusID, caps: map[string]int{}}

	// Capability ids count up per kind in config order, so the first
	// magnetometer is magnetic_field/0 wherever it sits in the list.
	for _, ci := range built.Adaptor.Capabilities() {
		id := s.capSeq[ci.Kind]
		s.capSeq[ci.Kind] = id + 1
		dev.caps[ci.Kind] = id
		s.owner[capRef{kind: ci.Kind, id: id}] = d.ID

		s.retain(capTopic(ci.Kind, id, "info"), ci.Info)
		s.capState(ci.Kind, id, "up", nil)
	}
	s.devices[d.ID] = dev

	// Producers get a bus worker and a periodic sampling slot.
	if built.SampleEvery > 0 && built.BusID != "" {
		s.worker(ctx, built.BusID)
		s.pollEvery[d.ID] = int(built.SampleEvery / time.Millisecond)
		s.pollDue[d.ID] = time.Now().Add(firstPollDelay)
	}

	// Interrupt wiring the builder asked for (DRDY, buttons).
	if built.IRQ != nil {
		stop, err := s.irq.RegisterInput(
			built.IRQ.DevID, built.IRQ.Pin, built.IRQ.Edge, built.IRQ.DebounceMS, built.IRQ.Invert)
		if err == nil {
			s.detach[d.ID] = stop
		}
	}
}

// remove tears a device down: retained docs cleared, state marked down,
// interrupts detached.
func (s *manager) remove(devID string) {
	dev, ok := s.devices[devID]
	if !ok {
		return
	}
	for kind, id := range dev.caps {
		s.retain(capTopic(kind, id, "info"), nil)
		s.capState(kind, id, "down", nil)
		delete(s.owner, capRef{kind: kind, id: id})
	}
	if stop, ok := s.detach[devID]; ok {
		stop()
		delete(s.detach, devID)
	}
	delete(s.devices, devID)
	delete(s.pollEvery, devID)
	delete(s.pollDue, devID)
}

// worker returns the measurement worker for busID, starting one on first
// use and pumping its results into the manager loop.
func (s *manager) worker(ctx context.Context, busID string) MeasurementWorker {
	if w, ok := s.busWorkers[busID]; ok {
		return w
	}
	w := NewMeasurementWorker(WorkerConfig{})
	w.Start(ctx)
	s.busWorkers[busID] = w
	go pump(ctx, w.Results(), s.measurements)
	return w
}

func pump(ctx context.Context, from <-chan Result, to chan<- Result) {
	for {
		select {
		case <-ctx.Done():
			return
		case r := <-from:
			select {
			case to <- r:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (s *manager) sample(devID string, urgent bool) bool {
	dev, ok := s.devices[devID]
	if !ok {
		return false
	}
	w := s.busWorkers[dev.bus]
	return w != nil && w.Submit(MeasureReq{ID: devID, Adaptor: dev.adaptor, Urgent: urgent})
}

func (s *manager) reschedule(devID string, from time.Time) {
	period := time.Duration(mathx.Clamp(s.pollEvery[devID], minPollMS, maxPollMS)) * time.Millisecond
	s.pollDue[devID] = from.Add(period)
}

func (s *manager) nextDue() time.Time {
	var earliest time.Time
	for _, due := range s.pollDue {
		if due.IsZero() {
			continue
		}
		if earliest.IsZero() || due.Before(earliest) {
			earliest = due
		}
	}
	return earliest
}

func (s *manager) publishReadings(r Result) {
	dev, ok := s.devices[r.ID]
	if !ok {
		return
	}
	if r.Err != nil {
		for kind, id := range dev.caps {
			s.capState(kind, id, "degraded", map[string]any{"error": r.Err.Error()})
		}
		return
	}
	// Each reading goes out on its mapped capability id.
	for _, rd := range r.Sample {
		id, ok := dev.caps[rd.Kind]
		if !ok {
			continue
		}
		s.conn.Publish(s.conn.NewMessage(capTopic(rd.Kind, id, "value"), rd.Payload, false))
		s.capState(rd.Kind, id, "up", nil)
	}
}

func (s *manager) publishPinEvent(ev GPIOEvent) {
	dev, ok := s.devices[ev.DevID]
	if !ok {
		return
	}
	id, ok := dev.caps[types.KindGPIO]
	if !ok {
		return
	}
	ts := ev.TS.UnixMilli()
	p := map[string]any{"edge": edgeToString(ev.Edge), "level": ev.Level, "ts_ms": ts}
	s.conn.Publish(s.conn.NewMessage(capTopic(types.KindGPIO, id, "event"), p, false))
	s.capState(types.KindGPIO, id, "up", map[string]any{"level": ev.Level, "ts_ms": ts})
}

// status keeps hal/state retained with the service health.
func (s *manager) status(level, detail string, err error) {
	p := map[string]any{"level": level, "status": detail, "ts_ms": time.Now().UnixMilli()}
	if err != nil {
		p["error"] = err.Error()
	}
	s.conn.Publish(s.conn.NewMessage(bus.T("hal", "state"), p, true))
}

// capState retains hal/capability/<kind>/<id>/state. kv entries override
// the defaults, which lets pin events carry their own timestamp.
func (s *manager) capState(kind string, id int, link string, kv map[string]any) {
	p := map[string]any{"link": link, "ts_ms": time.Now().UnixMilli()}
	for k, v := range kv {
		p[k] = v
	}
	s.retain(capTopic(kind, id, "state"), p)
}

func (s *manager) ack(req *bus.Message, extra map[string]any) {
	p := map[string]any{"ok": true}
	for k, v := range extra {
		p[k] = v
	}
	s.conn.Reply(req, p, false)
}

func (s *manager) nack(req *bus.Message, code string) {
	s.conn.Reply(req, map[string]any{"ok": false, "error": code}, false)
}

func (s *manager) retain(t bus.Topic, p any) {
	s.conn.Publish(s.conn.NewMessage(t, p, true))
}

func capTopic(kind string, id int, leaf ...bus.Token) bus.Topic {
	t := bus.T("hal", "capability", kind, id)
	return append(t, leaf...)
}

// periodMS pulls a sampling period from a control payload: either a bare
// number or {"every_ms": n}.
func periodMS(p any) int {
	if m, ok := p.(map[string]any); ok {
		p = m["every_ms"]
	}
	n, ok := asInt(p)
	if !ok {
		return 0
	}
	return n
}
