// services/hal/types.go
package hal

import (
	"context"
	"time"

	"tinygo.org/x/drivers"
)

// Adaptor wraps one configured device (a compass on an I²C bus, a pin)
// behind hooks the service can drive generically. An adaptor never talks
// to the message bus and never starts goroutines of its own; concurrency
// belongs to the workers.
type Adaptor interface {
	ID() string
	// Capabilities lists what the device exposes. Published retained at
	// configuration time.
	Capabilities() []CapInfo
	// Trigger starts a conversion and reports how long to wait before
	// Collect has a chance of succeeding.
	Trigger(ctx context.Context) (collectAfter time.Duration, err error)
	// Collect fetches the finished measurement. ErrNotReady means the
	// conversion needs more time; the worker retries with backoff.
	Collect(ctx context.Context) (Sample, error)
	// Control runs a device method addressed to one of the adaptor's
	// capability kinds ("calibrate_selftest", "set", ...). Unknown
	// method/kind pairs return ErrUnsupported.
	Control(kind, method string, payload any) (result any, err error)
}

// Reading is one datum for one capability kind, e.g. a raw+calibrated
// field vector under "magnetic_field".
type Reading struct {
	Kind    string
	Payload any   // JSON-serialisable
	TsMs    int64 // producer timestamp
}

// Sample groups the readings of a single collection.
type Sample []Reading

// CapInfo is a capability's retained info document.
type CapInfo struct {
	Kind string
	Info map[string]any
}

// WorkerConfig bounds the measurement worker's timing. Zero values take
// defaults suited to the compass (conversions settle in single-digit
// milliseconds, so even CollectTimeout stays short).
type WorkerConfig struct {
	TriggerTimeout   time.Duration
	CollectTimeout   time.Duration
	RetryBackoff     time.Duration // wait between ErrNotReady retries
	MaxRetries       int
	InputQueueSize   int
	ResultsQueueSize int
}

// MeasureReq asks a worker for one trigger/collect cycle.
type MeasureReq struct {
	ID      string
	Adaptor Adaptor
	Urgent  bool // read_now requests; queue harder, re-arm after a failed cycle
}

// Result is what the worker hands back, one per accepted request.
type Result struct {
	ID     string
	Sample Sample
	Err    error
}

// ErrNotReady tells the worker the conversion has not settled yet.
var ErrNotReady = errNotReady{}

type errNotReady struct{}

func (errNotReady) Error() string { return "not ready" }

// ErrUnsupported rejects a Control method the adaptor does not implement.
var ErrUnsupported = errUnsupported{}

type errUnsupported struct{}

func (errUnsupported) Error() string { return "unsupported" }

// I2CBusFactory resolves configured bus ids ("i2c0") to live buses. The
// platform package supplies the hardware one; tests mount simulators.
type I2CBusFactory interface {
	ByID(id string) (drivers.I2C, bool)
}
