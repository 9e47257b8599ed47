// services/hal/worker.go
package hal

import (
	"context"
	"time"
)

// MeasurementWorker is the view of a bus worker the service holds. One
// worker runs per I²C bus so devices sharing wires never interleave
// transactions.
type MeasurementWorker interface {
	Start(ctx context.Context)
	Submit(MeasureReq) bool
	Results() <-chan Result
}

// NewMeasurementWorker builds a worker with cfg's timings (zero fields
// take defaults).
func NewMeasurementWorker(cfg WorkerConfig) MeasurementWorker {
	return newBusWorker(cfg)
}

// busWorker serialises trigger/collect cycles for the devices of one
// bus. A cycle is split: Trigger starts the conversion, then the worker
// sleeps until the adaptor's settle hint elapses before Collect, so a
// second device can be triggered while the first converts.
type busWorker struct {
	cfg     WorkerConfig
	reqQ    chan MeasureReq
	results chan Result

	byDev map[string]*inflight // devices with a conversion running
	again map[string]bool      // urgent asks that arrived mid-cycle
	queue []*inflight
	timer *time.Timer
}

// inflight is one triggered conversion waiting to be collected.
type inflight struct {
	dev   string
	ad    Adaptor
	due   time.Time
	tries int
}

func newBusWorker(cfg WorkerConfig) *busWorker {
	if cfg.TriggerTimeout <= 0 {
		cfg.TriggerTimeout = 100 * time.Millisecond
	}
	if cfg.CollectTimeout <= 0 {
		cfg.CollectTimeout = 250 * time.Millisecond
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 15 * time.Millisecond
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 6
	}
	if cfg.InputQueueSize <= 0 {
		cfg.InputQueueSize = 16
	}
	if cfg.ResultsQueueSize <= 0 {
		cfg.ResultsQueueSize = 16
	}
	return &busWorker{
		cfg:     cfg,
		reqQ:    make(chan MeasureReq, cfg.InputQueueSize),
		results: make(chan Result, cfg.ResultsQueueSize),
		byDev:   map[string]*inflight{},
		again:   map[string]bool{},
		timer:   time.NewTimer(time.Hour),
	}
}

// Results is owned by the worker and never closed.
func (w *busWorker) Results() <-chan Result { return w.results }

// Submit enqueues a cycle. Scheduled polls give up immediately when the
// queue is full; urgent requests hold on briefly since a caller is
// waiting on the reply.
func (w *busWorker) Submit(req MeasureReq) bool {
	select {
	case w.reqQ <- req:
		return true
	default:
		if req.Urgent {
			select {
			case w.reqQ <- req:
				return true
			case <-time.After(5 * time.Millisecond):
			}
		}
		return false
	}
}

func (w *busWorker) Start(ctx context.Context) {
	if !w.timer.Stop() {
		drainTimer(w.timer)
	}
	go w.serve(ctx)
}

func (w *busWorker) serve(ctx context.Context) {
	for {
		if next := w.nextDue(); next.IsZero() {
			resetTimer(w.timer, time.Hour)
		} else {
			resetTimer(w.timer, time.Until(next))
		}
		select {
		case <-ctx.Done():
			return
		case req := <-w.reqQ:
			w.trigger(ctx, req)
		case <-w.timer.C:
			w.harvest(ctx)
		}
	}
}

// trigger starts a conversion for req, or coalesces it into the cycle
// already running for the same device.
func (w *busWorker) trigger(ctx context.Context, req MeasureReq) {
	if _, running := w.byDev[req.ID]; running {
		if req.Urgent {
			w.again[req.ID] = true
		}
		return
	}
	tctx, cancel := context.WithTimeout(ctx, w.cfg.TriggerTimeout)
	settle, err := req.Adaptor.Trigger(tctx)
	cancel()
	if err != nil {
		w.results <- Result{ID: req.ID, Err: err}
		return
	}
	fl := &inflight{dev: req.ID, ad: req.Adaptor, due: time.Now().Add(settle)}
	w.byDev[req.ID] = fl
	w.queue = append(w.queue, fl)
}

// harvest collects every conversion whose settle time has passed.
func (w *busWorker) harvest(ctx context.Context) {
	now := time.Now()
	var still []*inflight
	for _, fl := range w.queue {
		if now.Before(fl.due) {
			still = append(still, fl)
			continue
		}
		cctx, cancel := context.WithTimeout(ctx, w.cfg.CollectTimeout)
		s, err := fl.ad.Collect(cctx)
		cancel()
		switch {
		case err == nil:
			delete(w.byDev, fl.dev)
			delete(w.again, fl.dev)
			w.results <- Result{ID: fl.dev, Sample: s}
		case err == ErrNotReady && fl.tries < w.cfg.MaxRetries:
			fl.tries++
			fl.due = now.Add(w.cfg.RetryBackoff)
			still = append(still, fl)
		default:
			delete(w.byDev, fl.dev)
			w.results <- Result{ID: fl.dev, Err: err}
			// An urgent ask arrived while this cycle was failing; give
			// it a fresh conversion instead of losing it.
			if w.again[fl.dev] {
				delete(w.again, fl.dev)
				if w.retrigger(ctx, fl) {
					still = append(still, fl)
				}
			}
		}
	}
	w.queue = still
}

func (w *busWorker) retrigger(ctx context.Context, fl *inflight) bool {
	tctx, cancel := context.WithTimeout(ctx, w.cfg.TriggerTimeout)
	settle, err := fl.ad.Trigger(tctx)
	cancel()
	if err != nil {
		return false
	}
	fl.tries = 0
	fl.due = time.Now().Add(settle)
	w.byDev[fl.dev] = fl
	return true
}

func (w *busWorker) nextDue() time.Time {
	var min time.Time
	for _, fl := range w.queue {
		if min.IsZero() || fl.due.Before(min) {
			min = fl.due
		}
	}
	return min
}

// resetTimer stops, drains, and re-arms t. The loops here reuse one
// timer across iterations rather than allocating per wait.
func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		drainTimer(t)
	}
	if d < 0 {
		d = 0
	}
	t.Reset(d)
}

func drainTimer(t *time.Timer) {
	select {
	case <-t.C:
	default:
	}
}
