// services/hal/pinwatch.go
package hal

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// IRQSource is the slice of the pin watcher the service loop consumes.
type IRQSource interface {
	Start(ctx context.Context)
	Events() <-chan GPIOEvent
	RegisterInput(devID string, pin IRQPin, edge Edge, debounceMS int, invert bool) (func(), error)
}

// GPIOEvent reports a debounced level change on a watched input. The
// compass DRDY strap and any buttons arrive through the same path.
type GPIOEvent struct {
	DevID string
	Level int // 0/1 after inversion
	Edge  Edge
	TS    time.Time
}

// pinWatcher moves pin interrupts out of ISR context. The ISR handler
// does a level read and a non-blocking send; debounce and edge
// classification happen on the watcher goroutine.
type pinWatcher struct {
	fromISR chan rawEdge
	out     chan GPIOEvent
	done    chan struct{}

	mu    sync.RWMutex
	lines map[string]*line // devID -> line

	dropped uint32 // sends the ISR could not make
}

// rawEdge is the ISR's capture: which input, what level it read.
type rawEdge struct {
	dev   string
	level bool
}

// line is one watched input and its filter state.
type line struct {
	dev      string
	pin      IRQPin
	edge     Edge
	hold     time.Duration // debounce window
	invert   bool
	level    bool      // last accepted level
	accepted time.Time // when it was accepted
	detach   func()
}

func newPinWatcher(isrBuf, outBuf int) *pinWatcher {
	if isrBuf <= 0 {
		isrBuf = 64
	}
	if outBuf <= 0 {
		outBuf = 64
	}
	return &pinWatcher{
		fromISR: make(chan rawEdge, isrBuf),
		out:     make(chan GPIOEvent, outBuf),
		done:    make(chan struct{}),
		lines:   map[string]*line{},
	}
}

func (pw *pinWatcher) Start(ctx context.Context) {
	go func() {
		defer close(pw.done)
		for {
			select {
			case <-ctx.Done():
				return
			case ev := <-pw.fromISR:
				pw.route(ev)
			}
		}
	}()
}

func (pw *pinWatcher) Events() <-chan GPIOEvent { return pw.out }

// RegisterInput hooks the pin's interrupt and starts filtering it. The
// returned func detaches the interrupt and forgets the line.
func (pw *pinWatcher) RegisterInput(devID string, pin IRQPin, edge Edge, debounceMS int, invert bool) (func(), error) {
	if edge == EdgeNone {
		return func() {}, nil
	}
	l := &line{
		dev:    devID,
		pin:    pin,
		edge:   edge,
		hold:   time.Duration(debounceMS) * time.Millisecond,
		invert: invert,
		// Baseline in logical terms, so an inverted line classifies its
		// first transition correctly too.
		level: pin.Get() != invert,
	}

	handler := func() {
		select {
		case pw.fromISR <- rawEdge{dev: devID, level: pin.Get()}:
		default:
			atomic.AddUint32(&pw.dropped, 1) // never stall the ISR
		}
	}
	if err := pin.SetIRQ(edge, handler); err != nil {
		return nil, err
	}
	l.detach = func() { _ = pin.ClearIRQ() }

	pw.mu.Lock()
	pw.lines[devID] = l
	pw.mu.Unlock()

	return func() {
		pw.mu.Lock()
		if cur, ok := pw.lines[devID]; ok {
			if cur.detach != nil {
				cur.detach()
			}
			delete(pw.lines, devID)
		}
		pw.mu.Unlock()
	}, nil
}

// route runs one ISR capture through the line's filter and publishes the
// event if it survives.
func (pw *pinWatcher) route(ev rawEdge) {
	pw.mu.RLock()
	l := pw.lines[ev.dev]
	pw.mu.RUnlock()
	if l == nil {
		return
	}

	lvl := ev.level
	if l.invert {
		lvl = !lvl
	}
	now := time.Now()

	e, ok := l.classify(lvl, now)
	if !ok {
		return
	}
	if l.edge == EdgeBoth || l.edge == e {
		select {
		case pw.out <- GPIOEvent{DevID: ev.dev, Level: boolToInt(lvl), Edge: e, TS: now}:
		default:
			// slow consumer sheds events rather than stalling the pump
		}
	}
	l.level = lvl
	l.accepted = now
}

// classify decides whether lvl is a transition worth reporting. Bounces
// inside the hold window and repeats of the current level are not.
func (l *line) classify(lvl bool, now time.Time) (Edge, bool) {
	if !l.accepted.IsZero() && now.Sub(l.accepted) < l.hold {
		return EdgeNone, false
	}
	switch {
	case lvl && !l.level:
		return EdgeRising, true
	case !lvl && l.level:
		return EdgeFalling, true
	}
	return EdgeNone, false
}

// ISRDrops counts captures lost to a full ISR queue.
func (pw *pinWatcher) ISRDrops() uint32 { return atomic.LoadUint32(&pw.dropped) }
