// bridge/link.go

package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"magnode-go/bus"
)

// runLink dials until a connection comes up, serves it, and redials with
// exponential backoff after a failure. A clean peer close ends the link for
// good; only a config republish starts another one.
func (s *Service) runLink(ctx context.Context, cfg Config) {
	tr, err := newTransport(cfg.Transport)
	if err != nil {
		s.state("error", "transport_init_failed", err)
		return
	}

	retry := backoff{min: 250 * time.Millisecond, max: 5 * time.Second}
	for ctx.Err() == nil {
		rwc, err := tr.Open(ctx)
		if err != nil {
			d := retry.next()
			s.state("degraded", "dial_failed_retrying", fmt.Errorf("%v (retry in %s)", err, d))
			if !pause(ctx, d) {
				return
			}
			continue
		}

		s.state("up", "link_established", nil)
		err = s.serveLink(ctx, rwc, cfg)
		_ = rwc.Close()
		if err == nil {
			return
		}
		d := retry.next()
		s.state("degraded", "link_lost_retrying", fmt.Errorf("%v (retry in %s)", err, d))
		if !pause(ctx, d) {
			return
		}
	}
}

// wireMsg is the JSON body of a framePub frame, both directions.
type wireMsg struct {
	Topic    []any `json:"topic"`
	Payload  any   `json:"payload,omitempty"`
	Retained bool  `json:"retained,omitempty"`
}

// serveLink owns one live connection: local messages matching the forward
// set go out as publish frames, peer publishes land on the local bus, and a
// periodic ping keeps the transport honest. Returns nil only on clean close
// (peer close frame or ctx cancellation).
func (s *Service) serveLink(ctx context.Context, rwc io.ReadWriteCloser, cfg Config) error {
	fanCtx, stopFan := context.WithCancel(ctx)
	defer stopFan()
	fwd := s.forwardFeed(fanCtx, cfg.Forward)

	var echo echoRing
	pongReq := make(chan struct{}, 1)
	peerErr := make(chan error, 1)
	go s.pumpPeer(rwc, &echo, pongReq, peerErr)

	ping := time.NewTicker(5 * time.Second)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = writeFrame(rwc, Frame{Type: frameClose}) // best effort
			return nil
		case err := <-peerErr:
			return err
		case <-pongReq:
			if err := writeFrame(rwc, Frame{Type: framePong}); err != nil {
				return err
			}
		case m := <-fwd:
			if echo.seen(m) {
				continue
			}
			body, err := json.Marshal(wireMsg{Topic: []any(m.Topic), Payload: m.Payload, Retained: m.Retained})
			if err != nil || len(body) > maxFramePayload {
				// Not wire-encodable; drop it rather than kill the link.
				continue
			}
			if err := writeFrame(rwc, Frame{Type: framePub, Payload: body}); err != nil {
				return err
			}
		case <-ping.C:
			if err := writeFrame(rwc, Frame{Type: framePing}); err != nil {
				return err
			}
		}
	}
}

// pumpPeer reads frames off the link until it fails or the peer closes.
// Closing done without an error signals the clean close.
func (s *Service) pumpPeer(r io.Reader, echo *echoRing, pongReq chan<- struct{}, done chan<- error) {
	defer close(done)
	for {
		f, err := readFrame(r)
		if err != nil {
			done <- err
			return
		}
		switch f.Type {
		case framePing:
			select {
			case pongReq <- struct{}{}:
			default:
			}
		case framePong:
			// Keepalive answered; nothing tracked yet.
		case framePub:
			var wm wireMsg
			if err := json.Unmarshal(f.Payload, &wm); err != nil || len(wm.Topic) == 0 {
				continue
			}
			m := s.conn.NewMessage(wireTopic(wm.Topic), wm.Payload, wm.Retained)
			echo.mark(m)
			s.conn.Publish(m)
		case frameSub, frameUnsub, frameAck:
			// The forward set is fixed by local config; peer-driven
			// subscriptions are not accepted.
		case frameClose:
			return
		}
	}
}

// forwardFeed subscribes every forward pattern and fans the deliveries into
// one channel so the link writer has a single source. The subscriptions die
// with ctx.
func (s *Service) forwardFeed(ctx context.Context, patterns [][]string) <-chan *bus.Message {
	out := make(chan *bus.Message, 16)
	for _, pat := range patterns {
		sub := s.conn.Subscribe(toTopic(pat))
		go func() {
			defer s.conn.Unsubscribe(sub)
			for {
				select {
				case <-ctx.Done():
					return
				case m, ok := <-sub.Channel():
					if !ok {
						return
					}
					select {
					case out <- m:
					case <-ctx.Done():
						return
					}
				}
			}
		}()
	}
	return out
}

// wireTopic rebuilds a bus topic from decoded JSON tokens. Integral numbers
// come back as float64 and are restored to int so capability ids keep
// matching integer-token subscriptions.
func wireTopic(raw []any) bus.Topic {
	t := make(bus.Topic, len(raw))
	for i, tok := range raw {
		if f, ok := tok.(float64); ok {
			if n := int(f); float64(n) == f {
				t[i] = n
				continue
			}
		}
		t[i] = tok
	}
	return t
}

func toTopic(tokens []string) bus.Topic {
	t := make(bus.Topic, len(tokens))
	for i, s := range tokens {
		t[i] = s
	}
	return t
}

// echoRing remembers the last few messages injected on behalf of the peer.
// They come back through the forward subscriptions as the same pointer and
// must not be mirrored over the link again.
type echoRing struct {
	mu   sync.Mutex
	ring [16]*bus.Message
	n    int
}

func (e *echoRing) mark(m *bus.Message) {
	e.mu.Lock()
	e.ring[e.n%len(e.ring)] = m
	e.n++
	e.mu.Unlock()
}

func (e *echoRing) seen(m *bus.Message) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, r := range e.ring {
		if r == m {
			return true
		}
	}
	return false
}

// Frames are a type byte, a big-endian uint16 payload length, then the
// payload. Small enough to hand-roll on both ends of a UART.
const (
	framePing  byte = 0x01
	framePong  byte = 0x02
	framePub   byte = 0x10
	frameSub   byte = 0x11
	frameUnsub byte = 0x12
	frameAck   byte = 0x13
	frameClose byte = 0x7f

	maxFramePayload = 0xFFFF
)

type Frame struct {
	Type    byte
	Payload []byte
}

func readFrame(r io.Reader) (Frame, error) {
	var hdr [3]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return Frame{}, err
	}
	f := Frame{Type: hdr[0]}
	if n := int(hdr[1])<<8 | int(hdr[2]); n > 0 {
		f.Payload = make([]byte, n)
		if _, err := io.ReadFull(r, f.Payload); err != nil {
			return Frame{}, err
		}
	}
	return f, nil
}

func writeFrame(w io.Writer, f Frame) error {
	if len(f.Payload) > maxFramePayload {
		return fmt.Errorf("frame payload %d exceeds %d", len(f.Payload), maxFramePayload)
	}
	hdr := [3]byte{f.Type, byte(len(f.Payload) >> 8), byte(len(f.Payload))}
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	if len(f.Payload) == 0 {
		return nil
	}
	_, err := w.Write(f.Payload)
	return err
}

// backoff doubles from min up to max and stays there.
type backoff struct {
	min, max time.Duration
	cur      time.Duration
}

func (b *backoff) next() time.Duration {
	if b.cur == 0 {
		b.cur = b.min
	}
	d := b.cur
	b.cur *= 2
	if b.cur > b.max {
		b.cur = b.max
	}
	return d
}

// pause sleeps for d unless ctx ends first; reports whether the full wait
// happened.
func pause(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
