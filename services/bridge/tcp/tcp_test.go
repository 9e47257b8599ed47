package tcp

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"magnode-go/bus"
	"magnode-go/services/bridge"
)

// startPeer listens on a loopback socket and answers the bridge's pings on
// each accepted connection. The first drop connections are closed straight
// away instead, to provoke a link loss. Returns the dialable address.
func startPeer(t *testing.T, drop int) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			if drop > 0 {
				drop--
				_ = c.Close()
				continue
			}
			go answerPings(c)
		}
	}()
	return ln.Addr().String()
}

// answerPings services the peer side of the link framing: pong for ping,
// drain everything else. A frame is a type byte, two length bytes, body;
// 0x01 is ping, 0x02 pong.
func answerPings(s io.ReadWriteCloser) {
	defer s.Close()
	var hdr [3]byte
	for {
		if _, err := io.ReadFull(s, hdr[:]); err != nil {
			return
		}
		if n := int(hdr[1])<<8 | int(hdr[2]); n > 0 {
			if _, err := io.ReadFull(s, make([]byte, n)); err != nil {
				return
			}
		}
		if hdr[0] == 0x01 {
			if _, err := s.Write([]byte{0x02, 0, 0}); err != nil {
				return
			}
		}
	}
}

func startBridge(t *testing.T) (*bus.Connection, *bus.Subscription) {
	t.Helper()
	b := bus.NewBus(16)
	conn := b.NewConnection("bridge")
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go bridge.Start(ctx, conn)

	states := conn.Subscribe(bus.T("bridge", "state"))
	t.Cleanup(func() { conn.Unsubscribe(states) })
	wantState(t, states, "idle", "awaiting_config")
	return conn, states
}

func configure(conn *bus.Connection, js string) {
	conn.Publish(conn.NewMessage(bus.T("config", "bridge"), js, false))
}

func wantState(t *testing.T, sub *bus.Subscription, level, status string) {
	t.Helper()
	select {
	case m := <-sub.Channel():
		p, _ := m.Payload.(map[string]any)
		if p["level"] != level || p["status"] != status {
			t.Fatalf("bridge/state = %v, want %s/%s", p, level, status)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no bridge/state within 2s (want %s/%s)", level, status)
	}
}

func TestLinkOverTCP(t *testing.T) {
	addr := startPeer(t, 0)
	conn, states := startBridge(t)

	configure(conn, `{"transport":{"type":"tcp","tcp":{"addr":"`+addr+`"}}}`)
	wantState(t, states, "up", "link_established")
}

func TestConfigWithoutAddr(t *testing.T) {
	conn, states := startBridge(t)

	configure(conn, `{"transport":{"type":"tcp"}}`)
	wantState(t, states, "error", "transport_init_failed")
}

// A peer that drops the socket mid-link costs one degraded report and a
// backoff, then the next dial brings the link back.
func TestLinkLostRedials(t *testing.T) {
	addr := startPeer(t, 1)
	conn, states := startBridge(t)

	configure(conn, `{"transport":{"type":"tcp","tcp":{"addr":"`+addr+`"}}}`)
	wantState(t, states, "up", "link_established")
	wantState(t, states, "degraded", "link_lost_retrying")
	wantState(t, states, "up", "link_established")
}
