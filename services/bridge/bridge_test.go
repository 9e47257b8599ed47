package bridge

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"testing"
	"time"

	"magnode-go/bus"
)

// dialPipe wires UARTDial to hand the bridge one end of a net.Pipe and the
// test the other. Reinstalled on cleanup.
func dialPipe(t *testing.T) <-chan net.Conn {
	t.Helper()
	prev := UARTDial
	t.Cleanup(func() { UARTDial = prev })
	remotes := make(chan net.Conn, 4)
	UARTDial = func(ctx context.Context, _ UARTConfig) (io.ReadWriteCloser, error) {
		local, remote := net.Pipe()
		remotes <- remote
		return local, nil
	}
	return remotes
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

// answerPings services the peer side of the framing: pong for ping, drain
// everything else.
func answerPings(c io.ReadWriteCloser) {
	defer c.Close()
	var hdr [3]byte
	for {
		if _, err := io.ReadFull(c, hdr[:]); err != nil {
			return
		}
		if n := int(hdr[1])<<8 | int(hdr[2]); n > 0 {
			if _, err := io.ReadFull(c, make([]byte, n)); err != nil {
				return
			}
		}
		if hdr[0] == framePing {
			if _, err := c.Write([]byte{framePong, 0, 0}); err != nil {
				return
			}
		}
	}
}

// readPub reads frames off the peer end until a publish arrives, skipping
// keepalives, and decodes its body.
func readPub(t *testing.T, c net.Conn, within time.Duration) wireMsg {
	t.Helper()
	_ = c.SetReadDeadline(time.Now().Add(within))
	defer func() { _ = c.SetReadDeadline(time.Time{}) }()
	var hdr [3]byte
	for {
		if _, err := io.ReadFull(c, hdr[:]); err != nil {
			t.Fatalf("reading frame: %v", err)
		}
		body := make([]byte, int(hdr[1])<<8|int(hdr[2]))
		if len(body) > 0 {
			if _, err := io.ReadFull(c, body); err != nil {
				t.Fatalf("reading frame body: %v", err)
			}
		}
		if hdr[0] != framePub {
			continue
		}
		var wm wireMsg
		if err := json.Unmarshal(body, &wm); err != nil {
			t.Fatalf("decoding publish frame: %v", err)
		}
		return wm
	}
}

func sendPub(t *testing.T, c net.Conn, wm wireMsg) {
	t.Helper()
	body, err := json.Marshal(wm)
	if err != nil {
		t.Fatalf("encoding publish frame: %v", err)
	}
	frame := append([]byte{framePub, byte(len(body) >> 8), byte(len(body))}, body...)
	if _, err := c.Write(frame); err != nil {
		t.Fatalf("writing publish frame: %v", err)
	}
}

// wantWireTopic compares a decoded wire topic against a local one, applying
// the same integer restoration the bridge does.
func wantWireTopic(t *testing.T, wm wireMsg, want bus.Topic) {
	t.Helper()
	got := wireTopic(wm.Topic)
	if len(got) != len(want) {
		t.Fatalf("wire topic %#v, want %#v", got, want)
	}
	for i := range got {
		if got[i] != want[i] {
			t.Fatalf("wire topic token %d = %#v (%T), want %#v", i, got[i], got[i], want[i])
		}
	}
}

func drain(sub *bus.Subscription) {
	for {
		select {
		case <-sub.Channel():
		default:
			return
		}
	}
}

func TestLinkLifecycle(t *testing.T) {
	b := bus.NewBus(16)
	conn := b.NewConnection("bridge")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go Start(ctx, conn)

	states := conn.Subscribe(bus.T("bridge", "state"))
	defer conn.Unsubscribe(states)
	wantState(t, states, "idle", "awaiting_config")

	remotes := dialPipe(t)
	configure(conn, `{"transport":{"type":"uart","uart":{"baud":115200,"rx_pin":9,"tx_pin":8}}}`)
	wantState(t, states, "up", "link_established")

	// Drop the link from the far side: the bridge reports the loss, backs
	// off, and dials again.
	remote := <-remotes
	_ = remote.Close()
	wantState(t, states, "degraded", "link_lost_retrying")
	wantState(t, states, "up", "link_established")
	go answerPings(<-remotes)
}

func TestBadConfigs(t *testing.T) {
	b := bus.NewBus(8)
	conn := b.NewConnection("bridge")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go Start(ctx, conn)

	states := conn.Subscribe(bus.T("bridge", "state"))
	defer conn.Unsubscribe(states)
	wantState(t, states, "idle", "awaiting_config")

	configure(conn, `{"transport":{"type":"carrier-pigeon"}}`)
	wantState(t, states, "error", "transport_init_failed")

	configure(conn, `{"transport":{"type":"uart"}}`) // uart without its section
	wantState(t, states, "error", "transport_init_failed")

	configure(conn, `{not json`)
	wantState(t, states, "error", "config_decode_failed")
}

func TestForwardMirrorsLocalTraffic(t *testing.T) {
	b := bus.NewBus(16)
	conn := b.NewConnection("bridge")
	hal := b.NewConnection("hal")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go Start(ctx, conn)

	// Retained capability info published before the link exists must reach
	// the peer as soon as it opens.
	info := bus.T("hal", "capability", "magnetic_field", 0, "info")
	hal.Publish(hal.NewMessage(info, map[string]any{"type": "hmc5883l"}, true))

	remotes := dialPipe(t)
	configure(conn, `{
		"transport":{"type":"uart","uart":{"baud":115200,"rx_pin":9,"tx_pin":8}},
		"forward":[["hal","capability","#"]]
	}`)
	remote := <-remotes

	sync := readPub(t, remote, time.Second)
	if !sync.Retained {
		t.Fatalf("retained sync lost its flag: %+v", sync)
	}
	wantWireTopic(t, sync, info)
	if m, ok := sync.Payload.(map[string]any); !ok || m["type"] != "hmc5883l" {
		t.Fatalf("sync payload = %#v", sync.Payload)
	}

	// A live value published after the sync must be mirrored too.
	value := bus.T("hal", "capability", "magnetic_field", 0, "value")
	hal.Publish(hal.NewMessage(value, map[string]any{"x": 120, "y": -40, "z": 310}, false))

	live := readPub(t, remote, time.Second)
	if live.Retained {
		t.Fatalf("live value marked retained: %+v", live)
	}
	wantWireTopic(t, live, value)
	vals, ok := live.Payload.(map[string]any)
	if !ok {
		t.Fatalf("live payload = %#v", live.Payload)
	}
	if x, _ := vals["x"].(float64); x != 120 {
		t.Fatalf("live x = %#v, want 120", vals["x"])
	}
}

func TestPeerPublishLandsLocallyWithoutEcho(t *testing.T) {
	b := bus.NewBus(16)
	conn := b.NewConnection("bridge")
	obs := b.NewConnection("observer")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go Start(ctx, conn)

	// Retained marker tells the test when the forward subscription is live.
	obs.Publish(obs.NewMessage(bus.T("telecmd", "hello"), "marker", true))

	remotes := dialPipe(t)
	configure(conn, `{
		"transport":{"type":"uart","uart":{"baud":115200,"rx_pin":9,"tx_pin":8}},
		"forward":[["telecmd","#"]]
	}`)
	remote := <-remotes
	_ = readPub(t, remote, time.Second) // marker sync; the forward set is up

	local := obs.Subscribe(bus.T("telecmd", "#"))
	defer obs.Unsubscribe(local)
	drain(local) // retained marker replay

	// Peer command with an integer topic token.
	sendPub(t, remote, wireMsg{Topic: []any{"telecmd", 7, "ping"}, Payload: map[string]any{"n": 1}})

	select {
	case m := <-local.Channel():
		if len(m.Topic) != 3 {
			t.Fatalf("local topic = %#v", m.Topic)
		}
		if id, ok := m.Topic[1].(int); !ok || id != 7 {
			t.Fatalf("topic[1] = %#v (%T), want int 7", m.Topic[1], m.Topic[1])
		}
	case <-time.After(time.Second):
		t.Fatal("peer publish never reached the local bus")
	}

	// It matches the forward set but must not bounce back over the link.
	_ = remote.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	var one [1]byte
	if _, err := remote.Read(one[:]); err == nil {
		t.Fatal("peer publish was echoed back")
	}
}
