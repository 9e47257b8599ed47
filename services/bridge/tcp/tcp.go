// bridge/tcp/tcp.go

// Package tcp adds a plain-socket transport to the bridge, selected by
// `"transport":{"type":"tcp","tcp":{"addr":...}}`. Import it for its side
// effect:
//
//	import _ "magnode-go/services/bridge/tcp"
//
// A socket already is the byte stream the bridge framing wants, so unlike
// ws there is nothing to adapt; the peer just listens and speaks frames.
package tcp

import (
	"context"
	"errors"
	"io"
	"net"
	"time"

	"magnode-go/services/bridge"
)

func init() {
	bridge.RegisterTransport("tcp", func(cfg bridge.TransportConfig) (bridge.Transport, error) {
		if cfg.TCP == nil || cfg.TCP.Addr == "" {
			return nil, errors.New("tcp transport requires tcp.addr")
		}
		return &transport{cfg: *cfg.TCP}, nil
	})
}

type transport struct{ cfg bridge.TCPConfig }

func (t *transport) String() string { return "tcp" }

func (t *transport) Open(ctx context.Context) (io.ReadWriteCloser, error) {
	d := net.Dialer{Timeout: time.Duration(t.cfg.DialTimeoutMS) * time.Millisecond}
	conn, err := d.DialContext(ctx, "tcp", t.cfg.Addr)
	if err != nil {
		return nil, err
	}
	return conn, nil
}
