// bridge/ws/ws.go

// Package ws adds a websocket transport to the bridge, selected by
// `"transport":{"type":"ws","ws":{"url":...}}`. Import it for its side
// effect:
//
//	import _ "magnode-go/services/bridge/ws"
//
// It lives outside the bridge package so MCU builds never link
// gorilla/websocket.
package ws

import (
	"context"
	"errors"
	"io"

	"github.com/gorilla/websocket"

	"magnode-go/services/bridge"
)

func init() {
	bridge.RegisterTransport("ws", func(cfg bridge.TransportConfig) (bridge.Transport, error) {
		if cfg.WS == nil || cfg.WS.URL == "" {
			return nil, errors.New("ws transport requires ws.url")
		}
		return &transport{url: cfg.WS.URL}, nil
	})
}

type transport struct{ url string }

func (t *transport) String() string { return "ws" }

func (t *transport) Open(ctx context.Context) (io.ReadWriteCloser, error) {
	c, _, err := websocket.DefaultDialer.DialContext(ctx, t.url, nil)
	if err != nil {
		return nil, err
	}
	return &Stream{c: c}, nil
}

// Stream presents a message-oriented websocket as the byte stream the bridge
// framing expects. Each Write becomes one binary message; Read drains
// messages in order. Safe for one reader and one writer goroutine, matching
// gorilla's own concurrency contract.
type Stream struct {
	c *websocket.Conn
	r io.Reader
}

// NewStream wraps an already-established connection, e.g. one produced by an
// Upgrader on the accepting side of the link.
func NewStream(c *websocket.Conn) *Stream { return &Stream{c: c} }

func (s *Stream) Read(p []byte) (int, error) {
	for {
		if s.r == nil {
			_, r, err := s.c.NextReader()
			if err != nil {
				return 0, err
			}
			s.r = r
		}
		n, err := s.r.Read(p)
		if err == io.EOF {
			s.r = nil
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, err
	}
}

func (s *Stream) Write(p []byte) (int, error) {
	if err := s.c.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (s *Stream) Close() error { return s.c.Close() }
