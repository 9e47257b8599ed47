// bridge/bridge.go

// Package bridge mirrors a slice of the local bus to a peer over a framed
// byte link. The service itself is transport-agnostic: firmware injects a
// UART dialler, host builds register a websocket transport, and either way
// the peer receives retained state as soon as the link opens and live
// traffic after that.
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"magnode-go/bus"
)

// Config arrives as JSON on config/bridge. Republishing the topic tears
// down the current link and dials again with the new settings.
type Config struct {
	Transport TransportConfig `json:"transport"`

	// Forward lists local topic patterns mirrored to the peer. String
	// tokens only; "+" and "#" wildcard the same way they do on the local
	// bus. Retained matches are synced to the peer when the link opens.
	Forward [][]string `json:"forward,omitempty"`
}

// TransportConfig selects and parameterises the link transport: "uart" is
// built in, anything else comes from RegisterTransport.
type TransportConfig struct {
	Type string      `json:"type"`
	UART *UARTConfig `json:"uart,omitempty"`
	WS   *WSConfig   `json:"ws,omitempty"`
	TCP  *TCPConfig  `json:"tcp,omitempty"`
}

// UARTConfig carries what the injected dialler needs to open the port. Pin
// mapping and UART instance selection happen inside UARTDial.
type UARTConfig struct {
	Baud           int `json:"baud"`
	RxPin          int `json:"rx_pin"`
	TxPin          int `json:"tx_pin"`
	ReadTimeoutMS  int `json:"read_timeout_ms,omitempty"` // 0 means blocking
	WriteTimeoutMS int `json:"write_timeout_ms,omitempty"`
}

// WSConfig selects a websocket peer. The transport implementation lives in
// the ws subpackage so MCU builds never pull in its dependencies.
type WSConfig struct {
	URL string `json:"url"` // e.g. "ws://base:8080/bridge"
}

// TCPConfig selects a plain-socket peer, for base stations and rigs that
// just listen on a port. Implementation in the tcp subpackage, kept off MCU
// builds the same way ws is.
type TCPConfig struct {
	Addr          string `json:"addr"`                      // host:port
	DialTimeoutMS int    `json:"dial_timeout_ms,omitempty"` // 0 leaves dialing bounded by ctx alone
}

// Service owns at most one live link. stopLink is only ever touched from
// the run loop, so there is nothing to lock.
type Service struct {
	conn     *bus.Connection
	stopLink context.CancelFunc
}

// Start runs the bridge until ctx is cancelled. It waits for configuration
// on config/bridge and keeps bridge/state retained with the link health.
func Start(ctx context.Context, conn *bus.Connection) {
	(&Service{conn: conn}).run(ctx)
}

func (s *Service) run(ctx context.Context) {
	sub := s.conn.Subscribe(bus.T("config", "bridge"))
	defer s.conn.Unsubscribe(sub)

	s.state("idle", "awaiting_config", nil)

	for {
		select {
		case <-ctx.Done():
			s.halt()
			return
		case msg, ok := <-sub.Channel():
			if !ok {
				s.state("error", "config_subscription_closed", nil)
				return
			}
			cfg, err := decodeConfig(msg.Payload)
			if err != nil {
				s.state("error", "config_decode_failed", err)
				continue
			}
			s.halt()
			linkCtx, cancel := context.WithCancel(ctx)
			s.stopLink = cancel
			go s.runLink(linkCtx, cfg)
		}
	}
}

func (s *Service) halt() {
	if s.stopLink != nil {
		s.stopLink()
		s.stopLink = nil
	}
}

// decodeConfig accepts the payload shapes a config section arrives in: raw
// JSON as string or bytes, or an object the config service already decoded.
func decodeConfig(p any) (Config, error) {
	var raw []byte
	switch v := p.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	case map[string]any:
		b, err := json.Marshal(v)
		if err != nil {
			return Config{}, err
		}
		raw = b
	default:
		return Config{}, fmt.Errorf("config payload type %T", p)
	}
	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// state keeps bridge/state retained as {"level","status","ts_ms"[,"error"]}.
// level is one of idle, up, degraded, error.
func (s *Service) state(level, status string, err error) {
	p := map[string]any{
		"level":  level,
		"status": status,
		"ts_ms":  time.Now().UnixMilli(),
	}
	if err != nil {
		p["error"] = err.Error()
	}
	s.conn.Publish(s.conn.NewMessage(bus.T("bridge", "state"), p, true))
}
