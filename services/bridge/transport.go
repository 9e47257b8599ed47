// bridge/transport.go

package bridge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
)

// Transport dials the peer. Open may be called repeatedly; every call
// yields a fresh connection.
type Transport interface {
	Open(ctx context.Context) (io.ReadWriteCloser, error)
	String() string
}

type transportFactory func(TransportConfig) (Transport, error)

var (
	transportMu  sync.RWMutex
	transportFor = map[string]transportFactory{}
)

// RegisterTransport makes a named transport selectable from config. The ws
// subpackage registers itself this way; "uart" is built in.
func RegisterTransport(name string, f transportFactory) {
	transportMu.Lock()
	transportFor[name] = f
	transportMu.Unlock()
}

func newTransport(cfg TransportConfig) (Transport, error) {
	transportMu.RLock()
	f, ok := transportFor[cfg.Type]
	transportMu.RUnlock()
	if ok {
		return f(cfg)
	}
	if cfg.Type == "uart" {
		return newUARTTransport(cfg)
	}
	return nil, fmt.Errorf("unknown transport type: %q", cfg.Type)
}

// UARTDial is injected by platform code. It opens the configured UART as a
// byte stream; firmware builds wire it to the uartx driver, hosts leave it
// nil and select a registered transport instead.
var UARTDial func(ctx context.Context, u UARTConfig) (io.ReadWriteCloser, error)

var errNoDial = errors.New("no UART dialler wired for this platform")

type uartTransport struct {
	cfg *UARTConfig
}

func newUARTTransport(cfg TransportConfig) (Transport, error) {
	if cfg.UART == nil {
		return nil, errors.New("uart transport requires uart config")
	}
	return &uartTransport{cfg: cfg.UART}, nil
}

func (u *uartTransport) Open(ctx context.Context) (io.ReadWriteCloser, error) {
	if UARTDial == nil {
		return nil, errNoDial
	}
	return UARTDial(ctx, *u.cfg)
}

func (u *uartTransport) String() string { return "uart" }
