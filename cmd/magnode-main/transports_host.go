//go:build !rp2040 && !rp2350

package main

// Host builds of the node bridge over websocket or a plain socket; firmware
// builds keep the UART dialler wired by platform and never link either.
import (
	_ "magnode-go/services/bridge/tcp"
	_ "magnode-go/services/bridge/ws"
)
