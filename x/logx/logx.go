// Package logx wraps op/go-logging for the host-side tools. Firmware builds
// never import this; MCU paths stick to println.
package logx

import (
	"os"

	"github.com/op/go-logging"
)

// Log is the shared logger for host commands.
var Log = logging.MustGetLogger("magnode")

var leveled logging.LeveledBackend

var format = logging.MustStringFormatter(
	"%{color}%{time:15:04:05.000} %{level:.4s} [%{shortfunc}] %{message}%{color:reset}",
)

// Initialize wires a formatted stderr backend at INFO level. Call once,
// before the first log statement that matters.
func Initialize() {
	backend := logging.NewLogBackend(os.Stderr, "", 0)
	formatted := logging.NewBackendFormatter(backend, format)
	leveled = logging.AddModuleLevel(formatted)
	leveled.SetLevel(logging.INFO, "")
	logging.SetBackend(leveled)
}

// SetLevel adjusts the global level by name ("debug", "info", "warning", ...).
// An unknown name leaves the current level in place.
func SetLevel(name string) {
	lvl, err := logging.LogLevel(name)
	if err != nil {
		Log.Warningf("invalid log level %q, keeping current", name)
		return
	}
	leveled.SetLevel(lvl, "")
}
