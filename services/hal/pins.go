package hal

import "strings"

// GPIO is abstracted to the operations the service needs so that machine
// pins, host fakes, and tests all plug in the same way.

type Pull uint8

const (
	PullNone Pull = iota
	PullUp
	PullDown
)

type GPIOPin interface {
	ConfigureInput(pull Pull) error
	ConfigureOutput(initial bool) error
	Set(level bool)
	Get() bool
	Toggle()
	Number() int
}

// Edge selects which level transitions raise an interrupt.
type Edge uint8

const (
	EdgeNone Edge = iota
	EdgeRising
	EdgeFalling
	EdgeBoth
)

// IRQPin is a GPIOPin that can call back from interrupt context. The
// handler runs in the ISR and must not block.
type IRQPin interface {
	GPIOPin
	SetIRQ(edge Edge, handler func()) error
	ClearIRQ() error
}

// PinFactory resolves configured pin numbers (GP numbering on the Pico).
type PinFactory interface {
	ByNumber(n int) (GPIOPin, bool)
}

// GPIOIRQ is the optional per-input interrupt config. The compass DRDY
// strap uses it to turn finished conversions into bus events.
type GPIOIRQ struct {
	Edge       string `json:"edge"`                  // "rising","falling","both","none"
	DebounceMS int    `json:"debounce_ms,omitempty"` // software debounce window
}

// GPIOParams is the params shape for "gpio" devices in config/hal.
type GPIOParams struct {
	Pin     int      `json:"pin"`
	Mode    string   `json:"mode"`              // "input" | "output"
	Pull    string   `json:"pull,omitempty"`    // "up" | "down" | "none"
	Initial *bool    `json:"initial,omitempty"` // outputs only
	Invert  bool     `json:"invert,omitempty"`
	IRQ     *GPIOIRQ `json:"irq,omitempty"`
}

// ---- wire spellings ----

var edgeNames = map[Edge]string{
	EdgeRising:  "rising",
	EdgeFalling: "falling",
	EdgeBoth:    "both",
}

// ParseEdge reads the config/control spelling of an edge. Unknown input
// means no IRQ rather than an error.
func ParseEdge(s string) Edge {
	s = strings.ToLower(strings.TrimSpace(s))
	for e, name := range edgeNames {
		if name == s {
			return e
		}
	}
	return EdgeNone
}

func edgeToString(e Edge) string {
	if s, ok := edgeNames[e]; ok {
		return s
	}
	return "none"
}

var pullNames = map[Pull]string{PullUp: "up", PullDown: "down"}

func parsePull(v any) Pull {
	switch strings.ToLower(asString(v)) {
	case "up", "pullup":
		return PullUp
	case "down", "pulldown":
		return PullDown
	}
	return PullNone
}

func toPullString(p Pull) string {
	if s, ok := pullNames[p]; ok {
		return s
	}
	return "none"
}
