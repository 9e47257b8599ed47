// Package errcode defines the stable error identifiers carried in control
// replies and state payloads. Base-station code matches on these strings,
// so they never change spelling once shipped.
package errcode

import (
	"errors"

	"magnode-go/drivers/hmc58x3"
)

// Code is a bus-facing error identifier. It is comparable and implements
// error, so adaptors can both return it and put it on the wire.
type Code string

func (c Code) Error() string { return string(c) }

const (
	OK   Code = "ok"
	Busy Code = "busy"

	// Request shape problems.
	InvalidParams     Code = "invalid_params"
	InvalidTopic      Code = "invalid_topic"
	UnknownCapability Code = "unknown_capability"

	// Configuration referring to hardware that is not there.
	UnknownBus Code = "unknown_bus"
	UnknownPin Code = "unknown_pin"

	// Calibration failure taxonomy, one code per driver error.
	WrongDevice    Code = "wrong_device"
	Saturated      Code = "saturated"
	OutOfTolerance Code = "out_of_tolerance"

	Error Code = "error" // anything without a mapping, transport failures included
)

// MapDriverErr folds a compass driver error into its wire code. Wrapped
// errors unwrap; unknown ones collapse to Error.
func MapDriverErr(err error) Code {
	switch {
	case err == nil:
		return OK
	case errors.Is(err, hmc58x3.ErrBadParam):
		return InvalidParams
	case errors.Is(err, hmc58x3.ErrWrongID):
		return WrongDevice
	case errors.Is(err, hmc58x3.ErrSaturated):
		return Saturated
	case errors.Is(err, hmc58x3.ErrOutOfRange):
		return OutOfTolerance
	}
	return Error
}
