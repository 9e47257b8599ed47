package errcode

import (
	"errors"
	"fmt"
	"testing"

	"magnode-go/drivers/hmc58x3"
)

// Codes travel through the error return of Adaptor.Control and back out
// of errors.Is in the service; both directions rely on Code being a
// comparable error value.
func TestCodeAsError(t *testing.T) {
	var err error = UnknownPin
	if err.Error() != "unknown_pin" {
		t.Fatalf("Error() = %q", err.Error())
	}
	if !errors.Is(err, UnknownPin) {
		t.Fatal("errors.Is failed on a bare code")
	}
	if !errors.Is(fmt.Errorf("build: %w", UnknownPin), UnknownPin) {
		t.Fatal("errors.Is failed through a wrap")
	}
	if errors.Is(err, UnknownBus) {
		t.Fatal("distinct codes compared equal")
	}
}

func TestMapDriverErr(t *testing.T) {
	cases := []struct {
		err  error
		want Code
	}{
		{nil, OK},
		{hmc58x3.ErrBadParam, InvalidParams},
		{hmc58x3.ErrWrongID, WrongDevice},
		{hmc58x3.ErrSaturated, Saturated},
		{hmc58x3.ErrOutOfRange, OutOfTolerance},
		{fmt.Errorf("collect: %w", hmc58x3.ErrSaturated), Saturated},
		{errors.New("i2c timeout"), Error},
	}
	for _, tc := range cases {
		if got := MapDriverErr(tc.err); got != tc.want {
			t.Fatalf("%v: got %v want %v", tc.err, got, tc.want)
		}
	}
}
