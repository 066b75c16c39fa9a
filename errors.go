package smp

import (
	"errors"
	"fmt"
)

// ErrProtocol is returned when a response fails header validation: wrong
// sequence number, wrong op/group pairing, or an unknown group value.
var ErrProtocol = errors.New("smp: protocol error")

// ErrMTUTooSmall is returned from the upload engine's fit loop when the
// configured MTU cannot carry even the smallest possible chunk.
var ErrMTUTooSmall = errors.New("smp: configured MTU too small")

// DeviceError is returned when a response body carries a non-zero rc.
// The device-reported value is always propagated verbatim, never
// coerced or reinterpreted.
type DeviceError struct {
	Rc int64
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("smp: device reported rc=%d", e.Rc)
}
