package client

import (
	"fmt"

	"github.com/juju/errors"
)

var ErrClosed = errors.New("client: closed")

// DeviceError is an explicit device-reported failure: extension response
// payload byte0=0xFF, code in byte1. Never passed to the decoder.
type DeviceError struct {
	Code byte
}

func (e DeviceError) Error() string {
	return fmt.Sprintf("device error code=%02x", e.Code)
}

// BootstrapError is a device-reported lease bootstrap failure
// (response client id 0xFFFFFFFF).
type BootstrapError struct {
	Code byte
}

func (e BootstrapError) Error() string {
	return fmt.Sprintf("bootstrap rejected by device code=%02x", e.Code)
}
