package compute

import (
	"errors"
	"fmt"
)

// Common errors
var (
	ErrReleased       = errors.New("buffer already released")
	ErrForeignBuffer  = errors.New("buffer does not belong to this device")
	ErrUnknownKernel  = errors.New("unknown kernel")
	ErrArgIndex       = errors.New("kernel argument index out of range")
	ErrArgType        = errors.New("unsupported kernel argument type")
	ErrMissingArg     = errors.New("kernel argument not bound")
	ErrRegion         = errors.New("region outside image bounds")
	ErrShortBuffer    = errors.New("host buffer too small for region")
	ErrOutOfResources = errors.New("out of device resources")
)

// DeviceError is a runtime failure reported by a backend. It is distinct
// from caller mistakes: the same call may succeed later.
type DeviceError struct {
	Op     string // e.g. "enqueue", "write", "alloc", "set-arg"
	Kernel string // kernel name when the failure is tied to one
	Status int    // backend status code, 0 when not applicable
	Err    error
}

func (e *DeviceError) Error() string {
	msg := e.Op
	if e.Kernel != "" {
		msg += " " + e.Kernel
	}
	if e.Status != 0 {
		msg += fmt.Sprintf(" (status %d)", e.Status)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *DeviceError) Unwrap() error { return e.Err }

// Wrap returns err as a DeviceError for op, keeping an existing one intact.
func Wrap(op, kernel string, err error) error {
	if err == nil {
		return nil
	}
	var de *DeviceError
	if errors.As(err, &de) {
		return err
	}
	return &DeviceError{Op: op, Kernel: kernel, Err: err}
}

// IsDeviceError reports whether err came from a backend.
func IsDeviceError(err error) bool {
	var de *DeviceError
	return errors.As(err, &de)
}
