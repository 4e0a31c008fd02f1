package capture

import (
	"errors"
	"fmt"
)

// Error kinds. Backends wrap library failures in a *DeviceError carrying
// one of the device kinds; callers test with errors.Is.
var (
	ErrDeviceNotFound    = errors.New("device not found")
	ErrDeviceBusy        = errors.New("device busy")
	ErrOpenFailed        = errors.New("open failed")
	ErrFormatUnsupported = errors.New("format unsupported")
	ErrStreamStartFailed = errors.New("stream start failed")
	ErrDeviceFailed      = errors.New("device failed")

	ErrNotNegotiated    = errors.New("not negotiated")
	ErrEndOfStream      = errors.New("end of stream")
	ErrCancelled        = errors.New("cancelled")
	ErrAlreadyStreaming = errors.New("already streaming")
)

// DeviceError is a device-library failure with enough context to diagnose
// it: the operation, the taxonomy kind and the library's own code.
type DeviceError struct {
	// Op is the failing operation ("open", "set-format", "start", ...)
	Op string
	// Kind is one of the Err* sentinels above
	Kind error
	// Code is the underlying library/OS code, 0 when the library has none
	Code int
	// Err is the underlying error
	Err error
}

// NewDeviceError builds a DeviceError; code is taken from err when it
// exposes one (errno-like values).
func NewDeviceError(op string, kind error, err error) *DeviceError {
	de := &DeviceError{Op: op, Kind: kind, Err: err}
	var coded interface{ Code() int }
	if errors.As(err, &coded) {
		de.Code = coded.Code()
	}
	return de
}

func (e *DeviceError) Error() string {
	msg := e.Op + ": " + e.Kind.Error()
	if e.Code != 0 {
		msg += fmt.Sprintf(" (code %d)", e.Code)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Is matches the taxonomy kind
func (e *DeviceError) Is(target error) bool {
	return target == e.Kind
}

func (e *DeviceError) Unwrap() error {
	return e.Err
}

// KindOf returns the taxonomy kind of err, or nil if err carries none
func KindOf(err error) error {
	var de *DeviceError
	if errors.As(err, &de) {
		return de.Kind
	}
	for _, kind := range []error{
		ErrNotNegotiated, ErrEndOfStream, ErrCancelled, ErrAlreadyStreaming,
		ErrDeviceNotFound, ErrDeviceBusy, ErrOpenFailed, ErrFormatUnsupported,
		ErrStreamStartFailed, ErrDeviceFailed,
	} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}
