package bigeyesrc

import "github.com/Banakin/gst-plugin-bigeye/internal/capture"

// Error kinds, tested with errors.Is.
//
// Start fails with one of the device kinds; Pull fails with
// ErrNotNegotiated, ErrEndOfStream, ErrCancelled or the device failure
// that moved the element to Errored.
var (
	ErrDeviceNotFound    = capture.ErrDeviceNotFound
	ErrDeviceBusy        = capture.ErrDeviceBusy
	ErrOpenFailed        = capture.ErrOpenFailed
	ErrFormatUnsupported = capture.ErrFormatUnsupported
	ErrStreamStartFailed = capture.ErrStreamStartFailed
	ErrDeviceFailed      = capture.ErrDeviceFailed

	ErrNotNegotiated    = capture.ErrNotNegotiated
	ErrEndOfStream      = capture.ErrEndOfStream
	ErrCancelled        = capture.ErrCancelled
	ErrAlreadyStreaming = capture.ErrAlreadyStreaming
)

// DeviceError carries the failing operation, the error kind and the
// device library's own code. Use errors.As to inspect it.
type DeviceError = capture.DeviceError

// KindOf returns the error kind of err, or nil if it carries none
func KindOf(err error) error {
	return capture.KindOf(err)
}
