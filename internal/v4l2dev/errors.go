package v4l2dev

import (
	"errors"
	"syscall"

	"github.com/Banakin/gst-plugin-bigeye/internal/capture"
)

// classifyErrno maps an errno from the V4L2 ioctls to the capture error
// taxonomy; errors without an errno get fallback.
//
// During streaming (fallback ErrDeviceFailed) every failure is a device
// failure: the errno is kept in Code for diagnosis.
func classifyErrno(op string, err error, fallback error) *capture.DeviceError {
	kind := fallback

	var errno syscall.Errno
	hasErrno := errors.As(err, &errno)

	if hasErrno && fallback != capture.ErrDeviceFailed {
		switch errno {
		case syscall.EBUSY:
			kind = capture.ErrDeviceBusy
		case syscall.ENOENT, syscall.ENODEV, syscall.ENXIO:
			kind = capture.ErrDeviceNotFound
		case syscall.EINVAL:
			if op == "set-format" {
				kind = capture.ErrFormatUnsupported
			}
		case syscall.EACCES, syscall.EPERM:
			kind = capture.ErrOpenFailed
		}
	}

	de := capture.NewDeviceError(op, kind, err)
	if hasErrno {
		de.Code = int(errno)
	}
	return de
}
