package capture

// FrameFunc receives one frame on a backend-owned goroutine. It must return
// quickly; the slice is owned by the callee after the call.
type FrameFunc func(data []byte)

// ErrorFunc receives asynchronous device failures while streaming.
type ErrorFunc func(err error)

// Device opens capture sessions on one physical device.
//
// Implementations must guarantee:
//   - Open leaves no resources held when it fails
//   - at most one Session is open at a time (exclusive access)
type Device interface {
	// Open acquires the device and requests format.
	// Fails with ErrDeviceNotFound, ErrDeviceBusy, ErrFormatUnsupported
	// or ErrOpenFailed.
	Open(format Format) (Session, error)

	// Name identifies the backend and device for logs
	Name() string
}

// Session is one open device with a negotiated format.
type Session interface {
	// StartCallback begins asynchronous delivery. onFrame is invoked for
	// every frame with no back-pressure; onError for device failures after
	// delivery started. Fails with ErrStreamStartFailed or
	// ErrFormatUnsupported.
	StartCallback(onFrame FrameFunc, onError ErrorFunc) error

	// Close stops delivery first (no onFrame runs after Close returns),
	// then releases the device. Idempotent.
	Close() error

	// Format is the format the device accepted
	Format() Format
}
