package bigeyesrc

import "time"

// Source is the capability set a hosting pipeline drives.
//
// Implementations must guarantee:
//   - Stop() is idempotent and valid from any state
//   - Pull() never blocks longer than maxWait plus a few milliseconds
//   - Unlock() makes a blocked Pull() return ErrCancelled promptly
//   - Pull() has a single caller at a time (single consumer)
type Source interface {
	// Negotiate validates a proposed format against the fixed capture
	// format and records it for timestamp and duration derivation.
	//
	// While streaming, the recorded format affects subsequent pulls only;
	// the device is not restarted.
	//
	// Returns ErrFormatUnsupported if the proposal is incompatible.
	Negotiate(format CaptureFormat) error

	// Start opens the device, registers the frame callback and starts
	// delivery.
	//
	// Valid from Idle, Negotiated, Stopped and Errored (which first tears
	// down leftovers). Any failing step leaves no device handle open,
	// moves the element to Errored and returns the device error kind:
	// ErrDeviceNotFound, ErrDeviceBusy, ErrOpenFailed,
	// ErrFormatUnsupported or ErrStreamStartFailed.
	//
	// Returns ErrAlreadyStreaming while streaming.
	Start() error

	// Stop stops delivery, closes the device and clears the mailbox.
	//
	// Close failures are logged, never returned: the element always
	// reaches Stopped. A Pull blocked in another goroutine returns
	// ErrCancelled.
	Stop() error

	// Unlock makes any in-progress or future Pull return ErrCancelled
	// until UnlockStop.
	Unlock()

	// UnlockStop clears the flushing state set by Unlock.
	UnlockStop()

	// Pull waits up to maxWait for the most recent frame.
	//
	// Returns:
	//   - ErrNotNegotiated when not streaming
	//   - ErrEndOfStream when no frame arrived within maxWait
	//   - ErrCancelled when Unlock or Stop interrupted the wait
	//   - the device failure (ErrDeviceFailed) after an asynchronous error
	Pull(maxWait time.Duration) (*OutputBuffer, error)
}

var _ Source = (*Element)(nil)
