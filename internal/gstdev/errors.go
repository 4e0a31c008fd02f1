package gstdev

import (
	"errors"
	"strings"

	"github.com/tinyzimmer/go-gst/gst"

	"github.com/Banakin/gst-plugin-bigeye/internal/capture"
)

// ErrorCategory represents the classification of GStreamer errors
type ErrorCategory int

const (
	// ErrCategoryBusy indicates the device is held by another process
	ErrCategoryBusy ErrorCategory = iota
	// ErrCategoryNotFound indicates a missing or unplugged device node
	ErrCategoryNotFound
	// ErrCategoryFormat indicates caps negotiation or format failures
	ErrCategoryFormat
	// ErrCategoryPermission indicates the node exists but cannot be opened
	ErrCategoryPermission
	// ErrCategoryUnknown indicates unclassified errors
	ErrCategoryUnknown
)

// String returns a human-readable string representation of the error category
func (e ErrorCategory) String() string {
	switch e {
	case ErrCategoryBusy:
		return "busy"
	case ErrCategoryNotFound:
		return "not-found"
	case ErrCategoryFormat:
		return "format"
	case ErrCategoryPermission:
		return "permission"
	default:
		return "unknown"
	}
}

// ClassifyGStreamerError categorizes a GStreamer error from its message
// and debug string.
//
// Note: go-gst's GError does not expose Domain(), so we rely on string
// matching against the messages v4l2src posts.
func ClassifyGStreamerError(gerr *gst.GError) ErrorCategory {
	if gerr == nil {
		return ErrCategoryUnknown
	}
	return classifyMessage(gerr.Error(), gerr.DebugString())
}

func classifyMessage(errMsg, debugStr string) ErrorCategory {
	combined := strings.ToLower(errMsg + " " + debugStr)

	// Priority order: most specific first
	switch {
	case containsAny(combined, busyKeywords):
		return ErrCategoryBusy
	case containsAny(combined, notFoundKeywords):
		return ErrCategoryNotFound
	case containsAny(combined, formatKeywords):
		return ErrCategoryFormat
	case containsAny(combined, permissionKeywords):
		return ErrCategoryPermission
	default:
		return ErrCategoryUnknown
	}
}

var (
	busyKeywords = []string{
		"is busy",
		"device busy",
		"resource busy",
		"ebusy",
	}
	notFoundKeywords = []string{
		"does not exist",
		"cannot identify device",
		"no such file",
		"no such device",
		"not found",
	}
	formatKeywords = []string{
		"not-negotiated",
		"not negotiated",
		"cannot capture at",
		"failed to set format",
		"could not negotiate format",
		"caps",
		"format",
	}
	permissionKeywords = []string{
		"permission denied",
		"could not open device",
		"for reading and writing",
	}
)

func containsAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}

// Phase selects which taxonomy a classified error maps into
type Phase int

const (
	// PhaseOpen covers NULL → READY (device open)
	PhaseOpen Phase = iota
	// PhaseStart covers READY → PLAYING (format negotiation, stream on)
	PhaseStart
	// PhaseStreaming covers errors after PLAYING was reached
	PhaseStreaming
)

// KindFor maps a category to the capture error kind for the phase it
// happened in.
func KindFor(phase Phase, category ErrorCategory) error {
	switch phase {
	case PhaseOpen:
		switch category {
		case ErrCategoryBusy:
			return capture.ErrDeviceBusy
		case ErrCategoryNotFound:
			return capture.ErrDeviceNotFound
		case ErrCategoryFormat:
			return capture.ErrFormatUnsupported
		default:
			return capture.ErrOpenFailed
		}
	case PhaseStart:
		switch category {
		case ErrCategoryFormat:
			return capture.ErrFormatUnsupported
		case ErrCategoryBusy:
			return capture.ErrDeviceBusy
		default:
			return capture.ErrStreamStartFailed
		}
	default:
		return capture.ErrDeviceFailed
	}
}

// busError is a GError flattened into a Go error
type busError struct {
	message string
	debug   string
}

func (e *busError) Error() string {
	if e.debug == "" {
		return e.message
	}
	return e.message + " (" + e.debug + ")"
}

func newBusError(gerr *gst.GError) error {
	if gerr == nil {
		return errors.New("unknown pipeline error")
	}
	return &busError{message: gerr.Error(), debug: gerr.DebugString()}
}
