package bigeyesrc

import (
	"time"

	"github.com/Banakin/gst-plugin-bigeye/internal/capture"
)

// CaptureFormat is re-exported from the internal capture package.
// See internal/capture/format.go for full documentation.
type CaptureFormat = capture.Format

// PixelEncoding is the on-wire encoding of captured frames
type PixelEncoding = capture.PixelEncoding

const (
	// EncodingYUYV is packed 4:2:2 YUV, 2 bytes per pixel
	EncodingYUYV = capture.EncodingYUYV
	// EncodingMJPEG is motion JPEG, one JPEG image per frame
	EncodingMJPEG = capture.EncodingMJPEG
)

// DefaultFormat is the fixed capture format used when Config.Format is
// zero: 640x480 @ 30 fps, uncompressed YUYV.
var DefaultFormat = CaptureFormat{
	Width:     640,
	Height:    480,
	FrameRate: 30,
	Encoding:  EncodingYUYV,
}

// ParseEncoding maps a config name ("yuyv", "mjpeg") to an encoding
func ParseEncoding(s string) (PixelEncoding, error) {
	return capture.ParseEncoding(s)
}

// SessionState is the capture lifecycle state
type SessionState int

const (
	// StateIdle: created, nothing negotiated or opened
	StateIdle SessionState = iota
	// StateNegotiated: a format was accepted, device not open
	StateNegotiated
	// StateStreaming: device open and delivering into the mailbox
	StateStreaming
	// StateStopped: torn down by Stop; Start may be called again
	StateStopped
	// StateErrored: a start step or the device failed; Pull reports the
	// error until Stop or Start
	StateErrored
)

// String returns a human-readable string representation of the state
func (s SessionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateNegotiated:
		return "negotiated"
	case StateStreaming:
		return "streaming"
	case StateStopped:
		return "stopped"
	case StateErrored:
		return "errored"
	default:
		return "unknown"
	}
}

// MarshalText renders the state name in JSON/YAML
func (s SessionState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// OutputBuffer is one pulled frame, created fresh per Pull.
// Payload ownership transfers to the caller.
type OutputBuffer struct {
	// Payload is the frame exactly as the device delivered it
	Payload []byte
	// PTS is the running time at pull, relative to the base time
	PTS time.Duration
	// PTSValid is false when no clock was available; PTS is then unset
	PTSValid bool
	// Duration is 1 / negotiated frame rate
	Duration time.Duration
	// Seq is the capture sequence number (gaps mean overwritten frames)
	Seq uint64
	// TraceID is a unique identifier for distributed tracing
	TraceID string
	// CapturedAt is when the capture callback received the frame
	CapturedAt time.Time
}

// Stats contains current element statistics
type Stats struct {
	// State is the current lifecycle state
	State SessionState `json:"state"`
	// Device identifies the backend and node
	Device string `json:"device"`
	// Format is the negotiated format (fixed format before negotiation)
	Format string `json:"format"`
	// FramesCaptured is the total number of frames the device delivered
	FramesCaptured uint64 `json:"frames_captured"`
	// BytesCaptured is the total payload bytes the device delivered
	BytesCaptured uint64 `json:"bytes_captured"`
	// FramesPulled is the number of buffers handed downstream
	FramesPulled uint64 `json:"frames_pulled"`
	// FramesDropped counts frames overwritten in the mailbox before a pull
	FramesDropped uint64 `json:"frames_dropped"`
	// DropRate is the percentage of captured frames dropped (0-100)
	DropRate float64 `json:"drop_rate"`
	// PullTimeouts counts pulls that ended with ErrEndOfStream
	PullTimeouts uint64 `json:"pull_timeouts"`
	// PullCancels counts pulls that ended with ErrCancelled
	PullCancels uint64 `json:"pull_cancels"`
	// Sessions counts successful starts
	Sessions uint64 `json:"sessions"`
	// FPSTarget is the negotiated frame rate
	FPSTarget float64 `json:"fps_target"`
	// FPSReal is the measured delivery rate over the recent window
	FPSReal float64 `json:"fps_real"`
	// JitterMS is the mean deviation from the expected frame interval
	JitterMS float64 `json:"jitter_ms"`
	// IsStable reports a steady delivery cadence
	IsStable bool `json:"is_stable"`
	// LatencyMS is the time since last frame in milliseconds
	LatencyMS int64 `json:"latency_ms"`
	// Uptime is the time since the current session started
	Uptime time.Duration `json:"uptime_ns"`
	// LastError is the error that moved the element to Errored
	LastError string `json:"last_error,omitempty"`
}
