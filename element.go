package bigeyesrc

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/Banakin/gst-plugin-bigeye/internal/cadence"
	"github.com/Banakin/gst-plugin-bigeye/internal/mailbox"
)

// PollInterval is the worst-case delay Pull adds beyond maxWait
const PollInterval = mailbox.PollInterval

// Config contains configuration for an Element
type Config struct {
	// Device is the capture device (required)
	Device Device
	// Format is the fixed capture format requested from the device.
	// Zero value means DefaultFormat.
	Format CaptureFormat
	// Logger defaults to slog.Default()
	Logger *slog.Logger
}

// Element is the live capture source: the capture lifecycle state machine
// plus the buffer producer, bridged by a single-slot mailbox.
//
// Two goroutines touch it while streaming: the device's capture callback
// (writes the mailbox) and the single consumer calling Pull. Lifecycle
// calls may come from any goroutine.
type Element struct {
	device Device
	fixed  CaptureFormat
	logger *slog.Logger

	mailbox *mailbox.Mailbox
	cadence cadence.Window

	// mu guards the lifecycle fields below; it is never held while Pull
	// waits on the mailbox.
	mu            sync.Mutex
	state         SessionState
	negotiated    CaptureFormat
	hasNegotiated bool
	session       Session
	lastErr       error
	clock         Clock
	baseTime      time.Duration
	startedAt     time.Time

	// Statistics (atomic)
	seq            atomic.Uint64
	framesCaptured atomic.Uint64
	bytesCaptured  atomic.Uint64
	framesPulled   atomic.Uint64
	pullTimeouts   atomic.Uint64
	pullCancels    atomic.Uint64
	sessions       atomic.Uint64
	lastFrameAt    atomic.Int64 // unix nanos

	// failure is set from the device goroutine, which must not take mu.
	// Readers holding mu fold it into state via syncFailureLocked.
	failure atomic.Pointer[deviceFailure]
}

type deviceFailure struct {
	err error
}

// NewElement creates an idle element. The device is not touched until
// Start.
func NewElement(cfg Config) (*Element, error) {
	if cfg.Device == nil {
		return nil, fmt.Errorf("bigeyesrc: device is required")
	}

	format := cfg.Format
	if format == (CaptureFormat{}) {
		format = DefaultFormat
	}
	if err := format.Validate(); err != nil {
		return nil, fmt.Errorf("bigeyesrc: invalid capture format: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	logger.Info("bigeyesrc: element created",
		"device", cfg.Device.Name(),
		"format", format.String(),
		"caps", format.Caps(),
	)

	return &Element{
		device:  cfg.Device,
		fixed:   format,
		logger:  logger,
		mailbox: mailbox.New(),
		state:   StateIdle,
	}, nil
}

// Negotiate validates format against the fixed capture format: width,
// height and encoding must match and the rate must be in (0, fixed rate].
// An accepted format drives PTS duration and Latency from then on.
func (e *Element) Negotiate(format CaptureFormat) error {
	if err := e.checkCompatible(format); err != nil {
		e.logger.Warn("bigeyesrc: format rejected",
			"proposed", format.String(),
			"fixed", e.fixed.String(),
			"error", err,
		)
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.negotiated = format
	e.hasNegotiated = true
	if e.state == StateIdle || e.state == StateStopped {
		e.state = StateNegotiated
	}

	e.logger.Info("bigeyesrc: format negotiated",
		"format", format.String(),
		"frame_duration", format.FrameDuration(),
		"state", e.state.String(),
	)
	return nil
}

func (e *Element) checkCompatible(format CaptureFormat) error {
	switch {
	case format.Width != e.fixed.Width || format.Height != e.fixed.Height:
		return fmt.Errorf("bigeyesrc: resolution %s, device captures %s: %w",
			format.Resolution(), e.fixed.Resolution(), ErrFormatUnsupported)
	case format.Encoding != e.fixed.Encoding:
		return fmt.Errorf("bigeyesrc: encoding %s, device captures %s: %w",
			format.Encoding, e.fixed.Encoding, ErrFormatUnsupported)
	case format.FrameRate == 0 || format.FrameRate > e.fixed.FrameRate:
		return fmt.Errorf("bigeyesrc: frame rate %d outside (0, %d]: %w",
			format.FrameRate, e.fixed.FrameRate, ErrFormatUnsupported)
	}
	return nil
}

// NegotiateCaps parses a caps string and negotiates it
func (e *Element) NegotiateCaps(caps string) error {
	format, err := ParseCaps(caps)
	if err != nil {
		return fmt.Errorf("bigeyesrc: %v: %w", err, ErrFormatUnsupported)
	}
	return e.Negotiate(format)
}

// Start opens the device and starts delivery into the mailbox.
func (e *Element) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.syncFailureLocked()

	switch e.state {
	case StateStreaming:
		return fmt.Errorf("bigeyesrc: start: %w", ErrAlreadyStreaming)
	case StateErrored:
		e.logger.Info("bigeyesrc: restarting after error", "last_error", e.lastErr)
		e.teardownLocked()
	}

	// Leftovers from an earlier session must never reach this one
	e.mailbox.Clear()
	e.mailbox.SetFlushing(false)
	e.cadence.Reset()
	e.failure.Store(nil)

	session, err := e.device.Open(e.fixed)
	if err != nil {
		return e.failLocked("open", err)
	}

	if err := session.StartCallback(e.onFrame, e.onDeviceError); err != nil {
		if cerr := session.Close(); cerr != nil {
			e.logger.Error("bigeyesrc: failed to close device after start failure", "error", cerr)
		}
		return e.failLocked("start", err)
	}

	e.session = session
	e.state = StateStreaming
	e.lastErr = nil
	e.startedAt = time.Now()
	if !e.hasNegotiated {
		e.negotiated = session.Format()
		e.hasNegotiated = true
	}
	e.sessions.Add(1)

	e.logger.Info("bigeyesrc: streaming",
		"device", e.device.Name(),
		"format", session.Format().String(),
		"negotiated", e.negotiated.String(),
	)
	return nil
}

// failLocked records a start failure. The caller has already released
// anything it opened.
func (e *Element) failLocked(op string, err error) error {
	e.state = StateErrored
	e.lastErr = err
	e.logger.Error("bigeyesrc: start failed",
		"op", op,
		"device", e.device.Name(),
		"kind", KindOf(err),
		"error", err,
	)
	return fmt.Errorf("bigeyesrc: %s: %w", op, err)
}

// Stop tears the session down. Idempotent: from Stopped nothing happens.
func (e *Element) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state == StateStopped {
		e.logger.Debug("bigeyesrc: already stopped, nothing to do")
		return nil
	}

	from := e.state
	e.teardownLocked()
	e.state = StateStopped
	e.lastErr = nil

	e.logger.Info("bigeyesrc: stopped",
		"from", from.String(),
		"frames_captured", e.framesCaptured.Load(),
		"frames_pulled", e.framesPulled.Load(),
	)
	return nil
}

// teardownLocked wakes a blocked Pull, closes the session (errors logged)
// and clears the mailbox.
func (e *Element) teardownLocked() {
	e.mailbox.SetFlushing(true)

	if e.session != nil {
		if err := e.session.Close(); err != nil {
			e.logger.Error("bigeyesrc: failed to close device", "device", e.device.Name(), "error", err)
		}
		e.session = nil
	}

	// Close has joined the device goroutines, so no failure can follow
	e.failure.Store(nil)
	e.mailbox.Clear()
}

// Unlock makes a blocked Pull return ErrCancelled
func (e *Element) Unlock() {
	e.logger.Debug("bigeyesrc: unlock")
	e.mailbox.SetFlushing(true)
}

// UnlockStop clears the flushing state set by Unlock
func (e *Element) UnlockStop() {
	e.logger.Debug("bigeyesrc: unlock stop")
	e.mailbox.SetFlushing(false)
}

// Pull waits up to maxWait for the latest frame and wraps it in a
// timestamped buffer.
func (e *Element) Pull(maxWait time.Duration) (*OutputBuffer, error) {
	e.mu.Lock()
	e.syncFailureLocked()
	switch e.state {
	case StateStreaming:
	case StateErrored:
		err := e.lastErr
		e.mu.Unlock()
		return nil, fmt.Errorf("bigeyesrc: pull: %w", err)
	default:
		state := e.state
		e.mu.Unlock()
		return nil, fmt.Errorf("bigeyesrc: pull in state %s: %w", state, ErrNotNegotiated)
	}
	duration := e.negotiated.FrameDuration()
	clock, base := e.clock, e.baseTime
	e.mu.Unlock()

	frame, err := e.mailbox.TakeTimeout(maxWait)
	switch {
	case err == nil:
	case errors.Is(err, mailbox.ErrFlushing):
		e.pullCancels.Add(1)
		return nil, fmt.Errorf("bigeyesrc: pull: %w", ErrCancelled)
	case errors.Is(err, mailbox.ErrTimeout):
		e.pullTimeouts.Add(1)
		e.logger.Debug("bigeyesrc: no frame within timeout", "max_wait", maxWait)
		return nil, fmt.Errorf("bigeyesrc: no frame within %v: %w", maxWait, ErrEndOfStream)
	default:
		e.markErrored(err)
		return nil, fmt.Errorf("bigeyesrc: pull: %w", err)
	}

	buf := &OutputBuffer{
		Payload:    frame.Data,
		Duration:   duration,
		Seq:        frame.Seq,
		TraceID:    frame.TraceID,
		CapturedAt: frame.CapturedAt,
	}
	if clock != nil {
		if now, ok := clock.Now(); ok {
			buf.PTS = max(now-base, 0)
			buf.PTSValid = true
		}
	}

	e.framesPulled.Add(1)
	return buf, nil
}

// markErrored moves a streaming element to Errored after an asynchronous
// device failure surfaced through the mailbox.
func (e *Element) markErrored(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != StateStreaming {
		return
	}
	e.failure.CompareAndSwap(nil, &deviceFailure{err: err})
	e.syncFailureLocked()
}

// syncFailureLocked moves a streaming element to Errored once the device
// has reported a failure, so State and Stats agree with the next Pull.
func (e *Element) syncFailureLocked() {
	if e.state != StateStreaming {
		return
	}
	f := e.failure.Load()
	if f == nil {
		return
	}
	e.state = StateErrored
	e.lastErr = f.err
	e.logger.Error("bigeyesrc: device failed while streaming",
		"device", e.device.Name(),
		"error", f.err,
	)
}

// onFrame runs on the device's capture thread: stamp and store, nothing else
func (e *Element) onFrame(data []byte) {
	now := time.Now()
	e.framesCaptured.Add(1)
	e.bytesCaptured.Add(uint64(len(data)))
	e.lastFrameAt.Store(now.UnixNano())
	e.cadence.Record(now)

	e.mailbox.Put(&mailbox.Frame{
		Data:       data,
		Seq:        e.seq.Add(1),
		CapturedAt: now,
		TraceID:    uuid.New().String(),
	})
}

// onDeviceError runs on a device goroutine. It must not take e.mu: Stop
// holds it while Close waits for that goroutine.
func (e *Element) onDeviceError(err error) {
	e.logger.Error("bigeyesrc: device reported failure", "device", e.device.Name(), "error", err)
	e.failure.CompareAndSwap(nil, &deviceFailure{err: err})
	e.mailbox.Fail(err)
}

// SetClock sets the pipeline clock and base time used for PTS. A nil
// clock leaves buffers without PTS.
func (e *Element) SetClock(clock Clock, baseTime time.Duration) {
	e.mu.Lock()
	e.clock = clock
	e.baseTime = baseTime
	e.mu.Unlock()
}

// State returns the current lifecycle state
func (e *Element) State() SessionState {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.syncFailureLocked()
	return e.state
}

// LastError returns the error that moved the element to Errored, if any
func (e *Element) LastError() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.syncFailureLocked()
	return e.lastErr
}

// Format returns the negotiated format, or the fixed one before negotiation
func (e *Element) Format() CaptureFormat {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.hasNegotiated {
		return e.negotiated
	}
	return e.fixed
}

// Caps returns the single caps description the element advertises
func (e *Element) Caps() string {
	return SupportedCaps(e.fixed)
}

// IsLive reports that frames are produced in real time
func (e *Element) IsLive() bool { return true }

// IsSeekable reports that a live camera cannot seek
func (e *Element) IsSeekable() bool { return false }

// Latency answers a latency query: one frame duration once a format is
// negotiated. ok is false before that.
func (e *Element) Latency() (live bool, min time.Duration, ok bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.hasNegotiated {
		return false, 0, false
	}
	return true, e.negotiated.FrameDuration(), true
}

// Stats returns current element statistics.
//
// Thread-safe - counters are atomic and the lifecycle fields are read
// under the state lock.
func (e *Element) Stats() Stats {
	e.mu.Lock()
	e.syncFailureLocked()
	state := e.state
	format := e.fixed
	if e.hasNegotiated {
		format = e.negotiated
	}
	startedAt := e.startedAt
	lastErr := e.lastErr
	e.mu.Unlock()

	_, dropped := e.mailbox.Stats()
	captured := e.framesCaptured.Load()

	var dropRate float64
	if captured > 0 {
		dropRate = float64(dropped) / float64(captured) * 100
	}

	var latencyMS int64
	if last := e.lastFrameAt.Load(); last > 0 {
		latencyMS = time.Since(time.Unix(0, last)).Milliseconds()
	}

	var uptime time.Duration
	if state == StateStreaming && !startedAt.IsZero() {
		uptime = time.Since(startedAt)
	}

	c := e.cadence.Stats()

	stats := Stats{
		State:          state,
		Device:         e.device.Name(),
		Format:         format.String(),
		FramesCaptured: captured,
		BytesCaptured:  e.bytesCaptured.Load(),
		FramesPulled:   e.framesPulled.Load(),
		FramesDropped:  dropped,
		DropRate:       dropRate,
		PullTimeouts:   e.pullTimeouts.Load(),
		PullCancels:    e.pullCancels.Load(),
		Sessions:       e.sessions.Load(),
		FPSTarget:      float64(format.FrameRate),
		FPSReal:        c.FPSMean,
		JitterMS:       c.JitterMean * 1000,
		IsStable:       c.IsStable,
		LatencyMS:      latencyMS,
		Uptime:         uptime,
	}
	if lastErr != nil {
		stats.LastError = lastErr.Error()
	}
	return stats
}
