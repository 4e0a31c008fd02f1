// Package simdev is a simulated capture Device: it generates a synthetic
// test pattern at the negotiated rate (or only on Emit in manual mode),
// supports error injection and counts every call it would make to real
// hardware.
package simdev

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Banakin/gst-plugin-bigeye/internal/capture"
)

// Config configures a simulated device
type Config struct {
	// Name appears in logs (default "sim0")
	Name string
	// Manual disables the frame generator; frames arrive only via Emit
	Manual bool
	// OpenErr, if set, makes every Open fail with it
	OpenErr error
	// StartErr, if set, makes every StartCallback fail with it
	StartErr error
	Logger   *slog.Logger
}

// Device is a simulated capture device.
type Device struct {
	name   string
	manual bool
	logger *slog.Logger

	mu       sync.Mutex
	openErr  error
	startErr error
	current  *session

	// Accounting for tests
	opens       atomic.Int64
	closes      atomic.Int64
	deviceCalls atomic.Uint64
}

// New creates a simulated device
func New(cfg Config) *Device {
	if cfg.Name == "" {
		cfg.Name = "sim0"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Device{
		name:     cfg.Name,
		manual:   cfg.Manual,
		logger:   logger,
		openErr:  cfg.OpenErr,
		startErr: cfg.StartErr,
	}
}

// Name identifies the backend and device for logs
func (d *Device) Name() string {
	return "simulated:" + d.name
}

// SetOpenError changes open error injection (nil clears it)
func (d *Device) SetOpenError(err error) {
	d.mu.Lock()
	d.openErr = err
	d.mu.Unlock()
}

// SetStartError changes start error injection (nil clears it)
func (d *Device) SetStartError(err error) {
	d.mu.Lock()
	d.startErr = err
	d.mu.Unlock()
}

// OpenHandles returns the number of sessions opened and not yet closed
func (d *Device) OpenHandles() int {
	return int(d.opens.Load() - d.closes.Load())
}

// DeviceCalls counts operations that would reach hardware (open, format,
// stream on/off, release)
func (d *Device) DeviceCalls() uint64 {
	return d.deviceCalls.Load()
}

// Open acquires the simulated device.
func (d *Device) Open(format capture.Format) (capture.Session, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.deviceCalls.Add(1)

	if d.openErr != nil {
		return nil, wrapInjected("open", capture.ErrOpenFailed, d.openErr)
	}
	if d.current != nil {
		return nil, capture.NewDeviceError("open", capture.ErrDeviceBusy,
			fmt.Errorf("%s already has an open session", d.name))
	}
	if err := format.Validate(); err != nil {
		return nil, capture.NewDeviceError("set-format", capture.ErrFormatUnsupported, err)
	}
	d.deviceCalls.Add(1) // set-format

	s := &session{
		device: d,
		format: format,
		stop:   make(chan struct{}),
	}
	d.current = s
	d.opens.Add(1)

	d.logger.Debug("simdev: device opened", "device", d.name, "format", format.String())
	return s, nil
}

// Emit delivers data through the current session's frame callback, on the
// caller's goroutine. Returns false when no session is streaming.
func (d *Device) Emit(data []byte) bool {
	d.mu.Lock()
	s := d.current
	d.mu.Unlock()

	if s == nil {
		return false
	}
	return s.deliver(data)
}

// Fail reports err through the current session's error callback, as a
// device unplug would. Returns false when no session is streaming.
func (d *Device) Fail(err error) bool {
	d.mu.Lock()
	s := d.current
	d.mu.Unlock()

	if s == nil {
		return false
	}
	return s.fail(capture.NewDeviceError("stream", capture.ErrDeviceFailed, err))
}

func (d *Device) release(s *session) {
	d.mu.Lock()
	if d.current == s {
		d.current = nil
	}
	d.mu.Unlock()

	d.closes.Add(1)
	d.deviceCalls.Add(1)
}

// wrapInjected keeps an injected DeviceError as is, or wraps anything
// else in the given kind.
func wrapInjected(op string, kind error, err error) error {
	var de *capture.DeviceError
	if errors.As(err, &de) {
		return err
	}
	if capture.KindOf(err) != nil {
		return capture.NewDeviceError(op, capture.KindOf(err), err)
	}
	return capture.NewDeviceError(op, kind, err)
}

// session is one open simulated device
type session struct {
	device *Device
	format capture.Format

	// cbMu is held for reading while a callback runs and for writing by
	// Close, so no callback runs after Close returns.
	cbMu      sync.RWMutex
	onFrame   capture.FrameFunc
	onError   capture.ErrorFunc
	streaming bool
	closed    bool

	stop chan struct{}
	wg   sync.WaitGroup
	seq  uint64
}

func (s *session) Format() capture.Format {
	return s.format
}

func (s *session) StartCallback(onFrame capture.FrameFunc, onError capture.ErrorFunc) error {
	s.device.mu.Lock()
	startErr := s.device.startErr
	s.device.mu.Unlock()

	s.cbMu.Lock()
	defer s.cbMu.Unlock()

	if s.closed {
		return capture.NewDeviceError("start", capture.ErrStreamStartFailed, errors.New("session closed"))
	}
	if s.streaming {
		return capture.NewDeviceError("start", capture.ErrStreamStartFailed, errors.New("callback already started"))
	}

	s.device.deviceCalls.Add(1)
	if startErr != nil {
		return wrapInjected("start", capture.ErrStreamStartFailed, startErr)
	}

	s.onFrame = onFrame
	s.onError = onError
	s.streaming = true

	if !s.device.manual {
		s.wg.Add(1)
		go s.generate()
	}

	s.device.logger.Debug("simdev: streaming started", "device", s.device.name, "manual", s.device.manual)
	return nil
}

// generate emits a test pattern at the format's frame rate
func (s *session) generate() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.format.FrameDuration())
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.seq++
			data, err := Pattern(s.format, s.seq)
			if err != nil {
				s.fail(capture.NewDeviceError("generate", capture.ErrDeviceFailed, err))
				return
			}
			s.deliver(data)
		}
	}
}

func (s *session) deliver(data []byte) bool {
	s.cbMu.RLock()
	defer s.cbMu.RUnlock()

	if !s.streaming || s.closed {
		return false
	}
	s.onFrame(data)
	return true
}

func (s *session) fail(err error) bool {
	s.cbMu.RLock()
	defer s.cbMu.RUnlock()

	if !s.streaming || s.closed || s.onError == nil {
		return false
	}
	s.onError(err)
	return true
}

// Close stops the generator, then releases the device. Idempotent.
func (s *session) Close() error {
	s.cbMu.Lock()
	if s.closed {
		s.cbMu.Unlock()
		return nil
	}
	s.closed = true
	wasStreaming := s.streaming
	s.streaming = false
	s.onFrame = nil
	s.onError = nil
	s.cbMu.Unlock()

	close(s.stop)
	s.wg.Wait()

	if wasStreaming {
		s.device.deviceCalls.Add(1) // stream off
	}
	s.device.release(s)

	s.device.logger.Debug("simdev: device closed", "device", s.device.name, "generated", s.seq)
	return nil
}
