// Package gstdev implements the capture Device on GStreamer:
//
//	v4l2src → capsfilter → appsink
//
// The appsink streaming thread is the capture-callback thread; a bus
// monitor goroutine reports asynchronous pipeline errors.
package gstdev

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"

	"github.com/Banakin/gst-plugin-bigeye/internal/capture"
)

const (
	// openErrorWait bounds the bus drain after a failed NULL → READY
	openErrorWait = 500 * time.Millisecond
	// DefaultStartTimeout bounds READY → PLAYING
	DefaultStartTimeout = 5 * time.Second
)

// Config configures a GStreamer device
type Config struct {
	// Path is the V4L2 device node
	Path string
	// StartTimeout bounds READY → PLAYING (default 5s)
	StartTimeout time.Duration
	Logger       *slog.Logger
}

// Device opens GStreamer capture sessions on one V4L2 node.
// At most one session is open at a time.
type Device struct {
	cfg    Config
	logger *slog.Logger

	mu   sync.Mutex
	open bool
}

// New creates a GStreamer device. Nothing is opened until Open.
func New(cfg Config) *Device {
	if cfg.StartTimeout == 0 {
		cfg.StartTimeout = DefaultStartTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Device{cfg: cfg, logger: logger}
}

// Name identifies the backend and device for logs
func (d *Device) Name() string {
	return "gstreamer:" + d.cfg.Path
}

// Open builds the pipeline and brings it to READY, which opens the device.
// On failure the pipeline is destroyed before returning.
func (d *Device) Open(format capture.Format) (capture.Session, error) {
	if err := format.Validate(); err != nil {
		return nil, capture.NewDeviceError("open", capture.ErrFormatUnsupported, err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.open {
		return nil, capture.NewDeviceError("open", capture.ErrDeviceBusy,
			fmt.Errorf("%s already has an open session", d.cfg.Path))
	}

	id := uuid.New().String()
	logger := d.logger.With("device", d.cfg.Path, "session_id", id)

	elements, err := CreatePipeline(PipelineConfig{
		Device: d.cfg.Path,
		Format: format,
		Name:   "bigeye-" + id[:8],
		Logger: logger,
	})
	if err != nil {
		return nil, capture.NewDeviceError("create-pipeline", capture.ErrOpenFailed, err)
	}

	// NULL → READY opens the device node
	if err := elements.Pipeline.SetState(gst.StateReady); err != nil {
		kind := capture.ErrOpenFailed
		cause := err
		if gerr := waitForError(elements.Pipeline, openErrorWait); gerr != nil {
			kind = KindFor(PhaseOpen, ClassifyGStreamerError(gerr))
			cause = newBusError(gerr)
		}
		if derr := DestroyPipeline(elements); derr != nil {
			logger.Error("gstdev: failed to destroy pipeline after open failure", "error", derr)
		}
		return nil, capture.NewDeviceError("open", kind, cause)
	}

	d.open = true
	logger.Info("gstdev: device opened", "format", format.String())

	return &session{
		device:   d,
		elements: elements,
		format:   format,
		logger:   logger,
	}, nil
}

func (d *Device) release() {
	d.mu.Lock()
	d.open = false
	d.mu.Unlock()
}

// session is one open pipeline
type session struct {
	device   *Device
	elements *PipelineElements
	format   capture.Format
	logger   *slog.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool

	onFrame atomic.Pointer[capture.FrameFunc]
	closed  atomic.Bool
	samples atomic.Uint64
}

func (s *session) Format() capture.Format {
	return s.format
}

// StartCallback installs the appsink callback and brings the pipeline to
// PLAYING. Format negotiation with the driver happens here, so a
// not-negotiated error maps to ErrFormatUnsupported.
func (s *session) StartCallback(onFrame capture.FrameFunc, onError capture.ErrorFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed.Load() {
		return capture.NewDeviceError("start", capture.ErrStreamStartFailed, errors.New("session closed"))
	}
	if s.started {
		return capture.NewDeviceError("start", capture.ErrStreamStartFailed, errors.New("callback already started"))
	}

	s.onFrame.Store(&onFrame)
	s.elements.AppSink.SetCallbacks(&app.SinkCallbacks{
		NewSampleFunc: s.onNewSample,
	})

	if err := s.elements.Pipeline.SetState(gst.StatePlaying); err != nil {
		kind := capture.ErrStreamStartFailed
		cause := err
		if gerr := waitForError(s.elements.Pipeline, openErrorWait); gerr != nil {
			kind = KindFor(PhaseStart, ClassifyGStreamerError(gerr))
			cause = newBusError(gerr)
		}
		s.rollbackToReady()
		return capture.NewDeviceError("start", kind, cause)
	}

	gerr, err := waitForPlaying(s.elements.Pipeline, s.device.cfg.StartTimeout, s.logger)
	if gerr != nil {
		s.rollbackToReady()
		return capture.NewDeviceError("start", KindFor(PhaseStart, ClassifyGStreamerError(gerr)), newBusError(gerr))
	}
	if err != nil {
		s.rollbackToReady()
		return capture.NewDeviceError("start", capture.ErrStreamStartFailed, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.started = true

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := monitorBus(ctx, s.elements.Pipeline, s.logger); err != nil && onError != nil {
			onError(capture.NewDeviceError("stream", capture.ErrDeviceFailed, err))
		}
	}()

	s.logger.Info("gstdev: pipeline playing")
	return nil
}

// rollbackToReady undoes a failed start; the device stays open so Close
// releases it as usual.
func (s *session) rollbackToReady() {
	s.onFrame.Store(nil)
	if err := s.elements.Pipeline.SetState(gst.StateReady); err != nil {
		s.logger.Error("gstdev: failed to return pipeline to READY", "error", err)
	}
}

// Close stops the bus monitor, then sets the pipeline to NULL. The state
// change joins the streaming thread, so no frame callback runs after
// Close returns. Idempotent.
func (s *session) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
		s.wg.Wait()
		s.cancel = nil
	}

	err := DestroyPipeline(s.elements)
	s.onFrame.Store(nil)
	s.device.release()

	s.logger.Info("gstdev: device closed", "samples", s.samples.Load())

	if err != nil {
		return capture.NewDeviceError("close", capture.ErrDeviceFailed, err)
	}
	return nil
}
