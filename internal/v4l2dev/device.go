// Package v4l2dev implements the capture Device directly on V4L2 with
// github.com/blackjack/webcam, without GStreamer. The reader goroutine is
// the capture-callback thread.
package v4l2dev

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"syscall"

	"github.com/blackjack/webcam"
	"github.com/google/uuid"

	"github.com/Banakin/gst-plugin-bigeye/internal/capture"
)

const (
	// waitSeconds is the WaitForFrame granularity; Close may take this long
	waitSeconds = 1
	// bufferCount is the number of mmap buffers queued in the driver
	bufferCount = 4
)

// Config configures a V4L2 device
type Config struct {
	Path   string
	Logger *slog.Logger
}

// Device opens V4L2 capture sessions on one node.
type Device struct {
	path   string
	logger *slog.Logger

	mu   sync.Mutex
	open bool
}

// New creates a V4L2 device. Nothing is opened until Open.
func New(cfg Config) *Device {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Device{path: cfg.Path, logger: logger}
}

// Name identifies the backend and device for logs
func (d *Device) Name() string {
	return "v4l2:" + d.path
}

// Open opens the node and sets the image format. The driver must accept
// the exact resolution; a substituted one is rejected.
func (d *Device) Open(format capture.Format) (capture.Session, error) {
	if err := format.Validate(); err != nil {
		return nil, capture.NewDeviceError("open", capture.ErrFormatUnsupported, err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.open {
		return nil, capture.NewDeviceError("open", capture.ErrDeviceBusy,
			fmt.Errorf("%s already has an open session", d.path))
	}

	logger := d.logger.With("device", d.path, "session_id", uuid.New().String())

	cam, err := webcam.Open(d.path)
	if err != nil {
		return nil, classifyErrno("open", err, capture.ErrOpenFailed)
	}

	if err := configure(cam, format, logger); err != nil {
		if cerr := cam.Close(); cerr != nil {
			logger.Error("v4l2dev: failed to close device after format failure", "error", cerr)
		}
		return nil, err
	}

	d.open = true
	logger.Info("v4l2dev: device opened", "format", format.String())

	return &session{
		device: d,
		cam:    cam,
		format: format,
		logger: logger,
		stop:   make(chan struct{}),
	}, nil
}

func configure(cam *webcam.Webcam, format capture.Format, logger *slog.Logger) error {
	pixfmt := webcam.PixelFormat(format.Encoding.FourCC())

	supported := cam.GetSupportedFormats()
	if _, ok := supported[pixfmt]; !ok {
		return capture.NewDeviceError("set-format", capture.ErrFormatUnsupported,
			fmt.Errorf("device does not offer %s", format.Encoding))
	}

	got, w, h, err := cam.SetImageFormat(pixfmt, uint32(format.Width), uint32(format.Height))
	if err != nil {
		return classifyErrno("set-format", err, capture.ErrFormatUnsupported)
	}
	if got != pixfmt || uint(w) != format.Width || uint(h) != format.Height {
		return capture.NewDeviceError("set-format", capture.ErrFormatUnsupported,
			fmt.Errorf("driver substituted %s %dx%d", supported[got], w, h))
	}

	// Not every driver implements S_PARM; the device then runs at its default rate
	if err := cam.SetFramerate(float32(format.FrameRate)); err != nil {
		logger.Warn("v4l2dev: failed to set frame rate, using driver default",
			"fps", format.FrameRate,
			"error", err,
		)
	}
	if err := cam.SetBufferCount(bufferCount); err != nil {
		logger.Warn("v4l2dev: failed to set buffer count", "error", err)
	}
	return nil
}

func (d *Device) release() {
	d.mu.Lock()
	d.open = false
	d.mu.Unlock()
}

// camera is the part of *webcam.Webcam a session drives once configured.
//
// ReadFrame returns a slice of driver mmap memory that is re-queued to the
// driver before the call returns and unmapped by StopStreaming.
type camera interface {
	StartStreaming() error
	StopStreaming() error
	WaitForFrame(timeout uint32) error
	ReadFrame() ([]byte, error)
	Close() error
}

// session is one open node
type session struct {
	device *Device
	cam    camera
	format capture.Format
	logger *slog.Logger

	mu        sync.Mutex
	stop      chan struct{}
	wg        sync.WaitGroup
	streaming bool
	closed    bool
}

func (s *session) Format() capture.Format {
	return s.format
}

// StartCallback turns streaming on and launches the reader goroutine.
func (s *session) StartCallback(onFrame capture.FrameFunc, onError capture.ErrorFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return capture.NewDeviceError("start", capture.ErrStreamStartFailed, errors.New("session closed"))
	}
	if s.streaming {
		return capture.NewDeviceError("start", capture.ErrStreamStartFailed, errors.New("callback already started"))
	}

	if err := s.cam.StartStreaming(); err != nil {
		return classifyErrno("start", err, capture.ErrStreamStartFailed)
	}
	s.streaming = true

	s.wg.Add(1)
	go s.readLoop(onFrame, onError)

	s.logger.Info("v4l2dev: streaming started")
	return nil
}

// readLoop owns the webcam handle until stop is closed.
func (s *session) readLoop(onFrame capture.FrameFunc, onError capture.ErrorFunc) {
	defer s.wg.Done()

	var frames uint64
	for {
		select {
		case <-s.stop:
			s.logger.Debug("v4l2dev: reader stopped", "frames", frames)
			return
		default:
		}

		err := s.cam.WaitForFrame(waitSeconds)
		var timeout *webcam.Timeout
		switch {
		case err == nil:
		case errors.As(err, &timeout), errors.Is(err, syscall.EINTR):
			continue
		default:
			s.reportFailure(onError, "wait", err)
			return
		}

		data, err := s.cam.ReadFrame()
		if err != nil {
			if errors.Is(err, syscall.EAGAIN) {
				continue
			}
			s.reportFailure(onError, "read", err)
			return
		}
		if len(data) == 0 {
			continue
		}

		// Close may have started while we were reading
		select {
		case <-s.stop:
			return
		default:
		}

		// data aliases a driver buffer that is already queued for the next
		// capture; the callee owns what it receives, so hand it a copy
		frameData := make([]byte, len(data))
		copy(frameData, data)

		frames++
		onFrame(frameData)
	}
}

func (s *session) reportFailure(onError capture.ErrorFunc, op string, err error) {
	select {
	case <-s.stop:
		// Errors during shutdown are expected
		return
	default:
	}

	s.logger.Error("v4l2dev: capture failed", "op", op, "error", err)
	if onError != nil {
		onError(classifyErrno(op, err, capture.ErrDeviceFailed))
	}
}

// Close joins the reader (up to waitSeconds), stops streaming and closes
// the node. Idempotent.
func (s *session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	close(s.stop)
	s.wg.Wait()

	var errs []error
	if s.streaming {
		if err := s.cam.StopStreaming(); err != nil {
			errs = append(errs, fmt.Errorf("stop streaming: %w", err))
		}
		s.streaming = false
	}
	if err := s.cam.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close: %w", err))
	}
	s.device.release()

	s.logger.Info("v4l2dev: device closed")

	if err := errors.Join(errs...); err != nil {
		return capture.NewDeviceError("close", capture.ErrDeviceFailed, err)
	}
	return nil
}
