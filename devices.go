package bigeyesrc

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/Banakin/gst-plugin-bigeye/internal/capture"
	"github.com/Banakin/gst-plugin-bigeye/internal/gstdev"
	"github.com/Banakin/gst-plugin-bigeye/internal/simdev"
	"github.com/Banakin/gst-plugin-bigeye/internal/usbid"
	"github.com/Banakin/gst-plugin-bigeye/internal/v4l2dev"
)

// Device opens capture sessions on one physical device.
// See internal/capture/device.go for the contract.
type Device = capture.Device

// Session is one open device with a negotiated format
type Session = capture.Session

// SimulatedDevice generates a synthetic test pattern, with error
// injection and handle accounting. See internal/simdev.
type SimulatedDevice = simdev.Device

// SimulatedDeviceConfig configures NewSimulatedDevice
type SimulatedDeviceConfig = simdev.Config

// DeviceConfig selects a physical device.
//
// With Path empty, the first capture node whose USB ids match VendorID /
// ProductID is used (empty ids fall back to the build-time defaults, then
// match anything). The lookup runs on every Open, so a camera plugged in
// after construction is found.
type DeviceConfig struct {
	Path      string
	VendorID  string
	ProductID string
	Logger    *slog.Logger
}

// NewGStreamerDevice returns a device captured through a GStreamer
// v4l2src pipeline.
func NewGStreamerDevice(cfg DeviceConfig) Device {
	return newDevice("gstreamer", cfg, func(path string) Device {
		return gstdev.New(gstdev.Config{Path: path, Logger: cfg.Logger})
	})
}

// NewV4L2Device returns a device captured directly through V4L2 ioctls.
func NewV4L2Device(cfg DeviceConfig) Device {
	return newDevice("v4l2", cfg, func(path string) Device {
		return v4l2dev.New(v4l2dev.Config{Path: path, Logger: cfg.Logger})
	})
}

// NewSimulatedDevice returns a device that needs no hardware.
func NewSimulatedDevice(cfg SimulatedDeviceConfig) *SimulatedDevice {
	return simdev.New(cfg)
}

func newDevice(backend string, cfg DeviceConfig, build func(path string) Device) Device {
	if cfg.Path != "" {
		return build(cfg.Path)
	}

	vendor, product := cfg.VendorID, cfg.ProductID
	if vendor == "" && product == "" {
		vendor, product = usbid.DefaultVendor, usbid.DefaultProduct
	}
	return &usbDevice{
		backend:  backend,
		vendor:   vendor,
		product:  product,
		build:    build,
		backends: make(map[string]Device),
	}
}

// usbDevice resolves vendor/product to a node on each Open and delegates
// to one backend device per node, so exclusivity holds per node.
type usbDevice struct {
	backend         string
	vendor, product string
	build           func(path string) Device

	mu       sync.Mutex
	backends map[string]Device
}

func (d *usbDevice) Name() string {
	return fmt.Sprintf("%s:usb[%s:%s]", d.backend, orAny(d.vendor), orAny(d.product))
}

func (d *usbDevice) Open(format CaptureFormat) (Session, error) {
	node, err := usbid.Find(d.vendor, d.product)
	if err != nil {
		return nil, capture.NewDeviceError("find", capture.ErrDeviceNotFound, err)
	}

	d.mu.Lock()
	dev, ok := d.backends[node.Path]
	if !ok {
		dev = d.build(node.Path)
		d.backends[node.Path] = dev
	}
	d.mu.Unlock()

	return dev.Open(format)
}

func orAny(id string) string {
	if id == "" {
		return "*"
	}
	return id
}
