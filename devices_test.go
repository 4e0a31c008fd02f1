package bigeyesrc

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/Banakin/gst-plugin-bigeye/internal/usbid"
)

func TestUSBDevice_NotFound(t *testing.T) {
	old := usbid.SysfsRoot
	usbid.SysfsRoot = t.TempDir() // no video nodes at all
	defer func() { usbid.SysfsRoot = old }()

	for _, dev := range []Device{
		NewGStreamerDevice(DeviceConfig{VendorID: "046d", ProductID: "0825"}),
		NewV4L2Device(DeviceConfig{VendorID: "046d", ProductID: "0825"}),
	} {
		t.Run(dev.Name(), func(t *testing.T) {
			elem, err := NewElement(Config{Device: dev, Logger: quietLogger()})
			if err != nil {
				t.Fatalf("NewElement() error = %v", err)
			}

			err = elem.Start()
			if !errors.Is(err, ErrDeviceNotFound) {
				t.Fatalf("Start() error = %v, want ErrDeviceNotFound", err)
			}
			var de *DeviceError
			if !errors.As(err, &de) || de.Op != "find" {
				t.Errorf("Start() error %v does not carry op find", err)
			}
			if elem.State() != StateErrored {
				t.Errorf("State() = %s, want errored", elem.State())
			}
		})
	}
}

func TestUSBDevice_Name(t *testing.T) {
	dev := NewV4L2Device(DeviceConfig{VendorID: "046d"})
	if got, want := dev.Name(), "v4l2:usb[046d:*]"; got != want {
		t.Errorf("Name() = %q, want %q", got, want)
	}

	dev = NewGStreamerDevice(DeviceConfig{Path: "/dev/video3"})
	if got, want := dev.Name(), "gstreamer:/dev/video3"; got != want {
		t.Errorf("Name() = %q, want %q", got, want)
	}
}

// TestUSBDevice_ResolvesPerOpen: the node is looked up at Open time, so a
// camera plugged in after construction is found.
func TestUSBDevice_ResolvesPerOpen(t *testing.T) {
	root := t.TempDir()
	old := usbid.SysfsRoot
	usbid.SysfsRoot = root
	defer func() { usbid.SysfsRoot = old }()

	dev := NewV4L2Device(DeviceConfig{VendorID: "1d6b"})
	if _, err := dev.Open(DefaultFormat); !errors.Is(err, ErrDeviceNotFound) {
		t.Fatalf("Open() before plug error = %v, want ErrDeviceNotFound", err)
	}

	// "Plug" a camera whose /dev node does not exist in the test sandbox
	dir := filepath.Join(root, "video42", "device")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	os.WriteFile(filepath.Join(dir, "idVendor"), []byte("1d6b\n"), 0o644)
	os.WriteFile(filepath.Join(dir, "idProduct"), []byte("0102\n"), 0o644)

	_, err := dev.Open(DefaultFormat)
	var de *DeviceError
	if !errors.As(err, &de) || de.Op == "find" {
		t.Errorf("Open() after plug error = %v, want the backend's open error", err)
	}
}

func TestMetadataAndCaps(t *testing.T) {
	md := Metadata()
	if md.Klass != "Source/Video" || md.LongName == "" {
		t.Errorf("Metadata() = %+v", md)
	}

	mjpeg := CaptureFormat{Width: 1280, Height: 720, FrameRate: 15, Encoding: EncodingMJPEG}
	if got, want := SupportedCaps(mjpeg), "image/jpeg,width=1280,height=720,framerate=15/1"; got != want {
		t.Errorf("SupportedCaps() = %q, want %q", got, want)
	}

	parsed, err := ParseCaps(SupportedCaps(DefaultFormat))
	if err != nil || parsed != DefaultFormat {
		t.Errorf("ParseCaps(SupportedCaps(DefaultFormat)) = (%v, %v)", parsed, err)
	}
}
