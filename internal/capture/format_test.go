package capture

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestFormat_Derived(t *testing.T) {
	f := Format{Width: 640, Height: 480, FrameRate: 30, Encoding: EncodingYUYV}

	if got := f.FrameDuration(); got != time.Second/30 {
		t.Errorf("FrameDuration() = %v, want %v", got, time.Second/30)
	}
	if got := f.FrameSize(); got != 640*480*2 {
		t.Errorf("FrameSize() = %d, want %d", got, 640*480*2)
	}
	if got := f.String(); got != "yuyv 640x480@30" {
		t.Errorf("String() = %q", got)
	}
	if got := (Format{}).FrameDuration(); got != 0 {
		t.Errorf("FrameDuration() of unset rate = %v, want 0", got)
	}
}

func TestFormat_Validate(t *testing.T) {
	tests := []struct {
		name    string
		format  Format
		wantErr bool
	}{
		{"valid yuyv", Format{640, 480, 30, EncodingYUYV}, false},
		{"valid mjpeg", Format{1280, 720, 15, EncodingMJPEG}, false},
		{"zero width", Format{0, 480, 30, EncodingYUYV}, true},
		{"zero rate", Format{640, 480, 0, EncodingYUYV}, true},
		{"bad encoding", Format{640, 480, 30, PixelEncoding(9)}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.format.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestParseCaps(t *testing.T) {
	tests := []struct {
		caps    string
		want    Format
		wantErr bool
	}{
		{"video/x-raw,format=YUY2,width=640,height=480,framerate=30/1", Format{640, 480, 30, EncodingYUYV}, false},
		{"video/x-raw, format=(string)YUY2, width=(int)640, height=(int)480, framerate=(fraction)15/1", Format{640, 480, 15, EncodingYUYV}, false},
		{"image/jpeg,width=1280,height=720,framerate=30000/1001", Format{1280, 720, 29, EncodingMJPEG}, false},
		{"video/x-raw,format=RGB,width=640,height=480,framerate=30/1", Format{}, true},
		{"video/x-h264,width=640", Format{}, true},
		{"video/x-raw,width", Format{}, true},
		{"video/x-raw,framerate=30/0", Format{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.caps, func(t *testing.T) {
			got, err := ParseCaps(tt.caps)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseCaps() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("ParseCaps() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestCaps_RoundTrip(t *testing.T) {
	for _, f := range []Format{
		{640, 480, 30, EncodingYUYV},
		{1920, 1080, 5, EncodingMJPEG},
	} {
		got, err := ParseCaps(f.Caps())
		if err != nil || got != f {
			t.Errorf("ParseCaps(%q) = (%+v, %v), want %+v", f.Caps(), got, err, f)
		}
	}
}

type codedErr int

func (c codedErr) Error() string { return fmt.Sprintf("errno %d", int(c)) }
func (c codedErr) Code() int     { return int(c) }

func TestDeviceError(t *testing.T) {
	err := NewDeviceError("open", ErrDeviceBusy, codedErr(16))

	if !errors.Is(err, ErrDeviceBusy) {
		t.Error("errors.Is(err, ErrDeviceBusy) = false")
	}
	if errors.Is(err, ErrDeviceNotFound) {
		t.Error("errors.Is(err, ErrDeviceNotFound) = true")
	}
	if err.Code != 16 {
		t.Errorf("Code = %d, want 16", err.Code)
	}
	if want := "open: device busy (code 16): errno 16"; err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}

	var coded codedErr
	if !errors.As(err, &coded) {
		t.Error("underlying error not reachable via errors.As")
	}

	wrapped := fmt.Errorf("bigeyesrc: start: %w", err)
	if KindOf(wrapped) != ErrDeviceBusy {
		t.Errorf("KindOf(wrapped) = %v, want ErrDeviceBusy", KindOf(wrapped))
	}
	if KindOf(fmt.Errorf("x: %w", ErrEndOfStream)) != ErrEndOfStream {
		t.Error("KindOf did not find plain sentinel")
	}
	if KindOf(errors.New("other")) != nil {
		t.Error("KindOf(unrelated) != nil")
	}
}
