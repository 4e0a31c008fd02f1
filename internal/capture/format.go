// Package capture holds the types shared by the element and the device
// backends (format, device contracts, error taxonomy).
//
// This package is INTERNAL - clients use the aliases re-exported by the
// root bigeyesrc package.
package capture

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// PixelEncoding is the on-wire encoding of captured frames.
type PixelEncoding int

const (
	// EncodingYUYV is packed 4:2:2 YUV (YUYV / YUY2), 2 bytes per pixel
	EncodingYUYV PixelEncoding = iota
	// EncodingMJPEG is motion JPEG, one JPEG image per frame
	EncodingMJPEG
)

// String returns the short config name of the encoding
func (e PixelEncoding) String() string {
	switch e {
	case EncodingYUYV:
		return "yuyv"
	case EncodingMJPEG:
		return "mjpeg"
	default:
		return fmt.Sprintf("encoding(%d)", int(e))
	}
}

// FourCC returns the V4L2 pixel format code for the encoding
func (e PixelEncoding) FourCC() uint32 {
	switch e {
	case EncodingMJPEG:
		return fourcc('M', 'J', 'P', 'G')
	default:
		return fourcc('Y', 'U', 'Y', 'V')
	}
}

// ParseEncoding maps a config name ("yuyv", "yuy2", "mjpeg", "jpeg") to an encoding
func ParseEncoding(s string) (PixelEncoding, error) {
	switch s {
	case "yuyv", "YUYV", "yuy2", "YUY2":
		return EncodingYUYV, nil
	case "mjpeg", "MJPEG", "mjpg", "MJPG", "jpeg":
		return EncodingMJPEG, nil
	default:
		return 0, fmt.Errorf("unknown pixel encoding %q (want yuyv or mjpeg)", s)
	}
}

func fourcc(a, b, c, d byte) uint32 {
	return uint32(a) | uint32(b)<<8 | uint32(c)<<16 | uint32(d)<<24
}

// Format is a concrete stream format. Immutable once negotiated.
type Format struct {
	Width     uint
	Height    uint
	FrameRate uint
	Encoding  PixelEncoding
}

// Validate rejects formats no device can deliver
func (f Format) Validate() error {
	if f.Width == 0 || f.Height == 0 {
		return fmt.Errorf("invalid resolution %dx%d", f.Width, f.Height)
	}
	if f.FrameRate == 0 {
		return fmt.Errorf("invalid frame rate %d", f.FrameRate)
	}
	if f.Encoding != EncodingYUYV && f.Encoding != EncodingMJPEG {
		return fmt.Errorf("invalid encoding %v", f.Encoding)
	}
	return nil
}

// FrameDuration returns 1/FrameRate, or 0 for an unset rate
func (f Format) FrameDuration() time.Duration {
	if f.FrameRate == 0 {
		return 0
	}
	return time.Second / time.Duration(f.FrameRate)
}

// FrameSize returns the exact payload size for uncompressed encodings.
// MJPEG frames are variable length, so 0 is returned.
func (f Format) FrameSize() int {
	if f.Encoding != EncodingYUYV {
		return 0
	}
	return int(f.Width * f.Height * 2)
}

// Resolution renders "WxH"
func (f Format) Resolution() string {
	return fmt.Sprintf("%dx%d", f.Width, f.Height)
}

func (f Format) String() string {
	return fmt.Sprintf("%s %s@%d", f.Encoding, f.Resolution(), f.FrameRate)
}

// Caps renders the format as a GStreamer caps string
func (f Format) Caps() string {
	switch f.Encoding {
	case EncodingMJPEG:
		return fmt.Sprintf("image/jpeg,width=%d,height=%d,framerate=%d/1",
			f.Width, f.Height, f.FrameRate)
	default:
		return fmt.Sprintf("video/x-raw,format=YUY2,width=%d,height=%d,framerate=%d/1",
			f.Width, f.Height, f.FrameRate)
	}
}

// ParseCaps parses a single-structure caps string such as
//
//	video/x-raw,format=YUY2,width=640,height=480,framerate=30/1
//	image/jpeg,width=(int)1280,height=(int)720,framerate=(fraction)15/1
//
// Fractional rates are truncated (30000/1001 → 29). Fields other than
// format, width, height and framerate are ignored.
func ParseCaps(caps string) (Format, error) {
	parts := strings.Split(strings.TrimSpace(caps), ",")
	var f Format

	switch media := strings.TrimSpace(parts[0]); media {
	case "video/x-raw":
		f.Encoding = EncodingYUYV
	case "image/jpeg":
		f.Encoding = EncodingMJPEG
	default:
		return Format{}, fmt.Errorf("caps: unsupported media type %q", media)
	}

	rawFormat := ""
	for _, field := range parts[1:] {
		key, value, ok := strings.Cut(strings.TrimSpace(field), "=")
		if !ok {
			return Format{}, fmt.Errorf("caps: malformed field %q", field)
		}
		value = stripCapsType(value)

		switch key {
		case "format":
			rawFormat = value
		case "width", "height":
			n, err := strconv.ParseUint(value, 10, 32)
			if err != nil {
				return Format{}, fmt.Errorf("caps: invalid %s %q: %w", key, value, err)
			}
			if key == "width" {
				f.Width = uint(n)
			} else {
				f.Height = uint(n)
			}
		case "framerate":
			rate, err := parseFraction(value)
			if err != nil {
				return Format{}, err
			}
			f.FrameRate = rate
		}
	}

	if f.Encoding == EncodingYUYV && rawFormat != "" && rawFormat != "YUY2" && rawFormat != "YUYV" {
		return Format{}, fmt.Errorf("caps: unsupported raw format %q", rawFormat)
	}
	return f, nil
}

// stripCapsType removes a "(int)" / "(fraction)" type annotation
func stripCapsType(value string) string {
	value = strings.TrimSpace(value)
	if strings.HasPrefix(value, "(") {
		if i := strings.Index(value, ")"); i >= 0 {
			value = value[i+1:]
		}
	}
	return value
}

func parseFraction(value string) (uint, error) {
	numStr, denStr, ok := strings.Cut(value, "/")
	if !ok {
		denStr = "1"
	}
	num, err := strconv.ParseUint(numStr, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("caps: invalid framerate %q: %w", value, err)
	}
	den, err := strconv.ParseUint(denStr, 10, 32)
	if err != nil || den == 0 {
		return 0, fmt.Errorf("caps: invalid framerate %q", value)
	}
	return uint(num / den), nil
}
