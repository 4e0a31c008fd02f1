package bigeyesrc

import "github.com/Banakin/gst-plugin-bigeye/internal/capture"

// ElementMetadata describes the element to a hosting pipeline
type ElementMetadata struct {
	LongName    string `json:"long_name"`
	Klass       string `json:"klass"`
	Description string `json:"description"`
	Author      string `json:"author"`
}

// Metadata returns the element's registration metadata
func Metadata() ElementMetadata {
	return ElementMetadata{
		LongName:    "BigEye Video Source",
		Klass:       "Source/Video",
		Description: "Captures live frames from a USB video device",
		Author:      "gst-plugin-bigeye authors",
	}
}

// SupportedCaps returns the single caps description advertised for
// format, e.g. "video/x-raw,format=YUY2,width=640,height=480,framerate=30/1".
// The element never renegotiates with the device.
func SupportedCaps(format CaptureFormat) string {
	return format.Caps()
}

// ParseCaps parses a proposed caps string into a format for Negotiate
func ParseCaps(caps string) (CaptureFormat, error) {
	return capture.ParseCaps(caps)
}
