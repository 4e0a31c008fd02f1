package simdev

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"

	"github.com/Banakin/gst-plugin-bigeye/internal/capture"
)

// colorBars are the 75% SMPTE bars in BT.601 YCbCr
var colorBars = []color.YCbCr{
	{Y: 180, Cb: 128, Cr: 128}, // white
	{Y: 162, Cb: 44, Cr: 142},  // yellow
	{Y: 131, Cb: 156, Cr: 44},  // cyan
	{Y: 112, Cb: 72, Cr: 58},   // green
	{Y: 84, Cb: 184, Cr: 198},  // magenta
	{Y: 65, Cb: 100, Cr: 212},  // red
	{Y: 35, Cb: 212, Cr: 114},  // blue
	{Y: 16, Cb: 128, Cr: 128},  // black
}

// Pattern renders frame seq of a scrolling color-bar test pattern in the
// format's encoding. Bars shift by 4 pixels per frame so consecutive
// frames differ.
func Pattern(format capture.Format, seq uint64) ([]byte, error) {
	w, h := int(format.Width), int(format.Height)
	if w == 0 || h == 0 {
		return nil, fmt.Errorf("simdev: empty format %s", format.Resolution())
	}
	shift := int(seq*4) % w

	barAt := func(x int) color.YCbCr {
		return colorBars[((x+shift)%w)*len(colorBars)/w]
	}

	switch format.Encoding {
	case capture.EncodingYUYV:
		return yuyvPattern(w, h, barAt), nil
	case capture.EncodingMJPEG:
		return jpegPattern(w, h, barAt)
	default:
		return nil, fmt.Errorf("simdev: unsupported encoding %s", format.Encoding)
	}
}

// yuyvPattern packs two pixels per 4 bytes: Y0 U Y1 V
func yuyvPattern(w, h int, barAt func(x int) color.YCbCr) []byte {
	stride := w * 2
	row := make([]byte, stride)
	for x := 0; x+1 < w; x += 2 {
		p0, p1 := barAt(x), barAt(x+1)
		row[x*2] = p0.Y
		row[x*2+1] = p0.Cb
		row[x*2+2] = p1.Y
		row[x*2+3] = p0.Cr
	}

	out := make([]byte, stride*h)
	for y := 0; y < h; y++ {
		copy(out[y*stride:], row)
	}
	return out
}

func jpegPattern(w, h int, barAt func(x int) color.YCbCr) ([]byte, error) {
	img := image.NewYCbCr(image.Rect(0, 0, w, h), image.YCbCrSubsampleRatio422)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := barAt(x)
			img.Y[img.YOffset(x, y)] = c.Y
			ci := img.COffset(x, y)
			img.Cb[ci] = c.Cb
			img.Cr[ci] = c.Cr
		}
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 75}); err != nil {
		return nil, fmt.Errorf("simdev: jpeg encode: %w", err)
	}
	return buf.Bytes(), nil
}
