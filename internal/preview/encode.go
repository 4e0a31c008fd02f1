package preview

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	bigeyesrc "github.com/Banakin/gst-plugin-bigeye"
)

// RenderOptions controls how a frame is turned into a JPEG
type RenderOptions struct {
	// Width scales the output keeping aspect ratio (0 = native)
	Width int
	// Quality is the JPEG quality (1-100, default 80)
	Quality int
	// Label is drawn in the top-left corner when set
	Label string
}

// Decode converts a frame payload in the given format to an image.
func Decode(format bigeyesrc.CaptureFormat, payload []byte) (image.Image, error) {
	switch format.Encoding {
	case bigeyesrc.EncodingMJPEG:
		img, err := jpeg.Decode(bytes.NewReader(payload))
		if err != nil {
			return nil, fmt.Errorf("decode mjpeg: %w", err)
		}
		return img, nil
	case bigeyesrc.EncodingYUYV:
		return decodeYUYV(int(format.Width), int(format.Height), payload)
	default:
		return nil, fmt.Errorf("decode: unsupported encoding %s", format.Encoding)
	}
}

// decodeYUYV unpacks Y0 U Y1 V macropixels into a 4:2:2 YCbCr image
func decodeYUYV(w, h int, payload []byte) (*image.YCbCr, error) {
	if w%2 != 0 {
		return nil, fmt.Errorf("decode yuyv: odd width %d", w)
	}
	if len(payload) < w*h*2 {
		return nil, fmt.Errorf("decode yuyv: payload %d bytes, want %d", len(payload), w*h*2)
	}

	img := image.NewYCbCr(image.Rect(0, 0, w, h), image.YCbCrSubsampleRatio422)
	for y := 0; y < h; y++ {
		row := payload[y*w*2 : (y+1)*w*2]
		yOff := y * img.YStride
		cOff := y * img.CStride
		for x := 0; x < w; x += 2 {
			i := x * 2
			img.Y[yOff+x] = row[i]
			img.Y[yOff+x+1] = row[i+2]
			img.Cb[cOff+x/2] = row[i+1]
			img.Cr[cOff+x/2] = row[i+3]
		}
	}
	return img, nil
}

// Render produces a JPEG for one frame. MJPEG payloads pass through
// untouched when no scaling or label is requested.
func Render(format bigeyesrc.CaptureFormat, payload []byte, opts RenderOptions) ([]byte, error) {
	if opts.Quality <= 0 || opts.Quality > 100 {
		opts.Quality = 80
	}

	native := opts.Width == 0 || opts.Width == int(format.Width)
	if format.Encoding == bigeyesrc.EncodingMJPEG && native && opts.Label == "" {
		return payload, nil
	}

	img, err := Decode(format, payload)
	if err != nil {
		return nil, err
	}

	if !native {
		img = scale(img, opts.Width)
	}
	if opts.Label != "" {
		img = label(img, opts.Label)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: opts.Quality}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

func scale(src image.Image, width int) *image.RGBA {
	b := src.Bounds()
	height := b.Dy() * width / b.Dx()
	if height < 1 {
		height = 1
	}
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, b, draw.Src, nil)
	return dst
}

// label draws text on a translucent box in the top-left corner
func label(src image.Image, text string) *image.RGBA {
	dst, ok := src.(*image.RGBA)
	if !ok {
		b := src.Bounds()
		dst = image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
		draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Src)
	}

	face := basicfont.Face7x13
	d := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(color.RGBA{255, 255, 255, 255}),
		Face: face,
	}

	const padding = 3
	textWidth := d.MeasureString(text).Ceil()
	box := image.Rect(0, 0, textWidth+2*padding, face.Height+2*padding)
	draw.Draw(dst, box, image.NewUniform(color.RGBA{0, 0, 0, 160}), image.Point{}, draw.Over)

	d.Dot = fixed.Point26_6{X: fixed.I(padding), Y: fixed.I(padding + face.Ascent)}
	d.DrawString(text)
	return dst
}
