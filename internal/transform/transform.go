// Package transform holds the pluggable image transforms applied by jobs.
// A Transform is pure: bytes in, bytes out, no access to the store or bus.
package transform

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/gif"
	"image/jpeg"
	"image/png"
	"strings"
)

// Transform converts original image bytes into processed image bytes
type Transform interface {
	Apply(input []byte) ([]byte, error)
}

// Func adapts a plain function to Transform
type Func func(input []byte) ([]byte, error)

// Apply calls f
func (f Func) Apply(input []byte) ([]byte, error) {
	return f(input)
}

// Strategy names accepted by New
const (
	NameGrayscale  = "grayscale"
	NameColorShift = "colorshift"
)

// New returns the transform registered under name
func New(name string) (Transform, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case NameGrayscale, "":
		return Grayscale{}, nil
	case NameColorShift, "color_shift":
		return NewColorShift(), nil
	default:
		return nil, fmt.Errorf("unknown transform %q", name)
	}
}

// decode reads an image and reports its format
func decode(input []byte) (image.Image, string, error) {
	img, format, err := image.Decode(bytes.NewReader(input))
	if err != nil {
		return nil, "", fmt.Errorf("failed to decode image: %w", err)
	}
	return img, format, nil
}

// encode writes img in format; unknown formats fall back to png
func encode(img image.Image, format string) ([]byte, error) {
	var buf bytes.Buffer
	var err error

	switch format {
	case "jpeg":
		err = jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90})
	case "gif":
		if gray, ok := img.(*image.Gray); ok {
			img = grayPaletted(gray)
		}
		err = gif.Encode(&buf, img, nil)
	default:
		err = png.Encode(&buf, img)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s image: %w", format, err)
	}
	return buf.Bytes(), nil
}

// grayPalette maps palette index i to gray level i
var grayPalette = func() color.Palette {
	p := make(color.Palette, 256)
	for i := range p {
		p[i] = color.Gray{Y: uint8(i)}
	}
	return p
}()

// grayPaletted converts g to a paletted image with exact gray levels, so the
// gif encoder does not quantize it to the web-safe palette
func grayPaletted(g *image.Gray) *image.Paletted {
	b := g.Bounds()
	p := image.NewPaletted(b, grayPalette)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		src := g.Pix[g.PixOffset(b.Min.X, y) : g.PixOffset(b.Min.X, y)+b.Dx()]
		copy(p.Pix[p.PixOffset(b.Min.X, y):], src)
	}
	return p
}
