package transform

import (
	"image"
	"image/color"
	"math/rand/v2"
)

// MaxShift bounds the per-channel offset of ColorShift
const MaxShift = 100

// ColorShift adds an independent random offset in [-MaxShift, MaxShift] to
// every RGB channel of every pixel, clamped to [0, 255]. Alpha is kept.
type ColorShift struct {
	offset func() int
}

// ColorShiftOption configures a ColorShift
type ColorShiftOption func(*ColorShift)

// WithOffsetFunc replaces the random offset source
func WithOffsetFunc(fn func() int) ColorShiftOption {
	return func(c *ColorShift) {
		c.offset = fn
	}
}

// NewColorShift creates a ColorShift drawing offsets from math/rand/v2
func NewColorShift(opts ...ColorShiftOption) *ColorShift {
	c := &ColorShift{
		offset: func() int { return rand.IntN(2*MaxShift+1) - MaxShift },
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Apply implements Transform
func (c *ColorShift) Apply(input []byte) ([]byte, error) {
	src, format, err := decode(input)
	if err != nil {
		return nil, err
	}

	bounds := src.Bounds()
	dst := image.NewNRGBA(bounds)
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			p := color.NRGBAModel.Convert(src.At(x, y)).(color.NRGBA)
			dst.SetNRGBA(x, y, color.NRGBA{
				R: Shift(p.R, c.offset()),
				G: Shift(p.G, c.offset()),
				B: Shift(p.B, c.offset()),
				A: p.A,
			})
		}
	}

	return encode(dst, format)
}

// Shift adds offset to v, clamped to [0, 255]
func Shift(v uint8, offset int) uint8 {
	n := int(v) + offset
	switch {
	case n < 0:
		return 0
	case n > 255:
		return 255
	default:
		return uint8(n)
	}
}
