package transform

import (
	"image"
	"image/color"
)

// Grayscale converts an image to 8-bit luminance.
type Grayscale struct{}

// Apply implements Transform
func (Grayscale) Apply(input []byte) ([]byte, error) {
	src, format, err := decode(input)
	if err != nil {
		return nil, err
	}

	bounds := src.Bounds()
	dst := image.NewGray(bounds)
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			c := color.NRGBAModel.Convert(src.At(x, y)).(color.NRGBA)
			dst.SetGray(x, y, color.Gray{Y: Luminance(c.R, c.G, c.B)})
		}
	}

	return encode(dst, format)
}

// Luminance is the ITU-R 601-2 luma of an 8-bit RGB triple in 16.16 fixed point
func Luminance(r, g, b uint8) uint8 {
	y := (19595*uint32(r) + 38470*uint32(g) + 7471*uint32(b) + 1<<15) >> 16
	return uint8(y)
}
