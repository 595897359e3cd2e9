// Package vipsencoder encodes tiles with libvips. vips.Startup must have been
// called before the first Encode.
package vipsencoder

import (
	"fmt"
	"image"

	"github.com/cshum/vipsgen/vips"

	"mandeltiles/internal/encoder"
)

type Encoder struct{}

var _ encoder.Encoder = (*Encoder)(nil)

func New() *Encoder {
	return &Encoder{}
}

func (e *Encoder) Encode(img image.Image) ([]byte, error) {
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid image size: %dx%d", width, height)
	}

	vimg, err := vips.NewImageFromMemory(packRGB(img), width, height, 3)
	if err != nil {
		return nil, fmt.Errorf("failed to load raster into vips: %w", err)
	}
	defer vimg.Close()

	data, err := vimg.PngsaveBuffer(vips.DefaultPngsaveBufferOptions())
	if err != nil {
		return nil, fmt.Errorf("failed to export png: %w", err)
	}

	return data, nil
}

func (e *Encoder) ContentType() string {
	return "image/png"
}

// packRGB flattens img into interleaved 8-bit RGB, dropping alpha.
func packRGB(img image.Image) []byte {
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	buf := make([]byte, 0, width*height*3)

	if rgba, ok := img.(*image.RGBA); ok {
		for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
			off := rgba.PixOffset(bounds.Min.X, y)
			row := rgba.Pix[off : off+width*4]
			for i := 0; i < len(row); i += 4 {
				buf = append(buf, row[i], row[i+1], row[i+2])
			}
		}
		return buf
	}

	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r, g, b, _ := img.At(x, y).RGBA()
			buf = append(buf, uint8(r>>8), uint8(g>>8), uint8(b>>8))
		}
	}
	return buf
}
