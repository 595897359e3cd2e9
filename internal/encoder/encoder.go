// Package encoder serializes rendered rasters for storage and transport.
package encoder

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
)

// Encoder turns a raster into bytes. Implementations must be deterministic:
// equal images encode to equal bytes.
type Encoder interface {
	Encode(img image.Image) ([]byte, error)
	ContentType() string
}

// PNG encodes with the standard library. An opaque *image.RGBA is written
// as 8-bit truecolor without an alpha channel.
type PNG struct {
	enc png.Encoder
}

var _ Encoder = (*PNG)(nil)

func NewPNG() *PNG {
	return &PNG{enc: png.Encoder{CompressionLevel: png.DefaultCompression}}
}

func (p *PNG) Encode(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := p.enc.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("failed to encode png: %w", err)
	}
	return buf.Bytes(), nil
}

func (p *PNG) ContentType() string {
	return "image/png"
}
