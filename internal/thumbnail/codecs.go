// Package thumbnail produces downsized JPEG previews of raster uploads.
package thumbnail

import (
	"bytes"
	"image"
	"image/jpeg"
	"io"
	"sync"

	_ "image/png"

	"golang.org/x/image/draw"
)

// DecodeFunc turns encoded image bytes into pixels.
type DecodeFunc func(data []byte) (image.Image, error)

// EncodeFunc writes pixels as an encoded image at the given JPEG quality.
type EncodeFunc func(w io.Writer, img image.Image, quality int) error

// Codecs holds the process wide image codec handles. Building a codec is
// treated as expensive, so each slot initialises lazily on first use and
// concurrent first calls converge on exactly one initialisation. Share one
// Codecs value between every Generator in the process.
type Codecs struct {
	decodeOnce sync.Once
	decode     DecodeFunc

	resizeOnce sync.Once
	resize     draw.Scaler

	encodeOnce sync.Once
	encode     EncodeFunc
}

// NewCodecs returns an uninitialised handle; slots fill in on demand.
func NewCodecs() *Codecs {
	return &Codecs{}
}

// Decoder returns the shared image decoder, initialising it on first call.
func (c *Codecs) Decoder() DecodeFunc {
	c.decodeOnce.Do(func() {
		c.decode = func(data []byte) (image.Image, error) {
			img, _, err := image.Decode(bytes.NewReader(data))
			return img, err
		}
	})
	return c.decode
}

// Resizer returns the shared scaling kernel, initialising it on first call.
func (c *Codecs) Resizer() draw.Scaler {
	c.resizeOnce.Do(func() {
		c.resize = draw.CatmullRom
	})
	return c.resize
}

// Encoder returns the shared JPEG encoder, initialising it on first call.
func (c *Codecs) Encoder() EncodeFunc {
	c.encodeOnce.Do(func() {
		c.encode = func(w io.Writer, img image.Image, quality int) error {
			return jpeg.Encode(w, img, &jpeg.Options{Quality: quality})
		}
	})
	return c.encode
}
