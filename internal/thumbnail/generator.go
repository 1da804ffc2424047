package thumbnail

import (
	"bytes"
	"fmt"
	"image"
	"math"

	"golang.org/x/image/draw"

	"github.com/draftwell/inkvault/internal/model"
)

// DefaultMaxWidth is the widest a generated thumbnail gets.
const DefaultMaxWidth = 300

// JPEGQuality is the fixed encode quality for thumbnails.
const JPEGQuality = 80

// Status tells apart the four outcomes of a thumbnail attempt.
type Status int

const (
	// StatusGenerated means Data holds an encoded JPEG preview.
	StatusGenerated Status = iota
	// StatusUnsupportedFormat means the source is not a JPEG or PNG.
	StatusUnsupportedFormat
	// StatusSourceSmall means the source already fits the target width;
	// callers serve the original for display instead.
	StatusSourceSmall
	// StatusFailed means decode, resize, or encode went wrong.
	StatusFailed
)

// Result is the outcome of one thumbnail attempt. Data is set only for
// StatusGenerated, Err only for StatusFailed.
type Result struct {
	Status Status
	Data   []byte
	Width  int
	Height int
	Err    error
}

// Generator downsizes raster uploads into JPEG previews. It is safe for
// concurrent use; codec state is read only once initialised.
type Generator struct {
	codecs   *Codecs
	maxWidth int
}

// NewGenerator builds a Generator around the shared codec handles. A
// maxWidth of zero or less falls back to DefaultMaxWidth.
func NewGenerator(codecs *Codecs, maxWidth int) *Generator {
	if maxWidth <= 0 {
		maxWidth = DefaultMaxWidth
	}
	return &Generator{codecs: codecs, maxWidth: maxWidth}
}

// Generate decodes data, downsizes it to the configured width when the
// source is wider, and re-encodes the preview as JPEG. Failures never
// propagate as errors; they come back as StatusFailed for the caller to
// log and move past.
func (g *Generator) Generate(data []byte, mimeType string) Result {
	if mimeType != model.MimeJPEG && mimeType != model.MimePNG {
		return Result{Status: StatusUnsupportedFormat}
	}
	img, err := g.codecs.Decoder()(data)
	if err != nil {
		return Result{Status: StatusFailed, Err: fmt.Errorf("decode image: %w", err)}
	}
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if width <= g.maxWidth {
		return Result{Status: StatusSourceSmall, Width: width, Height: height}
	}
	newHeight := int(math.Round(float64(height) * float64(g.maxWidth) / float64(width)))
	if newHeight < 1 {
		newHeight = 1
	}
	dst := image.NewRGBA(image.Rect(0, 0, g.maxWidth, newHeight))
	g.codecs.Resizer().Scale(dst, dst.Bounds(), img, bounds, draw.Over, nil)

	var buf bytes.Buffer
	if err := g.codecs.Encoder()(&buf, dst, JPEGQuality); err != nil {
		return Result{Status: StatusFailed, Err: fmt.Errorf("encode thumbnail: %w", err)}
	}
	return Result{Status: StatusGenerated, Data: buf.Bytes(), Width: g.maxWidth, Height: newHeight}
}
