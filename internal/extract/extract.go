// Package extract derives the plain text representation of an uploaded
// file, bounded by a fixed truncation policy.
package extract

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/draftwell/inkvault/internal/convert"
	"github.com/draftwell/inkvault/internal/model"
)

// MaxExtractedTextLen bounds stored extracted text, counted in characters.
const MaxExtractedTextLen = 50000

// Status tells apart the three outcomes of an extraction attempt.
type Status int

const (
	// StatusExtracted means Text holds the bounded plain text.
	StatusExtracted Status = iota
	// StatusUnsupported means the format has no text representation here;
	// nothing was attempted.
	StatusUnsupported
	// StatusFailed means extraction ran and did not produce text.
	StatusFailed
)

// Result is the outcome of one extraction attempt. Err is diagnostic detail
// for StatusFailed; callers log it and move on, they never escalate it.
type Result struct {
	Status    Status
	Text      string
	Truncated bool
	Err       error
}

// Extractor pulls plain text out of uploaded binaries, delegating every non
// trivial format to a Converter.
type Extractor struct {
	converter convert.Converter
}

// New builds an Extractor on top of converter.
func New(converter convert.Converter) *Extractor {
	return &Extractor{converter: converter}
}

// Supported reports whether mimeType has any text extraction path. GIF and
// WebP uploads are stored without one.
func Supported(mimeType string) bool {
	switch mimeType {
	case model.MimePlainText, model.MimePDF, model.MimeDoc, model.MimeDocx, model.MimeJPEG, model.MimePNG:
		return true
	}
	return false
}

// Extract derives the bounded plain text for data. Plain text decodes in
// process; everything else goes through the converter as a single item
// batch named after the file. Extracted text is always valid UTF-8; bytes
// that do not decode become the replacement character.
func (e *Extractor) Extract(ctx context.Context, data []byte, mimeType, filename string) Result {
	if !Supported(mimeType) {
		return Result{Status: StatusUnsupported}
	}
	if mimeType == model.MimePlainText {
		text, truncated := Truncate(sanitizeText(string(data)), MaxExtractedTextLen)
		return Result{Status: StatusExtracted, Text: text, Truncated: truncated}
	}
	results, err := e.converter.Convert(ctx, []convert.Item{{Name: filename, Data: data}})
	if err != nil {
		return Result{Status: StatusFailed, Err: err}
	}
	if len(results) != 1 {
		return Result{Status: StatusFailed, Err: fmt.Errorf("converter returned %d results for one document", len(results))}
	}
	if results[0].Err != nil {
		return Result{Status: StatusFailed, Err: results[0].Err}
	}
	text, truncated := Truncate(sanitizeText(results[0].Text), MaxExtractedTextLen)
	return Result{Status: StatusExtracted, Text: text, Truncated: truncated}
}

// sanitizeText replaces invalid UTF-8 sequences with the replacement
// character. Converters read arbitrary input and can emit arbitrary bytes;
// everything downstream of here assumes valid text.
func sanitizeText(s string) string {
	return strings.ToValidUTF8(s, string(utf8.RuneError))
}

// Truncate slices text to at most max characters. Characters are runes, so
// a multibyte character never splits.
func Truncate(text string, max int) (string, bool) {
	if max <= 0 {
		return "", text != ""
	}
	if utf8.RuneCountInString(text) <= max {
		return text, false
	}
	runes := []rune(text)
	return string(runes[:max]), true
}
