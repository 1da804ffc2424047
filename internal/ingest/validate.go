package ingest

import (
	"fmt"
	"strings"

	"github.com/draftwell/inkvault/internal/model"
)

// MaxFileSizeBytes caps a single upload at 15 MiB.
const MaxFileSizeBytes int64 = 15 << 20

// allowedMimeTypes is the fixed set of content types accepted for upload.
var allowedMimeTypes = map[string]struct{}{
	model.MimePlainText: {},
	model.MimePDF:       {},
	model.MimeDoc:       {},
	model.MimeDocx:      {},
	model.MimeJPEG:      {},
	model.MimePNG:       {},
	model.MimeGIF:       {},
	model.MimeWebP:      {},
}

// MimeTypeAllowed reports whether mimeType passes the upload allow-list.
func MimeTypeAllowed(mimeType string) bool {
	_, ok := allowedMimeTypes[mimeType]
	return ok
}

// ValidateUpload checks size bounds and the content type allow-list before
// any I/O happens. A nil return means the request may proceed; a non-nil
// return is always a *ValidationError.
func ValidateUpload(sizeBytes int64, mimeType string) error {
	if sizeBytes <= 0 {
		return &ValidationError{
			Kind:    EmptyOrNegativeSize,
			Message: "file is empty or reports an invalid size",
		}
	}
	if sizeBytes > MaxFileSizeBytes {
		return &ValidationError{
			Kind:    FileTooLarge,
			Message: fmt.Sprintf("file exceeds the maximum size of %dMB", MaxFileSizeBytes>>20),
		}
	}
	if strings.TrimSpace(mimeType) == "" {
		return &ValidationError{
			Kind:    MimeTypeRequired,
			Message: "file content type is required",
		}
	}
	if !MimeTypeAllowed(mimeType) {
		return &ValidationError{
			Kind:    MimeTypeNotAllowed,
			Message: fmt.Sprintf("file type %q is not allowed", mimeType),
		}
	}
	return nil
}
