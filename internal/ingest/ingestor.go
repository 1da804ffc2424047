// Package ingest implements the upload pipeline: validation, filename
// sanitisation, storage key generation, the primary object write, and the
// derived artifact steps that must never jeopardise it.
package ingest

import (
	"bytes"
	"context"
	"io"
	"log/slog"

	"github.com/draftwell/inkvault/internal/extract"
	"github.com/draftwell/inkvault/internal/model"
	"github.com/draftwell/inkvault/internal/objectstore"
	"github.com/draftwell/inkvault/internal/thumbnail"
)

// UploadRequest describes one file to ingest. It lives for the duration of
// a single Ingest call and is never mutated.
type UploadRequest struct {
	Filename  string
	MimeType  string
	SizeBytes int64
	OwnerType model.OwnerType
	OwnerID   string
	TenantID  string
	Content   []byte
}

// IngestResult carries everything the caller persists about an ingested
// file. An empty ThumbnailKey or ExtractedText means the artifact does not
// exist; ExtractionFailed tells a failed extraction apart from a format
// that has none.
type IngestResult struct {
	StorageKey       string
	ThumbnailKey     string
	SanitizedName    string
	ExtractedText    string
	TextWasTruncated bool
	ExtractionFailed bool
}

// Ingestor runs the upload pipeline against an object store.
type Ingestor struct {
	store      objectstore.Store
	extractor  *extract.Extractor
	thumbnails *thumbnail.Generator
	logger     *slog.Logger
}

// NewIngestor wires the pipeline's collaborators together.
func NewIngestor(store objectstore.Store, extractor *extract.Extractor, thumbnails *thumbnail.Generator, logger *slog.Logger) *Ingestor {
	return &Ingestor{store: store, extractor: extractor, thumbnails: thumbnails, logger: logger}
}

// Ingest validates req, writes the primary object, and derives the
// thumbnail and extracted text best effort. Only validation and the
// primary write can fail the call; every derived artifact failure is
// logged, folded into the result, and never rolls the primary write back.
func (ing *Ingestor) Ingest(ctx context.Context, req UploadRequest) (*IngestResult, error) {
	if err := ValidateUpload(req.SizeBytes, req.MimeType); err != nil {
		return nil, err
	}
	name := SanitizeFilename(req.Filename)
	key := GenerateKey(req.TenantID, req.OwnerType, name)

	if err := ing.store.Put(ctx, key, bytes.NewReader(req.Content), int64(len(req.Content)), req.MimeType); err != nil {
		return nil, &StorageError{Op: "put", Key: key, Err: err}
	}
	res := &IngestResult{StorageKey: key, SanitizedName: name}

	// The primary object is durable from here on. An abort skips the
	// derived artifacts; the extraction backfill job picks them up later.
	if ctx.Err() != nil {
		ing.logger.Warn("ingestion cancelled after primary write", "key", key)
		res.ExtractionFailed = extract.Supported(req.MimeType)
		return res, nil
	}

	res.ThumbnailKey = ing.storeThumbnail(ctx, key, req)

	if ctx.Err() != nil {
		ing.logger.Warn("ingestion cancelled before extraction", "key", key)
		res.ExtractionFailed = extract.Supported(req.MimeType)
		return res, nil
	}

	ing.extractText(ctx, key, req, res)
	return res, nil
}

// storeThumbnail generates and writes the preview for raster uploads. It
// returns the thumbnail key, or empty when there is nothing to persist.
func (ing *Ingestor) storeThumbnail(ctx context.Context, primaryKey string, req UploadRequest) string {
	thumb := ing.thumbnails.Generate(req.Content, req.MimeType)
	switch thumb.Status {
	case thumbnail.StatusUnsupportedFormat, thumbnail.StatusSourceSmall:
		return ""
	case thumbnail.StatusFailed:
		ing.logger.Warn("thumbnail generation failed", "key", primaryKey, "error", thumb.Err)
		return ""
	}
	thumbKey := ThumbnailKey(primaryKey)
	if err := ing.store.Put(ctx, thumbKey, bytes.NewReader(thumb.Data), int64(len(thumb.Data)), model.MimeJPEG); err != nil {
		ing.logger.Warn("thumbnail write failed", "key", thumbKey, "error", err)
		return ""
	}
	return thumbKey
}

// extractText refetches the stored object and derives the bounded text, so
// extraction always sees exactly the bytes the store holds.
func (ing *Ingestor) extractText(ctx context.Context, key string, req UploadRequest, res *IngestResult) {
	if !extract.Supported(req.MimeType) {
		return
	}
	obj, err := ing.store.Get(ctx, key)
	if err != nil {
		ing.logger.Warn("extraction fetch failed", "key", key, "error", err)
		res.ExtractionFailed = true
		return
	}
	data, err := io.ReadAll(obj.Body)
	_ = obj.Body.Close()
	if err != nil {
		ing.logger.Warn("extraction read failed", "key", key, "error", err)
		res.ExtractionFailed = true
		return
	}

	outcome := ing.extractor.Extract(ctx, data, req.MimeType, res.SanitizedName)
	switch outcome.Status {
	case extract.StatusExtracted:
		res.ExtractedText = outcome.Text
		res.TextWasTruncated = outcome.Truncated
	case extract.StatusFailed:
		ing.logger.Warn("text extraction failed", "key", key, "error", outcome.Err)
		res.ExtractionFailed = true
	}
}
