// Package worker runs the background jobs the API enqueues.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/draftwell/inkvault/internal/extract"
	"github.com/draftwell/inkvault/internal/model"
	"github.com/draftwell/inkvault/internal/objectstore"
	"github.com/draftwell/inkvault/internal/queue"
	"github.com/draftwell/inkvault/internal/repository"
)

// FileRecords is the slice of the repository the worker needs.
type FileRecords interface {
	Get(ctx context.Context, tenantID, id string) (*model.FileRecord, error)
	MarkExtracted(ctx context.Context, tenantID, id, text string, truncated bool) error
}

// Processor is plugged into the asynq worker loop.
type Processor struct {
	repo      FileRecords
	store     objectstore.Store
	extractor *extract.Extractor
	logger    *slog.Logger
}

// NewProcessor constructs a worker processor.
func NewProcessor(repo FileRecords, store objectstore.Store, extractor *extract.Extractor, logger *slog.Logger) *Processor {
	return &Processor{repo: repo, store: store, extractor: extractor, logger: logger}
}

// Handler registers the job handlers.
func (p *Processor) Handler() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.CleanupOwnerTask, p.handleCleanupOwner)
	mux.HandleFunc(queue.RetryExtractionTask, p.handleRetryExtraction)
	return mux
}

// handleCleanupOwner deletes the stored objects left behind by a removed
// owner. Deletes are idempotent, so a retried task re-walks the full key list
// without harm.
func (p *Processor) handleCleanupOwner(ctx context.Context, task *asynq.Task) error {
	var payload queue.CleanupOwnerPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	var failed int
	for _, key := range payload.Keys {
		if err := p.store.Delete(ctx, key); err != nil {
			p.logger.Warn("cleanup delete failed", "key", key, "error", err)
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("cleanup for tenant %s: %d of %d deletes failed", payload.TenantID, failed, len(payload.Keys))
	}
	p.logger.Info("owner cleanup complete", "tenant", payload.TenantID, "objects", len(payload.Keys))
	return nil
}

func (p *Processor) handleRetryExtraction(ctx context.Context, task *asynq.Task) error {
	var payload queue.RetryExtractionPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	failure := func(err error) error {
		p.logger.Warn("extraction retry failed", "file", payload.FileID, "error", err)
		return err
	}
	rec, err := p.repo.Get(ctx, payload.TenantID, payload.FileID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			// The record was deleted after the job was enqueued.
			return nil
		}
		return failure(err)
	}
	if !extract.Supported(rec.MimeType) {
		return nil
	}
	obj, err := p.store.Get(ctx, rec.StorageKey)
	if err != nil {
		return failure(fmt.Errorf("fetch %s: %w", rec.StorageKey, err))
	}
	data, err := io.ReadAll(obj.Body)
	obj.Body.Close()
	if err != nil {
		return failure(fmt.Errorf("read %s: %w", rec.StorageKey, err))
	}
	res := p.extractor.Extract(ctx, data, rec.MimeType, rec.Filename)
	if res.Status != extract.StatusExtracted {
		return failure(fmt.Errorf("extract %s: %v", rec.Filename, res.Err))
	}
	if err := p.repo.MarkExtracted(ctx, payload.TenantID, payload.FileID, res.Text, res.Truncated); err != nil {
		return failure(err)
	}
	p.logger.Info("extraction backfilled", "file", payload.FileID, "chars", len(res.Text), "truncated", res.Truncated)
	return nil
}
