package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
)

const (
	// CleanupOwnerTask is scheduled when an owning entity is deleted and its
	// stored objects have to go too.
	CleanupOwnerTask = "file:cleanup_owner"
	// RetryExtractionTask re-runs text extraction for a file whose inline
	// extraction failed during upload.
	RetryExtractionTask = "file:retry_extraction"
)

// Enqueuer is the slice of asynq.Client the API uses to schedule work.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// CleanupOwnerPayload carries the object keys the worker deletes from storage.
type CleanupOwnerPayload struct {
	TenantID string   `json:"tenant_id"`
	Keys     []string `json:"keys"`
}

// RetryExtractionPayload identifies the file record to backfill.
type RetryExtractionPayload struct {
	TenantID string `json:"tenant_id"`
	FileID   string `json:"file_id"`
}

// EnqueueCleanupOwner enqueues an object store cleanup job.
func EnqueueCleanupOwner(ctx context.Context, client Enqueuer, payload CleanupOwnerPayload) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	task := asynq.NewTask(CleanupOwnerTask, data)
	if _, err := client.EnqueueContext(ctx, task, asynq.MaxRetry(5)); err != nil {
		return fmt.Errorf("enqueue cleanup task: %w", err)
	}
	return nil
}

// EnqueueRetryExtraction enqueues an extraction retry job.
func EnqueueRetryExtraction(ctx context.Context, client Enqueuer, payload RetryExtractionPayload) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	task := asynq.NewTask(RetryExtractionTask, data)
	if _, err := client.EnqueueContext(ctx, task, asynq.MaxRetry(5)); err != nil {
		return fmt.Errorf("enqueue retry task: %w", err)
	}
	return nil
}
