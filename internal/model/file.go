// Package model contains struct definitions shared across packages.
package model

import (
	"time"
)

// OwnerType identifies the kind of Draftwell entity a file belongs to.
type OwnerType string

// Unknown owner types are still ingested; the key generator files them
// under misc/.
const (
	OwnerBrandVoice        OwnerType = "brandVoice"
	OwnerPersona           OwnerType = "persona"
	OwnerKnowledgeBaseItem OwnerType = "knowledgeBaseItem"
	OwnerExample           OwnerType = "example"
)

// FileRecord holds the metadata persisted for one ingested file. The record
// is created once, after ingestion completes; only the extraction backfill
// job patches it afterwards.
type FileRecord struct {
	ID               string    `json:"id"`
	TenantID         string    `json:"tenantId"`
	OwnerType        OwnerType `json:"ownerType"`
	OwnerID          string    `json:"ownerId"`
	StorageKey       string    `json:"storageKey"`
	ThumbnailKey     *string   `json:"thumbnailKey,omitempty"`
	Filename         string    `json:"filename"`
	MimeType         string    `json:"mimeType"`
	SizeBytes        int64     `json:"sizeBytes"`
	ExtractedText    *string   `json:"extractedText,omitempty"`
	TextTruncated    bool      `json:"textTruncated,omitempty"`
	ExtractionFailed bool      `json:"extractionFailed,omitempty"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}
