package ingest

import (
	"fmt"
	"regexp"

	"github.com/google/uuid"

	"github.com/draftwell/inkvault/internal/model"
)

// ownerFolders maps an owner type to its folder segment in storage keys.
var ownerFolders = map[model.OwnerType]string{
	model.OwnerBrandVoice:        "brand-voices",
	model.OwnerPersona:           "personas",
	model.OwnerKnowledgeBaseItem: "knowledge-base",
	model.OwnerExample:           "examples",
}

// OwnerFolder returns the storage key folder for t, or "misc" for owner
// types the platform does not know.
func OwnerFolder(t model.OwnerType) string {
	if folder, ok := ownerFolders[t]; ok {
		return folder
	}
	return "misc"
}

// keySegment strips anything that could break the key hierarchy out of a
// tenant identifier before it becomes a path segment.
var keySegment = regexp.MustCompile(`[^A-Za-z0-9._-]`)

// GenerateKey derives the object storage key for one upload. The UUID
// disambiguator guarantees that repeated uploads of an identically named
// file never collide; a key is written once and never reused for a second
// payload.
func GenerateKey(tenantID string, ownerType model.OwnerType, sanitizedFilename string) string {
	tenant := keySegment.ReplaceAllString(tenantID, "_")
	if tenant == "" {
		tenant = "unscoped"
	}
	return fmt.Sprintf("%s/%s/%s-%s", tenant, OwnerFolder(ownerType), uuid.NewString(), sanitizedFilename)
}

// ThumbnailKey derives the storage key a thumbnail is written under from the
// primary object key. Thumbnails are always JPEG.
func ThumbnailKey(primaryKey string) string {
	return primaryKey + ".thumb.jpg"
}
