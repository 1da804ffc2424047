// Package objectstore provides the narrow object storage capability the
// ingestion pipeline consumes, with drivers for S3 compatible services, the
// local filesystem, and process memory.
package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"
)

// ErrNotFound reports that no object exists under the requested key.
var ErrNotFound = errors.New("object not found")

// Object is one stored blob plus the metadata recorded at put time. Callers
// own Body and must close it; the body seeks, so handlers can serve byte
// ranges from it directly.
type Object struct {
	Body        io.ReadSeekCloser
	ContentType string
	Size        int64
	ModTime     time.Time
}

// Store is the put/get/delete surface over one bucket of binary objects.
// Keys are hierarchical, slash separated, and never reused once written;
// Delete is idempotent so owner cascades can run twice without harm.
type Store interface {
	Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) error
	Get(ctx context.Context, key string) (*Object, error)
	Delete(ctx context.Context, key string) error
	PresignedGetURL(ctx context.Context, key string, expiry time.Duration) (string, error)
}

// Config selects and parameterises a storage driver.
type Config struct {
	Driver    string
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	UseSSL    bool
	BaseDir   string
	PublicURL string
	URLSecret string
}

// New builds the Store named by cfg.Driver.
func New(cfg Config) (Store, error) {
	switch cfg.Driver {
	case "s3":
		return NewMinioStore(cfg)
	case "filesystem":
		return NewFilesystemStore(cfg)
	case "memory":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}
