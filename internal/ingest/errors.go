package ingest

import "fmt"

// ValidationKind classifies why an upload was rejected before any I/O ran.
type ValidationKind string

const (
	EmptyOrNegativeSize ValidationKind = "empty_or_negative_size"
	FileTooLarge        ValidationKind = "file_too_large"
	MimeTypeRequired    ValidationKind = "mime_type_required"
	MimeTypeNotAllowed  ValidationKind = "mime_type_not_allowed"
)

// ValidationError reports a request the caller can fix. The message is safe
// to surface verbatim to the end user.
type ValidationError struct {
	Kind    ValidationKind
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// StorageError reports a failed primary object write or read. It is the only
// I/O failure that aborts an ingestion; no file record may be persisted for
// a request that returned one.
type StorageError struct {
	Op  string
	Key string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("object store %s %s: %v", e.Op, e.Key, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }
