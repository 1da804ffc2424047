package objectstore

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/draftwell/inkvault/internal/signing"
)

// FilesystemStore keeps objects on local disk for development and single
// node deployments. Bytes live under baseDir/objects and the content type
// hint under baseDir/meta, mirroring the key hierarchy.
type FilesystemStore struct {
	baseDir   string
	publicURL string
	signer    *signing.Signer
}

// NewFilesystemStore roots the store at cfg.BaseDir, creating it when
// missing. With a PublicURL and URLSecret configured, presigned URLs point
// at the API's signed blob route; otherwise they fall back to file:// paths.
func NewFilesystemStore(cfg Config) (*FilesystemStore, error) {
	baseDir := cfg.BaseDir
	if baseDir == "" {
		baseDir = "data/objects"
	}
	for _, dir := range []string{filepath.Join(baseDir, "objects"), filepath.Join(baseDir, "meta")} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create store dir: %w", err)
		}
	}
	var signer *signing.Signer
	if cfg.URLSecret != "" {
		signer = signing.NewSigner([]byte(cfg.URLSecret))
	}
	return &FilesystemStore{
		baseDir:   baseDir,
		publicURL: strings.TrimRight(cfg.PublicURL, "/"),
		signer:    signer,
	}, nil
}

// path resolves key under one of the store roots, refusing keys that would
// escape it.
func (s *FilesystemStore) path(root, key string) (string, error) {
	base := filepath.Join(s.baseDir, root)
	resolved := filepath.Join(base, filepath.FromSlash(key))
	if !strings.HasPrefix(resolved, base+string(filepath.Separator)) {
		return "", fmt.Errorf("key %q escapes the store root", key)
	}
	return resolved, nil
}

func (s *FilesystemStore) Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) error {
	path, err := s.path("objects", key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("ensure object dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create object: %w", err)
	}
	if _, err := io.Copy(f, body); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return fmt.Errorf("write object: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close object: %w", err)
	}
	return s.writeMeta(key, contentType)
}

func (s *FilesystemStore) writeMeta(key, contentType string) error {
	path, err := s.path("meta", key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("ensure meta dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(contentType), 0o644); err != nil {
		return fmt.Errorf("write meta: %w", err)
	}
	return nil
}

// readMeta returns the recorded content type, or a generic fallback when the
// sidecar is missing.
func (s *FilesystemStore) readMeta(key string) string {
	path, err := s.path("meta", key)
	if err != nil {
		return "application/octet-stream"
	}
	data, err := os.ReadFile(path)
	if err != nil || len(data) == 0 {
		return "application/octet-stream"
	}
	return string(data)
}

func (s *FilesystemStore) Get(ctx context.Context, key string) (*Object, error) {
	path, err := s.path("objects", key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("open object: %w", err)
	}
	fi, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("stat object: %w", err)
	}
	return &Object{
		Body:        f,
		ContentType: s.readMeta(key),
		Size:        fi.Size(),
		ModTime:     fi.ModTime(),
	}, nil
}

func (s *FilesystemStore) Delete(ctx context.Context, key string) error {
	path, err := s.path("objects", key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete object: %w", err)
	}
	metaPath, err := s.path("meta", key)
	if err != nil {
		return err
	}
	if err := os.Remove(metaPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete meta: %w", err)
	}
	return nil
}

func (s *FilesystemStore) PresignedGetURL(ctx context.Context, key string, expiry time.Duration) (string, error) {
	if s.publicURL == "" || s.signer == nil {
		path, err := s.path("objects", key)
		if err != nil {
			return "", err
		}
		abs, err := filepath.Abs(path)
		if err != nil {
			return "", fmt.Errorf("resolve object path: %w", err)
		}
		return (&url.URL{Scheme: "file", Path: abs}).String(), nil
	}
	u, err := url.Parse(s.publicURL + "/" + key)
	if err != nil {
		return "", fmt.Errorf("parse public url: %w", err)
	}
	expires := time.Now().Add(expiry).Unix()
	q := u.Query()
	q.Set("expires", strconv.FormatInt(expires, 10))
	q.Set("sig", s.signer.Sign(key, expires))
	u.RawQuery = q.Encode()
	return u.String(), nil
}
