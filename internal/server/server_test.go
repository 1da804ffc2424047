package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/draftwell/inkvault/internal/config"
	"github.com/draftwell/inkvault/internal/convert"
	"github.com/draftwell/inkvault/internal/extract"
	"github.com/draftwell/inkvault/internal/ingest"
	"github.com/draftwell/inkvault/internal/model"
	"github.com/draftwell/inkvault/internal/objectstore"
	"github.com/draftwell/inkvault/internal/queue"
	"github.com/draftwell/inkvault/internal/repository"
	"github.com/draftwell/inkvault/internal/signing"
	"github.com/draftwell/inkvault/internal/thumbnail"
)

type stubConverter struct {
	results []convert.Result
	err     error
}

func (s *stubConverter) Convert(ctx context.Context, items []convert.Item) ([]convert.Result, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.results, nil
}

type fakeRepo struct {
	mu          sync.Mutex
	recs        map[string]model.FileRecord
	createErr   error
	lastAttempt *model.FileRecord
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{recs: make(map[string]model.FileRecord)}
}

func (f *fakeRepo) put(rec model.FileRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recs[rec.ID] = rec
}

func (f *fakeRepo) Create(ctx context.Context, rec *model.FileRecord) error {
	f.mu.Lock()
	f.lastAttempt = rec
	f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	now := time.Now().UTC()
	rec.CreatedAt = now
	rec.UpdatedAt = now
	f.put(*rec)
	return nil
}

func (f *fakeRepo) Get(ctx context.Context, tenantID, id string) (*model.FileRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.recs[id]
	if !ok || rec.TenantID != tenantID {
		return nil, repository.ErrNotFound
	}
	out := rec
	return &out, nil
}

func (f *fakeRepo) ListByOwner(ctx context.Context, tenantID string, ownerType model.OwnerType, ownerID string) ([]model.FileRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var recs []model.FileRecord
	for _, rec := range f.recs {
		if rec.TenantID == tenantID && rec.OwnerType == ownerType && rec.OwnerID == ownerID {
			recs = append(recs, rec)
		}
	}
	return recs, nil
}

func (f *fakeRepo) ListKeysByOwner(ctx context.Context, tenantID string, ownerType model.OwnerType, ownerID string) ([]string, error) {
	recs, _ := f.ListByOwner(ctx, tenantID, ownerType, ownerID)
	var keys []string
	for _, rec := range recs {
		keys = append(keys, rec.StorageKey)
		if rec.ThumbnailKey != nil {
			keys = append(keys, *rec.ThumbnailKey)
		}
	}
	return keys, nil
}

func (f *fakeRepo) Delete(ctx context.Context, tenantID, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.recs[id]
	if !ok || rec.TenantID != tenantID {
		return repository.ErrNotFound
	}
	delete(f.recs, id)
	return nil
}

func (f *fakeRepo) DeleteByOwner(ctx context.Context, tenantID string, ownerType model.OwnerType, ownerID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var deleted int64
	for id, rec := range f.recs {
		if rec.TenantID == tenantID && rec.OwnerType == ownerType && rec.OwnerID == ownerID {
			delete(f.recs, id)
			deleted++
		}
	}
	return deleted, nil
}

type fakeEnqueuer struct {
	mu    sync.Mutex
	tasks []*asynq.Task
	err   error
}

func (f *fakeEnqueuer) EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tasks = append(f.tasks, task)
	return &asynq.TaskInfo{}, nil
}

type testEnv struct {
	srv   *Server
	repo  *fakeRepo
	queue *fakeEnqueuer
	store objectstore.Store
	conv  *stubConverter
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := objectstore.NewMemoryStore()
	conv := &stubConverter{}
	ingestor := ingest.NewIngestor(store, extract.New(conv),
		thumbnail.NewGenerator(thumbnail.NewCodecs(), thumbnail.DefaultMaxWidth), logger)
	repo := newFakeRepo()
	q := &fakeEnqueuer{}
	cfg := &config.Config{
		Env: "development",
		Server: config.ServerConfig{
			Address:         ":0",
			CORSOrigins:     []string{"*"},
			SignedURLTTL:    15 * time.Minute,
			ShutdownTimeout: time.Second,
		},
	}
	srv := New(cfg, repo, store, ingestor, q, signing.NewSigner([]byte("test-secret")), logger)
	return &testEnv{srv: srv, repo: repo, queue: q, store: store, conv: conv}
}

func (e *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	e.srv.Handler().ServeHTTP(w, req)
	return w
}

func multipartBody(t *testing.T, filename, mimeType string, content []byte, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	if filename != "" {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filename))
		if mimeType != "" {
			h.Set("Content-Type", mimeType)
		}
		part, err := w.CreatePart(h)
		require.NoError(t, err)
		_, err = part.Write(content)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return &buf, w.FormDataContentType()
}

func (e *testEnv) upload(t *testing.T, tenant, filename, mimeType string, content []byte) *httptest.ResponseRecorder {
	t.Helper()
	body, contentType := multipartBody(t, filename, mimeType, content, map[string]string{
		"ownerType": "persona",
		"ownerId":   "p1",
	})
	req := httptest.NewRequest(http.MethodPost, "/v1/tenants/"+tenant+"/files", body)
	req.Header.Set("Content-Type", contentType)
	return e.do(req)
}

func makeJPEG(t *testing.T, width, height int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for x := 0; x < width; x++ {
		for y := 0; y < height; y++ {
			img.Set(x, y, color.RGBA{uint8(x % 256), uint8(y % 256), 128, 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	return buf.Bytes()
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestUploadStoresFileAndRecord(t *testing.T) {
	env := newTestEnv(t)
	content := []byte("draft copy for the spring launch")

	w := env.upload(t, "acme", "note.txt", "text/plain", content)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var rec model.FileRecord
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rec))
	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, "acme", rec.TenantID)
	assert.Equal(t, model.OwnerPersona, rec.OwnerType)
	assert.Equal(t, "note.txt", rec.Filename)
	assert.True(t, strings.HasPrefix(rec.StorageKey, "acme/personas/"), rec.StorageKey)
	assert.True(t, strings.HasSuffix(rec.StorageKey, "-note.txt"), rec.StorageKey)
	require.NotNil(t, rec.ExtractedText)
	assert.Equal(t, string(content), *rec.ExtractedText)
	assert.Nil(t, rec.ThumbnailKey)
	assert.False(t, rec.ExtractionFailed)

	stored, err := env.repo.Get(context.Background(), "acme", rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.StorageKey, stored.StorageKey)

	obj, err := env.store.Get(context.Background(), rec.StorageKey)
	require.NoError(t, err)
	defer obj.Body.Close()
	data, err := io.ReadAll(obj.Body)
	require.NoError(t, err)
	assert.Equal(t, content, data)

	assert.Empty(t, env.queue.tasks, "successful extraction queues nothing")
}

func TestUploadGeneratesThumbnail(t *testing.T) {
	env := newTestEnv(t)
	env.conv.results = []convert.Result{{Err: errors.New("image text unavailable")}}

	w := env.upload(t, "acme", "cover.jpg", "image/jpeg", makeJPEG(t, 640, 480))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var rec model.FileRecord
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rec))
	require.NotNil(t, rec.ThumbnailKey)
	assert.Equal(t, rec.StorageKey+".thumb.jpg", *rec.ThumbnailKey)
	assert.True(t, rec.ExtractionFailed)

	obj, err := env.store.Get(context.Background(), *rec.ThumbnailKey)
	require.NoError(t, err)
	defer obj.Body.Close()
	img, format, err := image.Decode(obj.Body)
	require.NoError(t, err)
	assert.Equal(t, "jpeg", format)
	assert.Equal(t, thumbnail.DefaultMaxWidth, img.Bounds().Dx())

	// The failed inline extraction is handed to the worker.
	require.Len(t, env.queue.tasks, 1)
	task := env.queue.tasks[0]
	assert.Equal(t, queue.RetryExtractionTask, task.Type())
	var payload queue.RetryExtractionPayload
	require.NoError(t, json.Unmarshal(task.Payload(), &payload))
	assert.Equal(t, rec.ID, payload.FileID)
}

func TestUploadLatin1TextStoredAsValidUTF8(t *testing.T) {
	env := newTestEnv(t)

	// 0xE9 is é in Latin-1 and an invalid sequence in UTF-8. The record must
	// reach the repository with valid text or the insert itself would fail.
	w := env.upload(t, "acme", "menu.txt", "text/plain", []byte{'c', 'a', 'f', 0xE9})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	require.NotNil(t, env.repo.lastAttempt)
	require.NotNil(t, env.repo.lastAttempt.ExtractedText)
	assert.True(t, utf8.ValidString(*env.repo.lastAttempt.ExtractedText))
	assert.Equal(t, "caf�", *env.repo.lastAttempt.ExtractedText)
	assert.False(t, env.repo.lastAttempt.ExtractionFailed)
}

func TestUploadRejectsMissingFile(t *testing.T) {
	env := newTestEnv(t)
	body, contentType := multipartBody(t, "", "", nil, map[string]string{"ownerType": "persona", "ownerId": "p1"})
	req := httptest.NewRequest(http.MethodPost, "/v1/tenants/acme/files", body)
	req.Header.Set("Content-Type", contentType)
	w := env.do(req)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "file is required")
}

func TestUploadRejectsMissingOwner(t *testing.T) {
	env := newTestEnv(t)
	body, contentType := multipartBody(t, "note.txt", "text/plain", []byte("x"), nil)
	req := httptest.NewRequest(http.MethodPost, "/v1/tenants/acme/files", body)
	req.Header.Set("Content-Type", contentType)
	w := env.do(req)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "ownerType and ownerId are required")
}

func TestUploadRejectsDisallowedType(t *testing.T) {
	env := newTestEnv(t)
	w := env.upload(t, "acme", "archive.zip", "application/zip", []byte("PK\x03\x04"))
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "not allowed")
	assert.Contains(t, w.Body.String(), string(ingest.MimeTypeNotAllowed))
}

func TestUploadRejectsOversize(t *testing.T) {
	env := newTestEnv(t)
	w := env.upload(t, "acme", "big.txt", "text/plain", make([]byte, ingest.MaxFileSizeBytes+1))
	require.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	assert.Contains(t, w.Body.String(), "15MB")
}

func TestUploadMetadataFailureDiscardsObjects(t *testing.T) {
	env := newTestEnv(t)
	env.repo.createErr = errors.New("db down")

	w := env.upload(t, "acme", "note.txt", "text/plain", []byte("orphan candidate"))
	require.Equal(t, http.StatusInternalServerError, w.Code)

	// The stored object must not outlive the failed insert.
	require.NotNil(t, env.repo.lastAttempt)
	_, err := env.store.Get(context.Background(), env.repo.lastAttempt.StorageKey)
	assert.ErrorIs(t, err, objectstore.ErrNotFound)
}

func TestFileInfoNotFound(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(httptest.NewRequest(http.MethodGet, "/v1/tenants/acme/files/missing", nil))
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestFileInfoWrongTenant(t *testing.T) {
	env := newTestEnv(t)
	w := env.upload(t, "acme", "note.txt", "text/plain", []byte("tenant scoped"))
	require.Equal(t, http.StatusCreated, w.Code)
	var rec model.FileRecord
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rec))

	w = env.do(httptest.NewRequest(http.MethodGet, "/v1/tenants/rival/files/"+rec.ID, nil))
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestFileContentSupportsRanges(t *testing.T) {
	env := newTestEnv(t)
	content := []byte("0123456789abcdef")
	w := env.upload(t, "acme", "note.txt", "text/plain", content)
	require.Equal(t, http.StatusCreated, w.Code)
	var rec model.FileRecord
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rec))

	w = env.do(httptest.NewRequest(http.MethodGet, "/v1/tenants/acme/files/"+rec.ID+"/content", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, content, w.Body.Bytes())
	assert.Contains(t, w.Header().Get("Content-Type"), "text/plain")
	assert.Contains(t, w.Header().Get("Content-Disposition"), `filename="note.txt"`)

	req := httptest.NewRequest(http.MethodGet, "/v1/tenants/acme/files/"+rec.ID+"/content", nil)
	req.Header.Set("Range", "bytes=4-9")
	w = env.do(req)
	require.Equal(t, http.StatusPartialContent, w.Code)
	assert.Equal(t, "456789", w.Body.String())
	assert.Equal(t, "bytes 4-9/16", w.Header().Get("Content-Range"))
}

func TestFileThumbnailMissing(t *testing.T) {
	env := newTestEnv(t)
	w := env.upload(t, "acme", "note.txt", "text/plain", []byte("no image here"))
	require.Equal(t, http.StatusCreated, w.Code)
	var rec model.FileRecord
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rec))

	w = env.do(httptest.NewRequest(http.MethodGet, "/v1/tenants/acme/files/"+rec.ID+"/thumbnail", nil))
	require.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "no thumbnail")
}

func TestFileTextStates(t *testing.T) {
	env := newTestEnv(t)
	text := "the extracted words"
	env.repo.put(model.FileRecord{
		ID: "has-text", TenantID: "acme", MimeType: model.MimePlainText,
		ExtractedText: &text, TextTruncated: true,
	})
	env.repo.put(model.FileRecord{
		ID: "failed", TenantID: "acme", MimeType: model.MimePDF, ExtractionFailed: true,
	})
	env.repo.put(model.FileRecord{
		ID: "no-text", TenantID: "acme", MimeType: model.MimeGIF,
	})

	w := env.do(httptest.NewRequest(http.MethodGet, "/v1/tenants/acme/files/has-text/text", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, text, w.Body.String())
	assert.Equal(t, "true", w.Header().Get("X-Text-Truncated"))

	w = env.do(httptest.NewRequest(http.MethodGet, "/v1/tenants/acme/files/failed/text", nil))
	require.Equal(t, http.StatusConflict, w.Code)

	w = env.do(httptest.NewRequest(http.MethodGet, "/v1/tenants/acme/files/no-text/text", nil))
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestFileURL(t *testing.T) {
	env := newTestEnv(t)
	w := env.upload(t, "acme", "note.txt", "text/plain", []byte("sign me"))
	require.Equal(t, http.StatusCreated, w.Code)
	var rec model.FileRecord
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rec))

	w = env.do(httptest.NewRequest(http.MethodGet, "/v1/tenants/acme/files/"+rec.ID+"/url", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, strings.HasPrefix(resp["url"], "memory://"), resp["url"])
	expires, err := strconv.ParseInt(resp["expires"], 10, 64)
	require.NoError(t, err)
	assert.Greater(t, expires, time.Now().Unix())
}

func TestReextractQueuesTask(t *testing.T) {
	env := newTestEnv(t)
	env.repo.put(model.FileRecord{
		ID: "f1", TenantID: "acme", MimeType: model.MimePDF,
		StorageKey: "acme/personas/x.pdf", ExtractionFailed: true,
	})

	w := env.do(httptest.NewRequest(http.MethodPost, "/v1/tenants/acme/files/f1/reextract", nil))
	require.Equal(t, http.StatusAccepted, w.Code)

	require.Len(t, env.queue.tasks, 1)
	task := env.queue.tasks[0]
	assert.Equal(t, queue.RetryExtractionTask, task.Type())
	var payload queue.RetryExtractionPayload
	require.NoError(t, json.Unmarshal(task.Payload(), &payload))
	assert.Equal(t, "acme", payload.TenantID)
	assert.Equal(t, "f1", payload.FileID)
}

func TestReextractUnsupportedType(t *testing.T) {
	env := newTestEnv(t)
	env.repo.put(model.FileRecord{
		ID: "g1", TenantID: "acme", MimeType: model.MimeGIF,
		StorageKey: "acme/examples/clip.gif",
	})

	w := env.do(httptest.NewRequest(http.MethodPost, "/v1/tenants/acme/files/g1/reextract", nil))
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, env.queue.tasks)
}

func TestFileDeleteQueuesCleanup(t *testing.T) {
	env := newTestEnv(t)
	w := env.upload(t, "acme", "note.txt", "text/plain", []byte("short lived"))
	require.Equal(t, http.StatusCreated, w.Code)
	var rec model.FileRecord
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rec))

	w = env.do(httptest.NewRequest(http.MethodDelete, "/v1/tenants/acme/files/"+rec.ID, nil))
	require.Equal(t, http.StatusOK, w.Code)

	_, err := env.repo.Get(context.Background(), "acme", rec.ID)
	assert.ErrorIs(t, err, repository.ErrNotFound)

	require.Len(t, env.queue.tasks, 1)
	task := env.queue.tasks[0]
	assert.Equal(t, queue.CleanupOwnerTask, task.Type())
	var payload queue.CleanupOwnerPayload
	require.NoError(t, json.Unmarshal(task.Payload(), &payload))
	assert.Equal(t, []string{rec.StorageKey}, payload.Keys)
}

func TestOwnerDeleteCascades(t *testing.T) {
	env := newTestEnv(t)
	first := env.upload(t, "acme", "one.txt", "text/plain", []byte("first"))
	require.Equal(t, http.StatusCreated, first.Code)
	second := env.upload(t, "acme", "two.txt", "text/plain", []byte("second"))
	require.Equal(t, http.StatusCreated, second.Code)

	w := env.do(httptest.NewRequest(http.MethodDelete, "/v1/tenants/acme/owners/persona/p1", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"deleted":2}`, w.Body.String())

	require.Len(t, env.queue.tasks, 1)
	var payload queue.CleanupOwnerPayload
	require.NoError(t, json.Unmarshal(env.queue.tasks[0].Payload(), &payload))
	assert.Len(t, payload.Keys, 2)

	recs, err := env.repo.ListByOwner(context.Background(), "acme", model.OwnerPersona, "p1")
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestOwnerFilesEmptyList(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(httptest.NewRequest(http.MethodGet, "/v1/tenants/acme/owners/persona/none/files", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"files":[]}`, w.Body.String())
}

func TestBlobRouteVerifiesSignature(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	content := []byte("signed blob content")
	key := "acme/misc/blob.txt"
	require.NoError(t, env.store.Put(ctx, key, bytes.NewReader(content), int64(len(content)), "text/plain"))

	signer := signing.NewSigner([]byte("test-secret"))
	expires := time.Now().Add(time.Hour).Unix()
	sig := signer.Sign(key, expires)

	url := fmt.Sprintf("/blobs/%s?expires=%d&sig=%s", key, expires, sig)
	w := env.do(httptest.NewRequest(http.MethodGet, url, nil))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, content, w.Body.Bytes())

	w = env.do(httptest.NewRequest(http.MethodGet, fmt.Sprintf("/blobs/%s?expires=%d&sig=bogus", key, expires), nil))
	require.Equal(t, http.StatusUnauthorized, w.Code)

	stale := time.Now().Add(-time.Hour).Unix()
	staleURL := fmt.Sprintf("/blobs/%s?expires=%d&sig=%s", key, stale, signer.Sign(key, stale))
	w = env.do(httptest.NewRequest(http.MethodGet, staleURL, nil))
	require.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "url expired")
}
