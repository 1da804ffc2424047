package ingest

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/draftwell/inkvault/internal/convert"
	"github.com/draftwell/inkvault/internal/extract"
	"github.com/draftwell/inkvault/internal/model"
	"github.com/draftwell/inkvault/internal/objectstore"
	"github.com/draftwell/inkvault/internal/thumbnail"
)

type stubConverter struct {
	text  string
	err   error
	calls int
}

func (s *stubConverter) Convert(ctx context.Context, items []convert.Item) ([]convert.Result, error) {
	s.calls++
	out := make([]convert.Result, len(items))
	for i := range items {
		if s.err != nil {
			out[i] = convert.Result{Err: s.err}
		} else {
			out[i] = convert.Result{Text: s.text}
		}
	}
	return out, nil
}

type putFailStore struct{}

func (putFailStore) Put(context.Context, string, io.Reader, int64, string) error {
	return errors.New("bucket unavailable")
}

func (putFailStore) Get(context.Context, string) (*objectstore.Object, error) {
	return nil, objectstore.ErrNotFound
}

func (putFailStore) Delete(context.Context, string) error { return nil }

func (putFailStore) PresignedGetURL(context.Context, string, time.Duration) (string, error) {
	return "", nil
}

type cancelAfterPut struct {
	objectstore.Store
	cancel context.CancelFunc
}

func (s *cancelAfterPut) Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) error {
	err := s.Store.Put(ctx, key, body, size, contentType)
	s.cancel()
	return err
}

func newTestIngestor(store objectstore.Store, conv convert.Converter) *Ingestor {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewIngestor(store, extract.New(conv), thumbnail.NewGenerator(thumbnail.NewCodecs(), 300), logger)
}

func wideJPEG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 640, 480))
	for y := 0; y < 480; y++ {
		for x := 0; x < 640; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x % 256), G: uint8(y % 256), B: 64, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: 85}))
	return buf.Bytes()
}

func TestIngestPlainText(t *testing.T) {
	store := objectstore.NewMemoryStore()
	conv := &stubConverter{}
	ing := newTestIngestor(store, conv)

	content := []byte("Our brand voice is warm and direct.")
	res, err := ing.Ingest(context.Background(), UploadRequest{
		Filename:  "voice notes.txt",
		MimeType:  model.MimePlainText,
		SizeBytes: int64(len(content)),
		OwnerType: model.OwnerBrandVoice,
		OwnerID:   "bv_1",
		TenantID:  "tenant-1",
		Content:   content,
	})
	require.NoError(t, err)
	assert.Equal(t, "voice_notes.txt", res.SanitizedName)
	assert.True(t, strings.HasPrefix(res.StorageKey, "tenant-1/brand-voices/"))
	assert.True(t, strings.HasSuffix(res.StorageKey, "-voice_notes.txt"))
	assert.Empty(t, res.ThumbnailKey)
	assert.Equal(t, string(content), res.ExtractedText)
	assert.False(t, res.ExtractionFailed)
	assert.False(t, res.TextWasTruncated)
	assert.Zero(t, conv.calls, "plain text never reaches the converter")

	obj, err := store.Get(context.Background(), res.StorageKey)
	require.NoError(t, err)
	defer obj.Body.Close()
	assert.Equal(t, model.MimePlainText, obj.ContentType)
	stored, err := io.ReadAll(obj.Body)
	require.NoError(t, err)
	assert.Equal(t, content, stored)
}

func TestIngestImageStoresThumbnail(t *testing.T) {
	store := objectstore.NewMemoryStore()
	conv := &stubConverter{text: "a photo of a whiteboard"}
	ing := newTestIngestor(store, conv)

	content := wideJPEG(t)
	res, err := ing.Ingest(context.Background(), UploadRequest{
		Filename:  "board.jpg",
		MimeType:  model.MimeJPEG,
		SizeBytes: int64(len(content)),
		OwnerType: model.OwnerKnowledgeBaseItem,
		OwnerID:   "kb_1",
		TenantID:  "tenant-1",
		Content:   content,
	})
	require.NoError(t, err)
	require.NotEmpty(t, res.ThumbnailKey)
	assert.Equal(t, ThumbnailKey(res.StorageKey), res.ThumbnailKey)
	assert.Equal(t, "a photo of a whiteboard", res.ExtractedText)

	obj, err := store.Get(context.Background(), res.ThumbnailKey)
	require.NoError(t, err)
	defer obj.Body.Close()
	assert.Equal(t, model.MimeJPEG, obj.ContentType)
	img, _, err := image.Decode(obj.Body)
	require.NoError(t, err)
	assert.Equal(t, 300, img.Bounds().Dx())
	assert.Equal(t, 225, img.Bounds().Dy())
}

func TestIngestRejectsInvalidRequests(t *testing.T) {
	ing := newTestIngestor(objectstore.NewMemoryStore(), &stubConverter{})

	_, err := ing.Ingest(context.Background(), UploadRequest{
		Filename: "x.txt", MimeType: model.MimePlainText, SizeBytes: 0, TenantID: "t",
	})
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, EmptyOrNegativeSize, ve.Kind)

	_, err = ing.Ingest(context.Background(), UploadRequest{
		Filename: "x.mp4", MimeType: "video/mp4", SizeBytes: 10, TenantID: "t",
	})
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, MimeTypeNotAllowed, ve.Kind)
}

func TestIngestFatalOnPrimaryWriteFailure(t *testing.T) {
	ing := newTestIngestor(putFailStore{}, &stubConverter{})
	res, err := ing.Ingest(context.Background(), UploadRequest{
		Filename: "doc.pdf", MimeType: model.MimePDF, SizeBytes: 4,
		OwnerType: model.OwnerExample, OwnerID: "e_1", TenantID: "t",
		Content: []byte("%PDF"),
	})
	assert.Nil(t, res)
	var se *StorageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "put", se.Op)
}

func TestIngestToleratesExtractionFailure(t *testing.T) {
	store := objectstore.NewMemoryStore()
	conv := &stubConverter{err: errors.New("conversion crashed")}
	ing := newTestIngestor(store, conv)

	content := []byte("%PDF-1.4 pretend")
	res, err := ing.Ingest(context.Background(), UploadRequest{
		Filename: "report.pdf", MimeType: model.MimePDF,
		SizeBytes: int64(len(content)), OwnerType: model.OwnerExample,
		OwnerID: "ex_1", TenantID: "t", Content: content,
	})
	require.NoError(t, err, "derived artifact failure must not fail ingestion")
	assert.NotEmpty(t, res.StorageKey)
	assert.Empty(t, res.ExtractedText)
	assert.True(t, res.ExtractionFailed)
	assert.Equal(t, 1, conv.calls)

	_, err = store.Get(context.Background(), res.StorageKey)
	assert.NoError(t, err, "primary object stays put")
}

func TestIngestToleratesThumbnailFailure(t *testing.T) {
	store := objectstore.NewMemoryStore()
	conv := &stubConverter{text: "described"}
	ing := newTestIngestor(store, conv)

	content := []byte("not really a png")
	res, err := ing.Ingest(context.Background(), UploadRequest{
		Filename: "broken.png", MimeType: model.MimePNG,
		SizeBytes: int64(len(content)), OwnerType: model.OwnerPersona,
		OwnerID: "p_1", TenantID: "t", Content: content,
	})
	require.NoError(t, err)
	assert.Empty(t, res.ThumbnailKey)
	assert.Equal(t, "described", res.ExtractedText, "extraction still runs")
	assert.False(t, res.ExtractionFailed)
}

func TestIngestSkipsDerivedStepsAfterCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	store := &cancelAfterPut{Store: objectstore.NewMemoryStore(), cancel: cancel}
	conv := &stubConverter{text: "never used"}
	ing := newTestIngestor(store, conv)

	content := wideJPEG(t)
	res, err := ing.Ingest(ctx, UploadRequest{
		Filename: "photo.jpg", MimeType: model.MimeJPEG,
		SizeBytes: int64(len(content)), OwnerType: model.OwnerExample,
		OwnerID: "e_1", TenantID: "t", Content: content,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, res.StorageKey)
	assert.Empty(t, res.ThumbnailKey, "thumbnail skipped")
	assert.True(t, res.ExtractionFailed, "extraction skipped though format extractable")
	assert.Zero(t, conv.calls)

	_, err = store.Get(context.Background(), res.StorageKey)
	assert.NoError(t, err, "primary object not rolled back")
}

func TestIngestTruncatesLongText(t *testing.T) {
	ing := newTestIngestor(objectstore.NewMemoryStore(), &stubConverter{})

	content := []byte(strings.Repeat("b", extract.MaxExtractedTextLen+5))
	res, err := ing.Ingest(context.Background(), UploadRequest{
		Filename: "big.txt", MimeType: model.MimePlainText,
		SizeBytes: int64(len(content)), OwnerType: model.OwnerBrandVoice,
		OwnerID: "bv", TenantID: "t", Content: content,
	})
	require.NoError(t, err)
	assert.Len(t, res.ExtractedText, extract.MaxExtractedTextLen)
	assert.True(t, res.TextWasTruncated)
	assert.False(t, res.ExtractionFailed)
}
