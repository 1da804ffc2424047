package server

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/draftwell/inkvault/internal/extract"
	"github.com/draftwell/inkvault/internal/ingest"
	"github.com/draftwell/inkvault/internal/model"
	"github.com/draftwell/inkvault/internal/objectstore"
	"github.com/draftwell/inkvault/internal/queue"
	"github.com/draftwell/inkvault/internal/repository"
)

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleUpload(c *gin.Context) {
	tenantID := c.Param("tenantID")
	// Hard backstop against oversized bodies; 64 KiB covers the form fields
	// and multipart framing around the file itself.
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, ingest.MaxFileSizeBytes+64*1024)

	fileHeader, err := c.FormFile("file")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "request body too large"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "file is required"})
		return
	}
	ownerType := c.PostForm("ownerType")
	ownerID := c.PostForm("ownerId")
	if ownerType == "" || ownerID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "ownerType and ownerId are required"})
		return
	}

	src, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read upload"})
		return
	}
	defer src.Close()
	data, err := io.ReadAll(src)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read upload"})
		return
	}

	mimeType := fileHeader.Header.Get("Content-Type")
	if mimeType == "" && len(data) > 0 {
		mimeType = http.DetectContentType(data)
	}

	result, err := s.ingestor.Ingest(c.Request.Context(), ingest.UploadRequest{
		Filename:  fileHeader.Filename,
		MimeType:  mimeType,
		SizeBytes: int64(len(data)),
		OwnerType: model.OwnerType(ownerType),
		OwnerID:   ownerID,
		TenantID:  tenantID,
		Content:   data,
	})
	if err != nil {
		s.respondIngestError(c, err)
		return
	}

	rec := &model.FileRecord{
		ID:               uuid.NewString(),
		TenantID:         tenantID,
		OwnerType:        model.OwnerType(ownerType),
		OwnerID:          ownerID,
		StorageKey:       result.StorageKey,
		Filename:         result.SanitizedName,
		MimeType:         mimeType,
		SizeBytes:        int64(len(data)),
		TextTruncated:    result.TextWasTruncated,
		ExtractionFailed: result.ExtractionFailed,
	}
	if result.ThumbnailKey != "" {
		key := result.ThumbnailKey
		rec.ThumbnailKey = &key
	}
	if result.ExtractedText != "" {
		text := result.ExtractedText
		rec.ExtractedText = &text
	}
	if err := s.repo.Create(c.Request.Context(), rec); err != nil {
		s.logger.Error("store metadata failed", "key", rec.StorageKey, "error", err)
		s.discardObjects(c, rec)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store metadata"})
		return
	}
	if rec.ExtractionFailed {
		payload := queue.RetryExtractionPayload{TenantID: tenantID, FileID: rec.ID}
		if err := queue.EnqueueRetryExtraction(c.Request.Context(), s.queue, payload); err != nil {
			// The upload already succeeded; a failed enqueue only delays
			// the backfill until someone calls reextract.
			s.logger.Warn("enqueue retry failed", "file", rec.ID, "error", err)
		}
	}
	c.JSON(http.StatusCreated, rec)
}

// discardObjects removes stored artifacts after a metadata insert failed, so
// the object store does not accumulate rows nobody references.
func (s *Server) discardObjects(c *gin.Context, rec *model.FileRecord) {
	ctx := c.Request.Context()
	if err := s.store.Delete(ctx, rec.StorageKey); err != nil {
		s.logger.Warn("orphan cleanup failed", "key", rec.StorageKey, "error", err)
	}
	if rec.ThumbnailKey != nil {
		if err := s.store.Delete(ctx, *rec.ThumbnailKey); err != nil {
			s.logger.Warn("orphan cleanup failed", "key", *rec.ThumbnailKey, "error", err)
		}
	}
}

func (s *Server) respondIngestError(c *gin.Context, err error) {
	var vErr *ingest.ValidationError
	if errors.As(err, &vErr) {
		status := http.StatusBadRequest
		if vErr.Kind == ingest.FileTooLarge {
			status = http.StatusRequestEntityTooLarge
		}
		c.JSON(status, gin.H{"error": vErr.Message, "kind": string(vErr.Kind)})
		return
	}
	var sErr *ingest.StorageError
	if errors.As(err, &sErr) {
		s.logger.Error("object store failure", "op", sErr.Op, "key", sErr.Key, "error", sErr.Err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "object storage unavailable"})
		return
	}
	s.logger.Error("ingest failed", "error", err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "upload failed"})
}

// getRecord loads the addressed file or writes the error response itself.
func (s *Server) getRecord(c *gin.Context) (*model.FileRecord, bool) {
	rec, err := s.repo.Get(c.Request.Context(), c.Param("tenantID"), c.Param("fileID"))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "file not found"})
		} else {
			s.logger.Error("load file failed", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load file"})
		}
		return nil, false
	}
	return rec, true
}

func (s *Server) handleFileInfo(c *gin.Context) {
	rec, ok := s.getRecord(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (s *Server) handleFileContent(c *gin.Context) {
	rec, ok := s.getRecord(c)
	if !ok {
		return
	}
	s.serveObject(c, rec.StorageKey, rec.MimeType, rec.Filename)
}

func (s *Server) handleFileThumbnail(c *gin.Context) {
	rec, ok := s.getRecord(c)
	if !ok {
		return
	}
	if rec.ThumbnailKey == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no thumbnail for this file"})
		return
	}
	s.serveObject(c, *rec.ThumbnailKey, model.MimeJPEG, rec.Filename+".thumb.jpg")
}

func (s *Server) handleFileText(c *gin.Context) {
	rec, ok := s.getRecord(c)
	if !ok {
		return
	}
	if rec.ExtractedText == nil {
		if rec.ExtractionFailed {
			c.JSON(http.StatusConflict, gin.H{"error": "text extraction failed"})
			return
		}
		c.JSON(http.StatusNotFound, gin.H{"error": "no extracted text for this file"})
		return
	}
	c.Header("X-Text-Truncated", strconv.FormatBool(rec.TextTruncated))
	c.Data(http.StatusOK, "text/plain; charset=utf-8", []byte(*rec.ExtractedText))
}

func (s *Server) handleFileURL(c *gin.Context) {
	rec, ok := s.getRecord(c)
	if !ok {
		return
	}
	url, err := s.store.PresignedGetURL(c.Request.Context(), rec.StorageKey, s.cfg.Server.SignedURLTTL)
	if err != nil {
		s.logger.Error("presign failed", "key", rec.StorageKey, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to generate url"})
		return
	}
	expires := time.Now().Add(s.cfg.Server.SignedURLTTL).Unix()
	c.JSON(http.StatusOK, gin.H{
		"url":     url,
		"expires": strconv.FormatInt(expires, 10),
	})
}

func (s *Server) handleReextract(c *gin.Context) {
	rec, ok := s.getRecord(c)
	if !ok {
		return
	}
	if !extract.Supported(rec.MimeType) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file type does not support text extraction"})
		return
	}
	payload := queue.RetryExtractionPayload{TenantID: rec.TenantID, FileID: rec.ID}
	if err := queue.EnqueueRetryExtraction(c.Request.Context(), s.queue, payload); err != nil {
		s.logger.Error("enqueue retry failed", "file", rec.ID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to queue job"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "queued"})
}

func (s *Server) handleFileDelete(c *gin.Context) {
	rec, ok := s.getRecord(c)
	if !ok {
		return
	}
	if err := s.repo.Delete(c.Request.Context(), rec.TenantID, rec.ID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "file not found"})
			return
		}
		s.logger.Error("delete file failed", "file", rec.ID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete file"})
		return
	}
	keys := []string{rec.StorageKey}
	if rec.ThumbnailKey != nil {
		keys = append(keys, *rec.ThumbnailKey)
	}
	payload := queue.CleanupOwnerPayload{TenantID: rec.TenantID, Keys: keys}
	if err := queue.EnqueueCleanupOwner(c.Request.Context(), s.queue, payload); err != nil {
		// The record is already gone; the orphaned objects are an ops
		// concern, not a client error.
		s.logger.Error("enqueue cleanup failed", "tenant", rec.TenantID, "error", err)
	}
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

func (s *Server) handleOwnerFiles(c *gin.Context) {
	recs, err := s.repo.ListByOwner(c.Request.Context(), c.Param("tenantID"),
		model.OwnerType(c.Param("ownerType")), c.Param("ownerID"))
	if err != nil {
		s.logger.Error("list files failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list files"})
		return
	}
	if recs == nil {
		recs = []model.FileRecord{}
	}
	c.JSON(http.StatusOK, gin.H{"files": recs})
}

func (s *Server) handleOwnerDelete(c *gin.Context) {
	ctx := c.Request.Context()
	tenantID := c.Param("tenantID")
	ownerType := model.OwnerType(c.Param("ownerType"))
	ownerID := c.Param("ownerID")

	keys, err := s.repo.ListKeysByOwner(ctx, tenantID, ownerType, ownerID)
	if err != nil {
		s.logger.Error("list keys failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete files"})
		return
	}
	deleted, err := s.repo.DeleteByOwner(ctx, tenantID, ownerType, ownerID)
	if err != nil {
		s.logger.Error("delete files failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete files"})
		return
	}
	if len(keys) > 0 {
		payload := queue.CleanupOwnerPayload{TenantID: tenantID, Keys: keys}
		if err := queue.EnqueueCleanupOwner(ctx, s.queue, payload); err != nil {
			s.logger.Error("enqueue cleanup failed", "tenant", tenantID, "error", err)
		}
	}
	c.JSON(http.StatusOK, gin.H{"deleted": deleted})
}

// handleBlob serves objects through the short-lived URLs the filesystem
// driver signs. S3 deployments never hit this route; MinIO presigns its own.
func (s *Server) handleBlob(c *gin.Context) {
	key := strings.TrimPrefix(c.Param("key"), "/")
	expires := c.Query("expires")
	sig := c.Query("sig")
	if key == "" || expires == "" || sig == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing parameters"})
		return
	}
	expiryUnix, err := strconv.ParseInt(expires, 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid expires"})
		return
	}
	if time.Unix(expiryUnix, 0).Before(time.Now()) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "url expired"})
		return
	}
	if s.signer == nil || !s.signer.Verify(key, expires, sig) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
		return
	}
	s.serveObject(c, key, "", path.Base(key))
}

// serveObject streams one stored object, honoring range requests.
func (s *Server) serveObject(c *gin.Context, key, contentType, filename string) {
	obj, err := s.store.Get(c.Request.Context(), key)
	if err != nil {
		if errors.Is(err, objectstore.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "object not found"})
			return
		}
		s.logger.Error("fetch object failed", "key", key, "error", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "object storage unavailable"})
		return
	}
	defer obj.Body.Close()
	if contentType == "" {
		contentType = obj.ContentType
	}
	c.Header("Content-Type", contentType)
	c.Header("Content-Disposition", fmt.Sprintf("inline; filename=%q", filename))
	http.ServeContent(c.Writer, c.Request, filename, obj.ModTime, obj.Body)
}
