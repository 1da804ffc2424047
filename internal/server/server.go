// Package server exposes the HTTP API for uploads, file metadata, and
// signed downloads.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/draftwell/inkvault/internal/config"
	"github.com/draftwell/inkvault/internal/ingest"
	"github.com/draftwell/inkvault/internal/model"
	"github.com/draftwell/inkvault/internal/objectstore"
	"github.com/draftwell/inkvault/internal/queue"
	"github.com/draftwell/inkvault/internal/signing"
)

// Repository is the slice of the file repository the handlers use.
type Repository interface {
	Create(ctx context.Context, rec *model.FileRecord) error
	Get(ctx context.Context, tenantID, id string) (*model.FileRecord, error)
	ListByOwner(ctx context.Context, tenantID string, ownerType model.OwnerType, ownerID string) ([]model.FileRecord, error)
	ListKeysByOwner(ctx context.Context, tenantID string, ownerType model.OwnerType, ownerID string) ([]string, error)
	Delete(ctx context.Context, tenantID, id string) error
	DeleteByOwner(ctx context.Context, tenantID string, ownerType model.OwnerType, ownerID string) (int64, error)
}

// Server hosts the HTTP API. It stitches together ingestion, persistence,
// object storage, and the task queue.
type Server struct {
	cfg      *config.Config
	repo     Repository
	store    objectstore.Store
	ingestor *ingest.Ingestor
	queue    queue.Enqueuer
	signer   *signing.Signer
	logger   *slog.Logger
	engine   *gin.Engine
}

// New constructs a Server with its routes registered.
func New(cfg *config.Config, repo Repository, store objectstore.Store, ingestor *ingest.Ingestor, queueClient queue.Enqueuer, signer *signing.Signer, logger *slog.Logger) *Server {
	if cfg.Env != "development" {
		gin.SetMode(gin.ReleaseMode)
	}
	s := &Server{
		cfg:      cfg,
		repo:     repo,
		store:    store,
		ingestor: ingestor,
		queue:    queueClient,
		signer:   signer,
		logger:   logger,
		engine:   gin.New(),
	}
	s.routes()
	return s
}

// Handler returns the routed engine, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run starts the HTTP server and blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    s.cfg.Server.Address,
		Handler: s.engine,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	s.logger.Info("api listening", "address", s.cfg.Server.Address)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) routes() {
	s.engine.Use(requestLogger(s.logger), gin.Recovery())

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = s.cfg.Server.CORSOrigins
	if len(corsConfig.AllowOrigins) == 1 && corsConfig.AllowOrigins[0] == "*" {
		corsConfig.AllowOrigins = nil
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization"}
	s.engine.Use(cors.New(corsConfig))

	s.engine.GET("/healthz", s.handleHealth)
	s.engine.GET("/blobs/*key", s.handleBlob)

	v1 := s.engine.Group("/v1")
	tenants := v1.Group("/tenants/:tenantID")
	{
		tenants.POST("/files", s.handleUpload)
		tenants.GET("/files/:fileID", s.handleFileInfo)
		tenants.GET("/files/:fileID/content", s.handleFileContent)
		tenants.GET("/files/:fileID/thumbnail", s.handleFileThumbnail)
		tenants.GET("/files/:fileID/text", s.handleFileText)
		tenants.GET("/files/:fileID/url", s.handleFileURL)
		tenants.POST("/files/:fileID/reextract", s.handleReextract)
		tenants.DELETE("/files/:fileID", s.handleFileDelete)
		tenants.GET("/owners/:ownerType/:ownerID/files", s.handleOwnerFiles)
		tenants.DELETE("/owners/:ownerType/:ownerID", s.handleOwnerDelete)
	}
}

func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}
