package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/draftwell/inkvault/internal/config"
	"github.com/draftwell/inkvault/internal/convert"
	"github.com/draftwell/inkvault/internal/database"
	"github.com/draftwell/inkvault/internal/extract"
	"github.com/draftwell/inkvault/internal/logging"
	"github.com/draftwell/inkvault/internal/objectstore"
	"github.com/draftwell/inkvault/internal/repository"
	"github.com/draftwell/inkvault/internal/worker"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config failed", "error", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.Env)

	pool, err := database.Connect(ctx, cfg.Database.DSN(), cfg.Database.MaxConns)
	if err != nil {
		logger.Error("connect database failed", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	if err := database.EnsureSchema(ctx, pool); err != nil {
		logger.Error("ensure schema failed", "error", err)
		os.Exit(1)
	}
	repo := repository.NewFileRepository(pool)

	store, err := objectstore.New(storageConfig(cfg))
	if err != nil {
		logger.Error("init storage failed", "error", err)
		os.Exit(1)
	}
	if ms, ok := store.(*objectstore.MinioStore); ok {
		if err := ms.EnsureBucket(ctx); err != nil {
			logger.Error("ensure bucket failed", "error", err)
			os.Exit(1)
		}
	}

	converter, err := convert.New(convert.Config{
		Mode:    cfg.Convert.Mode,
		BaseURL: cfg.Convert.BaseURL,
		Timeout: cfg.Convert.Timeout,
	})
	if err != nil {
		logger.Error("init converter failed", "error", err)
		os.Exit(1)
	}

	srv := asynq.NewServer(asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}, asynq.Config{
		Concurrency: cfg.Worker.Concurrency,
		Logger:      logging.NewAsynqLogger(logger),
	})
	processor := worker.NewProcessor(repo, store, extract.New(converter), logger)
	mux := processor.Handler()

	go func() {
		<-ctx.Done()
		srv.Shutdown()
	}()

	logger.Info("worker running", "concurrency", cfg.Worker.Concurrency)
	if err := srv.Run(mux); err != nil {
		logger.Error("worker stopped", "error", err)
		os.Exit(1)
	}
}

func storageConfig(cfg *config.Config) objectstore.Config {
	return objectstore.Config{
		Driver:    cfg.Storage.Driver,
		Endpoint:  cfg.Storage.Endpoint,
		AccessKey: cfg.Storage.AccessKey,
		SecretKey: cfg.Storage.SecretKey,
		Bucket:    cfg.Storage.Bucket,
		Region:    cfg.Storage.Region,
		UseSSL:    cfg.Storage.UseSSL,
		BaseDir:   cfg.Storage.BaseDir,
		PublicURL: cfg.Storage.PublicURL,
		URLSecret: cfg.Signing.Secret,
	}
}
