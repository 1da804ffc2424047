// Package logging builds the process logger and its adapters.
package logging

import (
	"fmt"
	"log/slog"
	"os"
)

// New builds the process logger: readable text in development, JSON
// everywhere else. The logger is also installed as the slog default so
// stray global logging lands in the same stream.
func New(env string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	var handler slog.Handler
	if env == "development" {
		opts.Level = slog.LevelDebug
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// AsynqLogger adapts slog to the logging interface the task server wants.
type AsynqLogger struct {
	logger *slog.Logger
}

// NewAsynqLogger wraps logger for the task server.
func NewAsynqLogger(logger *slog.Logger) *AsynqLogger {
	return &AsynqLogger{logger: logger}
}

func (a *AsynqLogger) Debug(args ...any) { a.logger.Debug(fmt.Sprint(args...)) }
func (a *AsynqLogger) Info(args ...any)  { a.logger.Info(fmt.Sprint(args...)) }
func (a *AsynqLogger) Warn(args ...any)  { a.logger.Warn(fmt.Sprint(args...)) }
func (a *AsynqLogger) Error(args ...any) { a.logger.Error(fmt.Sprint(args...)) }

func (a *AsynqLogger) Fatal(args ...any) {
	a.logger.Error(fmt.Sprint(args...))
	os.Exit(1)
}
