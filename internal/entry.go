// Package internal provides the application configuration, logger and the
// run loop behind long-running commands.
package internal

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/starford/kr/internal/apperr"
	"github.com/starford/kr/internal/repository"
	"github.com/starford/kr/internal/watch"
)

// NewLogger returns the structured JSON logger used by every command.
func NewLogger(cfg ApplicationConfig, w io.Writer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))
}

// Run opens the configured repository and reports post changes in its
// working tree until ctx is cancelled or the process is signalled.
func Run(ctx context.Context, opts ...Option) error {
	app := &application{}

	for _, opt := range opts {
		opt(app)
	}

	if app.config == nil {
		return fmt.Errorf("config is required")
	}

	cfg := app.config

	logger := app.logger
	if logger == nil {
		logger = NewLogger(cfg.App, os.Stderr)
		slog.SetDefault(logger)
	}

	logger.Info("Configuration loaded",
		slog.String("repository", cfg.Repository.URI),
		slog.Bool("auto_create", cfg.Repository.AutoCreate),
		slog.String("settle", cfg.Watch.Settle.String()),
		slog.String("log_level", cfg.App.LogLevel.String()))

	repo, err := repository.Open(ctx, cfg.Repository.URI,
		repository.WithAutoCreate(cfg.Repository.AutoCreate),
		repository.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("open repository: %w", err)
	}
	defer repo.Close()

	if repo.Kind() == repository.KindSQLite {
		return fmt.Errorf("watch %s: no working tree: %w", repo.Location(), apperr.ErrNotSupported)
	}

	g, gCtx := errgroup.WithContext(ctx)
	watchCtx, stop := context.WithCancel(gCtx)
	defer stop()

	g.Go(func() error {
		return watch.Watch(watchCtx, repo.Location(), cfg.Watch.Settle, logger, func(ev watch.Event) {
			attrs := []any{
				slog.String("kind", string(ev.Kind)),
				slog.String("path", ev.Path),
			}
			if st, err := repo.Status(watchCtx, ev.Path); err == nil {
				attrs = append(attrs, slog.String("status", st.String()))
			}
			logger.Info("post changed", attrs...)
			if app.onEvent != nil {
				app.onEvent(ev)
			}
		})
	})

	// Handle shutdown signals.
	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		case <-watchCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}
		stop()
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Watcher stopped successfully")
	return nil
}
