package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/lyzr/minutes/cmd/api/service"
	"github.com/lyzr/minutes/cmd/dropwatch/watcher"
	"github.com/lyzr/minutes/common/bootstrap"
	"github.com/lyzr/minutes/common/identity"
	"github.com/lyzr/minutes/common/naming"
)

func main() {
	_ = godotenv.Load()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	components, err := bootstrap.Setup(ctx, "minutes-dropwatch",
		bootstrap.WithoutQueue(),
		bootstrap.WithoutRedis(),
		bootstrap.WithoutCache(),
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to setup dropwatch: %v\n", err)
		os.Exit(1)
	}
	defer components.Shutdown(context.Background())

	cfg := components.Config
	if !naming.ValidUserID(cfg.Dropwatch.UserID) {
		components.Logger.Error("DROPWATCH_USER_ID is required and must be a single path segment", "user_id", cfg.Dropwatch.UserID)
		os.Exit(1)
	}

	uploads := service.NewUploadService(components.Store, cfg.Storage, cfg.Prompts, components.Logger)
	uploader := watcher.NewUploader(uploads,
		identity.Principal{UserID: cfg.Dropwatch.UserID, UserDetails: cfg.Dropwatch.UserDetails},
		cfg.Dropwatch.Prompt, cfg.Dropwatch.Preset, cfg.Dropwatch.ArchiveDir, components.Logger)

	w, err := watcher.New(cfg.Dropwatch.Dir, uploader.Upload, components.Logger, cfg.Dropwatch.Concurrency, cfg.Dropwatch.SettleDelay)
	if err != nil {
		components.Logger.Error("failed to start watcher", "error", err)
		os.Exit(1)
	}
	defer w.Stop()

	if err := w.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		components.Logger.Error("watcher failed", "error", err)
		os.Exit(1)
	}
}
