package watcher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/lyzr/minutes/cmd/api/service"
	"github.com/lyzr/minutes/common/identity"
	"github.com/lyzr/minutes/common/logger"
)

// Uploader sends dropped files through the upload service on behalf of a
// fixed principal, then optionally moves them into an archive folder.
type Uploader struct {
	uploads    *service.UploadService
	principal  identity.Principal
	prompt     string
	preset     string
	archiveDir string
	log        *logger.Logger
}

// NewUploader creates a new uploader
func NewUploader(uploads *service.UploadService, principal identity.Principal, prompt, preset, archiveDir string, log *logger.Logger) *Uploader {
	return &Uploader{
		uploads:    uploads,
		principal:  principal,
		prompt:     prompt,
		preset:     preset,
		archiveDir: archiveDir,
		log:        log.WithStage("dropwatch"),
	}
}

// Upload is a Handler.
func (u *Uploader) Upload(ctx context.Context, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}

	resp, err := u.uploads.Upload(ctx, u.principal, service.UploadRequest{
		Filename:    filepath.Base(path),
		ContentType: ContentType(path),
		Body:        f,
		Prompt:      u.prompt,
		Preset:      u.preset,
	})
	f.Close()
	if err != nil {
		return err
	}
	u.log.Info("file uploaded", "path", path, "blob", resp.Name, "job_hint", resp.JobHint)

	if u.archiveDir == "" {
		return nil
	}
	if err := os.MkdirAll(u.archiveDir, 0o755); err != nil {
		return fmt.Errorf("create archive dir: %w", err)
	}
	return os.Rename(path, filepath.Join(u.archiveDir, filepath.Base(path)))
}
