package service

import (
	"context"
	"io"
	"path"
	"strings"

	"github.com/google/uuid"

	"github.com/lyzr/minutes/common/apperrors"
	"github.com/lyzr/minutes/common/blob"
	"github.com/lyzr/minutes/common/config"
	"github.com/lyzr/minutes/common/identity"
	"github.com/lyzr/minutes/common/logger"
	"github.com/lyzr/minutes/common/metadata"
	"github.com/lyzr/minutes/common/models"
	"github.com/lyzr/minutes/common/naming"
)

// UploadRequest is a media file submitted by an authenticated user.
type UploadRequest struct {
	Filename    string
	ContentType string
	Body        io.Reader
	Prompt      string
	Preset      string
}

// UploadService stores media in the video container with the initial job metadata.
type UploadService struct {
	store   blob.Store
	storage config.StorageConfig
	prompts *config.Prompts
	log     *logger.Logger
}

// NewUploadService creates a new upload service
func NewUploadService(store blob.Store, storage config.StorageConfig, prompts *config.Prompts, log *logger.Logger) *UploadService {
	return &UploadService{
		store:   store,
		storage: storage,
		prompts: prompts,
		log:     log.WithStage("upload"),
	}
}

// Upload writes the media as users/{id}/{uploadId}/{filename}.
func (u *UploadService) Upload(ctx context.Context, principal identity.Principal, req UploadRequest) (models.UploadResponse, error) {
	if !principal.Known() {
		return models.UploadResponse{}, apperrors.Wrap(apperrors.ErrUnauthorized, "upload", "principal", "authentication required", nil)
	}
	filename := path.Base(strings.ReplaceAll(strings.TrimSpace(req.Filename), "\\", "/"))
	if req.Body == nil || filename == "" || filename == "." || filename == "/" {
		return models.UploadResponse{}, apperrors.Wrap(apperrors.ErrValidation, "upload", "file", "file is required", nil)
	}

	prompt, err := u.prompts.Resolve(req.Prompt, req.Preset)
	if err != nil {
		return models.UploadResponse{}, err
	}
	if prompt == "" {
		prompt = u.prompts.DefaultPrompt
	}

	name := naming.UserPrefix(principal.UserID) + uuid.NewString() + "/" + naming.SanitizeBase(filename)
	contentType := req.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	if err := u.store.Put(ctx, u.storage.VideoContainer, name, req.Body, blob.PutOptions{
		ContentType: contentType,
		Metadata:    metadata.BuildInitial(prompt, filename, principal.UserID, principal.UserDetails),
	}); err != nil {
		return models.UploadResponse{}, apperrors.Wrap(nil, "upload", "put", name, err)
	}

	u.log.WithContext(ctx).Info("media uploaded",
		"container", u.storage.VideoContainer,
		"blob", name,
		"user_id", principal.UserID,
	)
	return models.UploadResponse{
		Message: "accepted for processing",
		Name:    name,
		JobHint: naming.SanitizeBase(naming.FileBase(filename)) + "_",
	}, nil
}
