package handlers

import (
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/lyzr/minutes/cmd/api/middleware"
	"github.com/lyzr/minutes/cmd/api/service"
	"github.com/lyzr/minutes/common/bootstrap"
)

// UploadHandler accepts meeting recordings
type UploadHandler struct {
	components *bootstrap.Components
	uploads    *service.UploadService
	maxBytes   int64
}

// NewUploadHandler creates a new upload handler
func NewUploadHandler(components *bootstrap.Components, uploads *service.UploadService) *UploadHandler {
	return &UploadHandler{
		components: components,
		uploads:    uploads,
		maxBytes:   int64(components.Config.Storage.MaxUploadMB) << 20,
	}
}

// Upload stores a multipart file with its prompt
// POST /api/upload (multipart: file, prompt, preset)
func (h *UploadHandler) Upload(c echo.Context) error {
	principal := middleware.GetPrincipal(c)
	if !principal.Known() {
		return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
	}

	fh, err := c.FormFile("file")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "file is required")
	}
	if h.maxBytes > 0 && fh.Size > h.maxBytes {
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge,
			fmt.Sprintf("file exceeds %d MB", h.components.Config.Storage.MaxUploadMB))
	}

	f, err := fh.Open()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "failed to read file")
	}
	defer f.Close()

	resp, err := h.uploads.Upload(c.Request().Context(), principal, service.UploadRequest{
		Filename:    fh.Filename,
		ContentType: fh.Header.Get(echo.HeaderContentType),
		Body:        f,
		Prompt:      c.FormValue("prompt"),
		Preset:      c.FormValue("preset"),
	})
	if err != nil {
		return toHTTPError(c, h.components.Logger, "upload", err)
	}
	return c.JSON(http.StatusAccepted, resp)
}
