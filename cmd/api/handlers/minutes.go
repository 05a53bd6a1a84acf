package handlers

import (
	"net/http"
	"path"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/lyzr/minutes/cmd/api/middleware"
	"github.com/lyzr/minutes/cmd/api/service"
	"github.com/lyzr/minutes/common/bootstrap"
	"github.com/lyzr/minutes/common/models"
)

// MinutesHandler handles minutes queries, regeneration and translation
type MinutesHandler struct {
	components *bootstrap.Components
	query      *service.QueryService
}

// NewMinutesHandler creates a new minutes handler
func NewMinutesHandler(components *bootstrap.Components, query *service.QueryService) *MinutesHandler {
	return &MinutesHandler{
		components: components,
		query:      query,
	}
}

// ListMinutes lists the minutes visible to the caller
// GET /api/minutes
func (h *MinutesHandler) ListMinutes(c echo.Context) error {
	caller := middleware.GetPrincipal(c).UserID

	items, err := h.query.List(c.Request().Context(), caller)
	if err != nil {
		return toHTTPError(c, h.components.Logger, "list", err)
	}
	return c.JSON(http.StatusOK, items)
}

// GetStatus reports pending or completed for a job id or name
// GET /api/minutes/status?job_id=...|name=...
func (h *MinutesHandler) GetStatus(c echo.Context) error {
	caller := middleware.GetPrincipal(c).UserID

	status, err := h.query.Status(c.Request().Context(), caller, c.QueryParam("job_id"), c.QueryParam("name"))
	if err != nil {
		return toHTTPError(c, h.components.Logger, "status", err)
	}
	if status.Status == models.StatusPending {
		return c.JSON(http.StatusNotFound, status)
	}
	return c.JSON(http.StatusOK, status)
}

// GetContent downloads minutes as text or docx
// GET /api/minutes/content?name=...[&format=docx]
func (h *MinutesHandler) GetContent(c echo.Context) error {
	caller := middleware.GetPrincipal(c).UserID

	doc, err := h.query.Get(c.Request().Context(), caller, c.QueryParam("name"))
	if err != nil {
		return toHTTPError(c, h.components.Logger, "content", err)
	}

	filename := path.Base(doc.Name)
	if strings.EqualFold(c.QueryParam("format"), "docx") {
		data, err := service.RenderDocx(doc.Title, doc.Text)
		if err != nil {
			return toHTTPError(c, h.components.Logger, "docx", err)
		}
		filename = strings.TrimSuffix(filename, path.Ext(filename)) + ".docx"
		c.Response().Header().Set(echo.HeaderContentDisposition, service.ContentDisposition(filename))
		return c.Blob(http.StatusOK, service.DocxContentType, data)
	}

	c.Response().Header().Set(echo.HeaderContentDisposition, service.ContentDisposition(filename))
	return c.Blob(http.StatusOK, "text/plain; charset=utf-8", []byte(doc.Text))
}

// Regenerate writes a new minutes version from the transcript
// POST /api/minutes/regenerate
func (h *MinutesHandler) Regenerate(c echo.Context) error {
	var req models.RegenerateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	caller := middleware.GetPrincipal(c).UserID

	resp, err := h.query.Regenerate(c.Request().Context(), caller, req)
	if err != nil {
		return toHTTPError(c, h.components.Logger, "regenerate", err)
	}
	return c.JSON(http.StatusOK, resp)
}

// Translate translates minutes or raw text, optionally saving a version
// POST /api/minutes/translate
func (h *MinutesHandler) Translate(c echo.Context) error {
	var req models.TranslateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	caller := middleware.GetPrincipal(c).UserID

	resp, err := h.query.Translate(c.Request().Context(), caller, req)
	if err != nil {
		return toHTTPError(c, h.components.Logger, "translate", err)
	}
	return c.JSON(http.StatusOK, resp)
}
