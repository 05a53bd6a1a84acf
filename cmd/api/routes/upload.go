package routes

import (
	"github.com/labstack/echo/v4"

	"github.com/lyzr/minutes/cmd/api/container"
	"github.com/lyzr/minutes/cmd/api/handlers"
	"github.com/lyzr/minutes/cmd/api/middleware"
)

// RegisterUploadRoutes registers the media upload endpoint
func RegisterUploadRoutes(e *echo.Echo, c *container.Container) {
	h := handlers.NewUploadHandler(c.Components, c.UploadService)

	e.POST("/api/upload", h.Upload,
		middleware.RequirePrincipal(),
		middleware.GlobalRateLimit(c.RateLimiter, "upload", c.UploadQuota))
}
