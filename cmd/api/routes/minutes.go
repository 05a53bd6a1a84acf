package routes

import (
	"github.com/labstack/echo/v4"

	"github.com/lyzr/minutes/cmd/api/container"
	"github.com/lyzr/minutes/cmd/api/handlers"
	"github.com/lyzr/minutes/cmd/api/middleware"
)

// RegisterMinutesRoutes registers the synchronous minutes operations
func RegisterMinutesRoutes(e *echo.Echo, c *container.Container) {
	h := handlers.NewMinutesHandler(c.Components, c.QueryService)

	llm := middleware.GlobalRateLimit(c.RateLimiter, "llm", c.LLMQuota)

	minutes := e.Group("/api/minutes")
	{
		minutes.GET("", h.ListMinutes)                 // GET /api/minutes
		minutes.GET("/status", h.GetStatus)            // GET /api/minutes/status?job_id=|name=
		minutes.GET("/content", h.GetContent)          // GET /api/minutes/content?name=[&format=docx]
		minutes.POST("/regenerate", h.Regenerate, llm) // POST /api/minutes/regenerate
		minutes.POST("/translate", h.Translate, llm)   // POST /api/minutes/translate
	}
}
