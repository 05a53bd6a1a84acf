package routes

import (
	"github.com/labstack/echo/v4"

	"github.com/lyzr/minutes/cmd/api/container"
	"github.com/lyzr/minutes/cmd/api/handlers"
)

// RegisterEventRoutes registers the Event Grid webhook endpoints
func RegisterEventRoutes(e *echo.Echo, c *container.Container) {
	var relay handlers.BatchProcessor
	if c.Relay != nil {
		relay = c.Relay
	}
	h := handlers.NewEventsHandler(c.Components, relay, c.Dispatcher, c.Generator)

	ev := e.Group("/api/events")
	{
		ev.POST("/video", h.VideoEvents)            // POST /api/events/video
		ev.POST("/audio", h.AudioEvents)            // POST /api/events/audio
		ev.POST("/transcripts", h.TranscriptEvents) // POST /api/events/transcripts
		ev.OPTIONS("/*", h.Handshake)
	}
}
