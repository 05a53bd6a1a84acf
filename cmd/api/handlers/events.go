package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/lyzr/minutes/common/bootstrap"
	"github.com/lyzr/minutes/common/events"
	"github.com/lyzr/minutes/common/models"
)

// BatchProcessor handles a decoded batch of storage events.
type BatchProcessor interface {
	HandleBatch(ctx context.Context, batch []events.Event) (int, models.BatchResponse)
}

// EventsHandler receives Event Grid pushes for the three event-driven stages.
type EventsHandler struct {
	components  *bootstrap.Components
	video       BatchProcessor
	audio       BatchProcessor
	transcripts BatchProcessor
}

// NewEventsHandler creates a new events handler
func NewEventsHandler(components *bootstrap.Components, video, audio, transcripts BatchProcessor) *EventsHandler {
	return &EventsHandler{
		components:  components,
		video:       video,
		audio:       audio,
		transcripts: transcripts,
	}
}

// VideoEvents relays uploads to the extraction stream
// POST /api/events/video
func (h *EventsHandler) VideoEvents(c echo.Context) error {
	return h.handle(c, "video", h.video)
}

// AudioEvents dispatches batch transcription for new audio
// POST /api/events/audio
func (h *EventsHandler) AudioEvents(c echo.Context) error {
	return h.handle(c, "audio", h.audio)
}

// TranscriptEvents generates minutes for finished transcriptions
// POST /api/events/transcripts
func (h *EventsHandler) TranscriptEvents(c echo.Context) error {
	return h.handle(c, "transcripts", h.transcripts)
}

// Handshake answers the CloudEvents webhook abuse-protection preflight
// OPTIONS /api/events/*
func (h *EventsHandler) Handshake(c echo.Context) error {
	if origin := c.Request().Header.Get("WebHook-Request-Origin"); origin != "" {
		c.Response().Header().Set("WebHook-Allowed-Origin", origin)
		c.Response().Header().Set("WebHook-Allowed-Rate", "*")
	}
	return c.NoContent(http.StatusOK)
}

func (h *EventsHandler) handle(c echo.Context, stage string, processor BatchProcessor) error {
	log := h.components.Logger.WithContext(c.Request().Context()).WithStage(stage)

	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "failed to read body")
	}

	batch, err := events.Decode(body)
	if err != nil {
		log.Warn("undecodable event payload", "error", err)
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	code, isValidation, err := events.FindValidation(batch)
	if isValidation {
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		log.Info("answering subscription validation")
		payload, err := json.Marshal(events.ValidationResponse{ValidationResponse: code})
		if err != nil {
			return err
		}
		return c.JSONBlob(http.StatusOK, payload)
	}

	if processor == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, stage+" events are not handled by this instance")
	}

	status, resp := processor.HandleBatch(c.Request().Context(), batch)
	log.Info("event batch handled", "events", len(batch), "status", status)
	return c.JSON(status, resp)
}
