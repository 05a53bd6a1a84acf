package service

import (
	"context"
	"fmt"
	"net/http"

	"github.com/lyzr/minutes/common/apperrors"
	"github.com/lyzr/minutes/common/events"
	"github.com/lyzr/minutes/common/logger"
	"github.com/lyzr/minutes/common/models"
	"github.com/lyzr/minutes/common/naming"
)

// eventHandler processes one BlobCreated event of a pushed batch.
type eventHandler func(ctx context.Context, ev events.Event) (models.EventResult, error)

// runBatch processes every event independently. A failing event never stops
// its siblings; the returned status is okStatus when nothing failed, otherwise
// failStatus of the last failure.
func runBatch(ctx context.Context, log *logger.Logger, batch []events.Event, handle eventHandler, okStatus int, failStatus func(error) int) (int, models.BatchResponse) {
	resp := models.BatchResponse{Results: make([]models.EventResult, 0, len(batch))}
	status := okStatus

	for _, ev := range batch {
		if !ev.IsBlobCreated() {
			resp.Results = append(resp.Results, models.EventResult{
				EventID: ev.ID,
				Status:  models.EventSkipped,
				Code:    http.StatusOK,
				Output:  "ignored event type " + ev.Kind(),
			})
			continue
		}

		result, err := safeHandle(ctx, ev, handle)
		if result.EventID == "" {
			result.EventID = ev.ID
		}
		if err != nil {
			code := failStatus(err)
			result.Status = models.EventFailed
			result.Code = code
			result.Error = err.Error()
			status = code
			log.WithContext(ctx).Warn("event failed",
				"event_id", ev.ID,
				"subject", ev.Subject,
				"blob", result.Blob,
				"error", err,
			)
		}
		resp.Results = append(resp.Results, result)
	}
	return status, resp
}

func safeHandle(ctx context.Context, ev events.Event, handle eventHandler) (result models.EventResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic while handling event %s: %v", ev.ID, r)
		}
	}()
	return handle(ctx, ev)
}

// eventBlobName resolves the full blob path of ev inside container.
func eventBlobName(ev events.Event, container string) (events.BlobRef, string, error) {
	ref, err := ev.Blob()
	if err != nil {
		return ref, "", err
	}
	if ref.URL != "" {
		name, err := naming.ResolveBlobNameFromURL(ref.URL, container)
		if err == nil {
			return ref, name, nil
		}
		if ref.Container != container {
			return ref, "", err
		}
	}
	if ref.Container != container {
		return ref, "", apperrors.Wrap(apperrors.ErrMalformedReference, "events", "resolve",
			fmt.Sprintf("event %s refers to container %q, expected %q", ev.ID, ref.Container, container), nil)
	}
	return ref, ref.Name, nil
}

func skipped(ev events.Event, name, reason string) models.EventResult {
	return models.EventResult{
		EventID: ev.ID,
		Blob:    name,
		Status:  models.EventSkipped,
		Code:    http.StatusOK,
		Output:  reason,
	}
}
