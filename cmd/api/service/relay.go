package service

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/lyzr/minutes/common/events"
	"github.com/lyzr/minutes/common/logger"
	"github.com/lyzr/minutes/common/models"
	"github.com/lyzr/minutes/common/queue"
)

// ExtractionRelay forwards pushed video BlobCreated events onto the extraction
// stream, where the extractor consumes them with redelivery semantics.
type ExtractionRelay struct {
	queue  queue.Queue
	stream string
	log    *logger.Logger
}

// NewExtractionRelay creates a new relay
func NewExtractionRelay(q queue.Queue, stream string, log *logger.Logger) *ExtractionRelay {
	return &ExtractionRelay{queue: q, stream: stream, log: log.WithStage("relay")}
}

// HandleBatch enqueues every BlobCreated event.
func (r *ExtractionRelay) HandleBatch(ctx context.Context, batch []events.Event) (int, models.BatchResponse) {
	return runBatch(ctx, r.log, batch, r.Enqueue, http.StatusAccepted, func(error) int {
		return http.StatusInternalServerError
	})
}

// Enqueue publishes one event keyed by its blob URL.
func (r *ExtractionRelay) Enqueue(ctx context.Context, ev events.Event) (models.EventResult, error) {
	ref, err := ev.Blob()
	if err != nil {
		return models.EventResult{EventID: ev.ID}, err
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return models.EventResult{EventID: ev.ID, Blob: ref.Name}, fmt.Errorf("failed to marshal event: %w", err)
	}
	if err := r.queue.Publish(ctx, r.stream, ref.URL, payload); err != nil {
		return models.EventResult{EventID: ev.ID, Blob: ref.Name}, fmt.Errorf("failed to enqueue event: %w", err)
	}

	r.log.WithContext(ctx).Info("extraction enqueued", "stream", r.stream, "container", ref.Container, "blob", ref.Name)
	return models.EventResult{
		EventID: ev.ID,
		Blob:    ref.Name,
		Status:  models.EventProcessed,
		Code:    http.StatusAccepted,
		Output:  r.stream,
	}, nil
}
