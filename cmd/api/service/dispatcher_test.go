package service

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyzr/minutes/common/apperrors"
	"github.com/lyzr/minutes/common/config"
	"github.com/lyzr/minutes/common/events"
	"github.com/lyzr/minutes/common/journal"
	"github.com/lyzr/minutes/common/models"
)

func TestDispatchSubmitsSignedURLs(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.putAudio(t, audioName, ownedMeta("user-42"))

	result, err := e.dispatcher.Dispatch(ctx, e.event("audio", audioName))
	require.NoError(t, err)
	assert.Equal(t, models.EventProcessed, result.Status)
	assert.Equal(t, http.StatusAccepted, result.Code)
	assert.Equal(t, audioName, result.Blob)

	require.Len(t, e.speech.jobs, 1)
	job := e.speech.jobs[0]
	assert.Contains(t, job.ContentURL, "/audio/")
	assert.True(t, strings.HasSuffix(job.ContentURL, "sp=r"), job.ContentURL)
	assert.Contains(t, job.DestinationContainerURL, "/transcripts?")
	assert.True(t, strings.HasSuffix(job.DestinationContainerURL, "sp=wl"), job.DestinationContainerURL)
	assert.Equal(t, audioName, job.DisplayName)

	history, err := e.journal.History(ctx, audioBase)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, journal.StageTranscriptionSubmitted, history[0].Stage)
}

func TestDispatchBatchSurfacesUpstreamStatus(t *testing.T) {
	e := newEnv(t)
	e.speech.err = apperrors.Upstream("speech", http.StatusTooManyRequests, []byte(`{"code":"TooManyRequests"}`))

	status, resp := e.dispatcher.HandleBatch(context.Background(), []events.Event{e.event("audio", audioName)})
	assert.Equal(t, http.StatusTooManyRequests, status)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, models.EventFailed, resp.Results[0].Status)
	assert.Equal(t, http.StatusTooManyRequests, resp.Results[0].Code)
}

func TestDispatchBatchConfigurationFailure(t *testing.T) {
	e := newEnv(t)
	e.speech.err = apperrors.Wrap(apperrors.ErrConfiguration, "speech", "submit", "speech key and endpoint or region are required", nil)

	status, _ := e.dispatcher.HandleBatch(context.Background(), []events.Event{e.event("audio", audioName)})
	assert.Equal(t, http.StatusInternalServerError, status)
}

func TestDispatchBatchSkipsOtherEventTypes(t *testing.T) {
	e := newEnv(t)
	deleted := events.Event{ID: "d1", EventType: "Microsoft.Storage.BlobDeleted", Data: json.RawMessage(`{}`)}

	status, resp := e.dispatcher.HandleBatch(context.Background(), []events.Event{deleted, e.event("audio", audioName)})
	assert.Equal(t, http.StatusAccepted, status)
	require.Len(t, resp.Results, 2)
	assert.Equal(t, models.EventSkipped, resp.Results[0].Status)
	assert.Equal(t, models.EventProcessed, resp.Results[1].Status)
	assert.Len(t, e.speech.jobs, 1)
}

func TestDispatchFilteredEvent(t *testing.T) {
	e := newEnvWithFilters(t, config.FilterConfig{Transcription: `!name.endsWith(".mp3")`})

	result, err := e.dispatcher.Dispatch(context.Background(), e.event("audio", "memo_1.mp3"))
	require.NoError(t, err)
	assert.Equal(t, models.EventSkipped, result.Status)
	assert.Empty(t, e.speech.jobs)
	assert.Zero(t, e.store.TotalCalls())
}
