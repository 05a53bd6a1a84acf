package service

import (
	"context"
	"net/http"

	"github.com/lyzr/minutes/common/apperrors"
	"github.com/lyzr/minutes/common/blob"
	"github.com/lyzr/minutes/common/config"
	"github.com/lyzr/minutes/common/eventfilter"
	"github.com/lyzr/minutes/common/events"
	"github.com/lyzr/minutes/common/journal"
	"github.com/lyzr/minutes/common/logger"
	"github.com/lyzr/minutes/common/models"
	"github.com/lyzr/minutes/common/naming"
	"github.com/lyzr/minutes/common/speech"
)

// Dispatcher submits a batch transcription for every new audio artifact.
// It never polls: the speech service writes its result into the transcripts
// container, which raises the next stage's event.
type Dispatcher struct {
	store   blob.Store
	speech  speech.Submitter
	storage config.StorageConfig
	filter  *eventfilter.Filter
	journal journal.Journal
	log     *logger.Logger
}

// NewDispatcher creates a new transcription dispatcher
func NewDispatcher(store blob.Store, submitter speech.Submitter, storage config.StorageConfig, filter *eventfilter.Filter, j journal.Journal, log *logger.Logger) *Dispatcher {
	if j == nil {
		j = journal.Nop{}
	}
	return &Dispatcher{
		store:   store,
		speech:  submitter,
		storage: storage,
		filter:  filter,
		journal: j,
		log:     log.WithStage("dispatch"),
	}
}

// HandleBatch dispatches each event independently.
func (d *Dispatcher) HandleBatch(ctx context.Context, batch []events.Event) (int, models.BatchResponse) {
	return runBatch(ctx, d.log, batch, d.Dispatch, http.StatusAccepted, dispatchFailureStatus)
}

// dispatchFailureStatus surfaces the speech service's own status code.
func dispatchFailureStatus(err error) int {
	if up, ok := apperrors.AsUpstream(err); ok && up.StatusCode >= 400 {
		return up.StatusCode
	}
	return apperrors.HTTPStatus(err)
}

// Dispatch handles one audio BlobCreated event.
func (d *Dispatcher) Dispatch(ctx context.Context, ev events.Event) (models.EventResult, error) {
	_, name, err := eventBlobName(ev, d.storage.AudioContainer)
	if err != nil {
		return models.EventResult{EventID: ev.ID}, err
	}
	result := models.EventResult{EventID: ev.ID, Blob: name}

	ok, err := eventfilter.AdmitEvent(d.filter, ev, d.storage.AudioContainer, name)
	if err != nil {
		return result, err
	}
	if !ok {
		return skipped(ev, name, "filtered"), nil
	}

	jobID := naming.AudioBaseName(name)
	log := d.log.WithContext(ctx).WithJob(jobID)

	contentURL, err := d.store.SignBlob(ctx, d.storage.AudioContainer, name,
		blob.Permissions{Read: true}, d.storage.AudioSASTTL)
	if err != nil {
		return result, apperrors.Wrap(nil, "dispatch", "sign_audio", name, err)
	}
	destinationURL, err := d.store.SignContainer(ctx, d.storage.TranscriptsContainer,
		blob.Permissions{Write: true, List: true}, d.storage.TranscriptsSASTTL)
	if err != nil {
		return result, apperrors.Wrap(nil, "dispatch", "sign_destination", d.storage.TranscriptsContainer, err)
	}

	transcription, err := d.speech.Submit(ctx, speech.Job{
		ContentURL:              contentURL,
		DestinationContainerURL: destinationURL,
		DisplayName:             name,
	})
	if err != nil {
		return result, err
	}

	log.Info("transcription submitted", "blob", name, "transcription", transcription.Self)
	journal.Record(ctx, d.journal, log, jobID, journal.StageTranscriptionSubmitted, transcription.Self)

	result.Status = models.EventProcessed
	result.Code = http.StatusAccepted
	result.Output = transcription.Self
	return result, nil
}
