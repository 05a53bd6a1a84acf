package service

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/lyzr/minutes/common/apperrors"
	"github.com/lyzr/minutes/common/blob"
	"github.com/lyzr/minutes/common/config"
	"github.com/lyzr/minutes/common/eventfilter"
	"github.com/lyzr/minutes/common/events"
	"github.com/lyzr/minutes/common/journal"
	"github.com/lyzr/minutes/common/logger"
	"github.com/lyzr/minutes/common/metadata"
	"github.com/lyzr/minutes/common/models"
	"github.com/lyzr/minutes/common/naming"
	"github.com/lyzr/minutes/common/summarizer"
)

// textContentType is used for every minutes artifact.
const textContentType = "text/plain; charset=utf-8"

// MinutesGenerator turns detailed transcription results into minutes.
type MinutesGenerator struct {
	store        blob.Store
	summarizer   summarizer.Summarizer
	storage      config.StorageConfig
	resultPrefix string
	prompts      *config.Prompts
	filter       *eventfilter.Filter
	journal      journal.Journal
	log          *logger.Logger
}

// NewMinutesGenerator creates a new minutes generator
func NewMinutesGenerator(store blob.Store, s summarizer.Summarizer, storage config.StorageConfig, resultPrefix string, prompts *config.Prompts, filter *eventfilter.Filter, j journal.Journal, log *logger.Logger) *MinutesGenerator {
	if j == nil {
		j = journal.Nop{}
	}
	return &MinutesGenerator{
		store:        store,
		summarizer:   s,
		storage:      storage,
		resultPrefix: resultPrefix,
		prompts:      prompts,
		filter:       filter,
		journal:      j,
		log:          log.WithStage("minutes"),
	}
}

// draft is a summarized transcript that has not been written yet.
type draft struct {
	TranscriptName string
	AudioName      string
	AudioBase      string
	Metadata       metadata.Map
	Prompt         string
	Text           string
}

// HandleBatch generates minutes for each event independently.
func (g *MinutesGenerator) HandleBatch(ctx context.Context, batch []events.Event) (int, models.BatchResponse) {
	return runBatch(ctx, g.log, batch, g.Generate, http.StatusOK, func(error) int {
		return http.StatusInternalServerError
	})
}

// Generate handles one transcripts BlobCreated event.
func (g *MinutesGenerator) Generate(ctx context.Context, ev events.Event) (models.EventResult, error) {
	_, name, err := eventBlobName(ev, g.storage.TranscriptsContainer)
	if err != nil {
		return models.EventResult{EventID: ev.ID}, err
	}
	if !naming.IsDetailedResult(name, g.resultPrefix) {
		return skipped(ev, name, "not a detailed result"), nil
	}
	ok, err := eventfilter.AdmitEvent(g.filter, ev, g.storage.TranscriptsContainer, name)
	if err != nil {
		return models.EventResult{EventID: ev.ID, Blob: name}, err
	}
	if !ok {
		return skipped(ev, name, "filtered"), nil
	}

	d, transcriptText, err := g.prepare(ctx, name)
	if err != nil {
		return models.EventResult{EventID: ev.ID, Blob: name}, err
	}
	if err := g.summarize(ctx, d, transcriptText, nil); err != nil {
		return models.EventResult{EventID: ev.ID, Blob: name}, err
	}

	minutesName := naming.DeriveMinutesName(d.AudioBase, d.Metadata.UserID())
	if err := g.write(ctx, minutesName, d, nil, false); err != nil {
		return models.EventResult{EventID: ev.ID, Blob: name}, err
	}
	journal.Record(ctx, g.journal, g.log, d.AudioBase, journal.StageMinutesWritten, minutesName)

	return models.EventResult{
		EventID: ev.ID,
		Blob:    name,
		Status:  models.EventProcessed,
		Code:    http.StatusOK,
		Output:  minutesName,
	}, nil
}

// prepare reads a transcript and recovers the metadata of the audio it was
// produced from. Missing audio metadata is tolerated and logged.
func (g *MinutesGenerator) prepare(ctx context.Context, transcriptName string) (*draft, string, error) {
	log := g.log.WithContext(ctx).WithFields(map[string]any{"transcript": transcriptName})

	raw, _, err := blob.ReadAll(ctx, g.store, g.storage.TranscriptsContainer, transcriptName)
	if err != nil {
		return nil, "", err
	}
	transcript, err := models.ParseTranscript(raw)
	if err != nil {
		return nil, "", err
	}

	audioName, err := naming.ResolveBlobNameFromURL(transcript.Source, g.storage.AudioContainer)
	if err != nil {
		// Sources that point at another container alias still end in the blob path.
		_, fallback, splitErr := naming.SplitURL(transcript.Source)
		if splitErr != nil {
			return nil, "", apperrors.Wrap(apperrors.ErrMalformedTranscript, "minutes", "source", transcript.Source, err)
		}
		audioName = fallback
	}
	audioBase := naming.AudioBaseName(audioName)

	enrichment := metadata.Enrich(func() (metadata.Map, error) {
		props, err := g.store.Stat(ctx, g.storage.AudioContainer, audioName)
		return props.Metadata, err
	}, metadata.KeyPrompt, metadata.KeyFilename)
	if enrichment.Err != nil {
		log.Warn("audio metadata unavailable, continuing with partial metadata",
			"job_id", audioBase, "audio", audioName, "error", enrichment.Err)
	} else if !enrichment.Complete() {
		log.Info("audio metadata incomplete", "job_id", audioBase, "audio", audioName, "missing", enrichment.Missing)
	}

	return &draft{
		TranscriptName: transcriptName,
		AudioName:      audioName,
		AudioBase:      audioBase,
		Metadata:       enrichment.Metadata,
	}, transcript.Text(), nil
}

// summarize fills d.Text. A nil prompt means the prompt recorded at upload time.
func (g *MinutesGenerator) summarize(ctx context.Context, d *draft, transcriptText string, prompt *string) error {
	log := g.log.WithContext(ctx).WithJob(d.AudioBase)

	var userPrompt string
	if prompt != nil {
		userPrompt = *prompt
	} else {
		var err error
		userPrompt, err = metadata.DecodeField(d.Metadata, metadata.FieldPrompt)
		if err != nil {
			log.Info("no usable prompt in metadata, summarizing with the system instruction only", "error", err)
		}
	}
	if filename, err := metadata.DecodeField(d.Metadata, metadata.FieldFilename); err == nil {
		log = log.WithFields(map[string]any{"original_filename": filename})
	} else if !errors.Is(err, apperrors.ErrMissingMetadata) {
		log.Warn("original filename undecodable", "error", err)
	}

	text, err := g.summarizer.Summarize(ctx, summarizer.Request{
		SystemInstruction: g.prompts.SystemInstruction,
		Prompt:            userPrompt,
		Transcript:        transcriptText,
	})
	if err != nil {
		return err
	}

	log.Info("transcript summarized", "transcript", d.TranscriptName, "chars", len(text))
	d.Prompt = userPrompt
	d.Text = text
	return nil
}

// write stores minutes with the propagated metadata and the transcript backlink.
// write stores the draft under name. With create set, an existing blob is
// left alone and the error wraps blob.ErrAlreadyExists.
func (g *MinutesGenerator) write(ctx context.Context, name string, d *draft, extra metadata.Map, create bool) error {
	merged := metadata.Map{metadata.KeyTranscript: d.TranscriptName}
	for k, v := range extra {
		merged[k] = v
	}
	meta := metadata.Propagate(d.Metadata, merged)

	if err := g.store.Put(ctx, g.storage.MinutesContainer, name, strings.NewReader(d.Text), blob.PutOptions{
		ContentType: textContentType,
		Metadata:    meta,
		IfNotExists: create,
	}); err != nil {
		return apperrors.Wrap(nil, "minutes", "write", name, err)
	}

	g.log.WithContext(ctx).WithJob(d.AudioBase).Info("minutes written",
		"container", g.storage.MinutesContainer,
		"blob", name,
		"transcript", d.TranscriptName,
	)
	return nil
}
