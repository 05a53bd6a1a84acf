// Package service implements the audio extraction stage: a queued video
// BlobCreated event becomes a speech-ready audio blob carrying the job
// metadata.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"

	"github.com/lyzr/minutes/common/apperrors"
	"github.com/lyzr/minutes/common/blob"
	"github.com/lyzr/minutes/common/config"
	"github.com/lyzr/minutes/common/eventfilter"
	"github.com/lyzr/minutes/common/events"
	"github.com/lyzr/minutes/common/journal"
	"github.com/lyzr/minutes/common/logger"
	"github.com/lyzr/minutes/common/metadata"
	"github.com/lyzr/minutes/common/naming"
	"github.com/lyzr/minutes/common/queue"
	"github.com/lyzr/minutes/common/transcode"
)

const stage = "extract"

// ErrExtractionInProgress is returned while another delivery holds the guard
// for the same source. It is retryable, so the message stays pending.
var ErrExtractionInProgress = errors.New("extraction already in progress")

// Extractor converts uploaded media into audio.
type Extractor struct {
	store      blob.Store
	transcoder transcode.Transcoder
	storage    config.StorageConfig
	extraction config.ExtractionConfig
	prompts    *config.Prompts
	filter     *eventfilter.Filter
	dedupe     Deduper
	journal    journal.Journal
	log        *logger.Logger
}

// Options carries the collaborators that have sensible defaults.
type Options struct {
	Filter  *eventfilter.Filter
	Dedupe  Deduper
	Journal journal.Journal
}

// NewExtractor creates a new extractor
func NewExtractor(store blob.Store, t transcode.Transcoder, cfg *config.Config, opts Options, log *logger.Logger) *Extractor {
	if opts.Dedupe == nil {
		opts.Dedupe = NewMemoryDeduper()
	}
	if opts.Journal == nil {
		opts.Journal = journal.Nop{}
	}
	return &Extractor{
		store:      store,
		transcoder: t,
		storage:    cfg.Storage,
		extraction: cfg.Extraction,
		prompts:    cfg.Prompts,
		filter:     opts.Filter,
		dedupe:     opts.Dedupe,
		journal:    opts.Journal,
		log:        log.WithStage(stage),
	}
}

// Handle is the queue handler. Every event in the message is attempted; the
// first error decides whether the message is redelivered.
func (x *Extractor) Handle(ctx context.Context, d queue.Delivery) error {
	batch, err := events.Decode(d.Value)
	if err != nil {
		x.log.WithContext(ctx).Warn("undecodable message", "message_id", d.ID, "error", err)
		return err
	}

	var first error
	for _, ev := range batch {
		if _, err := x.Process(ctx, ev); err != nil {
			x.log.WithContext(ctx).Warn("extraction failed",
				"message_id", d.ID,
				"attempt", d.Attempt,
				"event_id", ev.ID,
				"retryable", apperrors.Retryable(err),
				"error", err,
			)
			if first == nil {
				first = err
			}
		}
	}
	return first
}

// Process extracts audio for one event and returns the audio blob name, or ""
// when the event was skipped.
func (x *Extractor) Process(ctx context.Context, ev events.Event) (string, error) {
	if !ev.IsBlobCreated() {
		return "", nil
	}
	ref, name, err := x.resolve(ev)
	if err != nil {
		return "", err
	}
	if name == "" {
		x.log.WithContext(ctx).Debug("event outside video container", "container", ref.Container, "blob", ref.Name)
		return "", nil
	}

	ok, err := eventfilter.AdmitEvent(x.filter, ev, x.storage.VideoContainer, name)
	if err != nil {
		return "", err
	}
	if !ok {
		x.log.WithContext(ctx).Info("event filtered", "blob", name)
		return "", nil
	}

	key := DedupeKey(x.store.URL(x.storage.VideoContainer, name), ref.ETag)
	claim, err := x.dedupe.Acquire(ctx, key)
	if err != nil {
		return "", apperrors.Wrap(nil, stage, "dedupe", name, err)
	}
	switch claim {
	case Done:
		x.log.WithContext(ctx).Info("duplicate delivery ignored", "blob", name)
		return "", nil
	case InProgress:
		return "", fmt.Errorf("%w: %s", ErrExtractionInProgress, name)
	}

	audioName, err := x.extract(ctx, name)
	if err != nil {
		if rerr := x.dedupe.Release(ctx, key); rerr != nil {
			x.log.WithContext(ctx).Warn("failed to release dedupe key", "key", key, "error", rerr)
		}
		return "", err
	}
	if cerr := x.dedupe.Complete(ctx, key); cerr != nil {
		x.log.WithContext(ctx).Warn("failed to mark extraction done", "key", key, "error", cerr)
	}
	return audioName, nil
}

func (x *Extractor) extract(ctx context.Context, name string) (string, error) {
	props, err := x.store.Stat(ctx, x.storage.VideoContainer, name)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return "", apperrors.Wrap(apperrors.ErrNotFound, stage, "source", name, err)
		}
		return "", apperrors.Wrap(nil, stage, "stat", name, err)
	}

	workDir, err := os.MkdirTemp(x.extraction.WorkDir, "extract-*")
	if err != nil {
		return "", fmt.Errorf("failed to create work dir: %w", err)
	}
	defer os.RemoveAll(workDir)

	input := filepath.Join(workDir, "source"+path.Ext(name))
	if err := x.download(ctx, name, input); err != nil {
		return "", err
	}

	output := filepath.Join(workDir, "audio"+x.transcoder.Extension())
	tctx := ctx
	if x.extraction.VisibilityTimeout > 0 {
		var cancel context.CancelFunc
		tctx, cancel = context.WithTimeout(ctx, x.extraction.VisibilityTimeout)
		defer cancel()
	}
	if err := x.transcoder.Extract(tctx, input, output); err != nil {
		return "", err
	}

	filename := metadata.DecodeOr(props.Metadata, metadata.FieldFilename, path.Base(name))
	audioName := naming.DeriveAudioName(filename, x.transcoder.Extension())
	meta := x.initialMetadata(name, filename, props.Metadata)

	f, err := os.Open(output)
	if err != nil {
		return "", apperrors.Wrap(apperrors.ErrTranscode, stage, "output", "transcoder produced no file", err)
	}
	defer f.Close()

	if err := x.store.Put(ctx, x.storage.AudioContainer, audioName, f, blob.PutOptions{
		ContentType: x.transcoder.ContentType(),
		Metadata:    meta,
	}); err != nil {
		return "", apperrors.Wrap(nil, stage, "put", audioName, err)
	}

	jobID := naming.AudioBaseName(audioName)
	x.log.WithContext(ctx).WithJob(jobID).Info("audio extracted",
		"source", name,
		"audio", audioName,
		"user_id", meta.UserID(),
	)
	journal.Record(ctx, x.journal, x.log, jobID, journal.StageAudioExtracted, audioName)

	if x.extraction.DeleteSource {
		if err := x.store.Delete(ctx, x.storage.VideoContainer, name); err != nil && !errors.Is(err, apperrors.ErrNotFound) {
			x.log.WithContext(ctx).Warn("failed to delete source", "blob", name, "error", err)
		}
	}
	return audioName, nil
}

// initialMetadata rebuilds the job metadata from the upload. The default
// prompt applies when none was given and the owner falls back to the path.
func (x *Extractor) initialMetadata(name, filename string, src metadata.Map) metadata.Map {
	prompt := metadata.DecodeOr(src, metadata.FieldPrompt, "")
	if prompt == "" && x.prompts != nil {
		prompt = x.prompts.DefaultPrompt
	}
	userID := src.UserID()
	if userID == "" {
		userID, _ = naming.ExtractUserIDFromPath(name)
	}
	details := metadata.DecodeOr(src, metadata.FieldUserDetails, "")
	return metadata.BuildInitial(prompt, filename, userID, details)
}

func (x *Extractor) download(ctx context.Context, name, dst string) error {
	rc, _, err := x.store.Open(ctx, x.storage.VideoContainer, name)
	if err != nil {
		return apperrors.Wrap(nil, stage, "open", name, err)
	}
	defer rc.Close()

	f, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", dst, err)
	}
	if _, err := io.Copy(f, rc); err != nil {
		f.Close()
		return apperrors.Wrap(nil, stage, "download", name, err)
	}
	return f.Close()
}

// resolve returns the blob name inside the video container, or "" when the
// event belongs to another container.
func (x *Extractor) resolve(ev events.Event) (events.BlobRef, string, error) {
	ref, err := ev.Blob()
	if err != nil {
		return ref, "", err
	}
	if ref.Container == x.storage.VideoContainer {
		return ref, ref.Name, nil
	}
	if ref.URL != "" {
		if name, err := naming.ResolveBlobNameFromURL(ref.URL, x.storage.VideoContainer); err == nil {
			return ref, name, nil
		}
	}
	return ref, "", nil
}
