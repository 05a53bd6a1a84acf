package service

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/lyzr/minutes/common/access"
	"github.com/lyzr/minutes/common/apperrors"
	"github.com/lyzr/minutes/common/blob"
	"github.com/lyzr/minutes/common/config"
	"github.com/lyzr/minutes/common/journal"
	"github.com/lyzr/minutes/common/logger"
	"github.com/lyzr/minutes/common/metadata"
	"github.com/lyzr/minutes/common/models"
	"github.com/lyzr/minutes/common/naming"
	"github.com/lyzr/minutes/common/translator"
)

// Document is a minutes blob read on behalf of a caller.
type Document struct {
	Name     string
	Title    string
	Text     string
	Metadata metadata.Map
}

// maxVersionAttempts bounds the name retries of a versioned write.
const maxVersionAttempts = 5

// QueryService serves the synchronous minutes operations. Every operation
// derives authorization from the caller id and the blob's path and metadata.
type QueryService struct {
	store         blob.Store
	generator     *MinutesGenerator
	translator    translator.Translator
	storage       config.StorageConfig
	prompts       *config.Prompts
	defaultTarget string
	journal       journal.Journal
	log           *logger.Logger
	now           func() time.Time
}

// NewQueryService creates a new query service
func NewQueryService(store blob.Store, generator *MinutesGenerator, tr translator.Translator, storage config.StorageConfig, prompts *config.Prompts, defaultTarget string, j journal.Journal, log *logger.Logger) *QueryService {
	if j == nil {
		j = journal.Nop{}
	}
	return &QueryService{
		store:         store,
		generator:     generator,
		translator:    tr,
		storage:       storage,
		prompts:       prompts,
		defaultTarget: defaultTarget,
		journal:       j,
		log:           log.WithStage("query"),
		now:           time.Now,
	}
}

// List returns the minutes visible to callerID, newest first.
func (s *QueryService) List(ctx context.Context, callerID string) ([]models.MinutesItem, error) {
	var blobs []blob.Properties

	if naming.ValidUserID(callerID) {
		own, err := s.store.List(ctx, s.storage.MinutesContainer, naming.UserPrefix(callerID))
		if err != nil {
			return nil, apperrors.Wrap(nil, "query", "list", "own minutes", err)
		}
		blobs = append(blobs, own...)
	}

	// Legacy blobs predate per-user prefixes and are filtered by metadata owner.
	all, err := s.store.List(ctx, s.storage.MinutesContainer, "")
	if err != nil {
		return nil, apperrors.Wrap(nil, "query", "list", "legacy minutes", err)
	}
	for _, p := range all {
		if _, prefixed := naming.ExtractUserIDFromPath(p.Name); !prefixed {
			blobs = append(blobs, p)
		}
	}

	items := make([]models.MinutesItem, 0, len(blobs))
	for _, p := range blobs {
		if !access.Visible(callerID, p.Name, p.Metadata) {
			continue
		}
		parsed, ok := naming.ParseMinutesName(p.Name)
		if !ok {
			continue
		}
		items = append(items, models.MinutesItem{
			Name:         p.Name,
			Title:        metadata.DecodeOr(p.Metadata, metadata.FieldFilename, parsed.AudioBase),
			JobID:        parsed.AudioBase,
			Kind:         string(parsed.Kind),
			LastModified: p.LastModified,
			Size:         p.Size,
		})
	}

	sort.SliceStable(items, func(i, j int) bool {
		if items[i].LastModified.Equal(items[j].LastModified) {
			return items[i].Name < items[j].Name
		}
		return items[i].LastModified.After(items[j].LastModified)
	})
	return items, nil
}

// Status reports whether the minutes for a job (or an exact name) exist.
// Absence is not an error: the result carries StatusPending.
func (s *QueryService) Status(ctx context.Context, callerID, jobID, name string) (models.MinutesStatus, error) {
	jobID = strings.TrimSpace(jobID)
	name = strings.TrimSpace(name)

	var candidates []string
	switch {
	case name != "":
		candidates = []string{name}
		if id, ok := naming.JobIDFromMinutesName(name); ok {
			jobID = id
		}
	case jobID != "":
		candidates = []string{naming.DeriveMinutesName(jobID, callerID)}
		if callerID != "" {
			candidates = append(candidates, naming.DeriveMinutesName(jobID, ""))
		}
	default:
		return models.MinutesStatus{}, apperrors.Wrap(apperrors.ErrValidation, "query", "status", "job_id or name is required", nil)
	}

	for _, candidate := range candidates {
		if err := access.CheckPath(callerID, candidate); err != nil {
			return models.MinutesStatus{}, err
		}
		doc, err := s.read(ctx, callerID, candidate)
		if errors.Is(err, apperrors.ErrNotFound) {
			continue
		}
		if err != nil {
			return models.MinutesStatus{}, err
		}
		return models.MinutesStatus{
			Status:  models.StatusCompleted,
			JobID:   jobID,
			Name:    doc.Name,
			Text:    doc.Text,
			History: s.history(ctx, jobID),
		}, nil
	}

	return models.MinutesStatus{
		Status:  models.StatusPending,
		JobID:   jobID,
		Name:    candidates[0],
		History: s.history(ctx, jobID),
	}, nil
}

func (s *QueryService) history(ctx context.Context, jobID string) []journal.Event {
	if jobID == "" {
		return nil
	}
	events, err := s.journal.History(ctx, jobID)
	if err != nil {
		s.log.WithContext(ctx).Warn("journal unavailable", "job_id", jobID, "error", err)
		return nil
	}
	return events
}

// Get returns the text of a minutes blob the caller may read.
func (s *QueryService) Get(ctx context.Context, callerID, name string) (*Document, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, apperrors.Wrap(apperrors.ErrValidation, "query", "get", "name is required", nil)
	}
	if err := access.CheckPath(callerID, name); err != nil {
		return nil, err
	}
	return s.read(ctx, callerID, name)
}

// read downloads a minutes blob and applies the metadata ownership tier.
func (s *QueryService) read(ctx context.Context, callerID, name string) (*Document, error) {
	data, props, err := blob.ReadAll(ctx, s.store, s.storage.MinutesContainer, name)
	if err != nil {
		return nil, err
	}
	if err := access.Check(callerID, name, props.Metadata); err != nil {
		return nil, err
	}

	title := path.Base(name)
	if original, err := metadata.DecodeField(props.Metadata, metadata.FieldFilename); err == nil {
		title = original
	}
	return &Document{Name: name, Title: title, Text: string(data), Metadata: props.Metadata}, nil
}

// Regenerate summarizes a transcript again and writes a new timestamped
// version. Existing minutes are never modified.
func (s *QueryService) Regenerate(ctx context.Context, callerID string, req models.RegenerateRequest) (models.RegenerateResponse, error) {
	prompt, err := s.prompts.Resolve(req.Prompt, req.Preset)
	if err != nil {
		return models.RegenerateResponse{}, err
	}

	var (
		transcriptName string
		sourceMeta     metadata.Map
		ownerID        string
	)

	switch {
	case strings.TrimSpace(req.Name) != "":
		name := strings.TrimSpace(req.Name)
		if err := access.CheckPath(callerID, name); err != nil {
			return models.RegenerateResponse{}, err
		}
		props, err := s.store.Stat(ctx, s.storage.MinutesContainer, name)
		if err != nil {
			return models.RegenerateResponse{}, err
		}
		if err := access.Check(callerID, name, props.Metadata); err != nil {
			return models.RegenerateResponse{}, err
		}
		transcriptName = props.Metadata[metadata.KeyTranscript]
		if transcriptName == "" {
			return models.RegenerateResponse{}, apperrors.Wrap(apperrors.ErrValidation, "query", "regenerate",
				fmt.Sprintf("%s has no %s backlink", name, metadata.KeyTranscript), nil)
		}
		sourceMeta = props.Metadata
		if owner, ok := naming.ExtractUserIDFromPath(name); ok {
			ownerID = owner
		}
	case strings.TrimSpace(req.TranscriptName) != "":
		transcriptName = strings.TrimSpace(req.TranscriptName)
		if err := access.CheckPath(callerID, transcriptName); err != nil {
			return models.RegenerateResponse{}, err
		}
	default:
		return models.RegenerateResponse{}, apperrors.Wrap(apperrors.ErrValidation, "query", "regenerate", "transcript_name or name is required", nil)
	}

	d, transcriptText, err := s.generator.prepare(ctx, transcriptName)
	if err != nil {
		return models.RegenerateResponse{}, err
	}
	if sourceMeta == nil {
		// Only the transcript was named: the audio metadata decides ownership.
		if err := access.Check(callerID, d.AudioName, d.Metadata); err != nil {
			return models.RegenerateResponse{}, err
		}
	} else {
		d.Metadata = sourceMeta
	}
	if ownerID == "" {
		ownerID = d.Metadata.UserID()
	}

	var promptOverride *string
	if prompt != "" {
		promptOverride = &prompt
	}
	if err := s.generator.summarize(ctx, d, transcriptText, promptOverride); err != nil {
		return models.RegenerateResponse{}, err
	}

	name, err := s.putVersion(
		func(ts time.Time) string {
			return naming.DeriveVersionedMinutesName(d.AudioBase, ownerID, naming.TagRegenerated, ts)
		},
		func(name string) error { return s.generator.write(ctx, name, d, nil, true) },
	)
	if err != nil {
		return models.RegenerateResponse{}, err
	}
	journal.Record(ctx, s.journal, s.log, d.AudioBase, journal.StageRegenerated, name)

	return models.RegenerateResponse{Name: name, TranscriptName: transcriptName, Text: d.Text}, nil
}

// Translate translates a minutes blob or raw text, optionally saving the
// result as a new version with translation provenance.
func (s *QueryService) Translate(ctx context.Context, callerID string, req models.TranslateRequest) (models.TranslateResponse, error) {
	to := strings.TrimSpace(req.To)
	if to == "" {
		to = s.defaultTarget
	}
	if to == "" {
		return models.TranslateResponse{}, apperrors.Wrap(apperrors.ErrValidation, "query", "translate", "target language is required", nil)
	}
	name := strings.TrimSpace(req.Name)
	if req.Save && name == "" {
		return models.TranslateResponse{}, apperrors.Wrap(apperrors.ErrValidation, "query", "translate", "save requires name", nil)
	}

	var (
		text string
		doc  *Document
	)
	if name != "" {
		var err error
		doc, err = s.Get(ctx, callerID, name)
		if err != nil {
			return models.TranslateResponse{}, err
		}
		text = doc.Text
	} else {
		text = req.Text
	}
	if strings.TrimSpace(text) == "" {
		return models.TranslateResponse{}, apperrors.Wrap(apperrors.ErrValidation, "query", "translate", "nothing to translate", nil)
	}

	result, err := s.translator.Translate(ctx, text, to, strings.TrimSpace(req.From))
	if err != nil {
		return models.TranslateResponse{}, err
	}
	resp := models.TranslateResponse{Text: result.Text, To: to, DetectedLanguage: result.DetectedLanguage}

	if req.Save {
		saved, err := s.saveTranslation(ctx, doc, to, result)
		if err != nil {
			return models.TranslateResponse{}, err
		}
		resp.SavedName = saved
	}
	return resp, nil
}

func (s *QueryService) saveTranslation(ctx context.Context, doc *Document, to string, result translator.Result) (string, error) {
	audioBase := strings.TrimSuffix(path.Base(doc.Name), path.Ext(doc.Name))
	if parsed, ok := naming.ParseMinutesName(doc.Name); ok {
		audioBase = parsed.AudioBase
	}
	ownerID, ok := naming.ExtractUserIDFromPath(doc.Name)
	if !ok {
		ownerID = doc.Metadata.UserID()
	}

	extra := metadata.Map{
		metadata.KeyTranslatedFrom: doc.Name,
		metadata.KeyTranslatedTo:   to,
	}
	if result.DetectedLanguage != "" {
		extra[metadata.KeyDetectedLanguage] = result.DetectedLanguage
	}
	meta := metadata.Propagate(doc.Metadata, extra)

	name, err := s.putVersion(
		func(ts time.Time) string {
			return naming.DeriveVersionedMinutesName(audioBase, ownerID, naming.TranslationTag(to), ts)
		},
		func(name string) error {
			if err := s.store.Put(ctx, s.storage.MinutesContainer, name, strings.NewReader(result.Text), blob.PutOptions{
				ContentType: textContentType,
				Metadata:    meta,
				IfNotExists: true,
			}); err != nil {
				return apperrors.Wrap(nil, "query", "save_translation", name, err)
			}
			return nil
		},
	)
	if err != nil {
		return "", err
	}

	s.log.WithContext(ctx).WithJob(audioBase).Info("translation saved", "blob", name, "from", doc.Name, "to", to)
	journal.Record(ctx, s.journal, s.log, audioBase, journal.StageTranslated, name)
	return name, nil
}

// putVersion creates a versioned blob without overwriting an existing one.
// A taken name is retried with a fresh timestamp, at least one millisecond
// past the previous attempt.
func (s *QueryService) putVersion(nameAt func(time.Time) string, put func(name string) error) (string, error) {
	ts := s.now()
	for attempt := 1; ; attempt++ {
		name := nameAt(ts)
		err := put(name)
		if err == nil {
			return name, nil
		}
		if !errors.Is(err, blob.ErrAlreadyExists) || attempt >= maxVersionAttempts {
			return "", err
		}
		next := s.now()
		if !next.After(ts) {
			next = ts.Add(time.Millisecond)
		}
		ts = next
	}
}
