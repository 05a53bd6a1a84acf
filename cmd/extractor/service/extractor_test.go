package service

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyzr/minutes/common/apperrors"
	"github.com/lyzr/minutes/common/blob"
	"github.com/lyzr/minutes/common/config"
	"github.com/lyzr/minutes/common/eventfilter"
	"github.com/lyzr/minutes/common/events"
	"github.com/lyzr/minutes/common/journal"
	"github.com/lyzr/minutes/common/logger"
	"github.com/lyzr/minutes/common/metadata"
	"github.com/lyzr/minutes/common/queue"
)

const uploadName = "users/user-42/0b7c/会議.mp4"

type fakeTranscoder struct {
	calls  int
	inputs []string
	err    error
}

func (f *fakeTranscoder) Extract(_ context.Context, input, output string) error {
	f.calls++
	data, err := os.ReadFile(input)
	if err != nil {
		return err
	}
	f.inputs = append(f.inputs, string(data))
	if f.err != nil {
		return f.err
	}
	return os.WriteFile(output, []byte("RIFF"), 0o600)
}

func (f *fakeTranscoder) Extension() string   { return ".wav" }
func (f *fakeTranscoder) ContentType() string { return "audio/wav" }

type fixture struct {
	store      *blob.MemoryStore
	transcoder *fakeTranscoder
	journal    *journal.Memory
	cfg        *config.Config
	extractor  *Extractor
}

func newFixture(t *testing.T, filter string) *fixture {
	t.Helper()
	prompts, err := config.LoadPrompts("")
	require.NoError(t, err)

	cfg := &config.Config{
		Storage: config.StorageConfig{
			VideoContainer:       "video",
			AudioContainer:       "audio",
			TranscriptsContainer: "transcripts",
			MinutesContainer:     "minutes",
		},
		Extraction: config.ExtractionConfig{
			WorkDir:           t.TempDir(),
			VisibilityTimeout: time.Minute,
		},
		Prompts: prompts,
	}

	f := &fixture{
		store:      blob.NewMemoryStore(""),
		transcoder: &fakeTranscoder{},
		journal:    journal.NewMemory(),
		cfg:        cfg,
	}
	f.extractor = NewExtractor(f.store, f.transcoder, cfg, Options{
		Filter:  eventfilter.MustNew(filter),
		Journal: f.journal,
	}, logger.Discard())
	return f
}

func (f *fixture) upload(t *testing.T, name string, meta metadata.Map) events.Event {
	t.Helper()
	require.NoError(t, f.store.Put(context.Background(), "video", name, bytes.NewBufferString("media"), blob.PutOptions{
		ContentType: "video/mp4",
		Metadata:    meta,
	}))
	return events.NewBlobCreated(f.store.URL("video", name), "etag-1")
}

func TestExtractWritesAudioWithMetadata(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "")
	ev := f.upload(t, uploadName, metadata.BuildInitial("要約して", "会議.mp4", "user-42", "営業部"))

	audio, err := f.extractor.Process(ctx, ev)
	require.NoError(t, err)
	assert.Regexp(t, regexp.MustCompile(`^会議_[0-9a-f-]{36}\.wav$`), audio)

	props, err := f.store.Stat(ctx, "audio", audio)
	require.NoError(t, err)
	assert.Equal(t, "audio/wav", props.ContentType)
	assert.Equal(t, "user-42", props.Metadata.UserID())
	assert.Equal(t, "要約して", metadata.DecodeOr(props.Metadata, metadata.FieldPrompt, ""))
	assert.Equal(t, "会議.mp4", metadata.DecodeOr(props.Metadata, metadata.FieldFilename, ""))
	assert.Equal(t, "営業部", metadata.DecodeOr(props.Metadata, metadata.FieldUserDetails, ""))
	assert.Equal(t, []string{"media"}, f.transcoder.inputs)

	history, err := f.journal.History(ctx, audio[:len(audio)-len(".wav")])
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, journal.StageAudioExtracted, history[0].Stage)

	exists, err := f.store.Exists(ctx, "video", uploadName)
	require.NoError(t, err)
	assert.True(t, exists, "source is kept unless deletion is enabled")
}

func TestExtractFillsMissingMetadata(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "")
	ev := f.upload(t, "users/bob/1/weekly sync.mov", nil)

	audio, err := f.extractor.Process(ctx, ev)
	require.NoError(t, err)
	assert.Regexp(t, `^weekly sync_[0-9a-f-]{36}\.wav$`, audio)

	props, err := f.store.Stat(ctx, "audio", audio)
	require.NoError(t, err)
	assert.Equal(t, "bob", props.Metadata.UserID(), "owner falls back to the path")
	assert.Equal(t, f.cfg.Prompts.DefaultPrompt, metadata.DecodeOr(props.Metadata, metadata.FieldPrompt, ""))
	assert.Equal(t, "weekly sync.mov", metadata.DecodeOr(props.Metadata, metadata.FieldFilename, ""))
	_, hasDetails := props.Metadata[metadata.KeyUserDetails]
	assert.False(t, hasDetails)
}

func TestExtractSkipsOtherContainers(t *testing.T) {
	f := newFixture(t, "")
	ev := events.NewBlobCreated(f.store.URL("audio", "x_1.wav"), "")

	audio, err := f.extractor.Process(context.Background(), ev)
	require.NoError(t, err)
	assert.Empty(t, audio)
	assert.Zero(t, f.store.TotalCalls())
	assert.Zero(t, f.transcoder.calls)
}

func TestExtractFilteredEvent(t *testing.T) {
	f := newFixture(t, `!basename.startsWith("tmp_")`)
	ev := f.upload(t, "users/a/1/tmp_draft.mp4", nil)

	audio, err := f.extractor.Process(context.Background(), ev)
	require.NoError(t, err)
	assert.Empty(t, audio)
	assert.Zero(t, f.transcoder.calls)
}

func TestExtractMissingSourceIsPermanent(t *testing.T) {
	f := newFixture(t, "")
	ev := events.NewBlobCreated(f.store.URL("video", "users/a/1/gone.mp4"), "")

	_, err := f.extractor.Process(context.Background(), ev)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	assert.False(t, apperrors.Retryable(err))
}

func TestExtractTranscodeFailureReleasesGuard(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "")
	ev := f.upload(t, uploadName, nil)

	f.transcoder.err = apperrors.Wrap(apperrors.ErrTranscode, "extract", "ffmpeg", "exit status 1", nil)
	_, err := f.extractor.Process(ctx, ev)
	require.Error(t, err)
	assert.True(t, apperrors.Retryable(err))

	audioBlobs, err := f.store.List(ctx, "audio", "")
	require.NoError(t, err)
	assert.Empty(t, audioBlobs)

	f.transcoder.err = nil
	audio, err := f.extractor.Process(ctx, ev)
	require.NoError(t, err)
	assert.NotEmpty(t, audio, "redelivery runs again")
	assert.Equal(t, 2, f.transcoder.calls)
}

func TestExtractDuplicateDeliveryIgnored(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "")
	ev := f.upload(t, uploadName, nil)

	first, err := f.extractor.Process(ctx, ev)
	require.NoError(t, err)
	require.NotEmpty(t, first)

	second, err := f.extractor.Process(ctx, ev)
	require.NoError(t, err)
	assert.Empty(t, second)
	assert.Equal(t, 1, f.transcoder.calls)

	audioBlobs, err := f.store.List(ctx, "audio", "")
	require.NoError(t, err)
	assert.Len(t, audioBlobs, 1)
}

func TestExtractDeletesSourceWhenEnabled(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "")
	f.extractor.extraction.DeleteSource = true
	ev := f.upload(t, uploadName, nil)

	_, err := f.extractor.Process(ctx, ev)
	require.NoError(t, err)

	exists, err := f.store.Exists(ctx, "video", uploadName)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestHandleConsumesQueuedMessage(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "")
	ev := f.upload(t, uploadName, metadata.BuildInitial("要約して", "会議.mp4", "user-42", ""))

	q := queue.NewMemoryQueue(logger.Discard(), queue.Options{AckPolicy: func(err error) bool { return !apperrors.Retryable(err) }})
	payload, err := json.Marshal(ev)
	require.NoError(t, err)
	require.NoError(t, q.Publish(ctx, "video-extract", ev.ID, payload))

	handled, err := q.ReceiveOne(ctx, "video-extract", f.extractor.Handle)
	require.NoError(t, err)
	assert.True(t, handled)

	audioBlobs, err := f.store.List(ctx, "audio", "")
	require.NoError(t, err)
	require.Len(t, audioBlobs, 1)
	assert.Equal(t, "user-42", audioBlobs[0].Metadata.UserID())
}

func TestHandleRejectsGarbage(t *testing.T) {
	f := newFixture(t, "")
	err := f.extractor.Handle(context.Background(), queue.Delivery{ID: "1-0", Value: []byte("not an event")})
	require.Error(t, err)
	assert.False(t, apperrors.Retryable(err))
}

func TestDedupeKeyDependsOnETag(t *testing.T) {
	a := DedupeKey("http://x/video/a.mp4", "1")
	assert.Equal(t, a, DedupeKey("http://x/video/a.mp4", "1"))
	assert.NotEqual(t, a, DedupeKey("http://x/video/a.mp4", "2"))
}

func TestHandleAcceptsQuotedURLMessage(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "")
	f.upload(t, uploadName, nil)

	raw, err := json.Marshal(f.store.URL("video", uploadName))
	require.NoError(t, err)
	require.NoError(t, f.extractor.Handle(ctx, queue.Delivery{ID: "1-0", Value: raw}))

	audioBlobs, err := f.store.List(ctx, "audio", "")
	require.NoError(t, err)
	assert.Len(t, audioBlobs, 1)
}
