package service

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lyzr/minutes/common/blob"
	"github.com/lyzr/minutes/common/config"
	"github.com/lyzr/minutes/common/eventfilter"
	"github.com/lyzr/minutes/common/events"
	"github.com/lyzr/minutes/common/journal"
	"github.com/lyzr/minutes/common/logger"
	"github.com/lyzr/minutes/common/metadata"
	"github.com/lyzr/minutes/common/speech"
	"github.com/lyzr/minutes/common/summarizer"
	"github.com/lyzr/minutes/common/translator"
)

const (
	audioName   = "会議_3f1c2a9e-7d4b-4f7e-9a55-0c2d8e1b6a10.wav"
	audioBase   = "会議_3f1c2a9e-7d4b-4f7e-9a55-0c2d8e1b6a10"
	transcript  = "contenturl_xyz.json"
	spokenText  = "本日の議題は来期の予算です。"
	minutesText = "## 議題\n- 来期の予算"
)

type fakeSpeech struct {
	mu   sync.Mutex
	jobs []speech.Job
	err  error
}

func (f *fakeSpeech) Submit(_ context.Context, job speech.Job) (speech.Transcription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs = append(f.jobs, job)
	if f.err != nil {
		return speech.Transcription{}, f.err
	}
	return speech.Transcription{Self: "https://speech.example/transcriptions/1", DisplayName: job.DisplayName, Status: "NotStarted"}, nil
}

type fakeSummarizer struct {
	mu       sync.Mutex
	requests []summarizer.Request
	text     string
	err      error
}

func (f *fakeSummarizer) Summarize(_ context.Context, req summarizer.Request) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.err != nil {
		return "", f.err
	}
	if f.text != "" {
		return f.text, nil
	}
	return minutesText, nil
}

func (f *fakeSummarizer) last() summarizer.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1]
}

type fakeTranslator struct {
	calls int
}

func (f *fakeTranslator) Translate(_ context.Context, text, to, from string) (translator.Result, error) {
	f.calls++
	detected := from
	if detected == "" {
		detected = "ja"
	}
	return translator.Result{Text: "[" + to + "] " + text, To: to, DetectedLanguage: detected}, nil
}

type env struct {
	store      *blob.MemoryStore
	storage    config.StorageConfig
	prompts    *config.Prompts
	journal    *journal.Memory
	speech     *fakeSpeech
	summarizer *fakeSummarizer
	translator *fakeTranslator
	dispatcher *Dispatcher
	generator  *MinutesGenerator
	query      *QueryService
	upload     *UploadService
}

func newEnv(t *testing.T) *env {
	return newEnvWithFilters(t, config.FilterConfig{})
}

func newEnvWithFilters(t *testing.T, filters config.FilterConfig) *env {
	t.Helper()
	prompts, err := config.LoadPrompts("")
	require.NoError(t, err)

	e := &env{
		store: blob.NewMemoryStore(""),
		storage: config.StorageConfig{
			VideoContainer:       "video",
			AudioContainer:       "audio",
			TranscriptsContainer: "transcripts",
			MinutesContainer:     "minutes",
			AudioSASTTL:          time.Hour,
			TranscriptsSASTTL:    24 * time.Hour,
		},
		prompts:    prompts,
		journal:    journal.NewMemory(),
		speech:     &fakeSpeech{},
		summarizer: &fakeSummarizer{},
		translator: &fakeTranslator{},
	}
	log := logger.Discard()
	e.dispatcher = NewDispatcher(e.store, e.speech, e.storage, eventfilter.MustNew(filters.Transcription), e.journal, log)
	e.generator = NewMinutesGenerator(e.store, e.summarizer, e.storage, "contenturl_", prompts, eventfilter.MustNew(filters.Minutes), e.journal, log)
	e.query = NewQueryService(e.store, e.generator, e.translator, e.storage, prompts, "en", e.journal, log)
	e.query.now = func() time.Time { return time.Date(2026, 10, 18, 9, 30, 0, 123_000_000, time.UTC) }
	e.upload = NewUploadService(e.store, e.storage, prompts, log)
	return e
}

func (e *env) put(t *testing.T, container, name, body string, meta metadata.Map) {
	t.Helper()
	require.NoError(t, e.store.Put(context.Background(), container, name, strings.NewReader(body), blob.PutOptions{Metadata: meta}))
}

func (e *env) putAudio(t *testing.T, name string, meta metadata.Map) {
	e.put(t, e.storage.AudioContainer, name, "RIFF", meta)
}

func (e *env) putTranscript(t *testing.T, name, audio, text string) {
	t.Helper()
	doc := map[string]any{
		"source":    e.store.URL(e.storage.AudioContainer, audio),
		"timestamp": "2026-10-18T09:00:00Z",
		"combinedRecognizedPhrases": []map[string]any{
			{"channel": 0, "lexical": text, "display": text},
		},
		"recognizedPhrases": []map[string]any{{"speaker": 1, "locale": "ja-JP"}},
	}
	raw, err := json.Marshal(doc)
	require.NoError(t, err)
	require.NoError(t, e.store.Put(context.Background(), e.storage.TranscriptsContainer, name, bytes.NewReader(raw), blob.PutOptions{
		ContentType: "application/json",
	}))
}

func (e *env) event(container, name string) events.Event {
	return events.NewBlobCreated(e.store.URL(container, name), "")
}

func (e *env) read(t *testing.T, container, name string) (string, blob.Properties) {
	t.Helper()
	data, props, err := blob.ReadAll(context.Background(), e.store, container, name)
	require.NoError(t, err)
	return string(data), props
}

func ownedMeta(userID string) metadata.Map {
	return metadata.BuildInitial("要約して", "会議.mp4", userID, "")
}
