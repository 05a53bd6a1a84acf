package service

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyzr/minutes/common/apperrors"
	"github.com/lyzr/minutes/common/blob"
	"github.com/lyzr/minutes/common/journal"
	"github.com/lyzr/minutes/common/metadata"
	"github.com/lyzr/minutes/common/models"
)

const (
	aliceMinutes  = "users/alice/" + audioBase + "_minutes.txt"
	legacyAlice   = "legacy_a_minutes.txt"
	legacyNoOwner = "legacy_b_minutes.txt"
)

// seedMinutes stores minutes for alice, bob and two legacy blobs.
func seedMinutes(t *testing.T, e *env) {
	t.Helper()
	clock := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
	tick := func() {
		clock = clock.Add(time.Minute)
		at := clock
		e.store.SetClock(func() time.Time { return at })
	}

	tick()
	e.put(t, "minutes", legacyNoOwner, "古い議事録", metadata.Map{})
	tick()
	e.put(t, "minutes", legacyAlice, "alice legacy", metadata.Map{metadata.KeyUserID: "alice"})
	tick()
	e.put(t, "minutes", "users/bob/b_1_minutes.txt", "bob", metadata.Propagate(ownedMeta("bob"), nil))
	tick()
	meta := ownedMeta("alice")
	meta[metadata.KeyTranscript] = transcript
	e.put(t, "minutes", aliceMinutes, minutesText, meta)
	tick()
	e.put(t, "minutes", "users/alice/notes.txt", "not minutes", metadata.Map{metadata.KeyUserID: "alice"})
}

func TestListShowsOnlyVisibleMinutes(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	seedMinutes(t, e)

	items, err := e.query.List(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, aliceMinutes, items[0].Name, "newest first")
	assert.Equal(t, "会議.mp4", items[0].Title)
	assert.Equal(t, audioBase, items[0].JobID)
	assert.Equal(t, "minutes", items[0].Kind)
	assert.Equal(t, legacyAlice, items[1].Name)
	assert.Equal(t, "legacy_a", items[1].Title)

	items, err = e.query.List(ctx, "bob")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "users/bob/b_1_minutes.txt", items[0].Name)

	items, err = e.query.List(ctx, "")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, legacyNoOwner, items[0].Name)
}

func TestGetOwnershipMatrix(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	seedMinutes(t, e)

	cases := []struct {
		name    string
		caller  string
		blob    string
		allowed bool
	}{
		{"owner reads own prefix", "alice", aliceMinutes, true},
		{"other user on prefix", "bob", aliceMinutes, false},
		{"owner reads legacy", "alice", legacyAlice, true},
		{"other user on legacy", "bob", legacyAlice, false},
		{"ownerless legacy", "bob", legacyNoOwner, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			doc, err := e.query.Get(ctx, tc.caller, tc.blob)
			if tc.allowed {
				require.NoError(t, err)
				assert.Equal(t, tc.blob, doc.Name)
				return
			}
			require.Error(t, err)
			assert.ErrorIs(t, err, apperrors.ErrForbidden)
			assert.Equal(t, http.StatusForbidden, apperrors.HTTPStatus(err))
		})
	}
}

func TestGetForeignPrefixFetchesNothing(t *testing.T) {
	e := newEnv(t)
	seedMinutes(t, e)
	before := e.store.TotalCalls()

	_, err := e.query.Get(context.Background(), "bob", aliceMinutes)
	assert.ErrorIs(t, err, apperrors.ErrForbidden)
	assert.Equal(t, before, e.store.TotalCalls())
}

func TestGetMissing(t *testing.T) {
	e := newEnv(t)
	_, err := e.query.Get(context.Background(), "alice", "users/alice/nothing_minutes.txt")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	assert.Equal(t, http.StatusNotFound, apperrors.HTTPStatus(err))
}

func TestStatusPendingThenCompleted(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	journal.Record(ctx, e.journal, nil, audioBase, journal.StageAudioExtracted, audioName)

	status, err := e.query.Status(ctx, "alice", audioBase, "")
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, status.Status)
	assert.Equal(t, aliceMinutes, status.Name)
	require.Len(t, status.History, 1)

	seedMinutes(t, e)
	status, err = e.query.Status(ctx, "alice", audioBase, "")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, status.Status)
	assert.Equal(t, minutesText, status.Text)
}

func TestStatusFallsBackToLegacyName(t *testing.T) {
	e := newEnv(t)
	seedMinutes(t, e)

	status, err := e.query.Status(context.Background(), "alice", "legacy_a", "")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, status.Status)
	assert.Equal(t, legacyAlice, status.Name)
}

func TestStatusRequiresJobOrName(t *testing.T) {
	e := newEnv(t)
	_, err := e.query.Status(context.Background(), "alice", "", "")
	assert.ErrorIs(t, err, apperrors.ErrValidation)
}

func TestStatusByForeignName(t *testing.T) {
	e := newEnv(t)
	seedMinutes(t, e)
	_, err := e.query.Status(context.Background(), "bob", "", aliceMinutes)
	assert.ErrorIs(t, err, apperrors.ErrForbidden)
}

func TestRegenerateWritesNewVersion(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.putAudio(t, audioName, ownedMeta("alice"))
	e.putTranscript(t, transcript, audioName, spokenText)
	seedMinutes(t, e)
	e.summarizer.text = "regenerated"
	_, before := e.read(t, "minutes", aliceMinutes)

	resp, err := e.query.Regenerate(ctx, "alice", models.RegenerateRequest{Name: aliceMinutes, Prompt: "英語で要約"})
	require.NoError(t, err)
	assert.Equal(t, "users/alice/"+audioBase+"_regen_20261018T093000123Z.txt", resp.Name)
	assert.Equal(t, transcript, resp.TranscriptName)
	assert.Equal(t, "regenerated", resp.Text)
	assert.Equal(t, "英語で要約", e.summarizer.last().Prompt)

	original, after := e.read(t, "minutes", aliceMinutes)
	assert.Equal(t, minutesText, original, "original minutes are untouched")
	assert.Equal(t, before.Metadata, after.Metadata, "original metadata is untouched")

	_, props := e.read(t, "minutes", resp.Name)
	assert.Equal(t, transcript, props.Metadata[metadata.KeyTranscript])
	assert.Equal(t, "alice", props.Metadata.UserID())

	history, err := e.journal.History(ctx, audioBase)
	require.NoError(t, err)
	require.NotEmpty(t, history)
	assert.Equal(t, journal.StageRegenerated, history[len(history)-1].Stage)
}

func TestRegenerateSameInstantKeepsBothVersions(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.putAudio(t, audioName, ownedMeta("alice"))
	e.putTranscript(t, transcript, audioName, spokenText)
	seedMinutes(t, e)

	e.summarizer.text = "first"
	first, err := e.query.Regenerate(ctx, "alice", models.RegenerateRequest{Name: aliceMinutes})
	require.NoError(t, err)
	e.summarizer.text = "second"
	second, err := e.query.Regenerate(ctx, "alice", models.RegenerateRequest{Name: aliceMinutes})
	require.NoError(t, err)

	assert.Equal(t, "users/alice/"+audioBase+"_regen_20261018T093000123Z.txt", first.Name)
	assert.Equal(t, "users/alice/"+audioBase+"_regen_20261018T093000124Z.txt", second.Name)
	text, _ := e.read(t, "minutes", first.Name)
	assert.Equal(t, "first", text)
	text, _ = e.read(t, "minutes", second.Name)
	assert.Equal(t, "second", text)
}

func TestRegenerateWithPresetAndStoredPrompt(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.putAudio(t, audioName, ownedMeta("alice"))
	e.putTranscript(t, transcript, audioName, spokenText)
	seedMinutes(t, e)

	_, err := e.query.Regenerate(ctx, "alice", models.RegenerateRequest{Name: aliceMinutes, Preset: "english"})
	require.NoError(t, err)
	assert.Equal(t, "Summarize the meeting minutes in English.", e.summarizer.last().Prompt)

	_, err = e.query.Regenerate(ctx, "alice", models.RegenerateRequest{TranscriptName: transcript})
	require.NoError(t, err)
	assert.Equal(t, "要約して", e.summarizer.last().Prompt, "falls back to the upload prompt")
}

func TestRegenerateRejections(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.putAudio(t, audioName, ownedMeta("alice"))
	e.putTranscript(t, transcript, audioName, spokenText)
	seedMinutes(t, e)

	_, err := e.query.Regenerate(ctx, "bob", models.RegenerateRequest{Name: aliceMinutes})
	assert.ErrorIs(t, err, apperrors.ErrForbidden)

	_, err = e.query.Regenerate(ctx, "bob", models.RegenerateRequest{TranscriptName: transcript})
	assert.ErrorIs(t, err, apperrors.ErrForbidden, "audio metadata decides ownership")

	_, err = e.query.Regenerate(ctx, "alice", models.RegenerateRequest{Name: aliceMinutes, Preset: "nope"})
	assert.ErrorIs(t, err, apperrors.ErrValidation)

	_, err = e.query.Regenerate(ctx, "alice", models.RegenerateRequest{Name: legacyAlice})
	assert.ErrorIs(t, err, apperrors.ErrValidation, "no transcript backlink")

	_, err = e.query.Regenerate(ctx, "alice", models.RegenerateRequest{})
	assert.ErrorIs(t, err, apperrors.ErrValidation)

	assert.Empty(t, e.summarizer.requests)
}

func TestTranslateAndSave(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	seedMinutes(t, e)

	resp, err := e.query.Translate(ctx, "alice", models.TranslateRequest{Name: aliceMinutes, Save: true})
	require.NoError(t, err)
	assert.Equal(t, "en", resp.To)
	assert.Equal(t, "[en] "+minutesText, resp.Text)
	assert.Equal(t, "ja", resp.DetectedLanguage)
	assert.Equal(t, "users/alice/"+audioBase+"_tr-en_20261018T093000123Z.txt", resp.SavedName)

	text, props := e.read(t, "minutes", resp.SavedName)
	assert.Equal(t, resp.Text, text)
	assert.Equal(t, aliceMinutes, props.Metadata[metadata.KeyTranslatedFrom])
	assert.Equal(t, "en", props.Metadata[metadata.KeyTranslatedTo])
	assert.Equal(t, "ja", props.Metadata[metadata.KeyDetectedLanguage])
	assert.Equal(t, transcript, props.Metadata[metadata.KeyTranscript])

	items, err := e.query.List(ctx, "alice")
	require.NoError(t, err)
	var kinds []string
	for _, it := range items {
		kinds = append(kinds, it.Kind)
	}
	assert.Contains(t, kinds, "translation")
}

func TestTranslateSaveNeverOverwrites(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	seedMinutes(t, e)

	var saved []string
	for i := 0; i < maxVersionAttempts; i++ {
		resp, err := e.query.Translate(ctx, "alice", models.TranslateRequest{Name: aliceMinutes, Save: true})
		require.NoError(t, err)
		saved = append(saved, resp.SavedName)
	}
	assert.Len(t, saved, maxVersionAttempts)
	assert.Equal(t, "users/alice/"+audioBase+"_tr-en_20261018T093000127Z.txt", saved[len(saved)-1])
	seen := map[string]bool{}
	for _, name := range saved {
		assert.False(t, seen[name], "%s written twice", name)
		seen[name] = true
	}

	// Every candidate stamp at this instant is taken.
	_, err := e.query.Translate(ctx, "alice", models.TranslateRequest{Name: aliceMinutes, Save: true})
	assert.ErrorIs(t, err, blob.ErrAlreadyExists)
}

func TestTranslateRawText(t *testing.T) {
	e := newEnv(t)
	resp, err := e.query.Translate(context.Background(), "", models.TranslateRequest{Text: "こんにちは", To: "fr", From: "ja"})
	require.NoError(t, err)
	assert.Equal(t, "[fr] こんにちは", resp.Text)
	assert.Empty(t, resp.SavedName)
}

func TestTranslateRejections(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	seedMinutes(t, e)

	_, err := e.query.Translate(ctx, "alice", models.TranslateRequest{Text: "hello", Save: true})
	require.Error(t, err)
	assert.Equal(t, http.StatusBadRequest, apperrors.HTTPStatus(err))

	_, err = e.query.Translate(ctx, "alice", models.TranslateRequest{Text: "   "})
	assert.ErrorIs(t, err, apperrors.ErrValidation)

	_, err = e.query.Translate(ctx, "bob", models.TranslateRequest{Name: aliceMinutes})
	assert.ErrorIs(t, err, apperrors.ErrForbidden)

	assert.Zero(t, e.translator.calls)
}
