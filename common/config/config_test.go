package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyzr/minutes/common/apperrors"
)

func TestLoadDefaultsWithMemoryStorage(t *testing.T) {
	t.Setenv("STORAGE_BACKEND", "memory")
	t.Setenv("HTTP_TIMEOUT", "5s")
	t.Setenv("SPEECH_CANDIDATE_LOCALES", "ja-JP, en-US ,zh-CN")

	cfg, err := Load("api")
	require.NoError(t, err)

	assert.Equal(t, "api", cfg.Service.Name)
	assert.Equal(t, "contenturl_", cfg.Speech.ResultPrefix)
	assert.Equal(t, []string{"ja-JP", "en-US", "zh-CN"}, cfg.Speech.CandidateLocales)
	assert.Equal(t, MinOutboundTimeout, cfg.HTTP.Timeout, "timeouts below the floor are raised")
	assert.Equal(t, 10*time.Minute, cfg.Extraction.VisibilityTimeout)
	assert.Equal(t, ".wav", cfg.AudioExtension())
	assert.Equal(t, "議事録を日本語で要約してください。", cfg.Prompts.DefaultPrompt)
	assert.Contains(t, cfg.Prompts.SystemInstruction, "アクションアイテム")
}

func TestValidateRejectsMissingStorage(t *testing.T) {
	t.Setenv("STORAGE_BACKEND", "azure")
	t.Setenv("AZURE_STORAGE_CONNECTION_STRING", "")
	t.Setenv("AZURE_STORAGE_ACCOUNT_URL", "")

	_, err := Load("api")
	assert.ErrorIs(t, err, apperrors.ErrConfiguration)
}

func TestValidateRejectsRedisQueueWithoutRedis(t *testing.T) {
	t.Setenv("STORAGE_BACKEND", "memory")
	t.Setenv("QUEUE_TYPE", "redis")
	t.Setenv("REDIS_ENABLED", "false")

	_, err := Load("extractor")
	assert.ErrorIs(t, err, apperrors.ErrConfiguration)
}

func TestRequireChecks(t *testing.T) {
	cfg := &Config{Chat: ChatConfig{Provider: "azure-openai", Key: "k"}}
	assert.ErrorIs(t, cfg.RequireChat(), apperrors.ErrConfiguration)
	cfg.Chat.Endpoint = "https://example.openai.azure.com"
	assert.NoError(t, cfg.RequireChat())

	assert.ErrorIs(t, cfg.RequireSpeech(), apperrors.ErrConfiguration)
	cfg.Speech = SpeechConfig{Key: "k", Region: "japaneast"}
	assert.NoError(t, cfg.RequireSpeech())
}

func TestPromptsOverrideAndResolve(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prompts.yaml")
	require.NoError(t, os.WriteFile(path, []byte("default_prompt: custom\npresets:\n  legal: 法務観点でまとめてください。\n"), 0o600))

	p, err := LoadPrompts(path)
	require.NoError(t, err)
	assert.Equal(t, "custom", p.DefaultPrompt)
	assert.NotEmpty(t, p.SystemInstruction, "system instruction falls back to embedded")
	assert.Contains(t, p.PresetNames(), "brief")
	assert.Contains(t, p.PresetNames(), "legal")

	got, err := p.Resolve("  explicit  ", "legal")
	require.NoError(t, err)
	assert.Equal(t, "explicit", got)

	got, err = p.Resolve("", "legal")
	require.NoError(t, err)
	assert.Equal(t, "法務観点でまとめてください。", got)

	got, err = p.Resolve("", "")
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = p.Resolve("", "nope")
	assert.ErrorIs(t, err, apperrors.ErrValidation)
}
