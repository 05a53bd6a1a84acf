package summarizer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyzr/minutes/common/apperrors"
	"github.com/lyzr/minutes/common/clients"
	"github.com/lyzr/minutes/common/config"
	"github.com/lyzr/minutes/common/logger"
)

func TestAzureOpenAISummarize(t *testing.T) {
	var got chatCompletionRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/openai/deployments/gpt-4o/chat/completions", r.URL.Path)
		assert.Equal(t, "2024-06-01", r.URL.Query().Get("api-version"))
		assert.Equal(t, "k", r.Header.Get("api-key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"## 要約\n- 予算を承認"},"finish_reason":"stop"}]}`))
	}))
	defer srv.Close()

	s := NewAzureOpenAI(config.ChatConfig{
		Endpoint:    srv.URL + "/",
		Key:         "k",
		Deployment:  "gpt-4o",
		APIVersion:  "2024-06-01",
		Temperature: 0.2,
	}, WithHTTPClient(clients.NewTimeoutClient(30*time.Second, logger.Discard())))

	out, err := s.Summarize(context.Background(), Request{
		SystemInstruction: "sys",
		Prompt:            "議事録を日本語で要約してください。",
		Transcript:        "本日は予算について話しました。",
	})
	require.NoError(t, err)
	assert.Equal(t, "## 要約\n- 予算を承認", out)

	require.Len(t, got.Messages, 2)
	assert.Equal(t, "system", got.Messages[0].Role)
	assert.Equal(t, "sys", got.Messages[0].Content)
	assert.Equal(t, "user", got.Messages[1].Role)
	assert.Equal(t, "議事録を日本語で要約してください。\n\n---\n本日は予算について話しました。", got.Messages[1].Content)
}

func TestAzureOpenAIEmptyAndErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"  "},"finish_reason":"content_filter"}]}`))
	}))
	defer srv.Close()

	s := NewAzureOpenAI(config.ChatConfig{Endpoint: srv.URL, Key: "k", Deployment: "d", APIVersion: "v"})
	_, err := s.Summarize(context.Background(), Request{Transcript: "x"})
	assert.ErrorIs(t, err, apperrors.ErrUpstream)

	_, err = NewAzureOpenAI(config.ChatConfig{}).Summarize(context.Background(), Request{})
	assert.ErrorIs(t, err, apperrors.ErrConfiguration)
}

func TestUserMessageWithoutPrompt(t *testing.T) {
	assert.Equal(t, "transcript", UserMessage("  ", "transcript"))
}

func TestNewSelectsProvider(t *testing.T) {
	s, err := New(context.Background(), config.ChatConfig{Provider: "azure-openai"})
	require.NoError(t, err)
	assert.IsType(t, &AzureOpenAI{}, s)

	_, err = New(context.Background(), config.ChatConfig{Provider: "gemini"})
	assert.ErrorIs(t, err, apperrors.ErrConfiguration)

	_, err = New(context.Background(), config.ChatConfig{Provider: "other"})
	assert.ErrorIs(t, err, apperrors.ErrConfiguration)
}
