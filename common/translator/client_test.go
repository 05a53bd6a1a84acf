package translator

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyzr/minutes/common/apperrors"
	"github.com/lyzr/minutes/common/cache"
	"github.com/lyzr/minutes/common/clients"
	"github.com/lyzr/minutes/common/logger"
)

func TestTranslateURLShapes(t *testing.T) {
	tests := []struct {
		endpoint string
		wantPath string
	}{
		{"https://api.cognitive.microsofttranslator.com", "/translate"},
		{"https://api.cognitive.microsofttranslator.com/", "/translate"},
		{"https://api-apc.cognitive.microsofttranslator.com", "/translate"},
		{"https://my-res.cognitiveservices.azure.com", "/translator/text/v3.0/translate"},
		{"https://my-res.cognitiveservices.azure.com/translator/text/v3.0", "/translator/text/v3.0/translate"},
		{"https://my-res.cognitiveservices.azure.com/translator/text/v3.0/translate", "/translator/text/v3.0/translate"},
	}
	for _, tt := range tests {
		t.Run(tt.endpoint, func(t *testing.T) {
			raw, err := TranslateURL(tt.endpoint, "en", "ja")
			require.NoError(t, err)
			assert.Contains(t, raw, tt.wantPath+"?")
			assert.Contains(t, raw, "to=en")
			assert.Contains(t, raw, "from=ja")
			assert.Contains(t, raw, "api-version=3.0")
		})
	}

	_, err := TranslateURL("not a url", "en", "")
	assert.ErrorIs(t, err, apperrors.ErrConfiguration)
}

func TestChunkPreservesText(t *testing.T) {
	text := strings.Repeat("議事録の行です。\n", 50) + strings.Repeat("長", 25)
	chunks := Chunk(text, 40)
	assert.Greater(t, len(chunks), 1)
	for _, c := range chunks {
		assert.LessOrEqual(t, len([]rune(c)), 40)
	}
	assert.Equal(t, text, strings.Join(chunks, ""))

	assert.Equal(t, []string{"short"}, Chunk("short", 100))
}

func newServer(t *testing.T, calls *int32) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(calls, 1)
		assert.Equal(t, "key", r.Header.Get("Ocp-Apim-Subscription-Key"))
		assert.Equal(t, "japaneast", r.Header.Get("Ocp-Apim-Subscription-Region"))
		assert.Equal(t, "/translator/text/v3.0/translate", r.URL.Path)

		var in []requestItem
		require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		resp := []map[string]any{{
			"detectedLanguage": map[string]any{"language": "ja", "score": 1.0},
			"translations":     []map[string]any{{"text": strings.ToUpper("[" + in[0].Text + "]"), "to": r.URL.Query().Get("to")}},
		}}
		_ = json.NewEncoder(w).Encode(resp)
	}))
}

func TestTranslateChunksInOrderAndCaches(t *testing.T) {
	var calls int32
	srv := newServer(t, &calls)
	defer srv.Close()

	mc := cache.NewMemoryCache(logger.Discard())
	defer mc.Close()

	c := NewClient(Config{
		Endpoint:    srv.URL,
		Key:         "key",
		Region:      "japaneast",
		ChunkChars:  4,
		Concurrency: 3,
		CacheTTL:    time.Hour,
	}, clients.NewTimeoutClient(30*time.Second, logger.Discard()), mc)

	res, err := c.Translate(context.Background(), "ab\ncd\nef\n", "en", "")
	require.NoError(t, err)
	assert.Equal(t, "[AB\n][CD\n][EF\n]", res.Text)
	assert.Equal(t, "ja", res.DetectedLanguage)
	assert.Equal(t, "en", res.To)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))

	again, err := c.Translate(context.Background(), "ab\ncd\nef\n", "en", "")
	require.NoError(t, err)
	assert.Equal(t, res, again)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls), "second call served from cache")
}

func TestTranslateUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":{"code":401000}}`))
	}))
	defer srv.Close()

	c := NewClient(Config{Endpoint: srv.URL, Key: "k"}, clients.NewTimeoutClient(30*time.Second, logger.Discard()), nil)
	_, err := c.Translate(context.Background(), "こんにちは", "en", "")
	assert.ErrorIs(t, err, apperrors.ErrUpstream)
	assert.Equal(t, http.StatusBadGateway, apperrors.HTTPStatus(err))
}

func TestTranslateValidation(t *testing.T) {
	c := NewClient(Config{Endpoint: "https://api.cognitive.microsofttranslator.com", Key: "k"}, nil, nil)
	_, err := c.Translate(context.Background(), "x", "", "")
	assert.ErrorIs(t, err, apperrors.ErrValidation)

	c = NewClient(Config{}, nil, nil)
	_, err = c.Translate(context.Background(), "x", "en", "")
	assert.ErrorIs(t, err, apperrors.ErrConfiguration)
}
