// Package translator calls the Azure Translator text API. Both the global
// endpoint and single-resource custom-domain endpoints are supported.
package translator

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/lyzr/minutes/common/apperrors"
	"github.com/lyzr/minutes/common/cache"
	"github.com/lyzr/minutes/common/clients"
)

const (
	serviceName       = "translator"
	apiVersion        = "3.0"
	customPath        = "/translator/text/v3.0/translate"
	globalPath        = "/translate"
	defaultChunkChars = 9000
)

// Config holds translator settings.
type Config struct {
	Endpoint    string
	Key         string
	Region      string
	ChunkChars  int
	Concurrency int
	CacheTTL    time.Duration
}

// Result is a translated document.
type Result struct {
	Text             string `json:"text"`
	To               string `json:"to"`
	DetectedLanguage string `json:"detected_language,omitempty"`
}

// Translator is the query-stage view of the service.
type Translator interface {
	Translate(ctx context.Context, text, to, from string) (Result, error)
}

type requestItem struct {
	Text string `json:"Text"`
}

type responseItem struct {
	DetectedLanguage *struct {
		Language string  `json:"language"`
		Score    float64 `json:"score"`
	} `json:"detectedLanguage,omitempty"`
	Translations []struct {
		Text string `json:"text"`
		To   string `json:"to"`
	} `json:"translations"`
}

// Client translates text, splitting long documents into chunks that are
// translated concurrently and reassembled in order.
type Client struct {
	cfg   Config
	http  *clients.HTTPClient
	cache cache.Cache
}

// NewClient creates a translator client. cache may be nil.
func NewClient(cfg Config, httpClient *clients.HTTPClient, c cache.Cache) *Client {
	if cfg.ChunkChars <= 0 {
		cfg.ChunkChars = defaultChunkChars
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	return &Client{cfg: cfg, http: httpClient, cache: c}
}

// TranslateURL normalizes a configured endpoint into the translate operation
// URL. The global host serves /translate; single-resource endpoints serve the
// versioned translator path.
func TranslateURL(endpoint, to, from string) (string, error) {
	u, err := url.Parse(strings.TrimRight(strings.TrimSpace(endpoint), "/"))
	if err != nil || u.Host == "" {
		return "", apperrors.Wrap(apperrors.ErrConfiguration, serviceName, "endpoint", endpoint, err)
	}

	switch {
	case strings.HasSuffix(u.Path, "/translate"):
	case strings.HasSuffix(u.Host, "microsofttranslator.com"):
		u.Path += globalPath
	case strings.HasSuffix(u.Path, "/translator/text/v3.0"):
		u.Path += globalPath
	default:
		u.Path += customPath
	}

	q := u.Query()
	q.Set("api-version", apiVersion)
	q.Set("to", to)
	if from != "" {
		q.Set("from", from)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Translate translates text into the target language. from may be empty for auto-detection.
func (c *Client) Translate(ctx context.Context, text, to, from string) (Result, error) {
	if c.cfg.Key == "" || c.cfg.Endpoint == "" {
		return Result{}, apperrors.Wrap(apperrors.ErrConfiguration, serviceName, "translate", "translator key and endpoint are required", nil)
	}
	if strings.TrimSpace(to) == "" {
		return Result{}, apperrors.Wrap(apperrors.ErrValidation, serviceName, "translate", "target language is required", nil)
	}
	if text == "" {
		return Result{To: to}, nil
	}

	key := cache.Key(serviceName, from, to, text)
	if c.cache != nil {
		if raw, ok, err := c.cache.Get(ctx, key); err == nil && ok {
			var cached Result
			if json.Unmarshal(raw, &cached) == nil {
				return cached, nil
			}
		}
	}

	endpoint, err := TranslateURL(c.cfg.Endpoint, to, from)
	if err != nil {
		return Result{}, err
	}

	chunks := Chunk(text, c.cfg.ChunkChars)
	translated := make([]string, len(chunks))
	detected := make([]string, len(chunks))

	sem := semaphore.NewWeighted(int64(c.cfg.Concurrency))
	g, gctx := errgroup.WithContext(ctx)
	for i, chunk := range chunks {
		i, chunk := i, chunk
		if err := sem.Acquire(gctx, 1); err != nil {
			break
		}
		g.Go(func() error {
			defer sem.Release(1)
			out, lang, err := c.translateChunk(gctx, endpoint, chunk)
			if err != nil {
				return err
			}
			translated[i] = out
			detected[i] = lang
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Result{}, err
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	res := Result{Text: strings.Join(translated, ""), To: to, DetectedLanguage: from}
	if res.DetectedLanguage == "" && len(detected) > 0 {
		res.DetectedLanguage = detected[0]
	}

	if c.cache != nil && c.cfg.CacheTTL > 0 {
		if raw, err := json.Marshal(res); err == nil {
			_ = c.cache.Set(ctx, key, raw, c.cfg.CacheTTL)
		}
	}
	return res, nil
}

func (c *Client) translateChunk(ctx context.Context, endpoint, text string) (string, string, error) {
	headers := http.Header{}
	headers.Set("Ocp-Apim-Subscription-Key", c.cfg.Key)
	if c.cfg.Region != "" {
		headers.Set("Ocp-Apim-Subscription-Region", c.cfg.Region)
	}

	var out []responseItem
	if _, err := c.http.DoJSON(ctx, serviceName, http.MethodPost, endpoint, headers, []requestItem{{Text: text}}, &out); err != nil {
		return "", "", err
	}
	if len(out) == 0 || len(out[0].Translations) == 0 {
		return "", "", apperrors.Wrap(apperrors.ErrUpstream, serviceName, "translate", "response contained no translations", nil)
	}

	lang := ""
	if out[0].DetectedLanguage != nil {
		lang = out[0].DetectedLanguage.Language
	}
	return out[0].Translations[0].Text, lang, nil
}

// Chunk splits text into pieces of at most limit characters, preferring line
// boundaries. Concatenating the chunks yields the original text.
func Chunk(text string, limit int) []string {
	if limit <= 0 || utf8.RuneCountInString(text) <= limit {
		return []string{text}
	}

	var chunks []string
	var current strings.Builder
	currentLen := 0

	flush := func() {
		if current.Len() > 0 {
			chunks = append(chunks, current.String())
			current.Reset()
			currentLen = 0
		}
	}

	for _, line := range strings.SplitAfter(text, "\n") {
		n := utf8.RuneCountInString(line)
		if currentLen+n <= limit {
			current.WriteString(line)
			currentLen += n
			continue
		}
		flush()
		for n > limit {
			runes := []rune(line)
			chunks = append(chunks, string(runes[:limit]))
			line = string(runes[limit:])
			n -= limit
		}
		current.WriteString(line)
		currentLen = n
	}
	flush()
	return chunks
}
