package summarizer

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/lyzr/minutes/common/apperrors"
	"github.com/lyzr/minutes/common/clients"
	"github.com/lyzr/minutes/common/config"
	"github.com/lyzr/minutes/common/logger"
)

const azureService = "chat"

// Option customizes the Azure OpenAI client.
type Option func(*AzureOpenAI)

// WithHTTPClient overrides the outbound HTTP client.
func WithHTTPClient(c *clients.HTTPClient) Option {
	return func(a *AzureOpenAI) {
		if c != nil {
			a.http = c
		}
	}
}

// AzureOpenAI calls a chat-completions deployment.
type AzureOpenAI struct {
	cfg  config.ChatConfig
	http *clients.HTTPClient
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionRequest struct {
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

// NewAzureOpenAI creates the client.
func NewAzureOpenAI(cfg config.ChatConfig, opts ...Option) *AzureOpenAI {
	a := &AzureOpenAI{
		cfg:  cfg,
		http: clients.NewTimeoutClient(config.MinOutboundTimeout*4, logger.Discard()),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a
}

func (a *AzureOpenAI) endpoint() string {
	base := strings.TrimRight(a.cfg.Endpoint, "/")
	return fmt.Sprintf("%s/openai/deployments/%s/chat/completions?api-version=%s",
		base, url.PathEscape(a.cfg.Deployment), url.QueryEscape(a.cfg.APIVersion))
}

// Summarize sends the system instruction and the prompt-plus-transcript message.
func (a *AzureOpenAI) Summarize(ctx context.Context, req Request) (string, error) {
	if a.cfg.Endpoint == "" || a.cfg.Key == "" {
		return "", apperrors.Wrap(apperrors.ErrConfiguration, azureService, "summarize", "azure openai endpoint and key are required", nil)
	}

	body := chatCompletionRequest{
		Messages: []chatMessage{
			{Role: "system", Content: req.SystemInstruction},
			{Role: "user", Content: UserMessage(req.Prompt, req.Transcript)},
		},
		Temperature: a.cfg.Temperature,
		MaxTokens:   a.cfg.MaxTokens,
	}

	headers := http.Header{}
	headers.Set("api-key", a.cfg.Key)

	start := time.Now()
	var out chatCompletionResponse
	if _, err := a.http.DoJSON(ctx, azureService, http.MethodPost, a.endpoint(), headers, body, &out); err != nil {
		return "", err
	}
	if len(out.Choices) == 0 {
		return "", apperrors.Wrap(apperrors.ErrUpstream, azureService, "summarize", "no choices returned", nil)
	}
	content := strings.TrimSpace(out.Choices[0].Message.Content)
	if content == "" {
		return "", apperrors.Wrap(apperrors.ErrUpstream, azureService, "summarize",
			fmt.Sprintf("empty completion (finish_reason=%s, %s)", out.Choices[0].FinishReason, time.Since(start).Round(time.Millisecond)), nil)
	}
	return content, nil
}
