// Package summarizer turns a transcript into structured meeting minutes with a
// chat-completion model.
package summarizer

import (
	"context"
	"strings"

	"github.com/lyzr/minutes/common/apperrors"
	"github.com/lyzr/minutes/common/config"
)

// Request is one summarization call.
type Request struct {
	SystemInstruction string
	Prompt            string
	Transcript        string
}

// Summarizer produces minutes text.
type Summarizer interface {
	Summarize(ctx context.Context, req Request) (string, error)
}

// UserMessage places the caller's prompt ahead of the transcript.
func UserMessage(prompt, transcript string) string {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return transcript
	}
	return prompt + "\n\n---\n" + transcript
}

// New selects the backend named by cfg.Provider.
func New(ctx context.Context, cfg config.ChatConfig, opts ...Option) (Summarizer, error) {
	switch cfg.Provider {
	case "azure-openai", "":
		return NewAzureOpenAI(cfg, opts...), nil
	case "gemini":
		return NewGemini(ctx, cfg)
	default:
		return nil, apperrors.Wrap(apperrors.ErrConfiguration, "summarizer", "new", "unknown provider "+cfg.Provider, nil)
	}
}
