package summarizer

import (
	"context"
	"strings"

	"google.golang.org/genai"

	"github.com/lyzr/minutes/common/apperrors"
	"github.com/lyzr/minutes/common/config"
)

const geminiService = "gemini"

// Gemini summarizes with the Gemini API.
type Gemini struct {
	client *genai.Client
	cfg    config.ChatConfig
}

// NewGemini creates a Gemini-backed summarizer.
func NewGemini(ctx context.Context, cfg config.ChatConfig) (*Gemini, error) {
	if cfg.Key == "" {
		return nil, apperrors.Wrap(apperrors.ErrConfiguration, geminiService, "new", "GEMINI_API_KEY is required", nil)
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.Key,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrConfiguration, geminiService, "new", "create client", err)
	}
	return &Gemini{client: client, cfg: cfg}, nil
}

// Summarize sends the prompt and transcript with the system instruction attached.
func (g *Gemini) Summarize(ctx context.Context, req Request) (string, error) {
	genCfg := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(float32(g.cfg.Temperature)),
	}
	if req.SystemInstruction != "" {
		genCfg.SystemInstruction = genai.NewContentFromText(req.SystemInstruction, genai.RoleUser)
	}
	if g.cfg.MaxTokens > 0 {
		genCfg.MaxOutputTokens = int32(g.cfg.MaxTokens)
	}

	result, err := g.client.Models.GenerateContent(ctx, g.cfg.Model, genai.Text(UserMessage(req.Prompt, req.Transcript)), genCfg)
	if err != nil {
		return "", apperrors.Wrap(apperrors.ErrUpstream, geminiService, "summarize", "generate content", err)
	}

	var b strings.Builder
	if result != nil && len(result.Candidates) > 0 && result.Candidates[0].Content != nil {
		for _, part := range result.Candidates[0].Content.Parts {
			if part != nil && part.Text != "" {
				b.WriteString(part.Text)
			}
		}
	}

	text := strings.TrimSpace(b.String())
	if text == "" {
		return "", apperrors.Wrap(apperrors.ErrUpstream, geminiService, "summarize", "empty response", nil)
	}
	return text, nil
}
