package llm

import (
	"context"
	"fmt"

	"github.com/fyrsmithlabs/coachd/internal/agent"
	"github.com/fyrsmithlabs/coachd/internal/config"
	"google.golang.org/genai"
)

// Gemini generates through Google's Gemini API.
type Gemini struct {
	client *genai.Client
	model  string
}

// NewGemini creates a Gemini generator from cfg.
func NewGemini(ctx context.Context, cfg config.LLMConfig) (*Gemini, error) {
	if !cfg.APIKey.IsSet() {
		return nil, fmt.Errorf("gemini: %w", ErrMissingAPIKey)
	}

	model := cfg.Model
	if model == "" {
		model = defaultGeminiModel
	}

	cc := &genai.ClientConfig{
		APIKey:  cfg.APIKey.Value(),
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return &Gemini{client: client, model: model}, nil
}

// Generate implements agent.Generator.
func (g *Gemini) Generate(ctx context.Context, system, user string, opts agent.Options) (string, error) {
	opts = opts.WithDefaults()
	temperature := float32(opts.Temperature)

	resp, err := g.client.Models.GenerateContent(ctx, g.model,
		[]*genai.Content{genai.NewContentFromText(user, genai.RoleUser)},
		&genai.GenerateContentConfig{
			SystemInstruction: genai.NewContentFromText(system, genai.RoleUser),
			Temperature:       &temperature,
			MaxOutputTokens:   int32(opts.MaxTokens),
		},
	)
	if err != nil {
		return "", fmt.Errorf("gemini generate: %w", err)
	}

	text := resp.Text()
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}

var _ agent.Generator = (*Gemini)(nil)
