package llm

import (
	"context"
	"fmt"

	"github.com/fyrsmithlabs/coachd/internal/agent"
	"github.com/fyrsmithlabs/coachd/internal/config"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"github.com/tmc/langchaingo/schema"
)

// LangChain generates through any langchaingo model.
type LangChain struct {
	model llms.Model
}

// NewLangChain creates an OpenAI-backed langchaingo generator from cfg.
func NewLangChain(cfg config.LLMConfig) (*LangChain, error) {
	if !cfg.APIKey.IsSet() {
		return nil, fmt.Errorf("openai: %w", ErrMissingAPIKey)
	}

	model := cfg.Model
	if model == "" {
		model = defaultOpenAIModel
	}

	opts := []openai.Option{
		openai.WithModel(model),
		openai.WithToken(cfg.APIKey.Value()),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}

	llm, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create openai client: %w", err)
	}
	return &LangChain{model: llm}, nil
}

// NewLangChainFromModel wraps an existing langchaingo model.
func NewLangChainFromModel(m llms.Model) *LangChain {
	return &LangChain{model: m}
}

// Generate implements agent.Generator.
func (l *LangChain) Generate(ctx context.Context, system, user string, opts agent.Options) (string, error) {
	opts = opts.WithDefaults()
	messages := []llms.MessageContent{
		llms.TextParts(schema.ChatMessageTypeSystem, system),
		llms.TextParts(schema.ChatMessageTypeHuman, user),
	}

	resp, err := l.model.GenerateContent(ctx, messages,
		llms.WithTemperature(opts.Temperature),
		llms.WithMaxTokens(opts.MaxTokens),
	)
	if err != nil {
		return "", fmt.Errorf("langchain generate: %w", err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return "", ErrEmptyResponse
	}
	return resp.Choices[0].Content, nil
}

var _ agent.Generator = (*LangChain)(nil)
