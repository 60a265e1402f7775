package retrieval

import (
	"context"
	"errors"
	"fmt"

	"github.com/fyrsmithlabs/coachd/internal/config"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"
	"google.golang.org/genai"
)

// ErrMissingAPIKey is returned when a hosted embedder has no key.
var ErrMissingAPIKey = errors.New("retrieval: embedder api key required")

const (
	defaultGeminiEmbedModel = "text-embedding-004"
	defaultOpenAIEmbedModel = "text-embedding-3-small"

	taskRetrievalDocument = "RETRIEVAL_DOCUMENT"
	taskRetrievalQuery    = "RETRIEVAL_QUERY"
)

// GeminiEmbedder embeds text with the Gemini embedding API.
type GeminiEmbedder struct {
	client *genai.Client
	model  string
}

// NewGeminiEmbedder creates an embedder from cfg.
func NewGeminiEmbedder(ctx context.Context, cfg config.RetrievalConfig) (*GeminiEmbedder, error) {
	if !cfg.APIKey.IsSet() {
		return nil, fmt.Errorf("gemini: %w", ErrMissingAPIKey)
	}
	model := cfg.EmbedModel
	if model == "" {
		model = defaultGeminiEmbedModel
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
	return &GeminiEmbedder{client: client, model: model}, nil
}

// EmbedDocuments implements Embedder.
func (e *GeminiEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	return e.embed(ctx, texts, taskRetrievalDocument)
}

// EmbedQuery implements Embedder.
func (e *GeminiEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.embed(ctx, []string{text}, taskRetrievalQuery)
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (e *GeminiEmbedder) embed(ctx context.Context, texts []string, task string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	contents := make([]*genai.Content, len(texts))
	for i, t := range texts {
		contents[i] = genai.NewContentFromText(t, genai.RoleUser)
	}

	resp, err := e.client.Models.EmbedContent(ctx, e.model, contents, &genai.EmbedContentConfig{
		TaskType: task,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini embed: %w", err)
	}
	if resp == nil || len(resp.Embeddings) != len(texts) {
		got := 0
		if resp != nil {
			got = len(resp.Embeddings)
		}
		return nil, fmt.Errorf("%w: %d texts, %d embeddings", ErrEmbeddingMismatch, len(texts), got)
	}

	out := make([][]float32, len(resp.Embeddings))
	for i, emb := range resp.Embeddings {
		out[i] = emb.Values
	}
	return out, nil
}

// NewOpenAIEmbedder creates a langchaingo embedder backed by an
// OpenAI-compatible embeddings endpoint.
func NewOpenAIEmbedder(cfg config.RetrievalConfig) (*embeddings.EmbedderImpl, error) {
	if !cfg.APIKey.IsSet() {
		return nil, fmt.Errorf("openai: %w", ErrMissingAPIKey)
	}
	model := cfg.EmbedModel
	if model == "" || model == defaultGeminiEmbedModel {
		model = defaultOpenAIEmbedModel
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
		return nil, fmt.Errorf("creating OpenAI client: %w", err)
	}

	embedder, err := embeddings.NewEmbedder(llm)
	if err != nil {
		return nil, fmt.Errorf("creating embedder: %w", err)
	}
	return embedder, nil
}

var (
	_ Embedder = (*GeminiEmbedder)(nil)
	_ Embedder = (*embeddings.EmbedderImpl)(nil)
)
