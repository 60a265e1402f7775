package retrieval

import (
	"context"
	"fmt"
	"os"

	"github.com/fyrsmithlabs/coachd/internal/config"
	"github.com/fyrsmithlabs/coachd/internal/logging"
	"go.uber.org/zap"
)

// New builds the retriever selected by cfg.Backend. The returned close
// function releases backend connections and is never nil.
func New(ctx context.Context, cfg config.RetrievalConfig) (Retriever, func() error, error) {
	noop := func() error { return nil }

	if cfg.Backend == "" || cfg.Backend == "none" {
		return Nop{}, noop, nil
	}

	embedder, err := NewEmbedder(ctx, cfg)
	if err != nil {
		return nil, noop, err
	}

	switch cfg.Backend {
	case "chromem":
		r, err := NewChromemRetriever(ChromemConfig{Path: cfg.Path, Collection: cfg.Collection}, embedder)
		if err != nil {
			return nil, noop, err
		}
		if cfg.KnowledgeDir != "" && r.Count() == 0 {
			if err := IndexDir(ctx, r, cfg.KnowledgeDir); err != nil {
				return nil, noop, err
			}
		}
		return r, noop, nil

	case "qdrant":
		r, err := NewQdrantRetriever(QdrantConfig{
			Host:       cfg.Host,
			Port:       cfg.Port,
			Collection: cfg.Collection,
		}, embedder)
		if err != nil {
			return nil, noop, err
		}
		if cfg.KnowledgeDir != "" {
			if err := IndexDir(ctx, r, cfg.KnowledgeDir); err != nil {
				_ = r.Close()
				return nil, noop, err
			}
		}
		return r, r.Close, nil

	default:
		return nil, noop, fmt.Errorf("retrieval: unknown backend %q", cfg.Backend)
	}
}

// NewEmbedder builds the embedder selected by cfg.Embedder.
func NewEmbedder(ctx context.Context, cfg config.RetrievalConfig) (Embedder, error) {
	switch cfg.Embedder {
	case "gemini", "":
		return NewGeminiEmbedder(ctx, cfg)
	case "openai":
		return NewOpenAIEmbedder(cfg)
	default:
		return nil, fmt.Errorf("retrieval: unknown embedder %q", cfg.Embedder)
	}
}

// IndexDir loads and indexes every knowledge file under dir.
func IndexDir(ctx context.Context, idx Indexer, dir string) error {
	docs, err := NewLoader().Load(os.DirFS(dir))
	if err != nil {
		return fmt.Errorf("loading knowledge from %s: %w", dir, err)
	}
	if len(docs) == 0 {
		logging.FromContext(ctx).Warn(ctx, "knowledge directory is empty", zap.String("dir", dir))
		return nil
	}
	if err := idx.Index(ctx, docs); err != nil {
		return fmt.Errorf("indexing knowledge: %w", err)
	}
	logging.FromContext(ctx).Info(ctx, "knowledge indexed",
		zap.String("dir", dir),
		zap.Int("chunks", len(docs)),
	)
	return nil
}
