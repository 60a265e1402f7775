package retrieval

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fyrsmithlabs/coachd/internal/logging"
	"github.com/fyrsmithlabs/coachd/internal/sanitize"
	"github.com/google/uuid"
	chromem "github.com/philippgille/chromem-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

var chromemTracer = otel.Tracer("coachd.retrieval.chromem")

// Metadata keys stored with every indexed chunk.
const (
	metaSource   = "source"
	metaCategory = "category"
)

// DefaultCollection is the knowledge collection name.
const DefaultCollection = "coachd_knowledge"

// ChromemConfig configures the embedded vector store.
type ChromemConfig struct {
	// Path is the persistence directory. Empty keeps everything in memory.
	Path string

	Compress   bool
	Collection string

	// Concurrency bounds parallel document inserts. Default: 4.
	Concurrency int
}

// ChromemRetriever retrieves from an embedded chromem-go database.
type ChromemRetriever struct {
	db          *chromem.DB
	collection  *chromem.Collection
	embedder    Embedder
	concurrency int
}

// NewChromemRetriever opens (or creates) the knowledge collection.
func NewChromemRetriever(cfg ChromemConfig, embedder Embedder) (*ChromemRetriever, error) {
	if embedder == nil {
		return nil, fmt.Errorf("chromem: embedder is required")
	}
	if cfg.Collection == "" {
		cfg.Collection = DefaultCollection
	}
	cfg.Collection = sanitize.Collection(cfg.Collection)
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}

	var db *chromem.DB
	if cfg.Path == "" {
		db = chromem.NewDB()
	} else {
		path, err := expandPath(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("expanding path: %w", err)
		}
		if err := os.MkdirAll(path, 0o755); err != nil {
			return nil, fmt.Errorf("creating directory %s: %w", path, err)
		}
		db, err = chromem.NewPersistentDB(path, cfg.Compress)
		if err != nil {
			return nil, fmt.Errorf("creating chromem DB: %w", err)
		}
	}

	r := &ChromemRetriever{db: db, embedder: embedder, concurrency: cfg.Concurrency}
	col, err := db.GetOrCreateCollection(cfg.Collection, nil, r.embeddingFunc())
	if err != nil {
		return nil, fmt.Errorf("getting/creating collection %s: %w", cfg.Collection, err)
	}
	r.collection = col
	return r, nil
}

func expandPath(path string) (string, error) {
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, path[1:]), nil
	}
	return path, nil
}

func (r *ChromemRetriever) embeddingFunc() chromem.EmbeddingFunc {
	return func(ctx context.Context, text string) ([]float32, error) {
		return r.embedder.EmbedQuery(ctx, text)
	}
}

// Count returns the number of indexed chunks.
func (r *ChromemRetriever) Count() int {
	return r.collection.Count()
}

// Index embeds docs in one batch and adds them to the collection. Documents
// without an ID get a random one.
func (r *ChromemRetriever) Index(ctx context.Context, docs []Document) error {
	ctx, span := chromemTracer.Start(ctx, "ChromemRetriever.Index")
	defer span.End()
	span.SetAttributes(attribute.Int("documents", len(docs)))

	if len(docs) == 0 {
		return ErrNoDocuments
	}

	texts := make([]string, len(docs))
	for i, d := range docs {
		texts[i] = d.Text
	}
	vectors, err := r.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("embedding documents: %w", err)
	}
	if len(vectors) != len(docs) {
		return fmt.Errorf("%w: %d documents, %d vectors", ErrEmbeddingMismatch, len(docs), len(vectors))
	}

	batch := make([]chromem.Document, len(docs))
	for i, d := range docs {
		id := d.ID
		if id == "" {
			id = uuid.NewString()
		}
		batch[i] = chromem.Document{
			ID:        id,
			Content:   d.Text,
			Metadata:  documentMetadata(d),
			Embedding: vectors[i],
		}
	}

	if err := r.collection.AddDocuments(ctx, batch, r.concurrency); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("adding documents: %w", err)
	}

	span.SetStatus(codes.Ok, "success")
	logging.FromContext(ctx).Debug(ctx, "indexed knowledge",
		zap.Int("documents", len(docs)),
		zap.Int("total", r.collection.Count()),
	)
	return nil
}

func documentMetadata(d Document) map[string]string {
	meta := make(map[string]string, len(d.Metadata)+2)
	for k, v := range d.Metadata {
		meta[k] = v
	}
	meta[metaSource] = d.Source
	meta[metaCategory] = d.Category
	return meta
}

// Retrieve implements Retriever.
func (r *ChromemRetriever) Retrieve(ctx context.Context, query, category string, k int) ([]Chunk, error) {
	ctx, span := chromemTracer.Start(ctx, "ChromemRetriever.Retrieve")
	defer span.End()

	k = normalizeK(k)
	span.SetAttributes(
		attribute.String("category", category),
		attribute.Int("k", k),
	)

	if strings.TrimSpace(query) == "" {
		return nil, ErrEmptyQuery
	}

	// chromem requires nResults <= doc count; the where filter may shrink
	// the result further.
	count := r.collection.Count()
	if count == 0 {
		return nil, nil
	}
	if k > count {
		k = count
	}

	vector, err := r.embedder.EmbedQuery(ctx, query)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	var where map[string]string
	if category != "" {
		where = map[string]string{metaCategory: category}
	}

	results, err := r.collection.QueryEmbedding(ctx, vector, k, where, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("querying collection: %w", err)
	}

	chunks := make([]Chunk, len(results))
	for i, res := range results {
		chunks[i] = Chunk{
			Text:      res.Content,
			Source:    res.Metadata[metaSource],
			Category:  res.Metadata[metaCategory],
			Relevance: float64(res.Similarity),
		}
	}

	span.SetAttributes(attribute.Int("results_count", len(chunks)))
	span.SetStatus(codes.Ok, "success")
	logging.FromContext(ctx).Debug(ctx, "retrieved knowledge",
		zap.String("category", category),
		zap.Int("k", k),
		zap.Int("results", len(chunks)),
	)
	return chunks, nil
}

var (
	_ Retriever = (*ChromemRetriever)(nil)
	_ Indexer   = (*ChromemRetriever)(nil)
)
