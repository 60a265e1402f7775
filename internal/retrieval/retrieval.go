// Package retrieval provides knowledge-base lookups that ground agent prompts.
//
// A Retriever answers a free-text query with the k most similar chunks of
// the indexed coaching knowledge, optionally restricted to one category
// (fitness, nutrition, recovery, resolution_psychology).
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Known knowledge categories.
const (
	CategoryFitness    = "fitness"
	CategoryNutrition  = "nutrition"
	CategoryRecovery   = "recovery"
	CategoryPsychology = "resolution_psychology"
)

// DefaultK is the number of chunks returned when the caller passes k <= 0.
const DefaultK = 3

// DefaultMinRelevance is the best-hit similarity below which a result set is
// considered poor.
const DefaultMinRelevance = 0.7

// NoKnowledge is the prompt context used when nothing relevant was found.
const NoKnowledge = "No relevant knowledge found."

var (
	// ErrEmptyQuery is returned for a blank query.
	ErrEmptyQuery = errors.New("retrieval: query is required")

	// ErrNoDocuments is returned when Index is called without documents.
	ErrNoDocuments = errors.New("retrieval: no documents to index")

	// ErrEmbeddingMismatch is returned when an embedder answers with the wrong
	// number of vectors.
	ErrEmbeddingMismatch = errors.New("retrieval: embedding count mismatch")
)

// Chunk is one retrieved passage.
type Chunk struct {
	Text      string  `json:"text"`
	Source    string  `json:"source"`
	Category  string  `json:"category,omitempty"`
	Relevance float64 `json:"relevance"`
}

// Document is one indexable passage of the knowledge base.
type Document struct {
	ID       string
	Text     string
	Source   string
	Category string
	Metadata map[string]string
}

// Retriever looks up knowledge chunks.
type Retriever interface {
	// Retrieve returns up to k chunks ordered by descending relevance. An
	// empty category searches every category.
	Retrieve(ctx context.Context, query, category string, k int) ([]Chunk, error)
}

// Indexer adds documents to a retriever's backing store.
type Indexer interface {
	Index(ctx context.Context, docs []Document) error
}

// Embedder turns text into vectors. The method set matches langchaingo's
// embeddings.Embedder so its implementations plug in directly.
type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Nop is a Retriever with an empty knowledge base.
type Nop struct{}

// Retrieve implements Retriever.
func (Nop) Retrieve(context.Context, string, string, int) ([]Chunk, error) {
	return nil, nil
}

// Good reports whether the best chunk reaches minRelevance.
func Good(chunks []Chunk, minRelevance float64) bool {
	for _, c := range chunks {
		if c.Relevance >= minRelevance {
			return true
		}
	}
	return false
}

// Fallback queries Primary first and consults Secondary only when the
// primary results are poor. Poor primary results are still returned when the
// secondary has nothing better.
type Fallback struct {
	Primary      Retriever
	Secondary    Retriever
	MinRelevance float64
}

// Retrieve implements Retriever.
func (f Fallback) Retrieve(ctx context.Context, query, category string, k int) ([]Chunk, error) {
	threshold := f.MinRelevance
	if threshold <= 0 {
		threshold = DefaultMinRelevance
	}

	chunks, err := f.Primary.Retrieve(ctx, query, category, k)
	if err == nil && Good(chunks, threshold) {
		return chunks, nil
	}
	if f.Secondary == nil {
		return chunks, err
	}

	more, serr := f.Secondary.Retrieve(ctx, query, category, k)
	if serr != nil || len(more) == 0 {
		if err != nil {
			return nil, errors.Join(err, serr)
		}
		return chunks, nil
	}
	return more, nil
}

// FormatContext renders chunks as a numbered prompt section.
func FormatContext(chunks []Chunk) string {
	if len(chunks) == 0 {
		return NoKnowledge
	}

	var sb strings.Builder
	for i, c := range chunks {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		category := c.Category
		if category == "" {
			category = "unknown"
		}
		source := c.Source
		if source == "" {
			source = "unknown"
		}
		fmt.Fprintf(&sb, "[Source %d]\nCategory: %s\n%s\nSource: %s\nRelevance: %.2f",
			i+1, category, c.Text, source, c.Relevance)
	}
	return sb.String()
}

func normalizeK(k int) int {
	if k <= 0 {
		return DefaultK
	}
	return k
}
