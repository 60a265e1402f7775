package retrieval

import (
	"context"
	"errors"
	"hash/fnv"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/fyrsmithlabs/coachd/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// bagEmbedder hashes words into a fixed number of buckets, so texts sharing
// words end up close together.
type bagEmbedder struct {
	dims  int
	calls int
	err   error
}

func (e *bagEmbedder) vector(text string) []float32 {
	v := make([]float32, e.dims)
	for _, w := range strings.Fields(strings.ToLower(text)) {
		w = strings.Trim(w, ".,!?")
		h := fnv.New32a()
		_, _ = h.Write([]byte(w))
		v[int(h.Sum32())%e.dims]++
	}
	// chromem rejects all-zero vectors during normalization
	v[0] += 0.01
	return v
}

func (e *bagEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	e.calls++
	if e.err != nil {
		return nil, e.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = e.vector(t)
	}
	return out, nil
}

func (e *bagEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	if e.err != nil {
		return nil, e.err
	}
	return e.vector(text), nil
}

var knowledge = []Document{
	{Text: "Progressive overload means adding weight or reps gradually each week.", Source: "fitness/overload.md", Category: CategoryFitness},
	{Text: "Squats and deadlifts build lower body strength when form is solid.", Source: "fitness/strength.md", Category: CategoryFitness},
	{Text: "Protein intake of 1.6 grams per kilogram supports muscle repair.", Source: "nutrition/protein.md", Category: CategoryNutrition},
	{Text: "Sleep of seven to nine hours is the most effective recovery tool.", Source: "recovery/sleep.md", Category: CategoryRecovery},
	{Text: "Most resolutions fail in February when motivation fades and habits are not yet formed.", Source: "resolution_psychology/february.md", Category: CategoryPsychology},
}

func newIndexed(t *testing.T) *ChromemRetriever {
	t.Helper()
	r, err := NewChromemRetriever(ChromemConfig{}, &bagEmbedder{dims: 64})
	require.NoError(t, err)
	require.NoError(t, r.Index(context.Background(), knowledge))
	require.Equal(t, len(knowledge), r.Count())
	return r
}

func TestChromemRetriever_Retrieve(t *testing.T) {
	r := newIndexed(t)

	chunks, err := r.Retrieve(context.Background(), "how much protein for muscle repair", "", 2)
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, "nutrition/protein.md", chunks[0].Source)
	assert.Equal(t, CategoryNutrition, chunks[0].Category)
	assert.GreaterOrEqual(t, chunks[0].Relevance, chunks[1].Relevance)
}

func TestChromemRetriever_CategoryFilter(t *testing.T) {
	r := newIndexed(t)

	chunks, err := r.Retrieve(context.Background(), "protein sleep squats", CategoryFitness, 5)
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	for _, c := range chunks {
		assert.Equal(t, CategoryFitness, c.Category)
	}
}

func TestChromemRetriever_KCappedAtCount(t *testing.T) {
	r := newIndexed(t)

	chunks, err := r.Retrieve(context.Background(), "resolutions", "", 50)
	require.NoError(t, err)
	assert.Len(t, chunks, len(knowledge))
}

func TestChromemRetriever_DefaultK(t *testing.T) {
	r := newIndexed(t)

	chunks, err := r.Retrieve(context.Background(), "resolutions", "", 0)
	require.NoError(t, err)
	assert.Len(t, chunks, DefaultK)
}

func TestChromemRetriever_EmptyCollection(t *testing.T) {
	r, err := NewChromemRetriever(ChromemConfig{}, &bagEmbedder{dims: 8})
	require.NoError(t, err)

	chunks, err := r.Retrieve(context.Background(), "anything", "", 3)
	require.NoError(t, err)
	assert.Empty(t, chunks)
}

func TestChromemRetriever_Errors(t *testing.T) {
	r := newIndexed(t)

	_, err := r.Retrieve(context.Background(), "   ", "", 3)
	assert.ErrorIs(t, err, ErrEmptyQuery)

	assert.ErrorIs(t, r.Index(context.Background(), nil), ErrNoDocuments)

	_, err = NewChromemRetriever(ChromemConfig{}, nil)
	assert.Error(t, err)

	boom := errors.New("quota exhausted")
	failing, err := NewChromemRetriever(ChromemConfig{}, &bagEmbedder{dims: 8, err: boom})
	require.NoError(t, err)
	assert.ErrorIs(t, failing.Index(context.Background(), knowledge), boom)
}

func TestChromemRetriever_Persistent(t *testing.T) {
	dir := t.TempDir()
	emb := &bagEmbedder{dims: 32}

	r, err := NewChromemRetriever(ChromemConfig{Path: dir}, emb)
	require.NoError(t, err)
	require.NoError(t, r.Index(context.Background(), knowledge[:2]))

	reopened, err := NewChromemRetriever(ChromemConfig{Path: dir}, emb)
	require.NoError(t, err)
	assert.Equal(t, 2, reopened.Count())
}

func TestChromemRetriever_ReindexOverwrites(t *testing.T) {
	r, err := NewChromemRetriever(ChromemConfig{}, &bagEmbedder{dims: 32})
	require.NoError(t, err)

	docs := NewLoader().Split("Walk daily. Stretch after.", "recovery/basics.md", CategoryRecovery)
	require.NoError(t, r.Index(context.Background(), docs))
	require.NoError(t, r.Index(context.Background(), docs))
	assert.Equal(t, len(docs), r.Count())
}

func TestChunkText(t *testing.T) {
	t.Run("short text is one chunk", func(t *testing.T) {
		assert.Equal(t, []string{"Short."}, ChunkText("Short.", 500, 50))
	})

	t.Run("splits on sentence boundaries with overlap", func(t *testing.T) {
		text := strings.Repeat("Lift heavy things safely. ", 10)
		chunks := ChunkText(text, 60, 10)
		require.Greater(t, len(chunks), 1)
		for i, c := range chunks {
			assert.NotEmpty(t, c)
			if i > 0 {
				prev := chunks[i-1]
				assert.True(t, strings.HasPrefix(c, prev[len(prev)-10:]), "chunk %d should start with the tail of chunk %d", i, i-1)
			}
		}
	})

	t.Run("invalid overlap is ignored", func(t *testing.T) {
		chunks := ChunkText(strings.Repeat("Rest well. ", 20), 30, 99)
		assert.Greater(t, len(chunks), 1)
	})
}

func TestSentences(t *testing.T) {
	got := sentences("Move more. Eat well!  Sleep?\nRepeat. v1.2 stays whole")
	assert.Equal(t, []string{"Move more.", "Eat well!", "Sleep?", "Repeat.", "v1.2 stays whole"}, got)
}

func TestLoader_Load(t *testing.T) {
	fsys := fstest.MapFS{
		"fitness/overload.md":   {Data: []byte("Add reps gradually.")},
		"nutrition/protein.txt": {Data: []byte("Eat protein with every meal.")},
		"nutrition/empty.md":    {Data: []byte("   ")},
		"recovery/image.png":    {Data: []byte{0x89, 0x50}},
		"readme.md":             {Data: []byte("Top level file.")},
	}

	docs, err := NewLoader().Load(fsys)
	require.NoError(t, err)
	require.Len(t, docs, 3)

	byCategory := map[string]Document{}
	for _, d := range docs {
		byCategory[d.Category] = d
	}
	assert.Equal(t, "fitness/overload.md", byCategory[CategoryFitness].Source)
	assert.Equal(t, "protein.txt", byCategory[CategoryNutrition].Metadata["filename"])
	assert.Equal(t, "0", byCategory[CategoryNutrition].Metadata["chunk_index"])
	assert.Equal(t, "1", byCategory[CategoryNutrition].Metadata["total_chunks"])
	assert.Contains(t, byCategory, "")

	again, err := NewLoader().Load(fsys)
	require.NoError(t, err)
	assert.Equal(t, docs[0].ID, again[0].ID)
}

func TestFormatContext(t *testing.T) {
	assert.Equal(t, NoKnowledge, FormatContext(nil))

	out := FormatContext([]Chunk{
		{Text: "Sleep matters.", Source: "recovery/sleep.md", Category: CategoryRecovery, Relevance: 0.876},
		{Text: "Hydrate."},
	})
	assert.Contains(t, out, "[Source 1]\nCategory: recovery\nSleep matters.\nSource: recovery/sleep.md\nRelevance: 0.88")
	assert.Contains(t, out, "[Source 2]\nCategory: unknown\nHydrate.\nSource: unknown")
}

type stubRetriever struct {
	chunks []Chunk
	err    error
	calls  int
}

func (s *stubRetriever) Retrieve(context.Context, string, string, int) ([]Chunk, error) {
	s.calls++
	return s.chunks, s.err
}

func TestFallback(t *testing.T) {
	good := []Chunk{{Text: "good", Relevance: 0.9}}
	poor := []Chunk{{Text: "poor", Relevance: 0.2}}
	web := []Chunk{{Text: "web", Relevance: 0.5}}

	t.Run("good primary results win", func(t *testing.T) {
		secondary := &stubRetriever{chunks: web}
		got, err := Fallback{Primary: &stubRetriever{chunks: good}, Secondary: secondary}.Retrieve(context.Background(), "q", "", 3)
		require.NoError(t, err)
		assert.Equal(t, good, got)
		assert.Zero(t, secondary.calls)
	})

	t.Run("poor primary falls back", func(t *testing.T) {
		got, err := Fallback{Primary: &stubRetriever{chunks: poor}, Secondary: &stubRetriever{chunks: web}}.Retrieve(context.Background(), "q", "", 3)
		require.NoError(t, err)
		assert.Equal(t, web, got)
	})

	t.Run("empty secondary keeps poor primary", func(t *testing.T) {
		got, err := Fallback{Primary: &stubRetriever{chunks: poor}, Secondary: &stubRetriever{}}.Retrieve(context.Background(), "q", "", 3)
		require.NoError(t, err)
		assert.Equal(t, poor, got)
	})

	t.Run("both failing joins errors", func(t *testing.T) {
		e1, e2 := errors.New("primary down"), errors.New("secondary down")
		_, err := Fallback{Primary: &stubRetriever{err: e1}, Secondary: &stubRetriever{err: e2}}.Retrieve(context.Background(), "q", "", 3)
		assert.ErrorIs(t, err, e1)
		assert.ErrorIs(t, err, e2)
	})

	t.Run("no secondary", func(t *testing.T) {
		got, err := Fallback{Primary: &stubRetriever{chunks: poor}}.Retrieve(context.Background(), "q", "", 3)
		require.NoError(t, err)
		assert.Equal(t, poor, got)
	})
}

func TestNew(t *testing.T) {
	r, closeFn, err := New(context.Background(), config.RetrievalConfig{Backend: "none"})
	require.NoError(t, err)
	assert.IsType(t, Nop{}, r)
	assert.NoError(t, closeFn())

	_, _, err = New(context.Background(), config.RetrievalConfig{Backend: "chromem", Embedder: "gemini"})
	assert.ErrorIs(t, err, ErrMissingAPIKey)

	_, _, err = New(context.Background(), config.RetrievalConfig{Backend: "chromem", Embedder: "word2vec", APIKey: "k"})
	assert.ErrorContains(t, err, "unknown embedder")

	_, err = NewEmbedder(context.Background(), config.RetrievalConfig{Embedder: "openai", APIKey: "k"})
	assert.NoError(t, err)
}

func TestIndexDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, writeFile(dir, "recovery/sleep.md", "Sleep seven hours. Nap if needed."))

	r, err := NewChromemRetriever(ChromemConfig{}, &bagEmbedder{dims: 16})
	require.NoError(t, err)
	require.NoError(t, IndexDir(context.Background(), r, dir))
	assert.Equal(t, 1, r.Count())

	chunks, err := r.Retrieve(context.Background(), "sleep", CategoryRecovery, 3)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "recovery/sleep.md", chunks[0].Source)
}

func writeFile(dir, name, content string) error {
	p := filepath.Join(dir, filepath.FromSlash(name))
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}
	return os.WriteFile(p, []byte(content), 0o600)
}
