package retrieval

import (
	"fmt"
	"io/fs"
	"path"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"
)

// Chunking defaults, in characters.
const (
	DefaultChunkSize    = 500
	DefaultChunkOverlap = 50
)

// Loader reads a knowledge directory and splits it into indexable chunks.
// The category of a file is the name of its parent directory.
type Loader struct {
	ChunkSize  int
	Overlap    int
	Extensions []string
}

// NewLoader returns a loader with the default chunking for .md and .txt files.
func NewLoader() *Loader {
	return &Loader{
		ChunkSize:  DefaultChunkSize,
		Overlap:    DefaultChunkOverlap,
		Extensions: []string{".md", ".txt"},
	}
}

// Load walks fsys and returns every chunk of every matching file. Chunk IDs
// are derived from the file path and chunk index, so reloading the same tree
// overwrites rather than duplicates.
func (l *Loader) Load(fsys fs.FS) ([]Document, error) {
	var docs []Document
	err := fs.WalkDir(fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !l.matches(p) {
			return nil
		}

		data, err := fs.ReadFile(fsys, p)
		if err != nil {
			return fmt.Errorf("reading %s: %w", p, err)
		}
		text := strings.TrimSpace(string(data))
		if text == "" {
			return nil
		}

		category := path.Base(path.Dir(p))
		if category == "." {
			category = ""
		}
		docs = append(docs, l.Split(text, p, category)...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return docs, nil
}

func (l *Loader) matches(p string) bool {
	ext := path.Ext(p)
	for _, e := range l.Extensions {
		if strings.EqualFold(e, ext) {
			return true
		}
	}
	return false
}

// Split chunks one text and attaches its provenance.
func (l *Loader) Split(text, source, category string) []Document {
	chunks := ChunkText(text, l.ChunkSize, l.Overlap)
	docs := make([]Document, len(chunks))
	for i, c := range chunks {
		docs[i] = Document{
			ID:       chunkID(source, i),
			Text:     c,
			Source:   source,
			Category: category,
			Metadata: map[string]string{
				"filename":     path.Base(source),
				"chunk_index":  strconv.Itoa(i),
				"total_chunks": strconv.Itoa(len(chunks)),
			},
		}
	}
	return docs
}

func chunkID(source string, index int) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(source+"#"+strconv.Itoa(index))).String()
}

// ChunkText splits text into chunks of roughly size characters on sentence
// boundaries. Each chunk after the first starts with the last overlap
// characters of its predecessor. A single sentence longer than size becomes
// its own chunk.
func ChunkText(text string, size, overlap int) []string {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap < 0 || overlap >= size {
		overlap = 0
	}
	if len(text) <= size {
		return []string{text}
	}

	var chunks []string
	current := ""
	for _, sentence := range sentences(text) {
		if current != "" && len(current)+len(sentence) > size {
			chunks = append(chunks, strings.TrimSpace(current))
			tail := current
			if len(tail) > overlap {
				cut := len(tail) - overlap
				for cut < len(tail) && !utf8.RuneStart(tail[cut]) {
					cut++
				}
				tail = tail[cut:]
			}
			current = tail + " " + sentence
			continue
		}
		current += " " + sentence
	}
	if strings.TrimSpace(current) != "" {
		chunks = append(chunks, strings.TrimSpace(current))
	}
	return chunks
}

// sentences splits after '.', '!' or '?' when followed by whitespace.
func sentences(text string) []string {
	var out []string
	runes := []rune(text)
	start := 0
	for i := 0; i < len(runes); i++ {
		if !strings.ContainsRune(".!?", runes[i]) {
			continue
		}
		j := i + 1
		if j >= len(runes) || !unicode.IsSpace(runes[j]) {
			continue
		}
		out = append(out, string(runes[start:j]))
		for j < len(runes) && unicode.IsSpace(runes[j]) {
			j++
		}
		start = j
		i = j - 1
	}
	if start < len(runes) {
		out = append(out, string(runes[start:]))
	}
	return out
}
