// Package chunkfile provides a chunk retriever backed by a YAML corpus
// file. The corpus is loaded once at startup; retrieval never reads
// caller-supplied content.
package chunkfile

import (
	"context"
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/Covenant-Gate/Covenantgate/internal/domain/knowledge"
)

// corpusDoc is the on-disk corpus layout.
type corpusDoc struct {
	Chunks []struct {
		ID   string `yaml:"id"`
		Text string `yaml:"text"`
	} `yaml:"chunks"`
}

// Retriever implements knowledge.ChunkRetriever over a loaded corpus.
type Retriever struct {
	mu     sync.RWMutex
	chunks map[string]knowledge.Chunk
}

// Load reads and indexes a YAML corpus file.
func Load(path string) (*Retriever, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read chunk corpus: %w", err)
	}

	var doc corpusDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode chunk corpus: %w", err)
	}

	chunks := make(map[string]knowledge.Chunk, len(doc.Chunks))
	for _, c := range doc.Chunks {
		if c.ID == "" {
			return nil, fmt.Errorf("chunk corpus entry missing id")
		}
		chunks[c.ID] = knowledge.Chunk{ID: c.ID, Text: c.Text}
	}
	return &Retriever{chunks: chunks}, nil
}

// NewStatic builds a retriever from an in-memory chunk set, for tests.
func NewStatic(chunks ...knowledge.Chunk) *Retriever {
	m := make(map[string]knowledge.Chunk, len(chunks))
	for _, c := range chunks {
		m[c.ID] = c
	}
	return &Retriever{chunks: m}
}

// Fetch returns the chunk for id, or an error when the corpus does not
// hold it.
func (r *Retriever) Fetch(_ context.Context, chunkID string) (knowledge.Chunk, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.chunks[chunkID]
	if !ok {
		return knowledge.Chunk{}, fmt.Errorf("chunk %q not in corpus", chunkID)
	}
	return c, nil
}

// Compile-time interface verification.
var _ knowledge.ChunkRetriever = (*Retriever)(nil)
