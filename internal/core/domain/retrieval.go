package domain

import (
	"fmt"
	"strings"
)

// SearchResult is one candidate returned by a search provider.
type SearchResult struct {
	Title   string `json:"title"`
	Link    string `json:"link"`
	Snippet string `json:"snippet"`
}

// SourceDocument is the extracted text of one fetched source.
type SourceDocument struct {
	Source string `json:"source"`
	Text   string `json:"text"`
}

// Chunk is a bounded span of document text tagged with its source before indexing.
type Chunk struct {
	ID        string    `json:"id"`
	Namespace string    `json:"namespace"`
	Source    string    `json:"source"`
	Text      string    `json:"text"`
	Embedding []float32 `json:"-"`
}

// RetrievedChunk is a chunk selected by similarity, with provenance.
type RetrievedChunk struct {
	Text   string  `json:"text"`
	Source string  `json:"source"`
	Score  float64 `json:"score"`
}

// RenderChunks formats chunks as SOURCE/DOCUMENT blocks for a prompt or observation.
func RenderChunks(chunks []RetrievedChunk) string {
	blocks := make([]string, 0, len(chunks))
	for _, c := range chunks {
		blocks = append(blocks, fmt.Sprintf("SOURCE: %s\nDOCUMENT: %s", c.Source, strings.TrimSpace(c.Text)))
	}
	return strings.Join(blocks, "\n\n")
}
