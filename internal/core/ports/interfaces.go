package ports

import (
	"context"

	"github.com/manthysbr/qagent/internal/core/domain"
)

// GenerationBackend abstracts the text-generation model (Ollama, OpenAI, ...).
type GenerationBackend interface {
	// Generate runs one completion. When req.Stream is set the backend calls
	// req.OnToken for each fragment and still returns the full text.
	Generate(ctx context.Context, req domain.GenerateRequest) (domain.GenerateResponse, error)
}

// Embedder turns text into vectors for similarity search.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// SearchProvider returns candidate sources for a query.
type SearchProvider interface {
	Search(ctx context.Context, query string, limit int) ([]domain.SearchResult, error)
}

// Fetcher downloads a source and extracts its readable text.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (domain.SourceDocument, error)
}

// Splitter cuts text into bounded overlapping chunks.
type Splitter interface {
	Split(text string) []string
}

// ChunkIndex stores embedded chunks and answers similarity queries.
type ChunkIndex interface {
	// Insert adds chunks (with embeddings) to the index.
	Insert(ctx context.Context, chunks []domain.Chunk) error

	// Query returns up to k chunks of namespace ordered by descending similarity.
	Query(ctx context.Context, namespace string, vector []float32, k int) ([]domain.RetrievedChunk, error)

	// Reset drops every chunk of namespace.
	Reset(ctx context.Context, namespace string) error

	// Persistent reports whether chunks outlive a single run.
	Persistent() bool
}

// Surface is the drawing capability the interpreter renders onto.
type Surface interface {
	StrokeLine(points []domain.Point, color string) error
	StrokeOval(center domain.Point, rx, ry int, color string) error
	StrokePolygon(points []domain.Point, color string) error
	DrawText(at domain.Point, text string, color string) error
	ClearAll() error
}

// TraceRepository persists finished traces.
type TraceRepository interface {
	SaveTrace(ctx context.Context, trace *domain.Trace) error
	GetTrace(ctx context.Context, id domain.TraceID) (*domain.Trace, error)
	ListTraces(ctx context.Context, limit int) ([]domain.TraceSummary, error)
}
