package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/manthysbr/qagent/internal/core/domain"
	"github.com/manthysbr/qagent/internal/core/ports"
)

// persistentNamespace groups chunks of every run when the index outlives runs.
const persistentNamespace = "qagent"

// RetrieverConfig tunes SearchAndRetrieve.
type RetrieverConfig struct {
	FanOut       int
	K            int
	FetchTimeout time.Duration
}

// Retriever searches the web for a query, indexes what it fetched and returns
// the passages most similar to the query.
type Retriever struct {
	logger   *slog.Logger
	search   ports.SearchProvider
	fetcher  ports.Fetcher
	splitter ports.Splitter
	embedder ports.Embedder
	index    ports.ChunkIndex
	tracer   *TraceCollector
	cfg      RetrieverConfig
}

func NewRetriever(
	logger *slog.Logger,
	search ports.SearchProvider,
	fetcher ports.Fetcher,
	splitter ports.Splitter,
	embedder ports.Embedder,
	index ports.ChunkIndex,
	tracer *TraceCollector,
	cfg RetrieverConfig,
) *Retriever {
	if cfg.FanOut <= 0 {
		cfg.FanOut = 5
	}
	if cfg.K <= 0 {
		cfg.K = 3
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 4 * time.Second
	}
	return &Retriever{
		logger:   logger,
		search:   search,
		fetcher:  fetcher,
		splitter: splitter,
		embedder: embedder,
		index:    index,
		tracer:   tracer,
		cfg:      cfg,
	}
}

// Run returns at most k chunks in descending relevance. Sources that fail to
// fetch are skipped; an empty result is not an error.
func (r *Retriever) Run(ctx context.Context, query string, k int) ([]domain.RetrievedChunk, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("%w: empty query", domain.ErrInvalidArguments)
	}
	if k <= 0 {
		k = r.cfg.K
	}

	searchCtx, spanID := r.tracer.StartSpan(ctx, "search", domain.SpanKindSearch, query)
	candidates, err := r.search.Search(searchCtx, query, r.cfg.FanOut)
	r.tracer.EndSpan(spanID, fmt.Sprintf("%d candidates", len(candidates)), err)
	if err != nil {
		return nil, fmt.Errorf("search %q: %w", query, err)
	}
	r.logger.Debug("search candidates", "query", query, "count", len(candidates))

	docs := r.fetchAll(ctx, dedupeCandidates(candidates, r.cfg.FanOut))
	if len(docs) == 0 {
		r.logger.Warn("no source could be fetched", "query", query)
		return nil, nil
	}

	namespace := persistentNamespace
	if !r.index.Persistent() {
		namespace = uuid.NewString()
		defer func() {
			if err := r.index.Reset(context.WithoutCancel(ctx), namespace); err != nil {
				r.logger.Warn("failed to reset index", "namespace", namespace, "error", err)
			}
		}()
	}

	indexCtx, spanID := r.tracer.StartSpan(ctx, "index", domain.SpanKindIndex, query)
	chunks, err := r.indexDocuments(indexCtx, namespace, query, docs, k)
	r.tracer.EndSpan(spanID, fmt.Sprintf("%d chunks", len(chunks)), err)
	return chunks, err
}

func (r *Retriever) indexDocuments(ctx context.Context, namespace, query string, docs []domain.SourceDocument, k int) ([]domain.RetrievedChunk, error) {
	var chunks []domain.Chunk
	for _, doc := range docs {
		for _, piece := range r.splitter.Split(doc.Text) {
			chunks = append(chunks, domain.Chunk{
				ID:        uuid.NewString(),
				Namespace: namespace,
				Source:    doc.Source,
				Text:      piece,
			})
		}
	}
	if len(chunks) == 0 {
		return nil, nil
	}

	texts := make([]string, len(chunks)+1)
	for i, c := range chunks {
		texts[i] = c.Text
	}
	texts[len(chunks)] = query

	vectors, err := r.embedder.Embed(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embed chunks: %w", err)
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("embed chunks: got %d vectors for %d texts", len(vectors), len(texts))
	}
	for i := range chunks {
		chunks[i].Embedding = vectors[i]
	}

	if err := r.index.Insert(ctx, chunks); err != nil {
		return nil, fmt.Errorf("index chunks: %w", err)
	}
	r.logger.Debug("chunks indexed", "namespace", namespace, "count", len(chunks), "sources", len(docs))

	results, err := r.index.Query(ctx, namespace, vectors[len(chunks)], k)
	if err != nil {
		return nil, fmt.Errorf("query index: %w", err)
	}
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// fetchAll downloads every candidate in parallel. Each fetch has its own
// deadline and a failure only drops that source.
func (r *Retriever) fetchAll(ctx context.Context, candidates []domain.SearchResult) []domain.SourceDocument {
	docs := make([]*domain.SourceDocument, len(candidates))

	var g errgroup.Group
	for i, c := range candidates {
		g.Go(func() error {
			fetchCtx, cancel := context.WithTimeout(ctx, r.cfg.FetchTimeout)
			defer cancel()

			spanCtx, spanID := r.tracer.StartSpan(fetchCtx, "fetch", domain.SpanKindFetch, c.Link)
			doc, err := r.fetcher.Fetch(spanCtx, c.Link)
			r.tracer.EndSpan(spanID, "", err)
			if err != nil {
				r.logger.Debug("skipping source", "url", c.Link, "error", err)
				return nil
			}
			if strings.TrimSpace(doc.Text) == "" {
				r.logger.Debug("skipping empty source", "url", c.Link)
				return nil
			}
			if doc.Source == "" {
				doc.Source = c.Link
			}
			docs[i] = &doc
			return nil
		})
	}
	_ = g.Wait()

	out := make([]domain.SourceDocument, 0, len(docs))
	for _, d := range docs {
		if d != nil {
			out = append(out, *d)
		}
	}
	return out
}

func dedupeCandidates(candidates []domain.SearchResult, limit int) []domain.SearchResult {
	seen := make(map[string]bool, len(candidates))
	out := make([]domain.SearchResult, 0, len(candidates))
	for _, c := range candidates {
		if c.Link == "" || seen[c.Link] {
			continue
		}
		seen[c.Link] = true
		out = append(out, c)
		if len(out) == limit {
			break
		}
	}
	return out
}
