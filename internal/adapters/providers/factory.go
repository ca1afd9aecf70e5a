package providers

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/manthysbr/qagent/internal/adapters/duckdb"
	"github.com/manthysbr/qagent/internal/adapters/embed"
	"github.com/manthysbr/qagent/internal/adapters/fetch"
	"github.com/manthysbr/qagent/internal/adapters/llm"
	"github.com/manthysbr/qagent/internal/adapters/search"
	"github.com/manthysbr/qagent/internal/adapters/vecindex"
	"github.com/manthysbr/qagent/internal/core/domain"
	"github.com/manthysbr/qagent/internal/core/ports"
)

// Set is every external collaborator the services need, built from config.
type Set struct {
	Backend  ports.GenerationBackend
	Embedder ports.Embedder
	Search   ports.SearchProvider
	Fetcher  ports.Fetcher
	Index    ports.ChunkIndex
	// Traces is nil unless a DuckDB repository was opened.
	Traces ports.TraceRepository

	closers []func() error
}

// Close releases the embedding cache and the database, in reverse order.
func (s *Set) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}

// Build creates providers from app configuration.
// It hides local/remote provider selection from callers.
func Build(logger *slog.Logger, config *domain.AppConfig) (*Set, error) {
	if config == nil {
		config = domain.DefaultConfig()
	}
	set := &Set{}

	backend, err := buildBackend(config)
	if err != nil {
		return nil, err
	}
	set.Backend = backend

	embedder, err := buildEmbedder(logger, config, set)
	if err != nil {
		set.Close()
		return nil, err
	}
	set.Embedder = embedder

	if set.Search, err = buildSearch(logger, config); err != nil {
		set.Close()
		return nil, err
	}
	set.Fetcher = fetch.NewHTTPFetcher(fetch.WithTimeout(config.Search.FetchTimeout))

	if err := buildStorage(config, set); err != nil {
		set.Close()
		return nil, err
	}
	return set, nil
}

func buildBackend(config *domain.AppConfig) (ports.GenerationBackend, error) {
	c := config.Providers.LLM
	switch strings.ToLower(strings.TrimSpace(c.Mode)) {
	case "", "local":
		return llm.NewOllamaProvider(normalizeOllamaBaseURL(c.LocalURL), strings.TrimSpace(c.DefaultModel)), nil
	case "remote":
		return llm.NewOpenAIProvider(strings.TrimSpace(c.RemoteURL), strings.TrimSpace(c.APIKey), strings.TrimSpace(c.DefaultModel)), nil
	default:
		return nil, fmt.Errorf("unsupported llm provider mode: %s", c.Mode)
	}
}

func buildEmbedder(logger *slog.Logger, config *domain.AppConfig, set *Set) (ports.Embedder, error) {
	c := config.Providers.Embed
	var (
		inner ports.Embedder
		model string
	)
	switch strings.ToLower(strings.TrimSpace(c.Mode)) {
	case "", "local":
		e := embed.NewOllama(normalizeOllamaBaseURL(c.LocalURL), c.Model)
		inner, model = e, e.Model()
	case "remote":
		m := c.Model
		if m == embed.DefaultOllamaModel {
			m = ""
		}
		e := embed.NewOpenAI(strings.TrimSpace(c.RemoteURL), strings.TrimSpace(c.APIKey), m)
		inner, model = e, e.Model()
	default:
		return nil, fmt.Errorf("unsupported embed provider mode: %s", c.Mode)
	}
	if !c.Cache {
		return inner, nil
	}

	cache, err := embed.NewCache(inner, embed.CacheOptions{Dir: c.CacheDir, Model: model, Logger: logger})
	if err != nil {
		return nil, err
	}
	set.closers = append(set.closers, cache.Close)
	return cache, nil
}

func buildSearch(logger *slog.Logger, config *domain.AppConfig) (ports.SearchProvider, error) {
	c := config.Search
	var chain []search.Named
	switch strings.ToLower(strings.TrimSpace(c.Provider)) {
	case "", "auto":
		if c.BraveAPIKey != "" {
			chain = append(chain, search.NewBrave(c.BraveAPIKey))
		}
		chain = append(chain, search.NewDuckDuckGo())
	case "brave":
		if c.BraveAPIKey == "" {
			return nil, fmt.Errorf("search.brave_api_key is required when provider=brave")
		}
		chain = append(chain, search.NewBrave(c.BraveAPIKey))
	case "duckduckgo":
		chain = append(chain, search.NewDuckDuckGo())
	case "static":
		if len(c.Links) == 0 {
			return nil, fmt.Errorf("search.links is required when provider=static")
		}
		chain = append(chain, search.NewStatic(c.Links))
	default:
		return nil, fmt.Errorf("unsupported search provider: %s", c.Provider)
	}
	return search.NewChain(logger, chain...), nil
}

// buildStorage opens the DuckDB repository when the index or the trace store
// needs it. Without a path it runs in memory.
func buildStorage(config *domain.AppConfig, set *Set) error {
	useIndex := strings.EqualFold(config.Search.Index, "duckdb")
	if !useIndex && config.Server.TraceDB == "" {
		set.Index = vecindex.NewMemory()
		return nil
	}

	repo, err := duckdb.NewRepository(DatabasePath(config))
	if err != nil {
		return err
	}
	set.closers = append(set.closers, repo.Close)
	set.Traces = repo
	if useIndex {
		set.Index = duckdb.NewChunkIndex(repo)
	} else {
		set.Index = vecindex.NewMemory()
	}
	return nil
}

// DatabasePath resolves the DuckDB file: server.trace_db, then
// search.persist_dir/qagent.db, else in-memory ("").
func DatabasePath(config *domain.AppConfig) string {
	if config.Server.TraceDB != "" {
		return config.Server.TraceDB
	}
	if config.Search.PersistDir != "" {
		return filepath.Join(config.Search.PersistDir, "qagent.db")
	}
	return ""
}

func normalizeOllamaBaseURL(baseURL string) string {
	trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	return strings.TrimSuffix(trimmed, "/v1")
}
