package search

import (
	"context"
	"strings"

	"github.com/manthysbr/qagent/internal/core/domain"
)

// Static returns a fixed list of links regardless of the query. It serves
// offline runs and retrieval from a known set of pages.
type Static struct {
	links []string
}

func NewStatic(links []string) *Static {
	var clean []string
	for _, l := range links {
		if l = strings.TrimSpace(l); l != "" {
			clean = append(clean, l)
		}
	}
	return &Static{links: clean}
}

func (s *Static) Name() string { return "static" }

func (s *Static) Search(_ context.Context, _ string, limit int) ([]domain.SearchResult, error) {
	out := make([]domain.SearchResult, 0, len(s.links))
	for _, l := range s.links {
		if limit > 0 && len(out) == limit {
			break
		}
		out = append(out, domain.SearchResult{Title: l, Link: l})
	}
	return out, nil
}
