package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/manthysbr/qagent/internal/core/domain"
	"github.com/manthysbr/qagent/internal/core/ports"
)

// Named is a SearchProvider that reports its name for logs.
type Named interface {
	ports.SearchProvider
	Name() string
}

// Chain tries providers in order and returns the first non-empty result.
type Chain struct {
	logger    *slog.Logger
	providers []Named
}

func NewChain(logger *slog.Logger, providers ...Named) *Chain {
	return &Chain{logger: logger, providers: providers}
}

func (c *Chain) Search(ctx context.Context, query string, limit int) ([]domain.SearchResult, error) {
	var errs []error
	for _, p := range c.providers {
		results, err := p.Search(ctx, query, limit)
		if err == nil && len(results) > 0 {
			return results, nil
		}
		if err == nil {
			err = errors.New("no results")
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		c.logger.Warn("search provider failed, trying next", "provider", p.Name(), "error", err)
		errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
	}
	if len(errs) == 0 {
		return nil, errors.New("no search provider configured")
	}
	return nil, errors.Join(errs...)
}

func stripBold(s string) string {
	s = strings.ReplaceAll(s, "<strong>", "")
	s = strings.ReplaceAll(s, "</strong>", "")
	s = strings.ReplaceAll(s, "<b>", "")
	return strings.TrimSpace(strings.ReplaceAll(s, "</b>", ""))
}
