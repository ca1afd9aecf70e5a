package services

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/manthysbr/qagent/internal/core/domain"
)

const maxSearchK = 10

// NewSearchTool exposes the retriever to the agent as the "search" tool.
func NewSearchTool(retriever *Retriever, defaultK int) *domain.Tool {
	if defaultK <= 0 {
		defaultK = 3
	}
	return &domain.Tool{
		Name:        "search",
		Description: "searches the web for the answer to the question and returns the most relevant passages with their sources",
		Parameters: domain.ToolParameters{
			Type: "object",
			Properties: map[string]any{
				"query": map[string]any{
					"type":        "string",
					"description": "The search query (e.g., 'Nobel Prize in Literature 2023').",
				},
				// untyped so a numeric string such as "3" reaches intArg
				"k": map[string]any{
					"description": "How many passages to return (an integer).",
				},
			},
			Required: []string{"query"},
		},
		Decode: func(raw map[string]any) (domain.ToolArgs, error) {
			return decodeSearchArgs(raw, defaultK)
		},
		Execute: func(ctx context.Context, args domain.ToolArgs) (any, error) {
			a, ok := args.(domain.SearchArgs)
			if !ok {
				return nil, fmt.Errorf("unexpected arguments %T", args)
			}
			chunks, err := retriever.Run(ctx, a.Query, a.K)
			if err != nil {
				return nil, err
			}
			if len(chunks) == 0 {
				return "No relevant documents were found for: " + a.Query, nil
			}
			return domain.RenderChunks(chunks), nil
		},
	}
}

func decodeSearchArgs(raw map[string]any, defaultK int) (domain.ToolArgs, error) {
	query, _ := raw["query"].(string)
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("query must be a non-empty string")
	}
	k, err := intArg(raw["k"], defaultK)
	if err != nil {
		return nil, fmt.Errorf("k: %w", err)
	}
	return domain.SearchArgs{Query: query, K: min(max(k, 1), maxSearchK)}, nil
}

// intArg reads an optional integer argument that may arrive as a JSON number or a numeric string.
func intArg(v any, fallback int) (int, error) {
	switch n := v.(type) {
	case nil:
		return fallback, nil
	case float64:
		return int(n), nil
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(n))
		if err != nil {
			return 0, fmt.Errorf("not an integer: %q", n)
		}
		return i, nil
	default:
		return 0, fmt.Errorf("not an integer: %v", v)
	}
}
