package embed

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingEmbedder struct {
	seen []string
}

func (c *countingEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	c.seen = append(c.seen, texts...)
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t)), 1}
	}
	return out, nil
}

func TestCache_OnlyMissesReachEmbedder(t *testing.T) {
	inner := &countingEmbedder{}
	cache, err := NewCache(inner, CacheOptions{Model: "test", Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
	require.NoError(t, err)
	defer cache.Close()

	ctx := context.Background()
	first, err := cache.Embed(ctx, []string{"a", "bbb"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{1, 1}, {3, 1}}, first)

	second, err := cache.Embed(ctx, []string{"bbb", "cc", "a"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{3, 1}, {2, 1}, {1, 1}}, second)

	assert.Equal(t, []string{"a", "bbb", "cc"}, inner.seen)
}

func TestCache_KeysIncludeModel(t *testing.T) {
	a := &Cache{model: "m1"}
	b := &Cache{model: "m2"}
	assert.NotEqual(t, a.key("text"), b.key("text"))
	assert.Equal(t, a.key("text"), a.key("text"))
}
