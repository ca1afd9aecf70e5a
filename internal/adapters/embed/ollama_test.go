package embed

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOllama_Embed(t *testing.T) {
	var prompts []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/embeddings", r.URL.Path)
		var req embeddingsRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, DefaultOllamaModel, req.Model)
		prompts = append(prompts, req.Prompt)
		_ = json.NewEncoder(w).Encode(embeddingsResponse{Embedding: []float64{0.5, float64(len(req.Prompt))}})
	}))
	defer srv.Close()

	vecs, err := NewOllama(srv.URL, "").Embed(context.Background(), []string{"hi", "there"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{0.5, 2}, {0.5, 5}}, vecs)
	assert.Equal(t, []string{"hi", "there"}, prompts)
}

func TestOllama_EmptyEmbedding(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"embedding": []}`))
	}))
	defer srv.Close()

	_, err := NewOllama(srv.URL, "").Embed(context.Background(), []string{"x"})
	assert.ErrorContains(t, err, "empty embedding")
}
