package vecindex

import (
	"context"
	"math"
	"slices"
	"sync"

	"github.com/manthysbr/qagent/internal/core/domain"
)

// Memory is a brute-force cosine index held in process memory. Chunks are
// grouped by namespace and never outlive the process.
type Memory struct {
	mu     sync.RWMutex
	chunks map[string][]domain.Chunk
}

func NewMemory() *Memory {
	return &Memory{chunks: make(map[string][]domain.Chunk)}
}

func (m *Memory) Insert(_ context.Context, chunks []domain.Chunk) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range chunks {
		m.chunks[c.Namespace] = append(m.chunks[c.Namespace], c)
	}
	return nil
}

func (m *Memory) Query(_ context.Context, namespace string, vector []float32, k int) ([]domain.RetrievedChunk, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stored := m.chunks[namespace]
	out := make([]domain.RetrievedChunk, 0, len(stored))
	for _, c := range stored {
		out = append(out, domain.RetrievedChunk{
			Text:   c.Text,
			Source: c.Source,
			Score:  Cosine(vector, c.Embedding),
		})
	}
	slices.SortStableFunc(out, func(a, b domain.RetrievedChunk) int {
		switch {
		case a.Score > b.Score:
			return -1
		case a.Score < b.Score:
			return 1
		}
		return 0
	})
	if k > 0 && len(out) > k {
		out = out[:k]
	}
	return out, nil
}

func (m *Memory) Reset(_ context.Context, namespace string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.chunks, namespace)
	return nil
}

func (m *Memory) Persistent() bool { return false }

// Len reports how many chunks namespace holds.
func (m *Memory) Len(namespace string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.chunks[namespace])
}

// Cosine returns the cosine similarity of a and b, or 0 when either is a zero
// vector or their lengths differ.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
