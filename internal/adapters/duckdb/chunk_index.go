package duckdb

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/manthysbr/qagent/internal/core/domain"
)

// ChunkIndex stores embedded chunks in the chunks table and ranks them with
// list_cosine_similarity. It is persistent when the repository is file-backed.
type ChunkIndex struct {
	repo *Repository
}

func NewChunkIndex(repo *Repository) *ChunkIndex {
	return &ChunkIndex{repo: repo}
}

func (c *ChunkIndex) Persistent() bool { return c.repo.path != "" }

func (c *ChunkIndex) Insert(ctx context.Context, chunks []domain.Chunk) error {
	tx, err := c.repo.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO chunks (id, namespace, source, text, embedding)
		VALUES (?, ?, ?, ?, CAST(? AS FLOAT[]))
		ON CONFLICT (id) DO NOTHING`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, ch := range chunks {
		if _, err := stmt.ExecContext(ctx, ch.ID, ch.Namespace, ch.Source, ch.Text, vectorLiteral(ch.Embedding)); err != nil {
			return fmt.Errorf("insert chunk %s: %w", ch.ID, err)
		}
	}
	return tx.Commit()
}

func (c *ChunkIndex) Query(ctx context.Context, namespace string, vector []float32, k int) ([]domain.RetrievedChunk, error) {
	if k <= 0 {
		k = 3
	}
	rows, err := c.repo.db.QueryContext(ctx, `
		SELECT text, source,
		       CAST(list_cosine_similarity(embedding, CAST(? AS FLOAT[])) AS DOUBLE) AS score
		FROM chunks
		WHERE namespace = ? AND len(embedding) = ?
		ORDER BY score DESC
		LIMIT ?`, vectorLiteral(vector), namespace, len(vector), k)
	if err != nil {
		return nil, fmt.Errorf("query chunks: %w", err)
	}
	defer rows.Close()

	var out []domain.RetrievedChunk
	for rows.Next() {
		var rc domain.RetrievedChunk
		if err := rows.Scan(&rc.Text, &rc.Source, &rc.Score); err != nil {
			return nil, err
		}
		out = append(out, rc)
	}
	return out, rows.Err()
}

func (c *ChunkIndex) Reset(ctx context.Context, namespace string) error {
	if _, err := c.repo.db.ExecContext(ctx, `DELETE FROM chunks WHERE namespace = ?`, namespace); err != nil {
		return fmt.Errorf("reset namespace %s: %w", namespace, err)
	}
	return nil
}

// vectorLiteral renders v as a DuckDB list literal, e.g. [0.1, 0.2].
func vectorLiteral(v []float32) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, f := range v {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(strconv.FormatFloat(float64(f), 'g', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}
