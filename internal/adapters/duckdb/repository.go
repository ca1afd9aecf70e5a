package duckdb

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/marcboeker/go-duckdb"

	"github.com/manthysbr/qagent/internal/core/ports"
)

// Repository owns the DuckDB connection shared by the trace store and the
// chunk index. An empty path opens an in-memory database.
type Repository struct {
	db   *sql.DB
	path string
}

// Ensure Repository implements TraceRepository interface
var _ ports.TraceRepository = (*Repository)(nil)

func NewRepository(path string) (*Repository, error) {
	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("open duckdb %q: %w", path, err)
	}
	r := &Repository{db: db, path: path}
	if err := r.migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return r, nil
}

func (r *Repository) Close() error {
	return r.db.Close()
}

const schema = `
CREATE TABLE IF NOT EXISTS traces (
	id           VARCHAR PRIMARY KEY,
	name         VARCHAR,
	status       VARCHAR,
	root_span_id VARCHAR,
	start_time   TIMESTAMP,
	end_time     TIMESTAMP,
	duration_ms  BIGINT,
	span_count   INTEGER
);
CREATE TABLE IF NOT EXISTS spans (
	id          VARCHAR PRIMARY KEY,
	trace_id    VARCHAR,
	parent_id   VARCHAR,
	name        VARCHAR,
	kind        VARCHAR,
	status      VARCHAR,
	input       VARCHAR,
	output      VARCHAR,
	error       VARCHAR,
	attributes  VARCHAR,
	start_time  TIMESTAMP,
	end_time    TIMESTAMP,
	duration_ms BIGINT
);
CREATE TABLE IF NOT EXISTS chunks (
	id        VARCHAR PRIMARY KEY,
	namespace VARCHAR,
	source    VARCHAR,
	text      VARCHAR,
	embedding FLOAT[]
);`

func (r *Repository) migrate(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}
