package embed

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/manthysbr/qagent/internal/core/ports"
)

// Cache memoizes embeddings in BadgerDB keyed by model and text hash.
// Only texts missing from the cache reach the wrapped embedder.
type Cache struct {
	db     *badger.DB
	inner  ports.Embedder
	model  string
	logger *slog.Logger
}

// CacheOptions configures a Cache. An empty Dir runs badger in memory.
type CacheOptions struct {
	Dir    string
	Model  string
	Logger *slog.Logger
}

func NewCache(inner ports.Embedder, opts CacheOptions) (*Cache, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	dbOpts := badger.DefaultOptions(opts.Dir).WithLogger(badgerLogger{logger: logger})
	if opts.Dir == "" {
		dbOpts = dbOpts.WithInMemory(true)
	}
	db, err := badger.Open(dbOpts)
	if err != nil {
		return nil, fmt.Errorf("open embedding cache: %w", err)
	}
	return &Cache{db: db, inner: inner, model: opts.Model, logger: logger}, nil
}

func (c *Cache) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	keys := make([][]byte, len(texts))
	var missIdx []int
	var missTexts []string

	err := c.db.View(func(txn *badger.Txn) error {
		for i, text := range texts {
			keys[i] = c.key(text)
			item, err := txn.Get(keys[i])
			if errors.Is(err, badger.ErrKeyNotFound) {
				missIdx = append(missIdx, i)
				missTexts = append(missTexts, text)
				continue
			}
			if err != nil {
				return err
			}
			if err := item.Value(func(val []byte) error {
				return msgpack.Unmarshal(val, &out[i])
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read embedding cache: %w", err)
	}
	c.logger.Debug("embedding cache lookup", "hits", len(texts)-len(missTexts), "misses", len(missTexts))
	if len(missTexts) == 0 {
		return out, nil
	}

	vecs, err := c.inner.Embed(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(missTexts) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d texts", len(vecs), len(missTexts))
	}

	wb := c.db.NewWriteBatch()
	defer wb.Cancel()
	for j, i := range missIdx {
		out[i] = vecs[j]
		data, err := msgpack.Marshal(vecs[j])
		if err != nil {
			return nil, err
		}
		if err := wb.Set(keys[i], data); err != nil {
			return nil, err
		}
	}
	if err := wb.Flush(); err != nil {
		// vectors are still valid when the cache write fails
		c.logger.Warn("failed to write embedding cache", "error", err)
	}
	return out, nil
}

func (c *Cache) Close() error {
	return c.db.Close()
}

func (c *Cache) key(text string) []byte {
	sum := sha256.Sum256([]byte(text))
	return []byte("emb:" + c.model + ":" + hex.EncodeToString(sum[:]))
}

// badgerLogger routes badger's logging to slog, dropping info and debug chatter.
type badgerLogger struct {
	logger *slog.Logger
}

func (l badgerLogger) Errorf(f string, v ...interface{}) {
	l.logger.Error(fmt.Sprintf(f, v...), "component", "badger")
}

func (l badgerLogger) Warningf(f string, v ...interface{}) {
	l.logger.Warn(fmt.Sprintf(f, v...), "component", "badger")
}

func (badgerLogger) Infof(string, ...interface{})  {}
func (badgerLogger) Debugf(string, ...interface{}) {}
