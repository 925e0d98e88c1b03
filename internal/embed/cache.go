package embed

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"

	"github.com/dgraph-io/ristretto"
)

// Cached memoises an Embedder by content hash. Hot vectors live in a
// ristretto cache; an optional SQLite store keeps them across restarts so
// reloading a large memory log does not re-hit the model server.
type Cached struct {
	inner  Embedder
	model  string
	hot    *ristretto.Cache
	disk   *SQLiteCache
	logger *slog.Logger
}

func NewCached(inner Embedder, model string, maxItems int64, disk *SQLiteCache, logger *slog.Logger) (*Cached, error) {
	if maxItems <= 0 {
		maxItems = 10000
	}
	if logger == nil {
		logger = slog.Default()
	}
	hot, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: maxItems * 10,
		MaxCost:     maxItems,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("embed: create cache: %w", err)
	}
	return &Cached{
		inner:  inner,
		model:  model,
		hot:    hot,
		disk:   disk,
		logger: logger.With("component", "embed"),
	}, nil
}

func (c *Cached) Dimensions() int { return c.inner.Dimensions() }

func (c *Cached) Embed(ctx context.Context, text string) ([]float32, error) {
	key := ContentHash(text)
	if v, ok := c.hot.Get(key); ok {
		return v.([]float32), nil
	}
	if c.disk != nil {
		vec, err := c.disk.Get(ctx, key, c.model)
		if err != nil {
			c.logger.Warn("embedding cache lookup failed", "error", err)
		} else if vec != nil {
			c.hot.Set(key, vec, 1)
			return vec, nil
		}
	}

	vec, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.hot.Set(key, vec, 1)
	if c.disk != nil {
		if err := c.disk.Put(ctx, key, c.model, vec); err != nil {
			// Non-fatal: the vector is still returned and cached in memory.
			c.logger.Warn("embedding cache write failed", "error", err)
		}
	}
	return vec, nil
}

func (c *Cached) Close() error {
	c.hot.Close()
	if c.disk != nil {
		return c.disk.Close()
	}
	return nil
}

// ContentHash computes a SHA-256 hash of text content.
func ContentHash(text string) string {
	h := sha256.Sum256([]byte(text))
	return fmt.Sprintf("%x", h)
}
