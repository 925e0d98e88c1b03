// Package embed turns text into fixed-length vectors for similarity search.
package embed

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/jeanpaul/danzar/internal/config"
)

// Embedder produces an embedding for a piece of text. Implementations must be
// deterministic for a given model so that a reloaded memory log lands on the
// same vectors it was saved with.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
}

// FromConfig builds the configured embedder wrapped in the in-process cache,
// and in the SQLite cache when embedding.cache_path is set.
func FromConfig(cfg config.EmbeddingConfig, logger *slog.Logger) (Embedder, func() error, error) {
	var base Embedder
	switch cfg.Type {
	case "hash":
		base = NewHash(cfg.Dimensions)
	case "openai":
		base = NewOpenAI(cfg.BaseURL, cfg.APIKey, cfg.Model, cfg.Dimensions)
	default:
		return nil, nil, fmt.Errorf("embed: unsupported type %q", cfg.Type)
	}

	var disk *SQLiteCache
	if cfg.CachePath != "" {
		var err error
		disk, err = OpenSQLiteCache(cfg.CachePath)
		if err != nil {
			return nil, nil, err
		}
	}
	cached, err := NewCached(base, cfg.Model, cfg.CacheSize, disk, logger)
	if err != nil {
		if disk != nil {
			disk.Close()
		}
		return nil, nil, err
	}
	return cached, cached.Close, nil
}

// Normalize returns v scaled to unit length. A zero vector is returned as is.
func Normalize(v []float32) []float32 {
	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	if norm == 0 {
		return v
	}
	norm = math.Sqrt(norm)
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}
