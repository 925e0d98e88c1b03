package embed

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteCache persists embeddings keyed by content hash and model.
type SQLiteCache struct {
	db *sql.DB
}

func OpenSQLiteCache(path string) (*SQLiteCache, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create cache directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite handles one writer at a time

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS embedding_cache (
			content_hash TEXT NOT NULL,
			model        TEXT NOT NULL,
			embedding    BLOB NOT NULL,
			dimension    INTEGER NOT NULL,
			updated_at   INTEGER NOT NULL,
			PRIMARY KEY (content_hash, model)
		)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return &SQLiteCache{db: db}, nil
}

// Get returns the cached vector, or nil if none is stored.
func (s *SQLiteCache) Get(ctx context.Context, contentHash, model string) ([]float32, error) {
	var blob []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT embedding FROM embedding_cache WHERE content_hash = ? AND model = ?`,
		contentHash, model).Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get embedding cache: %w", err)
	}
	return bytesToFloat32(blob), nil
}

// Put upserts an embedding cache entry.
func (s *SQLiteCache) Put(ctx context.Context, contentHash, model string, vec []float32) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO embedding_cache (content_hash, model, embedding, dimension, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(content_hash, model) DO UPDATE SET
			embedding = excluded.embedding,
			dimension = excluded.dimension,
			updated_at = excluded.updated_at
	`, contentHash, model, float32ToBytes(vec), len(vec), time.Now().Unix())
	if err != nil {
		return fmt.Errorf("put embedding cache: %w", err)
	}
	return nil
}

func (s *SQLiteCache) Close() error { return s.db.Close() }

func float32ToBytes(v []float32) []byte {
	b := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(b[i*4:], math.Float32bits(f))
	}
	return b
}

func bytesToFloat32(b []byte) []float32 {
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v
}
