// Package memory is the append-only vector memory behind retrieval.
package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/jeanpaul/danzar/internal/embed"
	"github.com/jeanpaul/danzar/internal/schema"
)

// ErrDimension is returned when an embedding's length differs from the
// dimension fixed by the first entry.
var ErrDimension = errors.New("embedding dimension mismatch")

type Metric string

const (
	// L2 ranks by squared Euclidean distance, smaller first.
	L2 Metric = "l2"
	// Cosine ranks by inner product of unit vectors, larger first.
	Cosine Metric = "cosine"
)

func ParseMetric(s string) (Metric, error) {
	switch Metric(s) {
	case L2, "":
		return L2, nil
	case Cosine:
		return Cosine, nil
	}
	return "", fmt.Errorf("memory: unknown metric %q", s)
}

// Entry is one remembered text. Entries are never modified once appended.
type Entry struct {
	Text      string
	Embedding []float32
}

type Result struct {
	Entry Entry
	// Score is the squared distance under L2 and the similarity under Cosine.
	Score float32
}

type Options struct {
	Metric Metric
	// Path is where Persist writes the log.
	Path   string
	Logger *slog.Logger
}

// Store keeps entries in insertion order alongside a search index holding
// exactly one vector per entry.
type Store struct {
	mu       sync.RWMutex
	embedder embed.Embedder
	metric   Metric
	path     string
	logger   *slog.Logger

	entries []Entry
	idx     index
	dim     int
}

func New(embedder embed.Embedder, opts Options) (*Store, error) {
	if opts.Metric == "" {
		opts.Metric = L2
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	s := &Store{
		embedder: embedder,
		metric:   opts.Metric,
		path:     opts.Path,
		logger:   opts.Logger.With("component", "memory", "metric", string(opts.Metric)),
	}
	idx, err := newIndex(opts.Metric)
	if err != nil {
		return nil, err
	}
	s.idx = idx
	return s, nil
}

func newIndex(m Metric) (index, error) {
	switch m {
	case L2:
		return &flatIndex{}, nil
	case Cosine:
		return newChromemIndex()
	}
	return nil, fmt.Errorf("memory: unknown metric %q", m)
}

func (s *Store) Metric() Metric { return s.metric }

func (s *Store) Path() string { return s.path }

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Texts returns the remembered texts in insertion order.
func (s *Store) Texts() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(s.entries))
	for i, e := range s.entries {
		out[i] = e.Text
	}
	return out
}

// Embed exposes the store's embedder so callers can reuse one query vector.
func (s *Store) Embed(ctx context.Context, text string) ([]float32, error) {
	return s.embedder.Embed(ctx, text)
}

// Append embeds text and adds it. Empty and duplicate texts are stored like
// any other. The log on disk is not rewritten; call Persist for that.
func (s *Store) Append(ctx context.Context, text string) error {
	vec, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return fmt.Errorf("memory: embed: %w", err)
	}
	vec = s.prepare(vec)

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendLocked(ctx, text, vec)
}

// prepare copies vec into a row vector owned by the store, unit length under Cosine.
func (s *Store) prepare(vec []float32) []float32 {
	if s.metric == Cosine {
		return embed.Normalize(vec)
	}
	row := make([]float32, len(vec))
	copy(row, vec)
	return row
}

func (s *Store) appendLocked(ctx context.Context, text string, vec []float32) error {
	if s.dim == 0 {
		s.dim = len(vec)
	}
	if len(vec) != s.dim {
		return fmt.Errorf("memory: got %d, want %d: %w", len(vec), s.dim, ErrDimension)
	}
	if err := s.idx.Add(ctx, len(s.entries), vec); err != nil {
		return fmt.Errorf("memory: index: %w", err)
	}
	s.entries = append(s.entries, Entry{Text: text, Embedding: vec})
	return nil
}

// Search returns the min(k, Len()) entries nearest to query, best first.
func (s *Store) Search(ctx context.Context, query []float32, k int) ([]Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if k > len(s.entries) {
		k = len(s.entries)
	}
	if k <= 0 {
		return nil, nil
	}
	if len(query) != s.dim {
		return nil, fmt.Errorf("memory: query has %d, want %d: %w", len(query), s.dim, ErrDimension)
	}
	if s.metric == Cosine {
		query = embed.Normalize(query)
	}
	hits, err := s.idx.Search(ctx, query, k)
	if err != nil {
		return nil, fmt.Errorf("memory: search: %w", err)
	}
	out := make([]Result, len(hits))
	for i, h := range hits {
		out[i] = Result{Entry: s.entries[h.id], Score: h.score}
	}
	return out, nil
}

// SearchText embeds text and searches with it.
func (s *Store) SearchText(ctx context.Context, text string, k int) ([]Result, error) {
	if s.Len() == 0 || k <= 0 {
		return nil, nil
	}
	vec, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("memory: embed query: %w", err)
	}
	return s.Search(ctx, vec, k)
}

// Persist saves to the configured path. It is a no-op without one.
func (s *Store) Persist() {
	if s.path == "" {
		return
	}
	s.Save(s.path)
}

// Save writes the texts as a JSON array, replacing the file atomically.
// Errors are logged and swallowed so it is safe on shutdown paths.
func (s *Store) Save(path string) {
	texts := s.Texts()
	data, err := json.MarshalIndent(texts, "", "  ")
	if err != nil {
		s.logger.Warn("could not encode memory log", "error", err)
		return
	}
	if err := writeFileAtomic(path, data); err != nil {
		s.logger.Warn("could not save memory log", "path", path, "error", err)
		return
	}
	s.logger.Debug("memory saved", "path", path, "entries", len(texts))
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// Load replaces the store's contents with the log at path, re-embedding every
// text. A missing, malformed or wrongly shaped file leaves the store empty.
// Embedding errors are returned.
func (s *Store) Load(ctx context.Context, path string) error {
	texts := s.readLog(path)

	idx, err := newIndex(s.metric)
	if err != nil {
		return err
	}
	fresh := &Store{metric: s.metric, idx: idx}
	for i, text := range texts {
		vec, err := s.embedder.Embed(ctx, text)
		if err != nil {
			return fmt.Errorf("memory: embed entry %d: %w", i, err)
		}
		if err := fresh.appendLocked(ctx, text, s.prepare(vec)); err != nil {
			return err
		}
	}

	s.mu.Lock()
	s.entries, s.idx, s.dim = fresh.entries, fresh.idx, fresh.dim
	s.mu.Unlock()

	s.logger.Info("memory loaded", "path", path, "entries", len(texts))
	return nil
}

func (s *Store) readLog(path string) []string {
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("could not read memory log", "path", path, "error", err)
		}
		return nil
	}
	if err := schema.Validate(schema.MemoryLog, data); err != nil {
		s.logger.Error("failed to load memory log, starting empty", "path", path, "error", err)
		return nil
	}
	var texts []string
	if err := json.Unmarshal(data, &texts); err != nil {
		s.logger.Error("failed to load memory log, starting empty", "path", path, "error", err)
		return nil
	}
	return texts
}
