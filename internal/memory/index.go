package memory

import (
	"context"
	"errors"
	"sort"
	"strconv"

	"github.com/philippgille/chromem-go"
)

type hit struct {
	id    int
	score float32
}

// index holds one vector per entry, keyed by the entry's position.
type index interface {
	Add(ctx context.Context, id int, vec []float32) error
	Search(ctx context.Context, query []float32, k int) ([]hit, error)
	Len() int
}

// flatIndex is a brute-force squared Euclidean scan.
type flatIndex struct {
	vecs [][]float32
}

func (f *flatIndex) Add(_ context.Context, id int, vec []float32) error {
	if id != len(f.vecs) {
		return errors.New("flat index: out of order add")
	}
	f.vecs = append(f.vecs, vec)
	return nil
}

func (f *flatIndex) Len() int { return len(f.vecs) }

func (f *flatIndex) Search(_ context.Context, query []float32, k int) ([]hit, error) {
	hits := make([]hit, len(f.vecs))
	for i, v := range f.vecs {
		hits[i] = hit{id: i, score: squaredL2(query, v)}
	}
	// Stable so equal distances keep insertion order.
	sort.SliceStable(hits, func(a, b int) bool { return hits[a].score < hits[b].score })
	if k < len(hits) {
		hits = hits[:k]
	}
	return hits, nil
}

func squaredL2(a, b []float32) float32 {
	var sum float32
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}

var errNoEmbedding = errors.New("memory index stores precomputed embeddings only")

// chromemIndex ranks by cosine similarity using an in-memory chromem-go
// collection. Vectors arrive already normalised, so chromem's dot product is
// the cosine.
type chromemIndex struct {
	col *chromem.Collection
}

func newChromemIndex() (*chromemIndex, error) {
	db := chromem.NewDB()
	col, err := db.CreateCollection("memory", nil, func(context.Context, string) ([]float32, error) {
		return nil, errNoEmbedding
	})
	if err != nil {
		return nil, err
	}
	return &chromemIndex{col: col}, nil
}

func (c *chromemIndex) Add(ctx context.Context, id int, vec []float32) error {
	return c.col.AddDocument(ctx, chromem.Document{
		ID:        strconv.Itoa(id),
		Embedding: vec,
		// chromem requires content or embedding; the text itself lives in the Store.
		Content: strconv.Itoa(id),
	})
}

func (c *chromemIndex) Len() int { return c.col.Count() }

func (c *chromemIndex) Search(ctx context.Context, query []float32, k int) ([]hit, error) {
	res, err := c.col.QueryEmbedding(ctx, query, k, nil, nil)
	if err != nil {
		return nil, err
	}
	hits := make([]hit, 0, len(res))
	for _, r := range res {
		id, err := strconv.Atoi(r.ID)
		if err != nil {
			return nil, err
		}
		hits = append(hits, hit{id: id, score: r.Similarity})
	}
	// chromem returns best first; keep that and break ties by insertion order.
	sort.SliceStable(hits, func(a, b int) bool {
		if hits[a].score != hits[b].score {
			return hits[a].score > hits[b].score
		}
		return hits[a].id < hits[b].id
	})
	return hits, nil
}
