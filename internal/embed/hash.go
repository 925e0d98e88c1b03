package embed

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// Hash is an offline embedder using signed feature hashing over lowercase
// word tokens. Texts that share words land close together, which is enough
// for recall without a model server. Output is unit length.
type Hash struct {
	dimensions int
}

func NewHash(dimensions int) *Hash {
	if dimensions <= 0 {
		dimensions = 384 // Match all-MiniLM-L6-v2 dimensions
	}
	return &Hash{dimensions: dimensions}
}

func (h *Hash) Dimensions() int { return h.dimensions }

func (h *Hash) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, h.dimensions)
	tokens := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	if len(tokens) == 0 {
		return h.noise(text), nil
	}
	for _, tok := range tokens {
		sum := hash64(tok)
		idx := int(sum % uint64(h.dimensions))
		if sum&(1<<63) != 0 {
			vec[idx]--
		} else {
			vec[idx]++
		}
	}
	return Normalize(vec), nil
}

// noise gives token-free text (empty, punctuation) a stable non-zero vector.
func (h *Hash) noise(text string) []float32 {
	vec := make([]float32, h.dimensions)
	seed := hash64(text)
	for i := range vec {
		// Simple LCG (Linear Congruential Generator)
		seed = seed*6364136223846793005 + 1442695040888963407
		vec[i] = float32(int64(seed)) / float32(math.MaxInt64)
	}
	return Normalize(vec)
}

func hash64(s string) uint64 {
	f := fnv.New64a()
	f.Write([]byte(s))
	return f.Sum64()
}
