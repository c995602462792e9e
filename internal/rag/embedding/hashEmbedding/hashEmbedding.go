// Package hashEmbedding is a deterministic, offline embedding provider based on feature hashing.
// It needs no credentials and is used for local development and tests.
package hashEmbedding

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"

	"github.com/akolanti/GoRAG/internal/rag/embedding"
)

const ModelName = "hash-v1"

type provider struct {
	dimension int
}

func New(dimension int) embedding.Provider {
	return &provider{dimension: dimension}
}

func (p *provider) Model() string  { return ModelName }
func (p *provider) Dimension() int { return p.dimension }

func (p *provider) Embed(ctx context.Context, texts []string, _ embedding.TaskType) ([][]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = p.vector(t)
	}
	return out, nil
}

// vector hashes unigrams and bigrams into signed buckets and L2-normalises the result
func (p *provider) vector(text string) []float32 {
	v := make([]float32, p.dimension)
	tokens := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	if len(tokens) == 0 {
		tokens = []string{text}
	}

	for i, tok := range tokens {
		p.add(v, tok, 1)
		if i > 0 {
			p.add(v, tokens[i-1]+" "+tok, 0.5)
		}
	}

	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	if norm == 0 {
		v[0] = 1
		return v
	}
	inv := float32(1 / math.Sqrt(norm))
	for i := range v {
		v[i] *= inv
	}
	return v
}

func (p *provider) add(v []float32, feature string, weight float32) {
	h := fnv.New64a()
	_, _ = h.Write([]byte(feature))
	sum := h.Sum64()
	idx := int(sum % uint64(p.dimension))
	if sum&(1<<63) != 0 {
		weight = -weight
	}
	v[idx] += weight
}
