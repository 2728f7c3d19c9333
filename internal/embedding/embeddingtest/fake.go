// Package embeddingtest provides a deterministic in-process embedding engine
// for tests: similar token bags produce similar vectors, so retrieval order
// is stable without any network dependency.
package embeddingtest

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
)

// Dims is the fake engine's vector width.
const Dims = 64

// Fake is a deterministic bag-of-words embedding engine.
type Fake struct{}

// New returns a Fake engine.
func New() *Fake { return &Fake{} }

// Embed hashes each lowercase token into a bucket and L2-normalizes.
func (Fake) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, Dims)
	for _, tok := range strings.Fields(strings.ToLower(text)) {
		tok = strings.Trim(tok, ".,:;()\"'")
		if tok == "" {
			continue
		}
		h := fnv.New32a()
		_, _ = h.Write([]byte(tok))
		vec[h.Sum32()%Dims]++
	}
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		n := float32(math.Sqrt(norm))
		for i := range vec {
			vec[i] /= n
		}
	}
	return vec, nil
}

// EmbedBatch embeds each text independently.
func (f Fake) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := f.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// Dimensions returns the vector width.
func (Fake) Dimensions() int { return Dims }

// Name identifies the engine.
func (Fake) Name() string { return "fake:bag-of-words" }
