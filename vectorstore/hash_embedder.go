package vectorstore

import (
	"context"
	"hash/fnv"
	"strings"
)

// hashDims is the dimensionality of a HashEmbedder vector.
const hashDims = 64

// HashEmbedder is a deterministic, network-free Embedder: it feature-hashes
// the lowercased words of the input text into a fixed-width vector. It has
// none of a real embedding model's semantic structure, but gives the
// Registry's query-by-capability path a usable default when no LLM
// collaborator's embeddings API is configured, which matters for a CLI that
// must work offline out of the box.
type HashEmbedder struct{}

// NewHashEmbedder constructs a HashEmbedder.
func NewHashEmbedder() HashEmbedder { return HashEmbedder{} }

// Embed hashes each word of text into one of hashDims buckets and returns
// the resulting bag-of-words vector.
func (HashEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, hashDims)
	for _, word := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(word))
		vec[h.Sum32()%hashDims]++
	}
	return vec, nil
}
