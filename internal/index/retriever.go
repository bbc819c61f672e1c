package index

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"pdfchat/internal/ai"
	"pdfchat/internal/chunk"
	"pdfchat/internal/pkg/retry"
)

const DefaultTopK = 4

// Retriever ranks a document index against a query embedding. It never
// mutates the index.
type Retriever struct {
	embedder   Embedder
	maxRetries int
}

func NewRetriever(embedder Embedder, maxRetries int) *Retriever {
	if maxRetries <= 0 {
		maxRetries = retry.DefaultAttempts
	}
	return &Retriever{embedder: embedder, maxRetries: maxRetries}
}

// Retrieve returns the top-k chunks of idx most similar to query, ranked by
// cosine similarity with ties broken by lowest ordinal so the result order
// is deterministic.
func (r *Retriever) Retrieve(ctx context.Context, idx *DocumentIndex, query string, k int) ([]chunk.Chunk, error) {
	if idx == nil || len(idx.Vectors) == 0 {
		return nil, ErrUnknownDocument
	}
	if idx.EmbeddingModel != r.embedder.EmbeddingModelName() {
		return nil, fmt.Errorf("%w: index built with %q, query model is %q",
			ErrModelMismatch, idx.EmbeddingModel, r.embedder.EmbeddingModelName())
	}
	if k <= 0 {
		k = DefaultTopK
	}

	var queryVec []float32
	err := retry.Do(ctx, r.maxRetries, 300*time.Millisecond, ai.IsTransient, func() error {
		var embedErr error
		queryVec, embedErr = r.embedder.Embed(ctx, query)
		return embedErr
	})
	if err != nil {
		return nil, err
	}

	return RankByVector(idx, queryVec, k), nil
}

// RankByVector ranks idx against an already-embedded query vector.
func RankByVector(idx *DocumentIndex, queryVec []float32, k int) []chunk.Chunk {
	type scored struct {
		vec   *IndexedVector
		score float32
	}
	ranked := make([]scored, len(idx.Vectors))
	for i := range idx.Vectors {
		ranked[i] = scored{
			vec:   &idx.Vectors[i],
			score: CosineSimilarity(queryVec, idx.Vectors[i].Vector),
		}
	}

	sort.SliceStable(ranked, func(a, b int) bool {
		if ranked[a].score != ranked[b].score {
			return ranked[a].score > ranked[b].score
		}
		return ranked[a].vec.Chunk.Ordinal < ranked[b].vec.Chunk.Ordinal
	})

	if k > len(ranked) {
		k = len(ranked)
	}
	out := make([]chunk.Chunk, k)
	for i := 0; i < k; i++ {
		out[i] = ranked[i].vec.Chunk
	}
	return out
}

// CosineSimilarity returns 0 for mismatched or zero-norm vectors.
func CosineSimilarity(a, b []float32) float32 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA <= 0 || normB <= 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}
