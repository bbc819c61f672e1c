package index

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pdfchat/internal/chunk"
)

func testIndex(modelName string, vectors ...[]float32) *DocumentIndex {
	idx := &DocumentIndex{
		Fingerprint:    "fp-test",
		EmbeddingModel: modelName,
		Dimension:      len(vectors[0]),
		CreatedAt:      time.Now(),
	}
	for i, v := range vectors {
		idx.Vectors = append(idx.Vectors, IndexedVector{
			Chunk:     chunk.Chunk{Text: string(rune('a' + i)), Ordinal: i, Fingerprint: "fp-test"},
			Vector:    v,
			Dimension: len(v),
		})
	}
	return idx
}

type directionEmbedder struct {
	modelName string
	vec       []float32
}

func (d *directionEmbedder) Embed(context.Context, string) ([]float32, error) { return d.vec, nil }
func (d *directionEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = d.vec
	}
	return out, nil
}
func (d *directionEmbedder) EmbeddingModelName() string { return d.modelName }

func TestRetrieveRanksByCosineSimilarity(t *testing.T) {
	idx := testIndex("m",
		[]float32{0, 1},  // orthogonal to the query
		[]float32{1, 0},  // aligned
		[]float32{1, 1},  // in between
		[]float32{-1, 0}, // opposite
	)
	embedder := &directionEmbedder{modelName: "m", vec: []float32{1, 0}}
	retriever := NewRetriever(embedder, 1)

	got, err := retriever.Retrieve(context.Background(), idx, "anything", 3)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, []int{1, 2, 0}, []int{got[0].Ordinal, got[1].Ordinal, got[2].Ordinal})
}

func TestRetrieveTieBreaksByOrdinal(t *testing.T) {
	// Scalar multiples of the query all score 1.0; document order must decide.
	idx := testIndex("m",
		[]float32{2, 0},
		[]float32{1, 0},
		[]float32{3, 0},
	)
	embedder := &directionEmbedder{modelName: "m", vec: []float32{1, 0}}
	retriever := NewRetriever(embedder, 1)

	got, err := retriever.Retrieve(context.Background(), idx, "anything", 3)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, []int{0, 1, 2}, []int{got[0].Ordinal, got[1].Ordinal, got[2].Ordinal})
}

func TestRetrieveClampsKToIndexSize(t *testing.T) {
	idx := testIndex("m", []float32{1, 0}, []float32{0, 1})
	embedder := &directionEmbedder{modelName: "m", vec: []float32{1, 0}}
	retriever := NewRetriever(embedder, 1)

	got, err := retriever.Retrieve(context.Background(), idx, "anything", 10)
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestRetrieveNilOrEmptyIndex(t *testing.T) {
	embedder := &directionEmbedder{modelName: "m", vec: []float32{1, 0}}
	retriever := NewRetriever(embedder, 1)

	_, err := retriever.Retrieve(context.Background(), nil, "q", 4)
	assert.ErrorIs(t, err, ErrUnknownDocument)

	empty := &DocumentIndex{EmbeddingModel: "m"}
	_, err = retriever.Retrieve(context.Background(), empty, "q", 4)
	assert.ErrorIs(t, err, ErrUnknownDocument)
}

func TestRetrieveModelMismatch(t *testing.T) {
	idx := testIndex("built-with", []float32{1, 0})
	embedder := &directionEmbedder{modelName: "queried-with", vec: []float32{1, 0}}
	retriever := NewRetriever(embedder, 1)

	_, err := retriever.Retrieve(context.Background(), idx, "q", 4)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrModelMismatch)
}

func TestRetrieveIsDeterministic(t *testing.T) {
	idx := testIndex("m",
		[]float32{1, 2}, []float32{2, 1}, []float32{1, 1}, []float32{3, 1}, []float32{1, 3},
	)
	embedder := &directionEmbedder{modelName: "m", vec: []float32{1, 1}}
	retriever := NewRetriever(embedder, 1)

	first, err := retriever.Retrieve(context.Background(), idx, "q", 4)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := retriever.Retrieve(context.Background(), idx, "q", 4)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestCosineSimilarityEdgeCases(t *testing.T) {
	assert.Zero(t, CosineSimilarity(nil, nil))
	assert.Zero(t, CosineSimilarity([]float32{1, 0}, []float32{1}))
	assert.Zero(t, CosineSimilarity([]float32{0, 0}, []float32{1, 0}))
	assert.InDelta(t, 1.0, CosineSimilarity([]float32{2, 0}, []float32{5, 0}), 1e-6)
	assert.InDelta(t, -1.0, CosineSimilarity([]float32{1, 0}, []float32{-3, 0}), 1e-6)
}
