package index

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pdfchat/internal/chunk"
	"pdfchat/internal/model"
	"pdfchat/internal/repository"
)

type errProviderBusy struct{}

func (errProviderBusy) Error() string   { return "provider busy" }
func (errProviderBusy) Transient() bool { return true }

type fakeEmbedder struct {
	modelName string
	dimension int

	embedCalls atomic.Int64
	batchCalls atomic.Int64

	failBatch error
	// transientBatchFailures makes the next N EmbedBatch calls fail with a
	// retryable error before succeeding.
	transientBatchFailures atomic.Int64
}

func newFakeEmbedder() *fakeEmbedder {
	return &fakeEmbedder{modelName: "fake-embedding-model", dimension: 3}
}

func (f *fakeEmbedder) vectorFor(text string) []float32 {
	vec := make([]float32, f.dimension)
	for i, r := range text {
		vec[i%f.dimension] += float32(r)
	}
	return vec
}

func (f *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	f.embedCalls.Add(1)
	return f.vectorFor(text), nil
}

func (f *fakeEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	f.batchCalls.Add(1)
	if f.transientBatchFailures.Add(-1) >= 0 {
		return nil, errProviderBusy{}
	}
	if f.failBatch != nil {
		return nil, f.failBatch
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = f.vectorFor(t)
	}
	return out, nil
}

func (f *fakeEmbedder) EmbeddingModelName() string { return f.modelName }

type fakeIndexRepo struct {
	mu      sync.Mutex
	metas   map[string]*model.DocumentIndex
	rows    map[string][]model.IndexedChunk
	creates int
}

func newFakeIndexRepo() *fakeIndexRepo {
	return &fakeIndexRepo{
		metas: make(map[string]*model.DocumentIndex),
		rows:  make(map[string][]model.IndexedChunk),
	}
}

func (r *fakeIndexRepo) GetIndex(_ context.Context, fp string) (*model.DocumentIndex, []model.IndexedChunk, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	meta, ok := r.metas[fp]
	if !ok {
		return nil, nil, nil
	}
	return meta, r.rows[fp], nil
}

func (r *fakeIndexRepo) CreateIndex(_ context.Context, idx *model.DocumentIndex, chunks []model.IndexedChunk) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.creates++
	if _, ok := r.metas[idx.Fingerprint]; ok {
		return repository.ErrDuplicateIndex
	}
	r.metas[idx.Fingerprint] = idx
	r.rows[idx.Fingerprint] = chunks
	return nil
}

func textFnConst(text string) func(ctx context.Context) (string, error) {
	return func(ctx context.Context) (string, error) { return text, nil }
}

func TestGetOrBuildBuildsAndPersists(t *testing.T) {
	repo := newFakeIndexRepo()
	embedder := newFakeEmbedder()
	store := NewStore(repo, embedder, chunk.NewSplitter(20, 5), 8, 4, 1, nil)

	idx, err := store.GetOrBuild(context.Background(), "fp-1", textFnConst("alpha beta gamma delta epsilon zeta eta theta"))
	require.NoError(t, err)
	require.NotNil(t, idx)
	assert.Equal(t, "fp-1", idx.Fingerprint)
	assert.Equal(t, embedder.modelName, idx.EmbeddingModel)
	assert.Equal(t, embedder.dimension, idx.Dimension)
	assert.Greater(t, idx.ChunkCount(), 1)

	meta, rows, err := repo.GetIndex(context.Background(), "fp-1")
	require.NoError(t, err)
	require.NotNil(t, meta)
	assert.Equal(t, idx.ChunkCount(), meta.ChunkCount)
	assert.Len(t, rows, idx.ChunkCount())
}

func TestGetOrBuildSecondCallNeverReembeds(t *testing.T) {
	repo := newFakeIndexRepo()
	embedder := newFakeEmbedder()
	store := NewStore(repo, embedder, chunk.NewSplitter(20, 5), 8, 4, 1, nil)

	_, err := store.GetOrBuild(context.Background(), "fp-1", textFnConst("one two three four five six seven"))
	require.NoError(t, err)
	built := embedder.batchCalls.Load()
	require.Greater(t, built, int64(0))

	textCalled := false
	idx, err := store.GetOrBuild(context.Background(), "fp-1", func(ctx context.Context) (string, error) {
		textCalled = true
		return "", errors.New("must not be loaded again")
	})
	require.NoError(t, err)
	require.NotNil(t, idx)
	assert.False(t, textCalled, "document must not be fetched once an index exists")
	assert.Equal(t, built, embedder.batchCalls.Load())
	assert.Equal(t, 1, repo.creates)
}

func TestGetOrBuildReusesPersistedIndexAcrossStores(t *testing.T) {
	repo := newFakeIndexRepo()
	embedder := newFakeEmbedder()
	first := NewStore(repo, embedder, chunk.NewSplitter(20, 5), 8, 4, 1, nil)

	built, err := first.GetOrBuild(context.Background(), "fp-1", textFnConst("content addressed caching across processes"))
	require.NoError(t, err)

	// A fresh store with an empty in-memory cache simulates a restart.
	second := NewStore(repo, embedder, chunk.NewSplitter(20, 5), 8, 4, 1, nil)
	reloaded, err := second.GetOrBuild(context.Background(), "fp-1", func(ctx context.Context) (string, error) {
		return "", errors.New("must hydrate from storage")
	})
	require.NoError(t, err)
	require.Equal(t, built.ChunkCount(), reloaded.ChunkCount())
	assert.Equal(t, built.Dimension, reloaded.Dimension)
	for i := range built.Vectors {
		assert.Equal(t, built.Vectors[i].Chunk.Text, reloaded.Vectors[i].Chunk.Text)
		assert.Equal(t, built.Vectors[i].Vector, reloaded.Vectors[i].Vector)
	}
}

func TestGetOrBuildConcurrentCallersShareOneBuild(t *testing.T) {
	repo := newFakeIndexRepo()
	embedder := newFakeEmbedder()
	store := NewStore(repo, embedder, chunk.NewSplitter(1000, 200), 8, 64, 1, nil)

	var textLoads atomic.Int64
	textFn := func(ctx context.Context) (string, error) {
		textLoads.Add(1)
		return "the quick brown fox jumps over the lazy dog", nil
	}

	const callers = 16
	var wg sync.WaitGroup
	results := make([]*DocumentIndex, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = store.GetOrBuild(context.Background(), "fp-shared", textFn)
		}(i)
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		require.NotNil(t, results[i])
	}
	assert.Equal(t, int64(1), textLoads.Load())
	assert.Equal(t, 1, repo.creates)
	for i := 1; i < callers; i++ {
		assert.Same(t, results[0], results[i])
	}
}

func TestGetOrBuildRetriesTransientEmbedFailure(t *testing.T) {
	repo := newFakeIndexRepo()
	embedder := newFakeEmbedder()
	embedder.transientBatchFailures.Store(1)
	store := NewStore(repo, embedder, chunk.NewSplitter(1000, 200), 8, 64, 3, nil)

	idx, err := store.GetOrBuild(context.Background(), "fp-1", textFnConst("a rate limited provider must not fail the build"))
	require.NoError(t, err)
	assert.Greater(t, idx.ChunkCount(), 0)
	assert.Equal(t, int64(2), embedder.batchCalls.Load(), "one failed attempt plus one retry")

	meta, _, getErr := repo.GetIndex(context.Background(), "fp-1")
	require.NoError(t, getErr)
	assert.NotNil(t, meta)
}

func TestGetOrBuildEmbedFailurePersistsNothing(t *testing.T) {
	repo := newFakeIndexRepo()
	embedder := newFakeEmbedder()
	embedder.failBatch = errors.New("provider down")
	store := NewStore(repo, embedder, chunk.NewSplitter(20, 5), 8, 4, 1, nil)

	_, err := store.GetOrBuild(context.Background(), "fp-1", textFnConst("some document body that splits into chunks"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrIndexBuildFailed)

	meta, rows, getErr := repo.GetIndex(context.Background(), "fp-1")
	require.NoError(t, getErr)
	assert.Nil(t, meta)
	assert.Empty(t, rows)

	// The failed build must not poison the fingerprint.
	embedder.failBatch = nil
	idx, err := store.GetOrBuild(context.Background(), "fp-1", textFnConst("some document body that splits into chunks"))
	require.NoError(t, err)
	assert.Greater(t, idx.ChunkCount(), 0)
}

func TestGetOrBuildEmptyDocumentFails(t *testing.T) {
	store := NewStore(newFakeIndexRepo(), newFakeEmbedder(), chunk.NewSplitter(20, 5), 8, 4, 1, nil)

	_, err := store.GetOrBuild(context.Background(), "fp-1", textFnConst("   "))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrIndexBuildFailed)
}

func TestGetOrBuildDuplicateRaceReadsWinner(t *testing.T) {
	repo := newFakeIndexRepo()
	embedder := newFakeEmbedder()
	store := NewStore(repo, embedder, chunk.NewSplitter(20, 5), 8, 4, 1, nil)

	// Another process persisted the index between our existence check and
	// our create. Simulate by pre-seeding the repo through a second store
	// while forcing this store's build path with a racing textFn.
	other := NewStore(repo, embedder, chunk.NewSplitter(20, 5), 8, 4, 1, nil)
	racingTextFn := func(ctx context.Context) (string, error) {
		_, err := other.GetOrBuild(ctx, "fp-1", textFnConst("winner process document body text"))
		if err != nil {
			return "", err
		}
		return "winner process document body text", nil
	}

	idx, err := store.GetOrBuild(context.Background(), "fp-1", racingTextFn)
	require.NoError(t, err)
	require.NotNil(t, idx)
	assert.Equal(t, 2, repo.creates, "loser's create hits the unique key and re-reads")
}

func TestGetOrBuildModelMismatchFailsFast(t *testing.T) {
	repo := newFakeIndexRepo()
	builder := newFakeEmbedder()
	store := NewStore(repo, builder, chunk.NewSplitter(20, 5), 8, 4, 1, nil)
	_, err := store.GetOrBuild(context.Background(), "fp-1", textFnConst("document indexed under the original model"))
	require.NoError(t, err)

	swapped := newFakeEmbedder()
	swapped.modelName = "different-model"
	restarted := NewStore(repo, swapped, chunk.NewSplitter(20, 5), 8, 4, 1, nil)

	_, err = restarted.GetOrBuild(context.Background(), "fp-1", textFnConst("document indexed under the original model"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrModelMismatch)
	assert.Contains(t, err.Error(), "different-model")
}

func TestGetOrBuildPropagatesLoaderError(t *testing.T) {
	store := NewStore(newFakeIndexRepo(), newFakeEmbedder(), chunk.NewSplitter(20, 5), 8, 4, 1, nil)

	loadErr := fmt.Errorf("object fetch failed")
	_, err := store.GetOrBuild(context.Background(), "fp-1", func(ctx context.Context) (string, error) {
		return "", loadErr
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, loadErr)
	assert.NotErrorIs(t, err, ErrIndexBuildFailed)
}
