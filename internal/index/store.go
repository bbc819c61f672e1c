package index

import (
	"context"
	"errors"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"pdfchat/internal/ai"
	"pdfchat/internal/chunk"
	"pdfchat/internal/model"
	"pdfchat/internal/pkg/retry"
	"pdfchat/internal/repository"
)

const (
	DefaultEmbedBatchSize = 16
	DefaultIndexCacheSize = 64

	embedBatchParallelism = 4
)

// Embedder is the slice of the model client the store needs.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	EmbeddingModelName() string
}

// Repository is the persistence contract: existence-check + read, and an
// atomic create that fails with repository.ErrDuplicateIndex when another
// writer got there first.
type Repository interface {
	GetIndex(ctx context.Context, fp string) (*model.DocumentIndex, []model.IndexedChunk, error)
	CreateIndex(ctx context.Context, idx *model.DocumentIndex, chunks []model.IndexedChunk) error
}

// Store hands out DocumentIndex values by fingerprint with build-once
// semantics: a persisted index is reused without any embedding call, and
// concurrent first requests for one fingerprint share a single build.
type Store struct {
	repo     Repository
	embedder Embedder
	splitter *chunk.Splitter
	logger   *zap.Logger

	batchSize  int
	maxRetries int
	group      singleflight.Group
	cache      *lru.Cache[string, *DocumentIndex]
}

func NewStore(repo Repository, embedder Embedder, splitter *chunk.Splitter, cacheSize, batchSize, maxRetries int, logger *zap.Logger) *Store {
	if cacheSize <= 0 {
		cacheSize = DefaultIndexCacheSize
	}
	if batchSize <= 0 {
		batchSize = DefaultEmbedBatchSize
	}
	if maxRetries <= 0 {
		maxRetries = retry.DefaultAttempts
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cache, _ := lru.New[string, *DocumentIndex](cacheSize)
	return &Store{
		repo:       repo,
		embedder:   embedder,
		splitter:   splitter,
		logger:     logger,
		batchSize:  batchSize,
		maxRetries: maxRetries,
		cache:      cache,
	}
}

// GetOrBuild returns the index for fp, building and persisting it first if
// no persisted copy exists. textFn is only invoked when a build is needed.
func (s *Store) GetOrBuild(ctx context.Context, fp string, textFn func(ctx context.Context) (string, error)) (*DocumentIndex, error) {
	if cached, ok := s.cache.Get(fp); ok {
		return cached, nil
	}

	v, err, _ := s.group.Do(fp, func() (interface{}, error) {
		if cached, ok := s.cache.Get(fp); ok {
			return cached, nil
		}
		if idx, err := s.loadPersisted(ctx, fp); err != nil || idx != nil {
			return idx, err
		}
		return s.build(ctx, fp, textFn)
	})
	if err != nil {
		return nil, err
	}
	return v.(*DocumentIndex), nil
}

// loadPersisted returns the hydrated index for fp, or nil when no
// non-empty persisted index exists.
func (s *Store) loadPersisted(ctx context.Context, fp string) (*DocumentIndex, error) {
	meta, rows, err := s.repo.GetIndex(ctx, fp)
	if err != nil {
		return nil, fmt.Errorf("load persisted index failed: %w", err)
	}
	if meta == nil || len(rows) == 0 {
		return nil, nil
	}
	if meta.EmbeddingModel != s.embedder.EmbeddingModelName() {
		return nil, fmt.Errorf("%w: index built with %q, configured model is %q",
			ErrModelMismatch, meta.EmbeddingModel, s.embedder.EmbeddingModelName())
	}

	idx := &DocumentIndex{
		Fingerprint:    fp,
		EmbeddingModel: meta.EmbeddingModel,
		Dimension:      meta.Dimension,
		CreatedAt:      meta.CreatedAt,
		Vectors:        make([]IndexedVector, 0, len(rows)),
	}
	for i := range rows {
		idx.Vectors = append(idx.Vectors, IndexedVector{
			Chunk: chunk.Chunk{
				Text:        rows[i].Content,
				Ordinal:     rows[i].Ordinal,
				Fingerprint: fp,
			},
			Vector:    rows[i].EmbeddingVector(),
			Dimension: meta.Dimension,
		})
	}
	s.cache.Add(fp, idx)
	s.logger.Debug("index loaded from storage",
		zap.String("fingerprint", fp), zap.Int("chunks", len(rows)))
	return idx, nil
}

func (s *Store) build(ctx context.Context, fp string, textFn func(ctx context.Context) (string, error)) (*DocumentIndex, error) {
	var text string
	err := retry.Do(ctx, s.maxRetries, retry.DefaultBaseDelay, ai.IsTransient, func() error {
		var loadErr error
		text, loadErr = textFn(ctx)
		return loadErr
	})
	if err != nil {
		return nil, err
	}

	chunks := s.splitter.Split(text, fp)
	if len(chunks) == 0 {
		return nil, fmt.Errorf("%w: document produced no chunks", ErrIndexBuildFailed)
	}

	vectors, err := s.embedChunks(ctx, chunks)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrIndexBuildFailed, err)
	}

	dimension := len(vectors[0])
	for i := range vectors {
		if len(vectors[i]) != dimension {
			return nil, fmt.Errorf("%w: inconsistent embedding dimension", ErrIndexBuildFailed)
		}
	}

	idx := &DocumentIndex{
		Fingerprint:    fp,
		EmbeddingModel: s.embedder.EmbeddingModelName(),
		Dimension:      dimension,
		CreatedAt:      time.Now(),
		Vectors:        make([]IndexedVector, len(chunks)),
	}
	rows := make([]model.IndexedChunk, len(chunks))
	for i := range chunks {
		idx.Vectors[i] = IndexedVector{Chunk: chunks[i], Vector: vectors[i], Dimension: dimension}
		rows[i] = model.IndexedChunk{
			Fingerprint: fp,
			Ordinal:     chunks[i].Ordinal,
			Content:     chunks[i].Text,
		}
		rows[i].SetEmbedding(vectors[i])
	}
	meta := &model.DocumentIndex{
		Fingerprint:    fp,
		EmbeddingModel: idx.EmbeddingModel,
		Dimension:      dimension,
		ChunkCount:     len(chunks),
		CreatedAt:      idx.CreatedAt,
	}

	if err := s.repo.CreateIndex(ctx, meta, rows); err != nil {
		if errors.Is(err, repository.ErrDuplicateIndex) {
			// Another process won the build race; its copy is the index.
			if existing, loadErr := s.loadPersisted(ctx, fp); loadErr == nil && existing != nil {
				return existing, nil
			}
		}
		return nil, fmt.Errorf("%w: persist: %w", ErrIndexBuildFailed, err)
	}

	s.cache.Add(fp, idx)
	s.logger.Info("index built",
		zap.String("fingerprint", fp),
		zap.Int("chunks", len(chunks)),
		zap.Int("dimension", dimension),
		zap.String("embedding_model", idx.EmbeddingModel))
	return idx, nil
}

// embedChunks embeds all chunk texts in provider-sized batches, a few
// batches in flight at a time. Transient provider failures are retried
// per batch. Output order matches chunk order.
func (s *Store) embedChunks(ctx context.Context, chunks []chunk.Chunk) ([][]float32, error) {
	vectors := make([][]float32, len(chunks))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(embedBatchParallelism)
	for start := 0; start < len(chunks); start += s.batchSize {
		start := start
		end := start + s.batchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		g.Go(func() error {
			texts := make([]string, 0, end-start)
			for _, c := range chunks[start:end] {
				texts = append(texts, c.Text)
			}
			var batch [][]float32
			err := retry.Do(gctx, s.maxRetries, retry.DefaultBaseDelay, ai.IsTransient, func() error {
				var embedErr error
				batch, embedErr = s.embedder.EmbedBatch(gctx, texts)
				return embedErr
			})
			if err != nil {
				return err
			}
			copy(vectors[start:end], batch)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return vectors, nil
}
