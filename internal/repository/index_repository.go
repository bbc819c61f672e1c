package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"pdfchat/internal/model"
)

// ErrDuplicateIndex signals that an index for the fingerprint already
// exists; callers resolve the race by re-reading.
var ErrDuplicateIndex = errors.New("index already exists for fingerprint")

type IndexRepository struct {
	db *gorm.DB
}

func NewIndexRepository(db *gorm.DB) *IndexRepository {
	return &IndexRepository{db: db}
}

// GetIndex returns the metadata row and chunk rows for fp, ordered by
// ordinal. Absent index yields (nil, nil, nil).
func (r *IndexRepository) GetIndex(ctx context.Context, fp string) (*model.DocumentIndex, []model.IndexedChunk, error) {
	var meta model.DocumentIndex
	if err := r.db.WithContext(ctx).Where("fingerprint = ?", fp).First(&meta).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, nil
		}
		return nil, nil, fmt.Errorf("get document index failed: %w", err)
	}

	var chunks []model.IndexedChunk
	if err := r.db.WithContext(ctx).
		Where("fingerprint = ?", fp).
		Order("ordinal ASC").
		Find(&chunks).Error; err != nil {
		return nil, nil, fmt.Errorf("list indexed chunks failed: %w", err)
	}
	return &meta, chunks, nil
}

// CreateIndex writes the metadata row and all chunk rows in one
// transaction, so a failed build leaves nothing visible. The unique index
// on fingerprint turns a cross-process build race into ErrDuplicateIndex.
func (r *IndexRepository) CreateIndex(ctx context.Context, idx *model.DocumentIndex, chunks []model.IndexedChunk) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(idx).Error; err != nil {
			return err
		}
		if len(chunks) > 0 {
			if err := tx.CreateInBatches(chunks, 100).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrDuplicateIndex
		}
		return fmt.Errorf("create document index failed: %w", err)
	}
	return nil
}
