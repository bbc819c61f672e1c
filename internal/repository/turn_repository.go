package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"pdfchat/internal/model"
)

type TurnRepository struct {
	db *gorm.DB
}

func NewTurnRepository(db *gorm.DB) *TurnRepository {
	return &TurnRepository{db: db}
}

func (r *TurnRepository) Create(ctx context.Context, turn *model.Turn) error {
	if err := r.db.WithContext(ctx).Create(turn).Error; err != nil {
		return fmt.Errorf("create turn failed: %w", err)
	}
	return nil
}

func (r *TurnRepository) ListBySessionID(ctx context.Context, sessionID string, limit int) ([]model.Turn, error) {
	if limit <= 0 || limit > 200 {
		limit = 100
	}
	var turns []model.Turn
	if err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("created_at ASC").
		Limit(limit).
		Find(&turns).Error; err != nil {
		return nil, fmt.Errorf("list turns failed: %w", err)
	}
	return turns, nil
}
