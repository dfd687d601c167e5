package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/dialverse/call-gateway/internal/domain"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// RecordingRepository handles database operations for saved call recordings
type RecordingRepository struct {
	db *gorm.DB
}

// NewRecordingRepository creates a new recording repository
func NewRecordingRepository(db *gorm.DB) *RecordingRepository {
	return &RecordingRepository{db: db}
}

// Upsert stores recording metadata for a call. A redelivered recording.saved
// event updates the existing row instead of duplicating it.
func (r *RecordingRepository) Upsert(ctx context.Context, rec *domain.Recording) error {
	existing, err := r.GetByCallID(ctx, rec.CallID)
	if err != nil {
		return err
	}
	if existing != nil {
		rec.ID = existing.ID
		rec.CreatedAt = existing.CreatedAt
		if err := r.db.WithContext(ctx).Save(rec).Error; err != nil {
			return fmt.Errorf("failed to update recording: %w", err)
		}
		return nil
	}

	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	if err := r.db.WithContext(ctx).Create(rec).Error; err != nil {
		return fmt.Errorf("failed to create recording: %w", err)
	}
	return nil
}

// GetByCallID retrieves the recording for a call, or nil.
func (r *RecordingRepository) GetByCallID(ctx context.Context, callID string) (*domain.Recording, error) {
	var rec domain.Recording
	if err := r.db.WithContext(ctx).Where("call_id = ?", callID).First(&rec).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get recording: %w", err)
	}
	return &rec, nil
}

// List returns recordings newest first.
func (r *RecordingRepository) List(ctx context.Context, limit, offset int) ([]*domain.Recording, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var recs []*domain.Recording
	if err := r.db.WithContext(ctx).
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("failed to list recordings: %w", err)
	}
	return recs, nil
}

// DeleteByCallID removes the recording row for a call.
func (r *RecordingRepository) DeleteByCallID(ctx context.Context, callID string) error {
	result := r.db.WithContext(ctx).Where("call_id = ?", callID).Delete(&domain.Recording{})
	if result.Error != nil {
		return fmt.Errorf("failed to delete recording: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
