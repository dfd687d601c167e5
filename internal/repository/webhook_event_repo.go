package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/dialverse/call-gateway/internal/domain"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// WebhookEventRepository archives every received provider webhook, matched to
// a session or not.
type WebhookEventRepository struct {
	db *gorm.DB
}

// NewWebhookEventRepository creates a new webhook event repository
func NewWebhookEventRepository(db *gorm.DB) *WebhookEventRepository {
	return &WebhookEventRepository{db: db}
}

// Archive stores one received webhook event.
func (r *WebhookEventRepository) Archive(ctx context.Context, rec *domain.WebhookRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.ReceivedAt.IsZero() {
		rec.ReceivedAt = time.Now()
	}

	if err := r.db.WithContext(ctx).Create(rec).Error; err != nil {
		return fmt.Errorf("failed to archive webhook event: %w", err)
	}
	return nil
}

// ListByCall returns the archived events for one call, oldest first.
func (r *WebhookEventRepository) ListByCall(ctx context.Context, callID string) ([]*domain.WebhookRecord, error) {
	var records []*domain.WebhookRecord
	if err := r.db.WithContext(ctx).
		Where("call_id = ?", callID).
		Order("received_at ASC").
		Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to list webhook events: %w", err)
	}
	return records, nil
}

// EventTypeCount is one row of the per-type archive statistics.
type EventTypeCount struct {
	EventType string `json:"event_type"`
	Count     int64  `json:"count"`
}

// Stats returns archive counts grouped by event type since the given time.
func (r *WebhookEventRepository) Stats(ctx context.Context, since time.Time) ([]EventTypeCount, error) {
	var counts []EventTypeCount
	query := r.db.WithContext(ctx).Model(&domain.WebhookRecord{}).
		Select("event_type, COUNT(*) as count").
		Group("event_type").
		Order("count DESC")
	if !since.IsZero() {
		query = query.Where("received_at >= ?", since)
	}
	if err := query.Scan(&counts).Error; err != nil {
		return nil, fmt.Errorf("failed to compute webhook stats: %w", err)
	}
	return counts, nil
}

// PruneBefore deletes archived events older than the cutoff and returns how
// many rows were removed.
func (r *WebhookEventRepository) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("received_at < ?", cutoff).
		Delete(&domain.WebhookRecord{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to prune webhook events: %w", result.Error)
	}
	return result.RowsAffected, nil
}
