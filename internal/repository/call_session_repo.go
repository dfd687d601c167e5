package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/dialverse/call-gateway/internal/domain"
	"gorm.io/gorm"
)

// CallSessionRepository handles database operations for call sessions. It
// satisfies the registry's Store interface: lookups return (nil, nil) when no
// row matches.
type CallSessionRepository struct {
	db *gorm.DB
}

// NewCallSessionRepository creates a new call session repository
func NewCallSessionRepository(db *gorm.DB) *CallSessionRepository {
	return &CallSessionRepository{db: db}
}

// SaveCallSession inserts or updates a call session by primary key.
func (r *CallSessionRepository) SaveCallSession(ctx context.Context, s *domain.CallSession) error {
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now()
	}
	s.UpdatedAt = time.Now()

	if err := r.db.WithContext(ctx).Save(s).Error; err != nil {
		return fmt.Errorf("failed to save call session: %w", err)
	}
	return nil
}

// GetCallSession retrieves a call session by internal call id.
func (r *CallSessionRepository) GetCallSession(ctx context.Context, callID string) (*domain.CallSession, error) {
	return r.getWhere(ctx, "call_id = ?", callID)
}

// GetCallSessionByProviderSessionID retrieves a call session by provider session id.
func (r *CallSessionRepository) GetCallSessionByProviderSessionID(ctx context.Context, sessionID string) (*domain.CallSession, error) {
	return r.getWhere(ctx, "provider_session_id = ?", sessionID)
}

// GetCallSessionByProviderControlID retrieves a call session by any of its
// legs' control ids.
func (r *CallSessionRepository) GetCallSessionByProviderControlID(ctx context.Context, controlID string) (*domain.CallSession, error) {
	s, err := r.getWhere(ctx, "provider_control_id = ?", controlID)
	if err != nil || s != nil {
		return s, err
	}
	// Secondary legs live in the serialized control_ids column.
	return r.getWhere(ctx, "control_ids::text LIKE ?", "%"+controlID+"%")
}

func (r *CallSessionRepository) getWhere(ctx context.Context, query string, args ...interface{}) (*domain.CallSession, error) {
	var s domain.CallSession
	if err := r.db.WithContext(ctx).Where(query, args...).First(&s).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get call session: %w", err)
	}
	return &s, nil
}

// ListFilter narrows List results. Zero values mean no constraint.
type ListFilter struct {
	Status    domain.CallStatus
	Direction domain.CallDirection
	Number    string
	Since     time.Time
	Until     time.Time
	Limit     int
	Offset    int
}

// List returns call sessions matching the filter, newest first.
func (r *CallSessionRepository) List(ctx context.Context, filter ListFilter) ([]*domain.CallSession, error) {
	query := r.db.WithContext(ctx).Model(&domain.CallSession{})

	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.Direction != "" {
		query = query.Where("direction = ?", filter.Direction)
	}
	if filter.Number != "" {
		query = query.Where("from_number = ? OR to_number = ?", filter.Number, filter.Number)
	}
	if !filter.Since.IsZero() {
		query = query.Where("created_at >= ?", filter.Since)
	}
	if !filter.Until.IsZero() {
		query = query.Where("created_at <= ?", filter.Until)
	}

	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	query = query.Order("created_at DESC").Limit(limit).Offset(filter.Offset)

	var sessions []*domain.CallSession
	if err := query.Find(&sessions).Error; err != nil {
		return nil, fmt.Errorf("failed to list call sessions: %w", err)
	}
	return sessions, nil
}

// ListActive returns every session in a non-terminal status.
func (r *CallSessionRepository) ListActive(ctx context.Context) ([]*domain.CallSession, error) {
	var sessions []*domain.CallSession
	if err := r.db.WithContext(ctx).
		Where("status IN ?", []domain.CallStatus{
			domain.StatusDialing, domain.StatusRinging, domain.StatusActive, domain.StatusOnHold,
		}).
		Order("created_at DESC").
		Find(&sessions).Error; err != nil {
		return nil, fmt.Errorf("failed to list active call sessions: %w", err)
	}
	return sessions, nil
}

// UpdateNotes updates the operator-owned notes and tags for a call.
func (r *CallSessionRepository) UpdateNotes(ctx context.Context, callID, notes string, tags domain.StringList) error {
	updates := map[string]interface{}{
		"notes":      notes,
		"updated_at": time.Now(),
	}
	if tags != nil {
		updates["tags"] = tags
	}
	result := r.db.WithContext(ctx).Model(&domain.CallSession{}).Where("call_id = ?", callID).Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("failed to update call notes: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// Delete removes a call session by internal call id.
func (r *CallSessionRepository) Delete(ctx context.Context, callID string) error {
	result := r.db.WithContext(ctx).Where("call_id = ?", callID).Delete(&domain.CallSession{})
	if result.Error != nil {
		return fmt.Errorf("failed to delete call session: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
