package repository

import (
	"context"

	"gorm.io/gorm"
)

// RepositoryManager combines all repositories
type RepositoryManager interface {
	CallSession() *CallSessionRepository
	WebhookEvent() *WebhookEventRepository
	Recording() *RecordingRepository

	// Health check
	Ping(ctx context.Context) error

	// Close connection
	Close() error
}

// GormRepositoryManager implements RepositoryManager using GORM
type GormRepositoryManager struct {
	db              *gorm.DB
	callSessionRepo *CallSessionRepository
	webhookRepo     *WebhookEventRepository
	recordingRepo   *RecordingRepository
}

// NewGormRepositoryManager creates a new GORM repository manager
func NewGormRepositoryManager(db *gorm.DB) *GormRepositoryManager {
	return &GormRepositoryManager{
		db:              db,
		callSessionRepo: NewCallSessionRepository(db),
		webhookRepo:     NewWebhookEventRepository(db),
		recordingRepo:   NewRecordingRepository(db),
	}
}

// CallSession returns the call session repository
func (m *GormRepositoryManager) CallSession() *CallSessionRepository {
	return m.callSessionRepo
}

// WebhookEvent returns the webhook event repository
func (m *GormRepositoryManager) WebhookEvent() *WebhookEventRepository {
	return m.webhookRepo
}

// Recording returns the recording repository
func (m *GormRepositoryManager) Recording() *RecordingRepository {
	return m.recordingRepo
}

// Ping checks the database connection
func (m *GormRepositoryManager) Ping(ctx context.Context) error {
	sqlDB, err := m.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close closes the database connection
func (m *GormRepositoryManager) Close() error {
	sqlDB, err := m.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
