package repository

import (
	"context"
	"sync"

	"github.com/dialverse/call-gateway/internal/domain"
)

// MemoryStore is an in-memory call session store. It backs the registry in
// tests and in DB-less development mode.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*domain.CallSession
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]*domain.CallSession)}
}

// SaveCallSession stores a copy of the session.
func (m *MemoryStore) SaveCallSession(ctx context.Context, s *domain.CallSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.CallID] = copySession(s)
	return nil
}

// GetCallSession returns the session with the given call id, or nil.
func (m *MemoryStore) GetCallSession(ctx context.Context, callID string) (*domain.CallSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if s, ok := m.sessions[callID]; ok {
		return copySession(s), nil
	}
	return nil, nil
}

// GetCallSessionByProviderSessionID returns the matching session, or nil.
func (m *MemoryStore) GetCallSessionByProviderSessionID(ctx context.Context, sessionID string) (*domain.CallSession, error) {
	return m.find(func(s *domain.CallSession) bool {
		return s.ProviderSessionID == sessionID
	})
}

// GetCallSessionByProviderControlID returns the matching session, or nil.
func (m *MemoryStore) GetCallSessionByProviderControlID(ctx context.Context, controlID string) (*domain.CallSession, error) {
	return m.find(func(s *domain.CallSession) bool {
		return s.HasControlID(controlID)
	})
}

// All returns a copy of every stored session.
func (m *MemoryStore) All() []*domain.CallSession {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*domain.CallSession, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, copySession(s))
	}
	return out
}

func (m *MemoryStore) find(match func(*domain.CallSession) bool) (*domain.CallSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range m.sessions {
		if match(s) {
			return copySession(s), nil
		}
	}
	return nil, nil
}

func copySession(s *domain.CallSession) *domain.CallSession {
	cp := *s
	cp.ControlIDs = append(domain.StringList{}, s.ControlIDs...)
	cp.Tags = append(domain.StringList{}, s.Tags...)
	return &cp
}
