package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dialverse/call-gateway/internal/core/event"
	"github.com/dialverse/call-gateway/internal/domain"
	"github.com/google/uuid"
)

// ErrNotFound means no session matched the given identifiers. Webhook callers
// treat it as archive-and-ignore, not as a failure.
var ErrNotFound = errors.New("call session not found")

// Store is the durable backing for call sessions. The GORM repository and the
// in-memory test store both satisfy it.
type Store interface {
	SaveCallSession(ctx context.Context, s *domain.CallSession) error
	GetCallSession(ctx context.Context, callID string) (*domain.CallSession, error)
	GetCallSessionByProviderSessionID(ctx context.Context, sessionID string) (*domain.CallSession, error)
	GetCallSessionByProviderControlID(ctx context.Context, controlID string) (*domain.CallSession, error)
}

// Registry is the authoritative map from identifiers to call sessions. The
// read-modify-write cycle for a given call id is serialized by a per-key
// lock; the fields of cached sessions are only touched under mu, so readers
// never observe a half-applied mutation.
type Registry struct {
	store Store
	now   func() time.Time

	mu    sync.Mutex
	locks map[string]*callLock
	// cache holds sessions touched by this process so webhook bursts do not
	// round-trip the store for every event.
	cache map[string]*domain.CallSession
}

type callLock struct {
	mu   sync.Mutex
	refs int
}

// New creates a registry over the given store.
func New(store Store) *Registry {
	return &Registry{
		store: store,
		now:   time.Now,
		locks: make(map[string]*callLock),
		cache: make(map[string]*domain.CallSession),
	}
}

// lock acquires the per-call-id lock.
func (r *Registry) lock(callID string) func() {
	r.mu.Lock()
	l, ok := r.locks[callID]
	if !ok {
		l = &callLock{}
		r.locks[callID] = l
	}
	l.refs++
	r.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		r.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(r.locks, callID)
		}
		r.mu.Unlock()
	}
}

// Create makes a new session. Outbound sessions start as dialing placeholders
// before the provider has confirmed; inbound sessions are created ringing
// from the first call.initiated event.
func (r *Registry) Create(ctx context.Context, direction domain.CallDirection, from, to string, ids CreateIDs) (*domain.CallSession, error) {
	now := r.now()

	status := domain.StatusDialing
	if direction == domain.DirectionInbound {
		status = domain.StatusRinging
	}

	s := &domain.CallSession{
		CallID:            uuid.New().String(),
		ProviderSessionID: ids.ProviderSessionID,
		Direction:         direction,
		FromNumber:        from,
		ToNumber:          to,
		Status:            status,
		StartedAt:         &now,
		Tags:              domain.StringList{},
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	s.AddControlID(ids.ProviderControlID)

	unlock := r.lock(s.CallID)
	defer unlock()

	if err := r.store.SaveCallSession(ctx, s); err != nil {
		return nil, fmt.Errorf("persist new call session: %w", err)
	}

	r.mu.Lock()
	r.cache[s.CallID] = s
	cp := snapshot(s)
	r.mu.Unlock()

	return cp, nil
}

// CreateIDs are the provider identifiers known at session creation, if any.
type CreateIDs struct {
	ProviderSessionID string
	ProviderControlID string
}

// Resolve finds the session an event belongs to. Match priority: provider
// session id, then control id, then the decoded correlation token. On a
// token-only match the provider ids are learned so subsequent events resolve
// directly.
func (r *Registry) Resolve(ctx context.Context, ev event.Event) (*domain.CallSession, error) {
	refs := ev.Meta()

	if refs.ProviderSessionID != "" {
		if callID, err := r.findBy(ctx, func(s *domain.CallSession) bool {
			return s.ProviderSessionID == refs.ProviderSessionID
		}, func() (*domain.CallSession, error) {
			return r.store.GetCallSessionByProviderSessionID(ctx, refs.ProviderSessionID)
		}); err == nil {
			return r.learnIDs(ctx, callID, refs)
		}
	}

	if refs.ProviderControlID != "" {
		if callID, err := r.findBy(ctx, func(s *domain.CallSession) bool {
			return s.HasControlID(refs.ProviderControlID)
		}, func() (*domain.CallSession, error) {
			return r.store.GetCallSessionByProviderControlID(ctx, refs.ProviderControlID)
		}); err == nil {
			return r.learnIDs(ctx, callID, refs)
		}
	}

	if refs.CorrelationID != "" {
		if _, err := r.Get(ctx, refs.CorrelationID); err == nil {
			return r.learnIDs(ctx, refs.CorrelationID, refs)
		}
	}

	return nil, ErrNotFound
}

// learnIDs persists any provider identifiers the session did not know yet.
func (r *Registry) learnIDs(ctx context.Context, callID string, refs event.Refs) (*domain.CallSession, error) {
	return r.Update(ctx, callID, func(s *domain.CallSession) error {
		if s.ProviderSessionID == "" && refs.ProviderSessionID != "" {
			s.ProviderSessionID = refs.ProviderSessionID
		}
		s.AddControlID(refs.ProviderControlID)
		return nil
	})
}

// findBy checks the local cache first, then falls back to the store. It
// returns the matched call id; the match functions run under mu so they can
// read session fields safely.
func (r *Registry) findBy(ctx context.Context, match func(*domain.CallSession) bool, fetch func() (*domain.CallSession, error)) (string, error) {
	r.mu.Lock()
	for _, s := range r.cache {
		if match(s) {
			r.mu.Unlock()
			return s.CallID, nil
		}
	}
	r.mu.Unlock()

	s, err := fetch()
	if err != nil {
		return "", err
	}
	if s == nil {
		return "", ErrNotFound
	}

	r.mu.Lock()
	if _, ok := r.cache[s.CallID]; !ok {
		r.cache[s.CallID] = s
	}
	r.mu.Unlock()
	return s.CallID, nil
}

// Get returns a snapshot of the session with the given internal call id. The
// copy is taken under mu so a concurrent Update cannot be observed mid-write.
func (r *Registry) Get(ctx context.Context, callID string) (*domain.CallSession, error) {
	r.mu.Lock()
	if s, ok := r.cache[callID]; ok {
		cp := snapshot(s)
		r.mu.Unlock()
		return cp, nil
	}
	r.mu.Unlock()

	s, err := r.store.GetCallSession(ctx, callID)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, ErrNotFound
	}

	r.mu.Lock()
	if cached, ok := r.cache[callID]; ok {
		s = cached
	} else {
		r.cache[callID] = s
	}
	cp := snapshot(s)
	r.mu.Unlock()
	return cp, nil
}

// Update runs an atomic read-modify-write on one session. Concurrent updates
// to the same call id are serialized; different call ids proceed
// independently. The mutation runs against the live record under mu, so
// concurrent Get/Resolve callers only ever see it before or after the whole
// mutation. The returned session is a snapshot.
func (r *Registry) Update(ctx context.Context, callID string, mutate func(*domain.CallSession) error) (*domain.CallSession, error) {
	unlock := r.lock(callID)
	defer unlock()

	r.mu.Lock()
	s, ok := r.cache[callID]
	r.mu.Unlock()

	if !ok {
		loaded, err := r.store.GetCallSession(ctx, callID)
		if err != nil {
			return nil, err
		}
		if loaded == nil {
			return nil, ErrNotFound
		}
		r.mu.Lock()
		if cached, exists := r.cache[callID]; exists {
			loaded = cached
		} else {
			r.cache[callID] = loaded
		}
		r.mu.Unlock()
		s = loaded
	}

	r.mu.Lock()
	if err := mutate(s); err != nil {
		r.mu.Unlock()
		return nil, err
	}
	s.UpdatedAt = r.now()
	cp := snapshot(s)
	r.mu.Unlock()

	// Persist the snapshot: the store must not read the live record outside mu.
	if err := r.store.SaveCallSession(ctx, cp); err != nil {
		return nil, fmt.Errorf("persist call session %s: %w", callID, err)
	}
	return cp, nil
}

// SetNow overrides the registry clock, for tests.
func (r *Registry) SetNow(now func() time.Time) {
	r.now = now
}

// snapshot copies a session so callers cannot race with later mutations of
// the cached record. Callers must hold mu.
func snapshot(s *domain.CallSession) *domain.CallSession {
	cp := *s
	cp.ControlIDs = append(domain.StringList{}, s.ControlIDs...)
	cp.Tags = append(domain.StringList{}, s.Tags...)
	return &cp
}
