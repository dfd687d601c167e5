package registry

import (
	"context"
	"sync"
	"testing"

	"github.com/dialverse/call-gateway/internal/core/event"
	"github.com/dialverse/call-gateway/internal/domain"
	"github.com/dialverse/call-gateway/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(t *testing.T) (*Registry, *repository.MemoryStore) {
	t.Helper()
	store := repository.NewMemoryStore()
	return New(store), store
}

func TestCreateOutbound(t *testing.T) {
	r, store := newTestRegistry(t)

	s, err := r.Create(context.Background(), domain.DirectionOutbound, "+1555000", "+1555111", CreateIDs{})
	require.NoError(t, err)
	assert.NotEmpty(t, s.CallID)
	assert.Equal(t, domain.StatusDialing, s.Status)
	require.NotNil(t, s.StartedAt)

	stored, err := store.GetCallSession(context.Background(), s.CallID)
	require.NoError(t, err)
	require.NotNil(t, stored)
}

func TestCreateInboundStartsRinging(t *testing.T) {
	r, _ := newTestRegistry(t)

	s, err := r.Create(context.Background(), domain.DirectionInbound, "+1555000", "+1555111", CreateIDs{
		ProviderSessionID: "sess-1",
		ProviderControlID: "ctrl-1",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRinging, s.Status)
	assert.Equal(t, "sess-1", s.ProviderSessionID)
	assert.True(t, s.HasControlID("ctrl-1"))
}

func TestResolvePriority(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()

	s, err := r.Create(ctx, domain.DirectionOutbound, "+1", "+2", CreateIDs{})
	require.NoError(t, err)

	// Before any provider id is known, only the correlation token matches.
	got, err := r.Resolve(ctx, event.Answered{Refs: event.Refs{
		ProviderSessionID: "sess-9",
		ProviderControlID: "ctrl-9",
		CorrelationID:     s.CallID,
	}})
	require.NoError(t, err)
	assert.Equal(t, s.CallID, got.CallID)

	// The token match taught the registry the provider ids.
	got, err = r.Resolve(ctx, event.Ended{Refs: event.Refs{ProviderSessionID: "sess-9"}})
	require.NoError(t, err)
	assert.Equal(t, s.CallID, got.CallID)

	got, err = r.Resolve(ctx, event.Ended{Refs: event.Refs{ProviderControlID: "ctrl-9"}})
	require.NoError(t, err)
	assert.Equal(t, s.CallID, got.CallID)
}

func TestResolveUnknownReturnsNotFound(t *testing.T) {
	r, _ := newTestRegistry(t)

	_, err := r.Resolve(context.Background(), event.Ended{Refs: event.Refs{
		ProviderSessionID: "missing",
		ProviderControlID: "missing",
		CorrelationID:     "missing",
	}})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateUnknownReturnsNotFound(t *testing.T) {
	r, _ := newTestRegistry(t)

	_, err := r.Update(context.Background(), "missing", func(s *domain.CallSession) error { return nil })
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateLoadsFromStore(t *testing.T) {
	store := repository.NewMemoryStore()
	require.NoError(t, store.SaveCallSession(context.Background(), &domain.CallSession{
		CallID: "persisted",
		Status: domain.StatusActive,
	}))
	r := New(store)

	got, err := r.Update(context.Background(), "persisted", func(s *domain.CallSession) error {
		s.Notes = "loaded"
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "loaded", got.Notes)
}

func TestConcurrentUpdatesSameCallSerialize(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()

	s, err := r.Create(ctx, domain.DirectionOutbound, "+1", "+2", CreateIDs{})
	require.NoError(t, err)

	const n = 50
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			_, uerr := r.Update(ctx, s.CallID, func(cs *domain.CallSession) error {
				cs.Duration++
				return nil
			})
			assert.NoError(t, uerr)
		}()
	}
	wg.Wait()

	got, err := r.Get(ctx, s.CallID)
	require.NoError(t, err)
	assert.Equal(t, n, got.Duration)
}

func TestConcurrentReadsDuringUpdates(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()

	s, err := r.Create(ctx, domain.DirectionOutbound, "+1", "+2", CreateIDs{ProviderSessionID: "sess-1"})
	require.NoError(t, err)

	// Readers racing writers on the same call id, as when the auto-hangup
	// timer inspects a session mid-webhook.
	const n = 50
	var wg sync.WaitGroup
	wg.Add(3 * n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			_, uerr := r.Update(ctx, s.CallID, func(cs *domain.CallSession) error {
				cs.Duration++
				cs.Notes = "touched"
				return nil
			})
			assert.NoError(t, uerr)
		}()
		go func() {
			defer wg.Done()
			got, gerr := r.Get(ctx, s.CallID)
			if assert.NoError(t, gerr) {
				assert.Equal(t, s.CallID, got.CallID)
			}
		}()
		go func() {
			defer wg.Done()
			_, rerr := r.Resolve(ctx, event.Ended{Refs: event.Refs{ProviderSessionID: "sess-1"}})
			assert.NoError(t, rerr)
		}()
	}
	wg.Wait()

	got, err := r.Get(ctx, s.CallID)
	require.NoError(t, err)
	assert.Equal(t, n, got.Duration)
}

func TestSnapshotsDoNotAlias(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()

	s, err := r.Create(ctx, domain.DirectionOutbound, "+1", "+2", CreateIDs{ProviderControlID: "ctrl-1"})
	require.NoError(t, err)

	s.ControlIDs = append(s.ControlIDs, "mutated")
	s.Status = domain.StatusFailed

	got, err := r.Get(ctx, s.CallID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDialing, got.Status)
	assert.False(t, got.HasControlID("mutated"))
}
