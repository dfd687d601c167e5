package handler

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/dialverse/call-gateway/internal/core/conference"
	"github.com/dialverse/call-gateway/internal/core/notify"
	"github.com/dialverse/call-gateway/internal/core/registry"
	"github.com/dialverse/call-gateway/internal/core/task"
	"github.com/dialverse/call-gateway/internal/core/timer"
	"github.com/dialverse/call-gateway/internal/domain"
	"github.com/dialverse/call-gateway/internal/repository"
	"github.com/dialverse/call-gateway/internal/services/call"
	"github.com/dialverse/call-gateway/pkg/telnyx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type noopProvider struct{}

func (noopProvider) CreateCall(ctx context.Context, to, from, webhookURL, clientState string) (telnyx.CallIdentifiers, error) {
	return telnyx.CallIdentifiers{ControlID: "ctrl-1", SessionID: "sess-1"}, nil
}
func (noopProvider) AnswerCall(ctx context.Context, controlID, clientState string) error { return nil }
func (noopProvider) Hangup(ctx context.Context, controlID string) error                  { return nil }

func (noopProvider) CreateConference(ctx context.Context, controlID, name string, rec telnyx.RecordConfig) (string, error) {
	return "conf-1", nil
}
func (noopProvider) JoinConference(ctx context.Context, conferenceID, controlID string) error {
	return nil
}
func (noopProvider) StartConferenceRecording(ctx context.Context, conferenceID string, rec telnyx.RecordConfig) error {
	return nil
}
func (noopProvider) StopConferenceRecording(ctx context.Context, conferenceID string) error {
	return nil
}
func (noopProvider) HoldConference(ctx context.Context, conferenceID string, controlIDs []string) error {
	return nil
}
func (noopProvider) ResumeConference(ctx context.Context, conferenceID string, controlIDs []string) error {
	return nil
}

type memArchive struct {
	mu      sync.Mutex
	records []*domain.WebhookRecord
}

func (m *memArchive) Archive(ctx context.Context, rec *domain.WebhookRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, rec)
	return nil
}

func (m *memArchive) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

type memRecordings struct{}

func (memRecordings) Upsert(ctx context.Context, rec *domain.Recording) error { return nil }
func (memRecordings) GetByCallID(ctx context.Context, callID string) (*domain.Recording, error) {
	return nil, nil
}
func (memRecordings) DeleteByCallID(ctx context.Context, callID string) error { return nil }
func (memRecordings) List(ctx context.Context, limit, offset int) ([]*domain.Recording, error) {
	return nil, nil
}

type memSessions struct{}

func (memSessions) List(ctx context.Context, filter repository.ListFilter) ([]*domain.CallSession, error) {
	return nil, nil
}
func (memSessions) ListActive(ctx context.Context) ([]*domain.CallSession, error) { return nil, nil }
func (memSessions) Delete(ctx context.Context, callID string) error               { return nil }

func newTestService(t *testing.T, archive *memArchive) *call.Service {
	t.Helper()

	provider := noopProvider{}
	timers := timer.NewManager()
	tasks := task.NewRunner(2, 32, time.Second)
	t.Cleanup(func() {
		timers.Shutdown()
		tasks.Shutdown()
	})

	return call.NewService(call.Config{WebhookURL: "https://gw.example.com/webhooks/call"}, call.Deps{
		Registry: registry.New(repository.NewMemoryStore()),
		Provider: provider,
		Coordinator: conference.NewCoordinator(provider,
			conference.WithStabilizationDelay(0),
			conference.WithSleep(func(context.Context, time.Duration) {}),
		),
		Timers:     timers,
		Hub:        notify.NewHub(nil),
		Tasks:      tasks,
		Archive:    archive,
		Recordings: memRecordings{},
		Sessions:   memSessions{},
	})
}

func TestHandleCallEventAcksValidBody(t *testing.T) {
	archive := &memArchive{}
	h := NewWebhookHandler(newTestService(t, archive), nil)

	body := []byte(`{"data":{"event_type":"call.hangup","payload":{"call_session_id":"unknown"}}}`)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/call", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.HandleCallEvent(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, archive.count())
}

func TestHandleCallEventAcksGarbage(t *testing.T) {
	archive := &memArchive{}
	h := NewWebhookHandler(newTestService(t, archive), nil)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/call", bytes.NewReader([]byte("not json at all")))
	rec := httptest.NewRecorder()

	h.HandleCallEvent(rec, req)

	// The provider retries on non-2xx; even garbage gets acknowledged.
	assert.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 1, archive.count())
	assert.Equal(t, "unreadable", archive.records[0].EventType)
}

func TestHandleCallEventAcksEmptyBody(t *testing.T) {
	archive := &memArchive{}
	h := NewWebhookHandler(newTestService(t, archive), nil)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/call", bytes.NewReader(nil))
	rec := httptest.NewRecorder()

	h.HandleCallEvent(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
