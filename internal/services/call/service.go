package call

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/dialverse/call-gateway/internal/core/conference"
	"github.com/dialverse/call-gateway/internal/core/event"
	"github.com/dialverse/call-gateway/internal/core/notify"
	"github.com/dialverse/call-gateway/internal/core/registry"
	"github.com/dialverse/call-gateway/internal/core/state"
	"github.com/dialverse/call-gateway/internal/core/task"
	"github.com/dialverse/call-gateway/internal/core/timer"
	"github.com/dialverse/call-gateway/internal/domain"
	"github.com/dialverse/call-gateway/internal/repository"
	"github.com/dialverse/call-gateway/pkg/logger"
	"github.com/dialverse/call-gateway/pkg/pubsub"
	redissvc "github.com/dialverse/call-gateway/pkg/redis"
	"github.com/dialverse/call-gateway/pkg/telnyx"
	"go.uber.org/zap"
)

// Provider is the slice of the telephony API the service dials and tears
// calls down with. Conference actions go through the coordinator instead.
type Provider interface {
	CreateCall(ctx context.Context, to, from, webhookURL, clientState string) (telnyx.CallIdentifiers, error)
	AnswerCall(ctx context.Context, controlID, clientState string) error
	Hangup(ctx context.Context, controlID string) error
}

// WebhookArchive persists every received provider event.
type WebhookArchive interface {
	Archive(ctx context.Context, rec *domain.WebhookRecord) error
}

// RecordingStore persists saved recording metadata.
type RecordingStore interface {
	Upsert(ctx context.Context, rec *domain.Recording) error
	GetByCallID(ctx context.Context, callID string) (*domain.Recording, error)
	DeleteByCallID(ctx context.Context, callID string) error
	List(ctx context.Context, limit, offset int) ([]*domain.Recording, error)
}

// AssetStore is the object storage recordings are archived into.
type AssetStore interface {
	Upload(ctx context.Context, objectPath string, content io.Reader) (string, error)
	Delete(ctx context.Context, gcsURL string) error
	GetPresignedURL(ctx context.Context, gcsURI string, expiresAt time.Time) (string, error)
}

// SessionLister is the query side of the session store, for the read API.
type SessionLister interface {
	List(ctx context.Context, filter repository.ListFilter) ([]*domain.CallSession, error)
	ListActive(ctx context.Context) ([]*domain.CallSession, error)
	Delete(ctx context.Context, callID string) error
}

// LifecyclePublisher emits call lifecycle events to the analytics pipeline.
type LifecyclePublisher interface {
	PublishCallEvent(ctx context.Context, ev pubsub.CallLifecycleEvent) error
}

// Config holds the tunables of the call service.
type Config struct {
	// WebhookURL is the public URL the provider posts call events to.
	WebhookURL string
	// DefaultFromNumber is used when an initiate request carries no caller id.
	DefaultFromNumber string
	// AutoHangupAfter caps call duration; zero disables the safety timer.
	AutoHangupAfter time.Duration
	// RecordingFetchTimeout bounds the provider asset download.
	RecordingFetchTimeout time.Duration
	// PresenceTTL bounds how long an active-call presence key may outlive
	// its refresh.
	PresenceTTL time.Duration
}

func (c *Config) withDefaults() {
	if c.AutoHangupAfter == 0 {
		c.AutoHangupAfter = 4 * time.Hour
	}
	if c.RecordingFetchTimeout == 0 {
		c.RecordingFetchTimeout = 60 * time.Second
	}
	if c.PresenceTTL == 0 {
		c.PresenceTTL = 5 * time.Hour
	}
}

// Deps are the collaborators a Service is wired with. Redis, assets and
// publisher may be nil; the service degrades to local-only operation.
type Deps struct {
	Registry    *registry.Registry
	Provider    Provider
	Coordinator *conference.Coordinator
	Timers      *timer.Manager
	Hub         *notify.Hub
	Tasks       *task.Runner
	Archive     WebhookArchive
	Recordings  RecordingStore
	Sessions    SessionLister
	Assets      AssetStore
	Publisher   LifecyclePublisher
	Redis       redissvc.RedisServiceInterface
}

// Service orchestrates the full call lifecycle: dialing, webhook-driven state
// transitions, conference bridging, recording archival and client fan-out.
type Service struct {
	cfg Config

	registry    *registry.Registry
	provider    Provider
	coordinator *conference.Coordinator
	timers      *timer.Manager
	hub         *notify.Hub
	tasks       *task.Runner
	archive     WebhookArchive
	recordings  RecordingStore
	sessions    SessionLister
	assets      AssetStore
	publisher   LifecyclePublisher
	redis       redissvc.RedisServiceInterface

	httpClient *http.Client
	now        func() time.Time
}

// NewService creates a call service.
func NewService(cfg Config, deps Deps) *Service {
	cfg.withDefaults()
	return &Service{
		cfg:         cfg,
		registry:    deps.Registry,
		provider:    deps.Provider,
		coordinator: deps.Coordinator,
		timers:      deps.Timers,
		hub:         deps.Hub,
		tasks:       deps.Tasks,
		archive:     deps.Archive,
		recordings:  deps.Recordings,
		sessions:    deps.Sessions,
		assets:      deps.Assets,
		publisher:   deps.Publisher,
		redis:       deps.Redis,
		httpClient:  &http.Client{Timeout: cfg.RecordingFetchTimeout},
		now:         time.Now,
	}
}

// SetNow overrides the service clock, for tests.
func (s *Service) SetNow(now func() time.Time) { s.now = now }

// InitiateRequest is an outbound dial request.
type InitiateRequest struct {
	To          string        `json:"to"`
	From        string        `json:"from"`
	MaxDuration time.Duration `json:"-"`
}

// InitiateCall dials an outbound call. The session exists, with a minted
// correlation token, before the provider request goes out, so the first
// webhook can never race session creation.
func (s *Service) InitiateCall(ctx context.Context, req InitiateRequest) (*domain.CallSession, error) {
	if req.To == "" {
		return nil, fmt.Errorf("destination number is required")
	}
	from := req.From
	if from == "" {
		from = s.cfg.DefaultFromNumber
	}

	sess, err := s.registry.Create(ctx, domain.DirectionOutbound, from, req.To, registry.CreateIDs{})
	if err != nil {
		return nil, err
	}

	token := event.EncodeCorrelationToken(sess.CallID, "outbound")
	ids, err := s.provider.CreateCall(ctx, req.To, from, s.cfg.WebhookURL, token)
	if err != nil {
		failed, uerr := s.registry.Update(ctx, sess.CallID, func(cs *domain.CallSession) error {
			now := s.now()
			cs.Status = domain.StatusFailed
			cs.Disposition = domain.DispositionFailed
			cs.EndedAt = &now
			return nil
		})
		if uerr == nil {
			s.hub.Publish(notify.Delta{Type: "call_ended", CallID: sess.CallID, Payload: failed})
		}
		return nil, fmt.Errorf("create call: %w", err)
	}

	sess, err = s.registry.Update(ctx, sess.CallID, func(cs *domain.CallSession) error {
		cs.ProviderSessionID = ids.SessionID
		cs.AddControlID(ids.ControlID)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.armAutoHangup(sess.CallID, req.MaxDuration)
	s.setPresence(sess)
	s.hub.Publish(notify.Delta{Type: "call_initiated", CallID: sess.CallID, Payload: sess})
	s.publishLifecycle(sess, "call_initiated")

	logger.Base().Info("Outbound call initiated",
		zap.String("call_id", sess.CallID),
		zap.String("to", req.To),
		zap.String("from", from),
	)
	return sess, nil
}

// armAutoHangup schedules the safety timer that caps call duration. The fired
// action re-reads the live session and does nothing when the call already
// ended, so a near-simultaneous hangup is harmless.
func (s *Service) armAutoHangup(callID string, maxDuration time.Duration) {
	d := maxDuration
	if d <= 0 {
		d = s.cfg.AutoHangupAfter
	}
	if d <= 0 {
		return
	}
	s.timers.Schedule(callID, d, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		sess, err := s.registry.Get(ctx, callID)
		if err != nil || sess.Status.Terminal() {
			return
		}
		logger.Base().Warn("Auto-hangup timer fired, tearing call down",
			zap.String("call_id", callID),
		)
		s.hangupLegs(ctx, sess)
	})
}

// Hangup tears a call down. Hanging up a call that already ended is a no-op
// returning the terminal session. Local state stays authoritative: the
// terminal transition happens when the provider's hangup webhook arrives.
func (s *Service) Hangup(ctx context.Context, callID string) (*domain.CallSession, error) {
	sess, err := s.registry.Get(ctx, callID)
	if err != nil {
		return nil, err
	}
	if sess.Status.Terminal() {
		return sess, nil
	}

	s.timers.Cancel(callID)
	s.hangupLegs(ctx, sess)
	return sess, nil
}

// hangupLegs requests hangup for every known leg, best effort.
func (s *Service) hangupLegs(ctx context.Context, sess *domain.CallSession) {
	for _, controlID := range sess.ControlIDs {
		if err := s.provider.Hangup(ctx, controlID); err != nil {
			logger.Base().Debug("Leg hangup request failed",
				zap.String("call_id", sess.CallID),
				zap.String("call_control_id", controlID),
				zap.Error(err),
			)
		}
	}
}

// Hold places an active call on hold.
func (s *Service) Hold(ctx context.Context, callID string) (*domain.CallSession, error) {
	sess, err := s.registry.Update(ctx, callID, func(cs *domain.CallSession) error {
		return state.Hold(cs)
	})
	if err != nil {
		return nil, err
	}

	if cerr := s.coordinator.Hold(ctx, callID); cerr != nil {
		logger.Base().Warn("Conference hold failed",
			zap.String("call_id", callID), zap.Error(cerr))
	}
	s.hub.Publish(notify.Delta{Type: "call_hold", CallID: callID, Payload: sess})
	return sess, nil
}

// Resume takes an on-hold call back to active.
func (s *Service) Resume(ctx context.Context, callID string) (*domain.CallSession, error) {
	sess, err := s.registry.Update(ctx, callID, func(cs *domain.CallSession) error {
		return state.Resume(cs)
	})
	if err != nil {
		return nil, err
	}

	if cerr := s.coordinator.Resume(ctx, callID); cerr != nil {
		logger.Base().Warn("Conference resume failed",
			zap.String("call_id", callID), zap.Error(cerr))
	}
	s.hub.Publish(notify.Delta{Type: "call_resumed", CallID: callID, Payload: sess})
	return sess, nil
}

// Get returns one call session.
func (s *Service) Get(ctx context.Context, callID string) (*domain.CallSession, error) {
	return s.registry.Get(ctx, callID)
}

// List returns call sessions matching the filter.
func (s *Service) List(ctx context.Context, filter repository.ListFilter) ([]*domain.CallSession, error) {
	return s.sessions.List(ctx, filter)
}

// ListActive returns every non-terminal session.
func (s *Service) ListActive(ctx context.Context) ([]*domain.CallSession, error) {
	return s.sessions.ListActive(ctx)
}

// UpdateNotes sets the operator notes and tags on a call and broadcasts the
// change.
func (s *Service) UpdateNotes(ctx context.Context, callID, notes string, tags []string) (*domain.CallSession, error) {
	sess, err := s.registry.Update(ctx, callID, func(cs *domain.CallSession) error {
		cs.Notes = notes
		if tags != nil {
			cs.Tags = append(domain.StringList{}, tags...)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.hub.Publish(notify.Delta{Type: "log_updated", CallID: callID, Payload: sess})
	return sess, nil
}

// DeleteCall removes a call log, its recording metadata and the archived
// asset, then broadcasts the deletion.
func (s *Service) DeleteCall(ctx context.Context, callID string) error {
	sess, err := s.registry.Get(ctx, callID)
	if err != nil {
		return err
	}
	if !sess.Status.Terminal() {
		return fmt.Errorf("cannot delete a call in progress")
	}

	if rec, rerr := s.recordings.GetByCallID(ctx, callID); rerr == nil && rec != nil {
		if s.assets != nil && rec.URL != "" && !rec.Degraded {
			if derr := s.assets.Delete(ctx, toGSURI(rec.URL)); derr != nil {
				logger.Base().Warn("Recording asset delete failed",
					zap.String("call_id", callID), zap.Error(derr))
			}
		}
		if derr := s.recordings.DeleteByCallID(ctx, callID); derr != nil {
			logger.Base().Warn("Recording metadata delete failed",
				zap.String("call_id", callID), zap.Error(derr))
		}
	}

	if err := s.sessions.Delete(ctx, callID); err != nil {
		return err
	}
	s.hub.Publish(notify.Delta{Type: "log_deleted", CallID: callID})
	return nil
}

// setPresence mirrors an active call into Redis so other pods and the ops
// tooling can see it. Best effort.
func (s *Service) setPresence(sess *domain.CallSession) {
	if s.redis == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	key := s.redis.GenerateKey(redissvc.ACTIVE_CALL, sess.CallID)
	data, err := json.Marshal(map[string]string{
		"call_id": sess.CallID,
		"status":  string(sess.Status),
		"from":    sess.FromNumber,
		"to":      sess.ToNumber,
	})
	if err != nil {
		return
	}
	if err := s.redis.SetValue(ctx, key, string(data), s.cfg.PresenceTTL); err != nil {
		logger.Base().Debug("Presence set failed", zap.String("call_id", sess.CallID), zap.Error(err))
	}
}

// clearPresence drops the active-call presence key. Best effort.
func (s *Service) clearPresence(callID string) {
	if s.redis == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	key := s.redis.GenerateKey(redissvc.ACTIVE_CALL, callID)
	if err := s.redis.DelValue(ctx, key); err != nil {
		logger.Base().Debug("Presence clear failed", zap.String("call_id", callID), zap.Error(err))
	}
}

// publishLifecycle emits one lifecycle event to the analytics pipeline. Best
// effort, on the task runner.
func (s *Service) publishLifecycle(sess *domain.CallSession, eventType string) {
	if s.publisher == nil {
		return
	}
	ev := pubsub.CallLifecycleEvent{
		CallID:      sess.CallID,
		EventType:   eventType,
		Direction:   string(sess.Direction),
		FromNumber:  sess.FromNumber,
		ToNumber:    sess.ToNumber,
		Status:      string(sess.Status),
		Disposition: string(sess.Disposition),
		StartedAt:   sess.StartedAt,
		EndedAt:     sess.EndedAt,
		Duration:    sess.Duration,
	}
	_ = s.tasks.Submit("publish-lifecycle", func(ctx context.Context) {
		if err := s.publisher.PublishCallEvent(ctx, ev); err != nil {
			logger.Base().Warn("Lifecycle publish failed",
				zap.String("call_id", ev.CallID),
				zap.String("event_type", ev.EventType),
				zap.Error(err),
			)
		}
	})
}
