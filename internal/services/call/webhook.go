package call

import (
	"context"
	"errors"
	"time"

	"github.com/dialverse/call-gateway/internal/core/event"
	"github.com/dialverse/call-gateway/internal/core/notify"
	"github.com/dialverse/call-gateway/internal/core/registry"
	"github.com/dialverse/call-gateway/internal/core/state"
	"github.com/dialverse/call-gateway/internal/domain"
	"github.com/dialverse/call-gateway/pkg/logger"
	"go.uber.org/zap"
)

// HandleWebhook runs the full inbound event pipeline: normalize, resolve,
// archive, transition, side effects. It only returns an error for a
// structurally unreadable body; everything else is absorbed so the handler can
// always acknowledge.
func (s *Service) HandleWebhook(ctx context.Context, body []byte, receivedAt time.Time) error {
	if receivedAt.IsZero() {
		receivedAt = s.now()
	}

	ev, err := event.Parse(body, receivedAt)
	if err != nil {
		s.archiveEvent(ctx, "unreadable", "", event.Refs{Raw: body, ReceivedAt: receivedAt})
		return err
	}
	refs := ev.Meta()

	sess, rerr := s.registry.Resolve(ctx, ev)
	if rerr != nil {
		if !errors.Is(rerr, registry.ErrNotFound) {
			logger.Base().Error("Session resolution failed",
				zap.String("event_type", refs.EventType), zap.Error(rerr))
			s.archiveEvent(ctx, refs.EventType, "", refs)
			return nil
		}
		// A fresh inbound leg has no session yet; that is the one event
		// allowed to create one.
		if init, ok := ev.(event.Initiated); ok && init.Direction == domain.DirectionInbound {
			sess, rerr = s.acceptInbound(ctx, init)
			if rerr != nil {
				logger.Base().Error("Inbound session creation failed", zap.Error(rerr))
				s.archiveEvent(ctx, refs.EventType, "", refs)
				return nil
			}
		} else {
			// Stale or foreign event. Archived for the audit trail,
			// otherwise ignored.
			logger.Base().Debug("Webhook matched no session",
				zap.String("event_type", refs.EventType),
				zap.String("provider_session_id", refs.ProviderSessionID),
			)
			s.archiveEvent(ctx, refs.EventType, "", refs)
			return nil
		}
	}

	s.archiveEvent(ctx, refs.EventType, sess.CallID, refs)

	var outcome state.Outcome
	updated, err := s.registry.Update(ctx, sess.CallID, func(cs *domain.CallSession) error {
		outcome = state.Apply(cs, ev, refs.ReceivedAt)
		return nil
	})
	if err != nil {
		logger.Base().Error("Session update failed",
			zap.String("call_id", sess.CallID), zap.Error(err))
		return nil
	}

	s.applyOutcome(ctx, updated, ev, outcome)
	return nil
}

// acceptInbound creates a session for a ringing inbound leg and answers it
// with a freshly minted correlation token attached.
func (s *Service) acceptInbound(ctx context.Context, init event.Initiated) (*domain.CallSession, error) {
	sess, err := s.registry.Create(ctx, domain.DirectionInbound, init.FromNumber, init.ToNumber, registry.CreateIDs{
		ProviderSessionID: init.ProviderSessionID,
		ProviderControlID: init.ProviderControlID,
	})
	if err != nil {
		return nil, err
	}

	s.armAutoHangup(sess.CallID, 0)
	s.setPresence(sess)
	s.hub.Publish(notify.Delta{Type: "call_initiated", CallID: sess.CallID, Payload: sess})
	s.publishLifecycle(sess, "call_initiated")

	token := event.EncodeCorrelationToken(sess.CallID, "inbound")
	controlID := init.ProviderControlID
	_ = s.tasks.Submit("answer-inbound", func(taskCtx context.Context) {
		if err := s.provider.AnswerCall(taskCtx, controlID, token); err != nil {
			logger.Base().Error("Inbound answer failed",
				zap.String("call_id", sess.CallID),
				zap.String("call_control_id", controlID),
				zap.Error(err),
			)
		}
	})

	logger.Base().Info("Inbound call accepted",
		zap.String("call_id", sess.CallID),
		zap.String("from", init.FromNumber),
		zap.String("to", init.ToNumber),
	)
	return sess, nil
}

// archiveEvent stores the received webhook in the audit archive. Archive
// failures are logged, never surfaced: the provider still gets its ack.
func (s *Service) archiveEvent(ctx context.Context, eventType, callID string, refs event.Refs) {
	rec := &domain.WebhookRecord{
		EventType:         eventType,
		CallID:            callID,
		ProviderSessionID: refs.ProviderSessionID,
		ProviderControlID: refs.ProviderControlID,
		Payload:           string(refs.Raw),
		ReceivedAt:        refs.ReceivedAt,
	}
	if err := s.archive.Archive(ctx, rec); err != nil {
		logger.Base().Error("Webhook archive failed",
			zap.String("event_type", eventType), zap.Error(err))
	}
}

// applyOutcome runs the side effects a state transition asked for.
func (s *Service) applyOutcome(ctx context.Context, sess *domain.CallSession, ev event.Event, outcome state.Outcome) {
	if outcome.Delta != "" {
		s.hub.Publish(notify.Delta{Type: outcome.Delta, CallID: sess.CallID, Payload: sess})
	}

	switch {
	case outcome.Answered:
		s.setPresence(sess)
		if outcome.Transitioned {
			s.publishLifecycle(sess, "call_answered")
		}
		s.coordinateLeg(sess.CallID, ev.Meta().ProviderControlID)

	case outcome.Ended:
		s.timers.Cancel(sess.CallID)
		s.clearPresence(sess.CallID)
		s.publishLifecycle(sess, "call_ended")
		callID := sess.CallID
		_ = s.tasks.Submit("conference-release", func(taskCtx context.Context) {
			s.coordinator.Release(taskCtx, callID)
		})

	case outcome.RecordingSaved:
		if rec, ok := ev.(event.RecordingSaved); ok {
			snapshot := *sess
			_ = s.tasks.Submit("archive-recording", func(taskCtx context.Context) {
				s.archiveRecordingAsset(taskCtx, &snapshot, rec)
			})
		}
	}
}

// coordinateLeg funnels an answered leg through the conference coordinator on
// the task runner, then records the resulting conference id on the session.
func (s *Service) coordinateLeg(callID, controlID string) {
	if controlID == "" {
		return
	}
	_ = s.tasks.Submit("conference-coordinate", func(ctx context.Context) {
		confID, leader, err := s.coordinator.LegAnswered(ctx, callID, controlID)
		if err != nil {
			logger.Base().Error("Conference coordination failed",
				zap.String("call_id", callID),
				zap.String("call_control_id", controlID),
				zap.Error(err),
			)
			return
		}

		conf := s.coordinator.Get(callID)
		recording := conf != nil && conf.RecordingActive

		updated, uerr := s.registry.Update(ctx, callID, func(cs *domain.CallSession) error {
			cs.ConferenceID = confID
			if recording {
				cs.IsRecording = true
			}
			return nil
		})
		if uerr != nil {
			logger.Base().Error("Conference id persist failed",
				zap.String("call_id", callID), zap.Error(uerr))
			return
		}
		if leader && recording {
			s.hub.Publish(notify.Delta{Type: "recording_started", CallID: callID, Payload: updated})
		}
	})
}
