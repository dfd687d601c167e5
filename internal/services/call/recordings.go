package call

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/dialverse/call-gateway/internal/core/event"
	"github.com/dialverse/call-gateway/internal/core/notify"
	"github.com/dialverse/call-gateway/internal/domain"
	"github.com/dialverse/call-gateway/pkg/logger"
	"go.uber.org/zap"
)

// archiveRecordingAsset copies the provider's recording into our own bucket
// before the provider URL expires. On any failure the session keeps the
// provider URL and is marked degraded; metadata is stored either way.
func (s *Service) archiveRecordingAsset(ctx context.Context, sess *domain.CallSession, ev event.RecordingSaved) {
	url := ev.URL
	degraded := false

	if s.assets != nil && ev.URL != "" {
		stored, err := s.fetchAndStore(ctx, sess.CallID, ev)
		if err != nil {
			logger.Base().Warn("Recording archival failed, keeping provider URL",
				zap.String("call_id", sess.CallID),
				zap.Error(err),
			)
			degraded = true
		} else {
			url = stored
		}
	} else if s.assets == nil {
		degraded = true
	}

	rec := &domain.Recording{
		CallID:      sess.CallID,
		URL:         url,
		ProviderURL: ev.URL,
		SizeBytes:   ev.SizeBytes,
		Duration:    int(ev.DurationMillis / 1000),
		Format:      ev.Format,
		Channels:    ev.Channels,
		FromNumber:  sess.FromNumber,
		ToNumber:    sess.ToNumber,
		Degraded:    degraded,
	}
	if err := s.recordings.Upsert(ctx, rec); err != nil {
		logger.Base().Error("Recording metadata persist failed",
			zap.String("call_id", sess.CallID), zap.Error(err))
	}

	if _, err := s.registry.Update(ctx, sess.CallID, func(cs *domain.CallSession) error {
		cs.RecordingURL = url
		cs.RecordingDegraded = degraded
		return nil
	}); err != nil {
		logger.Base().Error("Recording URL persist failed",
			zap.String("call_id", sess.CallID), zap.Error(err))
	}
}

// fetchAndStore downloads the provider asset and uploads it to the bucket,
// returning the stored object URL.
func (s *Service) fetchAndStore(ctx context.Context, callID string, ev event.RecordingSaved) (string, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, s.cfg.RecordingFetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(fetchCtx, http.MethodGet, ev.URL, nil)
	if err != nil {
		return "", fmt.Errorf("build recording request: %w", err)
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("download recording: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download recording: status %d", resp.StatusCode)
	}

	format := ev.Format
	if format == "" {
		format = "wav"
	}
	objectPath := fmt.Sprintf("recordings/%s.%s", callID, format)

	stored, err := s.assets.Upload(fetchCtx, objectPath, resp.Body)
	if err != nil {
		return "", fmt.Errorf("upload recording: %w", err)
	}
	return stored, nil
}

// GetRecording returns the recording metadata for a call.
func (s *Service) GetRecording(ctx context.Context, callID string) (*domain.Recording, error) {
	return s.recordings.GetByCallID(ctx, callID)
}

// ListRecordings returns stored recordings, newest first.
func (s *Service) ListRecordings(ctx context.Context, limit, offset int) ([]*domain.Recording, error) {
	return s.recordings.List(ctx, limit, offset)
}

// PresignRecording signs a time-limited download URL for a call's archived
// recording. Degraded recordings return the provider URL as-is.
func (s *Service) PresignRecording(ctx context.Context, callID string, ttl time.Duration) (string, error) {
	rec, err := s.recordings.GetByCallID(ctx, callID)
	if err != nil {
		return "", err
	}
	if rec == nil {
		return "", fmt.Errorf("no recording for call %s", callID)
	}
	if rec.Degraded || s.assets == nil {
		return rec.URL, nil
	}
	return s.assets.GetPresignedURL(ctx, toGSURI(rec.URL), s.now().Add(ttl))
}

// DeleteRecording removes a call's recording asset and metadata, then
// broadcasts the deletion.
func (s *Service) DeleteRecording(ctx context.Context, callID string) error {
	rec, err := s.recordings.GetByCallID(ctx, callID)
	if err != nil {
		return err
	}
	if rec == nil {
		return fmt.Errorf("no recording for call %s", callID)
	}

	if s.assets != nil && !rec.Degraded && rec.URL != "" {
		if derr := s.assets.Delete(ctx, toGSURI(rec.URL)); derr != nil {
			logger.Base().Warn("Recording asset delete failed",
				zap.String("call_id", callID), zap.Error(derr))
		}
	}
	if err := s.recordings.DeleteByCallID(ctx, callID); err != nil {
		return err
	}

	if _, uerr := s.registry.Update(ctx, callID, func(cs *domain.CallSession) error {
		cs.HasRecording = false
		cs.RecordingURL = ""
		cs.RecordingDegraded = false
		return nil
	}); uerr != nil {
		logger.Base().Debug("Recording flags clear failed",
			zap.String("call_id", callID), zap.Error(uerr))
	}

	s.hub.Publish(notify.Delta{Type: "recording_deleted", CallID: callID})
	return nil
}

// toGSURI converts a public object URL back into the gs:// form the storage
// client operates on. URLs already in gs:// form pass through.
func toGSURI(url string) string {
	const publicPrefix = "https://storage.googleapis.com/"
	if strings.HasPrefix(url, publicPrefix) {
		return "gs://" + strings.TrimPrefix(url, publicPrefix)
	}
	return url
}
