package state

import (
	"errors"
	"time"

	"github.com/dialverse/call-gateway/internal/core/event"
	"github.com/dialverse/call-gateway/internal/domain"
)

// ErrInvalidTransition is returned for API-driven transitions the current
// status does not allow. Webhook-driven transitions never return it; stale
// provider events are silently absorbed instead.
var ErrInvalidTransition = errors.New("invalid call state transition")

// Outcome tells the caller which side effects a transition requires. The
// machine itself only mutates the session record.
type Outcome struct {
	// Transitioned is true when the session status changed.
	Transitioned bool
	// Answered fires conference coordination for the leg that answered.
	Answered bool
	// Ended fires timer cancellation, presence cleanup and the terminal
	// lifecycle publish.
	Ended bool
	// RecordingSaved fires the asset archival pipeline.
	RecordingSaved bool
	// Delta is the broadcast type to fan out, empty when nothing changed
	// that clients care about.
	Delta string
}

// Apply advances a session for one normalized provider event. It is pure over
// the session record: no I/O, no clock reads beyond the supplied now. Events
// arriving after a terminal status are absorbed without effect, which makes
// webhook redelivery and out-of-order arrival safe.
func Apply(s *domain.CallSession, ev event.Event, now time.Time) Outcome {
	switch e := ev.(type) {
	case event.Initiated:
		return applyInitiated(s, e, now)
	case event.Answered:
		return applyAnswered(s, e, now)
	case event.Ended:
		return applyEnded(s, e, now)
	case event.RecordingSaved:
		return applyRecordingSaved(s, e, now)
	case event.MachineDetected:
		return applyMachineDetected(s, e)
	default:
		return Outcome{}
	}
}

func applyInitiated(s *domain.CallSession, e event.Initiated, now time.Time) Outcome {
	if s.Status.Terminal() {
		return Outcome{}
	}
	s.AddControlID(e.ProviderControlID)
	if s.ProviderSessionID == "" {
		s.ProviderSessionID = e.ProviderSessionID
	}
	if s.FromNumber == "" {
		s.FromNumber = e.FromNumber
	}
	if s.ToNumber == "" {
		s.ToNumber = e.ToNumber
	}
	if s.StartedAt == nil {
		t := now
		s.StartedAt = &t
	}
	if s.Status == domain.StatusDialing {
		s.Status = domain.StatusRinging
		return Outcome{Transitioned: true, Delta: "call_initiated"}
	}
	return Outcome{}
}

func applyAnswered(s *domain.CallSession, e event.Answered, now time.Time) Outcome {
	if s.Status.Terminal() {
		return Outcome{}
	}
	s.AddControlID(e.ProviderControlID)
	if s.AnsweredAt == nil {
		t := now
		s.AnsweredAt = &t
	}

	first := s.Status == domain.StatusDialing || s.Status == domain.StatusRinging
	if first {
		s.Status = domain.StatusActive
	}
	// A second leg answering while the call is already active still needs
	// conference coordination; the coordinator itself decides leader vs
	// joiner.
	return Outcome{
		Transitioned: first,
		Answered:     true,
		Delta:        "call_answered",
	}
}

func applyEnded(s *domain.CallSession, e event.Ended, now time.Time) Outcome {
	if s.Status.Terminal() {
		return Outcome{}
	}

	t := now
	s.EndedAt = &t
	s.HangupCause = e.Cause
	s.HangupSource = e.Source
	s.SIPCode = e.SIPCode
	s.Disposition = Classify(e.Cause)
	s.Duration = duration(s, e.DurationMillis, now)
	s.IsRecording = false
	// Provider-reported termination always lands on ended; the hangup cause
	// is carried in the disposition. StatusFailed is reserved for calls the
	// provider never accepted.
	s.Status = domain.StatusEnded

	return Outcome{Transitioned: true, Ended: true, Delta: "call_ended"}
}

func applyRecordingSaved(s *domain.CallSession, e event.RecordingSaved, now time.Time) Outcome {
	// Recording assets can land after the call has ended; the terminal
	// guard does not apply here.
	if s.HasRecording && s.RecordingURL != "" {
		return Outcome{}
	}
	t := now
	s.HasRecording = true
	s.IsRecording = false
	s.RecordingURL = e.URL
	s.RecordingSizeBytes = e.SizeBytes
	s.RecordingDuration = int(e.DurationMillis / 1000)
	s.RecordingChannels = e.Channels
	s.RecordingSavedAt = &t
	return Outcome{RecordingSaved: true, Delta: "recording_added"}
}

func applyMachineDetected(s *domain.CallSession, e event.MachineDetected) Outcome {
	s.MachineDetectionResult = e.Result
	s.MachineDetected = e.Result == "machine" || e.Result == "fax"
	return Outcome{Delta: "machine_detection"}
}

// Classify maps a provider hangup cause onto the call disposition. An absent
// cause counts as a normal completion.
func Classify(cause string) domain.Disposition {
	switch cause {
	case "", "NORMAL_CLEARING", "ORIGINATOR_CANCEL", "normal_clearing", "originator_cancel":
		return domain.DispositionCompleted
	case "USER_BUSY", "user_busy":
		return domain.DispositionBusy
	case "NO_ANSWER", "NO_USER_RESPONSE", "no_answer", "no_user_response":
		return domain.DispositionNoAnswer
	default:
		return domain.DispositionFailed
	}
}

// duration computes the call duration in whole seconds. The provider's
// duration_millis wins when present; otherwise it falls back to wall clock
// since answer (or since start, for calls that never connected). Never
// negative.
func duration(s *domain.CallSession, durationMillis int64, now time.Time) int {
	if durationMillis > 0 {
		return int(durationMillis / 1000)
	}
	var since *time.Time
	if s.AnsweredAt != nil {
		since = s.AnsweredAt
	} else if s.StartedAt != nil {
		since = s.StartedAt
	}
	if since == nil {
		return 0
	}
	d := int(now.Sub(*since).Seconds())
	if d < 0 {
		return 0
	}
	return d
}

// Hold moves an active call to on_hold. Unlike webhook transitions this is
// operator-driven, so an impossible request is an error the API surfaces.
func Hold(s *domain.CallSession) error {
	if s.Status != domain.StatusActive {
		return ErrInvalidTransition
	}
	s.Status = domain.StatusOnHold
	return nil
}

// Resume moves an on_hold call back to active.
func Resume(s *domain.CallSession) error {
	if s.Status != domain.StatusOnHold {
		return ErrInvalidTransition
	}
	s.Status = domain.StatusActive
	return nil
}
