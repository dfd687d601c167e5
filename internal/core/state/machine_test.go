package state

import (
	"testing"
	"time"

	"github.com/dialverse/call-gateway/internal/core/event"
	"github.com/dialverse/call-gateway/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSession(status domain.CallStatus) *domain.CallSession {
	started := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	return &domain.CallSession{
		CallID:    "call-1",
		Direction: domain.DirectionOutbound,
		Status:    status,
		StartedAt: &started,
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		cause string
		want  domain.Disposition
	}{
		{"NORMAL_CLEARING", domain.DispositionCompleted},
		{"ORIGINATOR_CANCEL", domain.DispositionCompleted},
		{"", domain.DispositionCompleted},
		{"USER_BUSY", domain.DispositionBusy},
		{"NO_ANSWER", domain.DispositionNoAnswer},
		{"NO_USER_RESPONSE", domain.DispositionNoAnswer},
		{"CALL_REJECTED", domain.DispositionFailed},
		{"UNALLOCATED_NUMBER", domain.DispositionFailed},
	}
	for _, tc := range cases {
		t.Run(tc.cause, func(t *testing.T) {
			assert.Equal(t, tc.want, Classify(tc.cause))
		})
	}
}

func TestApplyFullLifecycle(t *testing.T) {
	s := newSession(domain.StatusDialing)
	base := *s.StartedAt

	out := Apply(s, event.Initiated{
		Refs:      event.Refs{ProviderControlID: "ctrl-1"},
		Direction: domain.DirectionOutbound,
	}, base)
	assert.True(t, out.Transitioned)
	assert.Equal(t, domain.StatusRinging, s.Status)
	assert.Equal(t, "call_initiated", out.Delta)

	out = Apply(s, event.Answered{Refs: event.Refs{ProviderControlID: "ctrl-1"}}, base.Add(5*time.Second))
	assert.True(t, out.Transitioned)
	assert.True(t, out.Answered)
	assert.Equal(t, domain.StatusActive, s.Status)
	require.NotNil(t, s.AnsweredAt)

	out = Apply(s, event.Ended{
		Refs:           event.Refs{},
		Cause:          "NORMAL_CLEARING",
		DurationMillis: 65000,
	}, base.Add(70*time.Second))
	assert.True(t, out.Ended)
	assert.Equal(t, domain.StatusEnded, s.Status)
	assert.Equal(t, domain.DispositionCompleted, s.Disposition)
	assert.Equal(t, 65, s.Duration)
	require.NotNil(t, s.EndedAt)
}

func TestApplyEndedWithoutDurationUsesAnswerTime(t *testing.T) {
	s := newSession(domain.StatusActive)
	answered := s.StartedAt.Add(10 * time.Second)
	s.AnsweredAt = &answered

	Apply(s, event.Ended{Cause: "NORMAL_CLEARING"}, answered.Add(42*time.Second))
	assert.Equal(t, 42, s.Duration)
}

func TestApplyEndedNeverAnsweredUsesStartTime(t *testing.T) {
	s := newSession(domain.StatusRinging)

	Apply(s, event.Ended{Cause: "NO_ANSWER"}, s.StartedAt.Add(30*time.Second))
	assert.Equal(t, domain.StatusEnded, s.Status)
	assert.Equal(t, domain.DispositionNoAnswer, s.Disposition)
	assert.Equal(t, 30, s.Duration)
}

func TestApplyEndedStatusIsEndedForEveryCause(t *testing.T) {
	cases := []struct {
		cause string
		want  domain.Disposition
	}{
		{"NORMAL_CLEARING", domain.DispositionCompleted},
		{"USER_BUSY", domain.DispositionBusy},
		{"NO_ANSWER", domain.DispositionNoAnswer},
		{"PROTOCOL_ERROR", domain.DispositionFailed},
	}
	for _, tc := range cases {
		t.Run(tc.cause, func(t *testing.T) {
			s := newSession(domain.StatusActive)
			Apply(s, event.Ended{Cause: tc.cause}, s.StartedAt.Add(time.Minute))
			assert.Equal(t, domain.StatusEnded, s.Status)
			assert.Equal(t, tc.want, s.Disposition)
		})
	}
}

func TestApplyDurationNeverNegative(t *testing.T) {
	s := newSession(domain.StatusActive)
	answered := s.StartedAt.Add(10 * time.Second)
	s.AnsweredAt = &answered

	// Clock skew: end timestamp earlier than answer.
	Apply(s, event.Ended{}, answered.Add(-5*time.Second))
	assert.Equal(t, 0, s.Duration)
}

func TestApplyEventsAfterTerminalAreAbsorbed(t *testing.T) {
	s := newSession(domain.StatusActive)
	Apply(s, event.Ended{Cause: "NORMAL_CLEARING", DurationMillis: 5000}, s.StartedAt.Add(time.Minute))
	require.True(t, s.Status.Terminal())

	endedAt := *s.EndedAt
	duration := s.Duration

	out := Apply(s, event.Answered{}, s.StartedAt.Add(2*time.Minute))
	assert.Equal(t, Outcome{}, out)
	assert.Equal(t, domain.StatusEnded, s.Status)

	out = Apply(s, event.Ended{Cause: "USER_BUSY", DurationMillis: 99000}, s.StartedAt.Add(3*time.Minute))
	assert.Equal(t, Outcome{}, out)
	assert.Equal(t, domain.DispositionCompleted, s.Disposition)
	assert.Equal(t, endedAt, *s.EndedAt)
	assert.Equal(t, duration, s.Duration)
}

func TestApplySecondLegAnswerStillCoordinates(t *testing.T) {
	s := newSession(domain.StatusActive)
	answered := s.StartedAt.Add(3 * time.Second)
	s.AnsweredAt = &answered
	s.AddControlID("ctrl-1")

	out := Apply(s, event.Answered{Refs: event.Refs{ProviderControlID: "ctrl-2"}}, answered.Add(time.Second))
	assert.False(t, out.Transitioned)
	assert.True(t, out.Answered)
	assert.True(t, s.HasControlID("ctrl-2"))
	assert.Equal(t, answered, *s.AnsweredAt)
}

func TestApplyRecordingSaved(t *testing.T) {
	s := newSession(domain.StatusEnded)

	out := Apply(s, event.RecordingSaved{
		URL:            "https://public/r.mp3",
		Channels:       "dual",
		SizeBytes:      2048,
		DurationMillis: 61000,
	}, time.Now())
	assert.True(t, out.RecordingSaved)
	assert.Equal(t, "recording_added", out.Delta)
	assert.True(t, s.HasRecording)
	assert.Equal(t, "https://public/r.mp3", s.RecordingURL)
	assert.Equal(t, 61, s.RecordingDuration)

	// Redelivery does not overwrite.
	out = Apply(s, event.RecordingSaved{URL: "https://other/r.wav"}, time.Now())
	assert.False(t, out.RecordingSaved)
	assert.Equal(t, "https://public/r.mp3", s.RecordingURL)
}

func TestApplyMachineDetected(t *testing.T) {
	s := newSession(domain.StatusActive)

	out := Apply(s, event.MachineDetected{Result: "machine"}, time.Now())
	assert.Equal(t, "machine_detection", out.Delta)
	assert.True(t, s.MachineDetected)
	assert.Equal(t, "machine", s.MachineDetectionResult)

	s2 := newSession(domain.StatusActive)
	Apply(s2, event.MachineDetected{Result: "human"}, time.Now())
	assert.False(t, s2.MachineDetected)
}

func TestHoldResume(t *testing.T) {
	s := newSession(domain.StatusActive)

	require.NoError(t, Hold(s))
	assert.Equal(t, domain.StatusOnHold, s.Status)

	assert.ErrorIs(t, Hold(s), ErrInvalidTransition)

	require.NoError(t, Resume(s))
	assert.Equal(t, domain.StatusActive, s.Status)

	assert.ErrorIs(t, Resume(s), ErrInvalidTransition)

	s.Status = domain.StatusEnded
	assert.ErrorIs(t, Hold(s), ErrInvalidTransition)
}
