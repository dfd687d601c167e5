package domain

import (
	"time"
)

// CallDirection represents which side originated a call.
type CallDirection string

const (
	DirectionInbound  CallDirection = "inbound"
	DirectionOutbound CallDirection = "outbound"
)

// CallStatus is the lifecycle state of a call session.
//
// Statuses are monotonic: dialing/ringing -> active -> (on_hold <-> active)
// -> ended|failed. Ended and failed are terminal.
type CallStatus string

const (
	StatusDialing CallStatus = "dialing"
	StatusRinging CallStatus = "ringing"
	StatusActive  CallStatus = "active"
	StatusOnHold  CallStatus = "on_hold"
	StatusEnded   CallStatus = "ended"
	StatusFailed  CallStatus = "failed"
)

// Terminal reports whether the status accepts no further transitions.
func (s CallStatus) Terminal() bool {
	return s == StatusEnded || s == StatusFailed
}

// Disposition classifies how a terminated call ended.
type Disposition string

const (
	DispositionCompleted Disposition = "completed"
	DispositionBusy      Disposition = "busy"
	DispositionNoAnswer  Disposition = "no_answer"
	DispositionFailed    Disposition = "failed"
)

// CallSession is the per-call record owned by the orchestrator. The internal
// CallID is generated at creation; provider ids are learned from the create
// response or from the first correlated webhook.
type CallSession struct {
	CallID            string `json:"call_id" gorm:"column:call_id;primaryKey"`
	ProviderSessionID string `json:"provider_session_id" gorm:"column:provider_session_id;index"`
	ProviderControlID string `json:"provider_control_id" gorm:"column:provider_control_id;index"`
	// ControlIDs holds one provider control id per bridged leg, in answer order.
	ControlIDs  StringList    `json:"control_ids" gorm:"column:control_ids;serializer:json"`
	Direction   CallDirection `json:"direction" gorm:"column:direction"`
	FromNumber  string        `json:"from_number" gorm:"column:from_number"`
	ToNumber    string        `json:"to_number" gorm:"column:to_number"`
	Status      CallStatus    `json:"status" gorm:"column:status"`
	Disposition Disposition   `json:"disposition,omitempty" gorm:"column:disposition"`

	StartedAt  *time.Time `json:"started_at,omitempty" gorm:"column:started_at"`
	AnsweredAt *time.Time `json:"answered_at,omitempty" gorm:"column:answered_at"`
	EndedAt    *time.Time `json:"ended_at,omitempty" gorm:"column:ended_at"`
	// Duration in whole seconds, computed exactly once at the terminal
	// transition.
	Duration int `json:"duration" gorm:"column:duration"`

	HangupCause  string `json:"hangup_cause,omitempty" gorm:"column:hangup_cause"`
	HangupSource string `json:"hangup_source,omitempty" gorm:"column:hangup_source"`
	SIPCode      string `json:"sip_code,omitempty" gorm:"column:sip_code"`

	ConferenceID string `json:"conference_id,omitempty" gorm:"column:conference_id;index"`

	IsRecording        bool       `json:"is_recording" gorm:"column:is_recording"`
	HasRecording       bool       `json:"has_recording" gorm:"column:has_recording"`
	RecordingURL       string     `json:"recording_url,omitempty" gorm:"column:recording_url"`
	RecordingSizeBytes int64      `json:"recording_size_bytes,omitempty" gorm:"column:recording_size_bytes"`
	RecordingDuration  int        `json:"recording_duration,omitempty" gorm:"column:recording_duration"`
	RecordingChannels  string     `json:"recording_channels,omitempty" gorm:"column:recording_channels"`
	RecordingSavedAt   *time.Time `json:"recording_saved_at,omitempty" gorm:"column:recording_saved_at"`
	// RecordingDegraded is set when the asset download failed and
	// RecordingURL still points at the provider's expiring URL.
	RecordingDegraded bool `json:"recording_degraded,omitempty" gorm:"column:recording_degraded"`

	MachineDetected        bool   `json:"machine_detected,omitempty" gorm:"column:machine_detected"`
	MachineDetectionResult string `json:"machine_detection_result,omitempty" gorm:"column:machine_detection_result"`

	// Notes and Tags are owned by the CRUD layer; the orchestrator only
	// carries them through and broadcasts their updates.
	Notes string     `json:"notes" gorm:"column:notes"`
	Tags  StringList `json:"tags" gorm:"column:tags;serializer:json"`

	CreatedAt time.Time `json:"created_at" gorm:"column:created_at"`
	UpdatedAt time.Time `json:"updated_at" gorm:"column:updated_at"`
}

func (CallSession) TableName() string {
	return "call_sessions"
}

// StringList is a JSON-serialized string slice column.
type StringList []string

// HasControlID reports whether the given provider control id belongs to one of
// the session's legs.
func (s *CallSession) HasControlID(controlID string) bool {
	if controlID == "" {
		return false
	}
	if s.ProviderControlID == controlID {
		return true
	}
	for _, id := range s.ControlIDs {
		if id == controlID {
			return true
		}
	}
	return false
}

// AddControlID records a leg's provider control id if not already known.
func (s *CallSession) AddControlID(controlID string) {
	if controlID == "" || s.HasControlID(controlID) {
		return
	}
	if s.ProviderControlID == "" {
		s.ProviderControlID = controlID
	}
	s.ControlIDs = append(s.ControlIDs, controlID)
}

// ConferenceState tracks the provider conference bridging a call's legs. The
// leader is the first leg to answer and is never reassigned.
type ConferenceState struct {
	CallID          string    `json:"call_id"`
	ConferenceID    string    `json:"conference_id"`
	ConferenceName  string    `json:"conference_name"`
	LeaderControlID string    `json:"leader_control_id"`
	Participants    []string  `json:"participants"`
	RecordingActive bool      `json:"recording_active"`
	CreatedAt       time.Time `json:"created_at"`
}

// WebhookRecord is one archived provider event. Every received webhook is
// archived exactly once, matched or not.
type WebhookRecord struct {
	ID                string    `json:"id" gorm:"column:id;primaryKey"`
	EventType         string    `json:"event_type" gorm:"column:event_type;index"`
	CallID            string    `json:"call_id,omitempty" gorm:"column:call_id;index"`
	ProviderSessionID string    `json:"provider_session_id,omitempty" gorm:"column:provider_session_id"`
	ProviderControlID string    `json:"provider_control_id,omitempty" gorm:"column:provider_control_id"`
	Payload           string    `json:"payload" gorm:"column:payload"`
	ReceivedAt        time.Time `json:"received_at" gorm:"column:received_at;index"`
}

func (WebhookRecord) TableName() string {
	return "webhook_events"
}

// Recording is the stored metadata for a saved call recording.
type Recording struct {
	ID          string    `json:"id" gorm:"column:id;primaryKey"`
	CallID      string    `json:"call_id" gorm:"column:call_id;uniqueIndex"`
	URL         string    `json:"url" gorm:"column:url"`
	ProviderURL string    `json:"provider_url,omitempty" gorm:"column:provider_url"`
	SizeBytes   int64     `json:"size_bytes" gorm:"column:size_bytes"`
	Duration    int       `json:"duration" gorm:"column:duration"`
	Format      string    `json:"format" gorm:"column:format"`
	Channels    string    `json:"channels" gorm:"column:channels"`
	FromNumber  string    `json:"from_number" gorm:"column:from_number"`
	ToNumber    string    `json:"to_number" gorm:"column:to_number"`
	Degraded    bool      `json:"degraded" gorm:"column:degraded"`
	CreatedAt   time.Time `json:"created_at" gorm:"column:created_at"`
}

func (Recording) TableName() string {
	return "recordings"
}
