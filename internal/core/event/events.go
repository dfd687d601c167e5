package event

import (
	"time"

	"github.com/dialverse/call-gateway/internal/domain"
)

// Event is the closed union of normalized provider events. The state machine
// switches exhaustively over the concrete types; nothing downstream of the
// normalizer inspects raw payload fields.
type Event interface {
	// Meta returns the identifiers shared by every event kind.
	Meta() Refs
	// Type returns the provider event type string, for archiving and logs.
	Type() string
}

// Refs carries the identifiers used to resolve an event to a session, plus
// the receipt timestamp.
type Refs struct {
	ProviderSessionID string
	ProviderControlID string
	// CorrelationID is the internal call id recovered from the decoded
	// client_state token, when present.
	CorrelationID string
	// Leg is the leg label minted into the correlation token ("inbound",
	// "outbound"), when present.
	Leg        string
	EventType  string
	ReceivedAt time.Time
	Raw        []byte
}

func (r Refs) Meta() Refs   { return r }
func (r Refs) Type() string { return r.EventType }

// The embedded Refs promotes Meta and Type onto every event kind.
var (
	_ Event = Initiated{}
	_ Event = Answered{}
	_ Event = Ended{}
	_ Event = RecordingSaved{}
	_ Event = MachineDetected{}
	_ Event = Ignored{}
)

// Initiated is a call.initiated event for a new or known leg.
type Initiated struct {
	Refs
	Direction  domain.CallDirection
	FromNumber string
	ToNumber   string
}

// Answered is a call.answered event; it triggers conference coordination.
type Answered struct {
	Refs
}

// Ended is a terminal call.hangup / call.ended event.
type Ended struct {
	Refs
	Cause          string
	Source         string
	SIPCode        string
	DurationMillis int64
}

// RecordingSaved carries the saved recording asset metadata. Conference
// recordings resolve through ConferenceID instead of the leg identifiers.
type RecordingSaved struct {
	Refs
	ConferenceID   string
	URL            string
	Format         string
	Channels       string
	SizeBytes      int64
	DurationMillis int64
}

// MachineDetected is the answering machine detection verdict for a leg.
type MachineDetected struct {
	Refs
	Result string
}

// Ignored is any event kind the orchestrator does not act on. It is still
// archived.
type Ignored struct {
	Refs
}
