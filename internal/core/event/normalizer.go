package event

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dialverse/call-gateway/internal/domain"
)

// webhookEnvelope is the Telnyx Call Control webhook envelope. All raw field
// extraction happens in this package; the rest of the system only sees the
// typed Event union.
type webhookEnvelope struct {
	Data struct {
		ID        string          `json:"id"`
		EventType string          `json:"event_type"`
		Payload   webhookPayload  `json:"payload"`
		RecordAt  json.RawMessage `json:"occurred_at"`
	} `json:"data"`
}

type webhookPayload struct {
	CallSessionID string `json:"call_session_id"`
	CallControlID string `json:"call_control_id"`
	CallLegID     string `json:"call_leg_id"`
	ConferenceID  string `json:"conference_id"`
	ClientState   string `json:"client_state"`
	Direction     string `json:"direction"`
	From          string `json:"from"`
	To            string `json:"to"`

	HangupCause    string `json:"hangup_cause"`
	HangupSource   string `json:"hangup_source"`
	SIPHangupCause string `json:"sip_hangup_cause"`
	DurationMillis int64  `json:"duration_millis"`

	RecordingURLs       map[string]string `json:"recording_urls"`
	PublicRecordingURLs map[string]string `json:"public_recording_urls"`
	Format              string            `json:"format"`
	Channels            string            `json:"channels"`
	Size                int64             `json:"size"`

	Result string `json:"result"`
}

// correlationToken is the client_state payload this gateway mints at call
// creation and the provider echoes back verbatim (base64-encoded).
type correlationToken struct {
	CallID string `json:"call_id"`
	Leg    string `json:"leg"`
}

// EncodeCorrelationToken builds the opaque client_state value for a leg.
func EncodeCorrelationToken(callID, leg string) string {
	data, _ := json.Marshal(correlationToken{CallID: callID, Leg: leg})
	return base64.StdEncoding.EncodeToString(data)
}

// decodeCorrelationToken recovers the internal call id from a client_state
// value. A malformed token is treated as absent, not as an error.
func decodeCorrelationToken(state string) (callID, leg string) {
	if state == "" {
		return "", ""
	}
	raw, err := base64.StdEncoding.DecodeString(state)
	if err != nil {
		return "", ""
	}
	var tok correlationToken
	if err := json.Unmarshal(raw, &tok); err != nil {
		return "", ""
	}
	return tok.CallID, tok.Leg
}

// Parse normalizes a raw webhook body into a typed Event. Unrecognized event
// kinds come back as Ignored; only a structurally unreadable body is an error.
func Parse(body []byte, receivedAt time.Time) (Event, error) {
	var env webhookEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("unreadable webhook body: %w", err)
	}

	p := env.Data.Payload
	callID, leg := decodeCorrelationToken(p.ClientState)

	refs := Refs{
		ProviderSessionID: p.CallSessionID,
		ProviderControlID: p.CallControlID,
		CorrelationID:     callID,
		Leg:               leg,
		EventType:         env.Data.EventType,
		ReceivedAt:        receivedAt,
		Raw:               body,
	}

	switch env.Data.EventType {
	case "call.initiated":
		direction := domain.DirectionOutbound
		if p.Direction == "incoming" {
			direction = domain.DirectionInbound
		}
		return Initiated{
			Refs:       refs,
			Direction:  direction,
			FromNumber: p.From,
			ToNumber:   p.To,
		}, nil

	case "call.answered", "call.bridged":
		return Answered{Refs: refs}, nil

	case "call.hangup", "call.ended":
		return Ended{
			Refs:           refs,
			Cause:          p.HangupCause,
			Source:         p.HangupSource,
			SIPCode:        p.SIPHangupCause,
			DurationMillis: p.DurationMillis,
		}, nil

	case "call.recording.saved", "conference.recording.saved":
		url, format := pickRecordingURL(p.PublicRecordingURLs, p.RecordingURLs)
		if format == "" {
			format = p.Format
		}
		return RecordingSaved{
			Refs:           refs,
			ConferenceID:   p.ConferenceID,
			URL:            url,
			Format:         format,
			Channels:       p.Channels,
			SizeBytes:      p.Size,
			DurationMillis: p.DurationMillis,
		}, nil

	case "call.machine.detection.ended":
		return MachineDetected{Refs: refs, Result: p.Result}, nil

	default:
		return Ignored{Refs: refs}, nil
	}
}

// pickRecordingURL prefers public URLs over authenticated ones, and mp3 over
// wav within each set.
func pickRecordingURL(public, private map[string]string) (url, format string) {
	for _, urls := range []map[string]string{public, private} {
		for _, f := range []string{"mp3", "wav"} {
			if u := urls[f]; u != "" {
				return u, f
			}
		}
	}
	return "", ""
}
