package event

import (
	"encoding/base64"
	"fmt"
	"testing"
	"time"

	"github.com/dialverse/call-gateway/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func webhookBody(eventType string, payload string) []byte {
	return []byte(fmt.Sprintf(`{"data":{"event_type":%q,"payload":%s}}`, eventType, payload))
}

func TestEncodeCorrelationTokenRoundTrip(t *testing.T) {
	token := EncodeCorrelationToken("call-123", "outbound")

	callID, leg := decodeCorrelationToken(token)
	assert.Equal(t, "call-123", callID)
	assert.Equal(t, "outbound", leg)
}

func TestDecodeCorrelationTokenMalformed(t *testing.T) {
	cases := []struct {
		name  string
		state string
	}{
		{"empty", ""},
		{"not base64", "%%%not-base64%%%"},
		{"base64 but not json", base64.StdEncoding.EncodeToString([]byte("plain text"))},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			callID, leg := decodeCorrelationToken(tc.state)
			assert.Empty(t, callID)
			assert.Empty(t, leg)
		})
	}
}

func TestParseInitiatedInbound(t *testing.T) {
	body := webhookBody("call.initiated", `{
		"call_session_id": "sess-1",
		"call_control_id": "ctrl-1",
		"direction": "incoming",
		"from": "+15550001111",
		"to": "+15550002222"
	}`)

	now := time.Now()
	ev, err := Parse(body, now)
	require.NoError(t, err)

	init, ok := ev.(Initiated)
	require.True(t, ok)
	assert.Equal(t, domain.DirectionInbound, init.Direction)
	assert.Equal(t, "+15550001111", init.FromNumber)
	assert.Equal(t, "+15550002222", init.ToNumber)
	assert.Equal(t, "sess-1", init.Refs.ProviderSessionID)
	assert.Equal(t, "ctrl-1", init.Refs.ProviderControlID)
	assert.Equal(t, now, init.Refs.ReceivedAt)
}

func TestParseAnsweredCarriesCorrelationToken(t *testing.T) {
	token := EncodeCorrelationToken("call-xyz", "outbound")
	body := webhookBody("call.answered", fmt.Sprintf(`{
		"call_session_id": "sess-2",
		"call_control_id": "ctrl-2",
		"client_state": %q
	}`, token))

	ev, err := Parse(body, time.Now())
	require.NoError(t, err)

	_, ok := ev.(Answered)
	require.True(t, ok)
	assert.Equal(t, "call-xyz", ev.Meta().CorrelationID)
	assert.Equal(t, "outbound", ev.Meta().Leg)
}

func TestParseEnded(t *testing.T) {
	body := webhookBody("call.hangup", `{
		"call_session_id": "sess-3",
		"hangup_cause": "USER_BUSY",
		"hangup_source": "callee",
		"sip_hangup_cause": "486",
		"duration_millis": 12500
	}`)

	ev, err := Parse(body, time.Now())
	require.NoError(t, err)

	ended, ok := ev.(Ended)
	require.True(t, ok)
	assert.Equal(t, "USER_BUSY", ended.Cause)
	assert.Equal(t, "callee", ended.Source)
	assert.Equal(t, "486", ended.SIPCode)
	assert.Equal(t, int64(12500), ended.DurationMillis)
}

func TestParseRecordingSavedPrefersPublicMP3(t *testing.T) {
	body := webhookBody("conference.recording.saved", `{
		"conference_id": "conf-1",
		"recording_urls": {"wav": "https://private/r.wav", "mp3": "https://private/r.mp3"},
		"public_recording_urls": {"wav": "https://public/r.wav", "mp3": "https://public/r.mp3"},
		"channels": "dual",
		"duration_millis": 60000
	}`)

	ev, err := Parse(body, time.Now())
	require.NoError(t, err)

	rec, ok := ev.(RecordingSaved)
	require.True(t, ok)
	assert.Equal(t, "https://public/r.mp3", rec.URL)
	assert.Equal(t, "mp3", rec.Format)
	assert.Equal(t, "conf-1", rec.ConferenceID)
	assert.Equal(t, "dual", rec.Channels)
}

func TestParseRecordingSavedFallsBackToPrivateWav(t *testing.T) {
	body := webhookBody("call.recording.saved", `{
		"recording_urls": {"wav": "https://private/r.wav"}
	}`)

	ev, err := Parse(body, time.Now())
	require.NoError(t, err)

	rec := ev.(RecordingSaved)
	assert.Equal(t, "https://private/r.wav", rec.URL)
	assert.Equal(t, "wav", rec.Format)
}

func TestParseUnknownEventTypeIsIgnored(t *testing.T) {
	body := webhookBody("call.dtmf.received", `{"call_session_id": "sess-9"}`)

	ev, err := Parse(body, time.Now())
	require.NoError(t, err)

	_, ok := ev.(Ignored)
	assert.True(t, ok)
	assert.Equal(t, "call.dtmf.received", ev.Type())
}

func TestParseUnreadableBody(t *testing.T) {
	_, err := Parse([]byte("this is not json"), time.Now())
	assert.Error(t, err)
}
