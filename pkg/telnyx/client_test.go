package telnyx

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(srv *httptest.Server) *Client {
	return NewClient(Config{
		BaseURL:      srv.URL,
		APIKey:       "test-key",
		ConnectionID: "conn-123",
	})
}

func TestCreateCall(t *testing.T) {
	var gotPath, gotAuth string
	var gotReq createCallRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data":{"call_control_id":"ctrl-1","call_session_id":"sess-1","call_leg_id":"leg-1","is_alive":true}}`))
	}))
	defer srv.Close()

	c := newTestClient(srv)
	ids, err := c.CreateCall(context.Background(), "+15550001111", "+15550002222", "https://gw.example.com/webhooks/call", "token")
	require.NoError(t, err)

	assert.Equal(t, "/calls", gotPath)
	assert.Equal(t, "Bearer test-key", gotAuth)
	assert.Equal(t, "conn-123", gotReq.ConnectionID)
	assert.Equal(t, "+15550001111", gotReq.To)
	assert.Equal(t, "token", gotReq.ClientState)
	assert.Equal(t, "POST", gotReq.WebhookURLMethod)

	assert.Equal(t, "ctrl-1", ids.ControlID)
	assert.Equal(t, "sess-1", ids.SessionID)
	assert.Equal(t, "leg-1", ids.LegID)
}

func TestCreateCallAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"errors":[{"code":"90010","title":"Invalid number"}]}`))
	}))
	defer srv.Close()

	c := newTestClient(srv)
	_, err := c.CreateCall(context.Background(), "bogus", "+15550002222", "https://gw.example.com/webhooks/call", "")
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnprocessableEntity, apiErr.StatusCode)
	assert.Contains(t, apiErr.Body, "Invalid number")
}

func TestEnvelopeErrorsOn2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"errors":[{"code":"10015","title":"Call has already ended","detail":"The call is no longer active"}]}`))
	}))
	defer srv.Close()

	c := newTestClient(srv)
	err := c.Hangup(context.Background(), "ctrl-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Call has already ended")
}

func TestConferenceActions(t *testing.T) {
	type captured struct {
		path string
		body map[string]any
	}
	var calls []captured

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		calls = append(calls, captured{path: r.URL.Path, body: body})

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data":{"id":"conf-1"}}`))
	}))
	defer srv.Close()

	c := newTestClient(srv)
	ctx := context.Background()

	confID, err := c.CreateConference(ctx, "ctrl-1", "call-abc", RecordConfig{Format: "wav", Channels: "dual"})
	require.NoError(t, err)
	assert.Equal(t, "conf-1", confID)

	require.NoError(t, c.JoinConference(ctx, confID, "ctrl-2"))
	require.NoError(t, c.StartConferenceRecording(ctx, confID, RecordConfig{Format: "wav", Channels: "dual"}))
	require.NoError(t, c.HoldConference(ctx, confID, []string{"ctrl-1", "ctrl-2"}))
	require.NoError(t, c.StopConferenceRecording(ctx, confID))

	require.Len(t, calls, 5)

	assert.Equal(t, "/conferences", calls[0].path)
	assert.Equal(t, "ctrl-1", calls[0].body["call_control_id"])
	assert.Equal(t, "dual-channel", calls[0].body["record"])
	assert.Equal(t, "wav", calls[0].body["record_format"])

	assert.Equal(t, "/conferences/conf-1/actions/join", calls[1].path)
	assert.Equal(t, "ctrl-2", calls[1].body["call_control_id"])

	assert.Equal(t, "/conferences/conf-1/actions/record_start", calls[2].path)

	assert.Equal(t, "/conferences/conf-1/actions/hold", calls[3].path)
	assert.ElementsMatch(t, []any{"ctrl-1", "ctrl-2"}, calls[3].body["call_control_ids"])

	assert.Equal(t, "/conferences/conf-1/actions/record_stop", calls[4].path)
}

func TestAnswerCallCarriesClientState(t *testing.T) {
	var gotPath string
	var gotBody map[string]any

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.Write([]byte(`{"data":{}}`))
	}))
	defer srv.Close()

	c := newTestClient(srv)
	require.NoError(t, c.AnswerCall(context.Background(), "ctrl-9", "opaque-token"))

	assert.Equal(t, "/calls/ctrl-9/actions/answer", gotPath)
	assert.Equal(t, "opaque-token", gotBody["client_state"])
}
