package telnyx

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

const DefaultBaseURL = "https://api.telnyx.com/v2"

// Client talks to the Telnyx Call Control v2 API. Every method is best-effort
// from the orchestrator's point of view: callers log failures and keep local
// state authoritative.
type Client struct {
	BaseURL      string
	APIKey       string
	ConnectionID string
	HTTPClient   *http.Client

	limiter *rate.Limiter
}

// Config holds the settings needed to construct a Client.
type Config struct {
	BaseURL      string
	APIKey       string
	ConnectionID string
	// RequestsPerSecond bounds outbound API calls; zero means no limit.
	RequestsPerSecond float64
}

// NewClient creates a Telnyx API client.
func NewClient(cfg Config) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), int(cfg.RequestsPerSecond)+1)
	}

	return &Client{
		BaseURL:      baseURL,
		APIKey:       cfg.APIKey,
		ConnectionID: cfg.ConnectionID,
		HTTPClient:   &http.Client{Timeout: 30 * time.Second},
		limiter:      limiter,
	}
}

// APIError is a non-2xx response from Telnyx.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("telnyx API error (status %d): %s", e.StatusCode, e.Body)
}

// CallIdentifiers are the provider ids returned when a call leg is created.
type CallIdentifiers struct {
	ControlID string
	SessionID string
	LegID     string
}

// RecordConfig controls conference recording.
type RecordConfig struct {
	Format   string // "wav" or "mp3"
	Channels string // "single" or "dual"
}

type createCallRequest struct {
	ConnectionID     string `json:"connection_id"`
	To               string `json:"to"`
	From             string `json:"from"`
	WebhookURL       string `json:"webhook_url"`
	WebhookURLMethod string `json:"webhook_url_method"`
	ClientState      string `json:"client_state,omitempty"`
	TimeoutSecs      int    `json:"timeout_secs,omitempty"`
	TimeLimitSecs    int    `json:"time_limit_secs,omitempty"`
}

type callData struct {
	CallControlID string `json:"call_control_id"`
	CallSessionID string `json:"call_session_id"`
	CallLegID     string `json:"call_leg_id"`
	IsAlive       bool   `json:"is_alive"`
}

type apiEnvelope struct {
	Data   json.RawMessage `json:"data"`
	Errors []struct {
		Code   string `json:"code"`
		Title  string `json:"title"`
		Detail string `json:"detail"`
	} `json:"errors"`
}

// CreateCall dials an outbound leg. The clientState is an opaque base64 token
// echoed back by Telnyx on every webhook for this leg.
func (c *Client) CreateCall(ctx context.Context, to, from, webhookURL, clientState string) (CallIdentifiers, error) {
	req := createCallRequest{
		ConnectionID:     c.ConnectionID,
		To:               to,
		From:             from,
		WebhookURL:       webhookURL,
		WebhookURLMethod: "POST",
		ClientState:      clientState,
		TimeoutSecs:      60,
		TimeLimitSecs:    14400,
	}

	raw, err := c.post(ctx, "/calls", req)
	if err != nil {
		return CallIdentifiers{}, err
	}

	var data callData
	if err := json.Unmarshal(raw, &data); err != nil {
		return CallIdentifiers{}, fmt.Errorf("decode create call response: %w", err)
	}

	return CallIdentifiers{
		ControlID: data.CallControlID,
		SessionID: data.CallSessionID,
		LegID:     data.CallLegID,
	}, nil
}

// AnswerCall answers an inbound leg, attaching clientState for correlation of
// later webhooks.
func (c *Client) AnswerCall(ctx context.Context, controlID, clientState string) error {
	return c.callAction(ctx, controlID, "answer", map[string]any{
		"client_state": clientState,
	})
}

// Hangup terminates a leg.
func (c *Client) Hangup(ctx context.Context, controlID string) error {
	return c.callAction(ctx, controlID, "hangup", map[string]any{})
}

// CreateConference creates a conference anchored on the given leg, with
// recording enabled from the start so no audio is lost while the second leg
// joins.
func (c *Client) CreateConference(ctx context.Context, controlID, name string, rec RecordConfig) (string, error) {
	raw, err := c.post(ctx, "/conferences", map[string]any{
		"call_control_id": controlID,
		"name":            name,
		"beep_enabled":    "never",
		"record":          rec.Channels + "-channel",
		"record_format":   rec.Format,
	})
	if err != nil {
		return "", err
	}

	var data struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &data); err != nil {
		return "", fmt.Errorf("decode create conference response: %w", err)
	}
	return data.ID, nil
}

// JoinConference adds a leg to an existing conference.
func (c *Client) JoinConference(ctx context.Context, conferenceID, controlID string) error {
	_, err := c.post(ctx, fmt.Sprintf("/conferences/%s/actions/join", conferenceID), map[string]any{
		"call_control_id": controlID,
	})
	return err
}

// StartConferenceRecording starts recording the mixed conference audio.
func (c *Client) StartConferenceRecording(ctx context.Context, conferenceID string, rec RecordConfig) error {
	_, err := c.post(ctx, fmt.Sprintf("/conferences/%s/actions/record_start", conferenceID), map[string]any{
		"format":   rec.Format,
		"channels": rec.Channels,
	})
	return err
}

// StopConferenceRecording stops an active conference recording.
func (c *Client) StopConferenceRecording(ctx context.Context, conferenceID string) error {
	_, err := c.post(ctx, fmt.Sprintf("/conferences/%s/actions/record_stop", conferenceID), map[string]any{})
	return err
}

// HoldConference places the given conference participants on hold.
func (c *Client) HoldConference(ctx context.Context, conferenceID string, controlIDs []string) error {
	_, err := c.post(ctx, fmt.Sprintf("/conferences/%s/actions/hold", conferenceID), map[string]any{
		"call_control_ids": controlIDs,
	})
	return err
}

// ResumeConference takes the given conference participants off hold.
func (c *Client) ResumeConference(ctx context.Context, conferenceID string, controlIDs []string) error {
	_, err := c.post(ctx, fmt.Sprintf("/conferences/%s/actions/unhold", conferenceID), map[string]any{
		"call_control_ids": controlIDs,
	})
	return err
}

// StartRecording starts a per-leg recording.
func (c *Client) StartRecording(ctx context.Context, controlID string, rec RecordConfig) error {
	return c.callAction(ctx, controlID, "record_start", map[string]any{
		"format":   rec.Format,
		"channels": rec.Channels,
	})
}

// StopRecording stops a per-leg recording.
func (c *Client) StopRecording(ctx context.Context, controlID string) error {
	return c.callAction(ctx, controlID, "record_stop", map[string]any{})
}

// callAction performs a call control action on a leg.
func (c *Client) callAction(ctx context.Context, controlID, action string, params map[string]any) error {
	_, err := c.post(ctx, fmt.Sprintf("/calls/%s/actions/%s", controlID, action), params)
	return err
}

func (c *Client) post(ctx context.Context, path string, payload any) (json.RawMessage, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.APIKey)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("API request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return nil, &APIError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	var envelope apiEnvelope
	if len(respBody) > 0 {
		if err := json.Unmarshal(respBody, &envelope); err != nil {
			return nil, fmt.Errorf("decode response: %w (body: %s)", err, string(respBody))
		}
		if len(envelope.Errors) > 0 {
			return nil, fmt.Errorf("telnyx error: %s - %s", envelope.Errors[0].Title, envelope.Errors[0].Detail)
		}
	}
	return envelope.Data, nil
}
