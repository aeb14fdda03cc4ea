package remoterelay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
)

// Daemon API paths.
const (
	pathHealth   = "/ha/v1/health"
	pathExchange = "/ha/v1/pairing/exchange"
	pathDevice   = "/ha/v1/device"
	pathCommands = "/ha/v1/commands"
)

// maxResponseBytes caps how much of a daemon response is read.
const maxResponseBytes = 1 << 20

// Transport is the daemon API as seen by pairing, polling and dispatch.
type Transport interface {
	Health(ctx context.Context) (map[string]any, error)
	ExchangePairingCode(ctx context.Context, code, instanceID, integrationName string) (*PairingResult, error)
	GetDeviceProfile(ctx context.Context) (DeviceProfile, error)
	SendCommand(ctx context.Context, payload map[string]any) (map[string]any, error)

	// Session returns the current session; SetSession swaps it atomically.
	Session() Session
	SetSession(s Session)
}

// PairingResult is the decoded pairing exchange response.
type PairingResult struct {
	AccessToken string
	Device      DeviceProfile
}

// Client talks to one RemoteRelay daemon over its local HTTP API.
//
// Thread Safety: safe for concurrent use. The session is held behind an
// atomic pointer so polls and commands always see a whole Session.
type Client struct {
	http    *http.Client
	session atomic.Pointer[Session]
}

// NewClient returns a client for session. A nil httpClient gets one with
// the fixed request timeout.
func NewClient(session Session, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: RequestTimeout}
	}
	c := &Client{http: httpClient}
	c.session.Store(&session)
	return c
}

// Session returns the session currently in use.
func (c *Client) Session() Session {
	return *c.session.Load()
}

// SetSession replaces the session for all subsequent calls.
func (c *Client) SetSession(s Session) {
	c.session.Store(&s)
}

// Health checks reachability. It never sends the token.
func (c *Client) Health(ctx context.Context) (map[string]any, error) {
	return c.requestJSON(ctx, http.MethodGet, pathHealth, nil, false)
}

// ExchangePairingCode trades a pairing code for an access token. Any
// failure comes back as a *PairingError.
func (c *Client) ExchangePairingCode(ctx context.Context, code, instanceID, integrationName string) (*PairingResult, error) {
	if integrationName == "" {
		integrationName = DefaultIntegrationName
	}
	body := map[string]any{
		"pairingCode":           code,
		"integrationInstanceId": instanceID,
		"integrationName":       integrationName,
		"requestedScopes":       []string{PairingScope},
	}

	data, err := c.requestJSON(ctx, http.MethodPost, pathExchange, body, false)
	if err != nil {
		var apiErr *APIError
		if !errors.As(err, &apiErr) {
			apiErr = &APIError{Kind: KindTransport, Message: err.Error(), Err: err}
		}
		return nil, &PairingError{Err: apiErr}
	}

	device, _ := data["device"].(map[string]any)
	return &PairingResult{
		AccessToken: stringify(data["accessToken"]),
		Device:      ParseProfile(device),
	}, nil
}

// GetDeviceProfile fetches the current device profile.
func (c *Client) GetDeviceProfile(ctx context.Context) (DeviceProfile, error) {
	data, err := c.requestJSON(ctx, http.MethodGet, pathDevice, nil, true)
	if err != nil {
		return DeviceProfile{}, err
	}
	return ParseProfile(data), nil
}

// SendCommand posts one command object and returns the daemon's ack.
func (c *Client) SendCommand(ctx context.Context, payload map[string]any) (map[string]any, error) {
	return c.requestJSON(ctx, http.MethodPost, pathCommands, payload, true)
}

// requestJSON performs one call and requires a JSON object back.
func (c *Client) requestJSON(ctx context.Context, method, path string, body any, authenticated bool) (map[string]any, error) {
	ctx, cancel := context.WithTimeout(ctx, RequestTimeout)
	defer cancel()

	session := c.Session()

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, session.BaseURL()+path, reader)
	if err != nil {
		return nil, &APIError{Kind: KindTransport, Message: err.Error(), Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if authenticated && session.AccessToken() != "" {
		req.Header.Set("Authorization", "Bearer "+session.AccessToken())
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &APIError{Kind: KindTransport, Message: err.Error(), Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &APIError{Kind: KindTransport, Status: resp.StatusCode, Message: err.Error(), Err: err}
	}

	var decoded any
	decodeErr := json.Unmarshal(raw, &decoded)
	obj, isObject := decoded.(map[string]any)

	if resp.StatusCode >= http.StatusBadRequest {
		message := fmt.Sprintf("HTTP %d", resp.StatusCode)
		if isObject {
			if m, ok := obj["message"]; ok && m != nil {
				message = stringify(m)
			}
		}
		return nil, &APIError{Kind: KindHTTP, Status: resp.StatusCode, Message: message}
	}

	if decodeErr != nil || !isObject {
		return nil, &APIError{
			Kind:    KindInvalidResponse,
			Status:  resp.StatusCode,
			Message: "Invalid JSON response type.",
			Err:     decodeErr,
		}
	}
	return obj, nil
}
