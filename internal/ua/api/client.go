package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	types "github.com/sebas/softphone/api/types/v1"
	"github.com/sebas/softphone/internal/ua/events"
)

// Client is an HTTP client for the softphone status API
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new status API client
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// BaseURL returns the API base URL
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Health fetches health status
func (c *Client) Health(ctx context.Context) (*types.HealthResponse, error) {
	var health types.HealthResponse
	if err := c.get(ctx, "/api/v1/health", &health); err != nil {
		return nil, fmt.Errorf("health: %w", err)
	}
	return &health, nil
}

// Account fetches the account status
func (c *Client) Account(ctx context.Context) (*types.Account, error) {
	var acc types.Account
	if err := c.get(ctx, "/api/v1/account", &acc); err != nil {
		return nil, fmt.Errorf("account: %w", err)
	}
	return &acc, nil
}

// Calls fetches all live calls
func (c *Client) Calls(ctx context.Context) ([]types.Call, error) {
	var calls []types.Call
	if err := c.get(ctx, "/api/v1/calls", &calls); err != nil {
		return nil, fmt.Errorf("calls: %w", err)
	}
	return calls, nil
}

// Call fetches one live call
func (c *Client) Call(ctx context.Context, id string) (*types.Call, error) {
	var call types.Call
	if err := c.get(ctx, "/api/v1/calls/"+url.PathEscape(id), &call); err != nil {
		return nil, fmt.Errorf("call %s: %w", id, err)
	}
	return &call, nil
}

// Devices fetches the audio devices
func (c *Client) Devices(ctx context.Context) ([]types.Device, error) {
	var devs []types.Device
	if err := c.get(ctx, "/api/v1/devices", &devs); err != nil {
		return nil, fmt.Errorf("devices: %w", err)
	}
	return devs, nil
}

// Codecs fetches the codecs and their priorities
func (c *Client) Codecs(ctx context.Context) ([]types.Codec, error) {
	var codecs []types.Codec
	if err := c.get(ctx, "/api/v1/codecs", &codecs); err != nil {
		return nil, fmt.Errorf("codecs: %w", err)
	}
	return codecs, nil
}

// SetCodecPriority changes the priority of one codec
func (c *Client) SetCodecPriority(ctx context.Context, id string, priority int) error {
	body, err := json.Marshal(types.CodecPriorityRequest{Priority: priority})
	if err != nil {
		return err
	}
	return c.do(ctx, http.MethodPut, "/api/v1/codecs/"+url.PathEscape(id), bytes.NewReader(body), nil)
}

// Events fetches up to limit recent events matching pattern
func (c *Client) Events(ctx context.Context, pattern string, limit int) ([]*events.Event, error) {
	q := url.Values{}
	if pattern != "" {
		q.Set("pattern", pattern)
	}
	q.Set("limit", fmt.Sprint(limit))
	var evs []*events.Event
	if err := c.get(ctx, "/api/v1/events?"+q.Encode(), &evs); err != nil {
		return nil, fmt.Errorf("events: %w", err)
	}
	return evs, nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodGet, path, nil, out)
}

// do performs one request and decodes a JSON reply into out when non-nil
func (c *Client) do(ctx context.Context, method, path string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var e types.ErrorResponse
		if json.NewDecoder(resp.Body).Decode(&e) == nil && e.Error != "" {
			return fmt.Errorf("unexpected status: %d: %s", resp.StatusCode, e.Error)
		}
		return fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	return nil
}
