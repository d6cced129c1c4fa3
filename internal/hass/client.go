package hass

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"str-manager/config"
)

// Client talks to the Home Assistant REST API.
type Client struct {
	baseURL string
	token   string
	client  *http.Client
}

// APIError is a non-2xx response from Home Assistant.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

// NewClient creates a Home Assistant client from the connection settings.
func NewClient(cfg *config.HomeAssistantConfig) *Client {
	var transport http.RoundTripper = &http.Transport{}
	if cfg.HTTPProxy != "" {
		proxyURL, err := url.Parse(cfg.HTTPProxy)
		if err != nil {
			log.Printf("Warning: Invalid proxy URL %q: %v. Home Assistant client will not use a proxy.", cfg.HTTPProxy, err)
		} else {
			transport = &http.Transport{Proxy: http.ProxyURL(proxyURL)}
		}
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.URL, "/"),
		token:   cfg.Token,
		client: &http.Client{
			Transport: transport,
			Timeout:   timeout,
		},
	}
}

// entityState is the body of GET /api/states/<entity_id>.
type entityState struct {
	EntityID    string         `json:"entity_id"`
	State       string         `json:"state"`
	Attributes  map[string]any `json:"attributes"`
	LastChanged string         `json:"last_changed"`
}

// State returns the state string of an entity.
func (c *Client) State(ctx context.Context, entityID string) (string, error) {
	st, err := c.getState(ctx, entityID)
	if err != nil {
		return "", err
	}
	return st.State, nil
}

// Attribute returns one attribute of an entity formatted as a string. A
// missing or null attribute is returned as the empty string.
func (c *Client) Attribute(ctx context.Context, entityID, attribute string) (string, error) {
	st, err := c.getState(ctx, entityID)
	if err != nil {
		return "", err
	}
	switch v := st.Attributes[attribute].(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	default:
		return fmt.Sprint(v), nil
	}
}

func (c *Client) getState(ctx context.Context, entityID string) (*entityState, error) {
	body, err := c.do(ctx, http.MethodGet, "/api/states/"+url.PathEscape(entityID), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get state of %s: %w", entityID, err)
	}
	var st entityState
	if err := json.Unmarshal(body, &st); err != nil {
		return nil, fmt.Errorf("failed to unmarshal state of %s: %w", entityID, err)
	}
	return &st, nil
}

// CallService invokes a Home Assistant service, e.g. climate/turn_off.
func (c *Client) CallService(ctx context.Context, domain, service string, data map[string]any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal service data: %w", err)
	}
	path := "/api/services/" + url.PathEscape(domain) + "/" + url.PathEscape(service)
	if _, err := c.do(ctx, http.MethodPost, path, payload); err != nil {
		return fmt.Errorf("service %s/%s failed: %w", domain, service, err)
	}
	return nil
}

// SetCheckinTime sets an input_datetime entity's time value ("15:04:05").
func (c *Client) SetCheckinTime(ctx context.Context, entityID, value string) error {
	return c.CallService(ctx, "input_datetime", "set_datetime", map[string]any{
		"entity_id": entityID,
		"time":      value,
	})
}

// TurnOff switches a climate entity off.
func (c *Client) TurnOff(ctx context.Context, entityID string) error {
	return c.CallService(ctx, "climate", "turn_off", map[string]any{
		"entity_id": entityID,
	})
}

// SetTemperature puts a climate entity in mode with the given target.
func (c *Client) SetTemperature(ctx context.Context, entityID, mode string, target float64) error {
	return c.CallService(ctx, "climate", "set_temperature", map[string]any{
		"entity_id":   entityID,
		"hvac_mode":   mode,
		"temperature": target,
	})
}

func (c *Client) do(ctx context.Context, method, path string, payload []byte) ([]byte, error) {
	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, &APIError{StatusCode: resp.StatusCode, Message: "authentication failed, check the access token"}
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(body))}
	}
	return body, nil
}
