// Package client talks to the broker's control API.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/iammorganparry/clive/apps/remote/internal/models"
)

// DefaultBrokerURL is where a locally running broker listens.
const DefaultBrokerURL = "http://127.0.0.1:8742"

// ErrFellBehind is returned by Stream.Next when the broker dropped the
// subscription because it could not keep up.
var ErrFellBehind = errors.New("state stream fell behind")

// APIError is a non-2xx response from the control API.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.StatusCode)
	}
	if e.Code != "" {
		return fmt.Sprintf("HTTP %d (%s): %s", e.StatusCode, e.Code, msg)
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, msg)
}

// Client is a control API client.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	dialer     *websocket.Dialer
}

// New creates a client for the broker at baseURL.
func New(baseURL, apiKey string) *Client {
	if baseURL == "" {
		baseURL = DefaultBrokerURL
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
	}
}

// Health returns the broker's health report. A degraded broker still yields
// a report alongside the error.
func (c *Client) Health(ctx context.Context) (*models.HealthResponse, error) {
	var out models.HealthResponse
	err := c.do(ctx, http.MethodGet, "/health", &out)
	return &out, err
}

// State returns the current snapshot.
func (c *Client) State(ctx context.Context) (*models.RemoteState, error) {
	var out models.RemoteState
	if err := c.do(ctx, http.MethodGet, "/state", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Connect arms the mobile endpoint. The response is returned even when the
// command fails so callers can show the resulting status.
func (c *Client) Connect(ctx context.Context) (*models.CommandResponse, error) {
	var out models.CommandResponse
	err := c.do(ctx, http.MethodPost, "/connect", &out)
	return &out, err
}

// Disconnect tears down the endpoint and every mobile.
func (c *Client) Disconnect(ctx context.Context) (*models.CommandResponse, error) {
	var out models.CommandResponse
	err := c.do(ctx, http.MethodPost, "/disconnect", &out)
	return &out, err
}

// CreatePin requests a fresh pairing PIN, connecting first if needed.
func (c *Client) CreatePin(ctx context.Context) (*models.PinResponse, error) {
	var out *models.PinResponse
	if err := c.do(ctx, http.MethodPost, "/pin", &out); err != nil {
		return nil, err
	}
	if out == nil {
		return nil, &APIError{StatusCode: http.StatusOK, Message: "broker returned no pin"}
	}
	return out, nil
}

// History lists pairing events, newest first. An empty mobileID lists all.
func (c *Client) History(ctx context.Context, mobileID string, limit int) ([]models.PairingEvent, error) {
	q := url.Values{}
	if mobileID != "" {
		q.Set("mobile_id", mobileID)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	path := "/history"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var out models.HistoryResponse
	if err := c.do(ctx, http.MethodGet, path, &out); err != nil {
		return nil, err
	}
	return out.Events, nil
}

func (c *Client) do(ctx context.Context, method, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	c.authorize(req.Header)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		apiErr := &APIError{StatusCode: resp.StatusCode, Code: resp.Header.Get("X-Error-Code")}
		var e struct {
			Error string `json:"error"`
			Code  string `json:"code"`
		}
		if json.Unmarshal(body, &e) == nil {
			apiErr.Message = e.Error
			if e.Code != "" {
				apiErr.Code = e.Code
			}
		}
		// Command responses carry the resulting status on failure too.
		if out != nil {
			_ = json.Unmarshal(body, out)
		}
		return apiErr
	}

	if out != nil {
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}
	return nil
}

func (c *Client) authorize(h http.Header) {
	if c.apiKey != "" {
		h.Set("Authorization", "Bearer "+c.apiKey)
	}
}
