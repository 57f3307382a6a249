// Package backend talks to the remote parent-control service: rule fetch,
// usage reporting, critical events, and the live push channel.
package backend

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/guardline/agent/internal/domain"
	"github.com/guardline/agent/internal/policy"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Request timeouts scale with expected payload size.
const (
	fetchTimeout  = 15 * time.Second
	reportTimeout = 60 * time.Second
	eventTimeout  = 5 * time.Second
)

// Credentials identify this device to the backend.
type Credentials struct {
	DeviceID string
	Token    string
}

// Client implements domain.BackendClient over the REST API.
type Client struct {
	baseURL string
	creds   Credentials
	http    *http.Client
	logger  *zap.Logger

	// onAuthFailure is invoked once when the backend rejects the device
	// credential; further network activity must stop until re-pairing.
	onAuthFailure func()
}

// NewClient creates a backend client.
func NewClient(baseURL string, creds Credentials, onAuthFailure func(), logger *zap.Logger) *Client {
	return &Client{
		baseURL:       baseURL,
		creds:         creds,
		http:          &http.Client{},
		logger:        logger,
		onAuthFailure: onAuthFailure,
	}
}

type fetchResponse struct {
	Rules           []policy.RawRule `json:"rules"`
	AppUsageToday   map[string]int64 `json:"app_usage_today"`
	DeviceUsage     int64            `json:"device_usage_today"`
	ServerTimestamp int64            `json:"server_timestamp"`
	Protection      string           `json:"protection_level"`
}

// FetchRules requests the current rule snapshot. Raw records are decoded to
// typed rules here, exactly once per fetch.
func (c *Client) FetchRules(ctx context.Context) (*domain.FetchResult, error) {
	ctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	var resp fetchResponse
	if err := c.do(ctx, http.MethodGet, "/api/v1/devices/rules", nil, &resp); err != nil {
		return nil, err
	}

	return &domain.FetchResult{
		Rules:           policy.Decode(resp.Rules),
		AppUsageToday:   resp.AppUsageToday,
		DeviceUsage:     resp.DeviceUsage,
		ServerTimestamp: resp.ServerTimestamp,
		Protection:      resp.Protection,
	}, nil
}

type reportRequest struct {
	BatchID string                 `json:"batch_id"`
	Entries []domain.UsageLogEntry `json:"entries"`
}

type reportResponse struct {
	Commands []domain.BackendCommand `json:"commands,omitempty"`
}

// ReportUsage submits a usage batch; the response may carry commands.
func (c *Client) ReportUsage(ctx context.Context, entries []domain.UsageLogEntry) ([]domain.BackendCommand, error) {
	ctx, cancel := context.WithTimeout(ctx, reportTimeout)
	defer cancel()

	req := reportRequest{BatchID: uuid.NewString(), Entries: entries}
	var resp reportResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/devices/usage", req, &resp); err != nil {
		return nil, err
	}
	return resp.Commands, nil
}

// ReportEvent submits a critical event.
func (c *Client) ReportEvent(ctx context.Context, ev domain.CriticalEvent) error {
	ctx, cancel := context.WithTimeout(ctx, eventTimeout)
	defer cancel()
	return c.do(ctx, http.MethodPost, "/api/v1/devices/events", ev, nil)
}

// do performs one authenticated request. A 401/403 triggers the auth-failure
// callback; other non-2xx statuses are plain errors retried by callers.
func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Device-ID", c.creds.DeviceID)
	req.Header.Set("Authorization", "Bearer "+c.creds.Token)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		c.logger.Error("device credential rejected", zap.Int("status", resp.StatusCode))
		if c.onAuthFailure != nil {
			c.onAuthFailure()
		}
		return fmt.Errorf("credential rejected: status %d", resp.StatusCode)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("request %s failed: status %d", path, resp.StatusCode)
	}

	if out != nil {
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

// Ensure Client implements domain.BackendClient.
var _ domain.BackendClient = (*Client)(nil)
