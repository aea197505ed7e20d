// Package sync provides the backend protocol layer: the HTTP client, the
// per-type sync handlers that classify delivery outcomes, and the engine
// that runs a full reference-data sync plus queue drain.
package sync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tillpoint/pos-core/internal/models"
)

// ClientConfig holds backend connection configuration.
type ClientConfig struct {
	BaseURL  string
	DeviceID string
	APIKey   string
	Timeout  time.Duration // per-request bound; 10s if zero
}

// Client talks to the TillPoint backend. All methods bound each request
// with the configured timeout on top of the caller's context.
type Client struct {
	config     ClientConfig
	httpClient *http.Client
}

// NewClient creates a backend client.
func NewClient(config ClientConfig) *Client {
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}
	return &Client{
		config: config,
		httpClient: &http.Client{
			// Bounds the whole exchange, body read included.
			Timeout: config.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:    4,
				IdleConnTimeout: 60 * time.Second,
			},
		},
	}
}

// Heartbeat performs the lightweight connectivity probe. Any 2xx counts
// as alive; everything else, including transport errors, means the
// backend is unreachable.
func (c *Client) Heartbeat(ctx context.Context) error {
	resp, err := c.do(ctx, http.MethodGet, "/api/v1/ping", nil)
	if err != nil {
		return fmt.Errorf("heartbeat failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("heartbeat returned status %d", resp.StatusCode)
	}
	return nil
}

// SubmitTransaction delivers one serialized transaction document.
// Returns the HTTP status and response body; classification into a
// delivery verdict belongs to the handler, not the transport.
func (c *Client) SubmitTransaction(ctx context.Context, payload []byte) (int, []byte, error) {
	path := fmt.Sprintf("/api/v1/devices/%s/transactions", c.config.DeviceID)
	resp, err := c.do(ctx, http.MethodPost, path, payload)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("failed to read response body: %w", err)
	}
	return resp.StatusCode, body, nil
}

// FetchProducts pulls catalog entries changed since the given watermark.
func (c *Client) FetchProducts(ctx context.Context, updatedSince int64) ([]models.Product, error) {
	path := fmt.Sprintf("/api/v1/catalog/products?updated_since=%d", updatedSince)
	resp, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, fmt.Errorf("product pull failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("product pull returned status %d", resp.StatusCode)
	}

	var envelope struct {
		Products []models.Product `json:"products"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, fmt.Errorf("failed to parse product response: %w", err)
	}
	return envelope.Products, nil
}

// FetchSettings pulls the device settings document.
func (c *Client) FetchSettings(ctx context.Context) ([]models.Setting, error) {
	path := fmt.Sprintf("/api/v1/devices/%s/settings", c.config.DeviceID)
	resp, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, fmt.Errorf("settings pull failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("settings pull returned status %d", resp.StatusCode)
	}

	var envelope struct {
		Settings []models.Setting `json:"settings"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, fmt.Errorf("failed to parse settings response: %w", err)
	}
	return envelope.Settings, nil
}

// do issues one request. Cancellation comes from the caller's context,
// the timeout from the underlying http.Client.
func (c *Client) do(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.config.BaseURL+path, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}
	req.Header.Set("X-Device-ID", c.config.DeviceID)

	return c.httpClient.Do(req)
}
