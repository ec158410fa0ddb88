// Package client talks to a running warden daemon over its admin API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultBaseURL = "http://127.0.0.1:6080/api/v1/warden"
	DefaultTimeout = 10 * time.Second
)

// Client provides HTTP client functionality to communicate with the warden daemon
type Client struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// Config holds client configuration
type Config struct {
	BaseURL string
	Timeout time.Duration
	Logger  *slog.Logger // Optional logger for client operations
}

// DefaultConfig returns default client configuration
func DefaultConfig() Config {
	return Config{BaseURL: DefaultBaseURL, Timeout: DefaultTimeout}
}

// APIError is a non-2xx answer from the daemon.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("API error (%d): %s", e.StatusCode, e.Message)
}

// IsNotFound reports whether err is a 404 from the daemon.
func IsNotFound(err error) bool {
	var ae *APIError
	return errors.As(err, &ae) && ae.StatusCode == http.StatusNotFound
}

// New creates a new warden API client
func New(config Config) *Client {
	if config.BaseURL == "" {
		config.BaseURL = DefaultBaseURL
	}
	if config.Timeout == 0 {
		config.Timeout = DefaultTimeout
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Client{
		baseURL: strings.TrimRight(config.BaseURL, "/"),
		logger:  config.Logger,
		client:  &http.Client{Timeout: config.Timeout},
	}
}

// IsReachable checks if the daemon is running and reachable
func (c *Client) IsReachable(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/healthcheck/basic", nil)
	if err != nil {
		c.logger.Debug("Failed to create request for reachability check", "error", err)
		return false
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug("Daemon unreachable", "error", err)
		return false
	}
	defer func() { _ = resp.Body.Close() }()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64))
	ok := resp.StatusCode == http.StatusOK && strings.TrimSpace(string(body)) == "true"
	c.logger.Debug("Daemon reachability check", "reachable", ok, "status", resp.StatusCode)
	return ok
}

// Status returns the fleet summary.
func (c *Client) Status(ctx context.Context) (Status, error) {
	var st Status
	err := c.doJSON(ctx, http.MethodGet, "/status", nil, &st)
	return st, err
}

// Services returns every registry record ordered by port.
func (c *Client) Services(ctx context.Context) ([]Service, error) {
	var list []Service
	err := c.doJSON(ctx, http.MethodGet, "/services", nil, &list)
	return list, err
}

// Service returns one record with its runtime state.
func (c *Client) Service(ctx context.Context, name string) (ServiceDetail, error) {
	var d ServiceDetail
	err := c.doJSON(ctx, http.MethodGet, "/service/"+url.PathEscape(name), nil, &d)
	return d, err
}

// Enable marks a service enabled and starts it if it is not running.
func (c *Client) Enable(ctx context.Context, name string) (ServiceResult, error) {
	c.logger.Debug("Enabling service", "name", name)
	var r ServiceResult
	err := c.doJSON(ctx, http.MethodPost, "/service/"+url.PathEscape(name)+"/enable", nil, &r)
	return r, err
}

// Disable marks a service disabled and stops it.
func (c *Client) Disable(ctx context.Context, name string) (ServiceResult, error) {
	c.logger.Debug("Disabling service", "name", name)
	var r ServiceResult
	err := c.doJSON(ctx, http.MethodPost, "/service/"+url.PathEscape(name)+"/disable", nil, &r)
	return r, err
}

// AllocatePort asks the daemon for a port, preferring req.PreferredPort.
func (c *Client) AllocatePort(ctx context.Context, req AllocateRequest) (Allocation, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return Allocation{}, fmt.Errorf("marshal request: %w", err)
	}
	var a Allocation
	err = c.doJSON(ctx, http.MethodPost, "/port/allocate", data, &a)
	return a, err
}

// CheckPort reports whether port is bound on the daemon's host.
func (c *Client) CheckPort(ctx context.Context, port uint16) (PortCheck, error) {
	var pc PortCheck
	err := c.doJSON(ctx, http.MethodGet, "/port/check/"+strconv.Itoa(int(port)), nil, &pc)
	return pc, err
}

// doJSON performs a request and decodes a 200 body into out.
func (c *Client) doJSON(ctx context.Context, method, path string, body []byte, out any) error {
	var rdr io.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	}
	u := c.baseURL + path
	req, err := http.NewRequestWithContext(ctx, method, u, rdr)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Error("HTTP request failed", "error", err, "url", u)
		return fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if err := c.handleErrorResponse(resp); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// handleErrorResponse handles HTTP error responses
func (c *Client) handleErrorResponse(resp *http.Response) error {
	if resp.StatusCode == http.StatusOK {
		return nil
	}
	var er ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil {
		c.logger.Error("Failed to decode error response", "status", resp.StatusCode)
		return &APIError{StatusCode: resp.StatusCode}
	}
	c.logger.Debug("API request failed", "error", er.Message, "status", resp.StatusCode)
	return &APIError{StatusCode: resp.StatusCode, Message: er.Message}
}
