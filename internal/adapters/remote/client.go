// Package remote implements the table service transport over net/http.
package remote

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jbctechsolutions/datasync/internal/application/ports"
	"github.com/jbctechsolutions/datasync/internal/domain/errors"
)

// DefaultUserAgent is sent when no user agent is configured.
const DefaultUserAgent = "datasync/1.0"

// Config holds the client settings.
type Config struct {
	BaseURL    string
	Timeout    time.Duration
	MaxRetries int
	RetryDelay time.Duration
	UserAgent  string
	Headers    map[string]string
}

// DefaultConfig returns a Config with default values.
func DefaultConfig(baseURL string) Config {
	return Config{
		BaseURL:    baseURL,
		Timeout:    30 * time.Second,
		MaxRetries: 2,
		RetryDelay: 250 * time.Millisecond,
		UserAgent:  DefaultUserAgent,
		Headers:    map[string]string{},
	}
}

// Client handles HTTP communication with the table service.
type Client struct {
	httpClient *http.Client
	config     Config
	baseURL    *url.URL
}

var _ ports.RemotePort = (*Client)(nil)

// ClientOption is a functional option for configuring the Client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.config.Timeout = timeout
		c.httpClient.Timeout = timeout
	}
}

// WithMaxRetries sets how often an idempotent request is retried after a
// transport failure or a 429/502/503/504 answer.
func WithMaxRetries(maxRetries int) ClientOption {
	return func(c *Client) {
		c.config.MaxRetries = maxRetries
	}
}

// WithRetryDelay sets the first backoff delay.
func WithRetryDelay(d time.Duration) ClientOption {
	return func(c *Client) {
		c.config.RetryDelay = d
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) ClientOption {
	return func(c *Client) {
		c.config.UserAgent = ua
	}
}

// WithHeaders adds static headers sent on every request.
func WithHeaders(headers map[string]string) ClientOption {
	return func(c *Client) {
		for k, v := range headers {
			c.config.Headers[k] = v
		}
	}
}

// NewClient creates a client for the service at baseURL.
func NewClient(baseURL string, opts ...ClientOption) (*Client, error) {
	config := DefaultConfig(baseURL)

	client := &Client{
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		config: config,
	}

	for _, opt := range opts {
		opt(client)
	}

	u, err := url.Parse(client.config.BaseURL)
	if err != nil {
		return nil, errors.NewError(errors.CodeConfiguration, "invalid base URL "+client.config.BaseURL, err)
	}
	if !u.IsAbs() {
		return nil, errors.NewError(errors.CodeConfiguration, "base URL must be absolute: "+client.config.BaseURL, nil)
	}
	client.baseURL = u

	return client, nil
}

// BaseURL returns the service address.
func (c *Client) BaseURL() *url.URL {
	u := *c.baseURL
	return &u
}

// Send issues req. Any HTTP status is returned as a response; only
// transport failures are errors.
func (c *Client) Send(ctx context.Context, req *ports.RemoteRequest) (*ports.ServiceResponse, error) {
	if req.URI == nil {
		return nil, errors.NewError(errors.CodeValidation, "request has no URI", nil)
	}

	retries := 0
	if idempotent(req.Method) {
		retries = c.config.MaxRetries
	}

	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			// Exponential backoff: d, 2d, 4d...
			delay := c.config.RetryDelay * time.Duration(1<<(attempt-1))
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		resp, err := c.do(ctx, req)
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				break
			}
			continue
		}
		if attempt < retries && retryable(resp.StatusCode) {
			continue
		}
		return resp, nil
	}

	return nil, errors.WithContext(
		errors.NewError(errors.CodeTransport, fmt.Sprintf("%s %s failed", req.Method, req.URI.Redacted()), lastErr),
		"uri", req.URI.Redacted())
}

func (c *Client) do(ctx context.Context, req *ports.RemoteRequest) (*ports.ServiceResponse, error) {
	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URI.String(), body)
	if err != nil {
		return nil, err
	}

	httpReq.Header.Set("Accept", "application/json")
	if req.Body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if c.config.UserAgent != "" {
		httpReq.Header.Set("User-Agent", c.config.UserAgent)
	}
	for k, v := range c.config.Headers {
		httpReq.Header.Set(k, v)
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	content, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	return &ports.ServiceResponse{
		StatusCode:   resp.StatusCode,
		ReasonPhrase: reasonPhrase(resp),
		Content:      content,
		Headers:      resp.Header,
	}, nil
}

// reasonPhrase strips the code from a status line such as "404 Not Found".
func reasonPhrase(resp *http.Response) string {
	if _, phrase, ok := strings.Cut(resp.Status, " "); ok {
		return phrase
	}
	return http.StatusText(resp.StatusCode)
}

func idempotent(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodPut, http.MethodDelete:
		return true
	default:
		return false
	}
}

func retryable(status int) bool {
	switch status {
	case http.StatusTooManyRequests, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}
