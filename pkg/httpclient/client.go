package httpclient

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/fern/pkg/placeholders"
)

const (
	// DefaultTimeout bounds a single outbound call
	DefaultTimeout = 120 * time.Second

	// DefaultMaxRedirects is how many redirects are followed before failing
	DefaultMaxRedirects = 10

	// MaxResponseSize is the maximum response body size (10MB)
	MaxResponseSize = 10 * 1024 * 1024
)

// Client wraps the HTTP client with logging, a redirect cap and size limits
type Client struct {
	client          *http.Client
	maxResponseSize int64
	logger          ectologger.Logger
}

// Config holds HTTP client configuration
type Config struct {
	Timeout         time.Duration
	MaxRedirects    int
	MaxResponseSize int64
	MaxIdleConns    int
	IdleConnTimeout time.Duration
	// Transport overrides the default transport, used by tests
	Transport http.RoundTripper
}

// DefaultConfig returns default HTTP client configuration
func DefaultConfig() Config {
	return Config{
		Timeout:         DefaultTimeout,
		MaxRedirects:    DefaultMaxRedirects,
		MaxResponseSize: MaxResponseSize,
		MaxIdleConns:    100,
		IdleConnTimeout: 90 * time.Second,
	}
}

// NewClient creates a new HTTP client
func NewClient(cfg Config, logger ectologger.Logger) *Client {
	transport := cfg.Transport
	if transport == nil {
		transport = &http.Transport{
			Proxy:           http.ProxyFromEnvironment,
			MaxIdleConns:    cfg.MaxIdleConns,
			IdleConnTimeout: cfg.IdleConnTimeout,
		}
	}
	if cfg.MaxResponseSize <= 0 {
		cfg.MaxResponseSize = MaxResponseSize
	}
	maxRedirects := cfg.MaxRedirects

	return &Client{
		client: &http.Client{
			Transport: transport,
			Timeout:   cfg.Timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= maxRedirects {
					return ErrTooManyRedirects
				}
				return nil
			},
		},
		maxResponseSize: cfg.MaxResponseSize,
		logger:          logger,
	}
}

// Response represents an HTTP response
type Response struct {
	StatusCode  int               `json:"status_code"`
	Headers     map[string]string `json:"headers"`
	Body        []byte            `json:"-"`
	JSON        any               `json:"body,omitempty"`
	IsJSON      bool              `json:"-"`
	ContentType string            `json:"content_type"`
	Duration    time.Duration     `json:"duration_ms"`
}

// Text returns the raw body as a string.
func (r *Response) Text() string {
	return string(r.Body)
}

// SanitizedText is the body with ns secrets redacted. JSON bodies are redacted
// value by value, so secrets the remote JSON-escaped are caught too.
func (r *Response) SanitizedText(ns *placeholders.Namespace) string {
	if r.IsJSON {
		if text, err := ns.SanitizeJSON(r.JSON); err == nil {
			return text
		}
	}
	return ns.Sanitize(r.Text())
}

// JSONOrEmpty returns the decoded body, or an empty object when the body is not JSON.
func (r *Response) JSONOrEmpty() any {
	if r == nil || !r.IsJSON {
		return map[string]any{}
	}
	return r.JSON
}

// Send builds and executes a prepared request. Failures are *TransportError.
func (c *Client) Send(ctx context.Context, prepared *PreparedRequest) (*Response, error) {
	var body io.Reader
	if prepared.Body != nil {
		body = bytes.NewReader(prepared.Body)
	}

	req, err := http.NewRequestWithContext(ctx, prepared.Method, prepared.URL, body)
	if err != nil {
		return nil, Classify(err)
	}
	for key, value := range prepared.Headers {
		req.Header.Set(key, value)
	}
	if prepared.ContentType != "" && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", prepared.ContentType)
	}

	return c.Do(ctx, req)
}

// Do executes an HTTP request and returns the response
func (c *Client) Do(ctx context.Context, req *http.Request) (*Response, error) {
	start := time.Now()

	resp, err := c.client.Do(req.WithContext(ctx))
	if err != nil {
		classified := Classify(err)
		c.logger.WithContext(ctx).WithError(err).Warnf("HTTP %s request failed: %s", req.Method, classified.Kind)
		return nil, classified
	}
	defer resp.Body.Close()

	duration := time.Since(start)

	if resp.ContentLength > c.maxResponseSize {
		return nil, newTransportError(KindHTTP, fmt.Errorf("response too large: %d bytes (max %d)", resp.ContentLength, c.maxResponseSize))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxResponseSize+1))
	if err != nil {
		return nil, Classify(fmt.Errorf("failed to read response body: %w", err))
	}
	if int64(len(body)) > c.maxResponseSize {
		return nil, newTransportError(KindHTTP, fmt.Errorf("response body too large: %d bytes (max %d)", len(body), c.maxResponseSize))
	}

	headers := make(map[string]string)
	for key, values := range resp.Header {
		if len(values) > 0 {
			headers[key] = values[0]
		}
	}

	response := &Response{
		StatusCode:  resp.StatusCode,
		Headers:     headers,
		Body:        body,
		ContentType: resp.Header.Get("Content-Type"),
		Duration:    duration,
	}
	ParseResponse(response)

	c.logger.WithContext(ctx).Debugf("HTTP %s -> %d (%s)", req.Method, resp.StatusCode, duration)

	return response, nil
}
