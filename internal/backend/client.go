// Package backend talks to the crawler backend that owns crawl jobs and the
// server-side bundle endpoint.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Fallback messages used when the backend error body carries no detail.
const (
	DefaultCrawlError    = "Failed to initiate crawl job from backend"
	DefaultDownloadError = "Failed to download images from backend"
)

// ErrBackendUnavailable wraps transport-level failures reaching the backend.
var ErrBackendUnavailable = errors.New("backend unavailable")

// Config controls the backend client.
type Config struct {
	BaseURL string
	Timeout time.Duration
}

// CrawlRequest is the crawl-initiation payload. Limit is forwarded exactly
// as the caller sent it; range checks belong to the backend.
type CrawlRequest struct {
	Keyword string          `json:"keyword" validate:"required"`
	Limit   json.RawMessage `json:"limit,omitempty" validate:"omitempty,json_number"`
}

// Response is a successful backend reply, relayed verbatim.
type Response struct {
	Status int
	Body   json.RawMessage
}

// Error is a non-2xx backend reply translated to a message.
type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("backend returned %d: %s", e.Status, e.Message)
}

// Client is an HTTP client for the backend.
type Client struct {
	base *url.URL
	http *http.Client
}

// New validates cfg and builds a Client.
func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("backend base url is required")
	}
	base, err := url.Parse(cfg.BaseURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid backend base url %q", cfg.BaseURL)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{base: base, http: &http.Client{Timeout: timeout}}, nil
}

// StartCrawl forwards a crawl request. Non-2xx replies come back as *Error.
func (c *Client) StartCrawl(ctx context.Context, req CrawlRequest) (Response, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return Response{}, fmt.Errorf("encode crawl request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("/api/crawl", nil), bytes.NewReader(payload))
	if err != nil {
		return Response{}, fmt.Errorf("build crawl request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return Response{}, fmt.Errorf("%w: %w", ErrBackendUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if !isSuccess(resp.StatusCode) {
		return Response{}, decodeError(resp, DefaultCrawlError)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Response{}, fmt.Errorf("read crawl response: %w", err)
	}
	if !json.Valid(body) {
		return Response{}, fmt.Errorf("backend returned invalid json")
	}
	return Response{Status: resp.StatusCode, Body: body}, nil
}

// DownloadBundle requests the backend's zip for keyword. On success the
// caller owns the response body.
func (c *Client) DownloadBundle(ctx context.Context, keyword string) (*http.Response, error) {
	q := url.Values{}
	q.Set("keyword", keyword)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint("/api/images/download", q), nil)
	if err != nil {
		return nil, fmt.Errorf("build download request: %w", err)
	}
	// The zip may take longer than ordinary calls; the request context bounds it.
	client := *c.http
	client.Timeout = 0
	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBackendUnavailable, err)
	}
	if !isSuccess(resp.StatusCode) {
		defer func() { _ = resp.Body.Close() }()
		return nil, decodeError(resp, DefaultDownloadError)
	}
	return resp, nil
}

func (c *Client) endpoint(path string, q url.Values) string {
	u := *c.base
	u.Path = strings.TrimRight(u.Path, "/") + path
	if q != nil {
		u.RawQuery = q.Encode()
	}
	return u.String()
}

func isSuccess(code int) bool {
	return code >= 200 && code < 300
}

// decodeError reads {"detail": ...}. String details are used as-is; any other
// JSON detail is passed through as its JSON text.
func decodeError(resp *http.Response, fallback string) *Error {
	out := &Error{Status: resp.StatusCode, Message: fallback}
	var payload struct {
		Detail json.RawMessage `json:"detail"`
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil || json.Unmarshal(data, &payload) != nil {
		return out
	}
	detail := bytes.TrimSpace(payload.Detail)
	if len(detail) == 0 || bytes.Equal(detail, []byte("null")) {
		return out
	}
	var s string
	if json.Unmarshal(detail, &s) == nil {
		if s != "" {
			out.Message = s
		}
		return out
	}
	out.Message = string(detail)
	return out
}
