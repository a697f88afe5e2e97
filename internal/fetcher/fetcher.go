// Package fetcher retrieves image bytes from the locations recorded in the
// catalog. A Router picks the source by URL scheme.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
)

var (
	// ErrUnsupportedScheme is returned for URLs no source is registered for.
	ErrUnsupportedScheme = errors.New("unsupported url scheme")
	// ErrTooLarge is returned when an object exceeds the configured size limit.
	ErrTooLarge = errors.New("image exceeds size limit")
)

// Image is the downloaded payload.
type Image struct {
	Body        []byte
	ContentType string
}

// Fetcher downloads the image stored at rawURL.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (Image, error)
}

// Func adapts a function to Fetcher.
type Func func(ctx context.Context, rawURL string) (Image, error)

// Fetch calls f.
func (f Func) Fetch(ctx context.Context, rawURL string) (Image, error) {
	return f(ctx, rawURL)
}

// Router dispatches to a Fetcher by URL scheme.
type Router struct {
	mu     sync.RWMutex
	routes map[string]Fetcher
}

// NewRouter returns a Router with no sources registered.
func NewRouter() *Router {
	return &Router{routes: make(map[string]Fetcher)}
}

// Handle registers f for the given schemes, replacing earlier registrations.
func (r *Router) Handle(f Fetcher, schemes ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range schemes {
		r.routes[strings.ToLower(s)] = f
	}
}

// Schemes lists the registered schemes.
func (r *Router) Schemes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.routes))
	for s := range r.routes {
		out = append(out, s)
	}
	return out
}

// Fetch implements Fetcher.
func (r *Router) Fetch(ctx context.Context, rawURL string) (Image, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return Image{}, fmt.Errorf("parse image url: %w", err)
	}
	scheme := strings.ToLower(u.Scheme)
	r.mu.RLock()
	f, ok := r.routes[scheme]
	r.mu.RUnlock()
	if !ok {
		return Image{}, fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
	}
	return f.Fetch(ctx, rawURL)
}

// SplitBucketURL splits gs://bucket/key and s3://bucket/key style URLs.
func SplitBucketURL(rawURL string) (bucket, key string, err error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", "", fmt.Errorf("parse bucket url: %w", err)
	}
	bucket = u.Host
	key = strings.TrimPrefix(u.Path, "/")
	if bucket == "" || key == "" {
		return "", "", fmt.Errorf("bucket url %q must look like scheme://bucket/key", rawURL)
	}
	return bucket, key, nil
}

// ReadLimited reads r fully, failing with ErrTooLarge past limit bytes.
// A limit <= 0 disables the check.
func ReadLimited(r io.Reader, limit int64) ([]byte, error) {
	if limit <= 0 {
		data, err := io.ReadAll(r)
		if err != nil {
			return nil, fmt.Errorf("read image: %w", err)
		}
		return data, nil
	}
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, fmt.Errorf("read image: %w", err)
	}
	if int64(len(data)) > limit {
		return nil, ErrTooLarge
	}
	return data, nil
}

// ContentType returns declared unless it is empty or generic, in which case
// the type is sniffed from body.
func ContentType(declared string, body []byte) string {
	if declared != "" && declared != "application/octet-stream" {
		return declared
	}
	return http.DetectContentType(body)
}
