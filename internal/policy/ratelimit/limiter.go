// Package ratelimit throttles image fetches per host with token buckets.
package ratelimit

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/image-crawl-dashboard/internal/fetcher"
	"github.com/JakeFAU/image-crawl-dashboard/internal/metrics"
)

// Config holds rate limiter configuration. A non-positive RPS disables limiting.
type Config struct {
	PerHostRPS   float64
	PerHostBurst int
}

// Limiter is a fetcher.Fetcher that waits for a per-host token before
// delegating to next.
type Limiter struct {
	next  fetcher.Fetcher
	rate  rate.Limit
	burst int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

var _ fetcher.Fetcher = (*Limiter)(nil)

// New wraps next.
func New(next fetcher.Fetcher, cfg Config) (*Limiter, error) {
	if next == nil {
		return nil, fmt.Errorf("next fetcher is required")
	}
	r := rate.Limit(cfg.PerHostRPS)
	if cfg.PerHostRPS <= 0 {
		r = rate.Inf
	}
	burst := cfg.PerHostBurst
	if burst <= 0 {
		burst = 1
	}
	return &Limiter{
		next:     next,
		rate:     r,
		burst:    burst,
		limiters: make(map[string]*rate.Limiter),
	}, nil
}

// Fetch waits for rawURL's host and then fetches it.
func (l *Limiter) Fetch(ctx context.Context, rawURL string) (fetcher.Image, error) {
	if err := l.Wait(ctx, rawURL); err != nil {
		return fetcher.Image{}, err
	}
	return l.next.Fetch(ctx, rawURL) //nolint:wrapcheck
}

// Wait blocks until a token is available for rawURL's host or ctx ends.
// Bucket URLs (gs://, s3://) are keyed by scheme and bucket.
func (l *Limiter) Wait(ctx context.Context, rawURL string) error {
	host := hostKey(rawURL)
	limiter := l.limiterFor(host)

	start := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	if waited := time.Since(start); waited > time.Millisecond {
		metrics.ObserveRateLimitDelay(host, waited)
	}
	return nil
}

// Hosts reports how many hosts currently have a bucket.
func (l *Limiter) Hosts() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}

func (l *Limiter) limiterFor(host string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	limiter, ok := l.limiters[host]
	if !ok {
		limiter = rate.NewLimiter(l.rate, l.burst)
		l.limiters[host] = limiter
	}
	return limiter
}

func hostKey(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return "unknown"
	}
	scheme := strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Hostname())
	if scheme == "gs" || scheme == "s3" {
		return scheme + "://" + host
	}
	return host
}
