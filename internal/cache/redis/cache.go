// Package rediscache caches fetched image bytes in Redis in front of another fetcher.
package rediscache

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/JakeFAU/image-crawl-dashboard/internal/fetcher"
	"github.com/JakeFAU/image-crawl-dashboard/internal/metrics"
)

const (
	keyPrefix  = "image:"
	defaultTTL = time.Hour
)

// Cache is a fetcher.Fetcher that consults Redis before delegating to next.
// Redis failures never fail a fetch; they are logged and bypassed.
type Cache struct {
	client redis.Cmdable
	next   fetcher.Fetcher
	ttl    time.Duration
	logger *zap.Logger
}

var _ fetcher.Fetcher = (*Cache)(nil)

// New wraps next with a Redis-backed cache.
func New(client redis.Cmdable, next fetcher.Fetcher, ttl time.Duration, logger *zap.Logger) (*Cache, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if next == nil {
		return nil, fmt.Errorf("next fetcher is required")
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{client: client, next: next, ttl: ttl, logger: logger}, nil
}

// Key returns the Redis key for rawURL.
func Key(rawURL string) string {
	sum := sha256.Sum256([]byte(rawURL))
	return keyPrefix + hex.EncodeToString(sum[:])
}

// Fetch implements fetcher.Fetcher.
func (c *Cache) Fetch(ctx context.Context, rawURL string) (fetcher.Image, error) {
	key := Key(rawURL)
	raw, err := c.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		if img, ok := decode(raw); ok {
			metrics.ObserveCacheLookup("hit")
			return img, nil
		}
		c.logger.Warn("discarding corrupt cache entry", zap.String("key", key))
		metrics.ObserveCacheLookup("error")
	case errors.Is(err, redis.Nil):
		metrics.ObserveCacheLookup("miss")
	default:
		c.logger.Warn("image cache read failed", zap.String("key", key), zap.Error(err))
		metrics.ObserveCacheLookup("error")
	}

	img, err := c.next.Fetch(ctx, rawURL)
	if err != nil {
		return fetcher.Image{}, err //nolint:wrapcheck
	}
	if err := c.client.Set(ctx, key, encode(img), c.ttl).Err(); err != nil {
		c.logger.Warn("image cache write failed", zap.String("key", key), zap.Error(err))
	}
	return img, nil
}

// encode stores the content type, a NUL separator, then the body.
func encode(img fetcher.Image) string {
	return img.ContentType + "\x00" + string(img.Body)
}

func decode(raw []byte) (fetcher.Image, bool) {
	i := bytes.IndexByte(raw, 0)
	if i < 0 {
		return fetcher.Image{}, false
	}
	return fetcher.Image{
		ContentType: string(raw[:i]),
		Body:        append([]byte(nil), raw[i+1:]...),
	}, true
}
