// Package gcs reads catalog images stored in Google Cloud Storage (gs:// URLs).
package gcs

import (
	"context"
	"fmt"

	"cloud.google.com/go/storage"

	"github.com/JakeFAU/image-crawl-dashboard/internal/fetcher"
)

// Config captures reader limits.
type Config struct {
	MaxBytes int64
}

// Reader fetches gs://bucket/object URLs.
type Reader struct {
	client   *storage.Client
	maxBytes int64
}

var _ fetcher.Fetcher = (*Reader)(nil)

// New creates a GCS-backed reader.
func New(client *storage.Client, cfg Config) (*Reader, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	return &Reader{client: client, maxBytes: cfg.MaxBytes}, nil
}

// Fetch downloads the object named by rawURL.
func (r *Reader) Fetch(ctx context.Context, rawURL string) (fetcher.Image, error) {
	bucket, key, err := fetcher.SplitBucketURL(rawURL)
	if err != nil {
		return fetcher.Image{}, err
	}
	obj, err := r.client.Bucket(bucket).Object(key).NewReader(ctx)
	if err != nil {
		return fetcher.Image{}, fmt.Errorf("open gs://%s/%s: %w", bucket, key, err)
	}
	body, err := fetcher.ReadLimited(obj, r.maxBytes)
	closeErr := obj.Close()
	if err != nil {
		return fetcher.Image{}, fmt.Errorf("read gs://%s/%s: %w", bucket, key, err)
	}
	if closeErr != nil {
		return fetcher.Image{}, fmt.Errorf("close gs://%s/%s: %w", bucket, key, closeErr)
	}
	return fetcher.Image{
		Body:        body,
		ContentType: fetcher.ContentType(obj.Attrs.ContentType, body),
	}, nil
}
