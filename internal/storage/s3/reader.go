// Package s3store reads catalog images stored in Amazon S3 (s3:// URLs).
package s3store

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/JakeFAU/image-crawl-dashboard/internal/fetcher"
)

// Config captures reader limits.
type Config struct {
	MaxBytes int64
}

type getObjectAPI interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Reader fetches s3://bucket/key URLs with GetObject.
type Reader struct {
	client   getObjectAPI
	maxBytes int64
}

var _ fetcher.Fetcher = (*Reader)(nil)

// New creates an S3-backed reader.
func New(client *s3.Client, cfg Config) (*Reader, error) {
	if client == nil {
		return nil, fmt.Errorf("s3 client is required")
	}
	return &Reader{client: client, maxBytes: cfg.MaxBytes}, nil
}

// Fetch downloads the object named by rawURL.
func (r *Reader) Fetch(ctx context.Context, rawURL string) (fetcher.Image, error) {
	bucket, key, err := fetcher.SplitBucketURL(rawURL)
	if err != nil {
		return fetcher.Image{}, err
	}
	out, err := r.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fetcher.Image{}, fmt.Errorf("get s3://%s/%s: %w", bucket, key, err)
	}
	defer func() { _ = out.Body.Close() }()

	body, err := fetcher.ReadLimited(out.Body, r.maxBytes)
	if err != nil {
		return fetcher.Image{}, fmt.Errorf("read s3://%s/%s: %w", bucket, key, err)
	}
	return fetcher.Image{
		Body:        body,
		ContentType: fetcher.ContentType(aws.ToString(out.ContentType), body),
	}, nil
}
