package catalog

import (
	"context"
	"errors"
)

// ErrNotFound signals that the requested record does not exist.
var ErrNotFound = errors.New("record not found")

// ImageQuery selects image rows for the gallery and the bundler.
type ImageQuery struct {
	// Keyword filters rows via MatchesKeyword; empty selects every row.
	Keyword string
	// Order is applied by the store and re-applied by callers with SortImages.
	Order SortOrder
	// Limit caps the number of rows; <= 0 means no cap.
	Limit int
}

// Repository is the data access capability over the shared database. The
// Postgres, in-process and mock variants are interchangeable.
type Repository interface {
	// ListImages returns rows matching q, ordered by crawl date.
	ListImages(ctx context.Context, q ImageQuery) ([]ImageMetadata, error)
	// GetImage loads one image with its model test results or returns ErrNotFound.
	GetImage(ctx context.Context, id string) (ImageMetadata, error)
	// CountImages returns the number of image rows.
	CountImages(ctx context.Context) (int64, error)
	// CountCrawlJobs returns the number of crawl job rows.
	CountCrawlJobs(ctx context.Context) (int64, error)
	// CountModelTestResults returns the number of model test rows.
	CountModelTestResults(ctx context.Context) (int64, error)
	// ListCrawlJobs returns jobs newest start_time first; limit <= 0 returns all.
	ListCrawlJobs(ctx context.Context, limit int) ([]CrawlJob, error)
	// DeleteCrawlJob removes one job or returns ErrNotFound.
	DeleteCrawlJob(ctx context.Context, id string) error
	// ListModelTestResults returns the results attached to one image, newest first.
	ListModelTestResults(ctx context.Context, imageID string) ([]ModelTestResult, error)
	// Ping checks that the store is reachable.
	Ping(ctx context.Context) error
}
