package catalog

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// MockRepository is a testify mock of Repository.
type MockRepository struct {
	mock.Mock
}

// ListImages is the mock implementation of ListImages.
func (m *MockRepository) ListImages(ctx context.Context, q ImageQuery) ([]ImageMetadata, error) {
	args := m.Called(ctx, q)
	images, _ := args.Get(0).([]ImageMetadata)
	return images, args.Error(1) //nolint:wrapcheck
}

// GetImage is the mock implementation of GetImage.
func (m *MockRepository) GetImage(ctx context.Context, id string) (ImageMetadata, error) {
	args := m.Called(ctx, id)
	img, _ := args.Get(0).(ImageMetadata)
	return img, args.Error(1) //nolint:wrapcheck
}

// CountImages is the mock implementation of CountImages.
func (m *MockRepository) CountImages(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1) //nolint:wrapcheck
}

// CountCrawlJobs is the mock implementation of CountCrawlJobs.
func (m *MockRepository) CountCrawlJobs(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1) //nolint:wrapcheck
}

// CountModelTestResults is the mock implementation of CountModelTestResults.
func (m *MockRepository) CountModelTestResults(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1) //nolint:wrapcheck
}

// ListCrawlJobs is the mock implementation of ListCrawlJobs.
func (m *MockRepository) ListCrawlJobs(ctx context.Context, limit int) ([]CrawlJob, error) {
	args := m.Called(ctx, limit)
	jobs, _ := args.Get(0).([]CrawlJob)
	return jobs, args.Error(1) //nolint:wrapcheck
}

// DeleteCrawlJob is the mock implementation of DeleteCrawlJob.
func (m *MockRepository) DeleteCrawlJob(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0) //nolint:wrapcheck
}

// ListModelTestResults is the mock implementation of ListModelTestResults.
func (m *MockRepository) ListModelTestResults(ctx context.Context, imageID string) ([]ModelTestResult, error) {
	args := m.Called(ctx, imageID)
	results, _ := args.Get(0).([]ModelTestResult)
	return results, args.Error(1) //nolint:wrapcheck
}

// Ping is the mock implementation of Ping.
func (m *MockRepository) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0) //nolint:wrapcheck
}
