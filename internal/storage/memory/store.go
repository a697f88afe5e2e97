// Package memory provides an in-process catalog repository for development and
// tests. Every mutation is published as a realtime change event.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JakeFAU/image-crawl-dashboard/internal/catalog"
	"github.com/JakeFAU/image-crawl-dashboard/internal/realtime"
)

// Store keeps catalog rows in maps guarded by a RWMutex.
type Store struct {
	mu      sync.RWMutex
	images  map[string]catalog.ImageMetadata
	jobs    map[string]catalog.CrawlJob
	results map[string][]catalog.ModelTestResult
	pub     realtime.Publisher
	now     func() time.Time
}

var _ catalog.Repository = (*Store)(nil)

// NewStore constructs an empty Store. pub may be nil when nobody listens.
func NewStore(pub realtime.Publisher) *Store {
	return &Store{
		images:  make(map[string]catalog.ImageMetadata),
		jobs:    make(map[string]catalog.CrawlJob),
		results: make(map[string][]catalog.ModelTestResult),
		pub:     pub,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// PutImage inserts or replaces an image row. A missing id or crawl date is filled in.
func (s *Store) PutImage(_ context.Context, img catalog.ImageMetadata) (catalog.ImageMetadata, error) {
	if img.URL == "" {
		return catalog.ImageMetadata{}, fmt.Errorf("image url is required")
	}
	if img.ID == "" {
		img.ID = uuid.NewString()
	}
	if img.CrawlDate.IsZero() {
		img.CrawlDate = s.now()
	}
	img.Tags = append([]string(nil), img.Tags...)
	img.ModelTestResults = nil

	s.mu.Lock()
	_, exists := s.images[img.ID]
	s.images[img.ID] = img
	s.mu.Unlock()

	s.emit(catalog.TableImages, upsertOp(exists), img.ID)
	return img, nil
}

// PutCrawlJob inserts or updates a crawl job. Updates must follow the job lifecycle.
func (s *Store) PutCrawlJob(_ context.Context, job catalog.CrawlJob) (catalog.CrawlJob, error) {
	if job.Status == "" {
		job.Status = catalog.JobStatusPending
	}
	if !job.Status.Valid() {
		return catalog.CrawlJob{}, fmt.Errorf("invalid job status %q", job.Status)
	}
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.StartTime.IsZero() {
		job.StartTime = s.now()
	}
	if job.Status.Terminal() && job.EndTime == nil {
		end := s.now()
		job.EndTime = &end
	}
	job.Errors = append([]string(nil), job.Errors...)

	s.mu.Lock()
	prev, exists := s.jobs[job.ID]
	if exists && !prev.Status.CanTransition(job.Status) {
		s.mu.Unlock()
		return catalog.CrawlJob{}, fmt.Errorf("job %s cannot move from %s to %s", job.ID, prev.Status, job.Status)
	}
	s.jobs[job.ID] = job
	s.mu.Unlock()

	s.emit(catalog.TableCrawlJobs, upsertOp(exists), job.ID)
	return job, nil
}

// AddModelTestResult records a result for an existing image.
func (s *Store) AddModelTestResult(_ context.Context, res catalog.ModelTestResult) error {
	if res.ModelID == "" {
		return fmt.Errorf("model id is required")
	}
	if res.TestDate.IsZero() {
		res.TestDate = s.now()
	}

	s.mu.Lock()
	if _, ok := s.images[res.ImageID]; !ok {
		s.mu.Unlock()
		return fmt.Errorf("image %s: %w", res.ImageID, catalog.ErrNotFound)
	}
	s.results[res.ImageID] = append(s.results[res.ImageID], res)
	s.mu.Unlock()

	s.emit(catalog.TableModelResults, realtime.OpInsert, res.ImageID)
	return nil
}

// ListImages filters and sorts images in memory.
func (s *Store) ListImages(_ context.Context, q catalog.ImageQuery) ([]catalog.ImageMetadata, error) {
	s.mu.RLock()
	all := make([]catalog.ImageMetadata, 0, len(s.images))
	for _, img := range s.images {
		all = append(all, img)
	}
	s.mu.RUnlock()

	// Map iteration order is random; fix a base order before the stable sort.
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	out := catalog.FilterImages(all, q.Keyword)
	catalog.SortImages(out, q.Order)
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

// GetImage returns one image with its model test results.
func (s *Store) GetImage(ctx context.Context, id string) (catalog.ImageMetadata, error) {
	s.mu.RLock()
	img, ok := s.images[id]
	s.mu.RUnlock()
	if !ok {
		return catalog.ImageMetadata{}, catalog.ErrNotFound
	}
	results, err := s.ListModelTestResults(ctx, id)
	if err != nil {
		return catalog.ImageMetadata{}, err
	}
	img.ModelTestResults = results
	return img, nil
}

// CountImages returns the number of images.
func (s *Store) CountImages(context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.images)), nil
}

// CountCrawlJobs returns the number of crawl jobs.
func (s *Store) CountCrawlJobs(context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.jobs)), nil
}

// CountModelTestResults returns the number of recorded model test results.
func (s *Store) CountModelTestResults(context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int64
	for _, rs := range s.results {
		n += int64(len(rs))
	}
	return n, nil
}

// ListCrawlJobs returns jobs newest first; limit <= 0 returns all.
func (s *Store) ListCrawlJobs(_ context.Context, limit int) ([]catalog.CrawlJob, error) {
	s.mu.RLock()
	out := make([]catalog.CrawlJob, 0, len(s.jobs))
	for _, job := range s.jobs {
		out = append(out, job)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	catalog.SortCrawlJobs(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// DeleteCrawlJob removes a job.
func (s *Store) DeleteCrawlJob(_ context.Context, id string) error {
	s.mu.Lock()
	_, ok := s.jobs[id]
	delete(s.jobs, id)
	s.mu.Unlock()
	if !ok {
		return catalog.ErrNotFound
	}
	s.emit(catalog.TableCrawlJobs, realtime.OpDelete, id)
	return nil
}

// ListModelTestResults returns results for an image, newest first.
func (s *Store) ListModelTestResults(_ context.Context, imageID string) ([]catalog.ModelTestResult, error) {
	s.mu.RLock()
	out := append([]catalog.ModelTestResult(nil), s.results[imageID]...)
	s.mu.RUnlock()
	sort.SliceStable(out, func(i, j int) bool { return out[i].TestDate.After(out[j].TestDate) })
	return out, nil
}

// Ping always succeeds.
func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) emit(table string, op realtime.Op, id string) {
	if s.pub == nil {
		return
	}
	s.pub.Publish(realtime.ChangeEvent{Table: table, Op: op, RecordID: id, At: s.now()})
}

func upsertOp(existed bool) realtime.Op {
	if existed {
		return realtime.OpUpdate
	}
	return realtime.OpInsert
}
