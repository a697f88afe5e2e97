package views

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/image-crawl-dashboard/internal/catalog"
	"github.com/JakeFAU/image-crawl-dashboard/internal/gallery"
)

// Stream names accepted by Definition.
const (
	ViewDashboard = "dashboard"
	ViewCrawlJobs = "crawl-jobs"
	ViewImages    = "images"
)

// RecentJobsLimit is the number of jobs shown on the dashboard.
const RecentJobsLimit = 5

// Tables each view subscribes to.
var (
	DashboardTables = []string{catalog.TableImages, catalog.TableCrawlJobs, catalog.TableModelResults}
	CrawlJobsTables = []string{catalog.TableCrawlJobs}
	ImagesTables    = []string{catalog.TableImages}
)

// Dashboard is the overview snapshot.
type Dashboard struct {
	TotalImages     int64              `json:"total_images"`
	TotalCrawlJobs  int64              `json:"total_crawl_jobs"`
	TotalModelTests int64              `json:"total_model_tests"`
	RecentJobs      []catalog.CrawlJob `json:"recent_jobs"`
}

// CrawlJobs is the crawler page snapshot.
type CrawlJobs struct {
	Jobs []catalog.CrawlJob `json:"jobs"`
}

// ImagesParams are the gallery's current filter and sort settings. Selected
// is the id of the image shown in the overlay, if any.
type ImagesParams struct {
	Keyword  string
	Order    catalog.SortOrder
	Selected string
}

// Images is the gallery snapshot. Selected carries the overlay detail while
// the selected image is part of the list.
type Images struct {
	Keyword  string                  `json:"keyword"`
	Sort     catalog.SortOrder       `json:"sort"`
	Images   []catalog.ImageMetadata `json:"images"`
	Selected *gallery.Detail         `json:"selected,omitempty"`
}

// Service builds view snapshots from a catalog repository.
type Service struct {
	repo   catalog.Repository
	logger *zap.Logger
}

// NewService constructs a Service.
func NewService(repo catalog.Repository, logger *zap.Logger) (*Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("repository is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{repo: repo, logger: logger.Named("views")}, nil
}

// Dashboard loads the totals and the most recent jobs.
func (s *Service) Dashboard(ctx context.Context) (Dashboard, error) {
	var out Dashboard
	var err error
	if out.TotalImages, err = s.repo.CountImages(ctx); err != nil {
		return Dashboard{}, fmt.Errorf("count images: %w", err)
	}
	if out.TotalCrawlJobs, err = s.repo.CountCrawlJobs(ctx); err != nil {
		return Dashboard{}, fmt.Errorf("count crawl jobs: %w", err)
	}
	if out.TotalModelTests, err = s.repo.CountModelTestResults(ctx); err != nil {
		return Dashboard{}, fmt.Errorf("count model test results: %w", err)
	}
	jobs, err := s.repo.ListCrawlJobs(ctx, RecentJobsLimit)
	if err != nil {
		return Dashboard{}, fmt.Errorf("list recent jobs: %w", err)
	}
	catalog.SortCrawlJobs(jobs)
	out.RecentJobs = nonNilJobs(jobs)
	return out, nil
}

// CrawlJobs loads every crawl job, newest first.
func (s *Service) CrawlJobs(ctx context.Context) (CrawlJobs, error) {
	jobs, err := s.repo.ListCrawlJobs(ctx, 0)
	if err != nil {
		return CrawlJobs{}, fmt.Errorf("list crawl jobs: %w", err)
	}
	catalog.SortCrawlJobs(jobs)
	return CrawlJobs{Jobs: nonNilJobs(jobs)}, nil
}

// Images loads the gallery. The order is passed to the repository and then
// re-applied locally with the same comparator.
func (s *Service) Images(ctx context.Context, p ImagesParams) (Images, error) {
	return s.images(ctx, p, &gallery.Overlay{})
}

func (s *Service) images(ctx context.Context, p ImagesParams, overlay *gallery.Overlay) (Images, error) {
	if p.Order == "" {
		p.Order = catalog.SortNewestFirst
	}
	imgs, err := s.repo.ListImages(ctx, catalog.ImageQuery{Keyword: p.Keyword, Order: p.Order})
	if err != nil {
		return Images{}, fmt.Errorf("list images: %w", err)
	}
	catalog.SortImages(imgs, p.Order)
	if imgs == nil {
		imgs = []catalog.ImageMetadata{}
	}
	out := Images{Keyword: p.Keyword, Sort: p.Order, Images: imgs}
	s.syncOverlay(overlay, &out, p.Selected)
	return out, nil
}

// syncOverlay opens the overlay on the selected image while it is listed and
// closes it once the image is gone from the filtered list.
func (s *Service) syncOverlay(overlay *gallery.Overlay, out *Images, selected string) {
	if selected == "" {
		return
	}
	for _, img := range out.Images {
		if img.ID != selected {
			continue
		}
		overlay.Open(img)
		d := gallery.NewDetail(img)
		out.Selected = &d
		return
	}
	if overlay.Dismiss(gallery.CloseButton) {
		s.logger.Info("selected image left the gallery; overlay closed", zap.String("image_id", selected))
	}
}

// Definition describes a streamable view: its tables and a loader.
type Definition struct {
	Name   string
	Tables []string
	Load   Loader[any]
}

// Definition resolves a stream name. Each call returns a fresh loader, so
// per-stream state such as job lifecycle tracking is not shared.
func (s *Service) Definition(name string, p ImagesParams) (Definition, error) {
	switch name {
	case ViewDashboard:
		return Definition{Name: name, Tables: DashboardTables, Load: func(ctx context.Context) (any, error) {
			return s.Dashboard(ctx)
		}}, nil
	case ViewCrawlJobs:
		watch := newJobWatcher(s.logger)
		return Definition{Name: name, Tables: CrawlJobsTables, Load: func(ctx context.Context) (any, error) {
			out, err := s.CrawlJobs(ctx)
			if err == nil {
				watch.observe(out.Jobs)
			}
			return out, err
		}}, nil
	case ViewImages:
		overlay := &gallery.Overlay{}
		return Definition{Name: name, Tables: ImagesTables, Load: func(ctx context.Context) (any, error) {
			return s.images(ctx, p, overlay)
		}}, nil
	default:
		return Definition{}, fmt.Errorf("unknown view %q", name)
	}
}

// jobWatcher logs crawl jobs whose observed lifecycle breaks the expected
// pending -> running -> completed|failed order.
type jobWatcher struct {
	mu     sync.Mutex
	last   map[string]catalog.JobStatus
	logger *zap.Logger
}

func newJobWatcher(logger *zap.Logger) *jobWatcher {
	return &jobWatcher{last: make(map[string]catalog.JobStatus), logger: logger}
}

func (w *jobWatcher) observe(jobs []catalog.CrawlJob) {
	w.mu.Lock()
	defer w.mu.Unlock()
	seen := make(map[string]catalog.JobStatus, len(jobs))
	for _, job := range jobs {
		seen[job.ID] = job.Status
		if prev, ok := w.last[job.ID]; ok && !prev.CanTransition(job.Status) {
			w.logger.Warn("crawl job moved backwards",
				zap.String("job_id", job.ID),
				zap.String("from", string(prev)),
				zap.String("to", string(job.Status)),
			)
		}
		if job.EndTime != nil && !job.Status.Terminal() {
			w.logger.Warn("crawl job has end_time but is not finished",
				zap.String("job_id", job.ID),
				zap.String("status", string(job.Status)),
			)
		}
	}
	w.last = seen
}

func nonNilJobs(jobs []catalog.CrawlJob) []catalog.CrawlJob {
	if jobs == nil {
		return []catalog.CrawlJob{}
	}
	return jobs
}
