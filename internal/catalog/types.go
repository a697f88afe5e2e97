package catalog

import (
	"time"
)

// Table names in the shared database.
const (
	TableImages       = "image_metadata"
	TableModelResults = "model_test_results"
	TableCrawlJobs    = "crawl_jobs"
)

// JobStatus represents the lifecycle state of a crawl job.
type JobStatus string

// Job status values written by the crawl backend.
const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// Valid reports whether s is one of the known lifecycle states.
func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusPending, JobStatusRunning, JobStatusCompleted, JobStatusFailed:
		return true
	default:
		return false
	}
}

// Terminal reports whether the job has left the running state for good.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

func (s JobStatus) rank() int {
	switch s {
	case JobStatusPending:
		return 0
	case JobStatusRunning:
		return 1
	case JobStatusCompleted, JobStatusFailed:
		return 2
	default:
		return -1
	}
}

// CanTransition reports whether moving from s to next keeps the lifecycle
// monotonic: pending -> running -> completed|failed. Staying put is allowed.
func (s JobStatus) CanTransition(next JobStatus) bool {
	if !s.Valid() || !next.Valid() {
		return false
	}
	if s == next {
		return true
	}
	if s.Terminal() {
		return false
	}
	return next.rank() > s.rank()
}

// TestOutcome is the verdict of a model test run.
type TestOutcome string

// Model test outcomes.
const (
	OutcomePass  TestOutcome = "pass"
	OutcomeFail  TestOutcome = "fail"
	OutcomeError TestOutcome = "error"
)

// ImageMetadata describes one collected image. The bytes live at URL.
type ImageMetadata struct {
	ID               string            `json:"id"`
	URL              string            `json:"url"`
	AltText          *string           `json:"alt_text,omitempty"`
	Width            *int              `json:"width,omitempty"`
	Height           *int              `json:"height,omitempty"`
	Size             *int64            `json:"size,omitempty"`
	Format           *string           `json:"format,omitempty"`
	SourceURL        string            `json:"source_url"`
	CrawlDate        time.Time         `json:"crawl_date"`
	Tags             []string          `json:"tags,omitempty"`
	ModelTestResults []ModelTestResult `json:"model_test_results,omitempty"`
	Keyword          string            `json:"keyword"`
}

// AltTextOrEmpty returns the alt text or "" when unset.
func (m ImageMetadata) AltTextOrEmpty() string {
	if m.AltText == nil {
		return ""
	}
	return *m.AltText
}

// ModelTestResult records one model run against an image.
type ModelTestResult struct {
	ImageID   string         `json:"image_id,omitempty"`
	ModelID   string         `json:"model_id"`
	ModelName string         `json:"model_name"`
	Version   string         `json:"version"`
	TestDate  time.Time      `json:"test_date"`
	Result    TestOutcome    `json:"result"`
	Score     *float64       `json:"score,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

// CrawlJob is one keyword-driven collection run performed by the backend.
type CrawlJob struct {
	ID         string     `json:"id"`
	Status     JobStatus  `json:"status"`
	StartTime  time.Time  `json:"start_time"`
	EndTime    *time.Time `json:"end_time,omitempty"`
	TargetURL  string     `json:"target_url"`
	CrawlDepth int        `json:"crawl_depth"`
	ImageCount int        `json:"image_count"`
	Errors     []string   `json:"errors,omitempty"`
	PID        *int       `json:"pid,omitempty"`
	Keyword    *string    `json:"keyword,omitempty"`
}
