// Package postgres provides the Postgres-backed catalog repository and the
// LISTEN/NOTIFY change listener.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/image-crawl-dashboard/internal/catalog"
)

// Config controls the Postgres connection pool.
type Config struct {
	URL             string
	Key             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Ping(context.Context) error
	Close()
}

// Store implements catalog.Repository on top of a pgx pool.
type Store struct {
	pool pool
}

var _ catalog.Repository = (*Store)(nil)

// NewPool opens a pgx pool from cfg. The key, when set, replaces any password in the URL.
func NewPool(ctx context.Context, cfg Config) (*pgxpool.Pool, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("database.url is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse postgres url: %w", err)
	}
	if cfg.Key != "" {
		poolCfg.ConnConfig.Password = cfg.Key
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return p, nil
}

// NewStore wraps an existing pool. Tests pass a pgxmock pool.
func NewStore(p pool) (*Store, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Store{pool: p}, nil
}

// Close releases the underlying pool.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

const imageColumns = `id::text, url, alt_text, width, height, size, format,
	COALESCE(source_url, ''), crawl_date, COALESCE(tags, '{}'), COALESCE(keyword, '')`

// ListImages returns images matching the keyword in the requested crawl-date order.
func (s *Store) ListImages(ctx context.Context, q catalog.ImageQuery) ([]catalog.ImageMetadata, error) {
	dir := "DESC"
	if q.Order.Ascending() {
		dir = "ASC"
	}
	limit := q.Limit
	if limit < 0 {
		limit = 0
	}
	query := fmt.Sprintf(`
SELECT %s
FROM image_metadata
WHERE $1 = ''
	OR alt_text ILIKE $2 ESCAPE '\'
	OR keyword ILIKE $2 ESCAPE '\'
	OR EXISTS (SELECT 1 FROM unnest(tags) AS t(tag) WHERE lower(t.tag) = lower($1))
ORDER BY crawl_date %s, id
LIMIT NULLIF($3, 0)`, imageColumns, dir)

	rows, err := s.pool.Query(ctx, query, q.Keyword, likePattern(q.Keyword), limit)
	if err != nil {
		return nil, fmt.Errorf("query images: %w", err)
	}
	defer rows.Close()

	var out []catalog.ImageMetadata
	for rows.Next() {
		img, err := scanImage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, img)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate images: %w", err)
	}
	catalog.SortImages(out, q.Order)
	return out, nil
}

// GetImage loads one image with its model test results attached.
func (s *Store) GetImage(ctx context.Context, id string) (catalog.ImageMetadata, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+imageColumns+` FROM image_metadata WHERE id = $1`, id)
	img, err := scanImage(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return catalog.ImageMetadata{}, catalog.ErrNotFound
	}
	if err != nil {
		return catalog.ImageMetadata{}, err
	}
	results, err := s.ListModelTestResults(ctx, id)
	if err != nil {
		return catalog.ImageMetadata{}, err
	}
	img.ModelTestResults = results
	return img, nil
}

// CountImages returns the number of image rows.
func (s *Store) CountImages(ctx context.Context) (int64, error) {
	return s.count(ctx, catalog.TableImages)
}

// CountCrawlJobs returns the number of crawl job rows.
func (s *Store) CountCrawlJobs(ctx context.Context) (int64, error) {
	return s.count(ctx, catalog.TableCrawlJobs)
}

// CountModelTestResults returns the number of model test result rows.
func (s *Store) CountModelTestResults(ctx context.Context) (int64, error) {
	return s.count(ctx, catalog.TableModelResults)
}

// count only ever receives the package's table constants.
func (s *Store) count(ctx context.Context, table string) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, "SELECT count(*) FROM "+table).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", table, err)
	}
	return n, nil
}

// ListCrawlJobs returns crawl jobs, newest first. A zero limit returns all rows.
func (s *Store) ListCrawlJobs(ctx context.Context, limit int) ([]catalog.CrawlJob, error) {
	if limit < 0 {
		limit = 0
	}
	rows, err := s.pool.Query(ctx, `
SELECT id::text, status, start_time, end_time, COALESCE(target_url, ''),
	COALESCE(crawl_depth, 0), COALESCE(image_count, 0), COALESCE(errors, '{}'), pid, keyword
FROM crawl_jobs
ORDER BY start_time DESC
LIMIT NULLIF($1, 0)`, limit)
	if err != nil {
		return nil, fmt.Errorf("query crawl jobs: %w", err)
	}
	defer rows.Close()

	var out []catalog.CrawlJob
	for rows.Next() {
		var (
			job    catalog.CrawlJob
			status string
		)
		if err := rows.Scan(
			&job.ID,
			&status,
			&job.StartTime,
			&job.EndTime,
			&job.TargetURL,
			&job.CrawlDepth,
			&job.ImageCount,
			&job.Errors,
			&job.PID,
			&job.Keyword,
		); err != nil {
			return nil, fmt.Errorf("scan crawl job: %w", err)
		}
		job.Status = catalog.JobStatus(status)
		out = append(out, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate crawl jobs: %w", err)
	}
	return out, nil
}

// DeleteCrawlJob removes one crawl job row.
func (s *Store) DeleteCrawlJob(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM crawl_jobs WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete crawl job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return catalog.ErrNotFound
	}
	return nil
}

// ListModelTestResults returns the results recorded for an image, newest first.
func (s *Store) ListModelTestResults(ctx context.Context, imageID string) ([]catalog.ModelTestResult, error) {
	rows, err := s.pool.Query(ctx, `
SELECT image_id::text, model_id, model_name, COALESCE(version, ''), test_date, result, score, details
FROM model_test_results
WHERE image_id = $1
ORDER BY test_date DESC`, imageID)
	if err != nil {
		return nil, fmt.Errorf("query model test results: %w", err)
	}
	defer rows.Close()

	var out []catalog.ModelTestResult
	for rows.Next() {
		var (
			res     catalog.ModelTestResult
			outcome string
			details []byte
		)
		if err := rows.Scan(
			&res.ImageID,
			&res.ModelID,
			&res.ModelName,
			&res.Version,
			&res.TestDate,
			&outcome,
			&res.Score,
			&details,
		); err != nil {
			return nil, fmt.Errorf("scan model test result: %w", err)
		}
		res.Result = catalog.TestOutcome(outcome)
		if len(details) > 0 {
			if err := json.Unmarshal(details, &res.Details); err != nil {
				return nil, fmt.Errorf("decode details for model %s: %w", res.ModelID, err)
			}
		}
		out = append(out, res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate model test results: %w", err)
	}
	return out, nil
}

func scanImage(row pgx.Row) (catalog.ImageMetadata, error) {
	var img catalog.ImageMetadata
	err := row.Scan(
		&img.ID,
		&img.URL,
		&img.AltText,
		&img.Width,
		&img.Height,
		&img.Size,
		&img.Format,
		&img.SourceURL,
		&img.CrawlDate,
		&img.Tags,
		&img.Keyword,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return catalog.ImageMetadata{}, err
	}
	if err != nil {
		return catalog.ImageMetadata{}, fmt.Errorf("scan image: %w", err)
	}
	return img, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// likePattern wraps keyword for a case-insensitive substring match.
func likePattern(keyword string) string {
	return "%" + likeEscaper.Replace(keyword) + "%"
}
