// Package bundle builds the zip archive of catalog images served by the
// download route.
package bundle

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/image-crawl-dashboard/internal/catalog"
	"github.com/JakeFAU/image-crawl-dashboard/internal/fetcher"
	"github.com/JakeFAU/image-crawl-dashboard/internal/metrics"
)

// Archive response constants.
const (
	ContentType = "application/zip"
	ArchiveName = "filtered_images.zip"
)

// ErrNoImages means the keyword matched no catalog rows.
var ErrNoImages = errors.New("no images found for the given criteria")

// Config bounds the fan-out.
type Config struct {
	// MaxParallel caps concurrent fetches; 0 means one goroutine per image.
	MaxParallel int
	// FetchTimeout applies to each image; 0 disables it.
	FetchTimeout time.Duration
}

// Bundler looks up matching images and fetches them into an Archive.
type Bundler struct {
	repo    catalog.Repository
	fetcher fetcher.Fetcher
	cfg     Config
	logger  *zap.Logger
}

// Entry is one file of the archive.
type Entry struct {
	Name string
	Body []byte
}

// Archive holds fetched entries in catalog row order.
type Archive struct {
	Entries []Entry
	Skipped int
}

// New constructs a Bundler.
func New(repo catalog.Repository, f fetcher.Fetcher, cfg Config, logger *zap.Logger) (*Bundler, error) {
	if repo == nil {
		return nil, fmt.Errorf("repository is required")
	}
	if f == nil {
		return nil, fmt.Errorf("fetcher is required")
	}
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("max parallel must be >= 0")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bundler{repo: repo, fetcher: f, cfg: cfg, logger: logger.Named("bundle")}, nil
}

type fetched struct {
	img fetcher.Image
	ok  bool
}

// Build fetches every image matching keyword. It returns ErrNoImages when the
// lookup is empty. Individual fetch failures are logged and skipped, so an
// Archive with zero entries is still a success.
func (b *Bundler) Build(ctx context.Context, keyword string) (*Archive, error) {
	start := time.Now()
	defer func() { metrics.ObserveBundleDuration(time.Since(start)) }()

	rows, err := b.repo.ListImages(ctx, catalog.ImageQuery{Keyword: keyword, Order: catalog.SortNewestFirst})
	if err != nil {
		return nil, fmt.Errorf("look up images: %w", err)
	}
	if len(rows) == 0 {
		return nil, ErrNoImages
	}

	results := make([]fetched, len(rows))
	var g errgroup.Group
	if b.cfg.MaxParallel > 0 {
		g.SetLimit(b.cfg.MaxParallel)
	}
	for i, row := range rows {
		if row.URL == "" {
			b.logger.Warn("skipping image without url", zap.String("image_id", row.ID))
			continue
		}
		g.Go(func() error {
			img, err := b.fetchOne(ctx, row.URL)
			if err != nil {
				b.logger.Warn("skipping image",
					zap.String("image_id", row.ID),
					zap.String("url", row.URL),
					zap.Error(err),
				)
				return nil
			}
			results[i] = fetched{img: img, ok: true}
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("bundle canceled: %w", err)
	}

	archive := &Archive{}
	used := make(map[string]struct{}, len(rows))
	for i, row := range rows {
		res := results[i]
		metrics.ObserveBundleImage(res.ok)
		if !res.ok {
			archive.Skipped++
			continue
		}
		name := EntryName(row.URL, res.img.ContentType, row.Keyword, keyword, i)
		archive.Entries = append(archive.Entries, Entry{Name: dedupe(name, used), Body: res.img.Body})
	}
	b.logger.Info("bundle assembled",
		zap.String("keyword", keyword),
		zap.Int("rows", len(rows)),
		zap.Int("added", len(archive.Entries)),
		zap.Int("skipped", archive.Skipped),
		zap.Duration("elapsed", time.Since(start)),
	)
	return archive, nil
}

func (b *Bundler) fetchOne(ctx context.Context, rawURL string) (fetcher.Image, error) {
	if b.cfg.FetchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.cfg.FetchTimeout)
		defer cancel()
	}
	img, err := b.fetcher.Fetch(ctx, rawURL)
	if err != nil {
		return fetcher.Image{}, fmt.Errorf("fetch: %w", err)
	}
	return img, nil
}

// WriteTo writes the archive as a zip stream.
func (a *Archive) WriteTo(w io.Writer) (int64, error) {
	cw := &countingWriter{w: w}
	zw := zip.NewWriter(cw)
	for _, e := range a.Entries {
		fw, err := zw.CreateHeader(&zip.FileHeader{
			Name:     e.Name,
			Method:   zip.Deflate,
			Modified: time.Now().UTC(),
		})
		if err != nil {
			return cw.n, fmt.Errorf("create entry %s: %w", e.Name, err)
		}
		if _, err := fw.Write(e.Body); err != nil {
			return cw.n, fmt.Errorf("write entry %s: %w", e.Name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return cw.n, fmt.Errorf("finish zip: %w", err)
	}
	return cw.n, nil
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err //nolint:wrapcheck
}
