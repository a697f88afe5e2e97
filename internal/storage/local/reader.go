// Package local serves catalog images from a directory on the local filesystem (file:// URLs).
package local

import (
	"context"
	"fmt"
	"mime"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/JakeFAU/image-crawl-dashboard/internal/fetcher"
)

// Config captures the parameters for the local reader.
type Config struct {
	// BaseDir is the root every file:// URL is resolved against.
	BaseDir  string `mapstructure:"local_dir" yaml:"local_dir"`
	MaxBytes int64
}

// Reader resolves file:// URLs inside BaseDir.
type Reader struct {
	baseDir  string
	maxBytes int64
}

var _ fetcher.Fetcher = (*Reader)(nil)

// New creates a reader rooted at cfg.BaseDir, which must be an existing directory.
func New(cfg Config) (*Reader, error) {
	if strings.TrimSpace(cfg.BaseDir) == "" {
		return nil, fmt.Errorf("base directory is required")
	}
	abs, err := filepath.Abs(cfg.BaseDir)
	if err != nil {
		return nil, fmt.Errorf("resolve base directory: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("failed to stat base directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("base directory path is not a directory")
	}
	return &Reader{baseDir: abs, maxBytes: cfg.MaxBytes}, nil
}

// Fetch reads the file named by rawURL. file://host/p and file:///p both
// resolve relative to the base directory.
func (r *Reader) Fetch(_ context.Context, rawURL string) (fetcher.Image, error) {
	fullPath, err := r.resolve(rawURL)
	if err != nil {
		return fetcher.Image{}, err
	}
	f, err := os.Open(fullPath) // #nosec G304 -- path is confined to baseDir by resolve
	if err != nil {
		return fetcher.Image{}, fmt.Errorf("open %s: %w", fullPath, err)
	}
	defer func() { _ = f.Close() }()

	body, err := fetcher.ReadLimited(f, r.maxBytes)
	if err != nil {
		return fetcher.Image{}, fmt.Errorf("read %s: %w", fullPath, err)
	}
	return fetcher.Image{
		Body:        body,
		ContentType: fetcher.ContentType(mime.TypeByExtension(filepath.Ext(fullPath)), body),
	}, nil
}

func (r *Reader) resolve(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse file url: %w", err)
	}
	rel := strings.TrimPrefix(path.Join(u.Host, u.Path), "/")
	if rel == "" {
		return "", fmt.Errorf("file url %q has no path", rawURL)
	}
	// Clean the path and verify it's within baseDir to prevent path traversal.
	fullPath := filepath.Clean(filepath.Join(r.baseDir, filepath.FromSlash(rel)))
	if !strings.HasPrefix(fullPath, r.baseDir+string(filepath.Separator)) {
		return "", fmt.Errorf("path traversal detected")
	}
	return fullPath, nil
}
