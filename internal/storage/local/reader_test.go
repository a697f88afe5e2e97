package local

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/image-crawl-dashboard/internal/fetcher"
)

func newReader(t *testing.T, maxBytes int64) (*Reader, string) {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "cats"), 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "cats", "tabby.png"), []byte("\x89PNG\r\n\x1a\nrest"), 0o600))
	r, err := New(Config{BaseDir: dir, MaxBytes: maxBytes})
	require.NoError(t, err)
	return r, dir
}

func TestReaderFetch(t *testing.T) {
	t.Parallel()

	r, _ := newReader(t, 0)
	for _, raw := range []string{"file:///cats/tabby.png", "file://cats/tabby.png"} {
		img, err := r.Fetch(context.Background(), raw)
		require.NoError(t, err, raw)
		require.Equal(t, "image/png", img.ContentType)
		require.Equal(t, "\x89PNG\r\n\x1a\nrest", string(img.Body))
	}
}

func TestReaderRejectsTraversal(t *testing.T) {
	t.Parallel()

	r, _ := newReader(t, 0)
	_, err := r.Fetch(context.Background(), "file:///../../etc/passwd")
	require.Error(t, err)

	_, err = r.Fetch(context.Background(), "file://../outside.png")
	require.ErrorContains(t, err, "path traversal")

	_, err = r.Fetch(context.Background(), "file:///")
	require.Error(t, err)
}

func TestReaderMissingFileAndLimit(t *testing.T) {
	t.Parallel()

	r, _ := newReader(t, 4)
	_, err := r.Fetch(context.Background(), "file:///cats/none.png")
	require.Error(t, err)

	_, err = r.Fetch(context.Background(), "file:///cats/tabby.png")
	require.ErrorIs(t, err, fetcher.ErrTooLarge)
}

func TestNewValidatesBaseDir(t *testing.T) {
	t.Parallel()

	_, err := New(Config{})
	require.Error(t, err)

	file := filepath.Join(t.TempDir(), "plain")
	require.NoError(t, os.WriteFile(file, nil, 0o600))
	_, err = New(Config{BaseDir: file})
	require.ErrorContains(t, err, "not a directory")
}
