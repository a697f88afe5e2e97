package ratelimit

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/image-crawl-dashboard/internal/fetcher"
)

func countingFetcher(calls *atomic.Int32) fetcher.Func {
	return func(_ context.Context, rawURL string) (fetcher.Image, error) {
		calls.Add(1)
		return fetcher.Image{Body: []byte(rawURL), ContentType: "image/png"}, nil
	}
}

func TestLimiterDelaysSameHost(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	// 10 RPS with burst 1 means one token every 100ms.
	l, err := New(countingFetcher(&calls), Config{PerHostRPS: 10, PerHostBurst: 1})
	require.NoError(t, err)
	ctx := context.Background()

	_, err = l.Fetch(ctx, "https://example.com/a.png")
	require.NoError(t, err)

	start := time.Now()
	img, err := l.Fetch(ctx, "https://EXAMPLE.com/b.png")
	require.NoError(t, err)
	require.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
	require.Equal(t, "https://EXAMPLE.com/b.png", string(img.Body))

	// Another host has its own bucket.
	start = time.Now()
	_, err = l.Fetch(ctx, "https://other.example.org/c.png")
	require.NoError(t, err)
	require.Less(t, time.Since(start), 50*time.Millisecond)

	require.EqualValues(t, 3, calls.Load())
	require.Equal(t, 2, l.Hosts())
}

func TestLimiterUnlimitedByDefault(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	l, err := New(countingFetcher(&calls), Config{})
	require.NoError(t, err)

	start := time.Now()
	for range 20 {
		_, err := l.Fetch(context.Background(), "https://example.com/x.png")
		require.NoError(t, err)
	}
	require.Less(t, time.Since(start), 100*time.Millisecond)
	require.EqualValues(t, 20, calls.Load())
}

func TestLimiterHonorsContext(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	l, err := New(countingFetcher(&calls), Config{PerHostRPS: 0.1, PerHostBurst: 1})
	require.NoError(t, err)

	_, err = l.Fetch(context.Background(), "gs://bucket/a.png")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = l.Fetch(ctx, "gs://bucket/b.png")
	require.Error(t, err)
	require.EqualValues(t, 1, calls.Load())
}

func TestHostKey(t *testing.T) {
	t.Parallel()

	require.Equal(t, "example.com", hostKey("https://Example.com:8443/a.png"))
	require.Equal(t, "s3://bucket", hostKey("s3://bucket/key.png"))
	require.Equal(t, "unknown", hostKey("file:///tmp/a.png"))
	require.Equal(t, "unknown", hostKey("://bad"))
}

func TestNewRequiresNext(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{})
	require.Error(t, err)

	failing := fetcher.Func(func(context.Context, string) (fetcher.Image, error) {
		return fetcher.Image{}, errors.New("boom")
	})
	l, err := New(failing, Config{})
	require.NoError(t, err)
	_, err = l.Fetch(context.Background(), "https://example.com/x")
	require.EqualError(t, err, "boom")
}
