package api

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/image-crawl-dashboard/internal/catalog"
	"github.com/JakeFAU/image-crawl-dashboard/internal/realtime"
	"github.com/JakeFAU/image-crawl-dashboard/internal/storage/memory"
	"github.com/JakeFAU/image-crawl-dashboard/internal/views"
)

type sseEvent struct {
	id    string
	event string
	data  string
}

func TestStreamReloadsOnEveryChange(t *testing.T) {
	t.Parallel()

	hub := realtime.NewHub(realtime.Config{})
	t.Cleanup(func() { _ = hub.Close(context.Background()) })
	store := memory.NewStore(hub)
	svc, err := views.NewService(store, nil)
	require.NoError(t, err)
	server, err := NewServer(Deps{Repo: store, Views: svc, Changes: hub, Crawler: &fakeCrawler{}, Bundles: &fakeBundler{}})
	require.NoError(t, err)

	ts := httptest.NewServer(server.Handler())
	t.Cleanup(ts.Close)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/stream/crawl-jobs", nil)
	require.NoError(t, err)
	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	reader := bufio.NewReader(resp.Body)

	first := readEvent(t, reader)
	require.Equal(t, "snapshot", first.event)
	require.Equal(t, "1", first.id)
	require.JSONEq(t, `{"jobs":[]}`, first.data)
	require.Equal(t, 1, hub.SubscriberCount(catalog.TableCrawlJobs))

	job, err := store.PutCrawlJob(ctx, catalog.CrawlJob{ID: testJobID, TargetURL: "https://example.com"})
	require.NoError(t, err)
	second := readEvent(t, reader)
	require.Equal(t, "2", second.id)
	require.Contains(t, second.data, testJobID)
	require.Contains(t, second.data, `"status":"pending"`)

	job.Status = catalog.JobStatusRunning
	_, err = store.PutCrawlJob(ctx, job)
	require.NoError(t, err)
	third := readEvent(t, reader)
	require.Equal(t, "3", third.id)
	require.Contains(t, third.data, `"status":"running"`)

	// Images are not part of this view.
	_, err = store.PutImage(ctx, catalog.ImageMetadata{URL: "https://img/1.jpg"})
	require.NoError(t, err)

	cancel()
	require.Eventually(t, func() bool {
		return hub.SubscriberCount(catalog.TableCrawlJobs) == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestStreamRejectsUnknownViewAndBadSort(t *testing.T) {
	t.Parallel()

	server := newTestServer(t, &catalog.MockRepository{}, nil)

	rec := serve(server, httptest.NewRequest(http.MethodGet, "/api/stream/nope", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = serve(server, httptest.NewRequest(http.MethodGet, "/api/stream/images?sort=up", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func readEvent(t *testing.T, r *bufio.Reader) sseEvent {
	t.Helper()

	type result struct {
		evt sseEvent
		err error
	}
	ch := make(chan result, 1)
	go func() {
		var evt sseEvent
		for {
			line, err := r.ReadString('\n')
			if err != nil {
				ch <- result{err: err}
				return
			}
			line = strings.TrimRight(line, "\n")
			switch {
			case line == "":
				if evt.event != "" {
					ch <- result{evt: evt}
					return
				}
			case strings.HasPrefix(line, ":"):
			case strings.HasPrefix(line, "id: "):
				evt.id = strings.TrimPrefix(line, "id: ")
			case strings.HasPrefix(line, "event: "):
				evt.event = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				evt.data = strings.TrimPrefix(line, "data: ")
			}
		}
	}()

	select {
	case res := <-ch:
		require.NoError(t, res.err)
		return res.evt
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for SSE event")
		return sseEvent{}
	}
}
