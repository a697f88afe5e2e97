package views

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/image-crawl-dashboard/internal/catalog"
)

func TestServiceDashboard(t *testing.T) {
	t.Parallel()

	repo := &catalog.MockRepository{}
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	repo.On("CountImages", mock.Anything).Return(int64(40), nil)
	repo.On("CountCrawlJobs", mock.Anything).Return(int64(6), nil)
	repo.On("CountModelTestResults", mock.Anything).Return(int64(12), nil)
	repo.On("ListCrawlJobs", mock.Anything, RecentJobsLimit).Return([]catalog.CrawlJob{
		{ID: "old", StartTime: base},
		{ID: "new", StartTime: base.Add(time.Hour)},
	}, nil)

	svc, err := NewService(repo, nil)
	require.NoError(t, err)
	d, err := svc.Dashboard(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 40, d.TotalImages)
	require.EqualValues(t, 6, d.TotalCrawlJobs)
	require.EqualValues(t, 12, d.TotalModelTests)
	require.Equal(t, "new", d.RecentJobs[0].ID)
	repo.AssertExpectations(t)
}

func TestServiceDashboardError(t *testing.T) {
	t.Parallel()

	repo := &catalog.MockRepository{}
	repo.On("CountImages", mock.Anything).Return(int64(0), errors.New("down"))
	svc, err := NewService(repo, nil)
	require.NoError(t, err)

	_, err = svc.Dashboard(context.Background())
	require.ErrorContains(t, err, "count images")
}

func TestServiceCrawlJobsEmptyIsNotNil(t *testing.T) {
	t.Parallel()

	repo := &catalog.MockRepository{}
	repo.On("ListCrawlJobs", mock.Anything, 0).Return(nil, nil)
	svc, err := NewService(repo, nil)
	require.NoError(t, err)

	out, err := svc.CrawlJobs(context.Background())
	require.NoError(t, err)
	require.NotNil(t, out.Jobs)
	require.Empty(t, out.Jobs)
}

func TestServiceImagesReSortsLocally(t *testing.T) {
	t.Parallel()

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	repo := &catalog.MockRepository{}
	// Rows arrive in the wrong order; the view must still be oldest first.
	repo.On("ListImages", mock.Anything, catalog.ImageQuery{Keyword: "cat", Order: catalog.SortOldestFirst}).
		Return([]catalog.ImageMetadata{
			{ID: "b", CrawlDate: base.Add(time.Hour)},
			{ID: "a", CrawlDate: base},
		}, nil)
	svc, err := NewService(repo, nil)
	require.NoError(t, err)

	out, err := svc.Images(context.Background(), ImagesParams{Keyword: "cat", Order: catalog.SortOldestFirst})
	require.NoError(t, err)
	require.Equal(t, "a", out.Images[0].ID)
	require.Equal(t, catalog.SortOldestFirst, out.Sort)
}

func TestServiceImagesDefaultsToNewestFirst(t *testing.T) {
	t.Parallel()

	repo := &catalog.MockRepository{}
	repo.On("ListImages", mock.Anything, catalog.ImageQuery{Order: catalog.SortNewestFirst}).Return(nil, nil)
	svc, err := NewService(repo, nil)
	require.NoError(t, err)

	out, err := svc.Images(context.Background(), ImagesParams{})
	require.NoError(t, err)
	require.Equal(t, catalog.SortNewestFirst, out.Sort)
	require.NotNil(t, out.Images)
}

func TestDefinition(t *testing.T) {
	t.Parallel()

	repo := &catalog.MockRepository{}
	repo.On("ListCrawlJobs", mock.Anything, 0).Return([]catalog.CrawlJob{{ID: "j", Status: catalog.JobStatusRunning}}, nil)
	svc, err := NewService(repo, nil)
	require.NoError(t, err)

	def, err := svc.Definition(ViewCrawlJobs, ImagesParams{})
	require.NoError(t, err)
	require.Equal(t, CrawlJobsTables, def.Tables)
	data, err := def.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, data.(CrawlJobs).Jobs, 1)

	def, err = svc.Definition(ViewDashboard, ImagesParams{})
	require.NoError(t, err)
	require.Equal(t, DashboardTables, def.Tables)

	def, err = svc.Definition(ViewImages, ImagesParams{Keyword: "x"})
	require.NoError(t, err)
	require.Equal(t, ImagesTables, def.Tables)

	_, err = svc.Definition("nope", ImagesParams{})
	require.Error(t, err)

	_, err = NewService(nil, nil)
	require.Error(t, err)
}

func TestImagesStreamOverlayFollowsSelection(t *testing.T) {
	t.Parallel()

	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	width, height := 640, 480
	cat := catalog.ImageMetadata{ID: "img-1", URL: "https://cdn.example.com/cat.png", Keyword: "cat",
		CrawlDate: base, Width: &width, Height: &height}
	other := catalog.ImageMetadata{ID: "img-2", Keyword: "cat", CrawlDate: base.Add(-time.Hour)}
	query := catalog.ImageQuery{Keyword: "cat", Order: catalog.SortNewestFirst}

	repo := &catalog.MockRepository{}
	repo.On("ListImages", mock.Anything, query).Return([]catalog.ImageMetadata{cat, other}, nil).Once()
	repo.On("ListImages", mock.Anything, query).Return([]catalog.ImageMetadata{other}, nil).Once()
	core, logs := observer.New(zap.InfoLevel)
	svc, err := NewService(repo, zap.New(core))
	require.NoError(t, err)

	def, err := svc.Definition(ViewImages, ImagesParams{Keyword: "cat", Selected: "img-1"})
	require.NoError(t, err)

	data, err := def.Load(context.Background())
	require.NoError(t, err)
	first := data.(Images)
	require.NotNil(t, first.Selected)
	require.Equal(t, "img-1", first.Selected.ID)
	require.Equal(t, "640x480", first.Selected.Dimensions)

	data, err = def.Load(context.Background())
	require.NoError(t, err)
	require.Nil(t, data.(Images).Selected)
	require.Equal(t, 1, logs.FilterMessage("selected image left the gallery; overlay closed").Len())
	repo.AssertExpectations(t)
}

func TestServiceImagesWithoutSelection(t *testing.T) {
	t.Parallel()

	repo := &catalog.MockRepository{}
	repo.On("ListImages", mock.Anything, catalog.ImageQuery{Order: catalog.SortNewestFirst}).
		Return([]catalog.ImageMetadata{{ID: "a"}}, nil)
	svc, err := NewService(repo, nil)
	require.NoError(t, err)

	out, err := svc.Images(context.Background(), ImagesParams{Selected: "missing"})
	require.NoError(t, err)
	require.Nil(t, out.Selected)
	require.Len(t, out.Images, 1)
}

func TestJobWatcherTracksLifecycle(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.WarnLevel)
	w := newJobWatcher(zap.New(core))
	w.observe([]catalog.CrawlJob{{ID: "j", Status: catalog.JobStatusCompleted}})
	require.Zero(t, logs.Len())
	w.observe([]catalog.CrawlJob{{ID: "j", Status: catalog.JobStatusRunning}})
	require.Equal(t, 1, logs.FilterMessage("crawl job moved backwards").Len())
	require.Equal(t, catalog.JobStatusRunning, w.last["j"])

	end := time.Now()
	w.observe([]catalog.CrawlJob{{ID: "k", Status: catalog.JobStatusRunning, EndTime: &end}})
	require.Equal(t, 1, logs.FilterMessage("crawl job has end_time but is not finished").Len())
	w.observe(nil)
	require.Empty(t, w.last)
}
