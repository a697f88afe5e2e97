package views

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/image-crawl-dashboard/internal/catalog"
	"github.com/JakeFAU/image-crawl-dashboard/internal/realtime"
)

type collector[T any] struct {
	mu    sync.Mutex
	snaps []Snapshot[T]
}

func (c *collector[T]) deliver(s Snapshot[T]) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snaps = append(c.snaps, s)
}

func (c *collector[T]) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.snaps)
}

func (c *collector[T]) at(i int) Snapshot[T] {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snaps[i]
}

func newHub(t *testing.T) *realtime.Hub {
	t.Helper()
	hub := realtime.NewHub(realtime.Config{})
	t.Cleanup(func() { _ = hub.Close(context.Background()) })
	return hub
}

func TestLiveViewReloadsOncePerNotification(t *testing.T) {
	t.Parallel()

	hub := newHub(t)
	var loads atomic.Int64
	load := func(context.Context) (int64, error) { return loads.Add(1), nil }
	col := &collector[int64]{}

	v, err := Start(context.Background(), "test", hub, []string{catalog.TableCrawlJobs}, load, col.deliver, nil)
	require.NoError(t, err)
	defer v.Close()

	require.Eventually(t, func() bool { return col.len() == 1 }, time.Second, 5*time.Millisecond)
	require.Nil(t, col.at(0).Trigger)
	require.Equal(t, int64(1), col.at(0).Data)

	for i := 0; i < 3; i++ {
		hub.Publish(realtime.ChangeEvent{Table: catalog.TableCrawlJobs, Op: realtime.OpUpdate, RecordID: "job"})
	}
	hub.Publish(realtime.ChangeEvent{Table: catalog.TableImages, Op: realtime.OpInsert, RecordID: "img"})

	require.Eventually(t, func() bool { return col.len() == 4 }, time.Second, 5*time.Millisecond)
	// Give a stray reload a chance to show up before asserting the exact count.
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, 4, col.len())
	require.EqualValues(t, 4, loads.Load())

	last := col.at(3)
	require.Equal(t, uint64(4), last.Seq)
	require.NotNil(t, last.Trigger)
	require.Equal(t, catalog.TableCrawlJobs, last.Trigger.Table)
}

func TestLiveViewReloadsForEveryEventInBurst(t *testing.T) {
	t.Parallel()

	hub := newHub(t)
	var loads atomic.Int64
	load := func(context.Context) (int64, error) {
		time.Sleep(2 * time.Millisecond)
		return loads.Add(1), nil
	}
	col := &collector[int64]{}

	v, err := Start(context.Background(), "burst", hub, []string{catalog.TableImages}, load, col.deliver, nil)
	require.NoError(t, err)
	defer v.Close()
	require.Eventually(t, func() bool { return col.len() == 1 }, time.Second, 5*time.Millisecond)

	const burst = 300
	for i := 0; i < burst; i++ {
		hub.Publish(realtime.ChangeEvent{Table: catalog.TableImages, Op: realtime.OpInsert, RecordID: "img"})
	}

	require.Eventually(t, func() bool { return col.len() == burst+1 }, 10*time.Second, 10*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, burst+1, col.len())
	for i := 1; i <= burst; i++ {
		snap := col.at(i)
		require.Equal(t, uint64(i+1), snap.Seq)
		require.NotNil(t, snap.Trigger)
	}
}

func TestLiveViewMultipleTables(t *testing.T) {
	t.Parallel()

	hub := newHub(t)
	col := &collector[string]{}
	load := func(context.Context) (string, error) { return "ok", nil }

	v, err := Start(context.Background(), "multi", hub, DashboardTables, load, col.deliver, nil)
	require.NoError(t, err)
	defer v.Close()
	require.Eventually(t, func() bool { return col.len() == 1 }, time.Second, 5*time.Millisecond)

	for _, table := range DashboardTables {
		hub.Publish(realtime.ChangeEvent{Table: table, Op: realtime.OpInsert, RecordID: "x"})
	}
	require.Eventually(t, func() bool { return col.len() == 4 }, time.Second, 5*time.Millisecond)
}

func TestLiveViewDeliversLoadErrors(t *testing.T) {
	t.Parallel()

	hub := newHub(t)
	col := &collector[int]{}
	load := func(context.Context) (int, error) { return 7, errors.New("db down") }

	v, err := Start(context.Background(), "broken", hub, []string{catalog.TableImages}, load, col.deliver, nil)
	require.NoError(t, err)
	defer v.Close()

	require.Eventually(t, func() bool { return col.len() == 1 }, time.Second, 5*time.Millisecond)
	snap := col.at(0)
	require.EqualError(t, snap.Err, "db down")
	require.Zero(t, snap.Data)
}

func TestLiveViewCloseReleasesSubscriptions(t *testing.T) {
	t.Parallel()

	hub := newHub(t)
	col := &collector[int]{}
	load := func(context.Context) (int, error) { return 1, nil }

	v, err := Start(context.Background(), "closing", hub, DashboardTables, load, col.deliver, nil)
	require.NoError(t, err)
	require.Equal(t, 1, hub.SubscriberCount(catalog.TableImages))

	v.Close()
	v.Close()
	for _, table := range DashboardTables {
		require.Zero(t, hub.SubscriberCount(table), table)
	}
	select {
	case <-v.Done():
	default:
		t.Fatal("expected view to be stopped")
	}
}

func TestLiveViewStopsWhenContextEnds(t *testing.T) {
	t.Parallel()

	hub := newHub(t)
	ctx, cancel := context.WithCancel(context.Background())
	load := func(context.Context) (int, error) { return 1, nil }
	v, err := Start(ctx, "ctx", hub, []string{catalog.TableImages}, load, func(Snapshot[int]) {}, nil)
	require.NoError(t, err)

	cancel()
	select {
	case <-v.Done():
	case <-time.After(time.Second):
		t.Fatal("view did not stop")
	}
	v.Close()
}

func TestStartValidatesArguments(t *testing.T) {
	t.Parallel()

	hub := newHub(t)
	load := func(context.Context) (int, error) { return 0, nil }
	deliver := func(Snapshot[int]) {}

	_, err := Start(context.Background(), "v", nil, []string{"t"}, load, deliver, nil)
	require.Error(t, err)
	_, err = Start[int](context.Background(), "v", hub, []string{"t"}, nil, deliver, nil)
	require.Error(t, err)
	_, err = Start(context.Background(), "v", hub, nil, load, deliver, nil)
	require.Error(t, err)

	require.NoError(t, hub.Close(context.Background()))
	_, err = Start(context.Background(), "v", hub, []string{"t"}, load, deliver, nil)
	require.ErrorIs(t, err, realtime.ErrHubClosed)
}
