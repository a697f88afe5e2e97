package postgres

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/image-crawl-dashboard/internal/realtime"
)

type fakeConn struct {
	mu       sync.Mutex
	execs    []string
	released bool
	payloads chan string
}

func (c *fakeConn) Exec(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.execs = append(c.execs, sql)
	return pgconn.CommandTag{}, nil
}

func (c *fakeConn) WaitForNotification(ctx context.Context) (*pgconn.Notification, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case p, ok := <-c.payloads:
		if !ok {
			return nil, errors.New("connection closed")
		}
		return &pgconn.Notification{Channel: NotifyChannel, Payload: p}, nil
	}
}

func (c *fakeConn) Release() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.released = true
}

func (c *fakeConn) snapshot() ([]string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.execs...), c.released
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []realtime.ChangeEvent
}

func (p *recordingPublisher) Publish(evt realtime.ChangeEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
}

func (p *recordingPublisher) len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}

func TestListenerPublishesNotifications(t *testing.T) {
	t.Parallel()

	conn := &fakeConn{payloads: make(chan string, 3)}
	conn.payloads <- `{"table":"crawl_jobs","op":"INSERT","id":"job-1"}`
	conn.payloads <- `not json`
	conn.payloads <- `{"table":"image_metadata","op":"DELETE","id":"img-9"}`

	pub := &recordingPublisher{}
	l, err := newListener(func(context.Context) (notifyConn, error) { return conn, nil }, "", pub, zap.NewNop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	require.Eventually(t, func() bool { return pub.len() == 2 }, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	pub.mu.Lock()
	require.Equal(t, realtime.OpInsert, pub.events[0].Op)
	require.Equal(t, "job-1", pub.events[0].RecordID)
	require.Equal(t, "image_metadata", pub.events[1].Table)
	pub.mu.Unlock()

	execs, released := conn.snapshot()
	require.Equal(t, []string{`LISTEN "dashboard_changes"`, "UNLISTEN *"}, execs)
	require.True(t, released)
}

func TestListenerReconnectsAfterFailure(t *testing.T) {
	t.Parallel()

	var (
		mu       sync.Mutex
		attempts int
	)
	second := &fakeConn{payloads: make(chan string, 1)}
	second.payloads <- `{"table":"crawl_jobs","op":"UPDATE","id":"job-1"}`

	acquire := func(context.Context) (notifyConn, error) {
		mu.Lock()
		defer mu.Unlock()
		attempts++
		if attempts == 1 {
			return nil, errors.New("connection refused")
		}
		return second, nil
	}

	pub := &recordingPublisher{}
	l, err := newListener(acquire, NotifyChannel, pub, nil)
	require.NoError(t, err)
	l.minBackoff = time.Millisecond
	l.maxBackoff = 2 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	require.Eventually(t, func() bool { return pub.len() == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
}

func TestNewListenerRequiresPublisher(t *testing.T) {
	t.Parallel()

	_, err := newListener(nil, "", nil, nil)
	require.Error(t, err)
	_, err = NewListener(nil, "", &recordingPublisher{}, nil)
	require.Error(t, err)
}
