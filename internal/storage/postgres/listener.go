package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/JakeFAU/image-crawl-dashboard/internal/realtime"
)

type notifyConn interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	WaitForNotification(context.Context) (*pgconn.Notification, error)
	Release()
}

type acquireFunc func(context.Context) (notifyConn, error)

type poolConn struct {
	*pgxpool.Conn
}

func (c poolConn) WaitForNotification(ctx context.Context) (*pgconn.Notification, error) {
	return c.Conn.Conn().WaitForNotification(ctx) //nolint:wrapcheck
}

// Listener holds a dedicated connection on LISTEN and republishes each
// notification as a realtime.ChangeEvent. Lost connections are re-established
// with capped exponential backoff.
type Listener struct {
	acquire    acquireFunc
	channel    string
	out        realtime.Publisher
	logger     *zap.Logger
	minBackoff time.Duration
	maxBackoff time.Duration
}

// NewListener builds a Listener that borrows connections from p.
func NewListener(p *pgxpool.Pool, channel string, out realtime.Publisher, logger *zap.Logger) (*Listener, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	acquire := func(ctx context.Context) (notifyConn, error) {
		c, err := p.Acquire(ctx)
		if err != nil {
			return nil, fmt.Errorf("acquire listen connection: %w", err)
		}
		return poolConn{Conn: c}, nil
	}
	return newListener(acquire, channel, out, logger)
}

func newListener(acquire acquireFunc, channel string, out realtime.Publisher, logger *zap.Logger) (*Listener, error) {
	if out == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	if channel == "" {
		channel = NotifyChannel
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Listener{
		acquire:    acquire,
		channel:    channel,
		out:        out,
		logger:     logger,
		minBackoff: 500 * time.Millisecond,
		maxBackoff: 30 * time.Second,
	}, nil
}

// Run listens until ctx is canceled.
func (l *Listener) Run(ctx context.Context) error {
	backoff := l.minBackoff
	for {
		listening, err := l.listen(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if listening {
			backoff = l.minBackoff
		}
		l.logger.Warn("postgres listener disconnected",
			zap.String("channel", l.channel),
			zap.Duration("retry_in", backoff),
			zap.Error(err),
		)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > l.maxBackoff {
			backoff = l.maxBackoff
		}
	}
}

// listen reports whether LISTEN succeeded before the connection failed.
func (l *Listener) listen(ctx context.Context) (bool, error) {
	conn, err := l.acquire(ctx)
	if err != nil {
		return false, err
	}
	defer func() {
		cleanupCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if _, err := conn.Exec(cleanupCtx, "UNLISTEN *"); err != nil {
			l.logger.Debug("unlisten failed", zap.Error(err))
		}
		conn.Release()
	}()

	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{l.channel}.Sanitize()); err != nil {
		return false, fmt.Errorf("listen %s: %w", l.channel, err)
	}
	l.logger.Info("listening for catalog changes", zap.String("channel", l.channel))

	for {
		n, err := conn.WaitForNotification(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return true, err
			}
			return true, fmt.Errorf("wait for notification: %w", err)
		}
		evt, err := realtime.DecodeChange([]byte(n.Payload))
		if err != nil {
			l.logger.Warn("discarding malformed notification",
				zap.String("payload", n.Payload),
				zap.Error(err),
			)
			continue
		}
		l.out.Publish(evt)
	}
}
