// Package views builds the dashboard, crawler and images views and keeps
// them in sync with catalog changes.
package views

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/image-crawl-dashboard/internal/metrics"
	"github.com/JakeFAU/image-crawl-dashboard/internal/realtime"
)

// Loader produces a full view snapshot.
type Loader[T any] func(ctx context.Context) (T, error)

// Snapshot is one load result. Err is set when the load failed; Data is then
// the zero value.
type Snapshot[T any] struct {
	Seq     uint64
	Data    T
	Err     error
	Trigger *realtime.ChangeEvent
	At      time.Time
}

// LiveView loads a view once, then reloads it once for every change
// notification on its tables. Notifications are never coalesced and
// snapshots are never patched incrementally.
type LiveView[T any] struct {
	name    string
	load    Loader[T]
	deliver func(Snapshot[T])
	logger  *zap.Logger

	subs   []*realtime.Subscription
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
	seq    uint64
}

// Start subscribes to tables, performs the initial load and begins
// reloading on change. deliver is called from a single goroutine, in order.
func Start[T any](
	ctx context.Context,
	name string,
	sub realtime.Subscriber,
	tables []string,
	load Loader[T],
	deliver func(Snapshot[T]),
	logger *zap.Logger,
) (*LiveView[T], error) {
	if sub == nil {
		return nil, errors.New("subscriber is required")
	}
	if load == nil || deliver == nil {
		return nil, errors.New("loader and deliver are required")
	}
	if len(tables) == 0 {
		return nil, errors.New("at least one table is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	v := &LiveView[T]{
		name:    name,
		load:    load,
		deliver: deliver,
		logger:  logger.With(zap.String("view", name)),
		done:    make(chan struct{}),
	}
	// Subscribe before the initial load so no change slips between them.
	for _, table := range tables {
		s, err := sub.Subscribe(table)
		if err != nil {
			v.closeSubs()
			return nil, fmt.Errorf("subscribe %s: %w", table, err)
		}
		v.subs = append(v.subs, s)
	}

	runCtx, cancel := context.WithCancel(ctx)
	v.cancel = cancel
	events := v.merge(runCtx)
	go v.run(runCtx, events)
	return v, nil
}

// Close stops reloading and releases the subscriptions. Safe to call more than once.
func (v *LiveView[T]) Close() {
	v.once.Do(func() {
		v.cancel()
		v.closeSubs()
	})
	<-v.done
}

// Done is closed once the view has stopped.
func (v *LiveView[T]) Done() <-chan struct{} {
	return v.done
}

func (v *LiveView[T]) closeSubs() {
	for _, s := range v.subs {
		s.Close()
	}
}

// merge funnels every subscription into one channel. Each forwarder exits
// when its subscription closes or ctx ends.
func (v *LiveView[T]) merge(ctx context.Context) <-chan realtime.ChangeEvent {
	out := make(chan realtime.ChangeEvent)
	var wg sync.WaitGroup
	for _, s := range v.subs {
		wg.Add(1)
		go func(s *realtime.Subscription) {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case evt, ok := <-s.Events():
					if !ok {
						return
					}
					select {
					case out <- evt:
					case <-ctx.Done():
						return
					}
				}
			}
		}(s)
	}
	go func() {
		wg.Wait()
		close(out)
	}()
	return out
}

func (v *LiveView[T]) run(ctx context.Context, events <-chan realtime.ChangeEvent) {
	defer close(v.done)
	v.reload(ctx, nil)
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			v.reload(ctx, &evt)
		}
	}
}

func (v *LiveView[T]) reload(ctx context.Context, trigger *realtime.ChangeEvent) {
	data, err := v.load(ctx)
	if ctx.Err() != nil {
		return
	}
	metrics.ObserveViewReload(v.name, err)
	v.seq++
	snap := Snapshot[T]{Seq: v.seq, Trigger: trigger, At: time.Now().UTC()}
	if err != nil {
		v.logger.Warn("view reload failed", zap.Uint64("seq", v.seq), zap.Error(err))
		snap.Err = err
	} else {
		snap.Data = data
	}
	v.deliver(snap)
}
