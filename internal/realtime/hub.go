package realtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// ErrHubClosed is returned when subscribing to a hub that is shutting down.
var ErrHubClosed = errors.New("realtime hub closed")

// Config controls buffering for the Hub.
//   - BufferSize: size of the inbound event channel (default 1024).
//   - SubscriberBuffer: per-subscription channel size (default 64). Events
//     beyond it queue on the subscription instead of being dropped.
//   - Observer: optional hook invoked once per dispatched event (metrics).
//   - Logger: optional structured logger used for warnings.
type Config struct {
	BufferSize       int
	SubscriberBuffer int
	Observer         func(ChangeEvent)
	Logger           *zap.Logger
}

const (
	defaultBufferSize       = 1024
	defaultSubscriberBuffer = 64
	warnLogInterval         = 5 * time.Second
)

// Hub fans change events out to per-table subscriptions. No event is dropped
// once accepted; it is safe for concurrent use by multiple goroutines.
type Hub struct {
	cfg    Config
	events chan ChangeEvent
	stopCh chan struct{}
	doneCh chan struct{}
	logger *zap.Logger

	mu     sync.RWMutex
	subs   map[string]map[uint64]*Subscription
	nextID atomic.Uint64

	warnLimiter rateLimiter
	blocked     atomic.Int64
	closed      atomic.Bool
	closeOnce   sync.Once
}

// NewHub initializes a Hub and starts its dispatch goroutine.
func NewHub(cfg Config) *Hub {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaultBufferSize
	}
	if cfg.SubscriberBuffer <= 0 {
		cfg.SubscriberBuffer = defaultSubscriberBuffer
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Hub{
		cfg:         cfg,
		events:      make(chan ChangeEvent, cfg.BufferSize),
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
		logger:      logger,
		subs:        make(map[string]map[uint64]*Subscription),
		warnLimiter: rateLimiter{interval: warnLogInterval},
	}
	go h.run()
	return h
}

// Publish enqueues evt for dispatch. While the inbound buffer is full it waits
// for the dispatcher, logging a rate-limited warning; after Close it is a no-op.
func (h *Hub) Publish(evt ChangeEvent) {
	if h == nil || h.closed.Load() {
		return
	}
	if err := evt.Validate(); err != nil {
		h.logger.Debug("discarding invalid change event", zap.Error(err))
		return
	}
	if evt.At.IsZero() {
		evt.At = time.Now().UTC()
	}
	select {
	case h.events <- evt:
		return
	default:
		h.noteBackpressure()
	}
	select {
	case h.events <- evt:
	case <-h.stopCh:
	}
}

// Subscribe registers interest in one table's changes.
func (h *Hub) Subscribe(table string) (*Subscription, error) {
	if table == "" {
		return nil, errors.New("table is required")
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed.Load() {
		return nil, ErrHubClosed
	}
	sub := &Subscription{
		id:     h.nextID.Add(1),
		table:  table,
		ch:     make(chan ChangeEvent, h.cfg.SubscriberBuffer),
		hub:    h,
		notify: make(chan struct{}, 1),
		stop:   make(chan struct{}),
	}
	go sub.pump()
	byID, ok := h.subs[table]
	if !ok {
		byID = make(map[uint64]*Subscription)
		h.subs[table] = byID
	}
	byID[sub.id] = sub
	return sub, nil
}

// SubscriberCount reports the live subscriptions for table.
func (h *Hub) SubscriberCount(table string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[table])
}

// Close dispatches buffered events, closes every subscription and waits for
// the dispatch goroutine. Repeated calls are ignored.
func (h *Hub) Close(ctx context.Context) error {
	if h == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	h.closeOnce.Do(func() {
		h.closed.Store(true)
		close(h.stopCh)
	})
	select {
	case <-h.doneCh:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("realtime hub close wait: %w", ctx.Err())
	}
}

func (h *Hub) run() {
	defer close(h.doneCh)
	for {
		select {
		case evt := <-h.events:
			h.dispatch(evt)
		case <-h.stopCh:
			h.drain()
			return
		}
	}
}

func (h *Hub) drain() {
	for {
		select {
		case evt := <-h.events:
			h.dispatch(evt)
		default:
			h.mu.Lock()
			for table, byID := range h.subs {
				for id, sub := range byID {
					sub.finish()
					delete(byID, id)
				}
				delete(h.subs, table)
			}
			h.mu.Unlock()
			return
		}
	}
}

func (h *Hub) dispatch(evt ChangeEvent) {
	if h.cfg.Observer != nil {
		h.cfg.Observer(evt)
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, sub := range h.subs[evt.Table] {
		if backlog := sub.enqueue(evt); backlog == h.cfg.SubscriberBuffer {
			h.logger.Debug("subscriber falling behind",
				zap.String("table", evt.Table), zap.Int("queued", backlog))
		}
	}
}

func (h *Hub) remove(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	byID, ok := h.subs[sub.table]
	if !ok {
		return
	}
	if _, ok := byID[sub.id]; !ok {
		return
	}
	delete(byID, sub.id)
	if len(byID) == 0 {
		delete(h.subs, sub.table)
	}
}

func (h *Hub) noteBackpressure() {
	h.blocked.Add(1)
	if h.warnLimiter.Allow(time.Now()) {
		count := h.blocked.Swap(0)
		h.logger.Warn("change publisher waiting on full buffer", zap.Int64("waits", count))
	}
}

// Subscription delivers change events for one table until closed. Events the
// consumer has not yet read wait in an unbounded queue, in publish order.
type Subscription struct {
	id    uint64
	table string
	ch    chan ChangeEvent
	hub   *Hub
	once  sync.Once

	mu       sync.Mutex
	pending  []ChangeEvent
	finished bool
	notify   chan struct{}
	stop     chan struct{}
}

// Table returns the subscribed table name.
func (s *Subscription) Table() string {
	return s.table
}

// Events returns the delivery channel. It is closed when the subscription or
// the hub closes.
func (s *Subscription) Events() <-chan ChangeEvent {
	return s.ch
}

// Close releases the subscription. Safe to call multiple times.
func (s *Subscription) Close() {
	if s == nil {
		return
	}
	s.once.Do(func() {
		s.hub.remove(s)
		close(s.stop)
	})
}

// enqueue appends evt and returns the backlog length.
func (s *Subscription) enqueue(evt ChangeEvent) int {
	s.mu.Lock()
	if s.finished {
		s.mu.Unlock()
		return 0
	}
	s.pending = append(s.pending, evt)
	n := len(s.pending)
	s.mu.Unlock()
	s.wake()
	return n
}

// finish lets the pump deliver what is queued and then close the channel.
func (s *Subscription) finish() {
	s.mu.Lock()
	s.finished = true
	s.mu.Unlock()
	s.wake()
}

func (s *Subscription) wake() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// pump moves queued events onto ch. It closes ch once the subscription is
// closed, or once the hub has finished and the queue is empty.
func (s *Subscription) pump() {
	defer close(s.ch)
	for {
		s.mu.Lock()
		if len(s.pending) == 0 {
			finished := s.finished
			s.mu.Unlock()
			if finished {
				return
			}
			select {
			case <-s.notify:
				continue
			case <-s.stop:
				return
			}
		}
		evt := s.pending[0]
		s.pending[0] = ChangeEvent{}
		s.pending = s.pending[1:]
		s.mu.Unlock()

		select {
		case s.ch <- evt:
		case <-s.stop:
			return
		}
	}
}

type rateLimiter struct {
	interval time.Duration
	last     atomic.Int64
}

func (r *rateLimiter) Allow(now time.Time) bool {
	if r == nil || r.interval <= 0 {
		return true
	}
	nano := now.UnixNano()
	last := r.last.Load()
	if nano-last < r.interval.Nanoseconds() {
		return false
	}
	return r.last.CompareAndSwap(last, nano)
}
