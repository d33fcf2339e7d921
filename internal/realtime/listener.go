package realtime

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mschirtzinger/flowsync/internal/metrics"
)

// Trigger runs a synchronization of table. The Listener never calls it
// concurrently for the same table.
type Trigger func(ctx context.Context, table string)

// ListenerConfig holds configuration for the Listener.
type ListenerConfig struct {
	// Debounce is how long a queue waits after the first signal of a burst
	// before triggering (default: 250ms). Signals arriving meanwhile are
	// folded into the same run.
	Debounce time.Duration

	// Logger for listener activity (default: no-op)
	Logger *zap.Logger
}

// Listener keeps one subscription per table for the current user and turns
// their signals into coalesced synchronization runs.
type Listener struct {
	subscriber Subscriber
	trigger    Trigger
	debounce   time.Duration
	logger     *zap.Logger

	// mu serializes Start and Stop.
	mu     sync.Mutex
	subs   []Subscription
	topics []Topic
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewListener creates a Listener. Start must be called to subscribe.
func NewListener(subscriber Subscriber, trigger Trigger, config ListenerConfig) *Listener {
	if config.Debounce <= 0 {
		config.Debounce = 250 * time.Millisecond
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}
	return &Listener{
		subscriber: subscriber,
		trigger:    trigger,
		debounce:   config.Debounce,
		logger:     config.Logger.Named("realtime"),
	}
}

// Start tears down any existing subscriptions, then subscribes to every
// table for userID. If any subscription fails, the ones already created are
// torn down again and the error is returned.
func (l *Listener) Start(ctx context.Context, userID string, tables ...string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.stopLocked()

	runCtx, cancel := context.WithCancel(ctx)
	l.cancel = cancel

	for _, table := range tables {
		topic := Topic{Table: table, UserID: userID}
		q := newWorkQueue(table)

		l.wg.Add(1)
		go l.work(runCtx, q)

		sub, err := l.subscriber.Subscribe(runCtx, topic, func() {
			metrics.RecordRealtimeEvent(table)
			l.logger.Debug("Change notification", zap.String("table", table))
			q.signal()
		})
		if err != nil {
			l.stopLocked()
			return fmt.Errorf("failed to subscribe to %s: %w", topic.Channel(), err)
		}

		l.subs = append(l.subs, sub)
		l.topics = append(l.topics, topic)
	}

	l.logger.Info("Realtime subscriptions active",
		zap.String("user_id", userID),
		zap.Strings("tables", tables),
	)
	return nil
}

// Stop unsubscribes, clears the subscription list and waits for in-flight
// runs to return.
func (l *Listener) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stopLocked()
}

// Topics returns the topics currently subscribed.
func (l *Listener) Topics() []Topic {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Topic(nil), l.topics...)
}

func (l *Listener) stopLocked() {
	for i, sub := range l.subs {
		if err := sub.Unsubscribe(); err != nil {
			l.logger.Warn("Failed to unsubscribe",
				zap.String("channel", l.topics[i].Channel()),
				zap.Error(err),
			)
		}
	}
	hadSubs := len(l.subs) > 0
	l.subs = nil
	l.topics = nil

	if l.cancel != nil {
		l.cancel()
		l.cancel = nil
	}
	l.wg.Wait()

	if hadSubs {
		l.logger.Info("Realtime subscriptions stopped")
	}
}

// work drains one table's queue until ctx is done.
func (l *Listener) work(ctx context.Context, q *workQueue) {
	defer l.wg.Done()

	timer := time.NewTimer(l.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-q.pending:
		}

		// Hold the run back so a burst collapses into it
		timer.Reset(l.debounce)
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		q.drain()

		l.logger.Debug("Processing change", zap.String("table", q.table))
		l.trigger(ctx, q.table)
	}
}

// workQueue holds at most one pending run for a table.
type workQueue struct {
	table   string
	pending chan struct{}
}

func newWorkQueue(table string) *workQueue {
	return &workQueue{
		table:   table,
		pending: make(chan struct{}, 1),
	}
}

// signal marks a run as pending. It never blocks.
func (q *workQueue) signal() {
	select {
	case q.pending <- struct{}{}:
	default:
	}
}

// drain discards a signal that arrived during the debounce window.
func (q *workQueue) drain() {
	select {
	case <-q.pending:
	default:
	}
}
