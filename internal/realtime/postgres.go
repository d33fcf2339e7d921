package realtime

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// PostgresSubscriber LISTENs on the channels the remote change triggers
// NOTIFY. Each subscription holds one pooled connection for its lifetime.
type PostgresSubscriber struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgresSubscriber creates a LISTEN/NOTIFY transport over pool.
func NewPostgresSubscriber(pool *pgxpool.Pool, logger *zap.Logger) *PostgresSubscriber {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PostgresSubscriber{pool: pool, logger: logger.Named("listen")}
}

// Subscribe implements Subscriber.
func (s *PostgresSubscriber) Subscribe(ctx context.Context, topic Topic, notify func()) (Subscription, error) {
	conn, err := s.listen(ctx, topic)
	if err != nil {
		return nil, err
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := &pgSubscription{cancel: cancel}
	sub.wg.Add(1)
	go func() {
		defer sub.wg.Done()
		s.run(subCtx, topic, conn, notify)
	}()
	return sub, nil
}

func (s *PostgresSubscriber) listen(ctx context.Context, topic Topic) (*pgxpool.Conn, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire connection: %w", err)
	}
	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{topic.Channel()}.Sanitize()); err != nil {
		conn.Release()
		return nil, fmt.Errorf("failed to listen on %s: %w", topic.Channel(), err)
	}
	s.logger.Debug("Listening", zap.String("channel", topic.Channel()))
	return conn, nil
}

func (s *PostgresSubscriber) run(ctx context.Context, topic Topic, conn *pgxpool.Conn, notify func()) {
	defer func() { s.release(conn) }()

	backoff := time.Second
	for {
		_, err := conn.Conn().WaitForNotification(ctx)
		if err == nil {
			backoff = time.Second
			notify()
			continue
		}
		if ctx.Err() != nil {
			return
		}

		s.logger.Warn("Notification wait failed",
			zap.String("channel", topic.Channel()),
			zap.Error(err),
		)
		s.release(conn)
		conn = nil

		for conn == nil {
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			if conn, err = s.listen(ctx, topic); err != nil {
				s.logger.Debug("Re-listen failed", zap.Duration("backoff", backoff), zap.Error(err))
				backoff = min(backoff*2, 30*time.Second)
			}
		}

		// Changes may have happened while disconnected
		notify()
	}
}

// release returns conn to the pool without its LISTEN registrations.
func (s *PostgresSubscriber) release(conn *pgxpool.Conn) {
	if conn == nil {
		return
	}
	if !conn.Conn().IsClosed() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if _, err := conn.Exec(ctx, "UNLISTEN *"); err != nil {
			// Do not hand a connection with live registrations back to the pool
			_ = conn.Conn().Close(ctx)
		}
		cancel()
	}
	conn.Release()
}

type pgSubscription struct {
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

// Unsubscribe implements Subscription.
func (p *pgSubscription) Unsubscribe() error {
	p.once.Do(func() {
		p.cancel()
		p.wg.Wait()
	})
	return nil
}
