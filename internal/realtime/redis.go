package realtime

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// RedisSubscriber carries change signals over Redis pub/sub. Redis has no
// triggers, so devices announce their own uploads with Publish.
type RedisSubscriber struct {
	client *redis.Client
	logger *zap.Logger
}

// NewRedisSubscriber connects to Redis and verifies the connection.
func NewRedisSubscriber(ctx context.Context, config RedisConfig, logger *zap.Logger) (*RedisSubscriber, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	client := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis at %s: %w", config.Addr, err)
	}

	return &RedisSubscriber{client: client, logger: logger.Named("redis")}, nil
}

// Close closes the Redis client.
func (s *RedisSubscriber) Close() error {
	return s.client.Close()
}

// Publish implements Publisher.
func (s *RedisSubscriber) Publish(ctx context.Context, topic Topic) error {
	if err := s.client.Publish(ctx, topic.Channel(), "*").Err(); err != nil {
		return fmt.Errorf("failed to publish on %s: %w", topic.Channel(), err)
	}
	return nil
}

// Subscribe implements Subscriber. go-redis re-subscribes by itself after
// a dropped connection.
func (s *RedisSubscriber) Subscribe(ctx context.Context, topic Topic, notify func()) (Subscription, error) {
	ps := s.client.Subscribe(ctx, topic.Channel())

	// Wait for the subscription confirmation so that no publish is missed
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", topic.Channel(), err)
	}

	sub := &redisSubscription{ps: ps}
	ch := ps.Channel()

	sub.wg.Add(1)
	go func() {
		defer sub.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-ch:
				if !ok {
					return
				}
				notify()
			}
		}
	}()

	s.logger.Debug("Subscribed", zap.String("channel", topic.Channel()))
	return sub, nil
}

type redisSubscription struct {
	ps   *redis.PubSub
	wg   sync.WaitGroup
	once sync.Once
	err  error
}

// Unsubscribe implements Subscription.
func (r *redisSubscription) Unsubscribe() error {
	r.once.Do(func() {
		r.err = r.ps.Close()
		r.wg.Wait()
	})
	return r.err
}
