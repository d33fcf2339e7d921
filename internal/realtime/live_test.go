package realtime

import (
	"context"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

func TestRedisSubscriber_Live(t *testing.T) {
	addr := os.Getenv("FLOWSYNC_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("FLOWSYNC_TEST_REDIS_ADDR not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	rs, err := NewRedisSubscriber(ctx, RedisConfig{Addr: addr}, nil)
	if err != nil {
		t.Fatalf("NewRedisSubscriber() failed: %v", err)
	}
	defer rs.Close()

	topic := Topic{Table: "tasks", UserID: uuid.NewString()}
	var signals atomic.Int32
	sub, err := rs.Subscribe(ctx, topic, func() { signals.Add(1) })
	if err != nil {
		t.Fatalf("Subscribe() failed: %v", err)
	}
	defer sub.Unsubscribe()

	if err := rs.Publish(ctx, topic); err != nil {
		t.Fatalf("Publish() failed: %v", err)
	}
	waitFor(t, "redis signal", func() bool { return signals.Load() == 1 })
}

func TestPostgresSubscriber_Live(t *testing.T) {
	dsn := os.Getenv("FLOWSYNC_TEST_PG_DSN")
	if dsn == "" {
		t.Skip("FLOWSYNC_TEST_PG_DSN not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("pgxpool.New() failed: %v", err)
	}
	defer pool.Close()

	ps := NewPostgresSubscriber(pool, nil)
	topic := Topic{Table: "rituals", UserID: uuid.NewString()}

	var signals atomic.Int32
	sub, err := ps.Subscribe(ctx, topic, func() { signals.Add(1) })
	if err != nil {
		t.Fatalf("Subscribe() failed: %v", err)
	}

	if _, err := pool.Exec(ctx, "SELECT pg_notify($1, 'INSERT')", topic.Channel()); err != nil {
		t.Fatalf("pg_notify failed: %v", err)
	}
	waitFor(t, "postgres notification", func() bool { return signals.Load() == 1 })

	if err := sub.Unsubscribe(); err != nil {
		t.Errorf("Unsubscribe() failed: %v", err)
	}
}
