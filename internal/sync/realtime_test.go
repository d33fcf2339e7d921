package sync

import (
	"context"
	"errors"
	gosync "sync"
	"testing"
	"time"

	"github.com/mschirtzinger/flowsync/internal/realtime"
	"github.com/mschirtzinger/flowsync/internal/remote"
	"github.com/mschirtzinger/flowsync/internal/schema"
)

// channelSubscriber records notify funcs by channel so tests can fire them.
type channelSubscriber struct {
	mu        gosync.Mutex
	notifiers map[string]func()
}

func newChannelSubscriber() *channelSubscriber {
	return &channelSubscriber{notifiers: make(map[string]func())}
}

func (s *channelSubscriber) Subscribe(_ context.Context, topic realtime.Topic, notify func()) (realtime.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notifiers[topic.Channel()] = notify
	return unsubscribeFunc(func() error {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.notifiers, topic.Channel())
		return nil
	}), nil
}

func (s *channelSubscriber) fire(channel string) bool {
	s.mu.Lock()
	notify, ok := s.notifiers[channel]
	s.mu.Unlock()
	if ok {
		notify()
	}
	return ok
}

func (s *channelSubscriber) channels() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.notifiers)
}

type unsubscribeFunc func() error

func (f unsubscribeFunc) Unsubscribe() error { return f() }

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestStartRealtime_NotificationTriggersSync(t *testing.T) {
	ctx := context.Background()
	mem := remote.NewMemory()
	sub := newChannelSubscriber()
	opts := testOptions(t, mem)
	opts.Subscriber = sub
	e := startEngine(t, opts)

	if err := e.StartRealtime(ctx); err != nil {
		t.Fatalf("StartRealtime() failed: %v", err)
	}
	if got := len(e.RealtimeTopics()); got != 3 {
		t.Fatalf("RealtimeTopics() has %d entries, want 3", got)
	}

	mem.Seed(schema.TableTasks, schema.EncodeTask(newTask("pushed", "Pushed", day(2)), testUser))
	if !sub.fire("tasks:" + testUser) {
		t.Fatal("no subscription on the tasks channel")
	}

	waitFor(t, func() bool {
		_, err := e.Store().GetTaskByID(ctx, "pushed")
		return err == nil
	})
	if mem.FetchCount(schema.TableProjects) != 0 {
		t.Error("a tasks notification synchronized projects")
	}
}

func TestStartRealtime_RestartReplacesSubscriptions(t *testing.T) {
	ctx := context.Background()
	sub := newChannelSubscriber()
	opts := testOptions(t, remote.NewMemory())
	opts.Subscriber = sub
	e := startEngine(t, opts)

	for i := 0; i < 2; i++ {
		if err := e.StartRealtime(ctx); err != nil {
			t.Fatalf("StartRealtime() #%d failed: %v", i+1, err)
		}
	}
	if got := sub.channels(); got != 3 {
		t.Errorf("active channels = %d, want 3", got)
	}

	e.StopRealtime()
	if got := sub.channels(); got != 0 {
		t.Errorf("active channels after StopRealtime = %d, want 0", got)
	}
	if topics := e.RealtimeTopics(); len(topics) != 0 {
		t.Errorf("RealtimeTopics() = %v after StopRealtime", topics)
	}
}

func TestStartRealtime_Errors(t *testing.T) {
	ctx := context.Background()

	t.Run("no subscriber", func(t *testing.T) {
		e := newTestEngine(t, remote.NewMemory())
		if err := e.StartRealtime(ctx); !errors.Is(err, ErrNoSubscriber) {
			t.Errorf("StartRealtime() = %v, want ErrNoSubscriber", err)
		}
	})

	t.Run("not initialized", func(t *testing.T) {
		opts := testOptions(t, remote.NewMemory())
		opts.Subscriber = newChannelSubscriber()
		e := NewEngine(opts)
		if err := e.StartRealtime(ctx); !errors.Is(err, ErrNotInitialized) {
			t.Errorf("StartRealtime() = %v, want ErrNotInitialized", err)
		}
	})

	t.Run("stop without start", func(t *testing.T) {
		e := newTestEngine(t, remote.NewMemory())
		e.StopRealtime()
	})
}

func TestShutdown_StopsRealtime(t *testing.T) {
	sub := newChannelSubscriber()
	opts := testOptions(t, remote.NewMemory())
	opts.Subscriber = sub
	e := NewEngine(opts)
	if !e.Initialize(context.Background()) {
		t.Fatal("Initialize() = false")
	}
	if err := e.StartRealtime(context.Background()); err != nil {
		t.Fatalf("StartRealtime() failed: %v", err)
	}

	e.Shutdown()

	if got := sub.channels(); got != 0 {
		t.Errorf("active channels after Shutdown = %d, want 0", got)
	}
}
