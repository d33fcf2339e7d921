package main

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/mschirtzinger/flowsync/internal/config"
	"github.com/mschirtzinger/flowsync/internal/realtime"
	"github.com/mschirtzinger/flowsync/internal/remote"
	"github.com/mschirtzinger/flowsync/internal/retry"
	"github.com/mschirtzinger/flowsync/internal/session"
	flowsync "github.com/mschirtzinger/flowsync/internal/sync"
)

// runtime bundles an engine with the resources built for it.
type runtime struct {
	engine   *flowsync.Engine
	postgres *remote.Postgres // nil for the in-memory backend
	sessions *session.FileProvider

	closers []func()
}

// Close stops the session watcher, shuts the engine down and releases the
// remaining resources in reverse order. The watcher goes first so that no
// session change can start a run while the engine is closing.
func (r *runtime) Close() {
	if err := r.sessions.Close(); err != nil {
		logger.Warn("Failed to stop session watcher", zap.Error(err))
	}
	r.engine.Shutdown()
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
}

type runtimeOptions struct {
	// offline swaps the Postgres backend for an in-memory one
	offline bool
	// realtime builds the subscriber named by realtime.transport
	realtime bool
}

// newRuntime builds and initializes an engine from the loaded config.
func newRuntime(ctx context.Context, opts runtimeOptions) (*runtime, error) {
	rt := &runtime{}
	ok := false
	defer func() {
		if !ok {
			for i := len(rt.closers) - 1; i >= 0; i-- {
				rt.closers[i]()
			}
		}
	}()

	sessions, err := session.NewFileProvider(cfg.Session.File, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	rt.sessions = sessions
	rt.closers = append(rt.closers, func() { _ = sessions.Close() })

	var backend remote.Backend
	switch {
	case opts.offline:
		logger.Info("Using in-memory remote backend")
		backend = remote.NewMemory()
	case cfg.Remote.DSN == "":
		return nil, errors.New("remote.dsn is not set (use --dsn, FLOWSYNC_REMOTE_DSN or --offline)")
	default:
		pg, err := remote.NewPostgres(ctx, remote.PostgresConfig{
			DSN:      cfg.Remote.DSN,
			MaxConns: cfg.Remote.MaxConns,
		}, logger)
		if err != nil {
			return nil, err
		}
		rt.postgres = pg
		rt.closers = append(rt.closers, pg.Close)
		backend = pg
	}

	engineOpts := flowsync.Options{
		LocalPath: cfg.Local.Path,
		Remote:    backend,
		Session:   session.Chain{session.Static(cfg.Session.UserID), sessions},
		Retry: retry.Config{
			MaxAttempts:  cfg.Retry.MaxAttempts,
			Timeout:      cfg.Retry.Timeout,
			InitialDelay: cfg.Retry.InitialDelay,
			MaxDelay:     cfg.Retry.MaxDelay,
		},
		Debounce: cfg.Realtime.Debounce,
		Logger:   logger,
	}

	if opts.realtime {
		sub, pub, closeFn, err := newSubscriber(ctx, rt)
		if err != nil {
			return nil, err
		}
		if closeFn != nil {
			rt.closers = append(rt.closers, closeFn)
		}
		engineOpts.Subscriber = sub
		engineOpts.Publisher = pub
	}

	rt.engine = flowsync.NewEngine(engineOpts)
	if !rt.engine.Initialize(ctx) {
		return nil, fmt.Errorf("failed to initialize local store at %s", cfg.Local.Path)
	}

	ok = true
	return rt, nil
}

// newSubscriber builds the change-notification transport. Transports
// without server-side triggers also act as the publisher.
func newSubscriber(ctx context.Context, rt *runtime) (realtime.Subscriber, realtime.Publisher, func(), error) {
	rc := cfg.Realtime
	switch rc.Transport {
	case config.TransportNone:
		return nil, nil, nil, nil

	case config.TransportWebsocket:
		return realtime.NewWebsocketSubscriber(realtime.WebsocketConfig{
			URL:         rc.URL,
			APIKey:      rc.APIKey,
			AccessToken: rt.sessions.AccessToken,
			Logger:      logger,
		}), nil, nil, nil

	case config.TransportPostgres:
		if rt.postgres == nil {
			return nil, nil, nil, errors.New("the postgres realtime transport needs the postgres remote backend")
		}
		return realtime.NewPostgresSubscriber(rt.postgres.Pool(), logger), nil, nil, nil

	case config.TransportRedis:
		sub, err := realtime.NewRedisSubscriber(ctx, realtime.RedisConfig{
			Addr:     rc.RedisAddr,
			Password: rc.RedisPassword,
			DB:       rc.RedisDB,
		}, logger)
		if err != nil {
			return nil, nil, nil, err
		}
		return sub, sub, func() {
			if err := sub.Close(); err != nil {
				logger.Warn("Failed to close redis client", zap.Error(err))
			}
		}, nil
	}
	return nil, nil, nil, fmt.Errorf("unknown realtime transport %q", rc.Transport)
}
