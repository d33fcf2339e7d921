package sync

import (
	"context"
	"errors"
	"fmt"
	gosync "sync"
	"time"

	"go.uber.org/zap"

	"github.com/mschirtzinger/flowsync/internal/realtime"
	"github.com/mschirtzinger/flowsync/internal/remote"
	"github.com/mschirtzinger/flowsync/internal/retry"
	"github.com/mschirtzinger/flowsync/internal/schema"
	"github.com/mschirtzinger/flowsync/internal/session"
	"github.com/mschirtzinger/flowsync/internal/store"
)

// ErrNoSubscriber is returned by StartRealtime when no Subscriber is configured.
var ErrNoSubscriber = errors.New("no realtime subscriber configured")

// ErrNotInitialized is returned by StartRealtime before Initialize succeeded.
var ErrNotInitialized = errors.New("engine not initialized")

// Options configures an Engine.
type Options struct {
	// LocalPath is the SQLite database file for the local store.
	LocalPath string

	// Remote is the backend records are reconciled against. Required.
	Remote remote.Backend

	// Session resolves the current user for every run.
	Session session.Provider

	// Subscriber delivers change notifications (optional).
	Subscriber realtime.Subscriber

	// Publisher announces uploads to other clients (optional). Only needed
	// for transports without server-side change triggers.
	Publisher realtime.Publisher

	// Retry is the budget for every remote call.
	Retry retry.Config

	// Debounce delays notification-driven runs (default: 250ms).
	Debounce time.Duration

	Logger *zap.Logger
}

// Engine owns the local store and runs reconciliations against the remote.
// All methods are safe for concurrent use.
type Engine struct {
	opts   Options
	exec   *retry.Executor
	logger *zap.Logger

	mu       gosync.Mutex
	db       *store.DB
	runs     *gosync.WaitGroup // runs holding db
	listener *realtime.Listener
}

// NewEngine creates an Engine. Initialize must be called before any run.
func NewEngine(opts Options) *Engine {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Engine{
		opts:   opts,
		exec:   retry.New(opts.Retry, opts.Logger),
		logger: opts.Logger.Named("sync"),
	}
}

// Initialize opens the local store and creates its schema. It returns false
// if the store cannot be opened or no remote backend is configured. Calling
// it again on an initialized engine is a no-op.
func (e *Engine) Initialize(ctx context.Context) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.db != nil {
		return true
	}
	if e.opts.Remote == nil {
		e.logger.Error("Cannot initialize without a remote backend")
		return false
	}

	db, err := store.Open(e.opts.LocalPath, e.opts.Logger)
	if err != nil {
		e.logger.Error("Failed to open local store", zap.String("path", e.opts.LocalPath), zap.Error(err))
		return false
	}
	if err := db.InitSchema(ctx); err != nil {
		_ = db.Close()
		e.logger.Error("Failed to initialize local schema", zap.Error(err))
		return false
	}

	e.db = db
	e.runs = new(gosync.WaitGroup)
	e.logger.Info("Engine initialized", zap.String("path", db.Path()))
	return true
}

// IsInitialized reports whether Initialize succeeded and Shutdown has not
// been called since.
func (e *Engine) IsInitialized() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.db != nil
}

// Store returns the local store, or nil before Initialize.
func (e *Engine) Store() *store.DB {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.db
}

// SynchronizeTasks reconciles tasks for the current user.
func (e *Engine) SynchronizeTasks(ctx context.Context) bool {
	return e.synchronize(ctx, schema.TableTasks)
}

// SynchronizeProjects reconciles projects for the current user.
func (e *Engine) SynchronizeProjects(ctx context.Context) bool {
	return e.synchronize(ctx, schema.TableProjects)
}

// SynchronizeRituals reconciles rituals for the current user.
func (e *Engine) SynchronizeRituals(ctx context.Context) bool {
	return e.synchronize(ctx, schema.TableRituals)
}

// SynchronizeAll runs projects, tasks and rituals in that order. Every
// collection runs even if an earlier one failed; the result is true only if
// all three succeeded.
func (e *Engine) SynchronizeAll(ctx context.Context) bool {
	if !e.IsInitialized() {
		e.logger.Warn("Skipping sync: engine not initialized")
		return false
	}
	projects := e.SynchronizeProjects(ctx)
	tasks := e.SynchronizeTasks(ctx)
	rituals := e.SynchronizeRituals(ctx)
	return projects && tasks && rituals
}

// Synchronize reconciles the collection named by table. Unknown tables
// return false.
func (e *Engine) Synchronize(ctx context.Context, table string) bool {
	return e.synchronize(ctx, table)
}

func (e *Engine) synchronize(ctx context.Context, table string) (ok bool) {
	start := time.Now()
	log := e.logger.With(zap.String("kind", table))

	db, done := e.acquireStore()
	if db == nil {
		log.Warn("Skipping sync: engine not initialized")
		Report{Kind: table}.record("skipped", time.Since(start))
		return false
	}
	defer done()
	userID, err := e.userID()
	if err != nil {
		log.Warn("Skipping sync: no authenticated user", zap.Error(err))
		Report{Kind: table}.record("skipped", time.Since(start))
		return false
	}

	defer func() {
		if r := recover(); r != nil {
			log.Error("Sync panicked", zap.Any("panic", r), zap.Stack("stack"))
			Report{Kind: table}.record("failure", time.Since(start))
			ok = false
		}
	}()

	r := reconciler{remote: e.opts.Remote, exec: e.exec, logger: e.logger}
	var report Report
	switch table {
	case schema.TableTasks:
		report, err = reconcile(ctx, r, taskKind(db), userID)
	case schema.TableProjects:
		report, err = reconcile(ctx, r, projectKind(db), userID)
	case schema.TableRituals:
		report, err = reconcile(ctx, r, ritualKind(db), userID)
	default:
		err = fmt.Errorf("%w: %s", remote.ErrUnknownTable, table)
	}

	elapsed := time.Since(start)
	if err != nil {
		log.Error("Sync failed", zap.Duration("elapsed", elapsed), zap.Error(err))
		report.record("failure", elapsed)
		return false
	}

	log.Info("Synchronized",
		zap.Int("uploaded", report.Uploaded),
		zap.Int("downloaded", report.Downloaded),
		zap.Int("overwritten", report.Overwritten),
		zap.Int("unchanged", report.Unchanged),
		zap.Int("skipped", report.Skipped),
		zap.Int("upload_failed", report.UploadFailed),
		zap.Duration("elapsed", elapsed),
	)
	report.record("success", elapsed)

	if report.Uploaded > 0 && e.opts.Publisher != nil {
		topic := realtime.Topic{Table: table, UserID: userID}
		if err := e.opts.Publisher.Publish(ctx, topic); err != nil {
			log.Warn("Failed to publish change", zap.String("channel", topic.Channel()), zap.Error(err))
		}
	}
	return true
}

// acquireStore returns the local store and registers a run against it.
// Shutdown waits for every registered run before closing the store. done
// must be called when the run no longer uses db.
func (e *Engine) acquireStore() (db *store.DB, done func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.db == nil {
		return nil, nil
	}
	runs := e.runs
	runs.Add(1)
	return e.db, runs.Done
}

func (e *Engine) userID() (string, error) {
	if e.opts.Session == nil {
		return "", session.ErrNoUser
	}
	id, err := e.opts.Session.UserID()
	if err != nil {
		return "", err
	}
	if id == "" {
		return "", session.ErrNoUser
	}
	return id, nil
}

// StartRealtime subscribes to change notifications for the current user,
// replacing any subscriptions from an earlier call. Each notification
// schedules a run of the affected collection.
func (e *Engine) StartRealtime(ctx context.Context) error {
	if e.opts.Subscriber == nil {
		return ErrNoSubscriber
	}
	if !e.IsInitialized() {
		return ErrNotInitialized
	}
	userID, err := e.userID()
	if err != nil {
		return err
	}

	e.mu.Lock()
	if e.listener == nil {
		e.listener = realtime.NewListener(e.opts.Subscriber, e.trigger, realtime.ListenerConfig{
			Debounce: e.opts.Debounce,
			Logger:   e.opts.Logger,
		})
	}
	listener := e.listener
	e.mu.Unlock()

	if err := listener.Start(ctx, userID, schema.TableTasks, schema.TableProjects, schema.TableRituals); err != nil {
		return fmt.Errorf("start realtime for %s: %w", userID, err)
	}
	e.logger.Info("Realtime started", zap.String("user", userID))
	return nil
}

// StopRealtime tears down all change subscriptions. It is safe to call when
// realtime was never started.
func (e *Engine) StopRealtime() {
	e.mu.Lock()
	listener := e.listener
	e.mu.Unlock()

	if listener != nil {
		listener.Stop()
	}
}

// RealtimeTopics returns the channels currently subscribed.
func (e *Engine) RealtimeTopics() []realtime.Topic {
	e.mu.Lock()
	listener := e.listener
	e.mu.Unlock()

	if listener == nil {
		return nil
	}
	return listener.Topics()
}

func (e *Engine) trigger(ctx context.Context, table string) {
	e.synchronize(ctx, table)
}

// Shutdown stops realtime, waits for runs in progress and closes the local
// store. New runs are skipped from the moment Shutdown is called. The engine
// can be initialized again afterwards.
func (e *Engine) Shutdown() {
	e.StopRealtime()

	e.mu.Lock()
	db, runs := e.db, e.runs
	e.db, e.runs = nil, nil
	e.mu.Unlock()

	if db != nil {
		runs.Wait()
		if err := db.Close(); err != nil {
			e.logger.Warn("Failed to close local store", zap.Error(err))
		}
	}
}
