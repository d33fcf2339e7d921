// Package sync reconciles the local store with the remote backend.
//
// Overview
//
// Three collections are synchronized independently: projects, tasks and
// rituals. Each run of a collection converges both sides toward one value per
// record id:
//
//	Local store (SQLite)          Remote backend (per user)
//	     │                               │
//	     └──────── reconcile ────────────┘
//	                  │
//	  1. fetch remote rows through the retry executor
//	  2. upload records only present locally
//	  3. download records only present remotely
//	  4. resolve conflicts by modification time (tasks, projects)
//
// Rituals carry no modification time and are merged on presence only, so two
// diverging copies of the same ritual stay diverged until one side is edited
// through another path.
//
// Records are never deleted: a record removed on one side reappears from the
// other on the next run.
//
// Failure handling
//
// A row that fails to decode is logged and skipped. An upload that fails
// after retries is logged and left for the next run. Only a fetch that
// exhausts its retries, a local store failure, or an unexpected panic turns
// a run into a false result, and a failed fetch leaves the local store
// untouched.
//
// Remote calls are named "Fetch remote <kind>" and "Upload <kind> <id>",
// where <kind> is the table name (tasks, projects, rituals). Retry errors
// and logs carry these names.
//
// Modification times are compared at schema.TimePrecision, the resolution
// the remote backend stores. A finer local timestamp would otherwise look
// newer than its uploaded copy on every run.
//
// Usage
//
//	engine := sync.NewEngine(sync.Options{
//	    LocalPath: ".flowsync/local.db",
//	    Remote:    backend,
//	    Session:   session.Static(userID),
//	    Logger:    logger,
//	})
//	if !engine.Initialize(ctx) {
//	    return errors.New("engine failed to initialize")
//	}
//	defer engine.Shutdown()
//
//	ok := engine.SynchronizeAll(ctx)
//
// Shutdown skips new runs at once and waits for runs in progress before
// closing the local store.
//
// Change notifications
//
// With a realtime Subscriber configured, StartRealtime subscribes to the
// current user's change channels. Each notification schedules a run of the
// affected collection on its own queue; bursts are coalesced, and a run for a
// collection never overlaps another notification-driven run of the same
// collection. Runs triggered this way may overlap an orchestrated
// SynchronizeAll; the local store's per-record upsert keeps that safe.
package sync
