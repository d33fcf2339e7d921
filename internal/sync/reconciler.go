package sync

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/mschirtzinger/flowsync/internal/metrics"
	"github.com/mschirtzinger/flowsync/internal/remote"
	"github.com/mschirtzinger/flowsync/internal/retry"
	"github.com/mschirtzinger/flowsync/internal/schema"
)

// Report summarizes one reconciliation of a collection.
type Report struct {
	Kind string

	Uploaded    int // local-only or locally newer records pushed to the remote
	Downloaded  int // remote-only records inserted locally
	Overwritten int // local records replaced by a newer remote copy
	Unchanged   int // records present on both sides with equal modification time
	Skipped     int // remote rows that failed to decode

	UploadFailed int // uploads that exhausted their retries
}

// Changed reports whether the run modified either side.
func (r Report) Changed() bool {
	return r.Uploaded+r.Downloaded+r.Overwritten > 0
}

type reconciler struct {
	remote remote.Backend
	exec   *retry.Executor
	logger *zap.Logger
}

// reconcile converges the local and remote copies of one collection for
// userID. An error means the remote could not be fetched or the local store
// failed; the remote fetch happens before any local write, so a fetch error
// leaves the local store untouched.
func reconcile[T any](ctx context.Context, r reconciler, k kind[T], userID string) (Report, error) {
	report := Report{Kind: k.name}
	log := r.logger.With(zap.String("kind", k.name))

	locals, err := k.list(ctx)
	if err != nil {
		return report, fmt.Errorf("list local %s: %w", k.name, err)
	}

	rows, err := retry.Do(ctx, r.exec, "Fetch remote "+k.name, func(ctx context.Context) ([]schema.Row, error) {
		return r.remote.Fetch(ctx, k.name, userID)
	}).Unwrap()
	if err != nil {
		return report, err
	}

	remotes := make(map[string]*T, len(rows))
	order := make([]string, 0, len(rows))
	for _, row := range rows {
		item, err := k.decode(row)
		if err != nil {
			log.Warn("Skipping malformed remote row", zap.Error(err))
			report.Skipped++
			continue
		}
		id := k.id(item)
		if _, dup := remotes[id]; !dup {
			order = append(order, id)
		}
		remotes[id] = item
	}

	localByID := make(map[string]*T, len(locals))
	for _, item := range locals {
		localByID[k.id(item)] = item
	}

	// Local-only records.
	for _, item := range locals {
		id := k.id(item)
		if _, ok := remotes[id]; ok {
			continue
		}
		if upload(ctx, r, k, item, userID, log) {
			report.Uploaded++
		} else {
			report.UploadFailed++
		}
	}

	// Remote-only records.
	for _, id := range order {
		if _, ok := localByID[id]; ok {
			continue
		}
		if err := k.put(ctx, remotes[id]); err != nil {
			return report, fmt.Errorf("store %s %s: %w", k.singular, id, err)
		}
		report.Downloaded++
	}

	if k.modifiedAt == nil {
		return report, nil
	}

	// Records on both sides: the newer modification time wins.
	for _, item := range locals {
		id := k.id(item)
		theirs, ok := remotes[id]
		if !ok {
			continue
		}
		// Compare at the precision both sides can store, or a local
		// timestamp finer than the backend keeps would look newer forever.
		mine := schema.NormalizeTime(k.modifiedAt(item))
		other := schema.NormalizeTime(k.modifiedAt(theirs))
		switch {
		case other.After(mine):
			if err := k.put(ctx, theirs); err != nil {
				return report, fmt.Errorf("store %s %s: %w", k.singular, id, err)
			}
			report.Overwritten++
		case mine.After(other):
			if upload(ctx, r, k, item, userID, log) {
				report.Uploaded++
			} else {
				report.UploadFailed++
			}
		default:
			report.Unchanged++
		}
	}

	return report, nil
}

// upload pushes item through the retry executor. Failures are logged and
// reported as false so the remaining records still get their turn.
func upload[T any](ctx context.Context, r reconciler, k kind[T], item *T, userID string, log *zap.Logger) bool {
	id := k.id(item)
	row := k.encode(item, userID)
	op := "Upload " + k.name + " " + id
	res := retry.Do(ctx, r.exec, op, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, r.remote.Upsert(ctx, k.name, row)
	})
	if err := res.Err(); err != nil {
		log.Warn("Upload failed", zap.String("operation", op), zap.String("id", id), zap.Error(err))
		return false
	}
	return true
}

// record publishes the report to the metrics collectors.
func (rep Report) record(outcome string, elapsed time.Duration) {
	metrics.RecordSyncRun(rep.Kind, outcome, elapsed)
	metrics.AddSyncRecords(rep.Kind, "uploaded", rep.Uploaded)
	metrics.AddSyncRecords(rep.Kind, "downloaded", rep.Downloaded)
	metrics.AddSyncRecords(rep.Kind, "overwritten", rep.Overwritten)
	metrics.AddSyncRecords(rep.Kind, "skipped", rep.Skipped)
	metrics.AddSyncRecords(rep.Kind, "failed", rep.UploadFailed)
}
