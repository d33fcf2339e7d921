package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordSyncRun(t *testing.T) {
	before := testutil.ToFloat64(SyncRuns.WithLabelValues("tasks", "success"))

	RecordSyncRun("tasks", "success", 20*time.Millisecond)

	if got := testutil.ToFloat64(SyncRuns.WithLabelValues("tasks", "success")) - before; got != 1 {
		t.Errorf("sync runs increased by %v, want 1", got)
	}
}

func TestAddSyncRecords_SkipsZero(t *testing.T) {
	counter := SyncRecords.WithLabelValues("rituals", "downloaded")
	before := testutil.ToFloat64(counter)

	AddSyncRecords("rituals", "downloaded", 0)
	if got := testutil.ToFloat64(counter); got != before {
		t.Errorf("counter changed to %v on zero records", got)
	}

	AddSyncRecords("rituals", "downloaded", 3)
	if got := testutil.ToFloat64(counter) - before; got != 3 {
		t.Errorf("counter increased by %v, want 3", got)
	}
}

func TestRecordRealtimeEvent(t *testing.T) {
	before := testutil.ToFloat64(RealtimeEvents.WithLabelValues("projects"))
	RecordRealtimeEvent("projects")
	RecordRetryAttempt("timeout")

	if got := testutil.ToFloat64(RealtimeEvents.WithLabelValues("projects")) - before; got != 1 {
		t.Errorf("realtime events increased by %v, want 1", got)
	}
}
