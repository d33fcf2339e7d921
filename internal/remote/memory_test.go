package remote

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/mschirtzinger/flowsync/internal/schema"
)

func TestMemory_FetchFiltersByUser(t *testing.T) {
	m := NewMemory()
	m.Seed(schema.TableTasks,
		schema.Row{"id": "a", "user_id": "alice", "title": "mine"},
		schema.Row{"id": "b", "user_id": "bob", "title": "theirs"},
	)

	rows, err := m.Fetch(context.Background(), schema.TableTasks, "alice")
	if err != nil {
		t.Fatalf("Fetch() failed: %v", err)
	}
	if len(rows) != 1 || rows[0]["id"] != "a" {
		t.Errorf("Fetch() = %v, want only row a", rows)
	}
	if got := m.FetchCount(schema.TableTasks); got != 1 {
		t.Errorf("FetchCount() = %d, want 1", got)
	}
}

func TestMemory_UpsertReplacesFullRow(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	first := schema.Row{"id": "p", "user_id": "u", "name": "Old", "icon_name": "star"}
	second := schema.Row{"id": "p", "user_id": "u", "name": "New", "icon_name": nil}

	for _, row := range []schema.Row{first, second} {
		if err := m.Upsert(ctx, schema.TableProjects, row); err != nil {
			t.Fatalf("Upsert() failed: %v", err)
		}
	}

	if diff := cmp.Diff([]schema.Row{second}, m.Rows(schema.TableProjects)); diff != "" {
		t.Errorf("rows mismatch (-want +got):\n%s", diff)
	}
	if got := m.UpsertCount(schema.TableProjects); got != 2 {
		t.Errorf("UpsertCount() = %d, want 2", got)
	}
}

func TestMemory_RowsAreCopies(t *testing.T) {
	m := NewMemory()
	tags := []string{"x"}
	m.Seed(schema.TableTasks, schema.Row{"id": "a", "user_id": "u", "tags": tags})
	tags[0] = "mutated"

	rows, _ := m.Fetch(context.Background(), schema.TableTasks, "u")
	rows[0]["title"] = "changed"

	got := m.Rows(schema.TableTasks)[0]
	if got["tags"].([]string)[0] != "x" {
		t.Errorf("stored tags = %v, want [x]", got["tags"])
	}
	if _, ok := got["title"]; ok {
		t.Errorf("mutating a fetched row changed the stored row")
	}
}

func TestMemory_FailFetch(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	boom := errors.New("connection reset")

	m.FailFetch(schema.TableRituals, boom, 2)
	for i := 0; i < 2; i++ {
		if _, err := m.Fetch(ctx, schema.TableRituals, "u"); !errors.Is(err, boom) {
			t.Fatalf("Fetch() #%d err = %v, want %v", i+1, err, boom)
		}
	}
	if _, err := m.Fetch(ctx, schema.TableRituals, "u"); err != nil {
		t.Errorf("Fetch() after injected failures err = %v, want nil", err)
	}

	m.FailFetch(schema.TableRituals, boom, -1)
	for i := 0; i < 5; i++ {
		if _, err := m.Fetch(ctx, schema.TableRituals, "u"); err == nil {
			t.Fatalf("Fetch() #%d succeeded, want permanent failure", i+1)
		}
	}
	m.ClearFailures()
	if _, err := m.Fetch(ctx, schema.TableRituals, "u"); err != nil {
		t.Errorf("Fetch() after ClearFailures err = %v", err)
	}
}

func TestMemory_FailUpsert(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	denied := errors.New("permission denied")
	m.FailUpsert("bad", denied)

	if err := m.Upsert(ctx, schema.TableTasks, schema.Row{"id": "bad", "user_id": "u"}); !errors.Is(err, denied) {
		t.Errorf("Upsert(bad) err = %v, want %v", err, denied)
	}
	if err := m.Upsert(ctx, schema.TableTasks, schema.Row{"id": "good", "user_id": "u"}); err != nil {
		t.Errorf("Upsert(good) err = %v", err)
	}
	if got := m.UpsertCount(schema.TableTasks); got != 1 {
		t.Errorf("UpsertCount() = %d, want 1", got)
	}
}

func TestMemory_UnknownTable(t *testing.T) {
	m := NewMemory()
	if _, err := m.Fetch(context.Background(), "notes", "u"); !errors.Is(err, ErrUnknownTable) {
		t.Errorf("Fetch() err = %v, want ErrUnknownTable", err)
	}
	if err := m.Upsert(context.Background(), "notes", schema.Row{}); !errors.Is(err, ErrUnknownTable) {
		t.Errorf("Upsert() err = %v, want ErrUnknownTable", err)
	}
}

func TestMemory_CanceledContext(t *testing.T) {
	m := NewMemory()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := m.Fetch(ctx, schema.TableTasks, "u"); !errors.Is(err, context.Canceled) {
		t.Errorf("Fetch() err = %v, want context.Canceled", err)
	}
}

func TestNotifyChannel(t *testing.T) {
	if got, want := NotifyChannel("tasks", "u-1"), "tasks:u-1"; got != want {
		t.Errorf("NotifyChannel() = %q, want %q", got, want)
	}
}

func TestUpsertQuery(t *testing.T) {
	got := upsertQuery("rituals", []string{"id", "user_id", "title"})
	want := `INSERT INTO "rituals" ("id", "user_id", "title") VALUES ($1, $2, $3) ON CONFLICT (id) DO UPDATE SET "user_id" = EXCLUDED."user_id", "title" = EXCLUDED."title"`
	if got != want {
		t.Errorf("upsertQuery() =\n%s\nwant\n%s", got, want)
	}
}

func TestToPostgresValue(t *testing.T) {
	v, err := toPostgresValue("created_at", "2024-01-02T03:04:05Z")
	if err != nil {
		t.Fatalf("toPostgresValue() failed: %v", err)
	}
	if _, ok := v.(time.Time); !ok {
		t.Errorf("toPostgresValue(created_at) = %T, want time.Time", v)
	}

	if v, _ := toPostgresValue("title", "2024-01-02T03:04:05Z"); v != "2024-01-02T03:04:05Z" {
		t.Errorf("non-timestamp column was converted: %v", v)
	}
	if v, _ := toPostgresValue("due_date", nil); v != nil {
		t.Errorf("toPostgresValue(nil) = %v, want nil", v)
	}
	if _, err := toPostgresValue("due_date", "yesterday"); err == nil {
		t.Errorf("toPostgresValue(bad timestamp) succeeded, want error")
	}
}
