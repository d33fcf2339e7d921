package remote

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/mschirtzinger/flowsync/internal/schema"
)

// testPostgres connects to FLOWSYNC_TEST_PG_DSN or skips.
func testPostgres(t *testing.T) *Postgres {
	t.Helper()

	dsn := os.Getenv("FLOWSYNC_TEST_PG_DSN")
	if dsn == "" {
		t.Skip("FLOWSYNC_TEST_PG_DSN not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pg, err := NewPostgres(ctx, PostgresConfig{DSN: dsn}, nil)
	if err != nil {
		t.Fatalf("NewPostgres() failed: %v", err)
	}
	t.Cleanup(pg.Close)

	if err := pg.InitSchema(ctx); err != nil {
		t.Fatalf("InitSchema() failed: %v", err)
	}
	return pg
}

func TestPostgres_UpsertAndFetch(t *testing.T) {
	pg := testPostgres(t)
	ctx := context.Background()
	userID := uuid.NewString()

	created := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	task := &schema.Task{
		ID:         uuid.NewString(),
		Title:      "Live",
		Status:     schema.StatusDone,
		Priority:   schema.PriorityHigh,
		CreatedAt:  created,
		Tags:       []string{"a", "b"},
		ModifiedAt: created.Add(time.Hour),
	}

	if err := pg.Upsert(ctx, schema.TableTasks, schema.EncodeTask(task, userID)); err != nil {
		t.Fatalf("Upsert() failed: %v", err)
	}
	task.Title = "Live, renamed"
	if err := pg.Upsert(ctx, schema.TableTasks, schema.EncodeTask(task, userID)); err != nil {
		t.Fatalf("second Upsert() failed: %v", err)
	}

	rows, err := pg.Fetch(ctx, schema.TableTasks, userID)
	if err != nil {
		t.Fatalf("Fetch() failed: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("Fetch() returned %d rows, want 1", len(rows))
	}

	got, err := schema.DecodeTask(rows[0])
	if err != nil {
		t.Fatalf("DecodeTask() failed: %v", err)
	}
	if got.Title != task.Title || !got.ModifiedAt.Equal(task.ModifiedAt) || len(got.Tags) != 2 {
		t.Errorf("fetched task = %+v, want %+v", got, task)
	}
}

func TestPostgres_InitSchemaIdempotent(t *testing.T) {
	pg := testPostgres(t)
	if err := pg.InitSchema(context.Background()); err != nil {
		t.Errorf("second InitSchema() failed: %v", err)
	}
}
