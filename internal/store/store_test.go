package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/mschirtzinger/flowsync/internal/schema"
)

// testDB opens a fresh store in a temporary directory.
func testDB(t *testing.T) *DB {
	t.Helper()

	db, err := Open(filepath.Join(t.TempDir(), "local.db"), nil)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err := db.InitSchema(context.Background()); err != nil {
		t.Fatalf("InitSchema() failed: %v", err)
	}
	return db
}

func day(d int) time.Time {
	return time.Date(2024, 1, d, 12, 0, 0, 500_000, time.UTC)
}

func TestOpen_CreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "local.db")
	db, err := Open(path, nil)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer db.Close()

	if db.Path() != path {
		t.Errorf("Path() = %q, want %q", db.Path(), path)
	}
}

func TestInitSchema_Idempotent(t *testing.T) {
	db := testDB(t)

	if err := db.InitSchema(context.Background()); err != nil {
		t.Fatalf("second InitSchema() failed: %v", err)
	}

	for _, table := range []string{"tasks", "projects", "rituals"} {
		var count int
		err := db.conn.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&count)
		if err != nil {
			t.Fatalf("failed to query table %s: %v", table, err)
		}
		if count != 1 {
			t.Errorf("table %s does not exist", table)
		}
	}
}

func TestUpsertTask_RoundTrip(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	due := day(9)
	task := &schema.Task{
		ID:          "t1",
		Title:       "Ship it",
		Description: "Release notes too",
		Status:      schema.StatusInProgress,
		Priority:    schema.PriorityUrgent,
		CreatedAt:   day(1),
		DueDate:     &due,
		ProjectID:   "p1",
		Tags:        []string{"release", "web"},
		TaskKey:     "WEB-1",
		ModifiedAt:  day(2),
	}

	if err := db.UpsertTask(ctx, task); err != nil {
		t.Fatalf("UpsertTask() failed: %v", err)
	}

	got, err := db.GetTaskByID(ctx, "t1")
	if err != nil {
		t.Fatalf("GetTaskByID() failed: %v", err)
	}
	if diff := cmp.Diff(task, got); diff != "" {
		t.Errorf("task mismatch (-want +got):\n%s", diff)
	}
}

func TestUpsertTask_KeepsNewerModifiedAt(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	newer := &schema.Task{ID: "t1", Title: "newer", Status: schema.StatusTodo, Priority: schema.PriorityLow, CreatedAt: day(1), ModifiedAt: day(5)}
	older := &schema.Task{ID: "t1", Title: "older", Status: schema.StatusTodo, Priority: schema.PriorityLow, CreatedAt: day(1), ModifiedAt: day(3)}

	if err := db.UpsertTask(ctx, newer); err != nil {
		t.Fatalf("UpsertTask(newer) failed: %v", err)
	}
	if err := db.UpsertTask(ctx, older); err != nil {
		t.Fatalf("UpsertTask(older) failed: %v", err)
	}

	got, err := db.GetTaskByID(ctx, "t1")
	if err != nil {
		t.Fatalf("GetTaskByID() failed: %v", err)
	}
	if got.Title != "newer" || !got.ModifiedAt.Equal(day(5)) {
		t.Errorf("got %q at %v, want newer at %v", got.Title, got.ModifiedAt, day(5))
	}

	same := &schema.Task{ID: "t1", Title: "same time", Status: schema.StatusDone, Priority: schema.PriorityLow, CreatedAt: day(1), ModifiedAt: day(5)}
	if err := db.UpsertTask(ctx, same); err != nil {
		t.Fatalf("UpsertTask(same) failed: %v", err)
	}
	got, _ = db.GetTaskByID(ctx, "t1")
	if got.Title != "same time" {
		t.Errorf("equal modified_at should overwrite, got %q", got.Title)
	}
}

func TestGetByID_NotFound(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	if _, err := db.GetTaskByID(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetTaskByID() err = %v, want ErrNotFound", err)
	}
	if _, err := db.GetProjectByID(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetProjectByID() err = %v, want ErrNotFound", err)
	}
	if _, err := db.GetRitualByID(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetRitualByID() err = %v, want ErrNotFound", err)
	}
}

func TestUpsertProject_RoundTrip(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	project := &schema.Project{
		ID:          "p1",
		Name:        "Home",
		Key:         "HOME",
		CreatedAt:   day(1),
		Color:       "#00FF00",
		IconName:    "house",
		TaskCounter: 3,
		IsArchived:  true,
		ModifiedAt:  day(4),
	}
	if err := db.UpsertProject(ctx, project); err != nil {
		t.Fatalf("UpsertProject() failed: %v", err)
	}

	projects, err := db.ListProjects(ctx)
	if err != nil {
		t.Fatalf("ListProjects() failed: %v", err)
	}
	if diff := cmp.Diff([]*schema.Project{project}, projects); diff != "" {
		t.Errorf("projects mismatch (-want +got):\n%s", diff)
	}
}

func TestUpsertRitual_LastWriteWins(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	last := day(3)
	ritual := &schema.Ritual{
		ID:            "r1",
		Title:         "Journal",
		IsCompleted:   true,
		CreatedAt:     day(1),
		LastCompleted: &last,
		StreakCount:   7,
		Frequency:     schema.FrequencyDaily,
	}
	if err := db.UpsertRitual(ctx, ritual); err != nil {
		t.Fatalf("UpsertRitual() failed: %v", err)
	}

	reset := *ritual
	reset.IsCompleted = false
	reset.StreakCount = 0
	if err := db.UpsertRitual(ctx, &reset); err != nil {
		t.Fatalf("UpsertRitual() failed: %v", err)
	}

	got, err := db.GetRitualByID(ctx, "r1")
	if err != nil {
		t.Fatalf("GetRitualByID() failed: %v", err)
	}
	if diff := cmp.Diff(&reset, got); diff != "" {
		t.Errorf("ritual mismatch (-want +got):\n%s", diff)
	}
}

func TestCount(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		task := &schema.Task{ID: fmt.Sprintf("t%d", i), Title: "x", Status: schema.StatusTodo, Priority: schema.PriorityLow, CreatedAt: day(1), ModifiedAt: day(1)}
		if err := db.UpsertTask(ctx, task); err != nil {
			t.Fatalf("UpsertTask() failed: %v", err)
		}
	}
	if err := db.UpsertRitual(ctx, &schema.Ritual{ID: "r", Title: "x", CreatedAt: day(1), Frequency: schema.FrequencyWeekly}); err != nil {
		t.Fatalf("UpsertRitual() failed: %v", err)
	}

	got, err := db.Count(ctx)
	if err != nil {
		t.Fatalf("Count() failed: %v", err)
	}
	want := Counts{Tasks: 3, Projects: 0, Rituals: 1}
	if got != want {
		t.Errorf("Count() = %+v, want %+v", got, want)
	}
}

func TestConcurrentUpserts(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	const writers = 8
	var wg sync.WaitGroup
	errs := make(chan error, writers)

	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			task := &schema.Task{
				ID:         "shared",
				Title:      fmt.Sprintf("writer %d", w),
				Status:     schema.StatusTodo,
				Priority:   schema.PriorityLow,
				CreatedAt:  day(1),
				ModifiedAt: day(1).Add(time.Duration(w) * time.Minute),
			}
			errs <- db.UpsertTask(ctx, task)
		}(w)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Errorf("UpsertTask() failed: %v", err)
		}
	}

	got, err := db.GetTaskByID(ctx, "shared")
	if err != nil {
		t.Fatalf("GetTaskByID() failed: %v", err)
	}
	if want := fmt.Sprintf("writer %d", writers-1); got.Title != want {
		t.Errorf("Title = %q, want newest writer %q", got.Title, want)
	}
}

func TestUpsertTask_StoresMicroseconds(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	fine := time.Date(2024, 1, 2, 3, 4, 5, 123456789, time.UTC)
	task := &schema.Task{ID: "t1", Title: "fine", Status: schema.StatusTodo, Priority: schema.PriorityLow, CreatedAt: fine, ModifiedAt: fine}
	if err := db.UpsertTask(ctx, task); err != nil {
		t.Fatalf("UpsertTask() failed: %v", err)
	}

	got, err := db.GetTaskByID(ctx, "t1")
	if err != nil {
		t.Fatalf("GetTaskByID() failed: %v", err)
	}
	if want := fine.Truncate(time.Microsecond); !got.ModifiedAt.Equal(want) {
		t.Errorf("ModifiedAt = %v, want %v", got.ModifiedAt, want)
	}

	// Same microsecond as stored, so it counts as equal and overwrites.
	coarse := &schema.Task{ID: "t1", Title: "coarse", Status: schema.StatusTodo, Priority: schema.PriorityLow, CreatedAt: fine, ModifiedAt: fine.Truncate(time.Microsecond)}
	if err := db.UpsertTask(ctx, coarse); err != nil {
		t.Fatalf("UpsertTask(coarse) failed: %v", err)
	}
	got, _ = db.GetTaskByID(ctx, "t1")
	if got.Title != "coarse" {
		t.Errorf("Title = %q, want coarse", got.Title)
	}
}

func TestClose_Repeated(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "local.db"), nil)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	if err := db.InitSchema(context.Background()); err != nil {
		t.Fatalf("InitSchema() failed: %v", err)
	}

	if err := db.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Errorf("second Close() = %v, want nil", err)
	}
	if _, err := db.ListTasks(context.Background()); err == nil {
		t.Error("ListTasks() after Close succeeded, want an error")
	}
}

func TestClose_DuringQueries(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "local.db"), nil)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	ctx := context.Background()
	if err := db.InitSchema(ctx); err != nil {
		t.Fatalf("InitSchema() failed: %v", err)
	}

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				// Errors are expected once Close has run.
				_, _ = db.ListTasks(ctx)
				_, _ = db.Count(ctx)
			}
		}()
	}
	if err := db.Close(); err != nil {
		t.Errorf("Close() failed: %v", err)
	}
	wg.Wait()
}
