package sync

import (
	"context"
	"time"

	"github.com/mschirtzinger/flowsync/internal/schema"
	"github.com/mschirtzinger/flowsync/internal/store"
)

// kind describes how one entity collection is stored on both sides.
type kind[T any] struct {
	// name is the plural name, equal to the remote table
	name     string
	singular string

	decode func(schema.Row) (*T, error)
	encode func(*T, string) schema.Row
	id     func(*T) string

	// modifiedAt is nil for kinds merged on presence only
	modifiedAt func(*T) time.Time

	list func(ctx context.Context) ([]*T, error)
	put  func(ctx context.Context, item *T) error
}

func taskKind(db *store.DB) kind[schema.Task] {
	return kind[schema.Task]{
		name:       schema.TableTasks,
		singular:   "task",
		decode:     schema.DecodeTask,
		encode:     schema.EncodeTask,
		id:         func(t *schema.Task) string { return t.ID },
		modifiedAt: func(t *schema.Task) time.Time { return t.ModifiedAt },
		list:       db.ListTasks,
		put:        db.UpsertTask,
	}
}

func projectKind(db *store.DB) kind[schema.Project] {
	return kind[schema.Project]{
		name:       schema.TableProjects,
		singular:   "project",
		decode:     schema.DecodeProject,
		encode:     schema.EncodeProject,
		id:         func(p *schema.Project) string { return p.ID },
		modifiedAt: func(p *schema.Project) time.Time { return p.ModifiedAt },
		list:       db.ListProjects,
		put:        db.UpsertProject,
	}
}

func ritualKind(db *store.DB) kind[schema.Ritual] {
	return kind[schema.Ritual]{
		name:     schema.TableRituals,
		singular: "ritual",
		decode:   schema.DecodeRitual,
		encode:   schema.EncodeRitual,
		id:       func(r *schema.Ritual) string { return r.ID },
		list:     db.ListRituals,
		put:      db.UpsertRitual,
	}
}
