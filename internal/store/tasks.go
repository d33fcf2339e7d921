package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mschirtzinger/flowsync/internal/schema"
)

const taskColumns = `id, title, description, status, priority, created_at,
	due_date, project_id, tags, task_key, modified_at`

// UpsertTask inserts or replaces a task.
//
// An existing row is only replaced when the incoming modified_at is not
// older than the stored one; a stale write is dropped silently.
func (db *DB) UpsertTask(ctx context.Context, task *schema.Task) error {
	tagsJSON, err := json.Marshal(task.Tags)
	if err != nil {
		return fmt.Errorf("failed to marshal tags: %w", err)
	}
	if task.Tags == nil {
		tagsJSON = []byte("[]")
	}

	query := `
	INSERT INTO tasks (` + taskColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		title = excluded.title,
		description = excluded.description,
		status = excluded.status,
		priority = excluded.priority,
		created_at = excluded.created_at,
		due_date = excluded.due_date,
		project_id = excluded.project_id,
		tags = excluded.tags,
		task_key = excluded.task_key,
		modified_at = excluded.modified_at
	WHERE excluded.modified_at >= tasks.modified_at
	`

	_, err = db.conn.ExecContext(ctx, query,
		task.ID,
		task.Title,
		textToNullString(task.Description),
		string(task.Status),
		string(task.Priority),
		formatTime(task.CreatedAt),
		timeToNullString(task.DueDate),
		textToNullString(task.ProjectID),
		string(tagsJSON),
		textToNullString(task.TaskKey),
		formatTime(task.ModifiedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert task %s: %w", task.ID, err)
	}

	return nil
}

// ListTasks returns every stored task, in no particular order.
func (db *DB) ListTasks(ctx context.Context) ([]*schema.Task, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT `+taskColumns+` FROM tasks`)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*schema.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tasks: %w", err)
	}

	return tasks, nil
}

// GetTaskByID retrieves a single task. Returns ErrNotFound if it doesn't exist.
func (db *DB) GetTaskByID(ctx context.Context, id string) (*schema.Task, error) {
	row := db.conn.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)

	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	return task, err
}

func scanTask(s scanner) (*schema.Task, error) {
	var (
		task                        schema.Task
		status, priority, tagsJSON  string
		createdAt, modifiedAt       string
		description, projectID, key sql.NullString
		dueDate                     sql.NullString
	)

	err := s.Scan(
		&task.ID,
		&task.Title,
		&description,
		&status,
		&priority,
		&createdAt,
		&dueDate,
		&projectID,
		&tagsJSON,
		&key,
		&modifiedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan task: %w", err)
	}

	task.Description = description.String
	task.ProjectID = projectID.String
	task.TaskKey = key.String
	task.Status = schema.ParseTaskStatus(status)
	task.Priority = schema.ParsePriority(priority)

	if task.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("task %s: bad created_at: %w", task.ID, err)
	}
	if task.ModifiedAt, err = parseTime(modifiedAt); err != nil {
		return nil, fmt.Errorf("task %s: bad modified_at: %w", task.ID, err)
	}
	if task.DueDate, err = nullStringToTime(dueDate); err != nil {
		return nil, fmt.Errorf("task %s: bad due_date: %w", task.ID, err)
	}

	task.Tags = []string{}
	if tagsJSON != "" && tagsJSON != "null" {
		if err := json.Unmarshal([]byte(tagsJSON), &task.Tags); err != nil {
			return nil, fmt.Errorf("failed to unmarshal tags: %w", err)
		}
	}

	return &task, nil
}
