package schema

import (
	"fmt"
	"time"
)

// Task is a unit of work owned by a user.
type Task struct {
	ID          string
	Title       string
	Description string
	Status      TaskStatus
	Priority    Priority
	CreatedAt   time.Time
	DueDate     *time.Time
	ProjectID   string // not enforced against projects
	Tags        []string
	TaskKey     string // human-readable key, e.g. "WEB-12"
	ModifiedAt  time.Time
}

// DecodeTask maps a wire row to a Task.
func DecodeTask(row Row) (*Task, error) {
	var (
		t   Task
		err error
	)

	if t.ID, err = requireString(row, "id"); err != nil {
		return nil, fmt.Errorf("decode task: %w", err)
	}
	if t.Title, err = requireString(row, "title"); err != nil {
		return nil, fmt.Errorf("decode task %s: %w", t.ID, err)
	}
	if t.CreatedAt, err = requireTime(row, "created_at"); err != nil {
		return nil, fmt.Errorf("decode task %s: %w", t.ID, err)
	}
	if t.Description, err = optionalString(row, "description"); err != nil {
		return nil, fmt.Errorf("decode task %s: %w", t.ID, err)
	}
	if t.DueDate, err = optionalTime(row, "due_date"); err != nil {
		return nil, fmt.Errorf("decode task %s: %w", t.ID, err)
	}
	if t.ProjectID, err = optionalString(row, "project_id"); err != nil {
		return nil, fmt.Errorf("decode task %s: %w", t.ID, err)
	}
	if t.Tags, err = stringSet(row, "tags"); err != nil {
		return nil, fmt.Errorf("decode task %s: %w", t.ID, err)
	}
	if t.TaskKey, err = optionalString(row, "task_key"); err != nil {
		return nil, fmt.Errorf("decode task %s: %w", t.ID, err)
	}

	modified, err := optionalTime(row, "modified_at")
	if err != nil {
		return nil, fmt.Errorf("decode task %s: %w", t.ID, err)
	}
	if modified != nil {
		t.ModifiedAt = *modified
	} else {
		t.ModifiedAt = t.CreatedAt
	}

	t.Status = ParseTaskStatus(enumName(row, "status"))
	t.Priority = ParsePriority(enumName(row, "priority"))

	return &t, nil
}

// EncodeTask maps t to a wire row owned by userID.
func EncodeTask(t *Task, userID string) Row {
	tags := t.Tags
	if tags == nil {
		tags = []string{}
	}
	return Row{
		"id":          t.ID,
		"user_id":     userID,
		"title":       t.Title,
		"description": optionalText(t.Description),
		"status":      string(t.Status),
		"priority":    string(t.Priority),
		"created_at":  FormatTime(t.CreatedAt),
		"due_date":    formatOptionalTime(t.DueDate),
		"project_id":  optionalText(t.ProjectID),
		"tags":        tags,
		"task_key":    optionalText(t.TaskKey),
		"modified_at": FormatTime(t.ModifiedAt),
	}
}
