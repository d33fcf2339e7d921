package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/mschirtzinger/flowsync/internal/schema"
)

const projectColumns = `id, name, key, description, created_at, color,
	icon_name, task_counter, is_archived, modified_at`

// UpsertProject inserts or replaces a project, keeping the newer modified_at.
func (db *DB) UpsertProject(ctx context.Context, project *schema.Project) error {
	color := project.Color
	if color == "" {
		color = schema.DefaultProjectColor
	}

	query := `
	INSERT INTO projects (` + projectColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		name = excluded.name,
		key = excluded.key,
		description = excluded.description,
		created_at = excluded.created_at,
		color = excluded.color,
		icon_name = excluded.icon_name,
		task_counter = excluded.task_counter,
		is_archived = excluded.is_archived,
		modified_at = excluded.modified_at
	WHERE excluded.modified_at >= projects.modified_at
	`

	_, err := db.conn.ExecContext(ctx, query,
		project.ID,
		project.Name,
		project.Key,
		textToNullString(project.Description),
		formatTime(project.CreatedAt),
		color,
		textToNullString(project.IconName),
		project.TaskCounter,
		project.IsArchived,
		formatTime(project.ModifiedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert project %s: %w", project.ID, err)
	}

	return nil
}

// ListProjects returns every stored project, in no particular order.
func (db *DB) ListProjects(ctx context.Context) ([]*schema.Project, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT `+projectColumns+` FROM projects`)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	defer rows.Close()

	var projects []*schema.Project
	for rows.Next() {
		project, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		projects = append(projects, project)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating projects: %w", err)
	}

	return projects, nil
}

// GetProjectByID retrieves a single project. Returns ErrNotFound if it doesn't exist.
func (db *DB) GetProjectByID(ctx context.Context, id string) (*schema.Project, error) {
	row := db.conn.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE id = ?`, id)

	project, err := scanProject(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("project %s: %w", id, ErrNotFound)
	}
	return project, err
}

func scanProject(s scanner) (*schema.Project, error) {
	var (
		project               schema.Project
		createdAt, modifiedAt string
		description, icon     sql.NullString
	)

	err := s.Scan(
		&project.ID,
		&project.Name,
		&project.Key,
		&description,
		&createdAt,
		&project.Color,
		&icon,
		&project.TaskCounter,
		&project.IsArchived,
		&modifiedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan project: %w", err)
	}

	project.Description = description.String
	project.IconName = icon.String

	if project.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("project %s: bad created_at: %w", project.ID, err)
	}
	if project.ModifiedAt, err = parseTime(modifiedAt); err != nil {
		return nil, fmt.Errorf("project %s: bad modified_at: %w", project.ID, err)
	}

	return &project, nil
}
