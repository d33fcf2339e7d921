package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/mschirtzinger/flowsync/internal/schema"
)

const ritualColumns = `id, title, description, is_completed, created_at,
	last_completed, reset_time, streak_count, frequency`

// UpsertRitual inserts or replaces a ritual. Rituals have no modification
// timestamp, so the last write always wins.
func (db *DB) UpsertRitual(ctx context.Context, ritual *schema.Ritual) error {
	query := `
	INSERT INTO rituals (` + ritualColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		title = excluded.title,
		description = excluded.description,
		is_completed = excluded.is_completed,
		created_at = excluded.created_at,
		last_completed = excluded.last_completed,
		reset_time = excluded.reset_time,
		streak_count = excluded.streak_count,
		frequency = excluded.frequency
	`

	_, err := db.conn.ExecContext(ctx, query,
		ritual.ID,
		ritual.Title,
		textToNullString(ritual.Description),
		ritual.IsCompleted,
		formatTime(ritual.CreatedAt),
		timeToNullString(ritual.LastCompleted),
		timeToNullString(ritual.ResetTime),
		ritual.StreakCount,
		string(ritual.Frequency),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert ritual %s: %w", ritual.ID, err)
	}

	return nil
}

// ListRituals returns every stored ritual, in no particular order.
func (db *DB) ListRituals(ctx context.Context) ([]*schema.Ritual, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT `+ritualColumns+` FROM rituals`)
	if err != nil {
		return nil, fmt.Errorf("failed to list rituals: %w", err)
	}
	defer rows.Close()

	var rituals []*schema.Ritual
	for rows.Next() {
		ritual, err := scanRitual(rows)
		if err != nil {
			return nil, err
		}
		rituals = append(rituals, ritual)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rituals: %w", err)
	}

	return rituals, nil
}

// GetRitualByID retrieves a single ritual. Returns ErrNotFound if it doesn't exist.
func (db *DB) GetRitualByID(ctx context.Context, id string) (*schema.Ritual, error) {
	row := db.conn.QueryRowContext(ctx, `SELECT `+ritualColumns+` FROM rituals WHERE id = ?`, id)

	ritual, err := scanRitual(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("ritual %s: %w", id, ErrNotFound)
	}
	return ritual, err
}

func scanRitual(s scanner) (*schema.Ritual, error) {
	var (
		ritual                   schema.Ritual
		createdAt, frequency     string
		description              sql.NullString
		lastCompleted, resetTime sql.NullString
	)

	err := s.Scan(
		&ritual.ID,
		&ritual.Title,
		&description,
		&ritual.IsCompleted,
		&createdAt,
		&lastCompleted,
		&resetTime,
		&ritual.StreakCount,
		&frequency,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan ritual: %w", err)
	}

	ritual.Description = description.String
	ritual.Frequency = schema.ParseFrequency(frequency)

	if ritual.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("ritual %s: bad created_at: %w", ritual.ID, err)
	}
	if ritual.LastCompleted, err = nullStringToTime(lastCompleted); err != nil {
		return nil, fmt.Errorf("ritual %s: bad last_completed: %w", ritual.ID, err)
	}
	if ritual.ResetTime, err = nullStringToTime(resetTime); err != nil {
		return nil, fmt.Errorf("ritual %s: bad reset_time: %w", ritual.ID, err)
	}

	return &ritual, nil
}
