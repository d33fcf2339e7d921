package schema

import (
	"fmt"
	"time"
)

// Ritual is a recurring habit with a completion streak.
//
// Rituals carry no modification timestamp, so they are merged on presence
// only: nothing decides between two diverging copies of the same ritual.
type Ritual struct {
	ID            string
	Title         string
	Description   string
	IsCompleted   bool
	CreatedAt     time.Time
	LastCompleted *time.Time
	ResetTime     *time.Time
	StreakCount   int
	Frequency     Frequency
}

// DecodeRitual maps a wire row to a Ritual.
func DecodeRitual(row Row) (*Ritual, error) {
	var (
		r   Ritual
		err error
	)

	if r.ID, err = requireString(row, "id"); err != nil {
		return nil, fmt.Errorf("decode ritual: %w", err)
	}
	if r.Title, err = requireString(row, "title"); err != nil {
		return nil, fmt.Errorf("decode ritual %s: %w", r.ID, err)
	}
	if r.CreatedAt, err = requireTime(row, "created_at"); err != nil {
		return nil, fmt.Errorf("decode ritual %s: %w", r.ID, err)
	}
	if r.Description, err = optionalString(row, "description"); err != nil {
		return nil, fmt.Errorf("decode ritual %s: %w", r.ID, err)
	}
	if r.IsCompleted, err = boolField(row, "is_completed", false); err != nil {
		return nil, fmt.Errorf("decode ritual %s: %w", r.ID, err)
	}
	if r.LastCompleted, err = optionalTime(row, "last_completed"); err != nil {
		return nil, fmt.Errorf("decode ritual %s: %w", r.ID, err)
	}
	if r.ResetTime, err = optionalTime(row, "reset_time"); err != nil {
		return nil, fmt.Errorf("decode ritual %s: %w", r.ID, err)
	}
	if r.StreakCount, err = intField(row, "streak_count", 0); err != nil {
		return nil, fmt.Errorf("decode ritual %s: %w", r.ID, err)
	}

	r.Frequency = ParseFrequency(enumName(row, "frequency"))

	return &r, nil
}

// EncodeRitual maps r to a wire row owned by userID.
func EncodeRitual(r *Ritual, userID string) Row {
	return Row{
		"id":             r.ID,
		"user_id":        userID,
		"title":          r.Title,
		"description":    optionalText(r.Description),
		"is_completed":   r.IsCompleted,
		"created_at":     FormatTime(r.CreatedAt),
		"last_completed": formatOptionalTime(r.LastCompleted),
		"reset_time":     formatOptionalTime(r.ResetTime),
		"streak_count":   r.StreakCount,
		"frequency":      string(r.Frequency),
	}
}
