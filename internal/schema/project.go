package schema

import (
	"fmt"
	"time"
)

// DefaultProjectColor is applied when a row carries no color.
const DefaultProjectColor = "#4A90E2"

// Project groups tasks under a short key.
type Project struct {
	ID          string
	Name        string
	Key         string
	Description string
	CreatedAt   time.Time
	Color       string
	IconName    string
	TaskCounter int
	IsArchived  bool
	ModifiedAt  time.Time
}

// DecodeProject maps a wire row to a Project.
func DecodeProject(row Row) (*Project, error) {
	var (
		p   Project
		err error
	)

	if p.ID, err = requireString(row, "id"); err != nil {
		return nil, fmt.Errorf("decode project: %w", err)
	}
	if p.Name, err = requireString(row, "name"); err != nil {
		return nil, fmt.Errorf("decode project %s: %w", p.ID, err)
	}
	if p.Key, err = requireString(row, "key"); err != nil {
		return nil, fmt.Errorf("decode project %s: %w", p.ID, err)
	}
	if p.CreatedAt, err = requireTime(row, "created_at"); err != nil {
		return nil, fmt.Errorf("decode project %s: %w", p.ID, err)
	}
	if p.Description, err = optionalString(row, "description"); err != nil {
		return nil, fmt.Errorf("decode project %s: %w", p.ID, err)
	}
	if p.Color, err = optionalString(row, "color"); err != nil {
		return nil, fmt.Errorf("decode project %s: %w", p.ID, err)
	}
	if p.Color == "" {
		p.Color = DefaultProjectColor
	}
	if p.IconName, err = optionalString(row, "icon_name"); err != nil {
		return nil, fmt.Errorf("decode project %s: %w", p.ID, err)
	}
	if p.TaskCounter, err = intField(row, "task_counter", 0); err != nil {
		return nil, fmt.Errorf("decode project %s: %w", p.ID, err)
	}
	if p.IsArchived, err = boolField(row, "is_archived", false); err != nil {
		return nil, fmt.Errorf("decode project %s: %w", p.ID, err)
	}

	modified, err := optionalTime(row, "modified_at")
	if err != nil {
		return nil, fmt.Errorf("decode project %s: %w", p.ID, err)
	}
	if modified != nil {
		p.ModifiedAt = *modified
	} else {
		p.ModifiedAt = p.CreatedAt
	}

	return &p, nil
}

// EncodeProject maps p to a wire row owned by userID.
func EncodeProject(p *Project, userID string) Row {
	color := p.Color
	if color == "" {
		color = DefaultProjectColor
	}
	return Row{
		"id":           p.ID,
		"user_id":      userID,
		"name":         p.Name,
		"key":          p.Key,
		"description":  optionalText(p.Description),
		"created_at":   FormatTime(p.CreatedAt),
		"color":        color,
		"icon_name":    optionalText(p.IconName),
		"task_counter": p.TaskCounter,
		"is_archived":  p.IsArchived,
		"modified_at":  FormatTime(p.ModifiedAt),
	}
}
