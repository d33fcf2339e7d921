package schema

import (
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// Row is the wire representation of a single record.
type Row map[string]any

// Table names on the remote backend. They double as the kind names used in
// logs and metrics.
const (
	TableTasks    = "tasks"
	TableProjects = "projects"
	TableRituals  = "rituals"
)

// Column lists per table, in the order the remote backend defines them.
var (
	TaskColumns = []string{
		"id", "user_id", "title", "description", "status", "priority",
		"created_at", "due_date", "project_id", "tags", "task_key", "modified_at",
	}
	ProjectColumns = []string{
		"id", "user_id", "name", "key", "description", "created_at",
		"color", "icon_name", "task_counter", "is_archived", "modified_at",
	}
	RitualColumns = []string{
		"id", "user_id", "title", "description", "is_completed", "created_at",
		"last_completed", "reset_time", "streak_count", "frequency",
	}
)

// Columns returns the column list for table, or nil for an unknown table.
func Columns(table string) []string {
	switch table {
	case TableTasks:
		return TaskColumns
	case TableProjects:
		return ProjectColumns
	case TableRituals:
		return RitualColumns
	default:
		return nil
	}
}

// IsTimestampColumn reports whether column holds a timestamp in any table.
func IsTimestampColumn(column string) bool {
	switch column {
	case "created_at", "modified_at", "due_date", "last_completed", "reset_time":
		return true
	}
	return false
}

// TimePrecision is the finest resolution a timestamp keeps anywhere in the
// system. Postgres timestamptz stores microseconds, so anything finer would
// not survive a round trip through the remote backend.
const TimePrecision = time.Microsecond

// NormalizeTime converts t to UTC and truncates it to TimePrecision.
func NormalizeTime(t time.Time) time.Time {
	return t.UTC().Truncate(TimePrecision)
}

// FormatTime renders t the way timestamps travel on the wire.
func FormatTime(t time.Time) string {
	return NormalizeTime(t).Format(time.RFC3339Nano)
}

// ParseTime parses a wire timestamp.
func ParseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, err
	}
	return NormalizeTime(t), nil
}

func formatOptionalTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return FormatTime(*t)
}

func optionalText(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// FieldError reports a missing or malformed field while decoding a row.
type FieldError struct {
	Field  string
	Reason string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("field %s: %s", e.Field, e.Reason)
}

func missing(field string) error {
	return &FieldError{Field: field, Reason: "is required"}
}

func malformed(field string, v any) error {
	return &FieldError{Field: field, Reason: fmt.Sprintf("unexpected value of type %T", v)}
}

func requireString(row Row, field string) (string, error) {
	v, ok := row[field]
	if !ok || v == nil {
		return "", missing(field)
	}
	s, ok := v.(string)
	if !ok {
		return "", malformed(field, v)
	}
	return s, nil
}

func optionalString(row Row, field string) (string, error) {
	v, ok := row[field]
	if !ok || v == nil {
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", malformed(field, v)
	}
	return s, nil
}

// enumName returns the text of an enum field. Missing or non-string values
// yield "" so the caller falls back to the enum's default.
func enumName(row Row, field string) string {
	s, _ := row[field].(string)
	return s
}

func toTime(field string, v any) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return NormalizeTime(t), nil
	case string:
		parsed, err := ParseTime(t)
		if err != nil {
			return time.Time{}, &FieldError{Field: field, Reason: err.Error()}
		}
		return parsed, nil
	default:
		return time.Time{}, malformed(field, v)
	}
}

func requireTime(row Row, field string) (time.Time, error) {
	v, ok := row[field]
	if !ok || v == nil {
		return time.Time{}, missing(field)
	}
	return toTime(field, v)
}

func optionalTime(row Row, field string) (*time.Time, error) {
	v, ok := row[field]
	if !ok || v == nil {
		return nil, nil
	}
	t, err := toTime(field, v)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func intField(row Row, field string, def int) (int, error) {
	v, ok := row[field]
	if !ok || v == nil {
		return def, nil
	}
	switch n := v.(type) {
	case int:
		return n, nil
	case int32:
		return int(n), nil
	case int64:
		return int(n), nil
	case float64:
		if n != math.Trunc(n) {
			return 0, malformed(field, v)
		}
		return int(n), nil
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, &FieldError{Field: field, Reason: err.Error()}
		}
		return int(i), nil
	default:
		return 0, malformed(field, v)
	}
}

func boolField(row Row, field string, def bool) (bool, error) {
	v, ok := row[field]
	if !ok || v == nil {
		return def, nil
	}
	b, ok := v.(bool)
	if !ok {
		return false, malformed(field, v)
	}
	return b, nil
}

// stringSet decodes an ordered set of strings, dropping duplicates while
// keeping first occurrences in place.
func stringSet(row Row, field string) ([]string, error) {
	v, ok := row[field]
	if !ok || v == nil {
		return []string{}, nil
	}

	var items []string
	switch list := v.(type) {
	case []string:
		items = list
	case []any:
		items = make([]string, 0, len(list))
		for _, item := range list {
			s, ok := item.(string)
			if !ok {
				return nil, malformed(field, item)
			}
			items = append(items, s)
		}
	default:
		return nil, malformed(field, v)
	}

	return dedupe(items), nil
}

func dedupe(items []string) []string {
	out := make([]string, 0, len(items))
	seen := make(map[string]struct{}, len(items))
	for _, s := range items {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
