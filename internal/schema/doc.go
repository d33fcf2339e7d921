// Package schema defines the synchronized entities and their wire codecs.
//
// # Overview
//
// Three entity kinds are synchronized between the local store and the remote
// backend: tasks, projects and rituals. Each kind has an in-memory struct and a
// pair of codec functions that map it to and from a Row, the string-keyed
// representation exchanged with the remote backend.
//
// # Wire format
//
// Rows use snake_case column names (see TaskColumns, ProjectColumns and
// RitualColumns). Enums are written as their bare variant name, timestamps as
// RFC 3339 with nanoseconds in UTC, and optional fields as an explicit nil.
//
//	row := schema.EncodeTask(task, userID)
//	// row["status"] == "inProgress", row["due_date"] == nil
//
// # Decoding rules
//
//   - A missing or wrong-shaped required field fails the decode of that row only.
//   - Unknown enum names fall back to the documented default variant.
//   - A nil optional timestamp decodes to nil.
//   - A nil modified_at decodes to created_at.
//
// Decoding accepts both JSON-shaped values (strings, float64, []any) and the
// native values returned by the Postgres driver (time.Time, int32, []string).
package schema
