// Package remote talks to the remote backend that holds every user's records.
//
// The backend contract is deliberately small:
//
//   - Fetch selects every row of a table whose user_id equals the given id.
//   - Upsert inserts a row or replaces the row with the same id in full.
//
// Postgres implements it over a pgx connection pool; Memory implements it in
// process for tests and offline runs.
package remote

import (
	"context"
	"errors"
	"fmt"

	"github.com/mschirtzinger/flowsync/internal/schema"
)

// ErrUnknownTable is returned for a table outside the synchronized set.
var ErrUnknownTable = errors.New("unknown table")

// Backend is the remote side of a synchronization.
type Backend interface {
	// Fetch returns every row in table owned by userID.
	Fetch(ctx context.Context, table, userID string) ([]schema.Row, error)

	// Upsert writes row into table, replacing any row with the same id.
	Upsert(ctx context.Context, table string, row schema.Row) error

	// Close releases connections held by the backend.
	Close()
}

// NotifyChannel names the change-notification channel for one user's rows
// in table. Triggers installed by InitSchema publish on it and the realtime
// subscribers listen on it.
func NotifyChannel(table, userID string) string {
	return table + ":" + userID
}

func checkTable(table string) error {
	if schema.Columns(table) == nil {
		return fmt.Errorf("%w: %s", ErrUnknownTable, table)
	}
	return nil
}
