package remote

import (
	"context"
	"sort"
	"sync"

	"github.com/mschirtzinger/flowsync/internal/schema"
)

// Memory is an in-process Backend. It is safe for concurrent use and lets
// callers inject failures per table or per record id.
type Memory struct {
	mu             sync.Mutex
	tables         map[string]map[string]schema.Row
	fetchFailures  map[string]*injected
	upsertFailures map[string]*injected
	fetches        map[string]int
	upserts        map[string]int
}

type injected struct {
	err       error
	remaining int // negative means forever
}

func (f *injected) take() error {
	if f.remaining == 0 {
		return nil
	}
	if f.remaining > 0 {
		f.remaining--
	}
	return f.err
}

// NewMemory returns an empty in-memory backend.
func NewMemory() *Memory {
	return &Memory{
		tables:         make(map[string]map[string]schema.Row),
		fetchFailures:  make(map[string]*injected),
		upsertFailures: make(map[string]*injected),
		fetches:        make(map[string]int),
		upserts:        make(map[string]int),
	}
}

// Seed stores rows without counting them as upserts.
func (m *Memory) Seed(table string, rows ...schema.Row) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, row := range rows {
		m.put(table, row)
	}
}

// Rows returns a copy of every row in table, ordered by id.
func (m *Memory) Rows(table string) []schema.Row {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]string, 0, len(m.tables[table]))
	for id := range m.tables[table] {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]schema.Row, 0, len(ids))
	for _, id := range ids {
		out = append(out, cloneRow(m.tables[table][id]))
	}
	return out
}

// FailFetch makes the next times fetches of table fail with err. A negative
// times fails every fetch until ClearFailures.
func (m *Memory) FailFetch(table string, err error, times int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fetchFailures[table] = &injected{err: err, remaining: times}
}

// FailUpsert makes every upsert of the record with id fail with err.
func (m *Memory) FailUpsert(id string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.upsertFailures[id] = &injected{err: err, remaining: -1}
}

// ClearFailures removes every injected failure.
func (m *Memory) ClearFailures() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fetchFailures = make(map[string]*injected)
	m.upsertFailures = make(map[string]*injected)
}

// FetchCount reports how many fetches of table were attempted.
func (m *Memory) FetchCount(table string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fetches[table]
}

// UpsertCount reports how many upserts into table succeeded.
func (m *Memory) UpsertCount(table string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.upserts[table]
}

// Fetch implements Backend.Fetch.
func (m *Memory) Fetch(ctx context.Context, table, userID string) ([]schema.Row, error) {
	if err := checkTable(table); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.fetches[table]++
	if f, ok := m.fetchFailures[table]; ok {
		if err := f.take(); err != nil {
			return nil, err
		}
	}

	var out []schema.Row
	for _, row := range m.tables[table] {
		if owner, _ := row["user_id"].(string); owner == userID {
			out = append(out, cloneRow(row))
		}
	}
	return out, nil
}

// Upsert implements Backend.Upsert.
func (m *Memory) Upsert(ctx context.Context, table string, row schema.Row) error {
	if err := checkTable(table); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	id, _ := row["id"].(string)
	if f, ok := m.upsertFailures[id]; ok {
		if err := f.take(); err != nil {
			return err
		}
	}

	m.put(table, row)
	m.upserts[table]++
	return nil
}

// Close implements Backend.Close.
func (m *Memory) Close() {}

func (m *Memory) put(table string, row schema.Row) {
	id, _ := row["id"].(string)
	if m.tables[table] == nil {
		m.tables[table] = make(map[string]schema.Row)
	}
	m.tables[table][id] = cloneRow(row)
}

// cloneRow copies row deep enough that tag slices are not shared.
func cloneRow(row schema.Row) schema.Row {
	out := make(schema.Row, len(row))
	for k, v := range row {
		switch s := v.(type) {
		case []string:
			out[k] = append([]string(nil), s...)
		case []any:
			out[k] = append([]any(nil), s...)
		default:
			out[k] = v
		}
	}
	return out
}
