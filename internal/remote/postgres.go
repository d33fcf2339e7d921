package remote

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/mschirtzinger/flowsync/internal/schema"
)

// PostgresConfig configures the Postgres backend.
type PostgresConfig struct {
	// DSN is a postgres:// connection string
	DSN string

	// MaxConns caps the pool size (default: 10)
	MaxConns int32

	// ConnectTimeout bounds the initial connect and ping (default: 5s)
	ConnectTimeout time.Duration
}

// Postgres is a Backend over a pgx connection pool.
type Postgres struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgres connects to the database and verifies the connection.
func NewPostgres(ctx context.Context, cfg PostgresConfig, logger *zap.Logger) (*Postgres, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("remote")

	if cfg.DSN == "" {
		return nil, fmt.Errorf("remote DSN cannot be empty")
	}
	if cfg.MaxConns <= 0 {
		cfg.MaxConns = 10
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to parse remote DSN: %w", err)
	}
	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MinConns = 1
	poolCfg.MaxConnIdleTime = time.Minute

	logger.Info("Connecting to remote backend",
		zap.String("host", poolCfg.ConnConfig.Host),
		zap.Uint16("port", poolCfg.ConnConfig.Port),
		zap.String("db", poolCfg.ConnConfig.Database),
	)

	connectCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(connectCtx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	if err := pool.Ping(connectCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping: %w", err)
	}

	return &Postgres{pool: pool, logger: logger}, nil
}

// Pool exposes the connection pool, e.g. for LISTEN subscriptions.
func (p *Postgres) Pool() *pgxpool.Pool {
	return p.pool
}

// Close closes every pooled connection.
func (p *Postgres) Close() {
	p.pool.Close()
}

// Fetch implements Backend.Fetch.
func (p *Postgres) Fetch(ctx context.Context, table, userID string) ([]schema.Row, error) {
	if err := checkTable(table); err != nil {
		return nil, err
	}

	query := fmt.Sprintf("SELECT %s FROM %s WHERE user_id = $1",
		columnList(schema.Columns(table)), pgx.Identifier{table}.Sanitize())

	rows, err := p.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", table, err)
	}

	maps, err := pgx.CollectRows(rows, pgx.RowToMap)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", table, err)
	}

	out := make([]schema.Row, len(maps))
	for i, m := range maps {
		out[i] = schema.Row(m)
	}

	p.logger.Debug("Fetched rows",
		zap.String("table", table),
		zap.String("user_id", userID),
		zap.Int("rows", len(out)),
	)
	return out, nil
}

// Upsert implements Backend.Upsert. Every column is written, so a row that
// lacks a field clears it remotely.
func (p *Postgres) Upsert(ctx context.Context, table string, row schema.Row) error {
	if err := checkTable(table); err != nil {
		return err
	}

	cols := schema.Columns(table)
	args := make([]any, len(cols))
	for i, col := range cols {
		v, err := toPostgresValue(col, row[col])
		if err != nil {
			return fmt.Errorf("failed to encode %s.%s: %w", table, col, err)
		}
		args[i] = v
	}

	if _, err := p.pool.Exec(ctx, upsertQuery(table, cols), args...); err != nil {
		return fmt.Errorf("failed to upsert into %s: %w", table, err)
	}
	return nil
}

func upsertQuery(table string, cols []string) string {
	placeholders := make([]string, len(cols))
	updates := make([]string, 0, len(cols)-1)
	for i, col := range cols {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		if col == "id" {
			continue
		}
		ident := pgx.Identifier{col}.Sanitize()
		updates = append(updates, fmt.Sprintf("%s = EXCLUDED.%s", ident, ident))
	}

	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (id) DO UPDATE SET %s",
		pgx.Identifier{table}.Sanitize(),
		columnList(cols),
		strings.Join(placeholders, ", "),
		strings.Join(updates, ", "),
	)
}

func columnList(cols []string) string {
	idents := make([]string, len(cols))
	for i, col := range cols {
		idents[i] = pgx.Identifier{col}.Sanitize()
	}
	return strings.Join(idents, ", ")
}

// toPostgresValue turns wire timestamps back into time.Time so they bind to
// timestamptz columns.
func toPostgresValue(col string, v any) (any, error) {
	s, ok := v.(string)
	if !ok || !schema.IsTimestampColumn(col) {
		return v, nil
	}
	return schema.ParseTime(s)
}
