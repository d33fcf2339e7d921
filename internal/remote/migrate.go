package remote

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// remoteSchema creates the synchronized tables and a trigger per table that
// publishes on NotifyChannel(table, user_id) whenever a row changes.
const remoteSchema = `
CREATE TABLE IF NOT EXISTS tasks (
	id text PRIMARY KEY,
	user_id text NOT NULL,
	title text NOT NULL,
	description text,
	status text NOT NULL DEFAULT 'todo',
	priority text NOT NULL DEFAULT 'medium',
	created_at timestamptz NOT NULL,
	due_date timestamptz,
	project_id text,
	tags text[] NOT NULL DEFAULT '{}',
	task_key text,
	modified_at timestamptz
);

CREATE TABLE IF NOT EXISTS projects (
	id text PRIMARY KEY,
	user_id text NOT NULL,
	name text NOT NULL,
	key text NOT NULL,
	description text,
	created_at timestamptz NOT NULL,
	color text NOT NULL DEFAULT '#4A90E2',
	icon_name text,
	task_counter integer NOT NULL DEFAULT 0,
	is_archived boolean NOT NULL DEFAULT false,
	modified_at timestamptz
);

CREATE TABLE IF NOT EXISTS rituals (
	id text PRIMARY KEY,
	user_id text NOT NULL,
	title text NOT NULL,
	description text,
	is_completed boolean NOT NULL DEFAULT false,
	created_at timestamptz NOT NULL,
	last_completed timestamptz,
	reset_time timestamptz,
	streak_count integer NOT NULL DEFAULT 0,
	frequency text NOT NULL DEFAULT 'daily'
);

CREATE INDEX IF NOT EXISTS tasks_user_id_idx ON tasks (user_id);
CREATE INDEX IF NOT EXISTS projects_user_id_idx ON projects (user_id);
CREATE INDEX IF NOT EXISTS rituals_user_id_idx ON rituals (user_id);

CREATE OR REPLACE FUNCTION flowsync_notify_change() RETURNS trigger AS $$
BEGIN
	PERFORM pg_notify(
		TG_TABLE_NAME || ':' || CASE WHEN TG_OP = 'DELETE' THEN OLD.user_id ELSE NEW.user_id END,
		TG_OP
	);
	RETURN NULL;
END;
$$ LANGUAGE plpgsql;

CREATE OR REPLACE TRIGGER tasks_notify_change
	AFTER INSERT OR UPDATE OR DELETE ON tasks
	FOR EACH ROW EXECUTE FUNCTION flowsync_notify_change();

CREATE OR REPLACE TRIGGER projects_notify_change
	AFTER INSERT OR UPDATE OR DELETE ON projects
	FOR EACH ROW EXECUTE FUNCTION flowsync_notify_change();

CREATE OR REPLACE TRIGGER rituals_notify_change
	AFTER INSERT OR UPDATE OR DELETE ON rituals
	FOR EACH ROW EXECUTE FUNCTION flowsync_notify_change();
`

// InitSchema creates the remote tables and change triggers. It is idempotent
// and needs Postgres 14 or newer for CREATE OR REPLACE TRIGGER.
func (p *Postgres) InitSchema(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, remoteSchema); err != nil {
		return fmt.Errorf("failed to initialize remote schema: %w", err)
	}
	p.logger.Info("Remote schema ready", zap.Strings("tables", []string{"tasks", "projects", "rituals"}))
	return nil
}
