package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

var migrationStatements = []string{
	`DO $$ BEGIN CREATE TYPE delivery_outcome AS ENUM ('delivered', 'failed'); EXCEPTION WHEN duplicate_object THEN NULL; END $$`,
	`CREATE TABLE IF NOT EXISTS admin_auth (
		id SMALLINT PRIMARY KEY DEFAULT 1 CHECK (id = 1),
		password_hash TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS credentials (
		id SMALLINT PRIMARY KEY DEFAULT 1 CHECK (id = 1),
		telegram_session TEXT NOT NULL DEFAULT '',
		schedule_token TEXT NOT NULL DEFAULT '',
		converter_token TEXT NOT NULL DEFAULT '',
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS channels (
		id UUID PRIMARY KEY,
		channel_id TEXT NOT NULL,
		batch_id TEXT NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS worker_state (
		id SMALLINT PRIMARY KEY DEFAULT 1 CHECK (id = 1),
		session_active BOOLEAN NOT NULL DEFAULT FALSE,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS deliveries (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		channel_id TEXT NOT NULL,
		batch_id TEXT NOT NULL,
		session_id TEXT NOT NULL,
		topic TEXT NOT NULL DEFAULT '',
		subject TEXT NOT NULL DEFAULT '',
		outcome delivery_outcome NOT NULL,
		reason TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_deliveries_created_at ON deliveries (created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_deliveries_session ON deliveries (batch_id, session_id)`,
}

func RunMigration(ctx context.Context, pool *pgxpool.Pool) error {
	for i, s := range migrationStatements {
		stmt := strings.TrimSpace(s)
		if stmt == "" {
			continue
		}
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migration statement %d: %w", i, err)
		}
	}
	return nil
}
