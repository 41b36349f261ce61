package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// schema is applied on startup. Statements are idempotent so the service
// can start against a fresh or an existing database.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS zones (
		id        TEXT PRIMARY KEY,
		name      TEXT NOT NULL,
		latitude  DOUBLE PRECISION NOT NULL DEFAULT 0,
		longitude DOUBLE PRECISION NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS slots (
		id             TEXT PRIMARY KEY,
		number         TEXT NOT NULL,
		zone_id        TEXT NOT NULL REFERENCES zones(id),
		latitude       DOUBLE PRECISION NOT NULL DEFAULT 0,
		longitude      DOUBLE PRECISION NOT NULL DEFAULT 0,
		status         TEXT NOT NULL DEFAULT 'available',
		occupying_user TEXT,
		version        BIGINT NOT NULL DEFAULT 1,
		updated_at     TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS users (
		id   TEXT PRIMARY KEY,
		role TEXT NOT NULL DEFAULT 'standard'
	)`,
	`CREATE TABLE IF NOT EXISTS sessions (
		id         TEXT PRIMARY KEY,
		slot_id    TEXT NOT NULL REFERENCES slots(id),
		user_id    TEXT NOT NULL,
		started_at TIMESTAMPTZ NOT NULL,
		ended_at   TIMESTAMPTZ,
		status     TEXT NOT NULL DEFAULT 'active',
		ended_by   TEXT,
		flagged    BOOLEAN NOT NULL DEFAULT FALSE
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS sessions_active_user
		ON sessions (user_id) WHERE status = 'active'`,
	`CREATE UNIQUE INDEX IF NOT EXISTS sessions_active_slot
		ON sessions (slot_id) WHERE status = 'active'`,
	`CREATE TABLE IF NOT EXISTS quotas (
		user_id    TEXT NOT NULL,
		week_start TIMESTAMPTZ NOT NULL,
		used       INT NOT NULL DEFAULT 0,
		PRIMARY KEY (user_id, week_start)
	)`,
	`CREATE TABLE IF NOT EXISTS notifications (
		id         TEXT PRIMARY KEY,
		user_id    TEXT NOT NULL,
		title      TEXT NOT NULL,
		message    TEXT NOT NULL,
		severity   TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS notifications_user
		ON notifications (user_id, created_at DESC)`,
}

// EnsureSchema creates the coordinator's tables if they do not exist.
func EnsureSchema(ctx context.Context, db *pgxpool.Pool) error {
	for _, stmt := range schema {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}
