package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kyrosq/mqs/internal/db"
)

// PostgresStore is the production Store, backed by a pgx connection pool
// reached through the db.Database abstraction.
type PostgresStore struct {
	conn db.Database
}

// NewPostgresStore opens a pool against dsn, applies min/max pool size
// bounds, verifies connectivity, and ensures the schema exists.
func NewPostgresStore(ctx context.Context, dsn string, minPoolSize, maxPoolSize int32) (*PostgresStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres DSN is required")
	}

	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if minPoolSize > 0 {
		poolCfg.MinConns = minPoolSize
	}
	if maxPoolSize > 0 {
		poolCfg.MaxConns = maxPoolSize
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}

	s := &PostgresStore{conn: newPgxPool(pool)}

	if err := s.conn.Ping(ctx); err != nil {
		s.conn.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	if err := s.ensureSchema(ctx); err != nil {
		s.conn.Close()
		return nil, err
	}

	return s, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error { return s.conn.Ping(ctx) }

func (s *PostgresStore) Close() error { return s.conn.Close() }

// ensureSchema creates the queues/messages tables, their indexes, and the
// triggers that enforce invariants I1/I3 (max_receives is set iff
// dead_letter_queue is set, including when a referenced queue's deletion
// cascades dead_letter_queue to NULL).
func (s *PostgresStore) ensureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS queues (
			id BIGSERIAL PRIMARY KEY,
			name TEXT NOT NULL UNIQUE,
			max_receives INTEGER,
			dead_letter_queue TEXT REFERENCES queues(name) ON DELETE SET NULL ON UPDATE CASCADE,
			retention_seconds BIGINT NOT NULL,
			visibility_seconds BIGINT NOT NULL,
			delay_seconds BIGINT NOT NULL DEFAULT 0,
			content_based_dedup BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id UUID PRIMARY KEY,
			queue TEXT NOT NULL REFERENCES queues(name) ON DELETE CASCADE ON UPDATE CASCADE,
			payload BYTEA NOT NULL,
			content_type TEXT NOT NULL,
			content_encoding TEXT NOT NULL DEFAULT '',
			hash TEXT,
			receives INTEGER NOT NULL DEFAULT 0,
			visible_since TIMESTAMPTZ NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_queue_visible ON messages(queue, visible_since)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_queue_visible_id ON messages(queue, visible_since, id)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_queue_created ON messages(queue, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_created ON messages(created_at)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS uq_messages_queue_hash ON messages(queue, hash) WHERE hash IS NOT NULL`,
		`CREATE OR REPLACE FUNCTION mqs_enforce_redrive_pair() RETURNS TRIGGER AS $$
		BEGIN
			IF NEW.dead_letter_queue IS NULL THEN
				NEW.max_receives := NULL;
			END IF;
			RETURN NEW;
		END;
		$$ LANGUAGE plpgsql`,
		`DROP TRIGGER IF EXISTS trg_queues_redrive_pair ON queues`,
		`CREATE TRIGGER trg_queues_redrive_pair
			BEFORE UPDATE ON queues
			FOR EACH ROW
			EXECUTE FUNCTION mqs_enforce_redrive_pair()`,
		`CREATE OR REPLACE FUNCTION mqs_touch_updated_at() RETURNS TRIGGER AS $$
		BEGIN
			NEW.updated_at := NOW();
			RETURN NEW;
		END;
		$$ LANGUAGE plpgsql`,
		`DROP TRIGGER IF EXISTS trg_queues_touch_updated_at ON queues`,
		`CREATE TRIGGER trg_queues_touch_updated_at
			BEFORE UPDATE ON queues
			FOR EACH ROW
			EXECUTE FUNCTION mqs_touch_updated_at()`,
	}

	for _, stmt := range stmts {
		if _, err := s.conn.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}
