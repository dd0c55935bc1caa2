package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

type DB struct {
	Pool *pgxpool.Pool
}

func ConnectDB(ctx context.Context, url string) (*DB, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	cfg.MaxConns = 10
	cfg.MinConns = 2
	cfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &DB{Pool: pool}, nil
}

// FileHashIndex enforces one task per uploaded content hash.
const FileHashIndex = "idx_tasks_file_hash_unique"

const schema = `
CREATE TABLE IF NOT EXISTS tasks (
	id            VARCHAR(50) PRIMARY KEY,
	file_name     VARCHAR(255) NOT NULL,
	file_size     BIGINT NOT NULL DEFAULT 0,
	file_type     VARCHAR(100) NOT NULL DEFAULT 'text/plain',
	file_hash     VARCHAR(64) NOT NULL DEFAULT '',
	storage_path  TEXT NOT NULL DEFAULT '',
	status        VARCHAR(20) NOT NULL DEFAULT 'pending',
	progress      INTEGER NOT NULL DEFAULT 0 CHECK (progress >= 0 AND progress <= 100),
	result_url    TEXT,
	error_message TEXT,
	uploaded_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	started_at    TIMESTAMPTZ,
	completed_at  TIMESTAMPTZ,
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_tasks_status_started ON tasks (status, started_at);
DROP INDEX IF EXISTS idx_tasks_file_hash;
CREATE UNIQUE INDEX IF NOT EXISTS ` + FileHashIndex + ` ON tasks (file_hash) WHERE file_hash <> '';
CREATE INDEX IF NOT EXISTS idx_tasks_uploaded_at ON tasks (uploaded_at);

CREATE TABLE IF NOT EXISTS task_logs (
	id         BIGSERIAL PRIMARY KEY,
	task_id    VARCHAR(50) NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
	log_level  VARCHAR(10) NOT NULL,
	message    TEXT NOT NULL,
	details    JSONB,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_task_logs_task_id ON task_logs (task_id, id);
`

// Migrate creates the tables the repository needs if they are missing.
func (db *DB) Migrate(ctx context.Context) error {
	if _, err := db.Pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (db *DB) Close() {
	db.Pool.Close()
}
