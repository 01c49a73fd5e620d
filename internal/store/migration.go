package store

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

var migrationStatements = []string{
	`CREATE TABLE IF NOT EXISTS takes (
		id UUID PRIMARY KEY,
		genre TEXT NOT NULL,
		bpm INTEGER NOT NULL,
		duration_sec DOUBLE PRECISION NOT NULL,
		transcription TEXT NOT NULL DEFAULT '',
		feedback TEXT NOT NULL DEFAULT '',
		tips TEXT[] NOT NULL DEFAULT '{}',
		source TEXT NOT NULL DEFAULT 'rules',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_takes_created_at ON takes (created_at DESC)`,
}

func RunMigration(ctx context.Context, pool *pgxpool.Pool) error {
	for _, s := range migrationStatements {
		stmt := strings.TrimSpace(s)
		if stmt == "" {
			continue
		}
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
