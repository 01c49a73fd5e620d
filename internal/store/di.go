package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/samber/do/v2"

	"github.com/satindergrewal/improv/internal/config"
)

const databaseInitTimeout = 15 * time.Second

// RegisterDI provides a Store: PostgreSQL when DATABASE_URL is set, memory
// otherwise.
func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (Store, error) {
		cfg := do.MustInvoke[*config.Config](i)
		logger := do.MustInvoke[zerolog.Logger](i)

		if cfg.DatabaseURL == "" {
			logger.Info().Msg("no database configured, keeping takes in memory")
			return NewMemoryStore(), nil
		}

		ctx, cancel := context.WithTimeout(context.Background(), databaseInitTimeout)
		defer cancel()

		p, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect database: %w", err)
		}
		if err := p.Ping(ctx); err != nil {
			p.Close()
			return nil, fmt.Errorf("failed to ping database: %w", err)
		}
		if err := RunMigration(ctx, p); err != nil {
			p.Close()
			return nil, fmt.Errorf("failed to run migration: %w", err)
		}
		logger.Info().Msg("takes stored in postgres")
		return NewPostgresStore(p), nil
	})
}
