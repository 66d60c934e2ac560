package migration

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"userapi/internal/logger"
)

type migrationStep struct {
	Name string
	SQL  string
}

var steps = []migrationStep{
	{
		Name: "create_extension_uuid_ossp",
		SQL:  `CREATE EXTENSION IF NOT EXISTS "uuid-ossp";`,
	},
	{
		Name: "create_table_users",
		SQL: `CREATE TABLE IF NOT EXISTS users (
  id          UUID        PRIMARY KEY DEFAULT uuid_generate_v4(),
  first_name  TEXT        NOT NULL,
  last_name   TEXT        NOT NULL,
  email       TEXT        NOT NULL UNIQUE,
  avatar_path TEXT,
  created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
  updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);`,
	},
	{
		Name: "create_index_users_last_name",
		SQL:  `CREATE INDEX IF NOT EXISTS idx_users_last_name ON users (last_name);`,
	},
	{
		Name: "create_index_users_name_pair",
		SQL:  `CREATE INDEX IF NOT EXISTS idx_users_name_pair ON users (first_name, last_name);`,
	},
	{
		Name: "create_index_users_created_at",
		SQL:  `CREATE INDEX IF NOT EXISTS idx_users_created_at ON users (created_at);`,
	},
}

// EnsureMigrated checks if the 'users' table exists and runs migrations if it doesn't.
func EnsureMigrated(ctx context.Context, db *sql.DB, dbHost string) error {
	start := time.Now()

	var exists bool
	query := "SELECT to_regclass('public.users') IS NOT NULL"
	if err := db.QueryRowContext(ctx, query).Scan(&exists); err != nil {
		logger.Log.Errorw("db migration check failed",
			"db_host", dbHost,
			"error", err,
			"duration_ms", time.Since(start).Milliseconds(),
		)
		return fmt.Errorf("failed to check sentinel table: %w", err)
	}

	if exists {
		logger.Log.Infow("schema already exists, skipping migration",
			"db_host", dbHost,
			"duration_ms", time.Since(start).Milliseconds(),
		)
		return nil
	}

	for _, step := range steps {
		stepStart := time.Now()
		if _, err := db.ExecContext(ctx, step.SQL); err != nil {
			logger.Log.Errorw("db migration step failed",
				"migration_step", step.Name,
				"db_host", dbHost,
				"error", err,
				"step_duration_ms", time.Since(stepStart).Milliseconds(),
			)
			return fmt.Errorf("migration step %s failed: %w", step.Name, err)
		}

		logger.Log.Infow("db migration step applied",
			"migration_step", step.Name,
			"db_host", dbHost,
			"step_duration_ms", time.Since(stepStart).Milliseconds(),
		)
	}

	logger.Log.Infow("db migration complete",
		"db_host", dbHost,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return nil
}
