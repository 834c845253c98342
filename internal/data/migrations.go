package data

import (
	"context"
	"database/sql"

	"github.com/target/taskmanager-api/internal/migrate"
)

// RunMigrations brings the users, tasks and jobs schema up to date.
func RunMigrations(ctx context.Context, db *sql.DB) error {
	return migrate.Run(ctx, db)
}

// PendingMigrations lists migration versions not yet applied.
func PendingMigrations(ctx context.Context, db *sql.DB) ([]string, error) {
	return migrate.Pending(ctx, db)
}
