package database

import (
	"context"
	"fmt"
	"io/fs"

	"github.com/apollo-xwb/paysecure/migrations"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

// Migrate applies the embedded goose migrations
func (db *DB) Migrate(ctx context.Context) error {
	return MigrateFS(ctx, db, migrations.FS)
}

// MigrateFS applies goose migrations from fsys. goose needs a database/sql handle,
// so one is opened over the pool's connection config for the duration of the run.
func MigrateFS(ctx context.Context, db *DB, fsys fs.FS) error {
	provider, err := goose.NewProvider(goose.DialectPostgres, stdlib.OpenDB(*db.Pool.Config().ConnConfig), fsys)
	if err != nil {
		return fmt.Errorf("failed to create migration provider: %w", err)
	}
	defer provider.Close()

	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	for _, r := range results {
		db.logger.Info("applied migration",
			"version", r.Source.Version,
			"duration", r.Duration.String(),
		)
	}
	return nil
}
