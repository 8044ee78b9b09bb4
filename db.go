package main

import (
	"context"
	"database/sql"
	"embed"
	"io/fs"
	"sort"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	_ "github.com/lib/pq" // PostgreSQL driver
)

var db *sql.DB

//go:embed migrations/*.up.sql
var migrationsFS embed.FS

// initDB opens the Postgres pool, checks it is reachable and applies the
// embedded migrations.
func initDB(ctx context.Context, dsn string) (*sql.DB, error) {
	conn, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "open postgres")
	}
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, errors.Wrap(err, "ping postgres")
	}
	logger.Info("Database connection established")

	if err := migrate(ctx, conn); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

// migrate executes every migrations/*.up.sql file in lexical order. The
// statements are idempotent so this runs on every start.
func migrate(ctx context.Context, conn *sql.DB) error {
	files, err := fs.Glob(migrationsFS, "migrations/*.up.sql")
	if err != nil {
		return errors.Wrap(err, "list migrations")
	}
	sort.Strings(files)

	for _, f := range files {
		data, err := migrationsFS.ReadFile(f)
		if err != nil {
			return errors.Wrapf(err, "read migration %s", f)
		}
		if _, err := conn.ExecContext(ctx, string(data)); err != nil {
			return errors.Wrapf(err, "exec migration %s", f)
		}
		logger.Info("Migration applied", zap.String("file", f))
	}
	return nil
}
