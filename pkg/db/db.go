// Package db opens the SQLite database hookgate keeps its audit trail in and
// applies schema migrations to it.
package db

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	_ "modernc.org/sqlite"
)

// BasePathEnv overrides the directory hookgate keeps its state in
const BasePathEnv = "HOOKGATE_BASE_PATH"

// BasePath returns the hookgate state directory, ~/.hookgate by default
func BasePath() (string, error) {
	if basePath := os.Getenv(BasePathEnv); basePath != "" {
		return basePath, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", errors.Wrap(err, "failed to get home directory")
	}
	return filepath.Join(home, ".hookgate"), nil
}

// DefaultDBPath returns the default path of the storage database
func DefaultDBPath() (string, error) {
	base, err := BasePath()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, "storage.db"), nil
}

// Open opens or creates the SQLite database at dbPath and configures it for
// concurrent use by several hook processes.
func Open(ctx context.Context, dbPath string) (*sqlx.DB, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, errors.Wrap(err, "failed to create database directory")
	}

	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database")
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to ping database")
	}

	if err := Configure(ctx, db); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to configure database")
	}

	return db, nil
}

// Configure applies the SQLite pragmas hookgate relies on. WAL mode and the
// busy timeout let short-lived hook processes write while another one holds
// the database.
func Configure(ctx context.Context, db *sqlx.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA temp_store=memory",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}

	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			return errors.Wrapf(err, "failed to execute pragma: %s", pragma)
		}
	}

	db.SetMaxIdleConns(1)
	db.SetMaxOpenConns(1)

	return VerifyConfiguration(ctx, db)
}

// VerifyConfiguration checks that the pragmas set by Configure are in effect
func VerifyConfiguration(ctx context.Context, db *sqlx.DB) error {
	checks := []struct {
		pragma string
		want   string
	}{
		{"journal_mode", "wal"},
		{"synchronous", "1"},
		{"foreign_keys", "1"},
	}

	for _, c := range checks {
		var got string
		if err := db.GetContext(ctx, &got, "PRAGMA "+c.pragma); err != nil {
			return errors.Wrapf(err, "failed to query %s", c.pragma)
		}
		if strings.ToLower(got) != c.want {
			return errors.Errorf("expected %s %s, got %s", c.pragma, c.want, got)
		}
	}
	return nil
}

// OpenAndMigrate opens the database at dbPath and applies migrations
func OpenAndMigrate(ctx context.Context, dbPath string, migrations []Migration) (*sqlx.DB, error) {
	db, err := Open(ctx, dbPath)
	if err != nil {
		return nil, err
	}
	if err := NewMigrationRunner(db).Run(ctx, migrations); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}
