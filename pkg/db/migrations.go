package db

import (
	"context"
	"database/sql"
	"sort"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
)

// Migration is one schema change. Versions are timestamps (YYYYMMDDHHmmss)
// and migrations apply in version order.
type Migration struct {
	Version     int64
	Description string
	Up          func(*sql.Tx) error
	// Down is optional
	Down func(*sql.Tx) error
}

// MigrationRunner applies migrations and records them in schema_migrations
type MigrationRunner struct {
	db *sqlx.DB
}

// NewMigrationRunner creates a migration runner for db
func NewMigrationRunner(db *sqlx.DB) *MigrationRunner {
	return &MigrationRunner{db: db}
}

// Run applies every migration not yet recorded, oldest first. Each migration
// runs in its own transaction.
func (r *MigrationRunner) Run(ctx context.Context, migrations []Migration) error {
	if err := r.ensureMigrationsTable(ctx); err != nil {
		return err
	}

	versions, err := r.AppliedVersions(ctx)
	if err != nil {
		return err
	}
	applied := make(map[int64]bool, len(versions))
	for _, v := range versions {
		applied[v] = true
	}

	pending := make([]Migration, 0, len(migrations))
	for _, m := range migrations {
		if !applied[m.Version] {
			pending = append(pending, m)
		}
	}
	sort.Slice(pending, func(i, j int) bool {
		return pending[i].Version < pending[j].Version
	})

	for _, m := range pending {
		if err := r.inTx(ctx, m.Up, func(tx *sqlx.Tx) error {
			_, err := tx.ExecContext(ctx,
				"INSERT INTO schema_migrations (version, applied_at, description) VALUES (?, ?, ?)",
				m.Version, time.Now().UTC(), m.Description)
			return errors.Wrap(err, "failed to record migration")
		}); err != nil {
			return errors.Wrapf(err, "failed to apply migration %d: %s", m.Version, m.Description)
		}
	}

	return nil
}

// Rollback reverts the latest applied migration
func (r *MigrationRunner) Rollback(ctx context.Context, migrations []Migration) error {
	if err := r.ensureMigrationsTable(ctx); err != nil {
		return err
	}

	var version int64
	if err := r.db.GetContext(ctx, &version, "SELECT COALESCE(MAX(version), 0) FROM schema_migrations"); err != nil {
		return errors.Wrap(err, "failed to get latest migration version")
	}
	if version == 0 {
		return nil
	}

	for _, m := range migrations {
		if m.Version != version {
			continue
		}
		if m.Down == nil {
			return errors.Errorf("migration %d has no rollback function", version)
		}
		return r.inTx(ctx, m.Down, func(tx *sqlx.Tx) error {
			_, err := tx.ExecContext(ctx, "DELETE FROM schema_migrations WHERE version = ?", m.Version)
			return errors.Wrap(err, "failed to remove migration record")
		})
	}

	return errors.Errorf("migration %d not found in provided migrations", version)
}

// AppliedVersions returns the applied migration versions in order
func (r *MigrationRunner) AppliedVersions(ctx context.Context) ([]int64, error) {
	if err := r.ensureMigrationsTable(ctx); err != nil {
		return nil, err
	}

	var versions []int64
	if err := r.db.SelectContext(ctx, &versions, "SELECT version FROM schema_migrations ORDER BY version"); err != nil {
		return nil, errors.Wrap(err, "failed to get applied versions")
	}
	return versions, nil
}

func (r *MigrationRunner) ensureMigrationsTable(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME NOT NULL,
			description TEXT
		)
	`)
	return errors.Wrap(err, "failed to create schema_migrations table")
}

func (r *MigrationRunner) inTx(ctx context.Context, change func(*sql.Tx) error, record func(*sqlx.Tx) error) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	if err := change(tx.Tx); err != nil {
		return err
	}
	if err := record(tx); err != nil {
		return err
	}
	return errors.Wrap(tx.Commit(), "failed to commit migration")
}
