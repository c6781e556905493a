package migrations

import (
	"database/sql"

	"github.com/jingkaihe/hookgate/pkg/db"
	"github.com/pkg/errors"
)

func Migration20261019090001AddDecisionIndexes() db.Migration {
	indexes := map[string]string{
		"idx_dispatch_decisions_created_at": "CREATE INDEX IF NOT EXISTS idx_dispatch_decisions_created_at ON dispatch_decisions(created_at DESC)",
		"idx_dispatch_decisions_outcome":    "CREATE INDEX IF NOT EXISTS idx_dispatch_decisions_outcome ON dispatch_decisions(outcome, created_at DESC)",
		"idx_dispatch_decisions_session":    "CREATE INDEX IF NOT EXISTS idx_dispatch_decisions_session ON dispatch_decisions(session_id)",
	}

	return db.Migration{
		Version:     20261019090001,
		Description: "Add dispatch_decisions indexes",
		Up: func(tx *sql.Tx) error {
			for name, stmt := range indexes {
				if _, err := tx.Exec(stmt); err != nil {
					return errors.Wrapf(err, "failed to create index %s", name)
				}
			}
			return nil
		},
		Down: func(tx *sql.Tx) error {
			for name := range indexes {
				if _, err := tx.Exec("DROP INDEX IF EXISTS " + name); err != nil {
					return errors.Wrapf(err, "failed to drop index %s", name)
				}
			}
			return nil
		},
	}
}
