package migrations

import (
	"database/sql"

	"github.com/jingkaihe/hookgate/pkg/db"
	"github.com/pkg/errors"
)

func Migration20261019090000CreateDispatchDecisions() db.Migration {
	return db.Migration{
		Version:     20261019090000,
		Description: "Create dispatch_decisions table",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
				CREATE TABLE IF NOT EXISTS dispatch_decisions (
					id TEXT PRIMARY KEY,
					event TEXT NOT NULL,
					tool TEXT NOT NULL DEFAULT '',
					session_id TEXT NOT NULL DEFAULT '',
					outcome TEXT NOT NULL,
					reason TEXT NOT NULL DEFAULT '',
					rule TEXT NOT NULL DEFAULT '',
					hook_command TEXT NOT NULL DEFAULT '',
					integrity BOOLEAN NOT NULL DEFAULT 0,
					hooks_run INTEGER NOT NULL DEFAULT 0,
					duration_ms INTEGER NOT NULL DEFAULT 0,
					created_at DATETIME NOT NULL
				)
			`)
			return errors.Wrap(err, "failed to create dispatch_decisions table")
		},
		Down: func(tx *sql.Tx) error {
			_, err := tx.Exec("DROP TABLE IF EXISTS dispatch_decisions")
			return errors.Wrap(err, "failed to drop dispatch_decisions table")
		},
	}
}
