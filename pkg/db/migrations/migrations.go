// Package migrations holds the schema migrations of the hookgate storage
// database. Versions are timestamps (YYYYMMDDHHmmss).
package migrations

import (
	"github.com/jingkaihe/hookgate/pkg/db"
)

// All returns every migration. New migrations are appended here.
func All() []db.Migration {
	return []db.Migration{
		Migration20261019090000CreateDispatchDecisions(),
		Migration20261019090001AddDecisionIndexes(),
	}
}
