package sqlite

import (
	"errors"

	"github.com/dukex/flowline/pkg/persistence"
	"github.com/dukex/flowline/pkg/persistence/sqlbase"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// Dialect returns the SQLite dialect. Row locks do not exist; the single connection serializes transactions,
// so saved state is rewritten whole. json_patch is not usable: it merges nested objects and drops null values.
func Dialect() *sqlbase.Dialect {
	return &sqlbase.Dialect{
		Name:          "sqlite",
		ClassifyError: classifyError,
	}
}

func classifyError(err error) error {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return err
	}

	switch sqliteErr.Code() & 0xff {
	case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
		return persistence.Transient(err)
	case sqlite3.SQLITE_CONSTRAINT:
		if sqliteErr.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE || sqliteErr.Code() == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY {
			return errors.Join(persistence.ErrConflict, err)
		}

		return err
	default:
		return err
	}
}
