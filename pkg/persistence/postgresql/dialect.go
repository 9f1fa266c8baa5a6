package postgresql

import (
	"database/sql/driver"
	"errors"

	"github.com/dukex/flowline/pkg/persistence"
	"github.com/dukex/flowline/pkg/persistence/sqlbase"
	"github.com/lib/pq"
)

// SQLSTATE codes that are safe to retry.
const (
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeLockNotAvailable     = "55P03"
	codeQueryCanceled        = "57014"
	codeUniqueViolation      = "23505"
)

// Dialect returns the PostgreSQL dialect.
func Dialect() *sqlbase.Dialect {
	return &sqlbase.Dialect{
		Name:                 "postgres",
		NumberedPlaceholders: true,
		LockForUpdate:        " FOR UPDATE",
		LockForUpdateNoWait:  " FOR UPDATE NOWAIT",
		SkipLocked:           " FOR UPDATE SKIP LOCKED",
		MergeJSON: func(column string) string {
			return column + " = " + column + " || CAST(? AS jsonb)"
		},
		ClassifyError: classifyError,
	}
}

func classifyError(err error) error {
	if errors.Is(err, driver.ErrBadConn) {
		return persistence.Transient(err)
	}

	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return err
	}

	switch string(pqErr.Code) {
	case codeSerializationFailure, codeDeadlockDetected, codeLockNotAvailable, codeQueryCanceled:
		return persistence.Transient(err)
	case codeUniqueViolation:
		return errors.Join(persistence.ErrConflict, err)
	default:
		return err
	}
}
