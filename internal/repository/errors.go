// Package repository persists users and refresh tokens. MySQL-backed
// repositories are used in production; the Memory* variants implement
// the same methods for tests and DB_DRIVER=memory.
//
// Failures are reported with the shared apperr sentinels: a missing row
// is apperr.ErrNotFound and a unique-key violation is apperr.ErrConflict.
package repository

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"

	"github.com/iliyamo/realtime-auth/internal/apperr"
)

// mysqlDuplicateEntry is MySQL's ER_DUP_ENTRY.
const mysqlDuplicateEntry = 1062

// translate maps driver errors onto apperr sentinels and annotates
// everything else with the failing operation.
func translate(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, apperr.ErrNotFound)
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) && myErr.Number == mysqlDuplicateEntry {
		return fmt.Errorf("%s: %w", op, apperr.ErrConflict)
	}
	return fmt.Errorf("%s: %w", op, err)
}
