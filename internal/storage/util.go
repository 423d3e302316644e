package storage

import (
	"errors"

	"github.com/jackc/pgx/v5"
)

// isNoRows reports whether err is pgx's "no rows returned" sentinel, used
// throughout this package to turn QueryRow's not-found case into a
// (zero-value, false, nil) result instead of an error.
func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
