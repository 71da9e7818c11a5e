package db

import (
	"database/sql"
	"strings"

	"github.com/mattn/go-sqlite3"

	"github.com/chorus/jobs/errors"
)

// IsDatabaseClosed reports whether err comes from using a closed handle,
// which happens when shutdown closes the database under a running worker.
// The driver does not export a typed error for this, so the message is
// checked as well.
func IsDatabaseClosed(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, sql.ErrConnDone) {
		return true
	}
	return strings.Contains(err.Error(), "database is closed")
}

// IsConstraintViolation reports whether err is a SQLite UNIQUE, CHECK, or
// foreign key failure.
func IsConstraintViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if err != nil && errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrConstraint
	}
	return false
}
