package types

import (
	"errors"
	"fmt"

	"github.com/glebarez/go-sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// DuplicateError represents an error when attempting to create a record or
// object that already exists.
type DuplicateError struct {
	Table string
	ID    string
}

func (e DuplicateError) Error() string {
	return fmt.Sprintf("%q with id %q already exists", e.Table, e.ID)
}

// NoResultError represents an error when a query returns no results.
type NoResultError struct {
	Table string
	ID    string
}

// Error returns a string representation of the error.
func (e NoResultError) Error() string {
	return fmt.Sprintf("%q with id %q doesn't exist", e.Table, e.ID)
}

// TxDoneError represents use of a transaction handle after it was consumed by
// Commit or Rollback.
type TxDoneError struct {
	Op string
}

// Error returns a string representation of the error.
func (e TxDoneError) Error() string {
	return fmt.Sprintf("%s on a finished transaction", e.Op)
}

// ScanError represents an error that occurred while scanning query results
// into Go types.
type ScanError struct {
	Table string
	Err   error
}

// Error returns a string representation of the error.
func (e ScanError) Error() string {
	return fmt.Sprintf("failed scanning %q data: %s", e.Table, e.Err)
}

// Unwrap returns the underlying error for error unwrapping.
func (e ScanError) Unwrap() error {
	return e.Err
}

// Err converts an expected error returned by SQLite into a friendly DB error
// of one of the types defined above.
func Err(table, id string, err error) error {
	var sqlErr *sqlite.Error
	if !errors.As(err, &sqlErr) {
		return err
	}

	if sqlErr.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE ||
		sqlErr.Code() == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY {
		return &DuplicateError{Table: table, ID: id}
	}

	return err
}
