// Package db provides the bundled SQLite storage backend. It implements the
// types.Executor interface the migration engine runs against; any other
// backend satisfying that interface can be used instead.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"strings"
	"time"

	//nolint:revive,nolintlint // Idiomatic way of loading DB libraries.
	_ "github.com/glebarez/go-sqlite"

	"go.hackfix.me/strata/db/types"
)

// DB wraps sql.DB with transaction nesting and DDL generation for SQLite.
type DB struct {
	sqlDB   *sql.DB
	timeNow func() time.Time
	path    string
}

var _ types.Executor = (*DB)(nil)

// Open creates and configures a new SQLite database connection.
func Open(path string, timeNow func() time.Time) (*DB, error) {
	var d *DB
	if strings.Contains(path, "mode=memory") || strings.Contains(path, ":memory:") {
		defer func() {
			if d != nil {
				// See https://github.com/mattn/go-sqlite3#faq
				d.sqlDB.SetMaxIdleConns(10)
				d.sqlDB.SetConnMaxLifetime(time.Duration(math.Inf(1)))
			}
		}()
	}

	sqliteDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed opening SQLite database: %w", err)
	}

	d = &DB{sqlDB: sqliteDB, path: path, timeNow: timeNow}

	// Enable foreign key enforcement
	_, err = sqliteDB.Exec(`PRAGMA foreign_keys = ON;`)
	if err != nil {
		return nil, fmt.Errorf("failed enabling foreign key enforcement: %w", err)
	}

	return d, nil
}

// Close closes the underlying database connection.
func (d *DB) Close() error {
	if err := d.sqlDB.Close(); err != nil {
		return fmt.Errorf("failed closing SQLite database: %w", err)
	}
	return nil
}

// Path returns the database location.
func (d *DB) Path() string {
	return d.path
}

// TimeNow returns the current system time.
func (d *DB) TimeNow() time.Time {
	return d.timeNow()
}

// conn abstracts over sql.DB and sql.Tx.
type conn interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Query implements the types.Executor interface.
func (d *DB) Query(ctx context.Context, query string, args ...any) (types.Rows, error) {
	return runQuery(ctx, d.sqlDB, query, args...)
}

// Exec implements the types.Executor interface.
func (d *DB) Exec(ctx context.Context, query string, args ...any) error {
	return runExec(ctx, d.sqlDB, query, args...)
}

// Insert implements the types.Executor interface.
func (d *DB) Insert(ctx context.Context, table string, row types.Row) error {
	return runInsert(ctx, d.sqlDB, table, row)
}

// Update implements the types.Executor interface.
func (d *DB) Update(ctx context.Context, table string, row types.Row, where string, args ...any) error {
	return runUpdate(ctx, d.sqlDB, table, row, where, args...)
}

// Delete implements the types.Executor interface.
func (d *DB) Delete(ctx context.Context, table string, where string, args ...any) error {
	return runDelete(ctx, d.sqlDB, table, where, args...)
}

// CreateTable implements the types.Executor interface.
func (d *DB) CreateTable(ctx context.Context, table *types.Table) error {
	return runExec(ctx, d.sqlDB, buildCreateTable(table))
}

// DropTable implements the types.Executor interface.
func (d *DB) DropTable(ctx context.Context, name string) error {
	return runExec(ctx, d.sqlDB, fmt.Sprintf(`DROP TABLE %q`, name))
}

// AlterTable implements the types.Executor interface.
func (d *DB) AlterTable(ctx context.Context, name string, changes ...types.TableChange) error {
	return runAlterTable(ctx, d.sqlDB, name, changes)
}

// CreateIndex implements the types.Executor interface.
func (d *DB) CreateIndex(ctx context.Context, index *types.Index) error {
	return runExec(ctx, d.sqlDB, buildCreateIndex(index))
}

// DropIndex implements the types.Executor interface.
func (d *DB) DropIndex(ctx context.Context, name string) error {
	return runExec(ctx, d.sqlDB, fmt.Sprintf(`DROP INDEX %q`, name))
}

// Begin starts a transaction.
func (d *DB) Begin(ctx context.Context) (types.Tx, error) {
	sqlTx, err := d.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed starting transaction: %w", err)
	}
	return &Tx{ctx: ctx, sqlTx: sqlTx}, nil
}
