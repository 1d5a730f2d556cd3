package types

import "context"

// Row is a set of column/value pairs used by Insert and Update. Backends and
// the checksum engine must iterate it in sorted key order so that the same
// logical row always produces the same operation sequence.
type Row map[string]any

// Rows is a minimal forward-only result iterator, satisfiable both by real
// backends and by non-executing ones.
type Rows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close() error
}

// Executor exposes the query, mutation and DDL primitives migrations run
// against. The migration engine depends only on this interface; dialect and
// pooling concerns live entirely behind it.
type Executor interface {
	// Query runs a select or other row-returning statement.
	Query(ctx context.Context, query string, args ...any) (Rows, error)
	// Exec runs a raw statement that returns no rows.
	Exec(ctx context.Context, query string, args ...any) error

	Insert(ctx context.Context, table string, row Row) error
	Update(ctx context.Context, table string, row Row, where string, args ...any) error
	Delete(ctx context.Context, table string, where string, args ...any) error

	CreateTable(ctx context.Context, table *Table) error
	DropTable(ctx context.Context, name string) error
	AlterTable(ctx context.Context, name string, changes ...TableChange) error
	CreateIndex(ctx context.Context, index *Index) error
	DropIndex(ctx context.Context, name string) error

	// Begin opens a transaction scope. Nested scopes are modeled by calling
	// Begin again on the returned Tx.
	Begin(ctx context.Context) (Tx, error)
}

// Tx is a transaction handle. Commit and Rollback consume the handle; any
// further use of it is an error.
type Tx interface {
	Executor
	Commit() error
	Rollback() error
}

// Table describes a table to be created.
type Table struct {
	Name        string
	IfNotExists bool
	Columns     []Column
}

// Column describes a single table column.
type Column struct {
	Name       string
	Type       string
	PrimaryKey bool
	NotNull    bool
	Unique     bool
	Default    string
	// References is an optional "table(column)" foreign key target.
	References string
}

// Index describes an index to be created.
type Index struct {
	Name    string
	Table   string
	Columns []string
	Unique  bool
}

// TableChange is a single ALTER TABLE operation.
type TableChange interface {
	isTableChange()
}

// AddColumn adds a column to an existing table.
type AddColumn struct {
	Column Column
}

// DropColumn removes a column from an existing table.
type DropColumn struct {
	Name string
}

// RenameColumn renames a column.
type RenameColumn struct {
	From string
	To   string
}

// RenameTable renames the table itself.
type RenameTable struct {
	To string
}

func (AddColumn) isTableChange()    {}
func (DropColumn) isTableChange()   {}
func (RenameColumn) isTableChange() {}
func (RenameTable) isTableChange()  {}
