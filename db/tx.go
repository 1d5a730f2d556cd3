package db

import (
	"context"
	"database/sql"
	"fmt"

	"go.hackfix.me/strata/db/types"
)

// Tx is a transaction scope. The outermost scope maps to a real SQLite
// transaction; nested scopes map to SAVEPOINTs on the same connection.
// Commit and Rollback consume the scope.
type Tx struct {
	ctx       context.Context
	sqlTx     *sql.Tx
	savepoint string
	depth     int
	done      bool
}

var _ types.Tx = (*Tx)(nil)

// Query implements the types.Executor interface.
func (t *Tx) Query(ctx context.Context, query string, args ...any) (types.Rows, error) {
	if t.done {
		return nil, types.TxDoneError{Op: "query"}
	}
	return runQuery(ctx, t.sqlTx, query, args...)
}

// Exec implements the types.Executor interface.
func (t *Tx) Exec(ctx context.Context, query string, args ...any) error {
	if t.done {
		return types.TxDoneError{Op: "exec"}
	}
	return runExec(ctx, t.sqlTx, query, args...)
}

// Insert implements the types.Executor interface.
func (t *Tx) Insert(ctx context.Context, table string, row types.Row) error {
	if t.done {
		return types.TxDoneError{Op: "insert"}
	}
	return runInsert(ctx, t.sqlTx, table, row)
}

// Update implements the types.Executor interface.
func (t *Tx) Update(ctx context.Context, table string, row types.Row, where string, args ...any) error {
	if t.done {
		return types.TxDoneError{Op: "update"}
	}
	return runUpdate(ctx, t.sqlTx, table, row, where, args...)
}

// Delete implements the types.Executor interface.
func (t *Tx) Delete(ctx context.Context, table string, where string, args ...any) error {
	if t.done {
		return types.TxDoneError{Op: "delete"}
	}
	return runDelete(ctx, t.sqlTx, table, where, args...)
}

// CreateTable implements the types.Executor interface.
func (t *Tx) CreateTable(ctx context.Context, table *types.Table) error {
	if t.done {
		return types.TxDoneError{Op: "create table"}
	}
	return runExec(ctx, t.sqlTx, buildCreateTable(table))
}

// DropTable implements the types.Executor interface.
func (t *Tx) DropTable(ctx context.Context, name string) error {
	if t.done {
		return types.TxDoneError{Op: "drop table"}
	}
	return runExec(ctx, t.sqlTx, fmt.Sprintf(`DROP TABLE %q`, name))
}

// AlterTable implements the types.Executor interface.
func (t *Tx) AlterTable(ctx context.Context, name string, changes ...types.TableChange) error {
	if t.done {
		return types.TxDoneError{Op: "alter table"}
	}
	return runAlterTable(ctx, t.sqlTx, name, changes)
}

// CreateIndex implements the types.Executor interface.
func (t *Tx) CreateIndex(ctx context.Context, index *types.Index) error {
	if t.done {
		return types.TxDoneError{Op: "create index"}
	}
	return runExec(ctx, t.sqlTx, buildCreateIndex(index))
}

// DropIndex implements the types.Executor interface.
func (t *Tx) DropIndex(ctx context.Context, name string) error {
	if t.done {
		return types.TxDoneError{Op: "drop index"}
	}
	return runExec(ctx, t.sqlTx, fmt.Sprintf(`DROP INDEX %q`, name))
}

// Begin opens a nested scope backed by a SAVEPOINT.
func (t *Tx) Begin(ctx context.Context) (types.Tx, error) {
	if t.done {
		return nil, types.TxDoneError{Op: "begin"}
	}

	depth := t.depth + 1
	savepoint := fmt.Sprintf("strata_sp_%d", depth)
	if _, err := t.sqlTx.ExecContext(ctx, fmt.Sprintf("SAVEPOINT %s", savepoint)); err != nil {
		return nil, fmt.Errorf("failed creating savepoint: %w", err)
	}

	return &Tx{ctx: ctx, sqlTx: t.sqlTx, savepoint: savepoint, depth: depth}, nil
}

// Commit makes the scope's changes permanent within the parent scope, or, for
// the outermost scope, in the database.
func (t *Tx) Commit() error {
	if t.done {
		return types.TxDoneError{Op: "commit"}
	}
	t.done = true

	if t.savepoint == "" {
		if err := t.sqlTx.Commit(); err != nil {
			return fmt.Errorf("failed committing transaction: %w", err)
		}
		return nil
	}

	_, err := t.sqlTx.ExecContext(t.ctx, fmt.Sprintf("RELEASE SAVEPOINT %s", t.savepoint))
	if err != nil {
		return fmt.Errorf("failed releasing savepoint: %w", err)
	}
	return nil
}

// Rollback discards the scope's changes.
func (t *Tx) Rollback() error {
	if t.done {
		return types.TxDoneError{Op: "rollback"}
	}
	t.done = true

	if t.savepoint == "" {
		if err := t.sqlTx.Rollback(); err != nil {
			return fmt.Errorf("failed rolling back transaction: %w", err)
		}
		return nil
	}

	_, err := t.sqlTx.ExecContext(t.ctx, fmt.Sprintf("ROLLBACK TO SAVEPOINT %s", t.savepoint))
	if err != nil {
		return fmt.Errorf("failed rolling back savepoint: %w", err)
	}
	// ROLLBACK TO leaves the savepoint on the stack; RELEASE removes it.
	_, err = t.sqlTx.ExecContext(t.ctx, fmt.Sprintf("RELEASE SAVEPOINT %s", t.savepoint))
	if err != nil {
		return fmt.Errorf("failed releasing savepoint: %w", err)
	}
	return nil
}
