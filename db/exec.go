package db

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.hackfix.me/strata/db/types"
)

func runQuery(ctx context.Context, c conn, query string, args ...any) (types.Rows, error) {
	rows, err := c.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed running query: %w", err)
	}
	return rows, nil
}

func runExec(ctx context.Context, c conn, query string, args ...any) error {
	if _, err := c.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed running statement: %w", err)
	}
	return nil
}

func runInsert(ctx context.Context, c conn, table string, row types.Row) error {
	cols := sortedColumns(row)
	quoted := make([]string, len(cols))
	placeholders := make([]string, len(cols))
	args := make([]any, len(cols))
	for i, col := range cols {
		quoted[i] = fmt.Sprintf("%q", col)
		placeholders[i] = "?"
		args[i] = row[col]
	}

	q := fmt.Sprintf(`INSERT INTO %q (%s) VALUES (%s)`,
		table, strings.Join(quoted, ", "), strings.Join(placeholders, ", "))
	if _, err := c.ExecContext(ctx, q, args...); err != nil {
		return fmt.Errorf("failed inserting into %q: %w", table, err)
	}
	return nil
}

func runUpdate(ctx context.Context, c conn, table string, row types.Row, where string, args ...any) error {
	cols := sortedColumns(row)
	assignments := make([]string, len(cols))
	values := make([]any, 0, len(cols)+len(args))
	for i, col := range cols {
		assignments[i] = fmt.Sprintf("%q = ?", col)
		values = append(values, row[col])
	}
	values = append(values, args...)

	q := fmt.Sprintf(`UPDATE %q SET %s`, table, strings.Join(assignments, ", "))
	if where != "" {
		q += fmt.Sprintf(" WHERE %s", where)
	}
	if _, err := c.ExecContext(ctx, q, values...); err != nil {
		return fmt.Errorf("failed updating %q: %w", table, err)
	}
	return nil
}

func runDelete(ctx context.Context, c conn, table string, where string, args ...any) error {
	q := fmt.Sprintf(`DELETE FROM %q`, table)
	if where != "" {
		q += fmt.Sprintf(" WHERE %s", where)
	}
	if _, err := c.ExecContext(ctx, q, args...); err != nil {
		return fmt.Errorf("failed deleting from %q: %w", table, err)
	}
	return nil
}

func runAlterTable(ctx context.Context, c conn, name string, changes []types.TableChange) error {
	// SQLite only supports one alteration per ALTER TABLE statement.
	for _, change := range changes {
		stmt, err := buildAlterTable(name, change)
		if err != nil {
			return err
		}
		if _, err = c.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed altering %q: %w", name, err)
		}
		if rt, ok := change.(types.RenameTable); ok {
			name = rt.To
		}
	}
	return nil
}

func sortedColumns(row types.Row) []string {
	cols := make([]string, 0, len(row))
	for col := range row {
		cols = append(cols, col)
	}
	sort.Strings(cols)
	return cols
}
