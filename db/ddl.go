package db

import (
	"fmt"
	"strings"

	"go.hackfix.me/strata/db/types"
)

func buildCreateTable(table *types.Table) string {
	var b strings.Builder
	b.WriteString("CREATE TABLE ")
	if table.IfNotExists {
		b.WriteString("IF NOT EXISTS ")
	}
	fmt.Fprintf(&b, "%q (", table.Name)

	for i, col := range table.Columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(buildColumn(col))
	}
	b.WriteString(")")

	return b.String()
}

func buildColumn(col types.Column) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%q %s", col.Name, col.Type)
	if col.PrimaryKey {
		b.WriteString(" PRIMARY KEY")
	}
	if col.NotNull {
		b.WriteString(" NOT NULL")
	}
	if col.Unique {
		b.WriteString(" UNIQUE")
	}
	if col.Default != "" {
		fmt.Fprintf(&b, " DEFAULT %s", col.Default)
	}
	if col.References != "" {
		fmt.Fprintf(&b, " REFERENCES %s", col.References)
	}
	return b.String()
}

func buildCreateIndex(index *types.Index) string {
	var b strings.Builder
	b.WriteString("CREATE ")
	if index.Unique {
		b.WriteString("UNIQUE ")
	}
	cols := make([]string, len(index.Columns))
	for i, col := range index.Columns {
		cols[i] = fmt.Sprintf("%q", col)
	}
	fmt.Fprintf(&b, "INDEX %q ON %q (%s)", index.Name, index.Table, strings.Join(cols, ", "))
	return b.String()
}

func buildAlterTable(name string, change types.TableChange) (string, error) {
	switch c := change.(type) {
	case types.AddColumn:
		return fmt.Sprintf(`ALTER TABLE %q ADD COLUMN %s`, name, buildColumn(c.Column)), nil
	case types.DropColumn:
		return fmt.Sprintf(`ALTER TABLE %q DROP COLUMN %q`, name, c.Name), nil
	case types.RenameColumn:
		return fmt.Sprintf(`ALTER TABLE %q RENAME COLUMN %q TO %q`, name, c.From, c.To), nil
	case types.RenameTable:
		return fmt.Sprintf(`ALTER TABLE %q RENAME TO %q`, name, c.To), nil
	default:
		return "", fmt.Errorf("unsupported table change %T", change)
	}
}
