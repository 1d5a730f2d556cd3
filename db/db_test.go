package db_test

import (
	"context"
	"crypto/rand"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.hackfix.me/strata/db"
	"go.hackfix.me/strata/db/types"
)

var testTime = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

func newTestDB(t *testing.T) *db.DB {
	t.Helper()
	randBytes := make([]byte, 8)
	_, err := rand.Read(randBytes)
	require.NoError(t, err)

	d, err := db.Open(
		fmt.Sprintf("file:strata-%x?mode=memory&cache=shared", randBytes),
		func() time.Time { return testTime },
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })

	return d
}

func countRows(t *testing.T, e types.Executor, table string) int {
	t.Helper()
	rows, err := e.Query(context.Background(), fmt.Sprintf(`SELECT COUNT(*) FROM %q`, table))
	require.NoError(t, err)
	defer rows.Close()

	require.True(t, rows.Next())
	var n int
	require.NoError(t, rows.Scan(&n))
	require.NoError(t, rows.Err())
	return n
}

func TestOpen(t *testing.T) {
	t.Parallel()

	d := newTestDB(t)
	assert.Contains(t, d.Path(), "mode=memory")
	assert.Equal(t, testTime, d.TimeNow())
}

func TestDDL(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	d := newTestDB(t)

	err := d.CreateTable(ctx, &types.Table{
		Name: "users",
		Columns: []types.Column{
			{Name: "id", Type: "INTEGER", PrimaryKey: true},
			{Name: "name", Type: "TEXT", NotNull: true, Unique: true},
			{Name: "role", Type: "TEXT", NotNull: true, Default: "'member'"},
		},
	})
	require.NoError(t, err)

	// IF NOT EXISTS makes re-creation a no-op; without it, it's an error.
	err = d.CreateTable(ctx, &types.Table{
		Name:        "users",
		IfNotExists: true,
		Columns:     []types.Column{{Name: "id", Type: "INTEGER"}},
	})
	require.NoError(t, err)
	err = d.CreateTable(ctx, &types.Table{
		Name:    "users",
		Columns: []types.Column{{Name: "id", Type: "INTEGER"}},
	})
	require.Error(t, err)

	err = d.CreateTable(ctx, &types.Table{
		Name: "posts",
		Columns: []types.Column{
			{Name: "id", Type: "INTEGER", PrimaryKey: true},
			{Name: "user_id", Type: "INTEGER", NotNull: true, References: `"users" ("id")`},
		},
	})
	require.NoError(t, err)

	require.NoError(t, d.CreateIndex(ctx, &types.Index{
		Name: "posts_user_id", Table: "posts", Columns: []string{"user_id"},
	}))
	require.NoError(t, d.CreateIndex(ctx, &types.Index{
		Name: "users_name", Table: "users", Columns: []string{"name"}, Unique: true,
	}))
	require.NoError(t, d.DropIndex(ctx, "posts_user_id"))

	require.NoError(t, d.AlterTable(ctx, "posts",
		types.AddColumn{Column: types.Column{Name: "title", Type: "TEXT"}},
		types.RenameColumn{From: "title", To: "subject"},
	))

	// Renames within one call track the new table name.
	require.NoError(t, d.AlterTable(ctx, "posts",
		types.RenameTable{To: "articles"},
		types.AddColumn{Column: types.Column{Name: "body", Type: "TEXT"}},
	))
	require.NoError(t, d.Insert(ctx, "users", types.Row{"id": 1, "name": "ana"}))
	require.NoError(t, d.Insert(ctx, "articles",
		types.Row{"id": 1, "user_id": 1, "subject": "hi", "body": "text"}))

	require.NoError(t, d.DropTable(ctx, "articles"))
	err = d.Insert(ctx, "articles", types.Row{"id": 2})
	require.Error(t, err)
}

func TestCRUD(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	d := newTestDB(t)

	require.NoError(t, d.CreateTable(ctx, &types.Table{
		Name: "users",
		Columns: []types.Column{
			{Name: "id", Type: "INTEGER", PrimaryKey: true},
			{Name: "name", Type: "TEXT", NotNull: true},
			{Name: "role", Type: "TEXT"},
		},
	}))

	require.NoError(t, d.Insert(ctx, "users", types.Row{"id": 1, "name": "ana", "role": "admin"}))
	require.NoError(t, d.Insert(ctx, "users", types.Row{"id": 2, "name": "bob"}))

	t.Run("query", func(t *testing.T) {
		rows, err := d.Query(ctx, `SELECT name, role FROM "users" WHERE id = ?`, 1)
		require.NoError(t, err)
		defer rows.Close()

		require.True(t, rows.Next())
		var name string
		var role *string
		require.NoError(t, rows.Scan(&name, &role))
		assert.Equal(t, "ana", name)
		require.NotNil(t, role)
		assert.Equal(t, "admin", *role)
		assert.False(t, rows.Next())
		require.NoError(t, rows.Err())
	})

	t.Run("update", func(t *testing.T) {
		require.NoError(t, d.Update(ctx, "users",
			types.Row{"role": "editor"}, "name = ?", "bob"))

		rows, err := d.Query(ctx, `SELECT role FROM "users" WHERE id = ?`, 2)
		require.NoError(t, err)
		defer rows.Close()

		require.True(t, rows.Next())
		var role string
		require.NoError(t, rows.Scan(&role))
		assert.Equal(t, "editor", role)
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, d.Delete(ctx, "users", "id = ?", 2))
		assert.Equal(t, 1, countRows(t, d, "users"))

		// An empty where clause deletes everything.
		require.NoError(t, d.Delete(ctx, "users", ""))
		assert.Equal(t, 0, countRows(t, d, "users"))
	})
}

func TestTx(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	setup := func(t *testing.T) *db.DB {
		t.Helper()
		d := newTestDB(t)
		require.NoError(t, d.CreateTable(ctx, &types.Table{
			Name:    "items",
			Columns: []types.Column{{Name: "id", Type: "INTEGER", PrimaryKey: true}},
		}))
		return d
	}

	t.Run("ok/commit", func(t *testing.T) {
		t.Parallel()
		d := setup(t)

		tx, err := d.Begin(ctx)
		require.NoError(t, err)
		require.NoError(t, tx.Insert(ctx, "items", types.Row{"id": 1}))
		require.NoError(t, tx.Commit())

		assert.Equal(t, 1, countRows(t, d, "items"))
	})

	t.Run("ok/rollback", func(t *testing.T) {
		t.Parallel()
		d := setup(t)

		tx, err := d.Begin(ctx)
		require.NoError(t, err)
		require.NoError(t, tx.Insert(ctx, "items", types.Row{"id": 1}))
		require.NoError(t, tx.Rollback())

		assert.Equal(t, 0, countRows(t, d, "items"))
	})

	t.Run("ok/nested_inner_rollback", func(t *testing.T) {
		t.Parallel()
		d := setup(t)

		tx, err := d.Begin(ctx)
		require.NoError(t, err)
		require.NoError(t, tx.Insert(ctx, "items", types.Row{"id": 1}))

		// The inner scope's changes are discarded; the outer ones survive.
		inner, err := tx.Begin(ctx)
		require.NoError(t, err)
		require.NoError(t, inner.Insert(ctx, "items", types.Row{"id": 2}))
		require.NoError(t, inner.Rollback())

		require.NoError(t, tx.Insert(ctx, "items", types.Row{"id": 3}))
		require.NoError(t, tx.Commit())

		assert.Equal(t, 2, countRows(t, d, "items"))
	})

	t.Run("ok/nested_commit", func(t *testing.T) {
		t.Parallel()
		d := setup(t)

		tx, err := d.Begin(ctx)
		require.NoError(t, err)

		inner, err := tx.Begin(ctx)
		require.NoError(t, err)
		require.NoError(t, inner.Insert(ctx, "items", types.Row{"id": 1}))

		deeper, err := inner.Begin(ctx)
		require.NoError(t, err)
		require.NoError(t, deeper.Insert(ctx, "items", types.Row{"id": 2}))
		require.NoError(t, deeper.Commit())

		require.NoError(t, inner.Commit())
		require.NoError(t, tx.Commit())

		assert.Equal(t, 2, countRows(t, d, "items"))
	})

	t.Run("ok/outer_rollback_discards_nested", func(t *testing.T) {
		t.Parallel()
		d := setup(t)

		tx, err := d.Begin(ctx)
		require.NoError(t, err)

		inner, err := tx.Begin(ctx)
		require.NoError(t, err)
		require.NoError(t, inner.Insert(ctx, "items", types.Row{"id": 1}))
		require.NoError(t, inner.Commit())

		require.NoError(t, tx.Rollback())
		assert.Equal(t, 0, countRows(t, d, "items"))
	})

	t.Run("err/consumed", func(t *testing.T) {
		t.Parallel()
		d := setup(t)

		tx, err := d.Begin(ctx)
		require.NoError(t, err)
		require.NoError(t, tx.Commit())

		var doneErr types.TxDoneError
		assert.ErrorAs(t, tx.Commit(), &doneErr)
		assert.ErrorAs(t, tx.Rollback(), &doneErr)
		assert.ErrorAs(t, tx.Insert(ctx, "items", types.Row{"id": 1}), &doneErr)
		assert.ErrorAs(t, tx.Exec(ctx, "SELECT 1"), &doneErr)
		_, err = tx.Begin(ctx)
		assert.ErrorAs(t, err, &doneErr)
	})
}

func TestDuplicateMapping(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	d := newTestDB(t)

	require.NoError(t, d.CreateTable(ctx, &types.Table{
		Name: "users",
		Columns: []types.Column{
			{Name: "id", Type: "INTEGER", PrimaryKey: true},
			{Name: "name", Type: "TEXT", Unique: true},
		},
	}))
	require.NoError(t, d.Insert(ctx, "users", types.Row{"id": 1, "name": "ana"}))

	err := d.Insert(ctx, "users", types.Row{"id": 1, "name": "bob"})
	var dupErr *types.DuplicateError
	require.ErrorAs(t, types.Err("users", "1", err), &dupErr)
	assert.Equal(t, "users", dupErr.Table)

	err = d.Insert(ctx, "users", types.Row{"id": 2, "name": "ana"})
	assert.ErrorAs(t, types.Err("users", "2", err), &dupErr)
}
