package checksum_test

import (
	"context"
	"crypto/sha256"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.hackfix.me/strata/db/types"
	"go.hackfix.me/strata/migrate/checksum"
)

func TestOf(t *testing.T) {
	t.Parallel()

	empty := sha256.Sum256(nil)
	assert.Equal(t, checksum.Sum(empty), checksum.Of(nil))
	assert.Len(t, checksum.Of([]byte("CREATE TABLE t (id INT)")).Hex(), 64)
	assert.NotEqual(t, checksum.Of([]byte("a")), checksum.Of([]byte("b")))
}

func TestFromHex(t *testing.T) {
	t.Parallel()

	sum := checksum.Of([]byte("some migration text"))
	parsed, err := checksum.FromHex(sum.Hex())
	require.NoError(t, err)
	assert.Equal(t, sum, parsed)

	_, err = checksum.FromHex("abcd")
	assert.Error(t, err)
	_, err = checksum.FromHex("not hex at all")
	assert.Error(t, err)
}

func TestRecorder_EmptyMatchesEmptyInput(t *testing.T) {
	t.Parallel()

	// A migration that records nothing must digest empty input, so no-op
	// migrations never appear to drift.
	rec := checksum.NewRecorder()
	assert.Equal(t, checksum.Of(nil), rec.Sum())
}

func TestRecorder_Stability(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	record := func() checksum.Sum {
		rec := checksum.NewRecorder()
		require.NoError(t, rec.CreateTable(ctx, &types.Table{
			Name: "users",
			Columns: []types.Column{
				{Name: "id", Type: "INTEGER", PrimaryKey: true},
				{Name: "name", Type: "TEXT", NotNull: true},
			},
		}))
		require.NoError(t, rec.Insert(ctx, "users", types.Row{"id": 1, "name": "admin"}))
		return rec.Sum()
	}

	assert.Equal(t, record(), record())
}

func TestRecorder_RowOrderIndependence(t *testing.T) {
	t.Parallel()

	// Rows hash in sorted column order, so two maps with the same contents
	// produce identical digests regardless of how they were built.
	ctx := context.Background()

	a := checksum.NewRecorder()
	rowA := types.Row{}
	rowA["name"] = "admin"
	rowA["id"] = 1
	require.NoError(t, a.Insert(ctx, "users", rowA))

	b := checksum.NewRecorder()
	rowB := types.Row{}
	rowB["id"] = 1
	rowB["name"] = "admin"
	require.NoError(t, b.Insert(ctx, "users", rowB))

	assert.Equal(t, a.Sum(), b.Sum())
}

func TestRecorder_FieldSensitivity(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	tests := []struct {
		name   string
		record func(rec *checksum.Recorder) error
	}{
		{
			name: "create_table",
			record: func(rec *checksum.Recorder) error {
				return rec.CreateTable(ctx, &types.Table{
					Name:    "users",
					Columns: []types.Column{{Name: "id", Type: "INTEGER"}},
				})
			},
		},
		{
			name: "create_table_not_null",
			record: func(rec *checksum.Recorder) error {
				return rec.CreateTable(ctx, &types.Table{
					Name:    "users",
					Columns: []types.Column{{Name: "id", Type: "INTEGER", NotNull: true}},
				})
			},
		},
		{
			name: "drop_table",
			record: func(rec *checksum.Recorder) error {
				return rec.DropTable(ctx, "users")
			},
		},
		{
			name: "drop_index",
			record: func(rec *checksum.Recorder) error {
				return rec.DropIndex(ctx, "users")
			},
		},
		{
			name: "create_index",
			record: func(rec *checksum.Recorder) error {
				return rec.CreateIndex(ctx, &types.Index{
					Name: "users_name", Table: "users", Columns: []string{"name"},
				})
			},
		},
		{
			name: "create_index_unique",
			record: func(rec *checksum.Recorder) error {
				return rec.CreateIndex(ctx, &types.Index{
					Name: "users_name", Table: "users", Columns: []string{"name"}, Unique: true,
				})
			},
		},
		{
			name: "alter_add_column",
			record: func(rec *checksum.Recorder) error {
				return rec.AlterTable(ctx, "users",
					types.AddColumn{Column: types.Column{Name: "email", Type: "TEXT"}})
			},
		},
		{
			name: "alter_rename_column",
			record: func(rec *checksum.Recorder) error {
				return rec.AlterTable(ctx, "users",
					types.RenameColumn{From: "email", To: "mail"})
			},
		},
		{
			name: "exec_string_arg",
			record: func(rec *checksum.Recorder) error {
				return rec.Exec(ctx, "UPDATE t SET v = ?", "1")
			},
		},
		{
			name: "exec_int_arg",
			record: func(rec *checksum.Recorder) error {
				return rec.Exec(ctx, "UPDATE t SET v = ?", 1)
			},
		},
		{
			name: "query",
			record: func(rec *checksum.Recorder) error {
				_, err := rec.Query(ctx, "SELECT 1")
				return err
			},
		},
		{
			name: "delete",
			record: func(rec *checksum.Recorder) error {
				return rec.Delete(ctx, "users", "id = ?", 1)
			},
		},
	}

	sums := make(map[checksum.Sum]string)
	for _, tt := range tests {
		rec := checksum.NewRecorder()
		require.NoError(t, tt.record(rec))
		sum := rec.Sum()
		if prev, ok := sums[sum]; ok {
			t.Fatalf("%s and %s produced the same checksum", prev, tt.name)
		}
		sums[sum] = tt.name
	}
}

func TestRecorder_CommitVsRollback(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	record := func(commit bool) checksum.Sum {
		rec := checksum.NewRecorder()
		tx, err := rec.Begin(ctx)
		require.NoError(t, err)
		require.NoError(t, tx.Exec(ctx, "DELETE FROM old_data"))
		if commit {
			require.NoError(t, tx.Commit())
		} else {
			require.NoError(t, tx.Rollback())
		}
		return rec.Sum()
	}

	assert.NotEqual(t, record(true), record(false))
}

func TestRecorder_DepthSensitivity(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	// The same statement at the top level and inside a transaction.
	flat := checksum.NewRecorder()
	require.NoError(t, flat.Exec(ctx, "DELETE FROM old_data"))

	nested := checksum.NewRecorder()
	tx, err := nested.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Exec(ctx, "DELETE FROM old_data"))
	require.NoError(t, tx.Commit())

	assert.NotEqual(t, flat.Sum(), nested.Sum())

	// One level deeper again.
	deeper := checksum.NewRecorder()
	tx1, err := deeper.Begin(ctx)
	require.NoError(t, err)
	tx2, err := tx1.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx2.Exec(ctx, "DELETE FROM old_data"))
	require.NoError(t, tx2.Commit())
	require.NoError(t, tx1.Commit())

	assert.NotEqual(t, nested.Sum(), deeper.Sum())
}

func TestRecorder_SharedStateFinalization(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	// Finalizing while a nested scope still holds the hash state must not
	// consume it: the open scope can keep recording afterwards.
	rec := checksum.NewRecorder()
	tx, err := rec.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Exec(ctx, "DELETE FROM old_data"))

	early := rec.Sum()
	require.NoError(t, tx.Exec(ctx, "DELETE FROM older_data"))
	require.NoError(t, tx.Commit())
	late := rec.Sum()

	assert.NotEqual(t, early, late)
}

func TestRecorder_FinalizedErrors(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	rec := checksum.NewRecorder()
	require.NoError(t, rec.Exec(ctx, "DELETE FROM old_data"))
	rec.Sum()

	err := rec.Exec(ctx, "DELETE FROM old_data")
	assert.ErrorIs(t, err, checksum.ErrFinalized)
}

func TestRecorder_TxConsumed(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	rec := checksum.NewRecorder()
	tx, err := rec.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	assert.Error(t, tx.Commit())
	assert.Error(t, tx.Rollback())
	assert.Error(t, tx.Exec(ctx, "SELECT 1"))
}
